package pregel

import "sort"

// applyResult is what apply-writes hands back to the loop: the advanced
// channel maps, any newly queued sends, and writes on channels the
// caller never registered ("unknown: buffered ... returned
// to the caller").
type applyResult struct {
	ChannelVersions map[string]Version
	VersionsSeen    map[string]map[string]Version
	PendingSends    []Send
	UnmanagedWrites map[string][]any
}

// applyWrites mutates channels in place, advances
// channel_versions, propagates versions_seen for every task that ran
// (whether or not it wrote anything — triggered means observed), and
// computes the next step's pending sends. cp itself is never mutated:
// the advanced version maps come back on the applyResult so the caller
// can build the next checkpoint from them.
//
// tasks must be in the same order prepareTasks produced them, since
// writes are applied "by task, then by write index within task".
func applyWrites(cp *Checkpoint, channels map[string]Channel, tasks []*Task, writesByTask map[string][]ChannelWrite, nextVersion NextVersionFunc) (*applyResult, error) {
	if nextVersion == nil {
		nextVersion = defaultNextVersion
	}

	versions := make(map[string]Version, len(cp.ChannelVersions))
	for k, v := range cp.ChannelVersions {
		versions[k] = v
	}
	versionsSeen := cloneVersionsSeen(cp.VersionsSeen)

	// Step 1: versions_seen for every task's triggers, taken from the
	// checkpoint's versions at the start of the step.
	bumpStep := false
	for _, t := range tasks {
		// A push task consumes its pending send this step even though it
		// has no trigger channels, so it advances the step too.
		if len(t.Triggers) > 0 || t.Kind == TaskPush {
			bumpStep = true
		}
		seen := versionsSeen[t.NodeName]
		if seen == nil {
			seen = make(map[string]Version)
			versionsSeen[t.NodeName] = seen
		}
		for _, c := range t.Triggers {
			if v, ok := cp.ChannelVersions[c]; ok {
				seen[c] = v
			}
		}
	}

	maxV := maxVersion(versions)

	// Step 3: consume triggered non-reserved channels.
	consumed := make(map[string]bool)
	for _, t := range tasks {
		for _, c := range t.Triggers {
			if IsReserved(c) || consumed[c] {
				continue
			}
			consumed[c] = true
			ch, ok := channels[c]
			if !ok {
				continue
			}
			if ch.Consume() {
				versions[c] = nextVersion(maxV, c)
				if versions[c] > maxV {
					maxV = versions[c]
				}
			}
		}
	}

	// Step 4: pending sends are cleared once the step advanced.
	pendingSends := cp.PendingSends
	if bumpStep {
		pendingSends = nil
	}

	// Step 5: route writes.
	buffered := make(map[string][]any)
	unmanaged := make(map[string][]any)
	for _, t := range tasks {
		for _, w := range writesByTask[t.ID] {
			switch {
			case w.Channel == ChannelTasks:
				send, ok := w.Value.(Send)
				if !ok {
					return nil, ErrInvalidSend
				}
				pendingSends = append(pendingSends, send)
			case isWriteToken(w.Channel):
				// handled by the loop (resume/interrupt bookkeeping), not here.
			default:
				if _, ok := channels[w.Channel]; ok {
					buffered[w.Channel] = append(buffered[w.Channel], w.Value)
				} else {
					unmanaged[w.Channel] = append(unmanaged[w.Channel], w.Value)
				}
			}
		}
	}

	// Step 6: apply batched updates.
	var touched []string
	for name := range buffered {
		touched = append(touched, name)
	}
	sort.Strings(touched)
	for _, name := range touched {
		ch := channels[name]
		changed, err := ch.Update(buffered[name])
		if err != nil {
			return nil, &TaskError{NodeID: name, Cause: err}
		}
		if changed {
			versions[name] = nextVersion(maxV, name)
			if versions[name] > maxV {
				maxV = versions[name]
			}
		}
	}

	// Step 7: idle-notify every channel not updated this step.
	if bumpStep {
		var names []string
		for name := range channels {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if _, ok := buffered[name]; ok {
				continue
			}
			channels[name].Update(nil)
		}
	}

	return &applyResult{
		ChannelVersions: versions,
		VersionsSeen:    versionsSeen,
		PendingSends:    pendingSends,
		UnmanagedWrites: unmanaged,
	}, nil
}

func isWriteToken(channel string) bool {
	switch channel {
	case writeTokenPush, writeTokenPull, writeTokenResume, writeTokenInterrupt:
		return true
	default:
		return false
	}
}
