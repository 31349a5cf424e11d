package pregel

import "fmt"

// LastValueChannel holds at most one value, written at most once per
// superstep. A second write in the same step is an invalid update: the
// variant exists for channels whose schema guarantees a single writer per
// step (typically the direct output of one node).
type LastValueChannel struct {
	value any
	set   bool
}

// NewLastValue creates an empty LastValueChannel.
func NewLastValue() *LastValueChannel {
	return &LastValueChannel{}
}

// lastValueSnapshot is the JSON-serializable checkpoint representation of
// a LastValueChannel. Set is carried explicitly so a checkpointed falsy
// value (0, "", false, nil) round-trips as "written" rather than empty.
type lastValueSnapshot struct {
	Set   bool `json:"set"`
	Value any  `json:"value"`
}

func (c *LastValueChannel) Update(writes []any) (bool, error) {
	if len(writes) == 0 {
		return false, nil
	}
	if len(writes) > 1 {
		return false, fmt.Errorf("%w: last-value channel accepts at most one write per step, got %d", ErrInvalidUpdate, len(writes))
	}
	c.value = writes[0]
	c.set = true
	return true, nil
}

func (c *LastValueChannel) Get() (any, error) {
	if !c.set {
		return nil, ErrEmptyChannel
	}
	return c.value, nil
}

func (c *LastValueChannel) Consume() bool { return false }

func (c *LastValueChannel) Checkpoint() any {
	return lastValueSnapshot{Set: c.set, Value: c.value}
}

func (c *LastValueChannel) FromCheckpoint(snapshot any) Channel {
	s, ok := snapshot.(lastValueSnapshot)
	if !ok {
		if m, ok := asSnapshotMap(snapshot); ok {
			s = lastValueSnapshot{Set: boolField(m, "set"), Value: m["value"]}
		}
	}
	return &LastValueChannel{value: s.Value, set: s.Set}
}

func (c *LastValueChannel) Empty() Channel { return &LastValueChannel{} }
