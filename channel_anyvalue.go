package pregel

// AnyValueChannel holds at most one value but, unlike LastValue, accepts
// any number of writes in a single superstep: the last write in the
// batch wins. It suits fan-in channels where multiple nodes may
// legitimately race to set the same signal.
type AnyValueChannel struct {
	value any
	set   bool
}

// NewAnyValue creates an empty AnyValueChannel.
func NewAnyValue() *AnyValueChannel {
	return &AnyValueChannel{}
}

func (c *AnyValueChannel) Update(writes []any) (bool, error) {
	if len(writes) == 0 {
		return false, nil
	}
	c.value = writes[len(writes)-1]
	c.set = true
	return true, nil
}

func (c *AnyValueChannel) Get() (any, error) {
	if !c.set {
		return nil, ErrEmptyChannel
	}
	return c.value, nil
}

func (c *AnyValueChannel) Consume() bool { return false }

func (c *AnyValueChannel) Checkpoint() any {
	return lastValueSnapshot{Set: c.set, Value: c.value}
}

func (c *AnyValueChannel) FromCheckpoint(snapshot any) Channel {
	s, ok := snapshot.(lastValueSnapshot)
	if !ok {
		if m, ok := asSnapshotMap(snapshot); ok {
			s = lastValueSnapshot{Set: boolField(m, "set"), Value: m["value"]}
		}
	}
	return &AnyValueChannel{value: s.Value, set: s.Set}
}

func (c *AnyValueChannel) Empty() Channel { return &AnyValueChannel{} }
