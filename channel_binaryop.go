package pregel

// BinaryOperator folds a new value into an existing accumulator. It must
// be associative and should be commutative if write order within a step
// is not meaningful to the caller (the runtime applies writes within a
// step in task order, then in each task's write order).
type BinaryOperator func(acc, next any) any

// BinaryOperatorAggregateChannel folds every write, across every step, into
// a single running accumulator using Operator, seeded with Initial the
// first time the channel ever receives a value. Unlike the other value
// channels it never reports ErrEmptyChannel: before any write has landed
// Get returns Initial, matching the "reducer with seed"
// channel shape used for running totals and similar aggregates.
type BinaryOperatorAggregateChannel struct {
	Operator BinaryOperator
	Initial  any

	value any
	set   bool
}

// NewBinaryOperatorAggregate creates an empty aggregate channel that folds
// writes with op, seeding the accumulator with initial on first write.
func NewBinaryOperatorAggregate(initial any, op BinaryOperator) *BinaryOperatorAggregateChannel {
	return &BinaryOperatorAggregateChannel{Operator: op, Initial: initial}
}

func (c *BinaryOperatorAggregateChannel) Update(writes []any) (bool, error) {
	if len(writes) == 0 {
		return false, nil
	}
	acc := c.value
	if !c.set {
		acc = c.Initial
	}
	for _, w := range writes {
		acc = c.Operator(acc, w)
	}
	c.value = acc
	c.set = true
	return true, nil
}

// Get never reports ErrEmptyChannel: an aggregate always carries at least
// its Initial value, written or not.
func (c *BinaryOperatorAggregateChannel) Get() (any, error) {
	if !c.set {
		return c.Initial, nil
	}
	return c.value, nil
}

func (c *BinaryOperatorAggregateChannel) Consume() bool { return false }

func (c *BinaryOperatorAggregateChannel) Checkpoint() any {
	return lastValueSnapshot{Set: c.set, Value: c.value}
}

func (c *BinaryOperatorAggregateChannel) FromCheckpoint(snapshot any) Channel {
	s, ok := snapshot.(lastValueSnapshot)
	if !ok {
		if m, ok := asSnapshotMap(snapshot); ok {
			s = lastValueSnapshot{Set: boolField(m, "set"), Value: m["value"]}
		}
	}
	return &BinaryOperatorAggregateChannel{
		Operator: c.Operator,
		Initial:  c.Initial,
		value:    s.Value,
		set:      s.Set,
	}
}

func (c *BinaryOperatorAggregateChannel) Empty() Channel {
	return &BinaryOperatorAggregateChannel{Operator: c.Operator, Initial: c.Initial}
}
