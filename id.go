package pregel

import "github.com/google/uuid"

// newCheckpointID mints a checkpoint ID per the "monotonic UUIDv6-like
// identifier" requirement: a UUIDv7's first 48 bits are a millisecond
// timestamp, and its canonical hex-with-hyphens text form therefore
// sorts lexicographically in creation order, the same way its binary
// form sorts numerically.
func newCheckpointID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the system clock or RNG is unavailable;
		// NewString still gives a unique, if unordered, id.
		return uuid.NewString()
	}
	return id.String()
}
