package testutil

import (
	"fmt"
	"sync"
)

// IDSequence hands out deterministic, lexically ordered identifiers for
// tests and golden snapshot comparison.
//
// Unlike production UUIDv7 IDs, the sequence is reproducible: the same
// scenario produces byte-identical IDs on every run.
type IDSequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewIDSequence creates a sequence with the given prefix. An empty prefix
// defaults to "test".
func NewIDSequence(prefix string) *IDSequence {
	if prefix == "" {
		prefix = "test"
	}
	return &IDSequence{prefix: prefix}
}

// Next returns the next identifier, e.g. "test-0001".
func (s *IDSequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%04d", s.prefix, s.n)
}
