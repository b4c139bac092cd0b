package storage

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	falsePositive = 0.01

	DefaultSeenEstimate = 1 << 16
)

// SeenFilter is a lossy set of record hashes. A negative answer proves a
// record has never been stored so the duplicate probe can be skipped.
type SeenFilter struct {
	mu sync.Mutex
	f  *bloom.BloomFilter
}

func NewSeenFilter(n uint) *SeenFilter {
	if n == 0 {
		n = DefaultSeenEstimate
	}

	return &SeenFilter{f: bloom.NewWithEstimates(n, falsePositive)}
}

func (s *SeenFilter) Add(h []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.f.Add(h)
}

func (s *SeenFilter) MaybeSeen(h []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.f.Test(h)
}
