// Package keylock serializes work per key using a fixed set of lock stripes.
package keylock

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultStripes is used when a non-positive stripe count is requested.
const DefaultStripes = 64

// Striped maps keys onto a fixed number of mutexes by murmur3 hash.
// Two keys may share a stripe; the same key always maps to the same stripe.
type Striped struct {
	stripes []sync.Mutex
}

func New(stripes int) *Striped {
	if stripes <= 0 {
		stripes = DefaultStripes
	}
	return &Striped{stripes: make([]sync.Mutex, stripes)}
}

// Lock acquires the stripe for key and returns its unlock function.
func (s *Striped) Lock(key string) func() {
	mu := &s.stripes[s.index(key)]
	mu.Lock()
	return mu.Unlock
}

// Do runs fn while holding the stripe for key.
func (s *Striped) Do(key string, fn func() error) error {
	unlock := s.Lock(key)
	defer unlock()
	return fn()
}

func (s *Striped) index(key string) int {
	return int(murmur3.Sum32([]byte(key)) % uint32(len(s.stripes)))
}
