package services

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// keyLocks serializes work per key using a fixed set of striped mutexes.
// Distinct keys may share a stripe, never the other way round.
type keyLocks struct {
	stripes []sync.Mutex
}

func newKeyLocks(n int) *keyLocks {
	if n <= 0 {
		n = 64
	}
	return &keyLocks{stripes: make([]sync.Mutex, n)}
}

// lock acquires the stripe for key and returns its unlock func.
func (k *keyLocks) lock(key string) func() {
	m := &k.stripes[xxhash.Sum64String(key)%uint64(len(k.stripes))]
	m.Lock()
	return m.Unlock
}
