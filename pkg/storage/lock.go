package storage

import (
	"strconv"
	"sync"
)

// HashLock is a fixed pool of mutexes, indexed by the first three hex digits
// of an account ID.  It caps lock memory regardless of account count while
// still spreading contention.
type HashLock [4096]sync.RWMutex

// Get returns the RWMutex for the given hex hash, nil if hash is malformed.
func (h *HashLock) Get(hash string) *sync.RWMutex {
	if len(hash) < 3 {
		return nil
	}
	i, err := strconv.ParseInt(hash[0:3], 16, 0)
	if err != nil {
		return nil
	}
	return &h[i]
}
