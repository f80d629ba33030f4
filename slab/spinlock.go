package slab

import (
	"runtime"
	"sync/atomic"
)

// spinlock is a busy-wait mutual-exclusion lock for the slab's O(1)
// critical sections (alloc/free/restore-mark). It never blocks on a
// scheduler primitive, mirroring the original's nvm_spinlock_t
// (pthread_spinlock_t) as distinct from the Space Manager's and Slab
// Index's longer-held mutex/rwlock.
type spinlock struct {
	state int32
}

func (s *spinlock) Lock() {
	for !atomic.CompareAndSwapInt32(&s.state, 0, 1) {
		runtime.Gosched()
	}
}

func (s *spinlock) Unlock() {
	atomic.StoreInt32(&s.state, 0)
}
