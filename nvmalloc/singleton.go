package nvmalloc

import (
	"sync"

	"github.com/lrwang/nvmalloc/config"
	"github.com/lrwang/nvmalloc/nvmerr"
)

var (
	globalMu sync.Mutex
	global   *Allocator
)

// Init creates the process-global allocator instance over
// [base, base+sizeBytes) using default tunables. A second Init without
// an intervening Shutdown is rejected.
func Init(base uint64, sizeBytes uint64) error {
	return InitWithOptions(base, sizeBytes, config.DefaultOptions())
}

// InitWithOptions is Init with caller-supplied tunables, for tests that
// need a shrunk slab/cache size.
func InitWithOptions(base uint64, sizeBytes uint64, opts config.Options) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if global != nil {
		return nvmerr.New(nvmerr.AlreadyInitialized, "nvmalloc already initialized")
	}
	if base == 0 {
		return nvmerr.New(nvmerr.InvalidArgument, "base must be non-zero")
	}

	a, err := NewAllocator(base, sizeBytes, opts)
	if err != nil {
		return err
	}
	global = a
	return nil
}

// Shutdown tears down the process-global allocator instance.
func Shutdown() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if global == nil {
		return nvmerr.New(nvmerr.Uninitialized, "nvmalloc not initialized")
	}
	global.Teardown()
	global = nil
	return nil
}

func currentGlobal() *Allocator {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}

// Allocate reserves size bytes from the process-global allocator.
func Allocate(size uint64) (uintptr, error) {
	a := currentGlobal()
	if a == nil {
		return 0, nvmerr.New(nvmerr.Uninitialized, "nvmalloc not initialized")
	}
	return a.Allocate(size)
}

// Free releases address back to the process-global allocator.
func Free(address uintptr) {
	a := currentGlobal()
	if a == nil {
		log.Debug("Free called before Init or after Shutdown")
		return
	}
	a.Free(address)
}

// Restore replays one recovery record against the process-global
// allocator.
func Restore(address uintptr, size uint64) error {
	a := currentGlobal()
	if a == nil {
		return nvmerr.New(nvmerr.Uninitialized, "nvmalloc not initialized")
	}
	return a.Restore(address, size)
}

// StatsGlobal snapshots the process-global allocator's state. Returns
// false if the allocator is not initialized.
func StatsGlobal() (Stats, bool) {
	a := currentGlobal()
	if a == nil {
		return Stats{}, false
	}
	return a.Stats(), true
}
