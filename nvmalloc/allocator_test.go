package nvmalloc

import (
	"sync"
	"testing"

	"github.com/lrwang/nvmalloc/config"
	"github.com/lrwang/nvmalloc/slab"
	"github.com/stretchr/testify/require"
)

const testBase = 0x1000

// Scenario 1 from spec §8: basic alloc/free on a 32-byte class.
func TestBasicAllocFree(t *testing.T) {
	opts := config.DefaultOptions()
	a, err := NewAllocator(testBase, 20*opts.SlabSize, opts)
	require.NoError(t, err)

	addr, err := a.allocateOnCPU(30, 0)
	require.NoError(t, err)
	require.Equal(t, uintptr(testBase), addr)

	s := a.index.Lookup(0)
	require.NotNil(t, s)
	require.Equal(t, config.SC32B, s.SizeClass())
	require.Equal(t, uint32(1), s.Allocated())

	a.Free(addr)

	require.Equal(t, uint32(0), s.Allocated())
	require.NotNil(t, a.index.Lookup(0), "slab must be retained under deferred reclaim")

	segs := a.space.Segments()
	require.Len(t, segs, 1)
	require.Equal(t, opts.SlabSize, segs[0].Offset)
	require.Equal(t, 19*opts.SlabSize, segs[0].Size)
}

func TestAllocateZeroIsRejected(t *testing.T) {
	opts := config.DefaultOptions()
	a, err := NewAllocator(testBase, 4*opts.SlabSize, opts)
	require.NoError(t, err)

	_, err = a.Allocate(0)
	require.Error(t, err)
}

func TestAllocateOversizeIsRejected(t *testing.T) {
	opts := config.DefaultOptions()
	a, err := NewAllocator(testBase, 4*opts.SlabSize, opts)
	require.NoError(t, err)

	_, err = a.Allocate(config.MaxBlockSize + 1)
	require.Error(t, err)
}

func TestFreeUnmanagedAddressIsNoop(t *testing.T) {
	opts := config.DefaultOptions()
	a, err := NewAllocator(testBase, 4*opts.SlabSize, opts)
	require.NoError(t, err)

	require.NotPanics(t, func() {
		a.Free(0)
		a.Free(testBase + uintptr(50*opts.SlabSize))
	})
}

// Exhausting the region must not corrupt state; freeing afterward must
// let subsequent allocations succeed again.
func TestExhaustionThenFreeRecovers(t *testing.T) {
	opts := config.DefaultOptions()
	a, err := NewAllocator(testBase, opts.SlabSize, opts)
	require.NoError(t, err)

	probe, err := slab.New(config.SC4K, 0, opts)
	require.NoError(t, err)
	totalBlocks := probe.TotalBlocks()

	var first uintptr
	for i := uint32(0); i < totalBlocks; i++ {
		addr, err := a.allocateOnCPU(4096, 0)
		require.NoError(t, err)
		if i == 0 {
			first = addr
		}
	}

	_, err = a.allocateOnCPU(4096, 0)
	require.Error(t, err)

	a.Free(first)

	second, err := a.allocateOnCPU(4096, 0)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

// Allocating exactly N_c blocks fills the slab; the next same-class
// allocation must take the slow path and produce a distinct slab.
func TestFullSlabTriggersDistinctSlab(t *testing.T) {
	opts := config.DefaultOptions()
	a, err := NewAllocator(testBase, 4*opts.SlabSize, opts)
	require.NoError(t, err)

	probe, err := slab.New(config.SC4K, 0, opts)
	require.NoError(t, err)
	totalBlocks := probe.TotalBlocks()

	var firstSlabOffset uint64 = ^uint64(0)
	for i := uint32(0); i < totalBlocks; i++ {
		// Pinned to a fixed simulated CPU so the whole run stays on one
		// chain regardless of goroutine-to-OS-thread migration.
		addr, err := a.allocateOnCPU(4096, 0)
		require.NoError(t, err)
		if i == 0 {
			firstSlabOffset = uint64(addr) - testBase
		}
	}

	first := a.index.Lookup(firstSlabOffset)
	require.NotNil(t, first)
	require.True(t, first.IsFull())

	addr, err := a.allocateOnCPU(4096, 0)
	require.NoError(t, err)
	newOffset := (uint64(addr) - testBase)
	newOffset -= newOffset % opts.SlabSize
	require.NotEqual(t, firstSlabOffset, newOffset)
}

// Scenario 5 from spec §8: recovery reconstructs the index and carves
// the Space Manager's free list around the restored extent.
func TestRestoreReconstructsIndexAndCarvesSpace(t *testing.T) {
	opts := config.DefaultOptions()
	a, err := NewAllocator(testBase, 10*opts.SlabSize, opts)
	require.NoError(t, err)

	target := uintptr(testBase + 2*opts.SlabSize + 64)
	require.NoError(t, a.Restore(target, 60))

	s := a.index.Lookup(2 * opts.SlabSize)
	require.NotNil(t, s)
	require.Equal(t, config.SC64B, s.SizeClass())
	require.Equal(t, uint32(1), s.Allocated())

	segs := a.space.Segments()
	require.Len(t, segs, 2)
	require.Equal(t, uint64(0), segs[0].Offset)
	require.Equal(t, 2*opts.SlabSize, segs[0].Size)
	require.Equal(t, 3*opts.SlabSize, segs[1].Offset)
	require.Equal(t, 7*opts.SlabSize, segs[1].Size)
}

func TestRestoreIsIdempotent(t *testing.T) {
	opts := config.DefaultOptions()
	a, err := NewAllocator(testBase, 10*opts.SlabSize, opts)
	require.NoError(t, err)

	target := uintptr(testBase + 2*opts.SlabSize + 64)
	require.NoError(t, a.Restore(target, 60))
	require.NoError(t, a.Restore(target, 60))

	s := a.index.Lookup(2 * opts.SlabSize)
	require.Equal(t, uint32(1), s.Allocated())
}

func TestRestoreClassMismatchIsFatalForRecord(t *testing.T) {
	opts := config.DefaultOptions()
	a, err := NewAllocator(testBase, 10*opts.SlabSize, opts)
	require.NoError(t, err)

	require.NoError(t, a.Restore(uintptr(testBase+2*opts.SlabSize+64), 60))

	err = a.Restore(uintptr(testBase+2*opts.SlabSize+128), 4096)
	require.Error(t, err)
}

// Scenario 6 from spec §8: a producer on one simulated CPU allocates
// repeatedly and publishes addresses; a consumer on another simulated
// CPU frees them. Remote free must never corrupt the bitmap/cache
// invariant, since the Slab Index lookup and the slab's own spinlock
// are the only synchronization the owning CPU's chain needs.
func TestRemoteFreeProducerConsumer(t *testing.T) {
	opts := config.DefaultOptions()
	opts.MaxCPUs = 4
	const iterations = 50000

	a, err := NewAllocator(testBase, 64*opts.SlabSize, opts)
	require.NoError(t, err)

	addrs := make(chan uintptr, 256)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer close(addrs)
		for i := 0; i < iterations; i++ {
			addr, err := a.allocateOnCPU(64, 0)
			require.NoError(t, err)
			addrs <- addr
		}
	}()

	go func() {
		defer wg.Done()
		for addr := range addrs {
			a.Free(addr)
		}
	}()

	wg.Wait()

	for i := range a.cpus {
		for sc := range a.cpus[i].heads {
			for s := a.cpus[i].heads[sc]; s != nil; s = s.NextInChain {
				require.Equal(t, s.Popcount(), s.Allocated()+s.CacheCount())
			}
		}
	}
}
