// Package mpool is a typed convenience layer over nvmalloc.Allocator:
// three pre-warmed pools of addresses (small/medium/large, sized to
// the allocator's own size classes) so a hot loop that repeatedly
// allocates and frees similarly sized blocks can skip the slow path
// most of the time.
//
// Adapted from the teacher's byte-range pools (4KB-4MB, sized for a
// hybrid buddy+slab allocator) to nvmalloc's actual servable range,
// which tops out at config.MaxBlockSize (4096 bytes).
package mpool

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/lrwang/nvmalloc/config"
	"github.com/lrwang/nvmalloc/nvmalloc"
)

const (
	SmallPoolSize  = 20000 // pre-warmed 8B-64B blocks
	MediumPoolSize = 10000 // pre-warmed 128B-512B blocks
	LargePoolSize  = 5000  // pre-warmed 1KB-4KB blocks

	smallMin, smallMax   = 8, 64
	mediumMin, mediumMax = 128, 512
	largeMin, largeMax   = 1024, config.MaxBlockSize
)

// PoolStats tracks pool hit/miss counts for Close's summary.
type PoolStats struct {
	TotalAllocations uint64
	PoolHits         uint64
	PoolMisses       uint64
	TotalFrees       uint64
	PoolFreeHits     uint64
	PoolFreeMisses   uint64
}

// MemoryPool pre-warms three tiers of addresses and serves allocations
// from them before falling back to the underlying allocator.
type MemoryPool struct {
	smallBlocks, mediumBlocks, largeBlocks []uintptr
	smallSizes, mediumSizes, largeSizes    []uint64
	smallUsed, mediumUsed, largeUsed       []bool

	mu        sync.Mutex
	allocator *nvmalloc.Allocator
	stats     PoolStats
}

// NewMemoryPool pre-allocates all three tiers from allocator.
func NewMemoryPool(allocator *nvmalloc.Allocator) (*MemoryPool, error) {
	pool := &MemoryPool{
		smallBlocks:  make([]uintptr, SmallPoolSize),
		mediumBlocks: make([]uintptr, MediumPoolSize),
		largeBlocks:  make([]uintptr, LargePoolSize),
		smallSizes:   make([]uint64, SmallPoolSize),
		mediumSizes:  make([]uint64, MediumPoolSize),
		largeSizes:   make([]uint64, LargePoolSize),
		smallUsed:    make([]bool, SmallPoolSize),
		mediumUsed:   make([]bool, MediumPoolSize),
		largeUsed:    make([]bool, LargePoolSize),
		allocator:    allocator,
	}

	if err := pool.prefill(pool.smallBlocks, pool.smallSizes, smallMin, smallMax); err != nil {
		return nil, fmt.Errorf("failed to pre-allocate small memory block: %v", err)
	}
	if err := pool.prefill(pool.mediumBlocks, pool.mediumSizes, mediumMin, mediumMax); err != nil {
		return nil, fmt.Errorf("failed to pre-allocate medium memory block: %v", err)
	}
	if err := pool.prefill(pool.largeBlocks, pool.largeSizes, largeMin, largeMax); err != nil {
		return nil, fmt.Errorf("failed to pre-allocate large memory block: %v", err)
	}

	return pool, nil
}

func (p *MemoryPool) prefill(blocks []uintptr, sizes []uint64, min, max int) error {
	for i := range blocks {
		size := uint64(rand.Intn(max-min+1) + min)
		addr, err := p.allocator.Allocate(size)
		if err != nil {
			return err
		}
		blocks[i] = addr
		sizes[i] = uint64(config.BlockSize(config.MapSizeToClass(size)))
	}
	return nil
}

// Allocate serves size from the matching pre-warmed tier, falling back
// to the underlying allocator on a pool miss.
func (p *MemoryPool) Allocate(size uint64) (uintptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.TotalAllocations++

	switch {
	case size <= smallMax:
		if addr, ok := take(p.smallBlocks, p.smallUsed, p.smallSizes, size); ok {
			p.stats.PoolHits++
			return addr, nil
		}
	case size <= mediumMax:
		if addr, ok := take(p.mediumBlocks, p.mediumUsed, p.mediumSizes, size); ok {
			p.stats.PoolHits++
			return addr, nil
		}
	case size <= largeMax:
		if addr, ok := take(p.largeBlocks, p.largeUsed, p.largeSizes, size); ok {
			p.stats.PoolHits++
			return addr, nil
		}
	}

	p.stats.PoolMisses++
	return p.allocator.Allocate(size)
}

func take(blocks []uintptr, used []bool, sizes []uint64, size uint64) (uintptr, bool) {
	for i := range blocks {
		if !used[i] && sizes[i] >= size {
			used[i] = true
			return blocks[i], true
		}
	}
	return 0, false
}

// Free returns addr to whichever tier it came from, or forwards it to
// the underlying allocator if it wasn't pool-warmed. Free is infallible
// externally, matching nvmalloc.Free.
func (p *MemoryPool) Free(addr uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.TotalFrees++

	if release(p.smallBlocks, p.smallUsed, addr) ||
		release(p.mediumBlocks, p.mediumUsed, addr) ||
		release(p.largeBlocks, p.largeUsed, addr) {
		p.stats.PoolFreeHits++
		return
	}

	p.stats.PoolFreeMisses++
	p.allocator.Free(addr)
}

func release(blocks []uintptr, used []bool, addr uintptr) bool {
	for i := range blocks {
		if blocks[i] == addr {
			used[i] = false
			return true
		}
	}
	return false
}

// Close releases every pre-warmed address back to the allocator and
// prints a summary of pool hit/miss rates.
func (p *MemoryPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, addr := range p.smallBlocks {
		p.allocator.Free(addr)
	}
	for _, addr := range p.mediumBlocks {
		p.allocator.Free(addr)
	}
	for _, addr := range p.largeBlocks {
		p.allocator.Free(addr)
	}

	fmt.Printf("\nMemory Pool Statistics:\n")
	fmt.Printf("Total Allocations: %d\n", p.stats.TotalAllocations)
	fmt.Printf("Pool Hits: %d (%.2f%%)\n", p.stats.PoolHits, float64(p.stats.PoolHits)/float64(p.stats.TotalAllocations)*100)
	fmt.Printf("Pool Misses: %d (%.2f%%)\n", p.stats.PoolMisses, float64(p.stats.PoolMisses)/float64(p.stats.TotalAllocations)*100)
	fmt.Printf("Total Frees: %d\n", p.stats.TotalFrees)
	fmt.Printf("Pool Free Hits: %d (%.2f%%)\n", p.stats.PoolFreeHits, float64(p.stats.PoolFreeHits)/float64(p.stats.TotalFrees)*100)
	fmt.Printf("Pool Free Misses: %d (%.2f%%)\n", p.stats.PoolFreeMisses, float64(p.stats.PoolFreeMisses)/float64(p.stats.TotalFrees)*100)

	return nil
}
