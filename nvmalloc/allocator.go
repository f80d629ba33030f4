// Package nvmalloc is the two-level orchestrator: a central heap
// (Space Manager + Slab Index + central mutex) handing out slab
// extents, and an array of per-CPU heaps giving most allocate calls a
// fast path that takes only the chosen slab's own spinlock. Free does
// not use the per-CPU heaps: it looks the slab up in the Slab Index.
//
// Grounded end to end on NvmAllocator.c (fast/slow path split, rollback
// on slow-path failure, deferred reclaim, the restore algorithm) and on
// hybrid/allocator.go for the Go idiom of a slab-then-fallback two-tier
// dispatcher with Debug/Error logging bracketing every branch.
package nvmalloc

import (
	"sync"

	"golang.org/x/sys/cpu"

	"github.com/lrwang/nvmalloc/config"
	"github.com/lrwang/nvmalloc/internal/cpuid"
	"github.com/lrwang/nvmalloc/internal/logx"
	"github.com/lrwang/nvmalloc/nvmerr"
	"github.com/lrwang/nvmalloc/slab"
	"github.com/lrwang/nvmalloc/space"
)

var log = logx.New("nvmalloc")

// cpuHeap is one CPU's view of the allocator: one chain head per size
// class. cpu.CacheLinePad keeps neighboring entries in the per-CPU heap
// array from sharing a cache line, since only the owning CPU writes its
// own heads.
type cpuHeap struct {
	heads []*slab.Slab
	_     cpu.CacheLinePad
}

// Allocator is one instance of the two-level allocator over a single
// NVM region [base, base+sizeBytes). The zero value is not usable; use
// NewAllocator or the package-level singleton (Init/Allocate/Free/
// Restore/Shutdown).
type Allocator struct {
	base uint64
	opts config.Options

	space *space.Manager
	index *slab.Index

	centralMu sync.Mutex

	cpus []cpuHeap
}

// NewAllocator creates a standalone Allocator instance. Most callers
// should use the package-level singleton instead; NewAllocator exists
// for tests that want isolation from global state.
func NewAllocator(base uint64, sizeBytes uint64, opts config.Options) (*Allocator, error) {
	if sizeBytes < opts.SlabSize {
		return nil, nvmerr.New(nvmerr.InvalidArgument, "region size %d smaller than slab size %d", sizeBytes, opts.SlabSize)
	}
	if opts.MaxCPUs <= 0 {
		return nil, nvmerr.New(nvmerr.InvalidArgument, "MaxCPUs must be > 0")
	}

	sm, err := space.New(sizeBytes, 0, opts.SlabSize)
	if err != nil {
		return nil, err
	}
	idx, err := slab.NewIndex(opts.SlabIndexCapacity, opts.SlabSize)
	if err != nil {
		return nil, err
	}

	a := &Allocator{
		base:  base,
		opts:  opts,
		space: sm,
		index: idx,
		cpus:  make([]cpuHeap, opts.MaxCPUs),
	}
	for i := range a.cpus {
		a.cpus[i].heads = make([]*slab.Slab, config.ClassCount)
	}
	log.Info("allocator initialized: base=%d size=%d slabSize=%d maxCPUs=%d", base, sizeBytes, opts.SlabSize, opts.MaxCPUs)
	return a, nil
}

// Base returns the NVM base address this allocator was created with.
func (a *Allocator) Base() uint64 { return a.base }

func (a *Allocator) blockAddress(s *slab.Slab, blockIdx uint32) uintptr {
	return uintptr(a.base + s.BaseOffset() + uint64(blockIdx)*uint64(s.BlockSize()))
}

// Allocate reserves size bytes and returns the NVM address of the
// reserved block. Requests of 0 or more than config.MaxBlockSize fail
// with InvalidArgument.
func (a *Allocator) Allocate(size uint64) (uintptr, error) {
	return a.allocateOnCPU(size, cpuid.Current(a.opts.MaxCPUs))
}

// allocateOnCPU is Allocate with an explicit CPU id rather than one read
// from cpuid.Current. Exported only within the package: tests use it to
// pin the fast-path chain a goroutine operates on without relying on
// real OS thread affinity, which Go does not expose portably.
func (a *Allocator) allocateOnCPU(size uint64, cpuID int) (uintptr, error) {
	sc := config.MapSizeToClass(size)
	if sc == config.ClassCount {
		log.Debug("Allocate: size %d has no size class", size)
		return 0, nvmerr.New(nvmerr.InvalidArgument, "size %d is zero or exceeds %d", size, config.MaxBlockSize)
	}

	heap := &a.cpus[cpuID]

	for s := heap.heads[sc]; s != nil; s = s.NextInChain {
		if s.IsFull() {
			continue
		}
		idx, err := s.Alloc()
		if err != nil {
			// IsFull was a stale hint (raced with a concurrent free
			// elsewhere); keep walking the chain.
			continue
		}
		addr := a.blockAddress(s, idx)
		log.Debug("Allocate: size=%d class=%v cpu=%d -> address=%d (fast path)", size, sc, cpuID, addr)
		return addr, nil
	}

	s, err := a.growChain(sc)
	if err != nil {
		log.Error("Allocate: slow path failed for class %v: %v", sc, err)
		return 0, err
	}
	s.NextInChain = heap.heads[sc]
	heap.heads[sc] = s

	idx, err := s.Alloc()
	if err != nil {
		// A freshly carved, empty slab that fails its very first alloc
		// indicates a sizing bug elsewhere; surface it rather than loop.
		return 0, err
	}
	addr := a.blockAddress(s, idx)
	log.Debug("Allocate: size=%d class=%v cpu=%d -> address=%d (slow path, new slab at offset %d)", size, sc, cpuID, addr, s.BaseOffset())
	return addr, nil
}

// growChain acquires a new slab-sized extent for sc under the central
// mutex, rolling back the extent if slab creation or index insertion
// fails.
func (a *Allocator) growChain(sc config.SizeClass) (*slab.Slab, error) {
	a.centralMu.Lock()
	defer a.centralMu.Unlock()

	offset, err := a.space.AllocSlab()
	if err != nil {
		return nil, err
	}

	s, err := slab.New(sc, offset, a.opts)
	if err != nil {
		a.space.FreeSlab(offset)
		return nil, err
	}

	if err := a.index.Insert(offset, s); err != nil {
		a.space.FreeSlab(offset)
		return nil, err
	}

	return s, nil
}

// Free releases the block at address. An address that doesn't fall
// within an indexed slab is treated as a caller contract violation and
// silently ignored, per spec.
func (a *Allocator) Free(address uintptr) {
	addr := uint64(address)
	if addr < a.base {
		log.Debug("Free: address %d below base %d, ignoring", addr, a.base)
		return
	}

	offset := addr - a.base
	slabBase := (offset / a.opts.SlabSize) * a.opts.SlabSize

	s := a.index.Lookup(slabBase)
	if s == nil {
		log.Debug("Free: no slab indexed at offset %d, unmanaged address", slabBase)
		return
	}

	blockIdx := uint32((offset - slabBase) / uint64(s.BlockSize()))
	if err := s.Free(blockIdx); err != nil {
		log.Error("Free: address %d: %v", addr, err)
	}
}

// Restore reconstructs allocator metadata for one (address, size)
// record from an externally persisted recovery log. Assumed
// single-threaded or externally serialized by the caller, matching the
// original's offline recovery pass.
func (a *Allocator) Restore(address uintptr, size uint64) error {
	sc := config.MapSizeToClass(size)
	if sc == config.ClassCount {
		return nvmerr.New(nvmerr.InvalidArgument, "restore size %d is zero or exceeds %d", size, config.MaxBlockSize)
	}

	addr := uint64(address)
	if addr < a.base {
		return nvmerr.New(nvmerr.InvalidArgument, "address %d below base %d", addr, a.base)
	}

	offset := addr - a.base
	slabBase := (offset / a.opts.SlabSize) * a.opts.SlabSize

	s, err := a.restoreSlab(slabBase, sc)
	if err != nil {
		return err
	}

	blockIdx := uint32((offset - slabBase) / uint64(s.BlockSize()))
	changed, err := s.RestoreMark(blockIdx)
	if err != nil {
		return err
	}
	log.Debug("Restore: address=%d size=%d slabBase=%d blockIdx=%d changed=%v", addr, size, slabBase, blockIdx, changed)
	return nil
}

// restoreSlab returns the slab covering slabBase, carving a new extent
// and indexing a fresh slab of class sc if one doesn't exist yet. A
// mismatch against an existing slab's class is fatal for this record.
func (a *Allocator) restoreSlab(slabBase uint64, sc config.SizeClass) (*slab.Slab, error) {
	a.centralMu.Lock()

	if existing := a.index.Lookup(slabBase); existing != nil {
		a.centralMu.Unlock()
		if existing.SizeClass() != sc {
			return nil, nvmerr.New(nvmerr.Mismatch, "slab at offset %d has class %v, restore requested class %v", slabBase, existing.SizeClass(), sc)
		}
		return existing, nil
	}

	if err := a.space.AllocAt(slabBase); err != nil {
		a.centralMu.Unlock()
		return nil, err
	}

	s, err := slab.New(sc, slabBase, a.opts)
	if err != nil {
		a.space.FreeSlab(slabBase)
		a.centralMu.Unlock()
		return nil, err
	}

	if err := a.index.Insert(slabBase, s); err != nil {
		a.space.FreeSlab(slabBase)
		a.centralMu.Unlock()
		return nil, err
	}
	a.centralMu.Unlock()

	// Recovery is single-threaded, so publishing to CPU 0's chain
	// outside the central mutex is safe, mirroring the slow path in
	// Allocate.
	heap := &a.cpus[0]
	s.NextInChain = heap.heads[sc]
	heap.heads[sc] = s

	return s, nil
}

// Teardown walks every per-CPU chain, unlinking every slab, then drops
// the Slab Index and Space Manager. NVM contents are never touched;
// this only releases the allocator's DRAM-side metadata.
func (a *Allocator) Teardown() {
	for i := range a.cpus {
		for sc := range a.cpus[i].heads {
			s := a.cpus[i].heads[sc]
			for s != nil {
				next := s.NextInChain
				s.NextInChain = nil
				s = next
			}
			a.cpus[i].heads[sc] = nil
		}
	}
	a.index = nil
	a.space = nil
	log.Info("allocator torn down")
}

// Stats summarizes allocator state for debug/dump tooling.
type Stats struct {
	Base         uint64
	FreeBytes    uint64
	IndexedSlabs uint32
	Segments     []struct{ Offset, Size uint64 }
}

// Stats snapshots Space Manager and Slab Index state. Intended for
// cmd/nvmallocctl's dump subcommand, not the hot path.
func (a *Allocator) Stats() Stats {
	return Stats{
		Base:         a.base,
		FreeBytes:    a.space.FreeBytes(),
		IndexedSlabs: a.index.Count(),
		Segments:     a.space.Segments(),
	}
}
