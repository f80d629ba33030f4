// Package slab implements the Slab: fixed-size-class block management
// over one slab extent, via a bitmap (source of truth for reservation)
// and a ring-buffer cache (fast path for alloc/free).
//
// Grounded on NvmSlab.c / nvm_slab.c: the bitmap-as-truth convention
// ("bit set" means "reserved, held or cached"), the refill/drain batch
// sizes, and the FIFO ring buffer bookkeeping.
package slab

import (
	"github.com/lrwang/nvmalloc/config"
	"github.com/lrwang/nvmalloc/internal/logx"
	"github.com/lrwang/nvmalloc/nvmerr"
)

var log = logx.New("slab")

// Slab manages one slab-sized extent's worth of fixed-size blocks.
type Slab struct {
	lock spinlock

	baseOffset   uint64
	sizeClass    config.SizeClass
	blockSize    uint32
	totalBlocks  uint32
	allocated    uint32

	cacheSize uint32
	batch     uint32

	ring     []uint32
	ringHead uint32
	ringTail uint32
	ringLen  uint32

	bitmap []byte

	// NextInChain links same-class slabs within one per-CPU list. Only
	// the owning CPU's Allocate/Restore path and allocator Teardown
	// write this field; Free never touches it (deferred reclaim).
	NextInChain *Slab
}

// New creates a Slab covering one extent at baseOffset for sizeClass,
// using opts for the cache/batch sizing.
func New(sizeClass config.SizeClass, baseOffset uint64, opts config.Options) (*Slab, error) {
	blockSize := config.BlockSize(sizeClass)
	if blockSize == 0 {
		return nil, nvmerr.New(nvmerr.InvalidArgument, "invalid size class %v", sizeClass)
	}
	totalBlocks := uint32(opts.SlabSize / uint64(blockSize))
	bitmapBytes := (totalBlocks + 7) / 8

	return &Slab{
		baseOffset:  baseOffset,
		sizeClass:   sizeClass,
		blockSize:   blockSize,
		totalBlocks: totalBlocks,
		cacheSize:   opts.CacheSize,
		batch:       opts.Batch,
		ring:        make([]uint32, opts.CacheSize),
		bitmap:      make([]byte, bitmapBytes),
	}, nil
}

// BaseOffset returns the slab-aligned NVM offset this slab covers.
func (s *Slab) BaseOffset() uint64 { return s.baseOffset }

// SizeClass returns this slab's size class.
func (s *Slab) SizeClass() config.SizeClass { return s.sizeClass }

// BlockSize returns this slab's block size in bytes.
func (s *Slab) BlockSize() uint32 { return s.blockSize }

// TotalBlocks returns the number of blocks this slab holds.
func (s *Slab) TotalBlocks() uint32 { return s.totalBlocks }

func (s *Slab) isBitSet(idx uint32) bool {
	return s.bitmap[idx/8]&(1<<(idx%8)) != 0
}

func (s *Slab) setBit(idx uint32) {
	s.bitmap[idx/8] |= 1 << (idx % 8)
}

func (s *Slab) clearBit(idx uint32) {
	s.bitmap[idx/8] &^= 1 << (idx % 8)
}

// refill scans the bitmap from bit 0, pushing up to batch clear bits
// into the ring (marking each reserved as it goes). Skipped if the slab
// is already full by count. Returns the number of blocks refilled.
func (s *Slab) refill() uint32 {
	if s.allocated >= s.totalBlocks {
		return 0
	}
	var filled uint32
	for i := uint32(0); i < s.totalBlocks && filled < s.batch; i++ {
		if s.isBitSet(i) {
			continue
		}
		s.setBit(i)
		s.ring[s.ringTail] = i
		s.ringTail = (s.ringTail + 1) % s.cacheSize
		s.ringLen++
		filled++
	}
	return filled
}

// drain pops from the ring head, clearing bitmap bits, until the ring
// is back down to batch entries.
func (s *Slab) drain() uint32 {
	if s.ringLen <= s.batch {
		return 0
	}
	toDrain := s.ringLen - s.batch
	var drained uint32
	for i := uint32(0); i < toDrain && s.ringLen > 0; i++ {
		idx := s.ring[s.ringHead]
		s.ringHead = (s.ringHead + 1) % s.cacheSize
		s.clearBit(idx)
		s.ringLen--
		drained++
	}
	return drained
}

// Alloc reserves one block, refilling the ring from the bitmap first if
// the ring is empty. Returns ErrOutOfHostMemory's sibling "full" error
// (nvmerr.Exhausted) when the slab has no free blocks at all.
func (s *Slab) Alloc() (uint32, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.ringLen == 0 {
		s.refill()
	}
	if s.ringLen == 0 {
		return 0, nvmerr.New(nvmerr.Exhausted, "slab at offset %d is full", s.baseOffset)
	}

	idx := s.ring[s.ringHead]
	s.ringHead = (s.ringHead + 1) % s.cacheSize
	s.ringLen--
	s.allocated++
	return idx, nil
}

// Free returns blockIdx to the slab: cached in the ring (bit stays
// set), draining the ring first if it is at capacity.
func (s *Slab) Free(blockIdx uint32) error {
	if blockIdx >= s.totalBlocks {
		return nvmerr.New(nvmerr.OutOfRange, "block index %d >= %d blocks", blockIdx, s.totalBlocks)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.ringLen == s.cacheSize {
		s.drain()
	}

	if s.allocated > 0 {
		s.allocated--
	} else {
		log.Debug("Free called on slab at offset %d with allocated==0", s.baseOffset)
	}

	s.ring[s.ringTail] = blockIdx
	s.ringTail = (s.ringTail + 1) % s.cacheSize
	s.ringLen++
	return nil
}

// RestoreMark idempotently marks blockIdx as reserved from a recovery
// record: if the bit was clear, it is set and allocated is
// incremented; if already set, this is a no-op. changed reports
// whether this call actually performed the mark (vs. being a replay).
func (s *Slab) RestoreMark(blockIdx uint32) (changed bool, err error) {
	if blockIdx >= s.totalBlocks {
		return false, nvmerr.New(nvmerr.OutOfRange, "block index %d >= %d blocks", blockIdx, s.totalBlocks)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.isBitSet(blockIdx) {
		return false, nil
	}
	s.setBit(blockIdx)
	s.allocated++
	return true, nil
}

// IsFull is a relaxed hint: allocated == totalBlocks. May be
// momentarily stale under concurrent mutation; used only to decide
// whether to keep walking a per-CPU chain.
func (s *Slab) IsFull() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.allocated == s.totalBlocks
}

// IsEmpty is a relaxed hint: allocated == 0. The ring may still hold
// cached entries (deferred reclaim keeps the slab around regardless).
func (s *Slab) IsEmpty() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.allocated == 0
}

// Allocated returns the current allocated-block count. For tests and
// debug/dump tooling.
func (s *Slab) Allocated() uint32 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.allocated
}

// CacheCount returns the current ring-buffer occupancy. For tests and
// debug/dump tooling.
func (s *Slab) CacheCount() uint32 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.ringLen
}

// Popcount returns the number of set bits in the bitmap. For tests
// verifying the invariant popcount == allocated + cacheCount.
func (s *Slab) Popcount() uint32 {
	s.lock.Lock()
	defer s.lock.Unlock()
	var count uint32
	for i := uint32(0); i < s.totalBlocks; i++ {
		if s.isBitSet(i) {
			count++
		}
	}
	return count
}
