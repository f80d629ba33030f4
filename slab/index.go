package slab

import (
	"sync"

	"github.com/lrwang/nvmalloc/internal/logx"
	"github.com/lrwang/nvmalloc/nvmerr"
)

var indexLog = logx.New("slabindex")

type indexNode struct {
	offset uint64
	slab   *Slab
	next   *indexNode
}

// Index is a fixed-capacity, bucket-chained hash table mapping a
// slab's base offset to its metadata, guarded by a single
// reader-writer lock (lookups take the shared lock, insert/remove take
// the exclusive lock).
//
// Grounded on SlabHashTable.c: the hash is computed on
// offset/slabSize rather than the raw offset, since every key is a
// multiple of slabSize and hashing the slab index instead avoids the
// clustering a raw-offset hash would produce against a small prime
// bucket count.
type Index struct {
	mu       sync.RWMutex
	buckets  []*indexNode
	slabSize uint64
	count    uint32
}

// NewIndex creates an Index with the given fixed bucket capacity.
func NewIndex(capacity uint32, slabSize uint64) (*Index, error) {
	if capacity == 0 {
		return nil, nvmerr.New(nvmerr.InvalidArgument, "index capacity must be > 0")
	}
	return &Index{
		buckets:  make([]*indexNode, capacity),
		slabSize: slabSize,
	}, nil
}

func (idx *Index) bucket(offset uint64) uint32 {
	slabIdx := offset / idx.slabSize
	return uint32(slabIdx % uint64(len(idx.buckets)))
}

// Insert adds offset -> s. Returns nvmerr.Duplicate if offset is
// already present.
func (idx *Index) Insert(offset uint64, s *Slab) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	b := idx.bucket(offset)
	for cur := idx.buckets[b]; cur != nil; cur = cur.next {
		if cur.offset == offset {
			return nvmerr.New(nvmerr.Duplicate, "slab index already has offset %d", offset)
		}
	}

	idx.buckets[b] = &indexNode{offset: offset, slab: s, next: idx.buckets[b]}
	idx.count++
	return nil
}

// Lookup returns the slab registered at offset, or nil.
func (idx *Index) Lookup(offset uint64) *Slab {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	b := idx.bucket(offset)
	for cur := idx.buckets[b]; cur != nil; cur = cur.next {
		if cur.offset == offset {
			return cur.slab
		}
	}
	return nil
}

// Remove unlinks and returns the slab registered at offset, or nil if
// not present.
func (idx *Index) Remove(offset uint64) *Slab {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	b := idx.bucket(offset)
	var prev *indexNode
	for cur := idx.buckets[b]; cur != nil; cur = cur.next {
		if cur.offset == offset {
			if prev == nil {
				idx.buckets[b] = cur.next
			} else {
				prev.next = cur.next
			}
			idx.count--
			return cur.slab
		}
		prev = cur
	}
	indexLog.Debug("Remove: no entry at offset %d", offset)
	return nil
}

// Count returns the number of indexed slabs.
func (idx *Index) Count() uint32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.count
}
