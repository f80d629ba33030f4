// Package space implements the Space Manager: coarse-grained,
// coalescing reservation of slab-sized extents over a single
// contiguous offset range.
//
// It is grounded directly on NvmSpaceManager.c: a first-fit scan over
// an address-ordered doubly-linked list of free segments, four-way
// coalescing on release, and a targeted carve (AllocAt) used only by
// recovery.
package space

import (
	"sync"

	"github.com/lrwang/nvmalloc/internal/logx"
	"github.com/lrwang/nvmalloc/nvmerr"
)

var log = logx.New("space")

// segment is one node of the address-ordered free list.
type segment struct {
	offset uint64
	size   uint64
	prev   *segment
	next   *segment
}

// Manager owns the free-segment list for one contiguous NVM region.
type Manager struct {
	mu       sync.Mutex
	head     *segment
	tail     *segment
	slabSize uint64
}

// New creates a Manager covering [startOffset, startOffset+totalSize).
//
// totalSize must be a positive multiple of slabSize; per policy, a
// totalSize that is not an exact multiple is truncated down to the
// nearest multiple rather than rejected outright, so callers handing in
// a region whose length isn't slab-aligned still get a usable manager
// over the aligned prefix instead of a hard failure.
func New(totalSize, startOffset, slabSize uint64) (*Manager, error) {
	if slabSize == 0 {
		return nil, nvmerr.New(nvmerr.InvalidArgument, "slab size must be > 0")
	}
	if totalSize < slabSize {
		return nil, nvmerr.New(nvmerr.InvalidArgument, "size %d < slab size %d", totalSize, slabSize)
	}
	aligned := (totalSize / slabSize) * slabSize

	initial := &segment{offset: startOffset, size: aligned}
	return &Manager{
		head:     initial,
		tail:     initial,
		slabSize: slabSize,
	}, nil
}

// AllocSlab reserves the first free segment with size >= slab size and
// returns its starting offset (first-fit).
func (m *Manager) AllocSlab() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for cur := m.head; cur != nil; cur = cur.next {
		if cur.size < m.slabSize {
			continue
		}
		offset := cur.offset
		if cur.size == m.slabSize {
			m.unlink(cur)
		} else {
			cur.offset += m.slabSize
			cur.size -= m.slabSize
		}
		return offset, nil
	}
	log.Debug("AllocSlab: no segment >= %d bytes available", m.slabSize)
	return 0, nvmerr.New(nvmerr.Exhausted, "no free extent of size %d", m.slabSize)
}

// FreeSlab returns the slab-aligned extent [offset, offset+slabSize) to
// the free list, coalescing with an abutting predecessor and/or
// successor.
//
// Preconditions (violating either is a caller bug, not reported as an
// error, matching the original's assert-only guard): offset is not
// currently free, and the extent does not overlap an existing segment.
func (m *Manager) FreeSlab(offset uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var prev, next *segment
	for cur := m.head; cur != nil; cur = cur.next {
		if cur.offset >= offset {
			next = cur
			break
		}
		prev = cur
	}

	mergePrev := prev != nil && prev.offset+prev.size == offset
	mergeNext := next != nil && offset+m.slabSize == next.offset

	switch {
	case mergePrev && mergeNext:
		prev.size += m.slabSize + next.size
		m.unlink(next)
	case mergePrev:
		prev.size += m.slabSize
	case mergeNext:
		next.offset = offset
		next.size += m.slabSize
	default:
		node := &segment{offset: offset, size: m.slabSize}
		m.insertBetween(node, prev, next)
	}
}

// AllocAt reserves the exact extent [offset, offset+slabSize) for
// recovery, carving it out of whatever free segment currently covers
// it. It fails if no free segment fully contains the extent.
func (m *Manager) AllocAt(offset uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	end := offset + m.slabSize
	for cur := m.head; cur != nil; cur = cur.next {
		if !(cur.offset <= offset && cur.offset+cur.size >= end) {
			continue
		}

		headMatch := cur.offset == offset
		tailMatch := cur.offset+cur.size == end

		switch {
		case headMatch && tailMatch:
			m.unlink(cur)
		case headMatch:
			cur.offset += m.slabSize
			cur.size -= m.slabSize
		case tailMatch:
			cur.size -= m.slabSize
		default:
			originalEnd := cur.offset + cur.size
			cur.size = offset - cur.offset
			tailNode := &segment{offset: end, size: originalEnd - end}
			m.insertBetween(tailNode, cur, cur.next)
		}
		return nil
	}
	return nvmerr.New(nvmerr.Unavailable, "extent at offset %d is not free", offset)
}

// Segments returns a snapshot of the current free segments as
// (offset, size) pairs in address order. Intended for tests and
// debug/dump tooling.
func (m *Manager) Segments() []struct{ Offset, Size uint64 } {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]struct{ Offset, Size uint64 }, 0)
	for cur := m.head; cur != nil; cur = cur.next {
		out = append(out, struct{ Offset, Size uint64 }{cur.offset, cur.size})
	}
	return out
}

// FreeBytes returns the total number of bytes currently free.
func (m *Manager) FreeBytes() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total uint64
	for cur := m.head; cur != nil; cur = cur.next {
		total += cur.size
	}
	return total
}

func (m *Manager) unlink(node *segment) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		m.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		m.tail = node.prev
	}
	node.prev, node.next = nil, nil
}

func (m *Manager) insertBetween(node, prev, next *segment) {
	node.prev, node.next = prev, next
	if prev != nil {
		prev.next = node
	} else {
		m.head = node
	}
	if next != nil {
		next.prev = node
	} else {
		m.tail = node
	}
}
