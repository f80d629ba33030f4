package space

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testSlabSize = 2 * 1024 * 1024

func TestNewTruncatesToSlabMultiple(t *testing.T) {
	m, err := New(testSlabSize*3+123, 0, testSlabSize)
	require.NoError(t, err)
	require.Equal(t, uint64(testSlabSize*3), m.FreeBytes())
}

func TestNewRejectsUndersizedRegion(t *testing.T) {
	_, err := New(testSlabSize-1, 0, testSlabSize)
	require.Error(t, err)
}

func TestAllocSlabFirstFit(t *testing.T) {
	m, err := New(testSlabSize*4, 0, testSlabSize)
	require.NoError(t, err)

	off, err := m.AllocSlab()
	require.NoError(t, err)
	require.Equal(t, uint64(0), off)
	require.Equal(t, uint64(testSlabSize*3), m.FreeBytes())

	off2, err := m.AllocSlab()
	require.NoError(t, err)
	require.Equal(t, uint64(testSlabSize), off2)
}

func TestAllocSlabExhaustion(t *testing.T) {
	m, err := New(testSlabSize, 0, testSlabSize)
	require.NoError(t, err)

	_, err = m.AllocSlab()
	require.NoError(t, err)

	_, err = m.AllocSlab()
	require.Error(t, err)
}

func TestFreeSlabRoundTrip(t *testing.T) {
	m, err := New(testSlabSize*4, 0, testSlabSize)
	require.NoError(t, err)

	before := m.Segments()
	off, err := m.AllocSlab()
	require.NoError(t, err)
	m.FreeSlab(off)
	after := m.Segments()

	require.Equal(t, before, after)
}

// Scenario 4 from spec §8: allocate three slabs, free middle, then
// first, then last (in that order), observing the coalescing path at
// every step.
func TestCoalesceOnFreeSlab(t *testing.T) {
	m, err := New(testSlabSize*3, 0, testSlabSize)
	require.NoError(t, err)

	a, err := m.AllocSlab() // 0
	require.NoError(t, err)
	b, err := m.AllocSlab() // slabSize
	require.NoError(t, err)
	c, err := m.AllocSlab() // 2*slabSize
	require.NoError(t, err)
	require.Equal(t, uint64(0), a)
	require.Equal(t, uint64(testSlabSize), b)
	require.Equal(t, uint64(2*testSlabSize), c)
	require.Empty(t, m.Segments())

	m.FreeSlab(b)
	segs := m.Segments()
	require.Len(t, segs, 1)
	require.Equal(t, uint64(testSlabSize), segs[0].Offset)
	require.Equal(t, uint64(testSlabSize), segs[0].Size)

	m.FreeSlab(a)
	segs = m.Segments()
	require.Len(t, segs, 1)
	require.Equal(t, uint64(0), segs[0].Offset)
	require.Equal(t, uint64(2*testSlabSize), segs[0].Size)

	m.FreeSlab(c)
	segs = m.Segments()
	require.Len(t, segs, 1)
	require.Equal(t, uint64(0), segs[0].Offset)
	require.Equal(t, uint64(3*testSlabSize), segs[0].Size)
}

func TestAllocAtHeadMatch(t *testing.T) {
	m, err := New(testSlabSize*2, 0, testSlabSize)
	require.NoError(t, err)

	require.NoError(t, m.AllocAt(0))
	segs := m.Segments()
	require.Len(t, segs, 1)
	require.Equal(t, uint64(testSlabSize), segs[0].Offset)
}

func TestAllocAtInteriorSplit(t *testing.T) {
	m, err := New(testSlabSize*10, 0, testSlabSize)
	require.NoError(t, err)

	require.NoError(t, m.AllocAt(2*testSlabSize))
	segs := m.Segments()
	require.Len(t, segs, 2)
	require.Equal(t, uint64(0), segs[0].Offset)
	require.Equal(t, uint64(2*testSlabSize), segs[0].Size)
	require.Equal(t, uint64(3*testSlabSize), segs[1].Offset)
	require.Equal(t, uint64(7*testSlabSize), segs[1].Size)
}

func TestAllocAtUnavailable(t *testing.T) {
	m, err := New(testSlabSize*2, 0, testSlabSize)
	require.NoError(t, err)
	require.NoError(t, m.AllocAt(0))

	err = m.AllocAt(0)
	require.Error(t, err)
}
