// Package config carries the allocator's tunable constants.
package config

// SizeClass identifies one of the allocator's fixed block sizes.
type SizeClass int

// Size classes supported by the slab layer, smallest to largest.
const (
	SC8B SizeClass = iota
	SC16B
	SC32B
	SC64B
	SC128B
	SC256B
	SC512B
	SC1K
	SC2K
	SC4K
	scCount // sentinel: not a real class
)

// classSizes holds the block size in bytes for each SizeClass, in
// declaration order.
var classSizes = [scCount]uint32{
	8, 16, 32, 64, 128, 256, 512, 1024, 2048, 4096,
}

// BlockSize returns the block size in bytes for sc, or 0 if sc is not a
// valid class (i.e. it is the ClassCount sentinel or out of range).
func BlockSize(sc SizeClass) uint32 {
	if sc < 0 || sc >= scCount {
		return 0
	}
	return classSizes[sc]
}

// ClassCount is the sentinel value returned by MapSizeToClass for
// requests that exceed MaxBlockSize; it is never a valid index into a
// per-class array.
const ClassCount = scCount

// MaxBlockSize is the largest size servable by the slab layer; requests
// above this must be rejected by the caller.
const MaxBlockSize = 4096

// MapSizeToClass returns the smallest size class whose block size is
// >= size, or ClassCount if size is 0 or exceeds MaxBlockSize.
//
// The comparisons are deliberately "<=" against each class boundary in
// increasing order, matching the original allocator's dispatch table:
// an 8-byte request lands in SC8B, a 9-byte request in SC16B, and so on.
func MapSizeToClass(size uint64) SizeClass {
	if size == 0 || size > MaxBlockSize {
		return ClassCount
	}
	for sc := SizeClass(0); sc < scCount; sc++ {
		if size <= uint64(classSizes[sc]) {
			return sc
		}
	}
	return ClassCount
}

// Options bundles the compile-time tunables of the allocator into a
// struct so tests can shrink them without a recompile.
type Options struct {
	// SlabSize is the size in bytes of one slab extent. Must be a
	// positive multiple of itself trivially; callers pass region sizes
	// that are multiples of SlabSize.
	SlabSize uint64
	// CacheSize is the capacity of each slab's ring-buffer cache.
	CacheSize uint32
	// Batch is the number of blocks moved between bitmap and ring
	// buffer on refill/drain. Conventionally CacheSize/2.
	Batch uint32
	// MaxCPUs bounds the per-CPU heap array.
	MaxCPUs int
	// CacheLineSize records the target cache line size. The allocator
	// does not read it: per-CPU heaps are padded with cpu.CacheLinePad.
	CacheLineSize int
	// SlabIndexCapacity is the fixed bucket count of the Slab Index.
	SlabIndexCapacity uint32
}

// DefaultOptions mirrors the constants baked into the original
// allocator: a 2 MiB slab, a 64-entry cache with a 32-entry batch, 64
// CPUs, a 64-byte cache line, and a 101-bucket (prime) index.
func DefaultOptions() Options {
	return Options{
		SlabSize:          2 * 1024 * 1024,
		CacheSize:         64,
		Batch:             32,
		MaxCPUs:           64,
		CacheLineSize:     64,
		SlabIndexCapacity: 101,
	}
}
