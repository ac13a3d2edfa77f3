// Package mem contains memory size units and address arithmetic helpers
// shared by the physical allocator and the boot sequencer.
package mem

// Size represents a memory block size in bytes.
type Size uint64

// Common memory block sizes.
const (
	Byte Size = 1
	Kb        = 1024 * Byte
	Mb        = 1024 * Kb
	Gb        = 1024 * Mb
)

const (
	// PageShift is equal to log2(PageSize).
	PageShift = 12

	// PageSize is the granularity unit used by page-granular segment
	// limits.
	PageSize = Size(1 << PageShift)
)

// IsPowerOfTwo reports whether v is a nonzero power of two.
func IsPowerOfTwo(v uintptr) bool {
	return v != 0 && v&(v-1) == 0
}

// AlignUp rounds addr up to the next multiple of align, which must be a
// power of two.
func AlignUp(addr, align uintptr) uintptr {
	return (addr + align - 1) &^ (align - 1)
}
