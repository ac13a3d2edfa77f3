// Package allocator implements the physical memory allocator used while the
// kernel boots.
package allocator

import (
	"kcore/kernel"
	"kcore/kernel/hal/multiboot"
	"kcore/kernel/kfmt"
	"kcore/kernel/mem"
)

// GuardSize is the number of bytes left unused on either side of the kernel
// image.
const GuardSize = 4

// maxAddr is the highest address the allocator can hand out.
const maxAddr = uint64(^uintptr(0))

var (
	// ErrNoUsableMemory is returned by Init when the memory map contains no
	// usable region with a nonzero base address. It is fatal.
	ErrNoUsableMemory = &kernel.Error{Module: "boot_mem_alloc", Message: "usable memory required"}

	// ErrNoMemoryLeft is returned by Init when nothing remains of the
	// selected region once the kernel image is carved out of it. It is
	// fatal.
	ErrNoMemoryLeft = &kernel.Error{Module: "boot_mem_alloc", Message: "no memory other than kernel memory"}

	// ErrOutOfMemory is returned by Alloc when the request does not fit in
	// the remaining arena.
	ErrOutOfMemory = &kernel.Error{Module: "boot_mem_alloc", Message: "out of memory"}

	// ErrInvalidAlignment is returned by Alloc when the alignment is not a
	// power of two.
	ErrInvalidAlignment = &kernel.Error{Module: "boot_mem_alloc", Message: "alignment must be a power of two"}
)

// Stats describes the state of a BumpAllocator.
type Stats struct {
	Start, End, Next uintptr
	AllocCount       uint64
}

// Free returns the number of bytes between the cursor and the arena end.
func (s Stats) Free() mem.Size {
	return mem.Size(s.End - s.Next)
}

// BumpAllocator hands out memory from a single arena by advancing a cursor.
// Individual allocations are never reclaimed; the cursor returns to the start
// of the arena once every outstanding allocation has been freed.
//
// The reset only looks at the number of live allocations, so memory still
// referenced by a caller that freed it out of order may be handed out again.
// The allocator is meant for the single allocation phase of early boot and
// is not a general purpose allocator.
type BumpAllocator struct {
	start uintptr
	end   uintptr
	next  uintptr

	// allocCount tracks the number of live allocations.
	allocCount uint64
}

// Init selects the first usable region with a nonzero base address from the
// memory map and sets it up as the allocator arena, excluding the kernel
// image located at [kernelStart, kernelEnd) plus GuardSize bytes on either
// side.
func (alloc *BumpAllocator) Init(memMap multiboot.MemoryMap, kernelStart, kernelEnd uintptr) *kernel.Error {
	var (
		region multiboot.MemoryMapEntry
		found  bool
	)

	memMap.Visit(func(entry multiboot.MemoryMapEntry) bool {
		if entry.Type != multiboot.MemAvailable || entry.PhysAddress == 0 || entry.PhysAddress > maxAddr {
			return true
		}

		region, found = entry, true
		return false
	})

	if !found {
		return ErrNoUsableMemory
	}

	start, end := clip(region, uint64(kernelStart), uint64(kernelEnd))
	if end < start {
		return ErrNoMemoryLeft
	}

	kfmt.Printf("[boot_mem_alloc] start segment: 0x%x, end segment: 0x%x\n", start, end)

	alloc.start = uintptr(start)
	alloc.end = uintptr(end)
	alloc.next = alloc.start
	alloc.allocCount = 0
	return nil
}

// clip returns the bounds of region once the kernel image and its guard
// bytes are removed. When the kernel overlaps the region, the part above the
// kernel is kept if it exists; otherwise the part below it. The returned end
// is lower than the returned start when nothing remains.
func clip(region multiboot.MemoryMapEntry, kernelStart, kernelEnd uint64) (uint64, uint64) {
	start, end := region.PhysAddress, region.End()
	if end > maxAddr {
		end = maxAddr
	}

	guardedStart := uint64(0)
	if kernelStart > GuardSize {
		guardedStart = kernelStart - GuardSize
	}
	guardedEnd := kernelEnd + GuardSize

	// The region is clear of the kernel image.
	if kernelEnd <= kernelStart || end <= guardedStart || start >= guardedEnd {
		return start, end
	}

	if end > guardedEnd {
		return guardedEnd, end
	}

	// The region ends inside the kernel image; keep what lies below it. If
	// the region starts inside the image too, end drops below start.
	if guardedStart < start {
		return start, 0
	}
	return start, guardedStart
}

// Alloc reserves size bytes aligned to align, which must be a power of two.
// It returns ErrOutOfMemory and a zero address if the request does not fit
// in the remaining arena.
func (alloc *BumpAllocator) Alloc(size mem.Size, align uintptr) (uintptr, *kernel.Error) {
	if !mem.IsPowerOfTwo(align) {
		return 0, ErrInvalidAlignment
	}

	allocStart := mem.AlignUp(alloc.next, align)
	allocEnd := allocStart + uintptr(size)

	// Guard against wrapping around the address space as well as running
	// past the arena.
	if allocStart < alloc.next || uint64(size) > maxAddr || allocEnd < allocStart || allocEnd > alloc.end {
		kfmt.Printf("[boot_mem_alloc] ran out of memory! required %d, end 0x%x, next 0x%x\n", uint64(size), alloc.end, alloc.next)
		return 0, ErrOutOfMemory
	}

	alloc.next = allocEnd
	alloc.allocCount++
	return allocStart, nil
}

// Free releases an allocation. The memory is only reclaimed, together with
// the rest of the arena, once no allocations remain live. Freeing when no
// allocation is live is a no-op.
func (alloc *BumpAllocator) Free(_ uintptr) {
	if alloc.allocCount == 0 {
		return
	}

	alloc.allocCount--
	if alloc.allocCount == 0 {
		alloc.next = alloc.start
	}
}

// Stats returns the arena bounds, the cursor and the live allocation count.
func (alloc *BumpAllocator) Stats() Stats {
	return Stats{
		Start:      alloc.start,
		End:        alloc.end,
		Next:       alloc.next,
		AllocCount: alloc.allocCount,
	}
}
