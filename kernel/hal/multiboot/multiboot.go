// Package multiboot decodes the boot information record that a multiboot
// (version 1) compliant bootloader hands to the kernel, and in particular the
// physical memory map it contains.
//
// The bootloader-supplied pointers are trusted: once the boot entry point
// has checked the magic value with CheckMagic, no further validation of the
// addresses inside the record is performed.
package multiboot

import (
	"encoding/binary"
	"unsafe"

	"kcore/kernel"
)

// BootMagic is the value a multiboot compliant bootloader leaves in EAX when
// it jumps to the kernel entry point.
const BootMagic = 0x2BADB002

var (
	// infoData holds the physical address of the boot information record.
	infoData uintptr

	// ErrBadMagic is returned by CheckMagic when the kernel was not
	// started by a multiboot loader.
	ErrBadMagic = &kernel.Error{Module: "multiboot", Message: "not booted from multiboot"}

	// ErrShortInfo is returned by DecodeInfo when the supplied buffer
	// cannot hold a boot information record.
	ErrShortInfo = &kernel.Error{Module: "multiboot", Message: "boot information record truncated"}

	// ErrNoMemoryMap is returned when the bootloader did not provide a
	// memory map.
	ErrNoMemoryMap = &kernel.Error{Module: "multiboot", Message: "bootloader did not provide a memory map"}
)

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// MemBad indicates defective RAM.
	MemBad

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	case MemBad:
		return "bad RAM"
	default:
		return "unknown"
	}
}

const (
	// EntrySize is the size in bytes of a standard memory map entry,
	// including its leading size field.
	EntrySize = 24

	// entrySizeField is the value of the size field of a standard entry.
	// The field does not count itself.
	entrySizeField = EntrySize - 4
)

// MemoryMapEntry describes a memory region: its physical address, its
// length and its type.
type MemoryMapEntry struct {
	// The size of the entry as reported by the bootloader, excluding the
	// size field itself.
	Size uint32

	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// End returns the first physical address past the region.
func (e MemoryMapEntry) End() uint64 {
	return e.PhysAddress + e.Length
}

// MemRegionVisitor is invoked by MemoryMap.Visit for each memory region. The
// visitor must return true to continue or false to abort the scan. Entries
// are passed by value so that visiting never allocates.
type MemRegionVisitor func(entry MemoryMapEntry) bool

// MemoryMap is a read-only view over the memory map entries supplied by the
// bootloader. The view is only valid while the underlying memory is.
type MemoryMap struct {
	data []byte
}

// NewMemoryMap returns a MemoryMap over the raw entry bytes.
func NewMemoryMap(data []byte) MemoryMap {
	return MemoryMap{data: data}
}

// Visit invokes visitor for each entry in the map, in bootloader order. Each
// entry starts with a size field that does not count itself, so the next
// entry begins size+4 bytes later. A trailing entry that does not fit in the
// map is ignored, and so are entries of zero length.
func (m MemoryMap) Visit(visitor MemRegionVisitor) {
	for offset, size := 0, 0; offset+4 <= len(m.data); offset += 4 + size {
		size = int(binary.LittleEndian.Uint32(m.data[offset:]))
		if size < entrySizeField || offset+4+size > len(m.data) {
			return
		}

		entry := MemoryMapEntry{
			Size:        uint32(size),
			PhysAddress: binary.LittleEndian.Uint64(m.data[offset+4:]),
			Length:      binary.LittleEndian.Uint64(m.data[offset+12:]),
			Type:        MemoryEntryType(binary.LittleEndian.Uint32(m.data[offset+20:])),
		}

		// Mark unknown entry types as reserved
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if entry.Length == 0 {
			continue
		}

		if !visitor(entry) {
			return
		}
	}
}

// Len returns the number of entries in the map.
func (m MemoryMap) Len() int {
	var count int
	m.Visit(func(MemoryMapEntry) bool {
		count++
		return true
	})
	return count
}

// Regions returns all entries in the map. Unlike Visit, Regions allocates and
// must not be called before the allocator is initialized.
func (m MemoryMap) Regions() []MemoryMapEntry {
	regions := make([]MemoryMapEntry, 0, len(m.data)/EntrySize)
	m.Visit(func(entry MemoryMapEntry) bool {
		regions = append(regions, entry)
		return true
	})
	return regions
}

// CheckMagic returns ErrBadMagic unless magic matches BootMagic.
func CheckMagic(magic uint32) *kernel.Error {
	if magic != BootMagic {
		return ErrBadMagic
	}
	return nil
}

// SetInfoPtr updates the internal multiboot information pointer to the given
// value. This function must be invoked before invoking GetInfo or
// MemRegions.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

// GetInfo decodes the boot information record at the address set with
// SetInfoPtr.
func GetInfo() (Info, *kernel.Error) {
	return DecodeInfo(overlay(infoData, InfoSize))
}

// MemRegions returns a view over the memory map referenced by the boot
// information record at the address set with SetInfoPtr.
func MemRegions() (MemoryMap, *kernel.Error) {
	info, err := GetInfo()
	if err != nil {
		return MemoryMap{}, err
	}

	if info.Flags&FlagMemoryMap == 0 {
		return MemoryMap{}, ErrNoMemoryMap
	}

	return NewMemoryMap(overlay(uintptr(info.MmapAddr), int(info.MmapLength))), nil
}

// overlay returns a byte slice over size bytes of memory starting at addr.
func overlay(addr uintptr, size int) []byte {
	if addr == 0 || size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}
