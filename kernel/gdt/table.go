package gdt

import (
	"io"
	"unsafe"

	"kcore/kernel"
	"kcore/kernel/kfmt"
)

// Selectors for the entries of a flat table.
const (
	CodeSelector uint16 = 1 << 3
	DataSelector uint16 = 2 << 3
)

// Selector returns the segment selector for the table entry at index with
// the requested privilege level.
func Selector(index uint16, rpl uint8) uint16 {
	return index<<3 | uint16(rpl&3)
}

// Table holds the null, code and data descriptors.
type Table [3]Descriptor

// NewFlatTable builds a table whose code and data segments both span the
// whole 4G address space at privilege level 0. The code segment is readable
// and the data segment writable.
func NewFlatTable() (Table, *kernel.Error) {
	flat := NewSegment(0, 0xFFFFFFFF).
		Toggle(Present).
		Toggle(NotSystem).
		Toggle(ReadWrite).
		OperandSize32(true).
		PageGranularity(true)

	code, err := flat.Toggle(Executable).Build()
	if err != nil {
		return Table{}, err
	}

	data, err := flat.Build()
	if err != nil {
		return Table{}, err
	}

	return Table{0, code, data}, nil
}

// Pointer is the pseudo-descriptor consumed by LGDT and LIDT.
type Pointer struct {
	Limit uint16
	Base  uint32
}

// Encode returns the in-memory representation of the pseudo-descriptor.
func (p Pointer) Encode() [6]byte {
	return [6]byte{
		byte(p.Limit), byte(p.Limit >> 8),
		byte(p.Base), byte(p.Base >> 8), byte(p.Base >> 16), byte(p.Base >> 24),
	}
}

// Pointer returns the pseudo-descriptor describing t.
func (t *Table) Pointer() Pointer {
	return Pointer{
		Limit: uint16(len(t)*8 - 1),
		Base:  uint32(uintptr(unsafe.Pointer(t))),
	}
}

// Loader installs a descriptor table on the processor. cpu.Native
// implements it.
type Loader interface {
	DisableInterrupts()
	LoadGDT(regAddr uintptr)
	ReloadSegments(code, data uint16)
}

// gdtr is the pseudo-descriptor handed to LGDT.
var gdtr [6]byte

// Load disables interrupts, points the GDT register at t and reloads the
// segment registers with the flat code and data selectors. Interrupts stay
// disabled until the IDT is loaded. t must stay in place for as long as the
// kernel runs.
func Load(t *Table, loader Loader) {
	loader.DisableInterrupts()

	ptr := t.Pointer()
	gdtr = ptr.Encode()
	loader.LoadGDT(uintptr(unsafe.Pointer(&gdtr)))
	loader.ReloadSegments(CodeSelector, DataSelector)

	kfmt.Printf("[gdt] loaded %d descriptors at 0x%x (limit 0x%x)\n", len(t), ptr.Base, ptr.Limit)
}

// Dump writes a line per descriptor in t.
func Dump(w io.Writer, t *Table) {
	for i, d := range t {
		kfmt.Fprintf(w, "%d: 0x%16x base=0x%8x limit=0x%5x access=0x%2x flags=0x%x dpl=%d\n",
			i, uint64(d), d.Base(), d.Limit(), d.Access(), d.Flags(), d.DPL(),
		)
	}
}
