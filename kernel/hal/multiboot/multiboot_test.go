package multiboot

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"
)

// qemuMemoryMap is the memory map reported by qemu for a 128M guest.
var qemuMemoryMap = []MemoryMapEntry{
	{Size: 20, PhysAddress: 0, Length: 654336, Type: MemAvailable},
	{Size: 20, PhysAddress: 654336, Length: 1024, Type: MemReserved},
	{Size: 20, PhysAddress: 983040, Length: 65536, Type: MemReserved},
	{Size: 20, PhysAddress: 1048576, Length: 133038080, Type: MemAvailable},
	{Size: 20, PhysAddress: 134086656, Length: 131072, Type: MemReserved},
	{Size: 20, PhysAddress: 4294705152, Length: 262144, Type: MemReserved},
}

func TestVisitMemRegions(t *testing.T) {
	data := EncodeMemoryMap(qemuMemoryMap)

	// Patch the type of the first and second entries with bogus values;
	// both must be reported as reserved.
	binary.LittleEndian.PutUint32(data[20:], 0xFF)
	binary.LittleEndian.PutUint32(data[EntrySize+20:], 0)

	exp := append([]MemoryMapEntry(nil), qemuMemoryMap...)
	exp[0].Type = MemReserved

	m := NewMemoryMap(data)
	if diff := cmp.Diff(exp, m.Regions()); diff != "" {
		t.Fatalf("unexpected regions (-want +got):\n%s", diff)
	}

	if got := m.Len(); got != len(exp) {
		t.Fatalf("expected Len() to return %d; got %d", len(exp), got)
	}
}

func TestVisitMemRegionsAbort(t *testing.T) {
	var visitCount int
	NewMemoryMap(EncodeMemoryMap(qemuMemoryMap)).Visit(func(entry MemoryMapEntry) bool {
		visitCount++
		return entry.PhysAddress < 983040
	})

	if visitCount != 3 {
		t.Fatalf("expected visitor to be invoked 3 times; got %d", visitCount)
	}
}

func TestVisitMemRegionsStride(t *testing.T) {
	specs := []struct {
		descr string
		data  []byte
		exp   []MemoryMapEntry
	}{
		{
			"empty map",
			nil,
			nil,
		},
		{
			"entry with trailing padding",
			append(
				rawEntry(24, 0x100000, 0x1000, MemAvailable, 0xAA, 0xAA, 0xAA, 0xAA),
				rawEntry(20, 0x200000, 0x2000, MemReserved)...,
			),
			[]MemoryMapEntry{
				{Size: 24, PhysAddress: 0x100000, Length: 0x1000, Type: MemAvailable},
				{Size: 20, PhysAddress: 0x200000, Length: 0x2000, Type: MemReserved},
			},
		},
		{
			"truncated trailing entry",
			append(
				rawEntry(20, 0x100000, 0x1000, MemAvailable),
				rawEntry(20, 0x200000, 0x2000, MemAvailable)[:12]...,
			),
			[]MemoryMapEntry{
				{Size: 20, PhysAddress: 0x100000, Length: 0x1000, Type: MemAvailable},
			},
		},
		{
			"zero-length entry",
			append(append(
				rawEntry(20, 0x80000, 0, MemAvailable),
				rawEntry(20, 0x100000, 0x1000, MemAvailable)...),
				rawEntry(20, 0x200000, 0, MemReserved)...,
			),
			[]MemoryMapEntry{
				{Size: 20, PhysAddress: 0x100000, Length: 0x1000, Type: MemAvailable},
			},
		},
		{
			"entry size too small",
			rawEntry(8, 0x100000, 0x1000, MemAvailable),
			nil,
		},
	}

	for specIndex, spec := range specs {
		var got []MemoryMapEntry
		NewMemoryMap(spec.data).Visit(func(entry MemoryMapEntry) bool {
			got = append(got, entry)
			return true
		})

		if diff := cmp.Diff(spec.exp, got); diff != "" {
			t.Errorf("[spec %d] %s: unexpected regions (-want +got):\n%s", specIndex, spec.descr, diff)
		}
	}
}

func TestMemoryEntryTypeString(t *testing.T) {
	specs := []struct {
		input MemoryEntryType
		exp   string
	}{
		{MemAvailable, "available"},
		{MemReserved, "reserved"},
		{MemAcpiReclaimable, "ACPI (reclaimable)"},
		{MemNvs, "NVS"},
		{MemBad, "bad RAM"},
		{MemoryEntryType(123), "unknown"},
	}

	for specIndex, spec := range specs {
		if got := spec.input.String(); got != spec.exp {
			t.Errorf("[spec %d] expected %q; got %q", specIndex, spec.exp, got)
		}
	}
}

func TestCheckMagic(t *testing.T) {
	if err := CheckMagic(BootMagic); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := CheckMagic(0x36D76289); err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic; got %v", err)
	}
}

func TestDecodeInfo(t *testing.T) {
	if _, err := DecodeInfo(make([]byte, InfoSize-1)); err != ErrShortInfo {
		t.Fatalf("expected ErrShortInfo; got %v", err)
	}

	data := make([]byte, InfoSize)
	le := binary.LittleEndian
	le.PutUint32(data[0:], FlagMemoryBounds|FlagMemoryMap|FlagBootLoaderName|FlagFramebuffer)
	le.PutUint32(data[4:], 639)
	le.PutUint32(data[8:], 129920)
	le.PutUint32(data[44:], 144)
	le.PutUint32(data[48:], 0x9000)
	le.PutUint32(data[64:], 0x10A000)
	le.PutUint64(data[88:], 0xB8000)
	le.PutUint32(data[96:], 160)
	le.PutUint32(data[100:], 80)
	le.PutUint32(data[104:], 25)
	data[108] = 16
	data[109] = 2

	info, err := DecodeInfo(data)
	if err != nil {
		t.Fatal(err)
	}

	exp := Info{
		Flags:             FlagMemoryBounds | FlagMemoryMap | FlagBootLoaderName | FlagFramebuffer,
		MemLower:          639,
		MemUpper:          129920,
		MmapLength:        144,
		MmapAddr:          0x9000,
		BootLoaderName:    0x10A000,
		FramebufferAddr:   0xB8000,
		FramebufferPitch:  160,
		FramebufferWidth:  80,
		FramebufferHeight: 25,
		FramebufferBpp:    16,
		FramebufferType:   2,
	}
	if diff := cmp.Diff(exp, info); diff != "" {
		t.Fatalf("unexpected info (-want +got):\n%s", diff)
	}

	if !bytes.Equal(info.Encode(), data) {
		t.Fatal("expected Encode to reproduce the decoded record")
	}
}

func TestMemRegions(t *testing.T) {
	mmapData := EncodeMemoryMap(qemuMemoryMap)
	mmapAddr := uintptr(unsafe.Pointer(&mmapData[0]))
	if uint64(mmapAddr) > math.MaxUint32 {
		t.Skip("memory map is not addressable through a 32-bit pointer on this host")
	}

	info := Info{Flags: FlagMemoryBounds}
	infoData := info.Encode()
	SetInfoPtr(uintptr(unsafe.Pointer(&infoData[0])))
	defer SetInfoPtr(0)

	if _, err := MemRegions(); err != ErrNoMemoryMap {
		t.Fatalf("expected ErrNoMemoryMap; got %v", err)
	}

	info.Flags |= FlagMemoryMap
	info.MmapAddr = uint32(mmapAddr)
	info.MmapLength = uint32(len(mmapData))
	infoData = info.Encode()
	SetInfoPtr(uintptr(unsafe.Pointer(&infoData[0])))

	m, err := MemRegions()
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(qemuMemoryMap, m.Regions()); diff != "" {
		t.Fatalf("unexpected regions (-want +got):\n%s", diff)
	}
}

func TestGetInfo(t *testing.T) {
	info := Info{Flags: FlagMemoryBounds, MemLower: 639, MemUpper: 129920}
	infoData := info.Encode()
	SetInfoPtr(uintptr(unsafe.Pointer(&infoData[0])))
	defer SetInfoPtr(0)

	got, err := GetInfo()
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(info, got); diff != "" {
		t.Fatalf("unexpected info (-want +got):\n%s", diff)
	}
}

func TestPrintMemoryMap(t *testing.T) {
	var buf bytes.Buffer
	PrintMemoryMap(&buf, NewMemoryMap(EncodeMemoryMap(qemuMemoryMap[:4])))

	exp := "----- multiboot mmap -----\n" +
		"num entries: 4\n" +
		"size: 20, len: 639K, addr: 0x0000000000000000, type: available\n" +
		"size: 20, len: 1K, addr: 0x000000000009fc00, type: reserved\n" +
		"size: 20, len: 64K, addr: 0x00000000000f0000, type: reserved\n" +
		"size: 20, len: 129920K, addr: 0x0000000000100000, type: available\n" +
		"total usable: 130559K\n"

	if got := buf.String(); got != exp {
		t.Fatalf("expected output:\n%s\ngot:\n%s", exp, got)
	}
}

func rawEntry(size uint32, base, length uint64, typ MemoryEntryType, padding ...byte) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint32(buf[0:], size)
	binary.LittleEndian.PutUint64(buf[4:], base)
	binary.LittleEndian.PutUint64(buf[12:], length)
	binary.LittleEndian.PutUint32(buf[20:], uint32(typ))
	return append(buf, padding...)
}
