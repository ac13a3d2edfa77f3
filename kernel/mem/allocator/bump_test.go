package allocator

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"kcore/kernel"
	"kcore/kernel/hal/multiboot"
	"kcore/kernel/kfmt"
	"kcore/kernel/mem"
)

// qemuMemoryMap encodes the regions reported by qemu for a 128M guest:
//
//	[     0 -   9fc00] available
//	[ 9fc00 -   a0000] reserved
//	[ f0000 -  100000] reserved
//	[100000 - 7fe0000] available
//	[7fe0000 - 8000000] reserved
var qemuMemoryMap = multiboot.EncodeMemoryMap([]multiboot.MemoryMapEntry{
	{PhysAddress: 0, Length: 0x9fc00, Type: multiboot.MemAvailable},
	{PhysAddress: 0x9fc00, Length: 0x400, Type: multiboot.MemReserved},
	{PhysAddress: 0xf0000, Length: 0x10000, Type: multiboot.MemReserved},
	{PhysAddress: 0x100000, Length: 0x7ee0000, Type: multiboot.MemAvailable},
	{PhysAddress: 0x7fe0000, Length: 0x20000, Type: multiboot.MemReserved},
})

func captureOutput(t *testing.T) *bytes.Buffer {
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	t.Cleanup(func() { kfmt.SetOutputSink(nil) })
	return &buf
}

func TestBumpAllocatorInit(t *testing.T) {
	specs := []struct {
		descr       string
		regions     []multiboot.MemoryMapEntry
		kernelStart uintptr
		kernelEnd   uintptr
		expErr      *kernel.Error
		expStart    uintptr
		expEnd      uintptr
	}{
		{
			"kernel loaded at the start of the region",
			nil,
			0x100000, 0x180000,
			nil,
			0x180004, 0x7fe0000,
		},
		{
			"kernel loaded at the end of the region",
			nil,
			0x7f00000, 0x7fe0000,
			nil,
			0x100000, 0x7effffc,
		},
		{
			"kernel outside the region",
			nil,
			0x10000, 0x20000,
			nil,
			0x100000, 0x7fe0000,
		},
		{
			"region entirely covered by the kernel",
			nil,
			0x80000, 0x8000000,
			ErrNoMemoryLeft,
			0, 0,
		},
		{
			"region ends inside the kernel",
			[]multiboot.MemoryMapEntry{
				{PhysAddress: 0x100000, Length: 0x100000, Type: multiboot.MemAvailable},
			},
			0x180000, 0x300000,
			nil,
			0x100000, 0x17fffc,
		},
		{
			"only the zero-based region is usable",
			[]multiboot.MemoryMapEntry{
				{PhysAddress: 0, Length: 0x9fc00, Type: multiboot.MemAvailable},
				{PhysAddress: 0x100000, Length: 0x7ee0000, Type: multiboot.MemReserved},
			},
			0x100000, 0x180000,
			ErrNoUsableMemory,
			0, 0,
		},
		{
			"empty usable region ahead of a real one",
			[]multiboot.MemoryMapEntry{
				{PhysAddress: 0x80000, Length: 0, Type: multiboot.MemAvailable},
				{PhysAddress: 0x100000, Length: 0x100000, Type: multiboot.MemAvailable},
			},
			0x10000, 0x20000,
			nil,
			0x100000, 0x200000,
		},
		{
			"empty memory map",
			[]multiboot.MemoryMapEntry{},
			0x100000, 0x180000,
			ErrNoUsableMemory,
			0, 0,
		},
	}

	captureOutput(t)

	for specIndex, spec := range specs {
		memMap := multiboot.NewMemoryMap(qemuMemoryMap)
		if spec.regions != nil {
			memMap = multiboot.NewMemoryMap(multiboot.EncodeMemoryMap(spec.regions))
		}

		var alloc BumpAllocator
		err := alloc.Init(memMap, spec.kernelStart, spec.kernelEnd)
		if err != spec.expErr {
			t.Errorf("[spec %d] %s: expected error %v; got %v", specIndex, spec.descr, spec.expErr, err)
			continue
		}

		if err != nil {
			continue
		}

		exp := Stats{Start: spec.expStart, End: spec.expEnd, Next: spec.expStart}
		if diff := cmp.Diff(exp, alloc.Stats()); diff != "" {
			t.Errorf("[spec %d] %s: unexpected stats (-want +got):\n%s", specIndex, spec.descr, diff)
		}
	}
}

func TestBumpAllocatorInitLogsBounds(t *testing.T) {
	buf := captureOutput(t)

	var alloc BumpAllocator
	if err := alloc.Init(multiboot.NewMemoryMap(qemuMemoryMap), 0x100000, 0x180000); err != nil {
		t.Fatal(err)
	}

	exp := "[boot_mem_alloc] start segment: 0x180004, end segment: 0x7fe0000\n"
	if got := buf.String(); got != exp {
		t.Fatalf("expected output %q; got %q", exp, got)
	}
}

func newTestAllocator(t *testing.T, start uintptr, size mem.Size) *BumpAllocator {
	memMap := multiboot.NewMemoryMap(multiboot.EncodeMemoryMap([]multiboot.MemoryMapEntry{
		{PhysAddress: uint64(start), Length: uint64(size), Type: multiboot.MemAvailable},
	}))

	alloc := new(BumpAllocator)
	if err := alloc.Init(memMap, 0, 0); err != nil {
		t.Fatal(err)
	}
	return alloc
}

func TestBumpAllocatorAlloc(t *testing.T) {
	captureOutput(t)
	alloc := newTestAllocator(t, 0x1001, 64)

	specs := []struct {
		size    mem.Size
		align   uintptr
		expAddr uintptr
		expErr  *kernel.Error
	}{
		{4, 1, 0x1001, nil},
		{8, 8, 0x1008, nil},
		{0, 16, 0x1010, nil},
		{16, 3, 0, ErrInvalidAlignment},
		{16, 0, 0, ErrInvalidAlignment},
		{56, 4, 0, ErrOutOfMemory},
		{32, 32, 0x1020, nil},
		{2, 1, 0, ErrOutOfMemory},
	}

	for specIndex, spec := range specs {
		addr, err := alloc.Alloc(spec.size, spec.align)
		if err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
		if addr != spec.expAddr {
			t.Errorf("[spec %d] expected address 0x%x; got 0x%x", specIndex, spec.expAddr, addr)
		}
	}

	if got := alloc.Stats().AllocCount; got != 4 {
		t.Fatalf("expected 4 live allocations; got %d", got)
	}
}

func TestBumpAllocatorOutOfMemoryLog(t *testing.T) {
	buf := captureOutput(t)
	alloc := newTestAllocator(t, 0x1000, 16)
	buf.Reset()

	if _, err := alloc.Alloc(32, 1); err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory; got %v", err)
	}

	exp := "[boot_mem_alloc] ran out of memory! required 32, end 0x1010, next 0x1000\n"
	if got := buf.String(); got != exp {
		t.Fatalf("expected output %q; got %q", exp, got)
	}
}

func TestBumpAllocatorFreeResetsArena(t *testing.T) {
	captureOutput(t)
	alloc := newTestAllocator(t, 0x1000, 0x1000)

	// Freeing with nothing live must not underflow the counter.
	alloc.Free(0x1000)
	if stats := alloc.Stats(); stats.AllocCount != 0 || stats.Next != 0x1000 {
		t.Fatalf("unexpected stats after spurious free: %+v", stats)
	}

	var addrs []uintptr
	for i := 0; i < 3; i++ {
		addr, err := alloc.Alloc(16, 4)
		if err != nil {
			t.Fatal(err)
		}
		addrs = append(addrs, addr)
	}

	alloc.Free(addrs[0])
	alloc.Free(addrs[1])
	if got := alloc.Stats().Next; got != 0x1030 {
		t.Fatalf("expected cursor to stay at 0x1030 while allocations are live; got 0x%x", got)
	}

	alloc.Free(addrs[2])
	if got := alloc.Stats().Next; got != 0x1000 {
		t.Fatalf("expected cursor to reset to 0x1000; got 0x%x", got)
	}

	addr, err := alloc.Alloc(8, 8)
	if err != nil {
		t.Fatal(err)
	}
	if addr != 0x1000 {
		t.Fatalf("expected first allocation after reset at 0x1000; got 0x%x", addr)
	}
}

func TestBumpAllocatorContainment(t *testing.T) {
	captureOutput(t)

	const (
		arenaStart = 0x100003
		arenaSize  = 4 * mem.Kb
	)

	var (
		alloc = newTestAllocator(t, arenaStart, arenaSize)
		rng   = rand.New(rand.NewSource(42))
		live  []uintptr
	)

	for step := 0; step < 10000; step++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			idx := rng.Intn(len(live))
			alloc.Free(live[idx])
			live = append(live[:idx], live[idx+1:]...)

			if len(live) == 0 && alloc.Stats().Next != arenaStart {
				t.Fatalf("[step %d] expected cursor reset to arena start", step)
			}
			continue
		}

		var (
			size  = mem.Size(rng.Intn(256))
			align = uintptr(1) << uint(rng.Intn(8))
			next  = alloc.Stats().Next
		)

		addr, err := alloc.Alloc(size, align)
		if err != nil {
			if err != ErrOutOfMemory {
				t.Fatalf("[step %d] unexpected error: %v", step, err)
			}
			if mem.AlignUp(next, align)+uintptr(size) <= arenaStart+uintptr(arenaSize) {
				t.Fatalf("[step %d] allocation of %d bytes aligned to %d should have fit", step, size, align)
			}
			continue
		}

		if addr < arenaStart || addr+uintptr(size) > arenaStart+uintptr(arenaSize) {
			t.Fatalf("[step %d] allocation [0x%x, 0x%x) escapes the arena", step, addr, addr+uintptr(size))
		}
		if addr&(align-1) != 0 {
			t.Fatalf("[step %d] address 0x%x is not aligned to %d", step, addr, align)
		}
		live = append(live, addr)
	}
}

func TestLocked(t *testing.T) {
	buf := captureOutput(t)

	var alloc Locked
	if err := alloc.Init(multiboot.NewMemoryMap(qemuMemoryMap), 0x100000, 0x180000); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(buf.String(), "start segment: 0x180004") {
		t.Fatalf("expected bounds to be logged; got %q", buf.String())
	}

	addr, err := alloc.Alloc(4, 4)
	if err != nil {
		t.Fatal(err)
	}
	if addr != 0x180004 {
		t.Fatalf("expected address 0x180004; got 0x%x", addr)
	}

	alloc.Free(addr)

	exp := Stats{Start: 0x180004, End: 0x7fe0000, Next: 0x180004}
	if diff := cmp.Diff(exp, alloc.Stats()); diff != "" {
		t.Fatalf("unexpected stats (-want +got):\n%s", diff)
	}

	if exp.Free() != mem.Size(0x7fe0000-0x180004) {
		t.Fatalf("unexpected free size %d", exp.Free())
	}
}
