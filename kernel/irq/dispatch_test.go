package irq

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"kcore/kernel/gate"
	"kcore/kernel/kfmt"
)

func mockPanic(t *testing.T) *[]interface{} {
	var panics []interface{}
	panicFn = func(e interface{}) { panics = append(panics, e) }
	t.Cleanup(func() { panicFn = kfmt.Panic })
	return &panics
}

func TestDispatch(t *testing.T) {
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(nil)

	panics := mockPanic(t)

	pic, bus := newTestPIC(t)
	pic.Remap(MasterOffset, SlaveOffset)
	d := NewDispatcher(pic)

	var handled []uint32
	record := HandlerFunc(func(frame *Frame) {
		handled = append(handled, frame.Vector)
		// Handlers may update the frame to resume elsewhere.
		frame.EIP = 0xC0FFEE
	})

	if err := d.HandleException(gate.GPFException, record); err != nil {
		t.Fatal(err)
	}
	if err := d.HandleIRQ(1, record); err != nil {
		t.Fatal(err)
	}
	bus.reset()

	specs := []struct {
		vector    uint32
		expWrites []portWrite
		expPanic  bool
	}{
		// Exceptions are never acknowledged on the PIC.
		{uint32(gate.GPFException), nil, false},
		// IRQ1 with a handler.
		{0x21, []portWrite{{0x20, 0x20}}, false},
		// IRQ12 without a handler is acknowledged on both controllers.
		{0x2C, []portWrite{{0xA0, 0x20}, {0x20, 0x20}}, false},
		// Exception without a handler.
		{uint32(gate.InvalidOpcode), nil, true},
		// Fallback entry.
		{0xFFFF, nil, true},
	}

	for specIndex, spec := range specs {
		bus.reset()
		*panics = nil
		handled = nil

		frame := &Frame{Vector: spec.vector, EIP: 0x1000}
		d.Dispatch(frame)

		if diff := cmp.Diff(spec.expWrites, bus.writes); diff != "" {
			t.Errorf("[spec %d] unexpected port writes (-want +got):\n%s", specIndex, diff)
		}

		if gotPanic := len(*panics) != 0; gotPanic != spec.expPanic {
			t.Errorf("[spec %d] expected panic: %t; got %t", specIndex, spec.expPanic, gotPanic)
		}

		if spec.expPanic && (*panics)[0] != ErrUnhandledInterrupt {
			t.Errorf("[spec %d] expected panic with ErrUnhandledInterrupt; got %v", specIndex, (*panics)[0])
		}

		if len(handled) == 1 && frame.EIP != 0xC0FFEE {
			t.Errorf("[spec %d] expected frame changes made by the handler to persist", specIndex)
		}
	}

	if !strings.Contains(buf.String(), "[irq] spurious interrupt on line 12\n") {
		t.Errorf("expected spurious interrupt to be logged; got %q", buf.String())
	}

	if !strings.Contains(buf.String(), "[irq] unhandled interrupt, vector 0x6\n[irq] EAX = 00000000") {
		t.Errorf("expected unhandled interrupt to be logged with a register dump; got %q", buf.String())
	}
}

func TestDispatcherRegistrationErrors(t *testing.T) {
	pic, _ := newTestPIC(t)
	d := NewDispatcher(pic)

	if err := d.HandleException(gate.NumExceptions, HandlerFunc(func(*Frame) {})); err != ErrInvalidException {
		t.Errorf("expected ErrInvalidException; got %v", err)
	}

	if err := d.HandleIRQ(NumIRQs, HandlerFunc(func(*Frame) {})); err != ErrInvalidLine {
		t.Errorf("expected ErrInvalidLine; got %v", err)
	}
}

func TestInstall(t *testing.T) {
	kfmt.SetOutputSink(&bytes.Buffer{})
	defer kfmt.SetOutputSink(nil)
	defer func() { active = nil }()

	pic, _ := newTestPIC(t)
	pic.Remap(MasterOffset, SlaveOffset)
	d := NewDispatcher(pic)

	var idt gate.IDT
	if err := d.Install(&idt); err != nil {
		t.Fatal(err)
	}

	if !idt.Complete() {
		t.Fatal("expected every gate to be present after Install")
	}

	specs := []struct {
		vector uint8
		exp    uintptr
	}{
		{0, EntryPoint(0)},
		{uint8(gate.GPFException), EntryPoint(13)},
		{0x20, EntryPoint(32)},
		{0x21, EntryPoint(33)},
		{0x2F, EntryPoint(47)},
		{0x30, FallbackEntryPoint()},
		{0x80, FallbackEntryPoint()},
		{0xFF, FallbackEntryPoint()},
	}

	for specIndex, spec := range specs {
		desc := idt.Entry(spec.vector)
		if desc.Offset() != uint32(spec.exp) {
			t.Errorf("[spec %d] expected vector 0x%x to point at 0x%x; got 0x%x", specIndex, spec.vector, spec.exp, desc.Offset())
		}
		if desc.Type() != gate.Interrupt32 || desc.Selector() != 0x08 || desc.DPL() != 0 {
			t.Errorf("[spec %d] unexpected gate attributes for vector 0x%x", specIndex, spec.vector)
		}
	}

	if active != &d {
		t.Fatal("expected Install to activate the dispatcher")
	}
}

func TestDispatchWithoutActiveDispatcher(t *testing.T) {
	kfmt.SetOutputSink(&bytes.Buffer{})
	defer kfmt.SetOutputSink(nil)

	panics := mockPanic(t)
	active = nil

	dispatch(&Frame{Vector: 0x21})
	if len(*panics) != 1 || (*panics)[0] != ErrUnhandledInterrupt {
		t.Fatalf("expected a single ErrUnhandledInterrupt panic; got %v", *panics)
	}
}

func TestFrameDumpTo(t *testing.T) {
	frame := Frame{
		EDI: 1, ESI: 2, EBP: 3, ESP: 4,
		EBX: 5, EDX: 6, ECX: 7, EAX: 8,
		Vector: 13, ErrorCode: 0x10,
		EIP: 0x101000, CS: 8, EFlags: 0x202,
	}

	var buf bytes.Buffer
	frame.DumpTo(&buf)

	exp := "EAX = 00000008 EBX = 00000005\n" +
		"ECX = 00000007 EDX = 00000006\n" +
		"ESI = 00000002 EDI = 00000001\n" +
		"EBP = 00000003 ESP = 00000004\n" +
		"\n" +
		"VEC = 0000000d ERR = 00000010\n" +
		"EIP = 00101000 CS  = 00000008\n" +
		"EFL = 00000202\n"

	if got := buf.String(); got != exp {
		t.Fatalf("expected:\n%q\ngot:\n%q", exp, got)
	}
}
