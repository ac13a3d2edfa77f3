package irq

import (
	"io"

	"kcore/kernel/kfmt"
)

// Frame is the stack layout built by the interrupt entry code: the
// general purpose registers saved by PUSHAL, the vector number, the error
// code (zero for vectors without one) and the return frame used by IRETL.
//
// Handlers may modify the frame; the changes are visible to the interrupted
// code once the handler returns.
type Frame struct {
	EDI, ESI, EBP, ESP uint32
	EBX, EDX, ECX, EAX uint32

	Vector    uint32
	ErrorCode uint32

	EIP    uint32
	CS     uint32
	EFlags uint32
}

// DumpTo outputs the frame contents to w.
func (f *Frame) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "EAX = %8x EBX = %8x\n", f.EAX, f.EBX)
	kfmt.Fprintf(w, "ECX = %8x EDX = %8x\n", f.ECX, f.EDX)
	kfmt.Fprintf(w, "ESI = %8x EDI = %8x\n", f.ESI, f.EDI)
	kfmt.Fprintf(w, "EBP = %8x ESP = %8x\n", f.EBP, f.ESP)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "VEC = %8x ERR = %8x\n", f.Vector, f.ErrorCode)
	kfmt.Fprintf(w, "EIP = %8x CS  = %8x\n", f.EIP, f.CS)
	kfmt.Fprintf(w, "EFL = %8x\n", f.EFlags)
}
