// Package kfmt implements the kernel's logging primitives: a Printf that is
// safe to call before any heap exists, an early ring buffer that keeps output
// until a sink is attached, and the Panic path that halts the machine.
package kfmt

import (
	"io"
	"unsafe"
)

// maxBufSize defines the size of the scratch buffer used for formatting
// numbers. It fits a 64-bit value in base 8 plus a sign.
const maxBufSize = 34

const digits = "0123456789abcdef"

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	numBuf [maxBufSize]byte

	// singleByte is a shared one-byte buffer used for writing format
	// literals without converting string slices to []byte.
	singleByte = []byte(" ")

	// earlyPrintBuffer keeps Printf output produced before a sink is set.
	earlyPrintBuffer ringBuffer

	// outputSink receives Printf output. While nil, output is kept in
	// earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the target for calls to Printf to w and flushes any
// output accumulated in the early ring buffer into it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the current target for Printf output.
func GetOutputSink() io.Writer {
	return outputSink
}

// ActiveWriter returns a writer that forwards to the current output sink, or
// to the early ring buffer while no sink is set.
func ActiveWriter() io.Writer {
	return activeWriter{}
}

type activeWriter struct{}

func (activeWriter) Write(p []byte) (int, error) {
	doWrite(outputSink, p)
	return len(p), nil
}

// Printf writes a formatted message to the active output sink without
// allocating memory. It supports the following verbs:
//
//	%s  string or []byte
//	%d  integer, base 10 (left-padded with spaces)
//	%x  integer, base 16 (left-padded with zeroes)
//	%o  integer, base 8 (left-padded with zeroes)
//	%t  bool
//	%%  a literal percent sign
//
// An optional decimal width may precede the verb. Arguments are never
// inspected for fmt.Stringer support.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes the formatted output to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		argIndex int
		width    int
		fmtLen   = len(format)
	)

	for i := 0; i < fmtLen; i++ {
		if format[i] != '%' {
			writeByte(w, format[i])
			continue
		}

		width = 0
		for i++; i < fmtLen && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}

		if i == fmtLen {
			doWrite(w, errNoVerb)
			break
		}

		verb := format[i]
		switch verb {
		case '%':
			writeByte(w, '%')
			continue
		case 'd', 'x', 'o', 's', 't':
		default:
			doWrite(w, errNoVerb)
			continue
		}

		if argIndex >= len(args) {
			doWrite(w, errMissingArg)
			continue
		}

		arg := args[argIndex]
		argIndex++

		switch verb {
		case 'd':
			fmtInt(w, arg, 10, width)
		case 'x':
			fmtInt(w, arg, 16, width)
		case 'o':
			fmtInt(w, arg, 8, width)
		case 's':
			fmtString(w, arg, width)
		case 't':
			fmtBool(w, arg)
		}
	}

	for ; argIndex < len(args); argIndex++ {
		doWrite(w, errExtraArg)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case b:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

// fmtString writes a string or []byte value left-padded with spaces to
// width.
func fmtString(w io.Writer, v interface{}, width int) {
	switch s := v.(type) {
	case string:
		fmtRepeat(w, ' ', width-len(s))
		// Converting s to a []byte would allocate.
		for i := 0; i < len(s); i++ {
			writeByte(w, s[i])
		}
	case []byte:
		fmtRepeat(w, ' ', width-len(s))
		doWrite(w, s)
	default:
		doWrite(w, errWrongArgType)
	}
}

func fmtRepeat(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		writeByte(w, ch)
	}
}

// fmtInt writes any built-in integer type in the requested base. Base 10
// values are padded with spaces and carry the sign next to the digits; base 8
// and 16 values are padded with zeroes after the sign.
func fmtInt(w io.Writer, v interface{}, base uint64, width int) {
	var (
		uval uint64
		neg  bool
	)

	switch t := v.(type) {
	case uint8:
		uval = uint64(t)
	case uint16:
		uval = uint64(t)
	case uint32:
		uval = uint64(t)
	case uint64:
		uval = t
	case uint:
		uval = uint64(t)
	case uintptr:
		uval = uint64(t)
	case int8:
		uval, neg = abs(int64(t))
	case int16:
		uval, neg = abs(int64(t))
	case int32:
		uval, neg = abs(int64(t))
	case int64:
		uval, neg = abs(t)
	case int:
		uval, neg = abs(int64(t))
	default:
		doWrite(w, errWrongArgType)
		return
	}

	if width > maxBufSize-1 {
		width = maxBufSize - 1
	}

	pos := maxBufSize
	for {
		pos--
		numBuf[pos] = digits[uval%base]
		uval /= base
		if uval == 0 {
			break
		}
	}

	padCh, padTo := byte('0'), width
	if base == 10 {
		padCh = ' '
		if neg {
			pos--
			numBuf[pos] = '-'
		}
	} else if neg {
		// Leave room for the sign in front of the zeroes.
		padTo--
	}

	for maxBufSize-pos < padTo {
		pos--
		numBuf[pos] = padCh
	}

	if neg && base != 10 {
		pos--
		numBuf[pos] = '-'
	}

	doWrite(w, numBuf[pos:])
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

func writeByte(w io.Writer, b byte) {
	singleByte[0] = b
	doWrite(w, singleByte)
}

// doWrite hides p from escape analysis. Without this, the compiler cannot
// prove that p does not escape through the io.Writer call and every Printf
// call site ends up allocating, which crashes the kernel before the
// allocator is up.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		_, _ = w.Write(p)
	} else {
		_, _ = earlyPrintBuffer.Write(p)
	}
}

// noEscape hides a pointer from escape analysis (see runtime/stubs.go).
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
