package mem

import (
	"testing"
	"unsafe"
)

func TestMemset(t *testing.T) {
	// memset with a 0 size should be a no-op
	Memset(uintptr(0), 0x00, 0)

	for _, size := range []Size{1, 3, 24, 100, PageSize, 3*PageSize + 7} {
		buf := make([]byte, size)
		for i := 0; i < len(buf); i++ {
			buf[i] = 0xFE
		}

		addr := uintptr(unsafe.Pointer(&buf[0]))
		Memset(addr, 0xAA, size)

		for i := 0; i < len(buf); i++ {
			if got := buf[i]; got != 0xAA {
				t.Errorf("[block of %d bytes] expected byte %d to be 0xaa; got 0x%x", size, i, got)
				break
			}
		}
	}
}
