//go:build !386

package irq

// Hosted builds have no interrupt entry code. The addresses below only give
// each gate a distinct, nonzero handler so that tables can be built and
// inspected.
const (
	numEntryPoints = 48

	syntheticEntryBase   = 0x00100000
	syntheticEntryStride = 0x10
)

// EntryPoint returns a synthetic entry address for stub index.
func EntryPoint(index int) uintptr {
	if index < 0 || index >= numEntryPoints {
		return FallbackEntryPoint()
	}
	return syntheticEntryBase + uintptr(index)*syntheticEntryStride
}

// FallbackEntryPoint returns the synthetic address of the fallback entry.
func FallbackEntryPoint() uintptr {
	return syntheticEntryBase + numEntryPoints*syntheticEntryStride
}
