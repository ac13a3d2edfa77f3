package device

import (
	"bytes"
	"io"
	"testing"

	"kcore/kernel"
	"kcore/kernel/kfmt"
)

type mockDriver struct {
	initErr *kernel.Error
}

func (mockDriver) DriverName() string                     { return "mock" }
func (mockDriver) DriverVersion() (uint16, uint16, uint16) { return 1, 2, 3 }

func (d mockDriver) DriverInit(w io.Writer) *kernel.Error {
	kfmt.Fprintf(w, "probing\n")
	return d.initErr
}

func TestInit(t *testing.T) {
	errProbe := &kernel.Error{Module: "mock", Message: "device not found"}

	specs := []struct {
		drv    mockDriver
		expErr *kernel.Error
		expLog string
	}{
		{mockDriver{}, nil, "probing\n[device] mock(1.2.3): ready\n"},
		{mockDriver{errProbe}, errProbe, "probing\n[device] mock(1.2.3): init failed: device not found\n"},
	}

	for specIndex, spec := range specs {
		var buf bytes.Buffer
		if err := Init(spec.drv, &buf); err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}

		if got := buf.String(); got != spec.expLog {
			t.Errorf("[spec %d] expected log %q; got %q", specIndex, spec.expLog, got)
		}
	}
}
