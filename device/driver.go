// Package device defines the interface shared by the hardware drivers that
// the kernel brings up while it boots.
package device

import (
	"io"

	"kcore/kernel"
	"kcore/kernel/kfmt"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. If the driver init code
	// needs to log some output, it can use the supplied io.Writer in
	// conjunction with a call to kfmt.Fprintf.
	DriverInit(io.Writer) *kernel.Error
}

// Init initializes drv and reports the outcome to w.
func Init(drv Driver, w io.Writer) *kernel.Error {
	name := drv.DriverName()
	major, minor, patch := drv.DriverVersion()

	if err := drv.DriverInit(w); err != nil {
		kfmt.Fprintf(w, "[device] %s(%d.%d.%d): init failed: %s\n", name, major, minor, patch, err.Message)
		return err
	}

	kfmt.Fprintf(w, "[device] %s(%d.%d.%d): ready\n", name, major, minor, patch)
	return nil
}
