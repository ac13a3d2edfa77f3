//go:build 386 || amd64

// Package kmain sequences the early boot of the kernel: memory, segmentation
// and interrupts, in that order.
package kmain

import (
	"kcore/device"
	"kcore/device/serial"
	"kcore/kernel/cpu"
	"kcore/kernel/hal/multiboot"
	"kcore/kernel/ioport"
	"kcore/kernel/kfmt"
)

// ConsoleBaudRate is the line speed of the serial console.
const ConsoleBaudRate = 38400

var (
	// The boot state lives in package variables: there is no heap while
	// the kernel boots.
	bootPorts   ioport.Allocator
	bootConsole serial.UART
	bootCore    Core

	// idleFn parks the CPU until the next interrupt once boot is done.
	idleFn = cpu.WaitForInterrupt
)

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up a
// minimal g0 struct that allows Go code to use the stack allocated by the
// assembly code.
//
// The rt0 code passes the value the bootloader left in EAX, the address of the
// multiboot info payload and the physical addresses for the kernel start/end.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(magic uint32, multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	attachConsole()

	if err := multiboot.CheckMagic(magic); err != nil {
		panicFn(err)
		return
	}
	multiboot.SetInfoPtr(multibootInfoPtr)

	memMap, err := multiboot.MemRegions()
	if err != nil {
		panicFn(err)
		return
	}

	bootCore = Core{cpu: cpu.Native{}, ports: &bootPorts}
	if err = bootCore.InitMemory(memMap, kernelStart, kernelEnd); err != nil {
		panicFn(err)
	} else if err = bootCore.InitGDT(); err != nil {
		panicFn(err)
	} else if err = bootCore.InitInterrupts(logScanCode); err != nil {
		panicFn(err)
	}

	kfmt.Printf("[kmain] boot complete\n")
	for {
		idleFn()
	}
}

// attachConsole routes kernel output to the first serial port if one is
// present. Output produced until then is kept in the early ring buffer.
func attachConsole() {
	if err := bootConsole.Attach(&bootPorts, serial.COM1, ConsoleBaudRate); err != nil {
		return
	}

	if err := device.Init(&bootConsole, kfmt.ActiveWriter()); err != nil {
		bootConsole.Detach()
		return
	}

	kfmt.SetOutputSink(&bootConsole)
}

func logScanCode(scanCode uint8) {
	kfmt.Printf("[kbd] scan code 0x%2x\n", scanCode)
}
