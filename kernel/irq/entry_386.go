package irq

// numEntryPoints counts the dedicated entry stubs: one per CPU exception
// followed by one per PIC line.
const numEntryPoints = 48

// entryPoint returns the address of the entry stub at index. Index
// numEntryPoints selects the fallback stub.
func entryPoint(index uint32) uintptr

// Entry stubs implemented in entry_386.s. They are never called from Go;
// the CPU enters them through the IDT.
func commonEntry()
func entryFallback()

func entry0()
func entry1()
func entry2()
func entry3()
func entry4()
func entry5()
func entry6()
func entry7()
func entry8()
func entry9()
func entry10()
func entry11()
func entry12()
func entry13()
func entry14()
func entry15()
func entry16()
func entry17()
func entry18()
func entry19()
func entry20()
func entry21()
func entry22()
func entry23()
func entry24()
func entry25()
func entry26()
func entry27()
func entry28()
func entry29()
func entry30()
func entry31()
func entry32()
func entry33()
func entry34()
func entry35()
func entry36()
func entry37()
func entry38()
func entry39()
func entry40()
func entry41()
func entry42()
func entry43()
func entry44()
func entry45()
func entry46()
func entry47()

// EntryPoint returns the address of the entry code for stub index: the
// exception vector for indices below 32, or 32 plus the PIC line.
func EntryPoint(index int) uintptr {
	if index < 0 || index >= numEntryPoints {
		return FallbackEntryPoint()
	}
	return entryPoint(uint32(index))
}

// FallbackEntryPoint returns the address of the entry code used for vectors
// without a dedicated stub. Interrupts arriving there are fatal.
func FallbackEntryPoint() uintptr {
	return entryPoint(numEntryPoints)
}
