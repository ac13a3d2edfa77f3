package multiboot

import (
	"encoding/binary"

	"kcore/kernel"
)

// InfoSize is the size in bytes of the multiboot information record.
const InfoSize = 116

// Flags reported in Info.Flags. A field of the information record is only
// valid when the matching flag is set.
const (
	FlagMemoryBounds uint32 = 1 << iota
	FlagBootDevice
	FlagCmdLine
	FlagModules
	FlagAoutSymbols
	FlagElfSections
	FlagMemoryMap
	FlagDrives
	FlagConfigTable
	FlagBootLoaderName
	FlagApmTable
	FlagVbe
	FlagFramebuffer
)

// Info is the decoded multiboot information record. Pointer fields hold
// physical addresses.
type Info struct {
	Flags uint32

	// Lower and upper memory size in KiB.
	MemLower uint32
	MemUpper uint32

	BootDevice uint32
	CmdLine    uint32

	ModsCount uint32
	ModsAddr  uint32

	Syms [4]uint32

	MmapLength uint32
	MmapAddr   uint32

	DrivesLength uint32
	DrivesAddr   uint32

	ConfigTable    uint32
	BootLoaderName uint32
	ApmTable       uint32

	VbeControlInfo  uint32
	VbeModeInfo     uint32
	VbeMode         uint16
	VbeInterfaceSeg uint16
	VbeInterfaceOff uint16
	VbeInterfaceLen uint16

	FramebufferAddr   uint64
	FramebufferPitch  uint32
	FramebufferWidth  uint32
	FramebufferHeight uint32
	FramebufferBpp    uint8
	FramebufferType   uint8
	ColorInfo         [6]uint8
}

// DecodeInfo unpacks a multiboot information record from its little-endian
// in-memory layout.
func DecodeInfo(data []byte) (Info, *kernel.Error) {
	if len(data) < InfoSize {
		return Info{}, ErrShortInfo
	}

	le := binary.LittleEndian
	info := Info{
		Flags:             le.Uint32(data[0:]),
		MemLower:          le.Uint32(data[4:]),
		MemUpper:          le.Uint32(data[8:]),
		BootDevice:        le.Uint32(data[12:]),
		CmdLine:           le.Uint32(data[16:]),
		ModsCount:         le.Uint32(data[20:]),
		ModsAddr:          le.Uint32(data[24:]),
		MmapLength:        le.Uint32(data[44:]),
		MmapAddr:          le.Uint32(data[48:]),
		DrivesLength:      le.Uint32(data[52:]),
		DrivesAddr:        le.Uint32(data[56:]),
		ConfigTable:       le.Uint32(data[60:]),
		BootLoaderName:    le.Uint32(data[64:]),
		ApmTable:          le.Uint32(data[68:]),
		VbeControlInfo:    le.Uint32(data[72:]),
		VbeModeInfo:       le.Uint32(data[76:]),
		VbeMode:           le.Uint16(data[80:]),
		VbeInterfaceSeg:   le.Uint16(data[82:]),
		VbeInterfaceOff:   le.Uint16(data[84:]),
		VbeInterfaceLen:   le.Uint16(data[86:]),
		FramebufferAddr:   le.Uint64(data[88:]),
		FramebufferPitch:  le.Uint32(data[96:]),
		FramebufferWidth:  le.Uint32(data[100:]),
		FramebufferHeight: le.Uint32(data[104:]),
		FramebufferBpp:    data[108],
		FramebufferType:   data[109],
	}

	for i := range info.Syms {
		info.Syms[i] = le.Uint32(data[28+4*i:])
	}
	copy(info.ColorInfo[:], data[110:116])

	return info, nil
}

// Encode packs the record into its in-memory layout. It is the inverse of
// DecodeInfo and is used to synthesize boot records outside the kernel.
func (info *Info) Encode() []byte {
	data := make([]byte, InfoSize)
	le := binary.LittleEndian

	le.PutUint32(data[0:], info.Flags)
	le.PutUint32(data[4:], info.MemLower)
	le.PutUint32(data[8:], info.MemUpper)
	le.PutUint32(data[12:], info.BootDevice)
	le.PutUint32(data[16:], info.CmdLine)
	le.PutUint32(data[20:], info.ModsCount)
	le.PutUint32(data[24:], info.ModsAddr)
	for i, sym := range info.Syms {
		le.PutUint32(data[28+4*i:], sym)
	}
	le.PutUint32(data[44:], info.MmapLength)
	le.PutUint32(data[48:], info.MmapAddr)
	le.PutUint32(data[52:], info.DrivesLength)
	le.PutUint32(data[56:], info.DrivesAddr)
	le.PutUint32(data[60:], info.ConfigTable)
	le.PutUint32(data[64:], info.BootLoaderName)
	le.PutUint32(data[68:], info.ApmTable)
	le.PutUint32(data[72:], info.VbeControlInfo)
	le.PutUint32(data[76:], info.VbeModeInfo)
	le.PutUint16(data[80:], info.VbeMode)
	le.PutUint16(data[82:], info.VbeInterfaceSeg)
	le.PutUint16(data[84:], info.VbeInterfaceOff)
	le.PutUint16(data[86:], info.VbeInterfaceLen)
	le.PutUint64(data[88:], info.FramebufferAddr)
	le.PutUint32(data[96:], info.FramebufferPitch)
	le.PutUint32(data[100:], info.FramebufferWidth)
	le.PutUint32(data[104:], info.FramebufferHeight)
	data[108] = info.FramebufferBpp
	data[109] = info.FramebufferType
	copy(data[110:], info.ColorInfo[:])

	return data
}

// EncodeMemoryMap packs entries into the bootloader's memory map layout
// using the standard entry size.
func EncodeMemoryMap(entries []MemoryMapEntry) []byte {
	data := make([]byte, len(entries)*EntrySize)
	le := binary.LittleEndian
	for i, entry := range entries {
		buf := data[i*EntrySize:]
		le.PutUint32(buf[0:], entrySizeField)
		le.PutUint64(buf[4:], entry.PhysAddress)
		le.PutUint64(buf[12:], entry.Length)
		le.PutUint32(buf[20:], uint32(entry.Type))
	}
	return data
}
