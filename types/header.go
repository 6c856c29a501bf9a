package types

import (
	"encoding/binary"
	"fmt"
)

// A FileHeader represents a Mach-O file header.
type FileHeader struct {
	Magic        Magic
	CPU          CPU
	SubCPU       CPUSubtype
	Type         HeaderFileType
	NCommands    uint32
	SizeCommands uint32
	Flags        HeaderFlag
	Reserved     uint32
}

func (h *FileHeader) Put(b []byte, o binary.ByteOrder) int {
	o.PutUint32(b[0:], uint32(h.Magic))
	o.PutUint32(b[4:], uint32(h.CPU))
	o.PutUint32(b[8:], uint32(h.SubCPU))
	o.PutUint32(b[12:], uint32(h.Type))
	o.PutUint32(b[16:], h.NCommands)
	o.PutUint32(b[20:], h.SizeCommands)
	o.PutUint32(b[24:], uint32(h.Flags))
	if h.Magic == Magic32 {
		return FileHeaderSize32
	}
	o.PutUint32(b[28:], h.Reserved)
	return FileHeaderSize64
}

const (
	FileHeaderSize32 = 7 * 4
	FileHeaderSize64 = 8 * 4
)

type Magic uint32

const (
	Magic32    Magic = 0xfeedface
	Magic64    Magic = 0xfeedfacf
	MagicFat   Magic = 0xcafebabe
	MagicFat64 Magic = 0xcafebabf
)

var magicStrings = []IntName{
	{uint32(Magic32), "32-bit MachO"},
	{uint32(Magic64), "64-bit MachO"},
	{uint32(MagicFat), "Fat MachO"},
	{uint32(MagicFat64), "Fat MachO (64-bit)"},
}

func (i Magic) Int() uint32    { return uint32(i) }
func (i Magic) String() string { return StringName(uint32(i), magicStrings, false) }

// HeaderFileType is the Mach-O file type, e.g. an object file, executable, or
// dynamic library.
type HeaderFileType uint32

const (
	MH_OBJECT  HeaderFileType = 0x1 // relocatable object file
	MH_EXECUTE HeaderFileType = 0x2 // demand paged executable file
	MH_DYLIB   HeaderFileType = 0x6 // dynamically bound shared library
	MH_BUNDLE  HeaderFileType = 0x8 // dynamically bound bundle file
)

func (t HeaderFileType) String() string {
	switch t {
	case MH_OBJECT:
		return "Object"
	case MH_EXECUTE:
		return "Executable"
	case MH_DYLIB:
		return "Dylib"
	case MH_BUNDLE:
		return "Bundle"
	default:
		return fmt.Sprintf("HeaderFileType(%#x)", uint32(t))
	}
}

// HeaderFlag is the Mach-O header's flag bitmask. Only the bits the signing
// engine inspects are named; unrecognized bits still round-trip through Put.
type HeaderFlag uint32

const (
	FlagNone             HeaderFlag = 0x0
	FlagNoUndefs         HeaderFlag = 0x1
	FlagDyldLink         HeaderFlag = 0x4
	FlagTwoLevel         HeaderFlag = 0x80
	FlagWeakDefines      HeaderFlag = 0x8000
	FlagBindsToWeak      HeaderFlag = 0x10000
	FlagPIE              HeaderFlag = 0x200000
	FlagAppExtensionSafe HeaderFlag = 0x2000000
)

func (f HeaderFlag) PIE() bool              { return f&FlagPIE != 0 }
func (f HeaderFlag) TwoLevel() bool         { return f&FlagTwoLevel != 0 }
func (f HeaderFlag) AppExtensionSafe() bool { return f&FlagAppExtensionSafe != 0 }

func (h FileHeader) String() string {
	return fmt.Sprintf("Magic=%s CPU=%s Type=%s NCommands=%d SizeCommands=%d",
		h.Magic, h.CPU, h.Type, h.NCommands, h.SizeCommands)
}
