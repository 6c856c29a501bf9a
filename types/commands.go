package types

import (
	"encoding/binary"
	"fmt"
)

// A LoadCmd is a Mach-O load command.
type LoadCmd uint32

func (c LoadCmd) Command() LoadCmd { return c }

const (
	LC_REQ_DYLD LoadCmd = 0x80000000

	LC_SEGMENT        LoadCmd = 0x1
	LC_SYMTAB         LoadCmd = 0x2
	LC_DYSYMTAB       LoadCmd = 0xb
	LC_LOAD_DYLIB     LoadCmd = 0xc // load dylib command
	LC_ID_DYLIB       LoadCmd = 0xd
	LC_LOAD_DYLINKER  LoadCmd = 0xe
	LC_SEGMENT_64     LoadCmd = 0x19 // 64-bit segment of this file to be mapped
	LC_UUID           LoadCmd = 0x1b
	LC_CODE_SIGNATURE LoadCmd = 0x1d // location of code signature

	// LC_LOAD_WEAK_DYLIB loads a dylib that is allowed to be missing (all
	// symbols weak imported).
	LC_LOAD_WEAK_DYLIB LoadCmd = 0x18 | LC_REQ_DYLD
	LC_REEXPORT_DYLIB  LoadCmd = 0x1f | LC_REQ_DYLD
	LC_MAIN            LoadCmd = 0x28 | LC_REQ_DYLD
	LC_SOURCE_VERSION  LoadCmd = 0x2A
	LC_DATA_IN_CODE    LoadCmd = 0x29
	LC_BUILD_VERSION   LoadCmd = 0x32
)

func (c LoadCmd) String() string {
	switch c &^ LC_REQ_DYLD {
	case LC_SEGMENT:
		return "LC_SEGMENT"
	case LC_SYMTAB:
		return "LC_SYMTAB"
	case LC_DYSYMTAB:
		return "LC_DYSYMTAB"
	case LC_LOAD_DYLIB:
		return "LC_LOAD_DYLIB"
	case LC_ID_DYLIB:
		return "LC_ID_DYLIB"
	case LC_LOAD_DYLINKER:
		return "LC_LOAD_DYLINKER"
	case LC_SEGMENT_64:
		return "LC_SEGMENT_64"
	case LC_UUID:
		return "LC_UUID"
	case LC_CODE_SIGNATURE:
		return "LC_CODE_SIGNATURE"
	default:
		return fmt.Sprintf("LoadCmd(%#x)", uint32(c))
	}
}

// SegFlag holds the flags field of a segment load command.
type SegFlag uint32

const (
	SegFlagHighVM SegFlag = 0x1
	SegFlagNoReLoc SegFlag = 0x4
)

// A Segment32 is a 32-bit Mach-O segment load command.
type Segment32 struct {
	LoadCmd         // LC_SEGMENT
	Len     uint32  // includes sizeof section structs
	Name    [16]byte
	Addr    uint32
	Memsz   uint32
	Offset  uint32
	Filesz  uint32
	Maxprot VmProtection
	Prot    VmProtection
	Nsect   uint32
	Flag    SegFlag
}

// A Segment64 is a 64-bit Mach-O segment load command.
type Segment64 struct {
	LoadCmd         // LC_SEGMENT_64
	Len     uint32  // includes sizeof section_64 structs
	Name    [16]byte
	Addr    uint64
	Memsz   uint64
	Offset  uint64
	Filesz  uint64
	Maxprot VmProtection
	Prot    VmProtection
	Nsect   uint32
	Flag    SegFlag
}

// SegName returns the NUL-trimmed segment name, e.g. "__LINKEDIT".
func segName(b [16]byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}

func (s Segment32) SegName() string { return segName(s.Name) }
func (s Segment64) SegName() string { return segName(s.Name) }

// A Section32 is a 32-bit Mach-O section header, following a Segment32.
type Section32 struct {
	Name      [16]byte
	Seg       [16]byte
	Addr      uint32
	Size      uint32
	Offset    uint32
	Align     uint32
	Reloff    uint32
	Nreloc    uint32
	Flags     uint32
	Reserved1 uint32
	Reserved2 uint32
}

// A Section64 is a 64-bit Mach-O section header, following a Segment64.
type Section64 struct {
	Name      [16]byte
	Seg       [16]byte
	Addr      uint64
	Size      uint64
	Offset    uint32
	Align     uint32
	Reloff    uint32
	Nreloc    uint32
	Flags     uint32
	Reserved1 uint32
	Reserved2 uint32
	Reserved3 uint32
}

func (s Section32) SectName() string { return segName(s.Name) }
func (s Section64) SectName() string { return segName(s.Name) }

const (
	Section32Size = 17 * 4
	Section64Size = 20 * 4
)

const (
	Segment32Size = 14 * 4
	Segment64Size = 18 * 4
)

// A DylibCmd is a Mach-O load dynamic library command, used for
// LC_LOAD_DYLIB, LC_ID_DYLIB, LC_LOAD_WEAK_DYLIB and LC_REEXPORT_DYLIB.
type DylibCmd struct {
	LoadCmd
	Len            uint32
	Name           uint32 // offset from the start of this command to the path string
	Time           uint32
	CurrentVersion uint32
	CompatVersion  uint32
}

const DylibCmdSize = 6 * 4

// Put serializes a DylibCmd header (the variable-length path string follows
// immediately, NUL-padded to a multiple of 8 bytes).
func (d DylibCmd) Put(b []byte, o binary.ByteOrder) {
	o.PutUint32(b[0:], uint32(d.LoadCmd))
	o.PutUint32(b[4:], d.Len)
	o.PutUint32(b[8:], d.Name)
	o.PutUint32(b[12:], d.Time)
	o.PutUint32(b[16:], d.CurrentVersion)
	o.PutUint32(b[20:], d.CompatVersion)
}

// A LinkEditDataCmd is a Mach-O linkedit data command: LC_CODE_SIGNATURE,
// LC_DATA_IN_CODE and similar commands all share this layout.
type LinkEditDataCmd struct {
	LoadCmd
	Len    uint32
	Offset uint32
	Size   uint32
}

const LinkEditDataCmdSize = 4 * 4

func (c LinkEditDataCmd) Put(b []byte, o binary.ByteOrder) {
	o.PutUint32(b[0:], uint32(c.LoadCmd))
	o.PutUint32(b[4:], c.Len)
	o.PutUint32(b[8:], c.Offset)
	o.PutUint32(b[12:], c.Size)
}

// A CodeSignatureCmd is LC_CODE_SIGNATURE: it points at the SuperBlob region
// living inside __LINKEDIT.
type CodeSignatureCmd LinkEditDataCmd
