package types

import "encoding/binary"

// CodeDirectoryVersion is the only CodeDirectory layout this engine emits:
// version 0x20400, which carries the ExecSeg fields required to mark the
// main executable segment. No other version's field layout is implemented,
// and existing CodeDirectories are never parsed.
const CodeDirectoryVersion = 0x20400

// HashType identifies the digest algorithm used for code and special slots.
type HashType uint8

const (
	HashTypeSHA1   HashType = 1
	HashTypeSHA256 HashType = 2
)

// CDFlag holds the CodeDirectory's setup/mode flags. Adhoc signing sets
// Adhoc and GetTaskAllow by default; the other bits are named for
// completeness when inspecting an existing signature.
type CDFlag uint32

const (
	CDFlagNone         CDFlag = 0x0
	CDFlagAdhoc        CDFlag = 0x2
	CDFlagGetTaskAllow CDFlag = 0x4 // CS_GET_TASK_ALLOW: debuggable
	CDFlagRuntime      CDFlag = 0x10000
)

// ExecSegFlag marks properties of the executable segment described by
// ExecSegBase/ExecSegLimit.
type ExecSegFlag uint64

const (
	ExecSegMainBinary ExecSegFlag = 0x1
)

// CodeDirectory is the fixed-layout, version-0x20400 CodeDirectory header.
// Fields are populated in file (big-endian) order; Put serializes exactly
// this layout with no version-conditional branches, since 0x20400 is the
// only version this engine ever produces.
type CodeDirectory struct {
	Magic         Magic // MagicCodeDirectory
	Length        uint32
	Version       uint32 // always CodeDirectoryVersion
	Flags         CDFlag
	HashOffset    uint32 // offset of code-slot hash 0, relative to this struct's start
	IdentOffset   uint32 // offset of the NUL-terminated identifier string
	NSpecialSlots uint32
	NCodeSlots    uint32
	CodeLimit     uint32 // bytes of the binary that are hashed (page-hashed range)
	HashSize      uint8
	HashType      HashType
	Platform      uint8
	PageSize      uint8 // log2(page size); always 12 (4096-byte pages)
	Spare2        uint32

	ScatterOffset uint32 // unused; always 0
	TeamOffset    uint32 // unused; always 0

	Spare3      uint32
	CodeLimit64 uint64 // unused when CodeLimit fits in uint32; 0 otherwise

	ExecSegBase  uint64
	ExecSegLimit uint64
	ExecSegFlags ExecSegFlag
}

// Size is the fixed, version-0x20400 on-disk size of the CodeDirectory
// header, before the identifier string and hash slots that follow it.
const CodeDirectorySize = 13*4 + 4 + 4*8

// Put serializes the header at the fixed version-0x20400 layout. b must be
// at least CodeDirectorySize bytes.
func (c *CodeDirectory) Put(b []byte) {
	o := binary.BigEndian
	o.PutUint32(b[0:], uint32(c.Magic))
	o.PutUint32(b[4:], c.Length)
	o.PutUint32(b[8:], CodeDirectoryVersion)
	o.PutUint32(b[12:], uint32(c.Flags))
	o.PutUint32(b[16:], c.HashOffset)
	o.PutUint32(b[20:], c.IdentOffset)
	o.PutUint32(b[24:], c.NSpecialSlots)
	o.PutUint32(b[28:], c.NCodeSlots)
	o.PutUint32(b[32:], c.CodeLimit)
	b[36] = c.HashSize
	b[37] = byte(c.HashType)
	b[38] = c.Platform
	b[39] = c.PageSize
	o.PutUint32(b[40:], c.Spare2)
	o.PutUint32(b[44:], c.ScatterOffset)
	o.PutUint32(b[48:], c.TeamOffset)
	o.PutUint32(b[52:], c.Spare3)
	o.PutUint64(b[56:], c.CodeLimit64)
	o.PutUint64(b[64:], c.ExecSegBase)
	o.PutUint64(b[72:], c.ExecSegLimit)
	o.PutUint64(b[80:], uint64(c.ExecSegFlags))
}
