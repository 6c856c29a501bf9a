package codesign

import (
	cstypes "github.com/ipaforge/resign/pkg/codesign/types"
)

const hashSizeSHA256 = 32

// CodeDirectoryInput collects everything CodeDirectoryBuilder needs to
// assemble one version-0x20400 CodeDirectory blob.
type CodeDirectoryInput struct {
	Identifier   string
	CodeLimit    int
	CodeHashes   [][]byte       // K page hashes, in order, SHA-256
	SpecialSlots map[int][]byte // 1-based slot number -> SHA-256 hash (e.g. 5 = entitlements)
	Flags        cstypes.CDFlag
	Platform     uint8
	PageExponent uint8

	ExecSegBase  uint64
	ExecSegLimit uint64
	ExecSegFlags cstypes.ExecSegFlag
}

func align4(n int) int { return (n + 3) &^ 3 }

// BuildCodeDirectory serializes a version-0x20400 CodeDirectory per the
// fixed layout: header, identifier string, special-slot hashes (slot N at
// the lowest address, growing toward hashOffset), then the K code hashes.
// Identical inputs always produce identical output bytes.
func BuildCodeDirectory(in CodeDirectoryInput) []byte {
	headerSize := cstypes.CodeDirectorySize
	identOffset := headerSize
	ident := append([]byte(in.Identifier), 0)

	nSpecial := 0
	for slot := range in.SpecialSlots {
		if slot > nSpecial {
			nSpecial = slot
		}
	}

	hashOffset := align4(identOffset+len(ident)) + nSpecial*hashSizeSHA256
	nCode := len(in.CodeHashes)
	length := hashOffset + nCode*hashSizeSHA256

	buf := make([]byte, length)

	cd := cstypes.CodeDirectory{
		Magic:         cstypes.MagicCodeDirectory,
		Length:        uint32(length),
		Version:       cstypes.CodeDirectoryVersion,
		Flags:         in.Flags,
		HashOffset:    uint32(hashOffset),
		IdentOffset:   uint32(identOffset),
		NSpecialSlots: uint32(nSpecial),
		NCodeSlots:    uint32(nCode),
		CodeLimit:     uint32(in.CodeLimit),
		HashSize:      hashSizeSHA256,
		HashType:      cstypes.HashTypeSHA256,
		Platform:      in.Platform,
		PageSize:      in.PageExponent,
		ExecSegBase:   in.ExecSegBase,
		ExecSegLimit:  in.ExecSegLimit,
		ExecSegFlags:  in.ExecSegFlags,
	}
	cd.Put(buf[:headerSize])

	copy(buf[identOffset:], ident)

	for slot := 1; slot <= nSpecial; slot++ {
		// slot N at the lowest address, slot 1 immediately before hashOffset.
		slotOff := hashOffset - slot*hashSizeSHA256
		if h, ok := in.SpecialSlots[slot]; ok {
			copy(buf[slotOff:], h)
		}
	}

	for i, h := range in.CodeHashes {
		copy(buf[hashOffset+i*hashSizeSHA256:], h)
	}

	return buf
}
