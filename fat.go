package macho

import (
	"encoding/binary"
	"fmt"

	"github.com/ipaforge/resign/types"
)

// FatArch describes one architecture slice inside a universal binary. Offset
// and Size are widened to uint64 so a fat_arch_64 entry (FAT_MAGIC_64) can be
// represented without truncation, even though the 32-bit fat_arch variant
// only ever populates the low 32 bits.
type FatArch struct {
	CPU    types.CPU
	SubCPU types.CPUSubtype
	Offset uint64
	Size   uint64
	Align  uint32
}

const (
	fatHeaderSize = 2 * 4
	fatArchSize   = 5 * 4 // fat_arch: cpu, subcpu, offset, size, align
	fatArch64Size = 8 * 4 // fat_arch_64: cpu, subcpu, offset, size, align, reserved
)

// ParseFatHeader reads the fat_header and architecture table from the start
// of buf, detecting both the 32-bit (FAT_MAGIC, fat_arch) and 64-bit
// (FAT_MAGIC_64, fat_arch_64) universal-binary variants. It always uses
// big-endian, regardless of any single-slice magic. Every entry's
// offset+size is checked against len(buf); an entry describing a slice that
// runs past the end of buf is rejected rather than handed to a caller that
// would slice out of range.
func ParseFatHeader(buf []byte) ([]FatArch, error) {
	if len(buf) < fatHeaderSize {
		return nil, &ErrTruncatedInput{Op: "fat header", Off: 0}
	}
	o := binary.BigEndian
	magic := types.Magic(o.Uint32(buf[0:]))

	var entrySize int
	switch magic {
	case types.MagicFat:
		entrySize = fatArchSize
	case types.MagicFat64:
		entrySize = fatArch64Size
	default:
		return nil, &ErrMalformedMachO{Reason: "not a fat binary"}
	}

	n := o.Uint32(buf[4:])
	need := fatHeaderSize + int(n)*entrySize
	if len(buf) < need {
		return nil, &ErrTruncatedInput{Op: "fat arch table", Off: fatHeaderSize}
	}

	archs := make([]FatArch, 0, n)
	for i := 0; i < int(n); i++ {
		off := fatHeaderSize + i*entrySize

		var a FatArch
		if magic == types.MagicFat64 {
			a = FatArch{
				CPU:    types.CPU(o.Uint32(buf[off:])),
				SubCPU: types.CPUSubtype(o.Uint32(buf[off+4:])),
				Offset: o.Uint64(buf[off+8:]),
				Size:   o.Uint64(buf[off+16:]),
				Align:  o.Uint32(buf[off+24:]),
			}
		} else {
			a = FatArch{
				CPU:    types.CPU(o.Uint32(buf[off:])),
				SubCPU: types.CPUSubtype(o.Uint32(buf[off+4:])),
				Offset: uint64(o.Uint32(buf[off+8:])),
				Size:   uint64(o.Uint32(buf[off+12:])),
				Align:  o.Uint32(buf[off+16:]),
			}
		}
		if a.Offset+a.Size > uint64(len(buf)) {
			return nil, &ErrMalformedMachO{Reason: fmt.Sprintf("fat arch %d: offset+size exceeds buffer", i)}
		}
		archs = append(archs, a)
	}
	return archs, nil
}

// FatSelector picks one architecture slice out of a universal binary's
// table. The engine always re-signs a single slice, never the whole fat
// container, so exactly one slice must be chosen deterministically: ARM64
// first, then x86-64, then the first slice present, so re-signing a fat IPA
// payload is reproducible across runs regardless of table order.
func FatSelector(archs []FatArch) (FatArch, error) {
	var x8664, first *FatArch
	for i := range archs {
		a := &archs[i]
		if a.CPU == types.CPUArm64 {
			return *a, nil
		}
		if a.CPU == types.CPUAmd64 && x8664 == nil {
			x8664 = a
		}
		if first == nil {
			first = a
		}
	}
	if x8664 != nil {
		return *x8664, nil
	}
	if first != nil {
		return *first, nil
	}
	return FatArch{}, &ErrNoSuitableArch{}
}
