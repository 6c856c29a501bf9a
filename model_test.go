package macho

import (
	"encoding/binary"
	"testing"

	"github.com/ipaforge/resign/types"
)

// buildMinimal64 assembles a synthetic 64-bit Mach-O: one __LINKEDIT
// segment (no sections) and, if withSig is true, a trailing
// LC_CODE_SIGNATURE command pointing at sigOff/sigSize.
func buildMinimal64(linkeditOff, linkeditSize uint64, withSig bool, sigOff, sigSize uint32) []byte {
	o := binary.LittleEndian

	segCmd := make([]byte, types.Segment64Size)
	o.PutUint32(segCmd[0:], uint32(types.LC_SEGMENT_64))
	o.PutUint32(segCmd[4:], uint32(types.Segment64Size))
	copy(segCmd[8:24], "__LINKEDIT")
	o.PutUint64(segCmd[24:], 0) // addr
	o.PutUint64(segCmd[32:], linkeditSize)
	o.PutUint64(segCmd[40:], linkeditOff)
	o.PutUint64(segCmd[48:], linkeditSize)
	// maxprot/prot/nsect/flag left zero

	var sigCmd []byte
	ncmds := uint32(1)
	sizecmds := uint32(len(segCmd))
	if withSig {
		sigCmd = make([]byte, types.LinkEditDataCmdSize)
		o.PutUint32(sigCmd[0:], uint32(types.LC_CODE_SIGNATURE))
		o.PutUint32(sigCmd[4:], uint32(types.LinkEditDataCmdSize))
		o.PutUint32(sigCmd[8:], sigOff)
		o.PutUint32(sigCmd[12:], sigSize)
		ncmds++
		sizecmds += uint32(len(sigCmd))
	}

	buf := make([]byte, types.FileHeaderSize64+int(sizecmds)+int(linkeditSize))
	o.PutUint32(buf[0:], uint32(types.Magic64))
	o.PutUint32(buf[4:], uint32(types.CPUArm64))
	o.PutUint32(buf[8:], uint32(types.CPUSubtypeArm64All))
	o.PutUint32(buf[12:], uint32(types.MH_EXECUTE))
	o.PutUint32(buf[16:], ncmds)
	o.PutUint32(buf[20:], sizecmds)
	o.PutUint32(buf[24:], 0)
	o.PutUint32(buf[28:], 0)

	off := types.FileHeaderSize64
	copy(buf[off:], segCmd)
	off += len(segCmd)
	if withSig {
		copy(buf[off:], sigCmd)
	}

	return buf
}

func TestParseFindsLinkeditAndSignature(t *testing.T) {
	buf := buildMinimal64(0x100, 0x200, true, 0x180, 0x80)

	m, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	seg, _, err := m.LinkeditSegment()
	if err != nil {
		t.Fatalf("LinkeditSegment: %v", err)
	}
	if seg.Offset != 0x100 || seg.Filesz != 0x200 {
		t.Errorf("linkedit = %+v", seg)
	}

	off, size, _, ok := m.ExistingSignatureRegion()
	if !ok {
		t.Fatal("expected an existing signature region")
	}
	if off != 0x180 || size != 0x80 {
		t.Errorf("signature region = (%d, %d), want (0x180, 0x80)", off, size)
	}

	if !m.LastSegmentIsLinkedit() {
		t.Error("expected __LINKEDIT to be recognized as the last segment")
	}
}

func TestParseUnsignedBinaryHasNoSignatureRegion(t *testing.T) {
	buf := buildMinimal64(0x100, 0x200, false, 0, 0)

	m, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, _, _, ok := m.ExistingSignatureRegion(); ok {
		t.Error("expected no signature region on an unsigned binary")
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	buf := make([]byte, 32)
	if _, err := Parse(buf); err == nil {
		t.Fatal("expected malformed-macho error for zeroed buffer")
	}
}

func TestParseRejectsMissingLinkedit(t *testing.T) {
	o := binary.LittleEndian
	buf := make([]byte, types.FileHeaderSize64)
	o.PutUint32(buf[0:], uint32(types.Magic64))
	o.PutUint32(buf[16:], 0) // ncmds = 0
	o.PutUint32(buf[20:], 0) // sizeofcmds = 0

	m, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, _, err := m.LinkeditSegment(); err == nil {
		t.Fatal("expected malformed-macho error for a binary with no __LINKEDIT")
	}
}
