package dylib

import (
	"encoding/binary"
	"testing"

	resign "github.com/ipaforge/resign"
	"github.com/ipaforge/resign/types"
)

// buildWithFreeSpace assembles a synthetic 64-bit Mach-O with a single
// __TEXT segment holding one section, leaving freeBytes of padding between
// the end of the load-command table and that section's file offset.
func buildWithFreeSpace(freeBytes int) []byte {
	o := binary.LittleEndian

	segCmd := make([]byte, types.Segment64Size+types.Section64Size)
	o.PutUint32(segCmd[0:], uint32(types.LC_SEGMENT_64))
	o.PutUint32(segCmd[4:], uint32(len(segCmd)))
	copy(segCmd[8:24], "__TEXT")
	o.PutUint32(segCmd[64:], 1) // nsect

	sectOff := types.Segment64Size
	copy(segCmd[sectOff:sectOff+16], "__text")
	copy(segCmd[sectOff+16:sectOff+32], "__TEXT")

	hdrSize := types.FileHeaderSize64
	sectionFileOffset := hdrSize + len(segCmd) + freeBytes
	o.PutUint64(segCmd[40:], 0)                            // segment fileoff
	o.PutUint64(segCmd[48:], uint64(sectionFileOffset+16)) // segment filesz, covers the section
	o.PutUint64(segCmd[sectOff+32:], 0x1000)               // section addr
	o.PutUint64(segCmd[sectOff+40:], 16)                   // section size
	o.PutUint32(segCmd[sectOff+48:], uint32(sectionFileOffset))

	buf := make([]byte, sectionFileOffset+16)
	o.PutUint32(buf[0:], uint32(types.Magic64))
	o.PutUint32(buf[4:], uint32(types.CPUArm64))
	o.PutUint32(buf[8:], uint32(types.CPUSubtypeArm64All))
	o.PutUint32(buf[12:], uint32(types.MH_EXECUTE))
	o.PutUint32(buf[16:], 1) // ncmds
	o.PutUint32(buf[20:], uint32(len(segCmd)))

	copy(buf[hdrSize:], segCmd)
	return buf
}

func TestInjectWritesLoadCommandInFreeSpace(t *testing.T) {
	buf := buildWithFreeSpace(64)
	model, err := resign.Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	out, err := Inject(model, "@rpath/Thing.framework/Thing", false)
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}

	m2, err := resign.Parse(out)
	if err != nil {
		t.Fatalf("re-parse injected binary: %v", err)
	}
	if m2.Header.NCommands != model.Header.NCommands+1 {
		t.Errorf("ncmds = %d, want %d", m2.Header.NCommands, model.Header.NCommands+1)
	}

	insertPoint := types.FileHeaderSize64 + int(model.Header.SizeCommands)
	gotCmd := binary.LittleEndian.Uint32(out[insertPoint:])
	if types.LoadCmd(gotCmd) != types.LC_LOAD_DYLIB {
		t.Errorf("inserted command = %#x, want LC_LOAD_DYLIB", gotCmd)
	}
}

func TestInjectFailsWithoutFreeSpace(t *testing.T) {
	buf := buildWithFreeSpace(0)
	model, err := resign.Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if _, err := Inject(model, "@rpath/Thing.framework/Thing", false); err == nil {
		t.Fatal("expected ErrNoRoomForLoadCommand when there is no free space before the first section")
	}
}
