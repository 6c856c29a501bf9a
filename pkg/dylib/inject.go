// Package dylib inserts LC_LOAD_DYLIB/LC_LOAD_WEAK_DYLIB load commands into
// an already-parsed Mach-O binary.
package dylib

import (
	resign "github.com/ipaforge/resign"
	"github.com/ipaforge/resign/types"
)

// Inject composes a new dylib load command and writes it into the free
// space between the end of model's load-command table and the first
// section's file offset. It never shifts existing section data; when the
// free space is too small it fails with ErrNoRoomForLoadCommand rather than
// relocating anything.
func Inject(model *resign.MachOModel, path string, weak bool) ([]byte, error) {
	pathBytes := append([]byte(path), 0)
	paddedPathSize := (len(pathBytes) + 7) &^ 7
	cmdSize := 24 + paddedPathSize

	cmd := types.LC_LOAD_DYLIB
	if weak {
		cmd = types.LC_LOAD_WEAK_DYLIB
	}

	cmdData := make([]byte, cmdSize)
	o := model.View.Order()
	o.PutUint32(cmdData[0:], uint32(cmd))
	o.PutUint32(cmdData[4:], uint32(cmdSize))
	o.PutUint32(cmdData[8:], 24) // path-name offset
	o.PutUint32(cmdData[12:], 2) // timestamp
	o.PutUint32(cmdData[16:], 0x10000)
	o.PutUint32(cmdData[20:], 0x10000)
	copy(cmdData[24:], pathBytes)

	hdrSize := types.FileHeaderSize32
	if model.Header.Magic == types.Magic64 {
		hdrSize = types.FileHeaderSize64
	}
	insertPoint := hdrSize + int(model.Header.SizeCommands)

	firstSectionOff := firstSectionFileOffset(model)
	have := firstSectionOff - insertPoint
	if have < cmdSize {
		return nil, &resign.ErrNoRoomForLoadCommand{Need: cmdSize, Have: have}
	}

	buf := append([]byte(nil), model.View.Bytes()...)
	copy(buf[insertPoint:], cmdData)

	o.PutUint32(buf[16:], model.Header.NCommands+1)
	o.PutUint32(buf[20:], model.Header.SizeCommands+uint32(cmdSize))

	return buf, nil
}

func firstSectionFileOffset(model *resign.MachOModel) int {
	best := -1
	for _, c := range model.Cmds {
		if c.Segment == nil {
			continue
		}
		for _, s := range c.Segment.Sections {
			if s.Offset == 0 {
				continue
			}
			if best == -1 || int(s.Offset) < best {
				best = int(s.Offset)
			}
		}
	}
	if best == -1 {
		return model.View.Len()
	}
	return best
}
