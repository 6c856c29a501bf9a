package codesign

import (
	resign "github.com/ipaforge/resign"
	"github.com/ipaforge/resign/types"
)

const alignment = 16

func alignUp(n, a int) int { return (n + a - 1) &^ (a - 1) }

func alignUp64(n, a uint64) uint64 { return (n + a - 1) &^ (a - 1) }

// SignatureOffset returns the file offset at which the signature
// super-blob sits (or will sit): the existing LC_CODE_SIGNATURE offset if
// the binary is already signed, otherwise the offset Grow would place it
// at. This is also the CodeDirectory's codeLimit, since bytes from here on
// are the signature itself and are never hashed.
func SignatureOffset(model *resign.MachOModel) (int, error) {
	if off, _, _, ok := model.ExistingSignatureRegion(); ok {
		return int(off), nil
	}
	linkedit, _, err := model.LinkeditSegment()
	if err != nil {
		return 0, err
	}
	return alignUp(int(linkedit.Offset)+int(linkedit.Filesz), alignment), nil
}

// Rewrite applies newSuperBlob to model's underlying buffer, choosing
// replace-in-place when the existing signature region is at least as large
// as the new one, and growing __LINKEDIT otherwise. It never mutates
// model's buffer; it returns a new byte slice.
func Rewrite(model *resign.MachOModel, newSuperBlob []byte) ([]byte, error) {
	if !model.LastSegmentIsLinkedit() {
		return nil, &resign.ErrLinkeditNotLast{}
	}

	if off, size, _, ok := model.ExistingSignatureRegion(); ok && size >= uint32(len(newSuperBlob)) {
		return replaceInPlace(model, off, size, newSuperBlob), nil
	}
	return grow(model, newSuperBlob)
}

// replaceInPlace writes newSuperBlob at the recorded offset and zero-pads
// the remainder of the original region. All offsets and the load-command
// table are left untouched.
func replaceInPlace(model *resign.MachOModel, off, size uint32, newSuperBlob []byte) []byte {
	buf := append([]byte(nil), model.View.Bytes()...)
	copy(buf[off:], newSuperBlob)
	for i := off + uint32(len(newSuperBlob)); i < off+size; i++ {
		buf[i] = 0
	}
	return buf
}

// grow extends the file so the new super-blob lies at the end of
// __LINKEDIT, updating (or inserting) LC_CODE_SIGNATURE and the
// __LINKEDIT segment's size fields. It never recomputes other segments'
// offsets, since __LINKEDIT is required to already be last.
func grow(model *resign.MachOModel, newSuperBlob []byte) ([]byte, error) {
	orig := model.View.Bytes()
	o := model.View.Order()
	linkedit, segCmdIdx, err := model.LinkeditSegment()
	if err != nil {
		return nil, err
	}

	// An existing, smaller signature is overwritten from its own offset, so
	// the new blob starts where the CodeDirectory's codeLimit says it does.
	sigOffset, err := SignatureOffset(model)
	if err != nil {
		return nil, err
	}
	newLen := sigOffset + len(newSuperBlob)

	buf := make([]byte, newLen)
	copy(buf, orig)
	// the gap between old end-of-linkedit and sigOffset is already zero in a
	// freshly allocated slice.
	copy(buf[sigOffset:], newSuperBlob)

	newLinkeditFilesz := uint64(sigOffset+len(newSuperBlob)) - linkedit.Offset
	newLinkeditVmsize := alignUp64(newLinkeditFilesz, 0x4000)

	segCmd := model.Cmds[segCmdIdx]
	if model.Header.Magic == types.Magic64 {
		o.PutUint64(buf[segCmd.Off+32:], newLinkeditVmsize)
		o.PutUint64(buf[segCmd.Off+48:], newLinkeditFilesz)
	} else {
		o.PutUint32(buf[segCmd.Off+28:], uint32(newLinkeditVmsize))
		o.PutUint32(buf[segCmd.Off+36:], uint32(newLinkeditFilesz))
	}

	if _, _, cmdIdx, ok := model.ExistingSignatureRegion(); ok {
		cmd := model.Cmds[cmdIdx]
		o.PutUint32(buf[cmd.Off+8:], uint32(sigOffset))
		o.PutUint32(buf[cmd.Off+12:], uint32(len(newSuperBlob)))
		return buf, nil
	}

	return appendCodeSignatureCommand(buf, model, sigOffset, len(newSuperBlob))
}

// appendCodeSignatureCommand inserts a new 16-byte LC_CODE_SIGNATURE command
// into the free space between the end of the command table and the first
// section's file offset, failing with ErrNoRoomForLoadCommand if it
// doesn't fit.
func appendCodeSignatureCommand(buf []byte, model *resign.MachOModel, sigOff, sigSize int) ([]byte, error) {
	const cmdSize = 16
	o := model.View.Order()

	hdrSize := types.FileHeaderSize32
	if model.Header.Magic == types.Magic64 {
		hdrSize = types.FileHeaderSize64
	}
	cmdTableEnd := hdrSize + int(model.Header.SizeCommands)

	firstSectionOff := firstSectionFileOffset(model)
	have := firstSectionOff - cmdTableEnd
	if have < cmdSize {
		return nil, &resign.ErrNoRoomForLoadCommand{Need: cmdSize, Have: have}
	}

	o.PutUint32(buf[cmdTableEnd:], uint32(types.LC_CODE_SIGNATURE))
	o.PutUint32(buf[cmdTableEnd+4:], cmdSize)
	o.PutUint32(buf[cmdTableEnd+8:], uint32(sigOff))
	o.PutUint32(buf[cmdTableEnd+12:], uint32(sigSize))

	o.PutUint32(buf[16:], model.Header.NCommands+1)
	o.PutUint32(buf[20:], model.Header.SizeCommands+cmdSize)

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
