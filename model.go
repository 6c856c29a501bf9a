package macho

import (
	"strings"

	"github.com/ipaforge/resign/types"
)

// LoadCommand is one opaque load command as it appears in the file: its
// parsed kind/size (for commands MachOModel understands) plus the raw bytes
// so unknown commands survive a rewrite unmodified.
type LoadCommand struct {
	Cmd     types.LoadCmd
	Off     int // file offset of the command, relative to the slice start
	Size    uint32
	Raw     []byte
	Segment *SegmentInfo // non-nil for LC_SEGMENT/LC_SEGMENT_64
	SigIdx  bool         // true if this is the LC_CODE_SIGNATURE command
}

// SegmentInfo is a parsed LC_SEGMENT/LC_SEGMENT_64 with its sections.
type SegmentInfo struct {
	Name     string
	Addr     uint64
	Memsz    uint64
	Offset   uint64
	Filesz   uint64
	Sections []SectionInfo
}

// SectionInfo is a parsed section within a segment.
type SectionInfo struct {
	Name   string
	Addr   uint64
	Size   uint64
	Offset uint32
}

// MachOModel is the parsed view of a single-architecture Mach-O slice:
// header, load commands, segments, sections, and the index of any existing
// code-signature command. It is immutable once parsed; the two
// transformations the engine supports (replace-signature, inject-dylib)
// each produce a new byte buffer rather than mutating this one.
type MachOModel struct {
	View   *BinaryView
	Header types.FileHeader
	Cmds   []LoadCommand

	codeSigCmdIdx int // index into Cmds, or -1
}

func fileHeaderSize(magic types.Magic) int {
	if magic == types.Magic32 {
		return types.FileHeaderSize32
	}
	return types.FileHeaderSize64
}

// Parse validates the Mach-O header and walks exactly NCommands load
// commands, stopping at the declared SizeCommands. It records segments and
// sections, and the index of at most one LC_CODE_SIGNATURE command.
func Parse(slice []byte) (*MachOModel, error) {
	v, err := NewBinaryView(slice)
	if err != nil {
		return nil, err
	}

	magicRaw, err := v.U32(0)
	if err != nil {
		return nil, err
	}
	magic := types.Magic(magicRaw)
	if magic != types.Magic32 && magic != types.Magic64 {
		return nil, &ErrMalformedMachO{Reason: "bad magic"}
	}

	cpu, err := v.U32(4)
	if err != nil {
		return nil, err
	}
	subcpu, err := v.U32(8)
	if err != nil {
		return nil, err
	}
	filetype, err := v.U32(12)
	if err != nil {
		return nil, err
	}
	ncmds, err := v.U32(16)
	if err != nil {
		return nil, err
	}
	sizecmds, err := v.U32(20)
	if err != nil {
		return nil, err
	}
	flags, err := v.U32(24)
	if err != nil {
		return nil, err
	}

	header := types.FileHeader{
		Magic:        magic,
		CPU:          types.CPU(cpu),
		SubCPU:       types.CPUSubtype(subcpu),
		Type:         types.HeaderFileType(filetype),
		NCommands:    ncmds,
		SizeCommands: sizecmds,
		Flags:        types.HeaderFlag(flags),
	}

	hdrSize := fileHeaderSize(magic)
	m := &MachOModel{View: v, Header: header, codeSigCmdIdx: -1}

	off := hdrSize
	end := hdrSize + int(sizecmds)
	if end > v.Len() {
		return nil, &ErrTruncatedInput{Op: "load commands", Off: end}
	}

	for i := 0; i < int(ncmds); i++ {
		if off+8 > end {
			return nil, &ErrMalformedMachO{Reason: "load command table overruns sizeofcmds"}
		}
		cmdRaw, err := v.U32(off)
		if err != nil {
			return nil, err
		}
		cmdsize, err := v.U32(off + 4)
		if err != nil {
			return nil, err
		}
		if cmdsize < 8 || off+int(cmdsize) > end {
			return nil, &ErrMalformedMachO{Reason: "load command size out of bounds"}
		}
		raw, err := v.Slice(off, int(cmdsize))
		if err != nil {
			return nil, err
		}
		cmd := types.LoadCmd(cmdRaw)
		lc := LoadCommand{Cmd: cmd, Off: off, Size: cmdsize, Raw: raw}

		switch cmd {
		case types.LC_SEGMENT, types.LC_SEGMENT_64:
			seg, err := parseSegment(v, off, cmd)
			if err != nil {
				return nil, err
			}
			lc.Segment = seg
		case types.LC_CODE_SIGNATURE:
			lc.SigIdx = true
			m.codeSigCmdIdx = len(m.Cmds)
		}

		m.Cmds = append(m.Cmds, lc)
		off += int(cmdsize)
	}

	return m, nil
}

func parseSegment(v *BinaryView, off int, cmd types.LoadCmd) (*SegmentInfo, error) {
	if cmd == types.LC_SEGMENT_64 {
		name, err := v.Fixed16(off + 8)
		if err != nil {
			return nil, err
		}
		addr, _ := v.U64(off + 24)
		memsz, _ := v.U64(off + 32)
		fileoff, _ := v.U64(off + 40)
		filesz, _ := v.U64(off + 48)
		nsect, err := v.U32(off + 64)
		if err != nil {
			return nil, err
		}
		seg := &SegmentInfo{Name: trimName(name), Addr: addr, Memsz: memsz, Offset: fileoff, Filesz: filesz}
		sectOff := off + types.Segment64Size
		for i := 0; i < int(nsect); i++ {
			so := sectOff + i*types.Section64Size
			if so+types.Section64Size > off+int(segCmdSize(v, off)) {
				return nil, &ErrMalformedMachO{Reason: "section extends past segment"}
			}
			sname, err := v.Fixed16(so)
			if err != nil {
				return nil, err
			}
			saddr, _ := v.U64(so + 32)
			ssize, _ := v.U64(so + 40)
			sfoff, err := v.U32(so + 48)
			if err != nil {
				return nil, err
			}
			if uint64(sfoff)+ssize > fileoff+filesz {
				return nil, &ErrMalformedMachO{Reason: "section extends past segment's file coverage"}
			}
			seg.Sections = append(seg.Sections, SectionInfo{Name: trimName(sname), Addr: saddr, Size: ssize, Offset: sfoff})
		}
		return seg, nil
	}

	name, err := v.Fixed16(off + 8)
	if err != nil {
		return nil, err
	}
	addr32, _ := v.U32(off + 24)
	memsz32, _ := v.U32(off + 28)
	fileoff32, _ := v.U32(off + 32)
	filesz32, _ := v.U32(off + 36)
	nsect, err := v.U32(off + 48)
	if err != nil {
		return nil, err
	}
	seg := &SegmentInfo{
		Name: trimName(name), Addr: uint64(addr32), Memsz: uint64(memsz32),
		Offset: uint64(fileoff32), Filesz: uint64(filesz32),
	}
	sectOff := off + types.Segment32Size
	for i := 0; i < int(nsect); i++ {
		so := sectOff + i*types.Section32Size
		sname, err := v.Fixed16(so)
		if err != nil {
			return nil, err
		}
		saddr, _ := v.U32(so + 32)
		ssize, _ := v.U32(so + 36)
		sfoff, err := v.U32(so + 40)
		if err != nil {
			return nil, err
		}
		if uint64(sfoff)+uint64(ssize) > seg.Offset+seg.Filesz {
			return nil, &ErrMalformedMachO{Reason: "section extends past segment's file coverage"}
		}
		seg.Sections = append(seg.Sections, SectionInfo{Name: trimName(sname), Addr: uint64(saddr), Size: uint64(ssize), Offset: sfoff})
	}
	return seg, nil
}

func segCmdSize(v *BinaryView, off int) uint32 {
	sz, _ := v.U32(off + 4)
	return sz
}

// trimName compares segment/section names after trailing-NUL trimming; a
// name that isn't NUL-padded to the full 16 bytes is still accepted.
func trimName(b [16]byte) string {
	return strings.TrimRight(string(b[:]), "\x00")
}

// LinkeditSegment returns the __LINKEDIT segment, or ErrMalformedMachO if
// signing is attempted on a binary without one.
func (m *MachOModel) LinkeditSegment() (*SegmentInfo, int, error) {
	for i, c := range m.Cmds {
		if c.Segment != nil && c.Segment.Name == "__LINKEDIT" {
			return c.Segment, i, nil
		}
	}
	return nil, -1, &ErrMalformedMachO{Reason: "missing __LINKEDIT segment"}
}

// ExistingSignatureRegion returns the (offset, size) of the current
// LC_CODE_SIGNATURE command's linkedit-data payload, and its command index,
// or ok=false if the binary is unsigned.
func (m *MachOModel) ExistingSignatureRegion() (offset, size uint32, cmdIdx int, ok bool) {
	if m.codeSigCmdIdx < 0 {
		return 0, 0, -1, false
	}
	c := m.Cmds[m.codeSigCmdIdx]
	off, _ := m.View.U32(c.Off + 8)
	sz, _ := m.View.U32(c.Off + 12)
	return off, sz, m.codeSigCmdIdx, true
}

// LastSegmentIsLinkedit reports whether __LINKEDIT is the final
// file-resident segment, an invariant BinaryRewriter's Grow mode depends on.
func (m *MachOModel) LastSegmentIsLinkedit() bool {
	var last *SegmentInfo
	for i := range m.Cmds {
		if seg := m.Cmds[i].Segment; seg != nil {
			if last == nil || seg.Offset > last.Offset {
				last = seg
			}
		}
	}
	return last != nil && last.Name == "__LINKEDIT"
}
