package macho

import (
	"encoding/binary"

	"github.com/ipaforge/resign/types"
)

// BinaryView is a read-only, bounds-checked cursor over an in-memory Mach-O
// byte buffer. Endianness is fixed once, at construction, from the buffer's
// magic: little for Magic32/Magic64, big otherwise.
type BinaryView struct {
	buf   []byte
	order binary.ByteOrder
}

// NewBinaryView inspects the first four bytes of buf to choose byte order
// and wraps it in a BinaryView. It does not copy buf.
func NewBinaryView(buf []byte) (*BinaryView, error) {
	if len(buf) < 4 {
		return nil, &ErrTruncatedInput{Op: "peek magic", Off: 0}
	}
	magic := types.Magic(binary.LittleEndian.Uint32(buf))
	order := binary.ByteOrder(binary.BigEndian)
	switch magic {
	case types.Magic32, types.Magic64:
		order = binary.LittleEndian
	}
	return &BinaryView{buf: buf, order: order}, nil
}

func (v *BinaryView) Len() int            { return len(v.buf) }
func (v *BinaryView) Bytes() []byte       { return v.buf }
func (v *BinaryView) Order() binary.ByteOrder { return v.order }

func (v *BinaryView) bounds(off, n int) error {
	if off < 0 || n < 0 || off+n > len(v.buf) {
		return &ErrTruncatedInput{Op: "read", Off: off}
	}
	return nil
}

// U8 reads a single byte at off.
func (v *BinaryView) U8(off int) (uint8, error) {
	if err := v.bounds(off, 1); err != nil {
		return 0, err
	}
	return v.buf[off], nil
}

// U32 reads a 32-bit word at off in the view's byte order.
func (v *BinaryView) U32(off int) (uint32, error) {
	if err := v.bounds(off, 4); err != nil {
		return 0, err
	}
	return v.order.Uint32(v.buf[off:]), nil
}

// U64 reads a 64-bit word at off in the view's byte order.
func (v *BinaryView) U64(off int) (uint64, error) {
	if err := v.bounds(off, 8); err != nil {
		return 0, err
	}
	return v.order.Uint64(v.buf[off:]), nil
}

// Fixed16 reads a fixed 16-byte field (segment/section names) at off.
func (v *BinaryView) Fixed16(off int) ([16]byte, error) {
	var out [16]byte
	if err := v.bounds(off, 16); err != nil {
		return out, err
	}
	copy(out[:], v.buf[off:off+16])
	return out, nil
}

// Slice returns a sub-slice [off, off+n) without copying, after a bounds check.
func (v *BinaryView) Slice(off, n int) ([]byte, error) {
	if err := v.bounds(off, n); err != nil {
		return nil, err
	}
	return v.buf[off : off+n], nil
}

// CString reads a NUL-terminated string starting at off, bounded by max bytes.
func (v *BinaryView) CString(off, max int) (string, error) {
	if err := v.bounds(off, 0); err != nil {
		return "", err
	}
	end := off
	limit := off + max
	if limit > len(v.buf) {
		limit = len(v.buf)
	}
	for end < limit && v.buf[end] != 0 {
		end++
	}
	if end == limit {
		return "", &ErrMalformedMachO{Reason: "unterminated string"}
	}
	return string(v.buf[off:end]), nil
}
