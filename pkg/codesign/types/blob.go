package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Magic identifies the kind of blob a code-signature wire structure carries.
type Magic uint32

const (
	MagicCodeDirectory           Magic = 0xfade0c02
	MagicEmbeddedSignature       Magic = 0xfade0cc0 // SuperBlob
	MagicEmbeddedEntitlements    Magic = 0xfade7171
	MagicEmbeddedEntitlementsDER Magic = 0xfade7172
	MagicBlobWrapper             Magic = 0xfade0b01 // CMS signature wrapper
)

func (m Magic) String() string {
	switch m {
	case MagicCodeDirectory:
		return "CodeDirectory"
	case MagicEmbeddedSignature:
		return "EmbeddedSignature"
	case MagicEmbeddedEntitlements:
		return "EmbeddedEntitlements"
	case MagicEmbeddedEntitlementsDER:
		return "EmbeddedEntitlementsDER"
	case MagicBlobWrapper:
		return "BlobWrapper"
	default:
		return fmt.Sprintf("Magic(%#x)", uint32(m))
	}
}

// SlotType names a sub-blob's position in a SuperBlob's index.
type SlotType uint32

const (
	CSSlotCodeDirectory   SlotType = 0
	CSSlotEntitlements    SlotType = 5
	CSSlotEntitlementsDER SlotType = 7
	CSSlotCMSSignature    SlotType = 0x10000
)

func (s SlotType) String() string {
	switch s {
	case CSSlotCodeDirectory:
		return "CodeDirectory"
	case CSSlotEntitlements:
		return "Entitlements"
	case CSSlotEntitlementsDER:
		return "EntitlementsDER"
	case CSSlotCMSSignature:
		return "CMSSignature"
	default:
		return fmt.Sprintf("SlotType(%#x)", uint32(s))
	}
}

// SbHeader is the fixed-size prefix of a SuperBlob.
type SbHeader struct {
	Magic  Magic
	Length uint32 // total length of the SuperBlob, including header and index
	Count  uint32 // number of BlobIndex entries following the header
}

const SbHeaderSize = 3 * 4

// BlobIndex locates one sub-blob within a SuperBlob by byte offset from the
// start of the SuperBlob.
type BlobIndex struct {
	Type   SlotType
	Offset uint32
}

const BlobIndexSize = 2 * 4

// BlobHeader is the fixed-size prefix shared by every sub-blob.
type BlobHeader struct {
	Magic  Magic
	Length uint32 // total length, including this header
}

const BlobHeaderSize = 2 * 4

// Blob pairs a BlobHeader with its opaque payload bytes. Verbatim marks a
// blob whose Data already carries its own self-describing {Magic,Length}
// prefix (a CodeDirectory), so Bytes must not add a second one.
type Blob struct {
	BlobHeader
	Data     []byte
	Verbatim bool
}

// NewBlob wraps data with a BlobHeader of the given magic. Use this for
// payloads with no header of their own: the CMS signature and the raw
// entitlements plist/DER.
func NewBlob(magic Magic, data []byte) Blob {
	return Blob{
		BlobHeader: BlobHeader{Magic: magic, Length: uint32(BlobHeaderSize + len(data))},
		Data:       data,
	}
}

// NewVerbatimBlob embeds data as-is: data already begins with its own
// {Magic,Length} header (as CodeDirectory.Put produces), so no BlobHeader is
// prepended. The magic recorded here is informational only.
func NewVerbatimBlob(magic Magic, data []byte) Blob {
	return Blob{
		BlobHeader: BlobHeader{Magic: magic, Length: uint32(len(data))},
		Data:       data,
		Verbatim:   true,
	}
}

// Bytes serializes the blob in the big-endian wire order every
// code-signature structure uses: header+payload, or payload alone when
// Verbatim is set since Data is already self-describing.
func (b Blob) Bytes() []byte {
	if b.Verbatim {
		return b.Data
	}
	out := make([]byte, 0, b.Length)
	hdr := make([]byte, BlobHeaderSize)
	binary.BigEndian.PutUint32(hdr[0:], uint32(b.Magic))
	binary.BigEndian.PutUint32(hdr[4:], b.Length)
	out = append(out, hdr...)
	out = append(out, b.Data...)
	return out
}

// SuperBlob is the top-level typed container for a Mach-O code signature: a
// header, an index of (type, offset) pairs, followed by the sub-blobs
// themselves in index order.
type SuperBlob struct {
	SbHeader
	Index []BlobIndex
	Blobs []Blob
}

// NewSuperBlob builds a SuperBlob from sub-blobs, computing the index
// offsets and total length. Blobs are laid out in the order given.
func NewSuperBlob(slots []SlotType, blobs []Blob) SuperBlob {
	sb := SuperBlob{
		SbHeader: SbHeader{Magic: MagicEmbeddedSignature, Count: uint32(len(blobs))},
	}
	off := uint32(SbHeaderSize + len(blobs)*BlobIndexSize)
	for i, b := range blobs {
		sb.Index = append(sb.Index, BlobIndex{Type: slots[i], Offset: off})
		sb.Blobs = append(sb.Blobs, b)
		off += b.Length
	}
	sb.Length = off
	return sb
}

// Bytes serializes the SuperBlob: header, index, then blobs in index order.
func (s SuperBlob) Bytes() []byte {
	buf := new(bytes.Buffer)
	hdr := make([]byte, SbHeaderSize)
	binary.BigEndian.PutUint32(hdr[0:], uint32(s.Magic))
	binary.BigEndian.PutUint32(hdr[4:], s.Length)
	binary.BigEndian.PutUint32(hdr[8:], s.Count)
	buf.Write(hdr)
	for _, idx := range s.Index {
		ib := make([]byte, BlobIndexSize)
		binary.BigEndian.PutUint32(ib[0:], uint32(idx.Type))
		binary.BigEndian.PutUint32(ib[4:], idx.Offset)
		buf.Write(ib)
	}
	for _, b := range s.Blobs {
		buf.Write(b.Bytes())
	}
	return buf.Bytes()
}

// NullPageSHA256Hash is the hash of an all-zero 4096-byte page; it marks an
// unmapped (__PAGEZERO) code slot.
var NullPageSHA256Hash = []byte{
	0xad, 0x7f, 0xac, 0xb2, 0x58, 0x6f, 0xc6, 0xe9,
	0x66, 0xc0, 0x04, 0xd7, 0xd1, 0xd1, 0x6b, 0x02,
	0x4f, 0x58, 0x05, 0xff, 0x7c, 0xb4, 0x7c, 0x7a,
	0x85, 0xda, 0xbd, 0x8b, 0x48, 0x89, 0x2c, 0xa7,
}
