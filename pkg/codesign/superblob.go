package codesign

import cstypes "github.com/ipaforge/resign/pkg/codesign/types"

// SuperBlobInput is one ordered (slot-type, payload) entry feeding
// BuildSuperBlob. CSSlotCodeDirectory's Data is BuildCodeDirectory's output,
// which already starts with its own {Magic,Length} header and is embedded
// verbatim; every other slot's Data has no header of its own and is wrapped
// in a generic blob-wrapper before being embedded.
type SuperBlobInput struct {
	Slot cstypes.SlotType
	Data []byte
}

// BuildSuperBlob wraps the given sub-blobs into the top-level embedded
// signature container, magic 0xfade0cc0. Entries are laid out in the order
// given; the index is recorded in that same order, per slot.
func BuildSuperBlob(entries []SuperBlobInput) []byte {
	slots := make([]cstypes.SlotType, 0, len(entries))
	blobs := make([]cstypes.Blob, 0, len(entries))
	for _, e := range entries {
		if e.Slot == cstypes.CSSlotCodeDirectory {
			blobs = append(blobs, cstypes.NewVerbatimBlob(cstypes.MagicCodeDirectory, e.Data))
		} else {
			blobs = append(blobs, cstypes.NewBlob(blobMagicFor(e.Slot), e.Data))
		}
		slots = append(slots, e.Slot)
	}
	sb := cstypes.NewSuperBlob(slots, blobs)
	return sb.Bytes()
}

func blobMagicFor(slot cstypes.SlotType) cstypes.Magic {
	switch slot {
	case cstypes.CSSlotEntitlements:
		return cstypes.MagicEmbeddedEntitlements
	case cstypes.CSSlotEntitlementsDER:
		return cstypes.MagicEmbeddedEntitlementsDER
	case cstypes.CSSlotCMSSignature:
		return cstypes.MagicBlobWrapper
	default:
		return cstypes.MagicBlobWrapper
	}
}
