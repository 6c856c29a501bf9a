package types

import (
	"encoding/asn1"
	"fmt"

	"howett.net/plist"
)

type item struct {
	Key string `asn1:"utf8"`
	Val any
}

type boolItem struct {
	Key string `asn1:"utf8"`
	Val bool
}

type stringItem struct {
	Key string `asn1:"utf8"`
	Val string `asn1:"utf8"`
}

type stringSliceItem struct {
	Key string `asn1:"utf8"`
	Val []string
}

// DerEncodeEntitlements converts an entitlements plist (the XML form
// embedded as CSSlotEntitlements) into the DER/ASN.1 encoding Apple expects
// in CSSlotEntitlementsDER.
func DerEncodeEntitlements(plistXML []byte) ([]byte, error) {
	var entitlements map[string]any
	if _, err := plist.Unmarshal(plistXML, &entitlements); err != nil {
		return nil, fmt.Errorf("decode entitlements plist: %w", err)
	}

	var items []any
	for k, v := range entitlements {
		switch t := v.(type) {
		case bool:
			items = append(items, boolItem{k, t})
		case string:
			items = append(items, stringItem{k, t})
		case []any:
			strs := make([]string, 0, len(t))
			for _, s := range t {
				str, ok := s.(string)
				if !ok {
					return nil, fmt.Errorf("entitlement %q: non-string array element", k)
				}
				strs = append(strs, str)
			}
			items = append(items, stringSliceItem{k, strs})
		default:
			items = append(items, item{k, v})
		}
	}
	return asn1.MarshalWithParams(items, "set")
}

// EntitlementsPlistBlob wraps raw entitlements plist bytes for embedding
// under CSSlotEntitlements.
func EntitlementsPlistBlob(plistXML []byte) Blob {
	return NewBlob(MagicEmbeddedEntitlements, plistXML)
}

// EntitlementsDERBlob wraps the DER/ASN.1 encoding for CSSlotEntitlementsDER.
func EntitlementsDERBlob(der []byte) Blob {
	return NewBlob(MagicEmbeddedEntitlementsDER, der)
}
