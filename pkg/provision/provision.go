// Package provision stamps a new application-identifier entitlement
// into an existing embedded.mobileprovision so it matches a re-signed
// bundle, without minting a new provisioning-profile signature.
package provision

import (
	"bytes"
	"fmt"

	"github.com/digitorus/pkcs7"
	"github.com/google/uuid"
	"howett.net/plist"
)

var (
	xmlPlistOpen  = []byte("<?xml")
	xmlPlistClose = []byte("</plist>")
)

// Profile is the decoded payload of an embedded.mobileprovision: the CMS
// envelope's plist content, plus the envelope bytes it was extracted from.
type Profile struct {
	raw     []byte
	payload map[string]any
}

// Parse decodes the CMS SignedData envelope of an embedded.mobileprovision
// and unmarshals its plist payload.
func Parse(raw []byte) (*Profile, error) {
	p7, err := pkcs7.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse provisioning profile CMS envelope: %w", err)
	}

	var payload map[string]any
	if _, err := plist.Unmarshal(p7.Content, &payload); err != nil {
		return nil, fmt.Errorf("decode provisioning profile plist: %w", err)
	}

	return &Profile{raw: raw, payload: payload}, nil
}

// TeamIdentifier returns the profile's first team identifier, if present.
func (p *Profile) TeamIdentifier() string {
	ids, _ := p.payload["TeamIdentifier"].([]any)
	if len(ids) == 0 {
		return ""
	}
	s, _ := ids[0].(string)
	return s
}

// Stamp rewrites the profile's application-identifier entitlement to
// newIdentifier (team-id.bundle-id) and assigns a
// fresh UUID, then splices the re-marshaled plist back into the original
// CMS envelope bytes. The envelope's own signature is left untouched: this
// is a payload substitution, not a re-signing of the profile itself, so the
// resulting profile no longer verifies against Apple's provisioning
// authority — acceptable only because the tool never claims Apple-accepted
// verification of anything it produces.
func (p *Profile) Stamp(newIdentifier string) ([]byte, error) {
	if ent, ok := p.payload["Entitlements"].(map[string]any); ok {
		ent["application-identifier"] = newIdentifier
	}
	p.payload["UUID"] = uuid.New().String()

	newPlist, err := plist.MarshalIndent(p.payload, plist.XMLFormat, "\t")
	if err != nil {
		return nil, fmt.Errorf("marshal stamped plist: %w", err)
	}

	return spliceXMLPlist(p.raw, newPlist)
}

// spliceXMLPlist replaces the byte range [<?xml ... </plist>] inside raw
// with replacement, leaving every other byte of the CMS envelope (header,
// certificates, signer info) untouched.
func spliceXMLPlist(raw, replacement []byte) ([]byte, error) {
	start := bytes.Index(raw, xmlPlistOpen)
	if start < 0 {
		return nil, fmt.Errorf("provisioning profile: embedded plist not found")
	}
	closeRel := bytes.Index(raw[start:], xmlPlistClose)
	if closeRel < 0 {
		return nil, fmt.Errorf("provisioning profile: embedded plist has no closing tag")
	}
	end := start + closeRel + len(xmlPlistClose)

	out := make([]byte, 0, len(raw)-(end-start)+len(replacement))
	out = append(out, raw[:start]...)
	out = append(out, replacement...)
	out = append(out, raw[end:]...)
	return out, nil
}
