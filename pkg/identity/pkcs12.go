// Package identity loads a code-signing identity (private key plus
// certificate chain) from a PKCS#12 archive.
package identity

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/ipaforge/resign/pkg/codesign"
)

// LoadP12 decodes a .p12/.pfx archive and returns the signing identity it
// contains: the leaf certificate and its private key, plus any CA
// certificates bundled alongside it. Only RSA keys are supported, since the
// code-signature format requires SHA-256 + PKCS#1 v1.5.
func LoadP12(data []byte, password string) (codesign.Identity, error) {
	key, cert, cas, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return codesign.Identity{}, fmt.Errorf("decode pkcs#12: %w", err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return codesign.Identity{}, fmt.Errorf("pkcs#12 private key does not implement crypto.Signer")
	}
	if _, ok := signer.Public().(*rsa.PublicKey); !ok {
		return codesign.Identity{}, fmt.Errorf("pkcs#12 private key is not RSA")
	}

	return codesign.Identity{
		PrivateKey:    signer,
		Certificate:   cert,
		Intermediates: cas,
	}, nil
}

// Validate performs a minimal sanity check on the identity's certificate
// before it's handed to SignatureSigner: a certificate must be present and
// its validity window must not be inverted. It does not compare the window
// against the current time or any signing time.
func Validate(cert *x509.Certificate) error {
	if cert == nil {
		return fmt.Errorf("no certificate loaded")
	}
	if cert.NotAfter.Before(cert.NotBefore) {
		return fmt.Errorf("certificate validity window is inverted")
	}
	return nil
}
