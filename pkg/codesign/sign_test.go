package codesign

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/digitorus/pkcs7"
)

func selfSignedIdentity(t *testing.T) Identity {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "Test Signing Identity"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	return Identity{PrivateKey: key, Certificate: cert}
}

func TestSignatureSignerProducesVerifiableEnvelope(t *testing.T) {
	id := selfSignedIdentity(t)
	cd := []byte("fake code directory bytes for signing")

	der, err := SignatureSigner(cd, id)
	if err != nil {
		t.Fatalf("SignatureSigner: %v", err)
	}

	p7, err := pkcs7.Parse(der)
	if err != nil {
		t.Fatalf("parse resulting CMS envelope: %v", err)
	}
	if len(p7.Content) != 0 {
		t.Error("expected a detached signature with no embedded content")
	}

	p7.Content = cd
	if err := p7.Verify(); err != nil {
		t.Errorf("signature does not verify over the detached content: %v", err)
	}
}

func TestSignatureSignerRejectsTamperedContent(t *testing.T) {
	id := selfSignedIdentity(t)
	der, err := SignatureSigner([]byte("original content"), id)
	if err != nil {
		t.Fatalf("SignatureSigner: %v", err)
	}

	p7, err := pkcs7.Parse(der)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p7.Content = []byte("tampered content")
	if err := p7.Verify(); err == nil {
		t.Error("expected verification to fail over tampered content")
	}
}
