package codesign

import (
	"crypto"
	"crypto/x509"

	"github.com/digitorus/pkcs7"
)

// Identity is a signing identity loaded from a PKCS#12 archive: a private
// key and the leaf certificate (plus any intermediates) to embed in the
// CMS SignedData's certificates set.
type Identity struct {
	PrivateKey    crypto.Signer
	Certificate   *x509.Certificate
	Intermediates []*x509.Certificate
}

// SignatureSigner produces the DER-encoded CMS SignedData that Apple's code
// signature format requires in the CSSlotCMSSignature sub-blob: content is
// the CodeDirectory bytes (detached, not carried in the envelope), the
// signer info is SHA-256 + PKCS#1 v1.5 over the signed attributes, and the
// signed attributes include content-type and the message digest of the
// CodeDirectory. A bare RSA signature over the CodeDirectory is not a valid
// substitute for this envelope.
func SignatureSigner(codeDirectory []byte, id Identity) ([]byte, error) {
	sd, err := pkcs7.NewSignedData(codeDirectory)
	if err != nil {
		return nil, &signError{"init signed data", err}
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)

	cfg := pkcs7.SignerInfoConfig{}
	if err := sd.AddSigner(id.Certificate, id.PrivateKey, cfg); err != nil {
		return nil, &signError{"add signer", err}
	}
	for _, ca := range id.Intermediates {
		sd.AddCertificate(ca)
	}

	sd.Detach()

	der, err := sd.Finish()
	if err != nil {
		return nil, &signError{"finish signed data", err}
	}
	return der, nil
}

type signError struct {
	reason string
	err    error
}

func (e *signError) Error() string { return "codesign: " + e.reason + ": " + e.err.Error() }
func (e *signError) Unwrap() error { return e.err }
