package codesign

import (
	"bytes"
	"crypto/sha256"
	"testing"
)

func TestPageHasherFullPages(t *testing.T) {
	buf := make([]byte, 3*4096)
	for i := range buf {
		buf[i] = byte(i)
	}
	hashes := PageHasher(buf, len(buf), DefaultPageExponent)
	if len(hashes) != 3 {
		t.Fatalf("got %d hashes, want 3", len(hashes))
	}
	for i, h := range hashes {
		want := sha256.Sum256(buf[i*4096 : (i+1)*4096])
		if !bytes.Equal(h, want[:]) {
			t.Errorf("page %d hash mismatch", i)
		}
	}
}

// TestPageHasherShortFinalPageNotPadded is the P4 invariant from the
// signing spec: the final short page is hashed over its actual remaining
// bytes, never zero-padded up to the page boundary.
func TestPageHasherShortFinalPageNotPadded(t *testing.T) {
	codeLimit := 4096 + 100
	buf := make([]byte, codeLimit)
	for i := range buf {
		buf[i] = byte(i + 1)
	}
	hashes := PageHasher(buf, codeLimit, DefaultPageExponent)
	if len(hashes) != 2 {
		t.Fatalf("got %d hashes, want 2", len(hashes))
	}

	wantLast := sha256.Sum256(buf[4096:codeLimit])
	if !bytes.Equal(hashes[1], wantLast[:]) {
		t.Error("final short page hash does not match the unpadded remainder")
	}

	paddedLast := sha256.Sum256(append(append([]byte(nil), buf[4096:codeLimit]...), make([]byte, 4096-100)...))
	if bytes.Equal(hashes[1], paddedLast[:]) {
		t.Error("final short page hash incorrectly matches a zero-padded page")
	}
}

func TestPageHasherCodeLimitBeyondBuffer(t *testing.T) {
	buf := make([]byte, 10)
	hashes := PageHasher(buf, 4096, DefaultPageExponent)
	if len(hashes) != 1 {
		t.Fatalf("got %d hashes, want 1", len(hashes))
	}
	want := sha256.Sum256(buf)
	if !bytes.Equal(hashes[0], want[:]) {
		t.Error("hash should cover only the bytes actually present")
	}
}
