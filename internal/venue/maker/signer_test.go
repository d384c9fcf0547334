package maker

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/mr-tron/base58"
)

func testSeed() []byte {
	seed := make([]byte, 64)
	for i := range seed {
		seed[i] = byte(i)
	}
	return seed
}

func TestSignerSignProducesValidSignature(t *testing.T) {
	t.Parallel()

	s, err := NewSigner(testSeed())
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	payload := map[string]any{"side": "buy", "price": "139.768", "size": "0.14"}
	sig, signed, err := s.Sign(payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	sigBytes, err := base58.Decode(sig)
	if err != nil {
		t.Fatalf("base58 decode signature: %v", err)
	}
	if !ed25519.Verify(s.PublicKey(), signed, sigBytes) {
		t.Error("signature does not verify against the signed canonical bytes")
	}
}

func TestSignerRejectsShortSeed(t *testing.T) {
	t.Parallel()
	_, err := NewSigner(make([]byte, 16))
	if err == nil {
		t.Fatal("expected error for seed shorter than 32 bytes")
	}
}

func TestSignerMergesHeaderAndData(t *testing.T) {
	t.Parallel()

	s, err := NewSigner(testSeed())
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	_, signed, err := s.Sign(map[string]any{"side": "sell"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	for _, field := range []string{`"type":"agent"`, `"expiry_window":5000`, `"data":{"side":"sell"}`} {
		if !bytes.Contains(signed, []byte(field)) {
			t.Errorf("signed payload missing expected field %q, got %s", field, signed)
		}
	}
}
