package maker

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
)

const expiryWindowMs = 5000

// Signer implements Venue-M's signing contract: merge a header with the
// payload, canonicalize the result, sign with Ed25519 over the first 32
// bytes of a 64-byte seed, and Base58-encode the signature.
//
// No ecosystem package improves on the standard library for Ed25519
// itself (see DESIGN.md); Base58 encoding is the one place this signer
// reaches for a third-party package, since encoding/base64 and
// encoding/hex don't produce the wire format Venue-M expects.
type Signer struct {
	priv ed25519.PrivateKey
}

// NewSigner builds a Signer from a 64-byte seed (hex or raw). Only the
// first 32 bytes are used as the Ed25519 seed, per the signing contract.
func NewSigner(seed []byte) (*Signer, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("seed must be at least 32 bytes, got %d", len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed[:32])
	return &Signer{priv: priv}, nil
}

// Sign merges the standard agent header with payload, canonicalizes the
// combined object, signs it, and returns the Base58-encoded signature
// plus the exact bytes that were signed (useful for logging/debugging
// signature-verification failures).
func (s *Signer) Sign(payload map[string]any) (signature string, signedBytes []byte, err error) {
	header := map[string]any{
		"type":          "agent",
		"timestamp_ms":  time.Now().UnixMilli(),
		"expiry_window": expiryWindowMs,
	}

	merged := map[string]any{
		"type":          header["type"],
		"timestamp_ms":  header["timestamp_ms"],
		"expiry_window": header["expiry_window"],
		"data":          payload,
	}

	canonical, err := Canonicalize(merged)
	if err != nil {
		return "", nil, fmt.Errorf("canonicalize: %w", err)
	}

	sig := ed25519.Sign(s.priv, canonical)
	return base58.Encode(sig), canonical, nil
}

// PublicKey returns the Ed25519 public key derived from the signing
// seed, for constructing the account's API-public identifier.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}
