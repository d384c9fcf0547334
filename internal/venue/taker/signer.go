// Package taker implements the Venue-T (Hyperliquid-style) trading
// client: EIP-712-signed market order execution and a polled top-of-book
// feed.
package taker

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Signer produces the EIP-712 typed-data signature over an action and
// nonce that Venue-T's order endpoints require: TypedDataAndHash +
// crypto.Sign + a V-adjustment pass over an "Action" message rather
// than a one-time auth challenge.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
}

// NewSigner parses a hex-encoded ECDSA private key (with or without the
// 0x prefix) and derives the signer's address.
func NewSigner(hexKey string, chainID int) (*Signer, error) {
	if len(hexKey) >= 2 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    crypto.PubkeyToAddress(pk.PublicKey),
		chainID:    big.NewInt(int64(chainID)),
	}, nil
}

// Address returns the signer's wallet address.
func (s *Signer) Address() common.Address { return s.address }

// SignAction produces an EIP-712 signature over the action payload and
// nonce, returning 0x-prefixed hex.
func (s *Signer) SignAction(action map[string]any, nonce int64) (string, error) {
	domain := apitypes.TypedDataDomain{
		Name:    "XemmExchange",
		Version: "1",
		ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(s.chainID)),
	}
	types := apitypes.Types{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
		},
		"Action": {
			{Name: "action", Type: "string"},
			{Name: "nonce", Type: "uint256"},
		},
	}
	message := apitypes.TypedDataMessage{
		"action": encodeAction(action),
		"nonce":  fmt.Sprintf("%d", nonce),
	}

	typedData := apitypes.TypedData{
		Types:       types,
		PrimaryType: "Action",
		Domain:      domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", fmt.Errorf("typed data hash: %w", err)
	}

	sig, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("sign typed data: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + common.Bytes2Hex(sig), nil
}

func encodeAction(action map[string]any) string {
	// Deterministic, compact encoding of the action map for inclusion in
	// the typed-data message; the action is carried as an opaque string
	// field, so keys are sorted to keep that string (and the signature)
	// independent of map iteration order.
	keys := make([]string, 0, len(action))
	for k := range action {
		keys = append(keys, k)
	}
	sortStrings(keys)

	s := "{"
	for i, k := range keys {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%q:%v", k, action[k])
	}
	s += "}"
	return s
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
