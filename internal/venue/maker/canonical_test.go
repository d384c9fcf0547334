package maker

import (
	"encoding/json"
	"testing"
)

func TestCanonicalizeSortsKeys(t *testing.T) {
	t.Parallel()

	a := map[string]any{"b": 1, "a": 2, "c": map[string]any{"z": 1, "y": 2}}
	out, err := Canonicalize(a)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}
	want := `{"a":2,"b":1,"c":{"y":2,"z":1}}`
	if string(out) != want {
		t.Errorf("Canonicalize() = %q, want %q", out, want)
	}
}

// TestCanonicalizeIdempotent checks canonicalize(canonicalize(x)) ==
// canonicalize(x).
func TestCanonicalizeIdempotent(t *testing.T) {
	t.Parallel()

	a := map[string]any{"type": "agent", "timestamp_ms": 1700000000000, "data": map[string]any{"side": "buy", "price": "139.768"}}

	once, err := Canonicalize(a)
	if err != nil {
		t.Fatalf("Canonicalize: %v", err)
	}

	var reparsed any
	if err := json.Unmarshal(once, &reparsed); err != nil {
		t.Fatalf("unmarshal canonical output: %v", err)
	}
	twice, err := Canonicalize(reparsed)
	if err != nil {
		t.Fatalf("Canonicalize (second pass): %v", err)
	}

	if string(once) != string(twice) {
		t.Errorf("canonicalize not idempotent: once=%q twice=%q", once, twice)
	}
}

// TestCanonicalizeKeyOrderIndependence checks that two semantically
// equal JSON objects produce byte-identical canonical output.
func TestCanonicalizeKeyOrderIndependence(t *testing.T) {
	t.Parallel()

	a := map[string]any{"x": 1, "y": 2}
	b := map[string]any{"y": 2, "x": 1}

	outA, err := Canonicalize(a)
	if err != nil {
		t.Fatalf("Canonicalize(a): %v", err)
	}
	outB, err := Canonicalize(b)
	if err != nil {
		t.Fatalf("Canonicalize(b): %v", err)
	}
	if string(outA) != string(outB) {
		t.Errorf("key-order-independent maps produced different output: %q vs %q", outA, outB)
	}
}
