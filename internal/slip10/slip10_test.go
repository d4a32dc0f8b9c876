package slip10

import (
	"bytes"
	"encoding/hex"
	"testing"
)

// Test vector 1 for the ed25519 curve from SLIP-0010.
func TestMasterKeyVector(t *testing.T) {
	seed, _ := hex.DecodeString("000102030405060708090a0b0c0d0e0f")

	k, err := MasterKey(seed)
	if err != nil {
		t.Fatalf("MasterKey failed: %v", err)
	}

	wantKey := "2b4be7f19ee27bbf30c667b642d5f4aa69fd169872f8fc3059c08ebae2eb19e7"
	wantChain := "90046a93de5380a72b5e45010748567d5ea02bbf6522f979e05c0d8d8ca9fffb"

	if got := hex.EncodeToString(k.Key[:]); got != wantKey {
		t.Errorf("master key mismatch:\n got  %s\n want %s", got, wantKey)
	}
	if got := hex.EncodeToString(k.ChainCode[:]); got != wantChain {
		t.Errorf("master chain code mismatch:\n got  %s\n want %s", got, wantChain)
	}
}

func TestChildVector(t *testing.T) {
	seed, _ := hex.DecodeString("000102030405060708090a0b0c0d0e0f")

	k, err := DeriveFromSeed(seed, []uint32{0})
	if err != nil {
		t.Fatalf("DeriveFromSeed failed: %v", err)
	}

	// m/0' from SLIP-0010 test vector 1.
	wantKey := "68e0fe46dfb67e368c75379acec591dad19df3cde26e63b93a8e704f1dade7a3"
	wantChain := "8b59aa11380b624e81507a27fedda59fea6d0b779a778918a2fd3590e16e9c69"

	if got := hex.EncodeToString(k.Key[:]); got != wantKey {
		t.Errorf("child key mismatch:\n got  %s\n want %s", got, wantKey)
	}
	if got := hex.EncodeToString(k.ChainCode[:]); got != wantChain {
		t.Errorf("child chain code mismatch:\n got  %s\n want %s", got, wantChain)
	}
}

func TestDeriveDeterministic(t *testing.T) {
	seed := []byte("a perfectly adequate test seed value")
	chain := []uint32{44, 4218, 0, 0}

	a, err := DeriveFromSeed(seed, chain)
	if err != nil {
		t.Fatalf("first derivation failed: %v", err)
	}
	b, err := DeriveFromSeed(seed, chain)
	if err != nil {
		t.Fatalf("second derivation failed: %v", err)
	}

	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Error("derivation is not deterministic for identical (seed, chain)")
	}

	c, err := DeriveFromSeed(seed, []uint32{44, 4218, 0, 1})
	if err != nil {
		t.Fatalf("sibling derivation failed: %v", err)
	}
	if bytes.Equal(a.Key[:], c.Key[:]) {
		t.Error("distinct chains produced the same key")
	}
	if bytes.Equal(a.ChainCode[:], c.ChainCode[:]) {
		t.Error("distinct chains produced the same chain code")
	}
}

func TestHardenedIndexNormalization(t *testing.T) {
	seed := []byte("another test seed")
	k, err := MasterKey(seed)
	if err != nil {
		t.Fatalf("MasterKey failed: %v", err)
	}

	// Ed25519 only defines hardened derivation, so 0 and 0|Hardened must land
	// on the same child.
	soft := k.Child(0)
	hard := k.Child(Hardened)
	if !bytes.Equal(soft.Bytes(), hard.Bytes()) {
		t.Error("index was not normalized to its hardened form")
	}
}

func TestParseRoundTrip(t *testing.T) {
	seed := []byte("seed for serialization")
	k, err := DeriveFromSeed(seed, []uint32{1, 2, 3})
	if err != nil {
		t.Fatalf("DeriveFromSeed failed: %v", err)
	}

	parsed, err := Parse(k.Bytes())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed != k {
		t.Error("Parse(Bytes()) did not round-trip")
	}

	if _, err = Parse([]byte("short")); err == nil {
		t.Error("expected error for truncated extended key")
	}
}

func TestEmptySeed(t *testing.T) {
	if _, err := MasterKey(nil); err == nil {
		t.Error("expected error for empty seed")
	}
}
