package crypto

import (
	"bytes"
	"testing"

	"github.com/awnumar/memguard"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	salt, err := RandomBytes(16)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}

	derive := func() []byte {
		saltCopy := make([]byte, len(salt))
		copy(saltCopy, salt)
		key, err := DeriveKey([]byte("password"), memguard.NewEnclave(saltCopy))
		if err != nil {
			t.Fatalf("DeriveKey failed: %v", err)
		}
		out := make([]byte, len(key.Bytes()))
		copy(out, key.Bytes())
		key.Destroy()
		return out
	}

	first := derive()
	second := derive()
	if !bytes.Equal(first, second) {
		t.Fatal("same password and salt produced different keys")
	}
	if len(first) != 32 {
		t.Fatalf("derived key is %d bytes, want 32", len(first))
	}
}

func TestDeriveKeyDiffersPerSalt(t *testing.T) {
	derive := func(salt []byte) []byte {
		key, err := DeriveKey([]byte("password"), memguard.NewEnclave(salt))
		if err != nil {
			t.Fatalf("DeriveKey failed: %v", err)
		}
		out := make([]byte, len(key.Bytes()))
		copy(out, key.Bytes())
		key.Destroy()
		return out
	}

	saltA, _ := RandomBytes(16)
	saltB, _ := RandomBytes(16)
	if bytes.Equal(derive(saltA), derive(saltB)) {
		t.Fatal("different salts produced the same key")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	plaintext := []byte("the quick brown fox")

	sealed, err := Seal(plaintext, key)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Fatal("sealed output contains the plaintext")
	}

	opened, err := Open(sealed, key)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("Open returned %q, want %q", opened, plaintext)
	}
}

func TestOpenWrongKeyFails(t *testing.T) {
	key, _ := RandomBytes(32)
	other, _ := RandomBytes(32)

	sealed, err := Seal([]byte("secret"), key)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if _, err = Open(sealed, other); err == nil {
		t.Fatal("Open succeeded with the wrong key")
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key, _ := RandomBytes(32)
	sealed, err := Seal([]byte("secret"), key)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	sealed[len(sealed)-1] ^= 0x01
	if _, err = Open(sealed, key); err == nil {
		t.Fatal("Open accepted tampered ciphertext")
	}
}

func TestSealIsNonDeterministic(t *testing.T) {
	key, _ := RandomBytes(32)
	a, err := Seal([]byte("same input"), key)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	b, err := Seal([]byte("same input"), key)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("two seals of the same input are identical, nonce reuse suspected")
	}
}

func TestChecksum(t *testing.T) {
	a := Checksum([]byte("data"))
	b := Checksum([]byte("data"))
	c := Checksum([]byte("other"))

	if a != b {
		t.Fatal("checksum is not deterministic")
	}
	if a == c {
		t.Fatal("different inputs produced the same checksum")
	}
	if len(a) != 64 {
		t.Fatalf("checksum is %d hex chars, want 64", len(a))
	}
}
