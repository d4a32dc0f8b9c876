// Package slip10 implements SLIP-0010 hierarchical key derivation for the
// Ed25519 curve. Only hardened derivation is defined for Ed25519; any index
// passed to Derive is forced into the hardened range.
package slip10

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// KeySize is the byte length of a derived private key scalar.
	KeySize = 32

	// ChainCodeSize is the byte length of a chain code.
	ChainCodeSize = 32

	// ExtendedKeySize is the serialized length of key || chain code.
	ExtendedKeySize = KeySize + ChainCodeSize

	// Hardened marks a derivation index as hardened.
	Hardened uint32 = 1 << 31
)

// curveKey is the HMAC key that roots the Ed25519 derivation tree.
var curveKey = []byte("ed25519 seed")

// ExtendedKey is a private key scalar plus the chain code needed to derive
// its children.
type ExtendedKey struct {
	Key       [KeySize]byte
	ChainCode [ChainCodeSize]byte
}

// MasterKey computes the root of the derivation tree from a seed.
func MasterKey(seed []byte) (ExtendedKey, error) {
	if len(seed) == 0 {
		return ExtendedKey{}, errors.New("empty seed")
	}

	mac := hmac.New(sha512.New, curveKey)
	mac.Write(seed)
	sum := mac.Sum(nil)

	var k ExtendedKey
	copy(k.Key[:], sum[:KeySize])
	copy(k.ChainCode[:], sum[KeySize:])
	return k, nil
}

// Child derives the hardened child key at the given index.
func (k ExtendedKey) Child(index uint32) ExtendedKey {
	index |= Hardened

	data := make([]byte, 1+KeySize+4)
	data[0] = 0x00
	copy(data[1:1+KeySize], k.Key[:])
	binary.BigEndian.PutUint32(data[1+KeySize:], index)

	mac := hmac.New(sha512.New, k.ChainCode[:])
	mac.Write(data)
	sum := mac.Sum(nil)

	var child ExtendedKey
	copy(child.Key[:], sum[:KeySize])
	copy(child.ChainCode[:], sum[KeySize:])
	return child
}

// DeriveFromSeed walks the whole chain starting at the seed's master key.
func DeriveFromSeed(seed []byte, chain []uint32) (ExtendedKey, error) {
	k, err := MasterKey(seed)
	if err != nil {
		return ExtendedKey{}, err
	}
	return k.Derive(chain), nil
}

// Derive walks the chain from this key.
func (k ExtendedKey) Derive(chain []uint32) ExtendedKey {
	for _, index := range chain {
		k = k.Child(index)
	}
	return k
}

// Bytes serializes the extended key as key || chain code.
func (k ExtendedKey) Bytes() []byte {
	out := make([]byte, ExtendedKeySize)
	copy(out[:KeySize], k.Key[:])
	copy(out[KeySize:], k.ChainCode[:])
	return out
}

// Parse reads an extended key serialized by Bytes.
func Parse(data []byte) (ExtendedKey, error) {
	if len(data) != ExtendedKeySize {
		return ExtendedKey{}, fmt.Errorf("invalid extended key length %d, expected %d", len(data), ExtendedKeySize)
	}
	var k ExtendedKey
	copy(k.Key[:], data[:KeySize])
	copy(k.ChainCode[:], data[KeySize:])
	return k, nil
}

// Zero wipes the key material in place.
func (k *ExtendedKey) Zero() {
	for i := range k.Key {
		k.Key[i] = 0
	}
	for i := range k.ChainCode {
		k.ChainCode[i] = 0
	}
}
