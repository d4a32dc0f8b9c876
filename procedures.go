package citadel

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/tyler-smith/go-bip39"

	icrypto "southwinds.dev/citadel/internal/crypto"
	"southwinds.dev/citadel/internal/misc"
	"southwinds.dev/citadel/internal/slip10"
)

// Procedure is a cryptographic operation executed inside the vault boundary.
// Procedures read and write vault records by location; raw private key bytes
// never cross the call boundary; only derived public material (chain codes,
// public keys, signatures) comes back in ProcedureOutput.
//
// The variant set is closed: SLIP10Generate, SLIP10Derive, BIP39Generate,
// BIP39Recover, Ed25519PublicKey, Ed25519Sign.
type Procedure interface {
	procedureName() string
}

// SourceType selects how SLIP10Derive interprets its source record.
type SourceType string

const (
	// SourceSeed treats the source record as a raw seed and derives the
	// master key from it first.
	SourceSeed SourceType = "seed"

	// SourceKey treats the source record as an extended key produced by an
	// earlier generate or derive.
	SourceKey SourceType = "key"
)

// SLIP10Generate creates a fresh random seed record at Output. SizeBytes
// zero selects the default seed size.
type SLIP10Generate struct {
	Output    Location
	SizeBytes int
	Hint      RecordHint
}

// SLIP10Derive derives a child key along Chain from the seed or extended key
// at Source and stores the result at Output. Indices are always hardened.
// The derived record's chain code is returned hex-encoded.
type SLIP10Derive struct {
	Chain      []uint32
	SourceKind SourceType
	Source     Location
	Output     Location
	Hint       RecordHint
}

// BIP39Generate creates a fresh mnemonic internally and stores the seed it
// derives (with Passphrase) at Output. The mnemonic itself is wiped.
type BIP39Generate struct {
	Passphrase string
	Output     Location
	Hint       RecordHint
}

// BIP39Recover reconstructs a seed from Mnemonic and Passphrase and stores
// it at Output. A mnemonic failing checksum validation is rejected.
type BIP39Recover struct {
	Mnemonic   string
	Passphrase string
	Output     Location
	Hint       RecordHint
}

// Ed25519PublicKey returns the public key for the private key record at
// PrivateKey.
type Ed25519PublicKey struct {
	PrivateKey Location
}

// Ed25519Sign signs Message with the private key record at PrivateKey.
type Ed25519Sign struct {
	PrivateKey Location
	Message    []byte
}

func (SLIP10Generate) procedureName() string   { return "slip10_generate" }
func (SLIP10Derive) procedureName() string     { return "slip10_derive" }
func (BIP39Generate) procedureName() string    { return "bip39_generate" }
func (BIP39Recover) procedureName() string     { return "bip39_recover" }
func (Ed25519PublicKey) procedureName() string { return "ed25519_public_key" }
func (Ed25519Sign) procedureName() string      { return "ed25519_sign" }

// ProcedureOutput carries the derived public results of a procedure. Only
// the fields relevant to the executed variant are set.
type ProcedureOutput struct {
	ChainCode string `json:"chain_code,omitempty"`
	PublicKey []byte `json:"public_key,omitempty"`
	Signature []byte `json:"signature,omitempty"`
}

// Execute runs a procedure against the named vault at path. Procedures on a
// path that is not unlocked fail with ErrVaultLocked.
func (m *Manager) Execute(path, vault string, procedure Procedure) (ProcedureOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.snapshots[path]
	if !exists || s.locked {
		return ProcedureOutput{}, fmt.Errorf("%w: %s", ErrVaultLocked, path)
	}

	output, err := m.executeLocked(s, vault, procedure)
	m.auditEvent("procedure_"+procedure.procedureName(), err == nil, path, err)
	if err != nil {
		return ProcedureOutput{}, err
	}
	m.touchLocked(path, s)
	return output, nil
}

func (m *Manager) executeLocked(s *snapshot, vault string, procedure Procedure) (ProcedureOutput, error) {
	switch p := procedure.(type) {
	case SLIP10Generate:
		return ProcedureOutput{}, m.slip10Generate(s, vault, p)
	case SLIP10Derive:
		return m.slip10Derive(s, vault, p)
	case BIP39Generate:
		return ProcedureOutput{}, m.bip39Generate(s, vault, p)
	case BIP39Recover:
		return ProcedureOutput{}, m.bip39Recover(s, vault, p)
	case Ed25519PublicKey:
		return m.ed25519PublicKey(s, vault, p)
	case Ed25519Sign:
		return m.ed25519Sign(s, vault, p)
	default:
		return ProcedureOutput{}, fmt.Errorf("unsupported procedure %T", procedure)
	}
}

// readProcedureRecord opens the vault record a procedure sources from. The
// returned plaintext must be wiped by the caller.
func readProcedureRecord(s *snapshot, vault string, loc Location) ([]byte, error) {
	if err := checkLocation(loc, vault); err != nil {
		return nil, err
	}
	records, ok := s.vaults[vault]
	if !ok {
		return nil, fmt.Errorf("%w: vault %q", ErrLocationNotFound, vault)
	}
	entry, ok := records[loc.key()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocationNotFound, loc)
	}
	value, err := s.openValue(entry.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to open record: %w", err)
	}
	return value, nil
}

// writeProcedureRecord seals a procedure result into the vault, consuming
// the plaintext.
func writeProcedureRecord(s *snapshot, vault string, loc Location, value []byte, hint RecordHint) error {
	if err := checkLocation(loc, vault); err != nil {
		memguard.WipeBytes(value)
		return err
	}
	ciphertext, err := s.sealValue(value)
	memguard.WipeBytes(value)
	if err != nil {
		return fmt.Errorf("failed to seal record: %w", err)
	}
	records, ok := s.vaults[vault]
	if !ok {
		records = make(map[string]vaultRecord)
		s.vaults[vault] = records
	}
	entry := vaultRecord{Ciphertext: ciphertext}
	if !hint.IsZero() {
		entry.Hint = append([]byte(nil), hint[:]...)
	}
	records[loc.key()] = entry
	return nil
}

func (m *Manager) slip10Generate(s *snapshot, vault string, p SLIP10Generate) error {
	size := p.SizeBytes
	if size <= 0 {
		size = misc.DefaultSeedSize
	}
	seed, err := icrypto.RandomBytes(size)
	if err != nil {
		return fmt.Errorf("failed to generate seed: %w", err)
	}
	return writeProcedureRecord(s, vault, p.Output, seed, p.Hint)
}

func (m *Manager) slip10Derive(s *snapshot, vault string, p SLIP10Derive) (ProcedureOutput, error) {
	source, err := readProcedureRecord(s, vault, p.Source)
	if err != nil {
		return ProcedureOutput{}, err
	}

	var key slip10.ExtendedKey
	switch p.SourceKind {
	case SourceKey:
		key, err = slip10.Parse(source)
		if err == nil {
			key = key.Derive(p.Chain)
		}
	default:
		key, err = slip10.DeriveFromSeed(source, p.Chain)
	}
	memguard.WipeBytes(source)
	if err != nil {
		return ProcedureOutput{}, fmt.Errorf("derivation failed: %w", err)
	}

	chainCode := hex.EncodeToString(key.ChainCode[:])
	derived := key.Bytes()
	key.Zero()

	if err = writeProcedureRecord(s, vault, p.Output, derived, p.Hint); err != nil {
		return ProcedureOutput{}, err
	}
	return ProcedureOutput{ChainCode: chainCode}, nil
}

func (m *Manager) bip39Generate(s *snapshot, vault string, p BIP39Generate) error {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return fmt.Errorf("failed to generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	memguard.WipeBytes(entropy)
	if err != nil {
		return fmt.Errorf("failed to build mnemonic: %w", err)
	}
	seed := bip39.NewSeed(mnemonic, p.Passphrase)
	return writeProcedureRecord(s, vault, p.Output, seed, p.Hint)
}

func (m *Manager) bip39Recover(s *snapshot, vault string, p BIP39Recover) error {
	seed, err := bip39.NewSeedWithErrorChecking(p.Mnemonic, p.Passphrase)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	return writeProcedureRecord(s, vault, p.Output, seed, p.Hint)
}

// ed25519SeedFromRecord interprets a vault record as an ed25519 seed: the
// first 32 bytes of the record, which for SLIP10-derived records is the key
// half of the extended key.
func ed25519SeedFromRecord(record []byte) ([]byte, error) {
	if len(record) < ed25519.SeedSize {
		return nil, fmt.Errorf("record too short for an ed25519 key: %d bytes", len(record))
	}
	return record[:ed25519.SeedSize], nil
}

func (m *Manager) ed25519PublicKey(s *snapshot, vault string, p Ed25519PublicKey) (ProcedureOutput, error) {
	record, err := readProcedureRecord(s, vault, p.PrivateKey)
	if err != nil {
		return ProcedureOutput{}, err
	}
	defer memguard.WipeBytes(record)

	seed, err := ed25519SeedFromRecord(record)
	if err != nil {
		return ProcedureOutput{}, err
	}
	private := ed25519.NewKeyFromSeed(seed)
	defer memguard.WipeBytes(private)

	public := make([]byte, ed25519.PublicKeySize)
	copy(public, private[ed25519.SeedSize:])
	return ProcedureOutput{PublicKey: public}, nil
}

func (m *Manager) ed25519Sign(s *snapshot, vault string, p Ed25519Sign) (ProcedureOutput, error) {
	record, err := readProcedureRecord(s, vault, p.PrivateKey)
	if err != nil {
		return ProcedureOutput{}, err
	}
	defer memguard.WipeBytes(record)

	seed, err := ed25519SeedFromRecord(record)
	if err != nil {
		return ProcedureOutput{}, err
	}
	private := ed25519.NewKeyFromSeed(seed)
	defer memguard.WipeBytes(private)

	signature := ed25519.Sign(private, p.Message)
	return ProcedureOutput{Signature: signature}, nil
}
