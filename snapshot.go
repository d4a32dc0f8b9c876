package citadel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/awnumar/memguard"

	icrypto "southwinds.dev/citadel/internal/crypto"
	"southwinds.dev/citadel/internal/misc"
	"southwinds.dev/citadel/persist"
)

// vaultRecord is one procedure-gated record: ciphertext under the container
// master key plus its write-time hint.
type vaultRecord struct {
	Ciphertext []byte `json:"ct"`
	Hint       []byte `json:"hint,omitempty"`
}

// storeRecord is one unstructured store entry with optional expiry.
type storeRecord struct {
	Ciphertext []byte     `json:"ct"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// containerEnvelope is the on-disk snapshot container format.
//
//	Salt     argon2id salt for the password-derived wrapping key
//	Key      random master key, sealed under the wrapping key
//	Payload  containerPayload JSON, sealed under the master key
//	Checksum sha256 of Payload, detects container corruption before
//	         decryption is attempted
type containerEnvelope struct {
	Version  int    `json:"version"`
	Salt     []byte `json:"salt"`
	Key      []byte `json:"key"`
	Payload  []byte `json:"payload"`
	Checksum string `json:"checksum"`
}

// containerPayload is the serialized record state of one snapshot.
type containerPayload struct {
	Vaults map[string]map[string]vaultRecord `json:"vaults,omitempty"`
	Stores map[string]map[string]storeRecord `json:"stores,omitempty"`
}

// snapshot is the in-memory state behind one unlocked snapshot path.
//
// Records are held as ciphertext under the master key at all times;
// plaintext exists only transiently inside procedure execution and store
// reads. Locking (idle timeout) zeroes both key enclaves but retains the
// salt, the wrapped master key and the ciphertext maps, so a later Unlock
// with the correct password resumes without touching disk.
type snapshot struct {
	path  string
	store persist.Store

	locked bool

	salt          []byte
	derivationKey *memguard.Enclave // argon2id(password, salt)
	masterKey     *memguard.Enclave // random, wrapped under derivationKey
	wrappedKey    []byte            // masterKey sealed under derivationKey

	vaults map[string]map[string]vaultRecord
	stores map[string]map[string]storeRecord

	// version is the checksum of the last container loaded or saved, used
	// for optimistic concurrency against the persist backend.
	version string

	lastAccess time.Time
	idleTimer  *time.Timer
}

// newSnapshot initializes an empty unlocked snapshot with fresh key material.
func newSnapshot(path string, store persist.Store, password []byte) (*snapshot, error) {
	salt, err := icrypto.RandomBytes(misc.SaltSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	s := &snapshot{
		path:       path,
		store:      store,
		salt:       salt,
		vaults:     make(map[string]map[string]vaultRecord),
		stores:     make(map[string]map[string]storeRecord),
		lastAccess: time.Now(),
	}

	if err = s.deriveKey(password); err != nil {
		return nil, err
	}

	master, err := icrypto.RandomBytes(misc.MasterKeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	if err = s.adoptMasterKey(master); err != nil {
		return nil, err
	}

	return s, nil
}

// loadSnapshot decrypts an existing container blob into an unlocked snapshot.
func loadSnapshot(path string, store persist.Store, password, container []byte) (*snapshot, error) {
	var envelope containerEnvelope
	if err := json.Unmarshal(container, &envelope); err != nil {
		return nil, fmt.Errorf("%w: malformed snapshot container: %v", ErrIO, err)
	}
	if envelope.Version != misc.ContainerVersion {
		return nil, fmt.Errorf("%w: unsupported container version %d", ErrIO, envelope.Version)
	}
	if len(envelope.Salt) != misc.SaltSize {
		return nil, fmt.Errorf("%w: invalid container salt", ErrIO)
	}
	if envelope.Checksum != icrypto.Checksum(envelope.Payload) {
		return nil, fmt.Errorf("%w: snapshot container checksum mismatch", ErrIO)
	}

	s := &snapshot{
		path:       path,
		store:      store,
		salt:       envelope.Salt,
		wrappedKey: envelope.Key,
		lastAccess: time.Now(),
	}

	if err := s.deriveKey(password); err != nil {
		return nil, err
	}

	master, err := s.unwrapMasterKey()
	if err != nil {
		s.destroy()
		return nil, err
	}
	s.masterKey = memguard.NewEnclave(master)

	// Decrypt the record payload under the master key
	masterBuf, err := s.masterKey.Open()
	if err != nil {
		s.destroy()
		return nil, fmt.Errorf("failed to access master key: %w", err)
	}
	payloadBytes, err := icrypto.Open(envelope.Payload, masterBuf.Bytes())
	masterBuf.Destroy()
	if err != nil {
		s.destroy()
		return nil, fmt.Errorf("%w: container payload cannot be decrypted", ErrAuthentication)
	}

	var payload containerPayload
	err = json.Unmarshal(payloadBytes, &payload)
	memguard.WipeBytes(payloadBytes)
	if err != nil {
		s.destroy()
		return nil, fmt.Errorf("%w: malformed container payload: %v", ErrIO, err)
	}

	s.vaults = payload.Vaults
	if s.vaults == nil {
		s.vaults = make(map[string]map[string]vaultRecord)
	}
	s.stores = payload.Stores
	if s.stores == nil {
		s.stores = make(map[string]map[string]storeRecord)
	}

	return s, nil
}

// deriveKey derives the wrapping key from the password and the snapshot salt
// and stores it in a fresh enclave. The password bytes are wiped.
func (s *snapshot) deriveKey(password []byte) error {
	defer memguard.WipeBytes(password)

	saltCopy := make([]byte, len(s.salt))
	copy(saltCopy, s.salt)
	saltEnclave := memguard.NewEnclave(saltCopy)

	derived, err := icrypto.DeriveKey(password, saltEnclave)
	if err != nil {
		return fmt.Errorf("failed to derive key: %w", err)
	}

	keyCopy := make([]byte, len(derived.Bytes()))
	copy(keyCopy, derived.Bytes())
	derived.Destroy()

	s.derivationKey = memguard.NewEnclave(keyCopy)
	return nil
}

// adoptMasterKey takes ownership of raw master key bytes: wraps them under
// the derivation key, stores them in an enclave and wipes the input.
func (s *snapshot) adoptMasterKey(master []byte) error {
	derivBuf, err := s.derivationKey.Open()
	if err != nil {
		memguard.WipeBytes(master)
		return fmt.Errorf("failed to access derivation key: %w", err)
	}
	wrapped, err := icrypto.Seal(master, derivBuf.Bytes())
	derivBuf.Destroy()
	if err != nil {
		memguard.WipeBytes(master)
		return fmt.Errorf("failed to wrap master key: %w", err)
	}

	s.wrappedKey = wrapped
	s.masterKey = memguard.NewEnclave(master)
	return nil
}

// unwrapMasterKey opens the wrapped master key with the current derivation
// key. An AEAD failure means the password was wrong.
func (s *snapshot) unwrapMasterKey() ([]byte, error) {
	derivBuf, err := s.derivationKey.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to access derivation key: %w", err)
	}
	defer derivBuf.Destroy()

	master, err := icrypto.Open(s.wrappedKey, derivBuf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: container key cannot be unwrapped", ErrAuthentication)
	}
	return master, nil
}

// verify checks a password against the retained salt and wrapped key
// without disturbing the snapshot's live key material.
func (s *snapshot) verify(password []byte) error {
	defer memguard.WipeBytes(password)

	saltCopy := make([]byte, len(s.salt))
	copy(saltCopy, s.salt)

	derived, err := icrypto.DeriveKey(password, memguard.NewEnclave(saltCopy))
	if err != nil {
		return fmt.Errorf("failed to derive key: %w", err)
	}
	master, err := icrypto.Open(s.wrappedKey, derived.Bytes())
	derived.Destroy()
	if err != nil {
		return fmt.Errorf("%w: container key cannot be unwrapped", ErrAuthentication)
	}
	memguard.WipeBytes(master)
	return nil
}

// sealValue encrypts plaintext under the master key.
func (s *snapshot) sealValue(value []byte) ([]byte, error) {
	if s.locked || s.masterKey == nil {
		return nil, ErrNotUnlocked
	}
	masterBuf, err := s.masterKey.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to access master key: %w", err)
	}
	defer masterBuf.Destroy()
	return icrypto.Seal(value, masterBuf.Bytes())
}

// openValue decrypts a record ciphertext under the master key.
func (s *snapshot) openValue(ciphertext []byte) ([]byte, error) {
	if s.locked || s.masterKey == nil {
		return nil, ErrNotUnlocked
	}
	masterBuf, err := s.masterKey.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to access master key: %w", err)
	}
	defer masterBuf.Destroy()
	return icrypto.Open(ciphertext, masterBuf.Bytes())
}

// sealContainer serializes the snapshot into an encrypted container blob.
// Callers must hold at least a read lock on the owning manager's snapshot
// entry so the maps form a consistent point-in-time view.
func (s *snapshot) sealContainer() ([]byte, error) {
	if s.locked || s.masterKey == nil {
		return nil, ErrNotUnlocked
	}

	payloadBytes, err := json.Marshal(containerPayload{
		Vaults: s.vaults,
		Stores: s.stores,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal container payload: %w", err)
	}

	sealed, err := s.sealValue(payloadBytes)
	memguard.WipeBytes(payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to seal container payload: %w", err)
	}

	envelope := containerEnvelope{
		Version:  misc.ContainerVersion,
		Salt:     s.salt,
		Key:      s.wrappedKey,
		Payload:  sealed,
		Checksum: icrypto.Checksum(sealed),
	}

	container, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal container envelope: %w", err)
	}
	return container, nil
}

// relock zeroes key enclaves but keeps salt, wrapped key and ciphertext
// state so the snapshot can be reopened with the password alone.
func (s *snapshot) relock() {
	s.locked = true
	s.derivationKey = nil
	s.masterKey = nil
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}

// reopen re-derives the wrapping key from the password and unwraps the
// retained master key.
func (s *snapshot) reopen(password []byte) error {
	if err := s.deriveKey(password); err != nil {
		return err
	}
	master, err := s.unwrapMasterKey()
	if err != nil {
		s.derivationKey = nil
		return err
	}
	s.masterKey = memguard.NewEnclave(master)
	s.locked = false
	s.lastAccess = time.Now()
	return nil
}

// destroy zeroes everything the snapshot holds.
func (s *snapshot) destroy() {
	s.locked = true
	s.derivationKey = nil
	s.masterKey = nil
	memguard.WipeBytes(s.salt)
	s.salt = nil
	memguard.WipeBytes(s.wrappedKey)
	s.wrappedKey = nil
	for _, records := range s.vaults {
		for key, record := range records {
			memguard.WipeBytes(record.Ciphertext)
			delete(records, key)
		}
	}
	s.vaults = nil
	for _, entries := range s.stores {
		for key, entry := range entries {
			memguard.WipeBytes(entry.Ciphertext)
			delete(entries, key)
		}
	}
	s.stores = nil
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}
