package citadel

import (
	"fmt"
	"time"

	"github.com/awnumar/memguard"
)

// Store is a handle to one named unstructured store inside a snapshot.
// Unlike vault records, store entries can be read back, and each entry may
// carry a lifetime after which it behaves as absent.
type Store struct {
	m    *Manager
	path string
	name string
}

// OpenStore returns a handle to the named store at path. Like vaults, stores
// materialize on first write.
func (m *Manager) OpenStore(path, name string, flags ...SnapshotFlag) *Store {
	return &Store{m: m, path: path, name: name}
}

func (s *Store) Name() string { return s.name }

// Get reads the entry at loc. Expired entries report ErrRecordNotFound.
func (s *Store) Get(loc Location) ([]byte, error) {
	return s.m.GetStoreRecord(s.path, s.name, loc)
}

// Save writes an entry at loc. A zero lifetime means the entry never expires.
func (s *Store) Save(loc Location, record []byte, lifetime time.Duration) error {
	return s.m.SaveStoreRecord(s.path, s.name, loc, record, lifetime)
}

// Remove deletes the entry at loc. Removing an absent entry is not an error.
func (s *Store) Remove(loc Location) error {
	return s.m.RemoveStoreRecord(s.path, s.name, loc)
}

// GetStoreRecord decrypts and returns a store entry. An entry past its
// lifetime is treated as absent; its ciphertext is reclaimed on the next
// garbage collection.
func (m *Manager) GetStoreRecord(path, store string, loc Location) ([]byte, error) {
	if err := checkLocation(loc, store); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.unlocked(path)
	if err != nil {
		return nil, err
	}
	m.touchLocked(path, s)

	entries, ok := s.stores[store]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, loc)
	}
	entry, ok := entries[loc.key()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, loc)
	}
	if entry.ExpiresAt != nil && !entry.ExpiresAt.After(time.Now()) {
		return nil, fmt.Errorf("%w: %s has expired", ErrRecordNotFound, loc)
	}

	value, err := s.openValue(entry.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to open store record: %w", err)
	}
	return value, nil
}

// SaveStoreRecord encrypts and writes a store entry, overwriting any
// existing entry at loc. Lifetime zero means no expiry.
func (m *Manager) SaveStoreRecord(path, store string, loc Location, record []byte, lifetime time.Duration) error {
	if err := checkLocation(loc, store); err != nil {
		memguard.WipeBytes(record)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.unlocked(path)
	if err != nil {
		memguard.WipeBytes(record)
		return err
	}

	ciphertext, err := s.sealValue(record)
	memguard.WipeBytes(record)
	if err != nil {
		return fmt.Errorf("failed to seal store record: %w", err)
	}

	entries, ok := s.stores[store]
	if !ok {
		entries = make(map[string]storeRecord)
		s.stores[store] = entries
	}

	entry := storeRecord{Ciphertext: ciphertext}
	if lifetime > 0 {
		expires := time.Now().Add(lifetime)
		entry.ExpiresAt = &expires
	}
	entries[loc.key()] = entry

	m.touchLocked(path, s)
	m.auditEvent("store_write", true, path, nil)
	return nil
}

// RemoveStoreRecord deletes a store entry. Absent entries are a no-op.
func (m *Manager) RemoveStoreRecord(path, store string, loc Location) error {
	if err := checkLocation(loc, store); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.unlocked(path)
	if err != nil {
		return err
	}

	if entries, ok := s.stores[store]; ok {
		if entry, ok := entries[loc.key()]; ok {
			memguard.WipeBytes(entry.Ciphertext)
			delete(entries, loc.key())
		}
	}

	m.touchLocked(path, s)
	m.auditEvent("store_delete", true, path, nil)
	return nil
}

// pruneExpired rebuilds store maps without expired entries. Callers hold the
// manager mutex.
func pruneExpired(s *snapshot) {
	now := time.Now()
	for name, entries := range s.stores {
		for key, entry := range entries {
			if entry.ExpiresAt != nil && !entry.ExpiresAt.After(now) {
				memguard.WipeBytes(entry.Ciphertext)
				delete(entries, key)
			}
		}
		if len(entries) == 0 {
			delete(s.stores, name)
		}
	}
}
