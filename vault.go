package citadel

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/awnumar/memguard"
)

// Vault is a handle to one named vault inside a snapshot. Vault records are
// write-only from the caller's perspective: they can be created, checked,
// listed, revoked and consumed by procedures, but never read back.
//
// A handle carries no state beyond its coordinates, so it stays valid across
// lock/unlock cycles; operations simply fail with ErrNotUnlocked while the
// snapshot is locked.
type Vault struct {
	m    *Manager
	path string
	name string
}

// RecordInfo describes one vault record for listing: its location and the
// hint supplied at write time.
type RecordInfo struct {
	Location Location
	Hint     RecordHint
}

// OpenVault returns a handle to the named vault at path. The vault itself is
// created lazily on first write; opening never fails.
func (m *Manager) OpenVault(path, name string, flags ...SnapshotFlag) *Vault {
	return &Vault{m: m, path: path, name: name}
}

func (v *Vault) Name() string { return v.name }

// SaveRecord writes a record at loc, overwriting any existing record there.
func (v *Vault) SaveRecord(loc Location, record []byte, hint RecordHint) error {
	return v.m.SaveRecord(v.path, v.name, loc, record, hint)
}

// RemoveRecord revokes the record at loc. Removing an absent record is an error.
func (v *Vault) RemoveRecord(loc Location) error {
	return v.m.RemoveRecord(v.path, v.name, loc, false)
}

// ContainsRecord reports whether a record exists at loc.
func (v *Vault) ContainsRecord(loc Location) (bool, error) {
	return v.m.ContainsRecord(v.path, v.name, loc)
}

// ListRecords returns the location and hint of every record in the vault.
func (v *Vault) ListRecords() ([]RecordInfo, error) {
	return v.m.ListRecords(v.path, v.name)
}

// Execute runs a cryptographic procedure against this vault.
func (v *Vault) Execute(procedure Procedure) (ProcedureOutput, error) {
	return v.m.Execute(v.path, v.name, procedure)
}

// checkLocation validates that loc addresses the named vault or store. An
// empty location vault means "the vault this handle is for".
func checkLocation(loc Location, name string) error {
	if loc.Vault != "" && loc.Vault != name {
		return fmt.Errorf("location addresses %q, not %q", loc.Vault, name)
	}
	if loc.Kind == LocationGeneric && loc.Record == "" {
		return fmt.Errorf("generic location has no record name")
	}
	return nil
}

// SaveRecord writes a vault record. The plaintext is sealed under the
// snapshot master key before it enters the record map and the caller's copy
// is wiped.
func (m *Manager) SaveRecord(path, vault string, loc Location, record []byte, hint RecordHint) error {
	if err := checkLocation(loc, vault); err != nil {
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

	m.touchLocked(path, s)
	m.auditEvent("vault_write", true, path, nil)
	return nil
}

// RemoveRecord revokes a vault record, wiping its ciphertext. When collect is
// set, reclaimable state is compacted in the same critical section.
func (m *Manager) RemoveRecord(path, vault string, loc Location, collect bool) error {
	if err := checkLocation(loc, vault); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.unlocked(path)
	if err != nil {
		return err
	}

	records, ok := s.vaults[vault]
	if !ok {
		return fmt.Errorf("%w: vault %q", ErrLocationNotFound, vault)
	}
	entry, ok := records[loc.key()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocationNotFound, loc)
	}
	memguard.WipeBytes(entry.Ciphertext)
	delete(records, loc.key())

	if collect {
		m.collectLocked(s, vault)
	}

	m.touchLocked(path, s)
	m.auditEvent("vault_revoke", true, path, nil)
	return nil
}

// ContainsRecord reports whether a vault record exists at loc.
func (m *Manager) ContainsRecord(path, vault string, loc Location) (bool, error) {
	if err := checkLocation(loc, vault); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.unlocked(path)
	if err != nil {
		return false, err
	}
	m.touchLocked(path, s)

	records, ok := s.vaults[vault]
	if !ok {
		return false, nil
	}
	_, ok = records[loc.key()]
	return ok, nil
}

// ContainsVault reports whether the named vault exists, meaning it holds at
// least one record.
func (m *Manager) ContainsVault(path, vault string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.unlocked(path)
	if err != nil {
		return false, err
	}
	m.touchLocked(path, s)

	records, ok := s.vaults[vault]
	return ok && len(records) > 0, nil
}

// CreateVault ensures the named vault exists, creating it empty if absent.
func (m *Manager) CreateVault(path, vault string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.unlocked(path)
	if err != nil {
		return err
	}
	if _, ok := s.vaults[vault]; !ok {
		s.vaults[vault] = make(map[string]vaultRecord)
	}
	m.touchLocked(path, s)
	return nil
}

// ListRecords returns location and hint for every record in the vault,
// sorted by storage key for a stable order.
func (m *Manager) ListRecords(path, vault string) ([]RecordInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.unlocked(path)
	if err != nil {
		return nil, err
	}
	m.touchLocked(path, s)

	records := s.vaults[vault]
	keys := make([]string, 0, len(records))
	for key := range records {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	infos := make([]RecordInfo, 0, len(keys))
	for _, key := range keys {
		info := RecordInfo{Location: locationFromKey(vault, key)}
		copy(info.Hint[:], records[key].Hint)
		infos = append(infos, info)
	}
	return infos, nil
}

// GarbageCollect reclaims reclaimable state at path: expired store entries
// are dropped and empty vault record maps removed.
func (m *Manager) GarbageCollect(path, vault string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.unlocked(path)
	if err != nil {
		return err
	}
	m.collectLocked(s, vault)

	m.touchLocked(path, s)
	m.auditEvent("garbage_collect", true, path, nil)
	return nil
}

// collectLocked reclaims expired store entries and empty vault record maps.
// Callers hold m.mu for writing.
func (m *Manager) collectLocked(s *snapshot, vault string) {
	if records, ok := s.vaults[vault]; ok && len(records) == 0 {
		delete(s.vaults, vault)
	}
	pruneExpired(s)
}

// locationFromKey is the inverse of Location.key.
func locationFromKey(vault, key string) Location {
	if rest, ok := strings.CutPrefix(key, "c/"); ok {
		counter, err := strconv.ParseUint(rest, 10, 64)
		if err == nil {
			return CounterLocation(vault, counter)
		}
	}
	return GenericLocation(vault, strings.TrimPrefix(key, "g/"))
}
