package citadel

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"southwinds.dev/citadel/audit"
	"southwinds.dev/citadel/internal/mem"
	"southwinds.dev/citadel/persist"
)

// Manager owns every snapshot path the process has unlocked. It is safe for
// concurrent use: a single mutex serializes all state transitions and record
// mutations, so every operation observes either the state before or after
// any concurrent operation, never a mix.
type Manager struct {
	mu        sync.RWMutex
	snapshots map[string]*snapshot
	newStore  func(path string) (persist.Store, error)

	hub           *statusHub
	clearInterval time.Duration

	auditLogger audit.Logger
	protection  mem.ProtectionLevel
	closed      bool
}

// NewManager creates a snapshot manager from engine options. The audit logger
// may be nil, in which case events are discarded.
func NewManager(options Options, auditLogger audit.Logger) (*Manager, error) {
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}

	protection := mem.ProtectionNone
	if options.EnableMemoryLock {
		level, err := mem.Lock()
		if err != nil {
			_ = auditLogger.Log("memory_lock", false, map[string]interface{}{"error": err.Error()})
		}
		protection = level
	}

	storeConfig := options.Store
	return &Manager{
		snapshots: make(map[string]*snapshot),
		newStore: func(path string) (persist.Store, error) {
			return persist.NewStore(storeConfig, path)
		},
		hub:           newStatusHub(),
		clearInterval: options.IdleTimeout,
		auditLogger:   auditLogger,
		protection:    protection,
	}, nil
}

// Unlock loads or creates the snapshot at path with the given password.
//
// If no container exists at path a fresh empty snapshot is initialized with
// new key material. If the path is already unlocked the password is verified
// against the resident key material and the idle clock resets. The password
// bytes are wiped before Unlock returns.
func (m *Manager) Unlock(path string, password []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		memguard.WipeBytes(password)
		return errors.New("manager is closed")
	}

	s, exists := m.snapshots[path]
	if exists && !s.locked {
		err := s.verify(password)
		m.auditEvent("snapshot_unlock", err == nil, path, err)
		if err != nil {
			return err
		}
		m.touchLocked(path, s)
		return nil
	}

	if exists {
		// Locked in memory: re-derive and resume without touching disk
		err := s.reopen(password)
		m.auditEvent("snapshot_unlock", err == nil, path, err)
		if err != nil {
			return err
		}
		m.armIdleTimer(path, s)
		m.hub.notify(path, Status{State: StateUnlocked})
		return nil
	}

	store, err := m.newStore(path)
	if err != nil {
		memguard.WipeBytes(password)
		m.auditEvent("snapshot_unlock", false, path, err)
		return fmt.Errorf("%w: failed to open store: %v", ErrIO, err)
	}

	data, err := store.Load()
	switch {
	case errors.Is(err, persist.ErrNotExist):
		s, err = newSnapshot(path, store, password)
	case err != nil:
		memguard.WipeBytes(password)
		err = fmt.Errorf("%w: failed to load snapshot container: %v", ErrIO, err)
	default:
		s, err = loadSnapshot(path, store, password, data.Data)
		if err == nil {
			s.version = data.Version
		}
	}
	m.auditEvent("snapshot_unlock", err == nil, path, err)
	if err != nil {
		store.Close()
		return err
	}

	m.snapshots[path] = s
	m.armIdleTimer(path, s)
	m.hub.notify(path, Status{State: StateUnlocked})
	return nil
}

// Save seals the snapshot at path and writes the container to its store.
func (m *Manager) Save(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.unlocked(path)
	if err != nil {
		m.auditEvent("snapshot_save", false, path, err)
		return err
	}

	container, err := s.sealContainer()
	if err == nil {
		var version string
		version, err = s.store.Save(container, s.version)
		if err == nil {
			s.version = version
		} else {
			err = fmt.Errorf("%w: failed to persist snapshot container: %v", ErrIO, err)
		}
	}
	m.auditEvent("snapshot_save", err == nil, path, err)
	if err != nil {
		return err
	}
	m.touchLocked(path, s)
	return nil
}

// Lock transitions the snapshot at path to Locked, zeroing its key material.
// Ciphertext state stays resident so a later Unlock resumes from memory.
func (m *Manager) Lock(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.snapshots[path]
	if !exists || s.locked {
		return ErrNotUnlocked
	}
	s.relock()
	m.auditEvent("snapshot_lock", true, path, nil)
	m.hub.notify(path, Status{State: StateLocked})
	return nil
}

// Destroy wipes the snapshot at path from memory: derived keys and record
// caches are zeroed and the path transitions to Locked. The persisted
// container is left untouched, so a later Unlock with the same password
// restores whatever the last Save wrote. Until then handles against the path
// fail with ErrNotUnlocked.
func (m *Manager) Destroy(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.snapshots[path]
	if !exists {
		return ErrNotUnlocked
	}
	delete(m.snapshots, path)
	s.store.Close()
	s.destroy()

	m.auditEvent("snapshot_destroy", true, path, nil)
	m.hub.notify(path, Status{State: StateLocked})
	return nil
}

// Purge destroys the snapshot at path and additionally deletes its persisted
// container. Unlike Destroy this is unrecoverable: a later Unlock starts
// from an empty snapshot.
func (m *Manager) Purge(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.snapshots[path]
	if !exists {
		return ErrNotUnlocked
	}
	delete(m.snapshots, path)

	var err error
	if deleteErr := s.store.Delete(); deleteErr != nil && !errors.Is(deleteErr, persist.ErrNotExist) {
		err = fmt.Errorf("%w: failed to delete snapshot container: %v", ErrIO, deleteErr)
	}
	s.store.Close()
	s.destroy()

	m.auditEvent("snapshot_purge", err == nil, path, err)
	m.hub.notify(path, Status{State: StateLocked})
	return err
}

// Status reports the lock state of path. Paths never unlocked report Locked.
func (m *Manager) Status(path string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.snapshots[path]
	if !exists || s.locked {
		return Status{State: StateLocked}
	}
	return Status{State: StateUnlocked, IdleSince: time.Since(s.lastAccess)}
}

// OnStatusChange registers a listener for status transitions on path and
// returns its unregister function. Listeners are invoked asynchronously.
func (m *Manager) OnStatusChange(path string, fn func(Status)) func() {
	return m.hub.register(path, fn)
}

// SetPasswordClearInterval changes the idle timeout applied to every
// unlocked snapshot. Zero disables idle locking.
func (m *Manager) SetPasswordClearInterval(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clearInterval = interval
	for path, s := range m.snapshots {
		if s.locked {
			continue
		}
		if s.idleTimer != nil {
			s.idleTimer.Stop()
			s.idleTimer = nil
		}
		m.armIdleTimer(path, s)
	}
}

// Close locks every snapshot and releases the manager's resources. Persisted
// containers are left in place.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	for path, s := range m.snapshots {
		if !s.locked {
			s.relock()
			m.hub.notify(path, Status{State: StateLocked})
		}
		s.store.Close()
		delete(m.snapshots, path)
	}

	if m.protection == mem.ProtectionFull {
		_ = mem.Unlock()
	}
	return nil
}

// MemoryProtection reports the level of memory locking in effect.
func (m *Manager) MemoryProtection() mem.ProtectionLevel {
	return m.protection
}

// unlocked returns the unlocked snapshot at path. Callers hold m.mu.
func (m *Manager) unlocked(path string) (*snapshot, error) {
	s, exists := m.snapshots[path]
	if !exists || s.locked {
		return nil, ErrNotUnlocked
	}
	return s, nil
}

// touchLocked resets the idle clock for an unlocked snapshot. Callers hold
// m.mu for writing.
func (m *Manager) touchLocked(path string, s *snapshot) {
	s.lastAccess = time.Now()
	if s.idleTimer != nil && m.clearInterval > 0 {
		s.idleTimer.Reset(m.clearInterval)
	}
}

// armIdleTimer starts the idle timer for a freshly unlocked snapshot.
// Callers hold m.mu for writing.
func (m *Manager) armIdleTimer(path string, s *snapshot) {
	if m.clearInterval <= 0 {
		return
	}
	interval := m.clearInterval
	s.idleTimer = time.AfterFunc(interval, func() {
		m.idleExpire(path, interval)
	})
}

// idleExpire fires when an idle timer elapses. The idle clock is re-checked
// under the lock: an operation may have raced the timer.
func (m *Manager) idleExpire(path string, interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.snapshots[path]
	if !exists || s.locked {
		return
	}
	if elapsed := time.Since(s.lastAccess); elapsed < interval {
		if s.idleTimer != nil {
			s.idleTimer.Reset(interval - elapsed)
		}
		return
	}
	s.relock()
	m.auditEvent("snapshot_idle_lock", true, path, nil)
	m.hub.notify(path, Status{State: StateLocked})
}

func (m *Manager) auditEvent(action string, success bool, path string, err error) {
	metadata := map[string]interface{}{"snapshot_path": path}
	if err != nil {
		metadata["error"] = err.Error()
	}
	_ = m.auditLogger.Log(action, success, metadata)
}
