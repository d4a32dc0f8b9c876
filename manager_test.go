package citadel

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPassword = "this-is-a-secure-passphrase-for-testing"

func createTestManager(t *testing.T) *Manager {
	t.Helper()
	manager, err := NewManager(Options{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func testSnapshotPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.citadel")
}

func TestUnlockCreatesFreshSnapshot(t *testing.T) {
	manager := createTestManager(t)
	path := testSnapshotPath(t)

	require.NoError(t, manager.Unlock(path, []byte(testPassword)))
	assert.Equal(t, StateUnlocked, manager.Status(path).State)

	// Nothing is persisted until Save
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSaveUnlockRoundTrip(t *testing.T) {
	path := testSnapshotPath(t)
	loc := GenericLocation("kv", "greeting")

	manager := createTestManager(t)
	require.NoError(t, manager.Unlock(path, []byte(testPassword)))

	store := manager.OpenStore(path, "kv")
	require.NoError(t, store.Save(loc, []byte("hello"), 0))
	require.NoError(t, manager.Save(path))
	require.NoError(t, manager.Close())

	// A fresh manager must recover the record from the container file
	reopened := createTestManager(t)
	require.NoError(t, reopened.Unlock(path, []byte(testPassword)))

	value, err := reopened.OpenStore(path, "kv").Get(loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), value)
}

func TestUnlockWrongPassword(t *testing.T) {
	path := testSnapshotPath(t)

	manager := createTestManager(t)
	require.NoError(t, manager.Unlock(path, []byte(testPassword)))
	require.NoError(t, manager.Save(path))
	require.NoError(t, manager.Close())

	reopened := createTestManager(t)
	err := reopened.Unlock(path, []byte("not-the-password"))
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, StateLocked, reopened.Status(path).State)
}

func TestUnlockVerifiesPasswordWhenAlreadyUnlocked(t *testing.T) {
	manager := createTestManager(t)
	path := testSnapshotPath(t)

	require.NoError(t, manager.Unlock(path, []byte(testPassword)))
	assert.ErrorIs(t, manager.Unlock(path, []byte("wrong")), ErrAuthentication)
	assert.NoError(t, manager.Unlock(path, []byte(testPassword)))
}

func TestLockResumesFromMemory(t *testing.T) {
	manager := createTestManager(t)
	path := testSnapshotPath(t)
	loc := GenericLocation("kv", "k")

	require.NoError(t, manager.Unlock(path, []byte(testPassword)))
	require.NoError(t, manager.OpenStore(path, "kv").Save(loc, []byte("v"), 0))

	// Lock without ever saving, then resume with the password alone
	require.NoError(t, manager.Lock(path))
	assert.Equal(t, StateLocked, manager.Status(path).State)

	_, err := manager.OpenStore(path, "kv").Get(loc)
	assert.ErrorIs(t, err, ErrNotUnlocked)

	require.NoError(t, manager.Unlock(path, []byte(testPassword)))
	value, err := manager.OpenStore(path, "kv").Get(loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}

func TestDestroyKeepsPersistedContainer(t *testing.T) {
	manager := createTestManager(t)
	path := testSnapshotPath(t)
	loc := GenericLocation("kv", "k")

	require.NoError(t, manager.Unlock(path, []byte(testPassword)))
	require.NoError(t, manager.OpenStore(path, "kv").Save(loc, []byte("v"), 0))
	require.NoError(t, manager.Save(path))
	require.NoError(t, manager.Destroy(path))

	// Destroy unloads memory only; the container stays on disk
	_, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, StateLocked, manager.Status(path).State)

	// Handles against the destroyed path must fail until a fresh Unlock
	err = manager.OpenVault(path, "keys").SaveRecord(GenericLocation("keys", "x"), []byte("y"), RecordHint{})
	assert.ErrorIs(t, err, ErrNotUnlocked)

	// Re-unlocking with the same password recovers the saved record set
	require.NoError(t, manager.Unlock(path, []byte(testPassword)))
	value, err := manager.OpenStore(path, "kv").Get(loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}

func TestPurgeRemovesContainer(t *testing.T) {
	manager := createTestManager(t)
	path := testSnapshotPath(t)
	loc := GenericLocation("kv", "k")

	require.NoError(t, manager.Unlock(path, []byte(testPassword)))
	require.NoError(t, manager.OpenStore(path, "kv").Save(loc, []byte("v"), 0))
	require.NoError(t, manager.Save(path))
	require.NoError(t, manager.Purge(path))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, StateLocked, manager.Status(path).State)

	// A fresh Unlock starts from an empty snapshot
	require.NoError(t, manager.Unlock(path, []byte(testPassword)))
	_, err = manager.OpenStore(path, "kv").Get(loc)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestCorruptedContainerSurfacesIOError(t *testing.T) {
	path := testSnapshotPath(t)

	manager := createTestManager(t)
	require.NoError(t, manager.Unlock(path, []byte(testPassword)))
	require.NoError(t, manager.Save(path))
	require.NoError(t, manager.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &envelope))
	envelope["checksum"] = "0000000000000000"
	tampered, err := json.Marshal(envelope)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, tampered, 0600))

	reopened := createTestManager(t)
	err = reopened.Unlock(path, []byte(testPassword))
	assert.ErrorIs(t, err, ErrIO)
	assert.Equal(t, StateLocked, reopened.Status(path).State)
}

func TestIdleTimeoutLocksSnapshot(t *testing.T) {
	manager, err := NewManager(Options{IdleTimeout: 100 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer manager.Close()

	path := testSnapshotPath(t)

	transitions := make(chan Status, 4)
	unregister := manager.OnStatusChange(path, func(status Status) {
		transitions <- status
	})
	defer unregister()

	require.NoError(t, manager.Unlock(path, []byte(testPassword)))

	// unlocked event first, then the idle lock
	select {
	case status := <-transitions:
		assert.Equal(t, StateUnlocked, status.State)
	case <-time.After(time.Second):
		t.Fatal("no unlocked transition")
	}
	select {
	case status := <-transitions:
		assert.Equal(t, StateLocked, status.State)
	case <-time.After(time.Second):
		t.Fatal("no idle-lock transition")
	}
	assert.Equal(t, StateLocked, manager.Status(path).State)
}

func TestActivityResetsIdleClock(t *testing.T) {
	manager, err := NewManager(Options{IdleTimeout: 200 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer manager.Close()

	path := testSnapshotPath(t)
	require.NoError(t, manager.Unlock(path, []byte(testPassword)))

	store := manager.OpenStore(path, "kv")
	loc := GenericLocation("kv", "k")

	// Touch well inside the interval several times; the snapshot must stay
	// unlocked throughout
	for i := 0; i < 4; i++ {
		time.Sleep(80 * time.Millisecond)
		require.NoError(t, store.Save(loc, []byte("v"), 0))
	}
	assert.Equal(t, StateUnlocked, manager.Status(path).State)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	manager := createTestManager(t)
	path := testSnapshotPath(t)

	calls := make(chan Status, 8)
	unregister := manager.OnStatusChange(path, func(status Status) { calls <- status })

	unregister()
	unregister() // second call must be a no-op

	require.NoError(t, manager.Unlock(path, []byte(testPassword)))
	select {
	case <-calls:
		t.Fatal("listener fired after unregister")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStatusEventsDeliverInOrder(t *testing.T) {
	hub := newStatusHub()

	var mu sync.Mutex
	var got []SnapshotState
	unregister := hub.register("snap", func(status Status) {
		// A slow listener must not reorder closely spaced transitions
		time.Sleep(2 * time.Millisecond)
		mu.Lock()
		got = append(got, status.State)
		mu.Unlock()
	})
	defer unregister()

	want := []SnapshotState{StateUnlocked, StateLocked, StateUnlocked, StateLocked}
	for _, state := range want {
		hub.notify("snap", Status{State: state})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(want)
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, got)
}

func TestConcurrentInsertsDistinctLocations(t *testing.T) {
	manager := createTestManager(t)
	path := testSnapshotPath(t)
	require.NoError(t, manager.Unlock(path, []byte(testPassword)))

	vault := manager.OpenVault(path, "keys")
	const writers = 16

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			loc := CounterLocation("keys", uint64(i))
			if err := vault.SaveRecord(loc, []byte(fmt.Sprintf("key-%d", i)), RecordHint{}); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	infos, err := vault.ListRecords()
	require.NoError(t, err)
	assert.Len(t, infos, writers)
}

func TestConcurrentInsertsSameLocation(t *testing.T) {
	manager := createTestManager(t)
	path := testSnapshotPath(t)
	require.NoError(t, manager.Unlock(path, []byte(testPassword)))

	store := manager.OpenStore(path, "kv")
	loc := GenericLocation("kv", "contended")
	const writers = 16

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.Save(loc, []byte(fmt.Sprintf("value-%d", i)), 0); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	// Last writer wins: the surviving value must be exactly one of the
	// written values, never a mix
	value, err := store.Get(loc)
	require.NoError(t, err)
	found := false
	for i := 0; i < writers; i++ {
		if string(value) == fmt.Sprintf("value-%d", i) {
			found = true
			break
		}
	}
	assert.True(t, found, "surviving value is not one of the written values: %q", value)
}

func TestSetPasswordClearInterval(t *testing.T) {
	manager := createTestManager(t)
	path := testSnapshotPath(t)
	require.NoError(t, manager.Unlock(path, []byte(testPassword)))

	// Idle locking is disabled by default
	time.Sleep(150 * time.Millisecond)
	require.Equal(t, StateUnlocked, manager.Status(path).State)

	manager.SetPasswordClearInterval(100 * time.Millisecond)
	assert.Eventually(t, func() bool {
		return manager.Status(path).State == StateLocked
	}, time.Second, 20*time.Millisecond)
}

func TestStatusNeverUnlockedPath(t *testing.T) {
	manager := createTestManager(t)
	status := manager.Status("/nowhere/nothing.citadel")
	assert.Equal(t, StateLocked, status.State)
}

func TestOperationsOnClosedManager(t *testing.T) {
	manager := createTestManager(t)
	path := testSnapshotPath(t)
	require.NoError(t, manager.Unlock(path, []byte(testPassword)))
	require.NoError(t, manager.Close())

	err := manager.Unlock(path, []byte(testPassword))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrAuthentication))
}
