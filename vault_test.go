package citadel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unlockedTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	manager := createTestManager(t)
	path := testSnapshotPath(t)
	require.NoError(t, manager.Unlock(path, []byte(testPassword)))
	return manager, path
}

func TestVaultSaveAndContains(t *testing.T) {
	manager, path := unlockedTestManager(t)
	vault := manager.OpenVault(path, "keys")
	loc := GenericLocation("keys", "signing")

	exists, err := vault.ContainsRecord(loc)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, vault.SaveRecord(loc, []byte("secret material"), NewRecordHint("signing key")))

	exists, err = vault.ContainsRecord(loc)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestVaultRemoveRecord(t *testing.T) {
	manager, path := unlockedTestManager(t)
	vault := manager.OpenVault(path, "keys")
	loc := CounterLocation("keys", 7)

	require.NoError(t, vault.SaveRecord(loc, []byte("x"), RecordHint{}))
	require.NoError(t, vault.RemoveRecord(loc))

	exists, err := vault.ContainsRecord(loc)
	require.NoError(t, err)
	assert.False(t, exists)

	// Revoking twice is an error: the record is gone
	assert.ErrorIs(t, vault.RemoveRecord(loc), ErrLocationNotFound)
}

func TestRemoveRecordWithCollect(t *testing.T) {
	manager, path := unlockedTestManager(t)
	vault := manager.OpenVault(path, "keys")
	loc := GenericLocation("keys", "only")

	require.NoError(t, vault.SaveRecord(loc, []byte("x"), RecordHint{}))
	require.NoError(t, manager.RemoveRecord(path, "keys", loc, true))

	// Removing the last record with collect drops the empty vault map too
	manager.mu.Lock()
	_, retained := manager.snapshots[path].vaults["keys"]
	manager.mu.Unlock()
	assert.False(t, retained)
}

func TestVaultListRecords(t *testing.T) {
	manager, path := unlockedTestManager(t)
	vault := manager.OpenVault(path, "keys")

	require.NoError(t, vault.SaveRecord(GenericLocation("keys", "alpha"), []byte("a"), NewRecordHint("first")))
	require.NoError(t, vault.SaveRecord(CounterLocation("keys", 3), []byte("b"), RecordHint{}))

	infos, err := vault.ListRecords()
	require.NoError(t, err)
	require.Len(t, infos, 2)

	// Counter keys sort before generic keys
	assert.Equal(t, CounterLocation("keys", 3), infos[0].Location)
	assert.Equal(t, GenericLocation("keys", "alpha"), infos[1].Location)
	assert.Equal(t, "first", infos[1].Hint.String())
	assert.True(t, infos[0].Hint.IsZero())
}

func TestVaultLocationMismatch(t *testing.T) {
	manager, path := unlockedTestManager(t)
	vault := manager.OpenVault(path, "keys")

	err := vault.SaveRecord(GenericLocation("other", "r"), []byte("x"), RecordHint{})
	require.Error(t, err)

	// Empty location vault means the handle's vault
	assert.NoError(t, vault.SaveRecord(Location{Kind: LocationGeneric, Record: "r"}, []byte("x"), RecordHint{}))
}

func TestContainsVault(t *testing.T) {
	manager, path := unlockedTestManager(t)

	exists, err := manager.ContainsVault(path, "keys")
	require.NoError(t, err)
	assert.False(t, exists)

	vault := manager.OpenVault(path, "keys")
	loc := GenericLocation("keys", "r")
	require.NoError(t, vault.SaveRecord(loc, []byte("x"), RecordHint{}))

	exists, err = manager.ContainsVault(path, "keys")
	require.NoError(t, err)
	assert.True(t, exists)

	// Removing the last record empties the vault again
	require.NoError(t, vault.RemoveRecord(loc))
	exists, err = manager.ContainsVault(path, "keys")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestVaultOverwriteKeepsLatest(t *testing.T) {
	manager, path := unlockedTestManager(t)
	vault := manager.OpenVault(path, "keys")
	loc := GenericLocation("keys", "r")

	require.NoError(t, vault.SaveRecord(loc, []byte("one"), NewRecordHint("v1")))
	require.NoError(t, vault.SaveRecord(loc, []byte("two"), NewRecordHint("v2")))

	infos, err := vault.ListRecords()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "v2", infos[0].Hint.String())
}

func TestRecordHintTruncation(t *testing.T) {
	hint := NewRecordHint("a hint that is far longer than twenty-four bytes")
	assert.Len(t, hint.String(), RecordHintSize)
	assert.False(t, hint.IsZero())
}
