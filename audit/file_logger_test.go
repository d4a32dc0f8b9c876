package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileLogger(t *testing.T) *FileLogger {
	t.Helper()
	logger, err := NewFileLogger(&Config{
		Enabled: true,
		Type:    FileAuditType,
		Options: map[string]interface{}{
			"file_path": filepath.Join(t.TempDir(), "audit.log"),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })
	return logger
}

func TestFileLoggerLogAndQuery(t *testing.T) {
	logger := newTestFileLogger(t)

	require.NoError(t, logger.Log("snapshot_unlock", true, map[string]interface{}{
		"snapshot_path": "/tmp/a.citadel",
	}))
	require.NoError(t, logger.Log("snapshot_unlock", false, map[string]interface{}{
		"snapshot_path": "/tmp/b.citadel",
		"error":         "authentication failed",
	}))
	require.NoError(t, logger.Log("vault_write", true, map[string]interface{}{
		"snapshot_path": "/tmp/a.citadel",
	}))

	result, err := logger.Query(QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalCount)
	assert.Len(t, result.Events, 3)

	// Metadata keys are promoted to event fields
	assert.Equal(t, "/tmp/a.citadel", result.Events[0].SnapshotPath)
	assert.Equal(t, "authentication failed", result.Events[1].Error)
	assert.NotEmpty(t, result.Events[0].ID)
}

func TestFileLoggerQueryFilters(t *testing.T) {
	logger := newTestFileLogger(t)

	require.NoError(t, logger.Log("snapshot_unlock", true, map[string]interface{}{"snapshot_path": "/a"}))
	require.NoError(t, logger.Log("snapshot_unlock", false, map[string]interface{}{"snapshot_path": "/a"}))
	require.NoError(t, logger.Log("vault_write", true, map[string]interface{}{"snapshot_path": "/b"}))

	byAction, err := logger.Query(QueryOptions{Action: "vault_write"})
	require.NoError(t, err)
	assert.Len(t, byAction.Events, 1)

	byPath, err := logger.Query(QueryOptions{SnapshotPath: "/a"})
	require.NoError(t, err)
	assert.Len(t, byPath.Events, 2)

	failed := false
	bySuccess, err := logger.Query(QueryOptions{Success: &failed})
	require.NoError(t, err)
	assert.Len(t, bySuccess.Events, 1)
}

func TestFileLoggerQueryPagination(t *testing.T) {
	logger := newTestFileLogger(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, logger.Log("op", true, nil))
	}

	page, err := logger.Query(QueryOptions{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page.Events, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, 5, page.Filtered)
}

func TestNewLoggerFactory(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)
	_, ok := logger.(*NoOpLogger)
	assert.True(t, ok)

	logger, err = NewLogger(&Config{Enabled: false, Type: FileAuditType})
	require.NoError(t, err)
	_, ok = logger.(*NoOpLogger)
	assert.True(t, ok)

	_, err = NewLogger(&Config{Enabled: true, Type: "bogus"})
	assert.Error(t, err)
}
