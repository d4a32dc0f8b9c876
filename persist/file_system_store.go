package persist

import (
	"fmt"
	"os"
	"path/filepath"

	"southwinds.dev/citadel/internal/crypto"
	"southwinds.dev/citadel/internal/misc"
)

const (
	FilePermissions os.FileMode = misc.FilePermissions
	DirPermissions  os.FileMode = misc.DirPermissions
)

// FileSystemStore implements Store for a local container file with
// write-to-temp-then-rename atomicity and optimistic concurrency control.
type FileSystemStore struct {
	path string // full path of the container file
	dir  string // parent directory, also hosts the temp file during Save
}

// NewFileSystemStore initializes and returns a new instance of FileSystemStore
func NewFileSystemStore(snapshotPath string) (*FileSystemStore, error) {
	abs, err := filepath.Abs(snapshotPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve snapshot path: %w", err)
	}

	fs := &FileSystemStore{
		path: abs,
		dir:  filepath.Dir(abs),
	}

	if err = os.MkdirAll(fs.dir, DirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory %s: %w", fs.dir, err)
	}

	return fs, nil
}

// Load returns the versioned container blob
func (fs *FileSystemStore) Load() (*VersionedData, error) {
	fileInfo, err := os.Stat(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, fs.path)
		}
		return nil, fmt.Errorf("failed to stat snapshot container: %w", err)
	}

	data, err := os.ReadFile(fs.path)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot container: %w", err)
	}

	return &VersionedData{
		Data:      data,
		Version:   crypto.Checksum(data),
		Timestamp: fileInfo.ModTime(),
	}, nil
}

// Save writes the container atomically with optimistic concurrency control
func (fs *FileSystemStore) Save(container []byte, expectedVersion string) (string, error) {
	if len(container) == 0 {
		return "", fmt.Errorf("container cannot be empty")
	}

	// Validate expected version if provided
	if expectedVersion != "" {
		currentVersion, err := fs.currentVersion()
		if err != nil {
			return "", fmt.Errorf("failed to check current version: %w", err)
		}
		if currentVersion != expectedVersion {
			return "", ConcurrencyError{
				ExpectedVersion: expectedVersion,
				ActualVersion:   currentVersion,
				Operation:       "Save",
			}
		}
	}

	if err := os.MkdirAll(fs.dir, DirPermissions); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	// Write to a temp file in the same directory, then rename over the
	// target. A crash mid-write leaves the previous container intact.
	tmp, err := os.CreateTemp(fs.dir, ".citadel-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err = tmp.Chmod(FilePermissions); err != nil {
		cleanup()
		return "", fmt.Errorf("failed to set temp file permissions: %w", err)
	}
	if _, err = tmp.Write(container); err != nil {
		cleanup()
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		cleanup()
		return "", fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	if err = os.Rename(tmpName, fs.path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to replace snapshot container: %w", err)
	}

	return crypto.Checksum(container), nil
}

// Exists checks whether the container file is present
func (fs *FileSystemStore) Exists() (bool, error) {
	_, err := os.Stat(fs.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat snapshot container: %w", err)
}

// Delete removes the container file if it exists
func (fs *FileSystemStore) Delete() error {
	if err := os.Remove(fs.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete snapshot container: %w", err)
	}
	return nil
}

// Ping verifies the parent directory is usable
func (fs *FileSystemStore) Ping() error {
	info, err := os.Stat(fs.dir)
	if err != nil {
		return fmt.Errorf("snapshot directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("snapshot parent %s is not a directory", fs.dir)
	}
	return nil
}

func (fs *FileSystemStore) Close() error {
	return nil
}

func (fs *FileSystemStore) GetType() string {
	return string(StoreTypeFileSystem)
}

func (fs *FileSystemStore) currentVersion() (string, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return crypto.Checksum(data), nil
}
