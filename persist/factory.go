package persist

import (
	"fmt"
	"strings"
)

// NewStore factory function to create the storage backend for one snapshot path
func NewStore(config StoreConfig, snapshotPath string) (Store, error) {
	if err := validateSnapshotPath(snapshotPath); err != nil {
		return nil, err
	}

	switch config.Type {
	case StoreTypeFileSystem, "":
		return NewFileSystemStore(snapshotPath)

	case StoreTypeS3:
		return NewS3StoreFromConfig(config, snapshotPath)

	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// validateSnapshotPath rejects paths that cannot name a container
func validateSnapshotPath(snapshotPath string) error {
	if snapshotPath == "" {
		return fmt.Errorf("snapshot path cannot be empty")
	}

	if strings.ContainsRune(snapshotPath, 0) {
		return fmt.Errorf("snapshot path contains invalid characters")
	}

	if len(snapshotPath) > 1024 {
		return fmt.Errorf("snapshot path too long (max 1024 characters)")
	}

	return nil
}
