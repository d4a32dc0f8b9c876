package persist

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotExist is returned by Load when no container has been written yet.
var ErrNotExist = errors.New("snapshot container does not exist")

// VersionedData represents a container blob with its version information
type VersionedData struct {
	Data      []byte
	Version   string // content hash, ETag or version number
	Timestamp time.Time
}

// Store defines the interface for persisting one snapshot container. A Store
// instance is bound to a single snapshot path at construction time. All data
// passed to this interface is assumed to be encrypted by the engine layer;
// the store never sees plaintext record material.
type Store interface {

	// Load retrieves the container blob. Returns an error wrapping
	// ErrNotExist when nothing has been saved at this path.
	Load() (*VersionedData, error)

	// Save writes the container blob atomically: a partial failure must
	// never corrupt the previously persisted container. When
	// expectedVersion is non-empty and does not match the currently
	// persisted version, Save fails with ConcurrencyError.
	Save(container []byte, expectedVersion string) (newVersion string, err error)

	// Exists checks whether a container is present at this path.
	Exists() (bool, error)

	// Delete removes the persisted container, if any.
	Delete() error

	// Ping tests connectivity for remote backends.
	Ping() error

	// Close closes the store and releases any resources it holds.
	Close() error

	// GetType retrieves the type of store being used.
	GetType() string
}

// StoreConfig provides configuration for the different storage backends.
type StoreConfig struct {
	// Type specifies the storage backend to be used.
	Type StoreType `json:"type"`

	// Config contains backend-specific settings, e.g. S3 credentials for
	// StoreTypeS3. The filesystem backend needs no extra configuration;
	// the snapshot path itself locates the container file.
	Config map[string]interface{} `json:"config,omitempty"`
}

// StoreType represents the different types of storage backends that can be used.
type StoreType string

const (
	// StoreTypeFileSystem stores the container as a single local file at
	// the snapshot path.
	StoreTypeFileSystem StoreType = "filesystem"

	// StoreTypeS3 stores the container as an S3 object keyed by the
	// snapshot path.
	StoreTypeS3 StoreType = "s3"
)

// ConcurrencyError represents version conflict errors
type ConcurrencyError struct {
	ExpectedVersion string
	ActualVersion   string
	Operation       string
}

func (e ConcurrencyError) Error() string {
	return fmt.Sprintf("version conflict in %s: expected version %s, but found %s",
		e.Operation, e.ExpectedVersion, e.ActualVersion)
}

func (e ConcurrencyError) IsConcurrencyError() bool {
	return true
}
