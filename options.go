package citadel

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"southwinds.dev/citadel/persist"
)

// Options represents configuration parameters for engine initialization.
//
// The engine never persists or serializes passwords: passwords are supplied
// per Unlock call, wiped after key derivation, and exist in memory only as
// memguard-protected derived keys. Options therefore carries operational
// configuration only.
type Options struct {
	// Store selects the storage backend for snapshot containers. The zero
	// value selects the local filesystem backend, where each snapshot path
	// is the path of its container file.
	Store persist.StoreConfig `json:"store"`

	// IdleTimeout is the initial password-clear interval: an unlocked
	// snapshot untouched for this long is transitioned to Locked and its
	// cached key material zeroed. Zero disables the idle timer until
	// SetPasswordClearInterval is called.
	IdleTimeout time.Duration `json:"idle_timeout"`

	// EnableMemoryLock requests best-effort mlockall protection so
	// sensitive pages are not swapped to disk. Failure to lock memory is
	// reported but not fatal; memguard enclaves still protect key
	// material.
	EnableMemoryLock bool `json:"enable_memory_lock"`
}

// Validate validates the Options configuration
func (o Options) Validate() error {
	return validation.ValidateStruct(&o,
		validation.Field(&o.IdleTimeout, validation.Min(time.Duration(0))),
		validation.Field(&o.Store, validation.By(func(interface{}) error {
			switch o.Store.Type {
			case "", persist.StoreTypeFileSystem, persist.StoreTypeS3:
				return nil
			default:
				return validation.NewError("validation_store_type", "unsupported store type")
			}
		})),
	)
}
