package citadel

import "errors"

// Sentinel errors classifying every failure the engine can surface. Callers
// match with errors.Is; the comm transport carries the kind string from
// ErrorKind and reconstructs the sentinel on the remote side.
var (
	// ErrAuthentication indicates a password that does not open an existing container.
	ErrAuthentication = errors.New("authentication failed")

	// ErrNotUnlocked indicates an operation against a path with no unlocked snapshot.
	ErrNotUnlocked = errors.New("snapshot is not unlocked")

	// ErrVaultLocked indicates a procedure against a locked or unloaded snapshot.
	ErrVaultLocked = errors.New("vault is locked")

	// ErrLocationNotFound indicates a procedure input location with no record behind it.
	ErrLocationNotFound = errors.New("location not found")

	// ErrRecordNotFound indicates a store read of an absent or expired entry.
	ErrRecordNotFound = errors.New("record not found")

	// ErrInvalidMnemonic indicates a BIP39 mnemonic that fails checksum validation.
	ErrInvalidMnemonic = errors.New("invalid mnemonic")

	// ErrPermissionDenied indicates a remote request rejected by the firewall.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrIO indicates a disk or container failure.
	ErrIO = errors.New("i/o failure")

	// ErrTimeout indicates a network operation that exceeded its deadline.
	ErrTimeout = errors.New("operation timed out")
)

// kindNames maps each sentinel to the stable identifier used on the wire.
var kindNames = map[error]string{
	ErrAuthentication:   "authentication",
	ErrNotUnlocked:      "not_unlocked",
	ErrVaultLocked:      "vault_locked",
	ErrLocationNotFound: "location_not_found",
	ErrRecordNotFound:   "record_not_found",
	ErrInvalidMnemonic:  "invalid_mnemonic",
	ErrPermissionDenied: "permission_denied",
	ErrIO:               "io",
	ErrTimeout:          "timeout",
}

// ErrorKind returns the stable kind identifier for err, or "internal" when
// the error does not wrap one of the engine sentinels.
func ErrorKind(err error) string {
	for sentinel, name := range kindNames {
		if errors.Is(err, sentinel) {
			return name
		}
	}
	return "internal"
}

// ErrorForKind maps a kind identifier back to its sentinel. Unknown kinds
// return nil so callers can fall back to a plain error carrying the message.
func ErrorForKind(kind string) error {
	for sentinel, name := range kindNames {
		if name == kind {
			return sentinel
		}
	}
	return nil
}
