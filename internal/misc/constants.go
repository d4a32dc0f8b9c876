package misc

const (
	// ContainerVersion defines the current version of the snapshot container format
	ContainerVersion = 1

	// ArgonTime Key derivation parameters
	ArgonTime    uint32 = 4
	ArgonMemory  uint32 = 128 * 1024
	ArgonThreads uint8  = 4
	ArgonKeyLen  uint32 = 32

	// SaltSize is the size in bytes of the container derivation salt
	SaltSize = 16

	// MasterKeySize is the size in bytes of the random container master key
	MasterKeySize = 32

	// DefaultSeedSize is the seed length used when a generate procedure does
	// not request an explicit size
	DefaultSeedSize = 64

	FilePermissions = 0600 // user read + write
	DirPermissions  = 0700 // user read + write + execute
)
