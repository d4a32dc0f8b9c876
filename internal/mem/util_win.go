//go:build windows

package mem

// Windows has no mlockall equivalent for the whole process; memguard's
// VirtualLock-backed buffers already cover the key material, so report
// partial protection.
func lockMemoryPlatform() (ProtectionLevel, error) {
	return ProtectionPartial, nil
}

func unlockMemoryPlatform() error {
	return nil
}
