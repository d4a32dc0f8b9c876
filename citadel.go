// Package citadel provides a password-protected secret-vault engine with
// pluggable cryptographic procedures, durable encrypted snapshots, and
// optional peer-to-peer remote-vault access.
//
// The engine exposes two storage abstractions behind a snapshot lifecycle:
//   - Vault: procedure-gated records. Callers can write, check, list and
//     revoke records, but plaintext never crosses the boundary back out;
//     records are consumed only by cryptographic procedures.
//   - Store: an unstructured encrypted key-value space whose entries can be
//     read back and may carry a lifetime.
//
// All state for one snapshot path lives behind a password. Unlock derives a
// wrapping key with argon2id and opens the container; records are sealed
// with ChaCha20-Poly1305 under a random master key and stay ciphertext in
// memory. Save atomically persists the container through a pluggable store
// backend (local filesystem or S3). An idle timeout can relock snapshots
// automatically, announced through status-change subscriptions.
//
// Basic Usage:
//
//	manager, err := citadel.NewManager(citadel.Options{}, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer manager.Close()
//
//	if err = manager.Unlock("/tmp/wallet.citadel", []byte("password")); err != nil {
//	    log.Fatal(err)
//	}
//
//	vault := manager.OpenVault("/tmp/wallet.citadel", "keys")
//	_, err = vault.Execute(citadel.SLIP10Generate{
//	    Output: citadel.GenericLocation("keys", "seed"),
//	})
//
//	err = manager.Save("/tmp/wallet.citadel")
//
// The comm package layers a listening node, a peer registry and a per-peer
// per-permission firewall over the same operations for remote access.
package citadel
