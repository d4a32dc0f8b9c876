package citadel

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A valid 12-word english mnemonic with correct checksum.
var testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestSLIP10GenerateStoresSeed(t *testing.T) {
	manager, path := unlockedTestManager(t)
	vault := manager.OpenVault(path, "keys")
	loc := GenericLocation("keys", "seed")

	output, err := vault.Execute(SLIP10Generate{Output: loc, Hint: NewRecordHint("root seed")})
	require.NoError(t, err)

	// Generate returns nothing: key material stays inside the vault
	assert.Empty(t, output.ChainCode)
	assert.Empty(t, output.PublicKey)
	assert.Empty(t, output.Signature)

	exists, err := vault.ContainsRecord(loc)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSLIP10DeriveDeterministic(t *testing.T) {
	manager, path := unlockedTestManager(t)
	vault := manager.OpenVault(path, "keys")
	seedLoc := GenericLocation("keys", "seed")

	_, err := vault.Execute(SLIP10Generate{Output: seedLoc})
	require.NoError(t, err)

	first, err := vault.Execute(SLIP10Derive{
		Chain:      []uint32{44, 4218, 0},
		SourceKind: SourceSeed,
		Source:     seedLoc,
		Output:     GenericLocation("keys", "derived-a"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.ChainCode)

	// Same seed, same chain: identical chain code
	second, err := vault.Execute(SLIP10Derive{
		Chain:      []uint32{44, 4218, 0},
		SourceKind: SourceSeed,
		Source:     seedLoc,
		Output:     GenericLocation("keys", "derived-b"),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ChainCode, second.ChainCode)

	// Different chain: different chain code
	other, err := vault.Execute(SLIP10Derive{
		Chain:      []uint32{44, 4218, 1},
		SourceKind: SourceSeed,
		Source:     seedLoc,
		Output:     GenericLocation("keys", "derived-c"),
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ChainCode, other.ChainCode)
}

func TestSLIP10DeriveFromDerivedKey(t *testing.T) {
	manager, path := unlockedTestManager(t)
	vault := manager.OpenVault(path, "keys")
	seedLoc := GenericLocation("keys", "seed")

	_, err := vault.Execute(SLIP10Generate{Output: seedLoc})
	require.NoError(t, err)

	// m/0'/1' in one step from the seed
	direct, err := vault.Execute(SLIP10Derive{
		Chain:      []uint32{0, 1},
		SourceKind: SourceSeed,
		Source:     seedLoc,
		Output:     GenericLocation("keys", "direct"),
	})
	require.NoError(t, err)

	// m/0' from the seed, then /1' from the intermediate extended key
	_, err = vault.Execute(SLIP10Derive{
		Chain:      []uint32{0},
		SourceKind: SourceSeed,
		Source:     seedLoc,
		Output:     GenericLocation("keys", "step"),
	})
	require.NoError(t, err)
	stepped, err := vault.Execute(SLIP10Derive{
		Chain:      []uint32{1},
		SourceKind: SourceKey,
		Source:     GenericLocation("keys", "step"),
		Output:     GenericLocation("keys", "stepped"),
	})
	require.NoError(t, err)
	assert.Equal(t, direct.ChainCode, stepped.ChainCode)
}

func TestSLIP10DeriveMissingSource(t *testing.T) {
	manager, path := unlockedTestManager(t)
	vault := manager.OpenVault(path, "keys")

	_, err := vault.Execute(SLIP10Derive{
		Chain:      []uint32{0},
		SourceKind: SourceSeed,
		Source:     GenericLocation("keys", "nope"),
		Output:     GenericLocation("keys", "out"),
	})
	assert.ErrorIs(t, err, ErrLocationNotFound)
}

func TestBIP39RecoverDeterministic(t *testing.T) {
	manager, path := unlockedTestManager(t)
	vault := manager.OpenVault(path, "keys")

	_, err := vault.Execute(BIP39Recover{
		Mnemonic: testMnemonic,
		Output:   GenericLocation("keys", "seed-a"),
	})
	require.NoError(t, err)
	_, err = vault.Execute(BIP39Recover{
		Mnemonic: testMnemonic,
		Output:   GenericLocation("keys", "seed-b"),
	})
	require.NoError(t, err)

	// Recovering the same mnemonic twice yields the same seed, observable
	// through identical derived public keys
	pubA, err := vault.Execute(Ed25519PublicKey{PrivateKey: GenericLocation("keys", "seed-a")})
	require.NoError(t, err)
	pubB, err := vault.Execute(Ed25519PublicKey{PrivateKey: GenericLocation("keys", "seed-b")})
	require.NoError(t, err)
	assert.Equal(t, pubA.PublicKey, pubB.PublicKey)

	// A passphrase changes the seed
	_, err = vault.Execute(BIP39Recover{
		Mnemonic:   testMnemonic,
		Passphrase: "extra",
		Output:     GenericLocation("keys", "seed-c"),
	})
	require.NoError(t, err)
	pubC, err := vault.Execute(Ed25519PublicKey{PrivateKey: GenericLocation("keys", "seed-c")})
	require.NoError(t, err)
	assert.NotEqual(t, pubA.PublicKey, pubC.PublicKey)
}

func TestBIP39RecoverInvalidMnemonic(t *testing.T) {
	manager, path := unlockedTestManager(t)
	vault := manager.OpenVault(path, "keys")

	_, err := vault.Execute(BIP39Recover{
		Mnemonic: "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon",
		Output:   GenericLocation("keys", "seed"),
	})
	assert.ErrorIs(t, err, ErrInvalidMnemonic)

	exists, err := vault.ContainsRecord(GenericLocation("keys", "seed"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBIP39GenerateStoresSeed(t *testing.T) {
	manager, path := unlockedTestManager(t)
	vault := manager.OpenVault(path, "keys")
	loc := GenericLocation("keys", "seed")

	output, err := vault.Execute(BIP39Generate{Output: loc})
	require.NoError(t, err)
	assert.Equal(t, ProcedureOutput{}, output)

	exists, err := vault.ContainsRecord(loc)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEd25519SignAndVerify(t *testing.T) {
	manager, path := unlockedTestManager(t)
	vault := manager.OpenVault(path, "keys")
	keyLoc := GenericLocation("keys", "signing")

	_, err := vault.Execute(SLIP10Generate{Output: keyLoc})
	require.NoError(t, err)

	public, err := vault.Execute(Ed25519PublicKey{PrivateKey: keyLoc})
	require.NoError(t, err)
	require.Len(t, public.PublicKey, ed25519.PublicKeySize)

	message := []byte("message to be signed")
	signed, err := vault.Execute(Ed25519Sign{PrivateKey: keyLoc, Message: message})
	require.NoError(t, err)
	require.Len(t, signed.Signature, ed25519.SignatureSize)

	assert.True(t, ed25519.Verify(ed25519.PublicKey(public.PublicKey), message, signed.Signature))
	assert.False(t, ed25519.Verify(ed25519.PublicKey(public.PublicKey), []byte("other message"), signed.Signature))
}

func TestProceduresOnLockedSnapshot(t *testing.T) {
	manager := createTestManager(t)
	path := testSnapshotPath(t)

	_, err := manager.Execute(path, "keys", SLIP10Generate{Output: GenericLocation("keys", "seed")})
	assert.ErrorIs(t, err, ErrVaultLocked)

	require.NoError(t, manager.Unlock(path, []byte(testPassword)))
	require.NoError(t, manager.Lock(path))

	_, err = manager.Execute(path, "keys", SLIP10Generate{Output: GenericLocation("keys", "seed")})
	assert.ErrorIs(t, err, ErrVaultLocked)
}

func TestProceduresNeverReturnPrivateKeys(t *testing.T) {
	manager, path := unlockedTestManager(t)
	vault := manager.OpenVault(path, "keys")
	seedLoc := GenericLocation("keys", "seed")

	_, err := vault.Execute(SLIP10Generate{Output: seedLoc})
	require.NoError(t, err)

	derived, err := vault.Execute(SLIP10Derive{
		Chain:      []uint32{0},
		SourceKind: SourceSeed,
		Source:     seedLoc,
		Output:     GenericLocation("keys", "child"),
	})
	require.NoError(t, err)

	// Only the chain code crosses the boundary
	assert.NotEmpty(t, derived.ChainCode)
	assert.Empty(t, derived.PublicKey)
	assert.Empty(t, derived.Signature)
}
