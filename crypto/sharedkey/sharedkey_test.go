package sharedkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultmesh/scalecrypt/crypto"
	"github.com/vaultmesh/scalecrypt/crypto/cryptoerr"
)

type party struct {
	priv []byte
	pub  []byte
}

func newParty(t *testing.T) party {
	t.Helper()
	priv, err := crypto.Random(32)
	require.NoError(t, err)
	pub, err := crypto.DerivePublicKey(priv)
	require.NoError(t, err)
	return party{priv: priv, pub: pub}
}

func fullPermissions() SharePermissions {
	return SharePermissions{CanDecrypt: true, CanEncrypt: true, CanShare: true, CanRevoke: true}
}

// P4: shared-key round trip for every holder; non-holders fail.
func TestCreateSharedKeyAndRoundTrip(t *testing.T) {
	store := NewStore(crypto.SystemClock, 0)
	alice := newParty(t)
	bob := newParty(t)
	carol := newParty(t)

	key, err := store.CreateSharedKey(
		DefaultMetadata("team-key", "testing", crypto.Base58Encode(alice.pub)),
		[]Recipient{
			{PublicKey: alice.pub, Permissions: fullPermissions()},
			{PublicKey: bob.pub, Permissions: SharePermissions{CanDecrypt: true}},
		},
		alice.priv,
	)
	require.NoError(t, err)
	assert.Len(t, key.Holders, 2)

	env, err := store.EncryptWithSharedKey([]byte("team secret"), key.KeyID, alice.priv, alice.pub, EncryptOptions{})
	require.NoError(t, err)
	assert.Equal(t, crypto.ModeSharedMasterKey, env.Method)
	assert.Equal(t, key.KeyID, env.Metadata.KeyID)

	out, err := store.DecryptWithSharedKey(env, bob.priv, bob.pub)
	require.NoError(t, err)
	assert.Equal(t, "team secret", string(out))

	_, err = store.DecryptWithSharedKey(env, carol.priv, carol.pub)
	require.Error(t, err)
	assert.True(t, cryptoerr.Is(err, cryptoerr.KindNotMember))
}

func TestEncryptRequiresCanEncrypt(t *testing.T) {
	store := NewStore(crypto.SystemClock, 0)
	alice := newParty(t)
	bob := newParty(t)

	key, err := store.CreateSharedKey(
		DefaultMetadata("k", "p", crypto.Base58Encode(alice.pub)),
		[]Recipient{
			{PublicKey: alice.pub, Permissions: fullPermissions()},
			{PublicKey: bob.pub, Permissions: SharePermissions{CanDecrypt: true}},
		},
		alice.priv,
	)
	require.NoError(t, err)

	_, err = store.EncryptWithSharedKey([]byte("x"), key.KeyID, bob.priv, bob.pub, EncryptOptions{})
	require.Error(t, err)
	assert.True(t, cryptoerr.Is(err, cryptoerr.KindPermissionDenied))
}

func TestAddRecipientsRequiresCanShare(t *testing.T) {
	store := NewStore(crypto.SystemClock, 0)
	alice := newParty(t)
	bob := newParty(t)
	carol := newParty(t)

	key, err := store.CreateSharedKey(
		DefaultMetadata("k", "p", crypto.Base58Encode(alice.pub)),
		[]Recipient{
			{PublicKey: alice.pub, Permissions: fullPermissions()},
			{PublicKey: bob.pub, Permissions: SharePermissions{CanDecrypt: true}},
		},
		alice.priv,
	)
	require.NoError(t, err)

	_, err = store.AddRecipients(key.KeyID, []Recipient{{PublicKey: carol.pub, Permissions: SharePermissions{CanDecrypt: true}}}, bob.priv, bob.pub)
	require.Error(t, err)
	assert.True(t, cryptoerr.Is(err, cryptoerr.KindPermissionDenied))

	updated, err := store.AddRecipients(key.KeyID, []Recipient{{PublicKey: carol.pub, Permissions: SharePermissions{CanDecrypt: true}}}, alice.priv, alice.pub)
	require.NoError(t, err)
	assert.Len(t, updated.Holders, 3)

	env, err := store.EncryptWithSharedKey([]byte("hi"), key.KeyID, alice.priv, alice.pub, EncryptOptions{})
	require.NoError(t, err)
	out, err := store.DecryptWithSharedKey(env, carol.priv, carol.pub)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(out))
}

// P5: remove with rotation. Scenario 4.
func TestRemoveRecipientsWithRotation(t *testing.T) {
	store := NewStore(crypto.SystemClock, 0)
	alice := newParty(t)
	bob := newParty(t)
	charlie := newParty(t)

	key, err := store.CreateSharedKey(
		DefaultMetadata("group", "p", crypto.Base58Encode(alice.pub)),
		[]Recipient{
			{PublicKey: alice.pub, Permissions: fullPermissions()},
			{PublicKey: bob.pub, Permissions: SharePermissions{CanDecrypt: true, CanEncrypt: true}},
			{PublicKey: charlie.pub, Permissions: SharePermissions{CanDecrypt: true}},
		},
		alice.priv,
	)
	require.NoError(t, err)

	preRemovalEnv, err := store.EncryptWithSharedKey([]byte("old message"), key.KeyID, alice.priv, alice.pub, EncryptOptions{})
	require.NoError(t, err)

	updated, err := store.RemoveRecipients(key.KeyID, [][]byte{charlie.pub}, alice.priv, alice.pub, true)
	require.NoError(t, err)
	assert.Len(t, updated.Holders, 2)

	env, err := store.EncryptWithSharedKey([]byte("secret"), key.KeyID, alice.priv, alice.pub, EncryptOptions{})
	require.NoError(t, err)

	out, err := store.DecryptWithSharedKey(env, bob.priv, bob.pub)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(out))

	_, err = store.DecryptWithSharedKey(env, charlie.priv, charlie.pub)
	require.Error(t, err)
	assert.True(t, cryptoerr.Is(err, cryptoerr.KindNotMember))

	// Rotation replaces the master key outright: even a surviving holder
	// (bob) can no longer open envelopes sealed under the pre-rotation
	// key, since their share was rebuilt to wrap the new one.
	_, err = store.DecryptWithSharedKey(preRemovalEnv, bob.priv, bob.pub)
	require.Error(t, err)
	assert.True(t, cryptoerr.Is(err, cryptoerr.KindAuthFailed))

	// Charlie no longer holds any share at all.
	_, err = store.DecryptWithSharedKey(preRemovalEnv, charlie.priv, charlie.pub)
	require.Error(t, err)
	assert.True(t, cryptoerr.Is(err, cryptoerr.KindNotMember))
}

// P9: tampering with the signed document invalidates decryption.
func TestDecryptDetectsSignatureTamper(t *testing.T) {
	store := NewStore(crypto.SystemClock, 0)
	alice := newParty(t)
	bob := newParty(t)

	key, err := store.CreateSharedKey(
		DefaultMetadata("k", "p", crypto.Base58Encode(alice.pub)),
		[]Recipient{
			{PublicKey: alice.pub, Permissions: fullPermissions()},
			{PublicKey: bob.pub, Permissions: SharePermissions{CanDecrypt: true}},
		},
		alice.priv,
	)
	require.NoError(t, err)

	env, err := store.EncryptWithSharedKey([]byte("msg"), key.KeyID, alice.priv, alice.pub, EncryptOptions{})
	require.NoError(t, err)

	tampered := *env
	tampered.Metadata.Timestamp++
	_, err = store.DecryptWithSharedKey(&tampered, bob.priv, bob.pub)
	require.Error(t, err)
	assert.True(t, cryptoerr.Is(err, cryptoerr.KindSignatureInvalid))
}

func TestDecryptDetectsKeyIDMismatch(t *testing.T) {
	store := NewStore(crypto.SystemClock, 0)
	alice := newParty(t)
	bob := newParty(t)

	keyA, err := store.CreateSharedKey(DefaultMetadata("a", "p", "alice"), []Recipient{
		{PublicKey: alice.pub, Permissions: fullPermissions()},
		{PublicKey: bob.pub, Permissions: SharePermissions{CanDecrypt: true}},
	}, alice.priv)
	require.NoError(t, err)

	_, err = store.CreateSharedKey(DefaultMetadata("b", "p", "alice"), []Recipient{
		{PublicKey: alice.pub, Permissions: fullPermissions()},
		{PublicKey: bob.pub, Permissions: SharePermissions{CanDecrypt: true}},
	}, alice.priv)
	require.NoError(t, err)

	env, err := store.EncryptWithSharedKey([]byte("msg"), keyA.KeyID, alice.priv, alice.pub, EncryptOptions{})
	require.NoError(t, err)

	tampered := *env
	tampered.Metadata.KeyID = "11111111111111111111111111111111111111111"
	_, err = store.DecryptWithSharedKey(&tampered, bob.priv, bob.pub)
	require.Error(t, err)
}

// P8 / Scenario 5: export/import identity.
func TestExportImportRoundTrip(t *testing.T) {
	store := NewStore(crypto.SystemClock, 0)
	alice := newParty(t)
	bob := newParty(t)
	carol := newParty(t)

	key, err := store.CreateSharedKey(
		DefaultMetadata("backup", "p", crypto.Base58Encode(alice.pub)),
		[]Recipient{
			{PublicKey: alice.pub, Permissions: fullPermissions()},
			{PublicKey: bob.pub, Permissions: SharePermissions{CanDecrypt: true}},
			{PublicKey: carol.pub, Permissions: SharePermissions{CanDecrypt: true}},
		},
		alice.priv,
	)
	require.NoError(t, err)

	env, err := store.EncryptWithSharedKey([]byte("pre-export ciphertext"), key.KeyID, alice.priv, alice.pub, EncryptOptions{})
	require.NoError(t, err)

	pkg, err := store.ExportSharedKey(key.KeyID, alice.priv, alice.pub, "p@ss")
	require.NoError(t, err)

	newStore := NewStore(crypto.SystemClock, 0)
	imported, err := newStore.ImportSharedKey(pkg, "p@ss")
	require.NoError(t, err)
	assert.Equal(t, key.KeyID, imported.KeyID)
	assert.ElementsMatch(t, key.Holders, imported.Holders)

	for _, holder := range []party{alice, bob, carol} {
		out, err := newStore.DecryptWithSharedKey(env, holder.priv, holder.pub)
		require.NoError(t, err)
		assert.Equal(t, "pre-export ciphertext", string(out))
	}

	_, err = newStore.ImportSharedKey(pkg, "wrong")
	require.Error(t, err)
	assert.True(t, cryptoerr.Is(err, cryptoerr.KindImportInvalid))
}

func TestCreateSharedKeyStoreFull(t *testing.T) {
	store := NewStore(crypto.SystemClock, 1)
	alice := newParty(t)

	_, err := store.CreateSharedKey(DefaultMetadata("first", "p", "alice"), []Recipient{{PublicKey: alice.pub, Permissions: fullPermissions()}}, alice.priv)
	require.NoError(t, err)

	_, err = store.CreateSharedKey(DefaultMetadata("second", "p", "alice"), []Recipient{{PublicKey: alice.pub, Permissions: fullPermissions()}}, alice.priv)
	require.Error(t, err)
	assert.True(t, cryptoerr.Is(err, cryptoerr.KindKeyStoreFull))
}
