package personal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultmesh/scalecrypt/crypto"
	"github.com/vaultmesh/scalecrypt/crypto/cryptoerr"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	k, err := crypto.Random(32)
	require.NoError(t, err)
	return k
}

// Scenario 1: Personal self-encrypt.
func TestEncryptDecryptPersonalRoundTrip(t *testing.T) {
	k := randomKey(t)
	env, err := EncryptPersonal([]byte("hello"), k, EncryptOptions{})
	require.NoError(t, err)
	assert.Equal(t, crypto.ModePersonal, env.Method)
	assert.Equal(t, crypto.VersionLegacy, env.Metadata.Version)

	out, err := DecryptPersonal(env, k)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))

	fresh := randomKey(t)
	_, err = DecryptPersonal(env, fresh)
	require.Error(t, err)
	assert.True(t, cryptoerr.Is(err, cryptoerr.KindAuthFailed) || cryptoerr.Is(err, cryptoerr.KindInvalidKey))
}

func TestEncryptPersonalCompression(t *testing.T) {
	k := randomKey(t)
	payload := []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	env, err := EncryptPersonal(payload, k, EncryptOptions{Compress: true})
	require.NoError(t, err)
	assert.True(t, env.Metadata.Compressed)

	out, err := DecryptPersonal(env, k)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}

// P2: decrypting with a different key must fail.
func TestDecryptPersonalWrongKeyFails(t *testing.T) {
	k1 := randomKey(t)
	k2 := randomKey(t)
	env, err := EncryptPersonal([]byte("secret"), k1, EncryptOptions{})
	require.NoError(t, err)

	_, err = DecryptPersonal(env, k2)
	require.Error(t, err)
}

func TestValidateKeyRejectsDegenerateKeys(t *testing.T) {
	zero := make([]byte, 32)
	err := ValidateKey(zero)
	require.Error(t, err)
	assert.True(t, cryptoerr.Is(err, cryptoerr.KindInvalidKey))

	ones := make([]byte, 32)
	for i := range ones {
		ones[i] = 0xFF
	}
	err = ValidateKey(ones)
	require.Error(t, err)
	assert.True(t, cryptoerr.Is(err, cryptoerr.KindInvalidKey))

	err = ValidateKey([]byte("too-short"))
	require.Error(t, err)
	assert.True(t, cryptoerr.Is(err, cryptoerr.KindInvalidKey))
}

// P1 / Scenario 6: tamper detection.
func TestDecryptPersonalTamperDetection(t *testing.T) {
	k := randomKey(t)
	env, err := EncryptPersonal([]byte("hello"), k, EncryptOptions{})
	require.NoError(t, err)

	t.Run("version mutated", func(t *testing.T) {
		tampered := *env
		tampered.Metadata.Version = "9.9.9"
		_, err := DecryptPersonal(&tampered, k)
		require.Error(t, err)
		assert.True(t, cryptoerr.Is(err, cryptoerr.KindUnsupportedVersion))
	})

	t.Run("salt mutated", func(t *testing.T) {
		tampered := *env
		tampered.Metadata.Salt = "1111111111111111111111111111111111"
		_, err := DecryptPersonal(&tampered, k)
		require.Error(t, err)
		assert.True(t, cryptoerr.Is(err, cryptoerr.KindTamperDetected))
	})

	t.Run("nonce mutated", func(t *testing.T) {
		tampered := *env
		tampered.Metadata.Nonce = "22222222222222222"
		_, err := DecryptPersonal(&tampered, k)
		require.Error(t, err)
		assert.True(t, cryptoerr.Is(err, cryptoerr.KindTamperDetected))
	})

	t.Run("ciphertext bit flip", func(t *testing.T) {
		tampered := *env
		raw, decErr := crypto.Base58Decode(tampered.EncryptedData)
		require.NoError(t, decErr)
		raw[len(raw)-1] ^= 0xFF
		tampered.EncryptedData = crypto.Base58Encode(raw)

		_, err := DecryptPersonal(&tampered, k)
		require.Error(t, err)
		assert.True(t, cryptoerr.Is(err, cryptoerr.KindAuthFailed) || cryptoerr.Is(err, cryptoerr.KindTamperDetected))
	})

	t.Run("wrong mode rejected", func(t *testing.T) {
		tampered := *env
		tampered.Method = crypto.ModeDirect
		_, err := DecryptPersonal(&tampered, k)
		require.Error(t, err)
		assert.True(t, cryptoerr.Is(err, cryptoerr.KindInvalidEnvelope))
	})
}

func TestPersonalSession(t *testing.T) {
	k := randomKey(t)
	session, err := NewPersonalSession(k, crypto.SystemClock)
	require.NoError(t, err)

	env1, err := session.Encrypt([]byte("message one"), false)
	require.NoError(t, err)
	env2, err := session.Encrypt([]byte("message two"), false)
	require.NoError(t, err)

	assert.Equal(t, env1.Metadata.Salt, env2.Metadata.Salt, "session reuses its fixed salt")
	assert.NotEqual(t, env1.Metadata.Nonce, env2.Metadata.Nonce, "each message gets a fresh IV")

	out1, err := session.Decrypt(env1)
	require.NoError(t, err)
	assert.Equal(t, "message one", string(out1))

	out2, err := session.Decrypt(env2)
	require.NoError(t, err)
	assert.Equal(t, "message two", string(out2))
}
