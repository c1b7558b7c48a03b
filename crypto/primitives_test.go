package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultmesh/scalecrypt/crypto/cryptoerr"
)

func TestRandom(t *testing.T) {
	a, err := Random(32)
	require.NoError(t, err)
	assert.Len(t, a, 32)

	b, err := Random(32)
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "two random draws should not collide")
}

func TestKDFDeterministic(t *testing.T) {
	secret := []byte("correct-horse-battery-staple")
	salt := []byte("some-32-byte-salt-value-00000000")

	k1 := KDF(secret, salt, 1000)
	k2 := KDF(secret, salt, 1000)
	assert.Equal(t, k1, k2, "KDF must be a pure function of (secret, salt, iterations)")
	assert.Len(t, k1, 32)

	k3 := KDF(secret, salt, 999)
	assert.NotEqual(t, k1, k3, "different iteration counts must diverge")
}

func TestAEADRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	copy(key, []byte("0123456789abcdef0123456789abcde"))

	plaintext := []byte("the quick brown fox")
	ct, iv, tag, err := AEADEncrypt(plaintext, key)
	require.NoError(t, err)
	assert.Len(t, iv, NonceSize)
	assert.Len(t, tag, TagSize)

	out, err := AEADDecrypt(ct, key, iv, tag)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)
}

func TestAEADTagMismatch(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	ct, iv, tag, err := AEADEncrypt([]byte("payload"), key)
	require.NoError(t, err)

	tag[0] ^= 0xFF
	_, err = AEADDecrypt(ct, key, iv, tag)
	require.Error(t, err)
	assert.True(t, cryptoerr.Is(err, cryptoerr.KindAuthFailed))
}

func TestAEADRejectsShortKey(t *testing.T) {
	_, _, _, err := AEADEncrypt([]byte("x"), []byte("short"))
	require.Error(t, err)
	assert.True(t, cryptoerr.Is(err, cryptoerr.KindCipherInit))
}

func TestSignVerifyRoundTrip(t *testing.T) {
	seed, err := Random(32)
	require.NoError(t, err)
	pub, err := DerivePublicKey(seed)
	require.NoError(t, err)

	msg := []byte("sign me")
	sig, err := Sign(msg, seed)
	require.NoError(t, err)
	assert.Len(t, sig, 64)
	assert.True(t, Verify(msg, sig, pub))

	msg[0] ^= 0x01
	assert.False(t, Verify(msg, sig, pub), "tampered message must fail verification")
}

func TestSignAcceptsExpandedKey(t *testing.T) {
	seed, err := Random(32)
	require.NoError(t, err)
	pub, err := DerivePublicKey(seed)
	require.NoError(t, err)

	expanded := append(append([]byte{}, seed...), pub...)
	sig, err := Sign([]byte("hi"), expanded)
	require.NoError(t, err)
	assert.True(t, Verify([]byte("hi"), sig, pub))
}

func TestKeyExchangeDeterministicPerPairing(t *testing.T) {
	aliceSeed, _ := Random(32)
	alicePub, _ := DerivePublicKey(aliceSeed)
	bobSeed, _ := Random(32)
	bobPub, _ := DerivePublicKey(bobSeed)

	secretFromAlice, err := KeyExchange(aliceSeed, bobPub)
	require.NoError(t, err)
	secretFromBob, err := KeyExchange(bobSeed, alicePub)
	require.NoError(t, err)

	// This function is deliberately NOT real ECDH (OQ2): it is symmetric
	// only when computed from the same (priv, pub) pairing, not across
	// both parties' distinct keys.
	assert.NotEqual(t, secretFromAlice, secretFromBob)

	again, err := KeyExchange(aliceSeed, bobPub)
	require.NoError(t, err)
	assert.Equal(t, secretFromAlice, again)
}

func TestCombineAndSplitBuffer(t *testing.T) {
	a := []byte("AAAA")
	b := []byte("BB")
	c := []byte("CCCCCC")
	combined := CombineBuffers(a, b, c)
	assert.Equal(t, "AAAABBCCCCCC", string(combined))

	parts, err := SplitBuffer(combined, 4, 2)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, a, parts[0])
	assert.Equal(t, b, parts[1])
	assert.Equal(t, c, parts[2])
}

func TestSplitBufferTruncated(t *testing.T) {
	_, err := SplitBuffer([]byte("short"), 32)
	require.Error(t, err)
	assert.True(t, cryptoerr.Is(err, cryptoerr.KindFrameTruncated))
}

func TestBase58RoundTrip(t *testing.T) {
	data := []byte{0x00, 0x00, 0xDE, 0xAD, 0xBE, 0xEF}
	enc := Base58Encode(data)
	assert.True(t, len(enc) >= 2 && enc[0] == '1' && enc[1] == '1', "leading zero bytes become leading 1s")

	dec, err := Base58Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, data, dec)
}

func TestBase58RejectsInvalidCharacter(t *testing.T) {
	_, err := Base58Decode("0OIl")
	require.Error(t, err)
	assert.True(t, cryptoerr.Is(err, cryptoerr.KindBase58Invalid))
}

func TestGenerateIDDeterministic(t *testing.T) {
	a := GenerateID([]byte("master-key-bytes"), []byte("creator-pub"))
	b := GenerateID([]byte("master-key-bytes"), []byte("creator-pub"))
	assert.Equal(t, a, b)

	c := GenerateID([]byte("master-key-bytes"), []byte("other-creator"))
	assert.NotEqual(t, a, c)
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	original := bytes.Repeat([]byte("compressible payload "), 50)
	compressed, err := Compress(original)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(original))

	out, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, original, out)
}

func TestDegenerateKeyDetection(t *testing.T) {
	assert.True(t, IsAllZero(make([]byte, 32)))
	assert.True(t, IsAllOnes(bytes.Repeat([]byte{0xFF}, 32)))
	assert.False(t, IsAllZero(bytes.Repeat([]byte{0xFF}, 32)))
	assert.False(t, IsAllOnes(make([]byte, 32)))
	assert.False(t, IsAllZero(nil))
}
