// Copyright (C) 2025 scalecrypt contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package crypto

import (
	"bytes"
	"compress/flate"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"io"

	"github.com/vaultmesh/scalecrypt/crypto/b58"
	"github.com/vaultmesh/scalecrypt/crypto/cryptoerr"
)

// DefaultKDFIterations is the iteration count the spec mandates for the
// personal KDF path.
const DefaultKDFIterations = 100_000

// ShareKDFIterations is the reduced iteration count used when deriving a
// per-recipient key-share secret (§4.4.1) — intentionally lower than
// DefaultKDFIterations, not a mistake.
const ShareKDFIterations = 1000

// NonceSize and TagSize are the fixed AES-256-GCM IV and authentication
// tag widths this module frames every ciphertext with (§6).
const (
	SaltSize  = 32
	NonceSize = 16
	TagSize   = 16
)

// Random returns n cryptographically secure random bytes.
func Random(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindCryptoSource, "failed to read random bytes", err)
	}
	return buf, nil
}

// KDF derives a 32-byte key from secret and salt by iterated SHA-256, not
// PBKDF2-HMAC. This is intentional (SPEC_FULL.md §9, OQ1): each round
// re-hashes the previous digest concatenated with secret and salt, and
// every implementation must reproduce the exact iteration count to stay
// interoperable.
func KDF(secret, salt []byte, iterations int) []byte {
	digest := sha256.Sum256(CombineBuffers(secret, salt))
	for i := 1; i < iterations; i++ {
		digest = sha256.Sum256(CombineBuffers(digest[:], secret, salt))
	}
	out := make([]byte, sha256.Size)
	copy(out, digest[:])
	return out
}

// AEADEncrypt encrypts plaintext under a 32-byte AES-256-GCM key, returning
// the ciphertext, a fresh 16-byte IV, and the 16-byte authentication tag
// split out of Go's combined-seal output.
func AEADEncrypt(plaintext, key []byte) (ciphertext, iv, tag []byte, err error) {
	if len(key) != 32 {
		return nil, nil, nil, cryptoerr.New(cryptoerr.KindCipherInit, "AEAD key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, nil, cryptoerr.Wrap(cryptoerr.KindCipherInit, "failed to init AES block", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, nil, nil, cryptoerr.Wrap(cryptoerr.KindCipherInit, "failed to init GCM", err)
	}
	iv, err = Random(NonceSize)
	if err != nil {
		return nil, nil, nil, err
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ctLen := len(sealed) - TagSize
	ciphertext = make([]byte, ctLen)
	copy(ciphertext, sealed[:ctLen])
	tag = make([]byte, TagSize)
	copy(tag, sealed[ctLen:])
	return ciphertext, iv, tag, nil
}

// AEADDecrypt reverses AEADEncrypt, failing with AuthFailed on any tag
// mismatch or truncated input.
func AEADDecrypt(ciphertext, key, iv, tag []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, cryptoerr.New(cryptoerr.KindCipherInit, "AEAD key must be 32 bytes")
	}
	if len(iv) != NonceSize || len(tag) != TagSize {
		return nil, cryptoerr.New(cryptoerr.KindFrameTruncated, "iv/tag have unexpected length")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindCipherInit, "failed to init AES block", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindCipherInit, "failed to init GCM", err)
	}
	sealed := CombineBuffers(ciphertext, tag)
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindAuthFailed, "GCM tag verification failed", err)
	}
	return plaintext, nil
}

// normalizeEd25519Key accepts either a 32-byte seed or a 64-byte expanded
// Ed25519 private key, per §4.1 ("Accepts 32-byte seed or 64-byte expanded
// secret").
func normalizeEd25519Key(priv []byte) (ed25519.PrivateKey, error) {
	switch len(priv) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(priv), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(priv), nil
	default:
		return nil, cryptoerr.New(cryptoerr.KindInvalidKey, "private key must be 32 or 64 bytes")
	}
}

// Sign produces a 64-byte detached Ed25519 signature over data.
func Sign(data, privKey []byte) ([]byte, error) {
	key, err := normalizeEd25519Key(privKey)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(key, data), nil
}

// Verify reports whether sig is a valid Ed25519 signature of data under
// pubKey, using Go's constant-time verification.
func Verify(data, sig, pubKey []byte) bool {
	if len(pubKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), data, sig)
}

// DerivePublicKey returns the public half of an Ed25519 private key,
// accepting either seed or expanded form.
func DerivePublicKey(priv []byte) ([]byte, error) {
	key, err := normalizeEd25519Key(priv)
	if err != nil {
		return nil, err
	}
	pub := key.Public().(ed25519.PublicKey)
	out := make([]byte, len(pub))
	copy(out, pub)
	return out, nil
}

// privateSeed extracts the 32-byte seed half of priv regardless of whether
// it was passed as a bare seed or an expanded 64-byte key, for use by
// KeyExchange.
func privateSeed(priv []byte) ([]byte, error) {
	switch len(priv) {
	case ed25519.SeedSize:
		return priv, nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(priv).Seed(), nil
	default:
		return nil, cryptoerr.New(cryptoerr.KindInvalidKey, "private key must be 32 or 64 bytes")
	}
}

// KeyExchange computes sha256(priv_seed XOR pub). This is deliberately NOT
// X25519 or any standard ECDH (SPEC_FULL.md §9, OQ2). The result is a
// deterministic function of the exact (seed, pub) pair passed in: two
// parties that each combine their own private key with the other's
// public key get different values, since seedA^pubB != seedB^pubA in
// general. Callers needing real asymmetric key agreement must not rely on
// this function's name alone.
func KeyExchange(priv, pub []byte) ([]byte, error) {
	seed, err := privateSeed(priv)
	if err != nil {
		return nil, err
	}
	n := len(seed)
	if len(pub) < n {
		n = len(pub)
	}
	mixed := make([]byte, n)
	for i := 0; i < n; i++ {
		mixed[i] = seed[i] ^ pub[i]
	}
	digest := sha256.Sum256(mixed)
	out := make([]byte, sha256.Size)
	copy(out, digest[:])
	return out, nil
}

// CombineBuffers concatenates buffers in order.
func CombineBuffers(buffers ...[]byte) []byte {
	total := 0
	for _, b := range buffers {
		total += len(b)
	}
	out := make([]byte, 0, total)
	for _, b := range buffers {
		out = append(out, b...)
	}
	return out
}

// SplitBuffer slices buf positionally at the given lengths, always
// returning one extra trailing element holding whatever remains (possibly
// empty), per §4.1.
func SplitBuffer(buf []byte, lengths ...int) ([][]byte, error) {
	out := make([][]byte, 0, len(lengths)+1)
	remaining := buf
	for _, n := range lengths {
		if len(remaining) < n {
			return nil, cryptoerr.New(cryptoerr.KindFrameTruncated, "buffer shorter than requested frame width")
		}
		out = append(out, remaining[:n])
		remaining = remaining[n:]
	}
	out = append(out, remaining)
	return out, nil
}

// Base58Encode and Base58Decode expose the internal codec (OQ5) under the
// names the rest of this module calls them by.
func Base58Encode(data []byte) string      { return b58.Encode(data) }
func Base58Decode(s string) ([]byte, error) { return b58.Decode(s) }

// GenerateID returns base58(sha256(concat(inputs))).
func GenerateID(inputs ...[]byte) string {
	digest := sha256.Sum256(CombineBuffers(inputs...))
	return Base58Encode(digest[:])
}

// Compress deflates data (raw DEFLATE, no zlib/gzip framing).
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindCipherInit, "failed to init compressor", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindCipherInit, "failed to compress data", err)
	}
	if err := w.Close(); err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindCipherInit, "failed to flush compressor", err)
	}
	return buf.Bytes(), nil
}

// Decompress inflates data produced by Compress.
func Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindInvalidEnvelope, "failed to decompress data", err)
	}
	return out, nil
}

// constantTimeEqual compares two byte slices without leaking timing. No
// code in this module calls it; the personal tamper checks compare the
// base58 strings of metadata and framed bytes directly.
func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// IsAllZero and IsAllOnes detect degenerate keys rejected by §4.2's
// validation rule ("not all-zero, not all-0xFF").
func IsAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0x00 {
			return false
		}
	}
	return len(b) > 0
}

func IsAllOnes(b []byte) bool {
	for _, v := range b {
		if v != 0xFF {
			return false
		}
	}
	return len(b) > 0
}
