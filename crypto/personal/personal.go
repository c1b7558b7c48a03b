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

// Package personal implements PersonalCipher (C2): self-only encryption
// keyed by a salt-derived KDF over the caller's own private key. Nothing
// here is shared with another party; it is the simplest of the four
// envelope modes and the one the others' framing is modeled on.
package personal

import (
	"github.com/vaultmesh/scalecrypt/crypto"
	"github.com/vaultmesh/scalecrypt/crypto/cryptoerr"
	"github.com/vaultmesh/scalecrypt/internal/logger"
	"github.com/vaultmesh/scalecrypt/internal/metrics"
)

// EncryptOptions configures EncryptPersonal.
type EncryptOptions struct {
	Compress       bool
	CustomMetadata map[string]string
	Clock          crypto.Clock
}

// ValidateKey enforces §4.2's stricter validation path (OQ5): a private
// key must be 32 or 64 bytes and must not be degenerate (all-zero or
// all-0xFF).
func ValidateKey(priv []byte) error {
	if len(priv) != 32 && len(priv) != 64 {
		return cryptoerr.New(cryptoerr.KindInvalidKey, "private key must be 32 or 64 bytes")
	}
	if crypto.IsAllZero(priv) {
		return cryptoerr.New(cryptoerr.KindInvalidKey, "private key must not be all-zero")
	}
	if crypto.IsAllOnes(priv) {
		return cryptoerr.New(cryptoerr.KindInvalidKey, "private key must not be all-0xFF")
	}
	return nil
}

// EncryptPersonal encrypts data so that only the holder of privateKey can
// decrypt it (§4.2).
func EncryptPersonal(data, privateKey []byte, opts EncryptOptions) (*crypto.Envelope, error) {
	start := metricsTimer()
	defer func() { recordDuration("encrypt", start) }()

	if err := ValidateKey(privateKey); err != nil {
		metrics.CryptoErrors.WithLabelValues("encrypt", string(errKind(err))).Inc()
		return nil, err
	}

	plaintext := data
	compressed := false
	if opts.Compress {
		c, err := crypto.Compress(data)
		if err != nil {
			metrics.CryptoErrors.WithLabelValues("encrypt", string(errKind(err))).Inc()
			return nil, err
		}
		plaintext = c
		compressed = true
	}

	salt, err := crypto.Random(crypto.SaltSize)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("encrypt", string(errKind(err))).Inc()
		return nil, err
	}
	key := crypto.KDF(privateKey, salt, crypto.DefaultKDFIterations)

	ciphertext, iv, tag, err := crypto.AEADEncrypt(plaintext, key)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("encrypt", string(errKind(err))).Inc()
		return nil, err
	}

	framed := crypto.CombineBuffers(salt, iv, tag, ciphertext)

	env := &crypto.Envelope{
		EncryptedData: crypto.Base58Encode(framed),
		Method:        crypto.ModePersonal,
		Metadata: crypto.Metadata{
			Salt:       crypto.Base58Encode(salt),
			Nonce:      crypto.Base58Encode(iv),
			Timestamp:  crypto.NowSeconds(opts.Clock),
			Version:    crypto.VersionLegacy,
			Compressed: compressed,
			Extra:      opts.CustomMetadata,
		},
	}

	metrics.CryptoOperations.WithLabelValues("encrypt", string(crypto.ModePersonal)).Inc()
	logger.Debug("personal envelope encrypted", logger.Operation("encrypt"), logger.Mode(crypto.ModePersonal), logger.Bool("compressed", compressed))
	return env, nil
}

// DecryptPersonal reverses EncryptPersonal, enforcing the tamper checks in
// §4.2 step 3 before ever touching the AEAD layer.
func DecryptPersonal(env *crypto.Envelope, privateKey []byte) ([]byte, error) {
	start := metricsTimer()
	defer func() { recordDuration("decrypt", start) }()

	if env.Method != crypto.ModePersonal {
		err := cryptoerr.New(cryptoerr.KindInvalidEnvelope, "envelope is not a personal envelope")
		metrics.CryptoErrors.WithLabelValues("decrypt", string(errKind(err))).Inc()
		return nil, err
	}
	if err := ValidateKey(privateKey); err != nil {
		metrics.CryptoErrors.WithLabelValues("decrypt", string(errKind(err))).Inc()
		return nil, err
	}
	if env.Metadata.Version != crypto.VersionLegacy {
		err := cryptoerr.New(cryptoerr.KindUnsupportedVersion, "unsupported personal envelope version")
		metrics.CryptoErrors.WithLabelValues("decrypt", string(errKind(err))).Inc()
		return nil, err
	}

	framed, err := crypto.Base58Decode(env.EncryptedData)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("decrypt", string(errKind(err))).Inc()
		return nil, err
	}
	parts, err := crypto.SplitBuffer(framed, crypto.SaltSize, crypto.NonceSize, crypto.TagSize)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("decrypt", string(errKind(err))).Inc()
		return nil, err
	}
	salt, iv, tag, ciphertext := parts[0], parts[1], parts[2], parts[3]

	if crypto.Base58Encode(salt) != env.Metadata.Salt || crypto.Base58Encode(iv) != env.Metadata.Nonce {
		err := cryptoerr.New(cryptoerr.KindTamperDetected, "metadata does not match framed envelope")
		metrics.CryptoErrors.WithLabelValues("decrypt", string(errKind(err))).Inc()
		logger.Warn("personal envelope tamper detected", logger.Operation("decrypt"), logger.Mode(crypto.ModePersonal), logger.Error(err))
		return nil, err
	}

	key := crypto.KDF(privateKey, salt, crypto.DefaultKDFIterations)
	plaintext, err := crypto.AEADDecrypt(ciphertext, key, iv, tag)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("decrypt", string(errKind(err))).Inc()
		return nil, err
	}

	if env.Metadata.Compressed {
		plaintext, err = crypto.Decompress(plaintext)
		if err != nil {
			metrics.CryptoErrors.WithLabelValues("decrypt", string(errKind(err))).Inc()
			return nil, err
		}
	}

	metrics.CryptoOperations.WithLabelValues("decrypt", string(crypto.ModePersonal)).Inc()
	return plaintext, nil
}

// PersonalSession fixes one salt/derived-key pair so a caller can encrypt
// several messages without repeating the KDF (§4.2: "explicit caller
// opt-in; not used by C3-C6"). Decrypt does not reuse the fixed key: it
// runs DecryptPersonal, which derives the key again from the envelope's
// salt.
type PersonalSession struct {
	privateKey []byte
	salt       []byte
	key        []byte
	clock      crypto.Clock
}

// NewPersonalSession derives and fixes a salt/key pair for repeated use.
func NewPersonalSession(privateKey []byte, clock crypto.Clock) (*PersonalSession, error) {
	if err := ValidateKey(privateKey); err != nil {
		return nil, err
	}
	salt, err := crypto.Random(crypto.SaltSize)
	if err != nil {
		return nil, err
	}
	return &PersonalSession{
		privateKey: privateKey,
		salt:       salt,
		key:        crypto.KDF(privateKey, salt, crypto.DefaultKDFIterations),
		clock:      clock,
	}, nil
}

// Encrypt encrypts data under the session's fixed salt/key.
func (s *PersonalSession) Encrypt(data []byte, compress bool) (*crypto.Envelope, error) {
	plaintext := data
	compressed := false
	if compress {
		c, err := crypto.Compress(data)
		if err != nil {
			return nil, err
		}
		plaintext = c
		compressed = true
	}
	ciphertext, iv, tag, err := crypto.AEADEncrypt(plaintext, s.key)
	if err != nil {
		return nil, err
	}
	framed := crypto.CombineBuffers(s.salt, iv, tag, ciphertext)
	return &crypto.Envelope{
		EncryptedData: crypto.Base58Encode(framed),
		Method:        crypto.ModePersonal,
		Metadata: crypto.Metadata{
			Salt:       crypto.Base58Encode(s.salt),
			Nonce:      crypto.Base58Encode(iv),
			Timestamp:  crypto.NowSeconds(s.clock),
			Version:    crypto.VersionLegacy,
			Compressed: compressed,
		},
	}, nil
}

// Decrypt decrypts an envelope produced by this session (or any
// PersonalCipher envelope encrypted under the session's private key and
// salt).
func (s *PersonalSession) Decrypt(env *crypto.Envelope) ([]byte, error) {
	return DecryptPersonal(env, s.privateKey)
}

func errKind(err error) cryptoerr.Kind { return cryptoerr.KindOf(err) }
