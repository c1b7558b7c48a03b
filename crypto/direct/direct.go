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

// Package direct implements DirectCipher (C3): single-recipient envelopes
// keyed from the recipient's public key plus a random salt, and
// SecureChannel, a counter-tracked channel keyed from crypto.KeyExchange
// rather than from DirectCipher's envelopes.
//
// As §4.3 observes, encryptDirect derives its symmetric key solely from
// the recipient's public key and a random salt — never from a
// sender/recipient shared secret — so any holder of the recipient's
// public key can produce a valid envelope. That is documented behavior
// (SPEC_FULL.md §9, OQ4), not a bug: callers needing provenance must sign
// separately, as SharedKeyStore does for its own envelopes.
package direct

import (
	"github.com/vaultmesh/scalecrypt/crypto"
	"github.com/vaultmesh/scalecrypt/crypto/cryptoerr"
	"github.com/vaultmesh/scalecrypt/internal/logger"
	"github.com/vaultmesh/scalecrypt/internal/metrics"
)

// EncryptOptions configures EncryptDirect.
type EncryptOptions struct {
	Compress bool
	Clock    crypto.Clock
}

// EncryptDirect encrypts data for a single recipient identified by its
// Ed25519 public key (§4.3).
func EncryptDirect(data, recipientPubKey, senderPrivKey []byte, opts EncryptOptions) (*crypto.Envelope, error) {
	start := metricsTimer()
	defer func() { recordDuration("encrypt", start) }()

	senderPub, err := crypto.DerivePublicKey(senderPrivKey)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("encrypt", string(cryptoerr.KindOf(err))).Inc()
		return nil, err
	}
	if len(recipientPubKey) == 0 {
		err := cryptoerr.New(cryptoerr.KindInvalidRecipient, "recipient public key is empty")
		metrics.CryptoErrors.WithLabelValues("encrypt", string(cryptoerr.KindOf(err))).Inc()
		return nil, err
	}

	plaintext := data
	compressed := false
	if opts.Compress {
		c, cerr := crypto.Compress(data)
		if cerr != nil {
			metrics.CryptoErrors.WithLabelValues("encrypt", string(cryptoerr.KindOf(cerr))).Inc()
			return nil, cerr
		}
		plaintext = c
		compressed = true
	}

	salt, err := crypto.Random(crypto.SaltSize)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("encrypt", string(cryptoerr.KindOf(err))).Inc()
		return nil, err
	}
	shared := crypto.KDF(recipientPubKey, salt, crypto.ShareKDFIterations)

	ciphertext, iv, tag, err := crypto.AEADEncrypt(plaintext, shared)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("encrypt", string(cryptoerr.KindOf(err))).Inc()
		return nil, err
	}

	framed := crypto.CombineBuffers(salt, iv, tag, ciphertext)

	env := &crypto.Envelope{
		EncryptedData: crypto.Base58Encode(framed),
		Method:        crypto.ModeDirect,
		Metadata: crypto.Metadata{
			Nonce:              crypto.Base58Encode(iv),
			Timestamp:          crypto.NowSeconds(opts.Clock),
			Version:            crypto.VersionLegacy,
			Compressed:         compressed,
			SenderPublicKey:    crypto.Base58Encode(senderPub),
			RecipientPublicKey: crypto.Base58Encode(recipientPubKey),
			// EphemeralPublicKey is a legacy name retained from the spec
			// this module implements: it carries the salt, not a real
			// ephemeral key.
			EphemeralPublicKey: crypto.Base58Encode(salt),
		},
	}

	metrics.CryptoOperations.WithLabelValues("encrypt", string(crypto.ModeDirect)).Inc()
	logger.Debug("direct envelope encrypted", logger.Operation("encrypt"), logger.Mode(crypto.ModeDirect), logger.String("recipient", env.Metadata.RecipientPublicKey))
	return env, nil
}

// DecryptDirect reverses EncryptDirect using the recipient's private key
// (§4.3).
func DecryptDirect(env *crypto.Envelope, recipientPrivKey []byte) ([]byte, error) {
	start := metricsTimer()
	defer func() { recordDuration("decrypt", start) }()

	if env.Method != crypto.ModeDirect {
		err := cryptoerr.New(cryptoerr.KindInvalidEnvelope, "envelope is not a direct envelope")
		metrics.CryptoErrors.WithLabelValues("decrypt", string(cryptoerr.KindOf(err))).Inc()
		return nil, err
	}

	recipientPub, err := crypto.DerivePublicKey(recipientPrivKey)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("decrypt", string(cryptoerr.KindOf(err))).Inc()
		return nil, err
	}

	framed, err := crypto.Base58Decode(env.EncryptedData)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("decrypt", string(cryptoerr.KindOf(err))).Inc()
		return nil, err
	}
	parts, err := crypto.SplitBuffer(framed, crypto.SaltSize, crypto.NonceSize, crypto.TagSize)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("decrypt", string(cryptoerr.KindOf(err))).Inc()
		return nil, err
	}
	salt, iv, tag, ciphertext := parts[0], parts[1], parts[2], parts[3]

	shared := crypto.KDF(recipientPub, salt, crypto.ShareKDFIterations)
	plaintext, err := crypto.AEADDecrypt(ciphertext, shared, iv, tag)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("decrypt", string(cryptoerr.KindOf(err))).Inc()
		logger.Warn("direct envelope decrypt failed", logger.Operation("decrypt"), logger.Mode(crypto.ModeDirect), logger.Error(err))
		return nil, err
	}

	if env.Metadata.Compressed {
		plaintext, err = crypto.Decompress(plaintext)
		if err != nil {
			metrics.CryptoErrors.WithLabelValues("decrypt", string(cryptoerr.KindOf(err))).Inc()
			return nil, err
		}
	}

	metrics.CryptoOperations.WithLabelValues("decrypt", string(crypto.ModeDirect)).Inc()
	logger.Debug("direct envelope decrypted", logger.Operation("decrypt"), logger.Mode(crypto.ModeDirect))
	return plaintext, nil
}
