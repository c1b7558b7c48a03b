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

package direct

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/vaultmesh/scalecrypt/crypto"
	"github.com/vaultmesh/scalecrypt/crypto/cryptoerr"
)

// SecureMessage is the wire shape SecureChannel produces: an opaque
// base58 blob of nonce||ciphertext. It deliberately does not reuse
// crypto.Envelope — the channel has no mode tag or per-message metadata,
// only a counter embedded inside the authenticated plaintext.
type SecureMessage struct {
	EncryptedData string `json:"encryptedData"`
}

// SecureChannel is a bidirectional, counter-tracked secure channel between
// two parties, grounded in the teacher's SecureSession (HKDF-derived
// ChaCha20-Poly1305 key over an ECDH-shaped shared secret). Here the
// "shared secret" is crypto.KeyExchange, the spec's deliberately
// non-standard key-agreement function (OQ2), not real ECDH.
type SecureChannel struct {
	mu      sync.Mutex
	aead    cipher.AEAD
	counter uint64
}

// NewSecureChannel derives a shared secret via crypto.KeyExchange(localPriv,
// remotePub) and HKDF-expands it into a ChaCha20-Poly1305 key.
func NewSecureChannel(localPriv, remotePub []byte) (*SecureChannel, error) {
	sharedSecret, err := crypto.KeyExchange(localPriv, remotePub)
	if err != nil {
		return nil, err
	}

	kdf := hkdf.New(sha256.New, sharedSecret, []byte("scalecrypt/secure-channel"), []byte("encryption"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindCipherInit, "failed to derive channel key", err)
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindCipherInit, "failed to init channel AEAD", err)
	}

	return &SecureChannel{aead: aead}, nil
}

// EncryptMessage prefixes the channel's monotonically increasing 64-bit
// counter to msg before sealing it, per §4.3.
func (c *SecureChannel) EncryptMessage(msg []byte) (*SecureMessage, error) {
	c.mu.Lock()
	counter := c.counter
	c.counter++
	c.mu.Unlock()

	prefixed := make([]byte, 8+len(msg))
	binary.BigEndian.PutUint64(prefixed, counter)
	copy(prefixed[8:], msg)

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindCryptoSource, "failed to generate channel nonce", err)
	}

	sealed := c.aead.Seal(nil, nonce, prefixed, nil)
	framed := crypto.CombineBuffers(nonce, sealed)

	return &SecureMessage{EncryptedData: crypto.Base58Encode(framed)}, nil
}

// DecryptMessage returns the plaintext and the counter it was sent with.
// The channel itself does not enforce ordering or reject replays — per
// §4.3, the caller must track the last-seen counter per peer.
func (c *SecureChannel) DecryptMessage(msg *SecureMessage) (plaintext []byte, counter uint64, err error) {
	framed, err := crypto.Base58Decode(msg.EncryptedData)
	if err != nil {
		return nil, 0, err
	}
	if len(framed) < chacha20poly1305.NonceSize {
		return nil, 0, cryptoerr.New(cryptoerr.KindFrameTruncated, "secure channel message shorter than nonce")
	}
	nonce := framed[:chacha20poly1305.NonceSize]
	sealed := framed[chacha20poly1305.NonceSize:]

	c.mu.Lock()
	opened, err := c.aead.Open(nil, nonce, sealed, nil)
	c.mu.Unlock()
	if err != nil {
		return nil, 0, cryptoerr.Wrap(cryptoerr.KindAuthFailed, "channel message authentication failed", err)
	}
	if len(opened) < 8 {
		return nil, 0, cryptoerr.New(cryptoerr.KindFrameTruncated, "decrypted channel message missing counter")
	}

	counter = binary.BigEndian.Uint64(opened[:8])
	plaintext = make([]byte, len(opened)-8)
	copy(plaintext, opened[8:])
	return plaintext, counter, nil
}
