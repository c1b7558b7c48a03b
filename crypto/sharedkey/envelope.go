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

package sharedkey

import (
	"encoding/json"

	"github.com/vaultmesh/scalecrypt/crypto"
	"github.com/vaultmesh/scalecrypt/crypto/cryptoerr"
)

// signedDocument is the canonical record signed over by the sender and
// re-derived by the receiver for verification (§4.4 step 3). Field order
// here is the wire's canonical order: it must stay stable, since
// encoding/json always marshals struct fields in declaration order.
type signedDocument struct {
	KeyID      string   `json:"keyId"`
	Sender     string   `json:"sender"`
	Timestamp  uint64   `json:"timestamp"`
	Recipients []string `json:"recipients"`
}

func canonicalDocument(keyID, sender string, timestamp uint64, recipients []string) ([]byte, error) {
	doc := signedDocument{KeyID: keyID, Sender: sender, Timestamp: timestamp, Recipients: recipients}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindInvalidEnvelope, "failed to marshal signed document", err)
	}
	return data, nil
}

// EncryptOptions configures EncryptWithSharedKey and RawEncrypt.
type EncryptOptions struct {
	Compress bool
	Clock    crypto.Clock
}

// RawResult carries the unframed output of RawEncrypt: every field a
// caller needs to build its own envelope frame around, whether that's
// SharedKeyStore's keyId-prefixed frame or SignatureGroup's
// groupId-prefixed frame.
type RawResult struct {
	Ciphertext []byte
	IV         []byte
	Tag        []byte
	Signature  []byte
	Timestamp  uint64
	Sender     string
	Recipients []string
	Compressed bool
}

// RawEncrypt performs every step of §4.4's encryptWithSharedKey short of
// framing and Envelope construction: permission check, master-key
// recovery via the sender's share, optional compression, AEAD seal, and
// the signature over {keyId, sender, timestamp, recipients}. SignatureGroup
// (C5) reuses this directly so both components share one master-key
// encryption path (Design Notes §9: model shared state as an owned
// mapping, not a duplicated implementation).
func (s *Store) RawEncrypt(keyID string, plaintext, senderPriv, senderPub []byte, opts EncryptOptions) (*RawResult, error) {
	s.mu.Lock()
	key, ok := s.keys[keyID]
	if !ok {
		s.mu.Unlock()
		return nil, cryptoerr.New(cryptoerr.KindKeyNotFound, "shared key not found: "+keyID)
	}
	senderID := crypto.Base58Encode(senderPub)
	share, ok := key.EncryptedShares[senderID]
	if !ok {
		s.mu.Unlock()
		return nil, cryptoerr.New(cryptoerr.KindNotMember, "sender does not hold a share of this key")
	}
	if err := requirePermission(share, "encrypt"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	masterKey, err := openShare(share, senderPub)
	holders := append([]string(nil), key.Holders...)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	data := plaintext
	compressed := false
	if opts.Compress {
		c, cerr := crypto.Compress(plaintext)
		if cerr != nil {
			return nil, cerr
		}
		data = c
		compressed = true
	}

	timestamp := crypto.NowSeconds(opts.Clock)
	doc, err := canonicalDocument(keyID, senderID, timestamp, holders)
	if err != nil {
		return nil, err
	}
	signature, err := crypto.Sign(doc, senderPriv)
	if err != nil {
		return nil, err
	}

	ciphertext, iv, tag, err := crypto.AEADEncrypt(data, masterKey)
	if err != nil {
		return nil, err
	}

	return &RawResult{
		Ciphertext: ciphertext,
		IV:         iv,
		Tag:        tag,
		Signature:  signature,
		Timestamp:  timestamp,
		Sender:     senderID,
		Recipients: holders,
		Compressed: compressed,
	}, nil
}

// RawDecrypt reverses RawEncrypt for the given keyId (SharedKeyStore first
// checks it against the keyId in the frame; SignatureGroup checks the
// groupId in the frame and passes the keyId from the envelope metadata).
// In both cases the keyId is part of the signed document verified here.
func (s *Store) RawDecrypt(keyID string, ciphertext, iv, tag, signature []byte, sender string, timestamp uint64, recipients []string, compressed bool, recipientPriv, recipientPub []byte) ([]byte, error) {
	s.mu.RLock()
	key, ok := s.keys[keyID]
	if !ok {
		s.mu.RUnlock()
		return nil, cryptoerr.New(cryptoerr.KindKeyNotFound, "shared key not found: "+keyID)
	}
	recipientID := crypto.Base58Encode(recipientPub)
	share, ok := key.EncryptedShares[recipientID]
	if !ok {
		s.mu.RUnlock()
		return nil, cryptoerr.New(cryptoerr.KindNotMember, "recipient does not hold a share of this key")
	}
	if err := requirePermission(share, "decrypt"); err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	s.mu.RUnlock()

	senderPub, err := crypto.Base58Decode(sender)
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindInvalidKey, "sender public key is not valid base58", err)
	}
	doc, err := canonicalDocument(keyID, sender, timestamp, recipients)
	if err != nil {
		return nil, err
	}
	if !crypto.Verify(doc, signature, senderPub) {
		return nil, cryptoerr.New(cryptoerr.KindSignatureInvalid, "sender signature verification failed")
	}

	masterKey, err := openShare(share, recipientPub)
	if err != nil {
		return nil, err
	}

	plaintext, err := crypto.AEADDecrypt(ciphertext, masterKey, iv, tag)
	if err != nil {
		return nil, err
	}
	if compressed {
		plaintext, err = crypto.Decompress(plaintext)
		if err != nil {
			return nil, err
		}
	}
	return plaintext, nil
}

// EncryptWithSharedKey implements §4.4's encryptWithSharedKey, framing
// the result as keyIdBytes(32)||signature(64)||iv(16)||tag(16)||ciphertext
// under mode = SharedMasterKey ("group" on the wire).
func (s *Store) EncryptWithSharedKey(plaintext []byte, keyID string, senderPriv, senderPub []byte, opts EncryptOptions) (*crypto.Envelope, error) {
	raw, err := s.RawEncrypt(keyID, plaintext, senderPriv, senderPub, opts)
	if err != nil {
		return nil, err
	}

	keyIDBytes, err := crypto.Base58Decode(keyID)
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindInvalidKey, "keyId is not valid base58", err)
	}
	framed := crypto.CombineBuffers(keyIDBytes, raw.Signature, raw.IV, raw.Tag, raw.Ciphertext)

	return &crypto.Envelope{
		EncryptedData: crypto.Base58Encode(framed),
		Method:        crypto.ModeSharedMasterKey,
		Metadata: crypto.Metadata{
			Nonce:      crypto.Base58Encode(raw.IV),
			Timestamp:  raw.Timestamp,
			Version:    crypto.VersionCurrent,
			Compressed: raw.Compressed,
			KeyID:      keyID,
			Sender:     raw.Sender,
			Recipients: raw.Recipients,
			Signature:  crypto.Base58Encode(raw.Signature),
		},
	}, nil
}

// DecryptWithSharedKey implements §4.4's decryptWithSharedKey: the
// receiver must hold a share with CanDecrypt, the embedded keyId must
// match metadata, and the sender's signature over the reconstructed
// document must verify.
func (s *Store) DecryptWithSharedKey(env *crypto.Envelope, recipientPriv, recipientPub []byte) ([]byte, error) {
	if env.Method != crypto.ModeSharedMasterKey {
		return nil, cryptoerr.New(cryptoerr.KindInvalidEnvelope, "envelope is not a shared-master-key envelope")
	}

	framed, err := crypto.Base58Decode(env.EncryptedData)
	if err != nil {
		return nil, err
	}
	parts, err := crypto.SplitBuffer(framed, 32, 64, crypto.NonceSize, crypto.TagSize)
	if err != nil {
		return nil, err
	}
	keyIDBytes, signature, iv, tag, ciphertext := parts[0], parts[1], parts[2], parts[3], parts[4]

	if crypto.Base58Encode(keyIDBytes) != env.Metadata.KeyID {
		return nil, cryptoerr.New(cryptoerr.KindKeyIDMismatch, "frame keyId does not match envelope metadata")
	}

	return s.RawDecrypt(env.Metadata.KeyID, ciphertext, iv, tag, signature, env.Metadata.Sender, env.Metadata.Timestamp, env.Metadata.Recipients, env.Metadata.Compressed, recipientPriv, recipientPub)
}
