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

// passwordKey derives a 32-byte key from a backup password by UTF-8
// encoding then right-padding or truncating to 32 bytes. This is
// intentionally NOT a KDF (SPEC_FULL.md §9, OQ3): short or low-entropy
// passwords are effectively plaintext-equivalent key material, and
// callers must be told so rather than assume PBKDF2-strength stretching.
func passwordKey(password string) []byte {
	key := make([]byte, 32)
	copy(key, []byte(password))
	return key
}

type exportedRecord struct {
	SharedKey  *SharedMasterKey `json:"sharedKey"`
	ExportedAt uint64           `json:"exportedAt"`
	ExportedBy string           `json:"exportedBy"`
}

type exportPayload struct {
	Encrypted string `json:"encrypted"`
	IV        string `json:"iv"`
	AuthTag   string `json:"authTag"`
	Version   string `json:"version"`
}

// ExportSharedKey implements §4.4's exportSharedKey: the exporter must
// hold any share of the key (no specific permission required), and the
// backup is the password-encrypted JSON record of the full key state.
func (s *Store) ExportSharedKey(keyID string, exporterPriv, exporterPub []byte, backupPassword string) (string, error) {
	s.mu.RLock()
	key, ok := s.keys[keyID]
	if !ok {
		s.mu.RUnlock()
		return "", cryptoerr.New(cryptoerr.KindKeyNotFound, "shared key not found: "+keyID)
	}
	exporterID := crypto.Base58Encode(exporterPub)
	if _, holds := key.EncryptedShares[exporterID]; !holds {
		s.mu.RUnlock()
		return "", cryptoerr.New(cryptoerr.KindNotMember, "exporter does not hold a share of this key")
	}
	snapshot := key.Clone()
	s.mu.RUnlock()

	record := exportedRecord{
		SharedKey:  snapshot,
		ExportedAt: crypto.NowSeconds(s.clock),
		ExportedBy: exporterID,
	}
	plaintext, err := json.Marshal(record)
	if err != nil {
		return "", cryptoerr.Wrap(cryptoerr.KindInvalidEnvelope, "failed to marshal export record", err)
	}

	pk := passwordKey(backupPassword)
	ciphertext, iv, tag, err := crypto.AEADEncrypt(plaintext, pk)
	if err != nil {
		return "", err
	}

	payload := exportPayload{
		Encrypted: crypto.Base58Encode(ciphertext),
		IV:        crypto.Base58Encode(iv),
		AuthTag:   crypto.Base58Encode(tag),
		Version:   crypto.VersionCurrent,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", cryptoerr.Wrap(cryptoerr.KindInvalidEnvelope, "failed to marshal export payload", err)
	}

	return crypto.Base58Encode(payloadJSON), nil
}

// ImportSharedKey implements §4.4's importSharedKey, registering the
// rehydrated key under its original keyId. Any decoding or authentication
// failure (including a wrong password) surfaces as ImportInvalid.
func (s *Store) ImportSharedKey(exportPackage string, backupPassword string) (*SharedMasterKey, error) {
	payloadJSON, err := crypto.Base58Decode(exportPackage)
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindImportInvalid, "export package is not valid base58", err)
	}
	var payload exportPayload
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindImportInvalid, "export package is not a valid payload", err)
	}

	ciphertext, err := crypto.Base58Decode(payload.Encrypted)
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindImportInvalid, "encrypted field is not valid base58", err)
	}
	iv, err := crypto.Base58Decode(payload.IV)
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindImportInvalid, "iv field is not valid base58", err)
	}
	tag, err := crypto.Base58Decode(payload.AuthTag)
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindImportInvalid, "authTag field is not valid base58", err)
	}

	pk := passwordKey(backupPassword)
	plaintext, err := crypto.AEADDecrypt(ciphertext, pk, iv, tag)
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindImportInvalid, "failed to decrypt export package", err)
	}

	var record exportedRecord
	if err := json.Unmarshal(plaintext, &record); err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindImportInvalid, "decrypted payload is not a valid export record", err)
	}
	if record.SharedKey == nil {
		return nil, cryptoerr.New(cryptoerr.KindImportInvalid, "export record carries no shared key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxKeys > 0 && len(s.keys) >= s.maxKeys {
		if _, exists := s.keys[record.SharedKey.KeyID]; !exists {
			return nil, cryptoerr.New(cryptoerr.KindKeyStoreFull, "shared key store is at capacity")
		}
	}
	s.keys[record.SharedKey.KeyID] = record.SharedKey.Clone()
	return record.SharedKey.Clone(), nil
}
