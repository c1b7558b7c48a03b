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
	"github.com/vaultmesh/scalecrypt/crypto"
	"github.com/vaultmesh/scalecrypt/crypto/cryptoerr"
)

// buildShare encrypts masterKey against recipientPub's derived key
// material (§4.4.1): salt <- random(32); shared <- kdf(recipientPub, salt,
// 1000); share ciphertext = salt||iv||tag||AEAD(masterKey, shared).
func buildShare(masterKey, recipientPub []byte, createdBy string, createdAt uint64, perms SharePermissions) (*EncryptedKeyShare, error) {
	salt, err := crypto.Random(crypto.SaltSize)
	if err != nil {
		return nil, err
	}
	shared := crypto.KDF(recipientPub, salt, crypto.ShareKDFIterations)

	ciphertext, iv, tag, err := crypto.AEADEncrypt(masterKey, shared)
	if err != nil {
		return nil, err
	}
	framed := crypto.CombineBuffers(salt, iv, tag, ciphertext)

	return &EncryptedKeyShare{
		RecipientPublicKey: crypto.Base58Encode(recipientPub),
		EncryptedData:      crypto.Base58Encode(framed),
		Nonce:              crypto.Base58Encode(iv),
		CreatedAt:          createdAt,
		CreatedBy:          createdBy,
		Permissions:        perms,
	}, nil
}

// openShare recovers the 32-byte master key from share using
// recipientPub, the public key of whoever is opening it. Any holder of
// the recipient's public key and the share's (public) salt can repeat
// this derivation — confidentiality rests on the share ciphertext never
// being exposed outside the store, not on asymmetric cryptography
// (§4.4.1's documented security contract).
func openShare(share *EncryptedKeyShare, recipientPub []byte) ([]byte, error) {
	framed, err := crypto.Base58Decode(share.EncryptedData)
	if err != nil {
		return nil, err
	}
	parts, err := crypto.SplitBuffer(framed, crypto.SaltSize, crypto.NonceSize, crypto.TagSize)
	if err != nil {
		return nil, err
	}
	salt, iv, tag, ciphertext := parts[0], parts[1], parts[2], parts[3]

	shared := crypto.KDF(recipientPub, salt, crypto.ShareKDFIterations)
	masterKey, err := crypto.AEADDecrypt(ciphertext, shared, iv, tag)
	if err != nil {
		return nil, err
	}
	return masterKey, nil
}

func requirePermission(share *EncryptedKeyShare, want string) error {
	if share == nil {
		return cryptoerr.New(cryptoerr.KindKeyNotFound, "holder has no share of this key")
	}
	var granted bool
	switch want {
	case "decrypt":
		granted = share.Permissions.CanDecrypt
	case "encrypt":
		granted = share.Permissions.CanEncrypt
	case "share":
		granted = share.Permissions.CanShare
	case "revoke":
		granted = share.Permissions.CanRevoke
	}
	if !granted {
		return cryptoerr.New(cryptoerr.KindPermissionDenied, "holder lacks required permission: "+want)
	}
	return nil
}
