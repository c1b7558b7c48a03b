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

// Package sharedkey implements SharedKeyStore (C4): the lifecycle of
// named shared master keys, their per-holder encrypted shares, and
// granular per-holder permissions.
package sharedkey

// SharePermissions gates what a holder of a key share may do with it.
// All booleans default false; every capability is granted explicitly.
type SharePermissions struct {
	CanDecrypt       bool    `json:"canDecrypt"`
	CanEncrypt       bool    `json:"canEncrypt"`
	CanShare         bool    `json:"canShare"`
	CanRevoke        bool    `json:"canRevoke"`
	UsageExpiresAt   *uint64 `json:"usageExpiresAt,omitempty"`
}

// EncryptedKeyShare is the master key, encrypted against one recipient's
// derived key material (§4.4.1).
type EncryptedKeyShare struct {
	RecipientPublicKey string           `json:"recipientPublicKey"`
	EncryptedData       string           `json:"encryptedData"`
	Nonce               string           `json:"nonce"`
	CreatedAt           uint64           `json:"createdAt"`
	CreatedBy           string           `json:"createdBy"`
	Permissions         SharePermissions `json:"permissions"`
}

// Metadata describes a SharedMasterKey's purpose and provenance.
type Metadata struct {
	Name             string            `json:"name"`
	Purpose          string            `json:"purpose"`
	Creator          string            `json:"creator"`
	Algorithm        string            `json:"algorithm"`
	DerivationMethod string            `json:"derivationMethod"`
	Properties       map[string]string `json:"properties,omitempty"`
}

// DefaultMetadata fills in the algorithm/derivation fields the spec
// mandates (§3) so callers only need to supply name/purpose/creator.
func DefaultMetadata(name, purpose, creator string) Metadata {
	return Metadata{
		Name:             name,
		Purpose:          purpose,
		Creator:          creator,
		Algorithm:        "AES-256-GCM",
		DerivationMethod: "ECDH",
	}
}

// SharedMasterKey is the persisted record for one named master key and
// its holders (§3). Master key bytes themselves are never stored here —
// only per-holder encrypted shares — consistent with "master keys exist
// only in memory, derived on demand from one holder's share" (§3,
// Ownership).
type SharedMasterKey struct {
	KeyID           string                        `json:"keyId"`
	Metadata        Metadata                      `json:"metadata"`
	EncryptedShares map[string]*EncryptedKeyShare `json:"encryptedShares"`
	Holders         []string                      `json:"holders"`
	CreatedAt       uint64                        `json:"createdAt"`
	ExpiresAt       *uint64                       `json:"expiresAt,omitempty"`
}

// Clone returns a deep-enough copy safe for a caller to hold onto after
// the store mutates the original (addRecipients/removeRecipients return
// "updated values", per §3 Lifecycle).
func (k *SharedMasterKey) Clone() *SharedMasterKey {
	if k == nil {
		return nil
	}
	out := &SharedMasterKey{
		KeyID:     k.KeyID,
		Metadata:  k.Metadata,
		CreatedAt: k.CreatedAt,
		ExpiresAt: k.ExpiresAt,
		Holders:   append([]string(nil), k.Holders...),
	}
	out.EncryptedShares = make(map[string]*EncryptedKeyShare, len(k.EncryptedShares))
	for pub, share := range k.EncryptedShares {
		shareCopy := *share
		out.EncryptedShares[pub] = &shareCopy
	}
	return out
}

// Recipient is an input to CreateSharedKey/AddRecipients: a public key
// plus the permissions its share should be created with.
type Recipient struct {
	PublicKey   []byte
	Permissions SharePermissions
}
