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

// Package group implements SignatureGroup (C5): an epoch-versioned
// dynamic group with members, roles, permissions, key rotation, and
// signed membership transitions. Its master-key lifecycle is backed
// internally by sharedkey.Store rather than reimplemented (Design Notes
// §9: represent Role/Permission unions as tagged variants plus a flat
// record, and avoid duplicating the shared-key mechanism).
package group

import "github.com/vaultmesh/scalecrypt/crypto/sharedkey"

// Role is the tagged membership class a GroupMember holds.
type Role string

const (
	RoleOwner  Role = "Owner"
	RoleAdmin  Role = "Admin"
	RoleMember Role = "Member"
	RoleViewer Role = "Viewer"
)

// MemberPermissions is the flat per-member capability record §4.5's role
// table maps onto.
type MemberPermissions struct {
	CanDecrypt       bool `json:"canDecrypt"`
	CanEncrypt       bool `json:"canEncrypt"`
	CanAddMembers    bool `json:"canAddMembers"`
	CanRemoveMembers bool `json:"canRemoveMembers"`
	CanRotateKeys    bool `json:"canRotateKeys"`
}

// DefaultPermissions derives a role's default permission set by pure
// lookup (§4.5 role table), rather than requiring the caller to know the
// table themselves.
func DefaultPermissions(role Role) MemberPermissions {
	switch role {
	case RoleOwner:
		return MemberPermissions{CanDecrypt: true, CanEncrypt: true, CanAddMembers: true, CanRemoveMembers: true, CanRotateKeys: true}
	case RoleAdmin:
		return MemberPermissions{CanDecrypt: true, CanEncrypt: true, CanAddMembers: true, CanRemoveMembers: true}
	case RoleMember:
		return MemberPermissions{CanDecrypt: true, CanEncrypt: true}
	case RoleViewer:
		return MemberPermissions{CanDecrypt: true}
	default:
		return MemberPermissions{}
	}
}

// toSharePermissions maps a member's group-level capabilities onto
// the SharedKeyStore-level share permissions backing their membership:
// anyone who can mutate group membership must also be able to re-share
// the epoch's master key to newly added members.
func toSharePermissions(p MemberPermissions) sharedkey.SharePermissions {
	return sharedkey.SharePermissions{
		CanDecrypt: p.CanDecrypt,
		CanEncrypt: p.CanEncrypt,
		CanShare:   p.CanAddMembers || p.CanRemoveMembers || p.CanRotateKeys,
		CanRevoke:  p.CanRemoveMembers,
	}
}

// GroupMember is one entry in a SignatureGroup's membership sequence.
type GroupMember struct {
	PublicKey   string            `json:"publicKey"`
	Role        Role              `json:"role"`
	JoinedAt    uint64            `json:"joinedAt"`
	AddedBy     string            `json:"addedBy"`
	Permissions MemberPermissions `json:"permissions"`
}

// GroupPermissions are the group-wide policy knobs (§3).
type GroupPermissions struct {
	AllowDynamicMembership       bool `json:"allowDynamicMembership"`
	RequireSignatureVerification bool `json:"requireSignatureVerification"`
	MaxMembers                   int  `json:"maxMembers"` // 0 = unbounded
	AllowKeyRotation             bool `json:"allowKeyRotation"`
	AutoExpireInactiveMembers    bool `json:"autoExpireInactiveMembers"`
	InactivityThresholdDays      int  `json:"inactivityThresholdDays"`
}

// DefaultGroupPermissions is a permissive starting policy a caller can
// narrow explicitly.
func DefaultGroupPermissions() GroupPermissions {
	return GroupPermissions{
		AllowDynamicMembership:       true,
		RequireSignatureVerification: true,
		AllowKeyRotation:             true,
	}
}

// Epoch is a versioned window during which one master key is current
// (§3). Only the last epoch in a SignatureGroup has no EndTime.
type Epoch struct {
	EpochNumber    int     `json:"epochNumber"`
	StartTime      uint64  `json:"startTime"`
	EndTime        *uint64 `json:"endTime,omitempty"`
	MasterKeyID    string  `json:"masterKeyId"`
	RotationReason string  `json:"rotationReason,omitempty"`
}

// KeyShare is an alias for sharedkey.EncryptedKeyShare: the current
// epoch's per-member share record is identical in shape to a
// SharedKeyStore share, since both are "the master key encrypted under a
// per-recipient derived key" (GLOSSARY).
type KeyShare = sharedkey.EncryptedKeyShare

// SignatureGroup is the persisted record for one dynamic group (§3).
type SignatureGroup struct {
	GroupID          string            `json:"groupId"`
	GroupName        string            `json:"groupName"`
	GroupSignature   string            `json:"groupSignature"`
	Members          []GroupMember     `json:"members"`
	Permissions      GroupPermissions  `json:"permissions"`
	Epochs           []Epoch           `json:"epochs"`
	CreatorPublicKey string            `json:"creatorPublicKey"`
	Nonce            string            `json:"nonce"`
	Timestamp        uint64            `json:"timestamp"`
	Version          string            `json:"version"`
}

// CurrentEpoch returns the last (open) epoch.
func (g *SignatureGroup) CurrentEpoch() Epoch {
	return g.Epochs[len(g.Epochs)-1]
}

// Member looks up a member by base58 public key.
func (g *SignatureGroup) Member(publicKey string) (GroupMember, bool) {
	for _, m := range g.Members {
		if m.PublicKey == publicKey {
			return m, true
		}
	}
	return GroupMember{}, false
}

// Clone returns a deep-enough copy safe to return from Registry methods
// without aliasing internal slices.
func (g *SignatureGroup) Clone() *SignatureGroup {
	if g == nil {
		return nil
	}
	out := *g
	out.Members = append([]GroupMember(nil), g.Members...)
	out.Epochs = make([]Epoch, len(g.Epochs))
	for i, e := range g.Epochs {
		epochCopy := e
		if e.EndTime != nil {
			t := *e.EndTime
			epochCopy.EndTime = &t
		}
		out.Epochs[i] = epochCopy
	}
	return &out
}
