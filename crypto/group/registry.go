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

package group

import (
	"encoding/json"
	"sync"

	"github.com/vaultmesh/scalecrypt/crypto"
	"github.com/vaultmesh/scalecrypt/crypto/cryptoerr"
	"github.com/vaultmesh/scalecrypt/crypto/sharedkey"
	"github.com/vaultmesh/scalecrypt/internal/logger"
	"github.com/vaultmesh/scalecrypt/internal/metrics"
)

// Registry is the process-local mapping from groupId to SignatureGroup,
// mirroring sharedkey.Store's structure (mutex-guarded map, not a
// cyclic container). It owns an internal sharedkey.Store for master-key
// lifecycle: every epoch's master key is a first-class SharedMasterKey.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]*SignatureGroup
	store  *sharedkey.Store
	clock  crypto.Clock

	// lastRotatedKeyID records the keyId a no-removal rotation minted,
	// for rotateEpoch to pick up after rotateWithoutRemoval runs. Only
	// meaningful for the duration of a single RotateGroupKeys call.
	lastRotatedKeyID string
}

// NewRegistry creates an empty Registry.
func NewRegistry(clock crypto.Clock) *Registry {
	if clock == nil {
		clock = crypto.SystemClock
	}
	return &Registry{
		groups: make(map[string]*SignatureGroup),
		store:  sharedkey.NewStore(clock, 0),
		clock:  clock,
	}
}

// Get returns a clone of the group record. A missing group surfaces as
// KeyNotFound since the spec's taxonomy has no separate "GroupNotFound"
// kind.
func (r *Registry) Get(groupID string) (*SignatureGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[groupID]
	if !ok {
		return nil, cryptoerr.New(cryptoerr.KindKeyNotFound, "signature group not found: "+groupID)
	}
	return g.Clone(), nil
}

type groupCreationDocument struct {
	GroupName string `json:"groupName"`
	Creator   string `json:"creator"`
	Timestamp uint64 `json:"timestamp"`
}

// CreateSignatureGroup implements §4.5's group-creation path: the
// creator becomes the sole Owner, a creator-signed attestation of
// creation is recorded, and epoch 1 is opened against a fresh master key
// with the creator as its only holder.
func (r *Registry) CreateSignatureGroup(groupName string, creatorPriv []byte, permissions GroupPermissions) (*SignatureGroup, error) {
	creatorPub, err := crypto.DerivePublicKey(creatorPriv)
	if err != nil {
		return nil, err
	}
	creatorID := crypto.Base58Encode(creatorPub)
	now := crypto.NowSeconds(r.clock)

	groupID := crypto.GenerateID([]byte(groupName), creatorPub, []byte{byte(now), byte(now >> 8), byte(now >> 16), byte(now >> 24)})

	doc, err := json.Marshal(groupCreationDocument{GroupName: groupName, Creator: creatorID, Timestamp: now})
	if err != nil {
		return nil, cryptoerr.Wrap(cryptoerr.KindInvalidEnvelope, "failed to marshal group creation document", err)
	}
	signature, err := crypto.Sign(doc, creatorPriv)
	if err != nil {
		return nil, err
	}

	owner := GroupMember{
		PublicKey:   creatorID,
		Role:        RoleOwner,
		JoinedAt:    now,
		AddedBy:     creatorID,
		Permissions: DefaultPermissions(RoleOwner),
	}

	masterKey, err := r.store.CreateSharedKey(
		sharedkey.DefaultMetadata(groupName, "signature-group epoch 1", creatorID),
		[]sharedkey.Recipient{{PublicKey: creatorPub, Permissions: toSharePermissions(owner.Permissions)}},
		creatorPriv,
	)
	if err != nil {
		return nil, err
	}

	sg := &SignatureGroup{
		GroupID:          groupID,
		GroupName:        groupName,
		GroupSignature:   crypto.Base58Encode(signature),
		Members:          []GroupMember{owner},
		Permissions:      permissions,
		Epochs:           []Epoch{{EpochNumber: 1, StartTime: now, MasterKeyID: masterKey.KeyID}},
		CreatorPublicKey: creatorID,
		Timestamp:        now,
		Version:          crypto.VersionCurrent,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[groupID] = sg

	metrics.ActiveHolders.WithLabelValues(groupID).Set(1)
	logger.Debug("signature group created", logger.Operation("create"), logger.Mode(crypto.ModeSignatureGroup), logger.String("groupId", groupID))
	return sg.Clone(), nil
}

// AddMember implements §4.5's addMember transition: the authorizer must
// hold CanAddMembers, membership must not exceed maxMembers, and the new
// public key must not already be a member. The Owner role cannot be
// granted here, since a group has exactly one Owner, its creator.
func (r *Registry) AddMember(groupID string, newMemberPub []byte, role Role, authorizerPriv, authorizerPub []byte) (*SignatureGroup, error) {
	if role == RoleOwner {
		return nil, cryptoerr.New(cryptoerr.KindPermissionDenied, "a group has exactly one Owner; the Owner role cannot be added")
	}
	r.mu.Lock()
	g, ok := r.groups[groupID]
	if !ok {
		r.mu.Unlock()
		return nil, cryptoerr.New(cryptoerr.KindKeyNotFound, "signature group not found: "+groupID)
	}
	authorizerID := crypto.Base58Encode(authorizerPub)
	authorizer, ok := g.Member(authorizerID)
	if !ok {
		r.mu.Unlock()
		return nil, cryptoerr.New(cryptoerr.KindNotMember, "authorizer is not a member of this group")
	}
	if !authorizer.Permissions.CanAddMembers {
		r.mu.Unlock()
		err := cryptoerr.New(cryptoerr.KindPermissionDenied, "authorizer cannot add members")
		logger.Warn("add member rejected", logger.Operation("add-member"), logger.Mode(crypto.ModeSignatureGroup), logger.String("groupId", groupID), logger.Error(err))
		return nil, err
	}
	if g.Permissions.MaxMembers > 0 && len(g.Members) >= g.Permissions.MaxMembers {
		r.mu.Unlock()
		err := cryptoerr.New(cryptoerr.KindGroupFull, "group has reached its maximum member count")
		logger.Warn("add member rejected", logger.Operation("add-member"), logger.Mode(crypto.ModeSignatureGroup), logger.String("groupId", groupID), logger.Error(err))
		return nil, err
	}
	newID := crypto.Base58Encode(newMemberPub)
	if _, exists := g.Member(newID); exists {
		r.mu.Unlock()
		err := cryptoerr.New(cryptoerr.KindDuplicateMember, "public key is already a member")
		logger.Warn("add member rejected", logger.Operation("add-member"), logger.Mode(crypto.ModeSignatureGroup), logger.String("groupId", groupID), logger.Error(err))
		return nil, err
	}

	now := crypto.NowSeconds(r.clock)
	newMember := GroupMember{
		PublicKey:   newID,
		Role:        role,
		JoinedAt:    now,
		AddedBy:     authorizerID,
		Permissions: DefaultPermissions(role),
	}
	g.Members = append(g.Members, newMember)
	currentEpoch := g.CurrentEpoch()
	r.mu.Unlock()

	if _, err := r.store.AddRecipients(currentEpoch.MasterKeyID, []sharedkey.Recipient{{PublicKey: newMemberPub, Permissions: toSharePermissions(newMember.Permissions)}}, authorizerPriv, authorizerPub); err != nil {
		r.mu.Lock()
		g.Members = g.Members[:len(g.Members)-1]
		r.mu.Unlock()
		return nil, err
	}

	metrics.MembershipMutations.WithLabelValues("add").Inc()
	r.mu.RLock()
	defer r.mu.RUnlock()
	metrics.ActiveHolders.WithLabelValues(groupID).Set(float64(len(g.Members)))
	logger.Debug("member added to signature group", logger.Operation("add-member"), logger.Mode(crypto.ModeSignatureGroup), logger.String("groupId", groupID), logger.Int("members", len(g.Members)))
	return g.Clone(), nil
}

// RemoveMember implements §4.5's removeMember transition: the Owner can
// never be removed, the authorizer must hold CanRemoveMembers, and when
// rotateKeys is set the epoch's master key is rotated to exclude the
// removed member (§8 scenario 4).
func (r *Registry) RemoveMember(groupID string, targetPub []byte, authorizerPriv, authorizerPub []byte, rotateKeys bool) (*SignatureGroup, error) {
	targetID := crypto.Base58Encode(targetPub)

	r.mu.Lock()
	g, ok := r.groups[groupID]
	if !ok {
		r.mu.Unlock()
		return nil, cryptoerr.New(cryptoerr.KindKeyNotFound, "signature group not found: "+groupID)
	}
	target, ok := g.Member(targetID)
	if !ok {
		r.mu.Unlock()
		return nil, cryptoerr.New(cryptoerr.KindNotMember, "target is not a member of this group")
	}
	if target.Role == RoleOwner {
		r.mu.Unlock()
		err := cryptoerr.New(cryptoerr.KindOwnerUndeletable, "the group owner cannot be removed")
		logger.Warn("remove member rejected", logger.Operation("remove-member"), logger.Mode(crypto.ModeSignatureGroup), logger.String("groupId", groupID), logger.Error(err))
		return nil, err
	}
	authorizerID := crypto.Base58Encode(authorizerPub)
	authorizer, ok := g.Member(authorizerID)
	if !ok {
		r.mu.Unlock()
		return nil, cryptoerr.New(cryptoerr.KindNotMember, "authorizer is not a member of this group")
	}
	if !authorizer.Permissions.CanRemoveMembers {
		r.mu.Unlock()
		err := cryptoerr.New(cryptoerr.KindPermissionDenied, "authorizer cannot remove members")
		logger.Warn("remove member rejected", logger.Operation("remove-member"), logger.Mode(crypto.ModeSignatureGroup), logger.String("groupId", groupID), logger.Error(err))
		return nil, err
	}
	if rotateKeys && !authorizer.Permissions.CanRotateKeys {
		r.mu.Unlock()
		err := cryptoerr.New(cryptoerr.KindRotationDisallowed, "authorizer cannot rotate group keys")
		logger.Warn("remove member rejected", logger.Operation("remove-member"), logger.Mode(crypto.ModeSignatureGroup), logger.String("groupId", groupID), logger.Error(err))
		return nil, err
	}

	previous := append([]GroupMember(nil), g.Members...)
	remaining := make([]GroupMember, 0, len(g.Members)-1)
	for _, m := range g.Members {
		if m.PublicKey != targetID {
			remaining = append(remaining, m)
		}
	}
	g.Members = remaining
	currentEpoch := g.CurrentEpoch()
	r.mu.Unlock()

	if rotateKeys {
		if _, err := r.rotateEpoch(g, authorizerPriv, authorizerPub, "member-removed", []string{targetID}); err != nil {
			r.mu.Lock()
			g.Members = previous
			r.mu.Unlock()
			return nil, err
		}
	} else {
		if _, err := r.store.RemoveRecipients(currentEpoch.MasterKeyID, [][]byte{targetPub}, authorizerPriv, authorizerPub, false); err != nil {
			r.mu.Lock()
			g.Members = previous
			r.mu.Unlock()
			return nil, err
		}
	}

	metrics.MembershipMutations.WithLabelValues("remove").Inc()
	r.mu.RLock()
	defer r.mu.RUnlock()
	metrics.ActiveHolders.WithLabelValues(groupID).Set(float64(len(g.Members)))
	logger.Debug("member removed from signature group", logger.Operation("remove-member"), logger.Mode(crypto.ModeSignatureGroup), logger.String("groupId", groupID), logger.Bool("rotated", rotateKeys), logger.Int("members", len(g.Members)))
	return g.Clone(), nil
}
