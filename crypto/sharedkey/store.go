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
	"sync"

	"github.com/vaultmesh/scalecrypt/crypto"
	"github.com/vaultmesh/scalecrypt/crypto/cryptoerr"
	"github.com/vaultmesh/scalecrypt/internal/logger"
	"github.com/vaultmesh/scalecrypt/internal/metrics"
)

// Store is a process-local mapping from keyId to SharedMasterKey,
// grounded on the teacher's memoryKeyStorage (crypto/storage/memory.go):
// a mutex-guarded map rather than a cyclic/shared-by-reference container
// (Design Notes §9). The core does not impose locking across operations
// on a single key — callers sharing a Store across goroutines get that
// for free from this mutex, but multi-step workflows (read, mutate,
// write) remain the caller's responsibility to sequence.
type Store struct {
	mu      sync.RWMutex
	keys    map[string]*SharedMasterKey
	clock   crypto.Clock
	maxKeys int
}

// NewStore creates an empty Store. maxKeys <= 0 means unbounded.
func NewStore(clock crypto.Clock, maxKeys int) *Store {
	if clock == nil {
		clock = crypto.SystemClock
	}
	return &Store{
		keys:    make(map[string]*SharedMasterKey),
		clock:   clock,
		maxKeys: maxKeys,
	}
}

// Get returns a clone of the key record, or KeyNotFound.
func (s *Store) Get(keyID string) (*SharedMasterKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[keyID]
	if !ok {
		return nil, cryptoerr.New(cryptoerr.KindKeyNotFound, "shared key not found: "+keyID)
	}
	return key.Clone(), nil
}

// CreateSharedKey implements §4.4's createSharedKey.
func (s *Store) CreateSharedKey(metadata Metadata, initialRecipients []Recipient, creatorPriv []byte) (*SharedMasterKey, error) {
	creatorPub, err := crypto.DerivePublicKey(creatorPriv)
	if err != nil {
		return nil, err
	}

	masterKey, err := crypto.Random(32)
	if err != nil {
		return nil, err
	}
	keyID := crypto.GenerateID(masterKey, creatorPub)

	now := crypto.NowSeconds(s.clock)
	shares := make(map[string]*EncryptedKeyShare, len(initialRecipients))
	holders := make([]string, 0, len(initialRecipients))
	creatorID := crypto.Base58Encode(creatorPub)

	for _, r := range initialRecipients {
		share, serr := buildShare(masterKey, r.PublicKey, creatorID, now, r.Permissions)
		if serr != nil {
			return nil, serr
		}
		pubID := crypto.Base58Encode(r.PublicKey)
		shares[pubID] = share
		holders = append(holders, pubID)
	}

	key := &SharedMasterKey{
		KeyID:           keyID,
		Metadata:        metadata,
		EncryptedShares: shares,
		Holders:         holders,
		CreatedAt:       now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxKeys > 0 && len(s.keys) >= s.maxKeys {
		err := cryptoerr.New(cryptoerr.KindKeyStoreFull, "shared key store is at capacity")
		logger.Warn("shared key creation rejected", logger.Operation("create"), logger.Mode(crypto.ModeSharedMasterKey), logger.Error(err))
		return nil, err
	}
	if _, exists := s.keys[keyID]; exists {
		err := cryptoerr.New(cryptoerr.KindDuplicateKeyID, "generated keyId collided with an existing key")
		logger.Warn("shared key creation rejected", logger.Operation("create"), logger.Mode(crypto.ModeSharedMasterKey), logger.Error(err))
		return nil, err
	}
	s.keys[keyID] = key

	metrics.ActiveHolders.WithLabelValues(keyID).Set(float64(len(holders)))
	logger.Debug("shared key created", logger.Operation("create"), logger.Mode(crypto.ModeSharedMasterKey), logger.String("keyId", keyID), logger.Int("holders", len(holders)))
	return key.Clone(), nil
}

// AddRecipients implements §4.4's addRecipientsToSharedKey.
func (s *Store) AddRecipients(keyID string, newRecipients []Recipient, authorizerPriv, authorizerPub []byte) (*SharedMasterKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[keyID]
	if !ok {
		err := cryptoerr.New(cryptoerr.KindKeyNotFound, "shared key not found: "+keyID)
		logger.Warn("add recipients failed", logger.Operation("add-recipient"), logger.Mode(crypto.ModeSharedMasterKey), logger.Error(err))
		return nil, err
	}

	authorizerID := crypto.Base58Encode(authorizerPub)
	authorizerShare, ok := key.EncryptedShares[authorizerID]
	if !ok {
		err := cryptoerr.New(cryptoerr.KindNotMember, "authorizer does not hold a share of this key")
		logger.Warn("add recipients failed", logger.Operation("add-recipient"), logger.Mode(crypto.ModeSharedMasterKey), logger.String("keyId", keyID), logger.Error(err))
		return nil, err
	}
	if err := requirePermission(authorizerShare, "share"); err != nil {
		logger.Warn("add recipients failed", logger.Operation("add-recipient"), logger.Mode(crypto.ModeSharedMasterKey), logger.String("keyId", keyID), logger.Error(err))
		return nil, err
	}

	masterKey, err := openShare(authorizerShare, authorizerPub)
	if err != nil {
		logger.Warn("add recipients failed", logger.Operation("add-recipient"), logger.Mode(crypto.ModeSharedMasterKey), logger.String("keyId", keyID), logger.Error(err))
		return nil, err
	}

	now := crypto.NowSeconds(s.clock)
	for _, r := range newRecipients {
		pubID := crypto.Base58Encode(r.PublicKey)
		if _, exists := key.EncryptedShares[pubID]; exists {
			continue
		}
		share, serr := buildShare(masterKey, r.PublicKey, authorizerID, now, r.Permissions)
		if serr != nil {
			return nil, serr
		}
		key.EncryptedShares[pubID] = share
		key.Holders = append(key.Holders, pubID)
	}

	metrics.MembershipMutations.WithLabelValues("add").Inc()
	metrics.ActiveHolders.WithLabelValues(keyID).Set(float64(len(key.Holders)))
	logger.Debug("recipients added to shared key", logger.Operation("add-recipient"), logger.Mode(crypto.ModeSharedMasterKey), logger.String("keyId", keyID), logger.Int("holders", len(key.Holders)))
	return key.Clone(), nil
}

// RemoveRecipients implements §4.4's removeRecipientsFromSharedKey,
// including the rotateKey=true path: a fresh master key is generated and
// re-shared to the retained holders, preserving their permissions. The
// old master key is discarded entirely, so envelopes sealed under it stop
// being decryptable through this Store once rotation runs — including for
// surviving holders, whose new shares now wrap the new master key (§4.4,
// step 3: "in-memory rotation does not re-encrypt past payloads"; it also
// does not retroactively preserve access to them).
func (s *Store) RemoveRecipients(keyID string, toRemove [][]byte, authorizerPriv, authorizerPub []byte, rotateKey bool) (*SharedMasterKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[keyID]
	if !ok {
		err := cryptoerr.New(cryptoerr.KindKeyNotFound, "shared key not found: "+keyID)
		logger.Warn("remove recipients failed", logger.Operation("remove-recipient"), logger.Mode(crypto.ModeSharedMasterKey), logger.Error(err))
		return nil, err
	}

	authorizerID := crypto.Base58Encode(authorizerPub)
	authorizerShare, ok := key.EncryptedShares[authorizerID]
	if !ok {
		err := cryptoerr.New(cryptoerr.KindNotMember, "authorizer does not hold a share of this key")
		logger.Warn("remove recipients failed", logger.Operation("remove-recipient"), logger.Mode(crypto.ModeSharedMasterKey), logger.String("keyId", keyID), logger.Error(err))
		return nil, err
	}
	if err := requirePermission(authorizerShare, "share"); err != nil {
		logger.Warn("remove recipients failed", logger.Operation("remove-recipient"), logger.Mode(crypto.ModeSharedMasterKey), logger.String("keyId", keyID), logger.Error(err))
		return nil, err
	}

	removeSet := make(map[string]bool, len(toRemove))
	for _, pub := range toRemove {
		removeSet[crypto.Base58Encode(pub)] = true
	}

	remainingHolders := make([]string, 0, len(key.Holders))
	for _, h := range key.Holders {
		if removeSet[h] {
			delete(key.EncryptedShares, h)
			continue
		}
		remainingHolders = append(remainingHolders, h)
	}
	key.Holders = remainingHolders

	if rotateKey {
		newMasterKey, err := crypto.Random(32)
		if err != nil {
			return nil, err
		}
		now := crypto.NowSeconds(s.clock)
		newShares := make(map[string]*EncryptedKeyShare, len(key.Holders))
		for _, h := range key.Holders {
			oldShare := key.EncryptedShares[h]
			pub, derr := crypto.Base58Decode(h)
			if derr != nil {
				return nil, derr
			}
			newShare, serr := buildShare(newMasterKey, pub, authorizerID, now, oldShare.Permissions)
			if serr != nil {
				return nil, serr
			}
			newShares[h] = newShare
		}
		key.EncryptedShares = newShares
		metrics.Rotations.WithLabelValues("remove-recipient").Inc()
	}

	metrics.MembershipMutations.WithLabelValues("remove").Inc()
	metrics.ActiveHolders.WithLabelValues(keyID).Set(float64(len(key.Holders)))
	logger.Debug("recipients removed from shared key", logger.Operation("remove-recipient"), logger.Mode(crypto.ModeSharedMasterKey), logger.String("keyId", keyID), logger.Bool("rotated", rotateKey), logger.Int("holders", len(key.Holders)))
	return key.Clone(), nil
}
