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

package scalable

import (
	"sync"

	"github.com/google/uuid"

	"github.com/vaultmesh/scalecrypt/crypto"
	"github.com/vaultmesh/scalecrypt/crypto/cryptoerr"
	"github.com/vaultmesh/scalecrypt/crypto/direct"
	"github.com/vaultmesh/scalecrypt/crypto/sharedkey"
	"github.com/vaultmesh/scalecrypt/internal/logger"
	"github.com/vaultmesh/scalecrypt/internal/metrics"
)

// Manager is the process-local mapping from contextId to Context,
// mirroring sharedkey.Store's and group.Registry's mutex-guarded map
// shape. It owns the sharedkey.Store a context transitions into — the
// same pattern group.Registry uses for epoch master keys.
type Manager struct {
	mu       sync.RWMutex
	contexts map[string]*Context
	store    *sharedkey.Store
	clock    crypto.Clock
}

// NewManager creates an empty Manager backed by store for any context
// that transitions into SharedMasterKey mode.
func NewManager(clock crypto.Clock, store *sharedkey.Store) *Manager {
	if clock == nil {
		clock = crypto.SystemClock
	}
	if store == nil {
		store = sharedkey.NewStore(clock, 0)
	}
	return &Manager{
		contexts: make(map[string]*Context),
		store:    store,
		clock:    clock,
	}
}

// Store exposes the Manager's backing SharedKeyStore so a caller
// transitioning a context can continue to operate on the resulting
// SharedMasterKey directly (add/remove recipients bypassing the context,
// export/import, etc.) without needing a second Store instance.
func (m *Manager) Store() *sharedkey.Store { return m.store }

// CreateOptions configures CreateScalableEncryption.
type CreateOptions struct {
	AutoTransitionThreshold     int
	DefaultRecipientPermissions sharedkey.SharePermissions
}

// Get returns a clone of the context record, or KeyNotFound.
func (m *Manager) Get(contextID string) (*Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contexts[contextID]
	if !ok {
		return nil, cryptoerr.New(cryptoerr.KindKeyNotFound, "scalable context not found: "+contextID)
	}
	return c.Clone(), nil
}

// CreateScalableEncryption implements §4.6: a new context starts in
// Direct mode with a single recipient and no allocated SharedMasterKey.
func (m *Manager) CreateScalableEncryption(name, purpose string, initialRecipientPub, creatorPriv []byte, opts CreateOptions) (*Context, error) {
	creatorPub, err := crypto.DerivePublicKey(creatorPriv)
	if err != nil {
		return nil, err
	}
	if len(initialRecipientPub) == 0 {
		return nil, cryptoerr.New(cryptoerr.KindInvalidRecipient, "initial recipient public key is empty")
	}

	threshold := opts.AutoTransitionThreshold
	if threshold <= 0 {
		threshold = 2
	}

	ctx := &Context{
		ContextID:                   uuid.NewString(),
		Name:                        name,
		Purpose:                     purpose,
		CreatorPublicKey:            crypto.Base58Encode(creatorPub),
		Method:                      MethodDirect,
		Recipients:                  []string{crypto.Base58Encode(initialRecipientPub)},
		AutoTransitionThreshold:     threshold,
		DefaultRecipientPermissions: opts.DefaultRecipientPermissions,
	}

	m.mu.Lock()
	m.contexts[ctx.ContextID] = ctx
	m.mu.Unlock()

	logger.Debug("scalable context created", logger.Operation("create"), logger.String("contextId", ctx.ContextID), logger.String("method", string(ctx.Method)))
	return ctx.Clone(), nil
}

// EncryptInContext implements §4.6's encryptInContext: Direct mode with a
// single recipient dispatches to DirectCipher; SharedMasterKey mode
// dispatches to the backing SharedKeyStore.
func (m *Manager) EncryptInContext(contextID string, plaintext, senderPriv []byte, opts direct.EncryptOptions) (*crypto.Envelope, error) {
	ctx, err := m.Get(contextID)
	if err != nil {
		return nil, err
	}

	switch ctx.Method {
	case MethodDirect:
		if len(ctx.Recipients) != 1 {
			return nil, cryptoerr.New(cryptoerr.KindInvalidEnvelope, "direct-mode context does not have exactly one recipient")
		}
		recipientPub, derr := crypto.Base58Decode(ctx.Recipients[0])
		if derr != nil {
			return nil, derr
		}
		return direct.EncryptDirect(plaintext, recipientPub, senderPriv, opts)
	case MethodSharedMasterKey:
		senderPub, derr := crypto.DerivePublicKey(senderPriv)
		if derr != nil {
			return nil, derr
		}
		return m.store.EncryptWithSharedKey(plaintext, ctx.SharedKeyID, senderPriv, senderPub, sharedkey.EncryptOptions{Compress: opts.Compress, Clock: opts.Clock})
	default:
		return nil, cryptoerr.New(cryptoerr.KindInvalidEnvelope, "unknown scalable context method: "+string(ctx.Method))
	}
}

// DecryptInContext implements §4.6's decryptInContext: it dispatches on
// the envelope's own mode tag rather than the context's current method,
// so envelopes sealed before a transition remain decryptable afterward.
func (m *Manager) DecryptInContext(contextID string, env *crypto.Envelope, recipientPriv, recipientPub []byte) ([]byte, error) {
	if _, err := m.Get(contextID); err != nil {
		return nil, err
	}

	switch env.Method {
	case crypto.ModeDirect:
		return direct.DecryptDirect(env, recipientPriv)
	case crypto.ModeSharedMasterKey:
		return m.store.DecryptWithSharedKey(env, recipientPriv, recipientPub)
	default:
		return nil, cryptoerr.New(cryptoerr.KindInvalidEnvelope, "scalable context cannot decrypt envelope mode: "+string(env.Method))
	}
}

// AddRecipientsToContext implements §4.6's addRecipientsToContext: new
// recipients are appended, and if the resulting recipient count meets
// autoTransitionThreshold while still in Direct mode, the context
// transitions one-way into SharedMasterKey mode by allocating a fresh
// SharedMasterKey with the creator and every recipient as holders.
func (m *Manager) AddRecipientsToContext(contextID string, newRecipients [][]byte, authorizerPriv, authorizerPub []byte) (*Context, error) {
	m.mu.Lock()
	ctx, ok := m.contexts[contextID]
	if !ok {
		m.mu.Unlock()
		return nil, cryptoerr.New(cryptoerr.KindKeyNotFound, "scalable context not found: "+contextID)
	}

	for _, pub := range newRecipients {
		pubID := crypto.Base58Encode(pub)
		if !ctx.hasRecipient(pubID) {
			ctx.Recipients = append(ctx.Recipients, pubID)
		}
	}

	shouldTransition := ctx.Method == MethodDirect && len(ctx.Recipients) >= ctx.AutoTransitionThreshold
	snapshot := ctx.Clone()
	m.mu.Unlock()

	if !shouldTransition {
		metrics.MembershipMutations.WithLabelValues("add").Inc()
		return snapshot, nil
	}

	holders := make([]sharedkey.Recipient, 0, len(snapshot.Recipients)+1)
	creatorPub, err := crypto.Base58Decode(snapshot.CreatorPublicKey)
	if err != nil {
		return nil, err
	}
	holders = append(holders, sharedkey.Recipient{PublicKey: creatorPub, Permissions: fullPermissions()})
	for _, id := range snapshot.Recipients {
		pub, derr := crypto.Base58Decode(id)
		if derr != nil {
			return nil, derr
		}
		if id == snapshot.CreatorPublicKey {
			continue
		}
		holders = append(holders, sharedkey.Recipient{PublicKey: pub, Permissions: snapshot.DefaultRecipientPermissions})
	}

	masterKey, err := m.store.CreateSharedKey(
		sharedkey.DefaultMetadata(snapshot.Name, snapshot.Purpose, snapshot.CreatorPublicKey),
		holders,
		authorizerPriv,
	)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	ctx.Method = MethodSharedMasterKey
	ctx.SharedKeyID = masterKey.KeyID
	result := ctx.Clone()
	m.mu.Unlock()

	metrics.MembershipMutations.WithLabelValues("add").Inc()
	metrics.MembershipMutations.WithLabelValues("transition").Inc()
	logger.Debug("scalable context transitioned to shared-master-key mode", logger.Operation("transition"), logger.Mode(crypto.ModeSharedMasterKey), logger.String("contextId", contextID), logger.String("sharedKeyId", masterKey.KeyID))
	return result, nil
}

// RemoveRecipientsFromContext implements §4.6's
// removeRecipientsFromContext: it forwards to the backing
// SharedKeyStore's removeRecipientsFromSharedKey and mirrors the removal
// onto the context's own recipient list. Removing recipients below the
// auto-transition threshold never reverts the context to Direct mode
// (§4.6: "Transition is one-way").
func (m *Manager) RemoveRecipientsFromContext(contextID string, toRemove [][]byte, authorizerPriv, authorizerPub []byte, rotateKeys bool) (*Context, error) {
	m.mu.RLock()
	ctx, ok := m.contexts[contextID]
	if !ok {
		m.mu.RUnlock()
		return nil, cryptoerr.New(cryptoerr.KindKeyNotFound, "scalable context not found: "+contextID)
	}
	method := ctx.Method
	sharedKeyID := ctx.SharedKeyID
	m.mu.RUnlock()

	if method != MethodSharedMasterKey {
		err := cryptoerr.New(cryptoerr.KindInvalidEnvelope, "cannot remove recipients from a direct-mode context")
		logger.Warn("remove recipients rejected", logger.Operation("remove-recipient"), logger.String("contextId", contextID), logger.Error(err))
		return nil, err
	}

	if _, err := m.store.RemoveRecipients(sharedKeyID, toRemove, authorizerPriv, authorizerPub, rotateKeys); err != nil {
		return nil, err
	}

	removeSet := make(map[string]bool, len(toRemove))
	for _, pub := range toRemove {
		removeSet[crypto.Base58Encode(pub)] = true
	}

	m.mu.Lock()
	remaining := make([]string, 0, len(ctx.Recipients))
	for _, id := range ctx.Recipients {
		if !removeSet[id] {
			remaining = append(remaining, id)
		}
	}
	ctx.Recipients = remaining
	result := ctx.Clone()
	m.mu.Unlock()

	metrics.MembershipMutations.WithLabelValues("remove").Inc()
	return result, nil
}

func fullPermissions() sharedkey.SharePermissions {
	return sharedkey.SharePermissions{CanDecrypt: true, CanEncrypt: true, CanShare: true, CanRevoke: true}
}
