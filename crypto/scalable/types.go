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

// Package scalable implements ScalableContext (C6): an orchestrator that
// starts a confidential channel as DirectCipher for a single recipient
// and auto-transitions to SharedKeyStore once membership crosses a
// threshold. It holds no cryptography of its own — every encrypt/decrypt
// call is a dispatch into crypto/direct or crypto/sharedkey, grounded in
// Design Notes §9's "prefer free functions over a stateful manager,
// threading the key store and clock as explicit parameters."
package scalable

import "github.com/vaultmesh/scalecrypt/crypto/sharedkey"

// Method tags which cipher a Context currently dispatches encrypt/decrypt
// calls to.
type Method string

const (
	MethodDirect          Method = "direct"
	MethodSharedMasterKey Method = "group"
)

// Context is the persisted record for one scalable encryption channel
// (§3). contextId has no spec-mandated derivation (unlike keyId/groupId,
// which are deterministic hashes), so it is a random identifier —
// google/uuid, per SPEC_FULL.md §4.1.
type Context struct {
	ContextID                   string                     `json:"contextId"`
	Name                        string                     `json:"name"`
	Purpose                     string                     `json:"purpose"`
	CreatorPublicKey            string                     `json:"creatorPublicKey"`
	Method                      Method                     `json:"method"`
	Recipients                  []string                   `json:"recipients"`
	SharedKeyID                 string                     `json:"sharedKeyId,omitempty"`
	AutoTransitionThreshold     int                        `json:"autoTransitionThreshold"`
	DefaultRecipientPermissions sharedkey.SharePermissions `json:"defaultRecipientPermissions"`
}

// Clone returns a deep-enough copy safe for a caller to hold onto after
// the manager mutates the original.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	out := *c
	out.Recipients = append([]string(nil), c.Recipients...)
	return &out
}

// hasRecipient reports whether pubID is already tracked by this context.
func (c *Context) hasRecipient(pubID string) bool {
	for _, r := range c.Recipients {
		if r == pubID {
			return true
		}
	}
	return false
}
