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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CryptoOperations tracks primitive-level crypto operations.
	CryptoOperations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crypto",
			Name:      "operations_total",
			Help:      "Total number of cryptographic operations",
		},
		[]string{"operation", "mode"}, // encrypt/decrypt, personal/direct/group/signature-group
	)

	// CryptoErrors tracks primitive-level crypto failures by kind.
	CryptoErrors = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crypto",
			Name:      "errors_total",
			Help:      "Total number of cryptographic errors",
		},
		[]string{"operation", "kind"},
	)

	// CryptoOperationDuration tracks primitive-level crypto operation durations.
	CryptoOperationDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "crypto",
			Name:      "operation_duration_seconds",
			Help:      "Cryptographic operation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15), // 10us to 163ms
		},
		[]string{"operation", "mode"},
	)
)

var (
	// MembershipMutations tracks SignatureGroup/SharedKeyStore membership
	// changes by kind (add/remove/transition); rotations are counted by
	// Rotations instead.
	MembershipMutations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "mutations_total",
			Help:      "Total number of membership mutations",
		},
		[]string{"operation"}, // add, remove, transition
	)

	// ActiveHolders reports the current holder/member count per key or group id.
	ActiveHolders = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "active_holders",
			Help:      "Current number of holders or members for a key or group",
		},
		[]string{"id"},
	)

	// Rotations tracks master key rotations, split by what triggered them.
	Rotations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "membership",
			Name:      "rotations_total",
			Help:      "Total number of master key rotations",
		},
		[]string{"reason"},
	)
)
