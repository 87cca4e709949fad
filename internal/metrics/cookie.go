// Copyright (C) 2025 sage-x-project
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
	// CookiesIssued tracks cookies minted, either fresh during a KE
	// exchange or as a rebuild of the client's cookie ring during NTP
	// time-sync.
	CookiesIssued = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cookie",
			Name:      "issued_total",
			Help:      "Total number of cookies sealed",
		},
		[]string{"source"}, // ke_exchange, ntp_response
	)

	// CookieOpenFailures tracks cookie decrypt/verify failures, split
	// by whether the key_id slot is simply unknown (rotated out) or the
	// AEAD tag failed to verify.
	CookieOpenFailures = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cookie",
			Name:      "open_failures_total",
			Help:      "Total number of cookie open failures by reason",
		},
		[]string{"reason"}, // unknown_key_id, aead_verify_failed, malformed
	)

	// KeyRingRotations tracks key ring rotation events.
	KeyRingRotations = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keyring",
			Name:      "rotations_total",
			Help:      "Total number of server key ring rotations",
		},
	)

	// KeyRingActiveSlot reports the currently active key ring slot index.
	KeyRingActiveSlot = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "keyring",
			Name:      "active_slot",
			Help:      "Index of the currently active server key ring slot",
		},
	)
)
