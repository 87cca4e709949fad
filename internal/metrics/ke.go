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
	// KEConnectionsAccepted tracks NTS-KE TLS connections accepted by the
	// instance pool.
	KEConnectionsAccepted = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ke",
			Name:      "connections_accepted_total",
			Help:      "Total number of NTS-KE connections accepted",
		},
	)

	// KEConnectionsRejected tracks connections dropped because access
	// control denied them or the instance pool was full.
	KEConnectionsRejected = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ke",
			Name:      "connections_rejected_total",
			Help:      "Total number of NTS-KE connections rejected by access control or for lack of a free pool slot",
		},
	)

	// KEExchangesCompleted tracks completed KE exchanges by outcome.
	KEExchangesCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ke",
			Name:      "exchanges_completed_total",
			Help:      "Total number of NTS-KE exchanges completed",
		},
		[]string{"status"}, // success, error
	)

	// KEErrorsByCode tracks KE-level failures by error code.
	KEErrorsByCode = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ke",
			Name:      "errors_total",
			Help:      "Total number of NTS-KE errors by error code",
		},
		[]string{"code"},
	)

	// KEConnectionDuration tracks the wall-clock duration of a KE
	// connection from accept to close.
	KEConnectionDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ke",
			Name:      "connection_duration_seconds",
			Help:      "NTS-KE connection duration in seconds, accept to close",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	// KEPoolInUse reports the number of instance pool slots currently
	// occupied.
	KEPoolInUse = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ke",
			Name:      "pool_slots_in_use",
			Help:      "Number of NTS-KE instance pool slots currently occupied",
		},
	)
)
