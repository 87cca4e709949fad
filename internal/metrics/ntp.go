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
	// NTPRequestsAuthenticated tracks the outcome of NTS-NTP request
	// authentication checks on the server side; the client side also
	// records each request it generates here under "generated".
	NTPRequestsAuthenticated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ntp",
			Name:      "requests_authenticated_total",
			Help:      "Total number of NTS-NTP requests by authentication outcome",
		},
		[]string{"outcome"}, // success, wrong_mode, malformed, bad_cookie_count, missing_auth, cookie_open_failed, aead_failed, generated
	)

	// NTPResponsesAuthenticated tracks the outcome of NTS-NTP response
	// authentication checks on the client side.
	NTPResponsesAuthenticated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ntp",
			Name:      "responses_authenticated_total",
			Help:      "Total number of NTS-NTP responses by authentication outcome",
		},
		[]string{"outcome"}, // success, wrong_mode, malformed, no_extensions, unique_id_mismatch, missing_field, aead_failed
	)

	// NTPCookiesRemaining reports the number of spare cookies left in a
	// client's cookie ring after processing a response.
	NTPCookiesRemaining = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ntp",
			Name:      "cookies_remaining",
			Help:      "Number of cookies left in the client cookie ring after a time-sync round",
			Buckets:   prometheus.LinearBuckets(0, 1, 9),
		},
	)

	// NTPAuthDuration tracks how long authenticated-request or
	// authenticated-response processing takes.
	NTPAuthDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ntp",
			Name:      "auth_duration_seconds",
			Help:      "Duration of NTS-NTP authentication field generation/verification",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15),
		},
		[]string{"role"}, // client, server
	)
)
