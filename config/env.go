// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnvironment returns the current environment from NTS_ENV, defaulting
// to "development".
func GetEnvironment() string {
	env := os.Getenv("NTS_ENV")
	if env == "" {
		env = os.Getenv("ENVIRONMENT")
	}
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction returns true if running in the production environment.
func IsProduction() bool {
	return GetEnvironment() == "production"
}

// ApplyEnvironmentOverrides overrides config fields from environment
// variables, highest priority after file loading, mirroring the pattern
// used for every other ambient knob in this codebase.
func ApplyEnvironmentOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if v := os.Getenv("NTS_KE_CERT"); v != "" {
		cfg.TLS.CertPath = v
	}
	if v := os.Getenv("NTS_KE_KEY"); v != "" {
		cfg.TLS.KeyPath = v
	}
	if v := os.Getenv("NTS_KE_CA_BUNDLE"); v != "" {
		cfg.TLS.CABundle = v
	}
	if v := os.Getenv("NTS_KE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.NTSKE.ListenPort = p
		}
	}
	if v := os.Getenv("NTS_NTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.NTSKE.NTPPort = p
		}
	}
	if v := os.Getenv("NTS_KEY_ROTATION_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.KeyRing.RotationPeriod = d
		}
	}
	if cfg.Logging != nil {
		if v := os.Getenv("NTS_LOG_LEVEL"); v != "" {
			cfg.Logging.Level = v
		}
		if v := os.Getenv("NTS_LOG_FORMAT"); v != "" {
			cfg.Logging.Format = v
		}
	}
	if cfg.Metrics != nil {
		if v := os.Getenv("NTS_METRICS_ENABLED"); v == "true" {
			cfg.Metrics.Enabled = true
		}
		if v := os.Getenv("NTS_METRICS_ENABLED"); v == "false" {
			cfg.Metrics.Enabled = false
		}
	}
}
