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

// Package config loads the settings the NTS-KE/NTS-NTP core needs from its
// surrounding daemon: TLS material, listen ports, rotation cadence, and the
// ambient logging/metrics knobs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for an NTS-KE server process.
type Config struct {
	Environment string         `yaml:"environment" json:"environment"`
	TLS         TLSConfig      `yaml:"tls" json:"tls"`
	NTSKE       NTSKEConfig    `yaml:"ntske" json:"ntske"`
	KeyRing     KeyRingConfig  `yaml:"key_ring" json:"key_ring"`
	Logging     *LoggingConfig `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig `yaml:"metrics" json:"metrics"`
}

// TLSConfig names the certificate material the NTS-KE listener terminates
// TLS with. The core only ever reads these paths; it never manages the
// certificate store (spec Non-goals).
type TLSConfig struct {
	CertPath string `yaml:"cert_path" json:"cert_path"`
	KeyPath  string `yaml:"key_path" json:"key_path"`
	CABundle string `yaml:"ca_bundle,omitempty" json:"ca_bundle,omitempty"`
}

// NTSKEConfig controls the key-establishment listener and the NTP service
// it is negotiating cookies for.
type NTSKEConfig struct {
	ListenPort      int           `yaml:"listen_port" json:"listen_port"`
	NTPPort         int           `yaml:"ntp_port" json:"ntp_port"`
	ConnTimeout     time.Duration `yaml:"conn_timeout" json:"conn_timeout"`
	InstancePool    int           `yaml:"instance_pool" json:"instance_pool"`
	CookiesPerReply int           `yaml:"cookies_per_reply" json:"cookies_per_reply"`
	MaxClientCookies int          `yaml:"max_client_cookies" json:"max_client_cookies"`
}

// KeyRingConfig controls the server master-key rotation schedule.
type KeyRingConfig struct {
	RotationPeriod time.Duration `yaml:"rotation_period" json:"rotation_period"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

const (
	DefaultNTSKEPort       = 4460
	DefaultNTPPort         = 123
	DefaultConnTimeout     = 2 * time.Second
	DefaultInstancePool    = 10
	DefaultCookiesPerReply = 8
	DefaultMaxClientCookies = 8
	DefaultRotationPeriod  = time.Hour
)

// LoadFromFile reads and parses a YAML configuration file, applying
// defaults for anything left unset.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	setDefaults(cfg)
	return cfg, nil
}

// SaveToFile writes the configuration back out as YAML, mostly useful for
// `nts-ke-server init-config`-style operator tooling.
func SaveToFile(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// setDefaults fills in zero-valued fields with the spec's stated defaults.
func setDefaults(cfg *Config) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.NTSKE.ListenPort == 0 {
		cfg.NTSKE.ListenPort = DefaultNTSKEPort
	}
	if cfg.NTSKE.NTPPort == 0 {
		cfg.NTSKE.NTPPort = DefaultNTPPort
	}
	if cfg.NTSKE.ConnTimeout == 0 {
		cfg.NTSKE.ConnTimeout = DefaultConnTimeout
	}
	if cfg.NTSKE.InstancePool == 0 {
		cfg.NTSKE.InstancePool = DefaultInstancePool
	}
	if cfg.NTSKE.CookiesPerReply == 0 {
		cfg.NTSKE.CookiesPerReply = DefaultCookiesPerReply
	}
	if cfg.NTSKE.MaxClientCookies == 0 {
		cfg.NTSKE.MaxClientCookies = DefaultMaxClientCookies
	}
	if cfg.KeyRing.RotationPeriod == 0 {
		cfg.KeyRing.RotationPeriod = DefaultRotationPeriod
	}
	if cfg.Logging != nil {
		if cfg.Logging.Level == "" {
			cfg.Logging.Level = "info"
		}
		if cfg.Logging.Format == "" {
			cfg.Logging.Format = "json"
		}
		if cfg.Logging.Output == "" {
			cfg.Logging.Output = "stdout"
		}
	}
	if cfg.Metrics != nil && cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// AdvertisedNTPPort returns the NTP port the server should send in an
// NTPv4-Port record: spec.md §6 says it is advertised only when it differs
// from the IANA default of 123.
func (c *NTSKEConfig) AdvertisedNTPPort() (port uint16, advertise bool) {
	if c.NTPPort == 0 || c.NTPPort == DefaultNTPPort {
		return 0, false
	}
	return uint16(c.NTPPort), true
}
