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

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ddrown/chrony-nts/config"
	"github.com/ddrown/chrony-nts/internal/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "nts-ke-server",
	Short: "NTS-KE server: key establishment for NTS-secured NTPv4",
	Long: `nts-ke-server runs the Network Time Security Key Establishment
listener: it negotiates AEAD parameters over TLS and issues the cookies
an NTS-NTP client consumes for authenticated time requests.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to YAML config file (required)")
}

func loadConfig() (*config.Config, error) {
	if cfgPath == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.LoadFromFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %v", errs)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) logger.Logger {
	if cfg.Logging == nil {
		return logger.NewDefaultLogger()
	}
	log := logger.NewLogger(os.Stdout, logger.DebugLevel)
	if lvl, ok := parseLevel(cfg.Logging.Level); ok {
		log.SetLevel(lvl)
	}
	return log
}

func parseLevel(s string) (logger.Level, bool) {
	switch s {
	case "debug":
		return logger.DebugLevel, true
	case "info":
		return logger.InfoLevel, true
	case "warn":
		return logger.WarnLevel, true
	case "error":
		return logger.ErrorLevel, true
	case "fatal":
		return logger.FatalLevel, true
	default:
		return 0, false
	}
}
