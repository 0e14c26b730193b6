// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"time"
)

// DaemonConfig is the daemon-level configuration, distinct from the rule
// Configuration: it controls paths, logging and the API listener, not
// which processes map to which profiles.
type DaemonConfig struct {
	// Paths: where the rule file and the change journal live
	Paths PathsConfig `yaml:"paths"`

	// Logging: slog level and format
	Logging LoggingConfig `yaml:"logging"`

	// Monitor: polling fallback tuning
	Monitor MonitorConfig `yaml:"monitor"`

	// API: the local status HTTP listener
	API APIConfig `yaml:"api"`

	// History: the persistent change journal
	History HistoryConfig `yaml:"history"`
}

type PathsConfig struct {
	Rules   string `yaml:"rules"`   // e.g. ~/.treadpilot/rules.json
	History string `yaml:"history"` // e.g. ~/.treadpilot/history
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

type MonitorConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // e.g. 127.0.0.1:8177
}

type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// PollInterval converts the configured seconds to a duration; zero or
// negative means the watcher default.
func (m MonitorConfig) PollInterval() time.Duration {
	if m.PollIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(m.PollIntervalSeconds) * time.Second
}

// DefaultConfig returns the configuration written on first run. Paths are
// left empty and resolved against the config directory at load time.
func DefaultConfig() DaemonConfig {
	return DaemonConfig{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Monitor: MonitorConfig{PollIntervalSeconds: 3},
		API:     APIConfig{Enabled: true, Listen: "127.0.0.1:8177"},
		History: HistoryConfig{Enabled: true},
	}
}
