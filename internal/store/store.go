// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists the association Configuration as JSON and reports
// external edits to the file so the daemon can live-reload.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/treadpilot/internal/retry"
	"github.com/AleutianAI/treadpilot/internal/rules"
)

// selfWriteWindow is how long after our own Save an fsnotify event on the
// file is attributed to us rather than to an external editor.
const selfWriteWindow = 500 * time.Millisecond

// Store is a JSON file store for the rule Configuration.
//
// # Description
//
// Load creates a default configuration on first run, mirroring how the rest
// of the daemon's dotfiles behave. Save writes atomically (temp file +
// rename) so an external watcher or a crash never observes a torn file.
// Watch reports edits made by anything other than this Store.
//
// # Thread Safety
//
// Safe for concurrent use.
type Store struct {
	path   string
	logger *slog.Logger
	policy retry.Policy

	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	onExternal  func()
	lastSave    time.Time
	watchClosed chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a store over the given file path.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:   path,
		policy: retry.FileOps(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load reads the configuration, creating a default file on first run.
func (s *Store) Load(ctx context.Context) (*rules.Configuration, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		cfg := rules.NewDefaultConfiguration()
		s.logger.Info("no rule configuration found, creating default", "path", s.path)
		if err := s.Save(ctx, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	data, err := retry.Do(ctx, s.policy, s.logger, "load-rule-config",
		func(context.Context) ([]byte, error) {
			return os.ReadFile(s.path)
		})
	if err != nil {
		return nil, fmt.Errorf("read rule configuration %s: %w", s.path, err)
	}

	var cfg rules.Configuration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rule configuration %s: %w", s.path, err)
	}
	return &cfg, nil
}

// Save writes the configuration atomically.
func (s *Store) Save(ctx context.Context, cfg *rules.Configuration) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode rule configuration: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory %s: %w", dir, err)
	}

	_, err = retry.Do(ctx, s.policy, s.logger, "save-rule-config",
		func(context.Context) (struct{}, error) {
			tmp, err := os.CreateTemp(dir, ".rules-*.json")
			if err != nil {
				return struct{}{}, err
			}
			tmpName := tmp.Name()
			if _, err := tmp.Write(data); err != nil {
				tmp.Close()
				os.Remove(tmpName)
				return struct{}{}, err
			}
			if err := tmp.Close(); err != nil {
				os.Remove(tmpName)
				return struct{}{}, err
			}
			return struct{}{}, os.Rename(tmpName, s.path)
		})
	if err != nil {
		return fmt.Errorf("write rule configuration %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.lastSave = time.Now()
	s.mu.Unlock()
	return nil
}

// Watch starts reporting external edits to the backing file.
//
// Inputs:
//
//	onExternalChange - Called (possibly repeatedly) after something other
//	than this Store modifies the file. Called from the watch goroutine.
func (s *Store) Watch(onExternalChange func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil {
		return fmt.Errorf("store already watching %s", s.path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	// Watch the directory, not the file: editors and our own atomic saves
	// replace the file by rename, which drops a direct file watch.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}

	s.watcher = watcher
	s.onExternal = onExternalChange
	s.watchClosed = make(chan struct{})

	go s.watchLoop(watcher, s.watchClosed)
	return nil
}

func (s *Store) watchLoop(watcher *fsnotify.Watcher, closed chan struct{}) {
	for {
		select {
		case <-closed:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			s.mu.Lock()
			selfWrite := time.Since(s.lastSave) < selfWriteWindow
			callback := s.onExternal
			s.mu.Unlock()
			if selfWrite {
				continue
			}
			s.logger.Info("rule configuration changed externally", "path", s.path, "op", event.Op.String())
			if callback != nil {
				callback()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("config watch error", "error", err)
		}
	}
}

// Close stops watching. Safe to call without a prior Watch.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	close(s.watchClosed)
	err := s.watcher.Close()
	s.watcher = nil
	s.onExternal = nil
	return err
}
