// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history journals power-plan changes in an embedded BadgerDB so
// past switches survive daemon restarts and can be served to tooling.
//
// Keys are big-endian nanosecond timestamps suffixed with a UUID, which
// makes reverse iteration a newest-first read with no sorting.
package history

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// keyPrefix namespaces journal entries inside the database.
var keyPrefix = []byte("chg/")

// ChangeRecord is one journaled power-plan change.
type ChangeRecord struct {
	// ID uniquely identifies the change event.
	ID uuid.UUID `json:"id"`

	// Time is when the change was applied.
	Time time.Time `json:"time"`

	// PID and ProcessName attribute the change to the triggering process.
	// PID 0 with name "system" marks a default-profile restore with no
	// real trigger.
	PID         int32  `json:"pid"`
	ProcessName string `json:"process_name"`

	// AssociationID is the rule that drove the change, when one did.
	AssociationID uuid.UUID `json:"association_id,omitempty"`

	// FromID/FromName describe the previously active profile, when known.
	FromID   string `json:"from_id,omitempty"`
	FromName string `json:"from_name,omitempty"`

	// ToID/ToName describe the newly active profile.
	ToID   string `json:"to_id"`
	ToName string `json:"to_name"`

	// Action is the lifecycle transition that triggered the change:
	// "process_started", "process_stopped" or "default_restored".
	Action string `json:"action"`
}

// Config holds journal storage configuration.
type Config struct {
	// Path is the directory for the database files. Ignored when InMemory
	// is set.
	Path string

	// InMemory disables disk persistence. Testing only.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultConfig returns the production journal configuration.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests: no disk, no sync.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Journal is the badger-backed change journal.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide the isolation.
type Journal struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open creates or opens the journal.
func Open(cfg Config) (*Journal, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("journal path is required for persistent mode")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open change journal: %w", err)
	}
	return &Journal{db: db, logger: logger}, nil
}

// Append journals one change.
func (j *Journal) Append(ctx context.Context, rec ChangeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode change record: %w", err)
	}

	key := make([]byte, 0, len(keyPrefix)+8+16)
	key = append(key, keyPrefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(rec.Time.UnixNano()))
	key = append(key, rec.ID[:]...)

	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("journal change: %w", err)
	}
	return nil
}

// Recent returns up to limit changes, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]ChangeRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var records []ChangeRecord
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks to the last possible key in the prefix.
		seek := append([]byte{}, keyPrefix...)
		for i := 0; i < 24; i++ {
			seek = append(seek, 0xff)
		}
		for it.Seek(seek); it.Valid() && len(records) < limit; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var rec ChangeRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					// One bad entry should not hide the rest.
					j.logger.Warn("skipping undecodable journal entry", "error", err)
					return nil
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read change journal: %w", err)
	}
	return records, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// badgerLogger adapts slog to BadgerDB's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
