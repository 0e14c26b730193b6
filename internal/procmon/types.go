// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package procmon detects process start/stop transitions on the host.
//
// The Watcher prefers an OS event subscription (netlink process connector on
// Linux) and degrades automatically to periodic snapshot diffing when the
// subscription cannot be established. Both strategies emit the same Event
// shape, so consumers never care which one is active.
package procmon

import (
	"context"
	"strings"
	"time"
)

// ProcessRecord is an immutable snapshot of one running process at
// observation time. PIDs are unique only while the process runs and are
// reused by the kernel after exit.
type ProcessRecord struct {
	// PID is the numeric process id.
	PID int32 `json:"pid"`

	// Name is the executable name, the case-insensitive match key.
	Name string `json:"name"`

	// Path is the executable path when readable, otherwise empty.
	Path string `json:"path,omitempty"`

	// Priority is the scheduling priority (nice value on Linux).
	Priority int `json:"priority"`

	// Affinity is the CPU-affinity bitmask (first 64 CPUs).
	Affinity uint64 `json:"affinity"`
}

// NormalizedName returns the lower-cased executable name used for matching.
func (r ProcessRecord) NormalizedName() string {
	return strings.ToLower(r.Name)
}

// Lister enumerates running processes. Implementations must skip individual
// processes they cannot inspect (permission, racing exit) rather than fail
// the whole sweep.
type Lister interface {
	// ListRunning returns a snapshot of all visible processes.
	ListRunning(ctx context.Context) ([]ProcessRecord, error)

	// Lookup returns the record for one pid, or retry.ErrGone (wrapped)
	// when the process no longer exists.
	Lookup(ctx context.Context, pid int32) (ProcessRecord, error)
}

// EventKind distinguishes start from stop notifications.
type EventKind int

const (
	// ProcessStarted signals a newly observed process.
	ProcessStarted EventKind = iota

	// ProcessStopped signals a process that is no longer running.
	ProcessStopped
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case ProcessStarted:
		return "started"
	case ProcessStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event is one process lifecycle notification. Record carries full details
// at emission time; a bare pid is never emitted.
type Event struct {
	Kind   EventKind
	Record ProcessRecord
	Time   time.Time
}

// Handler consumes watcher events. Handlers may be invoked concurrently
// from subscription callbacks and timer sweeps; panics are contained by the
// watcher and logged, never propagated.
type Handler func(Event)

// EventSource is an OS push-notification mechanism for process lifecycle
// events. Subscribe either succeeds and keeps delivering pid-level
// notifications until Close, or fails, in which case the watcher falls back
// to polling for the rest of its run.
type EventSource interface {
	// Subscribe starts delivery. The callback receives only the pid; the
	// watcher enriches it through its Lister before emitting.
	Subscribe(ctx context.Context, deliver func(kind EventKind, pid int32)) error

	// Close tears the subscription down. Safe to call when Subscribe failed.
	Close() error
}
