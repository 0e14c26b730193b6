// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package procmon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/treadpilot/internal/retry"
	"github.com/AleutianAI/treadpilot/internal/sched"
)

// DefaultPollInterval is the fallback sweep period when nothing else is
// configured.
const DefaultPollInterval = 3 * time.Second

// ErrAlreadyStarted is returned by Start on a running watcher.
var ErrAlreadyStarted = errors.New("watcher already started")

// State is the watcher lifecycle state.
type State int

const (
	// StateStopped means the watcher is idle.
	StateStopped State = iota

	// StateStarting means Start is seeding the baseline and choosing a
	// strategy.
	StateStarting

	// StateEventDriven means OS push notifications drive events.
	StateEventDriven

	// StatePolling means periodic snapshot diffing drives events.
	StatePolling
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateEventDriven:
		return "event-driven"
	case StatePolling:
		return "polling"
	default:
		return "unknown"
	}
}

// Watcher detects process start/stop transitions and forwards them to one
// Handler.
//
// # Description
//
// Start seeds a full baseline snapshot, then tries the configured
// EventSource (retried under the subscription policy). On success the
// watcher is event-driven: pid notifications are enriched through the
// Lister so every emitted Event carries a full record. On failure it
// degrades to a periodic diffing sweep for the rest of its run.
//
// # Thread Safety
//
// Safe for concurrent use. Events for a single pid are emitted in order
// because each active strategy delivers from one goroutine. Handler panics
// are logged and contained; a faulty handler never stops the watcher.
type Watcher struct {
	lister          Lister
	source          EventSource
	handler         Handler
	logger          *slog.Logger
	subscribePolicy retry.Policy

	mu           sync.Mutex
	state        State
	baseline     map[int32]ProcessRecord
	poll         *sched.Interval
	pollInterval time.Duration
	sourceOpen   bool
	ctx          context.Context
	cancel       context.CancelFunc
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the watcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) { w.logger = logger }
}

// WithEventSource sets the push-notification source. Nil means polling only.
func WithEventSource(source EventSource) Option {
	return func(w *Watcher) { w.source = source }
}

// WithPollInterval sets the fallback sweep period.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Watcher) { w.pollInterval = interval }
}

// WithSubscribePolicy overrides the retry policy for subscription setup.
func WithSubscribePolicy(policy retry.Policy) Option {
	return func(w *Watcher) { w.subscribePolicy = policy }
}

// NewWatcher creates a stopped watcher delivering events to handler.
func NewWatcher(lister Lister, handler Handler, opts ...Option) *Watcher {
	w := &Watcher{
		lister:          lister,
		handler:         handler,
		pollInterval:    DefaultPollInterval,
		subscribePolicy: retry.SubscriptionOps(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w
}

// Start seeds the baseline and begins monitoring.
//
// Outputs:
//
//	error - ErrAlreadyStarted, or the snapshot failure that aborted startup.
//	A failed event subscription is not an error; it selects polling.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateStopped {
		return ErrAlreadyStarted
	}
	w.state = StateStarting

	snapshot, err := w.lister.ListRunning(ctx)
	if err != nil {
		w.state = StateStopped
		return fmt.Errorf("seed baseline snapshot: %w", err)
	}
	w.baseline = make(map[int32]ProcessRecord, len(snapshot))
	for _, rec := range snapshot {
		w.baseline[rec.PID] = rec
	}

	w.ctx, w.cancel = context.WithCancel(context.Background())

	if w.source != nil {
		_, err := retry.Do(ctx, w.subscribePolicy, w.logger, "subscribe-process-events",
			func(ctx context.Context) (struct{}, error) {
				return struct{}{}, w.source.Subscribe(ctx, w.onSourceEvent)
			})
		if err == nil {
			w.sourceOpen = true
			w.state = StateEventDriven
			w.logger.Info("process watcher started",
				"strategy", "event-driven",
				"baseline", len(w.baseline))
			return nil
		}
		w.logger.Warn("event subscription unavailable, falling back to polling",
			"error", err,
			"poll_interval", w.pollInterval)
	}

	w.poll = sched.NewInterval(w.pollInterval, w.sweep)
	w.poll.Start()
	w.state = StatePolling
	w.logger.Info("process watcher started",
		"strategy", "polling",
		"poll_interval", w.pollInterval,
		"baseline", len(w.baseline))
	return nil
}

// Stop tears down the active strategy and clears all snapshot state.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateStopped {
		return
	}
	if w.sourceOpen {
		if err := w.source.Close(); err != nil {
			w.logger.Debug("event source close failed", "error", err)
		}
		w.sourceOpen = false
	}
	if w.poll != nil {
		w.poll.Stop()
		w.poll = nil
	}
	if w.cancel != nil {
		w.cancel()
	}
	w.baseline = nil
	w.state = StateStopped
	w.logger.Info("process watcher stopped")
}

// State returns the current lifecycle state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// IsEventDriven reports whether the push-notification strategy is active.
func (w *Watcher) IsEventDriven() bool { return w.State() == StateEventDriven }

// SetPollInterval reprograms the sweep period. Takes effect live on a
// running polling strategy without a stop/start cycle.
func (w *Watcher) SetPollInterval(interval time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pollInterval = interval
	if w.poll != nil {
		w.poll.SetInterval(interval)
	}
}

// Baseline returns a copy of the current snapshot state.
func (w *Watcher) Baseline() []ProcessRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	records := make([]ProcessRecord, 0, len(w.baseline))
	for _, rec := range w.baseline {
		records = append(records, rec)
	}
	return records
}

// onSourceEvent handles one pid-level push notification. Runs on the
// source's delivery goroutine, so events for one pid stay ordered.
func (w *Watcher) onSourceEvent(kind EventKind, pid int32) {
	switch kind {
	case ProcessStarted:
		rec, err := w.lister.Lookup(w.watchCtx(), pid)
		if err != nil {
			// Gone before we could enrich it; its exit will be a no-op too.
			w.logger.Debug("started process vanished before enrichment",
				"pid", pid, "error", err)
			return
		}
		w.mu.Lock()
		if w.state != StateEventDriven {
			w.mu.Unlock()
			return
		}
		w.baseline[pid] = rec
		w.mu.Unlock()
		w.emit(Event{Kind: ProcessStarted, Record: rec, Time: time.Now()})

	case ProcessStopped:
		w.mu.Lock()
		rec, seen := w.baseline[pid]
		if seen {
			delete(w.baseline, pid)
		}
		active := w.state == StateEventDriven
		w.mu.Unlock()
		if !seen || !active {
			// Never observed its start, so nothing downstream tracks it.
			return
		}
		w.emit(Event{Kind: ProcessStopped, Record: rec, Time: time.Now()})
	}
}

// sweep is one polling pass: diff the current snapshot against the
// baseline by pid set.
func (w *Watcher) sweep() {
	current, err := w.lister.ListRunning(w.watchCtx())
	if err != nil {
		w.logger.Warn("polling sweep failed, keeping previous baseline", "error", err)
		return
	}

	next := make(map[int32]ProcessRecord, len(current))
	for _, rec := range current {
		next[rec.PID] = rec
	}

	var started, stopped []ProcessRecord
	w.mu.Lock()
	if w.state != StatePolling {
		w.mu.Unlock()
		return
	}
	for pid, rec := range next {
		if _, ok := w.baseline[pid]; !ok {
			started = append(started, rec)
		}
	}
	for pid, rec := range w.baseline {
		if _, ok := next[pid]; !ok {
			stopped = append(stopped, rec)
		}
	}
	w.baseline = next
	w.mu.Unlock()

	now := time.Now()
	for _, rec := range started {
		w.emit(Event{Kind: ProcessStarted, Record: rec, Time: now})
	}
	for _, rec := range stopped {
		w.emit(Event{Kind: ProcessStopped, Record: rec, Time: now})
	}
}

// emit delivers one event, containing handler panics.
func (w *Watcher) emit(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("event handler panicked",
				"kind", ev.Kind,
				"pid", ev.Record.PID,
				"panic", r)
		}
	}()
	w.handler(ev)
}

func (w *Watcher) watchCtx() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx != nil {
		return w.ctx
	}
	return context.Background()
}
