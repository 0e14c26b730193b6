// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine is the decision core: it turns process lifecycle events
// into debounced, single-flight power-plan changes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/treadpilot/internal/history"
	"github.com/AleutianAI/treadpilot/internal/powerplan"
	"github.com/AleutianAI/treadpilot/internal/procmon"
	"github.com/AleutianAI/treadpilot/internal/rules"
	"github.com/AleutianAI/treadpilot/internal/sched"
)

// stopDrainTimeout bounds how long Stop waits for an in-flight change
// before declaring the orchestrator stopped anyway.
const stopDrainTimeout = 5 * time.Second

var (
	// ErrAlreadyRunning is returned by Start on a non-stopped orchestrator.
	ErrAlreadyRunning = errors.New("orchestrator already running")

	// ErrNotRunning is returned by operations requiring a running
	// orchestrator.
	ErrNotRunning = errors.New("orchestrator not running")
)

// State is the orchestrator lifecycle state.
type State int32

const (
	// StateStopped means idle.
	StateStopped State = iota

	// StateStarting means Start is loading configuration and wiring the
	// watcher.
	StateStarting

	// StateRunning means events are being processed.
	StateRunning

	// StateStopping means Stop is draining.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ConfigStore loads the rule Configuration. *store.Store satisfies it.
type ConfigStore interface {
	Load(ctx context.Context) (*rules.Configuration, error)
}

// systemProcess attributes default-profile restores that have no real
// triggering process.
var systemProcess = procmon.ProcessRecord{PID: 0, Name: "system"}

// Orchestrator is the top-level state machine.
//
// # Description
//
// Start loads the Configuration, starts the process watcher and runs one
// immediate evaluation pass so matching processes that predate the daemon
// are honored. Matched starts are debounced through a single coalescing
// timer; stops evaluate immediately so the default profile returns as soon
// as the last match exits. The actual profile switch runs under a weighted
// semaphore, the sole path to the controller's set-active: a waiter that
// acquires it re-reads the live running set, so it can never replay stale
// intent over a newer decision.
//
// # Thread Safety
//
// All public methods are safe for concurrent use. Event callbacks, the
// debounce timer and the polling sweep all funnel into the same
// synchronized structures (a concurrent map and the semaphore).
type Orchestrator struct {
	lister     procmon.Lister
	controller powerplan.Controller
	configs    ConfigStore
	journal    *history.Journal
	events     *Events
	metrics    *Metrics
	logger     *slog.Logger
	tracer     trace.Tracer

	watcherOpts []procmon.Option

	state    atomic.Int32
	resolver *rules.Resolver
	running  sync.Map // pid (int32) → procmon.ProcessRecord
	debounce *sched.Debounce
	flight   *semaphore.Weighted

	// lastAppliedID is the profile this orchestrator last set; guarded by
	// flight.
	lastAppliedID string

	mu       sync.Mutex // lifecycle fields below
	watcher  *procmon.Watcher
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithJournal enables change journaling.
func WithJournal(journal *history.Journal) OrchestratorOption {
	return func(o *Orchestrator) { o.journal = journal }
}

// WithMetricsRegistry registers the orchestrator metrics on reg.
func WithMetricsRegistry(reg prometheus.Registerer) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = NewMetrics(reg) }
}

// WithWatcherOptions forwards options to the process watcher (event
// source, poll interval, subscription policy).
func WithWatcherOptions(opts ...procmon.Option) OrchestratorOption {
	return func(o *Orchestrator) { o.watcherOpts = opts }
}

// New creates a stopped orchestrator.
func New(lister procmon.Lister, controller powerplan.Controller, configs ConfigStore, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		lister:     lister,
		controller: controller,
		configs:    configs,
		resolver:   rules.NewResolver(nil),
		flight:     semaphore.NewWeighted(1),
		tracer:     otel.Tracer("treadpilot/engine"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}
	o.events = NewEvents(o.logger)
	o.debounce = sched.NewDebounce(func() {
		o.evaluate(o.backgroundCtx(), ActionProcessStarted)
	})
	return o
}

// Events returns the orchestrator's event broadcaster.
func (o *Orchestrator) Events() *Events { return o.events }

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// IsEventDriven reports whether monitoring runs on push notifications.
func (o *Orchestrator) IsEventDriven() bool {
	o.mu.Lock()
	w := o.watcher
	o.mu.Unlock()
	return w != nil && w.IsEventDriven()
}

// Start brings the orchestrator to Running.
//
// # Description
//
// Loads the Configuration, starts the watcher (event-driven or polling),
// seeds the running-associated set from the watcher's baseline snapshot so
// pre-existing matches count, runs one evaluation pass, and transitions to
// Running. Any failure before Running is fatal to this attempt and returns
// the orchestrator to Stopped.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrAlreadyRunning
	}

	fail := func(err error) error {
		o.state.Store(int32(StateStopped))
		o.events.emitServiceStatus(ServiceStatus{
			Running: false,
			Status:  "start failed",
			Err:     err,
			Time:    time.Now(),
		})
		return err
	}

	cfg, err := o.configs.Load(ctx)
	if err != nil {
		return fail(fmt.Errorf("load configuration: %w", err))
	}
	o.resolver.Reload(cfg)
	for _, problem := range o.resolver.Validate() {
		// Structural problems are reported, never silently corrected.
		o.logger.Warn("configuration problem", "error", problem)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	watcher := procmon.NewWatcher(o.lister, o.onProcessEvent,
		append([]procmon.Option{procmon.WithLogger(o.logger)}, o.watcherOpts...)...)
	if err := watcher.Start(ctx); err != nil {
		bgCancel()
		return fail(fmt.Errorf("start process watcher: %w", err))
	}

	o.mu.Lock()
	o.watcher = watcher
	o.bgCtx = bgCtx
	o.bgCancel = bgCancel
	o.mu.Unlock()

	eventDriven := watcher.IsEventDriven()
	o.setWatcherModeMetric(eventDriven)
	o.events.emitMonitoringStatus(MonitoringStatus{
		Monitoring:  true,
		EventDriven: eventDriven,
		Polling:     !eventDriven,
		Message:     fmt.Sprintf("process monitoring active (%s)", watcher.State()),
		Time:        time.Now(),
	})

	// Pre-existing matching processes never fire a start event; seed them
	// from the baseline and evaluate once.
	for _, rec := range watcher.Baseline() {
		if _, ok := o.resolver.FindMatch(rec); ok {
			o.running.Store(rec.PID, rec)
		}
	}
	o.evaluate(ctx, ActionProcessStarted)

	o.state.Store(int32(StateRunning))
	o.events.emitServiceStatus(ServiceStatus{
		Running: true,
		Status:  "running",
		Time:    time.Now(),
	})
	o.logger.Info("orchestrator running",
		"associations", len(cfg.Associations),
		"default_profile", cfg.DefaultProfileID,
		"event_driven", eventDriven)
	return nil
}

// Stop drains the orchestrator and restores the default profile when one
// is configured.
//
// # Description
//
// Safe to call while a debounce timer is pending or an evaluation pass is
// executing: the timer is disarmed, background passes are cancelled, and
// the single-flight semaphore is awaited with a bounded timeout so a
// change cannot land after shutdown.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if !o.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrNotRunning
	}

	o.mu.Lock()
	watcher := o.watcher
	bgCancel := o.bgCancel
	o.watcher = nil
	o.mu.Unlock()

	if watcher != nil {
		watcher.Stop()
	}
	o.debounce.Disarm()
	if bgCancel != nil {
		bgCancel()
	}
	o.running.Range(func(key, _ any) bool {
		o.running.Delete(key)
		return true
	})

	drainCtx, cancel := context.WithTimeout(ctx, stopDrainTimeout)
	defer cancel()
	if err := o.flight.Acquire(drainCtx, 1); err != nil {
		o.logger.Warn("in-flight power-plan change did not settle before shutdown", "error", err)
	} else {
		cfg := o.resolver.Snapshot()
		if cfg.DefaultProfileID != "" {
			o.applyChange(drainCtx, systemProcess, nil,
				cfg.DefaultProfileID, cfg.DefaultProfileName, ActionDefaultRestored)
		}
		o.flight.Release(1)
	}

	o.state.Store(int32(StateStopped))
	o.events.emitMonitoringStatus(MonitoringStatus{
		Monitoring: false,
		Message:    "process monitoring stopped",
		Time:       time.Now(),
	})
	o.events.emitServiceStatus(ServiceStatus{
		Running: false,
		Status:  "stopped",
		Time:    time.Now(),
	})
	o.logger.Info("orchestrator stopped")
	return nil
}

// ReloadConfiguration re-reads the store, swaps the rule set atomically,
// prunes the running set against reality, and evaluates once.
func (o *Orchestrator) ReloadConfiguration(ctx context.Context) error {
	if o.State() != StateRunning {
		return ErrNotRunning
	}

	cfg, err := o.configs.Load(ctx)
	if err != nil {
		return fmt.Errorf("reload configuration: %w", err)
	}
	o.resolver.Reload(cfg)
	for _, problem := range o.resolver.Validate() {
		o.logger.Warn("configuration problem", "error", problem)
	}

	current, err := o.lister.ListRunning(ctx)
	if err != nil {
		o.logger.Warn("could not re-check running processes after reload", "error", err)
	} else {
		alive := make(map[int32]procmon.ProcessRecord, len(current))
		for _, rec := range current {
			alive[rec.PID] = rec
		}
		// Drop tracked processes that exited or no longer match.
		o.running.Range(func(key, _ any) bool {
			pid := key.(int32)
			rec, ok := alive[pid]
			if !ok {
				o.running.Delete(key)
				return true
			}
			if _, matches := o.resolver.FindMatch(rec); !matches {
				o.running.Delete(key)
			}
			return true
		})
		// Pick up processes the new rules now match.
		for _, rec := range current {
			if _, matches := o.resolver.FindMatch(rec); matches {
				o.running.Store(rec.PID, rec)
			}
		}
	}

	o.logger.Info("configuration reloaded", "associations", len(cfg.Associations))
	o.evaluate(ctx, ActionProcessStarted)
	return nil
}

// TriggerEvaluation runs one evaluation pass on demand.
func (o *Orchestrator) TriggerEvaluation(ctx context.Context) error {
	if o.State() != StateRunning {
		return ErrNotRunning
	}
	o.evaluate(ctx, ActionProcessStarted)
	return nil
}

// onProcessEvent is the watcher callback.
func (o *Orchestrator) onProcessEvent(ev procmon.Event) {
	switch ev.Kind {
	case procmon.ProcessStarted:
		assoc, ok := o.resolver.FindMatch(ev.Record)
		if !ok {
			return
		}
		o.running.Store(ev.Record.PID, ev.Record)
		o.logger.Debug("matched process started",
			"pid", ev.Record.PID,
			"name", ev.Record.Name,
			"association", assoc.ID)

		delay := o.resolver.Snapshot().ChangeDelay()
		if delay <= 0 {
			// Off the callback path: OS event delivery must never wait on
			// a power-plan switch.
			go o.evaluate(o.backgroundCtx(), ActionProcessStarted)
			return
		}
		// One coalescing timer for all starts: a burst inside the window
		// produces a single evaluation when it fires.
		o.debounce.Arm(delay)

	case procmon.ProcessStopped:
		if _, tracked := o.running.LoadAndDelete(ev.Record.PID); !tracked {
			return
		}
		o.logger.Debug("matched process stopped",
			"pid", ev.Record.PID,
			"name", ev.Record.Name)
		// Stops are never debounced: the default profile should return the
		// moment the last match exits.
		go o.evaluate(o.backgroundCtx(), ActionProcessStopped)
	}
}

// evaluate is the evaluation pass: resolve the winning rule against the
// live running set and apply the resulting profile under the single-flight
// guard.
//
// The semaphore is acquired before the target is computed, so a waiter
// that was scheduled on stale intent still decides from current state once
// it gets in.
func (o *Orchestrator) evaluate(ctx context.Context, trigger Action) {
	o.metrics.EvaluationPasses.Inc()

	ctx, span := o.tracer.Start(ctx, "engine.evaluate",
		trace.WithAttributes(attribute.String("trigger", trigger.String())))
	defer span.End()

	if err := o.flight.Acquire(ctx, 1); err != nil {
		// Shutdown or caller cancellation; nothing to do.
		return
	}
	defer o.flight.Release(1)

	records := o.runningRecords()
	if len(records) > 0 {
		if proc, assoc, ok := o.resolver.FindBestMatch(records); ok {
			o.applyChange(ctx, proc, &assoc, assoc.ProfileID, assoc.ProfileName, trigger)
			return
		}
	}

	cfg := o.resolver.Snapshot()
	if cfg.DefaultProfileID == "" {
		o.logger.Debug("no matching process and no default profile; leaving power plan alone")
		return
	}
	o.applyChange(ctx, systemProcess, nil, cfg.DefaultProfileID, cfg.DefaultProfileName, ActionDefaultRestored)
}

// applyChange performs one profile switch. Callers must hold flight.
func (o *Orchestrator) applyChange(ctx context.Context, proc procmon.ProcessRecord, assoc *rules.Association, targetID, targetName string, action Action) {
	ctx, span := o.tracer.Start(ctx, "engine.apply",
		trace.WithAttributes(
			attribute.String("target_profile", targetID),
			attribute.String("action", action.String())))
	defer span.End()

	cfg := o.resolver.Snapshot()
	if cfg.PreventDuplicateChanges && o.lastAppliedID == targetID {
		o.metrics.DuplicatesSuppressed.Inc()
		o.logger.Debug("duplicate power-plan change suppressed", "profile", targetID)
		return
	}

	previous, err := o.controller.GetActive(ctx)
	if err != nil {
		o.logger.Warn("could not read active profile", "error", err)
		previous = nil
	}

	changed, err := o.controller.SetActive(ctx, targetID, cfg.PreventDuplicateChanges)
	if err != nil {
		o.metrics.EvaluationErrors.Inc()
		o.logger.Error("power-plan change failed",
			"profile", targetID,
			"action", action,
			"error", err)
		o.events.emitServiceStatus(ServiceStatus{
			Running: o.State() == StateRunning,
			Status:  "power-plan change failed",
			Details: fmt.Sprintf("set %q", targetID),
			Err:     err,
			Time:    time.Now(),
		})
		return
	}
	if !changed {
		o.metrics.EvaluationErrors.Inc()
		o.logger.Warn("power-plan tool refused the change", "profile", targetID)
		o.events.emitServiceStatus(ServiceStatus{
			Running: o.State() == StateRunning,
			Status:  "power-plan change refused",
			Details: fmt.Sprintf("set %q returned failure", targetID),
			Time:    time.Now(),
		})
		return
	}

	o.lastAppliedID = targetID

	newProfile := powerplan.Profile{ID: targetID, Name: targetName}
	if readback, err := o.controller.GetActive(ctx); err == nil && readback != nil {
		newProfile = *readback
	}

	ev := PowerPlanChanged{
		Process:     proc,
		Association: assoc,
		Previous:    previous,
		New:         newProfile,
		Action:      action,
		Time:        time.Now(),
	}
	o.metrics.PlanChanges.WithLabelValues(action.String()).Inc()
	o.events.emitPlanChange(ev)
	o.appendJournal(ctx, ev)

	fromID := ""
	if previous != nil {
		fromID = previous.ID
	}
	o.logger.Info("power plan changed",
		"from", fromID,
		"to", newProfile.ID,
		"action", action,
		"pid", proc.PID,
		"process", proc.Name)
}

func (o *Orchestrator) appendJournal(ctx context.Context, ev PowerPlanChanged) {
	if o.journal == nil {
		return
	}
	rec := history.ChangeRecord{
		Time:        ev.Time,
		PID:         ev.Process.PID,
		ProcessName: ev.Process.Name,
		ToID:        ev.New.ID,
		ToName:      ev.New.Name,
		Action:      ev.Action.String(),
	}
	if ev.Association != nil {
		rec.AssociationID = ev.Association.ID
	}
	if ev.Previous != nil {
		rec.FromID = ev.Previous.ID
		rec.FromName = ev.Previous.Name
	}
	if err := o.journal.Append(ctx, rec); err != nil {
		o.logger.Warn("could not journal power-plan change", "error", err)
	}
}

// runningRecords snapshots the running-associated set in ascending pid
// order. The order is the documented tie-break input for FindBestMatch.
func (o *Orchestrator) runningRecords() []procmon.ProcessRecord {
	var records []procmon.ProcessRecord
	o.running.Range(func(_, value any) bool {
		records = append(records, value.(procmon.ProcessRecord))
		return true
	})
	sort.Slice(records, func(i, j int) bool { return records[i].PID < records[j].PID })
	return records
}

func (o *Orchestrator) backgroundCtx() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.bgCtx != nil {
		return o.bgCtx
	}
	return context.Background()
}

func (o *Orchestrator) setWatcherModeMetric(eventDriven bool) {
	if eventDriven {
		o.metrics.WatcherEventDriven.Set(1)
	} else {
		o.metrics.WatcherEventDriven.Set(0)
	}
}
