// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/treadpilot/internal/powerplan"
	"github.com/AleutianAI/treadpilot/internal/procmon"
	"github.com/AleutianAI/treadpilot/internal/rules"
)

// Action is the lifecycle transition that triggered a power-plan change.
type Action int

const (
	// ActionProcessStarted attributes a change to a matched process start.
	ActionProcessStarted Action = iota

	// ActionProcessStopped attributes a change to a matched process stop.
	ActionProcessStopped

	// ActionDefaultRestored marks a return to the default profile.
	ActionDefaultRestored
)

// String returns the wire/string representation of the action.
func (a Action) String() string {
	switch a {
	case ActionProcessStarted:
		return "process_started"
	case ActionProcessStopped:
		return "process_stopped"
	case ActionDefaultRestored:
		return "default_restored"
	default:
		return "unknown"
	}
}

// PowerPlanChanged reports one applied profile switch.
type PowerPlanChanged struct {
	// Process is the triggering process; PID 0 / name "system" for
	// default restores with no real trigger.
	Process procmon.ProcessRecord

	// Association is the winning rule, nil for default restores.
	Association *rules.Association

	// Previous is the profile that was active before, when readable.
	Previous *powerplan.Profile

	// New is the profile now active.
	New powerplan.Profile

	// Action attributes the change to a lifecycle transition.
	Action Action

	// Time is when the change was applied.
	Time time.Time
}

// ServiceStatus reports orchestrator lifecycle and per-cycle failures.
type ServiceStatus struct {
	Running bool
	Status  string
	Details string
	Err     error
	Time    time.Time
}

// MonitoringStatus reports which watching strategy is active.
type MonitoringStatus struct {
	Monitoring  bool
	EventDriven bool
	Polling     bool
	Message     string
	Err         error
	Time        time.Time
}

// Events broadcasts orchestrator events to subscribers.
//
// # Thread Safety
//
// Safe for concurrent use. Handlers run synchronously on the emitting
// goroutine; panics in a handler are contained and logged.
type Events struct {
	logger *slog.Logger

	mu          sync.RWMutex
	planSubs    map[string]func(PowerPlanChanged)
	statusSubs  map[string]func(ServiceStatus)
	monitorSubs map[string]func(MonitoringStatus)
}

// NewEvents creates an empty broadcaster.
func NewEvents(logger *slog.Logger) *Events {
	if logger == nil {
		logger = slog.Default()
	}
	return &Events{
		logger:      logger,
		planSubs:    make(map[string]func(PowerPlanChanged)),
		statusSubs:  make(map[string]func(ServiceStatus)),
		monitorSubs: make(map[string]func(MonitoringStatus)),
	}
}

// OnPlanChange subscribes to power-plan changes. Returns the subscription
// id for Unsubscribe.
func (e *Events) OnPlanChange(fn func(PowerPlanChanged)) string {
	id := uuid.NewString()
	e.mu.Lock()
	e.planSubs[id] = fn
	e.mu.Unlock()
	return id
}

// OnServiceStatus subscribes to lifecycle/status events.
func (e *Events) OnServiceStatus(fn func(ServiceStatus)) string {
	id := uuid.NewString()
	e.mu.Lock()
	e.statusSubs[id] = fn
	e.mu.Unlock()
	return id
}

// OnMonitoringStatus subscribes to monitoring-strategy events.
func (e *Events) OnMonitoringStatus(fn func(MonitoringStatus)) string {
	id := uuid.NewString()
	e.mu.Lock()
	e.monitorSubs[id] = fn
	e.mu.Unlock()
	return id
}

// Unsubscribe removes one subscription by id.
func (e *Events) Unsubscribe(id string) {
	e.mu.Lock()
	delete(e.planSubs, id)
	delete(e.statusSubs, id)
	delete(e.monitorSubs, id)
	e.mu.Unlock()
}

func (e *Events) emitPlanChange(ev PowerPlanChanged) {
	e.mu.RLock()
	subs := make([]func(PowerPlanChanged), 0, len(e.planSubs))
	for _, fn := range e.planSubs {
		subs = append(subs, fn)
	}
	e.mu.RUnlock()
	for _, fn := range subs {
		e.safeCall(func() { fn(ev) })
	}
}

func (e *Events) emitServiceStatus(ev ServiceStatus) {
	e.mu.RLock()
	subs := make([]func(ServiceStatus), 0, len(e.statusSubs))
	for _, fn := range e.statusSubs {
		subs = append(subs, fn)
	}
	e.mu.RUnlock()
	for _, fn := range subs {
		e.safeCall(func() { fn(ev) })
	}
}

func (e *Events) emitMonitoringStatus(ev MonitoringStatus) {
	e.mu.RLock()
	subs := make([]func(MonitoringStatus), 0, len(e.monitorSubs))
	for _, fn := range e.monitorSubs {
		subs = append(subs, fn)
	}
	e.mu.RUnlock()
	for _, fn := range subs {
		e.safeCall(func() { fn(ev) })
	}
}

func (e *Events) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event subscriber panicked", "panic", r)
		}
	}()
	fn()
}
