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
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the orchestrator's Prometheus instruments.
type Metrics struct {
	// PlanChanges counts applied profile switches by action.
	PlanChanges *prometheus.CounterVec

	// DuplicatesSuppressed counts changes skipped because the target was
	// already the last profile this daemon set.
	DuplicatesSuppressed prometheus.Counter

	// EvaluationPasses counts evaluation passes, applied or not.
	EvaluationPasses prometheus.Counter

	// EvaluationErrors counts passes that failed on an OS call.
	EvaluationErrors prometheus.Counter

	// WatcherEventDriven is 1 when push notifications drive monitoring,
	// 0 when polling does.
	WatcherEventDriven prometheus.Gauge
}

// NewMetrics creates and registers the instruments. A nil registerer gets a
// private registry, which keeps parallel test orchestrators from colliding.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		PlanChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "treadpilot",
			Name:      "power_plan_changes_total",
			Help:      "Applied power-plan changes by triggering action.",
		}, []string{"action"}),
		DuplicatesSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "treadpilot",
			Name:      "duplicate_changes_suppressed_total",
			Help:      "Profile switches skipped because the target was already set.",
		}),
		EvaluationPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "treadpilot",
			Name:      "evaluation_passes_total",
			Help:      "Evaluation passes executed.",
		}),
		EvaluationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "treadpilot",
			Name:      "evaluation_errors_total",
			Help:      "Evaluation passes that failed on an OS call.",
		}),
		WatcherEventDriven: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "treadpilot",
			Name:      "watcher_event_driven",
			Help:      "1 when monitoring is event-driven, 0 when polling.",
		}),
	}

	reg.MustRegister(
		m.PlanChanges,
		m.DuplicatesSuppressed,
		m.EvaluationPasses,
		m.EvaluationErrors,
		m.WatcherEventDriven,
	)
	return m
}
