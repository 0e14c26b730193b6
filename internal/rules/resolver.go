// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"sync/atomic"

	"github.com/AleutianAI/treadpilot/internal/procmon"
)

// Resolver answers "which rule wins?" against one consistent Configuration
// snapshot.
//
// # Thread Safety
//
// Safe for concurrent use. Reload swaps the whole Configuration atomically;
// an in-flight resolution always sees exactly one version, never a mix.
type Resolver struct {
	cfg atomic.Pointer[Configuration]
}

// NewResolver creates a resolver over the given configuration.
// A nil configuration behaves as an empty one.
func NewResolver(cfg *Configuration) *Resolver {
	r := &Resolver{}
	r.Reload(cfg)
	return r
}

// Reload atomically replaces the rule set.
func (r *Resolver) Reload(cfg *Configuration) {
	if cfg == nil {
		cfg = NewDefaultConfiguration()
	}
	r.cfg.Store(cfg)
}

// Snapshot returns the current configuration. Callers must treat it as
// read-only.
func (r *Resolver) Snapshot() *Configuration {
	return r.cfg.Load()
}

// FindMatch returns the enabled association matching the process's
// executable name, case-insensitively.
func (r *Resolver) FindMatch(process procmon.ProcessRecord) (Association, bool) {
	for _, assoc := range r.Snapshot().Associations {
		if assoc.Enabled && assoc.Matches(process.Name) {
			return assoc, true
		}
	}
	return Association{}, false
}

// FindBestMatch resolves the winning (process, association) pair for a set
// of running processes.
//
// # Description
//
// Every process is matched against the rule set; non-matches are dropped.
// Among the matches the numerically highest Priority wins. Ties break in
// favor of the process appearing first in the input slice: the best
// candidate is only displaced by a strictly greater priority. Callers who
// need a deterministic tie-break must therefore order the input
// deterministically.
func (r *Resolver) FindBestMatch(processes []procmon.ProcessRecord) (procmon.ProcessRecord, Association, bool) {
	var (
		bestProc  procmon.ProcessRecord
		bestAssoc Association
		found     bool
	)
	for _, proc := range processes {
		assoc, ok := r.FindMatch(proc)
		if !ok {
			continue
		}
		if !found || assoc.Priority > bestAssoc.Priority {
			bestProc, bestAssoc, found = proc, assoc, true
		}
	}
	return bestProc, bestAssoc, found
}

// Validate reports structural problems in the current configuration.
func (r *Resolver) Validate() []error {
	return r.Snapshot().Validate()
}
