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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/treadpilot/internal/procmon"
)

func mustConfig(t *testing.T, assocs ...Association) *Configuration {
	t.Helper()
	cfg := NewDefaultConfiguration()
	cfg.DefaultProfileID = "balanced"
	cfg.DefaultProfileName = "Balanced"
	for _, a := range assocs {
		require.NoError(t, cfg.AddAssociation(a))
	}
	return cfg
}

// TestFindMatchCaseInsensitive pins the case-insensitive name match and the
// miss behavior.
func TestFindMatchCaseInsensitive(t *testing.T) {
	game := NewAssociation("Game.EXE", "perf", "Performance", 10)
	r := NewResolver(mustConfig(t, game))

	tests := []struct {
		name      string
		proc      procmon.ProcessRecord
		wantMatch bool
	}{
		{"exact case", procmon.ProcessRecord{PID: 1, Name: "Game.EXE"}, true},
		{"lower case", procmon.ProcessRecord{PID: 2, Name: "game.exe"}, true},
		{"upper case", procmon.ProcessRecord{PID: 3, Name: "GAME.EXE"}, true},
		{"different name", procmon.ProcessRecord{PID: 4, Name: "editor.exe"}, false},
		{"prefix only", procmon.ProcessRecord{PID: 5, Name: "game"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.FindMatch(tt.proc)
			assert.Equal(t, tt.wantMatch, ok)
			if ok {
				assert.Equal(t, game.ID, got.ID)
			}
		})
	}
}

// TestFindMatchSkipsDisabled verifies disabled rules never match.
func TestFindMatchSkipsDisabled(t *testing.T) {
	disabled := NewAssociation("game.exe", "perf", "Performance", 10)
	disabled.Enabled = false

	cfg := NewDefaultConfiguration()
	cfg.DefaultProfileID = "balanced"
	require.NoError(t, cfg.AddAssociation(disabled))
	r := NewResolver(cfg)

	_, ok := r.FindMatch(procmon.ProcessRecord{PID: 1, Name: "game.exe"})
	assert.False(t, ok)
}

// TestFindMatchWildcard verifies the wildcard rule matches any process.
func TestFindMatchWildcard(t *testing.T) {
	any := NewAssociation(Wildcard, "perf", "Performance", 1)
	r := NewResolver(mustConfig(t, any))

	got, ok := r.FindMatch(procmon.ProcessRecord{PID: 1, Name: "whatever"})
	require.True(t, ok)
	assert.Equal(t, any.ID, got.ID)
}

// TestFindBestMatchHighestPriority verifies the strictly greatest priority
// wins across multiple matching processes.
func TestFindBestMatchHighestPriority(t *testing.T) {
	low := NewAssociation("bg.exe", "powersave", "Power Saver", 1)
	high := NewAssociation("game.exe", "perf", "Performance", 10)
	r := NewResolver(mustConfig(t, low, high))

	procs := []procmon.ProcessRecord{
		{PID: 10, Name: "bg.exe"},
		{PID: 20, Name: "unmatched.exe"},
		{PID: 30, Name: "game.exe"},
	}

	proc, assoc, ok := r.FindBestMatch(procs)
	require.True(t, ok)
	assert.Equal(t, int32(30), proc.PID)
	assert.Equal(t, high.ID, assoc.ID)
}

// TestFindBestMatchTieBreak pins the documented tie-break: with equal
// priorities the process appearing first in the input wins.
func TestFindBestMatchTieBreak(t *testing.T) {
	a := NewAssociation("a.exe", "perf", "Performance", 5)
	b := NewAssociation("b.exe", "powersave", "Power Saver", 5)
	r := NewResolver(mustConfig(t, a, b))

	proc, assoc, ok := r.FindBestMatch([]procmon.ProcessRecord{
		{PID: 2, Name: "b.exe"},
		{PID: 1, Name: "a.exe"},
	})
	require.True(t, ok)
	assert.Equal(t, int32(2), proc.PID, "first in input order wins the tie")
	assert.Equal(t, b.ID, assoc.ID)

	// Reversing the input reverses the winner.
	proc, assoc, ok = r.FindBestMatch([]procmon.ProcessRecord{
		{PID: 1, Name: "a.exe"},
		{PID: 2, Name: "b.exe"},
	})
	require.True(t, ok)
	assert.Equal(t, int32(1), proc.PID)
	assert.Equal(t, a.ID, assoc.ID)
}

// TestFindBestMatchNoMatches verifies an all-miss input returns nothing.
func TestFindBestMatchNoMatches(t *testing.T) {
	r := NewResolver(mustConfig(t, NewAssociation("game.exe", "perf", "Performance", 10)))

	_, _, ok := r.FindBestMatch([]procmon.ProcessRecord{
		{PID: 1, Name: "editor.exe"},
		{PID: 2, Name: "shell"},
	})
	assert.False(t, ok)

	_, _, ok = r.FindBestMatch(nil)
	assert.False(t, ok)
}

// TestReloadSwapsWholesale verifies a reload replaces the rule set
// atomically from the resolver's point of view.
func TestReloadSwapsWholesale(t *testing.T) {
	old := NewAssociation("game.exe", "perf", "Performance", 10)
	r := NewResolver(mustConfig(t, old))

	_, ok := r.FindMatch(procmon.ProcessRecord{PID: 1, Name: "game.exe"})
	require.True(t, ok)

	next := mustConfig(t, NewAssociation("render.exe", "perf", "Performance", 10))
	r.Reload(next)

	_, ok = r.FindMatch(procmon.ProcessRecord{PID: 1, Name: "game.exe"})
	assert.False(t, ok, "old rules are gone after reload")
	_, ok = r.FindMatch(procmon.ProcessRecord{PID: 1, Name: "render.exe"})
	assert.True(t, ok)

	r.Reload(nil)
	_, ok = r.FindMatch(procmon.ProcessRecord{PID: 1, Name: "render.exe"})
	assert.False(t, ok, "nil reload behaves as an empty configuration")
}
