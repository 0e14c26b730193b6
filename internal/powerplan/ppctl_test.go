// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package powerplan

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleList = `  performance:
    CpuDriver:	intel_pstate
    PlatformDriver:	platform_profile

* balanced:
    CpuDriver:	intel_pstate
    PlatformDriver:	platform_profile

  power-saver:
    CpuDriver:	intel_pstate
    PlatformDriver:	platform_profile
`

// scriptedRunner replays canned responses per subcommand and records calls.
type scriptedRunner struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     []string
}

func (r *scriptedRunner) run(_ context.Context, _ string, args ...string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.Join(args, " ")
	r.calls = append(r.calls, key)
	if err, ok := r.errs[args[0]]; ok {
		return "", err
	}
	return r.responses[args[0]], nil
}

func newCtl(r *scriptedRunner) *PowerProfilesCtl {
	return NewPowerProfilesCtl(WithRunner(r.run))
}

// TestListProfilesParsesOutput verifies the list output parser against real
// powerprofilesctl formatting, attribute lines included.
func TestListProfilesParsesOutput(t *testing.T) {
	runner := &scriptedRunner{responses: map[string]string{"list": sampleList}}

	profiles, err := newCtl(runner).ListProfiles(context.Background())
	require.NoError(t, err)
	require.Len(t, profiles, 3)
	assert.Equal(t, []Profile{
		{ID: "performance", Name: "Performance"},
		{ID: "balanced", Name: "Balanced"},
		{ID: "power-saver", Name: "Power Saver"},
	}, profiles)
}

// TestGetActive verifies the active profile read.
func TestGetActive(t *testing.T) {
	runner := &scriptedRunner{responses: map[string]string{"get": "balanced\n"}}

	active, err := newCtl(runner).GetActive(context.Background())
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "balanced", active.ID)
	assert.Equal(t, "Balanced", active.Name)
}

// TestGetActiveEmpty verifies an empty read reports no active profile
// without error.
func TestGetActiveEmpty(t *testing.T) {
	runner := &scriptedRunner{responses: map[string]string{"get": "\n"}}

	active, err := newCtl(runner).GetActive(context.Background())
	require.NoError(t, err)
	assert.Nil(t, active)
}

// TestSetActiveSkipsDuplicate verifies duplicate prevention short-circuits
// before any set call.
func TestSetActiveSkipsDuplicate(t *testing.T) {
	runner := &scriptedRunner{responses: map[string]string{"get": "performance\n"}}

	changed, err := newCtl(runner).SetActive(context.Background(), "performance", true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"get"}, runner.calls, "no set issued for the active profile")
}

// TestSetActiveIssuesSet verifies the switch goes through when the target
// differs.
func TestSetActiveIssuesSet(t *testing.T) {
	runner := &scriptedRunner{responses: map[string]string{"get": "balanced\n"}}

	changed, err := newCtl(runner).SetActive(context.Background(), "performance", true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"get", "set performance"}, runner.calls)
}

// TestSetActiveNonZeroExitIsNonFatal verifies a refusal from the tool is
// reported as false, not as an error.
func TestSetActiveNonZeroExitIsNonFatal(t *testing.T) {
	exitErr := exec.Command("false").Run()
	var asExit *exec.ExitError
	require.ErrorAs(t, exitErr, &asExit, "need a real exit error for this test")

	runner := &scriptedRunner{errs: map[string]error{"set": exitErr}}

	changed, err := newCtl(runner).SetActive(context.Background(), "performance", false)
	require.NoError(t, err)
	assert.False(t, changed)
}

// TestGetByID verifies lookup and the not-found sentinel.
func TestGetByID(t *testing.T) {
	runner := &scriptedRunner{responses: map[string]string{"list": sampleList}}
	ctl := newCtl(runner)

	p, err := ctl.GetByID(context.Background(), "power-saver")
	require.NoError(t, err)
	assert.Equal(t, "Power Saver", p.Name)

	_, err = ctl.GetByID(context.Background(), "turbo")
	require.ErrorIs(t, err, ErrProfileNotFound)
}

// TestDisplayName pins the id-to-name rendering.
func TestDisplayName(t *testing.T) {
	tests := []struct{ id, want string }{
		{"balanced", "Balanced"},
		{"power-saver", "Power Saver"},
		{"low_latency", "Low Latency"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DisplayName(tt.id), tt.id)
	}
}
