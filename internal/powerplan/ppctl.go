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
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/AleutianAI/treadpilot/internal/retry"
)

// Runner executes one external command and returns its stdout. Injected so
// tests never shell out.
type Runner func(ctx context.Context, name string, args ...string) (string, error)

// execRunner is the production Runner.
func execRunner(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	return string(out), err
}

// PowerProfilesCtl drives the host profile through the power-profiles-daemon
// CLI (`powerprofilesctl`).
//
// # Description
//
// Idempotent reads (list/get) are wrapped in the process-ops retry policy;
// set is issued exactly once per call because the orchestrator owns the
// decision of when to try again. A non-zero exit from set is reported as a
// non-fatal false, matching the Controller contract.
type PowerProfilesCtl struct {
	runner Runner
	logger *slog.Logger
	policy retry.Policy
	tool   string
}

// CtlOption configures a PowerProfilesCtl.
type CtlOption func(*PowerProfilesCtl)

// WithRunner replaces the command runner (tests).
func WithRunner(runner Runner) CtlOption {
	return func(c *PowerProfilesCtl) { c.runner = runner }
}

// WithLogger sets the controller logger.
func WithLogger(logger *slog.Logger) CtlOption {
	return func(c *PowerProfilesCtl) { c.logger = logger }
}

// NewPowerProfilesCtl creates the controller.
func NewPowerProfilesCtl(opts ...CtlOption) *PowerProfilesCtl {
	c := &PowerProfilesCtl{
		runner: execRunner,
		policy: retry.ProcessOps(),
		tool:   "powerprofilesctl",
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

func (c *PowerProfilesCtl) ListProfiles(ctx context.Context) ([]Profile, error) {
	out, err := retry.Do(ctx, c.policy, c.logger, "list-power-profiles",
		func(ctx context.Context) (string, error) {
			return c.runner(ctx, c.tool, "list")
		})
	if err != nil {
		return nil, fmt.Errorf("list power profiles: %w", err)
	}
	return parseProfileList(out), nil
}

func (c *PowerProfilesCtl) GetActive(ctx context.Context) (*Profile, error) {
	out, err := retry.Do(ctx, c.policy, c.logger, "get-active-profile",
		func(ctx context.Context) (string, error) {
			return c.runner(ctx, c.tool, "get")
		})
	if err != nil {
		return nil, fmt.Errorf("get active profile: %w", err)
	}
	id := strings.TrimSpace(out)
	if id == "" {
		return nil, nil
	}
	return &Profile{ID: id, Name: DisplayName(id)}, nil
}

func (c *PowerProfilesCtl) SetActive(ctx context.Context, profileID string, preventDuplicates bool) (bool, error) {
	if preventDuplicates {
		active, err := c.GetActive(ctx)
		if err == nil && active != nil && active.ID == profileID {
			c.logger.Debug("profile already active, skipping set", "profile", profileID)
			return true, nil
		}
	}

	_, err := c.runner(ctx, c.tool, "set", profileID)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// The tool ran and refused; non-fatal by contract.
			c.logger.Warn("powerprofilesctl set returned non-zero exit",
				"profile", profileID,
				"exit_code", exitErr.ExitCode(),
				"stderr", strings.TrimSpace(string(exitErr.Stderr)))
			return false, nil
		}
		return false, fmt.Errorf("set active profile %q: %w", profileID, err)
	}
	return true, nil
}

func (c *PowerProfilesCtl) GetByID(ctx context.Context, profileID string) (*Profile, error) {
	profiles, err := c.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range profiles {
		if p.ID == profileID {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("%q: %w", profileID, ErrProfileNotFound)
}

// parseProfileList extracts profile ids from `powerprofilesctl list` output.
// Profiles are the top-level `name:` lines; the active one carries a `*`
// marker, and attribute lines are indented deeper.
func parseProfileList(out string) []Profile {
	var profiles []Profile
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "*"))
		if !strings.HasSuffix(trimmed, ":") {
			continue
		}
		// Attribute lines like "CpuDriver:\tintel_pstate" are deeper than
		// two spaces of indentation.
		if indent(line) > 2 {
			continue
		}
		id := strings.TrimSuffix(trimmed, ":")
		if id == "" || strings.ContainsAny(id, " \t") {
			continue
		}
		profiles = append(profiles, Profile{ID: id, Name: DisplayName(id)})
	}
	return profiles
}

func indent(line string) int {
	return len(line) - len(strings.TrimLeft(line, " "))
}

// DisplayName renders a profile id for humans: "power-saver" → "Power Saver".
func DisplayName(id string) string {
	words := strings.FieldsFunc(id, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
