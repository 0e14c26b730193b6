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
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAddAssociationRejectsEnabledDuplicate verifies the per-name
// uniqueness invariant is enforced at insertion.
func TestAddAssociationRejectsEnabledDuplicate(t *testing.T) {
	cfg := NewDefaultConfiguration()
	require.NoError(t, cfg.AddAssociation(NewAssociation("Game.exe", "perf", "Performance", 10)))

	// Same name, different case: still a conflict.
	err := cfg.AddAssociation(NewAssociation("GAME.EXE", "powersave", "Power Saver", 1))
	require.ErrorIs(t, err, ErrDuplicateAssociation)
	assert.Len(t, cfg.Associations, 1)

	// A disabled duplicate is allowed.
	disabled := NewAssociation("game.exe", "powersave", "Power Saver", 1)
	disabled.Enabled = false
	require.NoError(t, cfg.AddAssociation(disabled))
	assert.Len(t, cfg.Associations, 2)
}

// TestUpdateAssociation verifies updates re-check the uniqueness invariant
// and unknown ids fail.
func TestUpdateAssociation(t *testing.T) {
	cfg := NewDefaultConfiguration()
	a := NewAssociation("a.exe", "perf", "Performance", 5)
	b := NewAssociation("b.exe", "powersave", "Power Saver", 1)
	require.NoError(t, cfg.AddAssociation(a))
	require.NoError(t, cfg.AddAssociation(b))

	// Renaming b to collide with a is rejected.
	b.ExecutableName = "A.EXE"
	require.ErrorIs(t, cfg.UpdateAssociation(b), ErrDuplicateAssociation)

	// A legitimate update lands.
	b.ExecutableName = "b.exe"
	b.Priority = 7
	require.NoError(t, cfg.UpdateAssociation(b))
	got, ok := cfg.FindByID(b.ID)
	require.True(t, ok)
	assert.Equal(t, 7, got.Priority)

	unknown := NewAssociation("c.exe", "perf", "Performance", 1)
	require.ErrorIs(t, cfg.UpdateAssociation(unknown), ErrAssociationNotFound)
}

// TestRemoveAssociation verifies removal by id.
func TestRemoveAssociation(t *testing.T) {
	cfg := NewDefaultConfiguration()
	a := NewAssociation("a.exe", "perf", "Performance", 5)
	require.NoError(t, cfg.AddAssociation(a))

	require.NoError(t, cfg.RemoveAssociation(a.ID))
	assert.Empty(t, cfg.Associations)
	require.ErrorIs(t, cfg.RemoveAssociation(uuid.New()), ErrAssociationNotFound)
}

// TestAddAssociationValidatesFields verifies the struct tags are applied.
func TestAddAssociationValidatesFields(t *testing.T) {
	cfg := NewDefaultConfiguration()

	missingName := NewAssociation("", "perf", "Performance", 1)
	assert.Error(t, cfg.AddAssociation(missingName))

	missingProfile := NewAssociation("a.exe", "", "Performance", 1)
	assert.Error(t, cfg.AddAssociation(missingProfile))

	negativePriority := NewAssociation("a.exe", "perf", "Performance", -3)
	assert.Error(t, cfg.AddAssociation(negativePriority))
}

// TestConfigurationValidate verifies structural problems surface without
// mutation.
func TestConfigurationValidate(t *testing.T) {
	cfg := NewDefaultConfiguration()
	problems := cfg.Validate()
	require.NotEmpty(t, problems)
	assert.ErrorIs(t, problems[0], ErrNoDefaultProfile)

	cfg.DefaultProfileID = "balanced"
	assert.Empty(t, cfg.Validate())

	// Force a duplicate past the insertion guard to prove Validate catches
	// it independently.
	a := NewAssociation("same.exe", "perf", "Performance", 1)
	b := NewAssociation("same.exe", "powersave", "Power Saver", 2)
	cfg.Associations = []Association{a, b}
	problems = cfg.Validate()
	require.Len(t, problems, 1)
	assert.ErrorIs(t, problems[0], ErrDuplicateAssociation)
}

// TestChangeDelay verifies the millisecond field converts cleanly.
func TestChangeDelay(t *testing.T) {
	cfg := NewDefaultConfiguration()
	assert.Equal(t, time.Duration(0), cfg.ChangeDelay())

	cfg.ChangeDelayMs = 1500
	assert.Equal(t, 1500*time.Millisecond, cfg.ChangeDelay())
}
