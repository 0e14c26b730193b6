// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rules holds the user-defined association rule set and resolves
// which rule wins for a given set of running processes.
package rules

import (
	"strings"

	"github.com/google/uuid"
)

// Wildcard matches any executable name.
const Wildcard = "*"

// Association maps one executable name to a target power profile.
type Association struct {
	// ID is the stable rule identifier.
	ID uuid.UUID `json:"id"`

	// ExecutableName is the case-insensitive match key. The wildcard "*"
	// matches every process.
	ExecutableName string `json:"executable_name" validate:"required"`

	// ProfileID is the target power profile identifier.
	ProfileID string `json:"profile_id" validate:"required"`

	// ProfileName is the target profile's display name.
	ProfileName string `json:"profile_name"`

	// Priority ranks this rule against other matches; higher wins.
	Priority int `json:"priority" validate:"gte=0"`

	// Enabled gates the rule without deleting it.
	Enabled bool `json:"enabled"`
}

// NormalizedName returns the lower-cased executable name, the uniqueness
// and match key.
func (a Association) NormalizedName() string {
	return strings.ToLower(strings.TrimSpace(a.ExecutableName))
}

// Matches reports whether this rule applies to the given executable name.
// Matching ignores case; the wildcard matches everything. Enabled is the
// caller's concern.
func (a Association) Matches(executableName string) bool {
	if a.ExecutableName == Wildcard {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(executableName), a.NormalizedName())
}

// NewAssociation creates an enabled rule with a fresh identifier.
func NewAssociation(executableName, profileID, profileName string, priority int) Association {
	return Association{
		ID:             uuid.New(),
		ExecutableName: executableName,
		ProfileID:      profileID,
		ProfileName:    profileName,
		Priority:       priority,
		Enabled:        true,
	}
}
