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
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	// ErrDuplicateAssociation rejects a second enabled rule for the same
	// normalized executable name.
	ErrDuplicateAssociation = errors.New("an enabled association already exists for this executable")

	// ErrAssociationNotFound is returned by update/remove for unknown ids.
	ErrAssociationNotFound = errors.New("association not found")

	// ErrNoDefaultProfile flags a configuration without a default profile.
	ErrNoDefaultProfile = errors.New("no default power profile configured")
)

// validate is the shared struct validator, mirroring the tag rules on
// Association and Configuration.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Configuration is the full rule set plus the orchestrator's tunables.
//
// # Description
//
// The orchestrator holds exactly one *Configuration at a time and swaps it
// wholesale on reload, so the struct itself needs no locking; mutate only
// through the Add/Update/Remove methods before handing it over.
//
// The uniqueness invariant — at most one *enabled* association per
// normalized executable name — is enforced at insertion and update, never
// re-checked at resolution time.
type Configuration struct {
	// Associations is the ordered rule collection.
	Associations []Association `json:"associations" validate:"dive"`

	// DefaultProfileID is the profile restored when no rule matches.
	DefaultProfileID string `json:"default_profile_id"`

	// DefaultProfileName is the default profile's display name.
	DefaultProfileName string `json:"default_profile_name"`

	// PreventDuplicateChanges suppresses profile switches to the profile
	// this daemon last set.
	PreventDuplicateChanges bool `json:"prevent_duplicate_changes"`

	// ChangeDelayMs is the debounce window for start-triggered changes,
	// in milliseconds. Zero applies changes immediately.
	ChangeDelayMs int `json:"change_delay_ms" validate:"gte=0"`
}

// NewDefaultConfiguration returns an empty rule set with duplicate
// suppression on and no debounce delay.
func NewDefaultConfiguration() *Configuration {
	return &Configuration{
		PreventDuplicateChanges: true,
	}
}

// ChangeDelay returns the debounce window as a duration.
func (c *Configuration) ChangeDelay() time.Duration {
	return time.Duration(c.ChangeDelayMs) * time.Millisecond
}

// AddAssociation appends a rule, enforcing the enabled-per-name
// uniqueness invariant.
func (c *Configuration) AddAssociation(assoc Association) error {
	if err := validate.Struct(assoc); err != nil {
		return fmt.Errorf("invalid association: %w", err)
	}
	if assoc.Enabled && c.hasEnabledConflict(assoc.NormalizedName(), assoc.ID) {
		return fmt.Errorf("%q: %w", assoc.ExecutableName, ErrDuplicateAssociation)
	}
	c.Associations = append(c.Associations, assoc)
	return nil
}

// UpdateAssociation replaces the rule with the same id, re-checking the
// uniqueness invariant against every other rule.
func (c *Configuration) UpdateAssociation(assoc Association) error {
	if err := validate.Struct(assoc); err != nil {
		return fmt.Errorf("invalid association: %w", err)
	}
	idx := c.indexOf(assoc.ID)
	if idx < 0 {
		return fmt.Errorf("%s: %w", assoc.ID, ErrAssociationNotFound)
	}
	if assoc.Enabled && c.hasEnabledConflict(assoc.NormalizedName(), assoc.ID) {
		return fmt.Errorf("%q: %w", assoc.ExecutableName, ErrDuplicateAssociation)
	}
	c.Associations[idx] = assoc
	return nil
}

// RemoveAssociation deletes the rule with the given id.
func (c *Configuration) RemoveAssociation(id uuid.UUID) error {
	idx := c.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("%s: %w", id, ErrAssociationNotFound)
	}
	c.Associations = append(c.Associations[:idx], c.Associations[idx+1:]...)
	return nil
}

// FindByID returns the rule with the given id.
func (c *Configuration) FindByID(id uuid.UUID) (Association, bool) {
	idx := c.indexOf(id)
	if idx < 0 {
		return Association{}, false
	}
	return c.Associations[idx], true
}

func (c *Configuration) indexOf(id uuid.UUID) int {
	for i, assoc := range c.Associations {
		if assoc.ID == id {
			return i
		}
	}
	return -1
}

func (c *Configuration) hasEnabledConflict(normalizedName string, selfID uuid.UUID) bool {
	for _, other := range c.Associations {
		if other.ID == selfID || !other.Enabled {
			continue
		}
		if other.NormalizedName() == normalizedName {
			return true
		}
	}
	return false
}

// Validate reports structural problems without mutating anything.
//
// Outputs:
//
//	[]error - One entry per problem; empty means the configuration is sound.
func (c *Configuration) Validate() []error {
	var problems []error
	if c.DefaultProfileID == "" {
		problems = append(problems, ErrNoDefaultProfile)
	}
	if err := validate.Struct(c); err != nil {
		problems = append(problems, err)
	}
	seen := make(map[string]uuid.UUID)
	for _, assoc := range c.Associations {
		if !assoc.Enabled {
			continue
		}
		name := assoc.NormalizedName()
		if firstID, dup := seen[name]; dup {
			problems = append(problems, fmt.Errorf(
				"%q duplicated by %s and %s: %w", name, firstID, assoc.ID, ErrDuplicateAssociation))
			continue
		}
		seen[name] = assoc.ID
	}
	return problems
}
