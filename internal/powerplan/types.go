// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package powerplan reads and switches the host's active power profile.
package powerplan

import (
	"context"
	"errors"
)

// ErrProfileNotFound is returned when a profile id is unknown to the host.
var ErrProfileNotFound = errors.New("power profile not found")

// Profile identifies one power profile known to the host.
type Profile struct {
	// ID is the stable identifier handed to set-active.
	ID string `json:"id"`

	// Name is the human-readable display name.
	Name string `json:"name"`
}

// Controller is the power-plan collaborator consumed by the orchestrator.
//
// SetActive returning (false, nil) is a non-fatal failure: the underlying
// OS tool refused the change (non-zero exit) but the daemon should keep
// running and try again on the next triggering event.
type Controller interface {
	// ListProfiles returns every profile the host offers.
	ListProfiles(ctx context.Context) ([]Profile, error)

	// GetActive returns the currently active profile, or nil when the host
	// cannot report one.
	GetActive(ctx context.Context) (*Profile, error)

	// SetActive switches the host to the given profile. With
	// preventDuplicates set, switching to the already-active profile is
	// skipped and reported as success.
	SetActive(ctx context.Context, profileID string, preventDuplicates bool) (bool, error)

	// GetByID resolves one profile id, or ErrProfileNotFound.
	GetByID(ctx context.Context, profileID string) (*Profile, error)
}
