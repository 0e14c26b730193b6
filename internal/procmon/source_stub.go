// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build !linux

package procmon

import (
	"context"
	"log/slog"
)

type unavailableSource struct{}

// NewEventSource returns the platform push-notification source. Platforms
// without one get a source whose Subscribe always fails, which lands the
// watcher on its polling strategy.
func NewEventSource(_ *slog.Logger) EventSource {
	return unavailableSource{}
}

func (unavailableSource) Subscribe(context.Context, func(EventKind, int32)) error {
	return ErrUnsupportedPlatform
}

func (unavailableSource) Close() error { return nil }
