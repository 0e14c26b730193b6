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
	"errors"
)

// ErrUnsupportedPlatform is returned on platforms without a native lister.
var ErrUnsupportedPlatform = errors.New("process listing is not supported on this platform")

type stubLister struct{}

// NewLister returns the platform process lister. Only Linux is implemented;
// other platforms get a stub so the package still compiles for tooling.
func NewLister() Lister {
	return stubLister{}
}

func (stubLister) ListRunning(context.Context) ([]ProcessRecord, error) {
	return nil, ErrUnsupportedPlatform
}

func (stubLister) Lookup(context.Context, int32) (ProcessRecord, error) {
	return ProcessRecord{}, ErrUnsupportedPlatform
}
