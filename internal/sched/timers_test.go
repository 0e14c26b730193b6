// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sched

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIntervalRunsRepeatedly verifies the task fires more than once and
// stops cleanly.
func TestIntervalRunsRepeatedly(t *testing.T) {
	var runs atomic.Int64
	iv := NewInterval(5*time.Millisecond, func() { runs.Add(1) })

	iv.Start()
	defer iv.Stop()

	require.Eventually(t, func() bool { return runs.Load() >= 3 },
		2*time.Second, time.Millisecond)

	iv.Stop()
	assert.False(t, iv.Running())

	settled := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, runs.Load(), "no runs after Stop")
}

// TestIntervalStartIdempotent verifies double Start does not double the
// goroutines (observable as the run counter not racing ahead).
func TestIntervalStartIdempotent(t *testing.T) {
	var runs atomic.Int64
	iv := NewInterval(time.Hour, func() { runs.Add(1) })

	iv.Start()
	iv.Start()
	defer iv.Stop()

	assert.True(t, iv.Running())
	iv.Stop()
	iv.Stop() // repeated Stop is safe too
	assert.False(t, iv.Running())
}

// TestIntervalSetIntervalLive verifies reprogramming takes effect without a
// stop/start cycle.
func TestIntervalSetIntervalLive(t *testing.T) {
	var runs atomic.Int64
	iv := NewInterval(time.Hour, func() { runs.Add(1) })

	iv.Start()
	defer iv.Stop()

	// With the hour-long period nothing would ever fire in this test.
	iv.SetInterval(5 * time.Millisecond)

	require.Eventually(t, func() bool { return runs.Load() >= 1 },
		2*time.Second, time.Millisecond)
}

// TestDebounceCoalescesBurst verifies N rapid arms produce exactly one
// execution after the window elapses.
func TestDebounceCoalescesBurst(t *testing.T) {
	var runs atomic.Int64
	d := NewDebounce(func() { runs.Add(1) })

	for i := 0; i < 10; i++ {
		d.Arm(20 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return runs.Load() == 1 },
		2*time.Second, time.Millisecond)

	// Settle past the window; still exactly one run.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(1), runs.Load())
	assert.False(t, d.Pending())
}

// TestDebounceDisarm verifies a pending execution can be cancelled.
func TestDebounceDisarm(t *testing.T) {
	var runs atomic.Int64
	d := NewDebounce(func() { runs.Add(1) })

	d.Arm(20 * time.Millisecond)
	assert.True(t, d.Pending())
	assert.True(t, d.Disarm())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(0), runs.Load())
	assert.False(t, d.Disarm(), "nothing pending to disarm")
}

// TestDebounceRearmAfterFire verifies the debounce is reusable.
func TestDebounceRearmAfterFire(t *testing.T) {
	var runs atomic.Int64
	d := NewDebounce(func() { runs.Add(1) })

	d.Arm(5 * time.Millisecond)
	require.Eventually(t, func() bool { return runs.Load() == 1 },
		2*time.Second, time.Millisecond)

	d.Arm(5 * time.Millisecond)
	require.Eventually(t, func() bool { return runs.Load() == 2 },
		2*time.Second, time.Millisecond)
}
