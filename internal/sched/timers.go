// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sched provides the two scheduled-task shapes the monitoring core
// needs: a repeating interval task (polling sweeps) and a resettable
// single-shot delay (debounce windows). They are deliberately separate types
// rather than one low-level timer so cancellation semantics stay obvious at
// call sites.
package sched

import (
	"sync"
	"time"
)

// Interval runs a function repeatedly on a fixed period.
//
// # Thread Safety
//
// Safe for concurrent use. The task function runs on a single goroutine, so
// consecutive runs never overlap. SetInterval reprograms a running timer
// without restarting it.
type Interval struct {
	mu       sync.Mutex
	interval time.Duration
	fn       func()
	ticker   *time.Ticker
	done     chan struct{}
	running  bool
}

// NewInterval creates a stopped interval task. Call Start to begin.
func NewInterval(interval time.Duration, fn func()) *Interval {
	return &Interval{interval: interval, fn: fn}
}

// Start begins periodic execution. No-op when already running.
func (iv *Interval) Start() {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	if iv.running {
		return
	}
	iv.ticker = time.NewTicker(iv.interval)
	iv.done = make(chan struct{})
	iv.running = true

	go iv.loop(iv.ticker, iv.done)
}

func (iv *Interval) loop(ticker *time.Ticker, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			iv.fn()
		}
	}
}

// Stop halts execution. A run already in progress finishes; no new runs
// start. Safe to call repeatedly.
func (iv *Interval) Stop() {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	if !iv.running {
		return
	}
	iv.ticker.Stop()
	close(iv.done)
	iv.running = false
}

// SetInterval changes the period. Takes effect live on a running task;
// otherwise it applies at the next Start.
func (iv *Interval) SetInterval(interval time.Duration) {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	iv.interval = interval
	if iv.running {
		iv.ticker.Reset(interval)
	}
}

// Running reports whether the task is started.
func (iv *Interval) Running() bool {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	return iv.running
}

// Debounce is a resettable single-shot delay.
//
// # Description
//
// Arm schedules the function after a delay; arming again before it fires
// pushes the deadline out, so a burst of Arm calls collapses into one
// execution once the burst goes quiet. Disarm cancels a pending execution.
//
// # Thread Safety
//
// Safe for concurrent use. The function runs on a timer goroutine; it is the
// caller's job to make it safe from there.
type Debounce struct {
	mu    sync.Mutex
	fn    func()
	timer *time.Timer
}

// NewDebounce creates a disarmed debounce around fn.
func NewDebounce(fn func()) *Debounce {
	return &Debounce{fn: fn}
}

// Arm schedules (or re-schedules) the function to run after delay.
// A delay of zero or less runs it after the shortest timer tick.
func (d *Debounce) Arm(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(delay, func() {
		d.mu.Lock()
		d.timer = nil
		d.mu.Unlock()
		d.fn()
	})
}

// Disarm cancels any pending execution. Returns true when a pending timer
// was actually cancelled before firing.
func (d *Debounce) Disarm() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer == nil {
		return false
	}
	stopped := d.timer.Stop()
	d.timer = nil
	return stopped
}

// Pending reports whether an execution is scheduled.
func (d *Debounce) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}
