// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry provides a generic retry-with-backoff executor for fallible
// OS operations.
//
// Each operation class (process queries, event subscriptions, file access)
// carries its own named Policy because their terminal-error sets differ:
// permission errors are never worth retrying, while "resource busy" almost
// always is. The backoff schedule is a pure function of the Policy so tests
// can assert on delays without sleeping.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Class is the outcome of classifying an operation error.
type Class int

const (
	// ClassRetryable marks an error worth another attempt after backoff.
	ClassRetryable Class = iota

	// ClassTerminal marks an error that no amount of retrying can fix.
	ClassTerminal
)

// String returns the string representation of the class.
func (c Class) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Policy describes how an operation class is retried.
//
// # Description
//
// A Policy is a value: copy it freely, there is no shared state. The delay for
// attempt n is InitialDelay * Multiplier^(n-1), capped at MaxDelay. When the
// classifier reports ClassTerminal, or attempts are exhausted, the last error
// is returned immediately with no further delay.
type Policy struct {
	// Name identifies the policy in logs ("process-ops", "file-ops", ...).
	Name string

	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the growing backoff delay.
	MaxDelay time.Duration

	// Multiplier scales the delay after each failed attempt.
	// Values below 1 are treated as 1 (constant delay).
	Multiplier float64

	// Classify maps an error to retryable or terminal.
	// Nil classifies everything as retryable.
	Classify func(error) Class
}

// attempts returns MaxAttempts clamped to at least one attempt.
func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// classify applies the policy classifier, defaulting to retryable.
func (p Policy) classify(err error) Class {
	if p.Classify == nil {
		return ClassRetryable
	}
	return p.Classify(err)
}

// Schedule returns the backoff delays this policy would use, one entry per
// retry (so MaxAttempts-1 entries). The schedule is deterministic; tests
// assert on it instead of measuring wall-clock sleeps.
func (p Policy) Schedule() []time.Duration {
	retries := p.attempts() - 1
	if retries <= 0 {
		return nil
	}

	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	delays := make([]time.Duration, 0, retries)
	delay := p.InitialDelay
	for i := 0; i < retries; i++ {
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		delays = append(delays, delay)
		delay = time.Duration(float64(delay) * mult)
	}
	return delays
}

// Do runs op under the policy until it succeeds, fails terminally, or
// attempts are exhausted.
//
// # Description
//
// The operation receives the caller's context; cancelling the context aborts
// both the operation (if it honors the context) and any pending backoff wait.
// Each retry is logged with the attempt number and upcoming delay.
//
// Inputs:
//
//	ctx - Cancels retries and backoff waits.
//	policy - Retry policy for this operation class.
//	logger - Destination for per-retry logs. Nil uses slog.Default().
//	name - Operation name for logs ("list-processes", "subscribe", ...).
//	op - The fallible operation.
//
// Outputs:
//
//	T - Result of the first successful attempt.
//	error - The last operation error, or the context error if cancelled.
func Do[T any](ctx context.Context, policy Policy, logger *slog.Logger, name string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if logger == nil {
		logger = slog.Default()
	}

	delays := policy.Schedule()
	var lastErr error

	for attempt := 1; attempt <= policy.attempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if policy.classify(err) == ClassTerminal {
			logger.Debug("operation failed terminally, not retrying",
				"policy", policy.Name,
				"operation", name,
				"attempt", attempt,
				"error", err)
			return zero, err
		}
		if attempt >= policy.attempts() {
			break
		}

		delay := delays[attempt-1]
		logger.Warn("operation failed, retrying",
			"policy", policy.Name,
			"operation", name,
			"attempt", attempt,
			"max_attempts", policy.attempts(),
			"delay", delay,
			"error", err)

		if err := wait(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%s: attempts exhausted after %d tries: %w", name, policy.attempts(), lastErr)
}

// wait sleeps for d or until the context is cancelled.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
