// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retry

import (
	"errors"
	"io/fs"
	"os"
	"syscall"
	"time"
)

// ErrGone marks a target (typically a process) that disappeared between
// observation and use. Always terminal: retrying cannot bring it back.
var ErrGone = errors.New("target no longer exists")

// classifyCommon applies the rules shared by every policy: permission errors
// and vanished targets are terminal, resource contention is retryable.
func classifyCommon(err error) (Class, bool) {
	switch {
	case errors.Is(err, ErrGone),
		errors.Is(err, os.ErrPermission),
		errors.Is(err, syscall.EPERM),
		errors.Is(err, syscall.EACCES):
		return ClassTerminal, true
	case errors.Is(err, syscall.EAGAIN),
		errors.Is(err, syscall.EBUSY),
		errors.Is(err, syscall.EINTR),
		errors.Is(err, syscall.ETIMEDOUT):
		return ClassRetryable, true
	}
	return ClassRetryable, false
}

// ProcessOps is the policy for process enumeration and attribute queries.
// Short and fast: a process query that keeps failing is usually racing an
// exit, and the next sweep will see the truth anyway.
func ProcessOps() Policy {
	return Policy{
		Name:         "process-ops",
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2,
		Classify: func(err error) Class {
			if class, ok := classifyCommon(err); ok {
				return class
			}
			if errors.Is(err, fs.ErrNotExist) {
				// The pid directory vanished: the process exited.
				return ClassTerminal
			}
			return ClassRetryable
		},
	}
}

// SubscriptionOps is the policy for establishing OS event subscriptions.
// More patient than ProcessOps because a failed setup forces the watcher to
// degrade to polling for the rest of its run.
func SubscriptionOps() Policy {
	return Policy{
		Name:         "subscription-ops",
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2,
		Classify: func(err error) Class {
			if class, ok := classifyCommon(err); ok {
				return class
			}
			if errors.Is(err, syscall.EPROTONOSUPPORT) || errors.Is(err, syscall.EAFNOSUPPORT) {
				// The kernel simply does not offer the mechanism.
				return ClassTerminal
			}
			return ClassRetryable
		},
	}
}

// FileOps is the policy for configuration reads and writes.
func FileOps() Policy {
	return Policy{
		Name:         "file-ops",
		MaxAttempts:  4,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2,
		Classify: func(err error) Class {
			if class, ok := classifyCommon(err); ok {
				return class
			}
			return ClassRetryable
		},
	}
}
