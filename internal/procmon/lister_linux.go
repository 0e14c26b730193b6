// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build linux

package procmon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/AleutianAI/treadpilot/internal/retry"
)

// procLister walks /proc. Per-pid failures (permission, racing exit) are
// skipped, never fatal to the sweep.
type procLister struct {
	root string
}

// NewLister returns the platform process lister.
func NewLister() Lister {
	return &procLister{root: "/proc"}
}

func (l *procLister) ListRunning(ctx context.Context) ([]ProcessRecord, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", l.root, err)
	}

	records := make([]ProcessRecord, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.ParseInt(entry.Name(), 10, 32)
		if err != nil {
			continue
		}
		rec, err := l.read(int32(pid))
		if err != nil {
			// Exited or unreadable between ReadDir and read. Skip.
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (l *procLister) Lookup(_ context.Context, pid int32) (ProcessRecord, error) {
	rec, err := l.read(pid)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, unix.ESRCH) {
			return ProcessRecord{}, fmt.Errorf("pid %d: %w", pid, retry.ErrGone)
		}
		return ProcessRecord{}, err
	}
	return rec, nil
}

// read assembles one record from /proc/<pid>. The comm name is required;
// path, priority and affinity are best-effort.
func (l *procLister) read(pid int32) (ProcessRecord, error) {
	dir := filepath.Join(l.root, strconv.FormatInt(int64(pid), 10))

	comm, err := os.ReadFile(filepath.Join(dir, "comm"))
	if err != nil {
		return ProcessRecord{}, err
	}

	rec := ProcessRecord{
		PID:  pid,
		Name: strings.TrimSpace(string(comm)),
	}

	if path, err := os.Readlink(filepath.Join(dir, "exe")); err == nil {
		rec.Path = path
		// comm truncates long names at 15 bytes; the exe basename is the
		// authoritative match key when we can read it.
		if base := filepath.Base(path); base != "" && base != "." {
			rec.Name = base
		}
	}

	if prio, err := unix.Getpriority(unix.PRIO_PROCESS, int(pid)); err == nil {
		rec.Priority = prio
	}

	var set unix.CPUSet
	if err := unix.SchedGetaffinity(int(pid), &set); err == nil {
		rec.Affinity = affinityMask(&set)
	}

	return rec, nil
}

// affinityMask flattens the first 64 CPUs of a CPUSet into a bitmask.
func affinityMask(set *unix.CPUSet) uint64 {
	var mask uint64
	for cpu := 0; cpu < 64; cpu++ {
		if set.IsSet(cpu) {
			mask |= 1 << uint(cpu)
		}
	}
	return mask
}
