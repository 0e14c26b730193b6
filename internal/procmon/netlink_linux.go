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
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Netlink process-connector protocol constants (linux/cn_proc.h).
const (
	cnIdxProc         = 0x1
	cnValProc         = 0x1
	procCnMcastListen = 1
	procCnMcastIgnore = 2

	procEventExec = 0x00000002
	procEventExit = 0x80000000

	nlmsgHdrLen = 16 // unix.NLMSG_HDRLEN
	cnMsgLen    = 20 // cb_id{idx,val} + seq + ack + len + flags
)

// netlinkSource subscribes to the kernel's process connector for exec/exit
// notifications. Binding to the CN_IDX_PROC multicast group needs
// CAP_NET_ADMIN, so Subscribe fails with EPERM for unprivileged daemons —
// the watcher then runs on its polling fallback.
type netlinkSource struct {
	logger *slog.Logger

	mu     sync.Mutex
	fd     int
	open   bool
	closed bool
}

// NewEventSource returns the platform push-notification source.
func NewEventSource(logger *slog.Logger) EventSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &netlinkSource{logger: logger, fd: -1}
}

func (s *netlinkSource) Subscribe(ctx context.Context, deliver func(kind EventKind, pid int32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return errors.New("netlink source already subscribed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM, unix.NETLINK_CONNECTOR)
	if err != nil {
		return fmt.Errorf("netlink socket: %w", err)
	}

	addr := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Pid:    uint32(os.Getpid()),
		Groups: cnIdxProc,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return fmt.Errorf("netlink bind: %w", err)
	}
	if err := sendMcastOp(fd, procCnMcastListen); err != nil {
		unix.Close(fd)
		return fmt.Errorf("netlink listen: %w", err)
	}

	s.fd = fd
	s.open = true
	s.closed = false

	go s.readLoop(fd, deliver)
	return nil
}

func (s *netlinkSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.closed = true
	s.open = false

	// Best effort: tell the kernel we are leaving before tearing down.
	if err := sendMcastOp(s.fd, procCnMcastIgnore); err != nil {
		s.logger.Debug("netlink ignore op failed", "error", err)
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}

func (s *netlinkSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// readLoop receives and decodes connector messages until Close.
func (s *netlinkSource) readLoop(fd int, deliver func(kind EventKind, pid int32)) {
	buf := make([]byte, 4096)
	for {
		n, _, err := unix.Recvfrom(fd, buf, 0)
		if err != nil {
			if s.isClosed() {
				return
			}
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.ENOBUFS) {
				// ENOBUFS means the kernel dropped messages under load;
				// the next polling-style reconcile pass will catch up.
				s.logger.Warn("netlink receive hiccup", "error", err)
				continue
			}
			s.logger.Error("netlink receive failed, stopping delivery", "error", err)
			return
		}
		s.decode(buf[:n], deliver)
	}
}

// decode walks the netlink messages in one datagram and delivers exec/exit
// events. Thread (non-group-leader) exits are ignored.
func (s *netlinkSource) decode(data []byte, deliver func(kind EventKind, pid int32)) {
	le := binary.LittleEndian
	for off := 0; off+nlmsgHdrLen <= len(data); {
		msgLen := int(le.Uint32(data[off:]))
		if msgLen < nlmsgHdrLen || off+msgLen > len(data) {
			return
		}

		payload := data[off+nlmsgHdrLen : off+msgLen]
		// proc_event layout: what, cpu, 8-byte timestamp, then the
		// per-event union starting with process_pid, process_tgid — 24
		// bytes before the tgid read ends. Anything shorter is dropped;
		// any local process can unicast to this socket, so a truncated
		// payload must never be trusted.
		if len(payload) >= cnMsgLen+24 && le.Uint32(payload) == cnIdxProc {
			event := payload[cnMsgLen:]
			what := le.Uint32(event)
			pid := int32(le.Uint32(event[16:]))
			tgid := int32(le.Uint32(event[20:]))

			switch what {
			case procEventExec:
				deliver(ProcessStarted, tgid)
			case procEventExit:
				if pid == tgid {
					deliver(ProcessStopped, tgid)
				}
			}
		}

		off += nlmsgAlign(msgLen)
	}
}

func nlmsgAlign(n int) int {
	return (n + 3) &^ 3
}

// sendMcastOp sends a PROC_CN_MCAST_* control message.
func sendMcastOp(fd int, op uint32) error {
	le := binary.LittleEndian
	buf := make([]byte, nlmsgHdrLen+cnMsgLen+4)

	// nlmsghdr
	le.PutUint32(buf[0:], uint32(len(buf)))      // len
	le.PutUint16(buf[4:], unix.NLMSG_DONE)       // type
	le.PutUint32(buf[12:], uint32(os.Getpid()))  // pid (flags/seq stay zero)

	// cn_msg
	cn := buf[nlmsgHdrLen:]
	le.PutUint32(cn[0:], cnIdxProc)
	le.PutUint32(cn[4:], cnValProc)
	le.PutUint16(cn[16:], 4) // data length

	le.PutUint32(cn[cnMsgLen:], op)

	return unix.Sendto(fd, buf, 0, &unix.SockaddrNetlink{Family: unix.AF_NETLINK})
}
