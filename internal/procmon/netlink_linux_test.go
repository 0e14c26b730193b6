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
	"encoding/binary"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decodedEvent struct {
	kind EventKind
	pid  int32
}

// connectorDatagram builds one nlmsghdr + cn_msg + proc_event message with
// the given event bytes.
func connectorDatagram(t *testing.T, event []byte) []byte {
	t.Helper()
	le := binary.LittleEndian

	buf := make([]byte, nlmsgHdrLen+cnMsgLen+len(event))
	le.PutUint32(buf[0:], uint32(len(buf))) // nlmsghdr len

	cn := buf[nlmsgHdrLen:]
	le.PutUint32(cn[0:], cnIdxProc)
	le.PutUint32(cn[4:], cnValProc)
	le.PutUint16(cn[16:], uint16(len(event)))

	require.Equal(t, len(event), copy(cn[cnMsgLen:], event))
	return buf
}

// procEvent builds a proc_event body: what, cpu, timestamp, then the union
// holding process_pid and process_tgid.
func procEvent(what uint32, pid, tgid int32) []byte {
	le := binary.LittleEndian
	event := make([]byte, 24)
	le.PutUint32(event[0:], what)
	le.PutUint32(event[16:], uint32(pid))
	le.PutUint32(event[20:], uint32(tgid))
	return event
}

func collectDecoded(data []byte) []decodedEvent {
	s := &netlinkSource{logger: slog.Default()}
	var got []decodedEvent
	s.decode(data, func(kind EventKind, pid int32) {
		got = append(got, decodedEvent{kind: kind, pid: pid})
	})
	return got
}

// TestDecodeExecAndExit verifies well-formed exec and group-leader exit
// messages deliver, and thread exits do not.
func TestDecodeExecAndExit(t *testing.T) {
	got := collectDecoded(connectorDatagram(t, procEvent(procEventExec, 1234, 1234)))
	require.Len(t, got, 1)
	assert.Equal(t, decodedEvent{kind: ProcessStarted, pid: 1234}, got[0])

	got = collectDecoded(connectorDatagram(t, procEvent(procEventExit, 1234, 1234)))
	require.Len(t, got, 1)
	assert.Equal(t, decodedEvent{kind: ProcessStopped, pid: 1234}, got[0])

	// A non-leader thread exit carries pid != tgid and is ignored.
	got = collectDecoded(connectorDatagram(t, procEvent(procEventExit, 5678, 1234)))
	assert.Empty(t, got)
}

// TestDecodeTruncatedPayload verifies short or malformed datagrams are
// dropped without panicking. Any local process can unicast to the
// connector socket, so the decoder must survive arbitrary input.
func TestDecodeTruncatedPayload(t *testing.T) {
	cases := map[string][]byte{
		"empty event":            connectorDatagram(t, nil),
		"16-byte event":          connectorDatagram(t, procEvent(procEventExec, 1234, 1234)[:16]),
		"23-byte event":          connectorDatagram(t, procEvent(procEventExec, 1234, 1234)[:23]),
		"bare header":            make([]byte, nlmsgHdrLen),
		"garbage":                {0xff, 0xff, 0xff, 0xff, 0x00, 0x01, 0x02},
		"length past the buffer": func() []byte {
			buf := connectorDatagram(t, procEvent(procEventExec, 1, 1))
			binary.LittleEndian.PutUint32(buf[0:], uint32(len(buf)+64))
			return buf
		}(),
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Empty(t, collectDecoded(data))
		})
	}
}

// TestDecodeMultipleMessages verifies a datagram carrying several aligned
// netlink messages delivers each one.
func TestDecodeMultipleMessages(t *testing.T) {
	first := connectorDatagram(t, procEvent(procEventExec, 100, 100))
	second := connectorDatagram(t, procEvent(procEventExit, 200, 200))

	got := collectDecoded(append(first, second...))
	require.Len(t, got, 2)
	assert.Equal(t, decodedEvent{kind: ProcessStarted, pid: 100}, got[0])
	assert.Equal(t, decodedEvent{kind: ProcessStopped, pid: 200}, got[1])
}
