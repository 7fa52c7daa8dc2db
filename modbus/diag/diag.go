// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package diag provides the counters, trace ring and event/idle hooks
// shared by mbclient and mbserver, per spec §4.10. A *Sink is optional:
// a nil *Sink is valid everywhere and every method on it is a no-op, so
// callers that don't care about diagnostics pay nothing for them.
package diag

import "github.com/lgili/modbuscore/modbus"

// Counters is the saturating 16-bit counter set spec §4.10 names.
type Counters struct {
	RxFrames            uint16
	TxFrames            uint16
	CRCErrors           uint16
	FramingErrors       uint16
	Timeouts            uint16
	Retries             uint16
	ExceptionsSent      uint16
	ExceptionsReceived  uint16
	Broadcasts          uint16
	DuplicatesSuppressed uint16
	TIDMismatches       uint16
}

func bump(c *uint16) {
	if *c < 0xFFFF {
		*c++
	}
}

// EventKind enumerates the structured event variants client/server emit.
type EventKind int

const (
	ClientStateEnter EventKind = iota
	ClientStateExit
	ClientTxSubmit
	ClientTxComplete
	ServerStateEnter
	ServerStateExit
	ServerRequestAccept
	ServerRequestComplete
)

func (k EventKind) String() string {
	switch k {
	case ClientStateEnter:
		return "client_state_enter"
	case ClientStateExit:
		return "client_state_exit"
	case ClientTxSubmit:
		return "client_tx_submit"
	case ClientTxComplete:
		return "client_tx_complete"
	case ServerStateEnter:
		return "server_state_enter"
	case ServerStateExit:
		return "server_state_exit"
	case ServerRequestAccept:
		return "server_request_accept"
	case ServerRequestComplete:
		return "server_request_complete"
	default:
		return "unknown"
	}
}

// Event is the payload delivered to an EventFunc subscriber.
type Event struct {
	Kind   EventKind
	State  string
	FC     byte
	Status modbus.Status
	TxnID  uint16
}

// EventFunc receives structured FSM events.
type EventFunc func(Event)

// IdleHook is invoked when the FSM has been idle with an empty queue for
// diag.idle_threshold_ms, per spec §4.10.
type IdleHook func(pending int, jitterMaxMs, jitterAvgMs int64)

// TraceEntry is one record in the circular hex/status trace buffer.
type TraceEntry struct {
	Timestamp int64
	Kind      EventKind
	FC        byte
	Status    modbus.Status
}

// traceCapacity is the fixed circular trace buffer size from spec §4.10.
const traceCapacity = 64

// TraceBuffer is a 64-entry circular buffer of recent trace events.
type TraceBuffer struct {
	entries [traceCapacity]TraceEntry
	next    int
	count   int
}

// Record appends an entry, overwriting the oldest once full.
func (t *TraceBuffer) Record(e TraceEntry) {
	t.entries[t.next] = e
	t.next = (t.next + 1) % traceCapacity
	if t.count < traceCapacity {
		t.count++
	}
}

// Entries returns the buffered trace entries in chronological order.
func (t *TraceBuffer) Entries() []TraceEntry {
	out := make([]TraceEntry, t.count)
	start := (t.next - t.count + traceCapacity) % traceCapacity
	for i := 0; i < t.count; i++ {
		out[i] = t.entries[(start+i)%traceCapacity]
	}
	return out
}

// Sink bundles the counters, trace buffer, event callback and idle hook one
// client or server instance reports through. The zero value is usable; a
// nil *Sink is also valid everywhere (every method below nil-checks).
type Sink struct {
	Counters Counters
	Trace    TraceBuffer

	traceHex bool
	onEvent  EventFunc
	onIdle   IdleHook

	lastPollAt  int64
	havePoll    bool
	jitterSum   int64
	jitterCount int64
	jitterMax   int64

	idle      bool
	idleSince int64
}

// NewSink allocates a ready-to-use Sink.
func NewSink() *Sink { return &Sink{} }

// SetEventCallback installs fn as the structured-event subscriber.
func (s *Sink) SetEventCallback(fn EventFunc) {
	if s == nil {
		return
	}
	s.onEvent = fn
}

// SetIdleHook installs fn as the idle/jitter subscriber.
func (s *Sink) SetIdleHook(fn IdleHook) {
	if s == nil {
		return
	}
	s.onIdle = fn
}

// SetTraceHex enables or disables recording trace entries.
func (s *Sink) SetTraceHex(enabled bool) {
	if s == nil {
		return
	}
	s.traceHex = enabled
}

// Emit forwards ev to the installed event callback and, if hex tracing is
// enabled, records it into the trace buffer.
func (s *Sink) Emit(now int64, ev Event) {
	if s == nil {
		return
	}
	if s.onEvent != nil {
		s.onEvent(ev)
	}
	if s.traceHex {
		s.Trace.Record(TraceEntry{Timestamp: now, Kind: ev.Kind, FC: ev.FC, Status: ev.Status})
	}
}

// NotePoll samples the interval since the previous poll call for the idle
// jitter hook, per spec §4.10 ("jitter is sampled between successive poll
// calls").
func (s *Sink) NotePoll(now int64, pending int, thresholdMs int64) {
	if s == nil {
		return
	}
	if s.havePoll {
		delta := now - s.lastPollAt
		if delta > s.jitterMax {
			s.jitterMax = delta
		}
		s.jitterSum += delta
		s.jitterCount++
	}
	s.lastPollAt = now
	s.havePoll = true

	if pending != 0 {
		s.idle = false
		return
	}
	if !s.idle {
		s.idle = true
		s.idleSince = now
	}
	if s.onIdle != nil && thresholdMs > 0 && s.jitterCount > 0 && now-s.idleSince >= thresholdMs {
		avg := s.jitterSum / s.jitterCount
		s.onIdle(pending, s.jitterMax, avg)
	}
}

// Count* helpers bump the matching saturating counter.
// The nil check comes before &s.Counters is taken, since taking a field's
// address through a nil *Sink panics.
func (s *Sink) CountRxFrame()             { s.bump(func(c *Counters) *uint16 { return &c.RxFrames }) }
func (s *Sink) CountTxFrame()             { s.bump(func(c *Counters) *uint16 { return &c.TxFrames }) }
func (s *Sink) CountCRCError()            { s.bump(func(c *Counters) *uint16 { return &c.CRCErrors }) }
func (s *Sink) CountFramingError()        { s.bump(func(c *Counters) *uint16 { return &c.FramingErrors }) }
func (s *Sink) CountTimeout()             { s.bump(func(c *Counters) *uint16 { return &c.Timeouts }) }
func (s *Sink) CountRetry()               { s.bump(func(c *Counters) *uint16 { return &c.Retries }) }
func (s *Sink) CountExceptionSent()       { s.bump(func(c *Counters) *uint16 { return &c.ExceptionsSent }) }
func (s *Sink) CountExceptionReceived()   { s.bump(func(c *Counters) *uint16 { return &c.ExceptionsReceived }) }
func (s *Sink) CountBroadcast()           { s.bump(func(c *Counters) *uint16 { return &c.Broadcasts }) }
func (s *Sink) CountDuplicateSuppressed() { s.bump(func(c *Counters) *uint16 { return &c.DuplicatesSuppressed }) }
func (s *Sink) CountTIDMismatch()         { s.bump(func(c *Counters) *uint16 { return &c.TIDMismatches }) }

func (s *Sink) bump(field func(*Counters) *uint16) {
	if s == nil {
		return
	}
	bump(field(&s.Counters))
}
