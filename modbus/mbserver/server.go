// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package mbserver implements the non-blocking server FSM, per spec §4.9:
// storage regions, an optional per-function-code handler table, and
// broadcast-aware request dispatch. It never blocks: Poll/PollWithBudget
// only ever perform bounded, non-blocking work, mirroring modbus/mbclient's
// contract on the receive side. Grounded on the teacher's
// internal/local-slave/slave.go dispatch switch, restructured from a
// blocking "read a frame, call Process, write a frame" loop into discrete
// IDLE/RX/DISPATCH/BUILD_REPLY/TX micro-steps.
package mbserver

import (
	"github.com/lgili/modbuscore/modbus"
	"github.com/lgili/modbuscore/modbus/dedupe"
	"github.com/lgili/modbuscore/modbus/diag"
)

// State is the server FSM's phase, per spec §4.9.
type State int

const (
	StateIdle State = iota
	StateRx
	StateDispatch
	StateBuildReply
	StateTx
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRx:
		return "RX"
	case StateDispatch:
		return "DISPATCH"
	case StateBuildReply:
		return "BUILD_REPLY"
	case StateTx:
		return "TX"
	default:
		return "UNKNOWN"
	}
}

const maxPollSteps = 100000

// Server drives one request/reply cycle at a time against one Codec (an
// RTU or MBAP framing layer bound to a single connection), per spec §4.9.
// Modbus is inherently non-pipelined on a single link, so one in-flight
// request is all a connection ever needs; modbus/tcpgate frames many TCP
// connections on its own, and they can share one Server through InjectADU.
type Server struct {
	codec  Codec
	unitID byte

	regions    []Region
	handlers   map[byte]Handler
	listenOnly bool

	state       State
	pendingTID  uint16
	pendingReq  modbus.ADU
	pendingResp modbus.ProtocolDataUnit

	dup  *dedupe.Filter
	diag *diag.Sink
}

// New allocates a Server answering as unitID over codec, per spec §4.9's
// init(transport, unit_id, regions[], request_pool[]) (the request pool
// collapses to a single in-flight slot, since one connection can only ever
// have one outstanding request at a time).
func New(codec Codec, unitID byte) *Server {
	return &Server{
		codec:  codec,
		unitID: unitID,
		dup:    dedupe.New(dedupe.DefaultWindowSize, dedupe.DefaultWindowMs),
		diag:   diag.NewSink(),
	}
}

// SetDuplicateFilter swaps the server's duplicate-request filter, e.g. to
// retune window size/age per spec §6.4's dup_filter knobs, or to pass nil
// to disable duplicate suppression entirely.
func (s *Server) SetDuplicateFilter(f *dedupe.Filter) { s.dup = f }

// SetListenOnly enables or disables listen-only mode (SPEC_FULL §6): when
// enabled, every received frame is parsed, counted and traced but never
// answered — dispatch's side effects (including writes) are skipped
// entirely, since there is no reply to observe them through.
func (s *Server) SetListenOnly(on bool) { s.listenOnly = on }

// SetHandler installs fn as the custom responder for fc, taking precedence
// over any registered storage region.
func (s *Server) SetHandler(fc byte, fn Handler) {
	if s.handlers == nil {
		s.handlers = make(map[byte]Handler)
	}
	s.handlers[fc] = fn
}

// SetEventCallback installs fn as the structured-event subscriber.
func (s *Server) SetEventCallback(fn diag.EventFunc) { s.diag.SetEventCallback(fn) }

// SetTraceHex enables or disables the hex/status trace ring.
func (s *Server) SetTraceHex(enabled bool) { s.diag.SetTraceHex(enabled) }

// Diagnostics exposes the counters and trace ring accumulated so far.
func (s *Server) Diagnostics() *diag.Sink { return s.diag }

// Pending reports whether a request is currently being processed.
func (s *Server) Pending() int {
	if s.state == StateIdle {
		return 0
	}
	return 1
}

// IsIdle reports whether the FSM has no request in flight.
func (s *Server) IsIdle() bool { return s.state == StateIdle }

// InjectADU feeds adu directly into the dispatch logic, bypassing the
// attached Codec's framing entirely, per spec §4.9: "used by the TCP
// front-end that already demultiplexes connections". Each tcpgate slot
// owns its own independent mbap.Framer and decodes its own connection's
// bytes; InjectADU lets many such slots share one region/handler table
// without funneling through this Server's own Rx/Tx cycle. The caller is
// responsible for framing and transmitting resp itself.
func (s *Server) InjectADU(adu modbus.ADU) (resp modbus.ProtocolDataUnit, status modbus.Status) {
	if adu.UnitID != s.unitID && !adu.IsBroadcast() {
		return modbus.ProtocolDataUnit{}, modbus.StatusTimeout // drop silently, no reply owed
	}
	if s.listenOnly {
		return modbus.ProtocolDataUnit{}, modbus.StatusTimeout
	}
	resp, status = s.dispatch(adu.PDU)
	if status == modbus.StatusException {
		s.diag.CountExceptionSent()
	}
	return resp, status
}

// Poll runs the FSM until no further progress is possible this call.
func (s *Server) Poll() error { return s.PollWithBudget(maxPollSteps) }

// PollWithBudget runs at most steps micro-steps and returns. Per spec
// §4.9, each micro-step corresponds to one sub-phase transition.
func (s *Server) PollWithBudget(steps int) error {
	for i := 0; i < steps; i++ {
		now := s.codec.Now()
		if !s.step(now) {
			break
		}
	}
	return nil
}

func (s *Server) setState(next State, now int64) {
	if next != s.state {
		s.diag.Emit(now, diag.Event{Kind: diag.ServerStateExit, State: s.state.String()})
		s.state = next
		s.diag.Emit(now, diag.Event{Kind: diag.ServerStateEnter, State: next.String()})
	}
}

func (s *Server) step(now int64) bool {
	switch s.state {
	case StateIdle:
		s.setState(StateRx, now)
		return true

	case StateRx:
		tid, adu, status := s.codec.PollRx(now)
		if status != modbus.StatusOK {
			s.setState(StateIdle, now) // no complete request yet: rest in Idle until the next poll
			return false
		}
		s.diag.CountRxFrame()
		s.diag.Emit(now, diag.Event{Kind: diag.ServerRequestAccept, FC: adu.PDU.FunctionCode})
		s.pendingTID = tid
		s.pendingReq = adu
		s.setState(StateDispatch, now)
		return true

	case StateDispatch:
		if s.pendingReq.UnitID != s.unitID && !s.pendingReq.IsBroadcast() {
			s.setState(StateIdle, now) // per spec §4.9: not addressed to us, drop silently
			return true
		}
		if s.listenOnly {
			s.setState(StateIdle, now)
			return true
		}

		if s.dup != nil {
			hash := dedupe.Hash(s.pendingReq.UnitID, s.pendingReq.PDU.FunctionCode, s.pendingReq.PDU.Data)
			if s.dup.Check(hash, now) {
				s.dup.NoteDuplicate(hash, now, s.pendingReq.PDU.Data)
				s.diag.CountDuplicateSuppressed()
				s.setState(StateIdle, now) // per spec §4.7: re-seen frame, don't reprocess or reply
				return true
			}
			s.dup.Add(hash, now, s.pendingReq.PDU.Data)
		}

		resp, status := s.dispatch(s.pendingReq.PDU)
		s.diag.Emit(now, diag.Event{Kind: diag.ServerRequestComplete, FC: s.pendingReq.PDU.FunctionCode, Status: status})
		if status == modbus.StatusException {
			s.diag.CountExceptionSent()
		}

		if s.pendingReq.IsBroadcast() {
			s.diag.CountBroadcast()
			s.setState(StateIdle, now) // per spec §4.9: broadcasts short-circuit to Idle, no reply
			return true
		}

		s.pendingResp = resp
		s.setState(StateBuildReply, now)
		return true

	case StateBuildReply:
		frame, err := s.codec.EncodeResponse(s.pendingTID, modbus.ADU{UnitID: s.unitID, PDU: s.pendingResp})
		if err != nil {
			s.setState(StateIdle, now)
			return true
		}
		if err := s.codec.BeginTx(frame); err != nil {
			s.setState(StateIdle, now)
			return true
		}
		s.setState(StateTx, now)
		return true

	case StateTx:
		done, err := s.codec.PollTx(now)
		if err != nil {
			s.codec.Reset()
			s.setState(StateIdle, now)
			return true
		}
		if !done {
			return false
		}
		s.diag.CountTxFrame()
		s.setState(StateIdle, now)
		return true

	default:
		return false
	}
}
