// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package mbclient implements the client-side transaction queue and
// request/response state machine, per spec §4.8: a caller-provided fixed
// transaction pool, FIFO-within-priority dispatch, timeout/retry/backoff,
// a watchdog, and exactly-once completion callbacks. Grounded on the
// teacher's transport/rtu/client.go and transport/tcp/client.go request/
// response cycle, but restructured from blocking calls into the
// Building/Sending/Waiting/Parsing/Completing micro-step phases spec §4.8
// requires.
package mbclient

import "github.com/lgili/modbuscore/modbus"

// Priority is a transaction's queue class, per spec §4.8: high drains
// ahead of normal, FIFO within each class.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// TxnState is a transaction slot's lifecycle stage, per spec §3.
type TxnState int

const (
	TxnFree TxnState = iota
	TxnQueued
	TxnInFlight
	TxnAwaitingResponse
	TxnCompleted
)

// Callback is invoked exactly once when a transaction resolves, carrying
// the final status, the response ADU (zero value if none arrived) and the
// caller's opaque context.
type Callback func(status modbus.Status, response modbus.ADU, userCtx interface{})

// Request describes a caller's submission. PDU must already be built (via
// modbus/pdu) — Submit frames and transmits it, it does not construct
// function-code payloads.
type Request struct {
	UnitID     byte
	PDU        modbus.ProtocolDataUnit
	Priority   Priority
	TimeoutMs  int64 // 0 => DefaultTimeoutMs
	MaxRetries int   // 0 => DefaultMaxRetries (still "at least try once")
	BackoffMs  int64 // 0 => TimeoutMs/2, per spec §9's resolved ambiguity
	Callback   Callback
	UserCtx    interface{}
}

// Transaction is one pool slot's live state, per spec §3.
type Transaction struct {
	ID          uint16
	State       TxnState
	Priority    Priority
	Request     modbus.ADU
	TimeoutMs   int64
	MaxRetries  int
	BackoffMs   int64
	RetriesUsed int
	Deadline    int64
	Callback    Callback
	UserCtx     interface{}
}

// Handle identifies a pool slot. InvalidHandle is returned on failed
// submissions.
type Handle int

// InvalidHandle is never a valid pool index.
const InvalidHandle Handle = -1

// Defaults mirror spec §6.4.
const (
	DefaultTimeoutMs  = 1000
	DefaultMaxRetries = 1
	DefaultWatchdogMs = 2000
)

func effectiveBackoff(timeoutMs, backoffMs int64) int64 {
	if backoffMs == 0 {
		return timeoutMs / 2
	}
	return backoffMs
}
