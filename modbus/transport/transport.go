// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package transport defines the capability bundle every framing and FSM
// layer borrows from the caller: non-blocking send/recv, a monotonic clock
// and an optional cooperative yield. Per spec §4.3/§5, implementations
// never block: partial progress is the norm, and a Status of Timeout means
// "no data yet, try again."
package transport

import "github.com/lgili/modbuscore/modbus"

// Result reports the outcome of one Send or Recv call.
type Result struct {
	N      int
	Status modbus.Status
}

// Transport is the abstract non-blocking I/O contract. Implementations are
// owned by the caller; the core only ever borrows one.
type Transport interface {
	// Send attempts to write p, returning how much was accepted this call.
	// A partial write is normal; the caller resumes with the remainder.
	Send(p []byte) (Result, error)
	// Recv attempts to fill buf, returning how much was read this call.
	// Status Timeout means no data is available yet.
	Recv(buf []byte) (Result, error)
	// Now returns a monotonic millisecond clock. Differences must be taken
	// modulo the integer width to stay wrap-safe.
	Now() int64
}

// Yielder is an optional capability a Transport may also implement to hint
// the host scheduler during busy-polling.
type Yielder interface {
	Yield()
}

// MaybeYield calls t.Yield() if t implements Yielder; otherwise it is a
// no-op, matching spec §4.3's "optional yield" contract.
func MaybeYield(t Transport) {
	if y, ok := t.(Yielder); ok {
		y.Yield()
	}
}

// Elapsed returns now-since in a way that is safe across a wrapped
// monotonic counter, per spec §4.3.
func Elapsed(now, since int64) int64 {
	return now - since
}
