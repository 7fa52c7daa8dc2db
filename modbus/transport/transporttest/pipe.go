// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package transporttest provides an in-memory transport.Transport double
// used by the client/server FSM tests, grounded on the teacher's
// test/local_slave_test.go in-process wiring pattern but adapted to the
// non-blocking poll contract instead of blocking io.ReadWriteCloser pipes.
package transporttest

import (
	"github.com/lgili/modbuscore/modbus"
	"github.com/lgili/modbuscore/modbus/ring"
	"github.com/lgili/modbuscore/modbus/transport"
)

// Pipe is a single-direction byte channel backed by a ring buffer.
type Pipe struct {
	buf *ring.Buffer
}

// NewPipe allocates a Pipe with the given capacity.
func NewPipe(capacity int) *Pipe {
	return &Pipe{buf: ring.NewBuffer(capacity)}
}

// Endpoint is a transport.Transport over a pair of Pipes: one for outbound
// bytes, one for inbound. Two Endpoints sharing swapped Pipes form a
// loopback link between a client and a server under test.
type Endpoint struct {
	out     *Pipe
	in      *Pipe
	clockMs int64
	sendErr error
	recvErr error
}

// NewLoopback returns two Endpoints wired so A's Send feeds B's Recv and
// vice versa.
func NewLoopback(capacity int) (a, b *Endpoint) {
	p1 := NewPipe(capacity)
	p2 := NewPipe(capacity)
	a = &Endpoint{out: p1, in: p2}
	b = &Endpoint{out: p2, in: p1}
	return a, b
}

func (e *Endpoint) Send(p []byte) (transport.Result, error) {
	if e.sendErr != nil {
		return transport.Result{Status: modbus.StatusTransport}, e.sendErr
	}
	n := e.out.buf.Write(p)
	return transport.Result{N: n, Status: modbus.StatusOK}, nil
}

func (e *Endpoint) Recv(buf []byte) (transport.Result, error) {
	if e.recvErr != nil {
		return transport.Result{Status: modbus.StatusTransport}, e.recvErr
	}
	n := e.in.buf.Read(buf)
	if n == 0 {
		return transport.Result{Status: modbus.StatusTimeout}, nil
	}
	return transport.Result{N: n, Status: modbus.StatusOK}, nil
}

func (e *Endpoint) Now() int64 { return e.clockMs }

// Advance moves the simulated clock forward by ms milliseconds.
func (e *Endpoint) Advance(ms int64) { e.clockMs += ms }

// SetSendError forces the next and all subsequent Send calls to fail,
// simulating a hard transport failure (StatusTransport).
func (e *Endpoint) SetSendError(err error) { e.sendErr = err }

// SetRecvError forces Recv calls to fail.
func (e *Endpoint) SetRecvError(err error) { e.recvErr = err }
