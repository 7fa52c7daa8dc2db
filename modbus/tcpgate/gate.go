// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package tcpgate multiplexes many independent MBAP/TCP connections
// against one shared request handler (typically a modbus/mbserver.Server
// consulted through InjectADU). It generalizes the teacher's
// transport/tcp/server.go, which spawned one goroutine per accepted
// connection and let each block independently on conn.Read/Write, into a
// cooperative model: one Gate slot per connection, each wrapping its own
// modbus/mbap.Framer, all driven from a single PollAll call. A slot that
// hits a transport error is isolated and marked dead without disturbing
// any other slot, the same failure-isolation property the teacher got for
// free from per-connection goroutines.
package tcpgate

import (
	"github.com/lgili/modbuscore/modbus"
	"github.com/lgili/modbuscore/modbus/mbap"
	"github.com/lgili/modbuscore/modbus/transport"
)

// CompleteFunc is invoked once per fully received request, with the slot
// it arrived on, the decoded request and the transaction id to echo back
// in the eventual reply. The callback is expected to call Submit on the
// same slot with the reply; Gate does not dispatch requests itself.
type CompleteFunc func(slot int, adu modbus.ADU, tid uint16, status modbus.Status)

type slotState int

const (
	slotFree slotState = iota
	slotActive
	slotDead
)

type slot struct {
	state     slotState
	transport transport.Transport
	framer    *mbap.Framer
}

// Gate owns a fixed-capacity table of connection slots, each independently
// framed and polled, per spec §5.11 (SPEC_FULL.md).
type Gate struct {
	slots      []slot
	onComplete CompleteFunc
}

// New allocates a Gate with capacity slots.
func New(capacity int) *Gate {
	return &Gate{slots: make([]slot, capacity)}
}

// SetCompleteFunc installs fn as the subscriber notified when a slot
// finishes receiving a request (or dies).
func (g *Gate) SetCompleteFunc(fn CompleteFunc) { g.onComplete = fn }

// Add binds t to a free slot, framed as MBAP/TCP, and returns its index.
// It returns ErrNoResources if every slot is occupied.
func (g *Gate) Add(t transport.Transport) (int, error) {
	for i := range g.slots {
		if g.slots[i].state == slotFree {
			g.slots[i] = slot{
				state:     slotActive,
				transport: t,
				framer:    mbap.NewFramer(t, mbap.MaxFrameSize),
			}
			return i, nil
		}
	}
	return -1, modbus.NewError(modbus.StatusNoResources, nil)
}

// Remove frees the slot at idx, whatever its state. The caller is
// responsible for closing the underlying transport first if it owns a
// Close method — Gate only forgets the slot.
func (g *Gate) Remove(idx int) error {
	if idx < 0 || idx >= len(g.slots) {
		return modbus.NewError(modbus.StatusInvalidArgument, nil)
	}
	g.slots[idx] = slot{}
	return nil
}

// Transport returns the transport bound to the slot at idx, for callers
// that need to type-assert it (e.g. to *mbap/netconn.Conn) in order to
// Close it on removal.
func (g *Gate) Transport(idx int) (transport.Transport, bool) {
	if idx < 0 || idx >= len(g.slots) || g.slots[idx].state == slotFree {
		return nil, false
	}
	return g.slots[idx].transport, true
}

// IsDead reports whether the slot at idx hit a transport error and is
// awaiting removal.
func (g *Gate) IsDead(idx int) bool {
	return idx >= 0 && idx < len(g.slots) && g.slots[idx].state == slotDead
}

// Submit encodes adu as an MBAP frame carrying tid and queues it for
// transmission on the slot at idx.
func (g *Gate) Submit(idx int, adu modbus.ADU, tid uint16) error {
	if idx < 0 || idx >= len(g.slots) || g.slots[idx].state != slotActive {
		return modbus.NewError(modbus.StatusInvalidArgument, nil)
	}
	s := &g.slots[idx]
	frame, err := mbap.EncodeADU(tid, adu)
	if err != nil {
		return err
	}
	return s.framer.BeginTx(frame)
}

// PollAll drives one non-blocking receive/transmit micro-step per active
// slot. A fully received request invokes the installed CompleteFunc; a
// transport error marks the slot dead (via a StatusTransport callback)
// without touching any other slot.
func (g *Gate) PollAll(now int64) {
	for i := range g.slots {
		s := &g.slots[i]
		if s.state != slotActive {
			continue
		}

		if _, err := s.framer.PollTx(now); err != nil {
			s.state = slotDead
			if g.onComplete != nil {
				g.onComplete(i, modbus.ADU{}, 0, modbus.StatusTransport)
			}
			continue
		}

		tid, adu, status := s.framer.PollRx(now)
		switch status {
		case modbus.StatusOK:
			if g.onComplete != nil {
				g.onComplete(i, adu, tid, modbus.StatusOK)
			}
		case modbus.StatusTransport:
			s.state = slotDead
			if g.onComplete != nil {
				g.onComplete(i, modbus.ADU{}, 0, modbus.StatusTransport)
			}
		default:
			// Timeout (nothing complete yet) and Framing (resynchronized
			// internally by the framer) both just mean "keep polling".
		}
	}
}
