// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"github.com/lgili/modbuscore/modbus"
	"github.com/lgili/modbuscore/modbus/dedupe"
	"github.com/lgili/modbuscore/modbus/ring"
	"github.com/lgili/modbuscore/modbus/transport"
)

// RxState is the receive-side framing state, per spec §4.5.
type RxState int

const (
	RxIdle RxState = iota
	RxInFrame
	RxWaitSilence
	RxComplete
)

// TxState is the transmit-side framing state, per spec §4.5.
type TxState int

const (
	TxIdle TxState = iota
	TxSending
	TxDrain
	TxTurnaround
)

// Framer drives RTU receive and transmit framing across repeated PollRx/
// PollTx calls, accumulating bytes in a ring buffer until t3.5 of silence
// elapses, then validating CRC and emitting a decoded ADU. It never blocks:
// every method does at most one non-blocking Recv/Send and returns.
type Framer struct {
	t     transport.Transport
	guard GuardTimes

	rx           *ring.Buffer
	rxState      RxState
	lastByteAt   int64
	haveLastByte bool

	dup *dedupe.Filter // server-only by default, nil disables dedupe

	tx         TxState
	txFrame    []byte
	txOffset   int
	txDoneAt   int64

	CRCErrors     uint32
	FramingErrors uint32
}

// NewFramer creates a Framer over t, with rxCapacity bytes of receive
// staging (rounded up to a power of two by the ring buffer).
func NewFramer(t transport.Transport, guard GuardTimes, rxCapacity int) *Framer {
	return &Framer{
		t:     t,
		guard: guard,
		rx:    ring.NewBuffer(rxCapacity),
	}
}

// SetDuplicateFilter installs an optional duplicate-suppression filter
// consulted after CRC validation, per spec §4.5/§4.7.
func (f *Framer) SetDuplicateFilter(d *dedupe.Filter) { f.dup = d }

// PollRx performs one non-blocking receive micro-step. It returns a decoded
// ADU once a silence-delimited, CRC-valid frame has accumulated; otherwise
// it returns status Timeout (no complete frame yet), CRC, or Framing (the
// latter two are counted and absorbed, never surfaced to a transaction
// directly, per spec §7).
func (f *Framer) PollRx(now int64) (adu modbus.ADU, status modbus.Status) {
	var scratch [64]byte
	result, err := f.t.Recv(scratch[:])
	if err != nil {
		return modbus.ADU{}, modbus.StatusTransport
	}
	if result.N > 0 {
		f.rx.Write(scratch[:result.N])
		f.lastByteAt = now
		f.haveLastByte = true
		f.rxState = RxInFrame
		return modbus.ADU{}, modbus.StatusTimeout
	}

	if f.rxState != RxInFrame || f.rx.IsEmpty() {
		return modbus.ADU{}, modbus.StatusTimeout
	}
	if !f.haveLastByte || now-f.lastByteAt < f.guard.T35.Milliseconds() {
		// Still within inter-frame gap; an inter-byte gap beyond t1.5 but
		// short of t3.5 is a framing error per spec §6.1, but since we
		// cannot distinguish "more bytes coming" from "gap" without a
		// second Recv sample, we simply keep waiting for t3.5.
		return modbus.ADU{}, modbus.StatusTimeout
	}

	f.rxState = RxComplete
	frame := make([]byte, f.rx.Len())
	f.rx.Read(frame)
	f.rx.Reset()
	f.rxState = RxIdle
	f.haveLastByte = false

	if len(frame) < MinFrameSize || len(frame) > MaxFrameSize {
		f.FramingErrors++
		return modbus.ADU{}, modbus.StatusFraming
	}
	decoded, err := DecodeADU(frame)
	if err != nil {
		f.CRCErrors++
		return modbus.ADU{}, modbus.StatusCRC
	}

	if f.dup != nil {
		h := dedupe.Hash(decoded.UnitID, decoded.PDU.FunctionCode, decoded.PDU.Data)
		if f.dup.Check(h, now) {
			f.dup.NoteDuplicate(h, now, frame)
			return modbus.ADU{}, modbus.StatusTimeout
		}
		f.dup.Add(h, now, frame)
	}

	return decoded, modbus.StatusOK
}

// BeginTx queues frame for transmission, moving the framer into TxSending.
// It returns ErrInvalidArgument if a transmission is already in progress.
func (f *Framer) BeginTx(frame []byte) error {
	if f.tx != TxIdle {
		return modbus.ErrInvalidArgument
	}
	f.tx = TxSending
	f.txFrame = frame
	f.txOffset = 0
	return nil
}

// PollTx performs one non-blocking transmit micro-step, returning true once
// the frame has been fully sent and the half-duplex turnaround guard (t3.5)
// has elapsed, per spec §4.5.
func (f *Framer) PollTx(now int64) (done bool, err error) {
	switch f.tx {
	case TxIdle:
		return true, nil
	case TxSending:
		result, sendErr := f.t.Send(f.txFrame[f.txOffset:])
		if sendErr != nil {
			f.tx = TxIdle
			return false, sendErr
		}
		f.txOffset += result.N
		if f.txOffset >= len(f.txFrame) {
			f.tx = TxDrain
			f.txDoneAt = now
		}
		return false, nil
	case TxDrain:
		f.tx = TxTurnaround
		f.txDoneAt = now
		return false, nil
	case TxTurnaround:
		guard := f.guard.T35
		if f.guard.TxTurnaround > 0 {
			guard = f.guard.TxTurnaround
		}
		if now-f.txDoneAt >= guard.Milliseconds() {
			f.tx = TxIdle
			f.txFrame = nil
			return true, nil
		}
		return false, nil
	default:
		return true, nil
	}
}

// TxInProgress reports whether a BeginTx call has not yet fully drained.
func (f *Framer) TxInProgress() bool { return f.tx != TxIdle }

// Now returns the underlying transport's monotonic millisecond clock.
func (f *Framer) Now() int64 { return f.t.Now() }

// Reset clears receive accumulation state, for use after a watchdog-forced
// error-recovery drain (spec §4.8).
func (f *Framer) Reset() {
	f.rx.Reset()
	f.rxState = RxIdle
	f.haveLastByte = false
}
