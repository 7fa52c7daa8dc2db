// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package mbap

import (
	"github.com/lgili/modbuscore/modbus"
	"github.com/lgili/modbuscore/modbus/ring"
	"github.com/lgili/modbuscore/modbus/transport"
)

// RxState is the receive-side assembly state. Unlike RTU's silence-timer
// framing, MBAP framing is length-prefixed: the assembler reads exactly
// HeaderSize bytes, then exactly Header.Length-1 more, per spec §4.6.
type RxState int

const (
	RxWantHeader RxState = iota
	RxWantBody
)

// Framer assembles length-delimited MBAP frames from a stream transport
// across repeated non-blocking PollRx calls, and drains queued outbound
// frames across repeated PollTx calls. One Framer serves one connection;
// modbus/tcpgate manages one Framer per accepted slot.
type Framer struct {
	t transport.Transport

	rx       *ring.Buffer
	rxState  RxState
	header   Header
	wantBody int

	txFrame  []byte
	txOffset int

	FramingErrors uint32
}

// NewFramer creates a Framer over t with rxCapacity bytes of staging.
func NewFramer(t transport.Transport, rxCapacity int) *Framer {
	if rxCapacity < MaxFrameSize {
		rxCapacity = MaxFrameSize
	}
	return &Framer{t: t, rx: ring.NewBuffer(rxCapacity)}
}

// PollRx performs one non-blocking receive micro-step, returning a decoded
// transaction id and ADU once a complete frame has been read. Status
// Timeout means "no complete frame yet, call again"; Framing means the
// header declared an impossible length and the stream was resynchronized by
// discarding it.
func (f *Framer) PollRx(now int64) (tid uint16, adu modbus.ADU, status modbus.Status) {
	var scratch [256]byte
	result, err := f.t.Recv(scratch[:])
	if err != nil {
		return 0, modbus.ADU{}, modbus.StatusTransport
	}
	if result.N > 0 {
		f.rx.Write(scratch[:result.N])
	}

	for {
		switch f.rxState {
		case RxWantHeader:
			if f.rx.Len() < HeaderSize {
				return 0, modbus.ADU{}, modbus.StatusTimeout
			}
			var hdr [HeaderSize]byte
			f.rx.PeekInto(hdr[:])
			f.header = ParseHeader(hdr[:])
			if f.header.Length == 0 || int(f.header.Length) > MaxFrameSize-HeaderSize {
				f.FramingErrors++
				f.rx.Reset()
				return 0, modbus.ADU{}, modbus.StatusFraming
			}
			f.wantBody = int(f.header.Length) - 1 // minus unit id, which stays in the header slot on the wire
			f.rxState = RxWantBody
		case RxWantBody:
			need := HeaderSize + f.wantBody
			if f.rx.Len() < need {
				return 0, modbus.ADU{}, modbus.StatusTimeout
			}
			frame := make([]byte, need)
			f.rx.Read(frame)
			f.rxState = RxWantHeader
			t, decoded, derr := DecodeADU(frame)
			if derr != nil {
				f.FramingErrors++
				return 0, modbus.ADU{}, modbus.StatusFraming
			}
			return t, decoded, modbus.StatusOK
		}
	}
}

// BeginTx queues frame for transmission.
func (f *Framer) BeginTx(frame []byte) error {
	if f.txFrame != nil {
		return modbus.ErrInvalidArgument
	}
	f.txFrame = frame
	f.txOffset = 0
	return nil
}

// PollTx performs one non-blocking send micro-step, returning true once the
// whole frame has been accepted by the transport.
func (f *Framer) PollTx(now int64) (done bool, err error) {
	if f.txFrame == nil {
		return true, nil
	}
	result, sendErr := f.t.Send(f.txFrame[f.txOffset:])
	if sendErr != nil {
		f.txFrame = nil
		return false, sendErr
	}
	f.txOffset += result.N
	if f.txOffset >= len(f.txFrame) {
		f.txFrame = nil
		return true, nil
	}
	return false, nil
}

// TxInProgress reports whether a BeginTx call has not yet fully drained.
func (f *Framer) TxInProgress() bool { return f.txFrame != nil }

// Now returns the underlying transport's monotonic millisecond clock.
func (f *Framer) Now() int64 { return f.t.Now() }

// Reset clears receive assembly state, for use after a connection reset.
func (f *Framer) Reset() {
	f.rx.Reset()
	f.rxState = RxWantHeader
}
