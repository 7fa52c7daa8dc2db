// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package mbclient

import (
	"github.com/lgili/modbuscore/modbus"
	"github.com/lgili/modbuscore/modbus/mbap"
	"github.com/lgili/modbuscore/modbus/rtu"
)

// Codec bridges the client FSM to a framing layer, hiding the
// transaction-id bookkeeping TCP/MBAP needs but RTU does not (RTU only
// ever has one request in flight, matched positionally).
type Codec interface {
	// EncodeRequest builds a wire frame for adu, returning the tid to
	// track for response matching (always 0 under RTU).
	EncodeRequest(adu modbus.ADU) (frame []byte, tid uint16, err error)
	BeginTx(frame []byte) error
	PollTx(now int64) (bool, error)
	TxInProgress() bool
	// PollRx returns a decoded response ADU and the tid it carried (0 for
	// RTU) once one has fully arrived.
	PollRx(now int64) (tid uint16, adu modbus.ADU, status modbus.Status)
	Reset()
	// Now returns the underlying transport's monotonic millisecond clock.
	Now() int64
}

type rtuCodec struct {
	framer *rtu.Framer
}

// NewRTUCodec adapts an *rtu.Framer to the Codec contract.
func NewRTUCodec(framer *rtu.Framer) Codec { return &rtuCodec{framer: framer} }

func (c *rtuCodec) EncodeRequest(adu modbus.ADU) ([]byte, uint16, error) {
	frame, err := rtu.EncodeADU(adu)
	return frame, 0, err
}
func (c *rtuCodec) BeginTx(frame []byte) error     { return c.framer.BeginTx(frame) }
func (c *rtuCodec) PollTx(now int64) (bool, error) { return c.framer.PollTx(now) }
func (c *rtuCodec) TxInProgress() bool             { return c.framer.TxInProgress() }
func (c *rtuCodec) PollRx(now int64) (uint16, modbus.ADU, modbus.Status) {
	adu, status := c.framer.PollRx(now)
	return 0, adu, status
}
func (c *rtuCodec) Reset()         { c.framer.Reset() }
func (c *rtuCodec) Now() int64     { return c.framer.Now() }

type mbapCodec struct {
	framer  *mbap.Framer
	nextTID uint32
}

// NewMBAPCodec adapts an *mbap.Framer to the Codec contract, allocating a
// monotonically incrementing transaction id per request.
func NewMBAPCodec(framer *mbap.Framer) Codec { return &mbapCodec{framer: framer} }

func (c *mbapCodec) EncodeRequest(adu modbus.ADU) ([]byte, uint16, error) {
	c.nextTID++
	tid := uint16(c.nextTID)
	frame, err := mbap.EncodeADU(tid, adu)
	return frame, tid, err
}
func (c *mbapCodec) BeginTx(frame []byte) error     { return c.framer.BeginTx(frame) }
func (c *mbapCodec) PollTx(now int64) (bool, error) { return c.framer.PollTx(now) }
func (c *mbapCodec) TxInProgress() bool             { return c.framer.TxInProgress() }
func (c *mbapCodec) PollRx(now int64) (uint16, modbus.ADU, modbus.Status) {
	return c.framer.PollRx(now)
}
func (c *mbapCodec) Reset()     { c.framer.Reset() }
func (c *mbapCodec) Now() int64 { return c.framer.Now() }
