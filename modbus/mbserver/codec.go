// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package mbserver

import (
	"github.com/lgili/modbuscore/modbus"
	"github.com/lgili/modbuscore/modbus/mbap"
	"github.com/lgili/modbuscore/modbus/rtu"
)

// Codec bridges the server FSM to a framing layer, the mirror image of
// modbus/mbclient's Codec: instead of encoding requests and decoding
// responses, a server decodes requests and encodes responses, echoing
// back whatever transaction id (0 under RTU) the request carried.
type Codec interface {
	PollRx(now int64) (tid uint16, adu modbus.ADU, status modbus.Status)
	EncodeResponse(tid uint16, adu modbus.ADU) (frame []byte, err error)
	BeginTx(frame []byte) error
	PollTx(now int64) (bool, error)
	TxInProgress() bool
	Reset()
	Now() int64
}

type rtuCodec struct {
	framer *rtu.Framer
}

// NewRTUCodec adapts an *rtu.Framer to the server Codec contract.
func NewRTUCodec(framer *rtu.Framer) Codec { return &rtuCodec{framer: framer} }

func (c *rtuCodec) PollRx(now int64) (uint16, modbus.ADU, modbus.Status) {
	adu, status := c.framer.PollRx(now)
	return 0, adu, status
}
func (c *rtuCodec) EncodeResponse(tid uint16, adu modbus.ADU) ([]byte, error) {
	return rtu.EncodeADU(adu)
}
func (c *rtuCodec) BeginTx(frame []byte) error     { return c.framer.BeginTx(frame) }
func (c *rtuCodec) PollTx(now int64) (bool, error) { return c.framer.PollTx(now) }
func (c *rtuCodec) TxInProgress() bool             { return c.framer.TxInProgress() }
func (c *rtuCodec) Reset()                         { c.framer.Reset() }
func (c *rtuCodec) Now() int64                     { return c.framer.Now() }

type mbapCodec struct {
	framer *mbap.Framer
}

// NewMBAPCodec adapts an *mbap.Framer to the server Codec contract.
func NewMBAPCodec(framer *mbap.Framer) Codec { return &mbapCodec{framer: framer} }

func (c *mbapCodec) PollRx(now int64) (uint16, modbus.ADU, modbus.Status) {
	return c.framer.PollRx(now)
}
func (c *mbapCodec) EncodeResponse(tid uint16, adu modbus.ADU) ([]byte, error) {
	return mbap.EncodeADU(tid, adu)
}
func (c *mbapCodec) BeginTx(frame []byte) error     { return c.framer.BeginTx(frame) }
func (c *mbapCodec) PollTx(now int64) (bool, error) { return c.framer.PollTx(now) }
func (c *mbapCodec) TxInProgress() bool             { return c.framer.TxInProgress() }
func (c *mbapCodec) Reset()                         { c.framer.Reset() }
func (c *mbapCodec) Now() int64                     { return c.framer.Now() }
