// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package mbap implements the Modbus TCP/MBAP framing codec and a
// cooperative, non-blocking receive assembler, per spec §4.6/§6.2. Grounded
// on the teacher's transport/tcp/adu.go ApplicationDataUnit codec, with the
// 7-byte MBAP header (transaction id, protocol id, length, unit id) kept
// verbatim and the length-delimited body generalized from the teacher's
// blocking io.ReadFull two-step read into a buffered state machine.
package mbap

import (
	"github.com/lgili/modbuscore/modbus"
)

// HeaderSize is the fixed MBAP header length: transaction id (2), protocol
// id (2), length (2), unit id (1).
const HeaderSize = 7

// MinFrameSize and MaxFrameSize bound a full MBAP frame (header + PDU),
// per spec §4.6.
const (
	MinFrameSize = HeaderSize + 1 // header + function code, no payload
	MaxFrameSize = HeaderSize + 1 + modbus.MaxPDUPayload
)

// Header is the 7-byte MBAP prefix, per spec §3/§4.6.
type Header struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16 // unit id + PDU byte count
	UnitID        byte
}

// ParseHeader decodes buf[:HeaderSize] into a Header. buf must be at least
// HeaderSize bytes.
func ParseHeader(buf []byte) Header {
	return Header{
		TransactionID: modbus.Uint16BE(buf[0:2]),
		ProtocolID:    modbus.Uint16BE(buf[2:4]),
		Length:        modbus.Uint16BE(buf[4:6]),
		UnitID:        buf[6],
	}
}

// PutHeader encodes h into buf[:HeaderSize].
func PutHeader(buf []byte, h Header) {
	modbus.PutUint16BE(buf[0:2], h.TransactionID)
	modbus.PutUint16BE(buf[2:4], h.ProtocolID)
	modbus.PutUint16BE(buf[4:6], h.Length)
	buf[6] = h.UnitID
}

// EncodeADU serializes tid/adu into a complete MBAP frame: header followed
// by function code and data. ProtocolID is always 0 per spec §4.6.
func EncodeADU(tid uint16, adu modbus.ADU) ([]byte, error) {
	pduLen := 1 + len(adu.PDU.Data)
	total := HeaderSize + pduLen
	if total > MaxFrameSize {
		return nil, modbus.NewError(modbus.StatusInvalidRequest, nil)
	}
	frame := make([]byte, total)
	PutHeader(frame, Header{
		TransactionID: tid,
		ProtocolID:    0,
		Length:        uint16(1 + pduLen), // unit id + PDU, per spec §4.6
		UnitID:        adu.UnitID,
	})
	frame[HeaderSize] = adu.PDU.FunctionCode
	copy(frame[HeaderSize+1:], adu.PDU.Data)
	return frame, nil
}

// DecodeADU splits a complete MBAP frame into its transaction id and ADU.
func DecodeADU(frame []byte) (uint16, modbus.ADU, error) {
	if len(frame) < MinFrameSize {
		return 0, modbus.ADU{}, modbus.NewError(modbus.StatusFraming, nil)
	}
	h := ParseHeader(frame)
	if h.ProtocolID != 0 {
		return 0, modbus.ADU{}, modbus.NewError(modbus.StatusFraming, nil)
	}
	return h.TransactionID, modbus.ADU{
		UnitID: h.UnitID,
		PDU: modbus.ProtocolDataUnit{
			FunctionCode: frame[HeaderSize],
			Data:         frame[HeaderSize+1:],
		},
	}, nil
}
