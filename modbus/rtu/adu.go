// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"github.com/lgili/modbuscore/modbus"
	"github.com/lgili/modbuscore/modbus/crc"
)

// MinFrameSize and MaxFrameSize bound a valid RTU frame per spec §4.5:
// [unit_id, fc, payload(0..252), crc_lo, crc_hi].
const (
	MinFrameSize = 4
	MaxFrameSize = 256
)

// EncodeADU serializes adu as unit_id|function|payload|crc_lo|crc_hi, the
// CRC appended low byte first per spec §3/§6.1. Grounded on the teacher's
// transport/rtu/adu.go Encode.
func EncodeADU(adu modbus.ADU) ([]byte, error) {
	length := len(adu.PDU.Data) + 4
	if length > MaxFrameSize {
		return nil, modbus.NewError(modbus.StatusInvalidRequest, nil)
	}
	frame := make([]byte, length)
	frame[0] = adu.UnitID
	frame[1] = adu.PDU.FunctionCode
	copy(frame[2:], adu.PDU.Data)

	sum := crc.Checksum(frame[:length-2])
	modbus.PutUint16LE(frame[length-2:length], sum)
	return frame, nil
}

// DecodeADU parses a complete RTU frame (CRC trailer included), validating
// length bounds and checksum. Grounded on the teacher's transport/rtu/adu.go
// Decode.
func DecodeADU(frame []byte) (modbus.ADU, error) {
	length := len(frame)
	if length < MinFrameSize || length > MaxFrameSize {
		return modbus.ADU{}, modbus.NewError(modbus.StatusFraming, nil)
	}
	if !crc.Validate(frame) {
		return modbus.ADU{}, modbus.NewError(modbus.StatusCRC, nil)
	}
	return modbus.ADU{
		UnitID: frame[0],
		PDU: modbus.ProtocolDataUnit{
			FunctionCode: frame[1],
			Data:         frame[2 : length-2],
		},
	}, nil
}
