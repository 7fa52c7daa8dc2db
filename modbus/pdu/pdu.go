// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package pdu builds and parses the protocol-data-unit payloads for the
// function codes spec §4.4/§6.3 enumerate. Builders emit only the payload
// (the function code byte lives outside, in modbus.ProtocolDataUnit); they
// validate quantity limits and return modbus.ErrInvalidRequest on anything
// out of range, mirroring the exception-free error style the teacher's
// internal/local-slave/model package uses for its own range checks.
package pdu

import "github.com/lgili/modbuscore/modbus"

const (
	minReadBits  = 1
	maxReadBits  = 2000
	minReadRegs  = 1
	maxReadRegs  = 125
	minWriteBits = 1
	maxWriteBits = 1968
	minWriteRegs = 1
	maxWriteRegs = 123

	coilOn  = 0xFF00
	coilOff = 0x0000
)

func invalid() error { return modbus.ErrInvalidRequest }

// BuildReadRequest builds the request payload for FC 0x01/0x02/0x03/0x04:
// start(2) + count(2). bits selects the 1..2000 bit limit (coils/discretes)
// versus the 1..125 register limit (holding/input).
func BuildReadRequest(start, count uint16, bits bool) ([]byte, error) {
	lo, hi := minReadRegs, maxReadRegs
	if bits {
		lo, hi = minReadBits, maxReadBits
	}
	if int(count) < lo || int(count) > hi {
		return nil, invalid()
	}
	buf := make([]byte, 4)
	modbus.PutUint16BE(buf[0:2], start)
	modbus.PutUint16BE(buf[2:4], count)
	return buf, nil
}

// ParseReadRequest parses start(2)+count(2) back out of a read request
// payload.
func ParseReadRequest(data []byte) (start, count uint16, err error) {
	if len(data) != 4 {
		return 0, 0, invalid()
	}
	return modbus.Uint16BE(data[0:2]), modbus.Uint16BE(data[2:4]), nil
}

// BuildReadBitsResponse builds the response payload for FC 0x01/0x02:
// byte_count(1) + packed bits.
func BuildReadBitsResponse(values []byte) ([]byte, error) {
	if len(values) < 1 || len(values) > maxReadBits {
		return nil, invalid()
	}
	packed := modbus.PackBits(values, len(values))
	out := make([]byte, 1+len(packed))
	out[0] = byte(len(packed))
	copy(out[1:], packed)
	return out, nil
}

// ParseReadBitsResponse unpacks a read-coils/discretes response payload
// into one byte per bit (0 or 1). count is the number of bits requested;
// the wire format itself only carries the packed byte count, so the caller
// (which remembers its own request) supplies it.
func ParseReadBitsResponse(data []byte, count int) ([]byte, error) {
	if len(data) < 1 {
		return nil, invalid()
	}
	byteCount := int(data[0])
	if len(data) != 1+byteCount {
		return nil, invalid()
	}
	if byteCount != (count+7)/8 {
		return nil, invalid()
	}
	return modbus.UnpackBits(data[1:], count), nil
}

// BuildReadRegistersResponse builds the response payload for FC 0x03/0x04:
// byte_count(1) + count*u16.
func BuildReadRegistersResponse(values []uint16) ([]byte, error) {
	if len(values) < 1 || len(values) > maxReadRegs {
		return nil, invalid()
	}
	out := make([]byte, 1+2*len(values))
	out[0] = byte(2 * len(values))
	for i, v := range values {
		modbus.PutUint16BE(out[1+2*i:3+2*i], v)
	}
	return out, nil
}

// ParseReadRegistersResponse unpacks a read-holding/input response payload.
func ParseReadRegistersResponse(data []byte) ([]uint16, error) {
	if len(data) < 1 {
		return nil, invalid()
	}
	byteCount := int(data[0])
	if len(data) != 1+byteCount || byteCount%2 != 0 {
		return nil, invalid()
	}
	out := make([]uint16, byteCount/2)
	for i := range out {
		out[i] = modbus.Uint16BE(data[1+2*i : 3+2*i])
	}
	return out, nil
}

// BuildWriteSingleCoil builds the FC 0x05 request/echo payload:
// address(2) + value(2). value must be 0xFF00 (ON) or 0x0000 (OFF).
func BuildWriteSingleCoil(address uint16, on bool) ([]byte, error) {
	buf := make([]byte, 4)
	modbus.PutUint16BE(buf[0:2], address)
	if on {
		modbus.PutUint16BE(buf[2:4], coilOn)
	} else {
		modbus.PutUint16BE(buf[2:4], coilOff)
	}
	return buf, nil
}

// ParseWriteSingleCoil parses a FC 0x05 payload, rejecting any value other
// than 0xFF00/0x0000 per spec §4.4.
func ParseWriteSingleCoil(data []byte) (address uint16, on bool, err error) {
	if len(data) != 4 {
		return 0, false, invalid()
	}
	address = modbus.Uint16BE(data[0:2])
	value := modbus.Uint16BE(data[2:4])
	switch value {
	case coilOn:
		return address, true, nil
	case coilOff:
		return address, false, nil
	default:
		return 0, false, invalid()
	}
}

// BuildWriteSingleRegister builds the FC 0x06 request/echo payload:
// address(2) + value(2).
func BuildWriteSingleRegister(address, value uint16) ([]byte, error) {
	buf := make([]byte, 4)
	modbus.PutUint16BE(buf[0:2], address)
	modbus.PutUint16BE(buf[2:4], value)
	return buf, nil
}

// ParseWriteSingleRegister parses a FC 0x06 payload.
func ParseWriteSingleRegister(data []byte) (address, value uint16, err error) {
	if len(data) != 4 {
		return 0, 0, invalid()
	}
	return modbus.Uint16BE(data[0:2]), modbus.Uint16BE(data[2:4]), nil
}

// BuildWriteMultipleCoils builds the FC 0x0F request payload:
// start(2) + count(2) + byte_count(1) + packed bits.
func BuildWriteMultipleCoils(start uint16, values []byte) ([]byte, error) {
	count := len(values)
	if count < minWriteBits || count > maxWriteBits {
		return nil, invalid()
	}
	packed := modbus.PackBits(values, count)
	out := make([]byte, 5+len(packed))
	modbus.PutUint16BE(out[0:2], start)
	modbus.PutUint16BE(out[2:4], uint16(count))
	out[4] = byte(len(packed))
	copy(out[5:], packed)
	return out, nil
}

// ParseWriteMultipleCoilsRequest parses a FC 0x0F request payload.
func ParseWriteMultipleCoilsRequest(data []byte) (start uint16, values []byte, err error) {
	if len(data) < 5 {
		return 0, nil, invalid()
	}
	start = modbus.Uint16BE(data[0:2])
	count := modbus.Uint16BE(data[2:4])
	byteCount := int(data[4])
	if int(count) < minWriteBits || int(count) > maxWriteBits {
		return 0, nil, invalid()
	}
	if len(data) != 5+byteCount || byteCount != (int(count)+7)/8 {
		return 0, nil, invalid()
	}
	return start, modbus.UnpackBits(data[5:], int(count)), nil
}

// BuildWriteMultipleRegisters builds the FC 0x10 request payload:
// start(2) + count(2) + byte_count(1) + count*u16.
func BuildWriteMultipleRegisters(start uint16, values []uint16) ([]byte, error) {
	count := len(values)
	if count < minWriteRegs || count > maxWriteRegs {
		return nil, invalid()
	}
	out := make([]byte, 5+2*count)
	modbus.PutUint16BE(out[0:2], start)
	modbus.PutUint16BE(out[2:4], uint16(count))
	out[4] = byte(2 * count)
	for i, v := range values {
		modbus.PutUint16BE(out[5+2*i:7+2*i], v)
	}
	return out, nil
}

// ParseWriteMultipleRegistersRequest parses a FC 0x10 request payload.
func ParseWriteMultipleRegistersRequest(data []byte) (start uint16, values []uint16, err error) {
	if len(data) < 5 {
		return 0, nil, invalid()
	}
	start = modbus.Uint16BE(data[0:2])
	count := modbus.Uint16BE(data[2:4])
	byteCount := int(data[4])
	if int(count) < minWriteRegs || int(count) > maxWriteRegs {
		return 0, nil, invalid()
	}
	if len(data) != 5+byteCount || byteCount != 2*int(count) {
		return 0, nil, invalid()
	}
	out := make([]uint16, count)
	for i := range out {
		out[i] = modbus.Uint16BE(data[5+2*i : 7+2*i])
	}
	return start, out, nil
}

// BuildWriteStartCountEcho builds the FC 0x0F/0x10 response payload:
// start(2) + count(2).
func BuildWriteStartCountEcho(start, count uint16) []byte {
	out := make([]byte, 4)
	modbus.PutUint16BE(out[0:2], start)
	modbus.PutUint16BE(out[2:4], count)
	return out
}

// ParseWriteStartCountEcho parses a FC 0x0F/0x10 response payload.
func ParseWriteStartCountEcho(data []byte) (start, count uint16, err error) {
	if len(data) != 4 {
		return 0, 0, invalid()
	}
	return modbus.Uint16BE(data[0:2]), modbus.Uint16BE(data[2:4]), nil
}

// ReadWriteMultipleRequest is the decoded FC 0x17 request.
type ReadWriteMultipleRequest struct {
	ReadStart  uint16
	ReadCount  uint16
	WriteStart uint16
	WriteData  []uint16
}

// BuildReadWriteMultiple builds the FC 0x17 request payload:
// read_start(2)+read_count(2)+write_start(2)+write_count(2)+byte_count(1)+write_data.
func BuildReadWriteMultiple(req ReadWriteMultipleRequest) ([]byte, error) {
	if int(req.ReadCount) < minReadRegs || int(req.ReadCount) > maxReadRegs {
		return nil, invalid()
	}
	writeCount := len(req.WriteData)
	if writeCount < minWriteRegs || writeCount > maxWriteRegs {
		return nil, invalid()
	}
	out := make([]byte, 9+2*writeCount)
	modbus.PutUint16BE(out[0:2], req.ReadStart)
	modbus.PutUint16BE(out[2:4], req.ReadCount)
	modbus.PutUint16BE(out[4:6], req.WriteStart)
	modbus.PutUint16BE(out[6:8], uint16(writeCount))
	out[8] = byte(2 * writeCount)
	for i, v := range req.WriteData {
		modbus.PutUint16BE(out[9+2*i:11+2*i], v)
	}
	return out, nil
}

// ParseReadWriteMultipleRequest parses a FC 0x17 request payload.
func ParseReadWriteMultipleRequest(data []byte) (ReadWriteMultipleRequest, error) {
	if len(data) < 9 {
		return ReadWriteMultipleRequest{}, invalid()
	}
	readStart := modbus.Uint16BE(data[0:2])
	readCount := modbus.Uint16BE(data[2:4])
	writeStart := modbus.Uint16BE(data[4:6])
	writeCount := modbus.Uint16BE(data[6:8])
	byteCount := int(data[8])
	if int(readCount) < minReadRegs || int(readCount) > maxReadRegs {
		return ReadWriteMultipleRequest{}, invalid()
	}
	if int(writeCount) < minWriteRegs || int(writeCount) > maxWriteRegs {
		return ReadWriteMultipleRequest{}, invalid()
	}
	if len(data) != 9+byteCount || byteCount != 2*int(writeCount) {
		return ReadWriteMultipleRequest{}, invalid()
	}
	writeData := make([]uint16, writeCount)
	for i := range writeData {
		writeData[i] = modbus.Uint16BE(data[9+2*i : 11+2*i])
	}
	return ReadWriteMultipleRequest{
		ReadStart:  readStart,
		ReadCount:  readCount,
		WriteStart: writeStart,
		WriteData:  writeData,
	}, nil
}

// BuildReadWriteMultipleResponse builds the FC 0x17 response payload:
// byte_count(1) + read_data.
func BuildReadWriteMultipleResponse(readData []uint16) ([]byte, error) {
	return BuildReadRegistersResponse(readData)
}

// ParseReadWriteMultipleResponse parses a FC 0x17 response payload.
func ParseReadWriteMultipleResponse(data []byte) ([]uint16, error) {
	return ParseReadRegistersResponse(data)
}

// BuildException builds an exception reply PDU for the given request
// function code and reason, per spec §4.4/§6.3 (FC 0x80+, 1-byte payload).
func BuildException(requestFC byte, code modbus.ExceptionCode) modbus.ProtocolDataUnit {
	return modbus.ProtocolDataUnit{
		FunctionCode: requestFC | modbus.ExceptionBit,
		Data:         []byte{byte(code)},
	}
}

// ParseException parses an exception reply. ok is false if p is not an
// exception PDU, or its payload isn't exactly one byte.
func ParseException(p modbus.ProtocolDataUnit) (code modbus.ExceptionCode, ok bool) {
	if !p.IsException() || len(p.Data) != 1 {
		return 0, false
	}
	return modbus.ExceptionCode(p.Data[0]), true
}
