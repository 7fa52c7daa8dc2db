// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

// Function codes, per spec §4.4 and the teacher's modbus/rtu/constants.go.
const (
	FuncCodeReadCoils                 byte = 0x01
	FuncCodeReadDiscreteInputs        byte = 0x02
	FuncCodeReadHoldingRegisters      byte = 0x03
	FuncCodeReadInputRegisters        byte = 0x04
	FuncCodeWriteSingleCoil           byte = 0x05
	FuncCodeWriteSingleRegister       byte = 0x06
	FuncCodeWriteMultipleCoils        byte = 0x0F
	FuncCodeWriteMultipleRegisters    byte = 0x10
	FuncCodeMaskWriteRegister         byte = 0x16
	FuncCodeReadWriteMultipleRegisters byte = 0x17
	FuncCodeReadFIFOQueue             byte = 0x18
	FuncCodeReadDeviceIdentification  byte = 0x2B

	// ExceptionBit is OR'd into the request FC to mark an exception reply.
	ExceptionBit byte = 0x80
)

// ExceptionCode enumerates the Modbus exception reasons a server may return.
type ExceptionCode byte

const (
	ExceptionIllegalFunction         ExceptionCode = 1
	ExceptionIllegalDataAddress      ExceptionCode = 2
	ExceptionIllegalDataValue        ExceptionCode = 3
	ExceptionServerFailure           ExceptionCode = 4
	ExceptionAcknowledge             ExceptionCode = 5
	ExceptionServerBusy              ExceptionCode = 6
	ExceptionMemoryParity            ExceptionCode = 8
	ExceptionGatewayPathUnavailable  ExceptionCode = 10
	ExceptionGatewayTargetNoResponse ExceptionCode = 11
)

func (c ExceptionCode) String() string {
	switch c {
	case ExceptionIllegalFunction:
		return "ILLEGAL_FUNCTION"
	case ExceptionIllegalDataAddress:
		return "ILLEGAL_DATA_ADDRESS"
	case ExceptionIllegalDataValue:
		return "ILLEGAL_DATA_VALUE"
	case ExceptionServerFailure:
		return "SERVER_FAILURE"
	case ExceptionAcknowledge:
		return "ACKNOWLEDGE"
	case ExceptionServerBusy:
		return "SERVER_BUSY"
	case ExceptionMemoryParity:
		return "MEMORY_PARITY"
	case ExceptionGatewayPathUnavailable:
		return "GATEWAY_PATH_UNAVAILABLE"
	case ExceptionGatewayTargetNoResponse:
		return "GATEWAY_TARGET_NO_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// MaxPDUPayload is the largest payload a PDU may carry (Modbus spec, §3).
const MaxPDUPayload = 253

// ProtocolDataUnit is function_code + payload, the unit the codec layer
// builds and parses. Data never includes the function code byte.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// IsException reports whether this PDU is an exception reply.
func (p ProtocolDataUnit) IsException() bool {
	return p.FunctionCode&ExceptionBit != 0
}

// RequestFunctionCode strips the exception bit, returning the FC the
// original request used.
func (p ProtocolDataUnit) RequestFunctionCode() byte {
	return p.FunctionCode &^ ExceptionBit
}

// ADU is an immutable, non-owning view of a request or response body:
// unit id, function code and payload, without any framing envelope.
type ADU struct {
	UnitID byte
	PDU    ProtocolDataUnit
}

// IsBroadcast reports whether this ADU addresses unit 0 (RTU broadcast).
func (a ADU) IsBroadcast() bool { return a.UnitID == 0 }

// broadcastFuncCodes lists write-class function codes eligible for
// broadcast delivery, per spec §3 "Invariants".
var broadcastFuncCodes = map[byte]bool{
	FuncCodeWriteSingleCoil:        true,
	FuncCodeWriteSingleRegister:    true,
	FuncCodeWriteMultipleCoils:     true,
	FuncCodeWriteMultipleRegisters: true,
	FuncCodeMaskWriteRegister:      true,
}

// IsBroadcastable reports whether fc may legally be sent to unit 0.
func IsBroadcastable(fc byte) bool { return broadcastFuncCodes[fc] }
