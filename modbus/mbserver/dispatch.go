// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package mbserver

import (
	"errors"

	"github.com/lgili/modbuscore/modbus"
	"github.com/lgili/modbuscore/modbus/pdu"
)

// Handler is a custom per-function-code responder, taking precedence over
// storage-region lookup, per spec §4.9's set_handler.
type Handler func(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)

// HandlerError lets a custom Handler return a specific exception code
// instead of the default SERVER_FAILURE, per spec §4.9: "Custom handler
// returning non-OK maps to SERVER_FAILURE (or a handler-supplied exception
// code)".
type HandlerError struct {
	Code modbus.ExceptionCode
}

func (e *HandlerError) Error() string { return "mbserver: handler exception " + e.Code.String() }

// dispatch runs the request against the custom handler table (if any FC
// matches) or the registered storage regions, returning the reply PDU to
// send and the status it completed with. It has no framing- or
// transport-side effects, so both the FSM's Dispatch state and InjectADU
// can call it. Grounded on the teacher's LocalSlave.Process switch
// (internal/local-slave/slave.go), generalized from direct DataModel calls
// to region lookups.
func (s *Server) dispatch(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, modbus.Status) {
	if fn, ok := s.handlers[req.FunctionCode]; ok {
		resp, err := fn(req)
		if err != nil {
			code := modbus.ExceptionServerFailure
			var herr *HandlerError
			if errors.As(err, &herr) {
				code = herr.Code
			}
			return pdu.BuildException(req.FunctionCode, code), modbus.StatusException
		}
		return resp, modbus.StatusOK
	}

	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return s.handleReadBits(req, Coil)
	case modbus.FuncCodeReadDiscreteInputs:
		return s.handleReadBits(req, Discrete)
	case modbus.FuncCodeReadHoldingRegisters:
		return s.handleReadRegs(req, Holding)
	case modbus.FuncCodeReadInputRegisters:
		return s.handleReadRegs(req, Input)
	case modbus.FuncCodeWriteSingleCoil:
		return s.handleWriteSingleCoil(req)
	case modbus.FuncCodeWriteSingleRegister:
		return s.handleWriteSingleRegister(req)
	case modbus.FuncCodeWriteMultipleCoils:
		return s.handleWriteMultipleCoils(req)
	case modbus.FuncCodeWriteMultipleRegisters:
		return s.handleWriteMultipleRegisters(req)
	default:
		return pdu.BuildException(req.FunctionCode, modbus.ExceptionIllegalFunction), modbus.StatusException
	}
}

func exception(fc byte, code modbus.ExceptionCode) (modbus.ProtocolDataUnit, modbus.Status) {
	return pdu.BuildException(fc, code), modbus.StatusException
}

func (s *Server) handleReadBits(req modbus.ProtocolDataUnit, kind RegionKind) (modbus.ProtocolDataUnit, modbus.Status) {
	addr, count, err := pdu.ParseReadRequest(req.Data)
	if err != nil {
		return exception(req.FunctionCode, modbus.ExceptionIllegalDataValue)
	}
	region, ok := s.findRegion(kind, addr, count)
	if !ok {
		return exception(req.FunctionCode, modbus.ExceptionIllegalDataAddress)
	}
	values := readBits(region, addr, count)
	respData, err := pdu.BuildReadBitsResponse(values)
	if err != nil {
		return exception(req.FunctionCode, modbus.ExceptionIllegalDataValue)
	}
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: respData}, modbus.StatusOK
}

func (s *Server) handleReadRegs(req modbus.ProtocolDataUnit, kind RegionKind) (modbus.ProtocolDataUnit, modbus.Status) {
	addr, count, err := pdu.ParseReadRequest(req.Data)
	if err != nil {
		return exception(req.FunctionCode, modbus.ExceptionIllegalDataValue)
	}
	region, ok := s.findRegion(kind, addr, count)
	if !ok {
		return exception(req.FunctionCode, modbus.ExceptionIllegalDataAddress)
	}
	values := readRegs(region, addr, count)
	respData, err := pdu.BuildReadRegistersResponse(values)
	if err != nil {
		return exception(req.FunctionCode, modbus.ExceptionIllegalDataValue)
	}
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: respData}, modbus.StatusOK
}

func (s *Server) handleWriteSingleCoil(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, modbus.Status) {
	addr, on, err := pdu.ParseWriteSingleCoil(req.Data)
	if err != nil {
		return exception(req.FunctionCode, modbus.ExceptionIllegalDataValue)
	}
	region, ok := s.findRegion(Coil, addr, 1)
	if !ok || region.ReadOnly {
		return exception(req.FunctionCode, modbus.ExceptionIllegalDataAddress)
	}
	value := byte(0)
	if on {
		value = 1
	}
	writeBits(region, addr, []byte{value})
	return req, modbus.StatusOK // echo, per spec §8 scenario 2
}

func (s *Server) handleWriteSingleRegister(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, modbus.Status) {
	addr, value, err := pdu.ParseWriteSingleRegister(req.Data)
	if err != nil {
		return exception(req.FunctionCode, modbus.ExceptionIllegalDataValue)
	}
	region, ok := s.findRegion(Holding, addr, 1)
	if !ok || region.ReadOnly {
		return exception(req.FunctionCode, modbus.ExceptionIllegalDataAddress)
	}
	writeRegs(region, addr, []uint16{value})
	return req, modbus.StatusOK
}

func (s *Server) handleWriteMultipleCoils(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, modbus.Status) {
	addr, values, err := pdu.ParseWriteMultipleCoilsRequest(req.Data)
	if err != nil {
		return exception(req.FunctionCode, modbus.ExceptionIllegalDataValue)
	}
	count := uint16(len(values))
	region, ok := s.findRegion(Coil, addr, count)
	if !ok || region.ReadOnly {
		return exception(req.FunctionCode, modbus.ExceptionIllegalDataAddress)
	}
	// Validate-before-apply is implicit: findRegion already confirmed the
	// whole range is covered, so the single copy below can never partially
	// apply, per spec §4.9's atomicity rule.
	writeBits(region, addr, values)
	respData := pdu.BuildWriteStartCountEcho(addr, count)
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: respData}, modbus.StatusOK
}

func (s *Server) handleWriteMultipleRegisters(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, modbus.Status) {
	addr, values, err := pdu.ParseWriteMultipleRegistersRequest(req.Data)
	if err != nil {
		return exception(req.FunctionCode, modbus.ExceptionIllegalDataValue)
	}
	count := uint16(len(values))
	region, ok := s.findRegion(Holding, addr, count)
	if !ok || region.ReadOnly {
		return exception(req.FunctionCode, modbus.ExceptionIllegalDataAddress)
	}
	writeRegs(region, addr, values)
	respData := pdu.BuildWriteStartCountEcho(addr, count)
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: respData}, modbus.StatusOK
}
