// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package storage provides backing-array providers for mbserver.Region,
// generalizing the teacher's internal/local-slave/persistence package
// (memory/file/mmap DataModel backing) from one hardcoded full-address-space
// model into reusable slices a caller carves into regions via
// mbserver.Server.AddStorage.
package storage

import "unsafe"

// AddressSpan is the full Modbus address width covered by one table, per
// spec §3: addresses run 0..65535.
const AddressSpan = 1 << 16

const (
	sizeCoils    = AddressSpan     // one byte per bit, per mbserver.Region's Coil/Discrete convention
	sizeDiscrete = AddressSpan
	sizeHolding  = AddressSpan * 2 // two bytes per register
	sizeInput    = AddressSpan * 2

	offsetCoils    = 0
	offsetDiscrete = offsetCoils + sizeCoils
	offsetHolding  = offsetDiscrete + sizeDiscrete
	offsetInput    = offsetHolding + sizeHolding
	totalSize      = offsetInput + sizeInput
)

// Store exposes the four backing arrays mbserver.Region binds to, plus
// Close for stores that hold an OS resource (file descriptor, mapping).
type Store interface {
	Coils() []byte
	Discretes() []byte
	Holding() []uint16
	Input() []uint16
	Close() error
}

// bytesToUint16 aliases b as a []uint16 in place, so writes through the
// returned slice land directly in b — the same unsafe.Slice technique the
// teacher's mmap.go uses to back HoldingRegisters/InputRegisters off a
// raw mapping. Values are stored host-endian; mbserver only ever copies
// through pdu's big-endian wire (de)serializers, never compares raw bytes
// against this slice, so host endianness never becomes observable.
func bytesToUint16(b []byte) []uint16 {
	return unsafe.Slice((*uint16)(unsafe.Pointer(&b[0])), len(b)/2)
}
