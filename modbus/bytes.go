// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

// Big-endian helpers matching the teacher's own hand-written byte shifting
// in transport/tcp/adu.go and transport/rtu/adu.go (the teacher never
// reaches for encoding/binary for these, so neither do we). Callers must
// guarantee bounds; these never check len(b).

// PutUint16BE writes v into b[0:2], high byte first.
func PutUint16BE(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

// Uint16BE reads a big-endian uint16 from b[0:2].
func Uint16BE(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

// PutUint16LE writes v into b[0:2], low byte first. Used only for the RTU
// CRC trailer, which is the sole little-endian field on the wire.
func PutUint16LE(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

// Uint16LE reads a little-endian uint16 from b[0:2].
func Uint16LE(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

// PackBits packs up to count booleans (taken from values, one byte each,
// non-zero = ON) into Modbus' LSB-first coil/discrete wire format.
func PackBits(values []byte, count int) []byte {
	byteCount := (count + 7) / 8
	out := make([]byte, byteCount)
	for i := 0; i < count; i++ {
		if values[i] != 0 {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// UnpackBits expands count bits from Modbus' LSB-first packed format into
// one byte per bit (0 or 1).
func UnpackBits(packed []byte, count int) []byte {
	out := make([]byte, count)
	for i := 0; i < count; i++ {
		if packed[i/8]&(1<<uint(i%8)) != 0 {
			out[i] = 1
		}
	}
	return out
}
