// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"errors"
	"testing"
)

func TestIsException(t *testing.T) {
	p := ProtocolDataUnit{FunctionCode: FuncCodeReadHoldingRegisters | ExceptionBit}
	if !p.IsException() {
		t.Fatal("expected exception PDU to report IsException")
	}
	if p.RequestFunctionCode() != FuncCodeReadHoldingRegisters {
		t.Fatalf("got %#x, want %#x", p.RequestFunctionCode(), FuncCodeReadHoldingRegisters)
	}
}

func TestIsBroadcastable(t *testing.T) {
	cases := map[byte]bool{
		FuncCodeWriteSingleCoil:      true,
		FuncCodeWriteMultipleCoils:   true,
		FuncCodeReadHoldingRegisters: false,
	}
	for fc, want := range cases {
		if got := IsBroadcastable(fc); got != want {
			t.Errorf("IsBroadcastable(%#x) = %v, want %v", fc, got, want)
		}
	}
}

func TestBigEndianRoundTrip(t *testing.T) {
	buf := make([]byte, 2)
	PutUint16BE(buf, 0x1234)
	if buf[0] != 0x12 || buf[1] != 0x34 {
		t.Fatalf("unexpected bytes: %v", buf)
	}
	if Uint16BE(buf) != 0x1234 {
		t.Fatalf("round trip failed: %#x", Uint16BE(buf))
	}
}

func TestPackUnpackBits(t *testing.T) {
	values := []byte{1, 0, 1, 1, 0, 0, 0, 0, 1}
	packed := PackBits(values, len(values))
	if len(packed) != 2 {
		t.Fatalf("expected 2 packed bytes, got %d", len(packed))
	}
	if packed[0] != 0x0D { // bits 0,2,3 set => 0b00001101
		t.Fatalf("packed[0] = %#x, want 0x0D", packed[0])
	}
	unpacked := UnpackBits(packed, len(values))
	for i, v := range values {
		if unpacked[i] != v {
			t.Fatalf("bit %d: got %d, want %d", i, unpacked[i], v)
		}
	}
}

func TestErrorIs(t *testing.T) {
	err := NewError(StatusTimeout, nil)
	if err.Status != StatusTimeout {
		t.Fatalf("unexpected status %v", err.Status)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Fatal("expected errors.Is(err, ErrTimeout) to match on status")
	}
	exc := NewExceptionError(ExceptionIllegalDataValue)
	if exc.Error() == "" {
		t.Fatal("expected non-empty error string")
	}
}
