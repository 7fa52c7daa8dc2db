// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package mbap

import (
	"testing"

	"github.com/lgili/modbuscore/modbus"
	"github.com/lgili/modbuscore/modbus/transport/transporttest"
)

// TestFramerRoundTrip drives a full request/response cycle across a
// loopback pair, matching spec §8 scenario 4's TCP transaction-id tracking.
func TestFramerRoundTrip(t *testing.T) {
	clientEnd, serverEnd := transporttest.NewLoopback(512)
	client := NewFramer(clientEnd, 512)
	server := NewFramer(serverEnd, 512)

	adu := modbus.ADU{
		UnitID: 0x11,
		PDU: modbus.ProtocolDataUnit{
			FunctionCode: modbus.FuncCodeReadHoldingRegisters,
			Data:         []byte{0x00, 0x00, 0x00, 0x02},
		},
	}
	frame, err := EncodeADU(7, adu)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.BeginTx(frame); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4 && client.TxInProgress(); i++ {
		if _, err := client.PollTx(int64(i)); err != nil {
			t.Fatalf("PollTx: %v", err)
		}
	}

	var tid uint16
	var decoded modbus.ADU
	var status modbus.Status
	for i := 0; i < 4; i++ {
		tid, decoded, status = server.PollRx(int64(i))
		if status == modbus.StatusOK {
			break
		}
	}
	if status != modbus.StatusOK {
		t.Fatalf("server PollRx status = %v, want OK", status)
	}
	if tid != 7 || decoded.UnitID != 0x11 {
		t.Fatalf("tid=%d decoded=%+v", tid, decoded)
	}
}

// TestFramerResyncsOnImpossibleLength verifies a header declaring a length
// beyond the maximum frame size is reported as Framing and the stream is
// discarded rather than wedging the assembler forever.
func TestFramerResyncsOnImpossibleLength(t *testing.T) {
	clientEnd, serverEnd := transporttest.NewLoopback(512)
	server := NewFramer(serverEnd, 512)

	bogus := []byte{0x00, 0x01, 0x00, 0x00, 0xFF, 0xFF, 0x11, 0x03}
	if _, err := clientEnd.Send(bogus); err != nil {
		t.Fatal(err)
	}

	_, _, status := server.PollRx(0)
	if status != modbus.StatusFraming {
		t.Fatalf("status = %v, want Framing", status)
	}
	if server.FramingErrors != 1 {
		t.Fatalf("FramingErrors = %d, want 1", server.FramingErrors)
	}
}
