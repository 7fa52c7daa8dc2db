// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"testing"

	"github.com/lgili/modbuscore/modbus"
	"github.com/lgili/modbuscore/modbus/dedupe"
	"github.com/lgili/modbuscore/modbus/transport/transporttest"
)

func testGuard() GuardTimes {
	return DeriveGuardTimes(9600, ParityNone, 1)
}

// TestFramerRoundTrip drives a full send/receive cycle across a loopback
// pair: one Framer plays client (BeginTx/PollTx), the other plays server
// (PollRx), per spec §8 scenario 1's RTU framing.
func TestFramerRoundTrip(t *testing.T) {
	clientEnd, serverEnd := transporttest.NewLoopback(256)
	guard := testGuard()

	client := NewFramer(clientEnd, guard, 256)
	server := NewFramer(serverEnd, guard, 256)

	adu := modbus.ADU{
		UnitID: 0x11,
		PDU: modbus.ProtocolDataUnit{
			FunctionCode: modbus.FuncCodeReadHoldingRegisters,
			Data:         []byte{0x00, 0x00, 0x00, 0x02},
		},
	}
	frame, err := EncodeADU(adu)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.BeginTx(frame); err != nil {
		t.Fatal(err)
	}

	now := int64(0)
	for i := 0; i < 8 && client.TxInProgress(); i++ {
		clientEnd.Advance(1)
		now++
		if _, err := client.PollTx(now); err != nil {
			t.Fatalf("PollTx: %v", err)
		}
	}

	serverEnd.Advance(1)
	if got, status := server.PollRx(now); status != modbus.StatusTimeout || got.UnitID != 0 {
		t.Fatalf("expected a buffering step, got adu=%+v status=%v", got, status)
	}

	now += guard.T35.Milliseconds() + 1
	serverEnd.Advance(guard.T35.Milliseconds() + 1)
	got, status := server.PollRx(now)
	if status != modbus.StatusOK {
		t.Fatalf("PollRx status = %v, want OK", status)
	}
	if got.UnitID != 0x11 || got.PDU.FunctionCode != modbus.FuncCodeReadHoldingRegisters {
		t.Fatalf("decoded adu = %+v", got)
	}
}

// TestFramerRejectsCorruptedCRC feeds a frame with a flipped CRC byte and
// expects PollRx to report StatusCRC and count it, per spec §6.1.
func TestFramerRejectsCorruptedCRC(t *testing.T) {
	clientEnd, serverEnd := transporttest.NewLoopback(256)
	guard := testGuard()
	server := NewFramer(serverEnd, guard, 256)

	adu := modbus.ADU{
		UnitID: 0x11,
		PDU: modbus.ProtocolDataUnit{
			FunctionCode: modbus.FuncCodeWriteSingleRegister,
			Data:         []byte{0x00, 0x01, 0x00, 0x03},
		},
	}
	frame, err := EncodeADU(adu)
	if err != nil {
		t.Fatal(err)
	}
	frame[len(frame)-1] ^= 0xFF // corrupt CRC high byte

	if _, err := clientEnd.Send(frame); err != nil {
		t.Fatal(err)
	}

	now := int64(0)
	serverEnd.Advance(1)
	server.PollRx(now)

	now += guard.T35.Milliseconds() + 1
	serverEnd.Advance(guard.T35.Milliseconds() + 1)
	_, status := server.PollRx(now)
	if status != modbus.StatusCRC {
		t.Fatalf("status = %v, want CRC", status)
	}
	if server.CRCErrors != 1 {
		t.Fatalf("CRCErrors = %d, want 1", server.CRCErrors)
	}
}

// TestFramerSuppressesDuplicate verifies the installed dedupe.Filter catches
// a byte-identical retransmission within its window, per spec §4.7.
func TestFramerSuppressesDuplicate(t *testing.T) {
	clientEnd, serverEnd := transporttest.NewLoopback(256)
	guard := testGuard()
	server := NewFramer(serverEnd, guard, 256)
	server.SetDuplicateFilter(dedupe.New(dedupe.DefaultWindowSize, dedupe.DefaultWindowMs))

	adu := modbus.ADU{
		UnitID: 0x11,
		PDU: modbus.ProtocolDataUnit{
			FunctionCode: modbus.FuncCodeWriteSingleRegister,
			Data:         []byte{0x00, 0x01, 0x00, 0x03},
		},
	}
	frame, err := EncodeADU(adu)
	if err != nil {
		t.Fatal(err)
	}

	now := int64(0)
	for i := 0; i < 2; i++ {
		clientEnd.Send(frame)
		serverEnd.Advance(1)
		server.PollRx(now)
		now += guard.T35.Milliseconds() + 1
		serverEnd.Advance(guard.T35.Milliseconds() + 1)
		_, status := server.PollRx(now)
		if i == 0 {
			if status != modbus.StatusOK {
				t.Fatalf("first frame status = %v, want OK", status)
			}
		} else {
			if status != modbus.StatusTimeout {
				t.Fatalf("duplicate frame status = %v, want suppressed (Timeout)", status)
			}
			if server.dup.DuplicatesFound != 1 {
				t.Fatalf("DuplicatesFound = %d, want 1", server.dup.DuplicatesFound)
			}
		}
	}
}
