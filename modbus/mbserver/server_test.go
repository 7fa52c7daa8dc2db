// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package mbserver

import (
	"testing"

	"github.com/lgili/modbuscore/modbus"
	"github.com/lgili/modbuscore/modbus/rtu"
	"github.com/lgili/modbuscore/modbus/transport/transporttest"
)

func newRTUPair(t *testing.T, capacity int) (clientEnd, serverEnd *transporttest.Endpoint, guard rtu.GuardTimes) {
	t.Helper()
	clientEnd, serverEnd = transporttest.NewLoopback(capacity)
	guard = rtu.DeriveGuardTimes(9600, rtu.ParityNone, 1)
	return
}

// sendAndAwait drives one RTU request/reply cycle: the client framer sends
// req, the server FSM is polled (advancing the server-side clock 1ms per
// poll, so its framer sees the t3.5 silence) until it answers, and the
// client framer reads the reply back. A well-framed exception reply is
// reported as StatusException, as mbclient reports it.
func sendAndAwait(t *testing.T, clientEnd, serverEnd *transporttest.Endpoint, clientFramer *rtu.Framer, srv *Server, guard rtu.GuardTimes, req modbus.ADU) (modbus.ADU, modbus.Status) {
	t.Helper()
	frame, err := rtu.EncodeADU(req)
	if err != nil {
		t.Fatal(err)
	}
	if err := clientFramer.BeginTx(frame); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10 && clientFramer.TxInProgress(); i++ {
		clientEnd.Advance(1)
		clientFramer.PollTx(clientEnd.Now())
	}

	started := false
	for i := 0; i < 50; i++ {
		serverEnd.Advance(1)
		srv.PollWithBudget(8)
		if srv.state != StateIdle {
			started = true
		}
		if started && srv.state == StateIdle {
			break
		}
	}

	var adu modbus.ADU
	var status modbus.Status
	for i := 0; i < 10; i++ {
		clientEnd.Advance(1)
		adu, status = clientFramer.PollRx(clientEnd.Now())
		if status == modbus.StatusOK {
			break
		}
		if i == 4 {
			clientEnd.Advance(guard.T35.Milliseconds() + 1)
		}
	}
	if status == modbus.StatusOK && adu.PDU.IsException() {
		status = modbus.StatusException
	}
	return adu, status
}

func TestServerReadHoldingRegisters(t *testing.T) {
	clientEnd, serverEnd, guard := newRTUPair(t, 256)
	clientFramer := rtu.NewFramer(clientEnd, guard, 256)
	serverFramer := rtu.NewFramer(serverEnd, guard, 256)
	srv := New(NewRTUCodec(serverFramer), 0x11)
	backing := make([]uint16, 16)
	backing[0] = 0x1234
	backing[1] = 0x5678
	if err := srv.AddStorage(0, 16, Holding, backing, false); err != nil {
		t.Fatal(err)
	}

	req := modbus.ADU{UnitID: 0x11, PDU: modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeReadHoldingRegisters,
		Data:         []byte{0x00, 0x00, 0x00, 0x02},
	}}
	resp, status := sendAndAwait(t, clientEnd, serverEnd, clientFramer, srv, guard, req)
	if status != modbus.StatusOK {
		t.Fatalf("status = %v, want OK", status)
	}
	want := []byte{0x04, 0x12, 0x34, 0x56, 0x78}
	if len(resp.PDU.Data) != len(want) {
		t.Fatalf("resp data = % x, want % x", resp.PDU.Data, want)
	}
	for i := range want {
		if resp.PDU.Data[i] != want[i] {
			t.Fatalf("resp data = % x, want % x", resp.PDU.Data, want)
		}
	}
}

func TestServerWriteSingleRegisterEchoesAndApplies(t *testing.T) {
	clientEnd, serverEnd, guard := newRTUPair(t, 256)
	clientFramer := rtu.NewFramer(clientEnd, guard, 256)
	serverFramer := rtu.NewFramer(serverEnd, guard, 256)
	srv := New(NewRTUCodec(serverFramer), 0x11)
	backing := make([]uint16, 16)
	if err := srv.AddStorage(0, 16, Holding, backing, false); err != nil {
		t.Fatal(err)
	}

	req := modbus.ADU{UnitID: 0x11, PDU: modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeWriteSingleRegister,
		Data:         []byte{0x00, 0x01, 0x00, 0x03},
	}}
	resp, status := sendAndAwait(t, clientEnd, serverEnd, clientFramer, srv, guard, req)
	if status != modbus.StatusOK {
		t.Fatalf("status = %v, want OK", status)
	}
	if len(resp.PDU.Data) != 4 || resp.PDU.Data[2] != 0x00 || resp.PDU.Data[3] != 0x03 {
		t.Fatalf("echo resp = % x", resp.PDU.Data)
	}
	if backing[1] != 0x0003 {
		t.Fatalf("backing[1] = %#x, want 0x0003", backing[1])
	}
}

func TestServerIllegalDataValueException(t *testing.T) {
	clientEnd, serverEnd, guard := newRTUPair(t, 256)
	clientFramer := rtu.NewFramer(clientEnd, guard, 256)
	serverFramer := rtu.NewFramer(serverEnd, guard, 256)
	srv := New(NewRTUCodec(serverFramer), 0x11)
	backing := make([]byte, 16)
	if err := srv.AddStorage(0, 16, Coil, backing, false); err != nil {
		t.Fatal(err)
	}

	// A write-single-coil value other than 0xFF00/0x0000 is illegal.
	req := modbus.ADU{UnitID: 0x11, PDU: modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeWriteSingleCoil,
		Data:         []byte{0x00, 0x00, 0x12, 0x34},
	}}
	resp, status := sendAndAwait(t, clientEnd, serverEnd, clientFramer, srv, guard, req)
	if status != modbus.StatusException {
		t.Fatalf("status = %v, want Exception", status)
	}
	if !resp.PDU.IsException() || resp.PDU.Data[0] != byte(modbus.ExceptionIllegalDataValue) {
		t.Fatalf("resp = %+v, want ILLEGAL_DATA_VALUE", resp.PDU)
	}
}

func TestServerUnaddressedUnitDropsSilently(t *testing.T) {
	clientEnd, serverEnd, guard := newRTUPair(t, 256)
	clientFramer := rtu.NewFramer(clientEnd, guard, 256)
	serverFramer := rtu.NewFramer(serverEnd, guard, 256)
	srv := New(NewRTUCodec(serverFramer), 0x11)
	backing := make([]uint16, 16)
	if err := srv.AddStorage(0, 16, Holding, backing, false); err != nil {
		t.Fatal(err)
	}

	req := modbus.ADU{UnitID: 0x22, PDU: modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeReadHoldingRegisters,
		Data:         []byte{0x00, 0x00, 0x00, 0x01},
	}}
	frame, err := rtu.EncodeADU(req)
	if err != nil {
		t.Fatal(err)
	}
	if err := clientFramer.BeginTx(frame); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10 && clientFramer.TxInProgress(); i++ {
		clientEnd.Advance(1)
		clientFramer.PollTx(clientEnd.Now())
	}
	for i := 0; i < 20; i++ {
		serverEnd.Advance(1)
		srv.PollWithBudget(8)
	}
	if srv.state != StateIdle {
		t.Fatalf("server state = %v, want Idle after dropping unaddressed request", srv.state)
	}

	var buf [16]byte
	clientEnd.Advance(1)
	r, _ := clientEnd.Recv(buf[:])
	if r.N != 0 {
		t.Fatalf("unexpected reply bytes for unaddressed unit: % x", buf[:r.N])
	}
}

func TestServerBroadcastAppliesWriteWithNoReply(t *testing.T) {
	clientEnd, serverEnd, guard := newRTUPair(t, 256)
	clientFramer := rtu.NewFramer(clientEnd, guard, 256)
	serverFramer := rtu.NewFramer(serverEnd, guard, 256)
	srv := New(NewRTUCodec(serverFramer), 0x11)
	backing := make([]uint16, 16)
	if err := srv.AddStorage(0, 16, Holding, backing, false); err != nil {
		t.Fatal(err)
	}

	req := modbus.ADU{UnitID: 0x00, PDU: modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeWriteSingleRegister,
		Data:         []byte{0x00, 0x02, 0x00, 0x07},
	}}
	frame, err := rtu.EncodeADU(req)
	if err != nil {
		t.Fatal(err)
	}
	if err := clientFramer.BeginTx(frame); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10 && clientFramer.TxInProgress(); i++ {
		clientEnd.Advance(1)
		clientFramer.PollTx(clientEnd.Now())
	}
	for i := 0; i < 20; i++ {
		serverEnd.Advance(1)
		srv.PollWithBudget(8)
	}
	if backing[2] != 0x0007 {
		t.Fatalf("backing[2] = %#x, want 0x0007 (broadcast write must still apply)", backing[2])
	}

	var buf [16]byte
	clientEnd.Advance(1)
	r, _ := clientEnd.Recv(buf[:])
	if r.N != 0 {
		t.Fatalf("unexpected reply bytes for a broadcast: % x", buf[:r.N])
	}
}

func TestServerListenOnlyNeverReplies(t *testing.T) {
	clientEnd, serverEnd, guard := newRTUPair(t, 256)
	clientFramer := rtu.NewFramer(clientEnd, guard, 256)
	serverFramer := rtu.NewFramer(serverEnd, guard, 256)
	srv := New(NewRTUCodec(serverFramer), 0x11)
	srv.SetListenOnly(true)
	backing := make([]uint16, 16)
	if err := srv.AddStorage(0, 16, Holding, backing, false); err != nil {
		t.Fatal(err)
	}

	req := modbus.ADU{UnitID: 0x11, PDU: modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeWriteSingleRegister,
		Data:         []byte{0x00, 0x03, 0x00, 0x09},
	}}
	frame, err := rtu.EncodeADU(req)
	if err != nil {
		t.Fatal(err)
	}
	if err := clientFramer.BeginTx(frame); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10 && clientFramer.TxInProgress(); i++ {
		clientEnd.Advance(1)
		clientFramer.PollTx(clientEnd.Now())
	}
	for i := 0; i < 20; i++ {
		serverEnd.Advance(1)
		srv.PollWithBudget(8)
	}
	if backing[3] != 0 {
		t.Fatalf("backing[3] = %#x, want unchanged (listen-only must not apply writes)", backing[3])
	}

	var buf [16]byte
	clientEnd.Advance(1)
	r, _ := clientEnd.Recv(buf[:])
	if r.N != 0 {
		t.Fatalf("unexpected reply bytes in listen-only mode: % x", buf[:r.N])
	}
}

func TestServerSuppressesDuplicateRequest(t *testing.T) {
	clientEnd, serverEnd, guard := newRTUPair(t, 256)
	clientFramer := rtu.NewFramer(clientEnd, guard, 256)
	serverFramer := rtu.NewFramer(serverEnd, guard, 256)
	srv := New(NewRTUCodec(serverFramer), 0x11)
	backing := make([]uint16, 16)

	if err := srv.AddStorage(0, 16, Holding, backing, false); err != nil {
		t.Fatal(err)
	}

	req := modbus.ADU{UnitID: 0x11, PDU: modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeWriteSingleRegister,
		Data:         []byte{0x00, 0x04, 0x00, 0x0A},
	}}

	resp, status := sendAndAwait(t, clientEnd, serverEnd, clientFramer, srv, guard, req)
	if status != modbus.StatusOK {
		t.Fatalf("first request: status = %v, want OK", status)
	}
	if backing[4] != 0x000A {
		t.Fatalf("backing[4] = %#x, want 0x000A", backing[4])
	}
	_ = resp

	// Simulate the same request arriving again (e.g. a retransmit after a
	// lost reply): the side effect must not be re-applied, and there is no
	// reply to wait for.
	backing[4] = 0x0000 // so a duplicate re-application would be observable
	frame, err := rtu.EncodeADU(req)
	if err != nil {
		t.Fatal(err)
	}
	if err := clientFramer.BeginTx(frame); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10 && clientFramer.TxInProgress(); i++ {
		clientEnd.Advance(1)
		clientFramer.PollTx(clientEnd.Now())
	}
	for i := 0; i < 20; i++ {
		serverEnd.Advance(1)
		srv.PollWithBudget(8)
	}
	if srv.state != StateIdle {
		t.Fatalf("server state = %v, want Idle after suppressing a duplicate", srv.state)
	}
	if backing[4] != 0x0000 {
		t.Fatalf("backing[4] = %#x, want 0x0000 (duplicate must not be reapplied)", backing[4])
	}
	if srv.Diagnostics().Counters.DuplicatesSuppressed == 0 {
		t.Fatalf("expected DuplicatesSuppressed to be counted")
	}

	var buf [16]byte
	clientEnd.Advance(1)
	r, _ := clientEnd.Recv(buf[:])
	if r.N != 0 {
		t.Fatalf("unexpected reply bytes for a suppressed duplicate: % x", buf[:r.N])
	}
}

func TestServerInjectADUBypassesFraming(t *testing.T) {
	_, serverEnd, guard := newRTUPair(t, 256)
	serverFramer := rtu.NewFramer(serverEnd, guard, 256)
	srv := New(NewRTUCodec(serverFramer), 0x11)
	backing := make([]uint16, 16)
	backing[5] = 0x00AA
	if err := srv.AddStorage(0, 16, Holding, backing, false); err != nil {
		t.Fatal(err)
	}

	resp, status := srv.InjectADU(modbus.ADU{UnitID: 0x11, PDU: modbus.ProtocolDataUnit{
		FunctionCode: modbus.FuncCodeReadHoldingRegisters,
		Data:         []byte{0x00, 0x05, 0x00, 0x01},
	}})
	if status != modbus.StatusOK {
		t.Fatalf("status = %v, want OK", status)
	}
	if len(resp.Data) != 3 || resp.Data[1] != 0x00 || resp.Data[2] != 0xAA {
		t.Fatalf("resp = % x, want byte_count=2 value=0x00AA", resp.Data)
	}
}
