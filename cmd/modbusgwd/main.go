// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Command modbusgwd is the minimal bootstrap demonstrating the library
// end to end: it loads configuration, wires a Modbus/TCP server backed by
// in-memory storage regions (storage.MemoryStore, not persisted across
// restarts), and drives it from a bare cooperative poll
// loop, mirroring the teacher's main.go (config load -> logger setup ->
// construct transports -> start -> wait for signal -> graceful shutdown)
// but without the teacher's multi-gateway routing — this is integration
// wiring to exercise the library, not a feature-rich CLI.
package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lgili/modbuscore/internal/config"
	"github.com/lgili/modbuscore/internal/storage"
	"github.com/lgili/modbuscore/modbus"
	"github.com/lgili/modbuscore/modbus/mbap/netconn"
	"github.com/lgili/modbuscore/modbus/mbserver"
	"github.com/lgili/modbuscore/modbus/tcpgate"
)

func main() {
	var configFile string
	for i, a := range os.Args[1:] {
		if a == "-config" || a == "--config" {
			if i+2 < len(os.Args) {
				configFile = os.Args[i+2]
			}
		}
	}

	cfg, err := config.Load(configFile, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)
	slog.Info("starting modbus gateway daemon", "tcp_address", cfg.TCP.Address, "unit_id", cfg.UnitID)

	store := storage.NewMemoryStore()
	defer store.Close()

	// A Region's Count is a uint16, so one region can span at most 65535
	// addresses (0..65534) even though each backing array is 65536 wide;
	// address 65535 is left unreachable by this single-region wiring.
	const regionCount = 0xFFFF

	srv := mbserver.New(nopCodec{}, cfg.UnitID)
	srv.SetTraceHex(cfg.Diag.EnableTraceHex)
	if err := srv.AddStorage(0, regionCount, mbserver.Coil, store.Coils(), false); err != nil {
		slog.Error("failed to register coil storage", "err", err)
		os.Exit(1)
	}
	if err := srv.AddStorage(0, regionCount, mbserver.Discrete, store.Discretes(), true); err != nil {
		slog.Error("failed to register discrete-input storage", "err", err)
		os.Exit(1)
	}
	if err := srv.AddStorage(0, regionCount, mbserver.Holding, store.Holding(), false); err != nil {
		slog.Error("failed to register holding-register storage", "err", err)
		os.Exit(1)
	}
	if err := srv.AddStorage(0, regionCount, mbserver.Input, store.Input(), true); err != nil {
		slog.Error("failed to register input-register storage", "err", err)
		os.Exit(1)
	}

	listener, err := net.Listen("tcp", cfg.TCP.Address)
	if err != nil {
		slog.Error("failed to listen", "address", cfg.TCP.Address, "err", err)
		os.Exit(1)
	}
	defer listener.Close()

	accepted := make(chan net.Conn, cfg.TCP.MaxConns)
	go acceptLoop(listener, accepted)

	gate := tcpgate.New(cfg.TCP.MaxConns)
	gate.SetCompleteFunc(func(slot int, adu modbus.ADU, tid uint16, status modbus.Status) {
		if status != modbus.StatusOK {
			slog.Warn("tcp connection lost", "slot", slot, "status", status)
			return
		}
		resp, respStatus := srv.InjectADU(adu)
		if respStatus == modbus.StatusTimeout {
			return // unaddressed unit or listen-only: no reply owed
		}
		replyADU := modbus.ADU{UnitID: adu.UnitID, PDU: resp}
		if err := gate.Submit(slot, replyADU, tid); err != nil {
			slog.Error("failed to submit reply", "slot", slot, "err", err)
		}
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	slog.Info("ready")
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-sigChan:
			slog.Info("shutting down")
			return
		case conn := <-accepted:
			slot, err := gate.Add(netconn.New(conn))
			if err != nil {
				slog.Warn("rejecting connection: no free slots", "remote", conn.RemoteAddr())
				conn.Close()
				continue
			}
			slog.Info("accepted connection", "slot", slot, "remote", conn.RemoteAddr())
		case <-ticker.C:
			gate.PollAll(time.Now().UnixMilli())
		}
	}
}

func acceptLoop(listener net.Listener, accepted chan<- net.Conn) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}
}

// nopCodec satisfies mbserver.Codec for the shared dispatch-only Server
// instance; its own Poll/PollWithBudget machinery is never driven since
// every request reaches it through InjectADU from a tcpgate slot instead.
type nopCodec struct{}

func (nopCodec) PollRx(now int64) (uint16, modbus.ADU, modbus.Status) {
	return 0, modbus.ADU{}, modbus.StatusTimeout
}
func (nopCodec) EncodeResponse(tid uint16, adu modbus.ADU) ([]byte, error) { return nil, nil }
func (nopCodec) BeginTx(frame []byte) error                                { return nil }
func (nopCodec) PollTx(now int64) (bool, error)                            { return true, nil }
func (nopCodec) TxInProgress() bool                                        { return false }
func (nopCodec) Reset()                                                    {}
func (nopCodec) Now() int64                                                { return time.Now().UnixMilli() }

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
