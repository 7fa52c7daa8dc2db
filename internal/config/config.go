// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package config loads the gateway's runtime configuration, generalizing
// the teacher's two config surfaces (root config.go's flat pflag/viper
// gateway config, internal/config/config.go's nested multi-gateway YAML
// config) into one Config shaped around this library's own knobs: client
// timeout/retry/watchdog/queue policy, RTU/TCP transport parameters, and
// diagnostics/dedupe tuning.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full runtime surface, per spec §6.4.
type Config struct {
	UnitID        byte          `mapstructure:"unit_id"`
	TimeoutMs     int           `mapstructure:"timeout_ms"`
	MaxRetries    int           `mapstructure:"max_retries"`
	BackoffMs     int           `mapstructure:"backoff_ms"`
	WatchdogMs    int           `mapstructure:"watchdog_ms"`
	QueueCapacity int           `mapstructure:"queue_capacity"`
	RTU           RTUConfig     `mapstructure:"rtu"`
	TCP           TCPConfig     `mapstructure:"tcp"`
	Diag          DiagConfig    `mapstructure:"diag"`
	DupFilter     DupFilterConfig `mapstructure:"dup_filter"`
	Log           LogConfig     `mapstructure:"log"`
}

// RTUConfig carries serial line parameters, per spec §4.5's guard-time
// derivation and the teacher's SerialConfig.
type RTUConfig struct {
	Device   string `mapstructure:"device"`
	BaudRate int    `mapstructure:"baud_rate"`
	Parity   string `mapstructure:"parity"` // "N", "E", "O"
	StopBits int    `mapstructure:"stop_bits"`

	// T15Us/T35Us override the 1.5/3.5 character silence thresholds that
	// rtu.DeriveGuardTimes computes with character-time math at every baud
	// rate; zero means "derive from BaudRate/Parity".
	T15Us int `mapstructure:"t15_us"`
	T35Us int `mapstructure:"t35_us"`
}

// TCPConfig carries MBAP/TCP transport parameters.
type TCPConfig struct {
	Address          string `mapstructure:"address"`
	ConnectTimeoutMs int    `mapstructure:"connect_timeout_ms"`
	RecvTimeoutMs    int    `mapstructure:"recv_timeout_ms"`
	MaxConns         int    `mapstructure:"max_conns"`
}

// DiagConfig tunes modbus/diag, per spec §4.10.
type DiagConfig struct {
	EnableTraceHex  bool `mapstructure:"enable_trace_hex"`
	IdleThresholdMs int  `mapstructure:"idle_threshold_ms"`
}

// DupFilterConfig tunes modbus/dedupe, per spec §9's opt-in response-dedupe
// open question.
type DupFilterConfig struct {
	WindowSize int `mapstructure:"window_size"`
	WindowMs   int `mapstructure:"window_ms"`
}

// LogConfig mirrors the teacher's LogConfig (level/file), ambient across
// every spec'd component regardless of which features are in scope.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Load reads configuration from configFile (or the teacher's search path
// of "./config.yaml", "$HOME/.modbusgw/config.yaml",
// "/etc/modbusgw/config.yaml" when empty), applying defaults first and
// pflag-bound CLI overrides last, exactly the precedence order the
// teacher's LoadConfig uses.
func Load(configFile string, args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	flags := pflag.NewFlagSet("modbusgwd", pflag.ContinueOnError)
	bindFlags(flags, v)
	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.modbusgw")
		v.AddConfigPath("/etc/modbusgw/")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.RTU.Parity = strings.ToUpper(cfg.RTU.Parity)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("unit_id", 1)
	v.SetDefault("timeout_ms", 200)
	v.SetDefault("max_retries", 2)
	v.SetDefault("backoff_ms", 0) // 0 per spec §9: derive from timeout_ms/2
	v.SetDefault("watchdog_ms", 1000)
	v.SetDefault("queue_capacity", 16)

	v.SetDefault("rtu.device", "/dev/ttyUSB0")
	v.SetDefault("rtu.baud_rate", 19200)
	v.SetDefault("rtu.parity", "N")
	v.SetDefault("rtu.stop_bits", 1)
	v.SetDefault("rtu.t15_us", 0)
	v.SetDefault("rtu.t35_us", 0)

	v.SetDefault("tcp.address", "0.0.0.0:502")
	v.SetDefault("tcp.connect_timeout_ms", 1000)
	v.SetDefault("tcp.recv_timeout_ms", 200)
	v.SetDefault("tcp.max_conns", 32)

	v.SetDefault("diag.enable_trace_hex", false)
	v.SetDefault("diag.idle_threshold_ms", 50)

	v.SetDefault("dup_filter.window_size", 8)
	v.SetDefault("dup_filter.window_ms", 1000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

func bindFlags(flags *pflag.FlagSet, v *viper.Viper) {
	flags.StringP("rtu.device", "p", v.GetString("rtu.device"), "Serial port device name.")
	flags.IntP("rtu.baud_rate", "s", v.GetInt("rtu.baud_rate"), "Serial port speed.")
	flags.String("rtu.parity", v.GetString("rtu.parity"), "Serial parity (N, E, O).")
	flags.Int("rtu.stop_bits", v.GetInt("rtu.stop_bits"), "Serial stop bits.")

	flags.StringP("tcp.address", "A", v.GetString("tcp.address"), "TCP listen/connect address.")
	flags.IntP("tcp.max_conns", "C", v.GetInt("tcp.max_conns"), "Maximum simultaneous TCP connections.")

	flags.IntP("timeout_ms", "W", v.GetInt("timeout_ms"), "Per-request response timeout, in milliseconds.")
	flags.IntP("max_retries", "N", v.GetInt("max_retries"), "Maximum number of retries per request.")
	flags.Int("watchdog_ms", v.GetInt("watchdog_ms"), "Client watchdog interval, in milliseconds.")

	flags.StringP("log.level", "v", v.GetString("log.level"), "Log verbosity level (debug, info, warn, error).")
	flags.StringP("log.file", "L", v.GetString("log.file"), "Log file path ('' logs to stdout).")
}

// Timeout returns TimeoutMs as a time.Duration convenience.
func (c *Config) Timeout() time.Duration { return time.Duration(c.TimeoutMs) * time.Millisecond }

// Backoff returns the effective retry backoff, applying spec §9's rule
// that BackoffMs==0 means "half the timeout".
func (c *Config) Backoff() time.Duration {
	if c.BackoffMs == 0 {
		return c.Timeout() / 2
	}
	return time.Duration(c.BackoffMs) * time.Millisecond
}

// Watchdog returns WatchdogMs as a time.Duration convenience.
func (c *Config) Watchdog() time.Duration { return time.Duration(c.WatchdogMs) * time.Millisecond }
