// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package rtu implements the RTU framing codec: silence-timer framing,
// CRC append/verify and half-duplex turnaround, per spec §4.5/§6.1. The
// guard-time derivation generalizes the teacher's transport/rtu/client.go
// calculateDelay, which already computed character/frame delays from baud
// rate for the same purpose.
package rtu

import "time"

// Parity mirrors the three values spec §6.4 allows for rtu.parity.
type Parity int

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

// GuardTimes holds the derived (or overridden) t1.5/t3.5 silence thresholds
// spec §4.5/§6.1 requires, plus the character time they're built from.
type GuardTimes struct {
	Char         time.Duration
	T15          time.Duration
	T35          time.Duration
	TxTurnaround time.Duration // optional RS-485 turnaround hint, see SPEC_FULL §6
}

// DeriveGuardTimes computes t1.5/t3.5 from baud rate and frame shape, per
// spec §4.5: t_char = (N_bits/baud) seconds, N_bits=10 for 8N1, 11 with
// parity; t1.5 = ceil(1.5*t_char); t3.5 = ceil(3.5*t_char).
func DeriveGuardTimes(baud int, parity Parity, stopBits int) GuardTimes {
	nBits := 10
	if parity != ParityNone {
		nBits = 11
	}
	_ = stopBits // stop bits beyond the first are already folded into the 10/11 convention per spec §4.5

	if baud <= 0 {
		baud = 9600
	}
	tChar := time.Duration(float64(nBits) / float64(baud) * float64(time.Second))

	return GuardTimes{
		Char: tChar,
		T15:  ceilDuration(tChar * 3 / 2),
		T35:  ceilDuration(tChar * 7 / 2),
	}
}

// ceilDuration rounds up to the next whole microsecond, keeping the guard
// times friendly to display/debug without losing the "ceil" semantics spec
// §4.5 specifies.
func ceilDuration(d time.Duration) time.Duration {
	const unit = time.Microsecond
	if d%unit == 0 {
		return d
	}
	return d + (unit - d%unit)
}

// WithOverrides returns a copy of g with any non-zero override applied, for
// rtu.t15_us/rtu.t35_us config overrides per spec §6.4.
func (g GuardTimes) WithOverrides(t15, t35 time.Duration) GuardTimes {
	if t15 > 0 {
		g.T15 = t15
	}
	if t35 > 0 {
		g.T35 = t35
	}
	return g
}
