// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import "github.com/lgili/modbuscore/modbus"

// maxGatherSize bounds the synthesized scatter/gather buffer at the size of
// the largest RTU frame; a gather that does not fit (such as a full-size
// MBAP frame of up to 260 bytes) is rejected with ErrInvalidArgument.
const maxGatherSize = 256

// Iovec is one segment of a scatter/gather send.
type Iovec struct {
	Bytes []byte
}

// Gatherer is an optional Transport capability for transports that can send
// multiple segments as a single write without an intermediate copy.
type Gatherer interface {
	SendV(iovs []Iovec) (Result, error)
}

// SendGather sends iovs as a single logical write. If t implements Gatherer
// it is used directly; otherwise the segments are copied into a bounded
// stack buffer and sent with one Send call, per spec §4.3.
func SendGather(t Transport, iovs []Iovec) (Result, error) {
	if g, ok := t.(Gatherer); ok {
		return g.SendV(iovs)
	}

	var buf [maxGatherSize]byte
	n := 0
	for _, iov := range iovs {
		if n+len(iov.Bytes) > len(buf) {
			return Result{Status: modbus.StatusInvalidArgument}, modbus.ErrInvalidArgument
		}
		n += copy(buf[n:], iov.Bytes)
	}
	return t.Send(buf[:n])
}
