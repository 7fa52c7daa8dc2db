// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package ring

import "sync/atomic"

// AtomicBuffer is the synchronized variant spec §5/§9 calls for when a
// producer (e.g. an ISR-equivalent goroutine) and a consumer run on
// different execution contexts. Head and tail are updated with atomics so
// each side only ever writes its own index.
type AtomicBuffer struct {
	data []byte
	mask uint32
	head atomic.Uint32 // owned by the producer
	tail atomic.Uint32 // owned by the consumer
}

// NewAtomicBuffer allocates an AtomicBuffer with capacity rounded up to the
// next power of two.
func NewAtomicBuffer(capacity int) *AtomicBuffer {
	cap := nextPowerOfTwo(capacity)
	return &AtomicBuffer{
		data: make([]byte, cap),
		mask: uint32(cap - 1),
	}
}

func (b *AtomicBuffer) Cap() int { return len(b.data) }

func (b *AtomicBuffer) Len() int {
	return int(b.head.Load() - b.tail.Load())
}

func (b *AtomicBuffer) Free() int { return len(b.data) - b.Len() }

func (b *AtomicBuffer) IsEmpty() bool { return b.Len() == 0 }

func (b *AtomicBuffer) IsFull() bool { return b.Len() == len(b.data) }

// PushByte is safe to call from the single producer concurrently with the
// single consumer calling PopByte.
func (b *AtomicBuffer) PushByte(v byte) bool {
	head := b.head.Load()
	if int(head-b.tail.Load()) == len(b.data) {
		return false
	}
	b.data[head&b.mask] = v
	b.head.Store(head + 1)
	return true
}

// PopByte is safe to call from the single consumer concurrently with the
// single producer calling PushByte.
func (b *AtomicBuffer) PopByte() (byte, bool) {
	tail := b.tail.Load()
	if tail == b.head.Load() {
		return 0, false
	}
	v := b.data[tail&b.mask]
	b.tail.Store(tail + 1)
	return v, true
}

// Reset is not safe to call concurrently with PushByte/PopByte; it is meant
// for use before the buffer is shared across goroutines.
func (b *AtomicBuffer) Reset() {
	b.head.Store(0)
	b.tail.Store(0)
}
