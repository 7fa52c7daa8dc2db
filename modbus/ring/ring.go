// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package ring implements a bounded single-producer/single-consumer byte
// queue, per spec §4.2. Capacity is rounded up to a power of two so the
// head/tail indices can be masked instead of modded.
package ring

// Buffer is not safe for concurrent use from more than one goroutine at a
// time on either end; callers sharing it across an ISR/task boundary must
// use AtomicBuffer instead, or provide their own synchronization (spec §5).
type Buffer struct {
	data  []byte
	mask  uint32
	head  uint32 // next write index
	tail  uint32 // next read index
	count int
}

// NewBuffer allocates a Buffer whose capacity is the next power of two
// greater than or equal to capacity (minimum 2).
func NewBuffer(capacity int) *Buffer {
	cap := nextPowerOfTwo(capacity)
	return &Buffer{
		data: make([]byte, cap),
		mask: uint32(cap - 1),
	}
}

func nextPowerOfTwo(n int) int {
	if n < 2 {
		return 2
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Cap returns the buffer's capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Len returns the number of bytes currently stored.
func (b *Buffer) Len() int { return b.count }

// Free returns the number of bytes that can still be written.
func (b *Buffer) Free() int { return len(b.data) - b.count }

// IsEmpty reports whether the buffer holds no bytes.
func (b *Buffer) IsEmpty() bool { return b.count == 0 }

// IsFull reports whether the buffer has no remaining capacity.
func (b *Buffer) IsFull() bool { return b.count == len(b.data) }

// Reset empties the buffer without changing its capacity.
func (b *Buffer) Reset() {
	b.head = 0
	b.tail = 0
	b.count = 0
}

// Write copies as many bytes from p as fit, returning the count accepted.
func (b *Buffer) Write(p []byte) int {
	n := len(p)
	if free := b.Free(); n > free {
		n = free
	}
	for i := 0; i < n; i++ {
		b.data[b.head] = p[i]
		b.head = (b.head + 1) & b.mask
	}
	b.count += n
	return n
}

// Read copies as many bytes into out as are available, returning the count
// returned.
func (b *Buffer) Read(out []byte) int {
	n := len(out)
	if n > b.count {
		n = b.count
	}
	for i := 0; i < n; i++ {
		out[i] = b.data[b.tail]
		b.tail = (b.tail + 1) & b.mask
	}
	b.count -= n
	return n
}

// PushByte writes a single byte, reporting false if the buffer is full.
func (b *Buffer) PushByte(v byte) bool {
	if b.IsFull() {
		return false
	}
	b.data[b.head] = v
	b.head = (b.head + 1) & b.mask
	b.count++
	return true
}

// PopByte reads a single byte, reporting false if the buffer is empty.
func (b *Buffer) PopByte() (byte, bool) {
	if b.IsEmpty() {
		return 0, false
	}
	v := b.data[b.tail]
	b.tail = (b.tail + 1) & b.mask
	b.count--
	return v, true
}

// Peek returns the byte at the front of the buffer without consuming it.
func (b *Buffer) Peek() (byte, bool) {
	if b.IsEmpty() {
		return 0, false
	}
	return b.data[b.tail], true
}

// PeekInto copies up to len(out) of the oldest buffered bytes into out
// without consuming them, returning the count copied.
func (b *Buffer) PeekInto(out []byte) int {
	n := len(out)
	if n > b.count {
		n = b.count
	}
	idx := b.tail
	for i := 0; i < n; i++ {
		out[i] = b.data[idx]
		idx = (idx + 1) & b.mask
	}
	return n
}
