// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package ring

import "testing"

func TestBufferRoundsCapacityToPowerOfTwo(t *testing.T) {
	b := NewBuffer(5)
	if b.Cap() != 8 {
		t.Fatalf("cap = %d, want 8", b.Cap())
	}
}

func TestBufferWriteReadRoundTrip(t *testing.T) {
	b := NewBuffer(4)
	n := b.Write([]byte{1, 2, 3})
	if n != 3 {
		t.Fatalf("wrote %d, want 3", n)
	}
	if b.Len() != 3 || b.Free() != 1 {
		t.Fatalf("len=%d free=%d", b.Len(), b.Free())
	}
	out := make([]byte, 2)
	n = b.Read(out)
	if n != 2 || out[0] != 1 || out[1] != 2 {
		t.Fatalf("read %d bytes: %v", n, out)
	}
	if b.Len() != 1 {
		t.Fatalf("len after read = %d, want 1", b.Len())
	}
}

func TestBufferWriteTruncatesWhenFull(t *testing.T) {
	b := NewBuffer(2)
	n := b.Write([]byte{1, 2, 3, 4})
	if n != 2 {
		t.Fatalf("accepted %d, want 2", n)
	}
	if !b.IsFull() {
		t.Fatal("expected buffer to be full")
	}
}

func TestBufferPushPopByte(t *testing.T) {
	b := NewBuffer(2)
	if !b.PushByte(0xAA) {
		t.Fatal("expected push to succeed")
	}
	if !b.PushByte(0xBB) {
		t.Fatal("expected push to succeed")
	}
	if b.PushByte(0xCC) {
		t.Fatal("expected push into full buffer to fail")
	}
	v, ok := b.PopByte()
	if !ok || v != 0xAA {
		t.Fatalf("pop = %#x, %v", v, ok)
	}
}

func TestBufferReset(t *testing.T) {
	b := NewBuffer(4)
	b.Write([]byte{1, 2, 3})
	b.Reset()
	if !b.IsEmpty() || b.Len() != 0 {
		t.Fatal("expected buffer to be empty after reset")
	}
}

func TestBufferPeekIntoDoesNotConsume(t *testing.T) {
	b := NewBuffer(4)
	b.Write([]byte{1, 2, 3})
	peeked := make([]byte, 2)
	n := b.PeekInto(peeked)
	if n != 2 || peeked[0] != 1 || peeked[1] != 2 {
		t.Fatalf("peeked %d bytes: %v", n, peeked)
	}
	if b.Len() != 3 {
		t.Fatalf("len after peek = %d, want 3 (unchanged)", b.Len())
	}
}

func TestAtomicBufferRoundTrip(t *testing.T) {
	b := NewAtomicBuffer(4)
	for i := 0; i < 4; i++ {
		if !b.PushByte(byte(i)) {
			t.Fatalf("push %d failed", i)
		}
	}
	if b.PushByte(9) {
		t.Fatal("expected push into full buffer to fail")
	}
	for i := 0; i < 4; i++ {
		v, ok := b.PopByte()
		if !ok || v != byte(i) {
			t.Fatalf("pop %d = %v, %v", i, v, ok)
		}
	}
	if _, ok := b.PopByte(); ok {
		t.Fatal("expected pop from empty buffer to fail")
	}
}
