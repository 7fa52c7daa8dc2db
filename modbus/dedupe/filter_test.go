// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package dedupe

import "testing"

func TestHashIsStableForIdenticalInputs(t *testing.T) {
	a := Hash(0x11, 0x06, []byte{0x00, 0x04, 0x00, 0x0A})
	b := Hash(0x11, 0x06, []byte{0x00, 0x04, 0x00, 0x0A})
	if a != b {
		t.Fatalf("Hash must be deterministic: %#x != %#x", a, b)
	}

	c := Hash(0x11, 0x06, []byte{0x00, 0x04, 0x00, 0x0B})
	if a == c {
		t.Fatalf("Hash should differ for differing payloads (not required, but expected here)")
	}
}

func TestCheckFindsDuplicateWithinWindow(t *testing.T) {
	f := New(4, 1000)
	h := Hash(0x11, 0x06, []byte{0x00, 0x04, 0x00, 0x0A})

	if f.Check(h, 0) {
		t.Fatalf("Check must report false before anything is Add'ed")
	}
	f.Add(h, 0, []byte{0x00, 0x04, 0x00, 0x0A})

	if !f.Check(h, 10) {
		t.Fatalf("Check must report true for a hash seen within the window")
	}
}

func TestCheckAgesOutOldEntries(t *testing.T) {
	f := New(4, 100)
	h := Hash(0x11, 0x06, []byte{0x00, 0x04, 0x00, 0x0A})
	f.Add(h, 0, []byte{0x00, 0x04, 0x00, 0x0A})

	if !f.Check(h, 50) {
		t.Fatalf("entry should still be live at age 50ms (window 100ms)")
	}
	if f.Check(h, 500) {
		t.Fatalf("entry should have aged out by 500ms (window 100ms)")
	}
}

func TestNoteDuplicateCountsFalsePositiveOnDifferingFrame(t *testing.T) {
	f := New(4, 1000)
	h := Hash(0x11, 0x06, []byte{0x00, 0x04, 0x00, 0x0A})
	f.Add(h, 0, []byte{0x00, 0x04, 0x00, 0x0A})

	f.NoteDuplicate(h, 10, []byte{0x00, 0x04, 0x00, 0x0A})
	if f.DuplicatesFound != 1 || f.FalsePositives != 0 {
		t.Fatalf("identical frame: DuplicatesFound=%d FalsePositives=%d, want 1/0", f.DuplicatesFound, f.FalsePositives)
	}

	f.NoteDuplicate(h, 20, []byte{0x00, 0x04, 0x00, 0x0B})
	if f.DuplicatesFound != 2 || f.FalsePositives != 1 {
		t.Fatalf("differing frame, same hash: DuplicatesFound=%d FalsePositives=%d, want 2/1", f.DuplicatesFound, f.FalsePositives)
	}
}

func TestWindowEvictsOldestWhenFull(t *testing.T) {
	f := New(2, 10000)
	h1 := Hash(0x01, 0x03, nil)
	h2 := Hash(0x02, 0x03, nil)
	h3 := Hash(0x03, 0x03, nil)

	f.Add(h1, 0, nil)
	f.Add(h2, 1, nil)
	f.Add(h3, 2, nil) // window size 2: evicts h1, the oldest

	if f.Check(h1, 3) {
		t.Fatalf("h1 should have been evicted to make room for h3")
	}
	if !f.Check(h2, 3) || !f.Check(h3, 3) {
		t.Fatalf("h2 and h3 should both still be tracked")
	}
}

func TestClearEmptiesTheWindow(t *testing.T) {
	f := New(4, 1000)
	h := Hash(0x11, 0x06, []byte{0x00, 0x04, 0x00, 0x0A})
	f.Add(h, 0, []byte{0x00, 0x04, 0x00, 0x0A})
	f.Clear()

	if f.Check(h, 1) {
		t.Fatalf("Check must report false after Clear")
	}
}
