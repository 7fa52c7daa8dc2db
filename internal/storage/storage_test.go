// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package storage

import (
	"path/filepath"
	"testing"
)

func TestMemoryStoreTablesAreIndependentAndFullWidth(t *testing.T) {
	m := NewMemoryStore()
	if len(m.Coils()) != AddressSpan || len(m.Discretes()) != AddressSpan {
		t.Fatalf("bit tables must cover the full address span")
	}
	if len(m.Holding()) != AddressSpan || len(m.Input()) != AddressSpan {
		t.Fatalf("register tables must cover the full address span")
	}
	m.Holding()[10] = 0xBEEF
	if m.Holding()[10] != 0xBEEF {
		t.Fatalf("write through Holding() did not stick")
	}
	if m.Input()[10] != 0 {
		t.Fatalf("Holding and Input tables must not alias each other")
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close() = %v, want nil", err)
	}
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regions.bin")

	fs, err := OpenFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	fs.Holding()[42] = 0x1234
	fs.Coils()[7] = 1
	if err := fs.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := fs.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenFileStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if reopened.Holding()[42] != 0x1234 {
		t.Fatalf("Holding[42] = %#x after reopen, want 0x1234", reopened.Holding()[42])
	}
	if reopened.Coils()[7] != 1 {
		t.Fatalf("Coils[7] = %d after reopen, want 1", reopened.Coils()[7])
	}
}

func TestMmapStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "regions.mmap")

	ms, err := OpenMmapStore(path)
	if err != nil {
		t.Fatal(err)
	}
	ms.Input()[100] = 0x4242
	if err := ms.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenMmapStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if reopened.Input()[100] != 0x4242 {
		t.Fatalf("Input[100] = %#x after reopen, want 0x4242", reopened.Input()[100])
	}
}
