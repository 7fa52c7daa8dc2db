// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package storage

// MemoryStore holds every table in plain process memory. It never
// persists anything across restarts, grounded on the teacher's
// MemoryStorage (a no-op Load/Save pair); here it is simply the cheapest
// way to get a full-width backing array for mbserver.Region when
// durability is not required.
type MemoryStore struct {
	coils     []byte
	discretes []byte
	holding   []uint16
	input     []uint16
}

// NewMemoryStore allocates zeroed tables covering the full address space.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		coils:     make([]byte, sizeCoils),
		discretes: make([]byte, sizeDiscrete),
		holding:   make([]uint16, sizeHolding/2),
		input:     make([]uint16, sizeInput/2),
	}
}

func (m *MemoryStore) Coils() []byte     { return m.coils }
func (m *MemoryStore) Discretes() []byte { return m.discretes }
func (m *MemoryStore) Holding() []uint16 { return m.holding }
func (m *MemoryStore) Input() []uint16   { return m.input }
func (m *MemoryStore) Close() error      { return nil }
