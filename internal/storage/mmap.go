// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package storage

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// MmapStore backs the four tables with a memory-mapped file, grounded on
// the teacher's MmapStorage (internal/local-slave/persistence/mmap.go)
// but mapped through github.com/edsrzf/mmap-go instead of a raw
// syscall.Mmap + unsafe.Slice pair — mmap-go already wraps the
// platform-specific mapping/unmapping/Flush calls portably, which is
// exactly what that hand-rolled syscall pair was reimplementing.
type MmapStore struct {
	file *os.File
	m    mmap.MMap
}

// OpenMmapStore opens (creating if necessary) path, sized to the fixed
// four-table layout, and maps it MAP_SHARED so writes are visible to any
// other process holding the same mapping.
func OpenMmapStore(path string) (*MmapStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != int64(totalSize) {
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("storage: resize %s: %w", path, err)
		}
	}

	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("storage: mmap %s: %w", path, err)
	}
	return &MmapStore{file: f, m: m}, nil
}

func (ms *MmapStore) Coils() []byte      { return ms.m[offsetCoils : offsetCoils+sizeCoils] }
func (ms *MmapStore) Discretes() []byte  { return ms.m[offsetDiscrete : offsetDiscrete+sizeDiscrete] }
func (ms *MmapStore) Holding() []uint16  { return bytesToUint16(ms.m[offsetHolding : offsetHolding+sizeHolding]) }
func (ms *MmapStore) Input() []uint16    { return bytesToUint16(ms.m[offsetInput : offsetInput+sizeInput]) }

// Flush requests the OS write the mapping back to disk (msync).
func (ms *MmapStore) Flush() error { return ms.m.Flush() }

// Close flushes, unmaps and closes the backing file.
func (ms *MmapStore) Close() error {
	err := ms.m.Flush()
	if uerr := ms.m.Unmap(); err == nil {
		err = uerr
	}
	if cerr := ms.file.Close(); err == nil {
		err = cerr
	}
	return err
}
