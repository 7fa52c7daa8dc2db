// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package mbserver

import "github.com/lgili/modbuscore/modbus"

// RegionKind is the Modbus data-table a Region backs, per spec §3's
// "server storage region" data model.
type RegionKind int

const (
	Coil RegionKind = iota
	Discrete
	Holding
	Input
)

func (k RegionKind) String() string {
	switch k {
	case Coil:
		return "COIL"
	case Discrete:
		return "DISCRETE"
	case Holding:
		return "HOLDING"
	case Input:
		return "INPUT"
	default:
		return "UNKNOWN"
	}
}

// Region binds a half-open address range [Start, Start+Count) to a backing
// array, generalizing the teacher's flat, full-address-space DataModel
// (internal/local-slave/model/model.go) into the arbitrary, possibly
// sparse region table spec §3/§4.9 requires. Coil/Discrete regions are
// backed by []byte, one element per bit (0 or 1, matching modbus.PackBits'
// input convention); Holding/Input regions are backed by []uint16.
type Region struct {
	Start, Count uint16
	Kind         RegionKind
	ReadOnly     bool
	Backing      interface{}
}

func (r Region) covers(addr, count uint16) bool {
	if count == 0 {
		return false
	}
	end := uint32(addr) + uint32(count)
	rEnd := uint32(r.Start) + uint32(r.Count)
	return uint32(addr) >= uint32(r.Start) && end <= rEnd
}

func (r Region) overlaps(o Region) bool {
	aEnd := uint32(r.Start) + uint32(r.Count)
	bEnd := uint32(o.Start) + uint32(o.Count)
	return uint32(r.Start) < bEnd && uint32(o.Start) < aEnd
}

func (r Region) bits() []byte    { return r.Backing.([]byte) }
func (r Region) regs() []uint16  { return r.Backing.([]uint16) }

// findRegion returns the first registered region of kind that fully covers
// [addr, addr+count), per spec §4.9's "region of the right kind" rule.
// Region counts are small (typically <= 8), so a linear scan is adequate,
// mirroring the teacher's own preference for simple scans over index
// structures at this scale.
func (s *Server) findRegion(kind RegionKind, addr, count uint16) (*Region, bool) {
	for i := range s.regions {
		r := &s.regions[i]
		if r.Kind == kind && r.covers(addr, count) {
			return r, true
		}
	}
	return nil, false
}

// readBits copies count bits starting at addr out of r into one-byte-per-bit
// form (0 or 1), the convention modbus/pdu's response builders expect.
func readBits(r *Region, addr, count uint16) []byte {
	src := r.bits()
	off := addr - r.Start
	out := make([]byte, count)
	copy(out, src[off:off+count])
	return out
}

// writeBits applies count one-byte-per-bit values into r starting at addr.
func writeBits(r *Region, addr uint16, values []byte) {
	dst := r.bits()
	off := addr - r.Start
	copy(dst[off:off+uint16(len(values))], values)
}

// readRegs copies count registers starting at addr out of r.
func readRegs(r *Region, addr, count uint16) []uint16 {
	src := r.regs()
	off := addr - r.Start
	out := make([]uint16, count)
	copy(out, src[off:off+count])
	return out
}

// writeRegs applies values into r starting at addr.
func writeRegs(r *Region, addr uint16, values []uint16) {
	dst := r.regs()
	off := addr - r.Start
	copy(dst[off:off+uint16(len(values))], values)
}

// AddStorage registers a new region, rejecting one that overlaps an
// existing region of the same kind, per spec §4.9's "overlaps rejected".
func (s *Server) AddStorage(start, count uint16, kind RegionKind, backing interface{}, readOnly bool) error {
	r := Region{Start: start, Count: count, Kind: kind, ReadOnly: readOnly, Backing: backing}
	for _, existing := range s.regions {
		if existing.Kind == kind && existing.overlaps(r) {
			return modbus.NewError(modbus.StatusInvalidArgument, nil)
		}
	}
	s.regions = append(s.regions, r)
	return nil
}
