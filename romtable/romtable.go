// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package romtable walks a CoreSight ROM-table tree starting from a
// memory-AP's BASE pointer and flattens it into the components found,
// recording each leaf's class, designer, and part number.
package romtable

import (
	"github.com/armdap/dapcore"
)

// MemReader is the narrow read surface romtable needs from a memory-AP
// engine: one aligned 32-bit word at a time. Depending on mem.Engine
// directly would pull its whole block/retry machinery into a package that
// only ever issues single-word reads of ID registers.
type MemReader interface {
	ReadWord32(addr uint64) (uint32, error)
}

// Class is a CoreSight component's class field, component-ID byte 1 bits
// 7:4.
type Class uint8

const (
	ClassROMTable            Class = 0x1
	ClassCoreSightComponent  Class = 0x9
	ClassGenericVerification Class = 0xf
)

// Component is one leaf found while walking the tree: a device, debug
// unit, or other non-ROM-table entry, keyed by its base address.
type Component struct {
	Base       uint64
	Class      Class
	Designer   dapcore.JEP106
	PartNumber uint16
}

// Walker walks CoreSight ROM tables. The zero value uses
// dapcore.DefaultLogger(); SetLogger overrides it.
type Walker struct {
	logger dapcore.Logger
}

// NewWalker returns a Walker; the MemReader it reads through is passed to
// Walk.
func NewWalker() *Walker { return &Walker{} }

// SetLogger overrides the logger used to report skipped cycles and
// malformed components.
func (w *Walker) SetLogger(l dapcore.Logger) {
	if l != nil {
		w.logger = l
	}
}

func (w *Walker) log() dapcore.Logger {
	if w.logger != nil {
		return w.logger
	}
	return dapcore.DefaultLogger()
}

// Walk starts at base and returns every leaf component found, recursing
// into nested ROM tables. A read failure aborts only the subtree it
// occurred in; a malformed component-ID preamble is reported as
// *dapcore.InvalidComponentError and that entry is skipped, not the whole
// walk. The first error encountered is also returned, alongside whatever
// components were found before it, so a caller can decide whether a
// partial walk is good enough.
func (w *Walker) Walk(r MemReader, base uint64) ([]Component, error) {
	visited := map[uint64]bool{}
	var out []Component
	var firstErr error
	w.walk(r, base, visited, &out, &firstErr)
	return out, firstErr
}

func (w *Walker) walk(r MemReader, base uint64, visited map[uint64]bool, out *[]Component, firstErr *error) {
	if visited[base] {
		w.log().Printf("romtable: cycle detected at 0x%x, skipping", base)
		return
	}
	visited[base] = true

	cid, pid, err := readIDs(r, base)
	if err != nil {
		w.noteErr(firstErr, err)
		return
	}
	class, ok := decodeCIDClass(cid)
	if !ok {
		w.log().Printf("romtable: invalid component-ID preamble at 0x%x, skipping", base)
		w.noteErr(firstErr, &dapcore.InvalidComponentError{Base: base})
		return
	}

	if class == ClassROMTable {
		w.walkChildren(r, base, visited, out, firstErr)
		return
	}

	designer, part := decodePID(pid)
	*out = append(*out, Component{
		Base:       base,
		Class:      class,
		Designer:   designer,
		PartNumber: part,
	})
}

func (w *Walker) walkChildren(r MemReader, base uint64, visited map[uint64]bool, out *[]Component, firstErr *error) {
	for offset := uint64(0); offset < 0xf00; offset += 4 {
		entry, err := r.ReadWord32(base + offset)
		if err != nil {
			w.noteErr(firstErr, err)
			return
		}
		if entry == 0 {
			return
		}
		if entry&1 == 0 {
			continue // not present
		}
		childOffset := int64(int32(entry &^ 0xfff))
		child := uint64(int64(base) + childOffset)
		w.walk(r, child, visited, out, firstErr)
	}
}

func (w *Walker) noteErr(firstErr *error, err error) {
	if *firstErr == nil {
		*firstErr = err
	}
}

// componentIDRegs/peripheralIDRegs offsets, per the CoreSight architecture
// specification. Each register occupies a full 32-bit-aligned word on the
// bus but only its low byte is significant.
const (
	offCIDR0 = 0xff0
	offCIDR1 = 0xff4
	offCIDR2 = 0xff8
	offCIDR3 = 0xffc

	offPIDR0 = 0xfe0
	offPIDR1 = 0xfe4
	offPIDR2 = 0xfe8
	offPIDR4 = 0xfd0
)

type ids struct {
	cidr0, cidr1, cidr2, cidr3 uint8
	pidr0, pidr1, pidr2, pidr4 uint8
}

func readIDs(r MemReader, base uint64) (ids, ids, error) {
	var cid, pid ids
	var err error
	read := func(off uint64) uint8 {
		if err != nil {
			return 0
		}
		var v uint32
		v, err = r.ReadWord32(base + off)
		return uint8(v)
	}
	cid.cidr0 = read(offCIDR0)
	cid.cidr1 = read(offCIDR1)
	cid.cidr2 = read(offCIDR2)
	cid.cidr3 = read(offCIDR3)
	pid.pidr0 = read(offPIDR0)
	pid.pidr1 = read(offPIDR1)
	pid.pidr2 = read(offPIDR2)
	pid.pidr4 = read(offPIDR4)
	if err != nil {
		return ids{}, ids{}, err
	}
	return cid, pid, nil
}

// decodeCIDClass validates the component-ID preamble (byte 0 fixed at
// 0x0D, byte 1's low nibble fixed at 0, byte 2 fixed at 0x05, byte 3 fixed
// at 0xB1) and returns the class carried in byte 1's high nibble.
func decodeCIDClass(cid ids) (Class, bool) {
	if cid.cidr0 != 0x0d || cid.cidr1&0x0f != 0x00 || cid.cidr2 != 0x05 || cid.cidr3 != 0xb1 {
		return 0, false
	}
	return Class(cid.cidr1 >> 4), true
}

// decodePID extracts the JEP106 designer and 12-bit part number from a
// peripheral ID, per dapcore.DecodeJEP106's packing convention.
func decodePID(pid ids) (dapcore.JEP106, uint16) {
	continuationCount := pid.pidr4 >> 4
	identityWithParity := (pid.pidr1 & 0xf0) | (pid.pidr2 & 0x0f)
	designer := dapcore.DecodeJEP106(continuationCount, identityWithParity)
	part := uint16(pid.pidr1&0x0f)<<8 | uint16(pid.pidr0)
	return designer, part
}
