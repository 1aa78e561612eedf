// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package chip holds the externally supplied target description session
// attach correlates against: memory map, core list, and flash algorithms.
// None of it is interpreted by this core beyond binding cores to the APs
// and ROM-table components found during attach; flash-algorithm execution
// is out of scope, and FlashAlgorithm is carried only as opaque data for an
// external flash programmer to consume.
package chip

import "fmt"

// MemoryKind classifies a MemoryRegion for the benefit of an external flash
// programmer or memory-dump tool; this core treats all kinds identically.
type MemoryKind int

const (
	MemoryKindGeneric MemoryKind = iota
	MemoryKindRAM
	MemoryKindFlash
)

func (k MemoryKind) String() string {
	switch k {
	case MemoryKindRAM:
		return "ram"
	case MemoryKindFlash:
		return "flash"
	default:
		return "generic"
	}
}

// MemoryRegion is one named address range in the target's memory map.
type MemoryRegion struct {
	Name  string
	Start uint64
	End   uint64 // exclusive
	Kind  MemoryKind
	// ErasedByte is the value a Flash region reads as once erased (0xFF on
	// nearly all NOR flash). Meaningless for non-Flash kinds.
	ErasedByte byte
}

// Size returns the region's length in bytes.
func (r MemoryRegion) Size() uint64 { return r.End - r.Start }

// Contains reports whether addr falls within the region.
func (r MemoryRegion) Contains(addr uint64) bool { return addr >= r.Start && addr < r.End }

// Core describes one debuggable core: which architecture it runs, which AP
// hosts it, and (when the ROM table does not already locate it, or there is
// no ROM table) an explicit base address to start walking from instead.
type Core struct {
	Name         string
	Architecture string
	// AP is the ADIv5 AP index (or the first ADIv6 addressing level) that
	// hosts this core's memory AP.
	AP uint8
	// ADIv6Levels, when non-empty, overrides AP with a full nested ADIv6
	// path.
	ADIv6Levels []uint8
	// RomTableBase overrides the memory AP's BASE register, for targets
	// whose ROM table is at a fixed, undiscoverable address (or that have
	// none at all).
	RomTableBase *uint64
}

// FlashAlgorithm is opaque load-address/entry-point data for an external
// flash programmer; this core never executes it.
type FlashAlgorithm struct {
	Name        string
	LoadAddress uint64
	EntryPoints map[string]uint64
}

// Description is one target's full chip description, as loaded from YAML
// or constructed programmatically.
type Description struct {
	Name            string
	MemoryRegions   []MemoryRegion
	Cores           []Core
	FlashAlgorithms []FlashAlgorithm
}

// RegionAt returns the memory region containing addr, if any.
func (d *Description) RegionAt(addr uint64) (MemoryRegion, bool) {
	for _, r := range d.MemoryRegions {
		if r.Contains(addr) {
			return r, true
		}
	}
	return MemoryRegion{}, false
}

// Validate checks the description for the structural mistakes a hand-edited
// YAML file is likely to contain: no cores, an empty core name, or a region
// with End <= Start.
func (d *Description) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("chip: description has no name")
	}
	if len(d.Cores) == 0 {
		return fmt.Errorf("chip: %s: no cores", d.Name)
	}
	for i, c := range d.Cores {
		if c.Name == "" {
			return fmt.Errorf("chip: %s: core %d has no name", d.Name, i)
		}
		if c.Architecture == "" {
			return fmt.Errorf("chip: %s: core %q has no architecture", d.Name, c.Name)
		}
	}
	for _, r := range d.MemoryRegions {
		if r.End <= r.Start {
			return fmt.Errorf("chip: %s: region %q has end <= start", d.Name, r.Name)
		}
	}
	return nil
}
