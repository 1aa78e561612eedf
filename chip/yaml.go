// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package chip

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlDoc mirrors Description's on-disk shape. Kept separate from
// Description so the on-disk format (a string for kind, a size instead of
// an end address) can evolve
// independently of the in-memory model the rest of the module consumes.
type yamlDoc struct {
	Name    string `yaml:"name"`
	Memory  []struct {
		Name       string `yaml:"name"`
		Start      uint64 `yaml:"start"`
		Size       uint64 `yaml:"size"`
		Kind       string `yaml:"kind"`
		ErasedByte *uint8 `yaml:"erased_byte"`
	} `yaml:"memory"`
	Cores []struct {
		Name         string   `yaml:"name"`
		Architecture string   `yaml:"architecture"`
		AP           uint8    `yaml:"ap"`
		ADIv6Levels  []uint8  `yaml:"adiv6_levels"`
		RomTableBase *uint64  `yaml:"rom_table_base"`
	} `yaml:"cores"`
	FlashAlgorithms []struct {
		Name        string            `yaml:"name"`
		LoadAddress uint64            `yaml:"load_address"`
		EntryPoints map[string]uint64 `yaml:"entry_points"`
	} `yaml:"flash_algorithms"`
}

func memoryKindFromString(s string) (MemoryKind, error) {
	switch s {
	case "", "generic":
		return MemoryKindGeneric, nil
	case "ram":
		return MemoryKindRAM, nil
	case "flash":
		return MemoryKindFlash, nil
	default:
		return 0, fmt.Errorf("chip: unknown memory region kind %q", s)
	}
}

// Decode parses a chip description from YAML: a name, a list of memory
// regions, a list of cores, and a list of flash algorithms. It validates the
// result before returning it.
func Decode(r io.Reader) (*Description, error) {
	var doc yamlDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("chip: decode: %w", err)
	}

	d := &Description{Name: doc.Name}
	for _, m := range doc.Memory {
		kind, err := memoryKindFromString(m.Kind)
		if err != nil {
			return nil, err
		}
		erased := byte(0xff)
		if m.ErasedByte != nil {
			erased = *m.ErasedByte
		}
		d.MemoryRegions = append(d.MemoryRegions, MemoryRegion{
			Name:       m.Name,
			Start:      m.Start,
			End:        m.Start + m.Size,
			Kind:       kind,
			ErasedByte: erased,
		})
	}
	for _, c := range doc.Cores {
		d.Cores = append(d.Cores, Core{
			Name:         c.Name,
			Architecture: c.Architecture,
			AP:           c.AP,
			ADIv6Levels:  c.ADIv6Levels,
			RomTableBase: c.RomTableBase,
		})
	}
	for _, f := range doc.FlashAlgorithms {
		d.FlashAlgorithms = append(d.FlashAlgorithms, FlashAlgorithm{
			Name:        f.Name,
			LoadAddress: f.LoadAddress,
			EntryPoints: f.EntryPoints,
		})
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// LoadFile reads and decodes a chip description from a YAML file on disk.
func LoadFile(path string) (*Description, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("chip: %w", err)
	}
	defer f.Close()
	return Decode(f)
}
