// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package chip

import (
	"bytes"
	"embed"
	"fmt"
	"sort"
	"sync"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Registry is a read-only-after-construction lookup of chip descriptions by
// name: the registry itself carries no mutable per-attach state, which
// belongs entirely to session.Session. The zero value is ready to use.
type Registry struct {
	mu    sync.RWMutex
	descs map[string]*Description
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{descs: map[string]*Description{}}
}

// NewRegistryWithBuiltins returns a Registry preloaded with the
// descriptions embedded under chip/builtin.
func NewRegistryWithBuiltins() (*Registry, error) {
	r := NewRegistry()
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil, fmt.Errorf("chip: reading builtins: %w", err)
	}
	for _, e := range entries {
		data, err := builtinFS.ReadFile("builtin/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("chip: reading builtin %s: %w", e.Name(), err)
		}
		d, err := Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("chip: builtin %s: %w", e.Name(), err)
		}
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds d to the registry, keyed by d.Name. It is an error to
// register two descriptions under the same name.
func (r *Registry) Register(d *Description) error {
	if err := d.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.descs[d.Name]; ok {
		return fmt.Errorf("chip: %q is already registered", d.Name)
	}
	if r.descs == nil {
		r.descs = map[string]*Description{}
	}
	r.descs[d.Name] = d
	return nil
}

// Get looks up a description by name.
func (r *Registry) Get(name string) (*Description, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descs[name]
	return d, ok
}

// Names returns every registered name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.descs))
	for n := range r.descs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
