// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// A prerequisite-staged, concurrently-loaded registry of reset-sequence
// providers, keyed by architecture name. A vendor sequence package
// registers itself in its package init() by calling
// dapcore.MustRegisterSequence(); session.Attach() calls
// dapcore.InitSequences() once and then looks sequences up by name from the
// chip description.

package dapcore

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// SequenceFailure is a provider that wasn't loaded, either because it was
// skipped or because it failed to load.
type SequenceFailure struct {
	P   SequenceProvider
	Err error
}

func (f SequenceFailure) String() string { return fmt.Sprintf("%s: %v", f.P, f.Err) }

// SequenceState is the result of InitSequences: every provider partitioned
// by outcome, each list sorted by name.
type SequenceState struct {
	Loaded  []SequenceProvider
	Skipped []SequenceFailure
	Failed  []SequenceFailure
}

var (
	seqMu     sync.Mutex
	allSeqs   []SequenceProvider
	seqByName = map[string]SequenceProvider{}
	seqState  *SequenceState
)

// RegisterSequence registers a reset-sequence provider to be initialized by
// InitSequences. p.String() must be unique across all registered providers.
// It is an error to call RegisterSequence after InitSequences was called.
func RegisterSequence(p SequenceProvider) error {
	seqMu.Lock()
	defer seqMu.Unlock()
	if seqState != nil {
		return errors.New("dapcore: can't call RegisterSequence() after InitSequences()")
	}
	n := p.String()
	if _, ok := seqByName[n]; ok {
		return fmt.Errorf("dapcore: sequence provider with same name %q was already registered", n)
	}
	seqByName[n] = p
	allSeqs = append(allSeqs, p)
	return nil
}

// MustRegisterSequence calls RegisterSequence and panics if registration
// fails. This is the function to call from a vendor sequence package's
// init().
func MustRegisterSequence(p SequenceProvider) {
	if err := RegisterSequence(p); err != nil {
		panic(err)
	}
}

// InitSequences initializes all registered sequence providers, respecting
// the prerequisite graph, concurrently within each stage. It is safe to call
// multiple times; the result of the first successful call is cached and
// returned again, while a call that fails caches nothing.
func InitSequences() (*SequenceState, error) {
	seqMu.Lock()
	defer seqMu.Unlock()
	if seqState != nil {
		return seqState, nil
	}
	st := &SequenceState{}
	stages, err := explodeSeqStages(allSeqs)
	if err != nil {
		return st, err
	}
	loaded := map[string]struct{}{}
	for _, stage := range stages {
		loadSeqStage(stage, loaded, st)
	}
	sort.Sort(seqProviders(st.Loaded))
	sort.Sort(seqFailures(st.Skipped))
	sort.Sort(seqFailures(st.Failed))
	seqState = st
	return seqState, nil
}

// LookupSequence returns the successfully-loaded provider registered under
// name. It must be called after InitSequences.
func LookupSequence(name string) (SequenceProvider, bool) {
	seqMu.Lock()
	defer seqMu.Unlock()
	if seqState == nil {
		return nil, false
	}
	for _, p := range seqState.Loaded {
		if p.String() == name {
			return p, true
		}
	}
	return nil, false
}

// explodeSeqStages partitions providers into stages such that every
// provider's prerequisites are satisfied by an earlier stage.
func explodeSeqStages(provs []SequenceProvider) ([][]SequenceProvider, error) {
	dependencies := map[string]map[string]struct{}{}
	for _, p := range provs {
		dependencies[p.String()] = map[string]struct{}{}
	}
	for _, p := range provs {
		name := p.String()
		for _, dep := range p.Prerequisites() {
			if _, ok := seqByName[dep]; !ok {
				return nil, fmt.Errorf("dapcore: sequence %q depends on unregistered %q", name, dep)
			}
			dependencies[name][dep] = struct{}{}
		}
	}

	var stages [][]SequenceProvider
	for len(dependencies) != 0 {
		var names []string
		var stage []SequenceProvider
		for name, deps := range dependencies {
			if len(deps) == 0 {
				names = append(names, name)
				stage = append(stage, seqByName[name])
				delete(dependencies, name)
			}
		}
		if len(names) == 0 {
			return nil, fmt.Errorf("dapcore: cycle in sequence provider dependencies: %v", dependencies)
		}
		stages = append(stages, stage)
		for _, done := range names {
			for name := range dependencies {
				delete(dependencies[name], done)
			}
		}
	}
	return stages, nil
}

// loadSeqStage initializes every provider in a stage concurrently, skipping
// any whose prerequisite failed to load in an earlier stage.
func loadSeqStage(provs []SequenceProvider, loaded map[string]struct{}, st *SequenceState) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, p := range provs {
		skip := false
		for _, dep := range p.Prerequisites() {
			if _, ok := loaded[dep]; !ok {
				skip = true
				break
			}
		}
		if skip {
			mu.Lock()
			st.Skipped = append(st.Skipped, SequenceFailure{p, errors.New("prerequisite not loaded")})
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(p SequenceProvider) {
			defer wg.Done()
			ok, err := p.Init()
			mu.Lock()
			defer mu.Unlock()
			switch {
			case ok && err == nil:
				st.Loaded = append(st.Loaded, p)
			case ok && err != nil:
				st.Failed = append(st.Failed, SequenceFailure{p, err})
			default:
				if err == nil {
					err = errors.New("no reason was given")
				}
				st.Skipped = append(st.Skipped, SequenceFailure{p, err})
			}
		}(p)
	}
	wg.Wait()
	for _, p := range provs {
		for _, f := range st.Failed {
			if f.P == p {
				goto next
			}
		}
		for _, f := range st.Skipped {
			if f.P == p {
				goto next
			}
		}
		loaded[p.String()] = struct{}{}
	next:
	}
}

type seqProviders []SequenceProvider

func (s seqProviders) Len() int           { return len(s) }
func (s seqProviders) Less(i, j int) bool { return s[i].String() < s[j].String() }
func (s seqProviders) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

type seqFailures []SequenceFailure

func (f seqFailures) Len() int           { return len(f) }
func (f seqFailures) Less(i, j int) bool { return f[i].P.String() < f[j].P.String() }
func (f seqFailures) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }
