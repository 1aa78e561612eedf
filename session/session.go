// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package session implements the attach sequence: it opens the default
// Debug Port, enumerates Access Ports, walks each memory AP's ROM table,
// correlates the result against an externally supplied chip.Description,
// and hands back one CoreHandle per matched core.
package session

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/armdap/dapcore"
	"github.com/armdap/dapcore/ap"
	"github.com/armdap/dapcore/chip"
	"github.com/armdap/dapcore/dp"
	"github.com/armdap/dapcore/mem"
	"github.com/armdap/dapcore/romtable"
	"github.com/armdap/dapcore/wire"
)

// maxAPIndex bounds ADIv5 AP enumeration at the architecture's full 8-bit
// APSEL range. It is not exposed as a tunable: a chip description that
// names a core's AP index directly (chip.Core.AP) never depends on where
// enumeration stopped, and every real target populates only the low
// handful of indices, so there is no accuracy/latency tradeoff worth a
// knob here.
const maxAPIndex = 255

const pollInterval = 100 * time.Microsecond

// apState is what Attach learns about one Access Port during enumeration.
type apState struct {
	addr    dapcore.AccessPortAddress
	ident   ap.Identity
	variant ap.MemoryAP
	engine  *mem.Engine // nil unless ident.Class == ap.ClassMemoryAP
}

// Session owns one target's attached state: the DP multiplexer, the AP
// register router, every AP discovered during attach, and one CoreHandle
// per chip.Description core that was successfully correlated and started.
type Session struct {
	w        wire.Interface
	mux      *dp.Mux
	router   *ap.Router
	timeouts dapcore.Timeouts
	logger   dapcore.Logger
	desc     *chip.Description

	aps   map[uint8]apState
	cores map[string]*CoreHandle

	poisoned    bool
	poisonCause error
}

// Attach opens the default Debug Port on w, enumerates its Access Ports,
// and starts debug on every core named in desc. w is assumed already
// open; Attach never closes it, and Detach leaves that to the caller —
// transport lifetime is never this package's responsibility.
func Attach(w wire.Interface, desc *chip.Description, timeouts dapcore.Timeouts) (*Session, error) {
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	timeouts = timeouts.WithDefaults()

	mux := dp.New(w, timeouts)
	if err := mux.Select(dapcore.DefaultDebugPort); err != nil {
		return nil, fmt.Errorf("session: attach: %w", err)
	}
	router := ap.NewRouter(mux, timeouts)

	s := &Session{
		w:        w,
		mux:      mux,
		router:   router,
		timeouts: timeouts,
		desc:     desc,
		aps:      map[uint8]apState{},
		cores:    map[string]*CoreHandle{},
	}

	idents, err := enumerateAPs(router, dapcore.DefaultDebugPort, maxAPIndex)
	if err != nil {
		return nil, fmt.Errorf("session: attach: enumerating access ports: %w", err)
	}
	for idx, id := range idents {
		addr := dapcore.ADIv5AP(dapcore.DefaultDebugPort, idx)
		st := apState{addr: addr, ident: id}
		if variant, ok := id.MemoryVariant(); ok {
			st.variant = variant
			st.engine = mem.NewEngine(router, addr, variant, id)
		}
		s.aps[idx] = st
	}

	if _, err := dapcore.InitSequences(); err != nil {
		return nil, fmt.Errorf("session: attach: %w", err)
	}

	for _, c := range desc.Cores {
		if err := s.attachCore(c); err != nil {
			return nil, fmt.Errorf("session: attach: %w", err)
		}
	}
	return s, nil
}

// attachCore binds one chip.Description core to the AP it names, walks its
// ROM table, looks up its reset-sequence provider, and runs the
// architecture's debug-core-start sequence.
func (s *Session) attachCore(c chip.Core) error {
	st, ok := s.aps[c.AP]
	if !ok || st.engine == nil {
		return fmt.Errorf("core %q: AP%d: %w", c.Name, c.AP, dapcore.ErrArchitectureMismatch)
	}

	base := st.ident.Base
	baseValid := st.ident.BaseValid
	if c.RomTableBase != nil {
		base, baseValid = *c.RomTableBase, true
	}
	var components []romtable.Component
	if baseValid {
		walker := romtable.NewWalker()
		if s.logger != nil {
			walker.SetLogger(s.logger)
		}
		found, err := walker.Walk(st.engine, base)
		components = found
		if err != nil {
			s.log().Printf("session: core %q: rom table walk returned a partial result: %v", c.Name, err)
		}
	}

	provider, ok := dapcore.LookupSequence(c.Architecture)
	if !ok {
		return fmt.Errorf("core %q: no reset sequence registered for architecture %q", c.Name, c.Architecture)
	}

	ch := &CoreHandle{
		session: s,
		name:    c.Name,
		engine:  st.engine,
		seq:     provider.Sequence(),
		rom:     components,
	}
	if err := ch.enableDebug(); err != nil {
		return fmt.Errorf("core %q: enabling debug: %w", c.Name, err)
	}
	s.cores[c.Name] = ch
	return nil
}

// enumerateAPs probes ADIv5 AP indices 0..=maxIndex on dp, skipping any
// that report dapcore.ErrApNotPresent. Any other error aborts enumeration
// immediately, since it signals a DP-level problem rather than a simple
// absent AP.
func enumerateAPs(r *ap.Router, dpAddr dapcore.DebugPortAddress, maxIndex int) (map[uint8]ap.Identity, error) {
	out := map[uint8]ap.Identity{}
	for i := 0; i <= maxIndex; i++ {
		addr := dapcore.ADIv5AP(dpAddr, uint8(i))
		id, err := ap.Identify(r, addr)
		if err != nil {
			if errors.Is(err, dapcore.ErrApNotPresent) {
				dapcore.DefaultLogger().Printf("session: AP%d not present, skipping", i)
				continue
			}
			return out, err
		}
		out[uint8(i)] = id
	}
	return out, nil
}

// Core returns the handle for the named core, as matched during Attach.
func (s *Session) Core(name string) (*CoreHandle, bool) {
	c, ok := s.cores[name]
	return c, ok
}

// CoreNames returns every attached core's name, sorted.
func (s *Session) CoreNames() []string {
	names := make([]string, 0, len(s.cores))
	for n := range s.cores {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SetLogger overrides the logger used for ROM-table walk diagnostics.
func (s *Session) SetLogger(l dapcore.Logger) {
	if l != nil {
		s.logger = l
	}
}

func (s *Session) log() dapcore.Logger {
	if s.logger != nil {
		return s.logger
	}
	return dapcore.DefaultLogger()
}

// Detach flushes every memory AP's posted writes. It does not close w; the
// caller owns the transport's lifetime.
func (s *Session) Detach() error {
	var firstErr error
	for _, idx := range sortedAPIndices(s.aps) {
		st := s.aps[idx]
		if st.engine == nil {
			continue
		}
		if err := s.router.Flush(st.addr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func sortedAPIndices(aps map[uint8]apState) []uint8 {
	out := make([]uint8, 0, len(aps))
	for idx := range aps {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// poison marks the session permanently unusable after a fatal DP error:
// every subsequent CoreHandle operation returns
// dapcore.ErrSessionPoisoned directly, while the call that triggered
// poisoning gets the wrapped cause back via *dapcore.PoisonedError
// (errors.As/errors.Unwrap still reach it).
func (s *Session) poison(cause error) error {
	s.poisoned, s.poisonCause = true, cause
	return &dapcore.PoisonedError{Cause: cause}
}

// isFatal reports whether err should poison the owning session: a faulted
// DP or a wire-level failure, neither of which the retry machinery above
// this layer can recover from. TransferWait/TransferFault/TargetBusFault
// are scoped to the operation that hit them and never poison the session.
func isFatal(err error) bool {
	switch err.(type) {
	case *dapcore.DebugPortFaultedError, *dapcore.WireError:
		return true
	default:
		return false
	}
}
