// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package dp implements the Debug Port Multiplexer: it presents the
// abstraction of "one DP out of several" to the layers above,
// and ensures every raw DP/AP transaction is preceded by whatever wire-level
// steering a multidrop SWD bus requires.
package dp

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/armdap/dapcore"
	"github.com/armdap/dapcore/wire"
)

// jtagToSWD is the canonical 16-bit JTAG-to-SWD line-protocol switch
// sequence (bytes 0x9E, 0xE7, sent LSB-first), per the Arm ADI
// specification. dapcore never speaks JTAG itself; this sequence is only
// the SWD-activation preamble issued through
// wire.Interface.SWJSequence.
var jtagToSWD = bitsFromBytesLSB(0x9e, 0xe7)

func bitsFromBytesLSB(bs ...byte) []bool {
	out := make([]bool, 0, len(bs)*8)
	for _, b := range bs {
		for i := 0; i < 8; i++ {
			out = append(out, (b>>uint(i))&1 != 0)
		}
	}
	return out
}

// Mux is the Debug Port Multiplexer. It owns the wire and all DP-level
// state; ap.Router issues its raw AP transactions through Wire, and
// batch.Controller drives a wire.Interface of its own. Every wire interface
// is assumed single-threaded.
type Mux struct {
	w        wire.Interface
	timeouts dapcore.Timeouts
	logger   dapcore.Logger

	hasCurrent bool
	current    dapcore.DebugPortAddress

	states map[dapcore.DebugPortAddress]*State
}

// New returns a Mux driving w. No wire traffic is emitted until the first
// Select.
func New(w wire.Interface, timeouts dapcore.Timeouts) *Mux {
	return &Mux{
		w:        w,
		timeouts: timeouts.WithDefaults(),
		logger:   dapcore.DefaultLogger(),
		states:   map[dapcore.DebugPortAddress]*State{},
	}
}

// SetLogger overrides the logger used for non-fatal, structural messages.
func (m *Mux) SetLogger(l dapcore.Logger) {
	if l != nil {
		m.logger = l
	}
}

// Wire returns the underlying wire.Interface, so ap.Router can issue raw
// AP transactions and probe for wire.BatchCapable. The Mux remains the sole
// owner of DP-level state (SELECT cache, power state); Router never touches
// DP registers through this handle.
func (m *Mux) Wire() wire.Interface { return m.w }

// Select makes dp the active DP on the wire. It is idempotent: if the wire
// already points at dp, no bytes are emitted. Callers that hold posted AP
// writes on the currently selected DP must flush them before calling Select
// with a different address — the Mux only knows about DP-level state, not
// AP-level posted writes, which the AP router owns.
func (m *Mux) Select(addr dapcore.DebugPortAddress) error {
	if m.hasCurrent && m.current == addr {
		return nil
	}
	st, known := m.states[addr]
	if !known {
		st = &State{}
		if err := m.initialSetup(addr, st); err != nil {
			return err
		}
		m.states[addr] = st
		m.current = addr
		m.hasCurrent = true
		return nil
	}
	if err := m.switchTo(addr); err != nil {
		return err
	}
	m.current = addr
	m.hasCurrent = true
	return nil
}

// initialSetup runs the first-use bring-up sequence: JTAG-to-SWD switch,
// line reset, TARGETSEL for multidrop, sticky-error clear, power-up, and
// establishing SELECT=0 as a known bank state.
func (m *Mux) initialSetup(addr dapcore.DebugPortAddress, st *State) error {
	if err := m.wireRetry("swj-switch", func() error { return m.w.SWJSequence(jtagToSWD) }); err != nil {
		return err
	}
	if err := m.lineResetRaw(); err != nil {
		return err
	}
	if addr.Multidrop {
		if err := m.wireRetry("targetsel", func() error {
			return m.w.WriteDP(addrRDBUFForTargetSel, addr.TargetSel)
		}); err != nil {
			return err
		}
		if _, err := m.rawReadDP(addrIDRorABORT); err != nil {
			return &dapcore.TargetSelNackError{DP: addr}
		}
	} else {
		if _, err := m.rawReadDP(addrIDRorABORT); err != nil {
			return &dapcore.WireError{Op: "dpidr", Err: err}
		}
	}
	m.current, m.hasCurrent = addr, true
	m.states[addr] = st
	if err := m.clearStickyErrorsFor(st); err != nil {
		return err
	}
	if err := m.powerUpFor(addr, st); err != nil {
		return err
	}
	return m.writeSelectFor(st, 0)
}

// switchTo re-selects an already-initialized DP on a shared multidrop bus.
// It does not repeat power-up or sticky-clear: those are sticky per-DP
// hardware state, not wire-protocol state.
func (m *Mux) switchTo(addr dapcore.DebugPortAddress) error {
	if !addr.Multidrop {
		return nil
	}
	if err := m.lineResetRaw(); err != nil {
		return err
	}
	if err := m.wireRetry("targetsel", func() error {
		return m.w.WriteDP(addrRDBUFForTargetSel, addr.TargetSel)
	}); err != nil {
		return err
	}
	if _, err := m.rawReadDP(addrIDRorABORT); err != nil {
		return &dapcore.TargetSelNackError{DP: addr}
	}
	return nil
}

// ReadDP reads a banked DP register, writing SELECT first iff the cached
// DPBANKSEL differs from bank.
func (m *Mux) ReadDP(addr dapcore.DebugPortAddress, bank, reg uint8) (uint32, error) {
	if err := m.Select(addr); err != nil {
		return 0, err
	}
	st := m.states[addr]
	if err := m.ensureBank(st, bank); err != nil {
		return 0, err
	}
	v, err := m.rawReadDP(reg)
	if err != nil {
		return 0, &dapcore.WireError{Op: fmt.Sprintf("read-dp[%d]", reg), Err: err}
	}
	if reg == addrCtrlStat && bank == 0 {
		if v&(ctrlSTICKYERR|ctrlSTICKYORUN) != 0 {
			return m.recoverSticky(addr, st, v)
		}
	}
	return v, nil
}

// recoverSticky implements this layer's failure semantics: a sticky error
// observed in a CTRL/STAT read triggers one ABORT-clear and retry; a second
// occurrence is fatal.
func (m *Mux) recoverSticky(addr dapcore.DebugPortAddress, st *State, first uint32) (uint32, error) {
	if err := m.clearStickyErrorsFor(st); err != nil {
		return 0, err
	}
	v, err := m.rawReadDP(addrCtrlStat)
	if err != nil {
		return 0, &dapcore.WireError{Op: "read-ctrlstat-retry", Err: err}
	}
	if v&(ctrlSTICKYERR|ctrlSTICKYORUN) != 0 {
		return 0, &dapcore.DebugPortFaultedError{DP: addr, Reason: "sticky error persisted after ABORT clear"}
	}
	_ = first
	return v, nil
}

// WriteDP writes a banked DP register, writing SELECT first iff the cached
// DPBANKSEL differs from bank.
func (m *Mux) WriteDP(addr dapcore.DebugPortAddress, bank, reg uint8, value uint32) error {
	if err := m.Select(addr); err != nil {
		return err
	}
	st := m.states[addr]
	if err := m.ensureBank(st, bank); err != nil {
		return err
	}
	if err := m.rawWriteDP(reg, value); err != nil {
		return &dapcore.WireError{Op: fmt.Sprintf("write-dp[%d]", reg), Err: err}
	}
	return nil
}

// ensureBank writes SELECT only if the requested DPBANKSEL differs from the
// cached value: SELECT is never assumed, only ever written when the desired
// bank differs from what was last written.
func (m *Mux) ensureBank(st *State, bank uint8) error {
	if cur, ok := st.dpBank(); ok && cur == uint32(bank) {
		return nil
	}
	want := st.selectValue&^selectDPBankMask | uint32(bank)&selectDPBankMask
	return m.writeSelectFor(st, want)
}

// CachedSelect returns the last value this Mux wrote to SELECT for addr, and
// whether SELECT has been written at all (it is write-only; the Mux never
// assumes a value it has not itself written). ap.Router uses this to decide
// whether an AP-bank-changing SELECT write can be skipped.
func (m *Mux) CachedSelect(addr dapcore.DebugPortAddress) (uint32, bool) {
	st, ok := m.states[addr]
	if !ok {
		return 0, false
	}
	return st.selectValue, st.selectValid
}

// WriteSelect writes value to SELECT and updates the shared cache, for
// ap.Router's use when it needs to change APSEL/APBANKSEL. It preserves the
// DP-bank bits already cached here, and vice versa: both halves of SELECT
// are the same register, and this Mux is the single owner of its cache.
func (m *Mux) WriteSelect(addr dapcore.DebugPortAddress, value uint32) error {
	if err := m.Select(addr); err != nil {
		return err
	}
	return m.writeSelectFor(m.states[addr], value)
}

func (m *Mux) writeSelectFor(st *State, value uint32) error {
	if err := m.rawWriteDP(addrSelectOrResend, value); err != nil {
		return &dapcore.WireError{Op: "write-select", Err: err}
	}
	st.selectValid, st.selectValue = true, value
	return nil
}

// PowerUp sets CDBGPWRUPREQ/CSYSPWRUPREQ and polls for their ACK bits,
// bounded by m.timeouts.PowerUpACK. Calling it twice on an already-powered
// DP emits no wire traffic beyond one CTRL/STAT read: the ACK bits are
// checked before anything is written.
func (m *Mux) PowerUp(addr dapcore.DebugPortAddress) error {
	_, alreadyKnown := m.states[addr]
	if err := m.Select(addr); err != nil {
		return err
	}
	if !alreadyKnown {
		// Select just ran initialSetup, which already powered addr up.
		return nil
	}
	return m.powerUpFor(addr, m.states[addr])
}

func (m *Mux) powerUpFor(addr dapcore.DebugPortAddress, st *State) error {
	v, err := m.rawReadDP(addrCtrlStat)
	if err != nil {
		return &dapcore.WireError{Op: "read-ctrlstat", Err: err}
	}
	if v&ctrlCDBGPWRUPACK != 0 && v&ctrlCSYSPWRUPACK != 0 {
		st.cdbgPwrUpAck, st.csysPwrUpAck = true, true
		return nil
	}
	if err := m.rawWriteDP(addrCtrlStat, ctrlCDBGPWRUPREQ|ctrlCSYSPWRUPREQ); err != nil {
		return &dapcore.WireError{Op: "write-ctrlstat-req", Err: err}
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeouts.PowerUpACK)
	defer cancel()
	b := backoff.WithContext(backoff.NewConstantBackOff(m.timeouts.PowerUpPoll), ctx)
	err = backoff.Retry(func() error {
		v, err := m.rawReadDP(addrCtrlStat)
		if err != nil {
			return backoff.Permanent(&dapcore.WireError{Op: "poll-ctrlstat", Err: err})
		}
		if v&ctrlCDBGPWRUPACK != 0 && v&ctrlCSYSPWRUPACK != 0 {
			st.cdbgPwrUpAck, st.csysPwrUpAck = true, true
			return nil
		}
		return fmt.Errorf("power-up ack not yet set")
	}, b)
	if err != nil {
		var perr *backoff.PermanentError
		if asPermanent(err, &perr) {
			return perr.Err
		}
		return &dapcore.TimeoutError{Op: fmt.Sprintf("power-up on %s", addr), Timeout: m.timeouts.PowerUpACK.String()}
	}
	return nil
}

// asPermanent reports whether err wraps a *backoff.PermanentError, unwrapping
// it into *target. backoff.Retry returns the PermanentError itself (not
// wrapped), but this stays robust if that ever changes.
func asPermanent(err error, target **backoff.PermanentError) bool {
	if p, ok := err.(*backoff.PermanentError); ok {
		*target = p
		return true
	}
	return false
}

// CheckPostedWriteError reads CTRL/STAT and reports whether WDATAERR is
// set: the architectural signal that a posted AP write's acknowledgement
// was corrupted or lost, as opposed to STICKYERR/STICKYORUN, which signal a
// protocol or overrun fault on the transaction ReadDP/WriteDP just issued.
// The sticky bit is cleared via ABORT.WDERRCLR before returning so a
// subsequent flush observes only writes posted after this call.
func (m *Mux) CheckPostedWriteError(addr dapcore.DebugPortAddress) (bool, error) {
	v, err := m.ReadDP(addr, 0, addrCtrlStat)
	if err != nil {
		return false, err
	}
	if v&ctrlWDATAERR == 0 {
		return false, nil
	}
	if err := m.ClearStickyErrors(addr); err != nil {
		return true, err
	}
	return true, nil
}

// ClearStickyErrors writes ABORT with STKERRCLR|STKCMPCLR|ORUNERRCLR|WDERRCLR.
func (m *Mux) ClearStickyErrors(addr dapcore.DebugPortAddress) error {
	if err := m.Select(addr); err != nil {
		return err
	}
	return m.clearStickyErrorsFor(m.states[addr])
}

func (m *Mux) clearStickyErrorsFor(st *State) error {
	if err := m.rawWriteDP(addrIDRorABORT, abortSTKERRCLR|abortSTKCMPCLR|abortORUNERRCLR|abortWDERRCLR); err != nil {
		return &dapcore.WireError{Op: "write-abort", Err: err}
	}
	st.stickyErrorLatched = false
	return nil
}

// LineReset emits 50+ clock cycles with the data line high followed by 2
// idle cycles, and invalidates all cached DP and AP state for addr.
func (m *Mux) LineReset(addr dapcore.DebugPortAddress) error {
	if err := m.lineResetRaw(); err != nil {
		return err
	}
	if st, ok := m.states[addr]; ok {
		st.reset()
	}
	m.hasCurrent = false
	return nil
}

func (m *Mux) lineResetRaw() error {
	bits := make([]bool, 52)
	for i := range bits[:50] {
		bits[i] = true
	}
	return m.wireRetry("line-reset", func() error { return m.w.SWJSequence(bits) })
}

// rawReadDP/rawWriteDP issue a single register transaction with the
// transient-retry policy: a FAULT or WAIT response is retried at most
// WireErrorRetries times with a short back-off. These never look at
// SELECT; callers ensure the right bank first.
func (m *Mux) rawReadDP(reg uint8) (uint32, error) {
	var v uint32
	err := m.wireRetry("read-dp-raw", func() error {
		var err error
		v, err = m.w.ReadDP(reg)
		return err
	})
	return v, err
}

func (m *Mux) rawWriteDP(reg uint8, value uint32) error {
	return m.wireRetry("write-dp-raw", func() error { return m.w.WriteDP(reg, value) })
}

// wireRetry retries op up to m.timeouts.WireErrorRetries times with a short
// fixed back-off: transient wire errors are retried a bounded number of
// times before being surfaced. Each attempt is itself bounded by
// m.timeouts.WireTransaction.
func (m *Mux) wireRetry(op string, fn func() error) error {
	var lastErr error
	attempts := m.timeouts.WireErrorRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if err := m.boundedCall(op, fn); err != nil {
			lastErr = err
			time.Sleep(time.Microsecond * 50)
			continue
		}
		if i > 0 {
			m.logger.Printf("dp: %s succeeded after %d transient wire error(s): %v", op, i, lastErr)
		}
		return nil
	}
	return lastErr
}

// boundedCall runs fn and bounds it to m.timeouts.WireTransaction. wire.Interface
// offers no cancellation of its own (see its doc comment), so a probe
// driver that never returns (a wedged USB/HID transfer) would otherwise
// hang its caller forever; this surfaces that as *dapcore.TimeoutError
// instead. On timeout the fn goroutine is abandoned, not killed — it may
// still complete and write to whatever it closed over after boundedCall
// has returned, which is the documented price of a deadline with no real
// cancellation underneath it. A non-positive WireTransaction disables the
// bound, matching the zero-value meaning every other Timeouts field uses.
func (m *Mux) boundedCall(op string, fn func() error) error {
	d := m.timeouts.WireTransaction
	if d <= 0 {
		return fn()
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-time.After(d):
		return &dapcore.TimeoutError{Op: op, Timeout: d.String()}
	}
}
