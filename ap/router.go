// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ap

import (
	"fmt"

	"github.com/armdap/dapcore"
	"github.com/armdap/dapcore/dp"
	"github.com/armdap/dapcore/wire"
)

// Router is the AP Register Router: it turns an
// (ap_address, register offset) pair into SELECT-write-minimal DP traffic,
// and tracks posted writes so a caller can defer their acknowledgement
// until a read is requested or Flush is called.
//
// The SELECT cache itself is not duplicated here: it lives inside the
// dp.Mux this Router wraps (see
// dp.Mux.CachedSelect/WriteSelect), so there is exactly one mutable owner
// of the physical SELECT register regardless of how many layers touch it.
type Router struct {
	mux      *dp.Mux
	timeouts dapcore.Timeouts

	// havePending/pendingAddr track which AP a posted write is outstanding on, so a
	// Select to a different DP (which this Router triggers itself, via
	// mux.Select) flushes first instead of losing the pending ack.
	havePending bool
	pendingAddr dapcore.AccessPortAddress
	pendingN    int

	// tarAP/tarLow/tarHigh remember the most recent TAR/TAR2 this Router
	// wrote for one AP, so a DRW fault can be classified with the target's
	// actual bus address. mem.Engine keeps its own, authoritative copy of
	// this for the transfers it drives; this one covers DRW faults seen by
	// callers that use the Router directly and never populate one
	// themselves.
	tarAP                     dapcore.AccessPortAddress
	tarLow, tarHigh           uint32
	tarLowValid, tarHighValid bool
}

// NewRouter returns a Router driving mux.
func NewRouter(mux *dp.Mux, timeouts dapcore.Timeouts) *Router {
	return &Router{mux: mux, timeouts: timeouts.WithDefaults()}
}

// ensureSelected writes SELECT's APSEL/APBANKSEL (or, for ADIv6, the
// nested-level address) only if it differs from the Mux's cached value —
// the same cache dp.Mux.WriteDP uses for DPBANKSEL.
func (r *Router) ensureSelected(addr dapcore.AccessPortAddress, reg uint8) error {
	if r.havePending && r.pendingAddr.DP != addr.DP {
		if err := r.Flush(r.pendingAddr); err != nil {
			return err
		}
	}
	apBank := reg & 0xf0
	want, err := selectValueFor(addr, apBank)
	if err != nil {
		return err
	}
	if cur, ok := r.mux.CachedSelect(addr.DP); ok {
		const apFieldsMask = dp.SelectAPBankMask | dp.SelectAPSelMask
		if cur&apFieldsMask == want&apFieldsMask {
			return nil
		}
		want = want&apFieldsMask | cur&^apFieldsMask
	}
	return r.mux.WriteSelect(addr.DP, want)
}

// selectValueFor computes the APSEL/APBANKSEL bits of SELECT for addr.
// ADIv6's nested Levels addressing does not fit in SELECT's legacy 8-bit
// APSEL field for more than one level; dapcore supports single-level ADIv6
// APs (the overwhelming majority of real targets) by treating Levels[0] the
// same way ADIv5's AP byte is treated, and rejects deeper nesting.
func selectValueFor(addr dapcore.AccessPortAddress, apBank uint8) (uint32, error) {
	var apsel uint8
	switch {
	case !addr.IsADIv6():
		apsel = addr.AP
	case len(addr.Levels) == 1:
		apsel = addr.Levels[0]
	default:
		return 0, dapcore.ErrADIv6NestingUnsupported
	}
	return uint32(apsel)<<dp.SelectAPSelShift | uint32(apBank), nil
}

// ReadAP reads one AP register, retrying TransferWait responses up to
// timeouts.TransferWaitBudget times with no back-off — expected during
// target stalls.
func (r *Router) ReadAP(addr dapcore.AccessPortAddress, reg uint8) (uint32, error) {
	if err := r.ensureSelected(addr, reg); err != nil {
		return 0, err
	}
	return r.readAPRetry(addr, reg)
}

// WriteAP writes one AP register. The write is posted: no acknowledgement
// is fetched until a read is requested or Flush is called.
func (r *Router) WriteAP(addr dapcore.AccessPortAddress, reg uint8, value uint32) error {
	if err := r.ensureSelected(addr, reg); err != nil {
		return err
	}
	if err := r.writeAPRetry(addr, reg, value); err != nil {
		return err
	}
	r.noteTAR(addr, reg, value)
	r.havePending, r.pendingAddr, r.pendingN = true, addr, r.pendingN+1
	return nil
}

// noteTAR records a TAR/TAR2 write so a later DRW fault on the same AP can
// be classified with the address actually in flight. Any other AP's prior
// TAR is forgotten, since it no longer describes what DRW will touch.
func (r *Router) noteTAR(addr dapcore.AccessPortAddress, reg uint8, value uint32) {
	if reg != RegTAR && reg != RegTAR2 {
		return
	}
	if !r.tarAP.Equal(addr) {
		r.tarAP, r.tarLowValid, r.tarHighValid = addr, false, false
	}
	if reg == RegTAR {
		r.tarLow, r.tarLowValid = value, true
	} else {
		r.tarHigh, r.tarHighValid = value, true
	}
}

// tarFor returns the best-known bus address DRW currently targets on addr,
// combining the last TAR/TAR2 writes this Router observed for it. ok is
// false if no TAR has been programmed for addr since it last changed.
func (r *Router) tarFor(addr dapcore.AccessPortAddress) (uint64, bool) {
	if !r.tarAP.Equal(addr) || !r.tarLowValid {
		return 0, false
	}
	if !r.tarHighValid {
		return uint64(r.tarLow), true
	}
	return uint64(r.tarHigh)<<32 | uint64(r.tarLow), true
}

// ReadAPBlock reads n consecutive values from reg (normally DRW with the
// memory-AP's TAR auto-increment programmed by the caller), pipelining the
// transactions through the underlying wire when it is wire.BatchCapable. A
// WAIT on one element of the block reissues only that element, not the
// preceding TAR or prior reads, and not the whole block.
func (r *Router) ReadAPBlock(addr dapcore.AccessPortAddress, reg uint8, n int) ([]uint32, error) {
	if err := r.ensureSelected(addr, reg); err != nil {
		return nil, err
	}
	out := make([]uint32, 0, n)
	bc, batched := r.mux.Wire().(wire.BatchCapable)
	for len(out) < n {
		if !batched {
			v, err := r.readAPRetry(addr, reg)
			if err != nil {
				return out, err
			}
			out = append(out, v)
			continue
		}
		remaining := n - len(out)
		reads := make([]wire.ReadOp, remaining)
		for i := range reads {
			reads[i] = wire.ReadOp{IsAP: true, AP: effectiveAPSel(addr), Addr: reg}
		}
		vals, err := bc.SubmitBlock(reads, nil)
		out = append(out, vals...)
		if err == nil {
			return out, nil
		}
		if !isWait(err) {
			return out, r.classifyFault(addr, reg, err)
		}
		v, rerr := r.readAPRetry(addr, reg)
		if rerr != nil {
			return out, rerr
		}
		out = append(out, v)
	}
	return out, nil
}

// WriteAPBlock writes values to reg in sequence (normally DRW). Every write
// is posted; none is flushed here, so their acknowledgements are collected
// by a later read or Flush.
func (r *Router) WriteAPBlock(addr dapcore.AccessPortAddress, reg uint8, values []uint32) error {
	if err := r.ensureSelected(addr, reg); err != nil {
		return err
	}
	if bc, ok := r.mux.Wire().(wire.BatchCapable); ok {
		writes := make([]wire.WriteOp, len(values))
		for i, v := range values {
			writes[i] = wire.WriteOp{IsAP: true, AP: effectiveAPSel(addr), Addr: reg, Value: v}
		}
		_, err := bc.SubmitBlock(nil, writes)
		if err == nil {
			r.havePending, r.pendingAddr, r.pendingN = true, addr, r.pendingN+len(values)
			return nil
		}
		if !isWait(err) {
			return r.classifyFault(addr, reg, err)
		}
		// Unlike a read block, a write block's SubmitBlock reports no
		// partial-completion count on WAIT; fall back to the sequential
		// path below, which retries exactly the element that WAITs.
	}
	for _, v := range values {
		if err := r.writeAPRetry(addr, reg, v); err != nil {
			return err
		}
	}
	r.havePending, r.pendingAddr, r.pendingN = true, addr, r.pendingN+len(values)
	return nil
}

// Flush forces all posted writes on addr to be acknowledged, surfacing any
// deferred TransferWait, TransferFault, or protocol error now. A lost
// acknowledgement among the pendingN writes posted since the last flush
// (signalled by CTRL/STAT.WDATAERR) surfaces as dapcore.ErrPostedWriteLost.
func (r *Router) Flush(addr dapcore.AccessPortAddress) error {
	if !r.havePending {
		return nil
	}
	if err := r.ensureSelected(addr, RegCSW); err != nil {
		return err
	}
	pending := r.pendingN
	_, err := r.mux.ReadDP(addr.DP, 0, dpRDBUFF)
	r.havePending, r.pendingN = false, 0
	if err != nil {
		return &dapcore.WireError{Op: "flush-rdbuff", Err: err}
	}
	lost, err := r.mux.CheckPostedWriteError(addr.DP)
	if err != nil {
		return &dapcore.WireError{Op: "flush-check-wdataerr", Err: err}
	}
	if lost {
		return fmt.Errorf("%w: %d write(s) posted to AP%d since last flush", dapcore.ErrPostedWriteLost, pending, effectiveAPSel(addr))
	}
	return nil
}

// dpRDBUFF is the DP-side read-only register (bank 0, addr 0xC) that
// surfaces a posted AP write's or read's acknowledgement without disturbing
// SELECT.
const dpRDBUFF uint8 = 0xc

func effectiveAPSel(addr dapcore.AccessPortAddress) uint8 {
	if addr.IsADIv6() && len(addr.Levels) > 0 {
		return addr.Levels[0]
	}
	return addr.AP
}

func (r *Router) readAPRetry(addr dapcore.AccessPortAddress, reg uint8) (uint32, error) {
	budget := r.timeouts.TransferWaitBudget
	var lastErr error
	for i := 0; i < budget; i++ {
		v, err := r.mux.Wire().ReadAP(effectiveAPSel(addr), reg)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !isWait(err) {
			return 0, r.classifyFault(addr, reg, err)
		}
	}
	return 0, &dapcore.TransferWaitError{Attempts: budget, Err: lastErr}
}

func (r *Router) writeAPRetry(addr dapcore.AccessPortAddress, reg uint8, value uint32) error {
	budget := r.timeouts.TransferWaitBudget
	var lastErr error
	for i := 0; i < budget; i++ {
		err := r.mux.Wire().WriteAP(effectiveAPSel(addr), reg, value)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isWait(err) {
			return r.classifyFault(addr, reg, err)
		}
	}
	return &dapcore.TransferWaitError{Attempts: budget, Err: lastErr}
}

// isWait reports whether err represents a TransferWait response. The wire
// layer (a Non-goal to implement) is expected to report WAIT through a
// sentinel the probe driver defines; dapcore recognizes it structurally via
// the waiter interface so it need not import any concrete driver package.
func isWait(err error) bool {
	type waiter interface{ TransferWait() bool }
	w, ok := err.(waiter)
	return ok && w.TransferWait()
}

// classifyFault wraps a non-WAIT wire error into the appropriate
// dapcore error type, clearing sticky bits so the next call is not poisoned
// by this one. For a DRW fault, Addr is filled in from the last TAR/TAR2
// this Router wrote for addr, when known; mem.Engine replaces this with its
// own, authoritative address for the transfers it drives, so this only
// matters to a caller that talks to the Router directly.
func (r *Router) classifyFault(addr dapcore.AccessPortAddress, reg uint8, err error) error {
	if cerr := r.mux.ClearStickyErrors(addr.DP); cerr != nil {
		return &dapcore.WireError{Op: "clear-sticky-after-fault", Err: cerr}
	}
	var bus uint64
	if reg == RegDRW {
		bus, _ = r.tarFor(addr)
	}
	return &dapcore.TransferFaultError{Addr: bus}
}
