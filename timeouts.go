// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package dapcore

import "time"

// Timeouts collects the deadline and retry knobs used across the stack.
// Unset (zero) fields are replaced with DefaultTimeouts' values by
// Timeouts.WithDefaults. This mirrors the Opts-struct convention the
// teacher uses for device configuration (e.g. bmxx80.Opts): a plain struct
// of tunables with package-level defaults, supplied by the caller at
// construction time. None of it is read from a file or flag by this
// module.
type Timeouts struct {
	// PowerUpACK bounds dp.Mux.PowerUp's poll for CDBGPWRUPACK/CSYSPWRUPACK.
	PowerUpACK time.Duration
	// PowerUpPoll is the minimum back-off between ACK polls.
	PowerUpPoll time.Duration
	// ResetToHalt bounds session.CoreHandle.ResetAndHalt.
	ResetToHalt time.Duration
	// HaltRequest bounds session.CoreHandle.Halt.
	HaltRequest time.Duration
	// WireTransaction bounds a single wire-level transaction.
	WireTransaction time.Duration
	// TransferWaitBudget is the maximum number of WAIT retries for a single
	// AP transaction (ap.Router) before surfacing TransferWaitError.
	TransferWaitBudget int
	// WireErrorRetries is the maximum number of times a transient wire
	// error (one FAULT or WAIT at the DP layer) is retried.
	WireErrorRetries int
}

// DefaultTimeouts holds conservative defaults suitable for a typical
// SWD probe and target.
var DefaultTimeouts = Timeouts{
	PowerUpACK:         100 * time.Millisecond,
	PowerUpPoll:        10 * time.Microsecond,
	ResetToHalt:        500 * time.Millisecond,
	HaltRequest:        100 * time.Millisecond,
	WireTransaction:    time.Second,
	TransferWaitBudget: 8,
	WireErrorRetries:   3,
}

// WithDefaults returns a copy of t with every zero-valued field replaced by
// DefaultTimeouts' value.
func (t Timeouts) WithDefaults() Timeouts {
	d := DefaultTimeouts
	if t.PowerUpACK != 0 {
		d.PowerUpACK = t.PowerUpACK
	}
	if t.PowerUpPoll != 0 {
		d.PowerUpPoll = t.PowerUpPoll
	}
	if t.ResetToHalt != 0 {
		d.ResetToHalt = t.ResetToHalt
	}
	if t.HaltRequest != 0 {
		d.HaltRequest = t.HaltRequest
	}
	if t.WireTransaction != 0 {
		d.WireTransaction = t.WireTransaction
	}
	if t.TransferWaitBudget != 0 {
		d.TransferWaitBudget = t.TransferWaitBudget
	}
	if t.WireErrorRetries != 0 {
		d.WireErrorRetries = t.WireErrorRetries
	}
	return d
}
