// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package dp

// State is the per-DP state tracked across calls: the last-written SELECT
// value (bank-split), power-up acknowledgement flags, the sticky error
// latch, and the configured overrun-detect flag.
//
// A State is created the first time its DP is selected and is retained
// until session teardown; a line reset clears it back to zero values,
// except for the configured overrun-detect flag.
type State struct {
	// selectValid is false until the first SELECT write, matching SELECT's
	// write-only nature: the Mux must never assume a value it hasn't
	// itself written.
	selectValid bool
	selectValue uint32

	csysPwrUpAck bool
	cdbgPwrUpAck bool

	stickyErrorLatched bool
	overrunDetect      bool
}

// reset clears all cached state, as a line reset does; the configured
// overrun-detect flag is kept.
func (s *State) reset() {
	*s = State{overrunDetect: s.overrunDetect}
}

// dpBank returns the currently cached DPBANKSEL, or (0, false) if SELECT
// has never been written.
func (s *State) dpBank() (uint32, bool) {
	if !s.selectValid {
		return 0, false
	}
	return s.selectValue & selectDPBankMask, true
}
