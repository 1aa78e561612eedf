// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package session

import "github.com/armdap/dapcore"

// genericArmv7M is the default reset sequence for the Armv7-M debug
// architecture (no vendor-specific reset controller quirks): assert
// SYSRESETREQ via AIRCR, and for ResetAndHalt arm a core vector-catch via
// DEMCR.VC_CORERESET first so the core halts at the reset vector instead of
// running free. This is the fallback used when a chip has no
// vendor-specific override: a chip whose silicon needs something different
// registers its own dapcore.SequenceProvider under its own name instead of
// "armv7m".
type genericArmv7M struct{}

func (genericArmv7M) String() string           { return "armv7m" }
func (genericArmv7M) Prerequisites() []string  { return nil }
func (genericArmv7M) Init() (bool, error)      { return true, nil }
func (genericArmv7M) Sequence() dapcore.ResetSequence { return genericArmv7M{} }

func (genericArmv7M) SystemReset(ctx dapcore.SequenceContext, timeouts dapcore.Timeouts) error {
	if err := ctx.WriteCoreMem32(addrAIRCR, aircrVectKey|aircrSysResetReq); err != nil {
		return err
	}
	return ctx.PollUntil("system_reset", timeouts.ResetToHalt, pollInterval, func() (bool, error) {
		v, err := ctx.ReadCoreMem32(addrDHCSR)
		if err != nil {
			// The core is unresponsive for a few cycles immediately after
			// a reset request; that is expected, not fatal, until the
			// deadline set by timeouts.ResetToHalt.
			return false, nil
		}
		return v&dhcsrSResetSt == 0, nil
	})
}

func (genericArmv7M) ResetAndHalt(ctx dapcore.SequenceContext, timeouts dapcore.Timeouts) error {
	if err := ctx.WriteCoreMem32(addrDEMCR, demcrVCCoreReset); err != nil {
		return err
	}
	if err := ctx.WriteCoreMem32(addrDHCSR, dhcsrDbgKey|dhcsrCDebugEn|dhcsrCHalt); err != nil {
		return err
	}
	if err := ctx.WriteCoreMem32(addrAIRCR, aircrVectKey|aircrSysResetReq); err != nil {
		return err
	}
	if err := ctx.PollUntil("reset_and_halt", timeouts.ResetToHalt, pollInterval, func() (bool, error) {
		v, err := ctx.ReadCoreMem32(addrDHCSR)
		if err != nil {
			return false, nil
		}
		return v&dhcsrSHalt != 0 && v&dhcsrSResetSt == 0, nil
	}); err != nil {
		return err
	}
	return ctx.WriteCoreMem32(addrDEMCR, 0)
}

func init() {
	dapcore.MustRegisterSequence(genericArmv7M{})
}
