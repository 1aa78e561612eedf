// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package dapcore

import "time"

// SequenceContext is the narrow set of core operations a ResetSequence
// needs, implemented by session.CoreHandle. It exists so vendor sequence
// packages (and this root package's registry) never need to import
// session, the same inversion a driver registry uses to avoid importing
// the host packages that implement its drivers.
type SequenceContext interface {
	// WriteCoreMem32 writes a single 32-bit word to core-local memory (used
	// for DHCSR/AIRCR/DEMCR-style control registers).
	WriteCoreMem32(addr uint64, value uint32) error
	// ReadCoreMem32 reads a single 32-bit word from core-local memory.
	ReadCoreMem32(addr uint64) (uint32, error)
	// PollUntil polls cond every interval until it returns true or timeout
	// elapses, returning a *TimeoutError named op on expiry.
	PollUntil(op string, timeout, interval time.Duration, cond func() (bool, error)) error
}

// ResetSequence governs the chip-specific steps of a system reset and of a
// reset-and-halt. The default implementation (session package) follows the
// generic Armv6-M/Armv7-M/Armv8-M recipe; a chip description may instead
// name a vendor override registered here under its own name, for silicon
// whose reset controller needs something different.
type ResetSequence interface {
	// SystemReset asserts a system-level reset request and waits for the
	// target to come back up.
	SystemReset(ctx SequenceContext, timeouts Timeouts) error
	// ResetAndHalt arms a vector catch, resets, and waits for the core to
	// halt at the reset vector.
	ResetAndHalt(ctx SequenceContext, timeouts Timeouts) error
}

// SequenceProvider registers a named, reusable ResetSequence: a unique
// name, a list of prerequisite names that must register first, and an Init
// step that self-validates before the sequence is made available to
// sessions.
type SequenceProvider interface {
	// String returns the sequence's unique, registered name (e.g.
	// "armv7m-generic", "nxp-lpc55").
	String() string
	// Prerequisites lists provider names that must already be registered.
	// A provider naming a prerequisite that is never registered makes
	// InitSequences fail.
	Prerequisites() []string
	// Init validates the provider and returns (true, nil) to make Sequence
	// available, (false, err) to skip it, or (true, err) to mark it failed.
	Init() (bool, error)
	// Sequence returns the ResetSequence this provider supplies, valid only
	// after a successful Init.
	Sequence() ResetSequence
}
