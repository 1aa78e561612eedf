// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package dapcore

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that carry no extra data. Structural
// conditions that cause graceful degradation (ErrApNotPresent) are
// distinguished from fatal ones (ErrSessionPoisoned) only by how callers are
// expected to react, not by type.
var (
	// ErrApNotPresent is returned when an AP's IDR reads as zero at an
	// expected address. Non-fatal: enumeration skips the AP.
	ErrApNotPresent = errors.New("dapcore: access port not present")

	// ErrPostedWriteLost is returned (wrapped) by ap.Router.Flush when
	// CTRL/STAT.WDATAERR reports that a posted write was lost. The numbers
	// of posted and acknowledged writes are not compared.
	ErrPostedWriteLost = errors.New("dapcore: posted write acknowledgement lost")

	// ErrSessionPoisoned is returned by every core-handle operation once a fatal DP error has marked the session unusable.
	ErrSessionPoisoned = errors.New("dapcore: session poisoned by a prior fatal error")

	// ErrArchitectureMismatch is returned when a core operation is invoked
	// against an AP that does not host that architecture.
	ErrArchitectureMismatch = errors.New("dapcore: architecture mismatch")

	// ErrAddressOutOfRange is returned when an address exceeds the AP's
	// addressing capability (e.g. a 32-bit-only AP asked to address above
	// 4 GiB).
	ErrAddressOutOfRange = errors.New("dapcore: address out of range for access port")

	// ErrADIv6NestingUnsupported is returned for an ADIv6 AccessPortAddress
	// with more than one addressing level. dapcore supports single-level
	// ADIv6 APs, the overwhelming majority of real targets.
	ErrADIv6NestingUnsupported = errors.New("dapcore: multi-level ADIv6 AP addressing not supported")
)

// WireError wraps a transport failure from beneath the DP layer. It is
// always surfaced to the caller, never retried beyond the bounded policy in
// dp.Mux.
type WireError struct {
	Op  string
	Err error
}

func (e *WireError) Error() string { return fmt.Sprintf("dapcore: wire error during %s: %v", e.Op, e.Err) }
func (e *WireError) Unwrap() error { return e.Err }

// TargetSelNackError is returned by dp.Mux.Select when a multidrop DP does
// not respond to its TARGETSEL value.
type TargetSelNackError struct {
	DP DebugPortAddress
}

func (e *TargetSelNackError) Error() string {
	return fmt.Sprintf("dapcore: %s did not acknowledge TARGETSEL", e.DP)
}

// DebugPortFaultedError marks a DP as permanently unusable: an unclearable
// sticky error, or a repeated protocol failure.
type DebugPortFaultedError struct {
	DP     DebugPortAddress
	Reason string
}

func (e *DebugPortFaultedError) Error() string {
	return fmt.Sprintf("dapcore: %s faulted: %s", e.DP, e.Reason)
}

// TransferWaitError is returned once the retry budget for WAIT responses is
// exhausted. It is never returned for a single transient WAIT, which is
// retried transparently.
type TransferWaitError struct {
	Attempts int
	Err      error
}

func (e *TransferWaitError) Error() string {
	return fmt.Sprintf("dapcore: target busy (WAIT) after %d attempts", e.Attempts)
}
func (e *TransferWaitError) Unwrap() error { return e.Err }

// TransferFaultError is returned when the target refuses a memory
// transaction (AP-level FAULT). It aborts the current range but is not
// fatal for the session.
type TransferFaultError struct {
	Addr uint64
}

func (e *TransferFaultError) Error() string {
	return fmt.Sprintf("dapcore: transfer fault at 0x%x", e.Addr)
}

// TargetBusFaultError is returned when an address is unmapped or the target
// bus refused the access. Addr is recovered from the last committed TAR
// plus the offset into the current chunk.
type TargetBusFaultError struct {
	Addr uint64
}

func (e *TargetBusFaultError) Error() string {
	return fmt.Sprintf("dapcore: target bus fault at 0x%x", e.Addr)
}

// InvalidComponentError is returned when a ROM-table entry fails the
// CoreSight preamble check. The offending subtree is skipped, not the whole
// walk.
type InvalidComponentError struct {
	Base uint64
}

func (e *InvalidComponentError) Error() string {
	return fmt.Sprintf("dapcore: invalid CoreSight component at 0x%x", e.Base)
}

// TimeoutError is returned by every deadline-bounded operation (power-up,
// reset, halt) that did not complete in time.
type TimeoutError struct {
	Op      string
	Timeout string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("dapcore: %s timed out after %s", e.Op, e.Timeout)
}

// PoisonedError wraps any error that caused a session to be marked
// poisoned, preserving it for errors.As/errors.Unwrap while every
// subsequent operation on that session instead returns ErrSessionPoisoned
// directly.
type PoisonedError struct {
	Cause error
}

func (e *PoisonedError) Error() string { return fmt.Sprintf("dapcore: fatal: %v", e.Cause) }
func (e *PoisonedError) Unwrap() error { return e.Cause }
