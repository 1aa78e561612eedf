// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package wire defines the transport contract dapcore consumes to exchange
// raw DP/AP register reads and writes with one probe. It implements none of
// it: the USB/HID link to any specific probe is out of scope. dapcore/dp,
// ap.Router (through dp.Mux.Wire) and dapcore/batch talk to an Interface
// directly.
package wire

import "fmt"

// Interface is the transport a probe driver implements. Four register
// functions suffice, plus two low-level sequence primitives used for line
// resets, protocol switches, and direct nRESET control.
//
// All methods may block on real I/O; there is no cancellation, only the
// deadline parameters threaded through the layers above.
type Interface interface {
	fmt.Stringer

	// ReadDP reads a Debug Port register. addr is the 2-bit register
	// address within the currently selected bank (the caller is
	// responsible for having selected the right bank via a prior WriteDP
	// to SELECT).
	ReadDP(addr uint8) (uint32, error)
	// WriteDP writes a Debug Port register.
	WriteDP(addr uint8, value uint32) error
	// ReadAP reads an Access Port register. The result of an AP read is
	// posted: it appears on the following ReadDP(RDBUFF) or the next
	// ReadAP, per ADIv5's posted-read rule. ap identifies which AP this
	// targets at the wire level (ADIv5 APSEL or ADIv6 SELECT1 value,
	// already resolved by the caller).
	ReadAP(ap uint8, addr uint8) (uint32, error)
	// WriteAP writes an Access Port register. Writes are posted: their
	// acknowledgement is observed on a later CTRL/STAT or RDBUFF read.
	WriteAP(ap uint8, addr uint8, value uint32) error

	// SWJSequence emits the given sequence of bits (MSB of each byte
	// irrelevant; one bool per clock cycle) on the SWDIO/TMS line. Used for
	// line resets, JTAG-to-SWD and SWD-to-JTAG switch sequences.
	SWJSequence(bits []bool) error
	// SWJPins drives the probe's direct GPIO lines (nRESET, nTRST, ...).
	// out and sel are bitmasks over the same pin encoding; wait bounds how
	// long to poll for the pins to settle before returning their sampled
	// state.
	SWJPins(out, sel uint8, wait uint32) (uint8, error)
}

// BatchCapable is implemented by probes that support submitting several
// register transactions in one USB round trip (CMSIS-DAP multi-transfer,
// FTDI MPSSE chains). dapcore/batch uses it when present and falls back to
// one-at-a-time Interface calls otherwise.
type BatchCapable interface {
	Interface

	// SubmitBlock issues reads and writes as a single batched transaction
	// and returns the values read, in order. writes are applied in the
	// order given; reads likewise. The two are not required to interleave
	// in program order — a probe is free to reorder within a batch as long
	// as posted-write semantics are preserved for AP accesses to the same
	// bank.
	SubmitBlock(reads []ReadOp, writes []WriteOp) ([]uint32, error)
}

// ReadOp is one read within a BatchCapable.SubmitBlock call.
type ReadOp struct {
	// IsAP distinguishes an AP register read from a DP register read.
	IsAP bool
	AP   uint8
	Addr uint8
}

// WriteOp is one write within a BatchCapable.SubmitBlock call.
type WriteOp struct {
	IsAP  bool
	AP    uint8
	Addr  uint8
	Value uint32
}
