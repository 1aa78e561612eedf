// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package batch implements a command queue for probes that support
// batched register transactions (CMSIS-DAP multi-transfer, FTDI MPSSE
// chains), transparent when the probe does not: schedule, execute,
// consume, and rewind, so a caller can retry from just before a failed
// command instead of redoing an entire batch.
package batch

import (
	"fmt"

	"github.com/armdap/dapcore/wire"
)

// Token identifies one scheduled command's result. The zero value is not
// usable; Controller.ScheduleRead and Controller.ScheduleWrite return the
// only valid Tokens.
//
// Rust's reference-counted DeferredResultIndex (original_source/probe-rs's
// probe/queue.rs) detects a dropped token through its Arc strong count,
// letting the queue skip capturing a result nobody will read. Go has no
// Drop/RAII to mirror that implicitly; Discard is the explicit equivalent
// a caller invokes for the same fire-and-forget case.
type Token struct {
	idx      int
	captured *bool
}

// Discard marks this token's result as not worth capturing: Execute still
// issues the command, but a read's value is not recorded in the ResultSet.
// Write results are never captured, so Discard has no effect on a write's
// token.
func (t *Token) Discard() {
	*t.captured = false
}

type command struct {
	op       wire.ReadOp
	write    *wire.WriteOp
	captured *bool
}

// Controller queues DP/AP register commands and executes them against w,
// using w's BatchCapable fast path for an all-read batch (which reports
// exact partial-completion counts on failure) and falling back to a
// sequential, one-command-at-a-time execution otherwise, so a FAULT mid
// batch is attributable to the exact command that caused it.
type Controller struct {
	w    wire.Interface
	cmds []command
	// cursor is how many leading commands have already been consumed
	// (executed successfully and accepted by the caller); Schedule always
	// appends past it, Rewind moves it back.
	cursor int
}

// NewController returns a Controller driving w.
func NewController(w wire.Interface) *Controller {
	return &Controller{w: w}
}

// Len reports the number of not-yet-consumed scheduled commands.
func (c *Controller) Len() int { return len(c.cmds) - c.cursor }

// ScheduleRead queues a register read and returns a Token for its result.
func (c *Controller) ScheduleRead(isAP bool, ap, addr uint8) *Token {
	captured := new(bool)
	*captured = true
	c.cmds = append(c.cmds, command{
		op:       wire.ReadOp{IsAP: isAP, AP: ap, Addr: addr},
		captured: captured,
	})
	return &Token{idx: len(c.cmds) - 1, captured: captured}
}

// ScheduleWrite queues a register write and returns a Token for its
// acknowledgement.
func (c *Controller) ScheduleWrite(isAP bool, ap, addr uint8, value uint32) *Token {
	captured := new(bool)
	*captured = true
	w := wire.WriteOp{IsAP: isAP, AP: ap, Addr: addr, Value: value}
	c.cmds = append(c.cmds, command{write: &w, captured: captured})
	return &Token{idx: len(c.cmds) - 1, captured: captured}
}

// Consume drops the first n not-yet-consumed commands, normally called
// after Execute reports n of them succeeded.
func (c *Controller) Consume(n int) {
	c.cursor += n
}

// Rewind moves the cursor back by n commands so they are resubmitted on
// the next Execute, for a caller recovering from a failure it wants to
// retry. Returns false if n exceeds how far the cursor can move back.
func (c *Controller) Rewind(n int) bool {
	if n > c.cursor {
		return false
	}
	c.cursor -= n
	return true
}

// ResultSet holds the values read back by Execute, keyed by Token.
type ResultSet struct {
	values map[int]uint32
}

// Take retrieves t's result. ok is false if t's command was a write,
// or t was discarded before execution.
func (r *ResultSet) Take(t *Token) (value uint32, ok bool) {
	if r == nil {
		return 0, false
	}
	v, ok := r.values[t.idx]
	return v, ok
}

// FaultError reports that the command at Index (within the batch Execute
// was asked to run, zero-based) failed; Results holds whatever commands
// before it succeeded.
type FaultError struct {
	Index   int
	Err     error
	Results *ResultSet
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("batch: command %d failed: %v", e.Index, e.Err)
}
func (e *FaultError) Unwrap() error { return e.Err }

// Execute runs every not-yet-consumed scheduled command. On success, it
// returns a ResultSet and advances the cursor past all of them (as if
// Consume(Len()) were called). On failure it returns a *FaultError whose
// Index names the failing command and whose Results holds every captured
// value up to that point; the cursor is left unmoved so the caller can
// Consume the successful prefix and Rewind or resubmit from the failure.
func (c *Controller) Execute() (*ResultSet, error) {
	pending := c.cmds[c.cursor:]
	if len(pending) == 0 {
		return &ResultSet{}, nil
	}
	if allReads(pending) {
		if bc, ok := c.w.(wire.BatchCapable); ok {
			return c.executeBatchedReads(bc, pending)
		}
	}
	return c.executeSequential(pending)
}

func allReads(cmds []command) bool {
	for _, cmd := range cmds {
		if cmd.write != nil {
			return false
		}
	}
	return true
}

// executeBatchedReads submits every pending read in one SubmitBlock call.
// SubmitBlock's returned slice length is a reliable partial-completion
// count for a reads-only batch (unlike a batch containing writes, where
// no such count is available — see ap.Router.WriteAPBlock for the same
// asymmetry), so a failure here can still report an exact Index.
func (c *Controller) executeBatchedReads(bc wire.BatchCapable, pending []command) (*ResultSet, error) {
	reads := make([]wire.ReadOp, len(pending))
	for i, cmd := range pending {
		reads[i] = cmd.op
	}
	vals, err := bc.SubmitBlock(reads, nil)
	results := &ResultSet{values: make(map[int]uint32, len(vals))}
	for i, v := range vals {
		cmd := pending[i]
		if *cmd.captured {
			results.values[c.cursor+i] = v
		}
	}
	if err != nil {
		return nil, &FaultError{Index: len(vals), Err: err, Results: results}
	}
	c.cursor += len(pending)
	return results, nil
}

func (c *Controller) executeSequential(pending []command) (*ResultSet, error) {
	results := &ResultSet{values: make(map[int]uint32, len(pending))}
	for i, cmd := range pending {
		idx := c.cursor + i
		if w := cmd.write; w != nil {
			var err error
			if w.IsAP {
				err = c.w.WriteAP(w.AP, w.Addr, w.Value)
			} else {
				err = c.w.WriteDP(w.Addr, w.Value)
			}
			if err != nil {
				return nil, &FaultError{Index: i, Err: err, Results: results}
			}
			continue
		}
		var v uint32
		var err error
		if cmd.op.IsAP {
			v, err = c.w.ReadAP(cmd.op.AP, cmd.op.Addr)
		} else {
			v, err = c.w.ReadDP(cmd.op.Addr)
		}
		if err != nil {
			return nil, &FaultError{Index: i, Err: err, Results: results}
		}
		if *cmd.captured {
			results.values[idx] = v
		}
	}
	c.cursor += len(pending)
	return results, nil
}
