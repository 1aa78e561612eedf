// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package batch

import (
	"testing"

	"github.com/armdap/dapcore/wire/wiretest"
)

type waitErr struct{}

func (waitErr) Error() string      { return "wait" }
func (waitErr) TransferWait() bool { return true }

func TestExecuteBatchedReadsSucceeds(t *testing.T) {
	p := wiretest.NewPlayback([]wiretest.Op{
		wiretest.ReadAP(0, 0x4, 0x11),
		wiretest.ReadAP(0, 0x8, 0x22),
		wiretest.ReadAP(0, 0xc, 0x33),
	})
	c := NewController(p)
	t0 := c.ScheduleRead(true, 0, 0x4)
	t1 := c.ScheduleRead(true, 0, 0x8)
	t2 := c.ScheduleRead(true, 0, 0xc)

	results, err := c.Execute()
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for i, tok := range []*Token{t0, t1, t2} {
		want := []uint32{0x11, 0x22, 0x33}[i]
		v, ok := results.Take(tok)
		if !ok || v != want {
			t.Fatalf("Take(token %d) = (%#x, %v), want (%#x, true)", i, v, ok, want)
		}
	}
	if err := p.Done(); err != nil {
		t.Fatal(err)
	}
}

func TestExecuteStopsAtFaultIndexThenRetries(t *testing.T) {
	p := wiretest.NewPlayback([]wiretest.Op{
		wiretest.ReadAP(0, 0x4, 1),
		wiretest.ReadAP(0, 0x8, 2),
		wiretest.ReadAPErr(0, 0xc, waitErr{}),
		wiretest.ReadAP(0, 0xc, 3), // reissued after the caller consumes the first two
	})
	c := NewController(p)
	c.ScheduleRead(true, 0, 0x4)
	c.ScheduleRead(true, 0, 0x8)
	t2 := c.ScheduleRead(true, 0, 0xc)

	_, err := c.Execute()
	fe, ok := err.(*FaultError)
	if !ok {
		t.Fatalf("Execute: err = %v, want *FaultError", err)
	}
	if fe.Index != 2 {
		t.Fatalf("FaultError.Index = %d, want 2", fe.Index)
	}
	if v, ok := fe.Results.Take(t2); ok {
		t.Fatalf("Results.Take(failing token) = (%#x, true), want ok=false", v)
	}

	// Accept the first two, then resubmit the one that WAITed.
	c.Consume(2)
	results, err := c.Execute()
	if err != nil {
		t.Fatalf("retry Execute: %v", err)
	}
	if v, ok := results.Take(t2); !ok || v != 3 {
		t.Fatalf("retry Take(t2) = (%#x, %v), want (3, true)", v, ok)
	}
	if err := p.Done(); err != nil {
		t.Fatal(err)
	}
}

func TestExecuteSequentialAttributesFaultToWriteIndex(t *testing.T) {
	p := wiretest.NewPlayback([]wiretest.Op{
		wiretest.WriteAP(0, 0x4, 0xa),
		wiretest.WriteAP(0, 0x8, 0xb),
		wiretest.WriteAPErr(0, 0xc, 0xc, waitErr{}),
		wiretest.WriteAP(0, 0xc, 0xc), // resubmitted on its own once accepted up to it
	})
	c := NewController(p)
	c.ScheduleWrite(true, 0, 0x4, 0xa)
	c.ScheduleWrite(true, 0, 0x8, 0xb)
	c.ScheduleWrite(true, 0, 0xc, 0xc)

	_, err := c.Execute()
	fe, ok := err.(*FaultError)
	if !ok {
		t.Fatalf("Execute: err = %v, want *FaultError", err)
	}
	if fe.Index != 2 {
		t.Fatalf("FaultError.Index = %d, want 2", fe.Index)
	}
	if _, ok := fe.Err.(waitErr); !ok {
		t.Fatalf("FaultError.Unwrap() = %v, want waitErr", fe.Err)
	}

	c.Consume(2)
	if _, err := c.Execute(); err != nil {
		t.Fatalf("retry Execute: %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("Len() after retry = %d, want 0", c.Len())
	}
	if err := p.Done(); err != nil {
		t.Fatal(err)
	}
}

func TestRewindRejectsPastCursor(t *testing.T) {
	p := wiretest.NewPlayback(nil)
	c := NewController(p)
	c.ScheduleRead(true, 0, 0x4)
	if c.Rewind(1) {
		t.Fatal("Rewind(1) on an empty cursor: want false")
	}
}

func TestTokenDiscardSkipsCapture(t *testing.T) {
	p := wiretest.NewPlayback([]wiretest.Op{
		wiretest.ReadAP(0, 0x4, 0x11),
		wiretest.ReadAP(0, 0x8, 0x22),
	})
	c := NewController(p)
	keep := c.ScheduleRead(true, 0, 0x4)
	discard := c.ScheduleRead(true, 0, 0x8)
	discard.Discard()

	results, err := c.Execute()
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if v, ok := results.Take(keep); !ok || v != 0x11 {
		t.Fatalf("Take(keep) = (%#x, %v), want (0x11, true)", v, ok)
	}
	if v, ok := results.Take(discard); ok {
		t.Fatalf("Take(discard) = (%#x, true), want ok=false", v)
	}
	if err := p.Done(); err != nil {
		t.Fatal(err)
	}
}

func TestExecuteSequentialRoutesDPOps(t *testing.T) {
	// A write in the batch forces the sequential path; mix in DP reads and
	// writes to exercise the IsAP=false branch of both.
	p := wiretest.NewPlayback([]wiretest.Op{
		wiretest.ReadDP(0x4, 0x99),
		wiretest.WriteDP(0x8, 0x1e),
		wiretest.WriteAP(0, 0x4, 0x5),
	})
	c := NewController(p)
	dpRead := c.ScheduleRead(false, 0, 0x4)
	c.ScheduleWrite(false, 0, 0x8, 0x1e)
	c.ScheduleWrite(true, 0, 0x4, 0x5)

	results, err := c.Execute()
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if v, ok := results.Take(dpRead); !ok || v != 0x99 {
		t.Fatalf("Take(dpRead) = (%#x, %v), want (0x99, true)", v, ok)
	}
	if err := p.Done(); err != nil {
		t.Fatal(err)
	}
}
