// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ap

import (
	"errors"
	"testing"

	"github.com/armdap/dapcore"
	"github.com/armdap/dapcore/dp"
	"github.com/armdap/dapcore/wire/wiretest"
)

func lineResetBits() []bool {
	bits := make([]bool, 52)
	for i := range bits[:50] {
		bits[i] = true
	}
	return bits
}

var jtagToSWDBits = func() []bool {
	out := make([]bool, 0, 16)
	for _, b := range []byte{0x9e, 0xe7} {
		for i := 0; i < 8; i++ {
			out = append(out, (b>>uint(i))&1 != 0)
		}
	}
	return out
}()

const bothAcks = 1<<29 | 1<<31

// dpSetupScript is the wire traffic dp.Mux's first Select on the default DP
// emits; router tests script it up front so the router-level assertions
// below aren't entangled with DP-level setup.
func dpSetupScript() []wiretest.Op {
	return []wiretest.Op{
		wiretest.SWJSequence(jtagToSWDBits),
		wiretest.SWJSequence(lineResetBits()),
		wiretest.ReadDP(0x0, 0x2ba01477),
		wiretest.WriteDP(0x0, 0x1e),
		wiretest.ReadDP(0x4, 0),
		wiretest.WriteDP(0x4, 0x50000000),
		wiretest.ReadDP(0x4, bothAcks),
		wiretest.WriteDP(0x8, 0),
	}
}

func setup(t *testing.T, extra []wiretest.Op) (*wiretest.Playback, *Router) {
	t.Helper()
	ops := dpSetupScript()
	ops = append(ops, extra...)
	p := wiretest.NewPlayback(ops)
	mux := dp.New(p, dapcore.DefaultTimeouts)
	if err := mux.Select(dapcore.DefaultDebugPort); err != nil {
		t.Fatalf("dp setup: %v", err)
	}
	return p, NewRouter(mux, dapcore.DefaultTimeouts)
}

func apAddr(ap uint8) dapcore.AccessPortAddress {
	return dapcore.ADIv5AP(dapcore.DefaultDebugPort, ap)
}

// buildIDR packs an IDR value from its fields, matching decodeIDR's layout.
func buildIDR(designerCont, designerID uint8, class Class, typ Type, variant, revision uint8) uint32 {
	designer := uint32(designerCont&0xf)<<7 | uint32(designerID&0x7f)
	return designer<<idrDesignerShift | uint32(class&0xf)<<idrClassShift |
		uint32(typ&0xf)<<idrTypeShift | uint32(variant&0xf)<<idrVariantShift |
		uint32(revision&0xf)<<idrRevisionShift
}

func TestSelectWriteMinimality(t *testing.T) {
	p, r := setup(t, []wiretest.Op{
		wiretest.WriteDP(0x8, 0xf0), // SELECT: APSEL=0, APBANKSEL=0xf0 (IDR's bank)
		wiretest.ReadAP(0, RegIDR, 0x12345678),
		wiretest.ReadAP(0, RegIDR, 0x12345678), // same bank, AP: no SELECT rewrite
		wiretest.WriteDP(0x8, 0x00000000),      // switch to bank 0 (CSW)
		wiretest.ReadAP(0, RegCSW, 0xcafe),
	})
	addr := apAddr(0)
	if _, err := r.ReadAP(addr, RegIDR); err != nil {
		t.Fatalf("ReadAP #1: %v", err)
	}
	if _, err := r.ReadAP(addr, RegIDR); err != nil {
		t.Fatalf("ReadAP #2: %v", err)
	}
	if _, err := r.ReadAP(addr, RegCSW); err != nil {
		t.Fatalf("ReadAP #3: %v", err)
	}
	if err := p.Done(); err != nil {
		t.Fatal(err)
	}
}

func TestWriteAPIsPostedUntilFlush(t *testing.T) {
	// Bank for TAR/DRW (0x0) matches the SELECT bank the DP setup sequence
	// already established, so no SELECT rewrite precedes these writes.
	p, r := setup(t, []wiretest.Op{
		wiretest.WriteAP(0, RegTAR, 0x20000000),
		wiretest.WriteAP(0, RegDRW, 0xdeadbeef),
		wiretest.ReadDP(0xc, 0), // flush's RDBUFF read
		wiretest.ReadDP(0x4, 0), // flush's CTRL/STAT WDATAERR check
	})
	addr := apAddr(0)
	if err := r.WriteAP(addr, RegTAR, 0x20000000); err != nil {
		t.Fatalf("WriteAP TAR: %v", err)
	}
	if err := r.WriteAP(addr, RegDRW, 0xdeadbeef); err != nil {
		t.Fatalf("WriteAP DRW: %v", err)
	}
	if err := r.Flush(addr); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := p.Done(); err != nil {
		t.Fatal(err)
	}
}

func TestReadAPRetriesOnWait(t *testing.T) {
	// RegDRW's bank (0x0) matches the SELECT bank the DP setup sequence
	// already established, so no SELECT rewrite precedes the read.
	p, r := setup(t, []wiretest.Op{
		wiretest.ReadAPErr(0, RegDRW, waitErr{}),
		wiretest.ReadAPErr(0, RegDRW, waitErr{}),
		wiretest.ReadAP(0, RegDRW, 0x42),
	})
	v, err := r.ReadAP(apAddr(0), RegDRW)
	if err != nil || v != 0x42 {
		t.Fatalf("ReadAP: v=%#x err=%v", v, err)
	}
	if err := p.Done(); err != nil {
		t.Fatal(err)
	}
}

func TestReadAPWaitBudgetExhausted(t *testing.T) {
	var ops []wiretest.Op
	for i := 0; i < dapcore.DefaultTimeouts.TransferWaitBudget; i++ {
		ops = append(ops, wiretest.ReadAPErr(0, RegDRW, waitErr{}))
	}
	p, r := setup(t, ops)
	_, err := r.ReadAP(apAddr(0), RegDRW)
	if _, ok := err.(*dapcore.TransferWaitError); !ok {
		t.Fatalf("ReadAP: got %v, want *dapcore.TransferWaitError", err)
	}
	if err := p.Done(); err != nil {
		t.Fatal(err)
	}
}

func TestIdentifyMemoryAP(t *testing.T) {
	idr := buildIDR(0, 0x3b, ClassMemoryAP, TypeAHB5, 0, 0)
	// IDR, CFG, BASE, and BASE2 all share SELECT bank 0xf0, so the whole
	// Identify call emits exactly one SELECT write.
	p, r := setup(t, []wiretest.Op{
		wiretest.WriteDP(0x8, 0xf0),
		wiretest.ReadAP(0, RegIDR, idr),
		wiretest.ReadAP(0, RegCFG, CFGLargeAddress),
		wiretest.ReadAP(0, RegBASE, 0xe00ff000|1),
		wiretest.ReadAP(0, RegBASE2, 0),
	})
	id, err := Identify(r, apAddr(0))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if id.Class != ClassMemoryAP || id.Type != TypeAHB5 {
		t.Fatalf("Identify: got class=%v type=%v", id.Class, id.Type)
	}
	if id.Designer.Name() != "Arm" {
		t.Fatalf("Identify: designer = %+v, want Arm", id.Designer)
	}
	if !id.BaseValid || id.Base != 0xe00ff000 {
		t.Fatalf("Identify: base=%#x valid=%v", id.Base, id.BaseValid)
	}
	mv, ok := id.MemoryVariant()
	if !ok {
		t.Fatal("MemoryVariant: not ok")
	}
	if mv.Variant() != "AHB5" {
		t.Fatalf("Variant: got %s", mv.Variant())
	}
	if err := p.Done(); err != nil {
		t.Fatal(err)
	}
}

func TestIdentifyApNotPresent(t *testing.T) {
	p, r := setup(t, []wiretest.Op{
		wiretest.WriteDP(0x8, 0xf0),
		wiretest.ReadAP(0, RegIDR, 0),
	})
	_, err := Identify(r, apAddr(0))
	if err != dapcore.ErrApNotPresent {
		t.Fatalf("Identify: got %v, want ErrApNotPresent", err)
	}
	if err := p.Done(); err != nil {
		t.Fatal(err)
	}
}

func TestFlushReportsPostedWriteLostOnWDATAERR(t *testing.T) {
	const ctrlWDATAERR = 1 << 7
	p, r := setup(t, []wiretest.Op{
		wiretest.WriteAP(0, RegTAR, 0x20000000),
		wiretest.WriteAP(0, RegDRW, 0xdeadbeef),
		wiretest.ReadDP(0xc, 0),            // flush's RDBUFF read
		wiretest.ReadDP(0x4, ctrlWDATAERR), // CTRL/STAT reports a lost write
		wiretest.WriteDP(0x0, 0x1e),        // CheckPostedWriteError's ABORT clear
	})
	addr := apAddr(0)
	if err := r.WriteAP(addr, RegTAR, 0x20000000); err != nil {
		t.Fatalf("WriteAP TAR: %v", err)
	}
	if err := r.WriteAP(addr, RegDRW, 0xdeadbeef); err != nil {
		t.Fatalf("WriteAP DRW: %v", err)
	}
	err := r.Flush(addr)
	if !errors.Is(err, dapcore.ErrPostedWriteLost) {
		t.Fatalf("Flush: got %v, want ErrPostedWriteLost", err)
	}
	if err := p.Done(); err != nil {
		t.Fatal(err)
	}
}

type waitErr struct{}

func (waitErr) Error() string      { return "wait" }
func (waitErr) TransferWait() bool { return true }
