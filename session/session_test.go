// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package session

import (
	"errors"
	"testing"

	"github.com/armdap/dapcore"
	"github.com/armdap/dapcore/ap"
	"github.com/armdap/dapcore/chip"
	"github.com/armdap/dapcore/dp"
	"github.com/armdap/dapcore/mem"
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

// dpBringUpOps is the wire traffic dp.Mux's first Select on the default DP
// emits, replicated here (rather than imported) because it is unexported
// inside package dp; dp/dp_test.go and ap/ap_test.go script the identical
// sequence the same way.
func dpBringUpOps() []wiretest.Op {
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

// buildIDR packs an IDR value from its fields, matching ap's decodeIDR
// layout (ap.decodeIDR is unexported; ap_test.go builds the same way).
func buildIDR(designerCont, designerID uint8, class ap.Class, typ ap.Type) uint32 {
	designer := uint32(designerCont&0xf)<<7 | uint32(designerID&0x7f)
	return designer<<17 | uint32(class&0xf)<<13 | uint32(typ&0xf)<<0
}

// apEnumerationOps replays ap.Router.ensureSelected's own SELECT-write-
// minimality logic to compute the exact wire trace session.enumerateAPs
// produces when walking every ADIv5 AP index: a SELECT write whenever
// APSEL/APBANKSEL changes (every index here, since IDR's APBANKSEL is
// constant but APSEL advances every iteration), followed by an IDR read,
// and — for presentIdx only — the follow-up CFG/BASE reads Identify issues
// for a memory AP.
func apEnumerationOps(presentIdx uint8, idr, cfg, base uint32) []wiretest.Op {
	var ops []wiretest.Op
	var cur uint32
	const mask = dp.SelectAPBankMask | dp.SelectAPSelMask
	for i := 0; i <= 255; i++ {
		idx := uint8(i)
		want := uint32(idx)<<dp.SelectAPSelShift | uint32(ap.RegIDR&0xf0)
		if cur&mask != want&mask {
			cur = want&mask | cur&^mask
			ops = append(ops, wiretest.WriteDP(0x8, cur))
		}
		if idx == presentIdx {
			ops = append(ops,
				wiretest.ReadAP(idx, ap.RegIDR, idr),
				wiretest.ReadAP(idx, ap.RegCFG, cfg),
				wiretest.ReadAP(idx, ap.RegBASE, base),
			)
			continue
		}
		ops = append(ops, wiretest.ReadAP(idx, ap.RegIDR, 0))
	}
	return ops
}

func TestAttachBindsOneCoreToItsAP(t *testing.T) {
	idr := buildIDR(0, 0x3b, ap.ClassMemoryAP, ap.TypeAHB3)
	ops := dpBringUpOps()
	ops = append(ops, apEnumerationOps(0, idr, 0, 0)...) // BASE bit0 clear: no ROM pointer
	// attachCore's enableDebug: SELECT back to AP 0 bank 0, then the DHCSR
	// write and the flush that follows it.
	ops = append(ops,
		wiretest.WriteDP(0x8, 0),
		wiretest.WriteAP(0, ap.RegCSW, cswForAHB3Word32),
		wiretest.WriteAP(0, ap.RegTAR, addrDHCSR),
		wiretest.WriteAP(0, ap.RegDRW, dhcsrDbgKey|dhcsrCDebugEn),
		wiretest.ReadDP(0xc, 0),
		wiretest.ReadDP(0x4, 0),
	)
	p := wiretest.NewPlayback(ops)

	desc := &chip.Description{
		Name: "test-chip",
		Cores: []chip.Core{
			{Name: "core0", Architecture: "armv7m", AP: 0},
		},
	}
	s, err := Attach(p, desc, dapcore.DefaultTimeouts)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if got := s.CoreNames(); len(got) != 1 || got[0] != "core0" {
		t.Fatalf("CoreNames() = %v, want [core0]", got)
	}
	core, ok := s.Core("core0")
	if !ok {
		t.Fatal("Core(core0): not found")
	}
	if core.Name() != "core0" {
		t.Fatalf("Name() = %q", core.Name())
	}
	if len(core.Components()) != 0 {
		t.Fatalf("Components() = %v, want none (no ROM-table pointer)", core.Components())
	}
	if err := p.Done(); err != nil {
		t.Fatal(err)
	}
}

func TestAttachRejectsCoreWithNoMatchingAP(t *testing.T) {
	ops := dpBringUpOps()
	ops = append(ops, apEnumerationOps(255 /* no present AP */, 0, 0, 0)...)
	p := wiretest.NewPlayback(ops)

	desc := &chip.Description{
		Name:  "test-chip",
		Cores: []chip.Core{{Name: "core0", Architecture: "armv7m", AP: 3}},
	}
	_, err := Attach(p, desc, dapcore.DefaultTimeouts)
	if !errors.Is(err, dapcore.ErrArchitectureMismatch) {
		t.Fatalf("Attach: got %v, want ErrArchitectureMismatch", err)
	}
}

// newTestCore builds a CoreHandle sitting on AP 0, bank 0 — the same bank
// CSW/TAR/DRW all live in, so (as in mem_test.go) no SELECT write appears
// anywhere in these traces: the cached value left by dp bring-up already
// matches.
func newTestCore(t *testing.T, extra []wiretest.Op) (*wiretest.Playback, *CoreHandle) {
	t.Helper()
	ops := append(dpBringUpOps(), extra...)
	p := wiretest.NewPlayback(ops)
	mux := dp.New(p, dapcore.DefaultTimeouts)
	if err := mux.Select(dapcore.DefaultDebugPort); err != nil {
		t.Fatalf("dp setup: %v", err)
	}
	router := ap.NewRouter(mux, dapcore.DefaultTimeouts)
	ident := ap.Identity{Class: ap.ClassMemoryAP, Type: ap.TypeAHB3}
	variant, ok := ident.MemoryVariant()
	if !ok {
		t.Fatal("MemoryVariant: not ok")
	}
	addr := dapcore.ADIv5AP(dapcore.DefaultDebugPort, 0)
	engine := mem.NewEngine(router, addr, variant, ident)

	if _, err := dapcore.InitSequences(); err != nil {
		t.Fatalf("InitSequences: %v", err)
	}
	provider, ok := dapcore.LookupSequence("armv7m")
	if !ok {
		t.Fatal(`LookupSequence("armv7m"): not found`)
	}
	s := &Session{timeouts: dapcore.DefaultTimeouts}
	return p, &CoreHandle{session: s, name: "core0", engine: engine, seq: provider.Sequence()}
}

// cswForAHB3Word32 is the CSW value ensureCSW writes for a single 32-bit
// word access through the default-access AHB3 variant newTestCore builds.
const cswForAHB3Word32 uint32 = ap.CSWMasterDebug | 3<<24 | ap.CSWSize32 | ap.CSWAddrIncSingle

func TestHaltWritesDHCSRAndWaitsForHalt(t *testing.T) {
	ops := []wiretest.Op{
		wiretest.WriteAP(0, ap.RegCSW, cswForAHB3Word32),
		wiretest.WriteAP(0, ap.RegTAR, addrDHCSR),
		wiretest.WriteAP(0, ap.RegDRW, dhcsrDbgKey|dhcsrCDebugEn|dhcsrCHalt),
		wiretest.ReadDP(0xc, 0), // flush after the DHCSR write: RDBUFF
		wiretest.ReadDP(0x4, 0), // flush after the DHCSR write: CTRL/STAT WDATAERR check
		wiretest.WriteAP(0, ap.RegTAR, addrDHCSR),
		wiretest.ReadAP(0, ap.RegDRW, dhcsrSHalt),
	}
	p, core := newTestCore(t, ops)
	if err := core.Halt(); err != nil {
		t.Fatalf("Halt: %v", err)
	}
	if err := p.Done(); err != nil {
		t.Fatal(err)
	}
}

func TestSetHwBreakpointEnablesFPBAndProgramsComparator(t *testing.T) {
	const (
		targetAddr = 0x08000100
		numCode    = 6 // FP_CTRL.NUM_CODE bits[7:4]
		fpCtrlRaw  = numCode << 4
		compValue  = uint32(targetAddr) | fpCompEnable | fpCompReplaceLower
	)
	ops := []wiretest.Op{
		wiretest.WriteAP(0, ap.RegCSW, cswForAHB3Word32),
		wiretest.WriteAP(0, ap.RegTAR, addrFPCTRL),
		wiretest.ReadAP(0, ap.RegDRW, fpCtrlRaw), // fpCtrl(): FPB currently disabled
		wiretest.WriteAP(0, ap.RegTAR, addrFPCTRL),
		wiretest.WriteAP(0, ap.RegDRW, fpCtrlEnable|fpCtrlKey),
		wiretest.ReadDP(0xc, 0), // flush after enabling the FPB: RDBUFF
		wiretest.ReadDP(0x4, 0), // flush after enabling the FPB: CTRL/STAT WDATAERR check
		wiretest.WriteAP(0, ap.RegTAR, addrFPCOMP0),
		wiretest.WriteAP(0, ap.RegDRW, compValue),
		wiretest.ReadDP(0xc, 0), // flush after programming the comparator: RDBUFF
		wiretest.ReadDP(0x4, 0), // flush after programming the comparator: CTRL/STAT WDATAERR check
	}
	p, core := newTestCore(t, ops)
	if err := core.SetHwBreakpoint(targetAddr); err != nil {
		t.Fatalf("SetHwBreakpoint: %v", err)
	}
	if err := p.Done(); err != nil {
		t.Fatal(err)
	}
	if err := core.SetHwBreakpoint(targetAddr); err != nil {
		t.Fatalf("SetHwBreakpoint (repeat, want no-op): %v", err)
	}
}

func TestAvailableBreakpointUnitsReportsAllWhenNoneUsed(t *testing.T) {
	const fpCtrlRaw = 4 << 4 // NUM_CODE=4
	ops := []wiretest.Op{
		wiretest.WriteAP(0, ap.RegCSW, cswForAHB3Word32),
		wiretest.WriteAP(0, ap.RegTAR, addrFPCTRL),
		wiretest.ReadAP(0, ap.RegDRW, fpCtrlRaw),
	}
	p, core := newTestCore(t, ops)
	n, err := core.AvailableBreakpointUnits()
	if err != nil {
		t.Fatalf("AvailableBreakpointUnits: %v", err)
	}
	if n != 4 {
		t.Fatalf("AvailableBreakpointUnits() = %d, want 4", n)
	}
	if err := p.Done(); err != nil {
		t.Fatal(err)
	}
}

// fatalWireErr causes isFatal to poison the session.
type fatalWireErr struct{}

func (fatalWireErr) Error() string { return "fatal" }

func TestFatalErrorPoisonsSession(t *testing.T) {
	ops := []wiretest.Op{
		wiretest.WriteAP(0, ap.RegCSW, cswForAHB3Word32),
		wiretest.WriteAP(0, ap.RegTAR, addrDHCSR),
		{Kind: "wap", AP: 0, Addr: ap.RegDRW, Value: dhcsrDbgKey | dhcsrCDebugEn, Err: &dapcore.WireError{Op: "wap", Err: fatalWireErr{}}},
	}
	_, core := newTestCore(t, ops)
	if err := core.Run(); err == nil {
		t.Fatal("Run: want error")
	}
	if !core.session.poisoned {
		t.Fatal("session: want poisoned after a fatal wire error")
	}
	if _, err := core.Status(); err != dapcore.ErrSessionPoisoned {
		t.Fatalf("Status on a poisoned session: got %v, want ErrSessionPoisoned", err)
	}
}
