// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mem

import (
	"testing"

	"github.com/armdap/dapcore"
	"github.com/armdap/dapcore/ap"
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

// setup brings up a Router already sitting on AP 0 bank 0 (matching the
// CSW/TAR/DRW bank), and returns the scripted Playback alongside it.
func setup(t *testing.T, extra []wiretest.Op) (*wiretest.Playback, *ap.Router) {
	t.Helper()
	ops := append(dpSetupScript(), extra...)
	p := wiretest.NewPlayback(ops)
	mux := dp.New(p, dapcore.DefaultTimeouts)
	if err := mux.Select(dapcore.DefaultDebugPort); err != nil {
		t.Fatalf("dp setup: %v", err)
	}
	return p, ap.NewRouter(mux, dapcore.DefaultTimeouts)
}

func apAddr() dapcore.AccessPortAddress {
	return dapcore.ADIv5AP(dapcore.DefaultDebugPort, 0)
}

// ahb5 returns a byte-lane-capable memory-AP variant with the corpus's
// default privileged+data, secure access bits.
func ahb5() ap.MemoryAP {
	mv, _ := ap.Identity{Class: ap.ClassMemoryAP, Type: ap.TypeAHB5}.MemoryVariant()
	return mv
}

// apb23 returns a 32-bit-only memory-AP variant (no byte-lane support).
func apb23() ap.MemoryAP {
	mv, _ := ap.Identity{Class: ap.ClassMemoryAP, Type: ap.TypeAPB2_3}.MemoryVariant()
	return mv
}

const (
	ahb5CSW32Off    uint32 = 0x63000002
	ahb5CSW8Off     uint32 = 0x63000000
	ahb5CSW32Single uint32 = 0x63000012
	apb23CSW32Off   uint32 = 0x21000002
)

func TestNarrowReadSingleByteIsOneDRWRead(t *testing.T) {
	p, r := setup(t, []wiretest.Op{
		wiretest.WriteAP(0, ap.RegCSW, ahb5CSW8Off),
		wiretest.WriteAP(0, ap.RegTAR, 0x20000001),
		wiretest.ReadAP(0, ap.RegDRW, 0xcafe4200),
	})
	e := NewEngine(r, apAddr(), ahb5(), ap.Identity{})
	var buf [1]byte
	if err := e.Read(0x20000001, buf[:]); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if buf[0] != 0x42 {
		t.Fatalf("Read: got %#x, want 0x42", buf[0])
	}
	if err := p.Done(); err != nil {
		t.Fatal(err)
	}
}

func TestNarrowWriteSharesOneTARProgram(t *testing.T) {
	// APB23 has no byte lane, so a single-byte write at an unaligned
	// address falls back to read-modify-write on the containing word.
	// The read and the write both target the same TAR, which the cache
	// lets the engine program only once.
	p, r := setup(t, []wiretest.Op{
		wiretest.WriteAP(0, ap.RegCSW, apb23CSW32Off),
		wiretest.WriteAP(0, ap.RegTAR, 0x20000000),
		wiretest.ReadAP(0, ap.RegDRW, 0x11223344),
		wiretest.WriteAP(0, ap.RegDRW, 0x11225544),
		wiretest.ReadDP(0xc, 0), // writeSized's Flush: RDBUFF
		wiretest.ReadDP(0x4, 0), // writeSized's Flush: CTRL/STAT WDATAERR check
	})
	e := NewEngine(r, apAddr(), apb23(), ap.Identity{})
	if err := e.Write(0x20000001, []byte{0x55}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := p.Done(); err != nil {
		t.Fatal(err)
	}
}

func TestBlockReadSplitsAtWindowBoundary(t *testing.T) {
	// 16 words starting at 0x2000_03F0: 4 words reach the 1 KiB boundary
	// at 0x2000_0400, the remaining 12 start a fresh window.
	var first [4]wiretest.Op
	for i := range first {
		first[i] = wiretest.ReadAP(0, ap.RegDRW, uint32(0x100+i))
	}
	var second [12]wiretest.Op
	for i := range second {
		second[i] = wiretest.ReadAP(0, ap.RegDRW, uint32(0x200+i))
	}
	ops := []wiretest.Op{
		wiretest.WriteAP(0, ap.RegCSW, ahb5CSW32Single),
		wiretest.WriteAP(0, ap.RegTAR, 0x200003f0),
	}
	ops = append(ops, first[:]...)
	ops = append(ops, wiretest.WriteAP(0, ap.RegTAR, 0x20000400))
	ops = append(ops, second[:]...)

	p, r := setup(t, ops)
	e := NewEngine(r, apAddr(), ahb5(), ap.Identity{})
	buf := make([]uint32, 16)
	if err := e.ReadBlock32(0x200003f0, buf); err != nil {
		t.Fatalf("ReadBlock32: %v", err)
	}
	for i := 0; i < 4; i++ {
		if buf[i] != uint32(0x100+i) {
			t.Fatalf("buf[%d] = %#x, want %#x", i, buf[i], 0x100+i)
		}
	}
	for i := 0; i < 12; i++ {
		if buf[4+i] != uint32(0x200+i) {
			t.Fatalf("buf[%d] = %#x, want %#x", 4+i, buf[4+i], 0x200+i)
		}
	}
	if err := p.Done(); err != nil {
		t.Fatal(err)
	}
}

func TestTarWriteCountBoundaryScenarios(t *testing.T) {
	if got := tarWriteCount(0, 1024); got != 1 {
		t.Fatalf("tarWriteCount(0, 1024) = %d, want 1", got)
	}
	if got := tarWriteCount(512, 1024); got != 2 {
		t.Fatalf("tarWriteCount(512, 1024) = %d, want 2", got)
	}
}

func TestBlockReadRetriesOnlyFailingElement(t *testing.T) {
	// A 10-word block read where the third element WAITs once: the
	// engine must reissue exactly that read, not the TAR or the two
	// reads that already landed.
	ops := []wiretest.Op{
		wiretest.WriteAP(0, ap.RegCSW, ahb5CSW32Single),
		wiretest.WriteAP(0, ap.RegTAR, 0x20000000),
		wiretest.ReadAP(0, ap.RegDRW, 1),
		wiretest.ReadAP(0, ap.RegDRW, 2),
		wiretest.ReadAPErr(0, ap.RegDRW, waitErr{}),
		wiretest.ReadAP(0, ap.RegDRW, 3), // the reissued third read
		wiretest.ReadAP(0, ap.RegDRW, 4),
		wiretest.ReadAP(0, ap.RegDRW, 5),
		wiretest.ReadAP(0, ap.RegDRW, 6),
		wiretest.ReadAP(0, ap.RegDRW, 7),
		wiretest.ReadAP(0, ap.RegDRW, 8),
		wiretest.ReadAP(0, ap.RegDRW, 9),
		wiretest.ReadAP(0, ap.RegDRW, 10),
	}
	p, r := setup(t, ops)
	e := NewEngine(r, apAddr(), ahb5(), ap.Identity{})
	buf := make([]uint32, 10)
	if err := e.ReadBlock32(0x20000000, buf); err != nil {
		t.Fatalf("ReadBlock32: %v", err)
	}
	for i, v := range buf {
		if v != uint32(i+1) {
			t.Fatalf("buf[%d] = %d, want %d", i, v, i+1)
		}
	}
	if err := p.Done(); err != nil {
		t.Fatal(err)
	}
}

func TestWriteBlockFallsBackToSequentialOnWait(t *testing.T) {
	// A write block has no partial-completion signal from SubmitBlock on
	// WAIT, so the whole block falls back to the sequential path, which
	// itself retries only the element that WAITs.
	ops := []wiretest.Op{
		wiretest.WriteAP(0, ap.RegCSW, ahb5CSW32Single),
		wiretest.WriteAP(0, ap.RegTAR, 0x20000000),
		wiretest.WriteAP(0, ap.RegDRW, 1),               // batch: first element lands
		wiretest.WriteAPErr(0, ap.RegDRW, 2, waitErr{}),  // batch: second WAITs
		wiretest.WriteAP(0, ap.RegDRW, 1),                // sequential fallback redoes the whole block
		wiretest.WriteAP(0, ap.RegDRW, 2),
		wiretest.WriteAP(0, ap.RegDRW, 3),
		wiretest.ReadDP(0xc, 0), // RDBUFF
		wiretest.ReadDP(0x4, 0), // CTRL/STAT WDATAERR check
	}
	p, r := setup(t, ops)
	e := NewEngine(r, apAddr(), ahb5(), ap.Identity{})
	if err := e.WriteBlock32(0x20000000, []uint32{1, 2, 3}); err != nil {
		t.Fatalf("WriteBlock32: %v", err)
	}
	if err := p.Done(); err != nil {
		t.Fatal(err)
	}
}

func TestFaultedEngineRejectsTransfersUntilCleared(t *testing.T) {
	ops := []wiretest.Op{
		wiretest.WriteAP(0, ap.RegCSW, ahb5CSW32Single),
		wiretest.WriteAP(0, ap.RegTAR, 0x20000000),
		wiretest.ReadAPErr(0, ap.RegDRW, faultErr{}),
		wiretest.WriteDP(0x0, 0x1e), // classifyFault's ClearStickyErrors
		// No posted write was outstanding, so ClearFault's Flush is a no-op.
	}
	p, r := setup(t, ops)
	e := NewEngine(r, apAddr(), ahb5(), ap.Identity{})
	if _, err := e.ReadWord32(0x20000000); err == nil {
		t.Fatal("ReadWord32: want error on bus fault")
	}
	if e.State() != Faulted {
		t.Fatalf("State() = %v, want Faulted", e.State())
	}
	if _, err := e.ReadWord32(0x20000000); err == nil {
		t.Fatal("ReadWord32 on a faulted engine: want error")
	}
	if err := e.ClearFault(); err != nil {
		t.Fatalf("ClearFault: %v", err)
	}
	if e.State() != Idle {
		t.Fatalf("State() after ClearFault = %v, want Idle", e.State())
	}
	if err := p.Done(); err != nil {
		t.Fatal(err)
	}
}

type waitErr struct{}

func (waitErr) Error() string      { return "wait" }
func (waitErr) TransferWait() bool { return true }

type faultErr struct{}

func (faultErr) Error() string { return "fault" }
