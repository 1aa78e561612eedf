// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package mem implements a linear, byte-addressed memory view layered over
// a memory access port, hiding the 1 KiB auto-increment window, data-size
// negotiation, byte-lane alignment for sub-word accesses, block transfers,
// and wait/fault retry behavior.
package mem

import (
	"encoding/binary"
	"fmt"

	"github.com/armdap/dapcore"
	"github.com/armdap/dapcore/ap"
)

// Engine is a memory-AP transfer engine. It is not safe for concurrent use
// by multiple goroutines: it is single-threaded per AP, which is what lets
// the narrow read-modify-write path skip any additional locking.
type Engine struct {
	router  *ap.Router
	addr    dapcore.AccessPortAddress
	variant ap.MemoryAP
	ident   ap.Identity

	state     State
	faultKind error

	cswValid bool
	csw      uint32

	tarValid bool
	tar      uint64
}

// NewEngine returns an Engine driving the memory AP at addr through router,
// using variant's CSW PROT bits and ident's capability flags (large
// address, large data, byte-lane support comes from variant instead).
func NewEngine(router *ap.Router, addr dapcore.AccessPortAddress, variant ap.MemoryAP, ident ap.Identity) *Engine {
	return &Engine{router: router, addr: addr, variant: variant, ident: ident}
}

// State reports the engine's current state-machine position.
func (e *Engine) State() State { return e.state }

// SupportsNative64Bit reports whether this AP's large-data extension lets
// read_word_64/write_word_64 issue a single atomic 64-bit bus transaction
// rather than two independent 32-bit ones.
func (e *Engine) SupportsNative64Bit() bool { return e.ident.LargeData }

// ClearFault clears a Faulted engine, flushing the router and invalidating
// the CSW/TAR caches so the next operation reprograms both from scratch.
// A Faulted engine requires this explicit clear before any further
// transfers will be attempted.
func (e *Engine) ClearFault() error {
	if e.state != Faulted {
		return nil
	}
	if err := e.router.Flush(e.addr); err != nil {
		return err
	}
	e.state, e.faultKind = Idle, nil
	e.cswValid, e.tarValid = false, false
	return nil
}

func (e *Engine) checkFault() error {
	if e.state == Faulted {
		return fmt.Errorf("mem: engine faulted: %w", e.faultKind)
	}
	return nil
}

// fault marks the engine Faulted for any error that is not a TransferWait
// (which is always retried transparently by the router and never leaves
// the engine Faulted).
func (e *Engine) fault(err error) error {
	if _, ok := err.(*dapcore.TransferWaitError); !ok {
		e.state = Faulted
		e.faultKind = err
		e.cswValid, e.tarValid = false, false
	}
	return err
}

// faultAtDRW reclassifies a router-level fault encountered while streaming
// DRW as a TargetBusFaultError at the target memory address: a bus error
// from the target surfaces with the faulting address captured from the
// last committed TAR plus an offset derived from the chunk position. A
// TransferWait that exhausts its retry budget is not reclassified; it is
// not a bus fault, and does not Fault the engine — the transfer simply did
// not complete this time. A *dapcore.WireError is a transport failure, not
// a bus fault: it Faults the engine and is returned unchanged.
func (e *Engine) faultAtDRW(chunkAddr uint64, wordsDone int, err error) error {
	if _, ok := err.(*dapcore.TransferWaitError); ok {
		e.state = Idle
		return err
	}
	if _, ok := err.(*dapcore.WireError); ok {
		return e.fault(err)
	}
	be := &dapcore.TargetBusFaultError{Addr: chunkAddr + uint64(wordsDone)*4}
	return e.fault(be)
}

func (e *Engine) cswFor(size, addrInc uint32) uint32 {
	return e.variant.ProtBits() | ap.CSWModeBasic | size | addrInc
}

// ensureCSW writes CSW only when the requested size/increment mode differs
// from the cached value.
func (e *Engine) ensureCSW(size, addrInc uint32) error {
	want := e.cswFor(size, addrInc)
	if e.cswValid && e.csw == want {
		return nil
	}
	if err := e.router.WriteAP(e.addr, ap.RegCSW, want); err != nil {
		return e.fault(err)
	}
	e.csw, e.cswValid = want, true
	return nil
}

// setTAR programs TAR (and TAR2, for the large-address extension) to addr,
// skipping either write if it already matches the cached value. TAR2 only
// changes between chunks of the same large-address transfer when a chunk
// crosses a 4 GiB boundary, so a chunked block transfer that stays within
// one 32-bit window reprograms TAR2 once, not once per chunk.
func (e *Engine) setTAR(addr uint64) error {
	if e.tarValid && e.tar == addr {
		e.state = TarProgrammed
		return nil
	}
	if e.ident.LargeAddress {
		if !e.tarValid || uint32(e.tar>>32) != uint32(addr>>32) {
			if err := e.router.WriteAP(e.addr, ap.RegTAR2, uint32(addr>>32)); err != nil {
				return e.fault(err)
			}
		}
	} else if addr > 0xffffffff {
		return dapcore.ErrAddressOutOfRange
	}
	if err := e.router.WriteAP(e.addr, ap.RegTAR, uint32(addr)); err != nil {
		return e.fault(err)
	}
	e.tar, e.tarValid = addr, true
	e.state = TarProgrammed
	return nil
}

// readSized performs one DRW read at the given CSW data size, used for
// single-word narrow accesses and the containing-word read in a
// read-modify-write.
func (e *Engine) readSized(addr uint64, size uint32) (uint32, error) {
	if err := e.checkFault(); err != nil {
		return 0, err
	}
	if err := e.ensureCSW(size, ap.CSWAddrIncOff); err != nil {
		return 0, err
	}
	if err := e.setTAR(addr); err != nil {
		return 0, err
	}
	e.state = Streaming
	v, err := e.router.ReadAP(e.addr, ap.RegDRW)
	if err != nil {
		return 0, e.faultAtDRW(addr, 0, err)
	}
	e.state = Idle
	return v, nil
}

// writeSized performs one DRW write at the given CSW data size, flushing
// immediately so a FAULT surfaces at the call site rather than on some
// later, unrelated operation.
func (e *Engine) writeSized(addr uint64, size, value uint32) error {
	if err := e.checkFault(); err != nil {
		return err
	}
	if err := e.ensureCSW(size, ap.CSWAddrIncOff); err != nil {
		return err
	}
	if err := e.setTAR(addr); err != nil {
		return err
	}
	e.state = Streaming
	if err := e.router.WriteAP(e.addr, ap.RegDRW, value); err != nil {
		return e.faultAtDRW(addr, 0, err)
	}
	if err := e.router.Flush(e.addr); err != nil {
		return e.faultAtDRW(addr, 0, err)
	}
	e.state = Idle
	return nil
}

// readWords32 reads n aligned 32-bit words starting at addr, chunked at the
// auto-increment window boundary.
func (e *Engine) readWords32(addr uint64, n int) ([]uint32, error) {
	if err := e.checkFault(); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if !e.ident.LargeAddress && addr+uint64(n)*4 > 1<<32 {
		return nil, dapcore.ErrAddressOutOfRange
	}
	if err := e.ensureCSW(ap.CSWSize32, ap.CSWAddrIncSingle); err != nil {
		return nil, err
	}
	out := make([]uint32, 0, n)
	for _, c := range chunksForWords(addr, n) {
		if err := e.setTAR(c.addr); err != nil {
			return out, err
		}
		e.state = Streaming
		vals, err := e.router.ReadAPBlock(e.addr, ap.RegDRW, c.n)
		out = append(out, vals...)
		// AddrInc=Single means the hardware TAR has advanced past what was
		// written above; the cache can no longer be trusted to skip the next
		// setTAR call.
		e.tarValid = false
		if err != nil {
			return out, e.faultAtDRW(c.addr, len(vals), err)
		}
	}
	e.state = Idle
	return out, nil
}

// writeWords32 writes vals as aligned 32-bit words starting at addr,
// chunked at the auto-increment window boundary, flushing once at the end.
func (e *Engine) writeWords32(addr uint64, vals []uint32) error {
	if err := e.checkFault(); err != nil {
		return err
	}
	n := len(vals)
	if n == 0 {
		return nil
	}
	if !e.ident.LargeAddress && addr+uint64(n)*4 > 1<<32 {
		return dapcore.ErrAddressOutOfRange
	}
	if err := e.ensureCSW(ap.CSWSize32, ap.CSWAddrIncSingle); err != nil {
		return err
	}
	offset := 0
	for _, c := range chunksForWords(addr, n) {
		if err := e.setTAR(c.addr); err != nil {
			return err
		}
		e.state = Streaming
		err := e.router.WriteAPBlock(e.addr, ap.RegDRW, vals[offset:offset+c.n])
		e.tarValid = false
		if err != nil {
			return e.faultAtDRW(c.addr, 0, err)
		}
		offset += c.n
	}
	if err := e.router.Flush(e.addr); err != nil {
		return e.faultAtDRW(addr, 0, err)
	}
	e.state = Idle
	return nil
}

// readNarrow reads a 1-3 byte span that does not cross a word boundary,
// using a native 8/16-bit CSW size if the variant honours one, and a
// containing-word read with lane extraction otherwise: a read below
// 32-bit width shifts the returned 32-bit DRW word by (addr mod 4) * 8
// and masks appropriately.
func (e *Engine) readNarrow(addr uint64, buf []byte) error {
	n := len(buf)
	if e.variant.SupportsByteLane() {
		switch {
		case n == 1:
			v, err := e.readSized(addr, ap.CSWSize8)
			if err != nil {
				return err
			}
			buf[0] = byte(v >> ((addr % 4) * 8))
			return nil
		case n == 2 && addr%2 == 0:
			v, err := e.readSized(addr, ap.CSWSize16)
			if err != nil {
				return err
			}
			binary.LittleEndian.PutUint16(buf, uint16(v>>((addr%4)*8)))
			return nil
		}
	}
	wordAddr := addr &^ 3
	v, err := e.readSized(wordAddr, ap.CSWSize32)
	if err != nil {
		return err
	}
	v >>= (addr - wordAddr) * 8
	for i := 0; i < n; i++ {
		buf[i] = byte(v)
		v >>= 8
	}
	return nil
}

// writeNarrow writes a 1-3 byte span that does not cross a word boundary.
// Unaligned endpoints use read-modify-write only if the variant cannot do
// narrow writes natively.
func (e *Engine) writeNarrow(addr uint64, buf []byte) error {
	n := len(buf)
	if e.variant.SupportsByteLane() {
		switch {
		case n == 1:
			return e.writeSized(addr, ap.CSWSize8, uint32(buf[0])<<((addr%4)*8))
		case n == 2 && addr%2 == 0:
			v := uint32(binary.LittleEndian.Uint16(buf)) << ((addr % 4) * 8)
			return e.writeSized(addr, ap.CSWSize16, v)
		}
	}
	wordAddr := addr &^ 3
	cur, err := e.readSized(wordAddr, ap.CSWSize32)
	if err != nil {
		return err
	}
	shift := (addr - wordAddr) * 8
	var mask, patch uint32
	for i := 0; i < n; i++ {
		lane := shift + uint64(i)*8
		mask |= 0xff << lane
		patch |= uint32(buf[i]) << lane
	}
	return e.writeSized(wordAddr, ap.CSWSize32, cur&^mask|patch)
}

// Read reads len(buf) bytes starting at addr, splitting into an unaligned
// head, an aligned middle run of words, and an unaligned tail. Addresses
// need not be aligned.
func (e *Engine) Read(addr uint64, buf []byte) error {
	n := len(buf)
	if n == 0 {
		return nil
	}
	headLen := headLength(addr, n)
	pos := 0
	if headLen > 0 {
		if err := e.readNarrow(addr, buf[:headLen]); err != nil {
			return err
		}
		pos = headLen
	}
	wordCount := (n - pos) / 4
	if wordCount > 0 {
		vals, err := e.readWords32(addr+uint64(pos), wordCount)
		for i, v := range vals {
			binary.LittleEndian.PutUint32(buf[pos+i*4:], v)
		}
		if err != nil {
			return err
		}
		pos += wordCount * 4
	}
	if tailLen := n - pos; tailLen > 0 {
		if err := e.readNarrow(addr+uint64(pos), buf[pos:]); err != nil {
			return err
		}
	}
	return nil
}

// Write writes buf starting at addr, symmetric to Read.
func (e *Engine) Write(addr uint64, buf []byte) error {
	n := len(buf)
	if n == 0 {
		return nil
	}
	headLen := headLength(addr, n)
	pos := 0
	if headLen > 0 {
		if err := e.writeNarrow(addr, buf[:headLen]); err != nil {
			return err
		}
		pos = headLen
	}
	wordCount := (n - pos) / 4
	if wordCount > 0 {
		vals := make([]uint32, wordCount)
		for i := range vals {
			vals[i] = binary.LittleEndian.Uint32(buf[pos+i*4:])
		}
		if err := e.writeWords32(addr+uint64(pos), vals); err != nil {
			return err
		}
		pos += wordCount * 4
	}
	if tailLen := n - pos; tailLen > 0 {
		if err := e.writeNarrow(addr+uint64(pos), buf[pos:]); err != nil {
			return err
		}
	}
	return nil
}

// headLength is the number of leading bytes of a length-n read/write at
// addr that fall before the next word boundary (0 if addr is aligned; n if
// the whole access ends before that boundary).
func headLength(addr uint64, n int) int {
	h := int((4 - addr%4) % 4)
	if h > n {
		h = n
	}
	return h
}

// ReadBlock32 reads len(buf) aligned 32-bit words starting at addr — the
// preferred bulk-transfer path for speed.
func (e *Engine) ReadBlock32(addr uint64, buf []uint32) error {
	vals, err := e.readWords32(addr, len(buf))
	copy(buf, vals)
	return err
}

// WriteBlock32 writes buf as aligned 32-bit words starting at addr.
func (e *Engine) WriteBlock32(addr uint64, buf []uint32) error {
	return e.writeWords32(addr, buf)
}

// ReadWord8 reads a single byte.
func (e *Engine) ReadWord8(addr uint64) (uint8, error) {
	var buf [1]byte
	err := e.Read(addr, buf[:])
	return buf[0], err
}

// ReadWord16 reads a single halfword.
func (e *Engine) ReadWord16(addr uint64) (uint16, error) {
	var buf [2]byte
	err := e.Read(addr, buf[:])
	return binary.LittleEndian.Uint16(buf[:]), err
}

// ReadWord32 reads a single aligned word.
func (e *Engine) ReadWord32(addr uint64) (uint32, error) {
	vals, err := e.readWords32(addr, 1)
	if err != nil {
		return 0, err
	}
	return vals[0], nil
}

// ReadWord64 reads a single aligned doubleword, as one atomic bus
// transaction if the AP's large-data extension is present, or as two
// independent 32-bit accesses otherwise.
func (e *Engine) ReadWord64(addr uint64) (uint64, error) {
	if err := e.checkFault(); err != nil {
		return 0, err
	}
	size := uint32(ap.CSWSize32)
	if e.ident.LargeData {
		size = ap.CSWSize64
	}
	if err := e.ensureCSW(size, ap.CSWAddrIncSingle); err != nil {
		return 0, err
	}
	if err := e.setTAR(addr); err != nil {
		return 0, err
	}
	e.state = Streaming
	vals, err := e.router.ReadAPBlock(e.addr, ap.RegDRW, 2)
	e.tarValid = false
	if err != nil {
		return 0, e.faultAtDRW(addr, len(vals), err)
	}
	e.state = Idle
	return uint64(vals[0]) | uint64(vals[1])<<32, nil
}

// WriteWord8 writes a single byte.
func (e *Engine) WriteWord8(addr uint64, v uint8) error {
	return e.Write(addr, []byte{v})
}

// WriteWord16 writes a single halfword.
func (e *Engine) WriteWord16(addr uint64, v uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return e.Write(addr, buf[:])
}

// WriteWord32 writes a single aligned word.
func (e *Engine) WriteWord32(addr uint64, v uint32) error {
	return e.writeWords32(addr, []uint32{v})
}

// WriteWord64 writes a single aligned doubleword, symmetric to ReadWord64.
func (e *Engine) WriteWord64(addr uint64, v uint64) error {
	if err := e.checkFault(); err != nil {
		return err
	}
	size := uint32(ap.CSWSize32)
	if e.ident.LargeData {
		size = ap.CSWSize64
	}
	if err := e.ensureCSW(size, ap.CSWAddrIncSingle); err != nil {
		return err
	}
	if err := e.setTAR(addr); err != nil {
		return err
	}
	e.state = Streaming
	vals := []uint32{uint32(v), uint32(v >> 32)}
	err := e.router.WriteAPBlock(e.addr, ap.RegDRW, vals)
	e.tarValid = false
	if err != nil {
		return e.faultAtDRW(addr, 0, err)
	}
	if err := e.router.Flush(e.addr); err != nil {
		return e.faultAtDRW(addr, 2, err)
	}
	e.state = Idle
	return nil
}
