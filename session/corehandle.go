// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package session

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/armdap/dapcore"
	"github.com/armdap/dapcore/mem"
	"github.com/armdap/dapcore/romtable"
)

// CoreStatus is a core's run state as last observed through DHCSR.
type CoreStatus int

const (
	Unknown CoreStatus = iota
	Halted
	Running
)

func (s CoreStatus) String() string {
	switch s {
	case Halted:
		return "halted"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// CoreHandle is one attached core: a memory-AP transfer engine scoped to
// its Armv7-M-family debug registers, the reset sequence bound at attach
// time, and the hardware breakpoint comparators it owns. It implements
// dapcore.SequenceContext so a ResetSequence can drive it without this
// package importing any vendor sequence package.
type CoreHandle struct {
	session *Session
	name    string
	engine  *mem.Engine
	seq     dapcore.ResetSequence
	rom     []romtable.Component

	mu          sync.Mutex
	breakpoints map[uint64]uint8 // address -> FP_COMPn slot
}

// Name returns the core's name, as given in the chip description.
func (h *CoreHandle) Name() string { return h.name }

// Components returns the CoreSight components found under this core's
// bound ROM-table base during attach.
func (h *CoreHandle) Components() []romtable.Component { return h.rom }

// call runs fn unless the session is already poisoned, and poisons the
// session if fn returns a fatal error.
func (h *CoreHandle) call(op string, fn func() error) error {
	if h.session.poisoned {
		return dapcore.ErrSessionPoisoned
	}
	if err := fn(); err != nil {
		if isFatal(err) {
			return h.session.poison(err)
		}
		return fmt.Errorf("session: core %q: %s: %w", h.name, op, err)
	}
	return nil
}

// WriteCoreMem32 implements dapcore.SequenceContext.
func (h *CoreHandle) WriteCoreMem32(addr uint64, value uint32) error {
	return h.engine.WriteWord32(addr, value)
}

// ReadCoreMem32 implements dapcore.SequenceContext.
func (h *CoreHandle) ReadCoreMem32(addr uint64) (uint32, error) {
	return h.engine.ReadWord32(addr)
}

// PollUntil implements dapcore.SequenceContext.
func (h *CoreHandle) PollUntil(op string, timeout, interval time.Duration, cond func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := cond()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return &dapcore.TimeoutError{Op: op, Timeout: timeout.String()}
		}
		time.Sleep(interval)
	}
}

// enableDebug sets DHCSR.C_DEBUGEN, the one-time step that enables debug
// on the core. It does not halt the core.
func (h *CoreHandle) enableDebug() error {
	return h.call("enable_debug", func() error {
		return h.engine.WriteWord32(addrDHCSR, dhcsrDbgKey|dhcsrCDebugEn)
	})
}

func (h *CoreHandle) waitHalted(op string) error {
	return h.PollUntil(op, h.session.timeouts.HaltRequest, pollInterval, func() (bool, error) {
		v, err := h.engine.ReadWord32(addrDHCSR)
		if err != nil {
			return false, err
		}
		return v&dhcsrSHalt != 0, nil
	})
}

// Halt requests a halt and waits for S_HALT.
func (h *CoreHandle) Halt() error {
	return h.call("halt", func() error {
		if err := h.engine.WriteWord32(addrDHCSR, dhcsrDbgKey|dhcsrCDebugEn|dhcsrCHalt); err != nil {
			return err
		}
		return h.waitHalted("halt")
	})
}

// Run clears C_HALT, resuming execution.
func (h *CoreHandle) Run() error {
	return h.call("run", func() error {
		return h.engine.WriteWord32(addrDHCSR, dhcsrDbgKey|dhcsrCDebugEn)
	})
}

// Step executes a single instruction with interrupts masked, then waits
// for S_HALT again.
func (h *CoreHandle) Step() error {
	return h.call("step", func() error {
		if err := h.engine.WriteWord32(addrDHCSR, dhcsrDbgKey|dhcsrCDebugEn|dhcsrCHalt|dhcsrCMaskInts|dhcsrCStep); err != nil {
			return err
		}
		return h.waitHalted("step")
	})
}

// Status reports whether the core is halted or running.
func (h *CoreHandle) Status() (CoreStatus, error) {
	var status CoreStatus
	err := h.call("status", func() error {
		v, err := h.engine.ReadWord32(addrDHCSR)
		if err != nil {
			return err
		}
		if v&dhcsrSHalt != 0 {
			status = Halted
		} else {
			status = Running
		}
		return nil
	})
	return status, err
}

// Reset runs the bound reset sequence's SystemReset.
func (h *CoreHandle) Reset() error {
	return h.call("reset", func() error { return h.seq.SystemReset(h, h.session.timeouts) })
}

// ResetAndHalt runs the bound reset sequence's ResetAndHalt.
func (h *CoreHandle) ResetAndHalt() error {
	return h.call("reset_and_halt", func() error { return h.seq.ResetAndHalt(h, h.session.timeouts) })
}

// ReadCoreRegister reads one core register through DCRSR/DCRDR. The core
// must be halted; this is not checked here — callers are responsible for
// the core being halted, since the Debug Port itself has no way to report
// the violation other than a stale or WAIT-ing DCRDR.
func (h *CoreHandle) ReadCoreRegister(reg CoreRegister) (uint32, error) {
	var v uint32
	err := h.call("read_core_reg", func() error {
		if err := h.engine.WriteWord32(addrDCRSR, uint32(reg)); err != nil {
			return err
		}
		if err := h.waitRegReady("read_core_reg"); err != nil {
			return err
		}
		var err error
		v, err = h.engine.ReadWord32(addrDCRDR)
		return err
	})
	return v, err
}

// WriteCoreRegister writes one core register through DCRSR/DCRDR.
func (h *CoreHandle) WriteCoreRegister(reg CoreRegister, value uint32) error {
	return h.call("write_core_reg", func() error {
		if err := h.engine.WriteWord32(addrDCRDR, value); err != nil {
			return err
		}
		if err := h.engine.WriteWord32(addrDCRSR, uint32(reg)|dcrsrWrite); err != nil {
			return err
		}
		return h.waitRegReady("write_core_reg")
	})
}

func (h *CoreHandle) waitRegReady(op string) error {
	return h.PollUntil(op, h.session.timeouts.HaltRequest, pollInterval, func() (bool, error) {
		v, err := h.engine.ReadWord32(addrDHCSR)
		if err != nil {
			return false, err
		}
		return v&dhcsrSRegRdy != 0, nil
	})
}

// Read reads len(buf) bytes of target memory starting at addr.
func (h *CoreHandle) Read(addr uint64, buf []byte) error {
	return h.call("read", func() error { return h.engine.Read(addr, buf) })
}

// Write writes buf to target memory starting at addr.
func (h *CoreHandle) Write(addr uint64, buf []byte) error {
	return h.call("write", func() error { return h.engine.Write(addr, buf) })
}

// ReadWord8 reads a single byte.
func (h *CoreHandle) ReadWord8(addr uint64) (uint8, error) {
	var buf [1]byte
	err := h.Read(addr, buf[:])
	return buf[0], err
}

// WriteWord8 writes a single byte.
func (h *CoreHandle) WriteWord8(addr uint64, v uint8) error {
	return h.Write(addr, []byte{v})
}

// ReadWord16 reads a single halfword.
func (h *CoreHandle) ReadWord16(addr uint64) (uint16, error) {
	var buf [2]byte
	err := h.Read(addr, buf[:])
	return binary.LittleEndian.Uint16(buf[:]), err
}

// WriteWord16 writes a single halfword.
func (h *CoreHandle) WriteWord16(addr uint64, v uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return h.Write(addr, buf[:])
}

// ReadWord32 reads a single aligned word.
func (h *CoreHandle) ReadWord32(addr uint64) (uint32, error) {
	var v uint32
	err := h.call("read_word_32", func() error {
		var err error
		v, err = h.engine.ReadWord32(addr)
		return err
	})
	return v, err
}

// WriteWord32 writes a single aligned word.
func (h *CoreHandle) WriteWord32(addr uint64, v uint32) error {
	return h.call("write_word_32", func() error { return h.engine.WriteWord32(addr, v) })
}

// ReadWord64 reads a single aligned doubleword.
func (h *CoreHandle) ReadWord64(addr uint64) (uint64, error) {
	var v uint64
	err := h.call("read_word_64", func() error {
		var err error
		v, err = h.engine.ReadWord64(addr)
		return err
	})
	return v, err
}

// WriteWord64 writes a single aligned doubleword.
func (h *CoreHandle) WriteWord64(addr uint64, v uint64) error {
	return h.call("write_word_64", func() error { return h.engine.WriteWord64(addr, v) })
}

// fpCtrl reads FP_CTRL and returns its raw value plus NUM_CODE, the
// comparator count. Only NUM_CODE's low 4 bits (bits[7:4]) are decoded: the
// extended
// NUM_CODE[6:4] field in bits[14:12] only matters for implementations with
// more than 14 comparators, which no target in this module's scope has.
func (h *CoreHandle) fpCtrl() (ctrl uint32, numCode uint8, err error) {
	ctrl, err = h.engine.ReadWord32(addrFPCTRL)
	if err != nil {
		return 0, 0, err
	}
	numCode = uint8((ctrl >> 4) & 0xf)
	return ctrl, numCode, nil
}

// AvailableBreakpointUnits reports how many hardware breakpoint comparators
// remain unused.
func (h *CoreHandle) AvailableBreakpointUnits() (int, error) {
	var n int
	err := h.call("available_breakpoint_units", func() error {
		_, numCode, err := h.fpCtrl()
		if err != nil {
			return err
		}
		h.mu.Lock()
		used := len(h.breakpoints)
		h.mu.Unlock()
		n = int(numCode) - used
		return nil
	})
	return n, err
}

// SetHwBreakpoint allocates a free FPB comparator for addr, enabling the
// FPB unit first if this is the first breakpoint set on this core.
// Setting the same address twice is a no-op.
func (h *CoreHandle) SetHwBreakpoint(addr uint64) error {
	return h.call("set_hw_breakpoint", func() error {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.breakpoints == nil {
			h.breakpoints = map[uint64]uint8{}
		}
		if _, ok := h.breakpoints[addr]; ok {
			return nil
		}
		ctrl, numCode, err := h.fpCtrl()
		if err != nil {
			return err
		}
		if ctrl&fpCtrlEnable == 0 {
			if err := h.engine.WriteWord32(addrFPCTRL, fpCtrlEnable|fpCtrlKey); err != nil {
				return err
			}
		}
		used := make(map[uint8]bool, len(h.breakpoints))
		for _, slot := range h.breakpoints {
			used[slot] = true
		}
		slot, found := uint8(0), false
		for i := uint8(0); i < numCode; i++ {
			if !used[i] {
				slot, found = i, true
				break
			}
		}
		if !found {
			return fmt.Errorf("no free hardware breakpoint comparator (have %d)", numCode)
		}
		comp := uint32(addr) &^ 0x3 | fpCompEnable
		if addr&2 != 0 {
			comp |= fpCompReplaceUpper
		} else {
			comp |= fpCompReplaceLower
		}
		if err := h.engine.WriteWord32(addrFPCOMP0+uint64(slot)*4, comp); err != nil {
			return err
		}
		h.breakpoints[addr] = slot
		return nil
	})
}

// ClearHwBreakpoint frees the comparator set for addr, if any. Clearing an
// address with no breakpoint set is a no-op.
func (h *CoreHandle) ClearHwBreakpoint(addr uint64) error {
	return h.call("clear_hw_breakpoint", func() error {
		h.mu.Lock()
		defer h.mu.Unlock()
		slot, ok := h.breakpoints[addr]
		if !ok {
			return nil
		}
		if err := h.engine.WriteWord32(addrFPCOMP0+uint64(slot)*4, 0); err != nil {
			return err
		}
		delete(h.breakpoints, addr)
		return nil
	})
}

const (
	addrFPCTRL  uint64 = 0xe0002000
	addrFPCOMP0 uint64 = 0xe0002008

	fpCtrlEnable uint32 = 1 << 0
	fpCtrlKey    uint32 = 1 << 1

	fpCompEnable       uint32 = 1 << 0
	fpCompReplaceLower uint32 = 1 << 30
	fpCompReplaceUpper uint32 = 2 << 30
)
