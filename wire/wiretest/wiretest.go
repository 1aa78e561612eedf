// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package wiretest is meant to be used to test dapcore's layers over a fake
// wire: a scripted "replay" fake of wire.Interface, the same role
// conn/i2c/i2ctest plays for an I2C bus, here repurposed as a software
// stand-in for the probe wire so the memory-AP engine's chunking/retry
// logic can be exercised without hardware.
package wiretest

import (
	"fmt"
	"sync"

	"github.com/armdap/dapcore/wire"
)

// Op is one expected transaction in a Playback script.
type Op struct {
	// Kind is one of "rdp", "wdp", "rap", "wap", "swj", "pins".
	Kind string
	AP   uint8
	Addr uint8
	// Value is the expected value for a write, or the value a read
	// should return.
	Value uint32
	// Err, if non-nil, is returned instead of a normal result — used to
	// script WAIT/FAULT responses at specific points in a sequence.
	Err error
	// Bits is the expected sequence for a "swj" op.
	Bits []bool
	// PinsOut/PinsSel/PinsWait are the expected arguments, PinsResult the
	// canned return value, for a "pins" op.
	PinsOut, PinsSel uint8
	PinsWait         uint32
	PinsResult       uint8
}

func rdp(addr uint8, value uint32, err error) Op { return Op{Kind: "rdp", Addr: addr, Value: value, Err: err} }

// ReadDP returns a scripted ReadDP expectation.
func ReadDP(addr uint8, value uint32) Op { return rdp(addr, value, nil) }

// ReadDPErr returns a scripted ReadDP expectation that fails with err.
func ReadDPErr(addr uint8, err error) Op { return rdp(addr, 0, err) }

// WriteDP returns a scripted WriteDP expectation.
func WriteDP(addr uint8, value uint32) Op { return Op{Kind: "wdp", Addr: addr, Value: value} }

// WriteDPErr returns a scripted WriteDP expectation that fails with err.
func WriteDPErr(addr uint8, value uint32, err error) Op {
	return Op{Kind: "wdp", Addr: addr, Value: value, Err: err}
}

// ReadAP returns a scripted ReadAP expectation.
func ReadAP(ap, addr uint8, value uint32) Op {
	return Op{Kind: "rap", AP: ap, Addr: addr, Value: value}
}

// ReadAPErr returns a scripted ReadAP expectation that fails with err.
func ReadAPErr(ap, addr uint8, err error) Op {
	return Op{Kind: "rap", AP: ap, Addr: addr, Err: err}
}

// WriteAP returns a scripted WriteAP expectation.
func WriteAP(ap, addr uint8, value uint32) Op {
	return Op{Kind: "wap", AP: ap, Addr: addr, Value: value}
}

// WriteAPErr returns a scripted WriteAP expectation that fails with err.
func WriteAPErr(ap, addr uint8, value uint32, err error) Op {
	return Op{Kind: "wap", AP: ap, Addr: addr, Value: value, Err: err}
}

// SWJSequence returns a scripted SWJSequence expectation.
func SWJSequence(bits []bool) Op { return Op{Kind: "swj", Bits: bits} }

// SWJPins returns a scripted SWJPins expectation.
func SWJPins(out, sel uint8, wait uint32, result uint8) Op {
	return Op{Kind: "pins", PinsOut: out, PinsSel: sel, PinsWait: wait, PinsResult: result}
}

// Playback implements wire.BatchCapable and plays back a scripted sequence
// of expected transactions, failing loudly (via the error return, not
// *testing.T, so it can be used from any caller) on any mismatch in order,
// kind, or arguments.
type Playback struct {
	mu  sync.Mutex
	ops []Op
	// DisableBatch makes SubmitBlock always return an error without
	// consuming any scripted op.
	DisableBatch bool
}

// NewPlayback returns a Playback scripted to expect exactly ops in order.
func NewPlayback(ops []Op) *Playback {
	return &Playback{ops: ops}
}

func (p *Playback) String() string { return "wiretest.Playback" }

// Done reports whether every scripted op has been consumed.
func (p *Playback) Done() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ops) != 0 {
		return fmt.Errorf("wiretest: %d scripted ops were never consumed: %#v", len(p.ops), p.ops)
	}
	return nil
}

func (p *Playback) next(kind string) (Op, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ops) == 0 {
		return Op{}, fmt.Errorf("wiretest: unexpected %s, script exhausted", kind)
	}
	op := p.ops[0]
	if op.Kind != kind {
		return Op{}, fmt.Errorf("wiretest: expected %s, got %s", op.Kind, kind)
	}
	p.ops = p.ops[1:]
	return op, nil
}

func (p *Playback) ReadDP(addr uint8) (uint32, error) {
	op, err := p.next("rdp")
	if err != nil {
		return 0, err
	}
	if op.Addr != addr {
		return 0, fmt.Errorf("wiretest: ReadDP(0x%x): expected addr 0x%x", addr, op.Addr)
	}
	return op.Value, op.Err
}

func (p *Playback) WriteDP(addr uint8, value uint32) error {
	op, err := p.next("wdp")
	if err != nil {
		return err
	}
	if op.Addr != addr || op.Value != value {
		return fmt.Errorf("wiretest: WriteDP(0x%x, 0x%x): expected (0x%x, 0x%x)", addr, value, op.Addr, op.Value)
	}
	return op.Err
}

func (p *Playback) ReadAP(ap, addr uint8) (uint32, error) {
	op, err := p.next("rap")
	if err != nil {
		return 0, err
	}
	if op.AP != ap || op.Addr != addr {
		return 0, fmt.Errorf("wiretest: ReadAP(%d, 0x%x): expected (%d, 0x%x)", ap, addr, op.AP, op.Addr)
	}
	return op.Value, op.Err
}

func (p *Playback) WriteAP(ap, addr uint8, value uint32) error {
	op, err := p.next("wap")
	if err != nil {
		return err
	}
	if op.AP != ap || op.Addr != addr || op.Value != value {
		return fmt.Errorf("wiretest: WriteAP(%d, 0x%x, 0x%x): expected (%d, 0x%x, 0x%x)", ap, addr, value, op.AP, op.Addr, op.Value)
	}
	return op.Err
}

func (p *Playback) SWJSequence(bits []bool) error {
	op, err := p.next("swj")
	if err != nil {
		return err
	}
	if len(bits) != len(op.Bits) {
		return fmt.Errorf("wiretest: SWJSequence: expected %d bits, got %d", len(op.Bits), len(bits))
	}
	for i := range bits {
		if bits[i] != op.Bits[i] {
			return fmt.Errorf("wiretest: SWJSequence: bit %d mismatch", i)
		}
	}
	return op.Err
}

func (p *Playback) SWJPins(out, sel uint8, wait uint32) (uint8, error) {
	op, err := p.next("pins")
	if err != nil {
		return 0, err
	}
	if op.PinsOut != out || op.PinsSel != sel || op.PinsWait != wait {
		return 0, fmt.Errorf("wiretest: SWJPins(0x%x, 0x%x, %d): expected (0x%x, 0x%x, %d)", out, sel, wait, op.PinsOut, op.PinsSel, op.PinsWait)
	}
	return op.PinsResult, op.Err
}

// SubmitBlock always fails when DisableBatch is set; otherwise it degrades
// to issuing each op in order through the scripted single-transaction
// methods, letting the same script describe batched and unbatched
// expectations identically.
func (p *Playback) SubmitBlock(reads []wire.ReadOp, writes []wire.WriteOp) ([]uint32, error) {
	if p.DisableBatch {
		return nil, fmt.Errorf("wiretest: batching disabled")
	}
	for _, w := range writes {
		var err error
		if w.IsAP {
			err = p.WriteAP(w.AP, w.Addr, w.Value)
		} else {
			err = p.WriteDP(w.Addr, w.Value)
		}
		if err != nil {
			return nil, err
		}
	}
	out := make([]uint32, 0, len(reads))
	for _, r := range reads {
		var v uint32
		var err error
		if r.IsAP {
			v, err = p.ReadAP(r.AP, r.Addr)
		} else {
			v, err = p.ReadDP(r.Addr)
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

var _ wire.BatchCapable = (*Playback)(nil)
