// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package wiretest

import "testing"

func TestPlaybackOrderAndDone(t *testing.T) {
	p := NewPlayback([]Op{
		WriteDP(0x08, 0x50000000),
		ReadDP(0x04, 0xf0000040),
	})
	if err := p.WriteDP(0x08, 0x50000000); err != nil {
		t.Fatal(err)
	}
	v, err := p.ReadDP(0x04)
	if err != nil || v != 0xf0000040 {
		t.Fatal(v, err)
	}
	if err := p.Done(); err != nil {
		t.Fatal(err)
	}
}

func TestPlaybackMismatch(t *testing.T) {
	p := NewPlayback([]Op{WriteDP(0x08, 1)})
	if err := p.WriteDP(0x08, 2); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestPlaybackExhausted(t *testing.T) {
	p := NewPlayback(nil)
	if _, err := p.ReadDP(0); err == nil {
		t.Fatal("expected exhausted error")
	}
}

func TestPlaybackNotDone(t *testing.T) {
	p := NewPlayback([]Op{WriteDP(0x08, 1)})
	if err := p.Done(); err == nil {
		t.Fatal("expected not-done error")
	}
}
