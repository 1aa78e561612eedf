// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mem

// State is a memory-AP transfer's position in its state machine: Idle,
// TarProgrammed, Streaming, Faulted. Faulted requires an explicit
// ClearFault before the engine accepts further transfers.
type State int

const (
	Idle State = iota
	TarProgrammed
	Streaming
	Faulted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case TarProgrammed:
		return "tar-programmed"
	case Streaming:
		return "streaming"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}
