// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package dapcore

import "fmt"

// DebugPortAddress identifies one Debug Port on the wire. A bus with a
// single DP uses DefaultDebugPort; a multidrop SWDv2 bus addresses each DP
// by its TARGETSEL value.
//
// Equality defines DP identity; at most one DP is selected on the wire at
// any instant (see dp.Mux.Select).
type DebugPortAddress struct {
	// Multidrop is true if this address was created by MultidropDebugPort.
	Multidrop bool
	// TargetSel is only meaningful when Multidrop is true.
	TargetSel uint32
}

// DefaultDebugPort is the address of the single DP on a non-multidrop bus.
var DefaultDebugPort = DebugPortAddress{}

// MultidropDebugPort returns the address of a DP on a multidrop SWDv2 bus,
// selected by writing targetSel to TARGETSEL.
func MultidropDebugPort(targetSel uint32) DebugPortAddress {
	return DebugPortAddress{Multidrop: true, TargetSel: targetSel}
}

func (d DebugPortAddress) String() string {
	if !d.Multidrop {
		return "DP(default)"
	}
	return fmt.Sprintf("DP(targetsel=0x%08x)", d.TargetSel)
}

// AccessPortAddress is a pair (dp, ap) in ADIv5, or a nested path (dp,
// levels) in ADIv6. Every AccessPortAddress is owned by exactly one
// DebugPortAddress.
type AccessPortAddress struct {
	DP DebugPortAddress
	// AP is the ADIv5 8-bit AP index. Unused (left zero) for ADIv6 addresses
	// that carry a Levels path instead.
	AP uint8
	// Levels is the ADIv6 nested AP address path, root first. Empty for
	// ADIv5 addresses.
	Levels []uint8
}

// ADIv5AP returns the address of AP index ap on dp, using flat ADIv5
// addressing.
func ADIv5AP(dp DebugPortAddress, ap uint8) AccessPortAddress {
	return AccessPortAddress{DP: dp, AP: ap}
}

// ADIv6AP returns the address of the AP reached by following levels (root
// first) from dp, using ADIv6 nested addressing.
func ADIv6AP(dp DebugPortAddress, levels ...uint8) AccessPortAddress {
	cp := make([]uint8, len(levels))
	copy(cp, levels)
	return AccessPortAddress{DP: dp, Levels: cp}
}

// IsADIv6 reports whether this address uses ADIv6 nested addressing.
func (a AccessPortAddress) IsADIv6() bool {
	return len(a.Levels) > 0
}

func (a AccessPortAddress) String() string {
	if a.IsADIv6() {
		return fmt.Sprintf("%s/AP%v", a.DP, a.Levels)
	}
	return fmt.Sprintf("%s/AP%d", a.DP, a.AP)
}

// Equal reports whether a and b address the same access port.
func (a AccessPortAddress) Equal(b AccessPortAddress) bool {
	if a.DP != b.DP || len(a.Levels) != len(b.Levels) {
		return false
	}
	for i := range a.Levels {
		if a.Levels[i] != b.Levels[i] {
			return false
		}
	}
	return a.AP == b.AP
}
