// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package session

// Armv6-M/Armv7-M/Armv8-M shared debug register layout: DHCSR, DCRSR,
// DCRDR, DEMCR, AIRCR, and the DCRSR REGSEL core-register ID space.
const (
	addrDHCSR = 0xe000edf0
	addrDCRSR = 0xe000edf4
	addrDCRDR = 0xe000edf8
	addrDEMCR = 0xe000edfc
	addrAIRCR = 0xe000ed0c

	dhcsrDbgKey    = 0xa05f0000
	dhcsrCDebugEn  = 1 << 0
	dhcsrCHalt     = 1 << 1
	dhcsrCStep     = 1 << 2
	dhcsrCMaskInts = 1 << 3
	dhcsrSRegRdy   = 1 << 16
	dhcsrSHalt     = 1 << 17
	dhcsrSResetSt  = 1 << 25

	demcrVCCoreReset = 1 << 0

	aircrVectKey     = 0x05fa0000
	aircrSysResetReq = 1 << 2

	dcrsrWrite = 1 << 16
)

// CoreRegister identifies a register addressable through DCRSR/DCRDR. The ID
// space mirrors the Armv7-M debug architecture's REGSEL encoding.
type CoreRegister uint16

const (
	R0 CoreRegister = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	SP
	LR
	DebugReturnAddress // PC
	XPSR
	MSP
	PSP
)
