// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ap implements the AP Register Router and the Access Port Typed
// Layer: turning a raw (ap_address, register offset) pair into
// SELECT-write-minimal DP traffic, and turning a freshly discovered AP
// address into a typed handle by decoding IDR.
package ap

// MEM-AP register offsets, common to every memory-AP variant. Generic
// (non-memory) APs only expose IDR.
const (
	RegCSW   uint8 = 0x00
	RegTAR   uint8 = 0x04
	RegTAR2  uint8 = 0x08 // large physical address extension, MSW of TAR
	RegDRW   uint8 = 0x0c
	RegBD0   uint8 = 0x10
	RegBD1   uint8 = 0x14
	RegBD2   uint8 = 0x18
	RegBD3   uint8 = 0x1c
	RegBASE2 uint8 = 0xf0 // large physical address extension, MSW of BASE
	RegCFG   uint8 = 0xf4
	RegBASE  uint8 = 0xf8
	RegIDR   uint8 = 0xfc
)

// CSW bits shared by every memory-AP variant.
const (
	CSWSize8  uint32 = 0
	CSWSize16 uint32 = 1
	CSWSize32 uint32 = 2
	CSWSize64 uint32 = 3 // only meaningful with the large-data extension
	cswSizeMask uint32 = 0x7

	CSWAddrIncOff    uint32 = 0 << 4
	CSWAddrIncSingle uint32 = 1 << 4
	CSWAddrIncPacked uint32 = 2 << 4
	cswAddrIncMask   uint32 = 0x3 << 4

	CSWDeviceEn uint32 = 1 << 6
	cswTrInProg uint32 = 1 << 7

	cswModeShift uint32 = 8
	cswModeMask  uint32 = 0xf << cswModeShift
	CSWModeBasic uint32 = 0 << cswModeShift

	CSWMasterDebug uint32 = 1 << 29
)

// CFG bits (memory-AP capability register).
const (
	CFGLargeData    uint32 = 1 << 2
	CFGLargeAddress uint32 = 1 << 1
	CFGBigEndian    uint32 = 1 << 0
)

// IDR field layout.
const (
	idrRevisionShift = 28
	idrRevisionMask  = 0xf
	idrDesignerShift = 17
	idrDesignerMask  = 0x7ff
	idrClassShift    = 13
	idrClassMask     = 0xf
	idrVariantShift  = 4
	idrVariantMask   = 0xf
	idrTypeShift     = 0
	idrTypeMask      = 0xf
)

// Class is the AP's IDR.CLASS field.
type Class uint8

const (
	ClassNone       Class = 0x0 // JTAG-AP or undefined
	ClassCOM        Class = 0x1 // JTAG-COM-AP
	ClassMemoryAP   Class = 0x8
)

// Type is the AP's IDR.TYPE field, meaningful only when Class is
// ClassMemoryAP.
type Type uint8

const (
	TypeJTAGCOM Type = 0x0
	TypeAHB3    Type = 0x1
	TypeAPB2_3  Type = 0x2
	TypeAXI3_4  Type = 0x4
	TypeAHB5    Type = 0x5
	TypeAPB4_5  Type = 0x6
	TypeAXI5    Type = 0x7
	TypeAHB5HPROT Type = 0x8
)
