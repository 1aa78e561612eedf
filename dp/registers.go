// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package dp

// DP register addresses (the 2-bit A[3:2] field; which logical register an
// address names depends on direction and, for addr 0x4, on SELECT's
// DPBANKSEL field). The bit-level SWD/JTAG framing that gets these onto the
// wire is the probe driver's job; dp only issues logical
// wire.Interface.ReadDP/WriteDP calls at these addresses.
const (
	addrIDRorABORT  uint8 = 0x0 // read: DPIDR. write: ABORT.
	addrCtrlStat    uint8 = 0x4 // bank 0: CTRL/STAT. Other banks: DLCR/TARGETID/DLPIDR/EVENTSTAT.
	addrSelectOrResend uint8 = 0x8 // write: SELECT. read: RESEND.
	addrRDBUFForTargetSel uint8 = 0xC // read: RDBUFF. write (no DP selected): TARGETSEL.
)

// CTRL/STAT bits (bank 0).
const (
	ctrlCDBGPWRUPREQ uint32 = 1 << 28
	ctrlCSYSPWRUPREQ uint32 = 1 << 30
	ctrlCDBGPWRUPACK uint32 = 1 << 29
	ctrlCSYSPWRUPACK uint32 = 1 << 31
	ctrlSTICKYORUN   uint32 = 1 << 1
	ctrlSTICKYCMP    uint32 = 1 << 4
	ctrlSTICKYERR    uint32 = 1 << 5
	ctrlWDATAERR     uint32 = 1 << 7
	ctrlORUNDETECT   uint32 = 1 << 0
)

// ABORT bits.
const (
	abortDAPABORT    uint32 = 1 << 0
	abortSTKCMPCLR   uint32 = 1 << 1
	abortSTKERRCLR   uint32 = 1 << 2
	abortWDERRCLR    uint32 = 1 << 3
	abortORUNERRCLR  uint32 = 1 << 4
)

// SELECT bits (ADIv5: APSEL in bits 31:24, APBANKSEL in bits 7:4, DPBANKSEL
// in bits 3:0). ADIv6 replaces APSEL/APBANKSEL with SELECT1, a separate
// register holding the full AP base address; dapcore never writes SELECT1:
// ap.Router addresses a single-level ADIv6 AP through the APSEL field above
// (see selectValueFor), and dp itself only manages the DPBANKSEL half.
//
// The AP-half masks are exported: ap.Router shares this Mux's SELECT cache
// (via WriteSelect/CachedSelect) and needs them to build the combined
// register value.
const (
	selectDPBankMask      uint32 = 0xf
	SelectAPBankMask      uint32 = 0xf0
	SelectAPSelShift             = 24
	SelectAPSelMask       uint32 = 0xff << SelectAPSelShift
)
