// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ap

import "github.com/armdap/dapcore"

// Identify reads IDR at addr and, for memory APs, CFG and BASE (and BASE2
// when BASE is valid and the AP has the large-address extension). A zero IDR reports
// dapcore.ErrApNotPresent so the caller can skip this AP during
// enumeration rather than treat it as fatal.
func Identify(r *Router, addr dapcore.AccessPortAddress) (Identity, error) {
	raw, err := r.ReadAP(addr, RegIDR)
	if err != nil {
		return Identity{}, err
	}
	id, present := decodeIDR(raw)
	if !present {
		return Identity{}, dapcore.ErrApNotPresent
	}
	if id.Class != ClassMemoryAP {
		return id, nil
	}
	cfg, err := r.ReadAP(addr, RegCFG)
	if err != nil {
		return Identity{}, err
	}
	id.LargeAddress = cfg&CFGLargeAddress != 0
	id.LargeData = cfg&CFGLargeData != 0
	id.BigEndian = cfg&CFGBigEndian != 0

	base, err := r.ReadAP(addr, RegBASE)
	if err != nil {
		return Identity{}, err
	}
	const basePresent = 1 << 0
	id.BaseValid = base&basePresent != 0
	id.Base = uint64(base &^ 0xfff)
	if id.BaseValid && id.LargeAddress {
		base2, err := r.ReadAP(addr, RegBASE2)
		if err != nil {
			return Identity{}, err
		}
		id.Base |= uint64(base2) << 32
	}
	return id, nil
}

// Identity is an AP's identity, read once at enumeration and immutable
// thereafter.
type Identity struct {
	Designer dapcore.JEP106
	Class    Class
	Type     Type
	Variant  uint8
	Revision uint8

	// The following are populated only when Class == ClassMemoryAP.
	LargeAddress bool
	LargeData    bool
	BigEndian    bool
	// Base is the ROM-table pointer from BASE/BASE2; bit 0 of the raw
	// register (the "present" bit) has already been consumed and is
	// reflected in BaseValid.
	Base      uint64
	BaseValid bool
}

// decodeIDR parses a raw IDR register value. DESIGNER is an 11-bit JEP106
// code, already parity-stripped in this register (unlike a CoreSight PIDR):
// the top 4 bits are the continuation count, the low 7 the identity.
func decodeIDR(raw uint32) (Identity, bool) {
	if raw == 0 {
		return Identity{}, false
	}
	designer := (raw >> idrDesignerShift) & idrDesignerMask
	id := Identity{
		Designer: dapcore.DecodeJEP106(uint8(designer>>7), uint8(designer&0x7f)),
		Class:    Class((raw >> idrClassShift) & idrClassMask),
		Type:     Type((raw >> idrTypeShift) & idrTypeMask),
		Variant:  uint8((raw >> idrVariantShift) & idrVariantMask),
		Revision: uint8((raw >> idrRevisionShift) & idrRevisionMask),
	}
	return id, true
}

// MemoryVariant reports which of the seven memory-AP CSW shapes this
// identity's Type corresponds to, and whether it is a memory AP at all
// (the class field distinguishes memory APs from generic APs).
func (id Identity) MemoryVariant() (MemoryAP, bool) {
	if id.Class != ClassMemoryAP {
		return nil, false
	}
	// Every variant defaults to privileged + data access, matching the
	// majority of real silicon; callers override via the variant's
	// SetAccess after MemoryVariant returns.
	switch id.Type {
	case TypeAHB3:
		return &AHB3{ident: id, privileged: true, dataAccess: true}, true
	case TypeAHB5:
		return &AHB5{ident: id, privileged: true, dataAccess: true}, true
	case TypeAHB5HPROT:
		return &AHB5HPROT{ident: id, privileged: true, dataAccess: true}, true
	case TypeAPB2_3:
		return &APB23{ident: id, privileged: true}, true
	case TypeAPB4_5:
		return &APB45{ident: id, privileged: true}, true
	case TypeAXI3_4:
		return &AXI34{ident: id, privileged: true, dataAccess: true}, true
	case TypeAXI5:
		return &AXI5{ident: id, privileged: true, dataAccess: true}, true
	default:
		return nil, false
	}
}
