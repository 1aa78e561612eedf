// Copyright 2026 The dapcore Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ap

// MemoryAP is a tagged union rather than a dispatch-through-one-interface
// abstraction: the variant differences are entirely in CSW bit layouts, so
// each concrete type below carries its own CSW shape directly. Each type is
// one of the seven memory-AP variants distinguished by IDR.TYPE; ProtBits is
// the one place their CSW shapes differ.
//
// Access-privilege defaults (privileged + data access, matching the
// majority of real silicon, with an override available on the memory AP)
// are set at construction time by Identity.MemoryVariant and changed, if at
// all, through each variant's SetAccess method — never per call.
type MemoryAP interface {
	Identity() Identity
	Variant() string
	// ProtBits returns this variant's CSW PROT/HPROT/MASTER/MODE bits,
	// including CSWMasterDebug, reflecting whatever access defaults were
	// set at construction or via SetAccess.
	ProtBits() uint32
	// SupportsByteLane reports whether this variant honours 8/16-bit CSW
	// sizes natively.
	SupportsByteLane() bool
}

// AHB3 is the TYPE=0x1 memory-AP variant: AHB-Lite, HPROT[1:0] (privileged,
// data) in CSW[25:24], no HMASTER/HNONSEC fields.
type AHB3 struct {
	ident                  Identity
	privileged, dataAccess bool
}

func (v *AHB3) Identity() Identity     { return v.ident }
func (v *AHB3) Variant() string        { return "AHB3" }
func (v *AHB3) SupportsByteLane() bool { return true }

// SetAccess overrides the default privileged/data access bits.
func (v *AHB3) SetAccess(privileged, dataAccess bool) {
	v.privileged, v.dataAccess = privileged, dataAccess
}

func (v *AHB3) ProtBits() uint32 {
	var hprot uint32
	if v.dataAccess {
		hprot |= 1 << 0
	}
	if v.privileged {
		hprot |= 1 << 1
	}
	return CSWMasterDebug | hprot<<24
}

// AHB5 is the TYPE=0x5 variant: adds HNONSEC (secure/non-secure) alongside
// the AHB3 HPROT bits.
type AHB5 struct {
	ident                  Identity
	privileged, dataAccess bool
	nonSecure              bool
}

func (v *AHB5) Identity() Identity     { return v.ident }
func (v *AHB5) Variant() string        { return "AHB5" }
func (v *AHB5) SupportsByteLane() bool { return true }

// SetAccess overrides the default privileged/data access bits.
func (v *AHB5) SetAccess(privileged, dataAccess bool) {
	v.privileged, v.dataAccess = privileged, dataAccess
}

// SetNonSecure overrides the default secure access HNONSEC bit.
func (v *AHB5) SetNonSecure(nonSecure bool) { v.nonSecure = nonSecure }

func (v *AHB5) ProtBits() uint32 {
	var hprot uint32
	if v.dataAccess {
		hprot |= 1 << 0
	}
	if v.privileged {
		hprot |= 1 << 1
	}
	var hnonsec uint32
	if !v.nonSecure {
		hnonsec = 1 << 30
	}
	return CSWMasterDebug | hprot<<24 | hnonsec
}

// AHB5HPROT is the TYPE=0x8 variant: the full AHB5 HPROT[6:0] field is
// exposed in CSW, not just the privileged/data bits AHB3 and plain AHB5
// carry.
type AHB5HPROT struct {
	ident                  Identity
	privileged, dataAccess bool
	// HPROTExtra carries HPROT[6:2] (bufferable, cacheable, lookup,
	// allocate, shareable) beyond the privileged/data bits every variant
	// exposes; zero unless the caller sets it explicitly.
	HPROTExtra uint32
}

func (v *AHB5HPROT) Identity() Identity     { return v.ident }
func (v *AHB5HPROT) Variant() string        { return "AHB5-HPROT" }
func (v *AHB5HPROT) SupportsByteLane() bool { return true }

// SetAccess overrides the default privileged/data access bits.
func (v *AHB5HPROT) SetAccess(privileged, dataAccess bool) {
	v.privileged, v.dataAccess = privileged, dataAccess
}

func (v *AHB5HPROT) ProtBits() uint32 {
	hprot := v.HPROTExtra &^ 0x3
	if v.dataAccess {
		hprot |= 1 << 0
	}
	if v.privileged {
		hprot |= 1 << 1
	}
	return CSWMasterDebug | hprot<<24
}

// APB23 is the TYPE=0x2 variant: APB2/APB3, PPROT[0] (privileged) in
// CSW[24], no byte/half-word lane support (APB is always full-word).
type APB23 struct {
	ident      Identity
	privileged bool
}

func (v *APB23) Identity() Identity     { return v.ident }
func (v *APB23) Variant() string        { return "APB2/3" }
func (v *APB23) SupportsByteLane() bool { return false }

// SetAccess overrides the default privileged-access bit.
func (v *APB23) SetAccess(privileged bool) { v.privileged = privileged }

func (v *APB23) ProtBits() uint32 {
	var pprot uint32
	if v.privileged {
		pprot |= 1 << 0
	}
	return CSWMasterDebug | pprot<<24
}

// APB45 is the TYPE=0x6 variant: APB4/APB5, adds the PPROT non-secure bit
// over APB23.
type APB45 struct {
	ident            Identity
	privileged       bool
	nonSecure        bool
}

func (v *APB45) Identity() Identity     { return v.ident }
func (v *APB45) Variant() string        { return "APB4/5" }
func (v *APB45) SupportsByteLane() bool { return false }

// SetAccess overrides the default privileged-access bit.
func (v *APB45) SetAccess(privileged bool) { v.privileged = privileged }

// SetNonSecure overrides the default secure access PPROT bit.
func (v *APB45) SetNonSecure(nonSecure bool) { v.nonSecure = nonSecure }

func (v *APB45) ProtBits() uint32 {
	var pprot uint32
	if v.privileged {
		pprot |= 1 << 0
	}
	if !v.nonSecure {
		pprot |= 1 << 1
	}
	return CSWMasterDebug | pprot<<24
}

// AXI34 is the TYPE=0x4 variant: AXI3/AXI4, PROT[2:0] in CSW[30:28].
type AXI34 struct {
	ident                  Identity
	privileged, dataAccess bool
}

func (v *AXI34) Identity() Identity     { return v.ident }
func (v *AXI34) Variant() string        { return "AXI3/4" }
func (v *AXI34) SupportsByteLane() bool { return true }

// SetAccess overrides the default privileged/data access bits.
func (v *AXI34) SetAccess(privileged, dataAccess bool) {
	v.privileged, v.dataAccess = privileged, dataAccess
}

func (v *AXI34) ProtBits() uint32 {
	var prot uint32
	if v.privileged {
		prot |= 1 << 0
	}
	if v.dataAccess {
		prot |= 1 << 2
	}
	return CSWMasterDebug | prot<<28
}

// AXI5 is the TYPE=0x7 variant: AXI5, same PROT layout as AXI34 plus MTE
// tagging bits this type leaves at their reset value.
type AXI5 struct {
	ident                  Identity
	privileged, dataAccess bool
}

func (v *AXI5) Identity() Identity     { return v.ident }
func (v *AXI5) Variant() string        { return "AXI5" }
func (v *AXI5) SupportsByteLane() bool { return true }

// SetAccess overrides the default privileged/data access bits.
func (v *AXI5) SetAccess(privileged, dataAccess bool) {
	v.privileged, v.dataAccess = privileged, dataAccess
}

func (v *AXI5) ProtBits() uint32 {
	var prot uint32
	if v.privileged {
		prot |= 1 << 0
	}
	if v.dataAccess {
		prot |= 1 << 2
	}
	return CSWMasterDebug | prot<<28
}

var (
	_ MemoryAP = (*AHB3)(nil)
	_ MemoryAP = (*AHB5)(nil)
	_ MemoryAP = (*AHB5HPROT)(nil)
	_ MemoryAP = (*APB23)(nil)
	_ MemoryAP = (*APB45)(nil)
	_ MemoryAP = (*AXI34)(nil)
	_ MemoryAP = (*AXI5)(nil)
)
