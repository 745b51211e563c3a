// Package arm64 encodes and patches the aarch64 instruction forms the
// relocation resolver touches: B/BL's 26-bit branch, ADRP/ADR's split
// 21-bit page displacement, and the 12-bit page-offset immediate shared by
// ADD/SUB and the scaled load/store forms.
package arm64

import "encoding/binary"

// PatchBranch26 patches the 26-bit word-aligned displacement of an
// unconditional B/BL instruction (ARM64_RELOC_BRANCH26). Returns false if
// the displacement doesn't fit.
func PatchBranch26(code []byte, off uint32, displacement int64) bool {
	if displacement%4 != 0 {
		return false
	}
	imm := displacement / 4
	if imm < -(1<<25) || imm >= 1<<25 {
		return false
	}
	instr := binary.LittleEndian.Uint32(code[off:])
	instr = instr&^uint32(0x03FFFFFF) | uint32(imm)&0x03FFFFFF
	binary.LittleEndian.PutUint32(code[off:], instr)
	return true
}

// isArithmeticOp reports whether instr is an ADD/SUB (immediate), which
// takes its 12-bit immediate unscaled, as opposed to a load/store
// (immediate unsigned offset), which scales it by the access size.
func isArithmeticOp(instr uint32) bool {
	return instr&0x1F000000 == 0x11000000
}

// PatchPage21 patches an ADRP/ADR's immlo/immhi split page-relative
// displacement (ARM64_RELOC_PAGE21 and its GOT_LOAD/TLVP_LOAD siblings).
// pageDelta must already be page-aligned (the low 12 bits are dropped).
func PatchPage21(code []byte, off uint32, pageDelta int64) bool {
	imm := pageDelta >> 12
	if imm < -(1<<20) || imm >= 1<<20 {
		return false
	}
	instr := binary.LittleEndian.Uint32(code[off:])
	immlo := uint32(imm) & 0x3
	immhi := (uint32(imm) >> 2) & 0x7FFFF
	instr = instr&^uint32(0x60FFFFE0) | immlo<<29 | immhi<<5
	binary.LittleEndian.PutUint32(code[off:], instr)
	return true
}

// RewriteLoadToAddImm rewrites a load-register (unsigned immediate)
// instruction into an ADD (immediate, 64-bit) instruction, preserving its
// Rn/Rd register fields. Used for ARM64_RELOC_TLVP_LOAD_PAGEOFF12 when no
// TLV-pointer entry was synthesized: the compiler emitted a load of the
// pointer slot, but since the variable resolved locally the linker needs
// the raw template offset computed in place instead, which takes an
// arithmetic rather than memory-access encoding.
func RewriteLoadToAddImm(code []byte, off uint32) {
	instr := binary.LittleEndian.Uint32(code[off:])
	rd := instr & 0x1F
	rn := (instr >> 5) & 0x1F
	const addImm64 = 0x91000000
	binary.LittleEndian.PutUint32(code[off:], addImm64|rn<<5|rd)
}

// PatchPageOff12 patches the 12-bit page-offset immediate used by ADD/SUB
// (immediate) and the load/store (immediate unsigned offset) forms.
// Load/store forms scale pageOffset by their access size; PatchPageOff12
// rejects an offset that isn't a multiple of that scale.
func PatchPageOff12(code []byte, off uint32, pageOffset uint64) bool {
	instr := binary.LittleEndian.Uint32(code[off:])
	imm := pageOffset
	if !isArithmeticOp(instr) {
		size := (instr >> 30) & 0x3
		isVector := instr&0x04000000 != 0 // bit 26 (V): SIMD&FP load/store
		if size == 0 && isVector {
			size = 4 // 128-bit SIMD&FP form: scale 16
		}
		scale := uint64(1) << size
		if imm%scale != 0 {
			return false
		}
		imm /= scale
	}
	if imm >= 1<<12 {
		return false
	}
	instr = instr&^uint32(0x003FFC00) | (uint32(imm)&0xFFF)<<10
	binary.LittleEndian.PutUint32(code[off:], instr)
	return true
}
