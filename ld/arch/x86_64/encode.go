// Package x8664 patches the x86_64 displacement forms the relocation
// resolver touches: the 32-bit little-endian PC-relative displacement
// shared by BRANCH/GOT/GOT_LOAD/SIGNED*/TLV, and the MOVQ-to-LEAQ opcode
// rewrite a locally resolved TLV reference needs.
package x8664

import "encoding/binary"

// PatchDisp32 patches the 32-bit little-endian displacement field
// immediately preceding the end of the instruction at code[off:off+4].
func PatchDisp32(code []byte, off uint32, disp int64) bool {
	if disp < -(1 << 31) || disp >= 1<<31 {
		return false
	}
	binary.LittleEndian.PutUint32(code[off:], uint32(int32(disp)))
	return true
}

// RewriteMovqToLeaq rewrites the opcode byte two bytes before off from MOVQ
// (0x8B) to LEAQ (0x8D), used when an X86_64_RELOC_TLV load turns out to
// address a thread-local variable defined in this link rather than one
// reached through the dynamic TLV descriptor.
func RewriteMovqToLeaq(code []byte, off uint32) {
	if off >= 2 {
		code[off-2] = 0x8D
	}
}
