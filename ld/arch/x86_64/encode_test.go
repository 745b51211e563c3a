package x8664

import (
	"encoding/binary"
	"testing"
)

func TestPatchDisp32(t *testing.T) {
	code := make([]byte, 8)
	if !PatchDisp32(code, 4, -16) {
		t.Fatalf("PatchDisp32 rejected an in-range displacement")
	}
	got := int32(binary.LittleEndian.Uint32(code[4:]))
	if got != -16 {
		t.Errorf("disp = %d, want -16", got)
	}
}

func TestPatchDisp32RejectsOverflow(t *testing.T) {
	code := make([]byte, 8)
	if PatchDisp32(code, 4, 1<<32) {
		t.Errorf("accepted a displacement outside the 32-bit field")
	}
}

func TestRewriteMovqToLeaq(t *testing.T) {
	// 48 8B 05 disp32 -- movq disp(%rip), %rax
	code := []byte{0x48, 0x8B, 0x05, 0x00, 0x00, 0x00, 0x00}
	RewriteMovqToLeaq(code, 3)
	if code[1] != 0x8D {
		t.Errorf("opcode byte = %#x, want 0x8d", code[1])
	}
}

func TestRewriteMovqToLeaqGuardsShortOffset(t *testing.T) {
	code := []byte{0x00, 0x00}
	RewriteMovqToLeaq(code, 1) // off-2 would underflow; must not panic or touch code[0] oddly
	if code[0] != 0x00 {
		t.Errorf("rewrote byte at an offset < 2 from start, got %#x", code[0])
	}
}
