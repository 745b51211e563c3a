package ld

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/blacktop/go-macho-ld/types"
)

func TestIsGotClass(t *testing.T) {
	if !isGotClass(true, uint8(types.ARM64_RELOC_GOT_LOAD_PAGE21)) {
		t.Error("GOT_LOAD_PAGE21 should be GOT-class on arm64")
	}
	if isGotClass(true, uint8(types.ARM64_RELOC_BRANCH26)) {
		t.Error("BRANCH26 should not be GOT-class")
	}
	if !isGotClass(false, uint8(types.X86_64_RELOC_GOT)) {
		t.Error("GOT should be GOT-class on x86_64")
	}
	if isGotClass(false, uint8(types.X86_64_RELOC_SIGNED)) {
		t.Error("SIGNED should not be GOT-class")
	}
}

func TestGetTargetAtomGotClassTakesPrecedence(t *testing.T) {
	fileID := uint32(0)
	obj := arm64Object(&fileID)
	ctx := newFakeCtx()
	target := SymbolWithLoc{SymIndex: 1, File: &fileID}

	gotAtom := &Atom{VAddr: 0x1000}
	stubAtom := &Atom{VAddr: 0x2000}
	ctx.got[target.key()] = gotAtom
	ctx.stubs[target.key()] = stubAtom

	got, ok := obj.getTargetAtom(ctx, target, true)
	if !ok || got != gotAtom {
		t.Errorf("getTargetAtom(gotClass=true) = %v, want the GOT entry", got)
	}
}

func TestGetTargetAtomFallsThroughToAtomByIndex(t *testing.T) {
	fileID := uint32(0)
	obj := arm64Object(&fileID)
	ctx := newFakeCtx()
	target := SymbolWithLoc{SymIndex: 1, File: &fileID}

	byIdx := &Atom{VAddr: 0x3000}
	ctx.byIndex[target.key()] = byIdx

	got, ok := obj.getTargetAtom(ctx, target, false)
	if !ok || got != byIdx {
		t.Errorf("getTargetAtom with no GOT/stub/TLV entries = %v, want atom_by_index_table entry", got)
	}
}

func TestGetTargetAtomPrefersStubOverAtomByIndex(t *testing.T) {
	fileID := uint32(0)
	obj := arm64Object(&fileID)
	ctx := newFakeCtx()
	target := SymbolWithLoc{SymIndex: 1, File: &fileID}

	stubAtom := &Atom{VAddr: 0x2000}
	ctx.stubs[target.key()] = stubAtom
	ctx.byIndex[target.key()] = &Atom{VAddr: 0x3000}

	got, ok := obj.getTargetAtom(ctx, target, false)
	if !ok || got != stubAtom {
		t.Errorf("getTargetAtom = %v, want the stub entry", got)
	}
}

func TestResolveTargetAddrSameFileUsesTargetsOwnSymbol(t *testing.T) {
	fileID := uint32(1)
	obj := arm64Object(&fileID)
	ctx := newFakeCtx()

	target := SymbolWithLoc{SymIndex: 5, File: &fileID}
	ctx.syms[target.key()] = &Nlist{Value: 0x1234}
	// Registered under the target's own key but with a VAddr that must NOT
	// be used, since atomFile == target.File should prefer the nlist.
	ctx.byIndex[target.key()] = &Atom{SymIndex: 9, File: &fileID, VAddr: 0xFFFF}

	got := obj.resolveTargetAddr(ctx, &fileID, target, false)
	if got != 0x1234 {
		t.Errorf("resolveTargetAddr = %#x, want 0x1234 (the target's own nlist value)", got)
	}
}

func TestResolveTargetAddrCrossFileUsesTargetAtomsOwnSymbol(t *testing.T) {
	fileA := uint32(1)
	fileB := uint32(2)
	obj := arm64Object(&fileA)
	ctx := newFakeCtx()

	target := SymbolWithLoc{SymIndex: 5, File: &fileB}
	// No entry for target itself in ctx.syms: the resolved atom's own
	// symbol can't be found either, so atomAddr falls back to the atom's
	// stamped VAddr -- this is the value that must win.
	targetAtom := &Atom{SymIndex: 9, File: &fileB, VAddr: 0x5000}
	ctx.byIndex[target.key()] = targetAtom

	got := obj.resolveTargetAddr(ctx, &fileA, target, false)
	if got != 0x5000 {
		t.Errorf("resolveTargetAddr = %#x, want 0x5000 (the target atom's own address)", got)
	}
}

func TestResolveUnsignedSubtractsTLVTemplateBase(t *testing.T) {
	fileID := uint32(1)
	obj := arm64Object(&fileID)
	ctx := newFakeCtx()

	obj.Syms = []Nlist{{Name: "tlvvar", Type: types.N_SECT, Sect: 1, Value: 0x3000}}
	obj.Sections = []*objSection{
		{Section64: types.Section64{Flags: types.ThreadLocalVariables}, ord: 1, segName: "__DATA", secName: "__thread_vars"},
	}

	ms := MatchingSection{SegmentIndex: 0, SectionIndex: 0}
	ctx.ordToMatching[0] = ms
	ctx.sections[ms] = &types.Section64{Addr: 0x2000}
	ctx.tlvDataSec = 0

	self := SymbolWithLoc{SymIndex: 0, File: &fileID}
	ctx.syms[self.key()] = &Nlist{Value: 0x3000}
	ctx.byIndex[self.key()] = &Atom{SymIndex: 0, File: &fileID}

	atom := &Atom{
		SymIndex: 0,
		File:     &fileID,
		Code:     make([]byte, 8),
		Relocs: []Relocation{
			{Offset: 0, Target: self, Length: 3, Type: uint8(types.ARM64_RELOC_UNSIGNED)},
		},
	}

	if err := obj.Resolve(ctx, atom); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got := binary.LittleEndian.Uint64(atom.Code)
	if got != 0x1000 {
		t.Errorf("patched value = %#x, want 0x1000 (0x3000 - 0x2000 template base)", got)
	}
}

func TestResolveARM64Branch26(t *testing.T) {
	fileID := uint32(1)
	obj := arm64Object(&fileID)
	ctx := newFakeCtx()

	obj.Syms = []Nlist{
		{Name: "caller", Type: types.N_SECT, Sect: 1, Value: 0x1000},
		{Name: "callee", Type: types.N_SECT, Sect: 1, Value: 0x1008},
	}
	obj.Sections = []*objSection{
		{Section64: types.Section64{Flags: types.Regular | types.AttrPureInstructions}, ord: 1, segName: "__TEXT", secName: "__text"},
	}

	callerLoc := SymbolWithLoc{SymIndex: 0, File: &fileID}
	calleeLoc := SymbolWithLoc{SymIndex: 1, File: &fileID}
	ctx.syms[callerLoc.key()] = &Nlist{Value: 0x1000}
	ctx.syms[calleeLoc.key()] = &Nlist{Value: 0x1008}
	ctx.byIndex[calleeLoc.key()] = &Atom{SymIndex: 1, File: &fileID}

	code := make([]byte, 4)
	binary.LittleEndian.PutUint32(code, 0x14000000) // B #0

	atom := &Atom{
		SymIndex: 0,
		File:     &fileID,
		Code:     code,
		Relocs: []Relocation{
			{Offset: 0, Target: calleeLoc, Length: 2, Type: uint8(types.ARM64_RELOC_BRANCH26)},
		},
	}

	if err := obj.Resolve(ctx, atom); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := make([]byte, 4)
	binary.LittleEndian.PutUint32(want, 0x14000002) // displacement (0x1008-0x1000)/4 == 2
	if diff := cmp.Diff(want, atom.Code); diff != "" {
		t.Errorf("patched branch bytes mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveX8664SignedDisplacement(t *testing.T) {
	fileID := uint32(1)
	obj := &Object{
		FileID:    &fileID,
		Header:    types.FileHeader{CPU: types.CPUAmd64},
		ByteOrder: binary.LittleEndian,
	}
	ctx := newFakeCtx()

	obj.Syms = []Nlist{
		{Name: "source", Type: types.N_SECT, Sect: 1, Value: 0x2000},
		{Name: "target", Type: types.N_SECT, Sect: 1, Value: 0x2100},
	}
	obj.Sections = []*objSection{
		{Section64: types.Section64{Flags: types.Regular}, ord: 1, segName: "__TEXT", secName: "__text"},
	}

	sourceLoc := SymbolWithLoc{SymIndex: 0, File: &fileID}
	targetLoc := SymbolWithLoc{SymIndex: 1, File: &fileID}
	ctx.syms[sourceLoc.key()] = &Nlist{Value: 0x2000}
	ctx.syms[targetLoc.key()] = &Nlist{Value: 0x2100}
	ctx.byIndex[targetLoc.key()] = &Atom{SymIndex: 1, File: &fileID}

	code := make([]byte, 8)
	atom := &Atom{
		SymIndex: 0,
		File:     &fileID,
		Code:     code,
		Relocs: []Relocation{
			{Offset: 4, Target: targetLoc, Length: 2, Type: uint8(types.X86_64_RELOC_SIGNED)},
		},
	}

	if err := obj.Resolve(ctx, atom); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// sourceAddr = atomAddr(source) + offset = 0x2000 + 4 = 0x2004
	// disp = targetVA - (sourceAddr + correction(0) + 4) = 0x2100 - 0x2008 = 0xF8
	want := int32(0x2100 - (0x2004 + 4))
	got := int32(binary.LittleEndian.Uint32(code[4:]))
	if got != want {
		t.Errorf("patched displacement = %#x, want %#x", got, want)
	}
}
