package ld

import (
	"encoding/binary"
	"testing"

	"github.com/blacktop/go-macho-ld/types"
)

func TestIsGCRootDontDeadStrip(t *testing.T) {
	s := &objSection{Section64: types.Section64{Flags: types.AttrNoDeadStrip}}
	if !isGCRoot(s) {
		t.Error("a section with S_ATTR_NO_DEAD_STRIP should be a GC root")
	}
}

func TestIsGCRootModInitFuncPointers(t *testing.T) {
	s := &objSection{Section64: types.Section64{Flags: types.ModInitFuncPointers}}
	if !isGCRoot(s) {
		t.Error("__mod_init_func should be an unconditional GC root")
	}
}

func TestIsGCRootRegularIsNot(t *testing.T) {
	s := &objSection{Section64: types.Section64{Flags: types.Regular}}
	if isGCRoot(s) {
		t.Error("a plain regular section should not be a GC root")
	}
}

func TestSortDiceByAddr(t *testing.T) {
	d := []diceAtAddr{{Addr: 30}, {Addr: 10}, {Addr: 20}}
	sortDiceByAddr(d)
	if d[0].Addr != 10 || d[1].Addr != 20 || d[2].Addr != 30 {
		t.Errorf("sortDiceByAddr = %+v, want ascending order", d)
	}
}

func TestMinU8(t *testing.T) {
	if minU8(3, 5) != 3 {
		t.Error("minU8(3,5) should be 3")
	}
	if minU8(5, 3) != 3 {
		t.Error("minU8(5,3) should be 3")
	}
}

func TestSplitSectionWithoutSubsectionsProducesOneAtom(t *testing.T) {
	fileID := uint32(1)
	sec := &objSection{
		Section64: types.Section64{Addr: 0x1000, Size: 16, Flags: types.Regular | types.AttrPureInstructions},
		ord:       1,
		segName:   "__TEXT",
		secName:   "__text",
	}
	obj := &Object{
		FileID:            &fileID,
		Header:            types.FileHeader{CPU: types.CPUArm64}, // Flags == 0: no subsections-via-symbols
		ByteOrder:         binary.LittleEndian,
		Contents:          make([]byte, 0x1010),
		Sections:          []*objSection{sec},
		Syms:              []Nlist{{Name: "_f", Type: types.N_SECT | types.N_EXT, Sect: 1, Value: 0x1000}},
		sectionsAsSymbols: map[uint8]SymbolWithLoc{},
		atomByIndex:       map[uint32]*Atom{},
	}
	obj.buildSymbolOrder(nil)

	ctx := newFakeCtx()
	ms := MatchingSection{SegmentIndex: 0, SectionIndex: 0}
	ctx.sections[ms] = &sec.Section64

	if err := obj.Split(ctx, true); err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(ctx.addedAtoms) != 1 {
		t.Fatalf("len(addedAtoms) = %d, want 1", len(ctx.addedAtoms))
	}
	if got := ctx.addedAtoms[0].Size; got != 16 {
		t.Errorf("atom size = %d, want 16", got)
	}
}

// TestSplitSectionWithSubsectionsSynthesizesHeadAndAliases exercises the
// subsections-via-symbols path: a leading head region with no symbol of its
// own, an alias pair collapsing onto one atom, and a final symbol running to
// the end of the section.
func TestSplitSectionWithSubsectionsSynthesizesHeadAndAliases(t *testing.T) {
	fileID := uint32(1)
	sec := &objSection{
		Section64: types.Section64{Addr: 0x1000, Size: 0x40, Flags: types.Regular | types.AttrPureInstructions},
		ord:       1,
		segName:   "__TEXT",
		secName:   "__text",
	}
	obj := &Object{
		FileID:    &fileID,
		Header:    types.FileHeader{CPU: types.CPUArm64, Flags: types.SubsectionsViaSymbols},
		ByteOrder: binary.LittleEndian,
		Contents:  make([]byte, 0x1040),
		Sections:  []*objSection{sec},
		Syms: []Nlist{
			{Name: "_a", Type: types.N_SECT | types.N_EXT, Sect: 1, Value: 0x1010},
			{Name: "_a_alias", Type: types.N_SECT | types.N_EXT, Sect: 1, Value: 0x1010},
			{Name: "_b", Type: types.N_SECT | types.N_EXT, Sect: 1, Value: 0x1020},
		},
		sectionsAsSymbols: map[uint8]SymbolWithLoc{},
		atomByIndex:       map[uint32]*Atom{},
	}
	obj.buildSymbolOrder(nil)

	ctx := newFakeCtx()
	ms := MatchingSection{SegmentIndex: 0, SectionIndex: 0}
	ctx.sections[ms] = &sec.Section64

	if err := obj.Split(ctx, true); err != nil {
		t.Fatalf("Split: %v", err)
	}

	if len(ctx.addedAtoms) != 3 {
		t.Fatalf("len(addedAtoms) = %d, want 3 (head region, aliased span, tail span)", len(ctx.addedAtoms))
	}

	head, aliased, tail := ctx.addedAtoms[0], ctx.addedAtoms[1], ctx.addedAtoms[2]

	if head.Size != 0x10 {
		t.Errorf("head atom size = %#x, want 0x10", head.Size)
	}
	if len(head.Contained) != 0 {
		t.Errorf("head atom should have no contained symbols, got %v", head.Contained)
	}

	if aliased.Size != 0x10 {
		t.Errorf("aliased atom size = %#x, want 0x10", aliased.Size)
	}
	if len(aliased.Contained) != 1 {
		t.Fatalf("aliased atom Contained = %v, want 1 entry for the alias symbol", aliased.Contained)
	}
	if aliased.Contained[0].SymIndex != 1 || aliased.Contained[0].Offset != 0 {
		t.Errorf("aliased atom Contained[0] = %+v, want {SymIndex:1 Offset:0}", aliased.Contained[0])
	}

	if tail.Size != 0x20 {
		t.Errorf("tail atom size = %#x, want 0x20", tail.Size)
	}
	if len(tail.Contained) != 0 {
		t.Errorf("tail atom should have no contained symbols, got %v", tail.Contained)
	}
}
