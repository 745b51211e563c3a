package main

import (
	"fmt"

	"github.com/blacktop/go-macho-ld/ld"
	"github.com/blacktop/go-macho-ld/types"
)

// dumpContext is a single-object LinkerContext: good enough to drive Split
// and Resolve over one .o file in isolation, without a real multi-object
// link. Every "global" external reference that can't be satisfied inside
// the object itself stays undefined, same as a real linker would report an
// unresolved symbol -- it just never gets patched here.
type dumpContext struct {
	obj      *ld.Object
	fileID   *uint32
	sections []*types.Section64

	got, stubs, tlvptr map[ld.SymbolWithLoc]*ld.Atom
	gotN, stubN, tlvN  uint32

	pendingStubTarget ld.SymbolWithLoc
	names             map[*ld.Atom]string

	tlvDataIdx, tlvBssIdx, tlvPtrIdx int

	synthetic []*ld.Atom
	interned  uint32
}

func newDumpContext(obj *ld.Object, fileID *uint32) *dumpContext {
	c := &dumpContext{
		obj:        obj,
		fileID:     fileID,
		got:        map[ld.SymbolWithLoc]*ld.Atom{},
		stubs:      map[ld.SymbolWithLoc]*ld.Atom{},
		tlvptr:     map[ld.SymbolWithLoc]*ld.Atom{},
		names:      map[*ld.Atom]string{},
		tlvDataIdx: -1,
		tlvBssIdx:  -1,
		tlvPtrIdx:  -1,
	}
	for i, s := range obj.Sections {
		sect := s.Section64
		c.sections = append(c.sections, &sect)
		switch sectionName(&sect) {
		case "__thread_data":
			c.tlvDataIdx = i
		case "__thread_bss":
			c.tlvBssIdx = i
		case "__thread_ptrs":
			c.tlvPtrIdx = i
		}
	}
	return c
}

func sectionName(s *types.Section64) string { return cstr(s.Name[:]) }
func segmentName(s *types.Section64) string { return cstr(s.Seg[:]) }

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (c *dumpContext) GetSymbol(loc ld.SymbolWithLoc) (*ld.Nlist, error) {
	if loc.File != nil {
		return c.obj.Sym(loc.SymIndex), nil
	}
	return nil, fmt.Errorf("objdump-atoms: no synthetic symbol table entry for %+v", loc)
}

func (c *dumpContext) GetSymbolName(loc ld.SymbolWithLoc) (string, error) {
	if loc.File != nil {
		return c.obj.Sym(loc.SymIndex).Name, nil
	}
	return "", fmt.Errorf("objdump-atoms: no synthetic symbol table entry for %+v", loc)
}

func (c *dumpContext) GetMatchingSection(sect *types.Section64) (ld.MatchingSection, bool) {
	for i, s := range c.sections {
		if s == sect {
			return ld.MatchingSection{SegmentIndex: 0, SectionIndex: i}, true
		}
	}
	return ld.MatchingSection{}, false
}

func (c *dumpContext) GetSection(ms ld.MatchingSection) *types.Section64 {
	if ms.SectionIndex < 0 || ms.SectionIndex >= len(c.sections) {
		return nil
	}
	return c.sections[ms.SectionIndex]
}

func (c *dumpContext) GetSectionOrdinal(ms ld.MatchingSection) uint8 { return uint8(ms.SectionIndex) }

func (c *dumpContext) GetMatchingSectionFromOrdinal(ord uint8) ld.MatchingSection {
	return ld.MatchingSection{SegmentIndex: 0, SectionIndex: int(ord)}
}

// Global never resolves: a single object file has nothing else to resolve
// an external reference against, so every extern stays an unsatisfied
// binding, exactly as a standalone .o would report if you tried to run it.
func (c *dumpContext) Global(name string) (ld.SymbolWithLoc, bool) { return ld.SymbolWithLoc{}, false }

func (c *dumpContext) GlobalIndex(name string) (uint32, bool) {
	c.interned++
	return c.interned, true
}

func (c *dumpContext) GotEntry(target ld.SymbolWithLoc) (*ld.Atom, bool) {
	a, ok := c.got[target]
	return a, ok
}
func (c *dumpContext) AllocateGotEntry(target ld.SymbolWithLoc) uint32 { c.gotN++; return c.gotN }
func (c *dumpContext) StubEntry(target ld.SymbolWithLoc) (*ld.Atom, bool) {
	a, ok := c.stubs[target]
	return a, ok
}
func (c *dumpContext) AllocateStubEntry(target ld.SymbolWithLoc) uint32 { c.stubN++; return c.stubN }
func (c *dumpContext) TlvPtrEntry(target ld.SymbolWithLoc) (*ld.Atom, bool) {
	a, ok := c.tlvptr[target]
	return a, ok
}
func (c *dumpContext) AllocateTlvPtrEntry(target ld.SymbolWithLoc) uint32 { c.tlvN++; return c.tlvN }

func (c *dumpContext) CreateGotAtom(target ld.SymbolWithLoc) *ld.Atom {
	a := &ld.Atom{VAddr: 0x9000_0000 + uint64(c.gotN)*8}
	c.got[target] = a
	c.names[a] = fmt.Sprintf("got.%d", c.gotN)
	c.synthetic = append(c.synthetic, a)
	return a
}

func (c *dumpContext) CreateStubHelperAtom() *ld.Atom {
	a := &ld.Atom{VAddr: 0xA000_0000 + uint64(c.stubN)*16}
	c.synthetic = append(c.synthetic, a)
	return a
}

func (c *dumpContext) CreateLazyPointerAtom(helperSym, target ld.SymbolWithLoc) *ld.Atom {
	c.pendingStubTarget = target
	a := &ld.Atom{VAddr: 0xB000_0000 + uint64(c.stubN)*8}
	c.synthetic = append(c.synthetic, a)
	return a
}

func (c *dumpContext) CreateStubAtom(laptrSym ld.SymbolWithLoc) *ld.Atom {
	a := &ld.Atom{VAddr: 0xC000_0000 + uint64(c.stubN)*16}
	c.stubs[c.pendingStubTarget] = a
	c.names[a] = fmt.Sprintf("stub.%d", c.stubN)
	c.synthetic = append(c.synthetic, a)
	return a
}

func (c *dumpContext) CreateTlvPtrAtom(target ld.SymbolWithLoc) *ld.Atom {
	a := &ld.Atom{VAddr: 0xD000_0000 + uint64(c.tlvN)*8}
	c.tlvptr[target] = a
	c.names[a] = fmt.Sprintf("tlvptr.%d", c.tlvN)
	c.synthetic = append(c.synthetic, a)
	return a
}

// AtomByIndex only ever needs to find atoms owned by this same object in
// single-object mode -- cross-object lookups are the external driver's job.
func (c *dumpContext) AtomByIndex(target ld.SymbolWithLoc) (*ld.Atom, bool) {
	if target.File == nil {
		return nil, false
	}
	return c.obj.AtomAt(target.SymIndex)
}

func (c *dumpContext) AddAtomToSection(atom *ld.Atom, ms ld.MatchingSection) {}

func (c *dumpContext) AllocateAtom(atom *ld.Atom, size uint64, alignment uint8, ms ld.MatchingSection) uint64 {
	return atom.VAddr
}

func (c *dumpContext) NeedsPrealloc() bool { return false }

func (c *dumpContext) DataSegmentIndex() int       { return 0 }
func (c *dumpContext) DataConstSegmentIndex() int  { return 0 }
func (c *dumpContext) TextSegmentIndex() int       { return 0 }
func (c *dumpContext) GotSectionIndex() int        { return -1 }
func (c *dumpContext) StubsSectionIndex() int      { return -1 }
func (c *dumpContext) StubHelperSectionIndex() int { return -1 }
func (c *dumpContext) LaSymbolPtrSectionIndex() int { return -1 }
func (c *dumpContext) TlvDataSectionIndex() int    { return c.tlvDataIdx }
func (c *dumpContext) TlvBssSectionIndex() int     { return c.tlvBssIdx }
func (c *dumpContext) TlvPtrSectionIndex() int     { return c.tlvPtrIdx }

func (c *dumpContext) InternString(name string) uint32 {
	c.interned++
	return c.interned
}

var _ ld.LinkerContext = (*dumpContext)(nil)
