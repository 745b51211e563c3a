package ld

import (
	"fmt"

	"github.com/blacktop/go-macho-ld/types"
)

// fakeCtx is a minimal, in-memory LinkerContext good enough to drive
// parseRelocations and Resolve in tests without a real top-level linker.
type fakeCtx struct {
	syms  map[symKey]*Nlist
	names map[symKey]string

	globals   map[string]SymbolWithLoc
	globalIdx map[string]uint32

	got     map[symKey]*Atom
	stubs   map[symKey]*Atom
	tlvptr  map[symKey]*Atom
	byIndex map[symKey]*Atom

	gotCounter, stubCounter, tlvCounter, internCounter uint32

	// pendingStubTarget records the target last passed to
	// CreateLazyPointerAtom, since CreateStubAtom only receives the lazy
	// pointer's own symbol and must still register the stub under the
	// original external target.
	pendingStubTarget SymbolWithLoc

	sections      map[MatchingSection]*types.Section64
	ordToMatching map[uint8]MatchingSection

	tlvDataSec, tlvBssSec, tlvPtrSec int
	dataSeg, dataConstSeg, textSeg   int
	gotSec, stubsSec, stubHelperSec, laSymSec int

	addedAtoms []*Atom
}

func newFakeCtx() *fakeCtx {
	return &fakeCtx{
		syms:          map[symKey]*Nlist{},
		names:         map[symKey]string{},
		globals:       map[string]SymbolWithLoc{},
		globalIdx:     map[string]uint32{},
		got:           map[symKey]*Atom{},
		stubs:         map[symKey]*Atom{},
		tlvptr:        map[symKey]*Atom{},
		byIndex:       map[symKey]*Atom{},
		sections:      map[MatchingSection]*types.Section64{},
		ordToMatching: map[uint8]MatchingSection{},
		tlvDataSec:    -1,
		tlvBssSec:     -1,
		tlvPtrSec:     -1,
	}
}

func (f *fakeCtx) GetSymbol(loc SymbolWithLoc) (*Nlist, error) {
	if n, ok := f.syms[loc.key()]; ok {
		return n, nil
	}
	return nil, fmt.Errorf("fakeCtx: no symbol for %+v", loc)
}

func (f *fakeCtx) GetSymbolName(loc SymbolWithLoc) (string, error) {
	if n, ok := f.names[loc.key()]; ok {
		return n, nil
	}
	return "", fmt.Errorf("fakeCtx: no name for %+v", loc)
}

func (f *fakeCtx) GetMatchingSection(sect *types.Section64) (MatchingSection, bool) {
	for ms, s := range f.sections {
		if s == sect {
			return ms, true
		}
	}
	return MatchingSection{}, false
}

func (f *fakeCtx) GetSection(ms MatchingSection) *types.Section64 { return f.sections[ms] }

func (f *fakeCtx) GetSectionOrdinal(ms MatchingSection) uint8 {
	for ord, m := range f.ordToMatching {
		if m == ms {
			return ord
		}
	}
	return 0
}

func (f *fakeCtx) GetMatchingSectionFromOrdinal(ord uint8) MatchingSection {
	return f.ordToMatching[ord]
}

func (f *fakeCtx) Global(name string) (SymbolWithLoc, bool) {
	loc, ok := f.globals[name]
	return loc, ok
}

func (f *fakeCtx) GlobalIndex(name string) (uint32, bool) {
	idx, ok := f.globalIdx[name]
	return idx, ok
}

func (f *fakeCtx) GotEntry(target SymbolWithLoc) (*Atom, bool)    { a, ok := f.got[target.key()]; return a, ok }
func (f *fakeCtx) AllocateGotEntry(target SymbolWithLoc) uint32   { f.gotCounter++; return f.gotCounter }
func (f *fakeCtx) StubEntry(target SymbolWithLoc) (*Atom, bool)   { a, ok := f.stubs[target.key()]; return a, ok }
func (f *fakeCtx) AllocateStubEntry(target SymbolWithLoc) uint32  { f.stubCounter++; return f.stubCounter }
func (f *fakeCtx) TlvPtrEntry(target SymbolWithLoc) (*Atom, bool) { a, ok := f.tlvptr[target.key()]; return a, ok }
func (f *fakeCtx) AllocateTlvPtrEntry(target SymbolWithLoc) uint32 { f.tlvCounter++; return f.tlvCounter }

func (f *fakeCtx) CreateGotAtom(target SymbolWithLoc) *Atom {
	a := &Atom{VAddr: 0x9000_0000 + uint64(f.gotCounter)*8}
	f.got[target.key()] = a
	return a
}

func (f *fakeCtx) CreateStubHelperAtom() *Atom {
	return &Atom{VAddr: 0xA000_0000 + uint64(f.stubCounter)*16}
}

func (f *fakeCtx) CreateLazyPointerAtom(helperSym, target SymbolWithLoc) *Atom {
	f.pendingStubTarget = target
	return &Atom{VAddr: 0xB000_0000 + uint64(f.stubCounter)*8}
}

func (f *fakeCtx) CreateStubAtom(laptrSym SymbolWithLoc) *Atom {
	a := &Atom{VAddr: 0xC000_0000 + uint64(f.stubCounter)*16}
	f.stubs[f.pendingStubTarget.key()] = a
	return a
}

func (f *fakeCtx) CreateTlvPtrAtom(target SymbolWithLoc) *Atom {
	a := &Atom{VAddr: 0xD000_0000 + uint64(f.tlvCounter)*8}
	f.tlvptr[target.key()] = a
	return a
}

func (f *fakeCtx) AtomByIndex(target SymbolWithLoc) (*Atom, bool) {
	a, ok := f.byIndex[target.key()]
	return a, ok
}

func (f *fakeCtx) AddAtomToSection(atom *Atom, ms MatchingSection) {
	f.addedAtoms = append(f.addedAtoms, atom)
}

func (f *fakeCtx) AllocateAtom(atom *Atom, size uint64, alignment uint8, ms MatchingSection) uint64 {
	return atom.VAddr
}

func (f *fakeCtx) NeedsPrealloc() bool { return false }

func (f *fakeCtx) DataSegmentIndex() int      { return f.dataSeg }
func (f *fakeCtx) DataConstSegmentIndex() int { return f.dataConstSeg }
func (f *fakeCtx) TextSegmentIndex() int      { return f.textSeg }
func (f *fakeCtx) GotSectionIndex() int       { return f.gotSec }
func (f *fakeCtx) StubsSectionIndex() int     { return f.stubsSec }
func (f *fakeCtx) StubHelperSectionIndex() int { return f.stubHelperSec }
func (f *fakeCtx) LaSymbolPtrSectionIndex() int { return f.laSymSec }
func (f *fakeCtx) TlvDataSectionIndex() int    { return f.tlvDataSec }
func (f *fakeCtx) TlvBssSectionIndex() int     { return f.tlvBssSec }
func (f *fakeCtx) TlvPtrSectionIndex() int     { return f.tlvPtrSec }

func (f *fakeCtx) InternString(name string) uint32 {
	f.internCounter++
	return f.internCounter
}

var _ LinkerContext = (*fakeCtx)(nil)
