package ld

import (
	macho "github.com/blacktop/go-macho-ld"
	"github.com/blacktop/go-macho-ld/types"
)

// Nlist is the mutable on-disk symbol record the splitter and resolver read
// and occasionally rewrite (n_sect gets updated when a contained symbol is
// reassigned to an atom's output section).
type Nlist = macho.Symbol

// MatchingSection names an atom's destination: an (segment, section) pair in
// the linker's output image.
type MatchingSection struct {
	SegmentIndex int
	SectionIndex int
}

// LinkerContext is the capability bundle the splitter and relocation
// parser/resolver consume from the host linker. It is implemented in
// production by the top-level driver (out of scope here), for tests by
// fakeCtx (ld/linkerctx_test.go) and for cmd/objdump-atoms by dumpContext
// (cmd/objdump-atoms/context.go).
type LinkerContext interface {
	// Symbol table access.
	GetSymbol(loc SymbolWithLoc) (*Nlist, error)
	GetSymbolName(loc SymbolWithLoc) (string, error)

	// Output-section mapping.
	GetMatchingSection(sect *types.Section64) (MatchingSection, bool)
	GetSection(ms MatchingSection) *types.Section64
	GetSectionOrdinal(ms MatchingSection) uint8
	GetMatchingSectionFromOrdinal(ord uint8) MatchingSection

	// Global symbol table.
	Global(name string) (SymbolWithLoc, bool)
	GlobalIndex(name string) (uint32, bool)

	// GOT / stub / TLV-pointer tables: lookup, idempotent allocation,
	// synthetic atom construction.
	GotEntry(target SymbolWithLoc) (*Atom, bool)
	AllocateGotEntry(target SymbolWithLoc) uint32
	StubEntry(target SymbolWithLoc) (*Atom, bool)
	AllocateStubEntry(target SymbolWithLoc) uint32
	TlvPtrEntry(target SymbolWithLoc) (*Atom, bool)
	AllocateTlvPtrEntry(target SymbolWithLoc) uint32

	CreateGotAtom(target SymbolWithLoc) *Atom
	CreateStubAtom(laptrSym SymbolWithLoc) *Atom
	CreateStubHelperAtom() *Atom
	CreateLazyPointerAtom(helperSym, target SymbolWithLoc) *Atom
	CreateTlvPtrAtom(target SymbolWithLoc) *Atom

	// AtomByIndex is the atom_by_index_table fallback getTargetAtom consults
	// once none of the GOT/stub/TLV-pointer tables have an entry — it must
	// reach into whichever object owns target.File, not just this one.
	AtomByIndex(target SymbolWithLoc) (*Atom, bool)

	AddAtomToSection(atom *Atom, ms MatchingSection)
	AllocateAtom(atom *Atom, size uint64, alignment uint8, ms MatchingSection) uint64
	NeedsPrealloc() bool

	// Segment/section index hints.
	DataSegmentIndex() int
	DataConstSegmentIndex() int
	TextSegmentIndex() int
	GotSectionIndex() int
	StubsSectionIndex() int
	StubHelperSectionIndex() int
	LaSymbolPtrSectionIndex() int
	TlvDataSectionIndex() int
	TlvBssSectionIndex() int
	TlvPtrSectionIndex() int // __DATA,__thread_ptrs — needed to place TLV-pointer atoms

	// String interning for synthesized symbol names.
	InternString(name string) uint32
}
