package ld

import (
	"math"

	"github.com/blacktop/go-macho-ld/types"
)

// Relocation is the normalized, post-parse relocation record stored on an
// atom. Raw relocation_info words are turned into these by reloc_parse.go;
// reloc_resolve.go consumes them once virtual addresses are known.
type Relocation struct {
	Offset     uint32
	Target     SymbolWithLoc
	Addend     int64
	Subtractor *SymbolWithLoc
	Pcrel      bool
	Length     uint8 // width is 2^Length bytes
	Type       uint8 // raw Mach-O relocation type; meaning is architecture-specific
}

func (r *Relocation) Width() int { return 1 << r.Length }

// ContainedSym is an additional symbol that falls inside an atom's address
// range (not the atom's own defining symbol).
type ContainedSym struct {
	SymIndex uint32
	Offset   uint64
	Stab     Stab
}

// Binding is an offset the dynamic loader patches with an external symbol's
// resolved address (or, for LazyBindings, a lazily-resolved one).
type Binding struct {
	GlobalIndex uint32
	Offset      uint64
}

// Atom is a contiguous run of bytes relocated as a unit: the ingestion
// engine's fundamental unit of code or data.
type Atom struct {
	SymIndex uint32
	File     *uint32

	Code      []byte
	Size      uint64
	Alignment uint8 // power-of-two exponent; 2^Alignment

	Contained    []ContainedSym
	Relocs       []Relocation
	Rebases      []uint64
	Bindings     []Binding
	LazyBindings []Binding
	Dices        []types.DataInCodeEntry

	Next, Prev *Atom

	DbgInfoAtom any
	Dirty       bool
	GCRoot      bool

	// VAddr is populated by the external VA allocator once layout runs; the
	// resolver reads it via the symbol table instead (atom.symbol.n_value)
	// but Atom keeps its own copy for the synthetic GOT/stub/TLV atoms that
	// have no object-owned Nlist to store it in.
	VAddr uint64
}

// Loc returns the atom's defining SymbolWithLoc.
func (a *Atom) Loc() SymbolWithLoc {
	return SymbolWithLoc{SymIndex: a.SymIndex, File: a.File}
}

// IsEmpty reports whether this is the canonical empty atom (sym_index == 0).
func (a *Atom) IsEmpty() bool { return a.SymIndex == 0 }

// createEmptyAtom allocates an atom with a zeroed code buffer of the given
// aligned size, links it into the object's (or linker's) managed-atom list
// and registers it in atomByIndex. Callers fill in Code/Relocs/etc after.
func createEmptyAtom(symIndex uint32, file *uint32, alignedSize uint64, alignment uint8, managed *[]*Atom, atomByIndex map[uint32]*Atom) *Atom {
	a := &Atom{
		SymIndex:  symIndex,
		File:      file,
		Code:      make([]byte, alignedSize),
		Size:      alignedSize,
		Alignment: alignment,
	}
	*managed = append(*managed, a)
	atomByIndex[symIndex] = a
	return a
}

// capacity returns the distance from this atom's start VA to the next
// atom's start VA in the same output section's intrusive list, or
// math.MaxUint64 - start if this is the last atom.
func capacity(a *Atom, start uint64) uint64 {
	if a.Next == nil {
		return math.MaxUint64 - start
	}
	return a.Next.VAddr - start
}

// freeListEligible reports whether an atom's spare capacity (beyond its
// ideal padded size plus the layout's minimum text capacity) makes it a
// candidate for the incremental-link free list.
func freeListEligible(a *Atom, start uint64, padToIdeal func(*Atom) uint64, minTextCapacity uint64) bool {
	return capacity(a, start) > padToIdeal(a)+minTextCapacity
}
