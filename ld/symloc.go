package ld

import "github.com/blacktop/go-macho-ld/types"

// SymbolWithLoc names a symbol either in an object's symbol table
// (File != nil) or in the linker's synthetic table (File == nil). Go
// equality on it compares the File pointer, not the file ID it points at;
// use key() for map keys.
type SymbolWithLoc struct {
	SymIndex uint32
	File     *uint32 // nil for the linker's synthetic symbol table
}

// key returns a value usable as a Go map key for a SymbolWithLoc (pointers
// can't be compared portably across objects, so synthesize one).
func (s SymbolWithLoc) key() symKey {
	f := ^uint32(0) // sentinel: linker-synthetic table
	if s.File != nil {
		f = *s.File
	}
	return symKey{f, s.SymIndex}
}

type symKey struct {
	file uint32
	sym  uint32
}

// StabKind discriminates the three stab records the splitter can emit for a
// contained symbol.
type StabKind int

const (
	StabNone StabKind = iota
	StabFunction
	StabStatic
	StabGlobal
)

// Stab carries the debugger-record metadata attached to a contained symbol.
type Stab struct {
	Kind StabKind
	Size uint64 // valid when Kind == StabFunction
}

func (s Stab) ntype() types.NType {
	switch s.Kind {
	case StabFunction:
		return types.N_FUN
	case StabStatic:
		return types.N_STSYM
	case StabGlobal:
		return types.N_GSYM
	default:
		return 0
	}
}
