// Package macho is the shared root of the module: the on-disk symbol record
// that ld aliases as Nlist, kept here (rather than inside ld itself) so that
// a future multi-object driver sitting above ld can reference the same
// Symbol type a disassembler or symbolizer built on this module would want,
// without importing the ingestion engine's internals.
package macho

import (
	"fmt"

	"github.com/blacktop/go-macho-ld/types"
)

// Symbol is one nlist_64 entry, decoded. Section is carried as a 1-based
// ordinal (Sect) rather than a pointer so it stays valid independent of
// which object's section slice it was read from.
type Symbol struct {
	Name  string
	Type  types.NType
	Sect  uint8
	Desc  types.NDescType
	Value uint64
}

func (s Symbol) String() string {
	return fmt.Sprintf("0x%016x <type:%s sect:%d desc:%#x> %s", s.Value, s.Type.String(""), s.Sect, s.Desc, s.Name)
}
