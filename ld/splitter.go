package ld

import (
	"math/bits"

	"github.com/blacktop/go-macho-ld/types"
)

// Sym returns a pointer to the object's own nlist at idx, so the splitter
// and resolver can both read it and (for contained symbols) rewrite n_sect.
func (o *Object) Sym(idx uint32) *Nlist { return &o.Syms[idx] }

// Split walks every section, maps it to an output
// section, and partitions it into atoms either along subsections-via-symbols
// boundaries or as one atom per section. allowSubsections folds in a
// layout-mode condition (typically "optimize_mode != Debug || gc_sections")
// that this package doesn't otherwise model — it is supplied by the
// external driver.
func (o *Object) Split(ctx LinkerContext, allowSubsections bool) error {
	for _, s := range o.Sections {
		if err := o.splitSection(ctx, s, allowSubsections); err != nil {
			return err
		}
	}
	return nil
}

func (o *Object) splitSection(ctx LinkerContext, s *objSection, allowSubsections bool) error {
	ms, ok := ctx.GetMatchingSection(&s.Section64)
	if !ok {
		return nil // unhandled section class: nothing to split it into
	}

	isZerofill := s.isZerofill()

	var code []byte
	if !isZerofill {
		code = o.Contents[s.Offset : uint64(s.Offset)+s.Size]
	}

	hasDices := s.segName == "__TEXT" && s.secName == "__text" && len(o.Dices) > 0
	hasStabs := o.hasStabs

	subsectionsViaSymbols := o.Header.Flags.SubsectionsViaSymbols() && allowSubsections

	filtered := filterSymbolsByAddress(o.sorted, o.iundefsym, s.Addr, s.Addr+s.Size)

	type atomSpan struct {
		symIdx   uint32
		aliases  []uint32
		startVA  uint64
		endVA    uint64
	}

	var spans []atomSpan

	if subsectionsViaSymbols && len(filtered) > 0 {
		if filtered[0].Value > s.Addr {
			// Head region with no leading symbol: synthesize one.
			sectSym := o.sectionSymbol(s)
			spans = append(spans, atomSpan{symIdx: sectSym.SymIndex, startVA: s.Addr, endVA: filtered[0].Value})
		}
		i := 0
		for i < len(filtered) {
			j := i + 1
			for j < len(filtered) && filtered[j].Value == filtered[i].Value {
				j++
			}
			end := s.Addr + s.Size
			if j < len(filtered) {
				end = filtered[j].Value
			}
			aliases := make([]uint32, 0, j-i-1)
			for k := i + 1; k < j; k++ {
				aliases = append(aliases, filtered[k].Index)
			}
			spans = append(spans, atomSpan{symIdx: filtered[i].Index, aliases: aliases, startVA: filtered[i].Value, endVA: end})
			i = j
		}
	} else {
		sectSym := o.sectionSymbol(s)
		spans = append(spans, atomSpan{symIdx: sectSym.SymIndex, startVA: s.Addr, endVA: s.Addr + s.Size})
	}

	for _, span := range spans {
		var alignment uint8
		if span.startVA > 0 {
			tz := bits.TrailingZeros64(span.startVA)
			if tz > 63 {
				tz = 63
			}
			alignment = minU8(uint8(tz), uint8(s.Align))
		} else {
			alignment = uint8(s.Align)
		}

		atom, err := o.createAtomFromSubsection(ctx, s, span.symIdx, span.aliases, span.startVA, span.endVA, alignment, code, isZerofill, hasDices, hasStabs)
		if err != nil {
			return err
		}
		ctx.AddAtomToSection(atom, ms)
	}

	return nil
}

func minU8(a, b uint8) uint8 {
	if a < b {
		return a
	}
	return b
}

// createAtomFromSubsection builds one atom covering [startVA, endVA) of a
// section, attaching any alias symbols, relocations, and dice entries that
// fall inside its range.
func (o *Object) createAtomFromSubsection(ctx LinkerContext, s *objSection, symIdx uint32, aliases []uint32, startVA, endVA uint64, alignment uint8, sectionCode []byte, isZerofill, hasDices, hasStabs bool) (*Atom, error) {
	size := endVA - startVA
	alignedSize := types.RoundUp(size, 1<<alignment)

	atom := createEmptyAtom(symIdx, o.FileID, alignedSize, alignment, &o.managedAtoms, o.atomByIndex)

	baseOffset := startVA - s.Addr
	if !isZerofill && len(sectionCode) > 0 {
		copy(atom.Code, sectionCode[baseOffset:baseOffset+size])
	}
	atom.Size = size

	relSlice := filterRelocs(s.relocs, uint32(baseOffset), uint32(baseOffset+size))
	if err := o.parseRelocations(ctx, atom, s, relSlice, uint32(baseOffset), startVA); err != nil {
		return nil, err
	}

	if hasDices {
		dices := make([]diceAtAddr, 0, len(o.Dices))
		for _, d := range o.Dices {
			addr, ok := o.GetVMAddress(uint64(d.Offset))
			if !ok {
				continue
			}
			dices = append(dices, diceAtAddr{Addr: addr, Entry: d})
		}
		sortDiceByAddr(dices)
		for _, d := range filterDice(dices, startVA, endVA) {
			entry := d.Entry
			entry.Offset = uint32(d.Addr - startVA)
			atom.Dices = append(atom.Dices, entry)
		}
	}

	for _, idx := range aliases {
		sub := o.Sym(idx)
		var stab Stab
		if hasStabs {
			if fn, ok := findFunctionContaining(o.Debug, sub.Value); ok {
				stab = Stab{Kind: StabFunction, Size: fn.EndAddr - fn.StartAddr}
			} else {
				stab = Stab{Kind: StabStatic}
			}
		} else {
			stab = Stab{Kind: StabStatic}
		}
		atom.Contained = append(atom.Contained, ContainedSym{SymIndex: idx, Offset: sub.Value - startVA, Stab: stab})
		sub.Sect = ctx.GetSectionOrdinal(mustMatchingSection(ctx, s))
		o.atomByIndex[idx] = atom
	}

	atom.GCRoot = isGCRoot(s)

	return atom, nil
}

func mustMatchingSection(ctx LinkerContext, s *objSection) MatchingSection {
	ms, _ := ctx.GetMatchingSection(&s.Section64)
	return ms
}

func sortDiceByAddr(d []diceAtAddr) {
	for i := 1; i < len(d); i++ {
		for j := i; j > 0 && d[j-1].Addr > d[j].Addr; j-- {
			d[j-1], d[j] = d[j], d[j-1]
		}
	}
}

// isGCRoot reports whether every atom in section s should be treated as an
// unconditional GC root.
func isGCRoot(s *objSection) bool {
	if s.Flags.IsDontDeadStrip() || s.Flags.IsDontDeadStripIfReferencesLive() {
		return true
	}
	if s.secName == "__StaticInit" {
		return true
	}
	t := s.Flags.Type()
	return t == types.ModInitFuncPointers || t == types.ModTermFuncPointers
}
