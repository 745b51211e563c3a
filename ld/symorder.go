package ld

import (
	"golang.org/x/exp/slices"

	"github.com/blacktop/go-macho-ld/types"
)

// symbolAtIndex pairs a symtab index with the fields sortSymbols and
// findFirst need without re-indexing into the symtab on every comparison.
type symbolAtIndex struct {
	Index uint32
	Value uint64
	Sect  bool // n_type.sect()
}

// sortSymbols produces a stable ordering: defined
// symbols (sect() == true) before undefined, defined symbols ordered by
// n_value ascending, undefined order unspecified. Go's compiler (among
// others) emits unsorted symtabs, which is why this exists instead of
// trusting DYSYMTAB's nominal partition.
func sortSymbols(syms []symbolAtIndex) {
	slices.SortStableFunc(syms, func(a, b symbolAtIndex) int {
		if a.Sect != b.Sect {
			if a.Sect {
				return -1 // defined sorts first
			}
			return 1
		}
		if !a.Sect {
			return 0 // undefined/undefined: stable, no further order
		}
		switch {
		case a.Value < b.Value:
			return -1
		case a.Value > b.Value:
			return 1
		default:
			return 0
		}
	})
}

// syntheticIundefsym scans from the end of a sorted symbol list backward
// until it finds a defined symbol, returning the index one past it — used
// when the object carries no DYSYMTAB command to report iundefsym directly.
func syntheticIundefsym(sorted []symbolAtIndex) int {
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].Sect {
			return i + 1
		}
	}
	return 0
}

// findFirst returns the index of the first element in sorted for which
// pred returns true, assuming pred is monotonic (false*, then true*) over
// the slice — the binary-search workhorse behind filterSymbolsByAddress,
// filterRelocs, and filterDice.
func findFirst(n int, pred func(i int) bool) int {
	lo, hi := 0, n
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if pred(mid) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// filterSymbolsByAddress returns the (contiguous, since sorted is address
// ordered within the defined run) slice of defined symbols whose n_value
// falls in [lo, hi).
func filterSymbolsByAddress(sorted []symbolAtIndex, iundefsym int, lo, hi uint64) []symbolAtIndex {
	defined := sorted[:iundefsym]
	start := findFirst(len(defined), func(i int) bool { return defined[i].Value >= lo })
	end := findFirst(len(defined), func(i int) bool { return defined[i].Value >= hi })
	return defined[start:end]
}

// filterRelocs returns the sub-slice of raw relocations whose r_address
// falls in [lo, hi); relocs must already be sorted by Addr (the assembler
// emits them in descending or ascending address order depending on
// platform — callers sort once up front via sortRelocsByAddr).
func filterRelocs(relocs []rawReloc, lo, hi uint32) []rawReloc {
	start := findFirst(len(relocs), func(i int) bool { return relocs[i].Addr >= lo })
	end := findFirst(len(relocs), func(i int) bool { return relocs[i].Addr >= hi })
	return relocs[start:end]
}

// diceAtAddr is a data-in-code entry reprojected into address space (its
// on-disk Offset is a file offset; the splitter needs to compare it against
// symbol n_value, which is a virtual address).
type diceAtAddr struct {
	Addr  uint64
	Entry types.DataInCodeEntry
}

// filterDice returns the sub-slice of data-in-code entries whose start
// address lies in [lo, hi), assuming dices is sorted by Addr.
func filterDice(dices []diceAtAddr, lo, hi uint64) []diceAtAddr {
	start := findFirst(len(dices), func(i int) bool { return dices[i].Addr >= lo })
	end := findFirst(len(dices), func(i int) bool { return dices[i].Addr >= hi })
	return dices[start:end]
}

// sortRelocsByAddr sorts a section's raw relocations by r_address so
// filterRelocs's binary search is valid; assemblers don't guarantee order.
func sortRelocsByAddr(relocs []rawReloc) {
	slices.SortFunc(relocs, func(a, b rawReloc) int {
		switch {
		case a.Addr < b.Addr:
			return -1
		case a.Addr > b.Addr:
			return 1
		default:
			return 0
		}
	})
}

// buildSymbolOrder produces the sorted
// SymbolAtIndex[] ordering (defined-first, address-ascending among
// defined), and iundefsym, synthesizing it by backward scan when the
// object has no DYSYMTAB.
func (o *Object) buildSymbolOrder(dysymtab *types.DysymtabCmd) {
	sorted := make([]symbolAtIndex, len(o.Syms))
	for i, s := range o.Syms {
		sorted[i] = symbolAtIndex{Index: uint32(i), Value: s.Value, Sect: s.Type.Sect()}
	}
	sortSymbols(sorted)
	o.sorted = sorted
	if dysymtab != nil {
		o.iundefsym = findFirst(len(sorted), func(i int) bool { return !sorted[i].Sect })
	} else {
		o.iundefsym = syntheticIundefsym(sorted)
	}
}
