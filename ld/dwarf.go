package ld

import (
	"log"

	dwarf "github.com/blacktop/go-dwarf"
)

// DebugInfo is the best-effort subset of an object's DWARF the splitter
// needs: the compile unit's name/directory (for stab N_SO/N_OSO records,
// produced by the external writer, not this package) and each function's
// PC range (to classify contained symbols as Stab{Function} vs Stab{Static}).
type DebugInfo struct {
	Name    string
	CompDir string
	Mtime   uint32

	// Funcs is sorted by StartAddr once parseDWARF returns, so
	// findFunctionContaining can binary-search it.
	Funcs []dwarfFunc
}

type dwarfFunc struct {
	Name      string
	StartAddr uint64
	EndAddr   uint64
}

// parseDWARF opens DWARF debug info from the named __DWARF,__debug_* section
// bytes, pulls the single compile unit's name/comp_dir and every
// subprogram's PC range. Missing or malformed DWARF is not fatal: the
// object parser logs and continues with DebugInfo == nil.
func parseDWARF(debugSections map[string][]byte) (*DebugInfo, error) {
	d, err := dwarf.New(
		debugSections["abbrev"],
		nil, nil,
		debugSections["info"],
		debugSections["line"],
		nil,
		debugSections["ranges"],
		debugSections["str"],
	)
	if err != nil {
		return nil, err
	}

	info := &DebugInfo{}
	r := d.Reader()
	var cuSeen bool
	for {
		entry, err := r.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}
		switch entry.Tag {
		case dwarf.TagCompileUnit:
			if cuSeen {
				continue // only the first compile unit is consulted
			}
			cuSeen = true
			if name, ok := entry.Val(dwarf.AttrName).(string); ok {
				info.Name = name
			}
			if dir, ok := entry.Val(dwarf.AttrCompDir).(string); ok {
				info.CompDir = dir
			}
		case dwarf.TagSubprogram:
			low, lowOK := entry.Val(dwarf.AttrLowpc).(uint64)
			if !lowOK {
				continue
			}
			var high uint64
			switch v := entry.Val(dwarf.AttrHighpc).(type) {
			case uint64:
				high = v
			case int64:
				high = low + uint64(v) // DWARF4+: high_pc is an offset from low_pc
			default:
				continue
			}
			name, _ := entry.Val(dwarf.AttrName).(string)
			info.Funcs = append(info.Funcs, dwarfFunc{Name: name, StartAddr: low, EndAddr: high})
		}
	}

	sortFuncsByAddr(info.Funcs)
	return info, nil
}

func sortFuncsByAddr(fns []dwarfFunc) {
	// insertion sort: function counts per compile unit are small and this
	// keeps the dependency surface to the stdlib for a helper this local.
	for i := 1; i < len(fns); i++ {
		for j := i; j > 0 && fns[j-1].StartAddr > fns[j].StartAddr; j-- {
			fns[j-1], fns[j] = fns[j], fns[j-1]
		}
	}
}

// findFunctionContaining returns the function whose PC range covers addr,
// binary-searching the pre-sorted range list rather than scanning it per
// symbol.
func findFunctionContaining(info *DebugInfo, addr uint64) (dwarfFunc, bool) {
	if info == nil || len(info.Funcs) == 0 {
		return dwarfFunc{}, false
	}
	lo, hi := 0, len(info.Funcs)
	for lo < hi {
		mid := (lo + hi) / 2
		if info.Funcs[mid].StartAddr <= addr {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return dwarfFunc{}, false
	}
	f := info.Funcs[lo-1]
	if addr >= f.StartAddr && addr < f.EndAddr {
		return f, true
	}
	return dwarfFunc{}, false
}

func logMissingDWARF(name string, err error) {
	log.Printf("ld: no usable DWARF in %s: %v", name, err)
}
