package ld

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log"

	"github.com/blacktop/go-macho-ld/types"
)

// Config controls how Parse reads an object.
type Config struct {
	// Offset is the byte offset of this object within its containing file,
	// nonzero when the object was extracted from a fat/universal wrapper.
	Offset int64
	// TargetArch, if nonzero, causes Parse to fail ErrMismatchedCPU when the
	// object's cputype doesn't match.
	TargetArch types.CPU
}

// rawReloc is a relocation_info word unpacked into its bitfields, before
// reloc_parse.go turns it into a normalized Relocation. Mirrors cmds.go's
// Reloc/relocInfo split (pushSection), reused here for object ingestion
// rather than export.
type rawReloc struct {
	Addr      uint32
	Value     uint32
	Type      uint8
	Len       uint8
	Pcrel     bool
	Extern    bool
	Scattered bool
}

// objSection is one parsed section_64 plus its ordinal, segment/section
// names and raw relocations.
type objSection struct {
	types.Section64
	ord     uint8 // 1-based section ordinal within the object
	relocs  []rawReloc
	segName string
	secName string
}

func (s *objSection) isZerofill() bool {
	t := s.Flags.Type()
	return t == types.ZeroFill || t == types.GbZeroFill || t == types.ThreadLocalZerofill
}

// Object is a parsed MH_OBJECT file: component B's output and the input to
// the symbol-ordering, splitter, and relocation stages.
type Object struct {
	FileID *uint32

	Contents []byte
	ByteOrder binary.ByteOrder

	Header types.FileHeader

	Syms   []Nlist // indexed by symtab index
	Strtab []byte

	Sections []*objSection

	Dices []types.DataInCodeEntry // file-relative offsets, as on disk

	Debug *DebugInfo

	sorted      []symbolAtIndex
	iundefsym   int
	hasDysymtab bool

	sectionsAsSymbols map[uint8]SymbolWithLoc
	atomByIndex       map[uint32]*Atom
	managedAtoms      []*Atom

	hasStabs bool
}

// Parse reads the header, dispatches the restricted
// MH_OBJECT load-command set, parses symtab/strtab/data-in-code, and makes a
// best-effort attempt at DWARF. Unknown load commands are logged and
// skipped.
func Parse(contents []byte, fileID *uint32, cfg Config) (*Object, error) {
	off := cfg.Offset

	if len(contents) < int(off)+4 {
		return nil, &FormatError{off, "file too short for header", nil}
	}

	bo, magic, err := detectByteOrder(contents[off:])
	if err != nil {
		return nil, err
	}
	if magic != types.Magic64 {
		return nil, fmt.Errorf("%w: only 64-bit MH_OBJECT is supported", ErrNotObject)
	}

	var hdr types.FileHeader
	if err := binary.Read(bytes.NewReader(contents[off:off+int64(types.FileHeaderSize64)]), bo, &hdr); err != nil {
		return nil, &FormatError{off, "failed to read mach_header_64", err}
	}
	if hdr.Type != types.MH_OBJECT {
		return nil, ErrNotObject
	}
	if cfg.TargetArch != 0 && hdr.CPU != cfg.TargetArch {
		return nil, ErrMismatchedCPU
	}
	if hdr.CPU != types.CPUArm64 && hdr.CPU != types.CPUAmd64 {
		return nil, ErrUnsupportedCPU
	}

	obj := &Object{
		FileID:            fileID,
		Contents:          contents,
		ByteOrder:         bo,
		Header:            hdr,
		sectionsAsSymbols: make(map[uint8]SymbolWithLoc),
		atomByIndex:       make(map[uint32]*Atom),
	}

	cmdOff := off + int64(types.FileHeaderSize64)
	r := bytes.NewReader(contents[cmdOff:])

	var segCmd *types.Segment64
	var symtabCmd *types.SymtabCmd
	var dysymtabCmd *types.DysymtabCmd
	var dataInCodeCmd *types.DataInCodeCmd

	var sectionOrd uint8
	for i := uint32(0); i < hdr.NCommands; i++ {
		cmdStart, _ := r.Seek(0, 1)
		var lc types.LoadCmd
		var length uint32
		if err := binary.Read(r, bo, &lc); err != nil {
			return nil, &FormatError{cmdOff + cmdStart, "failed to read load command", err}
		}
		if err := binary.Read(r, bo, &length); err != nil {
			return nil, &FormatError{cmdOff + cmdStart, "failed to read load command size", err}
		}
		if length < 8 {
			return nil, &FormatError{cmdOff + cmdStart, "command block too small", nil}
		}
		if cmdOff+cmdStart+int64(length) > int64(len(contents)) {
			return nil, &FormatError{cmdOff + cmdStart, "invalid command block size", length}
		}
		full := contents[cmdOff+cmdStart : cmdOff+cmdStart+int64(length)]

		switch lc {
		case types.LC_SEGMENT_64:
			var seg types.Segment64
			if err := binary.Read(bytes.NewReader(full), bo, &seg); err != nil {
				return nil, &FormatError{cmdOff + cmdStart, "failed to read LC_SEGMENT_64", err}
			}
			seg.Offset += uint64(off)
			segCmd = &seg

			const segment64HdrSize = 4 + 4 + 16 + 8 + 8 + 8 + 8 + 4 + 4 + 4 + 4 // LoadCmd+Len+Name+Addr+Memsz+Offset+Filesz+Maxprot+Prot+Nsect+Flag
			const section64HdrSize = 16 + 16 + 8 + 8 + 4 + 4 + 4 + 4 + 4 + 4 + 4 + 4
			secOff := cmdStart + segment64HdrSize
			for s := uint32(0); s < seg.Nsect; s++ {
				var sh types.Section64
				chunk := contents[cmdOff+secOff : cmdOff+secOff+section64HdrSize]
				if err := binary.Read(bytes.NewReader(chunk), bo, &sh); err != nil {
					return nil, &FormatError{cmdOff + secOff, "failed to read section_64", err}
				}
				sh.Offset += uint32(off)
				if sh.Nreloc > 0 {
					sh.Reloff += uint32(off)
				}
				sectionOrd++
				objSec := &objSection{
					Section64: sh,
					ord:       sectionOrd,
					segName:   cstr(sh.Seg[:]),
					secName:   cstr(sh.Name[:]),
				}
				if sh.Nreloc > 0 {
					relDat := contents[sh.Reloff : sh.Reloff+sh.Nreloc*8]
					objSec.relocs, err = unpackRelocs(relDat, bo)
					if err != nil {
						return nil, err
					}
					sortRelocsByAddr(objSec.relocs)
				}
				obj.Sections = append(obj.Sections, objSec)
				secOff += section64HdrSize
			}

		case types.LC_SYMTAB:
			var st types.SymtabCmd
			if err := binary.Read(bytes.NewReader(full), bo, &st); err != nil {
				return nil, &FormatError{cmdOff + cmdStart, "failed to read LC_SYMTAB", err}
			}
			st.Symoff += uint32(off)
			st.Stroff += uint32(off)
			symtabCmd = &st

		case types.LC_DYSYMTAB:
			var dst types.DysymtabCmd
			if err := binary.Read(bytes.NewReader(full), bo, &dst); err != nil {
				return nil, &FormatError{cmdOff + cmdStart, "failed to read LC_DYSYMTAB", err}
			}
			dysymtabCmd = &dst
			obj.hasDysymtab = true

		case types.LC_DATA_IN_CODE:
			var dic types.DataInCodeCmd
			if err := binary.Read(bytes.NewReader(full), bo, &dic); err != nil {
				return nil, &FormatError{cmdOff + cmdStart, "failed to read LC_DATA_IN_CODE", err}
			}
			dic.Offset += uint32(off)
			dataInCodeCmd = &dic

		case types.LC_BUILD_VERSION, types.LC_VERSION_MIN_MACOSX, types.LC_VERSION_MIN_IPHONEOS,
			types.LC_LINKER_OPTION, types.LC_SOURCE_VERSION:
			// Recorded but not acted upon: these carry platform/version
			// metadata the external writer copies through unchanged.

		default:
			log.Printf("ld: found NEW load command: %s, please let the author know :)", lc)
		}

		if _, err := r.Seek(cmdStart+int64(length), 0); err != nil {
			return nil, &FormatError{cmdOff + cmdStart, "failed to advance past load command", err}
		}
	}

	if segCmd == nil {
		return nil, &FormatError{off, "object has no LC_SEGMENT_64", nil}
	}

	if symtabCmd != nil {
		syms, strtab, err := parseSymtab(contents, bo, symtabCmd)
		if err != nil {
			return nil, err
		}
		obj.Syms = syms
		obj.Strtab = strtab
	}

	if dataInCodeCmd != nil && dataInCodeCmd.Size > 0 {
		obj.Dices, err = parseDataInCode(contents, bo, dataInCodeCmd)
		if err != nil {
			return nil, err
		}
	}

	obj.buildSymbolOrder(dysymtabCmd)
	if !obj.hasDysymtab {
		log.Printf("ld: %s has no LC_DYSYMTAB, synthesizing iundefsym from symbol order", obj.objectName())
	}

	debugSections := map[string][]byte{}
	for _, s := range obj.Sections {
		if s.segName != "__DWARF" {
			continue
		}
		name, ok := dwarfSectionKey(s.secName)
		if !ok {
			continue
		}
		data := make([]byte, s.Size)
		copy(data, contents[s.Offset:uint64(s.Offset)+s.Size])
		debugSections[name] = data
	}
	if len(debugSections) > 0 {
		info, err := parseDWARF(debugSections)
		if err != nil {
			logMissingDWARF(obj.objectName(), err)
		} else {
			obj.Debug = info
			obj.hasStabs = true
		}
	}

	return obj, nil
}

// Atoms returns every atom this object's splitter has produced so far, in
// the order they were created. Synthetic GOT/stub/TLV-pointer atoms live on
// the LinkerContext instead, since they aren't owned by any one object.
func (o *Object) Atoms() []*Atom { return o.managedAtoms }

// AtomAt returns the atom owning symtab index symIndex -- this object's
// share of the atom_by_index_table a LinkerContext's AtomByIndex implementation
// needs to consult for any target whose File points back at this object.
func (o *Object) AtomAt(symIndex uint32) (*Atom, bool) {
	a, ok := o.atomByIndex[symIndex]
	return a, ok
}

func (o *Object) objectName() string {
	if len(o.Syms) > 0 {
		return o.Syms[0].Name
	}
	return "<object>"
}

func dwarfSectionKey(secName string) (string, bool) {
	switch secName {
	case "__debug_abbrev":
		return "abbrev", true
	case "__debug_info":
		return "info", true
	case "__debug_str":
		return "str", true
	case "__debug_line":
		return "line", true
	case "__debug_ranges":
		return "ranges", true
	}
	return "", false
}

func detectByteOrder(b []byte) (binary.ByteOrder, types.Magic, error) {
	if len(b) < 4 {
		return nil, 0, &FormatError{0, "file too short for magic", nil}
	}
	le := binary.LittleEndian.Uint32(b)
	be := binary.BigEndian.Uint32(b)
	switch types.Magic(le) {
	case types.Magic32, types.Magic64:
		return binary.LittleEndian, types.Magic(le), nil
	}
	switch types.Magic(be) {
	case types.Magic32, types.Magic64:
		return binary.BigEndian, types.Magic(be), nil
	}
	return nil, 0, &FormatError{0, "invalid magic number", nil}
}

func unpackRelocs(dat []byte, bo binary.ByteOrder) ([]rawReloc, error) {
	n := len(dat) / 8
	out := make([]rawReloc, n)
	r := bytes.NewReader(dat)
	for i := range out {
		var addr, symnum uint32
		if err := binary.Read(r, bo, &addr); err != nil {
			return nil, fmt.Errorf("failed to read relocation_info.r_address: %w", err)
		}
		if err := binary.Read(r, bo, &symnum); err != nil {
			return nil, fmt.Errorf("failed to read relocation_info.r_symbolnum: %w", err)
		}
		rel := &out[i]
		if addr&(1<<31) != 0 { // scattered
			rel.Addr = addr & (1<<24 - 1)
			rel.Type = uint8((addr >> 24) & (1<<4 - 1))
			rel.Len = uint8((addr >> 28) & (1<<2 - 1))
			rel.Pcrel = addr&(1<<30) != 0
			rel.Value = symnum
			rel.Scattered = true
			continue
		}
		switch bo {
		case binary.LittleEndian:
			rel.Addr = addr
			rel.Value = symnum & (1<<24 - 1)
			rel.Pcrel = symnum&(1<<24) != 0
			rel.Len = uint8((symnum >> 25) & (1<<2 - 1))
			rel.Extern = symnum&(1<<27) != 0
			rel.Type = uint8((symnum >> 28) & (1<<4 - 1))
		default: // binary.BigEndian
			rel.Addr = addr
			rel.Value = symnum >> 8
			rel.Pcrel = symnum&(1<<7) != 0
			rel.Len = uint8((symnum >> 5) & (1<<2 - 1))
			rel.Extern = symnum&(1<<4) != 0
			rel.Type = uint8(symnum & (1<<4 - 1))
		}
	}
	return out, nil
}

func parseSymtab(contents []byte, bo binary.ByteOrder, hdr *types.SymtabCmd) ([]Nlist, []byte, error) {
	strtab := contents[hdr.Stroff : hdr.Stroff+hdr.Strsize]
	symdat := contents[hdr.Symoff : hdr.Symoff+hdr.Nsyms*16]

	syms := make([]Nlist, hdr.Nsyms)
	r := bytes.NewReader(symdat)
	for i := range syms {
		var n types.Nlist64
		if err := binary.Read(r, bo, &n); err != nil {
			return nil, nil, fmt.Errorf("failed to read nlist_64 %d: %w", i, err)
		}
		if n.Name >= uint32(len(strtab)) {
			return nil, nil, &FormatError{int64(hdr.Symoff) + int64(i*16), "invalid name in symbol table", n.Name}
		}
		name := cstr(strtab[n.Name:])
		syms[i] = Nlist{Name: name, Type: n.Type, Sect: n.Sect, Desc: n.Desc, Value: n.Value}
	}
	return syms, strtab, nil
}

func parseDataInCode(contents []byte, bo binary.ByteOrder, hdr *types.DataInCodeCmd) ([]types.DataInCodeEntry, error) {
	n := hdr.Size / 8
	out := make([]types.DataInCodeEntry, n)
	r := bytes.NewReader(contents[hdr.Offset : uint32(hdr.Offset)+hdr.Size])
	if err := binary.Read(r, bo, out); err != nil {
		return nil, fmt.Errorf("failed to read data_in_code_entry table: %w", err)
	}
	return out, nil
}

func cstr(b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i == -1 {
		i = len(b)
	}
	return string(b[:i])
}

// GetVMAddress does a linear scan over the object's sections for the one
// whose file range holds fileOffset; no slide/conversion machinery for
// shared-cache images is needed.
func (o *Object) GetVMAddress(fileOffset uint64) (uint64, bool) {
	for _, s := range o.Sections {
		if fileOffset >= uint64(s.Offset) && fileOffset < uint64(s.Offset)+s.Size {
			return s.Addr + (fileOffset - uint64(s.Offset)), true
		}
	}
	return 0, false
}

// sectionSymbol returns (synthesizing and caching on first use) the symbol
// standing in for an entire section when its leading bytes have no defined
// symbol of their own, caching the result in sectionsAsSymbols.
func (o *Object) sectionSymbol(s *objSection) SymbolWithLoc {
	if loc, ok := o.sectionsAsSymbols[s.ord]; ok {
		return loc
	}
	idx := uint32(len(o.Syms))
	o.Syms = append(o.Syms, Nlist{
		Name:  fmt.Sprintf("%s.%s", s.segName, s.secName),
		Type:  types.N_SECT | types.N_EXT,
		Sect:  s.ord,
		Value: s.Addr,
	})
	loc := SymbolWithLoc{SymIndex: idx, File: o.FileID}
	o.sectionsAsSymbols[s.ord] = loc
	return loc
}

// GetOffset mirrors File.GetOffset.
func (o *Object) GetOffset(addr uint64) (uint64, bool) {
	for _, s := range o.Sections {
		if addr >= s.Addr && addr < s.Addr+s.Size {
			return uint64(s.Offset) + (addr - s.Addr), true
		}
	}
	return 0, false
}
