package ld

import (
	"fmt"
	"log"

	"github.com/blacktop/go-macho-ld/ld/arch/arm64"
	x8664 "github.com/blacktop/go-macho-ld/ld/arch/x86_64"
	"github.com/blacktop/go-macho-ld/types"
)

// Resolve patches every relocation recorded on
// atom's Code buffer now that every atom's final virtual address is known.
// This must run strictly after every object in the link has been split and
// placed — the two-pass split-then-resolve structure is load-bearing,
// since a relocation's target atom may belong to an object processed after
// this one.
func (o *Object) Resolve(ctx LinkerContext, atom *Atom) error {
	isArm64 := o.Header.CPU == types.CPUArm64
	sourceBase := o.atomAddr(ctx, atom)
	isTLV := o.atomIsTLV(atom)

	for i := range atom.Relocs {
		r := &atom.Relocs[i]
		if err := o.resolveOne(ctx, atom, r, sourceBase, isTLV, isArm64); err != nil {
			return fmt.Errorf("resolving relocation at offset %#x: %w", r.Offset, err)
		}
	}
	return nil
}

// atomAddr returns an atom's own final virtual address: for an atom owned
// by an object file, that's its defining symbol's (post-layout) n_value;
// for a linker-synthetic atom (GOT/stub/lazy-pointer/TLV-pointer), it's the
// VAddr the external allocator stamped on it directly.
func (o *Object) atomAddr(ctx LinkerContext, a *Atom) uint64 {
	if a.File == nil {
		return a.VAddr
	}
	sym, err := ctx.GetSymbol(a.Loc())
	if err != nil {
		return a.VAddr
	}
	return sym.Value
}

// atomIsTLV reports whether atom lives in a thread-local-variables section
// (S_THREAD_LOCAL_VARIABLES, i.e. __DATA,__thread_vars) — this gates the
// template-base subtraction below, and applies uniformly to every
// relocation the atom carries regardless of type.
func (o *Object) atomIsTLV(atom *Atom) bool {
	if atom.File == nil {
		return false
	}
	sect := o.Sym(atom.SymIndex).Sect
	for _, s := range o.Sections {
		if s.ord == sect {
			return s.Flags.Type() == types.ThreadLocalVariables
		}
	}
	return false
}

// tlvTemplateBase resolves the address of the TLV template section
// (__thread_data if present, else __thread_bss) an is_tlv atom's offsets
// are expressed relative to.
func (o *Object) tlvTemplateBase(ctx LinkerContext) (uint64, error) {
	if ord := ctx.TlvDataSectionIndex(); ord >= 0 {
		if sec := ctx.GetSection(ctx.GetMatchingSectionFromOrdinal(uint8(ord))); sec != nil {
			return sec.Addr, nil
		}
	}
	if ord := ctx.TlvBssSectionIndex(); ord >= 0 {
		if sec := ctx.GetSection(ctx.GetMatchingSectionFromOrdinal(uint8(ord))); sec != nil {
			return sec.Addr, nil
		}
	}
	return 0, fmt.Errorf("ld: atom is thread-local but neither __thread_data nor __thread_bss is present")
}

func isGotClass(isArm64 bool, raw uint8) bool {
	if isArm64 {
		switch types.ARM64RelocType(raw) {
		case types.ARM64_RELOC_GOT_LOAD_PAGE21, types.ARM64_RELOC_GOT_LOAD_PAGEOFF12, types.ARM64_RELOC_POINTER_TO_GOT:
			return true
		}
		return false
	}
	switch types.X86_64RelocType(raw) {
	case types.X86_64_RELOC_GOT, types.X86_64_RELOC_GOT_LOAD:
		return true
	}
	return false
}

// getTargetAtom looks up target's resolved atom: GOT entries first when the
// relocation is GOT-class, otherwise stub table, then TLV-pointer table,
// falling back to the atom_by_index_table.
func (o *Object) getTargetAtom(ctx LinkerContext, target SymbolWithLoc, gotClass bool) (*Atom, bool) {
	if gotClass {
		a, ok := ctx.GotEntry(target)
		return a, ok
	}
	if a, ok := ctx.StubEntry(target); ok {
		return a, true
	}
	if a, ok := ctx.TlvPtrEntry(target); ok {
		return a, true
	}
	return ctx.AtomByIndex(target)
}

// resolveTargetAddr finds the target
// atom, then picks the nlist whose n_value actually supplies the address —
// the relocation's own target symbol when it's local to the atom being
// resolved (so a reference to a contained sub-symbol lands on that
// sub-symbol's true address, not the atom's base), otherwise the resolved
// target atom's own defining symbol.
func (o *Object) resolveTargetAddr(ctx LinkerContext, atomFile *uint32, target SymbolWithLoc, gotClass bool) uint64 {
	targetAtom, found := o.getTargetAtom(ctx, target, gotClass)
	if !found {
		name, _ := ctx.GetSymbolName(target)
		if loc, ok := ctx.Global(name); ok {
			if sym, err := ctx.GetSymbol(loc); err == nil {
				return sym.Value
			}
		}
		log.Printf("ld: relocation target %q could not be resolved, using 0", name)
		return 0
	}

	sameFile := (atomFile == nil) == (target.File == nil) &&
		(atomFile == nil || *atomFile == *target.File)
	if sameFile {
		if sym, err := ctx.GetSymbol(target); err == nil {
			return sym.Value
		}
	}
	return o.atomAddr(ctx, targetAtom)
}

func (o *Object) resolveOne(ctx LinkerContext, atom *Atom, r *Relocation, sourceBase uint64, isTLV, isArm64 bool) error {
	gotClass := isGotClass(isArm64, r.Type)
	targetVA := o.resolveTargetAddr(ctx, atom.File, r.Target, gotClass)

	if isTLV {
		base, err := o.tlvTemplateBase(ctx)
		if err != nil {
			return err
		}
		targetVA -= base
	}

	var pairDelta int64
	if r.Subtractor != nil {
		subVA := o.resolveTargetAddr(ctx, atom.File, *r.Subtractor, false)
		pairDelta = int64(targetVA) - int64(subVA)
	}

	sourceAddr := sourceBase + uint64(r.Offset)

	if isArm64 {
		return o.resolveARM64(ctx, atom, r, targetVA, sourceAddr, pairDelta)
	}
	return o.resolveX8664(ctx, atom, r, targetVA, sourceAddr, pairDelta)
}

func (o *Object) patchUnsigned(atom *Atom, r *Relocation, val uint64) error {
	width := r.Width()
	if int(r.Offset)+width > len(atom.Code) {
		return fmt.Errorf("ld: UNSIGNED relocation offset out of bounds")
	}
	switch width {
	case 8:
		o.ByteOrder.PutUint64(atom.Code[r.Offset:], val)
	case 4:
		o.ByteOrder.PutUint32(atom.Code[r.Offset:], uint32(val))
	default:
		return fmt.Errorf("ld: unsupported UNSIGNED relocation width %d", width)
	}
	return nil
}

// resolveARM64 dispatches on relocation type and patches the aarch64
// instruction encoding it targets.
func (o *Object) resolveARM64(ctx LinkerContext, atom *Atom, r *Relocation, targetVA, sourceAddr uint64, pairDelta int64) error {
	switch types.ARM64RelocType(r.Type) {
	case types.ARM64_RELOC_UNSIGNED:
		var val uint64
		if r.Subtractor != nil {
			val = uint64(pairDelta + r.Addend)
		} else {
			val = targetVA + uint64(r.Addend)
		}
		return o.patchUnsigned(atom, r, val)

	case types.ARM64_RELOC_BRANCH26:
		disp := int64(targetVA) - int64(sourceAddr)
		if !arm64.PatchBranch26(atom.Code, r.Offset, disp) {
			return fmt.Errorf("%w: displacement %d", ErrTODOBranchIslands, disp)
		}

	case types.ARM64_RELOC_PAGE21, types.ARM64_RELOC_GOT_LOAD_PAGE21, types.ARM64_RELOC_TLVP_LOAD_PAGE21:
		targetPage := int64(targetVA+uint64(r.Addend)) &^ 0xFFF
		sourcePage := int64(sourceAddr) &^ 0xFFF
		if !arm64.PatchPage21(atom.Code, r.Offset, targetPage-sourcePage) {
			return fmt.Errorf("%w: PAGE21 displacement out of range", ErrOverflow)
		}

	case types.ARM64_RELOC_PAGEOFF12, types.ARM64_RELOC_GOT_LOAD_PAGEOFF12:
		off := (targetVA + uint64(r.Addend)) & 0xFFF
		if !arm64.PatchPageOff12(atom.Code, r.Offset, off) {
			return fmt.Errorf("%w: PAGEOFF12 out of range", ErrOverflow)
		}

	case types.ARM64_RELOC_TLVP_LOAD_PAGEOFF12:
		off := (targetVA + uint64(r.Addend)) & 0xFFF
		if _, hasEntry := ctx.TlvPtrEntry(r.Target); !hasEntry {
			arm64.RewriteLoadToAddImm(atom.Code, r.Offset)
		}
		if !arm64.PatchPageOff12(atom.Code, r.Offset, off) {
			return fmt.Errorf("%w: TLVP_LOAD_PAGEOFF12 out of range", ErrOverflow)
		}

	case types.ARM64_RELOC_POINTER_TO_GOT:
		disp := int64(targetVA) - int64(sourceAddr)
		if disp < -(1<<31) || disp >= 1<<31 {
			return fmt.Errorf("%w: POINTER_TO_GOT displacement out of range", ErrOverflow)
		}
		o.ByteOrder.PutUint32(atom.Code[r.Offset:], uint32(int32(disp)))

	case types.ARM64_RELOC_SUBTRACTOR, types.ARM64_RELOC_ADDEND:
		// Consumed as part of the UNSIGNED/PAGE* record it prefixes; no
		// independent patch of its own.

	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedRelocationType, types.ARM64RelocType(r.Type))
	}
	return nil
}

// resolveX8664 dispatches on relocation type and patches the x86_64
// displacement or opcode it targets.
func (o *Object) resolveX8664(ctx LinkerContext, atom *Atom, r *Relocation, targetVA, sourceAddr uint64, pairDelta int64) error {
	switch types.X86_64RelocType(r.Type) {
	case types.X86_64_RELOC_UNSIGNED:
		var val uint64
		if r.Subtractor != nil {
			val = uint64(pairDelta + r.Addend)
		} else {
			val = targetVA + uint64(r.Addend)
		}
		return o.patchUnsigned(atom, r, val)

	case types.X86_64_RELOC_BRANCH, types.X86_64_RELOC_GOT, types.X86_64_RELOC_GOT_LOAD:
		disp := int64(targetVA) - int64(sourceAddr) - 4 + r.Addend
		if !x8664.PatchDisp32(atom.Code, r.Offset, disp) {
			return fmt.Errorf("%w: displacement %d out of range", ErrOverflow, disp)
		}

	case types.X86_64_RELOC_TLV:
		if _, hasEntry := ctx.TlvPtrEntry(r.Target); !hasEntry {
			x8664.RewriteMovqToLeaq(atom.Code, r.Offset)
		}
		disp := int64(targetVA) - int64(sourceAddr) - 4 + r.Addend
		if !x8664.PatchDisp32(atom.Code, r.Offset, disp) {
			return fmt.Errorf("%w: TLV displacement %d out of range", ErrOverflow, disp)
		}

	case types.X86_64_RELOC_SIGNED, types.X86_64_RELOC_SIGNED_1, types.X86_64_RELOC_SIGNED_2, types.X86_64_RELOC_SIGNED_4:
		correction := int64(x8664SignedCorrection(types.X86_64RelocType(r.Type)))
		disp := (int64(targetVA) + r.Addend) - (int64(sourceAddr) + correction + 4)
		if !x8664.PatchDisp32(atom.Code, r.Offset, disp) {
			return fmt.Errorf("%w: SIGNED displacement %d out of range", ErrOverflow, disp)
		}

	case types.X86_64_RELOC_SUBTRACTOR:
		// Consumed as part of the UNSIGNED record it prefixes.

	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedRelocationType, types.X86_64RelocType(r.Type))
	}
	return nil
}
