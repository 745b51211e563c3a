package types

// ARM64RelocType enumerates the r_type values CPU_TYPE_ARM64 relocation_info
// records carry (see <mach-o/arm64/reloc.h>).
type ARM64RelocType uint8

const (
	ARM64_RELOC_UNSIGNED            ARM64RelocType = 0 // absolute address, Len determines size
	ARM64_RELOC_SUBTRACTOR          ARM64RelocType = 1 // must be followed by an UNSIGNED; value is pair[1]-pair[0]
	ARM64_RELOC_BRANCH26            ARM64RelocType = 2 // a B/BL instruction with 26-bit displacement
	ARM64_RELOC_PAGE21              ARM64RelocType = 3 // pc-rel distance to page of target, ADRP
	ARM64_RELOC_PAGEOFF12            ARM64RelocType = 4 // offset within target's page, scaled by r_length, ADD/LDR/STR imm
	ARM64_RELOC_GOT_LOAD_PAGE21     ARM64RelocType = 5 // same as PAGE21, but the target is a GOT entry
	ARM64_RELOC_GOT_LOAD_PAGEOFF12  ARM64RelocType = 6 // same as PAGEOFF12, but the target is a GOT entry
	ARM64_RELOC_POINTER_TO_GOT      ARM64RelocType = 7 // pointer-sized absolute address to a GOT entry
	ARM64_RELOC_TLVP_LOAD_PAGE21    ARM64RelocType = 8 // same as PAGE21, but the target is a TLV entry
	ARM64_RELOC_TLVP_LOAD_PAGEOFF12 ARM64RelocType = 9 // same as PAGEOFF12, but the target is a TLV entry
	ARM64_RELOC_ADDEND              ARM64RelocType = 10 // must be followed by PAGE21 or PAGEOFF12; r_symbolnum is an addend
)

var arm64RelocNames = []IntName{
	{uint32(ARM64_RELOC_UNSIGNED), "UNSIGNED"},
	{uint32(ARM64_RELOC_SUBTRACTOR), "SUBTRACTOR"},
	{uint32(ARM64_RELOC_BRANCH26), "BRANCH26"},
	{uint32(ARM64_RELOC_PAGE21), "PAGE21"},
	{uint32(ARM64_RELOC_PAGEOFF12), "PAGEOFF12"},
	{uint32(ARM64_RELOC_GOT_LOAD_PAGE21), "GOT_LOAD_PAGE21"},
	{uint32(ARM64_RELOC_GOT_LOAD_PAGEOFF12), "GOT_LOAD_PAGEOFF12"},
	{uint32(ARM64_RELOC_POINTER_TO_GOT), "POINTER_TO_GOT"},
	{uint32(ARM64_RELOC_TLVP_LOAD_PAGE21), "TLVP_LOAD_PAGE21"},
	{uint32(ARM64_RELOC_TLVP_LOAD_PAGEOFF12), "TLVP_LOAD_PAGEOFF12"},
	{uint32(ARM64_RELOC_ADDEND), "ADDEND"},
}

func (t ARM64RelocType) String() string { return stringName(uint32(t), arm64RelocNames, false) }
func (t ARM64RelocType) GoString() string { return stringName(uint32(t), arm64RelocNames, true) }

// X86_64RelocType enumerates the r_type values CPU_TYPE_X86_64 relocation_info
// records carry (see <mach-o/x86_64/reloc.h>).
type X86_64RelocType uint8

const (
	X86_64_RELOC_UNSIGNED   X86_64RelocType = 0 // absolute address
	X86_64_RELOC_SIGNED     X86_64RelocType = 1 // signed 32-bit displacement
	X86_64_RELOC_BRANCH     X86_64RelocType = 2 // a CALL/JMP instruction with 32-bit displacement
	X86_64_RELOC_GOT_LOAD   X86_64RelocType = 3 // a MOVQ load of a GOT entry
	X86_64_RELOC_GOT        X86_64RelocType = 4 // other GOT references
	X86_64_RELOC_SUBTRACTOR X86_64RelocType = 5 // must be followed by an UNSIGNED; value is pair[1]-pair[0]
	X86_64_RELOC_SIGNED_1   X86_64RelocType = 6 // signed 32-bit displacement with a -1 addend
	X86_64_RELOC_SIGNED_2   X86_64RelocType = 7 // signed 32-bit displacement with a -2 addend
	X86_64_RELOC_SIGNED_4   X86_64RelocType = 8 // signed 32-bit displacement with a -4 addend
	X86_64_RELOC_TLV        X86_64RelocType = 9 // a MOVQ load of a thread-local variable
)

var x8664RelocNames = []IntName{
	{uint32(X86_64_RELOC_UNSIGNED), "UNSIGNED"},
	{uint32(X86_64_RELOC_SIGNED), "SIGNED"},
	{uint32(X86_64_RELOC_BRANCH), "BRANCH"},
	{uint32(X86_64_RELOC_GOT_LOAD), "GOT_LOAD"},
	{uint32(X86_64_RELOC_GOT), "GOT"},
	{uint32(X86_64_RELOC_SUBTRACTOR), "SUBTRACTOR"},
	{uint32(X86_64_RELOC_SIGNED_1), "SIGNED_1"},
	{uint32(X86_64_RELOC_SIGNED_2), "SIGNED_2"},
	{uint32(X86_64_RELOC_SIGNED_4), "SIGNED_4"},
	{uint32(X86_64_RELOC_TLV), "TLV"},
}

func (t X86_64RelocType) String() string { return stringName(uint32(t), x8664RelocNames, false) }
func (t X86_64RelocType) GoString() string { return stringName(uint32(t), x8664RelocNames, true) }
