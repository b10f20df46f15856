package procimage

// ELF64 structures and constants needed to walk a *loaded* object's
// dynamic segment. These mirror <elf.h>/<link.h> layouts; debug/elf is not
// usable here because it reads from a file, not from the live image the
// dynamic linker already relocated into this process's address space.

const (
	dtNull    = 0  // marks the end of the dynamic array
	dtStrtab  = 5  // address of string table
	dtSymtab  = 6  // address of symbol table
	dtStrsz   = 10 // size in bytes of string table
	dtJmprel  = 23 // address of PLT relocations
	dtPltrelsz = 2 // size in bytes of PLT relocations

	rX8664JmpSlot = 7 // R_X86_64_JMP_SLOT relocation type

	symtabEntSize = 24 // sizeof(Elf64_Sym)
	relaEntSize   = 24 // sizeof(Elf64_Rela)
)

// elf64Dyn mirrors Elf64_Dyn: { Elf64_Sxword d_tag; union { Elf64_Xword
// d_val; Elf64_Addr d_ptr; } d_un; }.
type elf64Dyn struct {
	Tag int64
	Val uint64
}

// elf64Sym mirrors Elf64_Sym.
type elf64Sym struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Value uint64
	Size  uint64
}

// elf64Rela mirrors Elf64_Rela.
type elf64Rela struct {
	Offset uint64
	Info   uint64
	Addend int64
}

// symbolIndex extracts the symbol-table index packed into Rela.Info's high
// 32 bits.
func (r elf64Rela) symbolIndex() uint32 {
	return uint32(r.Info >> 32)
}

// relocType extracts the relocation type packed into Rela.Info's low 32
// bits.
func (r elf64Rela) relocType() uint32 {
	return uint32(r.Info)
}

// linkMap mirrors glibc's struct link_map. Only the first five fields are
// relied upon; their layout has been stable across glibc versions on
// x86-64 because other tools (gdb, ld.so's own r_debug protocol) depend on
// it too. Fields after l_prev exist in the real structure but are glibc-
// private and are not read here.
type linkMap struct {
	Addr uintptr // l_addr: difference between the address in the ELF file and the memory load address
	Name uintptr // l_name: absolute file name, as *C.char
	Ld   uintptr // l_ld: dynamic section of this object, as *elf64Dyn
	Next uintptr // l_next: chain forward
	Prev uintptr // l_prev: chain back, towards the head (the main executable)
}
