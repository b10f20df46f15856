package procimage

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/zyedidia/pltwatch/errs"
)

// buildSynthetic lays out a fake string table, symbol table, and a PLT
// relocation array in a Go-owned byte slice, then points an Image at it.
// This lets the Cursor/symbolName logic be exercised without a real
// dynamic linker image, since that requires an actually-loaded process.
func buildSynthetic(t *testing.T) (*Image, func()) {
	t.Helper()

	strtab := []byte("\x00malloc\x00free\x00__private\x00")
	symtab := make([]elf64Sym, 3)
	symtab[0] = elf64Sym{Name: 1} // "malloc"
	symtab[1] = elf64Sym{Name: 8} // "free"
	symtab[2] = elf64Sym{Name: 13}

	relocs := []elf64Rela{
		{Offset: 0x2000, Info: uint64(0)<<32 | rX8664JmpSlot},                 // -> malloc
		{Offset: 0x2008, Info: uint64(1)<<32 | 6 /* not JUMP_SLOT */},         // skipped
		{Offset: 0x2010, Info: uint64(1)<<32 | rX8664JmpSlot},                 // -> free
	}

	img := &Image{
		Base:      0,
		symtab:    uintptr(unsafe.Pointer(&symtab[0])),
		strtab:    uintptr(unsafe.Pointer(&strtab[0])),
		strsz:     uint64(len(strtab)),
		pltRelocs: uintptr(unsafe.Pointer(&relocs[0])),
		pltCount:  uint64(len(relocs)),
	}

	// keep references alive for the duration of the test; GC must not move
	// or free these while unsafe pointers into them are in play.
	keep := func() {
		_ = strtab
		_ = symtab
		_ = relocs
	}
	return img, keep
}

func TestCursorSkipsNonJumpSlot(t *testing.T) {
	img, keep := buildSynthetic(t)
	defer keep()

	c := img.Cursor()

	e1, err := c.Next()
	if err != nil {
		t.Fatalf("Next() #1: %v", err)
	}
	if e1.Name != "malloc" || e1.GotAddr != 0x2000 {
		t.Errorf("Next() #1 = %+v", e1)
	}

	e2, err := c.Next()
	if err != nil {
		t.Fatalf("Next() #2: %v", err)
	}
	if e2.Name != "free" || e2.GotAddr != 0x2010 {
		t.Errorf("Next() #2 = %+v", e2)
	}

	_, err = c.Next()
	if !errors.Is(err, errs.EndOfEnumeration) {
		t.Errorf("Next() #3 err = %v, want EndOfEnumeration", err)
	}
}

func TestSymbolNameOutOfBounds(t *testing.T) {
	img, keep := buildSynthetic(t)
	defer keep()

	if got := img.symbolName(1000); got != "" {
		t.Errorf("symbolName(1000) = %q, want empty", got)
	}
}

func TestHeadOfChainSingleNode(t *testing.T) {
	// A single-element chain (no l_prev) is its own head.
	lm := linkMap{Addr: 0x1000}
	ptr := uintptr(unsafe.Pointer(&lm))
	if got := headOfChain(ptr); got != ptr {
		t.Errorf("headOfChain = %#x, want %#x", got, ptr)
	}
}

func TestHeadOfChainWalksBack(t *testing.T) {
	var a, b, c linkMap
	a.Addr, b.Addr, c.Addr = 1, 2, 3
	aPtr := uintptr(unsafe.Pointer(&a))
	bPtr := uintptr(unsafe.Pointer(&b))
	cPtr := uintptr(unsafe.Pointer(&c))

	// chain: a <-> b <-> c, head is a.
	b.Prev, b.Next = aPtr, cPtr
	c.Prev = bPtr

	if got := headOfChain(cPtr); got != aPtr {
		t.Errorf("headOfChain(c) = %#x, want a = %#x", got, aPtr)
	}
}
