// Package procimage locates a loaded object's dynamic symbol/string tables
// and PLT relocation array, by walking the dynamic linker's own
// bookkeeping (the glibc link_map chain) rather than re-parsing the ELF
// file from disk. Re-reading the file would give link-time addresses;
// spec.md requires the *runtime* tables of an object that is already
// resident in this process.
package procimage

import (
	"unsafe"

	"github.com/zyedidia/pltwatch/errs"
)

// MainExecutable is the sentinel path naming the process's own executable,
// as opposed to one of its shared objects.
const MainExecutable = ""

// Image is one registered object's dynamic-linking bookkeeping: load base,
// symbol/string tables, and the PLT relocation array.
type Image struct {
	Base uintptr

	symtab uintptr
	strtab uintptr
	strsz  uint64

	pltRelocs uintptr
	pltCount  uint64

	// Name is the path used to register this image (empty for the main
	// executable), kept only for diagnostics.
	Name string
}

// Inspect obtains the dynamic-linker bookkeeping entry for path (or the
// main executable, for MainExecutable) and resolves its symbol table,
// string table, and PLT relocation array. The object must already be
// loaded; Inspect never loads a new copy.
func Inspect(path string) (*Image, error) {
	lm, err := linkMapFor(path)
	if err != nil {
		return nil, err
	}

	if path == MainExecutable {
		lm = headOfChain(lm)
	}

	m := readLinkMap(lm)
	if m.Ld == 0 {
		return nil, errs.Internal
	}

	img := &Image{Base: m.Addr, Name: path}
	if err := img.resolveDynamicTags(m.Ld, m.Addr); err != nil {
		return nil, err
	}
	return img, nil
}

// headOfChain walks l_prev pointers back to the front of the link_map
// list, per spec.md §4.1 ("For the main executable it walks the
// bookkeeping list to its head"). In glibc's own r_debug protocol the head
// is ordinarily the main executable already, but walking explicitly avoids
// depending on that implementation detail holding on every libc.
func headOfChain(lm uintptr) uintptr {
	cur := lm
	for {
		m := readLinkMap(cur)
		if m.Prev == 0 {
			return cur
		}
		cur = m.Prev
	}
}

func readLinkMap(addr uintptr) linkMap {
	return *(*linkMap)(unsafe.Pointer(addr))
}

func readDyn(addr uintptr) elf64Dyn {
	return *(*elf64Dyn)(unsafe.Pointer(addr))
}

// resolveDynamicTags walks the ElfW(Dyn) array at ld, resolving the tags
// this detector needs. Some runtime dynamic-section entries are stored as
// link-time (file-relative) addresses rather than the fixed-up runtime
// address; the usual heuristic (also used by most userspace PLT-hooking
// tools) is that a value smaller than the load bias hasn't been fixed up
// yet and needs bias added.
func (img *Image) resolveDynamicTags(ld, bias uintptr) error {
	var haveSymtab, haveStrtab, havePltrelsz bool
	var pltRelSz uint64

	fixup := func(v uint64) uintptr {
		addr := uintptr(v)
		if bias != 0 && addr < bias {
			addr += bias
		}
		return addr
	}

	for cur := ld; ; cur += unsafe.Sizeof(elf64Dyn{}) {
		d := readDyn(cur)
		if d.Tag == dtNull {
			break
		}
		switch d.Tag {
		case dtSymtab:
			img.symtab = fixup(d.Val)
			haveSymtab = true
		case dtStrtab:
			img.strtab = fixup(d.Val)
			haveStrtab = true
		case dtStrsz:
			img.strsz = d.Val
		case dtJmprel:
			img.pltRelocs = fixup(d.Val)
		case dtPltrelsz:
			pltRelSz = d.Val
			havePltrelsz = true
		}
	}

	if !haveSymtab || !haveStrtab {
		return errs.Internal
	}
	if img.pltRelocs != 0 && havePltrelsz {
		img.pltCount = pltRelSz / relaEntSize
	}
	return nil
}

// symbolName reads the NUL-terminated string at the given string-table
// index.
func (img *Image) symbolName(nameIdx uint32) string {
	if uint64(nameIdx) >= img.strsz {
		return ""
	}
	base := img.strtab + uintptr(nameIdx)
	n := 0
	for {
		b := *(*byte)(unsafe.Pointer(base + uintptr(n)))
		if b == 0 {
			break
		}
		n++
		if uint64(nameIdx)+uint64(n) >= img.strsz {
			break
		}
	}
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		buf[i] = *(*byte)(unsafe.Pointer(base + uintptr(i)))
	}
	return string(buf)
}

// PLTEntry is one JUMP_SLOT relocation: the imported symbol's name and the
// address of the GOT word that holds its currently-resolved target.
type PLTEntry struct {
	Name    string
	GotAddr uintptr
}

// Cursor enumerates JUMP_SLOT relocations over an Image's PLT relocation
// array. A cursor returned by Image.Cursor starts at the beginning.
type Cursor struct {
	img *Image
	pos uint64
}

// Cursor returns a fresh enumeration cursor over img's PLT relocations.
func (img *Image) Cursor() *Cursor {
	return &Cursor{img: img}
}

// Next advances the cursor and returns the next JUMP_SLOT entry.
// Non-JUMP_SLOT relocation types are skipped silently. err is
// errs.EndOfEnumeration, not a failure, once the table is exhausted.
func (c *Cursor) Next() (PLTEntry, error) {
	for c.pos < c.img.pltCount {
		idx := c.pos
		c.pos++

		addr := c.img.pltRelocs + uintptr(idx)*relaEntSize
		rel := *(*elf64Rela)(unsafe.Pointer(addr))
		if rel.relocType() != rX8664JmpSlot {
			continue
		}

		symAddr := c.img.symtab + uintptr(rel.symbolIndex())*symtabEntSize
		sym := *(*elf64Sym)(unsafe.Pointer(symAddr))

		got := uintptr(rel.Offset)
		if c.img.Base != 0 && got < c.img.Base {
			got += c.img.Base
		}

		return PLTEntry{
			Name:    c.img.symbolName(sym.Name),
			GotAddr: got,
		}, nil
	}
	return PLTEntry{}, errs.EndOfEnumeration
}
