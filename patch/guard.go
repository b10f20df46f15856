package patch

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/zyedidia/pltwatch/errs"
	"github.com/zyedidia/pltwatch/memmap"
)

var pageSize = uintptr(unix.Getpagesize())

func pageOf(addr uintptr) uintptr {
	return addr &^ (pageSize - 1)
}

// protectionGuard widens a page to include write permission for the
// duration of a GOT patch, and re-narrows it on release. Every exit path
// out of Patcher.ReplaceFunction that widened a page must release its
// guard; widen/release failures are both reported as fatal to the caller
// per spec.md §4.3 steps 3 and 6.
type protectionGuard struct {
	page    uintptr
	prior   memmap.Prot
	widened bool
}

// widen looks up the current protection of the page containing addr. If it
// already includes write, no syscall is made and release is a no-op. If
// the page's protection is unknown to view, that is a fatal internal
// error: spec.md §4.3 step 2 says to fail loudly rather than guess.
func widen(view *memmap.View, addr uintptr) (*protectionGuard, error) {
	page := pageOf(addr)
	prot, ok := view.Lookup(addr)
	if !ok {
		return nil, ErrProtectionUnknown
	}

	g := &protectionGuard{page: page, prior: prot}
	if prot&memmap.Write != 0 {
		return g, nil
	}

	if err := mprotectPage(page, prot|memmap.Write); err != nil {
		return nil, err
	}
	g.widened = true
	return g, nil
}

// release restores the page's prior protection if widen() changed it.
func (g *protectionGuard) release() error {
	if !g.widened {
		return nil
	}
	return mprotectPage(g.page, g.prior)
}

func mprotectPage(page uintptr, prot memmap.Prot) error {
	var flags int
	if prot&memmap.Read != 0 {
		flags |= unix.PROT_READ
	}
	if prot&memmap.Write != 0 {
		flags |= unix.PROT_WRITE
	}
	if prot&memmap.Exec != 0 {
		flags |= unix.PROT_EXEC
	}

	b := pageBytes(page)
	if err := unix.Mprotect(b, flags); err != nil {
		return fmt.Errorf("%w: mprotect %#x: %v", errs.Internal, page, err)
	}
	return nil
}
