// Package patch rewrites GOT slots reached through an object's PLT so
// that calls to a named symbol land in a replacement function instead.
package patch

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"unsafe"

	"github.com/zyedidia/pltwatch/errs"
	"github.com/zyedidia/pltwatch/memmap"
	"github.com/zyedidia/pltwatch/procimage"
)

// Logger is this package's diagnostic logger. It discards by default;
// SetLogger installs a real sink, matching the ambient logging convention
// carried over from the teacher repo's own log.go. The package's own code
// does not write to it: failures are returned as errors and recorded for
// LastError.
var Logger = log.New(io.Discard, "patch: ", 0)

func SetLogger(l *log.Logger) { Logger = l }

// lastErrMu/lastErr implement spec.md §7's single process-wide last-error
// string, overwritten on each new failure and retrieved through
// LastError.
var (
	lastErrMu sync.Mutex
	lastErr   string
)

func setLastError(err error) error {
	lastErrMu.Lock()
	lastErr = err.Error()
	lastErrMu.Unlock()
	return err
}

// LastError returns the message of the most recent patch failure recorded
// by any Patcher in the process.
func LastError() string {
	lastErrMu.Lock()
	defer lastErrMu.Unlock()
	return lastErr
}

// Patcher rewrites PLT-routed GOT slots of a single registered object. It
// is driven single-threaded during registration/startup; the only runtime
// concurrency concern is the single aligned pointer store that performs
// the swap itself (spec.md §4.3's "Concurrency" paragraph).
type Patcher struct {
	img  *procimage.Image
	view *memmap.View
}

// New builds a Patcher over an already-inspected image and a memory map
// snapshot used to learn page protections.
func New(img *procimage.Image, view *memmap.View) *Patcher {
	return &Patcher{img: img, view: view}
}

// matches reports whether a PLT entry's stored name identifies the
// requested symbol: either it equals name exactly, or it equals name
// followed by "@" and a version token (spec.md §4.3).
func matches(stored, name string) bool {
	if stored == name {
		return true
	}
	prefix := name + "@"
	return strings.HasPrefix(stored, prefix)
}

// ReplaceFunction installs replacement as the address called whenever the
// registered object invokes name through its PLT. The address name
// resolved to before this call (the "prior" address) is written to *prior
// when prior is non-nil; this is commonly fed back into ReplaceFunction
// later to undo the patch (see Restore).
func (p *Patcher) ReplaceFunction(name string, replacement uintptr, prior *uintptr) error {
	if name == "" || replacement == 0 {
		return setLastError(errs.InvalidArgument)
	}

	// Resolve once via the platform symbol lookup, before touching any PLT
	// entry, to force lazy binding and to get the real previously-resolved
	// address rather than the GOT word that may still point at the
	// dynamic linker's lazy-binding resolver (step 1). A lookup failure here
	// fails the whole call immediately, before any PLT entry or page
	// protection is touched, matching the original's dlsym-first ordering
	// (SPEC_FULL §4) rather than degrading to the unreliable GOT word.
	resolved, rerr := procimage.ResolveSymbol(name)
	if rerr != nil {
		return setLastError(fmt.Errorf("%w: %s: %v", ErrSymbolNotFound, name, rerr))
	}

	entry, found, err := p.findEntry(name)
	if err != nil {
		return setLastError(err)
	}
	if !found {
		return setLastError(fmt.Errorf("%w: %s", ErrSymbolNotFound, name))
	}

	guard, err := widen(p.view, entry.GotAddr)
	if err != nil {
		return setLastError(err)
	}

	if prior != nil {
		*prior = resolved
	}

	writeGotWord(entry.GotAddr, replacement)

	if rerr := guard.release(); rerr != nil {
		return setLastError(rerr)
	}
	// view may now be stale for the page it just un-widened; the caller
	// can Refresh() if it intends to patch another symbol on the same page.
	return nil
}

// Restore is ReplaceFunction sugar for the round trip described in
// spec.md §8: installing the address that a prior ReplaceFunction call
// returned via its out-parameter puts the GOT slot back to pre-patch
// behavior.
func (p *Patcher) Restore(name string, prior uintptr) error {
	return p.ReplaceFunction(name, prior, nil)
}

func (p *Patcher) findEntry(name string) (procimage.PLTEntry, bool, error) {
	c := p.img.Cursor()
	for {
		e, err := c.Next()
		if err == errs.EndOfEnumeration {
			return procimage.PLTEntry{}, false, nil
		}
		if err != nil {
			return procimage.PLTEntry{}, false, err
		}
		if matches(e.Name, name) {
			return e, true, nil
		}
	}
}

func writeGotWord(addr uintptr, val uintptr) {
	// A single aligned pointer store, atomic on the target architecture;
	// there is no lock coordinating this with a thread mid-call through
	// the slot being replaced (spec.md §5).
	*(*uintptr)(unsafe.Pointer(addr)) = val
}
