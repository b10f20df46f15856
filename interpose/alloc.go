package interpose

import (
	"github.com/ebitengine/purego"

	"github.com/zyedidia/pltwatch/alloctrack"
)

// originalAllocators holds the previously-resolved addresses that
// ReplaceFunction reported when each allocator symbol was patched, so the
// wrapper can call through to the
// real implementation. purego.RegisterFunc binds a Go function variable to
// a C function address using the variable's own signature to build the
// call; it's the inverse of NewCallback.
type originalAllocators struct {
	malloc  func(uintptr) uintptr
	free    func(uintptr)
	calloc  func(uintptr, uintptr) uintptr
	realloc func(uintptr, uintptr) uintptr

	scalarNew    func(uintptr) uintptr
	arrayNew     func(uintptr) uintptr
	scalarDelete func(uintptr)
	arrayDelete  func(uintptr)
}

var orig originalAllocators

// bindOriginal wires one originals field to the prior address captured
// for name, if that symbol was in fact patched.
func bindOriginal(fn interface{}, prior uintptr) {
	if prior == 0 {
		return
	}
	purego.RegisterFunc(fn, prior)
}

// wrappedMalloc is installed over malloc. It calls through to the real
// allocator first — the tracker must never observe a pointer the real
// allocator hasn't actually returned — then records the result.
func wrappedMalloc(size uintptr) uintptr {
	p := orig.malloc(size)
	alloctrack.Default.RecordAlloc(p, size)
	return p
}

func wrappedFree(p uintptr) {
	alloctrack.Default.RecordFree(p)
	orig.free(p)
}

func wrappedCalloc(num, size uintptr) uintptr {
	p := orig.calloc(num, size)
	alloctrack.Default.RecordAlloc(p, num*size)
	return p
}

// wrappedRealloc follows spec.md §4.4's realloc rule: a realloc that moves
// the block is a free-then-alloc at the tracker's level; a realloc that
// keeps p's identity is an in-place size update. Any other result,
// including a null one (realloc(p, 0)), records a free of p followed by an
// allocation at the result, which is a no-op when the result is null.
func wrappedRealloc(p uintptr, size uintptr) uintptr {
	np := orig.realloc(p, size)
	if np == p {
		alloctrack.Default.UpdateSize(np, size)
		return np
	}
	alloctrack.Default.RecordFree(p)
	alloctrack.Default.RecordAlloc(np, size)
	return np
}

func wrappedScalarNew(size uintptr) uintptr {
	p := orig.scalarNew(size)
	alloctrack.Default.RecordAlloc(p, size)
	return p
}

func wrappedArrayNew(size uintptr) uintptr {
	p := orig.arrayNew(size)
	alloctrack.Default.RecordAlloc(p, size)
	return p
}

func wrappedScalarDelete(p uintptr) {
	alloctrack.Default.RecordFree(p)
	orig.scalarDelete(p)
}

func wrappedArrayDelete(p uintptr) {
	alloctrack.Default.RecordFree(p)
	orig.arrayDelete(p)
}

// CallbackFor returns the purego callback trampoline for name — a
// C-callable function pointer backed by the matching wrapped* Go function
// — or 0 if name is not one of AllocSymbols.
func CallbackFor(name string) uintptr {
	switch name {
	case SymMalloc:
		return purego.NewCallback(wrappedMalloc)
	case SymFree:
		return purego.NewCallback(wrappedFree)
	case SymCalloc:
		return purego.NewCallback(wrappedCalloc)
	case SymRealloc:
		return purego.NewCallback(wrappedRealloc)
	case SymScalarNew:
		return purego.NewCallback(wrappedScalarNew)
	case SymArrayNew:
		return purego.NewCallback(wrappedArrayNew)
	case SymScalarDelete:
		return purego.NewCallback(wrappedScalarDelete)
	case SymArrayDelete:
		return purego.NewCallback(wrappedArrayDelete)
	default:
		return 0
	}
}

// BindOriginal registers the real implementation captured for name as prior
// so the matching wrapped* function can call through to it.
func BindOriginal(name string, prior uintptr) {
	switch name {
	case SymMalloc:
		bindOriginal(&orig.malloc, prior)
	case SymFree:
		bindOriginal(&orig.free, prior)
	case SymCalloc:
		bindOriginal(&orig.calloc, prior)
	case SymRealloc:
		bindOriginal(&orig.realloc, prior)
	case SymScalarNew:
		bindOriginal(&orig.scalarNew, prior)
	case SymArrayNew:
		bindOriginal(&orig.arrayNew, prior)
	case SymScalarDelete:
		bindOriginal(&orig.scalarDelete, prior)
	case SymArrayDelete:
		bindOriginal(&orig.arrayDelete, prior)
	}
}
