// Package interpose provides the wrapper functions installed in place of
// malloc/free/calloc/realloc, the C++ scalar/array new/delete operators,
// and the pthread_mutex_{lock,unlock,trylock} family (spec.md §4.6).
package interpose

import (
	"io"
	"log"

	"github.com/ianlancetaylor/demangle"
)

// Logger receives best-effort diagnostics: the potential-deadlock notice
// written by the pthread_mutex_lock wrapper. Discards by default.
var Logger = log.New(io.Discard, "interpose: ", 0)

func SetLogger(l *log.Logger) { Logger = l }

// Itanium-ABI manglings for the C++ allocation operators (spec.md §4.6).
const (
	SymScalarNew    = "_Znwm"
	SymArrayNew     = "_Znam"
	SymScalarDelete = "_ZdlPv"
	SymArrayDelete  = "_ZdaPv"

	SymMalloc  = "malloc"
	SymFree    = "free"
	SymCalloc  = "calloc"
	SymRealloc = "realloc"

	SymMutexLock    = "pthread_mutex_lock"
	SymMutexUnlock  = "pthread_mutex_unlock"
	SymMutexTrylock = "pthread_mutex_trylock"
)

// Symbol describes one interposable entry point: its name, whether a
// failure to patch it aborts startup (spec.md §6: "Failure to patch
// malloc/free or pthread_mutex_lock/unlock is an error; failures on the
// others are logged as skipped and do not abort startup"). The
// human-readable label used in logs comes from DisplayName(Name).
type Symbol struct {
	Name      string
	Mandatory bool
}

// DisplayName demangles Itanium-ABI C++ symbol names for diagnostics; any
// name demangle fails to recognize (the plain C allocator and pthread
// symbols) passes through unchanged.
func DisplayName(name string) string {
	out, err := demangle.ToString(name, demangle.NoParams)
	if err != nil {
		return name
	}
	return out
}

// AllocSymbols is the ordered set of allocator-family symbols patched when
// memory detection is enabled.
var AllocSymbols = []Symbol{
	{Name: SymMalloc, Mandatory: true},
	{Name: SymFree, Mandatory: true},
	{Name: SymCalloc, Mandatory: false},
	{Name: SymRealloc, Mandatory: false},
	{Name: SymScalarNew, Mandatory: false},
	{Name: SymArrayNew, Mandatory: false},
	{Name: SymScalarDelete, Mandatory: false},
	{Name: SymArrayDelete, Mandatory: false},
}

// LockSymbols is the ordered set of pthread-mutex symbols patched when
// lock detection is enabled.
var LockSymbols = []Symbol{
	{Name: SymMutexLock, Mandatory: true},
	{Name: SymMutexUnlock, Mandatory: true},
	{Name: SymMutexTrylock, Mandatory: false},
}
