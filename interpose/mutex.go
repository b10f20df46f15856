package interpose

import (
	"github.com/ebitengine/purego"
	"golang.org/x/sys/unix"

	"github.com/zyedidia/pltwatch/locktrack"
)

// originalMutexOps holds the real pthread_mutex_* implementations captured
// when those symbols were patched.
type originalMutexOps struct {
	lock    func(uintptr) int32
	unlock  func(uintptr) int32
	trylock func(uintptr) int32
}

var origMutex originalMutexOps

// cycleSink, when non-nil, is called by wrappedMutexLock with each closed
// wait-for cycle that AcquireIntent reports. It is installed with
// SetCycleSink and is not synchronized.
var cycleSink func(locktrack.Cycle)

// SetCycleSink installs the callback invoked synchronously, at detection
// time, whenever AcquireIntent closes a new cycle. A nil sink disables the
// callback without affecting locktrack.Default's own re-checked record.
func SetCycleSink(fn func(locktrack.Cycle)) {
	cycleSink = fn
}

// wrappedMutexLock is installed over pthread_mutex_lock. The tracker's own
// mutex (spec.md §5) is only ever held across the bookkeeping calls below,
// never across the real lock call: AcquireIntent returns before orig.lock
// blocks, and AcquireSuccess is called only after it returns.
func wrappedMutexLock(m uintptr) int32 {
	tid := locktrack.ThreadID(unix.Gettid())

	if c := locktrack.Default.AcquireIntent(m, tid); c != nil {
		Logger.Printf("potential deadlock: cycle closed on mutex %#x by thread %d", m, tid)
		if cycleSink != nil {
			cycleSink(*c)
		}
	}

	ret := origMutex.lock(m)
	if ret == 0 {
		locktrack.Default.AcquireSuccess(m, tid)
	}
	return ret
}

// wrappedMutexUnlock records the release before forwarding to the real
// pthread_mutex_unlock, unconditionally: once the real call is made,
// another thread can observe m as unlocked and re-acquire it before this
// wrapper gets a chance to run any bookkeeping of its own, so the record
// must already be gone by then (spec.md §4.5).
func wrappedMutexUnlock(m uintptr) int32 {
	tid := locktrack.ThreadID(unix.Gettid())
	locktrack.Default.Release(m, tid)
	return origMutex.unlock(m)
}

// wrappedMutexTrylock never blocks, so it never participates as a waiter:
// it only ever records a successful acquisition (spec.md §4.5's trylock
// carve-out).
func wrappedMutexTrylock(m uintptr) int32 {
	tid := locktrack.ThreadID(unix.Gettid())
	ret := origMutex.trylock(m)
	if ret == 0 {
		locktrack.Default.AcquireSuccess(m, tid)
	}
	return ret
}

// MutexCallbackFor returns the purego callback trampoline for name, or 0 if
// name is not one of LockSymbols.
func MutexCallbackFor(name string) uintptr {
	switch name {
	case SymMutexLock:
		return purego.NewCallback(wrappedMutexLock)
	case SymMutexUnlock:
		return purego.NewCallback(wrappedMutexUnlock)
	case SymMutexTrylock:
		return purego.NewCallback(wrappedMutexTrylock)
	default:
		return 0
	}
}

// BindOriginalMutex registers the real pthread_mutex_* implementation
// captured for name as prior.
func BindOriginalMutex(name string, prior uintptr) {
	switch name {
	case SymMutexLock:
		bindOriginal(&origMutex.lock, prior)
	case SymMutexUnlock:
		bindOriginal(&origMutex.unlock, prior)
	case SymMutexTrylock:
		bindOriginal(&origMutex.trylock, prior)
	}
}
