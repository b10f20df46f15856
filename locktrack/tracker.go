// Package locktrack implements the process-wide wait-for graph over POSIX
// mutexes described in spec.md §4.5: per-mutex held/waiting bookkeeping
// and a depth-first cycle search run on every contended acquire.
package locktrack

import (
	"io"
	"log"
	"sort"
	"sync"

	"github.com/zyedidia/pltwatch/stack"
)

// Logger receives best-effort diagnostics. Discards by default.
var Logger = log.New(io.Discard, "locktrack: ", 0)

func SetLogger(l *log.Logger) { Logger = l }

// ThreadID is a kernel thread id (see unix.Gettid); interposers run on the
// target's native OS threads, so this — not a goroutine id — is the only
// identifier meaningfully shared across repeated calls from the same
// thread.
type ThreadID int32

// mutexRecord is one mutex address currently participating in the graph.
type mutexRecord struct {
	owner    ThreadID // zero if not yet acquired
	acquired bool
	intent   []uintptr       // call stack of the acquire-intent
	waitFor  map[uintptr]bool // outgoing edges: mutexes some holder of this lock is waiting on
}

// threadRecord is the held/waiting bookkeeping for one thread.
type threadRecord struct {
	held    []uintptr // acquisition order
	waiting []uintptr
}

// Tracker is the process-wide singleton described in spec.md §4.5.
type Tracker struct {
	mu              sync.Mutex
	locks           map[uintptr]*mutexRecord
	threads         map[ThreadID]*threadRecord
	reportedCycles  []Cycle
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		locks:   make(map[uintptr]*mutexRecord),
		threads: make(map[ThreadID]*threadRecord),
	}
}

// Default is the singleton the interposers record into.
var Default = New()

func (t *Tracker) threadFor(tid ThreadID) *threadRecord {
	tr, ok := t.threads[tid]
	if !ok {
		tr = &threadRecord{}
		t.threads[tid] = tr
	}
	return tr
}

// gcThread removes a thread's record once both its held and waiting lists
// are empty (spec.md §3's thread-record lifetime rule).
func (t *Tracker) gcThread(tid ThreadID) {
	tr, ok := t.threads[tid]
	if !ok {
		return
	}
	if len(tr.held) == 0 && len(tr.waiting) == 0 {
		delete(t.threads, tid)
	}
}

func removeAddr(s []uintptr, addr uintptr) []uintptr {
	for i, a := range s {
		if a == addr {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

func containsAddr(s []uintptr, addr uintptr) bool {
	for _, a := range s {
		if a == addr {
			return true
		}
	}
	return false
}

// AcquireIntent records that thread tid is about to attempt to acquire
// mutex M, before the real pthread_mutex_lock call is made. If M is
// already acquired by a different thread, M is added to tid's waiting
// list and every mutex tid currently holds gains an edge to M (spec.md §3's
// "waiting-through-T" rule); a deadlock search is then run rooted at
// (M, tid). If no cycle is found, the returned Cycle is nil.
func (t *Tracker) AcquireIntent(m uintptr, tid ThreadID) *Cycle {
	st := stack.Capture(1)

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.locks[m]
	if !ok {
		t.locks[m] = &mutexRecord{intent: st, waitFor: make(map[uintptr]bool)}
		return nil
	}

	if !rec.acquired || rec.owner == tid {
		// Uncontended from this thread's perspective (either free, or
		// tid already owns it — recursive mutex semantics are the
		// target's problem, not ours to adjudicate).
		return nil
	}

	tr := t.threadFor(tid)
	if !containsAddr(tr.waiting, m) {
		tr.waiting = append(tr.waiting, m)
	}
	for _, h := range tr.held {
		if hr, ok := t.locks[h]; ok {
			hr.waitFor[m] = true
		}
	}

	return t.detectCycle(m, tid)
}

// AcquireSuccess records that thread tid has just successfully acquired
// mutex M.
func (t *Tracker) AcquireSuccess(m uintptr, tid ThreadID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.locks[m]
	if !ok {
		rec = &mutexRecord{waitFor: make(map[uintptr]bool)}
		t.locks[m] = rec
	}
	rec.owner = tid
	rec.acquired = true

	tr := t.threadFor(tid)
	tr.held = append(tr.held, m)
	tr.waiting = removeAddr(tr.waiting, m)
}

// Release erases M's record entirely and removes it from tid's held list.
func (t *Tracker) Release(m uintptr, tid ThreadID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.locks, m)
	if tr, ok := t.threads[tid]; ok {
		tr.held = removeAddr(tr.held, m)
		t.gcThread(tid)
	}
}

// MutexSnapshot is one live lock record, for reporting.
type MutexSnapshot struct {
	Addr     uintptr
	Owner    ThreadID
	Acquired bool
	Intent   []uintptr
	WaitFor  []uintptr
}

// ThreadSnapshot is one live thread record, for reporting.
type ThreadSnapshot struct {
	ID      ThreadID
	Held    []uintptr
	Waiting []uintptr
}

// Snapshot is a point-in-time view of the lock tracker.
type Snapshot struct {
	Locks   []MutexSnapshot
	Threads []ThreadSnapshot
	Cycles  []Cycle
}

// Snapshot returns every live lock and thread record, plus any cycles
// previously reported by AcquireIntent that still hold up under a re-check
// (spec.md §9's open question on falsely-reported cycles: a cycle whose
// edges have since dissolved is dropped rather than reported stale).
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{}
	for addr, rec := range t.locks {
		wf := make([]uintptr, 0, len(rec.waitFor))
		for target := range rec.waitFor {
			wf = append(wf, target)
		}
		sort.Slice(wf, func(i, j int) bool { return wf[i] < wf[j] })
		s.Locks = append(s.Locks, MutexSnapshot{
			Addr:     addr,
			Owner:    rec.owner,
			Acquired: rec.acquired,
			Intent:   rec.intent,
			WaitFor:  wf,
		})
	}
	sort.Slice(s.Locks, func(i, j int) bool { return s.Locks[i].Addr < s.Locks[j].Addr })

	for tid, tr := range t.threads {
		s.Threads = append(s.Threads, ThreadSnapshot{
			ID:      tid,
			Held:    append([]uintptr(nil), tr.held...),
			Waiting: append([]uintptr(nil), tr.waiting...),
		})
	}
	sort.Slice(s.Threads, func(i, j int) bool { return s.Threads[i].ID < s.Threads[j].ID })

	for _, c := range t.recheckCycles() {
		s.Cycles = append(s.Cycles, c)
	}
	return s
}
