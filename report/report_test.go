package report

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/zyedidia/pltwatch/alloctrack"
	"github.com/zyedidia/pltwatch/locktrack"
	"github.com/zyedidia/pltwatch/memmap"
)

func TestReportMemoryUnresolvedStackDoesNotPanic(t *testing.T) {
	view, err := memmap.Snapshot()
	if err != nil {
		t.Fatalf("memmap.Snapshot: %v", err)
	}

	snap := alloctrack.Snapshot{
		TotalAllocated: 100,
		TotalFreed:     0,
		Active:         1,
		Live: map[uintptr]alloctrack.Record{
			0x1000: {Size: 100, Stack: []uintptr{0}},
		},
	}

	var buf bytes.Buffer
	r := New("")
	r.ReportMemory(&buf, view, snap)

	out := buf.String()
	if !strings.Contains(out, "0x1000") || !strings.Contains(out, "100") {
		t.Fatalf("expected leak row in output, got:\n%s", out)
	}
	if !strings.Contains(out, "<unresolved>") {
		t.Fatalf("expected an unresolved leak site marker, got:\n%s", out)
	}
}

func TestReportLocksEmptySnapshot(t *testing.T) {
	view, err := memmap.Snapshot()
	if err != nil {
		t.Fatalf("memmap.Snapshot: %v", err)
	}

	var buf bytes.Buffer
	r := New("")
	r.ReportLocks(&buf, view, locktrack.Snapshot{})

	if !strings.Contains(buf.String(), "no deadlock cycles detected") {
		t.Fatalf("expected the no-cycles line, got:\n%s", buf.String())
	}
}

func TestReportLocksRendersCycle(t *testing.T) {
	view, err := memmap.Snapshot()
	if err != nil {
		t.Fatalf("memmap.Snapshot: %v", err)
	}

	snap := locktrack.Snapshot{
		Cycles: []locktrack.Cycle{{
			Chain: []locktrack.CycleEntry{
				{Mutex: 0xA000, Thread: 1},
				{Mutex: 0xB000, Thread: 2},
				{Mutex: 0xA000, Thread: 1},
			},
		}},
	}

	var buf bytes.Buffer
	r := New("")
	r.ReportLocks(&buf, view, snap)

	out := buf.String()
	if !strings.Contains(out, "cycle 1") {
		t.Fatalf("expected a rendered cycle, got:\n%s", out)
	}
}

// TestResolveFrameSuppressesSelfMarker captures a PC from inside this very
// test binary (a real file-backed mapping in /proc/self/maps) and checks
// that a SelfMarker naming this binary suppresses it, the same way the
// detector's own library filename suppresses its own frames per
// spec.md §4.7.
func TestResolveFrameSuppressesSelfMarker(t *testing.T) {
	view, err := memmap.Snapshot()
	if err != nil {
		t.Fatalf("memmap.Snapshot: %v", err)
	}

	pcs := make([]uintptr, 1)
	n := runtime.Callers(1, pcs)
	if n == 0 {
		t.Fatal("runtime.Callers returned nothing")
	}
	pc := pcs[0] - 1 // runtime.Callers returns return addresses

	self := filepath.Base(os.Args[0])
	r := &Reporter{Sym: NoopSymbolizer{}, SelfMarker: self}

	if _, ok := r.resolveFrame(view, pc); ok {
		t.Fatalf("expected the test binary's own frame to be suppressed by SelfMarker %q", self)
	}
}

