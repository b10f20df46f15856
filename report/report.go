// Package report formats alloctrack/locktrack snapshots into the
// human-readable text output described in spec.md §4.7.
package report

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/zyedidia/pltwatch/alloctrack"
	"github.com/zyedidia/pltwatch/locktrack"
	"github.com/zyedidia/pltwatch/memmap"
)

// Logger is this package's diagnostic logger. Discards by default. The
// package's own code does not write to it; a symbolizer failure simply
// leaves Frame.Symbol empty.
var Logger = log.New(io.Discard, "report: ", 0)

func SetLogger(l *log.Logger) { Logger = l }

// Frame is a resolved stack frame ready for display.
type Frame struct {
	Addr    uintptr
	Module  string
	RelAddr uintptr
	Symbol  string // "" if the symbolizer couldn't resolve it
}

// Symbolizer is the external collaborator spec.md §1 calls out as out of
// scope for this core: it turns a (module, relative address) pair into a
// function/file/line string. A failed lookup degrades gracefully; it is
// not an error condition for the report.
type Symbolizer interface {
	Symbolize(module string, relAddr uintptr) (string, bool)
}

// NoopSymbolizer always reports "unresolved", letting the report still
// show module+relative-address when no real symbolizer is wired.
type NoopSymbolizer struct{}

func (NoopSymbolizer) Symbolize(module string, relAddr uintptr) (string, bool) { return "", false }

// Sink is where a rendered report goes. Both os.Stdout and an *os.File
// opened per the Driver's work_dir/output_mask configuration (spec.md §6)
// satisfy it; the report writes one flushed table per section rather than
// buffering the whole thing, per spec.md §5's per-record atomicity note.
type Sink interface {
	io.Writer
}

// MetricsTable is the narrow subset of *tablewriter.Table the Reporter
// needs, mirroring the teacher's own MetricsWriter seam so a CSV writer
// could stand in without changing Reporter's code.
type MetricsTable interface {
	SetHeader(headers []string)
	Append(record []string)
	Render()
}

// Reporter renders tracker snapshots against a fixed self-marker used to
// suppress the detector's own frames from leak stacks (spec.md §4.7).
type Reporter struct {
	Sym        Symbolizer
	SelfMarker string // substring of this library's own module filename
}

// New builds a Reporter with a NoopSymbolizer; set r.Sym to wire a real
// one.
func New(selfMarker string) *Reporter {
	return &Reporter{Sym: NoopSymbolizer{}, SelfMarker: selfMarker}
}

func newTable(w io.Writer) MetricsTable {
	t := tablewriter.NewWriter(w)
	t.SetAutoFormatHeaders(false)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	return t
}

// resolveFrame turns a raw instruction pointer into a Frame using view to
// find the owning module and base, then r.Sym to get a symbol string.
// Frames in a module whose path contains r.SelfMarker are suppressed
// entirely (return ok=false) so that reports foreground user code.
func (r *Reporter) resolveFrame(view *memmap.View, pc uintptr) (Frame, bool) {
	module, base, ok := view.Module(pc)
	if !ok {
		return Frame{}, false
	}
	if r.SelfMarker != "" && strings.Contains(module, r.SelfMarker) {
		return Frame{}, false
	}
	rel := pc - base
	f := Frame{Addr: pc, Module: module, RelAddr: rel}
	if r.Sym != nil {
		if sym, ok := r.Sym.Symbolize(module, rel); ok {
			f.Symbol = sym
		}
	}
	return f, true
}

func (f Frame) String() string {
	if f.Symbol != "" {
		return fmt.Sprintf("%#x %s+%#x (%s)", f.Addr, f.Module, f.RelAddr, f.Symbol)
	}
	return fmt.Sprintf("%#x %s+%#x", f.Addr, f.Module, f.RelAddr)
}

// ReportMemory renders the leak table from an alloctrack snapshot. The
// first surviving (non-self) frame of each leak is the likely leak site
// and fills that row's "Leak site" column, or "<unresolved>" when no frame
// survives.
func (r *Reporter) ReportMemory(w io.Writer, view *memmap.View, snap alloctrack.Snapshot) {
	fmt.Fprintf(w, "memory: total_allocated=%d total_freed=%d active=%d\n",
		snap.TotalAllocated, snap.TotalFreed, snap.Active)

	t := newTable(w)
	t.SetHeader([]string{"Pointer", "Size", "Leak site"})

	for _, p := range snap.SortedAddrs() {
		rec := snap.Live[p]
		site := "<unresolved>"
		for _, pc := range rec.Stack {
			if f, ok := r.resolveFrame(view, pc); ok {
				site = f.String()
				break
			}
		}
		t.Append([]string{fmt.Sprintf("%#x", p), fmt.Sprintf("%d", rec.Size), site})
	}
	t.Render()
}

// ReportMemoryVerbose is ReportMemory plus the full resolved stack for
// every leak, for when a single leak-site line isn't enough. The first
// surviving (non-self) frame of each stack, the likely leak site, is
// marked with "<--".
func (r *Reporter) ReportMemoryVerbose(w io.Writer, view *memmap.View, snap alloctrack.Snapshot) {
	r.ReportMemory(w, view, snap)
	for _, p := range snap.SortedAddrs() {
		rec := snap.Live[p]
		fmt.Fprintf(w, "  %#x (%d bytes):\n", p, rec.Size)
		first := true
		for _, pc := range rec.Stack {
			f, ok := r.resolveFrame(view, pc)
			if !ok {
				continue
			}
			marker := "   "
			if first {
				marker = "<--"
				first = false
			}
			fmt.Fprintf(w, "    %s %s\n", marker, f)
		}
	}
}

// ReportLocks renders the lock/thread table and any still-live cycles from
// a locktrack snapshot.
func (r *Reporter) ReportLocks(w io.Writer, view *memmap.View, snap locktrack.Snapshot) {
	t := newTable(w)
	t.SetHeader([]string{"Mutex", "Owner", "Acquired", "Waits on"})
	for _, l := range snap.Locks {
		waits := make([]string, len(l.WaitFor))
		for i, m := range l.WaitFor {
			waits[i] = fmt.Sprintf("%#x", m)
		}
		t.Append([]string{
			fmt.Sprintf("%#x", l.Addr),
			fmt.Sprintf("%d", l.Owner),
			fmt.Sprintf("%v", l.Acquired),
			strings.Join(waits, ","),
		})
	}
	t.Render()

	t2 := newTable(w)
	t2.SetHeader([]string{"Thread", "Holds", "Waiting on"})
	for _, th := range snap.Threads {
		t2.Append([]string{
			fmt.Sprintf("%d", th.ID),
			joinAddrs(th.Held),
			joinAddrs(th.Waiting),
		})
	}
	t2.Render()

	if len(snap.Cycles) == 0 {
		fmt.Fprintln(w, "no deadlock cycles detected")
		return
	}
	for i, c := range snap.Cycles {
		fmt.Fprintf(w, "cycle %d:\n", i+1)
		for _, e := range c.Chain {
			fmt.Fprintf(w, "  thread %d holds/attempts mutex %#x\n", e.Thread, e.Mutex)
		}
	}
}

func joinAddrs(addrs []uintptr) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = fmt.Sprintf("%#x", a)
	}
	return strings.Join(parts, ",")
}
