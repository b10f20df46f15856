// Package pltwatch is a runtime diagnostic library for native Linux
// processes: it rewrites a target's PLT/GOT so that calls to the C/C++
// allocator family and POSIX mutex family are diverted into its own
// interposers, and on demand reports unreleased allocations and
// lock-ordering deadlock candidates.
package pltwatch

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/zyedidia/pltwatch/alloctrack"
	"github.com/zyedidia/pltwatch/errs"
	"github.com/zyedidia/pltwatch/interpose"
	"github.com/zyedidia/pltwatch/locktrack"
	"github.com/zyedidia/pltwatch/memmap"
	"github.com/zyedidia/pltwatch/patch"
	"github.com/zyedidia/pltwatch/procimage"
	"github.com/zyedidia/pltwatch/report"
	"github.com/zyedidia/pltwatch/version"
)

// Logger receives Driver-level diagnostics. Discards by default.
var Logger = log.New(io.Discard, "pltwatch: ", 0)

func SetLogger(l *log.Logger) { Logger = l }

// DetectMask is the spec.md §6 detect_mask bitfield.
type DetectMask uint8

const (
	DetectMemory DetectMask = 1 << 0
	DetectLock   DetectMask = 1 << 1
)

// OutputMask is the spec.md §6 output_mask bitfield.
type OutputMask uint8

const (
	OutputConsole OutputMask = 1
	OutputFile    OutputMask = 2
	OutputBoth    OutputMask = OutputConsole | OutputFile
)

// target is one registered object: its registration path, the patcher
// bound to its image, and the optional symbols skipped during Start.
type target struct {
	path    string
	patcher *patch.Patcher
	skipped []string
}

// Driver is the Go-level equivalent of spec.md §6's C-ABI surface
// (init/start/detect/register/register_main). The cgo `//export` glue that
// would expose these to a non-Go host program is out of scope for this
// core (spec.md §1's "thin C ABI façade" collaborator) and is not built
// here; see DESIGN.md.
type Driver struct {
	workDir    string
	detectMask DetectMask
	outputMask OutputMask

	targets  []*target
	view     *memmap.View
	reporter *report.Reporter
	logFile  *os.File

	started bool
}

// New returns a Driver ready for Init.
func New() *Driver {
	return &Driver{reporter: report.New(selfMarker())}
}

// selfMarker is the substring the Reporter uses to suppress the
// detector's own frames (spec.md §4.7). It is the basename of os.Args[0],
// the running program's own executable name, so every frame in a module
// whose path contains it — including every frame of the host executable
// itself — is suppressed from leak stacks.
func selfMarker() string {
	return filepath.Base(os.Args[0])
}

// Init configures the output sink and stores detectMask, per spec.md §6.
// If outputMask includes file output, it opens
// workDir+"/detector_"+epochSeconds+".log" for writing, creating workDir
// if absent.
func (d *Driver) Init(workDir string, detectMask DetectMask, outputMask OutputMask, epochSeconds int64) error {
	d.workDir = workDir
	d.detectMask = detectMask
	d.outputMask = outputMask

	Logger.Printf("pltwatch %s initializing, detect=%#x output=%#x", version.String(), detectMask, outputMask)

	if outputMask&OutputFile == 0 {
		return nil
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", errs.Internal, err)
	}
	name := filepath.Join(workDir, fmt.Sprintf("detector_%d.log", epochSeconds))
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.Internal, err)
	}
	d.logFile = f
	return nil
}

// Register adds the shared object at path to the registration list. An
// empty path is a no-op, matching spec.md §6's "Null is a no-op".
func (d *Driver) Register(path string) error {
	if path == "" {
		return nil
	}
	return d.register(path)
}

// RegisterMain adds the main executable to the registration list.
func (d *Driver) RegisterMain() error {
	return d.register(procimage.MainExecutable)
}

func (d *Driver) register(path string) error {
	img, err := procimage.Inspect(path)
	if err != nil {
		return fmt.Errorf("register %q: %w", path, err)
	}
	if d.view == nil {
		v, err := memmap.Snapshot()
		if err != nil {
			return fmt.Errorf("%w: %v", errs.Internal, err)
		}
		d.view = v
	}
	d.targets = append(d.targets, &target{
		path:    path,
		patcher: patch.New(img, d.view),
	})
	return nil
}

// Start runs PltPatcher for every applicable symbol of every registered
// target, per spec.md §6. Mandatory symbols (malloc/free,
// pthread_mutex_lock/unlock) that fail to patch abort Start; optional
// symbols that fail are logged as skipped.
func (d *Driver) Start() error {
	if d.started {
		return nil
	}

	for _, tg := range d.targets {
		if d.detectMask&DetectMemory != 0 {
			if err := d.patchGroup(tg, interpose.AllocSymbols, interpose.CallbackFor, interpose.BindOriginal); err != nil {
				return err
			}
		}
		if d.detectMask&DetectLock != 0 {
			if err := d.patchGroup(tg, interpose.LockSymbols, interpose.MutexCallbackFor, interpose.BindOriginalMutex); err != nil {
				return err
			}
		}
	}

	d.started = true
	return nil
}

func (d *Driver) patchGroup(tg *target, syms []interpose.Symbol, callback func(string) uintptr, bind func(string, uintptr)) error {
	for _, sym := range syms {
		addr := callback(sym.Name)
		if addr == 0 {
			continue
		}
		var prior uintptr
		err := tg.patcher.ReplaceFunction(sym.Name, addr, &prior)
		if err != nil {
			if sym.Mandatory {
				Logger.Printf("mandatory symbol %s failed to patch in %s: %v", interpose.DisplayName(sym.Name), tg.path, err)
				return fmt.Errorf("patch %s: %w", sym.Name, err)
			}
			Logger.Printf("skipped optional symbol %s in %s: %v", interpose.DisplayName(sym.Name), tg.path, err)
			tg.skipped = append(tg.skipped, sym.Name)
			continue
		}
		bind(sym.Name, prior)
	}
	return nil
}

// Detect emits a report according to detectMask to the configured sinks.
func (d *Driver) Detect() error {
	var sinks []io.Writer
	if d.outputMask&OutputConsole != 0 {
		sinks = append(sinks, os.Stdout)
	}
	if d.outputMask&OutputFile != 0 && d.logFile != nil {
		sinks = append(sinks, d.logFile)
	}
	if len(sinks) == 0 {
		return nil
	}

	view := d.view
	if view != nil {
		_ = view.Refresh()
	}

	for _, w := range sinks {
		if d.detectMask&DetectMemory != 0 {
			d.reporter.ReportMemoryVerbose(w, view, alloctrack.Default.Snapshot())
		}
		if d.detectMask&DetectLock != 0 {
			d.reporter.ReportLocks(w, view, locktrack.Default.Snapshot())
		}
		if f, ok := w.(*os.File); ok {
			f.Sync()
		}
	}
	return nil
}

// SkippedSymbols returns, per registered target path, the optional
// symbols that failed to patch and were accumulated into the skipped list
// rather than aborting Start (spec.md §7).
func (d *Driver) SkippedSymbols() map[string][]string {
	out := make(map[string][]string, len(d.targets))
	for _, tg := range d.targets {
		if len(tg.skipped) > 0 {
			out[tg.path] = tg.skipped
		}
	}
	return out
}

// Close releases the log file, if one was opened.
func (d *Driver) Close() error {
	if d.logFile != nil {
		return d.logFile.Close()
	}
	return nil
}
