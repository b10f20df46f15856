// Package stack captures bounded-depth call stacks for allocation and
// lock records.
package stack

import "runtime"

// MaxDepth is the fixed maximum number of instruction-pointer values
// captured per stack (spec.md §3); shorter sequences are returned when the
// stack is shallower.
const MaxDepth = 16

// Capture returns up to MaxDepth program-counter values for the calling
// goroutine, skipping the given number of innermost frames (typically the
// interposer wrapper itself and this function).
//
// The interposers that call this run as plain Go closures invoked through
// a purego callback trampoline rather than through cgo, so there is no
// frame-pointer chain back into the native caller for runtime.Callers to
// continue through once it reaches that trampoline; what gets captured is
// this process's own Go-side call chain from the point of interposition
// inward. spec.md §9's open question on stack capture acknowledges this
// class of limitation directly and leaves the filtering strategy to the
// implementation; this one filters at report time (see package report)
// rather than at capture time.
func Capture(skip int) []uintptr {
	pcs := make([]uintptr, MaxDepth)
	n := runtime.Callers(skip+1, pcs)
	return pcs[:n]
}
