// Package errs holds the error-kind sentinels shared across the detector's
// core packages (spec.md §7). Callers match against these with errors.Is;
// packages are free to wrap them with additional context.
package errs

import "errors"

var (
	// FileNotFound: target object not currently loaded.
	FileNotFound = errors.New("target object not loaded")
	// InvalidArgument: null names, malformed inputs.
	InvalidArgument = errors.New("invalid argument")
	// FunctionNotFound: symbol not present in the object's PLT.
	FunctionNotFound = errors.New("function not found in PLT")
	// Internal: protection lookup/change failed, or a dynamic tag was missing.
	Internal = errors.New("internal error")
	// EndOfEnumeration is benign: it signals a cursor has no more entries.
	EndOfEnumeration = errors.New("end of enumeration")
)
