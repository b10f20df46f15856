package patch

import "unsafe"

// pageBytes builds a []byte view of the page starting at addr, purely so
// it can be handed to golang.org/x/sys/unix.Mprotect, which takes its
// target range as a slice rather than a raw pointer+length pair.
func pageBytes(addr uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(pageSize))
}
