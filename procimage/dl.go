package procimage

import (
	"fmt"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/zyedidia/pltwatch/errs"
)

// rtldNoLoad is RTLD_NOLOAD, which is not exported by purego since it has
// no use outside exactly this trick: "resolve this handle if and only if
// it is already loaded, never map a new copy." Its value is fixed by
// glibc's <bits/dlfcn.h> on Linux.
const rtldNoLoad = 0x00004

var (
	dlinfoAddr uintptr
	dlinfoErr  error
	dlinfoOnce bool
)

// rtldDiLinkmap is dlinfo's RTLD_DI_LINKMAP request: "fill *info with a
// pointer to the link_map for handle".
const rtldDiLinkmap = 2

func resolveDlinfo() (uintptr, error) {
	if dlinfoOnce {
		return dlinfoAddr, dlinfoErr
	}
	dlinfoOnce = true
	addr, err := purego.Dlsym(purego.RTLD_DEFAULT, "dlinfo")
	dlinfoAddr, dlinfoErr = addr, err
	return dlinfoAddr, dlinfoErr
}

// linkMapFor returns the link_map address backing an already-loaded
// object. path == "" resolves to the main executable's own handle. The
// object must already be mapped: RTLD_NOLOAD makes dlopen fail rather than
// mmap a second, independent copy.
func linkMapFor(path string) (uintptr, error) {
	mode := purego.RTLD_NOW | rtldNoLoad
	handle, err := purego.Dlopen(orMainExe(path), mode)
	if err != nil || handle == 0 {
		return 0, errs.FileNotFound
	}

	dlinfo, err := resolveDlinfo()
	if err != nil {
		return 0, errs.Internal
	}

	var lm uintptr
	_, _, errno := purego.SyscallN(dlinfo, handle, rtldDiLinkmap, uintptr(unsafe.Pointer(&lm)))
	if errno != 0 || lm == 0 {
		return 0, errs.Internal
	}
	return lm, nil
}

// orMainExe maps the main-executable sentinel onto the path dlopen(NULL,
// ...) uses to mean "the running program itself".
func orMainExe(path string) string {
	if path == "" {
		return ""
	}
	return path
}

// ResolveSymbol performs the "platform symbol lookup" called for in
// spec.md §4.3 step 4: resolve S through the normal global search scope,
// forcing lazy binding if it hasn't happened yet, independent of which
// object's PLT will be patched.
func ResolveSymbol(name string) (uintptr, error) {
	addr, err := purego.Dlsym(purego.RTLD_DEFAULT, name)
	if err != nil || addr == 0 {
		return 0, fmt.Errorf("%w: %s", errs.FunctionNotFound, name)
	}
	return addr, nil
}
