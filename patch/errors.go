package patch

import (
	"fmt"

	"github.com/zyedidia/pltwatch/errs"
)

var (
	// ErrProtectionUnknown means the page holding a GOT slot wasn't covered
	// by any region in the memory map snapshot. The patcher refuses to
	// guess at protection and fails instead (spec.md §4.3 step 2). It wraps
	// errs.Internal so callers can match it with errors.Is the same way
	// they match procimage's internal failures.
	ErrProtectionUnknown = fmt.Errorf("%w: page protection unknown", errs.Internal)
	// ErrSymbolNotFound means no PLT entry in the target image matched the
	// requested symbol name (exactly, or versioned as "name@version"). It
	// wraps errs.FunctionNotFound for the same reason.
	ErrSymbolNotFound = fmt.Errorf("%w: symbol not found in PLT", errs.FunctionNotFound)
)
