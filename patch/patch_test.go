package patch

import (
	"errors"
	"testing"

	"github.com/zyedidia/pltwatch/errs"
)

func TestMatches(t *testing.T) {
	cases := []struct {
		stored, name string
		want         bool
	}{
		{"malloc", "malloc", true},
		{"malloc@GLIBC_2.2.5", "malloc", true},
		{"malloc", "free", false},
		{"mallocx", "malloc", false},
		{"", "malloc", false},
	}
	for _, c := range cases {
		if got := matches(c.stored, c.name); got != c.want {
			t.Errorf("matches(%q, %q) = %v, want %v", c.stored, c.name, got, c.want)
		}
	}
}

func TestPageOf(t *testing.T) {
	if pageSize == 0 {
		t.Fatal("pageSize not initialized")
	}
	addr := pageSize*3 + 17
	if got := pageOf(addr); got != pageSize*3 {
		t.Errorf("pageOf(%#x) = %#x, want %#x", addr, got, pageSize*3)
	}
}

func TestLastErrorAccessor(t *testing.T) {
	setLastError(ErrSymbolNotFound)
	if got := LastError(); got != ErrSymbolNotFound.Error() {
		t.Errorf("LastError() = %q, want %q", got, ErrSymbolNotFound.Error())
	}
}

func TestPatchErrorsJoinSharedTaxonomy(t *testing.T) {
	if !errors.Is(ErrSymbolNotFound, errs.FunctionNotFound) {
		t.Error("ErrSymbolNotFound should match errs.FunctionNotFound via errors.Is")
	}
	if !errors.Is(ErrProtectionUnknown, errs.Internal) {
		t.Error("ErrProtectionUnknown should match errs.Internal via errors.Is")
	}
}
