package policy

import (
	"testing"

	clierr "github.com/ggonzalez94/swapexec/internal/errors"
)

func TestCheckCommandAllowed(t *testing.T) {
	if err := CheckCommandAllowed(nil, "swap advance"); err != nil {
		t.Fatalf("unexpected error with empty allowlist: %v", err)
	}
	if err := CheckCommandAllowed([]string{"swap advance"}, "Swap  Advance"); err != nil {
		t.Fatalf("expected command to be allowed: %v", err)
	}
	if err := CheckCommandAllowed([]string{"meta blockchains"}, "swap advance"); !clierr.Is(err, clierr.CodeBlocked) {
		t.Fatalf("expected blocked error, got %v", err)
	}
}

func TestCheckCommandAllowedPrefix(t *testing.T) {
	if err := CheckCommandAllowed([]string{"swap"}, "swap run"); err != nil {
		t.Fatalf("expected subcommand to be allowed: %v", err)
	}
	if err := CheckCommandAllowed([]string{"swap show"}, "swap"); err == nil {
		t.Fatal("expected parent command to stay blocked")
	}
	if err := CheckCommandAllowed([]string{"sw"}, "swap run"); err == nil {
		t.Fatal("expected partial word prefix to stay blocked")
	}
}
