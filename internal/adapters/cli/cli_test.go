package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/spf13/cobra"

	"freight-ledger/internal/app"
	"freight-ledger/internal/core"
)

func TestRootCommand_Tree(t *testing.T) {
	root := NewRootCommand(nil, "test")
	want := [][]string{
		{"party", "create"},
		{"car", "charge"},
		{"invoice", "finalize"},
		{"inv", "pdf"},
		{"tx", "pay"},
		{"bank", "suggest"},
		{"audit", "counterparty"},
		{"report", "aging"},
		{"sync", "retry"},
	}
	for _, path := range want {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("command %v not found: %v", path, err)
		}
	}
}

func TestBuilderFailureStopsCommand(t *testing.T) {
	called := false
	build := func(ctx context.Context, configPath string) (app.ApplicationService, func(), error) {
		called = true
		if configPath != "custom.yaml" {
			t.Errorf("expected config path to be passed through, got %q", configPath)
		}
		return nil, nil, errors.New("db down")
	}
	root := NewRootCommand(build, "test")
	root.SetArgs([]string{"--config", "custom.yaml", "report", "aging"})
	err := root.ExecuteContext(context.Background())
	if err == nil || err.Error() != "db down" {
		t.Fatalf("expected builder error, got %v", err)
	}
	if !called {
		t.Errorf("builder was not called")
	}
}

func TestArgID(t *testing.T) {
	if n, err := argID([]string{"12"}, 0, "invoice_id"); err != nil || n != 12 {
		t.Errorf("argID(12) = %d, %v", n, err)
	}
	for _, bad := range []string{"0", "-3", "abc"} {
		_, err := argID([]string{bad}, 0, "invoice_id")
		var ve *core.ValidationError
		if !errors.As(err, &ve) || ve.Field != "invoice_id" {
			t.Errorf("argID(%q): expected ValidationError, got %v", bad, err)
		}
	}
}

func TestOptionalID(t *testing.T) {
	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().Int("category", 0, "")
	if got := optionalID(cmd, "category"); got != nil {
		t.Errorf("unset flag should be nil, got %d", *got)
	}
	if err := cmd.Flags().Set("category", "4"); err != nil {
		t.Fatal(err)
	}
	if got := optionalID(cmd, "category"); got == nil || *got != 4 {
		t.Errorf("expected 4, got %v", got)
	}
}

func TestParseDecimal(t *testing.T) {
	if d, err := parseDecimal("amount", ""); err != nil || !d.IsZero() {
		t.Errorf("empty should be zero, got %s, %v", d, err)
	}
	if d, err := parseDecimal("amount", "12.50"); err != nil || d.StringFixed(2) != "12.50" {
		t.Errorf("unexpected %s, %v", d, err)
	}
	var ve *core.ValidationError
	if _, err := parseDecimal("amount", "12,5x"); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&core.ValidationError{Field: "amount", Message: "must be positive"}, "validation failed: amount: must be positive"},
		{fmt.Errorf("invoice 9: %w", core.ErrNotFound), "not found: invoice 9: not found"},
		{&core.ConcurrencyError{Op: "pay", Attempts: 3, Err: errors.New("40001")}, "pay: gave up after 3 attempts: 40001 (safe to retry)"},
	}
	for _, tt := range tests {
		if got := describe(tt.err); got != tt.want {
			t.Errorf("describe(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("Ocean Line", 20); got != "Ocean Line" {
		t.Errorf("short string changed: %q", got)
	}
	if got := truncate("Mediterranean Shipping", 8); got != "Mediter…" {
		t.Errorf("unexpected %q", got)
	}
}

func TestHelpDoesNotBuildService(t *testing.T) {
	build := func(ctx context.Context, configPath string) (app.ApplicationService, func(), error) {
		t.Fatalf("builder must not run for help")
		return nil, nil, nil
	}
	root := NewRootCommand(build, "test")
	root.SetOut(io.Discard)
	root.SetArgs([]string{"help", "invoice"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("help failed: %v", err)
	}
}
