package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"freight-ledger/internal/app"
	"freight-ledger/internal/core"
	"freight-ledger/internal/logger"
)

// Builder constructs the application service for one invocation. The
// returned cleanup func releases pools and clients.
type Builder func(ctx context.Context, configPath string) (app.ApplicationService, func(), error)

// runner carries the state shared by every subcommand.
type runner struct {
	build      Builder
	svc        app.ApplicationService
	cleanup    func()
	configPath string
	asJSON     bool
}

// NewRootCommand builds the ledger command tree. The service is only built
// once a subcommand actually runs, so --help works without a database.
func NewRootCommand(build Builder, version string) *cobra.Command {
	return (&runner{build: build}).root(version)
}

func (r *runner) root(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "ledger",
		Short: "Freight billing ledger",
		Long: `ledger keeps the money side of a freight-forwarding business:
parties and their balances, invoices generated from cars and their charges,
payments and transfers, bank statement reconciliation and audits.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: r.setup,
	}
	root.PersistentFlags().StringVarP(&r.configPath, "config", "c", "", "config file (default configs/config.yaml)")
	root.PersistentFlags().BoolVar(&r.asJSON, "json", false, "print results as JSON")

	root.AddCommand(
		r.partyCmd(),
		r.carCmd(),
		r.invoiceCmd(),
		r.txCmd(),
		r.bankCmd(),
		r.auditCmd(),
		r.reportCmd(),
		r.syncCmd(),
	)
	return root
}

// Execute runs the command tree and reports a failure the way the rest of
// the binaries do.
func Execute(ctx context.Context, build Builder, version string) error {
	log := logger.WithComponent("cli")

	r := &runner{build: build}
	defer r.close()

	if err := r.root(version).ExecuteContext(ctx); err != nil {
		log.Debug().Err(err).Msg("command failed")
		fmt.Fprintf(os.Stderr, "Error: %s\n", describe(err))
		return err
	}
	return nil
}

func (r *runner) setup(cmd *cobra.Command, args []string) error {
	if r.svc != nil || !needsService(cmd) {
		return nil
	}
	svc, cleanup, err := r.build(cmd.Context(), r.configPath)
	if err != nil {
		return err
	}
	r.svc, r.cleanup = svc, cleanup
	return nil
}

// needsService is false for cobra's built-in help and completion commands.
func needsService(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "help" || c.Name() == "completion" {
			return false
		}
	}
	return true
}

func (r *runner) close() {
	if r.cleanup != nil {
		r.cleanup()
		r.cleanup = nil
	}
}

// describe turns the typed ledger errors into operator-facing text.
func describe(err error) string {
	var (
		ve *core.ValidationError
		ce *core.ConcurrencyError
	)
	switch {
	case errors.As(err, &ve):
		return ve.Error()
	case errors.As(err, &ce):
		return err.Error() + " (safe to retry)"
	case errors.Is(err, core.ErrNotFound):
		return "not found: " + err.Error()
	default:
		return err.Error()
	}
}

// emit prints v as indented JSON when --json is set, otherwise calls table.
func (r *runner) emit(v any, table func()) error {
	if !r.asJSON {
		table()
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func argID(args []string, i int, name string) (int, error) {
	n, err := strconv.Atoi(args[i])
	if err != nil || n <= 0 {
		return 0, &core.ValidationError{Field: name, Message: fmt.Sprintf("%q is not a valid id", args[i])}
	}
	return n, nil
}

// optionalID reads an int flag and returns nil when it was not set.
func optionalID(cmd *cobra.Command, name string) *int {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	n, _ := cmd.Flags().GetInt(name)
	return &n
}

func addRangeFlags(cmd *cobra.Command) {
	now := time.Now()
	cmd.Flags().String("from", now.AddDate(0, -1, 0).Format("2006-01-02"), "start date, inclusive (YYYY-MM-DD)")
	cmd.Flags().String("to", now.Format("2006-01-02"), "end date, inclusive (YYYY-MM-DD)")
}

func rangeFlags(cmd *cobra.Command) app.RangeRequest {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	return app.RangeRequest{From: from, To: to}
}

func decimalFlag(cmd *cobra.Command, name string) (decimal.Decimal, error) {
	raw, _ := cmd.Flags().GetString(name)
	return parseDecimal(name, raw)
}

// parseDecimal treats an empty string as zero so the core reports the
// business rule (must be positive) rather than a parse error.
func parseDecimal(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &core.ValidationError{Field: field, Message: fmt.Sprintf("%q is not a number", raw)}
	}
	return d, nil
}
