package cli

import (
	"github.com/spf13/cobra"

	"freight-ledger/internal/core"
)

func (r *runner) auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Compare what was billed against what was charged and paid",
	}

	run := &cobra.Command{
		Use:     "run",
		Short:   "Scan a period for discrepancies and balance drift",
		Example: `  ledger audit run --from 2026-01-01 --to 2026-03-31`,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := r.svc.RunAudit(cmd.Context(), rangeFlags(cmd))
			if err != nil {
				return err
			}
			return r.emit(res, func() { printAudit(res) })
		},
	}
	addRangeFlags(run)

	unit := &cobra.Command{
		Use:   "unit <car-id>",
		Short: "Compare a car's cost with what its client was invoiced",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argID(args, 0, "car_id")
			if err != nil {
				return err
			}
			res, err := r.svc.CompareUnit(cmd.Context(), id)
			return r.emitComparison(res, err)
		},
	}

	client := &cobra.Command{
		Use:   "client <client-id>",
		Short: "Compare a client's unit costs with its invoices over a period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argID(args, 0, "client_id")
			if err != nil {
				return err
			}
			res, err := r.svc.CompareClient(cmd.Context(), id, rangeFlags(cmd))
			return r.emitComparison(res, err)
		},
	}
	addRangeFlags(client)

	counterparty := &cobra.Command{
		Use:     "counterparty <kind:id>",
		Short:   "Compare a line's or carrier's invoices with payments made to it",
		Example: `  ledger audit counterparty line:3 --from 2026-01-01 --to 2026-03-31`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := r.svc.CompareCounterparty(cmd.Context(), args[0], rangeFlags(cmd))
			return r.emitComparison(res, err)
		},
	}
	addRangeFlags(counterparty)

	cmd.AddCommand(run, unit, client, counterparty)
	return cmd
}

func (r *runner) emitComparison(res *core.ComparisonResult, err error) error {
	if err != nil {
		return err
	}
	return r.emit(res, func() { printComparison(res) })
}
