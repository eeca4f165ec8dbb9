package cli

import (
	"time"

	"github.com/spf13/cobra"
)

func (r *runner) reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Balances, statements, summaries and aging",
	}

	balances := &cobra.Command{
		Use:   "balances",
		Short: "Show every party's invoice, cash and card balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			parties, err := r.svc.PartyBalances(cmd.Context(), kind)
			if err != nil {
				return err
			}
			return r.emit(parties, func() { printParties(parties, "BALANCES") })
		},
	}
	balances.Flags().String("kind", "", "only parties of this kind")

	statement := &cobra.Command{
		Use:     "statement <kind:id>",
		Short:   "Show a party's completed transactions with a running balance",
		Example: `  ledger report statement client:2 --from 2026-01-01 --to 2026-03-31`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := r.svc.PartyStatement(cmd.Context(), args[0], rangeFlags(cmd))
			if err != nil {
				return err
			}
			return r.emit(lines, func() { printStatement(args[0], lines) })
		},
	}
	addRangeFlags(statement)

	invoices := &cobra.Command{
		Use:   "invoices",
		Short: "Summarize invoices by status, month or category",
		RunE: func(cmd *cobra.Command, args []string) error {
			group, _ := cmd.Flags().GetString("group")
			rows, err := r.svc.InvoiceSummary(cmd.Context(), group, rangeFlags(cmd))
			if err != nil {
				return err
			}
			return r.emit(rows, func() { printSummary("INVOICE SUMMARY", rows, true) })
		},
	}
	invoices.Flags().String("group", "status", "status, month or category")
	addRangeFlags(invoices)

	transactions := &cobra.Command{
		Use:   "transactions",
		Short: "Summarize completed transactions by status, month or category",
		RunE: func(cmd *cobra.Command, args []string) error {
			group, _ := cmd.Flags().GetString("group")
			rows, err := r.svc.TransactionSummary(cmd.Context(), group, rangeFlags(cmd))
			if err != nil {
				return err
			}
			return r.emit(rows, func() { printSummary("TRANSACTION SUMMARY", rows, false) })
		},
	}
	transactions.Flags().String("group", "month", "status, month or category")
	addRangeFlags(transactions)

	aging := &cobra.Command{
		Use:   "aging",
		Short: "Bucket open receivables by days past due",
		RunE: func(cmd *cobra.Command, args []string) error {
			asOf, _ := cmd.Flags().GetString("as-of")
			rows, err := r.svc.ReceivablesAging(cmd.Context(), asOf)
			if err != nil {
				return err
			}
			return r.emit(rows, func() { printAging(asOf, rows) })
		},
	}
	aging.Flags().String("as-of", time.Now().Format("2006-01-02"), "reference date (YYYY-MM-DD)")

	cmd.AddCommand(balances, statement, invoices, transactions, aging)
	return cmd
}

func (r *runner) syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push finalized invoices to the accounting system",
	}

	retry := &cobra.Command{
		Use:   "retry",
		Short: "Re-push finalized invoices that have no external id yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := r.svc.RetryPendingSync(cmd.Context())
			if err != nil {
				return err
			}
			return r.emit(res, func() { printDone("%d invoice(s) synced.", res.Synced) })
		},
	}

	cmd.AddCommand(retry)
	return cmd
}
