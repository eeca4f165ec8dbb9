package cli

import (
	"github.com/spf13/cobra"

	"freight-ledger/internal/app"
	"freight-ledger/internal/core"
)

func (r *runner) bankCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bank",
		Short: "Import bank statements and reconcile them",
	}

	importCmd := &cobra.Command{
		Use:     "import <statement.xlsx>",
		Short:   "Import a bank statement export",
		Example: `  ledger bank import ~/Downloads/statement-2026-03.xlsx`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := r.svc.ImportStatement(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return r.emit(res, func() {
				printDone("%s: %d line(s) read, %d imported, %d already known.", res.Path, res.Read, res.Inserted, res.Skipped)
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List bank lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			var reconciled *bool
			if open, _ := cmd.Flags().GetBool("open"); open {
				f := false
				reconciled = &f
			} else if done, _ := cmd.Flags().GetBool("reconciled"); done {
				t := true
				reconciled = &t
			}
			limit, _ := cmd.Flags().GetInt("limit")
			lines, err := r.svc.ListBankLines(cmd.Context(), reconciled, limit)
			if err != nil {
				return err
			}
			return r.emit(lines, func() { printBankLines(lines) })
		},
	}
	list.Flags().Bool("open", false, "only unreconciled lines")
	list.Flags().Bool("reconciled", false, "only reconciled lines")
	list.Flags().Int("limit", 50, "maximum rows")
	list.MarkFlagsMutuallyExclusive("open", "reconciled")

	suggest := &cobra.Command{
		Use:   "suggest <bank-line-id>",
		Short: "Rank ledger records that could explain a bank line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argID(args, 0, "bank_transaction_id")
			if err != nil {
				return err
			}
			cands, err := r.svc.SuggestMatches(cmd.Context(), id)
			if err != nil {
				return err
			}
			return r.emit(cands, func() { printCandidates(id, cands) })
		},
	}

	match := &cobra.Command{
		Use:   "match <bank-line-id>",
		Short: "Reconcile a bank line with a transaction or an invoice",
		Example: `  ledger bank match 31 --transaction 44
  ledger bank match 31 --invoice 12 --note "paid in two parts"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argID(args, 0, "bank_transaction_id")
			if err != nil {
				return err
			}
			note, _ := cmd.Flags().GetString("note")
			line, err := r.svc.MatchBankLine(cmd.Context(), app.MatchRequest{
				BankTransactionID: id,
				TransactionID:     optionalID(cmd, "transaction"),
				InvoiceID:         optionalID(cmd, "invoice"),
				Note:              note,
			})
			if err != nil {
				return err
			}
			return r.emit(line, func() { printBankLines([]core.BankTransaction{*line}) })
		},
	}
	match.Flags().Int("transaction", 0, "transaction id")
	match.Flags().Int("invoice", 0, "invoice id")
	match.Flags().String("note", "", "reconciliation note")
	match.MarkFlagsOneRequired("transaction", "invoice")
	match.MarkFlagsMutuallyExclusive("transaction", "invoice")

	unmatch := &cobra.Command{
		Use:   "unmatch <bank-line-id>",
		Short: "Clear a bank line's reconciliation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argID(args, 0, "bank_transaction_id")
			if err != nil {
				return err
			}
			note, _ := cmd.Flags().GetString("note")
			line, err := r.svc.UnmatchBankLine(cmd.Context(), id, note)
			if err != nil {
				return err
			}
			return r.emit(line, func() { printBankLines([]core.BankTransaction{*line}) })
		},
	}
	unmatch.Flags().String("note", "", "why the match was removed")

	cmd.AddCommand(importCmd, list, suggest, match, unmatch)
	return cmd
}
