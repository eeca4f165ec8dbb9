package cli

import (
	"github.com/spf13/cobra"

	"freight-ledger/internal/app"
)

func (r *runner) txCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tx",
		Aliases: []string{"transaction"},
		Short:   "Record payments and transfers",
	}

	apply := &cobra.Command{
		Use:   "apply",
		Short: "Record a transaction between parties",
		Long: `Record a transaction. Only COMPLETED transactions move balances; the
method decides the bucket (cash, card, everything else invoice).`,
		Example: `  ledger tx apply --amount 50 --type BALANCE_TOPUP --method cash --to client:3
  ledger tx apply --amount 120 --type REFUND --method bank --from company:1 --to client:2 --status PENDING`,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimalFlag(cmd, "amount")
			if err != nil {
				return err
			}
			req := app.ApplyTransactionRequest{
				Amount:     amount,
				InvoiceID:  optionalID(cmd, "invoice"),
				CategoryID: optionalID(cmd, "category"),
			}
			req.Date, _ = cmd.Flags().GetString("date")
			req.Type, _ = cmd.Flags().GetString("type")
			req.Method, _ = cmd.Flags().GetString("method")
			req.Status, _ = cmd.Flags().GetString("status")
			req.From, _ = cmd.Flags().GetString("from")
			req.To, _ = cmd.Flags().GetString("to")
			req.Notes, _ = cmd.Flags().GetString("notes")

			tx, err := r.svc.ApplyTransaction(cmd.Context(), req)
			if err != nil {
				return err
			}
			return r.emit(tx, func() { printTransaction(tx) })
		},
	}
	apply.Flags().String("amount", "", "positive amount")
	apply.Flags().String("type", "PAYMENT", "PAYMENT, REFUND, ADJUSTMENT or BALANCE_TOPUP")
	apply.Flags().String("method", "bank", "cash, card, bank, invoice or transfer")
	apply.Flags().String("status", "", "PENDING, COMPLETED, FAILED or CANCELLED (default COMPLETED)")
	apply.Flags().String("from", "", "paying party (kind:id)")
	apply.Flags().String("to", "", "receiving party (kind:id)")
	apply.Flags().String("date", "", "transaction date (default today)")
	apply.Flags().Int("invoice", 0, "invoice the transaction settles")
	apply.Flags().Int("category", 0, "expense category id")
	apply.Flags().String("notes", "", "free-text notes")
	_ = apply.MarkFlagRequired("amount")

	pay := &cobra.Command{
		Use:   "pay <invoice-id>",
		Short: "Pay an issued invoice",
		Example: `  ledger tx pay 12 --amount 400 --method bank
  ledger tx pay 12 --amount 400 --method bank --bank-line 31`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argID(args, 0, "invoice_id")
			if err != nil {
				return err
			}
			amount, err := decimalFlag(cmd, "amount")
			if err != nil {
				return err
			}
			method, _ := cmd.Flags().GetString("method")
			tx, err := r.svc.PayInvoice(cmd.Context(), app.PayInvoiceRequest{
				InvoiceID:         id,
				Amount:            amount,
				Method:            method,
				BankTransactionID: optionalID(cmd, "bank-line"),
			})
			if err != nil {
				return err
			}
			return r.emit(tx, func() { printTransaction(tx) })
		},
	}
	pay.Flags().String("amount", "", "amount paid")
	pay.Flags().String("method", "bank", "cash, card, bank, invoice or transfer")
	pay.Flags().Int("bank-line", 0, "bank statement line to reconcile with the payment")
	_ = pay.MarkFlagRequired("amount")

	status := &cobra.Command{
		Use:     "status <transaction-id> <status>",
		Short:   "Move a transaction to a new status",
		Example: `  ledger tx status 44 COMPLETED`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argID(args, 0, "transaction_id")
			if err != nil {
				return err
			}
			tx, err := r.svc.SetTransactionStatus(cmd.Context(), id, args[1])
			if err != nil {
				return err
			}
			return r.emit(tx, func() { printTransaction(tx) })
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List transactions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			party, _ := cmd.Flags().GetString("party")
			limit, _ := cmd.Flags().GetInt("limit")
			txs, err := r.svc.ListTransactions(cmd.Context(), party, optionalID(cmd, "invoice"), limit)
			if err != nil {
				return err
			}
			return r.emit(txs, func() { printTransactions(txs) })
		},
	}
	list.Flags().String("party", "", "either side (kind:id)")
	list.Flags().Int("invoice", 0, "only transactions for this invoice")
	list.Flags().Int("limit", 50, "maximum rows")

	cmd.AddCommand(apply, pay, status, list)
	return cmd
}
