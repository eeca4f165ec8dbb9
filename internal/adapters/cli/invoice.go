package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"freight-ledger/internal/app"
)

func (r *runner) invoiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "invoice",
		Aliases: []string{"inv"},
		Short:   "Create, issue and manage invoices",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create a DRAFT invoice from cars or from a JSON item file",
		Long: `Create a DRAFT invoice. Lines come either from --unit (one line per car,
priced from its charges and storage) or from --items, a JSON file holding an
array of {"description","quantity","unit_price","car_id"} objects.`,
		Example: `  ledger invoice create --date 2026-03-05 --issuer company:1 --recipient client:2 --unit 7 --unit 8
  ledger invoice create --date 2026-03-05 --issuer line:3 --recipient company:1 --items lines.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := app.CreateInvoiceRequest{CategoryID: optionalID(cmd, "category")}
			req.Number, _ = cmd.Flags().GetString("number")
			req.Date, _ = cmd.Flags().GetString("date")
			req.DueDate, _ = cmd.Flags().GetString("due")
			req.Issuer, _ = cmd.Flags().GetString("issuer")
			req.Recipient, _ = cmd.Flags().GetString("recipient")
			req.UnitIDs, _ = cmd.Flags().GetIntSlice("unit")
			req.ExternalRef, _ = cmd.Flags().GetString("ref")
			req.Notes, _ = cmd.Flags().GetString("notes")

			if path, _ := cmd.Flags().GetString("items"); path != "" {
				items, err := readItems(path)
				if err != nil {
					return err
				}
				req.Items = items
			}

			inv, err := r.svc.CreateInvoice(cmd.Context(), req)
			if err != nil {
				return err
			}
			return r.emit(inv, func() { printInvoice(inv) })
		},
	}
	create.Flags().String("number", "", "invoice number (next in sequence when empty)")
	create.Flags().String("date", "", "invoice date (YYYY-MM-DD)")
	create.Flags().String("due", "", "due date (defaults to date + ledger.default_due_days)")
	create.Flags().String("issuer", "", "issuing party (kind:id)")
	create.Flags().String("recipient", "", "receiving party (kind:id)")
	create.Flags().IntSlice("unit", nil, "car id to bill, repeatable")
	create.Flags().String("items", "", "JSON file with explicit lines")
	create.Flags().Int("category", 0, "expense category id")
	create.Flags().String("ref", "", "external reference")
	create.Flags().String("notes", "", "free-text notes")
	_ = create.MarkFlagRequired("date")
	_ = create.MarkFlagRequired("issuer")
	_ = create.MarkFlagRequired("recipient")

	show := &cobra.Command{
		Use:   "show <invoice-id>",
		Short: "Show an invoice with its lines",
		Args:  cobra.ExactArgs(1),
		RunE: r.invoiceAction("invoice_id", func(cmd *cobra.Command, id int) (any, error) {
			return r.svc.GetInvoice(cmd.Context(), id)
		}),
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List invoices",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req app.InvoiceListRequest
			req.Status, _ = cmd.Flags().GetString("status")
			req.Party, _ = cmd.Flags().GetString("party")
			req.From, _ = cmd.Flags().GetString("from")
			req.To, _ = cmd.Flags().GetString("to")
			req.PendingSync, _ = cmd.Flags().GetBool("pending-sync")
			req.Limit, _ = cmd.Flags().GetInt("limit")
			invoices, err := r.svc.ListInvoices(cmd.Context(), req)
			if err != nil {
				return err
			}
			return r.emit(invoices, func() { printInvoices(invoices) })
		},
	}
	list.Flags().String("status", "", "DRAFT, ISSUED, PARTIALLY_PAID, PAID, OVERDUE or CANCELLED")
	list.Flags().String("party", "", "issuer or recipient (kind:id)")
	list.Flags().String("from", "", "earliest invoice date")
	list.Flags().String("to", "", "latest invoice date")
	list.Flags().Bool("pending-sync", false, "only finalized invoices not yet in accounting")
	list.Flags().Int("limit", 50, "maximum rows")

	finalize := &cobra.Command{
		Use:   "finalize <invoice-id>",
		Short: "Issue a DRAFT invoice",
		Args:  cobra.ExactArgs(1),
		RunE: r.invoiceAction("invoice_id", func(cmd *cobra.Command, id int) (any, error) {
			return r.svc.FinalizeInvoice(cmd.Context(), id)
		}),
	}

	cancel := &cobra.Command{
		Use:   "cancel <invoice-id>",
		Short: "Cancel an unpaid invoice",
		Args:  cobra.ExactArgs(1),
		RunE: r.invoiceAction("invoice_id", func(cmd *cobra.Command, id int) (any, error) {
			reason, _ := cmd.Flags().GetString("reason")
			return r.svc.CancelInvoice(cmd.Context(), id, reason)
		}),
	}
	cancel.Flags().String("reason", "", "cancellation reason")

	regenerate := &cobra.Command{
		Use:   "regenerate <invoice-id>",
		Short: "Rebuild an unpaid invoice's lines from its cars",
		Args:  cobra.ExactArgs(1),
		RunE: r.invoiceAction("invoice_id", func(cmd *cobra.Command, id int) (any, error) {
			return r.svc.RegenerateInvoice(cmd.Context(), id)
		}),
	}

	category := &cobra.Command{
		Use:   "set-category <invoice-id>",
		Short: "Assign or clear an invoice's expense category",
		Example: `  ledger invoice set-category 12 --category 3
  ledger invoice set-category 12`,
		Args: cobra.ExactArgs(1),
		RunE: r.invoiceAction("invoice_id", func(cmd *cobra.Command, id int) (any, error) {
			return r.svc.SetInvoiceCategory(cmd.Context(), id, optionalID(cmd, "category"))
		}),
	}
	category.Flags().Int("category", 0, "category id (omit to clear)")

	overdue := &cobra.Command{
		Use:   "mark-overdue",
		Short: "Flag every past-due open invoice as OVERDUE",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := r.svc.MarkOverdue(cmd.Context())
			if err != nil {
				return err
			}
			return r.emit(map[string]int{"marked": n}, func() { printDone("%d invoice(s) marked overdue.", n) })
		},
	}

	export := &cobra.Command{
		Use:   "pdf <invoice-id>",
		Short: "Render the invoice PDF and upload it to attachment storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := argID(args, 0, "invoice_id")
			if err != nil {
				return err
			}
			res, err := r.svc.ExportInvoicePDF(cmd.Context(), id)
			if err != nil {
				return err
			}
			return r.emit(res, func() { printDone("Invoice %d stored as %s (%d bytes).", res.InvoiceID, res.Key, res.Size) })
		},
	}

	cmd.AddCommand(create, show, list, finalize, cancel, regenerate, category, overdue, export)
	return cmd
}

// invoiceAction adapts a single-id invoice operation into a RunE.
func (r *runner) invoiceAction(field string, fn func(cmd *cobra.Command, id int) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id, err := argID(args, 0, field)
		if err != nil {
			return err
		}
		v, err := fn(cmd, id)
		if err != nil {
			return err
		}
		return r.emit(v, func() { printAny(v) })
	}
}

type itemFile struct {
	CarID       *int   `json:"car_id"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
}

func readItems(path string) ([]app.ItemRequest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read items file: %w", err)
	}
	var rows []itemFile
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse items file %s: %w", path, err)
	}
	items := make([]app.ItemRequest, 0, len(rows))
	for i, row := range rows {
		qty, err := parseDecimal(fmt.Sprintf("items[%d].quantity", i), row.Quantity)
		if err != nil {
			return nil, err
		}
		price, err := parseDecimal(fmt.Sprintf("items[%d].unit_price", i), row.UnitPrice)
		if err != nil {
			return nil, err
		}
		items = append(items, app.ItemRequest{
			CarID:       row.CarID,
			Description: row.Description,
			Quantity:    qty,
			UnitPrice:   price,
		})
	}
	return items, nil
}
