package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"freight-ledger/internal/logger"
)

// InvoiceSyncer pushes a finalized invoice to the external accounting system.
// A sync failure never rolls back the ledger; the syncer records it on the
// invoice instead.
type InvoiceSyncer interface {
	Sync(ctx context.Context, invoiceID int) error
}

// InvoiceEngine owns the invoice lifecycle. It never changes party balances;
// only completed transactions do.
type InvoiceEngine struct {
	pool       *pgxpool.Pool
	runner     atomicRunner
	opts       Options
	categories CategoryResolver
	units      UnitCostSource
	syncer     InvoiceSyncer
	log        zerolog.Logger
	now        func() time.Time
}

func NewInvoiceEngine(pool *pgxpool.Pool, opts Options, categories CategoryResolver, units UnitCostSource) *InvoiceEngine {
	log := logger.WithComponent("invoices")
	return &InvoiceEngine{
		pool:       pool,
		runner:     newAtomicRunner(pool, opts.MaxRetries, log),
		opts:       opts,
		categories: categories,
		units:      units,
		log:        log,
		now:        time.Now,
	}
}

// SetSyncer enables the post-finalize push. Without one, finalized invoices
// simply stay pending sync.
func (e *InvoiceEngine) SetSyncer(s InvoiceSyncer) {
	e.syncer = s
}

const invoiceColumns = `id, number, issue_date, due_date, issuer_kind, issuer_id, recipient_kind, recipient_id,
	status, total, paid_amount, category_id, external_ref, attachment_key, external_sync_id, sync_warning,
	notes, created_at, issued_at, cancelled_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.Number, &inv.Date, &inv.DueDate,
		&inv.Issuer.Kind, &inv.Issuer.ID, &inv.Recipient.Kind, &inv.Recipient.ID,
		&inv.Status, &inv.Total, &inv.PaidAmount, &inv.CategoryID, &inv.ExternalRef, &inv.AttachmentKey,
		&inv.ExternalSyncID, &inv.SyncWarning, &inv.Notes, &inv.CreatedAt, &inv.IssuedAt, &inv.CancelledAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// loadInvoice reads the invoice header plus its lines and linked units. With
// forUpdate the header row stays locked until the caller's transaction ends.
func loadInvoice(ctx context.Context, q Querier, id int, forUpdate bool) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	inv, err := scanInvoice(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("invoice %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch invoice %d: %w", id, err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, invoice_id, line_number, car_id, description, quantity, unit_price, subtotal
		FROM invoice_items WHERE invoice_id = $1 ORDER BY line_number
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch invoice items: %w", err)
	}
	for rows.Next() {
		var it InvoiceItem
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.LineNumber, &it.CarID, &it.Description, &it.Quantity, &it.UnitPrice, &it.Subtotal); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan invoice item: %w", err)
		}
		inv.Items = append(inv.Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read invoice items: %w", err)
	}

	rows, err = q.Query(ctx, `SELECT car_id FROM invoice_cars WHERE invoice_id = $1 ORDER BY car_id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch invoice units: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var carID int
		if err := rows.Scan(&carID); err != nil {
			return nil, fmt.Errorf("failed to scan invoice unit: %w", err)
		}
		inv.UnitIDs = append(inv.UnitIDs, carID)
	}
	return inv, rows.Err()
}

// lockInvoice is loadInvoice(forUpdate) with a missing row reported as a
// ValidationError on field.
func lockInvoice(ctx context.Context, tx pgx.Tx, field string, id int) (*Invoice, error) {
	inv, err := loadInvoice(ctx, tx, id, true)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalid(field, "invoice %d does not exist", id)
		}
		return nil, err
	}
	return inv, nil
}

func replaceItems(ctx context.Context, tx pgx.Tx, invoiceID int, items []ItemInput) error {
	if _, err := tx.Exec(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, invoiceID); err != nil {
		return fmt.Errorf("failed to clear invoice items: %w", err)
	}
	for i, it := range items {
		if it.CarID != nil {
			ok, err := carExists(ctx, tx, *it.CarID)
			if err != nil {
				return err
			}
			if !ok {
				return invalid(fmt.Sprintf("items[%d]", i), "car %d does not exist", *it.CarID)
			}
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO invoice_items (invoice_id, line_number, car_id, description, quantity, unit_price, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, invoiceID, i+1, it.CarID, it.Description, it.Quantity, it.UnitPrice, it.Subtotal())
		if err != nil {
			return fmt.Errorf("failed to insert invoice item %d: %w", i+1, err)
		}
	}
	return nil
}

// CreateInvoice validates the request, assigns a number when none is given,
// resolves a default category and stores the invoice as DRAFT. When no items
// are supplied but units are, the lines are generated from the units.
func (e *InvoiceEngine) CreateInvoice(ctx context.Context, in CreateInvoiceInput) (*Invoice, error) {
	if err := in.Normalize(e.opts.DefaultDueDays); err != nil {
		return nil, err
	}

	var invoiceID int
	err := e.runner.run(ctx, "create_invoice", func(tx pgx.Tx) error {
		// 1. Parties must exist with the stated kind
		if err := ensureParty(ctx, tx, "issuer", in.Issuer); err != nil {
			return err
		}
		if err := ensureParty(ctx, tx, "recipient", in.Recipient); err != nil {
			return err
		}

		// 2. Number
		number := in.Number
		if number == "" {
			n, err := nextInvoiceNumber(ctx, tx, in.Date)
			if err != nil {
				return err
			}
			number = n
		} else {
			taken, err := invoiceNumberTaken(ctx, tx, number)
			if err != nil {
				return err
			}
			if taken {
				return invalid("number", "invoice number %s already exists", number)
			}
		}

		// 3. Category: an explicit value always wins
		categoryID := in.CategoryID
		if categoryID != nil {
			if err := ensureCategory(ctx, tx, *categoryID); err != nil {
				return err
			}
		} else if e.categories != nil {
			resolved, err := e.categories.ResolveInvoiceCategory(ctx, tx, in.Issuer, in.Recipient)
			if err != nil {
				return err
			}
			categoryID = resolved
		}

		// 4. Units and lines
		for _, unitID := range in.UnitIDs {
			ok, err := carExists(ctx, tx, unitID)
			if err != nil {
				return err
			}
			if !ok {
				return invalid("unit_ids", "car %d does not exist", unitID)
			}
		}
		items := in.Items
		if len(items) == 0 && len(in.UnitIDs) > 0 && e.units != nil {
			costs, err := e.units.UnitCosts(ctx, tx, in.UnitIDs, in.Date)
			if err != nil {
				return err
			}
			items = BuildItemsFromUnits(in.Issuer, e.opts.OperatingCompanyID, costs)
		}

		// 5. Insert
		err := tx.QueryRow(ctx, `
			INSERT INTO invoices (number, issue_date, due_date, issuer_kind, issuer_id, recipient_kind, recipient_id,
				status, total, category_id, external_ref, notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id
		`, number, in.Date, *in.DueDate, string(in.Issuer.Kind), in.Issuer.ID, string(in.Recipient.Kind), in.Recipient.ID,
			string(InvoiceDraft), ItemsTotal(items), categoryID, in.ExternalRef, in.Notes).Scan(&invoiceID)
		if err != nil {
			if isUniqueViolation(err) {
				return invalid("number", "invoice number %s already exists", number)
			}
			return fmt.Errorf("failed to insert invoice: %w", err)
		}

		for _, unitID := range in.UnitIDs {
			if _, err := tx.Exec(ctx, `INSERT INTO invoice_cars (invoice_id, car_id) VALUES ($1, $2)`, invoiceID, unitID); err != nil {
				return fmt.Errorf("failed to link unit %d: %w", unitID, err)
			}
		}
		return replaceItems(ctx, tx, invoiceID, items)
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().Int("invoice_id", invoiceID).Str("issuer", in.Issuer.String()).Str("recipient", in.Recipient.String()).Msg("invoice created")
	return e.GetInvoice(ctx, invoiceID)
}

// RegenerateItemsFromSource rebuilds the lines of an unpaid invoice from the
// current unit costs. paid_amount is left untouched and the status is
// re-derived against the new total, which may not drop below paid_amount
// unless overpayment is allowed.
func (e *InvoiceEngine) RegenerateItemsFromSource(ctx context.Context, invoiceID int) (*Invoice, error) {
	if e.units == nil {
		return nil, fmt.Errorf("no unit cost source configured")
	}
	err := e.runner.run(ctx, "regenerate_invoice", func(tx pgx.Tx) error {
		inv, err := lockInvoice(ctx, tx, "invoice_id", invoiceID)
		if err != nil {
			return err
		}
		if err := canRegenerate(inv.Status); err != nil {
			return err
		}

		costs, err := e.units.UnitCosts(ctx, tx, inv.UnitIDs, inv.Date)
		if err != nil {
			return err
		}
		items := BuildItemsFromUnits(inv.Issuer, e.opts.OperatingCompanyID, costs)
		total := ItemsTotal(items)
		if inv.PaidAmount.GreaterThan(total) && !e.opts.AllowOverpayment {
			return &OverpaymentError{InvoiceID: inv.ID, Total: total, Paid: inv.PaidAmount}
		}
		if err := replaceItems(ctx, tx, invoiceID, items); err != nil {
			return err
		}

		status := DerivePaymentStatus(total, inv.PaidAmount, inv.Status)
		_, err = tx.Exec(ctx, `UPDATE invoices SET total = $1, status = $2 WHERE id = $3`, total, string(status), invoiceID)
		if err != nil {
			return fmt.Errorf("failed to update invoice total: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.GetInvoice(ctx, invoiceID)
}

// FinalizeInvoice moves a DRAFT invoice to ISSUED. After the commit the
// invoice is pushed to the accounting system; a failed push is recorded as a
// sync warning and does not fail the call.
func (e *InvoiceEngine) FinalizeInvoice(ctx context.Context, invoiceID int) (*Invoice, error) {
	err := e.runner.run(ctx, "finalize_invoice", func(tx pgx.Tx) error {
		inv, err := lockInvoice(ctx, tx, "invoice_id", invoiceID)
		if err != nil {
			return err
		}
		if inv.Status != InvoiceDraft {
			return invalid("status", "only DRAFT invoices can be finalized, invoice is %s", inv.Status)
		}
		if len(inv.Items) == 0 {
			return invalid("items", "cannot finalize an invoice without items")
		}
		_, err = tx.Exec(ctx, `UPDATE invoices SET status = $1, issued_at = NOW() WHERE id = $2`, string(InvoiceIssued), invoiceID)
		if err != nil {
			return fmt.Errorf("failed to finalize invoice: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.syncer != nil {
		if err := e.syncer.Sync(ctx, invoiceID); err != nil {
			e.log.Warn().Err(err).Int("invoice_id", invoiceID).Msg("accounting sync failed")
		}
	}
	return e.GetInvoice(ctx, invoiceID)
}

// CancelInvoice is allowed from any state except PAID and CANCELLED.
func (e *InvoiceEngine) CancelInvoice(ctx context.Context, invoiceID int, reason string) (*Invoice, error) {
	err := e.runner.run(ctx, "cancel_invoice", func(tx pgx.Tx) error {
		inv, err := lockInvoice(ctx, tx, "invoice_id", invoiceID)
		if err != nil {
			return err
		}
		switch inv.Status {
		case InvoicePaid:
			return invalid("status", "paid invoices cannot be cancelled")
		case InvoiceCancelled:
			return invalid("status", "invoice is already cancelled")
		}
		notes := inv.Notes
		if reason = strings.TrimSpace(reason); reason != "" {
			if notes != "" {
				notes += "\n"
			}
			notes += "Cancelled: " + reason
		}
		_, err = tx.Exec(ctx, `UPDATE invoices SET status = $1, cancelled_at = NOW(), notes = $2 WHERE id = $3`,
			string(InvoiceCancelled), notes, invoiceID)
		if err != nil {
			return fmt.Errorf("failed to cancel invoice: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.GetInvoice(ctx, invoiceID)
}

// MarkOverdue stores OVERDUE on one open invoice that is past its due date.
func (e *InvoiceEngine) MarkOverdue(ctx context.Context, invoiceID int) (*Invoice, error) {
	err := e.runner.run(ctx, "mark_overdue", func(tx pgx.Tx) error {
		inv, err := lockInvoice(ctx, tx, "invoice_id", invoiceID)
		if err != nil {
			return err
		}
		if !inv.IsPastDue(e.now()) {
			return invalid("status", "invoice %s is not past due (status %s, due %s)",
				inv.Number, inv.Status, inv.DueDate.Format("2006-01-02"))
		}
		_, err = tx.Exec(ctx, `UPDATE invoices SET status = $1 WHERE id = $2`, string(InvoiceOverdue), invoiceID)
		if err != nil {
			return fmt.Errorf("failed to mark invoice overdue: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.GetInvoice(ctx, invoiceID)
}

// MarkAllOverdue is the batch form of MarkOverdue and returns how many
// invoices changed.
func (e *InvoiceEngine) MarkAllOverdue(ctx context.Context) (int, error) {
	var n int
	today := dateOnly(e.now())
	err := e.runner.run(ctx, "mark_all_overdue", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE invoices SET status = $1
			WHERE status IN ($2, $3) AND due_date < $4
		`, string(InvoiceOverdue), string(InvoiceIssued), string(InvoicePartiallyPaid), today)
		if err != nil {
			return fmt.Errorf("failed to mark overdue invoices: %w", err)
		}
		n = int(tag.RowsAffected())
		return nil
	})
	return n, err
}

func (e *InvoiceEngine) SetInvoiceCategory(ctx context.Context, invoiceID int, categoryID *int) (*Invoice, error) {
	if categoryID != nil {
		if err := ensureCategory(ctx, e.pool, *categoryID); err != nil {
			return nil, err
		}
	}
	tag, err := e.pool.Exec(ctx, `UPDATE invoices SET category_id = $1 WHERE id = $2`, categoryID, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to set invoice category: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("invoice %d: %w", invoiceID, ErrNotFound)
	}
	return e.GetInvoice(ctx, invoiceID)
}

// SetInvoiceAttachment records the storage key of the invoice document.
func (e *InvoiceEngine) SetInvoiceAttachment(ctx context.Context, invoiceID int, key string) (*Invoice, error) {
	tag, err := e.pool.Exec(ctx, `UPDATE invoices SET attachment_key = $1 WHERE id = $2`, key, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to set invoice attachment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("invoice %d: %w", invoiceID, ErrNotFound)
	}
	return e.GetInvoice(ctx, invoiceID)
}

// RecordSyncResult stores the outcome of an accounting push. A successful
// push clears any previous warning.
func (e *InvoiceEngine) RecordSyncResult(ctx context.Context, invoiceID int, externalID, warning *string) error {
	tag, err := e.pool.Exec(ctx, `
		UPDATE invoices
		SET external_sync_id = COALESCE($1, external_sync_id), sync_warning = $2
		WHERE id = $3
	`, externalID, warning, invoiceID)
	if err != nil {
		return fmt.Errorf("failed to record sync result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice %d: %w", invoiceID, ErrNotFound)
	}
	return nil
}

func (e *InvoiceEngine) GetInvoice(ctx context.Context, invoiceID int) (*Invoice, error) {
	return loadInvoice(ctx, e.pool, invoiceID, false)
}

// ListInvoices returns headers only; use GetInvoice for lines.
func (e *InvoiceEngine) ListInvoices(ctx context.Context, f InvoiceFilter) ([]Invoice, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Status != nil {
		where = append(where, "status = "+arg(string(*f.Status)))
	}
	if f.Party != nil {
		k, id := arg(string(f.Party.Kind)), arg(f.Party.ID)
		where = append(where, fmt.Sprintf("((issuer_kind = %s AND issuer_id = %s) OR (recipient_kind = %s AND recipient_id = %s))", k, id, k, id))
	}
	if f.From != nil {
		where = append(where, "issue_date >= "+arg(dateOnly(*f.From)))
	}
	if f.To != nil {
		where = append(where, "issue_date <= "+arg(dateOnly(*f.To)))
	}
	if f.PendingSync {
		where = append(where, "external_sync_id IS NULL AND status NOT IN ('DRAFT', 'CANCELLED')")
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY issue_date DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + arg(f.Limit)
	}

	rows, err := e.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

func ensureCategory(ctx context.Context, q Querier, categoryID int) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM expense_categories WHERE id = $1)`, categoryID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check category %d: %w", categoryID, err)
	}
	if !exists {
		return invalid("category_id", "category %d does not exist", categoryID)
	}
	return nil
}
