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
	"github.com/shopspring/decimal"

	"freight-ledger/internal/logger"
)

// Ledger is the transaction engine: the only code path that changes party
// balances and invoice paid amounts. Every mutation runs as one atomic unit
// holding row locks on the invoice (if any) and then the parties.
type Ledger struct {
	pool   *pgxpool.Pool
	runner atomicRunner
	opts   Options
	log    zerolog.Logger
	now    func() time.Time
}

func NewLedger(pool *pgxpool.Pool, opts Options) *Ledger {
	log := logger.WithComponent("ledger")
	return &Ledger{
		pool:   pool,
		runner: newAtomicRunner(pool, opts.MaxRetries, log),
		opts:   opts,
		log:    log,
		now:    time.Now,
	}
}

const transactionColumns = `id, tx_date, amount, type, method, status, from_kind, from_id, to_kind, to_id,
	invoice_id, category_id, attachment_key, notes, created_at`

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var t Transaction
	var fromKind, toKind *string
	var fromID, toID *int
	err := row.Scan(&t.ID, &t.Date, &t.Amount, &t.Type, &t.Method, &t.Status, &fromKind, &fromID, &toKind, &toID,
		&t.InvoiceID, &t.CategoryID, &t.AttachmentKey, &t.Notes, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.From = refFromColumns(fromKind, fromID)
	t.To = refFromColumns(toKind, toID)
	return &t, nil
}

func refFromColumns(kind *string, id *int) *PartyRef {
	if kind == nil || id == nil {
		return nil
	}
	return &PartyRef{Kind: PartyKind(*kind), ID: *id}
}

func refColumns(ref *PartyRef) (*string, *int) {
	if ref == nil {
		return nil, nil
	}
	kind := string(ref.Kind)
	id := ref.ID
	return &kind, &id
}

func loadTransaction(ctx context.Context, q Querier, id int, forUpdate bool) (*Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	t, err := scanTransaction(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("transaction %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch transaction %d: %w", id, err)
	}
	return t, nil
}

// ApplyTransaction records a transaction and, when it is COMPLETED, applies
// its balance effect and its effect on the linked invoice in the same unit.
func (l *Ledger) ApplyTransaction(ctx context.Context, in ApplyTransactionInput) (*Transaction, error) {
	if err := in.Normalize(l.now()); err != nil {
		return nil, err
	}

	var created *Transaction
	err := l.runner.run(ctx, "apply_transaction", func(tx pgx.Tx) error {
		t, err := l.insertAndApply(ctx, tx, in)
		if err != nil {
			return err
		}
		created = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.log.Info().Int("transaction_id", created.ID).Str("type", string(created.Type)).
		Str("amount", created.Amount.StringFixed(2)).Str("status", string(created.Status)).Msg("transaction applied")
	return created, nil
}

// PayInvoice settles an invoice: money moves from the recipient to the
// issuer. With bankTransactionID the bank line is reconciled to the new
// transaction inside the same unit.
func (l *Ledger) PayInvoice(ctx context.Context, invoiceID int, amount decimal.Decimal, method PaymentMethod, bankTransactionID *int) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, invalid("amount", "must be positive")
	}
	if !method.Valid() {
		return nil, invalid("method", "unknown payment method %q", method)
	}

	var created *Transaction
	err := l.runner.run(ctx, "pay_invoice", func(tx pgx.Tx) error {
		inv, err := lockInvoice(ctx, tx, "invoice_id", invoiceID)
		if err != nil {
			return err
		}
		from, to := inv.Recipient, inv.Issuer
		in := ApplyTransactionInput{
			Date:       l.now(),
			Amount:     amount,
			Type:       TxPayment,
			Method:     method,
			Status:     TxCompleted,
			From:       &from,
			To:         &to,
			InvoiceID:  &invoiceID,
			CategoryID: inv.CategoryID,
			Notes:      "Payment for " + inv.Number,
		}
		if err := in.Normalize(l.now()); err != nil {
			return err
		}
		t, err := l.insertAndApply(ctx, tx, in)
		if err != nil {
			return err
		}
		if bankTransactionID != nil {
			note := fmt.Sprintf("Paid %s via transaction %d", inv.Number, t.ID)
			if _, err := matchBankLine(ctx, tx, *bankTransactionID, &t.ID, &invoiceID, note); err != nil {
				return err
			}
		}
		created = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.log.Info().Int("invoice_id", invoiceID).Int("transaction_id", created.ID).
		Str("amount", amount.StringFixed(2)).Msg("invoice payment recorded")
	return created, nil
}

// insertAndApply is the shared body of ApplyTransaction and PayInvoice.
// Lock order: invoice first, then parties ascending by id.
func (l *Ledger) insertAndApply(ctx context.Context, tx pgx.Tx, in ApplyTransactionInput) (*Transaction, error) {
	// 1. Linked invoice
	var inv *Invoice
	if in.InvoiceID != nil {
		var err error
		inv, err = lockInvoice(ctx, tx, "invoice_id", *in.InvoiceID)
		if err != nil {
			return nil, err
		}
	}

	// 2. Parties
	var refs []PartyRef
	if in.From != nil {
		refs = append(refs, *in.From)
	}
	if in.To != nil {
		refs = append(refs, *in.To)
	}
	if _, err := lockParties(ctx, tx, "party", refs...); err != nil {
		return nil, err
	}
	if in.CategoryID != nil {
		if err := ensureCategory(ctx, tx, *in.CategoryID); err != nil {
			return nil, err
		}
	}

	// 3. Insert
	fromKind, fromID := refColumns(in.From)
	toKind, toID := refColumns(in.To)
	t, err := scanTransaction(tx.QueryRow(ctx, `
		INSERT INTO transactions (tx_date, amount, type, method, status, from_kind, from_id, to_kind, to_id,
			invoice_id, category_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+transactionColumns,
		in.Date, in.Amount, string(in.Type), string(in.Method), string(in.Status), fromKind, fromID, toKind, toID,
		in.InvoiceID, in.CategoryID, in.Notes))
	if err != nil {
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	// 4. Effects
	if t.Status == TxCompleted {
		if err := l.applyEffect(ctx, tx, *t, inv, false); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// applyEffect moves balances and the linked invoice's paid amount for a
// completed transaction, or undoes exactly that when reverse is set. Callers
// must already hold the invoice and party locks.
func (l *Ledger) applyEffect(ctx context.Context, tx pgx.Tx, t Transaction, inv *Invoice, reverse bool) error {
	if inv != nil {
		delta := InvoicePaidDelta(t, reverse)
		if !delta.IsZero() {
			if !reverse && inv.Status == InvoiceCancelled {
				return invalid("invoice_id", "invoice %s is cancelled", inv.Number)
			}
			if !reverse && inv.Status == InvoiceDraft {
				return invalid("invoice_id", "invoice %s must be finalized before it can be paid", inv.Number)
			}
			newPaid := inv.PaidAmount.Add(delta)
			if newPaid.IsNegative() {
				return invalid("amount", "refund of %s exceeds paid amount %s on invoice %s",
					t.Amount.StringFixed(2), inv.PaidAmount.StringFixed(2), inv.Number)
			}
			if !reverse && delta.IsPositive() && newPaid.GreaterThan(inv.Total) && !l.opts.AllowOverpayment {
				return &OverpaymentError{InvoiceID: inv.ID, Total: inv.Total, Paid: inv.PaidAmount, Amount: t.Amount}
			}
			status := DerivePaymentStatus(inv.Total, newPaid, inv.Status)
			_, err := tx.Exec(ctx, `UPDATE invoices SET paid_amount = $1, status = $2 WHERE id = $3`,
				newPaid, string(status), inv.ID)
			if err != nil {
				return fmt.Errorf("failed to update invoice paid amount: %w", err)
			}
			inv.PaidAmount = newPaid
			inv.Status = status
		}
	}

	for _, d := range BalanceEffect(t, reverse) {
		col := d.Bucket.column()
		_, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE parties SET %s = %s + $1 WHERE id = $2 AND kind = $3`, col, col),
			d.Amount, d.Party.ID, string(d.Party.Kind))
		if err != nil {
			return fmt.Errorf("failed to update %s of party %s: %w", col, d.Party, err)
		}
	}
	return nil
}

// SetTransactionStatus moves a transaction through its lifecycle. Leaving
// COMPLETED reverses the effect; entering COMPLETED applies it, re-checking
// overpayment against the invoice as it is now.
func (l *Ledger) SetTransactionStatus(ctx context.Context, transactionID int, status TransactionStatus) (*Transaction, error) {
	var updated *Transaction
	err := l.runner.run(ctx, "set_transaction_status", func(tx pgx.Tx) error {
		// Peek without a lock to learn which invoice to lock first.
		peek, err := loadTransaction(ctx, tx, transactionID, false)
		if err != nil {
			return err
		}
		var inv *Invoice
		if peek.InvoiceID != nil {
			inv, err = lockInvoice(ctx, tx, "invoice_id", *peek.InvoiceID)
			if err != nil {
				return err
			}
		}
		t, err := loadTransaction(ctx, tx, transactionID, true)
		if err != nil {
			return err
		}

		if err := ValidateStatusTransition(t.Status, status); err != nil {
			return err
		}
		if t.Status == status {
			updated = t
			return nil
		}

		var refs []PartyRef
		if t.From != nil {
			refs = append(refs, *t.From)
		}
		if t.To != nil {
			refs = append(refs, *t.To)
		}
		if _, err := lockParties(ctx, tx, "party", refs...); err != nil {
			return err
		}

		if t.Status == TxCompleted {
			if err := l.applyEffect(ctx, tx, *t, inv, true); err != nil {
				return err
			}
		}
		if status == TxCompleted {
			if err := l.applyEffect(ctx, tx, *t, inv, false); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `UPDATE transactions SET status = $1 WHERE id = $2`, string(status), transactionID); err != nil {
			return fmt.Errorf("failed to update transaction status: %w", err)
		}
		t.Status = status
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (l *Ledger) SetTransactionCategory(ctx context.Context, transactionID int, categoryID *int) (*Transaction, error) {
	if categoryID != nil {
		if err := ensureCategory(ctx, l.pool, *categoryID); err != nil {
			return nil, err
		}
	}
	tag, err := l.pool.Exec(ctx, `UPDATE transactions SET category_id = $1 WHERE id = $2`, categoryID, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to set transaction category: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("transaction %d: %w", transactionID, ErrNotFound)
	}
	return l.GetTransaction(ctx, transactionID)
}

func (l *Ledger) SetTransactionAttachment(ctx context.Context, transactionID int, key string) (*Transaction, error) {
	tag, err := l.pool.Exec(ctx, `UPDATE transactions SET attachment_key = $1 WHERE id = $2`, key, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to set transaction attachment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("transaction %d: %w", transactionID, ErrNotFound)
	}
	return l.GetTransaction(ctx, transactionID)
}

func (l *Ledger) GetTransaction(ctx context.Context, transactionID int) (*Transaction, error) {
	return loadTransaction(ctx, l.pool, transactionID, false)
}

func (l *Ledger) ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error) {
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
		where = append(where, fmt.Sprintf("((from_kind = %s AND from_id = %s) OR (to_kind = %s AND to_id = %s))", k, id, k, id))
	}
	if f.InvoiceID != nil {
		where = append(where, "invoice_id = "+arg(*f.InvoiceID))
	}
	if f.From != nil {
		where = append(where, "tx_date >= "+arg(dateOnly(*f.From)))
	}
	if f.To != nil {
		where = append(where, "tx_date <= "+arg(dateOnly(*f.To)))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY tx_date DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + arg(f.Limit)
	}

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}
