package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"freight-ledger/internal/logger"
)

// Reconciler links bank statement lines to ledger transactions and invoices.
// A bank line is matched to at most one transaction and one invoice.
type Reconciler struct {
	pool     *pgxpool.Pool
	runner   atomicRunner
	opts     Options
	strategy MatchStrategy
	log      zerolog.Logger
}

// NewReconciler uses AmountDateStrategy when strategy is nil.
func NewReconciler(pool *pgxpool.Pool, opts Options, strategy MatchStrategy) *Reconciler {
	if strategy == nil {
		strategy = NewAmountDateStrategy(opts)
	}
	log := logger.WithComponent("reconciliation")
	return &Reconciler{
		pool:     pool,
		runner:   newAtomicRunner(pool, opts.MaxRetries, log),
		opts:     opts,
		strategy: strategy,
		log:      log,
	}
}

const bankColumns = `id, external_id, tx_date, amount, description, is_reconciled, matched_transaction_id,
	matched_invoice_id, reconciliation_note, reconciled_at, created_at`

func scanBankLine(row pgx.Row) (*BankTransaction, error) {
	var b BankTransaction
	err := row.Scan(&b.ID, &b.ExternalID, &b.Date, &b.Amount, &b.Description, &b.IsReconciled,
		&b.MatchedTransactionID, &b.MatchedInvoiceID, &b.ReconciliationNote, &b.ReconciledAt, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func loadBankLine(ctx context.Context, q Querier, id int, forUpdate bool) (*BankTransaction, error) {
	query := `SELECT ` + bankColumns + ` FROM bank_transactions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	b, err := scanBankLine(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("bank transaction %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch bank transaction %d: %w", id, err)
	}
	return b, nil
}

// ImportBankLines inserts statement lines in one unit. Lines whose external
// id is already known are skipped, so re-importing a statement is harmless.
func (r *Reconciler) ImportBankLines(ctx context.Context, lines []BankLineInput) (*ImportResult, error) {
	for i, l := range lines {
		if l.Date.IsZero() {
			return nil, invalid(fmt.Sprintf("lines[%d]", i), "date is required")
		}
	}

	var res ImportResult
	err := r.runner.run(ctx, "import_bank_lines", func(tx pgx.Tx) error {
		res = ImportResult{}
		for _, l := range lines {
			var externalID *string
			if id := strings.TrimSpace(l.ExternalID); id != "" {
				externalID = &id
			}
			tag, err := tx.Exec(ctx, `
				INSERT INTO bank_transactions (external_id, tx_date, amount, description)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (external_id) DO NOTHING
			`, externalID, dateOnly(l.Date), l.Amount, l.Description)
			if err != nil {
				return fmt.Errorf("failed to insert bank line: %w", err)
			}
			if tag.RowsAffected() == 0 {
				res.Skipped++
			} else {
				res.Inserted++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.Info().Int("inserted", res.Inserted).Int("skipped", res.Skipped).Msg("bank lines imported")
	return &res, nil
}

func (r *Reconciler) GetBankLine(ctx context.Context, id int) (*BankTransaction, error) {
	return loadBankLine(ctx, r.pool, id, false)
}

func (r *Reconciler) ListBankLines(ctx context.Context, f BankLineFilter) ([]BankTransaction, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.Reconciled != nil {
		where = append(where, "is_reconciled = "+arg(*f.Reconciled))
	}
	if f.From != nil {
		where = append(where, "tx_date >= "+arg(dateOnly(*f.From)))
	}
	if f.To != nil {
		where = append(where, "tx_date <= "+arg(dateOnly(*f.To)))
	}

	query := `SELECT ` + bankColumns + ` FROM bank_transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY tx_date DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + arg(f.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bank transactions: %w", err)
	}
	defer rows.Close()

	var lines []BankTransaction
	for rows.Next() {
		b, err := scanBankLine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bank transaction: %w", err)
		}
		lines = append(lines, *b)
	}
	return lines, rows.Err()
}

// SuggestMatches lists unmatched completed transactions and open invoices
// whose amount is within tolerance of the bank line and whose date falls in
// the matching window, ranked by the configured strategy. Nothing is written.
func (r *Reconciler) SuggestMatches(ctx context.Context, bankTransactionID int) ([]MatchCandidate, error) {
	line, err := loadBankLine(ctx, r.pool, bankTransactionID, false)
	if err != nil {
		return nil, err
	}
	if line.IsReconciled {
		return nil, nil
	}

	amount := line.Amount.Abs()
	low, high := amount.Sub(r.opts.MatchAmountTolerance), amount.Add(r.opts.MatchAmountTolerance)
	start := dateOnly(line.Date).AddDate(0, 0, -r.opts.MatchDateWindowDays)
	end := dateOnly(line.Date).AddDate(0, 0, r.opts.MatchDateWindowDays)

	var candidates []MatchCandidate

	rows, err := r.pool.Query(ctx, `
		SELECT t.id, t.tx_date, t.amount, t.type, t.method, t.notes
		FROM transactions t
		WHERE t.status = 'COMPLETED'
		  AND t.amount BETWEEN $1 AND $2
		  AND t.tx_date BETWEEN $3 AND $4
		  AND NOT EXISTS (SELECT 1 FROM bank_transactions b WHERE b.matched_transaction_id = t.id)
	`, low, high, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate transactions: %w", err)
	}
	for rows.Next() {
		var c MatchCandidate
		var typ, method, notes string
		if err := rows.Scan(&c.ID, &c.Date, &c.Amount, &typ, &method, &notes); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan candidate transaction: %w", err)
		}
		c.Kind = CandidateTransaction
		c.Label = strings.TrimSpace(fmt.Sprintf("%s %s %s", typ, method, notes))
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read candidate transactions: %w", err)
	}

	// Invoices are candidates by outstanding amount or full total, dated
	// between issue (less the window) and due date (plus the window).
	rows, err = r.pool.Query(ctx, `
		SELECT i.id, i.issue_date, i.total, i.paid_amount, i.number
		FROM invoices i
		WHERE i.status IN ('ISSUED', 'PARTIALLY_PAID', 'OVERDUE', 'PAID')
		  AND ((i.total - i.paid_amount) BETWEEN $1 AND $2 OR i.total BETWEEN $1 AND $2)
		  AND $3::date BETWEEN i.issue_date - $4::int AND i.due_date + $4::int
		  AND NOT EXISTS (SELECT 1 FROM bank_transactions b WHERE b.matched_invoice_id = i.id)
	`, low, high, dateOnly(line.Date), r.opts.MatchDateWindowDays)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate invoices: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c MatchCandidate
		var inv Invoice
		if err := rows.Scan(&c.ID, &c.Date, &inv.Total, &inv.PaidAmount, &c.Label); err != nil {
			return nil, fmt.Errorf("failed to scan candidate invoice: %w", err)
		}
		c.Kind = CandidateInvoice
		c.Amount = inv.Total
		if out := inv.Outstanding(); out.Sub(amount).Abs().LessThanOrEqual(r.opts.MatchAmountTolerance) {
			c.Amount = out
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read candidate invoices: %w", err)
	}

	if len(candidates) == 0 {
		return nil, nil
	}
	ranked, err := r.strategy.Rank(ctx, *line, candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to rank candidates: %w", err)
	}
	if r.opts.MaxCandidates > 0 && len(ranked) > r.opts.MaxCandidates {
		ranked = ranked[:r.opts.MaxCandidates]
	}
	return ranked, nil
}

// MatchBankLine links the bank line to a transaction, an invoice or both.
// Re-matching the same target is a no-op; a different target is rejected.
func (r *Reconciler) MatchBankLine(ctx context.Context, bankTransactionID int, transactionID, invoiceID *int, note string) (*BankTransaction, error) {
	if transactionID == nil && invoiceID == nil {
		return nil, invalid("match", "a transaction or an invoice is required")
	}
	var matched *BankTransaction
	err := r.runner.run(ctx, "match_bank_line", func(tx pgx.Tx) error {
		b, err := matchBankLine(ctx, tx, bankTransactionID, transactionID, invoiceID, note)
		if err != nil {
			return err
		}
		matched = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matched, nil
}

// matchBankLine runs inside the caller's unit so PayInvoice can pay and
// reconcile atomically.
func matchBankLine(ctx context.Context, tx pgx.Tx, bankTransactionID int, transactionID, invoiceID *int, note string) (*BankTransaction, error) {
	line, err := loadBankLine(ctx, tx, bankTransactionID, true)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalid("bank_transaction_id", "bank transaction %d does not exist", bankTransactionID)
		}
		return nil, err
	}

	if transactionID != nil {
		if line.MatchedTransactionID != nil && *line.MatchedTransactionID != *transactionID {
			return nil, &AlreadyReconciledError{BankTransactionID: line.ID, Kind: CandidateTransaction,
				ExistingID: *line.MatchedTransactionID, RequestedID: *transactionID}
		}
		if _, err := loadTransaction(ctx, tx, *transactionID, false); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, invalid("transaction_id", "transaction %d does not exist", *transactionID)
			}
			return nil, err
		}
	}
	if invoiceID != nil {
		if line.MatchedInvoiceID != nil && *line.MatchedInvoiceID != *invoiceID {
			return nil, &AlreadyReconciledError{BankTransactionID: line.ID, Kind: CandidateInvoice,
				ExistingID: *line.MatchedInvoiceID, RequestedID: *invoiceID}
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE id = $1)`, *invoiceID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to check invoice %d: %w", *invoiceID, err)
		}
		if !exists {
			return nil, invalid("invoice_id", "invoice %d does not exist", *invoiceID)
		}
	}

	b, err := scanBankLine(tx.QueryRow(ctx, `
		UPDATE bank_transactions
		SET matched_transaction_id = COALESCE($2, matched_transaction_id),
		    matched_invoice_id = COALESCE($3, matched_invoice_id),
		    is_reconciled = true,
		    reconciliation_note = CASE WHEN $4 = '' THEN reconciliation_note ELSE $4 END,
		    reconciled_at = COALESCE(reconciled_at, NOW())
		WHERE id = $1
		RETURNING `+bankColumns, bankTransactionID, transactionID, invoiceID, note))
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile bank transaction: %w", err)
	}
	return b, nil
}

// UnmatchBankLine clears every link on the bank line.
func (r *Reconciler) UnmatchBankLine(ctx context.Context, bankTransactionID int, note string) (*BankTransaction, error) {
	var cleared *BankTransaction
	err := r.runner.run(ctx, "unmatch_bank_line", func(tx pgx.Tx) error {
		if _, err := loadBankLine(ctx, tx, bankTransactionID, true); err != nil {
			return err
		}
		b, err := scanBankLine(tx.QueryRow(ctx, `
			UPDATE bank_transactions
			SET matched_transaction_id = NULL, matched_invoice_id = NULL, is_reconciled = false,
			    reconciliation_note = $2, reconciled_at = NULL
			WHERE id = $1
			RETURNING `+bankColumns, bankTransactionID, note))
		if err != nil {
			return fmt.Errorf("failed to unmatch bank transaction: %w", err)
		}
		cleared = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cleared, nil
}
