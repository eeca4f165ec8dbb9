package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ── Report types ──────────────────────────────────────────────────────────────

// StatementLine is one completed transaction as seen by a single party.
// RunningBalance is the cumulative net position after this line
// (positive = net received, negative = net paid out).
type StatementLine struct {
	TransactionID  int             `json:"transaction_id"`
	Date           time.Time       `json:"date"`
	Type           TransactionType `json:"type"`
	Method         PaymentMethod   `json:"method"`
	Counterparty   *PartyRef       `json:"counterparty,omitempty"`
	InvoiceNumber  string          `json:"invoice_number,omitempty"`
	In             decimal.Decimal `json:"in"`
	Out            decimal.Decimal `json:"out"`
	RunningBalance decimal.Decimal `json:"running_balance"`
}

// SummaryGroup selects how invoice and transaction summaries are grouped.
type SummaryGroup string

const (
	GroupByStatus   SummaryGroup = "status"
	GroupByMonth    SummaryGroup = "month"
	GroupByCategory SummaryGroup = "category"
)

// SummaryRow is one group of an invoice or transaction summary. Paid is
// only filled for invoices.
type SummaryRow struct {
	Key   string          `json:"key"`
	Count int             `json:"count"`
	Total decimal.Decimal `json:"total"`
	Paid  decimal.Decimal `json:"paid"`
}

// AgingRow buckets open receivables of one recipient by days past due.
type AgingRow struct {
	Party    PartyRef        `json:"party"`
	Name     string          `json:"name"`
	Current  decimal.Decimal `json:"current"`
	Days30   decimal.Decimal `json:"days_1_30"`
	Days60   decimal.Decimal `json:"days_31_60"`
	Days90   decimal.Decimal `json:"days_61_90"`
	Over90   decimal.Decimal `json:"over_90"`
	TotalDue decimal.Decimal `json:"total_due"`
}

// ── Interface ─────────────────────────────────────────────────────────────────

// ReportingService provides read-only queries for dashboards. Results may be
// cached by the caller; nothing here is needed for ledger correctness.
type ReportingService interface {
	// PartyBalances returns every party with its three balances, optionally
	// restricted to one kind.
	PartyBalances(ctx context.Context, kind *PartyKind) ([]Party, error)

	// PartyStatement returns the completed transactions touching ref in the
	// range, oldest first, with a running balance.
	PartyStatement(ctx context.Context, ref PartyRef, from, to time.Time) ([]StatementLine, error)

	// InvoiceSummary groups non-draft invoices dated in the range.
	InvoiceSummary(ctx context.Context, group SummaryGroup, from, to time.Time) ([]SummaryRow, error)

	// TransactionSummary groups completed transactions dated in the range.
	TransactionSummary(ctx context.Context, group SummaryGroup, from, to time.Time) ([]SummaryRow, error)

	// ReceivablesAging buckets the outstanding amount of invoices issued by
	// the operating company, per recipient, as of asOf.
	ReceivablesAging(ctx context.Context, asOf time.Time) ([]AgingRow, error)
}

// ── Implementation ────────────────────────────────────────────────────────────

type reportingService struct {
	pool *pgxpool.Pool
	opts Options
}

// NewReportingService constructs a ReportingService backed by the given pool.
func NewReportingService(pool *pgxpool.Pool, opts Options) ReportingService {
	return &reportingService{pool: pool, opts: opts}
}

func (s *reportingService) PartyBalances(ctx context.Context, kind *PartyKind) ([]Party, error) {
	return NewPartyService(s.pool).ListParties(ctx, kind)
}

// ── PartyStatement ────────────────────────────────────────────────────────────

func (s *reportingService) PartyStatement(ctx context.Context, ref PartyRef, from, to time.Time) ([]StatementLine, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.tx_date, t.type, t.method, t.amount,
		       t.from_kind, t.from_id, t.to_kind, t.to_id,
		       COALESCE(i.number, '')
		FROM transactions t
		LEFT JOIN invoices i ON i.id = t.invoice_id
		WHERE t.status = 'COMPLETED'
		  AND ((t.from_kind = $1 AND t.from_id = $2) OR (t.to_kind = $1 AND t.to_id = $2))
		  AND t.tx_date BETWEEN $3 AND $4
		ORDER BY t.tx_date ASC, t.id ASC
	`, string(ref.Kind), ref.ID, dateOnly(from), dateOnly(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query party statement: %w", err)
	}
	defer rows.Close()

	var lines []StatementLine
	running := decimal.Zero
	for rows.Next() {
		var sl StatementLine
		var amount decimal.Decimal
		var fromKind, toKind *string
		var fromID, toID *int
		if err := rows.Scan(&sl.TransactionID, &sl.Date, &sl.Type, &sl.Method, &amount,
			&fromKind, &fromID, &toKind, &toID, &sl.InvoiceNumber); err != nil {
			return nil, fmt.Errorf("failed to scan statement line: %w", err)
		}
		fromRef, toRef := refFromColumns(fromKind, fromID), refFromColumns(toKind, toID)
		if toRef != nil && *toRef == ref {
			sl.In = amount
			sl.Counterparty = fromRef
		} else {
			sl.Out = amount
			sl.Counterparty = toRef
		}
		running = running.Add(sl.In).Sub(sl.Out)
		sl.RunningBalance = running
		lines = append(lines, sl)
	}
	return lines, rows.Err()
}

// ── Summaries ─────────────────────────────────────────────────────────────────

func groupExpr(group SummaryGroup, dateCol string) (string, string, error) {
	switch group {
	case GroupByStatus:
		return "x.status", "", nil
	case GroupByMonth:
		return fmt.Sprintf("to_char(x.%s, 'YYYY-MM')", dateCol), "", nil
	case GroupByCategory:
		return "COALESCE(c.name, 'Uncategorized')", "LEFT JOIN expense_categories c ON c.id = x.category_id", nil
	}
	return "", "", invalid("group", "unknown grouping %q", group)
}

func (s *reportingService) InvoiceSummary(ctx context.Context, group SummaryGroup, from, to time.Time) ([]SummaryRow, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	key, join, err := groupExpr(group, "issue_date")
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
		SELECT %s AS key, COUNT(*), COALESCE(SUM(x.total), 0), COALESCE(SUM(x.paid_amount), 0)
		FROM invoices x
		%s
		WHERE x.status <> 'DRAFT' AND x.issue_date BETWEEN $1 AND $2
		GROUP BY 1
		ORDER BY 1
	`, key, join)
	return s.summary(ctx, q, from, to)
}

func (s *reportingService) TransactionSummary(ctx context.Context, group SummaryGroup, from, to time.Time) ([]SummaryRow, error) {
	if err := validateRange(from, to); err != nil {
		return nil, err
	}
	key, join, err := groupExpr(group, "tx_date")
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`
		SELECT %s AS key, COUNT(*), COALESCE(SUM(x.amount), 0), 0::numeric
		FROM transactions x
		%s
		WHERE x.status = 'COMPLETED' AND x.tx_date BETWEEN $1 AND $2
		GROUP BY 1
		ORDER BY 1
	`, key, join)
	return s.summary(ctx, q, from, to)
}

func (s *reportingService) summary(ctx context.Context, q string, from, to time.Time) ([]SummaryRow, error) {
	rows, err := s.pool.Query(ctx, q, dateOnly(from), dateOnly(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}
	defer rows.Close()

	var out []SummaryRow
	for rows.Next() {
		var r SummaryRow
		if err := rows.Scan(&r.Key, &r.Count, &r.Total, &r.Paid); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ── ReceivablesAging ──────────────────────────────────────────────────────────

func (s *reportingService) ReceivablesAging(ctx context.Context, asOf time.Time) ([]AgingRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.recipient_kind, i.recipient_id, p.name, i.due_date, i.total - i.paid_amount
		FROM invoices i
		JOIN parties p ON p.id = i.recipient_id AND p.kind = i.recipient_kind
		WHERE i.issuer_kind = 'company' AND i.issuer_id = $1
		  AND i.status IN ('ISSUED', 'PARTIALLY_PAID', 'OVERDUE')
		  AND i.total > i.paid_amount
		ORDER BY i.recipient_kind, i.recipient_id
	`, s.opts.OperatingCompanyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query receivables: %w", err)
	}
	defer rows.Close()

	today := dateOnly(asOf)
	var out []AgingRow
	index := make(map[PartyRef]int)
	for rows.Next() {
		var ref PartyRef
		var name string
		var due time.Time
		var open decimal.Decimal
		if err := rows.Scan(&ref.Kind, &ref.ID, &name, &due, &open); err != nil {
			return nil, fmt.Errorf("failed to scan receivable: %w", err)
		}
		i, ok := index[ref]
		if !ok {
			i = len(out)
			index[ref] = i
			out = append(out, AgingRow{Party: ref, Name: name})
		}
		row := &out[i]
		days := int(today.Sub(dateOnly(due)).Hours() / 24)
		switch {
		case days <= 0:
			row.Current = row.Current.Add(open)
		case days <= 30:
			row.Days30 = row.Days30.Add(open)
		case days <= 60:
			row.Days60 = row.Days60.Add(open)
		case days <= 90:
			row.Days90 = row.Days90.Add(open)
		default:
			row.Over90 = row.Over90.Add(open)
		}
		row.TotalDue = row.TotalDue.Add(open)
	}
	return out, rows.Err()
}
