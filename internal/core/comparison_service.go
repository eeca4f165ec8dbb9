package core

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"freight-ledger/internal/logger"
	"freight-ledger/internal/metrics"
)

// Auditor compares what units cost with what was invoiced, and what
// counterparties invoiced with what was paid. It only reads.
type Auditor struct {
	pool  *pgxpool.Pool
	opts  Options
	units UnitCostSource
	log   zerolog.Logger
}

func NewAuditor(pool *pgxpool.Pool, opts Options, units UnitCostSource) *Auditor {
	return &Auditor{pool: pool, opts: opts, units: units, log: logger.WithComponent("audit")}
}

func validateRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return invalid("range", "start and end are required")
	}
	if dateOnly(end).Before(dateOnly(start)) {
		return invalid("range", "end is before start")
	}
	return nil
}

// CompareUnitCostsToInvoices compares one car's cost with the lines billed
// for it to its client on non-cancelled invoices.
func (a *Auditor) CompareUnitCostsToInvoices(ctx context.Context, unitID int) (*ComparisonResult, error) {
	units, err := a.units.UnitCosts(ctx, a.pool, []int{unitID}, time.Now())
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("car %d: %w", unitID, ErrNotFound)
	}
	u := units[0]

	var invoiced decimal.Decimal
	err = a.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(ii.subtotal), 0)
		FROM invoice_items ii
		JOIN invoices i ON i.id = ii.invoice_id
		WHERE ii.car_id = $1
		  AND i.status <> 'CANCELLED'
		  AND i.recipient_kind = 'client' AND i.recipient_id = $2
	`, unitID, u.ClientID).Scan(&invoiced)
	if err != nil {
		return nil, fmt.Errorf("failed to sum invoiced amount for car %d: %w", unitID, err)
	}

	res := Classify(u.VIN, u.Total(), invoiced, a.opts.Tolerance, ComparisonUnitHigher, ComparisonCounterpartHigher)
	return &res, nil
}

// CompareClient compares the cost of the client's cars that arrived in the
// range with the invoices the client received in the range.
func (a *Auditor) CompareClient(ctx context.Context, clientID int, start, end time.Time) (*ComparisonResult, error) {
	if err := validateRange(start, end); err != nil {
		return nil, err
	}
	client := PartyRef{Kind: PartyClient, ID: clientID}
	p, err := getParty(ctx, a.pool, client, false)
	if err != nil {
		return nil, err
	}
	return a.compareClient(ctx, *p, start, end)
}

func (a *Auditor) compareClient(ctx context.Context, client Party, start, end time.Time) (*ComparisonResult, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT id FROM cars WHERE client_id = $1 AND arrival_date BETWEEN $2 AND $3 ORDER BY id
	`, client.ID, dateOnly(start), dateOnly(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query client cars: %w", err)
	}
	var carIDs []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan car id: %w", err)
		}
		carIDs = append(carIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read client cars: %w", err)
	}

	cost := decimal.Zero
	if len(carIDs) > 0 {
		units, err := a.units.UnitCosts(ctx, a.pool, carIDs, time.Now())
		if err != nil {
			return nil, err
		}
		for _, u := range units {
			cost = cost.Add(u.Total())
		}
	}

	var invoiced decimal.Decimal
	err = a.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(total), 0)
		FROM invoices
		WHERE recipient_kind = 'client' AND recipient_id = $1
		  AND status <> 'CANCELLED'
		  AND issue_date BETWEEN $2 AND $3
	`, client.ID, dateOnly(start), dateOnly(end)).Scan(&invoiced)
	if err != nil {
		return nil, fmt.Errorf("failed to sum client invoices: %w", err)
	}

	res := Classify(client.Name, cost, invoiced, a.opts.Tolerance, ComparisonUnitHigher, ComparisonCounterpartHigher)
	return &res, nil
}

// CompareCounterparty compares what a warehouse, line or carrier invoiced in
// the range with the completed payments (net of refunds) against those
// invoices.
func (a *Auditor) CompareCounterparty(ctx context.Context, ref PartyRef, start, end time.Time) (*ComparisonResult, error) {
	if err := validateRange(start, end); err != nil {
		return nil, err
	}
	if !slices.Contains(CounterpartKinds, ref.Kind) {
		return nil, invalid("party", "%s is not a warehouse, line or carrier", ref)
	}
	p, err := getParty(ctx, a.pool, ref, false)
	if err != nil {
		return nil, err
	}
	return a.compareCounterparty(ctx, *p, start, end)
}

func (a *Auditor) compareCounterparty(ctx context.Context, p Party, start, end time.Time) (*ComparisonResult, error) {
	var invoiced, paid decimal.Decimal
	err := a.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(total), 0)
		FROM invoices
		WHERE issuer_kind = $1 AND issuer_id = $2
		  AND status <> 'CANCELLED'
		  AND issue_date BETWEEN $3 AND $4
	`, string(p.Kind), p.ID, dateOnly(start), dateOnly(end)).Scan(&invoiced)
	if err != nil {
		return nil, fmt.Errorf("failed to sum counterparty invoices: %w", err)
	}

	err = a.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE t.type WHEN 'PAYMENT' THEN t.amount WHEN 'REFUND' THEN -t.amount ELSE 0 END), 0)
		FROM transactions t
		JOIN invoices i ON i.id = t.invoice_id
		WHERE t.status = 'COMPLETED'
		  AND i.issuer_kind = $1 AND i.issuer_id = $2
		  AND i.status <> 'CANCELLED'
		  AND i.issue_date BETWEEN $3 AND $4
	`, string(p.Kind), p.ID, dateOnly(start), dateOnly(end)).Scan(&paid)
	if err != nil {
		return nil, fmt.Errorf("failed to sum counterparty payments: %w", err)
	}

	res := Classify(p.Name, invoiced, paid, a.opts.Tolerance, ComparisonInvoicesHigher, ComparisonPaymentsHigher)
	return &res, nil
}

// FindDiscrepancies runs the client and counterparty comparisons for every
// party of those kinds and returns the ones that do not match.
func (a *Auditor) FindDiscrepancies(ctx context.Context, start, end time.Time) ([]Discrepancy, error) {
	if err := validateRange(start, end); err != nil {
		return nil, err
	}

	parties, err := NewPartyService(a.pool).ListParties(ctx, nil)
	if err != nil {
		return nil, err
	}

	var found []Discrepancy
	for _, p := range parties {
		var res *ComparisonResult
		var kind DiscrepancyKind
		switch {
		case p.Kind == PartyClient:
			res, err = a.compareClient(ctx, p, start, end)
			kind = DiscrepancyClient
		case slices.Contains(CounterpartKinds, p.Kind):
			res, err = a.compareCounterparty(ctx, p, start, end)
			kind = DiscrepancyCounterparty
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		if !res.IsDiscrepancy() {
			continue
		}
		ref := p.Ref()
		found = append(found, Discrepancy{
			Kind:   kind,
			Party:  &ref,
			Result: *res,
			Description: fmt.Sprintf("%s %s: expected %s, actual %s (%s)", p.Kind, p.Name,
				res.Expected.StringFixed(2), res.Actual.StringFixed(2), res.Status),
		})
	}

	metrics.DiscrepanciesFound.WithLabelValues(string(DiscrepancyClient)).Set(float64(countKind(found, DiscrepancyClient)))
	metrics.DiscrepanciesFound.WithLabelValues(string(DiscrepancyCounterparty)).Set(float64(countKind(found, DiscrepancyCounterparty)))
	a.log.Info().Int("found", len(found)).Time("start", start).Time("end", end).Msg("discrepancy scan finished")
	return found, nil
}

// FindBalanceDrift recomputes every party's buckets from completed
// transactions and reports buckets whose stored value differs.
func (a *Auditor) FindBalanceDrift(ctx context.Context) ([]Discrepancy, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT party_kind, party_id, method, SUM(amount)
		FROM (
			SELECT to_kind AS party_kind, to_id AS party_id, method, amount
			FROM transactions WHERE status = 'COMPLETED' AND to_id IS NOT NULL
			UNION ALL
			SELECT from_kind, from_id, method, -amount
			FROM transactions WHERE status = 'COMPLETED' AND from_id IS NOT NULL
		) movements
		GROUP BY party_kind, party_id, method
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate transactions: %w", err)
	}
	expected := make(map[PartyRef]Balances)
	for rows.Next() {
		var ref PartyRef
		var method PaymentMethod
		var sum decimal.Decimal
		if err := rows.Scan(&ref.Kind, &ref.ID, &method, &sum); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		expected[ref] = expected[ref].Apply(BalanceDelta{Party: ref, Bucket: BucketForMethod(method), Amount: sum})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read aggregates: %w", err)
	}

	parties, err := NewPartyService(a.pool).ListParties(ctx, nil)
	if err != nil {
		return nil, err
	}

	var found []Discrepancy
	for _, p := range parties {
		want := expected[p.Ref()]
		got := p.Balances()
		for _, b := range []struct {
			bucket    BalanceBucket
			want, got decimal.Decimal
		}{
			{BucketInvoice, want.Invoice, got.Invoice},
			{BucketCash, want.Cash, got.Cash},
			{BucketCard, want.Card, got.Card},
		} {
			if b.want.Equal(b.got) {
				continue
			}
			ref := p.Ref()
			res := Classify(p.Name, b.want, b.got, decimal.Zero, ComparisonUnitHigher, ComparisonCounterpartHigher)
			found = append(found, Discrepancy{
				Kind:   DiscrepancyBalanceDrift,
				Party:  &ref,
				Bucket: b.bucket,
				Result: res,
				Description: fmt.Sprintf("%s %s %s balance is %s, transactions imply %s",
					p.Kind, p.Name, b.bucket, b.got.StringFixed(2), b.want.StringFixed(2)),
			})
		}
	}

	metrics.DiscrepanciesFound.WithLabelValues(string(DiscrepancyBalanceDrift)).Set(float64(len(found)))
	if len(found) > 0 {
		a.log.Warn().Int("found", len(found)).Msg("balance drift detected")
	}
	return found, nil
}

func countKind(ds []Discrepancy, kind DiscrepancyKind) int {
	n := 0
	for _, d := range ds {
		if d.Kind == kind {
			n++
		}
	}
	return n
}
