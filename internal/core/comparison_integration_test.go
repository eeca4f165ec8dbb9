package core_test

import (
	"context"
	"errors"
	"testing"

	"freight-ledger/internal/core"
)

func TestAudit_FindDiscrepancies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	arrival := day("2026-03-01")
	car, err := f.units.CreateCar(ctx, core.Car{VIN: "VIN-1", ClientID: f.client.ID, ArrivalDate: arrival, DepartureDate: &arrival})
	if err != nil {
		t.Fatalf("CreateCar failed: %v", err)
	}
	if _, err := f.units.AddCarCharge(ctx, core.CarCharge{CarID: car.ID, Provider: f.line.Ref(), Name: "Shipping", Amount: dec("1000")}); err != nil {
		t.Fatalf("AddCarCharge failed: %v", err)
	}
	f.issuedInvoice(t, f.company, f.client, "950.00")

	found, err := f.audit.FindDiscrepancies(ctx, day("2026-01-01"), day("2026-12-31"))
	if err != nil {
		t.Fatalf("FindDiscrepancies failed: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected exactly one discrepancy, got %+v", found)
	}
	d := found[0]
	if d.Kind != core.DiscrepancyClient || d.Party == nil || *d.Party != f.client.Ref() {
		t.Errorf("unexpected discrepancy: %+v", d)
	}
	if d.Result.Status != core.ComparisonUnitHigher || !d.Result.Difference.Equal(dec("50")) {
		t.Errorf("expected unit_higher by 50, got %s by %s", d.Result.Status, d.Result.Difference)
	}

	// The invoice lines carry no car, so nothing is billed against the unit yet.
	unit, err := f.audit.CompareUnitCostsToInvoices(ctx, car.ID)
	if err != nil {
		t.Fatalf("CompareUnitCostsToInvoices failed: %v", err)
	}
	if unit.Status != core.ComparisonUnitHigher || !unit.Actual.IsZero() {
		t.Errorf("unexpected unit comparison: %+v", unit)
	}

	if _, err := f.audit.CompareUnitCostsToInvoices(ctx, 999999); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAudit_CompareCounterparty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv := f.issuedInvoice(t, f.line, f.company, "1000.00")
	if _, err := f.ledger.PayInvoice(ctx, inv.ID, dec("600"), core.MethodBank, nil); err != nil {
		t.Fatalf("PayInvoice failed: %v", err)
	}

	res, err := f.audit.CompareCounterparty(ctx, f.line.Ref(), day("2026-01-01"), day("2026-12-31"))
	if err != nil {
		t.Fatalf("CompareCounterparty failed: %v", err)
	}
	if res.Status != core.ComparisonInvoicesHigher || !res.Difference.Equal(dec("400")) {
		t.Errorf("expected invoices_higher by 400, got %s by %s", res.Status, res.Difference)
	}

	none, err := f.audit.CompareCounterparty(ctx, f.warehouse.Ref(), day("2026-01-01"), day("2026-12-31"))
	if err != nil {
		t.Fatalf("CompareCounterparty failed: %v", err)
	}
	if none.Status != core.ComparisonNoData {
		t.Errorf("expected no_data for a silent warehouse, got %s", none.Status)
	}

	var ve *core.ValidationError
	if _, err := f.audit.CompareCounterparty(ctx, f.client.Ref(), day("2026-01-01"), day("2026-12-31")); !errors.As(err, &ve) {
		t.Errorf("clients are not counterparties: expected ValidationError, got %v", err)
	}
	if _, err := f.audit.CompareClient(ctx, f.client.ID, day("2026-12-31"), day("2026-01-01")); !errors.As(err, &ve) {
		t.Errorf("reversed range: expected ValidationError, got %v", err)
	}
}
