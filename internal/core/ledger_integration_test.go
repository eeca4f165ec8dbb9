package core_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"freight-ledger/internal/core"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live ledger.
	// Set TEST_DATABASE_URL in your .env or environment to run integration tests.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	schema, err := os.ReadFile("../../migrations/001_ledger.sql")
	if err != nil {
		t.Fatalf("Failed to read schema: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		t.Fatalf("Failed to apply schema: %v", err)
	}

	// Clean, then re-run the schema so its seed rows come back.
	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE bank_transactions, transactions, invoice_cars, invoice_items, invoices, invoice_sequences,
			deleted_car_services, car_services, cars, category_rules, expense_categories, parties
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("Failed to clean test database: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}

	return pool
}

type fixture struct {
	pool      *pgxpool.Pool
	opts      core.Options
	parties   core.PartyService
	units     core.UnitRegistry
	invoices  *core.InvoiceEngine
	ledger    *core.Ledger
	reconcile *core.Reconciler
	audit     *core.Auditor

	company   core.Party
	client    core.Party
	warehouse core.Party
	line      core.Party
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pool := setupTestDB(t)
	t.Cleanup(pool.Close)
	ctx := context.Background()

	f := &fixture{pool: pool, parties: core.NewPartyService(pool)}
	mk := func(kind core.PartyKind, name string) core.Party {
		p, err := f.parties.CreateParty(ctx, kind, name)
		if err != nil {
			t.Fatalf("CreateParty(%s) failed: %v", kind, err)
		}
		return *p
	}
	f.company = mk(core.PartyCompany, "Operator GmbH")
	f.client = mk(core.PartyClient, "Client A")
	f.warehouse = mk(core.PartyWarehouse, "Port Warehouse")
	f.line = mk(core.PartyLine, "Ocean Line")

	f.opts = core.DefaultOptions()
	f.opts.OperatingCompanyID = f.company.ID

	source := core.NewUnitCostSource()
	f.units = core.NewUnitRegistry(pool, source)
	f.invoices = core.NewInvoiceEngine(pool, f.opts, core.NewCategoryRuleEngine(), source)
	f.ledger = core.NewLedger(pool, f.opts)
	f.reconcile = core.NewReconciler(pool, f.opts, nil)
	f.audit = core.NewAuditor(pool, f.opts, source)
	return f
}

// reconfigure rebuilds the engines with changed options.
func (f *fixture) reconfigure(change func(*core.Options)) {
	change(&f.opts)
	source := core.NewUnitCostSource()
	f.invoices = core.NewInvoiceEngine(f.pool, f.opts, core.NewCategoryRuleEngine(), source)
	f.ledger = core.NewLedger(f.pool, f.opts)
	f.reconcile = core.NewReconciler(f.pool, f.opts, nil)
	f.audit = core.NewAuditor(f.pool, f.opts, source)
}

func (f *fixture) issuedInvoice(t *testing.T, issuer, recipient core.Party, amount string) *core.Invoice {
	t.Helper()
	ctx := context.Background()
	inv, err := f.invoices.CreateInvoice(ctx, core.CreateInvoiceInput{
		Date:      day("2026-03-05"),
		Issuer:    issuer.Ref(),
		Recipient: recipient.Ref(),
		Items:     []core.ItemInput{{Description: "Shipping", Quantity: dec("1"), UnitPrice: dec(amount)}},
	})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	inv, err = f.invoices.FinalizeInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("FinalizeInvoice failed: %v", err)
	}
	return inv
}

func (f *fixture) balances(t *testing.T, p core.Party) core.Balances {
	t.Helper()
	got, err := f.parties.GetParty(context.Background(), p.Ref())
	if err != nil {
		t.Fatalf("GetParty failed: %v", err)
	}
	return got.Balances()
}

func TestLedger_PayInvoiceMovesBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv := f.issuedInvoice(t, f.company, f.client, "800.00")
	if inv.Status != core.InvoiceIssued || !inv.Total.Equal(dec("800")) {
		t.Fatalf("unexpected invoice after finalize: %s %s", inv.Status, inv.Total)
	}
	// Invoicing alone must not move balances.
	if b := f.balances(t, f.company); !b.Invoice.IsZero() {
		t.Fatalf("invoice creation changed balances: %+v", b)
	}

	tx, err := f.ledger.PayInvoice(ctx, inv.ID, dec("800.00"), core.MethodBank, nil)
	if err != nil {
		t.Fatalf("PayInvoice failed: %v", err)
	}
	if tx.Status != core.TxCompleted || tx.From == nil || *tx.From != f.client.Ref() {
		t.Errorf("unexpected transaction: %+v", tx)
	}

	inv, err = f.invoices.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvoice failed: %v", err)
	}
	if inv.Status != core.InvoicePaid || !inv.PaidAmount.Equal(dec("800")) {
		t.Errorf("expected PAID/800, got %s/%s", inv.Status, inv.PaidAmount)
	}
	if b := f.balances(t, f.company); !b.Invoice.Equal(dec("800")) {
		t.Errorf("company invoice balance: got %s, want 800", b.Invoice)
	}
	if b := f.balances(t, f.client); !b.Invoice.Equal(dec("-800")) {
		t.Errorf("client invoice balance: got %s, want -800", b.Invoice)
	}
}

func TestLedger_OverpaymentRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.issuedInvoice(t, f.company, f.client, "500.00")

	if _, err := f.ledger.PayInvoice(ctx, inv.ID, dec("300"), core.MethodCash, nil); err != nil {
		t.Fatalf("first payment failed: %v", err)
	}
	_, err := f.ledger.PayInvoice(ctx, inv.ID, dec("300"), core.MethodCash, nil)
	var oe *core.OverpaymentError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OverpaymentError, got %v", err)
	}

	inv, _ = f.invoices.GetInvoice(ctx, inv.ID)
	if inv.Status != core.InvoicePartiallyPaid || !inv.PaidAmount.Equal(dec("300")) {
		t.Errorf("failed payment must leave invoice untouched, got %s/%s", inv.Status, inv.PaidAmount)
	}
	if b := f.balances(t, f.company); !b.Cash.Equal(dec("300")) {
		t.Errorf("failed payment must leave balances untouched, got %s", b.Cash)
	}
}

func TestLedger_PaymentRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft, err := f.invoices.CreateInvoice(ctx, core.CreateInvoiceInput{
		Date: day("2026-03-05"), Issuer: f.company.Ref(), Recipient: f.client.Ref(),
		Items: []core.ItemInput{{Description: "Shipping", Quantity: dec("1"), UnitPrice: dec("100")}},
	})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}

	var ve *core.ValidationError
	if _, err := f.ledger.PayInvoice(ctx, draft.ID, dec("10"), core.MethodCash, nil); !errors.As(err, &ve) {
		t.Errorf("paying a draft: expected ValidationError, got %v", err)
	}
	if _, err := f.invoices.CancelInvoice(ctx, draft.ID, "duplicate"); err != nil {
		t.Fatalf("CancelInvoice failed: %v", err)
	}
	if _, err := f.ledger.PayInvoice(ctx, draft.ID, dec("10"), core.MethodCash, nil); !errors.As(err, &ve) {
		t.Errorf("paying a cancelled invoice: expected ValidationError, got %v", err)
	}
	if _, err := f.ledger.PayInvoice(ctx, 999999, dec("10"), core.MethodCash, nil); !errors.As(err, &ve) {
		t.Errorf("paying a missing invoice: expected ValidationError, got %v", err)
	}

	ghost := core.PartyRef{Kind: core.PartyCarrier, ID: 999999}
	to := f.company.Ref()
	_, err = f.ledger.ApplyTransaction(ctx, core.ApplyTransactionInput{
		Amount: dec("5"), Type: core.TxAdjustment, Method: core.MethodCash, From: &ghost, To: &to,
	})
	if !errors.As(err, &ve) {
		t.Errorf("unknown party: expected ValidationError, got %v", err)
	}
}

func TestLedger_StatusRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.issuedInvoice(t, f.company, f.client, "200.00")

	from, to := f.client.Ref(), f.company.Ref()
	tx, err := f.ledger.ApplyTransaction(ctx, core.ApplyTransactionInput{
		Amount: dec("200"), Type: core.TxPayment, Method: core.MethodCard, From: &from, To: &to, InvoiceID: &inv.ID,
	})
	if err != nil {
		t.Fatalf("ApplyTransaction failed: %v", err)
	}

	steps := []struct {
		status  core.TransactionStatus
		balance string
		paid    string
		invoice core.InvoiceStatus
	}{
		{core.TxPending, "0", "0", core.InvoiceIssued},
		{core.TxCompleted, "200", "200", core.InvoicePaid},
		{core.TxFailed, "0", "0", core.InvoiceIssued},
		{core.TxCompleted, "200", "200", core.InvoicePaid},
		{core.TxCancelled, "0", "0", core.InvoiceIssued},
	}
	for _, s := range steps {
		if _, err := f.ledger.SetTransactionStatus(ctx, tx.ID, s.status); err != nil {
			t.Fatalf("SetTransactionStatus(%s) failed: %v", s.status, err)
		}
		if b := f.balances(t, f.company); !b.Card.Equal(dec(s.balance)) {
			t.Errorf("after %s: company card balance %s, want %s", s.status, b.Card, s.balance)
		}
		got, _ := f.invoices.GetInvoice(ctx, inv.ID)
		if !got.PaidAmount.Equal(dec(s.paid)) || got.Status != s.invoice {
			t.Errorf("after %s: invoice %s/%s, want %s/%s", s.status, got.Status, got.PaidAmount, s.invoice, s.paid)
		}
	}

	var ve *core.ValidationError
	if _, err := f.ledger.SetTransactionStatus(ctx, tx.ID, core.TxCompleted); !errors.As(err, &ve) {
		t.Errorf("re-opening a cancelled transaction: expected ValidationError, got %v", err)
	}

	drift, err := f.audit.FindBalanceDrift(ctx)
	if err != nil {
		t.Fatalf("FindBalanceDrift failed: %v", err)
	}
	if len(drift) != 0 {
		t.Errorf("expected no drift, got %+v", drift)
	}
}

func TestLedger_ConcurrentPaymentsNeverOverpay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.issuedInvoice(t, f.company, f.client, "1000.00")

	const workers = 12
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.PayInvoice(ctx, inv.ID, dec("100"), core.MethodBank, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok, over := 0, 0
	for err := range errs {
		var oe *core.OverpaymentError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &oe):
			over++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 10 || over != 2 {
		t.Errorf("expected 10 payments and 2 rejections, got %d and %d", ok, over)
	}

	got, _ := f.invoices.GetInvoice(ctx, inv.ID)
	if got.Status != core.InvoicePaid || !got.PaidAmount.Equal(dec("1000")) {
		t.Errorf("expected PAID/1000, got %s/%s", got.Status, got.PaidAmount)
	}
	if b := f.balances(t, f.company); !b.Invoice.Equal(dec("1000")) {
		t.Errorf("company balance %s, want 1000", b.Invoice)
	}
}

func TestLedger_BalanceDriftDetected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.pool.Exec(ctx, `UPDATE parties SET cash_balance = 5 WHERE id = $1`, f.client.ID); err != nil {
		t.Fatalf("failed to corrupt balance: %v", err)
	}
	drift, err := f.audit.FindBalanceDrift(ctx)
	if err != nil {
		t.Fatalf("FindBalanceDrift failed: %v", err)
	}
	if len(drift) != 1 || drift[0].Kind != core.DiscrepancyBalanceDrift || drift[0].Bucket != core.BucketCash {
		t.Fatalf("expected one cash drift, got %+v", drift)
	}
	if !drift[0].Result.Difference.Equal(decimal.NewFromInt(-5)) {
		t.Errorf("expected difference -5, got %s", drift[0].Result.Difference)
	}
}

func TestLedger_AllowOverpayment(t *testing.T) {
	f := newFixture(t)
	f.reconfigure(func(o *core.Options) { o.AllowOverpayment = true })
	ctx := context.Background()

	inv := f.issuedInvoice(t, f.company, f.client, "500.00")
	if _, err := f.ledger.PayInvoice(ctx, inv.ID, dec("400"), core.MethodBank, nil); err != nil {
		t.Fatalf("PayInvoice failed: %v", err)
	}
	if _, err := f.ledger.PayInvoice(ctx, inv.ID, dec("150"), core.MethodCash, nil); err != nil {
		t.Fatalf("payment above the total should be accepted, got %v", err)
	}

	got, err := f.invoices.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("GetInvoice failed: %v", err)
	}
	if got.Status != core.InvoicePaid || !got.PaidAmount.Equal(dec("550")) {
		t.Errorf("expected PAID with 550 paid, got %s with %s", got.Status, got.PaidAmount)
	}
	if !got.Outstanding().Equal(dec("-50")) {
		t.Errorf("expected outstanding -50, got %s", got.Outstanding())
	}

	// The same payment is refused under the default options.
	f.reconfigure(func(o *core.Options) { o.AllowOverpayment = false })
	strict := f.issuedInvoice(t, f.company, f.client, "500.00")
	if _, err := f.ledger.PayInvoice(ctx, strict.ID, dec("550"), core.MethodBank, nil); err == nil {
		t.Errorf("expected overpayment to be rejected")
	}
}
