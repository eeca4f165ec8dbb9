package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"freight-ledger/internal/accounting"
	"freight-ledger/internal/bankfeed"
	"freight-ledger/internal/cache"
	"freight-ledger/internal/core"
	"freight-ledger/internal/logger"
	"freight-ledger/internal/pdf"
	"freight-ledger/internal/storage"
)

// AttachmentStore is where rendered documents go. *storage.S3Store
// satisfies it.
type AttachmentStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
}

// Deps wires the engines into the application service. Pusher, Store and
// Cache are optional.
type Deps struct {
	Options    core.Options
	TaxRate    decimal.Decimal
	Parties    core.PartyService
	Units      core.UnitRegistry
	Invoices   *core.InvoiceEngine
	Ledger     *core.Ledger
	Reconciler *core.Reconciler
	Auditor    *core.Auditor
	Reports    core.ReportingService
	Cache      *cache.Cache
	Pusher     *accounting.Pusher
	Store      AttachmentStore
}

type appService struct {
	Deps
	log zerolog.Logger
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(deps Deps) ApplicationService {
	return &appService{Deps: deps, log: logger.WithComponent("app")}
}

var reportPrefix = cache.Key("report")

// invalidateReports drops cached reports after a write. A failure only
// means stale reports until the TTL expires.
func (s *appService) invalidateReports(ctx context.Context) {
	if err := s.Cache.Invalidate(ctx, reportPrefix); err != nil {
		s.log.Warn().Err(err).Msg("failed to invalidate report cache")
	}
}

// ── Parties ──

func (s *appService) CreateParty(ctx context.Context, req CreatePartyRequest) (*core.Party, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	p, err := s.Parties.CreateParty(ctx, core.PartyKind(req.Kind), strings.TrimSpace(req.Name))
	if err != nil {
		return nil, err
	}
	s.invalidateReports(ctx)
	return p, nil
}

func (s *appService) ListParties(ctx context.Context, kind string) ([]core.Party, error) {
	k, err := parseKind(kind)
	if err != nil {
		return nil, err
	}
	return s.Parties.ListParties(ctx, k)
}

func (s *appService) GetParty(ctx context.Context, ref string) (*core.Party, error) {
	r, err := parseRef("party", ref)
	if err != nil {
		return nil, err
	}
	return s.Parties.GetParty(ctx, r)
}

func (s *appService) ListCategories(ctx context.Context) ([]core.ExpenseCategory, error) {
	return s.Parties.ListCategories(ctx)
}

func parseKind(kind string) (*core.PartyKind, error) {
	if kind == "" {
		return nil, nil
	}
	k := core.PartyKind(strings.ToLower(kind))
	if !k.Valid() {
		return nil, &core.ValidationError{Field: "kind", Message: fmt.Sprintf("unknown party kind %q", kind)}
	}
	return &k, nil
}

// ── Units ──

func (s *appService) CreateCar(ctx context.Context, req CreateCarRequest) (*core.Car, error) {
	car, err := req.toCar()
	if err != nil {
		return nil, err
	}
	return s.Units.CreateCar(ctx, car)
}

func (s *appService) AddCarCharge(ctx context.Context, req AddChargeRequest) (*core.CarCharge, error) {
	charge, err := req.toCharge()
	if err != nil {
		return nil, err
	}
	return s.Units.AddCarCharge(ctx, charge)
}

func (s *appService) DeleteCarCharge(ctx context.Context, chargeID int, reason string) error {
	return s.Units.DeleteCarCharge(ctx, chargeID, reason)
}

func (s *appService) GetUnitCost(ctx context.Context, carID int) (*core.UnitCost, error) {
	return s.Units.GetUnitCost(ctx, carID)
}

// ── Invoices ──

func (s *appService) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*core.Invoice, error) {
	in, err := req.toInput()
	if err != nil {
		return nil, err
	}
	inv, err := s.Invoices.CreateInvoice(ctx, in)
	if err != nil {
		return nil, err
	}
	s.invalidateReports(ctx)
	return inv, nil
}

func (s *appService) GetInvoice(ctx context.Context, invoiceID int) (*core.Invoice, error) {
	return s.Invoices.GetInvoice(ctx, invoiceID)
}

func (s *appService) ListInvoices(ctx context.Context, req InvoiceListRequest) ([]core.Invoice, error) {
	f, err := req.toFilter()
	if err != nil {
		return nil, err
	}
	return s.Invoices.ListInvoices(ctx, f)
}

func (s *appService) FinalizeInvoice(ctx context.Context, invoiceID int) (*core.Invoice, error) {
	inv, err := s.Invoices.FinalizeInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	s.invalidateReports(ctx)
	return inv, nil
}

func (s *appService) CancelInvoice(ctx context.Context, invoiceID int, reason string) (*core.Invoice, error) {
	inv, err := s.Invoices.CancelInvoice(ctx, invoiceID, reason)
	if err != nil {
		return nil, err
	}
	s.invalidateReports(ctx)
	return inv, nil
}

func (s *appService) RegenerateInvoice(ctx context.Context, invoiceID int) (*core.Invoice, error) {
	inv, err := s.Invoices.RegenerateItemsFromSource(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	s.invalidateReports(ctx)
	return inv, nil
}

func (s *appService) MarkOverdue(ctx context.Context) (int, error) {
	n, err := s.Invoices.MarkAllOverdue(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidateReports(ctx)
	}
	return n, nil
}

func (s *appService) SetInvoiceCategory(ctx context.Context, invoiceID int, categoryID *int) (*core.Invoice, error) {
	inv, err := s.Invoices.SetInvoiceCategory(ctx, invoiceID, categoryID)
	if err != nil {
		return nil, err
	}
	s.invalidateReports(ctx)
	return inv, nil
}

func (s *appService) ExportInvoicePDF(ctx context.Context, invoiceID int) (*PDFExportResult, error) {
	if s.Store == nil {
		return nil, errors.New("attachment storage not configured (STORAGE_BUCKET)")
	}
	inv, err := s.Invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	issuer, err := s.Parties.GetParty(ctx, inv.Issuer)
	if err != nil {
		return nil, err
	}
	recipient, err := s.Parties.GetParty(ctx, inv.Recipient)
	if err != nil {
		return nil, err
	}

	doc, err := pdf.RenderInvoice(*inv, *issuer, *recipient, s.TaxRate)
	if err != nil {
		return nil, err
	}
	key := storage.InvoiceKey(inv.Number, "pdf")
	if err := s.Store.Put(ctx, key, "application/pdf", doc); err != nil {
		return nil, err
	}
	if _, err := s.Invoices.SetInvoiceAttachment(ctx, invoiceID, key); err != nil {
		return nil, err
	}
	return &PDFExportResult{InvoiceID: invoiceID, Key: key, Size: len(doc)}, nil
}

func (s *appService) RetryPendingSync(ctx context.Context) (*SyncResult, error) {
	if s.Pusher == nil {
		return nil, errors.New("accounting sync not configured (ACCOUNTING_BASE_URL)")
	}
	n, err := s.Pusher.RetryPending(ctx)
	if err != nil {
		return nil, err
	}
	return &SyncResult{Synced: n}, nil
}

// ── Transactions ──

func (s *appService) ApplyTransaction(ctx context.Context, req ApplyTransactionRequest) (*core.Transaction, error) {
	in, err := req.toInput()
	if err != nil {
		return nil, err
	}
	t, err := s.Ledger.ApplyTransaction(ctx, in)
	if err != nil {
		return nil, err
	}
	s.invalidateReports(ctx)
	return t, nil
}

func (s *appService) PayInvoice(ctx context.Context, req PayInvoiceRequest) (*core.Transaction, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	t, err := s.Ledger.PayInvoice(ctx, req.InvoiceID, req.Amount, core.PaymentMethod(req.Method), req.BankTransactionID)
	if err != nil {
		return nil, err
	}
	s.invalidateReports(ctx)
	return t, nil
}

func (s *appService) SetTransactionStatus(ctx context.Context, transactionID int, status string) (*core.Transaction, error) {
	t, err := s.Ledger.SetTransactionStatus(ctx, transactionID, core.TransactionStatus(strings.ToUpper(status)))
	if err != nil {
		return nil, err
	}
	s.invalidateReports(ctx)
	return t, nil
}

func (s *appService) ListTransactions(ctx context.Context, party string, invoiceID *int, limit int) ([]core.Transaction, error) {
	ref, err := parseOptionalRef("party", party)
	if err != nil {
		return nil, err
	}
	return s.Ledger.ListTransactions(ctx, core.TransactionFilter{Party: ref, InvoiceID: invoiceID, Limit: limit})
}

// ── Reconciliation ──

func (s *appService) ImportStatement(ctx context.Context, path string) (*StatementImportResult, error) {
	lines, err := bankfeed.ReadXLSX(path)
	if err != nil {
		return nil, err
	}
	res, err := s.Reconciler.ImportBankLines(ctx, lines)
	if err != nil {
		return nil, err
	}
	return &StatementImportResult{Path: path, Read: len(lines), Inserted: res.Inserted, Skipped: res.Skipped}, nil
}

func (s *appService) ListBankLines(ctx context.Context, reconciled *bool, limit int) ([]core.BankTransaction, error) {
	return s.Reconciler.ListBankLines(ctx, core.BankLineFilter{Reconciled: reconciled, Limit: limit})
}

func (s *appService) SuggestMatches(ctx context.Context, bankTransactionID int) ([]core.MatchCandidate, error) {
	return s.Reconciler.SuggestMatches(ctx, bankTransactionID)
}

func (s *appService) MatchBankLine(ctx context.Context, req MatchRequest) (*core.BankTransaction, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	return s.Reconciler.MatchBankLine(ctx, req.BankTransactionID, req.TransactionID, req.InvoiceID, req.Note)
}

func (s *appService) UnmatchBankLine(ctx context.Context, bankTransactionID int, note string) (*core.BankTransaction, error) {
	return s.Reconciler.UnmatchBankLine(ctx, bankTransactionID, note)
}

// ── Audit ──

func (s *appService) CompareUnit(ctx context.Context, carID int) (*core.ComparisonResult, error) {
	return s.Auditor.CompareUnitCostsToInvoices(ctx, carID)
}

func (s *appService) CompareClient(ctx context.Context, clientID int, rng RangeRequest) (*core.ComparisonResult, error) {
	from, to, err := rng.parse()
	if err != nil {
		return nil, err
	}
	return s.Auditor.CompareClient(ctx, clientID, from, to)
}

func (s *appService) CompareCounterparty(ctx context.Context, ref string, rng RangeRequest) (*core.ComparisonResult, error) {
	r, err := parseRef("party", ref)
	if err != nil {
		return nil, err
	}
	from, to, err := rng.parse()
	if err != nil {
		return nil, err
	}
	return s.Auditor.CompareCounterparty(ctx, r, from, to)
}

func (s *appService) RunAudit(ctx context.Context, rng RangeRequest) (*AuditResult, error) {
	from, to, err := rng.parse()
	if err != nil {
		return nil, err
	}
	found, err := s.Auditor.FindDiscrepancies(ctx, from, to)
	if err != nil {
		return nil, err
	}
	drift, err := s.Auditor.FindBalanceDrift(ctx)
	if err != nil {
		return nil, err
	}
	return &AuditResult{From: from, To: to, Discrepancies: found, Drift: drift}, nil
}

// ── Reports ──

func (s *appService) PartyBalances(ctx context.Context, kind string) ([]core.Party, error) {
	k, err := parseKind(kind)
	if err != nil {
		return nil, err
	}
	key := cache.Key("report", "balances", kind)
	return cache.Fetch(ctx, s.Cache, key, func(ctx context.Context) ([]core.Party, error) {
		return s.Reports.PartyBalances(ctx, k)
	})
}

func (s *appService) PartyStatement(ctx context.Context, ref string, rng RangeRequest) ([]core.StatementLine, error) {
	r, err := parseRef("party", ref)
	if err != nil {
		return nil, err
	}
	from, to, err := rng.parse()
	if err != nil {
		return nil, err
	}
	key := cache.Key("report", "statement", r.String(), rng.From, rng.To)
	return cache.Fetch(ctx, s.Cache, key, func(ctx context.Context) ([]core.StatementLine, error) {
		return s.Reports.PartyStatement(ctx, r, from, to)
	})
}

func parseGroup(group string) (core.SummaryGroup, error) {
	g := core.SummaryGroup(strings.ToLower(group))
	switch g {
	case core.GroupByStatus, core.GroupByMonth, core.GroupByCategory:
		return g, nil
	}
	return "", &core.ValidationError{Field: "group", Message: fmt.Sprintf("unknown grouping %q", group)}
}

func (s *appService) InvoiceSummary(ctx context.Context, group string, rng RangeRequest) ([]core.SummaryRow, error) {
	g, err := parseGroup(group)
	if err != nil {
		return nil, err
	}
	from, to, err := rng.parse()
	if err != nil {
		return nil, err
	}
	key := cache.Key("report", "invoice_summary", string(g), rng.From, rng.To)
	return cache.Fetch(ctx, s.Cache, key, func(ctx context.Context) ([]core.SummaryRow, error) {
		return s.Reports.InvoiceSummary(ctx, g, from, to)
	})
}

func (s *appService) TransactionSummary(ctx context.Context, group string, rng RangeRequest) ([]core.SummaryRow, error) {
	g, err := parseGroup(group)
	if err != nil {
		return nil, err
	}
	from, to, err := rng.parse()
	if err != nil {
		return nil, err
	}
	key := cache.Key("report", "transaction_summary", string(g), rng.From, rng.To)
	return cache.Fetch(ctx, s.Cache, key, func(ctx context.Context) ([]core.SummaryRow, error) {
		return s.Reports.TransactionSummary(ctx, g, from, to)
	})
}

func (s *appService) ReceivablesAging(ctx context.Context, asOf string) ([]core.AgingRow, error) {
	date := time.Now().UTC()
	if asOf != "" {
		d, err := parseDate("as_of", asOf)
		if err != nil {
			return nil, err
		}
		date = d
	}
	key := cache.Key("report", "aging", date.Format("2006-01-02"))
	return cache.Fetch(ctx, s.Cache, key, func(ctx context.Context) ([]core.AgingRow, error) {
		return s.Reports.ReceivablesAging(ctx, date)
	})
}
