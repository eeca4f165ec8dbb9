package app

import (
	"context"

	"freight-ledger/internal/core"
)

// ApplicationService is the single interface all adapters (CLI today) call.
// It decouples presentation from the ledger core. Implementations must
// contain no fmt.Println and no display logic of any kind.
type ApplicationService interface {
	// ── Parties ──

	CreateParty(ctx context.Context, req CreatePartyRequest) (*core.Party, error)

	// ListParties returns every party, or only those of kind when non-empty.
	ListParties(ctx context.Context, kind string) ([]core.Party, error)

	// GetParty resolves a "kind:id" reference.
	GetParty(ctx context.Context, ref string) (*core.Party, error)

	ListCategories(ctx context.Context) ([]core.ExpenseCategory, error)

	// ── Units ──

	CreateCar(ctx context.Context, req CreateCarRequest) (*core.Car, error)
	AddCarCharge(ctx context.Context, req AddChargeRequest) (*core.CarCharge, error)
	DeleteCarCharge(ctx context.Context, chargeID int, reason string) error
	GetUnitCost(ctx context.Context, carID int) (*core.UnitCost, error)

	// ── Invoices ──

	// CreateInvoice creates a DRAFT invoice from explicit items or from units.
	CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*core.Invoice, error)
	GetInvoice(ctx context.Context, invoiceID int) (*core.Invoice, error)
	ListInvoices(ctx context.Context, req InvoiceListRequest) ([]core.Invoice, error)

	// FinalizeInvoice issues a DRAFT invoice and pushes it to accounting
	// when a pusher is configured.
	FinalizeInvoice(ctx context.Context, invoiceID int) (*core.Invoice, error)
	CancelInvoice(ctx context.Context, invoiceID int, reason string) (*core.Invoice, error)
	RegenerateInvoice(ctx context.Context, invoiceID int) (*core.Invoice, error)

	// MarkOverdue flags every past-due open invoice and returns the count.
	MarkOverdue(ctx context.Context) (int, error)
	SetInvoiceCategory(ctx context.Context, invoiceID int, categoryID *int) (*core.Invoice, error)

	// ExportInvoicePDF renders the invoice, uploads it to attachment storage
	// and stores the object key on the invoice.
	ExportInvoicePDF(ctx context.Context, invoiceID int) (*PDFExportResult, error)

	// RetryPendingSync re-pushes finalized invoices without an external id.
	RetryPendingSync(ctx context.Context) (*SyncResult, error)

	// ── Transactions ──

	ApplyTransaction(ctx context.Context, req ApplyTransactionRequest) (*core.Transaction, error)
	PayInvoice(ctx context.Context, req PayInvoiceRequest) (*core.Transaction, error)
	SetTransactionStatus(ctx context.Context, transactionID int, status string) (*core.Transaction, error)
	ListTransactions(ctx context.Context, party string, invoiceID *int, limit int) ([]core.Transaction, error)

	// ── Reconciliation ──

	// ImportStatement reads an XLSX bank export and stores new lines.
	ImportStatement(ctx context.Context, path string) (*StatementImportResult, error)
	ListBankLines(ctx context.Context, reconciled *bool, limit int) ([]core.BankTransaction, error)
	SuggestMatches(ctx context.Context, bankTransactionID int) ([]core.MatchCandidate, error)
	MatchBankLine(ctx context.Context, req MatchRequest) (*core.BankTransaction, error)
	UnmatchBankLine(ctx context.Context, bankTransactionID int, note string) (*core.BankTransaction, error)

	// ── Audit ──

	CompareUnit(ctx context.Context, carID int) (*core.ComparisonResult, error)
	CompareClient(ctx context.Context, clientID int, rng RangeRequest) (*core.ComparisonResult, error)
	CompareCounterparty(ctx context.Context, ref string, rng RangeRequest) (*core.ComparisonResult, error)

	// RunAudit runs the discrepancy scan over the range plus the balance
	// drift check.
	RunAudit(ctx context.Context, rng RangeRequest) (*AuditResult, error)

	// ── Reports (cached) ──

	PartyBalances(ctx context.Context, kind string) ([]core.Party, error)
	PartyStatement(ctx context.Context, ref string, rng RangeRequest) ([]core.StatementLine, error)
	InvoiceSummary(ctx context.Context, group string, rng RangeRequest) ([]core.SummaryRow, error)
	TransactionSummary(ctx context.Context, group string, rng RangeRequest) ([]core.SummaryRow, error)
	ReceivablesAging(ctx context.Context, asOf string) ([]core.AgingRow, error)
}
