package app

import (
	"time"

	"freight-ledger/internal/core"
)

// StatementImportResult is returned by ImportStatement.
type StatementImportResult struct {
	Path     string
	Read     int
	Inserted int
	Skipped  int
}

// PDFExportResult is returned by ExportInvoicePDF.
type PDFExportResult struct {
	InvoiceID int
	Key       string
	Size      int
}

// AuditResult is returned by RunAudit.
type AuditResult struct {
	From          time.Time
	To            time.Time
	Discrepancies []core.Discrepancy
	Drift         []core.Discrepancy
}

// Clean reports whether the audit found nothing.
func (r AuditResult) Clean() bool {
	return len(r.Discrepancies) == 0 && len(r.Drift) == 0
}

// SyncResult is returned by RetryPendingSync.
type SyncResult struct {
	Synced int
}
