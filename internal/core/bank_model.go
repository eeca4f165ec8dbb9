package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// BankTransaction is one imported bank statement line. Amount is signed as
// the bank reports it: negative for outflows.
type BankTransaction struct {
	ID                   int             `json:"id"`
	ExternalID           *string         `json:"external_id,omitempty"`
	Date                 time.Time       `json:"date"`
	Amount               decimal.Decimal `json:"amount"`
	Description          string          `json:"description"`
	IsReconciled         bool            `json:"is_reconciled"`
	MatchedTransactionID *int            `json:"matched_transaction_id,omitempty"`
	MatchedInvoiceID     *int            `json:"matched_invoice_id,omitempty"`
	ReconciliationNote   string          `json:"reconciliation_note"`
	ReconciledAt         *time.Time      `json:"reconciled_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

type BankLineInput struct {
	ExternalID  string
	Date        time.Time
	Amount      decimal.Decimal
	Description string
}

type BankLineFilter struct {
	Reconciled *bool
	From       *time.Time
	To         *time.Time
	Limit      int
}

type CandidateKind string

const (
	CandidateTransaction CandidateKind = "transaction"
	CandidateInvoice     CandidateKind = "invoice"
)

// MatchCandidate is a ledger record that could explain a bank line. Score is
// in [0,1]; higher is better.
type MatchCandidate struct {
	Kind   CandidateKind   `json:"kind"`
	ID     int             `json:"id"`
	Date   time.Time       `json:"date"`
	Amount decimal.Decimal `json:"amount"`
	Label  string          `json:"label"`
	Score  float64         `json:"score"`
	Reason string          `json:"reason"`
}

// ImportResult summarizes ImportBankLines.
type ImportResult struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}
