package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrNotFound is wrapped by lookups that find no row.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed or contradictory input. Nothing is
// persisted when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// OverpaymentError is returned when a payment would push paid_amount above
// the invoice total and overpayment is not allowed.
type OverpaymentError struct {
	InvoiceID int
	Total     decimal.Decimal
	Paid      decimal.Decimal
	Amount    decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("invoice %d overpayment: paid %s + %s exceeds total %s",
		e.InvoiceID, e.Paid.StringFixed(2), e.Amount.StringFixed(2), e.Total.StringFixed(2))
}

// AlreadyReconciledError is returned when a bank line already points to a
// different transaction or invoice.
type AlreadyReconciledError struct {
	BankTransactionID int
	Kind              CandidateKind
	ExistingID        int
	RequestedID       int
}

func (e *AlreadyReconciledError) Error() string {
	return fmt.Sprintf("bank transaction %d is already reconciled to %s %d (requested %d)",
		e.BankTransactionID, e.Kind, e.ExistingID, e.RequestedID)
}

// ConcurrencyError is returned when an atomic unit kept failing with
// serialization conflicts or deadlocks after all retries.
type ConcurrencyError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ConcurrencyError) Unwrap() error {
	return e.Err
}

// errorClass maps an error to the result label used in metrics.
func errorClass(err error) string {
	var ve *ValidationError
	var oe *OverpaymentError
	var ae *AlreadyReconciledError
	var ce *ConcurrencyError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &oe), errors.As(err, &ae):
		return "business_rule"
	case errors.As(err, &ce):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}
	return "error"
}
