package core

import (
	"github.com/shopspring/decimal"
)

type ComparisonStatus string

const (
	ComparisonMatch             ComparisonStatus = "match"
	ComparisonNoData            ComparisonStatus = "no_data"
	ComparisonUnitHigher        ComparisonStatus = "unit_higher"
	ComparisonCounterpartHigher ComparisonStatus = "counterpart_higher"
	ComparisonInvoicesHigher    ComparisonStatus = "invoices_higher"
	ComparisonPaymentsHigher    ComparisonStatus = "payments_higher"
)

// ComparisonResult compares an expected amount (unit cost, invoiced total)
// with what the other side shows. Difference is Expected - Actual.
type ComparisonResult struct {
	Subject    string           `json:"subject"`
	Expected   decimal.Decimal  `json:"expected"`
	Actual     decimal.Decimal  `json:"actual"`
	Difference decimal.Decimal  `json:"difference"`
	Status     ComparisonStatus `json:"status"`
}

func (r ComparisonResult) IsDiscrepancy() bool {
	return r.Status != ComparisonMatch && r.Status != ComparisonNoData
}

// Classify compares expected against actual. Both sides zero is no_data;
// a difference within tolerance is a match; otherwise the larger side names
// the status.
func Classify(subject string, expected, actual, tolerance decimal.Decimal, expectedHigher, actualHigher ComparisonStatus) ComparisonResult {
	res := ComparisonResult{
		Subject:    subject,
		Expected:   expected,
		Actual:     actual,
		Difference: expected.Sub(actual),
	}
	switch {
	case expected.IsZero() && actual.IsZero():
		res.Status = ComparisonNoData
	case res.Difference.Abs().LessThanOrEqual(tolerance):
		res.Status = ComparisonMatch
	case res.Difference.IsPositive():
		res.Status = expectedHigher
	default:
		res.Status = actualHigher
	}
	return res
}

type DiscrepancyKind string

const (
	DiscrepancyUnit         DiscrepancyKind = "unit_comparison"
	DiscrepancyClient       DiscrepancyKind = "client_comparison"
	DiscrepancyCounterparty DiscrepancyKind = "counterparty_comparison"
	DiscrepancyBalanceDrift DiscrepancyKind = "balance_drift"
)

// Discrepancy is one finding of an audit run.
type Discrepancy struct {
	Kind        DiscrepancyKind  `json:"kind"`
	Party       *PartyRef        `json:"party,omitempty"`
	UnitID      *int             `json:"unit_id,omitempty"`
	Bucket      BalanceBucket    `json:"bucket,omitempty"`
	Result      ComparisonResult `json:"result"`
	Description string           `json:"description"`
}
