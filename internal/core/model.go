package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PartyKind string

const (
	PartyCompany   PartyKind = "company"
	PartyClient    PartyKind = "client"
	PartyWarehouse PartyKind = "warehouse"
	PartyLine      PartyKind = "line"
	PartyCarrier   PartyKind = "carrier"
)

// CounterpartKinds are the service providers audited against their own invoices.
var CounterpartKinds = []PartyKind{PartyWarehouse, PartyLine, PartyCarrier}

func (k PartyKind) Valid() bool {
	switch k {
	case PartyCompany, PartyClient, PartyWarehouse, PartyLine, PartyCarrier:
		return true
	}
	return false
}

// PartyRef identifies one party of any kind. It replaces a set of nullable
// per-kind foreign keys: a transaction side or invoice side is exactly one ref.
type PartyRef struct {
	Kind PartyKind `json:"kind"`
	ID   int       `json:"id"`
}

func (r PartyRef) IsZero() bool {
	return r.Kind == "" && r.ID == 0
}

func (r PartyRef) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// ParsePartyRef parses the "kind:id" form used on the command line.
func ParsePartyRef(s string) (PartyRef, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return PartyRef{}, fmt.Errorf("party reference %q must look like kind:id", s)
	}
	n, err := strconv.Atoi(id)
	if err != nil || n <= 0 {
		return PartyRef{}, fmt.Errorf("party reference %q has invalid id", s)
	}
	ref := PartyRef{Kind: PartyKind(strings.ToLower(kind)), ID: n}
	if !ref.Kind.Valid() {
		return PartyRef{}, fmt.Errorf("party reference %q has unknown kind", s)
	}
	return ref, nil
}

// Party is any entity that can owe or be owed money. Balances are only ever
// changed by the transaction engine.
type Party struct {
	ID             int             `json:"id"`
	Kind           PartyKind       `json:"kind"`
	Name           string          `json:"name"`
	InvoiceBalance decimal.Decimal `json:"invoice_balance"`
	CashBalance    decimal.Decimal `json:"cash_balance"`
	CardBalance    decimal.Decimal `json:"card_balance"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (p Party) Ref() PartyRef {
	return PartyRef{Kind: p.Kind, ID: p.ID}
}

func (p Party) Balances() Balances {
	return Balances{Invoice: p.InvoiceBalance, Cash: p.CashBalance, Card: p.CardBalance}
}

type CategoryType string

const (
	CategoryOperational    CategoryType = "OPERATIONAL"
	CategoryAdministrative CategoryType = "ADMINISTRATIVE"
	CategorySalary         CategoryType = "SALARY"
	CategoryLogistics      CategoryType = "LOGISTICS"
	CategoryOther          CategoryType = "OTHER"
)

// ExpenseCategory is a flat lookup used to classify invoices and transactions.
type ExpenseCategory struct {
	ID           int          `json:"id"`
	Name         string       `json:"name"`
	Type         CategoryType `json:"type"`
	DisplayOrder int          `json:"display_order"`
}

// Options carries the configuration the engines need. It is built once at
// start-up from config.Config.
type Options struct {
	OperatingCompanyID   int
	DefaultDueDays       int
	AllowOverpayment     bool
	MaxRetries           int
	Tolerance            decimal.Decimal
	MatchDateWindowDays  int
	MatchAmountTolerance decimal.Decimal
	MaxCandidates        int
}

func DefaultOptions() Options {
	return Options{
		DefaultDueDays:       14,
		MaxRetries:           3,
		Tolerance:            decimal.RequireFromString("0.01"),
		MatchDateWindowDays:  7,
		MatchAmountTolerance: decimal.RequireFromString("0.01"),
		MaxCandidates:        10,
	}
}

// dateOnly drops the clock part so date comparisons match DATE columns.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
