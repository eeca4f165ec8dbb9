package app

import (
	"github.com/shopspring/decimal"
)

// Dates are YYYY-MM-DD strings and parties are "kind:id" references, as
// typed by operators. Both are parsed after struct validation.

type CreatePartyRequest struct {
	Kind string `validate:"required,oneof=company client warehouse line carrier"`
	Name string `validate:"required,max=200"`
}

type CreateCarRequest struct {
	VIN           string `validate:"required,max=32"`
	ClientID      int    `validate:"required,gt=0"`
	WarehouseID   *int   `validate:"omitempty,gt=0"`
	ArrivalDate   string `validate:"required,datetime=2006-01-02"`
	DepartureDate string `validate:"omitempty,datetime=2006-01-02"`
	FreeDays      int    `validate:"gte=0"`
	DailyRate     decimal.Decimal
}

type AddChargeRequest struct {
	CarID    int    `validate:"required,gt=0"`
	Provider string `validate:"required"`
	Name     string `validate:"required,max=200"`
	Amount   decimal.Decimal
}

type ItemRequest struct {
	CarID       *int   `validate:"omitempty,gt=0"`
	Description string `validate:"required"`
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

// CreateInvoiceRequest carries either explicit Items or UnitIDs to generate
// lines from. Number is optional; the next sequence number is used otherwise.
type CreateInvoiceRequest struct {
	Number      string
	Date        string `validate:"required,datetime=2006-01-02"`
	DueDate     string `validate:"omitempty,datetime=2006-01-02"`
	Issuer      string `validate:"required"`
	Recipient   string `validate:"required"`
	Items       []ItemRequest `validate:"dive"`
	UnitIDs     []int         `validate:"dive,gt=0"`
	CategoryID  *int          `validate:"omitempty,gt=0"`
	ExternalRef string
	Notes       string
}

type InvoiceListRequest struct {
	Status      string `validate:"omitempty,oneof=DRAFT ISSUED PARTIALLY_PAID PAID OVERDUE CANCELLED"`
	Party       string
	From        string `validate:"omitempty,datetime=2006-01-02"`
	To          string `validate:"omitempty,datetime=2006-01-02"`
	PendingSync bool
	Limit       int `validate:"gte=0"`
}

type PayInvoiceRequest struct {
	InvoiceID         int    `validate:"required,gt=0"`
	Amount            decimal.Decimal
	Method            string `validate:"required,oneof=cash card bank invoice transfer"`
	BankTransactionID *int   `validate:"omitempty,gt=0"`
}

type ApplyTransactionRequest struct {
	Date       string `validate:"omitempty,datetime=2006-01-02"`
	Amount     decimal.Decimal
	Type       string `validate:"required,oneof=PAYMENT REFUND ADJUSTMENT BALANCE_TOPUP"`
	Method     string `validate:"required,oneof=cash card bank invoice transfer"`
	Status     string `validate:"omitempty,oneof=PENDING COMPLETED FAILED CANCELLED"`
	From       string
	To         string
	InvoiceID  *int `validate:"omitempty,gt=0"`
	CategoryID *int `validate:"omitempty,gt=0"`
	Notes      string
}

type MatchRequest struct {
	BankTransactionID int  `validate:"required,gt=0"`
	TransactionID     *int `validate:"omitempty,gt=0"`
	InvoiceID         *int `validate:"omitempty,gt=0"`
	Note              string
}

// RangeRequest bounds audits and summaries; both ends are inclusive.
type RangeRequest struct {
	From string `validate:"required,datetime=2006-01-02"`
	To   string `validate:"required,datetime=2006-01-02"`
}
