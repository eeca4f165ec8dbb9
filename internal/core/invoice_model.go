package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceDraft         InvoiceStatus = "DRAFT"
	InvoiceIssued        InvoiceStatus = "ISSUED"
	InvoicePartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoicePaid          InvoiceStatus = "PAID"
	InvoiceOverdue       InvoiceStatus = "OVERDUE"
	InvoiceCancelled     InvoiceStatus = "CANCELLED"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case InvoiceDraft, InvoiceIssued, InvoicePartiallyPaid, InvoicePaid, InvoiceOverdue, InvoiceCancelled:
		return true
	}
	return false
}

// Direction is derived from which side the operating company sits on.
type Direction string

const (
	DirectionOutgoing Direction = "OUTGOING"
	DirectionIncoming Direction = "INCOMING"
	DirectionInternal Direction = "INTERNAL"
)

type Invoice struct {
	ID             int             `json:"id"`
	Number         string          `json:"number"`
	Date           time.Time       `json:"date"`
	DueDate        time.Time       `json:"due_date"`
	Issuer         PartyRef        `json:"issuer"`
	Recipient      PartyRef        `json:"recipient"`
	Status         InvoiceStatus   `json:"status"`
	Total          decimal.Decimal `json:"total"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	CategoryID     *int            `json:"category_id,omitempty"`
	ExternalRef    *string         `json:"external_ref,omitempty"`
	AttachmentKey  *string         `json:"attachment_key,omitempty"`
	ExternalSyncID *string         `json:"external_sync_id,omitempty"`
	SyncWarning    *string         `json:"sync_warning,omitempty"`
	Notes          string          `json:"notes"`
	CreatedAt      time.Time       `json:"created_at"`
	IssuedAt       *time.Time      `json:"issued_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	Items          []InvoiceItem   `json:"items"`
	UnitIDs        []int           `json:"unit_ids"`
}

// Outstanding is what is still owed; negative when overpaid.
func (inv Invoice) Outstanding() decimal.Decimal {
	return inv.Total.Sub(inv.PaidAmount)
}

type InvoiceItem struct {
	ID          int             `json:"id"`
	InvoiceID   int             `json:"invoice_id"`
	LineNumber  int             `json:"line_number"`
	CarID       *int            `json:"car_id,omitempty"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// ItemInput is a line as supplied by a caller; the subtotal is always computed.
type ItemInput struct {
	CarID       *int            `json:"car_id,omitempty"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (it ItemInput) Subtotal() decimal.Decimal {
	return it.Quantity.Mul(it.UnitPrice).Round(2)
}

type CreateInvoiceInput struct {
	Number      string
	Date        time.Time
	DueDate     *time.Time
	Issuer      PartyRef
	Recipient   PartyRef
	Items       []ItemInput
	UnitIDs     []int
	CategoryID  *int
	ExternalRef *string
	Notes       string
}

type InvoiceFilter struct {
	Status      *InvoiceStatus
	Party       *PartyRef
	From        *time.Time
	To          *time.Time
	PendingSync bool
	Limit       int
}
