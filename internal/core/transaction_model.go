package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TxPayment      TransactionType = "PAYMENT"
	TxRefund       TransactionType = "REFUND"
	TxAdjustment   TransactionType = "ADJUSTMENT"
	TxBalanceTopup TransactionType = "BALANCE_TOPUP"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TxPayment, TxRefund, TxAdjustment, TxBalanceTopup:
		return true
	}
	return false
}

type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodCard     PaymentMethod = "card"
	MethodBank     PaymentMethod = "bank"
	MethodInvoice  PaymentMethod = "invoice"
	MethodTransfer PaymentMethod = "transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodBank, MethodInvoice, MethodTransfer:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxCompleted TransactionStatus = "COMPLETED"
	TxFailed    TransactionStatus = "FAILED"
	TxCancelled TransactionStatus = "CANCELLED"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case TxPending, TxCompleted, TxFailed, TxCancelled:
		return true
	}
	return false
}

// Transaction is a money movement between up to two parties. Only COMPLETED
// transactions affect balances and invoice paid amounts.
type Transaction struct {
	ID            int               `json:"id"`
	Date          time.Time         `json:"date"`
	Amount        decimal.Decimal   `json:"amount"`
	Type          TransactionType   `json:"type"`
	Method        PaymentMethod     `json:"method"`
	Status        TransactionStatus `json:"status"`
	From          *PartyRef         `json:"from,omitempty"`
	To            *PartyRef         `json:"to,omitempty"`
	InvoiceID     *int              `json:"invoice_id,omitempty"`
	CategoryID    *int              `json:"category_id,omitempty"`
	AttachmentKey *string           `json:"attachment_key,omitempty"`
	Notes         string            `json:"notes"`
	CreatedAt     time.Time         `json:"created_at"`
}

type ApplyTransactionInput struct {
	Date       time.Time
	Amount     decimal.Decimal
	Type       TransactionType
	Method     PaymentMethod
	Status     TransactionStatus
	From       *PartyRef
	To         *PartyRef
	InvoiceID  *int
	CategoryID *int
	Notes      string
}

type TransactionFilter struct {
	Status    *TransactionStatus
	Party     *PartyRef
	InvoiceID *int
	From      *time.Time
	To        *time.Time
	Limit     int
}

// BalanceBucket is one of the three running balances on a party.
type BalanceBucket string

const (
	BucketInvoice BalanceBucket = "invoice"
	BucketCash    BalanceBucket = "cash"
	BucketCard    BalanceBucket = "card"
)

// Balances is an in-memory copy of a party's three buckets.
type Balances struct {
	Invoice decimal.Decimal `json:"invoice"`
	Cash    decimal.Decimal `json:"cash"`
	Card    decimal.Decimal `json:"card"`
}

// BalanceDelta is a signed change to one bucket of one party.
type BalanceDelta struct {
	Party  PartyRef
	Bucket BalanceBucket
	Amount decimal.Decimal
}
