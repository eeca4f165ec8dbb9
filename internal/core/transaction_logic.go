package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// BucketForMethod maps a payment method to the balance it moves. Bank,
// invoice and transfer settlements all run through the invoice balance.
func BucketForMethod(m PaymentMethod) BalanceBucket {
	switch m {
	case MethodCash:
		return BucketCash
	case MethodCard:
		return BucketCard
	}
	return BucketInvoice
}

func (b BalanceBucket) column() string {
	switch b {
	case BucketCash:
		return "cash_balance"
	case BucketCard:
		return "card_balance"
	}
	return "invoice_balance"
}

// BalanceEffect returns the bucket changes caused by a completed transaction:
// the payer is debited and the payee credited. reverse yields the exact
// inverse so that completing and un-completing leaves balances unchanged.
func BalanceEffect(t Transaction, reverse bool) []BalanceDelta {
	bucket := BucketForMethod(t.Method)
	amount := t.Amount
	if reverse {
		amount = amount.Neg()
	}
	var deltas []BalanceDelta
	if t.From != nil {
		deltas = append(deltas, BalanceDelta{Party: *t.From, Bucket: bucket, Amount: amount.Neg()})
	}
	if t.To != nil {
		deltas = append(deltas, BalanceDelta{Party: *t.To, Bucket: bucket, Amount: amount})
	}
	return deltas
}

// InvoicePaidDelta is the change a completed transaction makes to its linked
// invoice's paid amount. Adjustments and top-ups do not count as payment.
func InvoicePaidDelta(t Transaction, reverse bool) decimal.Decimal {
	var d decimal.Decimal
	switch t.Type {
	case TxPayment:
		d = t.Amount
	case TxRefund:
		d = t.Amount.Neg()
	default:
		return decimal.Zero
	}
	if reverse {
		return d.Neg()
	}
	return d
}

func (b Balances) Apply(d BalanceDelta) Balances {
	switch d.Bucket {
	case BucketCash:
		b.Cash = b.Cash.Add(d.Amount)
	case BucketCard:
		b.Card = b.Card.Add(d.Amount)
	default:
		b.Invoice = b.Invoice.Add(d.Amount)
	}
	return b
}

func (b Balances) Equal(o Balances) bool {
	return b.Invoice.Equal(o.Invoice) && b.Cash.Equal(o.Cash) && b.Card.Equal(o.Card)
}

// ValidateStatusTransition enforces the transaction lifecycle. CANCELLED is
// terminal; a COMPLETED transaction cannot be completed twice.
func ValidateStatusTransition(from, to TransactionStatus) error {
	if !to.Valid() {
		return invalid("status", "unknown transaction status %q", to)
	}
	if from == to {
		return nil
	}
	if from == TxCancelled {
		return invalid("status", "cancelled transactions cannot change status")
	}
	return nil
}

// Normalize validates an apply request and fills defaults: today's date and
// COMPLETED status.
func (in *ApplyTransactionInput) Normalize(now time.Time) error {
	if in.From == nil && in.To == nil {
		return invalid("from", "at least one of from or to is required")
	}
	if in.From != nil && (!in.From.Kind.Valid() || in.From.ID <= 0) {
		return invalid("from", "invalid party reference %s", *in.From)
	}
	if in.To != nil && (!in.To.Kind.Valid() || in.To.ID <= 0) {
		return invalid("to", "invalid party reference %s", *in.To)
	}
	if in.From != nil && in.To != nil && *in.From == *in.To {
		return invalid("to", "from and to must differ")
	}
	if !in.Amount.IsPositive() {
		return invalid("amount", "must be positive")
	}
	if in.Amount.Exponent() < -2 && !in.Amount.Equal(in.Amount.Round(2)) {
		return invalid("amount", "has more than two decimal places")
	}
	if !in.Type.Valid() {
		return invalid("type", "unknown transaction type %q", in.Type)
	}
	if !in.Method.Valid() {
		return invalid("method", "unknown payment method %q", in.Method)
	}
	if in.Status == "" {
		in.Status = TxCompleted
	}
	if !in.Status.Valid() {
		return invalid("status", "unknown transaction status %q", in.Status)
	}
	if in.Date.IsZero() {
		in.Date = now
	}
	in.Date = dateOnly(in.Date)
	if in.InvoiceID != nil && *in.InvoiceID <= 0 {
		return invalid("invoice_id", "invalid invoice id %d", *in.InvoiceID)
	}
	return nil
}
