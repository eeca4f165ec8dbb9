package core

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Normalize validates a create request and fills the default due date. It
// touches nothing outside the struct.
func (in *CreateInvoiceInput) Normalize(defaultDueDays int) error {
	if !in.Issuer.Kind.Valid() || in.Issuer.ID <= 0 {
		return invalid("issuer", "invalid party reference %s", in.Issuer)
	}
	if !in.Recipient.Kind.Valid() || in.Recipient.ID <= 0 {
		return invalid("recipient", "invalid party reference %s", in.Recipient)
	}
	if in.Issuer == in.Recipient {
		return invalid("recipient", "issuer and recipient must differ")
	}
	if in.Date.IsZero() {
		return invalid("date", "is required")
	}
	in.Date = dateOnly(in.Date)
	if in.DueDate == nil {
		due := in.Date.AddDate(0, 0, defaultDueDays)
		in.DueDate = &due
	} else {
		due := dateOnly(*in.DueDate)
		if due.Before(in.Date) {
			return invalid("due_date", "must not be before invoice date")
		}
		in.DueDate = &due
	}
	in.Number = strings.TrimSpace(in.Number)
	for i, it := range in.Items {
		if err := validateItem(i, it); err != nil {
			return err
		}
	}
	seen := make(map[int]bool, len(in.UnitIDs))
	for _, id := range in.UnitIDs {
		if id <= 0 {
			return invalid("unit_ids", "invalid unit id %d", id)
		}
		if seen[id] {
			return invalid("unit_ids", "unit %d listed twice", id)
		}
		seen[id] = true
	}
	return nil
}

func validateItem(i int, it ItemInput) error {
	field := fmt.Sprintf("items[%d]", i)
	if strings.TrimSpace(it.Description) == "" {
		return invalid(field, "description is required")
	}
	if !it.Quantity.IsPositive() {
		return invalid(field, "quantity must be positive")
	}
	if it.UnitPrice.IsNegative() {
		return invalid(field, "unit price must not be negative")
	}
	return nil
}

// ItemsTotal is the invoice total: the sum of the rounded subtotals.
func ItemsTotal(items []ItemInput) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// BuildItemsFromUnits derives invoice lines from priced units. Per unit it
// emits one combined line for the provider charges visible to the issuer and
// one storage line. The operating company sees every charge and all storage;
// any other issuer only sees its own charges, and storage only if it is the
// unit's warehouse. Zero lines are skipped. Output order is deterministic.
func BuildItemsFromUnits(issuer PartyRef, operatingCompanyID int, units []UnitCost) []ItemInput {
	isOperator := issuer.Kind == PartyCompany && issuer.ID == operatingCompanyID

	sorted := make([]UnitCost, len(units))
	copy(sorted, units)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UnitID < sorted[j].UnitID })

	var items []ItemInput
	for _, u := range sorted {
		carID := u.UnitID

		charges := make([]CarCharge, 0, len(u.Charges))
		for _, c := range u.Charges {
			if isOperator || c.Provider == issuer {
				charges = append(charges, c)
			}
		}
		sort.Slice(charges, func(i, j int) bool { return charges[i].ID < charges[j].ID })

		if len(charges) > 0 {
			names := make([]string, len(charges))
			sum := decimal.Zero
			for i, c := range charges {
				names[i] = c.Name
				sum = sum.Add(c.Amount)
			}
			if !sum.IsZero() {
				items = append(items, ItemInput{
					CarID:       &carID,
					Description: fmt.Sprintf("%s: %s", u.VIN, strings.Join(names, " + ")),
					Quantity:    decimal.NewFromInt(1),
					UnitPrice:   sum,
				})
			}
		}

		ownsStorage := isOperator || (u.Warehouse != nil && *u.Warehouse == issuer)
		if ownsStorage && u.StorageDays > 0 && u.DailyRate.IsPositive() {
			items = append(items, ItemInput{
				CarID:       &carID,
				Description: fmt.Sprintf("%s: storage %d days", u.VIN, u.StorageDays),
				Quantity:    decimal.NewFromInt(int64(u.StorageDays)),
				UnitPrice:   u.DailyRate,
			})
		}
	}
	return items
}

// DerivePaymentStatus computes the status after paid_amount changed. Draft and
// cancelled invoices keep their status; a fully reversed invoice returns to
// ISSUED.
func DerivePaymentStatus(total, paid decimal.Decimal, current InvoiceStatus) InvoiceStatus {
	switch current {
	case InvoiceDraft, InvoiceCancelled:
		return current
	}
	switch {
	case paid.IsPositive() && paid.GreaterThanOrEqual(total):
		return InvoicePaid
	case paid.IsPositive():
		return InvoicePartiallyPaid
	case current == InvoicePaid || current == InvoicePartiallyPaid:
		return InvoiceIssued
	}
	return current
}

// EffectiveStatus reports OVERDUE for open invoices past their due date
// without requiring the stored status to have been updated.
func (inv Invoice) EffectiveStatus(now time.Time) InvoiceStatus {
	if inv.IsPastDue(now) {
		return InvoiceOverdue
	}
	return inv.Status
}

// IsPastDue is true for ISSUED or PARTIALLY_PAID invoices whose due date is
// strictly before today.
func (inv Invoice) IsPastDue(now time.Time) bool {
	if inv.Status != InvoiceIssued && inv.Status != InvoicePartiallyPaid {
		return false
	}
	return dateOnly(inv.DueDate).Before(dateOnly(now))
}

// Direction classifies the invoice relative to the operating company.
func (inv Invoice) Direction(operatingCompanyID int) Direction {
	company := PartyRef{Kind: PartyCompany, ID: operatingCompanyID}
	switch {
	case inv.Issuer == company:
		return DirectionOutgoing
	case inv.Recipient == company:
		return DirectionIncoming
	}
	return DirectionInternal
}

// TaxAmount is the informational tax at a flat rate. It is not part of Total.
func (inv Invoice) TaxAmount(rate decimal.Decimal) decimal.Decimal {
	return inv.Total.Mul(rate).Round(2)
}

// canRegenerate guards RegenerateItemsFromSource.
func canRegenerate(status InvoiceStatus) error {
	switch status {
	case InvoicePaid, InvoiceCancelled:
		return invalid("status", "cannot regenerate items of a %s invoice", status)
	}
	return nil
}
