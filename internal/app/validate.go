package app

import (
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"

	"freight-ledger/internal/core"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateRequest runs the struct tags and reports the first failure as a
// core.ValidationError so adapters handle one error type.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) || len(ves) == 0 {
		return err
	}
	fe := ves[0]
	msg := "failed " + fe.Tag()
	if fe.Param() != "" {
		msg += "=" + fe.Param()
	}
	return &core.ValidationError{Field: snake(fe.Field()), Message: msg}
}

// snake turns "BankTransactionID" into "bank_transaction_id".
func snake(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if i > 0 && (unicode.IsLower(runes[i-1]) || nextLower) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func parseDate(field, s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, &core.ValidationError{Field: field, Message: "must be YYYY-MM-DD"}
	}
	return t, nil
}

// parseOptionalDate returns nil for an empty string.
func parseOptionalDate(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseDate(field, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseRef(field, s string) (core.PartyRef, error) {
	ref, err := core.ParsePartyRef(s)
	if err != nil {
		return core.PartyRef{}, &core.ValidationError{Field: field, Message: err.Error()}
	}
	return ref, nil
}

func parseOptionalRef(field, s string) (*core.PartyRef, error) {
	if s == "" {
		return nil, nil
	}
	ref, err := parseRef(field, s)
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (r RangeRequest) parse() (time.Time, time.Time, error) {
	if err := validateRequest(r); err != nil {
		return time.Time{}, time.Time{}, err
	}
	from, err := parseDate("from", r.From)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseDate("to", r.To)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, &core.ValidationError{Field: "to", Message: "is before from"}
	}
	return from, to, nil
}

func (r CreateCarRequest) toCar() (core.Car, error) {
	if err := validateRequest(r); err != nil {
		return core.Car{}, err
	}
	arrival, err := parseDate("arrival_date", r.ArrivalDate)
	if err != nil {
		return core.Car{}, err
	}
	departure, err := parseOptionalDate("departure_date", r.DepartureDate)
	if err != nil {
		return core.Car{}, err
	}
	if r.DailyRate.IsNegative() {
		return core.Car{}, &core.ValidationError{Field: "daily_rate", Message: "must not be negative"}
	}
	return core.Car{
		VIN:              r.VIN,
		ClientID:         r.ClientID,
		WarehouseID:      r.WarehouseID,
		ArrivalDate:      arrival,
		DepartureDate:    departure,
		FreeDays:         r.FreeDays,
		DailyStorageRate: r.DailyRate,
	}, nil
}

func (r AddChargeRequest) toCharge() (core.CarCharge, error) {
	if err := validateRequest(r); err != nil {
		return core.CarCharge{}, err
	}
	provider, err := parseRef("provider", r.Provider)
	if err != nil {
		return core.CarCharge{}, err
	}
	if !r.Amount.IsPositive() {
		return core.CarCharge{}, &core.ValidationError{Field: "amount", Message: "must be positive"}
	}
	return core.CarCharge{CarID: r.CarID, Provider: provider, Name: r.Name, Amount: r.Amount}, nil
}

func (r CreateInvoiceRequest) toInput() (core.CreateInvoiceInput, error) {
	var in core.CreateInvoiceInput
	if err := validateRequest(r); err != nil {
		return in, err
	}
	date, err := parseDate("date", r.Date)
	if err != nil {
		return in, err
	}
	due, err := parseOptionalDate("due_date", r.DueDate)
	if err != nil {
		return in, err
	}
	issuer, err := parseRef("issuer", r.Issuer)
	if err != nil {
		return in, err
	}
	recipient, err := parseRef("recipient", r.Recipient)
	if err != nil {
		return in, err
	}

	in = core.CreateInvoiceInput{
		Number:     strings.TrimSpace(r.Number),
		Date:       date,
		DueDate:    due,
		Issuer:     issuer,
		Recipient:  recipient,
		UnitIDs:    r.UnitIDs,
		CategoryID: r.CategoryID,
		Notes:      r.Notes,
	}
	if r.ExternalRef != "" {
		ref := r.ExternalRef
		in.ExternalRef = &ref
	}
	for _, it := range r.Items {
		in.Items = append(in.Items, core.ItemInput{
			CarID:       it.CarID,
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	return in, nil
}

func (r InvoiceListRequest) toFilter() (core.InvoiceFilter, error) {
	var f core.InvoiceFilter
	if err := validateRequest(r); err != nil {
		return f, err
	}
	if r.Status != "" {
		s := core.InvoiceStatus(r.Status)
		f.Status = &s
	}
	party, err := parseOptionalRef("party", r.Party)
	if err != nil {
		return f, err
	}
	f.Party = party
	if f.From, err = parseOptionalDate("from", r.From); err != nil {
		return f, err
	}
	if f.To, err = parseOptionalDate("to", r.To); err != nil {
		return f, err
	}
	f.PendingSync = r.PendingSync
	f.Limit = r.Limit
	return f, nil
}

func (r ApplyTransactionRequest) toInput() (core.ApplyTransactionInput, error) {
	var in core.ApplyTransactionInput
	if err := validateRequest(r); err != nil {
		return in, err
	}
	date, err := parseOptionalDate("date", r.Date)
	if err != nil {
		return in, err
	}
	from, err := parseOptionalRef("from", r.From)
	if err != nil {
		return in, err
	}
	to, err := parseOptionalRef("to", r.To)
	if err != nil {
		return in, err
	}
	in = core.ApplyTransactionInput{
		Amount:     r.Amount,
		Type:       core.TransactionType(r.Type),
		Method:     core.PaymentMethod(r.Method),
		Status:     core.TransactionStatus(r.Status),
		From:       from,
		To:         to,
		InvoiceID:  r.InvoiceID,
		CategoryID: r.CategoryID,
		Notes:      r.Notes,
	}
	if date != nil {
		in.Date = *date
	}
	return in, nil
}
