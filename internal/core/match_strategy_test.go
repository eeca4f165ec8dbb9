package core_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"freight-ledger/internal/core"
)

func TestAmountDateStrategy_Rank(t *testing.T) {
	s := core.AmountDateStrategy{AmountTolerance: dec("0.01"), DateWindowDays: 7}
	line := core.BankTransaction{ID: 1, Date: day("2026-03-10"), Amount: dec("-500.00")}

	candidates := []core.MatchCandidate{
		{Kind: core.CandidateTransaction, ID: 9, Date: day("2026-03-13"), Amount: dec("500.00")},
		{Kind: core.CandidateInvoice, ID: 3, Date: day("2026-03-10"), Amount: dec("500.00")},
		{Kind: core.CandidateTransaction, ID: 1, Date: day("2026-03-10"), Amount: dec("520.00")},
		{Kind: core.CandidateTransaction, ID: 4, Date: day("2026-03-10"), Amount: dec("500.00")},
	}

	ranked, err := s.Rank(context.Background(), line, candidates)
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}

	var order []string
	for _, c := range ranked {
		order = append(order, fmt.Sprintf("%s:%d", c.Kind, c.ID))
	}
	want := []string{"transaction:4", "invoice:3", "transaction:9", "transaction:1"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected order %v, want %v", order, want)
		}
	}
	if math.Abs(ranked[0].Score-1) > 1e-9 {
		t.Errorf("exact same-day match should score 1, got %f", ranked[0].Score)
	}
	if ranked[3].Score > 0.1 {
		t.Errorf("amount outside tolerance should score at most 0.1, got %f", ranked[3].Score)
	}
	if candidates[0].Score != 0 {
		t.Errorf("Rank must not modify its input")
	}
}

func TestConcurrencyError_Unwrap(t *testing.T) {
	cause := errors.New("serialization failure")
	err := fmt.Errorf("pay: %w", &core.ConcurrencyError{Op: "pay_invoice", Attempts: 3, Err: cause})

	var ce *core.ConcurrencyError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConcurrencyError")
	}
	if ce.Attempts != 3 || !errors.Is(err, cause) {
		t.Errorf("unexpected error chain: %v", err)
	}
}

func TestValidationError_Message(t *testing.T) {
	err := &core.ValidationError{Field: "amount", Message: "must be positive"}
	if err.Error() != "validation failed: amount: must be positive" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
