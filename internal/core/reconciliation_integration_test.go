package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"freight-ledger/internal/core"
)

func TestReconciliation_ImportPayAndMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	today := time.Now()

	lines := []core.BankLineInput{
		{ExternalID: "B-1", Date: today, Amount: dec("800.00"), Description: "Client A INV-2026-00001"},
		{ExternalID: "B-2", Date: today, Amount: dec("-250.00"), Description: "Ocean Line freight"},
	}
	res, err := f.reconcile.ImportBankLines(ctx, lines)
	if err != nil {
		t.Fatalf("ImportBankLines failed: %v", err)
	}
	if res.Inserted != 2 {
		t.Fatalf("expected 2 inserted, got %+v", res)
	}
	res, err = f.reconcile.ImportBankLines(ctx, append(lines, core.BankLineInput{ExternalID: "B-3", Date: today, Amount: dec("1")}))
	if err != nil {
		t.Fatalf("re-import failed: %v", err)
	}
	if res.Inserted != 1 || res.Skipped != 2 {
		t.Errorf("expected 1 inserted and 2 skipped on re-import, got %+v", res)
	}

	all, err := f.reconcile.ListBankLines(ctx, core.BankLineFilter{})
	if err != nil {
		t.Fatalf("ListBankLines failed: %v", err)
	}
	byExt := map[string]core.BankTransaction{}
	for _, b := range all {
		byExt[*b.ExternalID] = b
	}

	// Pay and reconcile in one step.
	inv := f.issuedInvoice(t, f.company, f.client, "800.00")
	bankID := byExt["B-1"].ID
	payment, err := f.ledger.PayInvoice(ctx, inv.ID, dec("800.00"), core.MethodBank, &bankID)
	if err != nil {
		t.Fatalf("PayInvoice failed: %v", err)
	}
	line, err := f.reconcile.GetBankLine(ctx, bankID)
	if err != nil {
		t.Fatalf("GetBankLine failed: %v", err)
	}
	if !line.IsReconciled || line.MatchedTransactionID == nil || *line.MatchedTransactionID != payment.ID ||
		line.MatchedInvoiceID == nil || *line.MatchedInvoiceID != inv.ID {
		t.Fatalf("bank line not reconciled to payment: %+v", line)
	}

	// A different transaction cannot take over the line.
	from, to := f.company.Ref(), f.line.Ref()
	other, err := f.ledger.ApplyTransaction(ctx, core.ApplyTransactionInput{
		Amount: dec("250.00"), Type: core.TxPayment, Method: core.MethodBank, From: &from, To: &to,
	})
	if err != nil {
		t.Fatalf("ApplyTransaction failed: %v", err)
	}
	var ae *core.AlreadyReconciledError
	if _, err := f.reconcile.MatchBankLine(ctx, bankID, &other.ID, nil, ""); !errors.As(err, &ae) {
		t.Errorf("expected AlreadyReconciledError, got %v", err)
	}
	// Re-matching the same transaction is a no-op.
	if _, err := f.reconcile.MatchBankLine(ctx, bankID, &payment.ID, nil, ""); err != nil {
		t.Errorf("re-matching same transaction failed: %v", err)
	}

	// Suggestions never commit and rank the exact match first.
	feeID := byExt["B-2"].ID
	candidates, err := f.reconcile.SuggestMatches(ctx, feeID)
	if err != nil {
		t.Fatalf("SuggestMatches failed: %v", err)
	}
	if len(candidates) == 0 || candidates[0].Kind != core.CandidateTransaction || candidates[0].ID != other.ID {
		t.Fatalf("expected transaction %d first, got %+v", other.ID, candidates)
	}
	fee, _ := f.reconcile.GetBankLine(ctx, feeID)
	if fee.IsReconciled {
		t.Errorf("SuggestMatches must not reconcile")
	}

	var ve *core.ValidationError
	if _, err := f.reconcile.MatchBankLine(ctx, feeID, nil, nil, ""); !errors.As(err, &ve) {
		t.Errorf("matching nothing: expected ValidationError, got %v", err)
	}
	if _, err := f.reconcile.MatchBankLine(ctx, feeID, &other.ID, nil, "freight"); err != nil {
		t.Fatalf("MatchBankLine failed: %v", err)
	}

	cleared, err := f.reconcile.UnmatchBankLine(ctx, bankID, "wrong statement")
	if err != nil {
		t.Fatalf("UnmatchBankLine failed: %v", err)
	}
	if cleared.IsReconciled || cleared.MatchedTransactionID != nil || cleared.MatchedInvoiceID != nil {
		t.Errorf("unmatch left links behind: %+v", cleared)
	}
}

func TestReconciliation_FailedPaymentLeavesBankLineOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.reconcile.ImportBankLines(ctx, []core.BankLineInput{{ExternalID: "X-1", Date: time.Now(), Amount: dec("900")}}); err != nil {
		t.Fatalf("ImportBankLines failed: %v", err)
	}
	lines, _ := f.reconcile.ListBankLines(ctx, core.BankLineFilter{})
	bankID := lines[0].ID

	inv := f.issuedInvoice(t, f.company, f.client, "500.00")
	_, err := f.ledger.PayInvoice(ctx, inv.ID, dec("900"), core.MethodBank, &bankID)
	var oe *core.OverpaymentError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OverpaymentError, got %v", err)
	}

	line, _ := f.reconcile.GetBankLine(ctx, bankID)
	if line.IsReconciled {
		t.Errorf("bank line reconciled although the payment was rolled back")
	}
	txs, _ := f.ledger.ListTransactions(ctx, core.TransactionFilter{InvoiceID: &inv.ID})
	if len(txs) != 0 {
		t.Errorf("expected no transactions, got %d", len(txs))
	}
}
