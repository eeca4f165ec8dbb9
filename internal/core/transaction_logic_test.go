package core_test

import (
	"errors"
	"testing"
	"time"

	"freight-ledger/internal/core"
)

func TestBucketForMethod(t *testing.T) {
	tests := map[core.PaymentMethod]core.BalanceBucket{
		core.MethodCash:     core.BucketCash,
		core.MethodCard:     core.BucketCard,
		core.MethodBank:     core.BucketInvoice,
		core.MethodInvoice:  core.BucketInvoice,
		core.MethodTransfer: core.BucketInvoice,
	}
	for method, want := range tests {
		if got := core.BucketForMethod(method); got != want {
			t.Errorf("%s: got %s, want %s", method, got, want)
		}
	}
}

func TestBalanceEffect_PaymentMovesMoneyFromPayerToPayee(t *testing.T) {
	client := core.PartyRef{Kind: core.PartyClient, ID: 2}
	company := core.PartyRef{Kind: core.PartyCompany, ID: 1}
	tx := core.Transaction{Amount: dec("800"), Type: core.TxPayment, Method: core.MethodBank, From: &client, To: &company}

	balances := map[core.PartyRef]core.Balances{}
	for _, d := range core.BalanceEffect(tx, false) {
		balances[d.Party] = balances[d.Party].Apply(d)
	}

	if got := balances[company].Invoice; !got.Equal(dec("800")) {
		t.Errorf("company invoice balance: got %s, want 800", got)
	}
	if got := balances[client].Invoice; !got.Equal(dec("-800")) {
		t.Errorf("client invoice balance: got %s, want -800", got)
	}
	if !balances[company].Cash.IsZero() || !balances[company].Card.IsZero() {
		t.Errorf("bank payment must not touch cash or card")
	}
}

func TestBalanceEffect_ReverseRestoresBalances(t *testing.T) {
	client := core.PartyRef{Kind: core.PartyClient, ID: 2}
	company := core.PartyRef{Kind: core.PartyCompany, ID: 1}
	start := core.Balances{Invoice: dec("12.34"), Cash: dec("-5"), Card: dec("100")}

	for _, method := range []core.PaymentMethod{core.MethodCash, core.MethodCard, core.MethodBank} {
		tx := core.Transaction{Amount: dec("250.75"), Type: core.TxRefund, Method: method, From: &company, To: &client}
		b := map[core.PartyRef]core.Balances{client: start, company: start}

		// complete, un-complete, complete, un-complete
		for i := 0; i < 2; i++ {
			for _, d := range core.BalanceEffect(tx, false) {
				b[d.Party] = b[d.Party].Apply(d)
			}
			for _, d := range core.BalanceEffect(tx, true) {
				b[d.Party] = b[d.Party].Apply(d)
			}
		}

		if !b[client].Equal(start) || !b[company].Equal(start) {
			t.Errorf("%s: balances drifted after round trip: %+v %+v", method, b[client], b[company])
		}
	}
}

func TestBalanceEffect_OneSided(t *testing.T) {
	company := core.PartyRef{Kind: core.PartyCompany, ID: 1}
	tx := core.Transaction{Amount: dec("50"), Type: core.TxBalanceTopup, Method: core.MethodCash, To: &company}
	deltas := core.BalanceEffect(tx, false)
	if len(deltas) != 1 || deltas[0].Party != company || !deltas[0].Amount.Equal(dec("50")) || deltas[0].Bucket != core.BucketCash {
		t.Fatalf("unexpected deltas: %+v", deltas)
	}
}

func TestInvoicePaidDelta(t *testing.T) {
	tests := []struct {
		typ     core.TransactionType
		reverse bool
		want    string
	}{
		{core.TxPayment, false, "100"},
		{core.TxPayment, true, "-100"},
		{core.TxRefund, false, "-100"},
		{core.TxRefund, true, "100"},
		{core.TxAdjustment, false, "0"},
		{core.TxBalanceTopup, true, "0"},
	}
	for _, tt := range tests {
		got := core.InvoicePaidDelta(core.Transaction{Amount: dec("100"), Type: tt.typ}, tt.reverse)
		if !got.Equal(dec(tt.want)) {
			t.Errorf("%s reverse=%v: got %s, want %s", tt.typ, tt.reverse, got, tt.want)
		}
	}
}

func TestValidateStatusTransition(t *testing.T) {
	tests := []struct {
		from, to core.TransactionStatus
		wantErr  bool
	}{
		{core.TxPending, core.TxCompleted, false},
		{core.TxCompleted, core.TxPending, false},
		{core.TxCompleted, core.TxFailed, false},
		{core.TxCompleted, core.TxCancelled, false},
		{core.TxFailed, core.TxCompleted, false},
		{core.TxCompleted, core.TxCompleted, false},
		{core.TxCancelled, core.TxCompleted, true},
		{core.TxCancelled, core.TxPending, true},
		{core.TxPending, "DONE", true},
	}
	for _, tt := range tests {
		err := core.ValidateStatusTransition(tt.from, tt.to)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s -> %s: err = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
		}
	}
}

func TestApplyTransactionInput_Normalize(t *testing.T) {
	client := core.PartyRef{Kind: core.PartyClient, ID: 2}
	company := core.PartyRef{Kind: core.PartyCompany, ID: 1}
	now := time.Date(2026, 3, 5, 15, 4, 5, 0, time.UTC)

	in := core.ApplyTransactionInput{Amount: dec("10.50"), Type: core.TxPayment, Method: core.MethodCash, From: &client, To: &company}
	if err := in.Normalize(now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.Status != core.TxCompleted {
		t.Errorf("expected default status COMPLETED, got %s", in.Status)
	}
	if !in.Date.Equal(day("2026-03-05")) {
		t.Errorf("expected date truncated to 2026-03-05, got %s", in.Date)
	}

	bad := []core.ApplyTransactionInput{
		{Amount: dec("10"), Type: core.TxPayment, Method: core.MethodCash},
		{Amount: dec("10"), Type: core.TxPayment, Method: core.MethodCash, From: &client, To: &client},
		{Amount: dec("0"), Type: core.TxPayment, Method: core.MethodCash, To: &company},
		{Amount: dec("-1"), Type: core.TxPayment, Method: core.MethodCash, To: &company},
		{Amount: dec("10.005"), Type: core.TxPayment, Method: core.MethodCash, To: &company},
		{Amount: dec("10"), Type: "GIFT", Method: core.MethodCash, To: &company},
		{Amount: dec("10"), Type: core.TxPayment, Method: "crypto", To: &company},
	}
	for i, b := range bad {
		err := b.Normalize(now)
		var ve *core.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("case %d: expected ValidationError, got %v", i, err)
		}
	}
}
