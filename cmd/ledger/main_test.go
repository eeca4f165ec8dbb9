package main

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"freight-ledger/internal/ai"
	"freight-ledger/internal/config"
	"freight-ledger/internal/core"
)

func TestMatchStrategy_UsesConfiguredTolerance(t *testing.T) {
	cfg := &config.Config{}
	opts := core.Options{MatchAmountTolerance: decimal.RequireFromString("1.00"), MatchDateWindowDays: 7}

	strategy := matchStrategy(cfg, opts, zerolog.Nop())

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	line := core.BankTransaction{ID: 1, Date: day, Amount: decimal.RequireFromString("500.00")}
	ranked, err := strategy.Rank(context.Background(), line, []core.MatchCandidate{
		{Kind: core.CandidateTransaction, ID: 1, Date: day, Amount: decimal.RequireFromString("500.90")},
		{Kind: core.CandidateTransaction, ID: 2, Date: day, Amount: decimal.RequireFromString("500.10")},
	})
	if err != nil {
		t.Fatalf("Rank failed: %v", err)
	}
	if ranked[0].ID != 2 {
		t.Fatalf("expected the closer amount first, got %+v", ranked)
	}
	if ranked[0].Score <= ranked[1].Score {
		t.Errorf("expected distinct scores within tolerance, got %f and %f", ranked[0].Score, ranked[1].Score)
	}
}

func TestMatchStrategy_AdvisorOnlyWithKey(t *testing.T) {
	cfg := &config.Config{}
	cfg.Reconciliation.UseAI = true

	if _, ok := matchStrategy(cfg, core.Options{}, zerolog.Nop()).(core.AmountDateStrategy); !ok {
		t.Errorf("expected amount/date ranking without an API key")
	}

	cfg.OpenAI.APIKey = "sk-test"
	if _, ok := matchStrategy(cfg, core.Options{}, zerolog.Nop()).(*ai.MatchAdvisor); !ok {
		t.Errorf("expected the advisor when a key is configured")
	}
}
