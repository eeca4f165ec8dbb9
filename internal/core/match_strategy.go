package core

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// MatchStrategy orders reconciliation candidates for a bank line. It never
// writes anything; the caller decides whether to match.
type MatchStrategy interface {
	Rank(ctx context.Context, line BankTransaction, candidates []MatchCandidate) ([]MatchCandidate, error)
}

// AmountDateStrategy scores by amount precision first and date proximity
// second (90/10 weighting).
type AmountDateStrategy struct {
	AmountTolerance decimal.Decimal
	DateWindowDays  int
}

// NewAmountDateStrategy takes the tolerance and date window from opts.
func NewAmountDateStrategy(opts Options) AmountDateStrategy {
	return AmountDateStrategy{AmountTolerance: opts.MatchAmountTolerance, DateWindowDays: opts.MatchDateWindowDays}
}

func (s AmountDateStrategy) Rank(_ context.Context, line BankTransaction, candidates []MatchCandidate) ([]MatchCandidate, error) {
	ranked := make([]MatchCandidate, len(candidates))
	copy(ranked, candidates)
	for i := range ranked {
		amountScore := s.amountScore(line.Amount.Abs(), ranked[i].Amount.Abs())
		days := daysBetween(line.Date, ranked[i].Date)
		dateScore := s.dateScore(days)
		ranked[i].Score = 0.9*amountScore + 0.1*dateScore
		ranked[i].Reason = fmt.Sprintf("amount diff %s, %d days apart",
			line.Amount.Abs().Sub(ranked[i].Amount.Abs()).Abs().StringFixed(2), days)
	}
	SortCandidates(ranked)
	return ranked, nil
}

func (s AmountDateStrategy) amountScore(bank, candidate decimal.Decimal) float64 {
	diff := bank.Sub(candidate).Abs()
	if diff.IsZero() {
		return 1
	}
	if !s.AmountTolerance.IsPositive() || diff.GreaterThan(s.AmountTolerance) {
		return 0
	}
	ratio, _ := diff.Div(s.AmountTolerance).Float64()
	return 1 - ratio
}

func (s AmountDateStrategy) dateScore(days int) float64 {
	if days == 0 {
		return 1
	}
	window := s.DateWindowDays
	if window <= 0 {
		window = 1
	}
	if days <= window {
		return 1 - 0.3*float64(days)/float64(window)
	}
	return math.Max(0.1, 0.7-float64(days-window)/365)
}

// SortCandidates orders by score, then transactions before invoices, then id.
func SortCandidates(c []MatchCandidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Score != c[j].Score {
			return c[i].Score > c[j].Score
		}
		if c[i].Kind != c[j].Kind {
			return c[i].Kind == CandidateTransaction
		}
		return c[i].ID < c[j].ID
	})
}

func daysBetween(a, b time.Time) int {
	d := int(dateOnly(a).Sub(dateOnly(b)).Hours() / 24)
	if d < 0 {
		return -d
	}
	return d
}
