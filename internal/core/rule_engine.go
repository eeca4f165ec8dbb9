package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CategoryResolver picks a default expense category for a new invoice from
// the category_rules table. It replaces hardcoded per-party-kind defaults.
type CategoryResolver interface {
	ResolveInvoiceCategory(ctx context.Context, q Querier, issuer, recipient PartyRef) (*int, error)
}

type categoryRuleEngine struct{}

// NewCategoryRuleEngine constructs a CategoryResolver backed by category_rules.
func NewCategoryRuleEngine() CategoryResolver {
	return categoryRuleEngine{}
}

// ResolveInvoiceCategory prefers rules on the issuer's kind over rules on the
// recipient's kind, highest priority first. No matching rule yields nil.
func (categoryRuleEngine) ResolveInvoiceCategory(ctx context.Context, q Querier, issuer, recipient PartyRef) (*int, error) {
	var categoryID int
	err := q.QueryRow(ctx, `
		SELECT category_id
		FROM category_rules
		WHERE (role = 'issuer' AND party_kind = $1)
		   OR (role = 'recipient' AND party_kind = $2)
		ORDER BY (role = 'issuer') DESC, priority DESC, id
		LIMIT 1
	`, string(issuer.Kind), string(recipient.Kind)).Scan(&categoryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve category rule (issuer=%s, recipient=%s): %w", issuer.Kind, recipient.Kind, err)
	}
	return &categoryID, nil
}
