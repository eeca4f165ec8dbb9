package core_test

import (
	"context"
	"testing"

	"freight-ledger/internal/core"
)

func categoryID(t *testing.T, f *fixture, name string) int {
	t.Helper()
	var id int
	if err := f.pool.QueryRow(context.Background(), "SELECT id FROM expense_categories WHERE name = $1", name).Scan(&id); err != nil {
		t.Fatalf("category %q not seeded: %v", name, err)
	}
	return id
}

func TestRuleEngine_ResolveInvoiceCategory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	re := core.NewCategoryRuleEngine()

	logistics := categoryID(t, f, "Logistics")
	billing := categoryID(t, f, "Client Billing")

	tests := []struct {
		name      string
		issuer    core.Party
		recipient core.Party
		want      *int
	}{
		{"warehouse bills company", f.warehouse, f.company, &logistics},
		{"line bills company", f.line, f.company, &logistics},
		{"company bills client", f.company, f.client, &billing},
		// The issuer rule wins over the recipient rule.
		{"warehouse bills client", f.warehouse, f.client, &logistics},
		{"client bills company", f.client, f.company, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := re.ResolveInvoiceCategory(ctx, f.pool, tt.issuer.Ref(), tt.recipient.Ref())
			if err != nil {
				t.Fatalf("ResolveInvoiceCategory failed: %v", err)
			}
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("expected no category, got %d", *got)
			case tt.want != nil && (got == nil || *got != *tt.want):
				t.Errorf("expected category %d, got %v", *tt.want, got)
			}
		})
	}
}

func TestRuleEngine_PriorityWithinRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	operational := categoryID(t, f, "Operational")
	if _, err := f.pool.Exec(ctx, `
		INSERT INTO category_rules (party_kind, role, category_id, priority)
		VALUES ('warehouse', 'issuer', $1, 20)
	`, operational); err != nil {
		t.Fatalf("failed to seed rule: %v", err)
	}

	got, err := core.NewCategoryRuleEngine().ResolveInvoiceCategory(ctx, f.pool, f.warehouse.Ref(), f.company.Ref())
	if err != nil {
		t.Fatalf("ResolveInvoiceCategory failed: %v", err)
	}
	if got == nil || *got != operational {
		t.Errorf("expected higher-priority rule %d, got %v", operational, got)
	}
}
