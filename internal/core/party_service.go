package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PartyService interface {
	CreateParty(ctx context.Context, kind PartyKind, name string) (*Party, error)
	GetParty(ctx context.Context, ref PartyRef) (*Party, error)
	ListParties(ctx context.Context, kind *PartyKind) ([]Party, error)
	ListCategories(ctx context.Context) ([]ExpenseCategory, error)
	CreateCategory(ctx context.Context, name string, typ CategoryType, displayOrder int) (*ExpenseCategory, error)
}

type partyService struct {
	pool *pgxpool.Pool
}

func NewPartyService(pool *pgxpool.Pool) PartyService {
	return &partyService{pool: pool}
}

const partyColumns = `id, kind, name, invoice_balance, cash_balance, card_balance, created_at`

func scanParty(row pgx.Row) (*Party, error) {
	var p Party
	if err := row.Scan(&p.ID, &p.Kind, &p.Name, &p.InvoiceBalance, &p.CashBalance, &p.CardBalance, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *partyService) CreateParty(ctx context.Context, kind PartyKind, name string) (*Party, error) {
	if !kind.Valid() {
		return nil, invalid("kind", "unknown party kind %q", kind)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("name", "must not be empty")
	}
	p, err := scanParty(s.pool.QueryRow(ctx, `
		INSERT INTO parties (kind, name) VALUES ($1, $2)
		RETURNING `+partyColumns, string(kind), name))
	if err != nil {
		return nil, fmt.Errorf("failed to create party: %w", err)
	}
	return p, nil
}

func (s *partyService) GetParty(ctx context.Context, ref PartyRef) (*Party, error) {
	return getParty(ctx, s.pool, ref, false)
}

func (s *partyService) ListParties(ctx context.Context, kind *PartyKind) ([]Party, error) {
	query := `SELECT ` + partyColumns + ` FROM parties`
	var args []any
	if kind != nil {
		query += ` WHERE kind = $1`
		args = append(args, string(*kind))
	}
	query += ` ORDER BY kind, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list parties: %w", err)
	}
	defer rows.Close()

	var parties []Party
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan party: %w", err)
		}
		parties = append(parties, *p)
	}
	return parties, rows.Err()
}

func (s *partyService) ListCategories(ctx context.Context) ([]ExpenseCategory, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, type, display_order FROM expense_categories ORDER BY display_order, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var cats []ExpenseCategory
	for rows.Next() {
		var c ExpenseCategory
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.DisplayOrder); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

func (s *partyService) CreateCategory(ctx context.Context, name string, typ CategoryType, displayOrder int) (*ExpenseCategory, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("name", "must not be empty")
	}
	c := ExpenseCategory{Name: name, Type: typ, DisplayOrder: displayOrder}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO expense_categories (name, type, display_order) VALUES ($1, $2, $3)
		RETURNING id
	`, name, string(typ), displayOrder).Scan(&c.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, invalid("name", "category %q already exists", name)
		}
		return nil, fmt.Errorf("failed to create category: %w", err)
	}
	return &c, nil
}

func getParty(ctx context.Context, q Querier, ref PartyRef, forUpdate bool) (*Party, error) {
	query := `SELECT ` + partyColumns + ` FROM parties WHERE id = $1 AND kind = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanParty(q.QueryRow(ctx, query, ref.ID, string(ref.Kind)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("party %s: %w", ref, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch party %s: %w", ref, err)
	}
	return p, nil
}

// lockParties takes row locks on every referenced party in ascending id order
// so that concurrent operations touching the same pair cannot deadlock.
// A missing party is reported as a ValidationError on field.
func lockParties(ctx context.Context, tx pgx.Tx, field string, refs ...PartyRef) (map[PartyRef]*Party, error) {
	ordered := make([]PartyRef, 0, len(refs))
	seen := make(map[PartyRef]bool, len(refs))
	for _, r := range refs {
		if r.IsZero() || seen[r] {
			continue
		}
		seen[r] = true
		ordered = append(ordered, r)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	locked := make(map[PartyRef]*Party, len(ordered))
	for _, r := range ordered {
		p, err := getParty(ctx, tx, r, true)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, invalid(field, "party %s does not exist", r)
			}
			return nil, err
		}
		locked[r] = p
	}
	return locked, nil
}

func ensureParty(ctx context.Context, q Querier, field string, ref PartyRef) error {
	if !ref.Kind.Valid() || ref.ID <= 0 {
		return invalid(field, "invalid party reference %s", ref)
	}
	if _, err := getParty(ctx, q, ref, false); err != nil {
		if errors.Is(err, ErrNotFound) {
			return invalid(field, "party %s does not exist", ref)
		}
		return err
	}
	return nil
}
