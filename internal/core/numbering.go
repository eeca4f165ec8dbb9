package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// FormatInvoiceNumber renders the numbering scheme INV-<year>-<5 digit seq>.
func FormatInvoiceNumber(year int, seq int64) string {
	return fmt.Sprintf("INV-%d-%05d", year, seq)
}

// nextInvoiceNumber allocates the next number for the invoice year inside the
// caller's transaction. Numbers taken manually are skipped over.
func nextInvoiceNumber(ctx context.Context, tx pgx.Tx, date time.Time) (string, error) {
	year := date.Year()
	for {
		// Concurrency-safe gapless sequence generation
		var lastNumber int64
		err := tx.QueryRow(ctx, `
			INSERT INTO invoice_sequences (year, last_number)
			VALUES ($1, 1)
			ON CONFLICT (year)
			DO UPDATE SET last_number = invoice_sequences.last_number + 1
			RETURNING last_number
		`, year).Scan(&lastNumber)
		if err != nil {
			return "", fmt.Errorf("failed to generate invoice sequence number: %w", err)
		}

		number := FormatInvoiceNumber(year, lastNumber)
		taken, err := invoiceNumberTaken(ctx, tx, number)
		if err != nil {
			return "", err
		}
		if !taken {
			return number, nil
		}
	}
}

func invoiceNumberTaken(ctx context.Context, q Querier, number string) (bool, error) {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE number = $1)`, number).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check invoice number %s: %w", number, err)
	}
	return exists, nil
}
