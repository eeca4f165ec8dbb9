package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"freight-ledger/internal/metrics"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, enabling shared query helpers.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// atomicRunner executes one ledger operation as a single database
// transaction, retrying the whole unit on serialization failures and
// deadlocks. fn must not keep state across attempts.
type atomicRunner struct {
	pool        *pgxpool.Pool
	maxAttempts int
	log         zerolog.Logger
}

func newAtomicRunner(pool *pgxpool.Pool, maxAttempts int, log zerolog.Logger) atomicRunner {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return atomicRunner{pool: pool, maxAttempts: maxAttempts, log: log}
}

func (r atomicRunner) run(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	return r.retry(ctx, op, func(ctx context.Context) error { return r.once(ctx, fn) })
}

// retry calls attempt until it succeeds, fails for a non-retryable reason,
// runs out of attempts or ctx is done.
func (r atomicRunner) retry(ctx context.Context, op string, attempt func(ctx context.Context) error) error {
	started := time.Now()
	var err error
	tries := 0
	for tries < r.maxAttempts {
		tries++
		err = attempt(ctx)
		if err == nil || !isRetryable(err) {
			metrics.ObserveOperation(op, errorClass(err), started)
			return err
		}
		metrics.LedgerRetriesTotal.WithLabelValues(op).Inc()
		r.log.Warn().Err(err).Str("op", op).Int("attempt", tries).Msg("retrying atomic unit")
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%s abandoned after %d attempts: %w", op, tries, ctxErr)
			metrics.ObserveOperation(op, errorClass(err), started)
			return err
		}
	}
	cerr := &ConcurrencyError{Op: op, Attempts: tries, Err: err}
	metrics.ObserveOperation(op, errorClass(cerr), started)
	return cerr
}

func (r atomicRunner) once(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isRetryable reports serialization_failure and deadlock_detected.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
