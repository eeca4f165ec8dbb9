// migrate applies migrations/NNN_description.sql files in order, recording
// each in schema_migrations with its checksum. An applied file whose
// contents changed is an error.
//
// Usage: go run ./cmd/migrate [--dir migrations] [--config configs/config.yaml]
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"freight-ledger/internal/config"
	"freight-ledger/internal/db"
	"freight-ledger/internal/logger"
)

// advisoryLockID keeps two migrators from running at once.
const advisoryLockID = 7462839

type migration struct {
	Version  string
	Filename string
	SQL      []byte
	Checksum string
}

func main() {
	_ = logger.Setup(logger.DefaultConfig())

	cmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply pending ledger schema migrations",
		SilenceUsage: true,
		RunE:         run,
	}
	cmd.Flags().StringP("config", "c", "", "config file (default configs/config.yaml)")
	cmd.Flags().String("dir", "migrations", "directory holding NNN_description.sql files")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		log := logger.WithComponent("migrate")
		log.Error().Err(err).Msg("migration failed")
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logger.WithComponent("migrate")

	configPath, _ := cmd.Flags().GetString("config")
	dir, _ := cmd.Flags().GetString("dir")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	pool, err := db.NewPool(ctx, cfg.Database.URL, 2)
	if err != nil {
		return err
	}
	defer pool.Close()
	log.Info().Msg("connected")

	conn, err := acquireLock(ctx, pool)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", advisoryLockID)
		conn.Release()
	}()

	if _, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	checksum TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	migrations, err := discover(dir)
	if err != nil {
		return err
	}

	applied := 0
	for _, m := range migrations {
		ok, err := apply(ctx, pool, m, log)
		if err != nil {
			return err
		}
		if ok {
			applied++
		}
	}
	log.Info().Int("applied", applied).Int("total", len(migrations)).Msg("all migrations processed")
	return nil
}

func acquireLock(ctx context.Context, pool *pgxpool.Pool) (*pgxpool.Conn, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for lock: %w", err)
	}
	var locked bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", advisoryLockID).Scan(&locked); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to query advisory lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, errors.New("another migrator is currently running")
	}
	return conn, nil
}

// discover reads every .sql file in dir, sorted by name. Versions are the
// part before the first underscore and must be unique.
func discover(dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	seen := make(map[string]bool)
	out := make([]migration, 0, len(names))
	for _, name := range names {
		version, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("invalid migration filename %s, expected NNN_description.sql", name)
		}
		if seen[version] {
			return nil, fmt.Errorf("duplicate migration version %s", version)
		}
		seen[version] = true

		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		sum := sha256.Sum256(body)
		out = append(out, migration{Version: version, Filename: name, SQL: body, Checksum: hex.EncodeToString(sum[:])})
	}
	return out, nil
}

// apply runs one migration in its own transaction. It returns false when
// the migration was already applied with the same checksum.
func apply(ctx context.Context, pool *pgxpool.Pool, m migration, log zerolog.Logger) (bool, error) {
	var existing string
	err := pool.QueryRow(ctx, "SELECT checksum FROM schema_migrations WHERE version = $1", m.Version).Scan(&existing)
	switch {
	case err == nil:
		if existing != m.Checksum {
			return false, fmt.Errorf("checksum mismatch for %s: recorded %s, file %s", m.Filename, existing, m.Checksum)
		}
		log.Debug().Str("file", m.Filename).Msg("skip")
		return false, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return false, fmt.Errorf("failed to query schema_migrations for %s: %w", m.Filename, err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction for %s: %w", m.Filename, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, string(m.SQL)); err != nil {
		return false, fmt.Errorf("failed to execute migration %s: %w", m.Filename, err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (version, filename, checksum) VALUES ($1, $2, $3)",
		m.Version, m.Filename, m.Checksum); err != nil {
		return false, fmt.Errorf("failed to record migration %s: %w", m.Filename, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit migration %s: %w", m.Filename, err)
	}

	log.Info().Str("file", m.Filename).Msg("applied")
	return true, nil
}
