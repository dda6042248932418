package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/partsmarket/backend/internal/logging"
)

const (
	migrationMaxRetries  = 3
	migrationBaseBackoff = 100 * time.Millisecond
	migrationMaxBackoff  = 3 * time.Second
)

// Migrator applies the *.sql files of Dir in lexical order, recording each
// applied file in schema_migrations.
type Migrator struct {
	Pool Pool
	Dir  string
	// Sleep waits between retries; nil uses a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// MigrationStatus pairs a migration file with whether it has been applied.
type MigrationStatus struct {
	Name    string
	Applied bool
}

// Status lists every migration file and whether it has been applied.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	files, err := m.files()
	if err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(files))
	for _, name := range files {
		_, ok := applied[name]
		statuses = append(statuses, MigrationStatus{Name: name, Applied: ok})
	}
	return statuses, nil
}

// Up applies every pending migration and returns the names it applied.
func (m *Migrator) Up(ctx context.Context) ([]string, error) {
	files, err := m.files()
	if err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, name := range files {
		if _, ok := applied[name]; ok {
			continue
		}
		contents, err := os.ReadFile(filepath.Join(m.Dir, name))
		if err != nil {
			return done, fmt.Errorf("read migration %s: %w", name, err)
		}
		if err := m.applyWithRetry(ctx, name, string(contents)); err != nil {
			return done, err
		}
		logging.FromContext(ctx).Info("applied migration", slog.String("migration", name))
		done = append(done, name)
	}
	return done, nil
}

// ApplySeed executes the seed file name from dir. A bare name such as "dev"
// resolves to dev_seed.sql.
func ApplySeed(ctx context.Context, pool Pool, dir, name string) error {
	if name == "" {
		return errors.New("seed name must be provided")
	}
	if !strings.HasSuffix(name, ".sql") {
		name = fmt.Sprintf("%s_seed.sql", name)
	}
	contents, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("read seed %s: %w", name, err)
	}
	if _, err := pool.Exec(ctx, string(contents)); err != nil {
		return fmt.Errorf("apply seed %s: %w", name, err)
	}
	return nil
}

func (m *Migrator) files() ([]string, error) {
	entries, err := os.ReadDir(m.Dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (m *Migrator) applied(ctx context.Context) (map[string]struct{}, error) {
	if _, err := m.Pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
                version TEXT PRIMARY KEY,
                applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )`); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations table: %w", err)
	}

	rows, err := m.Pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("fetch applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

func (m *Migrator) applyWithRetry(ctx context.Context, name, contents string) error {
	logger := logging.FromContext(ctx)
	var lastErr error
	for attempt := 0; attempt < migrationMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * migrationBaseBackoff
			if backoff > migrationMaxBackoff {
				backoff = migrationMaxBackoff
			}
			if err := m.sleep(ctx, backoff); err != nil {
				return err
			}
		}

		lastErr = m.apply(ctx, name, contents)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		logger.Warn("transient migration error",
			slog.String("migration", name),
			slog.Int("attempt", attempt+1),
			slog.Any("error", lastErr),
		)
	}
	return fmt.Errorf("apply migration %s: exceeded max retries (%d): %w", name, migrationMaxRetries, lastErr)
}

func (m *Migrator) apply(ctx context.Context, name, contents string) error {
	tx, err := m.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin migration transaction for %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, contents); err != nil {
		return fmt.Errorf("apply migration %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

func (m *Migrator) sleep(ctx context.Context, d time.Duration) error {
	if m.Sleep != nil {
		return m.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WriteStatus renders statuses as a checklist.
func WriteStatus(w io.Writer, statuses []MigrationStatus) {
	for _, s := range statuses {
		mark := " "
		if s.Applied {
			mark = "x"
		}
		fmt.Fprintf(w, "[%s] %s\n", mark, s.Name)
	}
}
