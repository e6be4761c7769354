package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const (
	DefaultStatementTimeoutMS = 30000
	maxStatementTimeoutMS     = 3_600_000

	// DefaultQueryTimeout bounds a single cache read or write.
	DefaultQueryTimeout = 10 * time.Second

	defaultConnMaxIdleTime = 2 * time.Minute
	migrationTimeout       = 5 * time.Minute
	migrationLockTimeout   = "10s"
)

//go:embed migrations/*.up.sql
var embeddedMigrations embed.FS

// Migrations returns the schema files compiled into the binary.
func Migrations() fs.FS {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// DB is the connection pool behind the postgres history cache.
type DB struct {
	*sql.DB
	logger *slog.Logger
}

type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// StatementTimeoutMS of zero selects DefaultStatementTimeoutMS; negative disables it.
	StatementTimeoutMS int
	Logger             *slog.Logger
}

// New opens and pings the pool.
func New(ctx context.Context, cfg Config) (*DB, error) {
	timeoutMS, err := resolveStatementTimeoutMS(cfg.StatementTimeoutMS)
	if err != nil {
		return nil, err
	}
	dsn := cfg.URL
	if timeoutMS > 0 {
		dsn = appendStatementTimeout(dsn, timeoutMS)
	}

	pool, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	if cfg.ConnMaxIdleTime > 0 {
		pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	} else {
		pool.SetConnMaxIdleTime(defaultConnMaxIdleTime)
	}

	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DB{DB: pool, logger: logger.With("component", "postgres")}, nil
}

// appendStatementTimeout passes statement_timeout as a startup option so
// every pooled connection carries it.
func appendStatementTimeout(dsn string, timeoutMS int) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "options=-c%20statement_timeout%3D" + strconv.Itoa(timeoutMS)
}

// RunMigrations applies every *.up.sql in migrations, lexically ordered, and
// records each version in schema_migrations. Applied versions are skipped.
func (db *DB) RunMigrations(ctx context.Context, migrations fs.FS) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	// fs.Glob returns names in lexical order.
	names, err := fs.Glob(migrations, "*.up.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if applied[name] {
			continue
		}
		body, err := fs.ReadFile(migrations, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if err := db.apply(ctx, name, string(body)); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (db *DB) apply(ctx context.Context, version, statements string) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, migrationTimeout)
	defer cancel()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %s: begin: %w", version, err)
	}
	defer func() { _ = tx.Rollback() }()

	steps := []struct {
		what  string
		query string
		args  []any
	}{
		{"lock_timeout", "SET LOCAL lock_timeout = '" + migrationLockTimeout + "'", nil},
		{"exec", statements, nil},
		{"record", "INSERT INTO schema_migrations (version) VALUES ($1)", []any{version}},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.query, step.args...); err != nil {
			return fmt.Errorf("migration %s: %s: %w", version, step.what, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration %s: commit: %w", version, err)
	}

	db.logger.Info("migration applied", "version", version, "elapsed", time.Since(start).String())
	return nil
}

func resolveStatementTimeoutMS(ms int) (int, error) {
	switch {
	case ms == 0:
		return DefaultStatementTimeoutMS, nil
	case ms < 0:
		return 0, nil
	case ms > maxStatementTimeoutMS:
		return 0, fmt.Errorf("statement timeout %dms out of allowed range (0, %d]", ms, maxStatementTimeoutMS)
	default:
		return ms, nil
	}
}
