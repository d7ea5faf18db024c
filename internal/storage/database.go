// Package storage provides database access and repositories
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/findosh/contactdesk/internal/logging"
	"github.com/findosh/contactdesk/internal/storage/migrations"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

// Supported drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// goose entry points, swapped in tests
var (
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.UpContext(ctx, db, dir, opts...)
	}
	gooseVersion = goose.GetDBVersionContext
)

// DBTX is satisfied by both *sqlx.DB and *sqlx.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
	Rebind(query string) string
}

// DB wraps the database connection
type DB struct {
	*sqlx.DB
	logger *zap.Logger
}

// Open connects to the database and waits for it to answer a ping
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (*DB, error) {
	logger = logging.OrNop(logger).Named("storage")

	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	err = backoff.RetryNotify(
		func() error { return db.PingContext(ctx) },
		backoff.WithContext(backoff.WithMaxRetries(b, 5), ctx),
		func(err error, next time.Duration) {
			logger.Warn("database not reachable, retrying", zap.Error(err), zap.Duration("next", next))
		},
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	return Wrap(db, logger), nil
}

// Wrap adopts an existing connection
func Wrap(db *sqlx.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logging.OrNop(logger)}
}

// sqliteDSN enables foreign keys, WAL and a busy timeout unless the DSN sets its own options
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn
	}
	return dsn + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}

// Migrate runs database migrations
func (db *DB) Migrate(ctx context.Context) error {
	dir, err := db.gooseSetup()
	if err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db.DB.DB, dir); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Version returns the applied schema version
func (db *DB) Version(ctx context.Context) (int64, error) {
	if _, err := db.gooseSetup(); err != nil {
		return 0, err
	}
	v, err := gooseVersion(ctx, db.DB.DB)
	if err != nil {
		return 0, fmt.Errorf("schema version: %w", err)
	}
	return v, nil
}

func (db *DB) gooseSetup() (string, error) {
	dialect, dir := "sqlite3", "sqlite3"
	if db.DriverName() == DriverPostgres {
		dialect, dir = "postgres", "postgres"
	}

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{db.logger.Sugar()})
	if err := goose.SetDialect(dialect); err != nil {
		return "", fmt.Errorf("migration dialect: %w", err)
	}
	return dir, nil
}

// WithTx runs fn inside a transaction, committing on success and rolling back on error
func WithTx(ctx context.Context, db *sqlx.DB, fn func(ctx context.Context, tx DBTX) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type gooseLogger struct {
	l *zap.SugaredLogger
}

func (g gooseLogger) Fatalf(format string, v ...any) { g.l.Fatalf(strings.TrimSpace(format), v...) }
func (g gooseLogger) Printf(format string, v ...any) { g.l.Infof(strings.TrimSpace(format), v...) }
