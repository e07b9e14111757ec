// Package postgres is the durable store.Store implementation: a thin
// sqlx.DB wrapper over Postgres, reached through pgx's database/sql
// adapter, with schema migrations managed by goose. This is the
// enrichment spec.md §4.B calls for — the teacher repo is file-based and
// has no relational store of its own, so the stack is adopted from the
// jordigilh-kubernaut example, the one pack repo with a real Postgres
// deployment (pgx, sqlx, lib/pq, goose, go-sqlmock).
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	"golang.org/x/xerrors"

	"github.com/distr1/buildorch"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements store.Store against a Postgres database.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn (a standard Postgres connection string) via pgx's
// database/sql driver and wraps it with sqlx for struct scanning.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, xerrors.Errorf("store: connecting to database: %w", err)
	}
	return &Store{db: db}, nil
}

// Migrate brings the schema up to the latest embedded migration using
// goose, the migration runner kubernaut's stack already depends on.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return xerrors.Errorf("store: setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db.DB, "migrations"); err != nil {
		return xerrors.Errorf("store: running migrations: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// translate turns a raw database/sql error into a *buildorch.Error with
// the right Kind, per spec.md §7's propagation policy ("database
// uniqueness violations are translated to Conflict; database-not-found is
// translated to NotFound").
func translate(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return buildorch.Errorf(buildorch.KindNotFound, err, format, args...)
	}
	if isUniqueViolation(err) {
		return buildorch.Errorf(buildorch.KindConflict, err, format, args...)
	}
	return buildorch.Errorf(buildorch.KindInternal, err, format, args...)
}

// isUniqueViolation recognizes Postgres error code 23505 regardless of
// whether it arrives wrapped in a pgconn.PgError (the live pgx driver path)
// or a lib/pq *pq.Error (the shape store tests build with go-sqlmock,
// matching kubernaut's own mock-driven store tests).
func isUniqueViolation(err error) bool {
	var code string
	if pg, ok := asPgError(err); ok {
		code = pg
	}
	return code == "23505"
}
