package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// asPgError extracts a Postgres SQLSTATE code from err, whichever wire
// driver produced it: pgconn.PgError on the live pgx connection, or
// *pq.Error in tests built against github.com/DATA-DOG/go-sqlmock, which
// speaks the lib/pq error shape.
func asPgError(err error) (code string, ok bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), true
	}
	return "", false
}
