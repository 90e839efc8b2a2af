package store

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// isUniqueViolation reports whether err is a Postgres unique
// constraint violation (SQLSTATE 23505), the signal used throughout
// this package to detect idempotency conflicts the spec says to
// swallow rather than surface (spec §7): duplicate heartbeat buckets,
// duplicate device enrollment, duplicate (run_id, batch_index), etc.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// Fallback for drivers/mocks that don't surface a *pgconn.PgError.
	return strings.Contains(err.Error(), "duplicate key")
}
