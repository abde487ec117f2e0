package store

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// isRetryable classifies a database error per spec §7: connection
// errors and a conservative set of transient PG error classes are
// retry-safe; constraint violations and anything else are hard errors
// raised to the caller. A missing row (ErrNotFound, pgx.ErrNoRows) is
// an answer, not a failure, and is returned as is.
func isRetryable(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"08000", "08003", "08006", "08001", "08004": // connection_exception family
			return true
		}
		return false
	}
	// Anything that isn't a classified PG error (network resets, pool
	// exhaustion) is treated as transient.
	return true
}

func timeAfterLinear(attempt int) <-chan time.Time {
	return time.After(time.Duration(attempt) * 150 * time.Millisecond)
}
