package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"issueprops/api/internal/property"
)

var errNotFound = property.ErrNotFound

const (
	sqlStateUniqueViolation      = "23505"
	sqlStateForeignKeyViolation  = "23503"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

func pgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// uniqueViolation returns the name of the violated unique constraint.
func uniqueViolation(err error) (string, bool) {
	pgErr, ok := pgError(err)
	if !ok || pgErr.SQLState() != sqlStateUniqueViolation {
		return "", false
	}
	return pgErr.ConstraintName, true
}

func isForeignKeyViolation(err error) bool {
	pgErr, ok := pgError(err)
	return ok && pgErr.SQLState() == sqlStateForeignKeyViolation
}

func isRetryable(err error) bool {
	pgErr, ok := pgError(err)
	if !ok {
		return false
	}
	switch pgErr.SQLState() {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected:
		return true
	}
	return false
}
