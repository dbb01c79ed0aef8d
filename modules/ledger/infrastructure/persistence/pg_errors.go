package persistence

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Storage-level uniqueness backstops. The partial index enforces the
// one-ACTIVE-per-field invariant; the idempotency primary key catches two
// racing creates with the same key.
const (
	constraintOneActivePerField = "corrections_one_active_per_field"
	constraintIdempotencyPKey   = "idempotency_pkey"
)

const sqlstateUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	ok := errors.As(err, &pgErr)
	return ok && pgErr != nil && pgErr.Code == sqlstateUniqueViolation
}
