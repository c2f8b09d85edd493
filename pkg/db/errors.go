package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
)

// IsUniqueViolation reports whether the provided error references a Postgres
// unique violation constraint. When constraintName is provided, the helper looks
// for the constraint text in the error message.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	return strings.Contains(msg, "duplicate key value")
}

// transient SQLSTATE classes and codes: connection exceptions, serialization
// failures, deadlocks, shutdowns and connection exhaustion.
var transientPGCodes = map[string]struct{}{
	"40001": {},
	"40P01": {},
	"57P01": {},
	"57P02": {},
	"57P03": {},
	"53300": {},
}

// IsTxConflict reports whether err is a serialization failure or deadlock,
// the two outcomes where rerunning the whole transaction can succeed.
func IsTxConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// IsTransient reports whether err is a connectivity or contention failure the
// caller may retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "08") {
			return true
		}
		_, ok := transientPGCodes[pgErr.Code]
		return ok
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// Classify wraps a raw persistence error as TRANSIENT or INTERNAL. Errors that
// already carry a code are returned unchanged.
func Classify(err error, message string) error {
	if err == nil {
		return nil
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	if IsTransient(err) {
		return pkgerrors.Wrap(pkgerrors.CodeTransient, err, message)
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, message)
}
