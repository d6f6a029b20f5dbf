package mapper

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/fragstore/internal/storage"
)

// classify wraps a driver failure as a store error, naming the constraint
// and contention failures both drivers report.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	se := storage.WrapStoreError(op, err)
	var e *storage.Error
	if errors.As(se, &e) && e.Code == storage.ErrCodeStore {
		switch {
		case IsConstraintViolation(err):
			e.Message = "constraint violation"
		case IsBusy(err):
			e.Message = "store busy"
		}
	}
	return se
}

// IsConstraintViolation reports whether the store rejected a statement for
// breaking a key, uniqueness or foreign key constraint.
func IsConstraintViolation(err error) bool {
	var lite sqlite3.Error
	if errors.As(err, &lite) {
		return lite.Code == sqlite3.ErrConstraint
	}
	var pg *pgconn.PgError
	if errors.As(err, &pg) {
		// Class 23: integrity constraint violation.
		return strings.HasPrefix(pg.Code, "23")
	}
	return false
}

// IsBusy reports whether the store failed on lock contention.
func IsBusy(err error) bool {
	var lite sqlite3.Error
	if errors.As(err, &lite) {
		return lite.Code == sqlite3.ErrBusy || lite.Code == sqlite3.ErrLocked
	}
	var pg *pgconn.PgError
	if errors.As(err, &pg) {
		// 40001 serialization_failure, 40P01 deadlock_detected, 55P03 lock_not_available.
		return pg.Code == "40001" || pg.Code == "40P01" || pg.Code == "55P03"
	}
	return false
}
