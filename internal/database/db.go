package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/campuskit/checkpoint/internal/models"
)

// Unique constraint names referenced by MapPostgresError. Kept in one
// place so schema and code stay aligned.
const (
	constraintRecordPerStudent = "attendance_records_session_student_key"
	constraintDevicePerStudent = "device_fingerprints_student_hash_key"
)

// MapPostgresError translates driver errors into domain sentinels. Unique
// violations resolve to the specific duplicate error for the constraint
// that fired, which is how the atomic check-and-insert surfaces races.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	if pgErr, ok := err.(*pgconn.PgError); ok {
		switch pgErr.Code {
		case "23505": // unique_violation
			switch pgErr.ConstraintName {
			case constraintRecordPerStudent:
				return models.ErrAlreadyMarked
			case constraintDevicePerStudent:
				return models.ErrDuplicateDevice
			}
			return models.ErrConflict
		case "23503": // foreign_key_violation
			return models.ErrBadRequest
		case "23502": // not_null_violation
			return models.ErrBadRequest
		}
	}

	return err
}

func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		} else if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	err = fn(tx)
	return err
}
