package db

import (
	"errors"

	"uobsw2project/loans"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// translate turns driver errors into the store errors the loans engine
// understands: missing rows become loans.ErrNotFound and constraint
// violations become *loans.ConstraintError carrying the constraint name.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return loans.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return &loans.ConstraintError{Constraint: pgErr.ConstraintName, Err: err}
		case pgForeignKeyViolation:
			return &loans.ConstraintError{Constraint: pgErr.ConstraintName, ForeignKey: true, Err: err}
		}
	}
	return err
}

// IsNotFound reports whether err means no row matched.
func IsNotFound(err error) bool { return errors.Is(err, loans.ErrNotFound) }

// ViolatedConstraint returns the name of the unique or foreign key
// constraint behind err, if any.
func ViolatedConstraint(err error) (string, bool) {
	var ce *loans.ConstraintError
	if errors.As(err, &ce) {
		return ce.Constraint, true
	}
	return "", false
}
