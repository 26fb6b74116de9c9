package loans

import (
	"errors"
	"fmt"
)

// Outcomes a caller is expected to branch on. All of them are reported as
// values; none leaves a transaction partially applied.
var (
	ErrAlreadyHoldingDevice = errors.New("student already has a device on loan")
	ErrStudentNotRegistered = errors.New("student is not registered")
	ErrStudentNotFound      = errors.New("student not found")
	ErrDeviceNotFound       = errors.New("device not found")
	ErrDeviceAlreadyLoaned  = errors.New("device is already out for loan")
	ErrNoMatchingOpenLoan   = errors.New("no matching open loan for student and device")
	ErrUnauthorized         = errors.New("caller is not allowed to remove students")
	ErrDeletionConflict     = errors.New("student could not be deleted")
	ErrConstraintViolation  = errors.New("constraint violation")
	ErrInvalidInput         = errors.New("invalid input")
	ErrUnknownDirectory     = errors.New("unknown directory kind")
	ErrStore                = errors.New("store error")
)

// ErrNotFound is returned by Tx and Reader lookups when no row matches.
// The engine never hands it to its own callers.
var ErrNotFound = errors.New("record not found")

// ConstraintError is how a Store reports a violated unique or foreign key
// constraint. Constraint is the index or constraint name from models.
type ConstraintError struct {
	Constraint string
	ForeignKey bool
	Err        error
}

func (e *ConstraintError) Error() string {
	kind := "unique"
	if e.ForeignKey {
		kind = "foreign key"
	}
	return fmt.Sprintf("%s constraint %q violated", kind, e.Constraint)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// FieldError ties a failure to one input field. Kind is ErrConstraintViolation
// when a stored value already holds the field (a taken username) and
// ErrInvalidInput when the value itself was rejected.
type FieldError struct {
	Field   string
	Message string
	Kind    error
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Message }

func (e *FieldError) Is(target error) bool { return target == e.Kind }

func conflictErr(field, msg string) error {
	return &FieldError{Field: field, Message: msg, Kind: ErrConstraintViolation}
}

func invalidErr(field, msg string) error {
	return &FieldError{Field: field, Message: msg, Kind: ErrInvalidInput}
}

var outcomes = []error{
	ErrAlreadyHoldingDevice,
	ErrStudentNotRegistered,
	ErrStudentNotFound,
	ErrDeviceNotFound,
	ErrDeviceAlreadyLoaned,
	ErrNoMatchingOpenLoan,
	ErrUnauthorized,
	ErrDeletionConflict,
	ErrConstraintViolation,
	ErrInvalidInput,
	ErrUnknownDirectory,
}

// IsOutcome reports whether err is one of the named outcomes rather than a
// store failure.
func IsOutcome(err error) bool {
	for _, o := range outcomes {
		if errors.Is(err, o) {
			return true
		}
	}
	return false
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStore, err)
}
