// Package loans holds the rules for borrowing and returning devices and for
// retiring students. It decides whether an operation is admissible against
// the current state of a Store and applies the resulting change in a single
// transaction.
package loans

import (
	"context"
	"errors"
	"log"
	"time"

	"uobsw2project/models"
)

type Engine struct {
	store    Store
	notifier Notifier

	// Now is the clock used for borrow and return timestamps.
	Now func() time.Time
}

func New(store Store, notifier Notifier) *Engine {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Engine{
		store:    store,
		notifier: notifier,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// BorrowDevice opens a loan of deviceID to studentID. Checks run in order and
// the first failure wins: the student must not hold an open loan, must exist
// and be active, and the device must exist and not be out on loan.
func (e *Engine) BorrowDevice(ctx context.Context, studentID, deviceID uint) (*models.Loan, error) {
	var loan *models.Loan
	err := e.store.Transaction(ctx, func(tx Tx) error {
		// Lock the student first so concurrent borrows by the same student
		// queue here instead of racing the open-loan check.
		student, err := tx.StudentForUpdate(studentID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if found, err := exists(tx.OpenLoanByStudent(studentID)); err != nil {
			return err
		} else if found {
			return ErrAlreadyHoldingDevice
		}
		if student == nil || !student.Active {
			return ErrStudentNotRegistered
		}

		if _, err := tx.DeviceForUpdate(deviceID); errors.Is(err, ErrNotFound) {
			return ErrDeviceNotFound
		} else if err != nil {
			return err
		}
		if found, err := exists(tx.OpenLoanByDevice(deviceID)); err != nil {
			return err
		} else if found {
			return ErrDeviceAlreadyLoaned
		}

		l := &models.Loan{
			StudentID:  studentID,
			DeviceID:   deviceID,
			BorrowedAt: e.Now(),
		}
		if err := tx.CreateLoan(l); err != nil {
			return err
		}
		loan = l
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	e.notify(ctx, Event{Type: EventBorrowed, StudentID: studentID, DeviceID: deviceID, LoanID: loan.ID, At: loan.BorrowedAt})
	return loan, nil
}

// ReturnDevice closes the open loan of deviceID held by studentID. When there
// is none, including when it was already returned, it reports
// ErrNoMatchingOpenLoan and changes nothing.
func (e *Engine) ReturnDevice(ctx context.Context, studentID, deviceID uint) (*models.Loan, error) {
	var loan *models.Loan
	err := e.store.Transaction(ctx, func(tx Tx) error {
		l, err := tx.OpenLoanFor(studentID, deviceID)
		if errors.Is(err, ErrNotFound) {
			return ErrNoMatchingOpenLoan
		} else if err != nil {
			return err
		}
		if err := tx.CloseLoan(l, e.Now()); errors.Is(err, ErrNotFound) {
			return ErrNoMatchingOpenLoan
		} else if err != nil {
			return err
		}
		loan = l
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	e.notify(ctx, Event{Type: EventReturned, StudentID: studentID, DeviceID: deviceID, LoanID: loan.ID, At: *loan.ReturnedAt})
	return loan, nil
}

// DeactivateStudent marks the student inactive. Open loans stay open: an
// inactive student may still owe a device.
func (e *Engine) DeactivateStudent(ctx context.Context, studentID uint) (*models.Student, error) {
	var student *models.Student
	err := e.store.Transaction(ctx, func(tx Tx) error {
		s, err := tx.StudentForUpdate(studentID)
		if errors.Is(err, ErrNotFound) {
			return ErrStudentNotFound
		} else if err != nil {
			return err
		}
		if err := tx.SetStudentActive(s.ID, false); err != nil {
			return err
		}
		s.Active = false
		student = s
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	e.notify(ctx, Event{Type: EventDeactivated, StudentID: studentID, At: e.Now()})
	return student, nil
}

type Removal struct {
	Student      models.Student `json:"student"`
	LoansDeleted int64          `json:"loansDeleted"`
}

// RemoveStudent deletes the student matching username and email, and every
// loan that references it, in one transaction. The student lookup happens
// before the authorization check, so an unknown student reports
// ErrStudentNotFound even for an unauthorized caller.
func (e *Engine) RemoveStudent(ctx context.Context, username, email string, authorized bool) (*Removal, error) {
	var removal *Removal
	err := e.store.Transaction(ctx, func(tx Tx) error {
		s, err := tx.StudentByLogin(trim(username), trim(email))
		if errors.Is(err, ErrNotFound) {
			return ErrStudentNotFound
		} else if err != nil {
			return err
		}
		if !authorized {
			return ErrUnauthorized
		}
		n, err := tx.DeleteLoansByStudent(s.ID)
		if err != nil {
			return deletionErr(err)
		}
		if err := tx.DeleteStudent(s.ID); err != nil {
			return deletionErr(err)
		}
		removal = &Removal{Student: *s, LoansDeleted: n}
		return nil
	})
	if err != nil {
		err = classify(err)
		if errors.Is(err, ErrDeletionConflict) {
			log.Printf("[loans] remove student %q: %v", username, err)
		}
		return nil, err
	}
	e.notify(ctx, Event{Type: EventRemoved, StudentID: removal.Student.ID, At: e.Now()})
	return removal, nil
}

func (e *Engine) notify(ctx context.Context, ev Event) {
	e.notifier.Notify(context.WithoutCancel(ctx), ev)
}

// exists turns a lookup result into found/not found, passing through real
// store failures.
func exists[T any](v *T, err error) (bool, error) {
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

func deletionErr(err error) error {
	var ce *ConstraintError
	if errors.As(err, &ce) && ce.ForeignKey {
		return errors.Join(ErrDeletionConflict, err)
	}
	return err
}

// classify maps whatever came out of a transaction onto the outcome errors.
// Anything not recognised is a store failure.
func classify(err error) error {
	if IsOutcome(err) {
		return err
	}
	var ce *ConstraintError
	if errors.As(err, &ce) {
		switch ce.Constraint {
		case models.IdxLoanOpenPerStudent:
			return ErrAlreadyHoldingDevice
		case models.IdxLoanOpenPerDevice:
			return ErrDeviceAlreadyLoaned
		case models.IdxStudentUsername:
			return conflictErr("username", "This username is already taken. Please choose another")
		case models.IdxStudentEmail:
			return conflictErr("email", "This email address is already registered. Please choose another")
		}
		if !ce.ForeignKey {
			return conflictErr(ce.Constraint, "value already exists")
		}
	}
	return storeErr(err)
}
