package loans

import (
	"context"
	"errors"
	"iter"
	"strings"

	"uobsw2project/models"
)

// NewStudent is the input to AddStudent. Values are trimmed before the
// validate tags are checked; the max lengths match the models columns.
type NewStudent struct {
	Username  string `json:"username" validate:"required,max=20"`
	FirstName string `json:"firstname" validate:"max=32"`
	LastName  string `json:"lastname" validate:"required,max=32"`
	Email     string `json:"email" validate:"required,max=64,email"`
}

// AddStudent registers an active student. A taken username or email comes
// back as a *FieldError naming the field.
func (e *Engine) AddStudent(ctx context.Context, in NewStudent) (*models.Student, error) {
	in = NewStudent{
		Username:  trim(in.Username),
		FirstName: trim(in.FirstName),
		LastName:  trim(in.LastName),
		Email:     trim(in.Email),
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	s := &models.Student{
		Username:  in.Username,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Active:    true,
	}
	err := e.store.Transaction(ctx, func(tx Tx) error {
		return tx.CreateStudent(s)
	})
	if err != nil {
		return nil, classify(err)
	}
	return s, nil
}

type newDevice struct {
	DeviceType string `json:"deviceType" validate:"required,max=15"`
}

func (e *Engine) AddDevice(ctx context.Context, deviceType string) (*models.Device, error) {
	in := newDevice{DeviceType: trim(deviceType)}
	if err := validateInput(in); err != nil {
		return nil, err
	}
	d := &models.Device{DeviceType: in.DeviceType}
	err := e.store.Transaction(ctx, func(tx Tx) error {
		return tx.CreateDevice(d)
	})
	if err != nil {
		return nil, classify(err)
	}
	return d, nil
}

type StudentReport struct {
	Student  models.Student `json:"student"`
	OpenLoan *models.Loan   `json:"openLoan"`
}

// StudentReport returns the student with its loan history, newest first.
func (e *Engine) StudentReport(ctx context.Context, id uint) (*StudentReport, error) {
	s, err := e.store.FindStudent(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrStudentNotFound
	} else if err != nil {
		return nil, storeErr(err)
	}
	return &StudentReport{Student: *s, OpenLoan: openLoan(s.Loans)}, nil
}

type DeviceReport struct {
	Device   models.Device `json:"device"`
	OpenLoan *models.Loan  `json:"openLoan"`
}

func (e *Engine) DeviceReport(ctx context.Context, id uint) (*DeviceReport, error) {
	d, err := e.store.FindDevice(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrDeviceNotFound
	} else if err != nil {
		return nil, storeErr(err)
	}
	return &DeviceReport{Device: *d, OpenLoan: openLoan(d.Loans)}, nil
}

func openLoan(ls []models.Loan) *models.Loan {
	for i := range ls {
		if ls[i].Open() {
			l := ls[i]
			return &l
		}
	}
	return nil
}

func (e *Engine) ListStudents(ctx context.Context, q StudentQuery) (Page[models.Student], error) {
	q.Q = trim(q.Q)
	q.Normalize(100)
	p, err := e.store.ListStudents(ctx, q)
	if err != nil {
		return Page[models.Student]{}, storeErr(err)
	}
	return p, nil
}

func (e *Engine) ListDevices(ctx context.Context, q DeviceQuery) (Page[models.Device], error) {
	q.Normalize(200)
	p, err := e.store.ListDevices(ctx, q)
	if err != nil {
		return Page[models.Device]{}, storeErr(err)
	}
	return p, nil
}

func (e *Engine) ListLoans(ctx context.Context, f LoanFilter) ([]models.Loan, error) {
	ls, err := e.store.ListLoans(ctx, f)
	if err != nil {
		return nil, storeErr(err)
	}
	return ls, nil
}

type DirectoryKind string

const (
	KindStudent DirectoryKind = "student"
	KindDevice  DirectoryKind = "device"
)

// Entry is one search hit; exactly one of Student and Device is set.
type Entry struct {
	Kind    DirectoryKind   `json:"kind"`
	Student *models.Student `json:"student,omitempty"`
	Device  *models.Device  `json:"device,omitempty"`
}

// SearchDirectory matches query as a case-insensitive substring: against
// first name, last name, username and email for students, and against the
// device type for devices. The sequence is lazy; ranging over it again runs
// the search again.
func (e *Engine) SearchDirectory(ctx context.Context, kind DirectoryKind, query string) (iter.Seq2[Entry, error], error) {
	query = trim(query)
	switch kind {
	case KindStudent:
		return mapSeq(e.store.SearchStudents(ctx, query), func(s models.Student) Entry {
			return Entry{Kind: KindStudent, Student: &s}
		}), nil
	case KindDevice:
		return mapSeq(e.store.SearchDevices(ctx, query), func(d models.Device) Entry {
			return Entry{Kind: KindDevice, Device: &d}
		}), nil
	}
	return nil, ErrUnknownDirectory
}

func mapSeq[T any](seq iter.Seq2[T, error], f func(T) Entry) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		for v, err := range seq {
			if err != nil {
				yield(Entry{}, storeErr(err))
				return
			}
			if !yield(f(v), nil) {
				return
			}
		}
	}
}

func trim(s string) string { return strings.TrimSpace(s) }
