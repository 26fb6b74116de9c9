package loans

import (
	"context"
	"iter"
	"time"

	"uobsw2project/models"
)

// Store is the persistence the engine runs against. Transaction must run fn
// atomically: if fn returns an error nothing it wrote is kept.
type Store interface {
	Transaction(ctx context.Context, fn func(tx Tx) error) error
	Reader
}

// Tx is the set of reads and writes available inside one transaction.
// Lookups return ErrNotFound when nothing matches. Methods named
// ...ForUpdate, StudentByLogin and OpenLoanFor lock the rows they return
// until the transaction ends.
type Tx interface {
	StudentForUpdate(id uint) (*models.Student, error)
	StudentByLogin(username, email string) (*models.Student, error)
	DeviceForUpdate(id uint) (*models.Device, error)

	OpenLoanByStudent(studentID uint) (*models.Loan, error)
	OpenLoanByDevice(deviceID uint) (*models.Loan, error)
	OpenLoanFor(studentID, deviceID uint) (*models.Loan, error)

	CreateLoan(l *models.Loan) error
	// CloseLoan sets the return time of an open loan. It returns
	// ErrNotFound if the loan is already closed.
	CloseLoan(l *models.Loan, at time.Time) error

	CreateStudent(s *models.Student) error
	CreateDevice(d *models.Device) error
	SetStudentActive(id uint, active bool) error
	DeleteLoansByStudent(studentID uint) (int64, error)
	DeleteStudent(id uint) error
}

// Reader serves listings, reports and search. Reads are not required to be
// consistent with concurrent writes.
type Reader interface {
	FindStudent(ctx context.Context, id uint) (*models.Student, error)
	FindDevice(ctx context.Context, id uint) (*models.Device, error)
	ListStudents(ctx context.Context, q StudentQuery) (Page[models.Student], error)
	ListDevices(ctx context.Context, q DeviceQuery) (Page[models.Device], error)
	ListLoans(ctx context.Context, f LoanFilter) ([]models.Loan, error)

	// SearchStudents and SearchDevices yield rows whose text columns
	// contain q, ignoring case, ordered by primary key.
	SearchStudents(ctx context.Context, q string) iter.Seq2[models.Student, error]
	SearchDevices(ctx context.Context, q string) iter.Seq2[models.Device, error]
}

type Page[T any] struct {
	Total int64 `json:"total"`
	Items []T   `json:"items"`
}

type Paging struct {
	Page int
	Size int
}

// Normalize clamps page to >= 1 and size to 1..max, defaulting size to 20.
func (p *Paging) Normalize(max int) {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.Size <= 0 || p.Size > max {
		p.Size = 20
	}
}

func (p Paging) Offset() int { return (p.Page - 1) * p.Size }

type StudentQuery struct {
	Q string // username, names or email
	Paging
}

const (
	DeviceAvailable = "available"
	DeviceOnLoan    = "on_loan"

	LoanOpen     = "open"
	LoanReturned = "returned"
)

type DeviceQuery struct {
	Status string // "", DeviceAvailable, DeviceOnLoan
	Paging
}

type LoanFilter struct {
	StudentID uint
	DeviceID  uint
	Status    string // "", LoanOpen, LoanReturned
}
