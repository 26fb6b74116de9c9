package loans_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uobsw2project/loans"
	"uobsw2project/loans/loanstest"
	"uobsw2project/models"
)

type recorder struct {
	mu     sync.Mutex
	events []loans.Event
}

func (r *recorder) Notify(_ context.Context, ev loans.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	store *loanstest.Store
	eng   *loans.Engine
	rec   *recorder
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: loanstest.New(),
		rec:   &recorder{},
		clock: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
	}
	f.eng = loans.New(f.store, f.rec)
	f.eng.Now = func() time.Time {
		f.clock = f.clock.Add(time.Minute)
		return f.clock
	}
	return f
}

func (f *fixture) student(id uint, username string) models.Student {
	return f.store.SeedStudent(models.Student{ID: id, Username: username, LastName: "Smith", Email: username + "@example.com", Active: true})
}

func (f *fixture) device(id uint) models.Device {
	return f.store.SeedDevice(models.Device{ID: id, DeviceType: "laptop"})
}

func openLoans(ls []models.Loan, match func(models.Loan) bool) int {
	n := 0
	for _, l := range ls {
		if l.Open() && match(l) {
			n++
		}
	}
	return n
}

func TestBorrowReturnLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.student(1, "alice")
	f.device(10)

	loan, err := f.eng.BorrowDevice(ctx, 1, 10)
	require.NoError(t, err)
	assert.Nil(t, loan.ReturnedAt)
	assert.Equal(t, uint(1), loan.StudentID)
	assert.Equal(t, uint(10), loan.DeviceID)
	assert.False(t, loan.BorrowedAt.IsZero())

	returned, err := f.eng.ReturnDevice(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, loan.ID, returned.ID)
	require.NotNil(t, returned.ReturnedAt)
	assert.True(t, returned.ReturnedAt.After(loan.BorrowedAt))

	_, err = f.eng.ReturnDevice(ctx, 1, 10)
	assert.ErrorIs(t, err, loans.ErrNoMatchingOpenLoan)

	all := f.store.Loans()
	require.Len(t, all, 1)
	assert.Equal(t, *returned.ReturnedAt, *all[0].ReturnedAt)

	assert.Equal(t, []string{loans.EventBorrowed, loans.EventReturned}, f.rec.types())
}

func TestBorrowSecondDeviceFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.student(1, "alice")
	f.device(10)
	f.device(11)

	_, err := f.eng.BorrowDevice(ctx, 1, 10)
	require.NoError(t, err)

	_, err = f.eng.BorrowDevice(ctx, 1, 11)
	assert.ErrorIs(t, err, loans.ErrAlreadyHoldingDevice)
	assert.Equal(t, 1, openLoans(f.store.Loans(), func(l models.Loan) bool { return l.StudentID == 1 }))
}

func TestBorrowLoanedDeviceFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.student(1, "alice")
	f.student(2, "bob")
	f.device(10)

	_, err := f.eng.BorrowDevice(ctx, 1, 10)
	require.NoError(t, err)

	_, err = f.eng.BorrowDevice(ctx, 2, 10)
	assert.ErrorIs(t, err, loans.ErrDeviceAlreadyLoaned)
}

func TestBorrowAfterReturnSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.student(1, "alice")
	f.student(2, "bob")
	f.device(10)

	_, err := f.eng.BorrowDevice(ctx, 1, 10)
	require.NoError(t, err)
	_, err = f.eng.ReturnDevice(ctx, 1, 10)
	require.NoError(t, err)

	_, err = f.eng.BorrowDevice(ctx, 2, 10)
	require.NoError(t, err)
	assert.Len(t, f.store.Loans(), 2)
}

func TestBorrowPreconditionOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("holding beats inactive", func(t *testing.T) {
		f := newFixture(t)
		f.student(1, "alice")
		f.device(10)
		f.device(11)
		_, err := f.eng.BorrowDevice(ctx, 1, 10)
		require.NoError(t, err)
		_, err = f.eng.DeactivateStudent(ctx, 1)
		require.NoError(t, err)

		_, err = f.eng.BorrowDevice(ctx, 1, 11)
		assert.ErrorIs(t, err, loans.ErrAlreadyHoldingDevice)
	})

	t.Run("unknown student", func(t *testing.T) {
		f := newFixture(t)
		f.device(10)
		_, err := f.eng.BorrowDevice(ctx, 99, 10)
		assert.ErrorIs(t, err, loans.ErrStudentNotRegistered)
	})

	t.Run("inactive student", func(t *testing.T) {
		f := newFixture(t)
		f.store.SeedStudent(models.Student{ID: 1, Username: "alice", LastName: "A", Email: "a@example.com", Active: false})
		f.device(10)
		_, err := f.eng.BorrowDevice(ctx, 1, 10)
		assert.ErrorIs(t, err, loans.ErrStudentNotRegistered)
	})

	t.Run("unregistered beats loaned device", func(t *testing.T) {
		f := newFixture(t)
		f.student(1, "alice")
		f.device(10)
		_, err := f.eng.BorrowDevice(ctx, 1, 10)
		require.NoError(t, err)
		_, err = f.eng.BorrowDevice(ctx, 42, 10)
		assert.ErrorIs(t, err, loans.ErrStudentNotRegistered)
	})

	t.Run("unknown device", func(t *testing.T) {
		f := newFixture(t)
		f.student(1, "alice")
		_, err := f.eng.BorrowDevice(ctx, 1, 77)
		assert.ErrorIs(t, err, loans.ErrDeviceNotFound)
		assert.Empty(t, f.store.Loans())
	})
}

func TestBorrowTranslatesUniqueIndexViolation(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		constraint string
		want       error
	}{
		{models.IdxLoanOpenPerDevice, loans.ErrDeviceAlreadyLoaned},
		{models.IdxLoanOpenPerStudent, loans.ErrAlreadyHoldingDevice},
	}
	for _, tc := range cases {
		t.Run(tc.constraint, func(t *testing.T) {
			f := newFixture(t)
			f.student(1, "alice")
			f.device(10)
			f.store.FailOn("CreateLoan", &loans.ConstraintError{Constraint: tc.constraint})

			_, err := f.eng.BorrowDevice(ctx, 1, 10)
			assert.ErrorIs(t, err, tc.want)
			assert.NotErrorIs(t, err, loans.ErrStore)
			assert.Empty(t, f.store.Loans())
			assert.Empty(t, f.rec.types())
		})
	}
}

func TestStoreFailureIsReportedAsStoreError(t *testing.T) {
	f := newFixture(t)
	f.student(1, "alice")
	f.device(10)
	f.store.FailOn("OpenLoanByDevice", errors.New("connection reset"))

	_, err := f.eng.BorrowDevice(context.Background(), 1, 10)
	assert.ErrorIs(t, err, loans.ErrStore)
	assert.False(t, loans.IsOutcome(err))
	assert.Empty(t, f.store.Loans())
}

func TestConcurrentBorrowsOfOneDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const n = 16
	for i := 1; i <= n; i++ {
		f.student(uint(i), "student"+string(rune('a'+i)))
	}
	f.device(100)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		loaned  int
		unknown []error
	)
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			_, err := f.eng.BorrowDevice(ctx, id, 100)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, loans.ErrDeviceAlreadyLoaned):
				loaned++
			default:
				unknown = append(unknown, err)
			}
		}(uint(i))
	}
	wg.Wait()

	assert.Empty(t, unknown)
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, loaned)
	assert.Equal(t, 1, openLoans(f.store.Loans(), func(l models.Loan) bool { return l.DeviceID == 100 }))
}

func TestConcurrentBorrowsByOneStudent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.student(1, "alice")
	for i := 0; i < 8; i++ {
		f.device(uint(200 + i))
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(dev uint) {
			defer wg.Done()
			_, err := f.eng.BorrowDevice(ctx, 1, dev)
			errs <- err
		}(uint(200 + i))
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, loans.ErrAlreadyHoldingDevice)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, openLoans(f.store.Loans(), func(l models.Loan) bool { return l.StudentID == 1 }))
}

func TestReturnRequiresMatchingStudentAndDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.student(1, "alice")
	f.student(2, "bob")
	f.device(10)

	_, err := f.eng.BorrowDevice(ctx, 1, 10)
	require.NoError(t, err)

	_, err = f.eng.ReturnDevice(ctx, 2, 10)
	assert.ErrorIs(t, err, loans.ErrNoMatchingOpenLoan)
	assert.Equal(t, 1, openLoans(f.store.Loans(), func(models.Loan) bool { return true }))
}

func TestDeactivateStudent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.student(1, "alice")
	f.device(10)
	_, err := f.eng.BorrowDevice(ctx, 1, 10)
	require.NoError(t, err)

	s, err := f.eng.DeactivateStudent(ctx, 1)
	require.NoError(t, err)
	assert.False(t, s.Active)

	stored, ok := f.store.Student(1)
	require.True(t, ok)
	assert.False(t, stored.Active)
	// the open loan is left alone
	assert.Equal(t, 1, openLoans(f.store.Loans(), func(models.Loan) bool { return true }))

	_, err = f.eng.DeactivateStudent(ctx, 404)
	assert.ErrorIs(t, err, loans.ErrStudentNotFound)
}

func TestRemoveStudent(t *testing.T) {
	ctx := context.Background()

	t.Run("without loans", func(t *testing.T) {
		f := newFixture(t)
		f.student(1, "alice")

		r, err := f.eng.RemoveStudent(ctx, "alice", "alice@example.com", true)
		require.NoError(t, err)
		assert.Equal(t, int64(0), r.LoansDeleted)
		_, ok := f.store.Student(1)
		assert.False(t, ok)
	})

	t.Run("with loans and trimmed input", func(t *testing.T) {
		f := newFixture(t)
		f.student(1, "alice")
		f.device(10)
		f.device(11)
		_, err := f.eng.BorrowDevice(ctx, 1, 10)
		require.NoError(t, err)
		_, err = f.eng.ReturnDevice(ctx, 1, 10)
		require.NoError(t, err)
		_, err = f.eng.BorrowDevice(ctx, 1, 11)
		require.NoError(t, err)

		r, err := f.eng.RemoveStudent(ctx, "  alice ", "alice@example.com\t", true)
		require.NoError(t, err)
		assert.Equal(t, int64(2), r.LoansDeleted)
		_, ok := f.store.Student(1)
		assert.False(t, ok)
		assert.Empty(t, f.store.Loans())
		assert.Contains(t, f.rec.types(), loans.EventRemoved)
	})

	t.Run("not found before unauthorized", func(t *testing.T) {
		f := newFixture(t)
		f.student(1, "alice")
		_, err := f.eng.RemoveStudent(ctx, "alice", "other@example.com", false)
		assert.ErrorIs(t, err, loans.ErrStudentNotFound)
	})

	t.Run("unauthorized", func(t *testing.T) {
		f := newFixture(t)
		f.student(1, "alice")
		_, err := f.eng.RemoveStudent(ctx, "alice", "alice@example.com", false)
		assert.ErrorIs(t, err, loans.ErrUnauthorized)
		_, ok := f.store.Student(1)
		assert.True(t, ok)
	})

	t.Run("integrity failure rolls back", func(t *testing.T) {
		f := newFixture(t)
		f.student(1, "alice")
		f.device(10)
		_, err := f.eng.BorrowDevice(ctx, 1, 10)
		require.NoError(t, err)
		f.store.FailOn("DeleteStudent", &loans.ConstraintError{Constraint: models.FkLoanStudent, ForeignKey: true})

		_, err = f.eng.RemoveStudent(ctx, "alice", "alice@example.com", true)
		assert.ErrorIs(t, err, loans.ErrDeletionConflict)
		_, ok := f.store.Student(1)
		assert.True(t, ok)
		assert.Len(t, f.store.Loans(), 1)
	})
}
