// Package loanstest provides an in-memory loans.Store for tests. Transactions
// are fully serialized and roll back on error, and the store enforces the
// same unique and foreign key constraints as the postgres schema, reporting
// them with the same constraint names.
package loanstest

import (
	"cmp"
	"context"
	"iter"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"uobsw2project/loans"
	"uobsw2project/models"
)

type Store struct {
	mu       sync.Mutex
	students map[uint]models.Student
	devices  map[uint]models.Device
	loans    map[uint]models.Loan
	nextID   uint
	fail     map[string]error

	// Commits counts successful transactions.
	Commits int
}

func New() *Store {
	return &Store{
		students: map[uint]models.Student{},
		devices:  map[uint]models.Device{},
		loans:    map[uint]models.Loan{},
		fail:     map[string]error{},
	}
}

// FailOn makes the next call to the named Tx method return err.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[method] = err
}

// SeedStudent inserts st outside any transaction and returns it with its id.
func (s *Store) SeedStudent(st models.Student) models.Student {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.ID == 0 {
		st.ID = s.id()
	}
	st.Loans = nil
	s.students[st.ID] = st
	return st
}

func (s *Store) SeedDevice(d models.Device) models.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == 0 {
		d.ID = s.id()
	}
	d.Loans = nil
	d.OnLoan = false
	s.devices[d.ID] = d
	return d
}

func (s *Store) SeedLoan(l models.Loan) models.Loan {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == 0 {
		l.ID = s.id()
	}
	s.loans[l.ID] = l
	return l
}

// Loans returns every loan row ordered by id.
func (s *Store) Loans() []models.Loan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedLoans(s.loans, func(models.Loan) bool { return true })
}

func (s *Store) Student(id uint) (models.Student, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[id]
	return st, ok
}

func (s *Store) id() uint {
	s.nextID++
	for {
		_, a := s.students[s.nextID]
		_, b := s.devices[s.nextID]
		_, c := s.loans[s.nextID]
		if !a && !b && !c {
			return s.nextID
		}
		s.nextID++
	}
}

func (s *Store) Transaction(ctx context.Context, fn func(tx loans.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	students, devices, ls, next := maps.Clone(s.students), maps.Clone(s.devices), maps.Clone(s.loans), s.nextID
	if err := fn(&tx{s: s}); err != nil {
		s.students, s.devices, s.loans, s.nextID = students, devices, ls, next
		return err
	}
	s.Commits++
	return nil
}

type tx struct{ s *Store }

func (t *tx) injected(method string) error {
	if err, ok := t.s.fail[method]; ok {
		delete(t.s.fail, method)
		return err
	}
	return nil
}

func (t *tx) StudentForUpdate(id uint) (*models.Student, error) {
	if err := t.injected("StudentForUpdate"); err != nil {
		return nil, err
	}
	st, ok := t.s.students[id]
	if !ok {
		return nil, loans.ErrNotFound
	}
	return &st, nil
}

func (t *tx) StudentByLogin(username, email string) (*models.Student, error) {
	if err := t.injected("StudentByLogin"); err != nil {
		return nil, err
	}
	for _, st := range t.s.students {
		if st.Username == username && st.Email == email {
			return &st, nil
		}
	}
	return nil, loans.ErrNotFound
}

func (t *tx) DeviceForUpdate(id uint) (*models.Device, error) {
	if err := t.injected("DeviceForUpdate"); err != nil {
		return nil, err
	}
	d, ok := t.s.devices[id]
	if !ok {
		return nil, loans.ErrNotFound
	}
	d.OnLoan = t.s.deviceOnLoan(id)
	return &d, nil
}

func (t *tx) openLoan(match func(models.Loan) bool) (*models.Loan, error) {
	for _, l := range sortedLoans(t.s.loans, match) {
		if l.Open() {
			return &l, nil
		}
	}
	return nil, loans.ErrNotFound
}

func (t *tx) OpenLoanByStudent(studentID uint) (*models.Loan, error) {
	if err := t.injected("OpenLoanByStudent"); err != nil {
		return nil, err
	}
	return t.openLoan(func(l models.Loan) bool { return l.StudentID == studentID })
}

func (t *tx) OpenLoanByDevice(deviceID uint) (*models.Loan, error) {
	if err := t.injected("OpenLoanByDevice"); err != nil {
		return nil, err
	}
	return t.openLoan(func(l models.Loan) bool { return l.DeviceID == deviceID })
}

func (t *tx) OpenLoanFor(studentID, deviceID uint) (*models.Loan, error) {
	if err := t.injected("OpenLoanFor"); err != nil {
		return nil, err
	}
	return t.openLoan(func(l models.Loan) bool { return l.StudentID == studentID && l.DeviceID == deviceID })
}

func (t *tx) CreateLoan(l *models.Loan) error {
	if err := t.injected("CreateLoan"); err != nil {
		return err
	}
	if _, ok := t.s.students[l.StudentID]; !ok {
		return &loans.ConstraintError{Constraint: models.FkLoanStudent, ForeignKey: true}
	}
	if _, ok := t.s.devices[l.DeviceID]; !ok {
		return &loans.ConstraintError{Constraint: models.FkLoanDevice, ForeignKey: true}
	}
	if l.ReturnedAt == nil {
		for _, o := range t.s.loans {
			if !o.Open() {
				continue
			}
			if o.DeviceID == l.DeviceID {
				return &loans.ConstraintError{Constraint: models.IdxLoanOpenPerDevice}
			}
			if o.StudentID == l.StudentID {
				return &loans.ConstraintError{Constraint: models.IdxLoanOpenPerStudent}
			}
		}
	}
	l.ID = t.s.id()
	t.s.loans[l.ID] = *l
	return nil
}

func (t *tx) CloseLoan(l *models.Loan, at time.Time) error {
	if err := t.injected("CloseLoan"); err != nil {
		return err
	}
	cur, ok := t.s.loans[l.ID]
	if !ok || !cur.Open() {
		return loans.ErrNotFound
	}
	cur.ReturnedAt = &at
	t.s.loans[l.ID] = cur
	*l = cur
	return nil
}

func (t *tx) CreateStudent(st *models.Student) error {
	if err := t.injected("CreateStudent"); err != nil {
		return err
	}
	for _, o := range t.s.students {
		if o.Username == st.Username {
			return &loans.ConstraintError{Constraint: models.IdxStudentUsername}
		}
	}
	for _, o := range t.s.students {
		if o.Email == st.Email {
			return &loans.ConstraintError{Constraint: models.IdxStudentEmail}
		}
	}
	st.ID = t.s.id()
	row := *st
	row.Loans = nil
	t.s.students[st.ID] = row
	return nil
}

func (t *tx) CreateDevice(d *models.Device) error {
	if err := t.injected("CreateDevice"); err != nil {
		return err
	}
	d.ID = t.s.id()
	row := *d
	row.Loans = nil
	t.s.devices[d.ID] = row
	return nil
}

func (t *tx) SetStudentActive(id uint, active bool) error {
	if err := t.injected("SetStudentActive"); err != nil {
		return err
	}
	st, ok := t.s.students[id]
	if !ok {
		return loans.ErrNotFound
	}
	st.Active = active
	t.s.students[id] = st
	return nil
}

func (t *tx) DeleteLoansByStudent(studentID uint) (int64, error) {
	if err := t.injected("DeleteLoansByStudent"); err != nil {
		return 0, err
	}
	var n int64
	for id, l := range t.s.loans {
		if l.StudentID == studentID {
			delete(t.s.loans, id)
			n++
		}
	}
	return n, nil
}

func (t *tx) DeleteStudent(id uint) error {
	if err := t.injected("DeleteStudent"); err != nil {
		return err
	}
	if _, ok := t.s.students[id]; !ok {
		return loans.ErrNotFound
	}
	for _, l := range t.s.loans {
		if l.StudentID == id {
			return &loans.ConstraintError{Constraint: models.FkLoanStudent, ForeignKey: true}
		}
	}
	delete(t.s.students, id)
	return nil
}

// Reader

func (s *Store) FindStudent(_ context.Context, id uint) (*models.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.students[id]
	if !ok {
		return nil, loans.ErrNotFound
	}
	st.Loans = newestFirst(sortedLoans(s.loans, func(l models.Loan) bool { return l.StudentID == id }))
	return &st, nil
}

func (s *Store) FindDevice(_ context.Context, id uint) (*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return nil, loans.ErrNotFound
	}
	d.OnLoan = s.deviceOnLoan(id)
	d.Loans = newestFirst(sortedLoans(s.loans, func(l models.Loan) bool { return l.DeviceID == id }))
	return &d, nil
}

func (s *Store) ListStudents(_ context.Context, q loans.StudentQuery) (loans.Page[models.Student], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.matchStudents(q.Q)
	return page(all, q.Paging), nil
}

func (s *Store) ListDevices(_ context.Context, q loans.DeviceQuery) (loans.Page[models.Device], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.Device
	for _, id := range slices.Sorted(maps.Keys(s.devices)) {
		d := s.devices[id]
		d.OnLoan = s.deviceOnLoan(id)
		switch {
		case q.Status == loans.DeviceAvailable && d.OnLoan,
			q.Status == loans.DeviceOnLoan && !d.OnLoan:
			continue
		}
		all = append(all, d)
	}
	return page(all, q.Paging), nil
}

func (s *Store) ListLoans(_ context.Context, f loans.LoanFilter) ([]models.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newestFirst(sortedLoans(s.loans, func(l models.Loan) bool {
		switch {
		case f.StudentID != 0 && l.StudentID != f.StudentID,
			f.DeviceID != 0 && l.DeviceID != f.DeviceID,
			f.Status == loans.LoanOpen && !l.Open(),
			f.Status == loans.LoanReturned && l.Open():
			return false
		}
		return true
	})), nil
}

func (s *Store) SearchStudents(_ context.Context, q string) iter.Seq2[models.Student, error] {
	return func(yield func(models.Student, error) bool) {
		s.mu.Lock()
		hits := s.matchStudents(q)
		s.mu.Unlock()
		for _, st := range hits {
			if !yield(st, nil) {
				return
			}
		}
	}
}

func (s *Store) SearchDevices(_ context.Context, q string) iter.Seq2[models.Device, error] {
	return func(yield func(models.Device, error) bool) {
		s.mu.Lock()
		var hits []models.Device
		for _, id := range slices.Sorted(maps.Keys(s.devices)) {
			d := s.devices[id]
			if contains(d.DeviceType, q) {
				d.OnLoan = s.deviceOnLoan(id)
				hits = append(hits, d)
			}
		}
		s.mu.Unlock()
		for _, d := range hits {
			if !yield(d, nil) {
				return
			}
		}
	}
}

func (s *Store) matchStudents(q string) []models.Student {
	var hits []models.Student
	for _, id := range slices.Sorted(maps.Keys(s.students)) {
		st := s.students[id]
		if contains(st.FirstName, q) || contains(st.LastName, q) || contains(st.Username, q) || contains(st.Email, q) {
			hits = append(hits, st)
		}
	}
	return hits
}

func (s *Store) deviceOnLoan(id uint) bool {
	for _, l := range s.loans {
		if l.DeviceID == id && l.Open() {
			return true
		}
	}
	return false
}

func contains(field, q string) bool {
	return strings.Contains(strings.ToLower(field), strings.ToLower(q))
}

func sortedLoans(all map[uint]models.Loan, keep func(models.Loan) bool) []models.Loan {
	var out []models.Loan
	for _, id := range slices.Sorted(maps.Keys(all)) {
		if l := all[id]; keep(l) {
			out = append(out, l)
		}
	}
	return out
}

func newestFirst(ls []models.Loan) []models.Loan {
	slices.SortStableFunc(ls, func(a, b models.Loan) int {
		if c := b.BorrowedAt.Compare(a.BorrowedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return ls
}

func page[T any](all []T, p loans.Paging) loans.Page[T] {
	out := loans.Page[T]{Total: int64(len(all)), Items: []T{}}
	from := min(p.Offset(), len(all))
	to := min(from+p.Size, len(all))
	out.Items = append(out.Items, all[from:to]...)
	return out
}
