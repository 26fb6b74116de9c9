package db

import (
	"context"
	"time"

	"uobsw2project/loans"
	"uobsw2project/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ loans.Store = (*Repo)(nil)

// Transaction runs fn inside one postgres transaction. Rows read through the
// ...ForUpdate methods stay locked until fn returns.
func (r *Repo) Transaction(ctx context.Context, fn func(tx loans.Tx) error) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&loanTx{db: tx})
	})
}

type loanTx struct{ db *gorm.DB }

func (t *loanTx) locked() *gorm.DB {
	return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (t *loanTx) StudentForUpdate(id uint) (*models.Student, error) {
	var s models.Student
	if err := t.locked().First(&s, "student_id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

func (t *loanTx) StudentByLogin(username, email string) (*models.Student, error) {
	var s models.Student
	if err := t.locked().
		Where("username = ? AND email = ?", username, email).
		First(&s).Error; err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

func (t *loanTx) DeviceForUpdate(id uint) (*models.Device, error) {
	var d models.Device
	if err := t.locked().First(&d, "device_id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func (t *loanTx) openLoan(where string, args ...any) (*models.Loan, error) {
	var l models.Loan
	if err := t.locked().
		Where("returndatetime IS NULL").
		Where(where, args...).
		First(&l).Error; err != nil {
		return nil, translate(err)
	}
	return &l, nil
}

func (t *loanTx) OpenLoanByStudent(studentID uint) (*models.Loan, error) {
	return t.openLoan("student_id = ?", studentID)
}

func (t *loanTx) OpenLoanByDevice(deviceID uint) (*models.Loan, error) {
	return t.openLoan("device_id = ?", deviceID)
}

func (t *loanTx) OpenLoanFor(studentID, deviceID uint) (*models.Loan, error) {
	return t.openLoan("student_id = ? AND device_id = ?", studentID, deviceID)
}

func (t *loanTx) CreateLoan(l *models.Loan) error {
	return translate(t.db.Create(l).Error)
}

// CloseLoan only touches a loan whose return time is still empty, so a
// return timestamp is never overwritten.
func (t *loanTx) CloseLoan(l *models.Loan, at time.Time) error {
	res := t.db.Model(&models.Loan{}).
		Where("loan_id = ? AND returndatetime IS NULL", l.ID).
		Update("returndatetime", at)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return loans.ErrNotFound
	}
	l.ReturnedAt = &at
	return nil
}

func (t *loanTx) CreateStudent(s *models.Student) error {
	return translate(t.db.Create(s).Error)
}

func (t *loanTx) CreateDevice(d *models.Device) error {
	return translate(t.db.Omit(clause.Associations).Create(d).Error)
}

func (t *loanTx) SetStudentActive(id uint, active bool) error {
	res := t.db.Model(&models.Student{}).
		Where("student_id = ?", id).
		Update("active", active)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return loans.ErrNotFound
	}
	return nil
}

func (t *loanTx) DeleteLoansByStudent(studentID uint) (int64, error) {
	res := t.db.Where("student_id = ?", studentID).Delete(&models.Loan{})
	return res.RowsAffected, translate(res.Error)
}

func (t *loanTx) DeleteStudent(id uint) error {
	res := t.db.Delete(&models.Student{}, "student_id = ?", id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return loans.ErrNotFound
	}
	return nil
}
