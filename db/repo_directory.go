package db

import (
	"context"
	"iter"
	"strings"

	"uobsw2project/loans"
	"uobsw2project/models"

	"gorm.io/gorm"
)

// onLoanExpr derives devices.on_loan from the loans table.
const onLoanExpr = "EXISTS (SELECT 1 FROM loans l WHERE l.device_id = devices.device_id AND l.returndatetime IS NULL)"

func (r *Repo) devices(ctx context.Context) *gorm.DB {
	return r.DB.WithContext(ctx).
		Model(&models.Device{}).
		Select("devices.*, " + onLoanExpr + " AS on_loan")
}

func newestLoans(db *gorm.DB) *gorm.DB {
	return db.Order("borrowdatetime DESC, loan_id DESC")
}

func (r *Repo) FindStudent(ctx context.Context, id uint) (*models.Student, error) {
	var s models.Student
	if err := r.DB.WithContext(ctx).
		Preload("Loans", newestLoans).
		First(&s, "student_id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

func (r *Repo) FindDevice(ctx context.Context, id uint) (*models.Device, error) {
	var d models.Device
	if err := r.devices(ctx).
		Preload("Loans", newestLoans).
		Where("devices.device_id = ?", id).
		First(&d).Error; err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func studentMatch(db *gorm.DB, q string) *gorm.DB {
	if q = strings.TrimSpace(q); q == "" {
		return db
	}
	like := likePattern(q)
	return db.Where(
		"LOWER(username) LIKE ? OR LOWER(firstname) LIKE ? OR LOWER(lastname) LIKE ? OR LOWER(email) LIKE ?",
		like, like, like, like,
	)
}

func (r *Repo) ListStudents(ctx context.Context, q loans.StudentQuery) (loans.Page[models.Student], error) {
	var out loans.Page[models.Student]
	tx := studentMatch(r.DB.WithContext(ctx).Model(&models.Student{}), q.Q).
		Session(&gorm.Session{})

	if err := tx.Count(&out.Total).Error; err != nil {
		return out, err
	}
	err := tx.Order("student_id").
		Offset(q.Offset()).
		Limit(q.Size).
		Find(&out.Items).Error
	return out, err
}

func (r *Repo) ListDevices(ctx context.Context, q loans.DeviceQuery) (loans.Page[models.Device], error) {
	var out loans.Page[models.Device]
	tx := r.DB.WithContext(ctx).Model(&models.Device{})
	switch q.Status {
	case loans.DeviceAvailable:
		tx = tx.Where("NOT " + onLoanExpr)
	case loans.DeviceOnLoan:
		tx = tx.Where(onLoanExpr)
	}
	tx = tx.Session(&gorm.Session{})

	if err := tx.Count(&out.Total).Error; err != nil {
		return out, err
	}
	err := tx.Select("devices.*, " + onLoanExpr + " AS on_loan").
		Order("device_id").
		Offset(q.Offset()).
		Limit(q.Size).
		Find(&out.Items).Error
	return out, err
}

func (r *Repo) ListLoans(ctx context.Context, f loans.LoanFilter) ([]models.Loan, error) {
	q := newestLoans(r.DB.WithContext(ctx).Model(&models.Loan{}))
	if f.StudentID != 0 {
		q = q.Where("student_id = ?", f.StudentID)
	}
	if f.DeviceID != 0 {
		q = q.Where("device_id = ?", f.DeviceID)
	}
	switch f.Status {
	case loans.LoanOpen:
		q = q.Where("returndatetime IS NULL")
	case loans.LoanReturned:
		q = q.Where("returndatetime IS NOT NULL")
	}
	var ls []models.Loan
	if err := q.Find(&ls).Error; err != nil {
		return nil, err
	}
	return ls, nil
}

// SearchStudents streams matching students. Every range over the returned
// sequence runs the query again.
func (r *Repo) SearchStudents(ctx context.Context, q string) iter.Seq2[models.Student, error] {
	return scanAll[models.Student](func() *gorm.DB {
		return studentMatch(r.DB.WithContext(ctx).Model(&models.Student{}), q).Order("student_id")
	})
}

func (r *Repo) SearchDevices(ctx context.Context, q string) iter.Seq2[models.Device, error] {
	return scanAll[models.Device](func() *gorm.DB {
		tx := r.devices(ctx).Order("device_id")
		if q = strings.TrimSpace(q); q != "" {
			tx = tx.Where("LOWER(device_type) LIKE ?", likePattern(q))
		}
		return tx
	})
}

// scanAll opens a cursor over query and yields one row at a time. Breaking
// out of the loop closes the cursor.
func scanAll[T any](query func() *gorm.DB) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		tx := query()
		rows, err := tx.Rows()
		if err != nil {
			yield(zero, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var v T
			if err := tx.ScanRows(rows, &v); err != nil {
				yield(zero, err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(zero, err)
		}
	}
}
