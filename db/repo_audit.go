package db

import (
	"context"

	"uobsw2project/models"
)

func (r *Repo) LogAudit(ctx context.Context, e *models.AuditLog) error {
	return r.DB.WithContext(ctx).Create(e).Error
}

// ListAudit returns the newest entries first, optionally for one student.
func (r *Repo) ListAudit(ctx context.Context, studentID uint, limit int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := r.DB.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit)
	if studentID != 0 {
		q = q.Where("student_id = ?", studentID)
	}
	var out []models.AuditLog
	return out, q.Find(&out).Error
}
