package db

import (
	"context"
	"errors"

	"uobsw2project/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrLastAdmin = errors.New("cannot remove the last admin")

// SetUserAdmin grants or revokes the admin role. Revoking is refused when
// it would leave the desk without any admin.
func (r *Repo) SetUserAdmin(ctx context.Context, userID uint, isAdmin bool) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&u, "id = ?", userID).Error; err != nil {
			return translate(err)
		}
		if u.IsAdmin && !isAdmin {
			var n int64
			if err := tx.Model(&models.User{}).Where("is_admin = TRUE").Count(&n).Error; err != nil {
				return err
			}
			if n <= 1 {
				return ErrLastAdmin
			}
		}
		return tx.Model(&models.User{}).
			Where("id = ?", userID).
			Update("is_admin", isAdmin).Error
	})
}

func (r *Repo) CountAdmins(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).
		Model(&models.User{}).
		Where("is_admin = TRUE").
		Count(&n).Error
	return n, err
}
