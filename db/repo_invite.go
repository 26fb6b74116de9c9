package db

import (
	"context"
	"errors"
	"time"

	"uobsw2project/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BootstrapInviter marks the invite created at startup for the first admin.
const BootstrapInviter = "bootstrap"

var ErrInviteUnusable = errors.New("invite already used, expired or not found")

func (r *Repo) CreateInvite(ctx context.Context, email, token string, expiresAt time.Time, createdBy string) (*models.Invite, error) {
	inv := &models.Invite{Email: email, Token: token, ExpiresAt: expiresAt, CreatedBy: createdBy}
	return inv, translate(r.DB.WithContext(ctx).Create(inv).Error)
}

func (r *Repo) GetInviteByToken(ctx context.Context, token string) (*models.Invite, error) {
	var inv models.Invite
	if err := r.DB.WithContext(ctx).Where("token = ?", token).First(&inv).Error; err != nil {
		return nil, translate(err)
	}
	return &inv, nil
}

func (r *Repo) ListInvites(ctx context.Context, includeUsed bool) ([]models.Invite, error) {
	q := r.DB.WithContext(ctx).Order("created_at DESC")
	if !includeUsed {
		q = q.Where("used_at IS NULL")
	}
	var out []models.Invite
	return out, q.Find(&out).Error
}

// HasPendingInvite reports whether an unused, unexpired invite exists for
// email. Bootstrap uses it to avoid minting a second token on restart.
func (r *Repo) HasPendingInvite(ctx context.Context, email string, now time.Time) (bool, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&models.Invite{}).
		Where("LOWER(email) = LOWER(?) AND used_at IS NULL AND expires_at > ?", email, now).
		Count(&n).Error
	return n > 0, err
}

func (r *Repo) RevokeInvite(ctx context.Context, id uint) error {
	res := r.DB.WithContext(ctx).
		Where("id = ? AND used_at IS NULL", id).
		Delete(&models.Invite{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInviteUnusable
	}
	return nil
}

// RegisterWithInvite consumes the invite and creates the staff account in one
// transaction. The invite row is locked so a token can only be spent once.
// Accounts created from the bootstrap invite are admins.
func (r *Repo) RegisterWithInvite(ctx context.Context, token string, u *models.User, now time.Time) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inv models.Invite
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token = ?", token).
			First(&inv).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInviteUnusable
		}
		if err != nil {
			return err
		}
		if !inv.Usable(now) {
			return ErrInviteUnusable
		}

		if inv.CreatedBy == BootstrapInviter {
			u.IsAdmin = true
		}
		if err := tx.Create(u).Error; err != nil {
			return translate(err)
		}
		return tx.Model(&inv).Update("used_at", now).Error
	})
}
