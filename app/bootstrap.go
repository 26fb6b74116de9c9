package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"uobsw2project/db"
	"uobsw2project/models"
)

type InviteStore interface {
	CountAdmins(ctx context.Context) (int64, error)
	HasPendingInvite(ctx context.Context, email string, now time.Time) (bool, error)
	CreateInvite(ctx context.Context, email, token string, expiresAt time.Time, createdBy string) (*models.Invite, error)
}

// NewInviteToken returns 32 hex characters from crypto/rand.
func NewInviteToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// InviteLink is the URL the web client opens to register with token.
func InviteLink(cfg Config, token string) string {
	return fmt.Sprintf("%s/register?inviteToken=%s", cfg.WebOrigin, token)
}

// BootstrapFirstAdmin creates a one-time admin invite for BOOTSTRAP_ADMIN_EMAIL
// when no admin exists yet and none is pending, and logs the link.
func BootstrapFirstAdmin(ctx context.Context, cfg Config, invites InviteStore) (string, error) {
	if cfg.BootstrapEmail == "" {
		return "", nil
	}
	n, err := invites.CountAdmins(ctx)
	if err != nil {
		return "", fmt.Errorf("count admins: %w", err)
	}
	if n > 0 {
		return "", nil
	}
	now := time.Now()
	pending, err := invites.HasPendingInvite(ctx, cfg.BootstrapEmail, now)
	if err != nil {
		return "", fmt.Errorf("check pending invites: %w", err)
	}
	if pending {
		log.Printf("[BOOTSTRAP] admin invite for %s is still pending", cfg.BootstrapEmail)
		return "", nil
	}

	token, err := NewInviteToken()
	if err != nil {
		return "", err
	}
	if _, err := invites.CreateInvite(ctx, cfg.BootstrapEmail, token, now.Add(cfg.InviteTTL), db.BootstrapInviter); err != nil {
		return "", fmt.Errorf("create bootstrap invite: %w", err)
	}

	link := InviteLink(cfg, token)
	log.Printf("[BOOTSTRAP] No admin found, created an admin invite for %s", cfg.BootstrapEmail)
	log.Printf("[BOOTSTRAP] Open this URL to register the first admin: %s", link)
	return link, nil
}
