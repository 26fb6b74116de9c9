package controllers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"uobsw2project/app"
	"uobsw2project/db"
	"uobsw2project/loans"
	"uobsw2project/models"
	"uobsw2project/session"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

// AuditLog is where administrative actions on students are recorded.
type AuditLog interface {
	LogAudit(ctx context.Context, e *models.AuditLog) error
	ListAudit(ctx context.Context, studentID uint, limit int) ([]models.AuditLog, error)
}

type Srv struct {
	WA      *webauthn.WebAuthn
	Repo    *db.Repo
	Engine  *loans.Engine
	Audit   AuditLog
	Sess    *session.Store
	AppSess *session.AppSessionStore
	Mailer  Mailer
	Cfg     app.Config
}

func GetSrv(a *app.App) *Srv {
	return &Srv{
		WA:      a.WA,
		Repo:    a.Repo,
		Engine:  a.Engine,
		Audit:   a.Repo,
		Sess:    a.WebAuthnSessions(),
		AppSess: a.AppSessions(),
		Mailer:  NewSMTPMailer(a.Config),
		Cfg:     a.Config,
	}
}

// --- helpers ---

func (s *Srv) secureCookies() bool { return strings.HasPrefix(s.Cfg.WebOrigin, "https://") }

func (s *Srv) setAppCookie(w http.ResponseWriter, sessionID string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     app.AppSessionCookie,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.secureCookies(),
		MaxAge:   int(maxAge / time.Second),
	})
}

// issueSession records the login and hands out a session cookie.
func (s *Srv) issueSession(ctx context.Context, w http.ResponseWriter, userID uint, ip, ua string) error {
	if err := s.Repo.TouchUserLogin(ctx, userID, ip, ua); err != nil {
		log.Printf("record login for user %d: %v", userID, err)
	}
	as, err := s.AppSess.Create(ctx, userID)
	if err != nil {
		return err
	}
	s.setAppCookie(w, as.ID, s.AppSess.TTL())
	return nil
}

// audit records an action; a failure is logged and does not undo it.
func (s *Srv) audit(c *gin.Context, action string, studentID uint, detail string) {
	if s.Audit == nil {
		return
	}
	err := s.Audit.LogAudit(c.Request.Context(), &models.AuditLog{
		Action:        action,
		StudentID:     studentID,
		ActorID:       app.UserID(c),
		ActorUsername: app.Username(c),
		Detail:        detail,
	})
	if err != nil {
		log.Printf("[audit] %s student %d: %v", action, studentID, err)
	}
}

func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, app.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

func queryID(c *gin.Context, name string) (uint, bool) {
	v := c.Query(name)
	if v == "" {
		return 0, true
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

func paging(c *gin.Context) loans.Paging {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	return loans.Paging{Page: page, Size: size}
}

// respondErr writes the HTTP response for an error from the loans engine.
func respondErr(c *gin.Context, err error) {
	var fe *loans.FieldError
	switch {
	case errors.As(err, &fe) && errors.Is(fe, loans.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, app.H{"error": fe.Error(), "field": fe.Field})
	case errors.As(err, &fe):
		c.JSON(http.StatusConflict, app.H{"error": fe.Error(), "field": fe.Field})
	case errors.Is(err, loans.ErrNoMatchingOpenLoan):
		c.JSON(http.StatusOK, app.H{"ok": false, "info": err.Error()})
	case errors.Is(err, loans.ErrAlreadyHoldingDevice),
		errors.Is(err, loans.ErrDeviceAlreadyLoaned),
		errors.Is(err, loans.ErrConstraintViolation):
		c.JSON(http.StatusConflict, app.H{"error": err.Error()})
	case errors.Is(err, loans.ErrStudentNotFound),
		errors.Is(err, loans.ErrStudentNotRegistered),
		errors.Is(err, loans.ErrDeviceNotFound):
		c.JSON(http.StatusNotFound, app.H{"error": err.Error()})
	case errors.Is(err, loans.ErrUnauthorized):
		c.JSON(http.StatusForbidden, app.H{"error": err.Error()})
	case errors.Is(err, loans.ErrUnknownDirectory):
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
	case errors.Is(err, loans.ErrDeletionConflict):
		log.Printf("[loans] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, app.H{"error": loans.ErrDeletionConflict.Error()})
	default:
		log.Printf("[loans] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, app.H{"error": "internal error"})
	}
}

// WebAuthn: DB user -> waUser
type waUser struct {
	user  models.User
	creds []webauthn.Credential
}

func (u *waUser) WebAuthnID() []byte {
	id, _ := uuid.Parse(u.user.Handle)
	return id[:]
}
func (u *waUser) WebAuthnName() string                       { return u.user.Username }
func (u *waUser) WebAuthnDisplayName() string                { return u.user.Username }
func (u *waUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }

func toWaCred(c models.Credential) webauthn.Credential {
	return webauthn.Credential{
		ID:              c.CredentialID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Authenticator: webauthn.Authenticator{
			AAGUID:       c.AAGUID,
			SignCount:    c.SignCount,
			CloneWarning: c.CloneWarning,
		},
		Flags: webauthn.CredentialFlags{
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
	}
}

func (s *Srv) waUserFor(ctx context.Context, u *models.User) (*waUser, error) {
	cs, err := s.Repo.LoadUserCredentials(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	ws := make([]webauthn.Credential, 0, len(cs))
	for _, c := range cs {
		ws = append(ws, toWaCred(c))
	}
	return &waUser{user: *u, creds: ws}, nil
}

func (s *Srv) loadWAUserByID(ctx context.Context, id uint) (*waUser, error) {
	u, err := s.Repo.FindUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.waUserFor(ctx, u)
}

func (s *Srv) loadWAUserByUsername(ctx context.Context, username string) (*waUser, error) {
	u, err := s.Repo.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	return s.waUserFor(ctx, u)
}
