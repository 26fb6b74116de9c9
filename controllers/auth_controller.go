package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"uobsw2project/app"
	"uobsw2project/db"
	"uobsw2project/models"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLen = 8

func registerConflictMsg(constraint string) string {
	switch constraint {
	case "idx_users_username":
		return "username already registered"
	case "idx_users_email":
		return "email already registered"
	}
	return "username or email already registered"
}

type registerReq struct {
	InviteToken string `json:"inviteToken" binding:"required"`
	Username    string `json:"username" binding:"required,min=3,max=64"`
	Email       string `json:"email" binding:"required,email,max=120"`
	Password    string `json:"password" binding:"required,min=8,max=72"`
}

// POST /auth/register
// Registration needs an unused invite issued for the same email address.
func (s *Srv) Register(c *gin.Context) {
	var in registerReq
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	email := strings.ToLower(strings.TrimSpace(in.Email))

	inv, err := s.Repo.GetInviteByToken(ctx, in.InviteToken)
	if err != nil || !inv.Usable(time.Now()) || !strings.EqualFold(inv.Email, email) {
		c.JSON(http.StatusForbidden, app.H{"error": "invalid or expired invite"})
		return
	}

	hash, err := hashPassword(in.Password)
	if err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return
	}
	u := &models.User{
		Handle:       app.NewUserHandle(),
		Username:     strings.TrimSpace(in.Username),
		Email:        email,
		PasswordHash: hash,
	}
	err = s.Repo.RegisterWithInvite(ctx, in.InviteToken, u, time.Now())
	if name, ok := db.ViolatedConstraint(err); ok {
		c.JSON(http.StatusConflict, app.H{"error": registerConflictMsg(name)})
		return
	}
	switch {
	case errors.Is(err, db.ErrInviteUnusable):
		c.JSON(http.StatusForbidden, app.H{"error": "invalid or expired invite"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}

	if err := s.issueSession(ctx, c.Writer, u.ID, c.ClientIP(), c.Request.UserAgent()); err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": "create app session failed"})
		return
	}
	c.JSON(http.StatusCreated, app.H{"ok": true, "user": u})
}

// POST /auth/login
func (s *Srv) Login(c *gin.Context) {
	var in struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	u, err := s.Repo.FindUserByUsername(ctx, strings.TrimSpace(in.Username))
	if err != nil || !checkPassword(u.PasswordHash, in.Password) {
		c.JSON(http.StatusUnauthorized, app.H{"error": "invalid username or password"})
		return
	}
	if err := s.issueSession(ctx, c.Writer, u.ID, c.ClientIP(), c.Request.UserAgent()); err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": "create app session failed"})
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true, "username": u.Username})
}

// POST /auth/logout
func (s *Srv) Logout(c *gin.Context) {
	if ck, err := c.Request.Cookie(app.AppSessionCookie); err == nil && ck.Value != "" {
		_ = s.AppSess.Delete(c.Request.Context(), ck.Value)
	}
	s.setAppCookie(c.Writer, "", -time.Second)
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// GET /auth/whoami
func (s *Srv) WhoAmI(c *gin.Context) {
	uid := app.UserID(c)
	credCount, _ := s.Repo.CountCredentials(c.Request.Context(), uid)
	c.JSON(http.StatusOK, app.H{
		"userID":      uid,
		"username":    app.Username(c),
		"isAdmin":     app.IsAdmin(c),
		"credentials": credCount,
	})
}

func hashPassword(pw string) (string, error) {
	if len(pw) < minPasswordLen {
		return "", errors.New("password must be at least 8 characters")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func checkPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}
