package app

import (
	"context"
	"log"
	"net/http"

	"uobsw2project/db"
	"uobsw2project/models"
	"uobsw2project/session"

	"github.com/gin-gonic/gin"
)

const AppSessionCookie = "app_session"

// Context keys set by AuthRequired.
const (
	CtxUserID   = "userID"
	CtxUsername = "username"
	CtxIsAdmin  = "isAdmin"
)

type UserFinder interface {
	FindUserByID(ctx context.Context, id uint) (*models.User, error)
}

// AuthRequired resolves the session cookie to a staff user. The user row is
// read on every request so a deleted account or a revoked admin role takes
// effect immediately. Only a missing user ends the session; a failed lookup
// answers 503 and leaves it in place.
func AuthRequired(appSess *session.AppSessionStore, users UserFinder, cfg Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ck, err := c.Request.Cookie(AppSessionCookie)
		if err != nil || ck.Value == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "unauthorized"})
			return
		}
		as, err := appSess.Get(c.Request.Context(), ck.Value)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "invalid session"})
			return
		}

		u, err := users.FindUserByID(c.Request.Context(), as.UserID)
		if db.IsNotFound(err) {
			_ = appSess.Delete(c.Request.Context(), ck.Value)
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "unauthorized"})
			return
		}
		if err != nil {
			log.Printf("[auth] load user %d: %v", as.UserID, err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, H{"error": "temporarily unavailable"})
			return
		}
		c.Set(CtxUserID, u.ID)
		c.Set(CtxUsername, u.Username)
		c.Set(CtxIsAdmin, u.IsAdmin || cfg.IsAdminEmail(u.Email))

		c.Next()
	}
}

// AdminOnly must run after AuthRequired.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(CtxUserID); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, H{"error": "unauthorized"})
			return
		}
		if !IsAdmin(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

func UserID(c *gin.Context) uint  { return c.GetUint(CtxUserID) }
func IsAdmin(c *gin.Context) bool { return c.GetBool(CtxIsAdmin) }
func Username(c *gin.Context) string {
	return c.GetString(CtxUsername)
}
