package controllers

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"uobsw2project/app"
	"uobsw2project/db"

	"github.com/gin-gonic/gin"
)

type InviteController struct{ *Srv }

func GetInviteController(s *Srv) *InviteController { return &InviteController{Srv: s} }

// POST /admin/invites
func (ic *InviteController) CreateInvite(c *gin.Context) {
	var in struct {
		Email string `json:"email" binding:"required,email"`
		Hours int    `json:"expiresHours"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return
	}
	ttl := ic.Cfg.InviteTTL
	if in.Hours > 0 {
		ttl = time.Duration(in.Hours) * time.Hour
	}

	token, err := app.NewInviteToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	inv, err := ic.Repo.CreateInvite(
		c.Request.Context(),
		strings.ToLower(strings.TrimSpace(in.Email)),
		token,
		time.Now().Add(ttl),
		app.Username(c),
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}

	link := app.InviteLink(ic.Cfg, token)
	if ic.Mailer != nil {
		if err := ic.Mailer.SendInvite(inv.Email, link, inv.ExpiresAt); err != nil {
			log.Printf("[invite email] send to %s failed: %v", inv.Email, err)
		}
	}

	c.JSON(http.StatusCreated, app.H{"link": link, "invite": inv})
}

// GET /admin/invites?all=true
func (ic *InviteController) ListInvites(c *gin.Context) {
	invs, err := ic.Repo.ListInvites(c.Request.Context(), c.Query("all") == "true")
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, app.H{"items": invs})
}

// DELETE /admin/invites/:id
func (ic *InviteController) RevokeInvite(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := ic.Repo.RevokeInvite(c.Request.Context(), id); err != nil {
		if errors.Is(err, db.ErrInviteUnusable) {
			c.JSON(http.StatusNotFound, app.H{"error": "no pending invite with that id"})
			return
		}
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true})
}

// -------------------- mail --------------------

type Mailer interface {
	SendInvite(to, link string, expiresAt time.Time) error
}

// SMTPMailer sends invite mail through SMTP_ADDR. With no SMTP_ADDR it only
// logs the link, which is what development setups want.
type SMTPMailer struct {
	Addr, User, Pass, From string
	AppName                string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg app.Config) *SMTPMailer {
	return &SMTPMailer{
		Addr:    cfg.SMTPAddr,
		User:    cfg.SMTPUser,
		Pass:    cfg.SMTPPass,
		From:    cfg.MailFrom,
		AppName: "Device Loan Desk",
		send:    smtp.SendMail,
	}
}

func (m *SMTPMailer) SendInvite(to, link string, expiresAt time.Time) error {
	if m.Addr == "" {
		log.Printf("[DEV] Invite link for %s: %s (expires %s)", to, link, expiresAt.Format(time.RFC1123))
		return nil
	}
	var auth smtp.Auth
	if m.User != "" {
		host, _, err := net.SplitHostPort(m.Addr)
		if err != nil {
			return fmt.Errorf("smtp address %q: %w", m.Addr, err)
		}
		auth = smtp.PlainAuth("", m.User, m.Pass, host)
	}
	msg := buildInviteMail(m.AppName, m.From, to, link, expiresAt)
	return m.send(m.Addr, auth, m.From, []string{to}, []byte(msg))
}

func buildInviteMail(appName, from, to, link string, expiresAt time.Time) string {
	body := fmt.Sprintf(`<div style="font-family:Arial,sans-serif; font-size:14px; color:#222">
  <p>Hello,</p>
  <p>You have been invited to staff the <b>%s</b>. Open the link below to create your account:</p>
  <p><a href="%s">%s</a></p>
  <p>This invitation expires on %s.</p>
  <hr/>
  <p style="color:#666">If you did not expect this email, you can safely ignore it.</p>
</div>
`, appName, link, link, expiresAt.UTC().Format(time.RFC1123))

	headers := []string{
		fmt.Sprintf("From: %s <%s>", appName, from),
		fmt.Sprintf("To: %s", to),
		fmt.Sprintf("Subject: %s invitation", appName),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
	}
	return strings.Join(headers, "\r\n") + "\r\n\r\n" + body
}
