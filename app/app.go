package app

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"uobsw2project/db"
	"uobsw2project/events"
	"uobsw2project/loans"
	"uobsw2project/session"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Ctx = gin.Context
type H = gin.H

// App holds the process-wide dependencies.
type App struct {
	Router *gin.Engine
	DB     *gorm.DB
	RDB    *redis.Client
	WA     *webauthn.WebAuthn
	Config Config

	Repo   *db.Repo
	Engine *loans.Engine

	appSess *session.AppSessionStore
	waSess  *session.Store
	events  *events.Publisher
	nats    *events.Embedded
}

type Config struct {
	DatabaseURL string
	DBDebug     bool

	RedisAddr string
	RedisPwd  string
	RedisDB   int

	// NATSURL is empty to disable loan events, or "embedded" to run an
	// in-process server.
	NATSURL    string
	NATSPrefix string

	WebOrigin     string
	RPID          string
	RPOrigins     []string
	SessionTTL    time.Duration // WebAuthn ceremony state
	AppSessionTTL time.Duration
	SeenThrottle  time.Duration

	AdminEmails    []string
	BootstrapEmail string
	InviteTTL      time.Duration

	SMTPAddr string // host:port; empty logs invite links instead of mailing
	SMTPUser string
	SMTPPass string
	MailFrom string

	Port string
}

// IsAdminEmail reports whether email is listed in ADMIN_EMAILS.
func (c Config) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, a := range c.AdminEmails {
		if email == a {
			return true
		}
	}
	return false
}

func (a *App) AppSessions() *session.AppSessionStore { return a.appSess }
func (a *App) WebAuthnSessions() *session.Store      { return a.waSess }

func MustNew() *App {
	cfg := LoadConfig()

	dbConn := db.ConnectDB(cfg.DatabaseURL, cfg.DBDebug)
	repo := db.NewRepo(dbConn)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPwd, DB: cfg.RedisDB})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis: %v", err)
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "Device Loan Desk",
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		log.Fatalf("webauthn: %v", err)
	}

	a := &App{
		DB: dbConn, RDB: rdb, WA: wa, Config: cfg, Repo: repo,
		appSess: session.NewAppSessionStore(rdb, cfg.AppSessionTTL),
		waSess:  session.NewStore(rdb, cfg.SessionTTL),
	}
	a.connectEvents()

	var notifier loans.Notifier
	if a.events != nil {
		notifier = a.events
	}
	a.Engine = loans.New(repo, notifier)

	r := gin.Default()
	useCORS(r, cfg.WebOrigin)
	a.Router = r
	return a
}

func (a *App) connectEvents() {
	url := a.Config.NATSURL
	switch url {
	case "":
		log.Printf("NATS_URL not set, loan events disabled")
		return
	case "embedded":
		ns, err := events.StartEmbedded("127.0.0.1", -1)
		if err != nil {
			log.Fatalf("nats: %v", err)
		}
		a.nats = ns
		url = ns.ClientURL()
	}
	pub, err := events.Connect(url, a.Config.NATSPrefix)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	a.events = pub
}

func (a *App) Close() {
	if a.events != nil {
		a.events.Close()
	}
	if a.nats != nil {
		a.nats.Shutdown()
	}
	_ = a.RDB.Close()
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func LoadConfig() Config {
	get := func(k, def string) string {
		v := os.Getenv(k)
		if v == "" {
			return def
		}
		return v
	}
	seconds := func(k string, def time.Duration) time.Duration {
		if d, err := time.ParseDuration(get(k, "") + "s"); err == nil && d > 0 {
			return d
		}
		return def
	}
	hours := func(k string, def time.Duration) time.Duration {
		if d, err := time.ParseDuration(get(k, "") + "h"); err == nil && d > 0 {
			return d
		}
		return def
	}
	csv := func(s string, lower bool) []string {
		var out []string
		for _, p := range strings.Split(s, ",") {
			if t := strings.TrimSpace(p); t != "" {
				if lower {
					t = strings.ToLower(t)
				}
				out = append(out, t)
			}
		}
		return out
	}

	webOrigin := get("WEB_ORIGIN", "http://localhost:5173")
	redisDB, _ := strconv.Atoi(get("REDIS_DB", "0"))
	dbDebug, _ := strconv.ParseBool(get("DB_DEBUG", "false"))

	return Config{
		DatabaseURL:    get("DATABASE_URL", db.DSN()),
		DBDebug:        dbDebug,
		RedisAddr:      get("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPwd:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:        redisDB,
		NATSURL:        os.Getenv("NATS_URL"),
		NATSPrefix:     os.Getenv("NATS_PREFIX"),
		WebOrigin:      webOrigin,
		RPID:           get("RP_ID", "localhost"),
		RPOrigins:      csv(get("RP_ORIGINS", webOrigin), false),
		SessionTTL:     seconds("SESSION_TTL_SECONDS", 10*time.Minute),
		AppSessionTTL:  hours("APP_SESSION_TTL_HOURS", 24*time.Hour),
		SeenThrottle:   seconds("LAST_SEEN_THROTTLE_SECONDS", time.Minute),
		AdminEmails:    csv(os.Getenv("ADMIN_EMAILS"), true),
		BootstrapEmail: strings.ToLower(strings.TrimSpace(os.Getenv("BOOTSTRAP_ADMIN_EMAIL"))),
		InviteTTL:      hours("INVITE_TTL_HOURS", 72*time.Hour),
		SMTPAddr:       os.Getenv("SMTP_ADDR"),
		SMTPUser:       os.Getenv("SMTP_USER"),
		SMTPPass:       os.Getenv("SMTP_PASSWORD"),
		MailFrom:       get("MAIL_FROM", "loan-desk@localhost"),
		Port:           get("PORT", "3001"),
	}
}

// NewUserHandle returns a fresh WebAuthn user handle for a staff account.
func NewUserHandle() string { return uuid.NewString() }
