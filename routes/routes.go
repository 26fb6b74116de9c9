package routes

import (
	"net/http"

	"uobsw2project/app"
	"uobsw2project/controllers"

	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.Engine, a *app.App) {
	s := controllers.GetSrv(a)
	Register(r, s,
		app.AuthRequired(s.AppSess, s.Repo, a.Config),
		app.TouchLastSeen(s.Repo, a.RDB, a.Config.SeenThrottle),
	)
}

// Register wires every route onto r. authMW must resolve the caller and set
// the app context keys; seenMW runs after it on authenticated routes.
func Register(r *gin.Engine, s *controllers.Srv, authMW, seenMW gin.HandlerFunc) {
	adminMW := app.AdminOnly()

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, app.H{"ok": true}) })

	// staff accounts
	auth := r.Group("/auth")
	{
		auth.POST("/register", s.Register)
		auth.POST("/login", s.Login)
		auth.POST("/logout", s.Logout)
		auth.GET("/whoami", authMW, seenMW, s.WhoAmI)
	}

	wa := r.Group("/webauthn")
	{
		wa.POST("/login/begin", s.BeginLogin)
		wa.POST("/login/finish", s.FinishLogin)
	}

	api := r.Group("/api", authMW, seenMW)

	creds := api.Group("/credentials")
	{
		creds.POST("/add/begin", s.BeginAddCredential)
		creds.POST("/add/finish", s.FinishAddCredential)
	}

	students := controllers.NewStudentController(s)
	st := api.Group("/students")
	{
		st.GET("", students.List)
		st.POST("", students.Create)
		st.POST("/remove", students.Remove)
		st.GET("/:id", students.Report)
		st.POST("/:id/deactivate", students.Deactivate)
	}

	devices := controllers.NewDeviceController(s)
	dv := api.Group("/devices")
	{
		dv.GET("", devices.List)
		dv.POST("", adminMW, devices.Create)
		dv.GET("/:id", devices.Report)
	}

	loans := controllers.NewLoanController(s)
	ln := api.Group("/loans")
	{
		ln.POST("/borrow", loans.Borrow)
		ln.POST("/return", loans.Return)
		ln.GET("", loans.List)
	}

	api.GET("/search", s.Search)
	api.GET("/audit", adminMW, s.ListAudit)

	users := controllers.GetUserController(s.Repo, s.AppSess, s.Cfg)
	us := api.Group("/users", adminMW)
	{
		us.GET("", users.ListUsers)
		us.GET("/:id", users.GetUser)
		us.PUT("/:id/admin", users.SetAdmin)
		us.DELETE("/:id", users.DeleteUser)
	}

	invites := controllers.GetInviteController(s)
	admin := r.Group("/admin", authMW, adminMW)
	{
		admin.GET("/invites", invites.ListInvites)
		admin.POST("/invites", invites.CreateInvite)
		admin.DELETE("/invites/:id", invites.RevokeInvite)
	}
}
