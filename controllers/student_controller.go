package controllers

import (
	"fmt"
	"net/http"

	"uobsw2project/app"
	"uobsw2project/loans"

	"github.com/gin-gonic/gin"
)

// Audit actions.
const (
	AuditDeactivate = "student.deactivate"
	AuditRemove     = "student.remove"
)

type StudentController struct{ *Srv }

func NewStudentController(s *Srv) *StudentController { return &StudentController{Srv: s} }

// GET /api/students?q=&page=&size=
func (sc *StudentController) List(c *gin.Context) {
	res, err := sc.Engine.ListStudents(c.Request.Context(), loans.StudentQuery{Q: c.Query("q"), Paging: paging(c)})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type addStudentReq struct {
	Username  string `json:"username" binding:"required,max=20"`
	FirstName string `json:"firstname" binding:"max=32"`
	LastName  string `json:"lastname" binding:"required,max=32"`
	Email     string `json:"email" binding:"required,email,max=64"`
}

// POST /api/students
func (sc *StudentController) Create(c *gin.Context) {
	var in addStudentReq
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return
	}
	st, err := sc.Engine.AddStudent(c.Request.Context(), loans.NewStudent{
		Username:  in.Username,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

// GET /api/students/:id
func (sc *StudentController) Report(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	rep, err := sc.Engine.StudentReport(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// POST /api/students/:id/deactivate
// Open loans stay open; the student just cannot borrow again.
func (sc *StudentController) Deactivate(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	st, err := sc.Engine.DeactivateStudent(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	sc.audit(c, AuditDeactivate, st.ID, st.Username)
	c.JSON(http.StatusOK, app.H{"ok": true, "student": st})
}

type removeStudentReq struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
}

// POST /api/students/remove
// Any logged-in staff member may call this; only admins are authorized, so
// others still learn whether the student exists.
func (sc *StudentController) Remove(c *gin.Context) {
	var in removeStudentReq
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return
	}
	rm, err := sc.Engine.RemoveStudent(c.Request.Context(), in.Username, in.Email, app.IsAdmin(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	sc.audit(c, AuditRemove, rm.Student.ID,
		fmt.Sprintf("%s <%s>, %d loan(s) deleted", rm.Student.Username, rm.Student.Email, rm.LoansDeleted))
	c.JSON(http.StatusOK, app.H{"ok": true, "removed": rm})
}
