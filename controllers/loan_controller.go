package controllers

import (
	"net/http"

	"uobsw2project/app"
	"uobsw2project/loans"

	"github.com/gin-gonic/gin"
)

type LoanController struct{ *Srv }

func NewLoanController(s *Srv) *LoanController { return &LoanController{Srv: s} }

type loanReq struct {
	StudentID uint `json:"studentId" binding:"required"`
	DeviceID  uint `json:"deviceId" binding:"required"`
}

// POST /api/loans/borrow
func (lc *LoanController) Borrow(c *gin.Context) {
	var in loanReq
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return
	}
	l, err := lc.Engine.BorrowDevice(c.Request.Context(), in.StudentID, in.DeviceID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, l)
}

// POST /api/loans/return
// A return with no matching open loan answers 200 with ok=false.
func (lc *LoanController) Return(c *gin.Context) {
	var in loanReq
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return
	}
	l, err := lc.Engine.ReturnDevice(c.Request.Context(), in.StudentID, in.DeviceID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"ok": true, "loan": l})
}

// GET /api/loans?studentId=&deviceId=&status=open|returned
func (lc *LoanController) List(c *gin.Context) {
	f := loans.LoanFilter{Status: c.Query("status")}
	switch f.Status {
	case "", loans.LoanOpen, loans.LoanReturned:
	default:
		c.JSON(http.StatusBadRequest, app.H{"error": "status must be open or returned"})
		return
	}
	var ok bool
	if f.StudentID, ok = queryID(c, "studentId"); !ok {
		return
	}
	if f.DeviceID, ok = queryID(c, "deviceId"); !ok {
		return
	}
	ls, err := lc.Engine.ListLoans(c.Request.Context(), f)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, app.H{"items": ls})
}
