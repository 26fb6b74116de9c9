package controllers

import (
	"net/http"
	"strconv"

	"uobsw2project/app"

	"github.com/gin-gonic/gin"
)

// GET /api/audit?studentId=&limit= (admin)
func (s *Srv) ListAudit(c *gin.Context) {
	sid, ok := queryID(c, "studentId")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := s.Audit.ListAudit(c.Request.Context(), sid, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, app.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, app.H{"items": entries})
}
