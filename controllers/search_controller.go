package controllers

import (
	"net/http"

	"uobsw2project/app"
	"uobsw2project/loans"

	"github.com/gin-gonic/gin"
)

// maxSearchResults caps one response; the rest of the sequence is never read.
const maxSearchResults = 200

// GET /api/search?kind=student|device&q=
// Without a q parameter no search runs and the response says so; an empty
// result list is a search that found nothing.
func (s *Srv) Search(c *gin.Context) {
	kind := loans.DirectoryKind(c.DefaultQuery("kind", string(loans.KindStudent)))
	q, present := c.GetQuery("q")
	if !present {
		c.JSON(http.StatusOK, app.H{"searched": false, "kind": kind, "items": []loans.Entry{}})
		return
	}

	seq, err := s.Engine.SearchDirectory(c.Request.Context(), kind, q)
	if err != nil {
		respondErr(c, err)
		return
	}
	items := []loans.Entry{}
	truncated := false
	for e, err := range seq {
		if err != nil {
			respondErr(c, err)
			return
		}
		if len(items) == maxSearchResults {
			truncated = true
			break
		}
		items = append(items, e)
	}
	c.JSON(http.StatusOK, app.H{"searched": true, "kind": kind, "items": items, "truncated": truncated})
}
