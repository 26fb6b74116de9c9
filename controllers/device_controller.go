package controllers

import (
	"net/http"

	"uobsw2project/app"
	"uobsw2project/loans"

	"github.com/gin-gonic/gin"
)

type DeviceController struct{ *Srv }

func NewDeviceController(s *Srv) *DeviceController { return &DeviceController{Srv: s} }

// GET /api/devices?status=available|on_loan&page=&size=
func (dc *DeviceController) List(c *gin.Context) {
	status := c.Query("status")
	switch status {
	case "", loans.DeviceAvailable, loans.DeviceOnLoan:
	default:
		c.JSON(http.StatusBadRequest, app.H{"error": "status must be available or on_loan"})
		return
	}
	res, err := dc.Engine.ListDevices(c.Request.Context(), loans.DeviceQuery{Status: status, Paging: paging(c)})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// POST /api/devices (admin)
func (dc *DeviceController) Create(c *gin.Context) {
	var in struct {
		DeviceType string `json:"deviceType" binding:"required,max=15"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, app.H{"error": err.Error()})
		return
	}
	d, err := dc.Engine.AddDevice(c.Request.Context(), in.DeviceType)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// GET /api/devices/:id
func (dc *DeviceController) Report(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	rep, err := dc.Engine.DeviceReport(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}
