// README: Shipment endpoints: listings, booking actions, hold/cancel.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dispatch/internal/http/middleware"
	"dispatch/internal/modules/shipment"
	"dispatch/internal/types"
)

type ShipmentHandler struct {
	shipments *shipment.Service
	log       *zap.Logger
}

func NewShipmentHandler(shipments *shipment.Service, log *zap.Logger) *ShipmentHandler {
	return &ShipmentHandler{shipments: shipments, log: log}
}

func parseDateQuery(c *gin.Context, key string) (*time.Time, bool) {
	v := c.Query(key)
	if v == "" {
		return nil, true
	}
	d, err := types.ParseDate(v)
	if err != nil {
		badRequest(c, "invalid "+key)
		return nil, false
	}
	t := d.Time
	return &t, true
}

func optionalQuery(c *gin.Context, key string) *string {
	if v := c.Query(key); v != "" {
		return &v
	}
	return nil
}

// ListUnassigned returns round-less, un-held shipments for one warehouse
// and appointment day.
func (h *ShipmentHandler) ListUnassigned(c *gin.Context) {
	apm, ok := parseDateQuery(c, "apmdate")
	if !ok {
		return
	}
	shippoint := c.Query("shippoint")
	if apm == nil || shippoint == "" {
		badRequest(c, "apmdate and shippoint are required")
		return
	}
	list, err := h.shipments.ListUnassigned(c.Request.Context(), types.DateOf(*apm), shippoint)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toShipmentViews(list))
}

func (h *ShipmentHandler) ListHeld(c *gin.Context) {
	from, ok := parseDateQuery(c, "apmdate_from")
	if !ok {
		return
	}
	to, ok := parseDateQuery(c, "apmdate_to")
	if !ok {
		return
	}
	list, err := h.shipments.ListHeld(c.Request.Context(), shipment.HeldFilter{
		Shippoint:   optionalQuery(c, "shippoint"),
		ApmdateFrom: from,
		ApmdateTo:   to,
	})
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toShipmentViews(list))
}

// List is role-aware: a dispatcher gets the filtered listing, a vendor its
// actionable work list.
func (h *ShipmentHandler) List(c *gin.Context) {
	u, _ := middleware.CurrentUser(c)
	if u.IsVendor() {
		list, err := h.shipments.WorkList(c.Request.Context(), *u.Grade, *u.VencodeRef)
		if err != nil {
			writeServiceError(c, h.log, err)
			return
		}
		c.JSON(http.StatusOK, toShipmentViews(list))
		return
	}

	from, ok := parseDateQuery(c, "apmdate_from")
	if !ok {
		return
	}
	to, ok := parseDateQuery(c, "apmdate_to")
	if !ok {
		return
	}
	f := shipment.Filter{
		Vencode:     optionalQuery(c, "vencode"),
		ApmdateFrom: from,
		ApmdateTo:   to,
	}
	if v := c.Query("docstat"); v != "" {
		d := shipment.DocStat(v)
		f.Docstat = &d
	}
	if v := c.Query("is_on_hold"); v != "" {
		held := v == "true" || v == "1"
		f.IsOnHold = &held
	}
	list, err := h.shipments.ListFiltered(c.Request.Context(), f)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toShipmentViews(list))
}

// MyOrders lists ongoing shipments, scoped to the caller's vendor when the
// caller is one.
func (h *ShipmentHandler) MyOrders(c *gin.Context) {
	u, _ := middleware.CurrentUser(c)
	var vencode *string
	if u.IsVendor() {
		vencode = u.VencodeRef
	}
	list, err := h.shipments.Ongoing(c.Request.Context(), vencode)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toShipmentViews(list))
}

func (h *ShipmentHandler) MyHistory(c *gin.Context) {
	u, _ := middleware.CurrentUser(c)
	var vencode *string
	if u.IsVendor() {
		vencode = u.VencodeRef
	}
	from, ok := parseDateQuery(c, "apmdate_from")
	if !ok {
		return
	}
	to, ok := parseDateQuery(c, "apmdate_to")
	if !ok {
		return
	}
	list, err := h.shipments.History(c.Request.Context(), vencode, shipment.HistoryFilter{
		Shipid:      optionalQuery(c, "shipid"),
		Route:       optionalQuery(c, "route"),
		ApmdateFrom: from,
		ApmdateTo:   to,
	})
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toShipmentViews(list))
}

func (h *ShipmentHandler) Get(c *gin.Context) {
	sh, err := h.shipments.Get(c.Request.Context(), c.Param("shipid"))
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toShipmentView(*sh))
}

type createShipmentReq struct {
	Shipid       string    `json:"shipid" binding:"required"`
	CustomerName *string   `json:"customer_name"`
	Doctype      *string   `json:"doctype"`
	Shippoint    string    `json:"shippoint" binding:"required"`
	Province     *int      `json:"province"`
	Route        *string   `json:"route"`
	Cartype      *string   `json:"cartype"`
	Dockno       *string   `json:"dockno"`
	Quantity     *int      `json:"quantity"`
	VolumeCBM    *float64  `json:"volume_cbm"`
	Apmdate      *string   `json:"apmdate"`
	Details      []struct {
		Doid     string  `json:"doid" binding:"required"`
		Dlvdate  string  `json:"dlvdate" binding:"required"`
		Cusid    string  `json:"cusid"`
		Cusname  string  `json:"cusname"`
		Route    string  `json:"route"`
		Routedes *string `json:"routedes"`
		Province string  `json:"province"`
		Volume   float64 `json:"volumn"`
	} `json:"details"`
}

func (h *ShipmentHandler) Create(c *gin.Context) {
	var req createShipmentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	u, _ := middleware.CurrentUser(c)
	cmd := shipment.CreateCommand{
		Shipid:       req.Shipid,
		CustomerName: req.CustomerName,
		Doctype:      req.Doctype,
		Shippoint:    req.Shippoint,
		Province:     req.Province,
		Route:        req.Route,
		Cartype:      req.Cartype,
		Dockno:       req.Dockno,
		Quantity:     req.Quantity,
		VolumeCBM:    req.VolumeCBM,
		Actor:        u.Username,
	}
	if req.Apmdate != nil {
		t, err := time.Parse(time.RFC3339, *req.Apmdate)
		if err != nil {
			badRequest(c, "invalid apmdate")
			return
		}
		cmd.Apmdate = &t
	}
	for _, d := range req.Details {
		dlv, err := types.ParseDate(d.Dlvdate)
		if err != nil {
			badRequest(c, "invalid dlvdate for "+d.Doid)
			return
		}
		cmd.Details = append(cmd.Details, shipment.Detail{
			Doid:     d.Doid,
			Dlvdate:  dlv.Time,
			Cusid:    d.Cusid,
			Cusname:  d.Cusname,
			Route:    d.Route,
			Routedes: d.Routedes,
			Province: d.Province,
			Volume:   d.Volume,
		})
	}
	sh, err := h.shipments.Create(c.Request.Context(), cmd)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, toShipmentView(*sh))
}

type shipidReq struct {
	Shipid string `json:"shipid" binding:"required"`
}

func (h *ShipmentHandler) RequestBooking(c *gin.Context) {
	var req shipidReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	u, _ := middleware.CurrentUser(c)
	sh, err := h.shipments.RequestBooking(c.Request.Context(), req.Shipid, u.Username)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toShipmentView(*sh))
}

type confirmReq struct {
	Shipid     string  `json:"shipid" binding:"required"`
	Carlicense string  `json:"carlicense" binding:"required"`
	Carnote    *string `json:"carnote"`
}

func (h *ShipmentHandler) Confirm(c *gin.Context) {
	var req confirmReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	u, _ := middleware.CurrentUser(c)
	sh, err := h.shipments.VendorConfirm(c.Request.Context(), shipment.ConfirmCommand{
		Shipid:     req.Shipid,
		Vencode:    *u.VencodeRef,
		Grade:      *u.Grade,
		Carlicense: req.Carlicense,
		Carnote:    req.Carnote,
		Actor:      u.Username,
	})
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toShipmentView(*sh))
}

type rejectReq struct {
	Shipid string `json:"shipid" binding:"required"`
	Reason string `json:"rejection_reason"`
}

func (h *ShipmentHandler) Reject(c *gin.Context) {
	var req rejectReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	u, _ := middleware.CurrentUser(c)
	sh, err := h.shipments.VendorReject(c.Request.Context(), shipment.RejectCommand{
		Shipid:  req.Shipid,
		Vencode: *u.VencodeRef,
		Grade:   *u.Grade,
		Reason:  req.Reason,
		Actor:   u.Username,
	})
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toShipmentView(*sh))
}

type manualAssignReq struct {
	Shipid  string `json:"shipid" binding:"required"`
	Vencode string `json:"vencode" binding:"required"`
}

func (h *ShipmentHandler) ManualAssign(c *gin.Context) {
	var req manualAssignReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	u, _ := middleware.CurrentUser(c)
	sh, err := h.shipments.ManualAssign(c.Request.Context(), shipment.ManualAssignCommand{
		Shipid:  req.Shipid,
		Vencode: req.Vencode,
		Actor:   u.Username,
	})
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toShipmentView(*sh))
}

type holdReq struct {
	Hold *bool `json:"hold" binding:"required"`
}

func (h *ShipmentHandler) Hold(c *gin.Context) {
	var req holdReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	u, _ := middleware.CurrentUser(c)
	sh, err := h.shipments.Hold(c.Request.Context(), c.Param("shipid"), *req.Hold, u.Username)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toShipmentView(*sh))
}

func (h *ShipmentHandler) Cancel(c *gin.Context) {
	u, _ := middleware.CurrentUser(c)
	sh, err := h.shipments.Cancel(c.Request.Context(), c.Param("shipid"), u.Username)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toShipmentView(*sh))
}
