// README: Booking-round endpoints: day plans, allocation, dispatcher confirmation.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dispatch/internal/http/middleware"
	"dispatch/internal/modules/round"
	"dispatch/internal/types"
)

type RoundHandler struct {
	rounds *round.Service
	log    *zap.Logger
}

func NewRoundHandler(rounds *round.Service, log *zap.Logger) *RoundHandler {
	return &RoundHandler{rounds: rounds, log: log}
}

func roundID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid round id")
		return 0, false
	}
	return id, true
}

func (h *RoundHandler) List(c *gin.Context) {
	date, err := types.ParseDate(c.Query("date"))
	if err != nil {
		badRequest(c, "invalid date")
		return
	}
	warehouse := c.Query("warehouse")
	if warehouse == "" {
		badRequest(c, "warehouse is required")
		return
	}
	rounds, err := h.rounds.GetRounds(c.Request.Context(), date, warehouse)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toRoundViews(rounds))
}

func (h *RoundHandler) Get(c *gin.Context) {
	id, ok := roundID(c)
	if !ok {
		return
	}
	r, err := h.rounds.GetRound(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toRoundView(*r))
}

func (h *RoundHandler) PendingConfirmation(c *gin.Context) {
	rounds, err := h.rounds.ListPendingConfirmation(c.Request.Context())
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toRoundViews(rounds))
}

type createRoundReq struct {
	RoundName     string   `json:"round_name" binding:"required"`
	RoundDate     string   `json:"round_date" binding:"required"`
	RoundTime     string   `json:"round_time" binding:"required"`
	WarehouseCode string   `json:"warehouse_code" binding:"required"`
	ShipmentIDs   []string `json:"shipment_ids"`
	Volume        *float64 `json:"volume"`
}

func (h *RoundHandler) Create(c *gin.Context) {
	var req createRoundReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	date, err := types.ParseDate(req.RoundDate)
	if err != nil {
		badRequest(c, "invalid round_date")
		return
	}
	u, _ := middleware.CurrentUser(c)
	r, err := h.rounds.CreateRound(c.Request.Context(), round.CreateRoundCommand{
		RoundName:     req.RoundName,
		RoundDate:     date,
		RoundTime:     req.RoundTime,
		WarehouseCode: req.WarehouseCode,
		ShipmentIDs:   req.ShipmentIDs,
		Volume:        req.Volume,
		Actor:         u.Username,
	})
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, toRoundView(*r))
}

type saveForDayReq struct {
	Date      string `json:"date" binding:"required"`
	Warehouse string `json:"warehouse" binding:"required"`
	Rounds    []struct {
		RoundName string   `json:"round_name"`
		RoundTime string   `json:"round_time" binding:"required"`
		Volume    *float64 `json:"volume"`
	} `json:"rounds"`
}

// SaveForDay replaces the day's round plan for one warehouse.
func (h *RoundHandler) SaveForDay(c *gin.Context) {
	var req saveForDayReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	date, err := types.ParseDate(req.Date)
	if err != nil {
		badRequest(c, "invalid date")
		return
	}
	inputs := make([]round.NewRoundInput, 0, len(req.Rounds))
	for _, r := range req.Rounds {
		inputs = append(inputs, round.NewRoundInput{
			RoundName: r.RoundName,
			RoundTime: r.RoundTime,
			Volume:    r.Volume,
		})
	}
	rounds, err := h.rounds.SyncDay(c.Request.Context(), date, req.Warehouse, inputs)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toRoundViews(rounds))
}

// AssignAll pulls every ready shipment for the day and warehouse into the
// round.
func (h *RoundHandler) AssignAll(c *gin.Context) {
	id, ok := roundID(c)
	if !ok {
		return
	}
	crdate, err := types.ParseDate(c.Query("crdate"))
	if err != nil {
		badRequest(c, "invalid crdate")
		return
	}
	shippoint := c.Query("shippoint")
	if shippoint == "" {
		badRequest(c, "shippoint is required")
		return
	}
	moved, err := h.rounds.AssignAllReady(c.Request.Context(), id, crdate, shippoint)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"round_id": id, "assigned": moved})
}

func (h *RoundHandler) Allocate(c *gin.Context) {
	id, ok := roundID(c)
	if !ok {
		return
	}
	u, _ := middleware.CurrentUser(c)
	plan, err := h.rounds.Allocate(c.Request.Context(), id, u.Username)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	type assignmentView struct {
		Shipid  string `json:"shipid"`
		Vencode string `json:"vencode"`
		Grade   string `json:"grade"`
	}
	out := make([]assignmentView, 0, len(plan.Assignments))
	for _, a := range plan.Assignments {
		out = append(out, assignmentView{Shipid: a.Shipid, Vencode: a.Vencode, Grade: string(a.Grade)})
	}
	c.JSON(http.StatusOK, gin.H{"round_id": id, "assignments": out, "held": plan.Held})
}

// ConfirmAssignment finalizes every vendor-confirmed shipment in the round.
func (h *RoundHandler) ConfirmAssignment(c *gin.Context) {
	id, ok := roundID(c)
	if !ok {
		return
	}
	u, _ := middleware.CurrentUser(c)
	r, err := h.rounds.ConfirmRound(c.Request.Context(), id, u.Username)
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, toRoundView(*r))
}
