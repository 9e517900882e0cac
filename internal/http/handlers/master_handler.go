// README: Master-data endpoints: warehouses, ship types, round templates, vendor directory.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"dispatch/internal/modules/carrier"
	"dispatch/internal/modules/master"
)

type MasterHandler struct {
	masters  *master.Store
	carriers *carrier.Store
	log      *zap.Logger
}

func NewMasterHandler(masters *master.Store, carriers *carrier.Store, log *zap.Logger) *MasterHandler {
	return &MasterHandler{masters: masters, carriers: carriers, log: log}
}

func (h *MasterHandler) Warehouses(c *gin.Context) {
	list, err := h.masters.ListWarehouses(c.Request.Context())
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	type view struct {
		Code string `json:"warehouse_code"`
		Name string `json:"warehouse_name"`
	}
	c.JSON(http.StatusOK, lo.Map(list, func(w master.Warehouse, _ int) view {
		return view{Code: w.Code, Name: w.Name}
	}))
}

func (h *MasterHandler) ShipTypes(c *gin.Context) {
	list, err := h.masters.ListShipTypes(c.Request.Context())
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	type view struct {
		Cartype    string `json:"cartype"`
		Cartypedes string `json:"cartypedes"`
	}
	c.JSON(http.StatusOK, lo.Map(list, func(t master.ShipType, _ int) view {
		return view{Cartype: t.Cartype, Cartypedes: t.Cartypedes}
	}))
}

func (h *MasterHandler) RoundTemplates(c *gin.Context) {
	list, err := h.masters.ListMasterRounds(c.Request.Context())
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	type view struct {
		ID        int64  `json:"id"`
		RoundTime string `json:"round_time"`
		RoundName string `json:"round_name"`
	}
	c.JSON(http.StatusOK, lo.Map(list, func(m master.MasterRound, _ int) view {
		return view{ID: m.ID, RoundTime: m.RoundTime, RoundName: m.RoundName}
	}))
}

// Vendors returns the vendor directory with cars, for the dispatcher's
// manual-assign picker.
func (h *MasterHandler) Vendors(c *gin.Context) {
	profiles, err := h.carriers.ListProfiles(c.Request.Context())
	if err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, lo.Map(profiles, func(p carrier.Capacity, _ int) vendorView {
		return toVendorView(p)
	}))
}
