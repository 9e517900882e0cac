// README: Shared handler utilities: error-to-status mapping, JSON helpers.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dispatch/internal/modules/carrier"
	"dispatch/internal/modules/master"
	"dispatch/internal/modules/round"
	"dispatch/internal/modules/shipment"
	"dispatch/internal/modules/user"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(c *gin.Context, status int, code string, msg string) {
	c.JSON(status, errorResponse{Error: msg, Code: code})
}

// writeServiceError maps the typed domain errors onto the HTTP boundary.
func writeServiceError(c *gin.Context, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, shipment.ErrNotFound),
		errors.Is(err, round.ErrNotFound),
		errors.Is(err, carrier.ErrVendorNotFound),
		errors.Is(err, carrier.ErrCarNotFound),
		errors.Is(err, user.ErrNotFound),
		errors.Is(err, master.ErrLeadtimeNotFound):
		writeError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, carrier.ErrWrongOwner):
		writeError(c, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, shipment.ErrStateConflict),
		errors.Is(err, shipment.ErrOnHold),
		errors.Is(err, shipment.ErrNotOnHold),
		errors.Is(err, shipment.ErrPastApmdate):
		writeError(c, http.StatusConflict, "state_conflict", err.Error())
	case errors.Is(err, carrier.ErrCarBusy),
		errors.Is(err, shipment.ErrInRound),
		errors.Is(err, shipment.ErrAlreadyExists):
		writeError(c, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, shipment.ErrNoApmdate):
		writeError(c, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		log.Error("unhandled service error", zap.Error(err))
		writeError(c, http.StatusInternalServerError, "internal", "internal error")
	}
}

func badRequest(c *gin.Context, msg string) {
	writeError(c, http.StatusBadRequest, "invalid_input", msg)
}
