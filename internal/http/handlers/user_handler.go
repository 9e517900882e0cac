// README: Account endpoints: current user profile, device-token registration.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dispatch/internal/http/middleware"
	"dispatch/internal/modules/notify"
	"dispatch/internal/modules/user"
)

type UserHandler struct {
	users  *user.Store
	tokens *notify.TokenCache
	log    *zap.Logger
}

func NewUserHandler(users *user.Store, tokens *notify.TokenCache, log *zap.Logger) *UserHandler {
	return &UserHandler{users: users, tokens: tokens, log: log}
}

func (h *UserHandler) Me(c *gin.Context) {
	u, _ := middleware.CurrentUser(c)
	view := gin.H{
		"username":     u.Username,
		"role":         string(u.Role),
		"display_name": u.DisplayName,
	}
	if u.VencodeRef != nil {
		view["vencode"] = *u.VencodeRef
	}
	if u.Grade != nil {
		view["grade"] = string(*u.Grade)
	}
	c.JSON(http.StatusOK, view)
}

type fcmTokenReq struct {
	Token string `json:"token" binding:"required"`
}

// UpdateFCMToken stores the caller's device token and refreshes the cache
// so the next fan-out uses it immediately.
func (h *UserHandler) UpdateFCMToken(c *gin.Context) {
	var req fcmTokenReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	u, _ := middleware.CurrentUser(c)
	if err := h.users.UpdateFCMToken(c.Request.Context(), u.Username, req.Token); err != nil {
		writeServiceError(c, h.log, err)
		return
	}
	if h.tokens != nil {
		if err := h.tokens.Set(c.Request.Context(), u.Username, req.Token); err != nil {
			h.log.Warn("token cache update failed", zap.String("username", u.Username), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
