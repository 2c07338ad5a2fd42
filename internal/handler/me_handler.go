package handler

import (
	"net/http"

	"classroom/internal/middleware"
	"classroom/internal/repository"
	"classroom/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type MeHandler struct {
	notifs *service.NotificationService
	log    *zap.Logger
}

func NewMeHandler(notifs *service.NotificationService, log *zap.Logger) *MeHandler {
	return &MeHandler{notifs: notifs, log: log}
}

func (h *MeHandler) GetPreferences(c *gin.Context) {
	p, err := h.notifs.Preferences(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"preferences": p})
}

// UpdatePreferences applies only the fields present in the body.
func (h *MeHandler) UpdatePreferences(c *gin.Context) {
	var req struct {
		Enabled        *bool   `json:"enabled"`
		PushPermission *string `json:"push_permission"`
		PushEnabled    *bool   `json:"push_enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	p, err := h.notifs.UpdatePreferences(c.Request.Context(), middleware.GetUserID(c), repository.PreferencePatch{
		Enabled:        req.Enabled,
		PushPermission: req.PushPermission,
		PushEnabled:    req.PushEnabled,
	})
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"preferences": p})
}

func (h *MeHandler) SetFCMToken(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := h.notifs.SetFCMToken(c.Request.Context(), middleware.GetUserID(c), req.Token); err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
