package handler

import (
	"encoding/json"
	"net/http"

	"classroom/internal/domain"
	"classroom/internal/middleware"
	"classroom/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type NotificationHandler struct {
	notifs *service.NotificationService
	badges *service.BadgeService
	log    *zap.Logger
}

func NewNotificationHandler(notifs *service.NotificationService, badges *service.BadgeService, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{notifs: notifs, badges: badges, log: log}
}

func (h *NotificationHandler) List(c *gin.Context) {
	list, err := h.notifs.List(c.Request.Context(), middleware.GetUserID(c), queryInt(c, "limit", 20), queryInt(c, "offset", 0))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.notifs.MarkAsRead(c.Request.Context(), id, middleware.GetUserID(c)); err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	n, err := h.notifs.MarkAllAsRead(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (h *NotificationHandler) Clear(c *gin.Context) {
	n, err := h.notifs.ClearAll(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

// Open marks the notification read and tells the client where to navigate.
func (h *NotificationHandler) Open(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	target, err := h.notifs.Open(c.Request.Context(), id, middleware.GetUserID(c), middleware.GetRole(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"target": target})
}

func (h *NotificationHandler) Badges(c *gin.Context) {
	b, err := h.badges.Badges(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"badges": b, "total": b.Total()})
}

type notifyRequest struct {
	Event          domain.NotificationType `json:"event" binding:"required"`
	Payload        json.RawMessage         `json:"payload"`
	RecipientIDs   []uint                  `json:"recipient_ids" binding:"required"`
	IdempotencyKey string                  `json:"idempotency_key"`
}

// Notify is called by other platform services when a domain event happens.
// Lecturers may only publish events they author, and are recorded as the author.
func (h *NotificationHandler) Notify(c *gin.Context) {
	var req notifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event and recipient_ids required"})
		return
	}
	ev, err := service.DecodeEvent(req.Event, req.Payload)
	if err != nil {
		if statusOf(err) == http.StatusInternalServerError {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
		fail(c, h.log, err)
		return
	}
	if middleware.GetRole(c) != domain.RoleSystem {
		authored, ok := service.AuthoredBy(ev, middleware.GetUserID(c))
		if !ok {
			fail(c, h.log, service.ErrEventNotAllowed)
			return
		}
		ev = authored
	}
	var opts []service.NotifyOption
	if req.IdempotencyKey != "" {
		opts = append(opts, service.WithIdempotencyKey(req.IdempotencyKey))
	}
	res := h.notifs.Notify(c.Request.Context(), ev, req.RecipientIDs, opts...)
	c.JSON(http.StatusOK, gin.H{"result": res})
}
