package handler

import (
	"net/http"
	"strconv"

	"classroom/internal/middleware"
	"classroom/internal/models"
	"classroom/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ChatHandler struct {
	convs    *service.ConversationService
	messages *service.MessageService
	log      *zap.Logger
}

func NewChatHandler(convs *service.ConversationService, messages *service.MessageService, log *zap.Logger) *ChatHandler {
	return &ChatHandler{convs: convs, messages: messages, log: log}
}

// StartConversation returns the caller's conversation with peer_id, creating it on first contact.
func (h *ChatHandler) StartConversation(c *gin.Context) {
	var req struct {
		PeerID uint `json:"peer_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "peer_id required"})
		return
	}
	conv, err := h.convs.Resolve(c.Request.Context(), middleware.GetUserID(c), req.PeerID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

func (h *ChatHandler) ListConversations(c *gin.Context) {
	list, err := h.convs.List(c.Request.Context(), middleware.GetUserID(c), queryInt(c, "limit", 50))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

// ListMessages pages backwards; pass before=<message id> to continue past the first page.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	before, _ := strconv.ParseUint(c.DefaultQuery("before", "0"), 10, 64)
	list, err := h.messages.History(c.Request.Context(), id, middleware.GetUserID(c), uint(before), queryInt(c, "limit", 50))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": list})
}

type sendRequest struct {
	Content    string             `json:"content"`
	Attachment *models.Attachment `json:"attachment"`
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	ctx := c.Request.Context()
	userID := middleware.GetUserID(c)
	conv, err := h.convs.Get(ctx, id, userID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	m, err := h.messages.Send(ctx, conv.ID, userID, conv.Peer(userID), req.Content, req.Attachment)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": m})
}

func (h *ChatHandler) MarkRead(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	n, err := h.messages.MarkRead(c.Request.Context(), id, middleware.GetUserID(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

func (h *ChatHandler) Typing(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.messages.NotifyTyping(c.Request.Context(), id, middleware.GetUserID(c)); err != nil {
		fail(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.messages.Delete(c.Request.Context(), id, middleware.GetUserID(c)); err != nil {
		fail(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}
