package handler

import (
	"errors"
	"net/http"
	"strconv"

	"classroom/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrConversationNotFound),
		errors.Is(err, service.ErrMessageNotFound),
		errors.Is(err, service.ErrNotificationNotFound),
		errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotParticipant),
		errors.Is(err, service.ErrNotMessageSender),
		errors.Is(err, service.ErrEventNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, service.ErrEmptyMessage),
		errors.Is(err, service.ErrSelfConversation),
		errors.Is(err, service.ErrInvalidParticipant),
		errors.Is(err, service.ErrUnknownEvent),
		errors.Is(err, service.ErrInvalidPushPermission):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// publicError is the text safe to show a client.
func publicError(err error) string {
	if statusOf(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}

// fail maps service errors to a status; anything unexpected is logged and hidden.
func fail(c *gin.Context, log *zap.Logger, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Error("request_failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": publicError(err)})
}

func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.DefaultQuery(name, strconv.Itoa(def)))
	if err != nil {
		return def
	}
	return v
}
