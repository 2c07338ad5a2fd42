package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"classroom/internal/middleware"
	"classroom/internal/models"
	"classroom/internal/service"
	"classroom/internal/ws"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// chatFrame is what a client may send on the chat socket.
type chatFrame struct {
	Type       string             `json:"type"` // message | typing | read
	Content    string             `json:"content"`
	Attachment *models.Attachment `json:"attachment"`
}

// UpgradeChatWS streams one conversation to a participant; query: conversation_id.
// The server first sends {"type":"conversation"}, then pushes {"type":"messages"}
// with the reconciled window and {"type":"typing"} with the users currently typing.
func UpgradeChatWS(messages *service.MessageService, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		convID, err := strconv.ParseUint(c.Query("conversation_id"), 10, 64)
		if err != nil || convID == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "conversation_id required"})
			return
		}
		ctx := c.Request.Context()
		st, err := messages.Open(ctx, uint(convID), userID)
		if err != nil {
			fail(c, log, err)
			return
		}
		defer st.Close()

		conn, err := ws.Upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := ws.NewClient(conn, userID, middleware.GetRole(c))
		log := log.With(zap.String("client_id", client.ID), zap.Uint("user_id", userID), zap.Uint64("conversation_id", convID))
		log.Debug("chat_ws_connected")
		defer log.Debug("chat_ws_closed")

		go client.WritePump()
		client.SendJSON(gin.H{"type": "conversation", "conversation": st.Conversation()})
		go func() {
			for {
				select {
				case <-client.Done():
					return
				case <-st.Done():
					client.Close()
					return
				case list := <-st.Messages():
					client.SendJSON(gin.H{"type": "messages", "messages": list})
				case ids := <-st.Typing():
					client.SendJSON(gin.H{"type": "typing", "user_ids": ids})
				}
			}
		}()

		client.ReadPump(func(raw []byte) {
			var f chatFrame
			if json.Unmarshal(raw, &f) != nil {
				return
			}
			var err error
			switch f.Type {
			case "message":
				_, err = st.Send(ctx, f.Content, f.Attachment)
			case "typing":
				err = st.NotifyTyping(ctx)
			case "read":
				_, err = st.MarkRead(ctx)
			default:
				return
			}
			if err != nil {
				if statusOf(err) == http.StatusInternalServerError {
					log.Warn("chat_frame_failed", zap.String("frame", f.Type), zap.Error(err))
				}
				client.SendJSON(gin.H{"type": "error", "request": f.Type, "error": publicError(err)})
			}
		})
	}
}
