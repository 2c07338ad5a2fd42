package handler

import (
	"classroom/internal/middleware"
	"classroom/internal/service"
	"classroom/internal/ws"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UpgradeNotificationWS pushes {"type":"badge"} on every unread change and
// {"type":"notification"} for each notification created while connected.
func UpgradeNotificationWS(badges *service.BadgeService, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		w, err := badges.Watch(c.Request.Context(), userID)
		if err != nil {
			fail(c, log, err)
			return
		}
		defer w.Close()

		conn, err := ws.Upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := ws.NewClient(conn, userID, middleware.GetRole(c))
		go client.WritePump()
		go func() {
			for {
				select {
				case <-client.Done():
					return
				case <-w.Done():
					client.Close()
					return
				case b := <-w.Updates():
					client.SendJSON(gin.H{"type": "badge", "badges": b, "total": b.Total()})
				case n := <-w.Inserted():
					client.SendJSON(gin.H{"type": "notification", "notification": n})
				}
			}
		}()
		client.ReadPump(nil)
	}
}
