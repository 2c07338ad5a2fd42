package router

import (
	"net/http"

	"classroom/config"
	"classroom/internal/broadcast"
	"classroom/internal/domain"
	"classroom/internal/feed"
	"classroom/internal/handler"
	"classroom/internal/middleware"
	"classroom/internal/repository"
	"classroom/internal/service"
	"classroom/pkg/cloudinary"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps are the process-wide resources the routes run on. Cloud and Push may be nil.
type Deps struct {
	DB    *gorm.DB
	Feed  feed.Feed
	Bus   broadcast.Bus
	Cloud cloudinary.Client
	Push  service.Pusher
	Log   *zap.Logger
}

func Setup(cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimit(middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateBurst)))

	log := d.Log

	// Repositories
	userRepo := repository.NewUserRepository(d.DB)
	convRepo := repository.NewConversationRepository(d.DB, d.Feed, log.Named("repo"))
	msgRepo := repository.NewMessageRepository(d.DB, d.Feed, log.Named("repo"))
	notifRepo := repository.NewNotificationRepository(d.DB, d.Feed, log.Named("repo"))

	// Services
	notifSvc := service.NewNotificationService(notifRepo, userRepo, d.Push, cfg.Realtime.FanoutWorkers, log)
	convSvc := service.NewConversationService(convRepo, msgRepo, log)
	msgSvc := service.NewMessageService(service.MessageDeps{
		Conversations: convSvc,
		Messages:      msgRepo,
		Users:         userRepo,
		Notifier:      notifSvc,
		Feed:          d.Feed,
		Bus:           d.Bus,
	}, cfg.Realtime, log)
	badgeSvc := service.NewBadgeService(notifRepo, msgRepo, d.Feed, log)

	// Handlers
	hlog := log.Named("http")
	chatHandler := handler.NewChatHandler(convSvc, msgSvc, hlog)
	notificationHandler := handler.NewNotificationHandler(notifSvc, badgeSvc, hlog)
	meHandler := handler.NewMeHandler(notifSvc, hlog)
	uploadHandler := handler.NewUploadHandler(d.Cloud, cfg.Cloudinary.Folder, hlog)

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := middleware.AuthRequired(&cfg.JWT)

	wsGroup := r.Group("/ws", authed)
	wsGroup.GET("/chat", handler.UpgradeChatWS(msgSvc, hlog))
	wsGroup.GET("/notifications", handler.UpgradeNotificationWS(badgeSvc, hlog))

	api := r.Group("/api/v1", authed)

	conv := api.Group("/conversations")
	conv.POST("", chatHandler.StartConversation)
	conv.GET("", chatHandler.ListConversations)
	conv.GET("/:id/messages", chatHandler.ListMessages)
	conv.POST("/:id/messages", chatHandler.SendMessage)
	conv.POST("/:id/read", chatHandler.MarkRead)
	conv.POST("/:id/typing", chatHandler.Typing)
	api.DELETE("/messages/:id", chatHandler.DeleteMessage)

	me := api.Group("/me")
	me.POST("/uploads/attachment", uploadHandler.UploadAttachment)
	me.GET("/notifications", notificationHandler.List)
	me.PUT("/notifications/read-all", notificationHandler.MarkAllRead)
	me.PUT("/notifications/:id/read", notificationHandler.MarkRead)
	me.POST("/notifications/:id/open", notificationHandler.Open)
	me.DELETE("/notifications", notificationHandler.Clear)
	me.GET("/badges", notificationHandler.Badges)
	me.GET("/notification-preferences", meHandler.GetPreferences)
	me.PATCH("/notification-preferences", meHandler.UpdatePreferences)
	me.POST("/fcm-token", meHandler.SetFCMToken)

	api.POST("/notifications", middleware.RequireRole(domain.RoleLecturer, domain.RoleSystem), notificationHandler.Notify)

	return r
}
