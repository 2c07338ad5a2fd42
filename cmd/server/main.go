package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"classroom/config"
	"classroom/internal/broadcast"
	"classroom/internal/database"
	"classroom/internal/feed"
	"classroom/internal/logger"
	"classroom/internal/router"
	"classroom/internal/service"
	"classroom/pkg/cloudinary"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.Server.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Fatal("database_open_failed", zap.Error(err))
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatal("database_migrate_failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := feed.NewHub(cfg.Realtime.SubscriberBuffer)
	defer hub.Close()
	var changes feed.Feed = hub
	var bus broadcast.Bus
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("redis_ping_failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		relay := feed.NewRedisRelay(rdb, hub, log)
		redisBus := broadcast.NewRedisBus(rdb, cfg.Realtime.SubscriberBuffer, log)
		defer redisBus.Close()
		go relay.Run(ctx)
		go redisBus.Run(ctx)
		changes, bus = relay, redisBus
		log.Info("realtime_redis_enabled", zap.String("addr", cfg.Redis.Addr))
	} else {
		memBus := broadcast.NewMemoryBus(cfg.Realtime.SubscriberBuffer)
		defer memBus.Close()
		bus = memBus
		log.Info("realtime_in_process")
	}

	var cloud cloudinary.Client
	if cfg.Cloudinary.CloudName != "" {
		cloud, err = cloudinary.NewClientFromParams(cfg.Cloudinary.CloudName, cfg.Cloudinary.APIKey, cfg.Cloudinary.APISecret)
		if err != nil {
			log.Fatal("cloudinary_init_failed", zap.Error(err))
		}
	} else {
		log.Info("uploads_disabled", zap.String("reason", "CLASSROOM_CLOUDINARY_CLOUD_NAME not set"))
	}

	var push service.Pusher
	if fcm := service.NewFCMService(ctx, cfg.Firebase.ServiceAccountPath, log); fcm != nil {
		push = fcm
		log.Info("push_enabled")
	} else {
		log.Info("push_disabled", zap.Bool("configured", cfg.Firebase.ServiceAccountPath != ""))
	}

	engine := router.Setup(cfg, router.Deps{DB: db, Feed: changes, Bus: bus, Cloud: cloud, Push: push, Log: log})
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Info("server_listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen_failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server_shutdown_failed", zap.Error(err))
	}
	log.Info("server_stopped")
}
