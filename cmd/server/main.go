// Package main runs the stream analytics HTTP server with webhook intake,
// background jobs and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/streampulse/backend/config"
	"github.com/streampulse/backend/internal/analytics"
	"github.com/streampulse/backend/internal/auth"
	"github.com/streampulse/backend/internal/events"
	"github.com/streampulse/backend/internal/middleware"
	"github.com/streampulse/backend/internal/poller"
	"github.com/streampulse/backend/internal/realtime"
	"github.com/streampulse/backend/internal/streamers"
	"github.com/streampulse/backend/internal/twitch"
	"github.com/streampulse/backend/internal/webhooks"
	"github.com/streampulse/backend/internal/worker"
	"github.com/streampulse/backend/pkg/database"
	"github.com/streampulse/backend/pkg/queue"
	"github.com/streampulse/backend/pkg/redis"
	"github.com/streampulse/backend/pkg/response"
	"github.com/streampulse/backend/pkg/utils"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
	} else {
		logger.Info("redis disabled, running instance-local")
	}

	// Analytics core
	store := analytics.NewRepository(pool)
	aggregator := analytics.NewAggregator(store, logger)

	var refresher analytics.Refresher = aggregator
	var jobQueue *queue.Queue
	if rdb != nil {
		jobQueue = queue.NewQueue(rdb.Client, logger)
		refresher = worker.NewQueueRefresher(jobQueue)
	}
	tracker := analytics.NewTracker(store, store, refresher, logger)
	recorder := analytics.NewRecorder(store, logger)
	analyticsHandler := analytics.NewHandler(store, aggregator, logger)

	// Helix client and streamer registry
	twitchClient := twitch.NewClient(cfg.Twitch.ClientID, cfg.Twitch.ClientSecret,
		cfg.Webhook.CallbackURL, cfg.Webhook.Secret, logger)
	streamerRepo := streamers.NewRepository(pool)
	manager := streamers.NewManager(streamerRepo, twitchClient, logger)
	streamerHandler := streamers.NewHandler(manager, streamerRepo, twitchClient, cfg.Poller.DefaultStreamers, logger)

	// Event log
	eventRepo := events.NewRepository(pool)
	eventHandler := events.NewHandler(eventRepo, logger)

	// Realtime feed
	var hub *realtime.Hub
	if rdb != nil {
		pubsub := realtime.NewRedisPubSub(rdb.Client, logger)
		hub = realtime.NewHub(logger, pubsub, pubsub)
	} else {
		hub = realtime.NewHub(logger, nil, nil)
	}
	defer hub.Close()

	// Webhook intake
	webhookHandler := webhooks.NewHandler(cfg.Webhook.Secret, tracker, eventRepo, streamerRepo, hub, logger)

	// Auth
	jwtService := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.ExpireHours)
	adminKeyHash := ""
	if cfg.Auth.AdminKey != "" {
		adminKeyHash, err = utils.HashKey(cfg.Auth.AdminKey)
		if err != nil {
			logger.Fatal("hash admin key", zap.Error(err))
		}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health and metrics
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Webhooks (signature-verified in the handler, no bearer auth)
	router.POST("/webhooks/twitch", webhookHandler.Receive)

	// Auth (public; only available when an admin key is configured)
	if cfg.Auth.AdminKey != "" {
		authHandler, err := auth.NewHandler(cfg.Auth.AdminKey, jwtService, cfg.Auth.ExpireHours, logger)
		if err != nil {
			logger.Fatal("auth handler", zap.Error(err))
		}
		router.POST("/auth/token", authHandler.Token)
	}

	// Public read API
	router.GET("/streamers", streamerHandler.List)
	router.GET("/streamers/:username/status", streamerHandler.GetStatus)
	router.GET("/streams/live", streamerHandler.ListLive)
	router.GET("/events", eventHandler.List)
	router.GET("/events/type/:type", eventHandler.ListByType)
	router.GET("/events/streamer/:username", eventHandler.ListByStreamer)
	router.GET("/analytics/summary", analyticsHandler.GetSummary)
	router.GET("/analytics/streamer/:login/stats", analyticsHandler.GetStreamerStats)
	router.GET("/analytics/streamer/:login/sessions", analyticsHandler.GetStreamerSessions)
	router.GET("/analytics/snapshots", analyticsHandler.GetSnapshots)
	router.GET("/analytics/top-streamers/hours", analyticsHandler.GetTopStreamersByHours)

	// WebSocket event feed
	router.GET("/ws", realtime.ServeWs(hub, logger))

	// Protected API (admin key or JWT when REQUIRE_API_KEY is set)
	protected := router.Group("")
	protected.Use(middleware.AdminAuth(cfg.Auth.RequireKey, adminKeyHash, jwtService))
	{
		protected.POST("/streamers", streamerHandler.Add)
		protected.DELETE("/streamers/:username", streamerHandler.Remove)
		protected.POST("/analytics/streamer/:login/recalculate", analyticsHandler.Recalculate)
		protected.POST("/admin/streamers/reload", streamerHandler.ReloadDefaults)
		protected.GET("/admin/subscriptions", streamerHandler.ListSubscriptions)
		protected.POST("/admin/subscriptions/validate", streamerHandler.ValidateSubscriptions)
		protected.POST("/admin/subscriptions/cleanup", streamerHandler.CleanupSubscriptions)
		protected.DELETE("/admin/subscriptions", streamerHandler.DeleteAllSubscriptions)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// Startup bootstrap: register default streamers, repair subscriptions
	// and seed statuses. Runs in the background so a slow upstream does not
	// delay the listener.
	go func() {
		if cfg.Twitch.ClientID == "" {
			logger.Warn("twitch credentials not set, skipping bootstrap and poller")
			return
		}
		manager.EnsureDefaults(bgCtx, cfg.Poller.DefaultStreamers)
		if _, err := manager.ValidateAndFixSubscriptions(bgCtx); err != nil {
			logger.Error("subscription bootstrap failed", zap.Error(err))
		}
		if err := manager.InitializeStatuses(bgCtx); err != nil {
			logger.Error("status bootstrap failed", zap.Error(err))
		}
		poller.New(streamerRepo, twitchClient, recorder, tracker, cfg.Poller, logger).Run(bgCtx)
	}()

	if jobQueue != nil {
		go worker.NewStatsProcessor(aggregator, jobQueue, logger).Run(bgCtx)
		logger.Info("stats worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
