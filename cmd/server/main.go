// Package main runs the classroom media backend: signaling WebSocket, chunk
// ingest and the call-quality monitor, with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/codefinch/classroom-backend/config"
	"github.com/codefinch/classroom-backend/internal/auth"
	"github.com/codefinch/classroom-backend/internal/health"
	"github.com/codefinch/classroom-backend/internal/ingest"
	"github.com/codefinch/classroom-backend/internal/middleware"
	"github.com/codefinch/classroom-backend/internal/session"
	"github.com/codefinch/classroom-backend/pkg/database"
	"github.com/codefinch/classroom-backend/pkg/queue"
	"github.com/codefinch/classroom-backend/pkg/redis"
	"github.com/codefinch/classroom-backend/pkg/response"
	"github.com/codefinch/classroom-backend/pkg/storage"
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

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			logger.Info("recordings storage ready", zap.String("bucket", s3Client.RecordingsBucket()))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret)

	// Session coordinator: the authority for room membership and presenter state.
	coordinator := session.NewCoordinator(jwtService.Validate, logger)

	// Quality monitor: scores metric samples and advises escalations.
	monitor := health.NewMonitor(health.MonitorConfig{
		WindowSize:            cfg.Health.WindowSize,
		RegionSwitchSamples:   cfg.Health.RegionSwitchSamples,
		RegionSwitchThreshold: cfg.Health.RegionSwitchThreshold,
		FallbackSamples:       cfg.Health.FallbackSamples,
		FallbackThreshold:     cfg.Health.FallbackThreshold,
	}, logger)
	coordinator.SetRoomClosedHandler(monitor.EndCall)
	healthHandler := health.NewHandler(monitor, coordinator, logger)

	// Chunk ingest: durable server-side storage for uploaded recording chunks.
	ingestRepo := ingest.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	ingestHandler := ingest.NewHandler(ingestRepo, s3Client, jobQueue, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/sessions/:id/health", healthHandler.Report)
		api.GET("/sessions/:id/health", healthHandler.GetWindow)

		api.POST("/sessions/:id/chunks/:part", ingestHandler.UploadChunk)
		api.GET("/sessions/:id/chunks", ingestHandler.ListChunks)
		api.POST("/sessions/:id/recording/complete", ingestHandler.CompleteRecording)
		api.GET("/sessions/:id/recording/manifest-url", ingestHandler.ManifestURL)
		api.DELETE("/sessions/:id/recording", ingestHandler.DeleteRecording)
	}

	// WebSocket signaling (authenticate message carries the token)
	router.GET("/ws", session.ServeWs(coordinator, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
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
