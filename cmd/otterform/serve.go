package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charrlodin/otter-form/internal/config"
	"github.com/charrlodin/otter-form/internal/form/handler"
	"github.com/charrlodin/otter-form/internal/form/llm"
	"github.com/charrlodin/otter-form/internal/form/repository"
	"github.com/charrlodin/otter-form/internal/form/service"
	"github.com/charrlodin/otter-form/internal/form/sse"
	"github.com/charrlodin/otter-form/internal/middleware"
	"github.com/charrlodin/otter-form/internal/shared/feishu"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, zapLogger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting otterform service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	db, err := initDatabase(cfg.Database)
	if err != nil {
		return err
	}
	if err := migrate(db); err != nil {
		zapLogger.Warn("AutoMigrate warning", zap.Error(err))
	}

	rdb := initRedis(cfg.Redis)
	defer rdb.Close()
	if err := rdb.Ping(cmd.Context()).Err(); err != nil {
		zapLogger.Warn("Redis unavailable, rate limits and view de-dup degrade open", zap.Error(err))
	}

	deps := service.Deps{
		Repos:  repository.NewRepositories(db),
		Redis:  rdb,
		Hub:    sse.NewHub(zapLogger),
		Config: cfg,
		Logger: zapLogger,
	}

	if cfg.MinIO.Endpoint != "" {
		store, err := service.NewMinIOStore(cmd.Context(), cfg.MinIO)
		if err != nil {
			zapLogger.Warn("MinIO unavailable, file uploads disabled", zap.Error(err))
		} else {
			deps.Store = store
		}
	}

	if cfg.Feishu.Enabled() {
		deps.Notifier = service.NewFeishuNotifier(
			feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret),
			cfg.Feishu.ChatID,
			cfg.Server.PublicURL,
		)
		zapLogger.Info("Feishu submission notifications enabled", zap.String("chat_id", cfg.Feishu.ChatID))
	}

	completer, err := llm.New(service.LLMConfig(cfg.LLM))
	if err != nil {
		return fmt.Errorf("init llm provider: %w", err)
	}
	deps.Completer = completer

	svc := service.NewServices(deps)
	h := handler.NewHandlers(svc, deps.Hub)

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(zapLogger))
	r.Use(middleware.CORS())
	r.Use(middleware.RequestID())
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/sse"})))

	registerSystemRoutes(r, db, rdb)
	handler.RegisterRoutes(r, h, svc.Limiter, cfg, zapLogger)

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		// SSE 长连接不设置写超时
		WriteTimeout: 0,
	}

	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")
	deps.Hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg.Server))
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	svc.Public.WaitNotifications()

	zapLogger.Info("Server exited")
	return nil
}

func shutdownTimeout(cfg config.ServerConfig) time.Duration {
	if cfg.ShutdownTimeout > 0 {
		return cfg.ShutdownTimeout
	}
	return 10 * time.Second
}

func registerSystemRoutes(r *gin.Engine, db *gorm.DB, rdb *redis.Client) {
	// 健康检查
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		checks := gin.H{"database": "ok", "redis": "ok"}
		status := http.StatusOK
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			checks["database"] = "unavailable"
			status = http.StatusServiceUnavailable
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unavailable"
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "checks": checks})
	})

	// 版本信息
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": 40400, "message": "Not found"})
	})
}
