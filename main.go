package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/TIANLI0/MaskKit/config"
	"github.com/TIANLI0/MaskKit/handler"
	"github.com/TIANLI0/MaskKit/middleware"
	"github.com/TIANLI0/MaskKit/service"
	"github.com/TIANLI0/MaskKit/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	BuildID   = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func main() {
	// 加载配置
	cfg := config.New()

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	if err := cfg.Validate(); err != nil {
		utils.Logger.Fatal("invalid config", zap.Error(err))
	}

	utils.Logger.Info("starting MaskKit server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch),
		zap.String("segmentation_backend", cfg.Segmentation.Backend),
		zap.String("output_format", cfg.Pipeline.OutputFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化Redis
	var redisService *service.RedisService
	if cfg.Redis.Enabled {
		redisService = service.NewRedisService(&cfg.Redis, cfg.Pipeline.OutputFormat)
		if err := redisService.Ping(ctx); err != nil {
			utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
			_ = redisService.Close()
			redisService = nil
		} else {
			utils.Logger.Info("redis connected successfully")
			defer redisService.Close()
		}
	}

	// 初始化分割后端与流水线
	segmenter, err := service.NewSegmenter(&cfg.Segmentation)
	if err != nil {
		utils.Logger.Fatal("failed to create segmenter", zap.Error(err))
	}
	encoder, err := service.NewRasterEncoder(&cfg.Pipeline)
	if err != nil {
		utils.Logger.Fatal("failed to create encoder", zap.Error(err))
	}
	backgroundService := service.NewBackgroundService(&cfg.Pipeline, segmenter, encoder)

	// 初始化Handler
	maskHandler := handler.NewMaskHandler(cfg, redisService, backgroundService)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	// 健康检查和版本信息
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": Version,
		})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
			"build_id":   BuildID,
			"git_commit": GitCommit,
			"git_branch": GitBranch,
		})
	})

	handler.RegisterRoutes(r.Group("/api/v1"), maskHandler)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	utils.Logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.Logger.Error("server shutdown failed", zap.Error(err))
	}
}
