package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/classmark-api/api/swagger"
	"github.com/noah-isme/classmark-api/internal/handler"
	"github.com/noah-isme/classmark-api/internal/middleware"
	"github.com/noah-isme/classmark-api/internal/models"
	"github.com/noah-isme/classmark-api/internal/repository"
	"github.com/noah-isme/classmark-api/internal/service"
	"github.com/noah-isme/classmark-api/pkg/cache"
	"github.com/noah-isme/classmark-api/pkg/config"
	"github.com/noah-isme/classmark-api/pkg/database"
	"github.com/noah-isme/classmark-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/classmark-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/classmark-api/pkg/middleware/requestid"
)

// @title Classmark Sync Gateway
// @version 0.2.0
// @description Batch reconciliation endpoint for offline-queued attendance marks
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	var cacheRepo *repository.CacheRepository
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, status map cache disabled", "error", err)
	} else {
		defer redisClient.Close()
		cacheRepo = repository.NewCacheRepository(redisClient)
	}

	validate := validator.New()
	attendanceRepo := repository.NewAttendanceRepository(db)
	classRepo := repository.NewClassRepository(db)
	userRepo := repository.NewUserRepository(db)

	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
	}, validate, logr)

	reconcileCfg := service.ReconcileConfig{
		MaxBatchSize:      cfg.Sync.MaxBatchSize,
		StatusMapCacheTTL: cfg.Sync.StatusMapCacheTTL,
	}
	// A typed nil would defeat the service's nil check, so branch explicitly.
	var reconcileSvc *service.ReconcileService
	if cacheRepo != nil {
		reconcileSvc = service.NewReconcileService(attendanceRepo, classRepo, cacheRepo, metricsSvc, validate, logr, reconcileCfg)
	} else {
		reconcileSvc = service.NewReconcileService(attendanceRepo, classRepo, nil, metricsSvc, validate, logr, reconcileCfg)
	}
	exportSvc := service.NewExportService(attendanceRepo, classRepo, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	syncHandler := handler.NewSyncHandler(reconcileSvc)
	reportHandler := handler.NewReportHandler(exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Scrape)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	authorized := api.Group("")
	authorized.Use(middleware.JWT(authSvc))
	authorized.POST("/attendance/sync", syncHandler.Reconcile)
	authorized.POST("/attendance/marks", syncHandler.Mark)
	authorized.GET("/attendance/status", syncHandler.StatusMap)
	if cfg.Reports.Enabled {
		authorized.GET("/classes/:id/attendance/export",
			middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin),
			reportHandler.Export)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("sync gateway starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
