package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voicemesh/internal/core/services"
	httphandlers "voicemesh/internal/handlers/http"
	"voicemesh/internal/infrastructure/middleware"
	"voicemesh/internal/infrastructure/monitoring"
	"voicemesh/internal/infrastructure/reliability"
	"voicemesh/internal/infrastructure/repositories"
	signalws "voicemesh/internal/infrastructure/signal"
	"voicemesh/pkg/config"
	"voicemesh/pkg/logger"
	"voicemesh/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const flagCacheTTL = 30 * time.Second

func main() {
	startTime := time.Now()

	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/voicemesh/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "voicemesh-relay",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRatio,
	})
	if err != nil {
		log.Warnw("tracing disabled", "error", err)
	}

	repoFactory := repositories.NewFactory(cfg, log)
	defer repoFactory.Close()

	roomRepo := reliability.WrapRoomRepository(repoFactory.RoomRepository(), zapLogger)
	flagRepo := repoFactory.FlagRepository(true)

	flagService := services.NewFlagService(flagRepo, flagCacheTTL, zapLogger)
	roomService := services.NewRoomService(roomRepo, flagService, cfg.Signal.MaxRoomSize, zapLogger)
	tokenService := services.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	membershipService := services.NewAllowAllMembership()

	metrics := monitoring.NewPrometheusCollector()

	wsServer := signalws.NewServer(cfg, roomService, membershipService, metrics, zapLogger)

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddCheck("repositories", repoFactory.HealthCheck, 2*time.Second)

	tokenHandler := httphandlers.NewTokenHandler(tokenService, cfg.Auth.AccessTokenTTL)
	roomHandler := httphandlers.NewRoomHandler(roomService, flagService)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	tokenHandler.SetupRoutes(router)

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(tokenService))
	roomHandler.SetupRoutes(api)

	router.GET("/ws", middleware.AuthMiddleware(tokenService), wsServer.HandleWebSocket)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		status := healthChecker.CheckAll(c.Request.Context())
		if status.Status != "healthy" {
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		c.JSON(http.StatusOK, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("starting voicemesh relay on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Errorw("error shutting down tracing", "error", err)
		}
	}

	log.Info("voicemesh relay stopped")
}
