package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"graph-memory/backend/internal/api"
	"graph-memory/backend/internal/services"
	"graph-memory/backend/pkg/config"
	"graph-memory/backend/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting graph memory server...",
		zap.String("env", cfg.Env),
		zap.String("store", cfg.StoreBackend),
	)

	ctx := context.Background()
	mgr, err := services.NewManager(ctx, cfg, services.Options{Logger: logger.Named("services")})
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}

	mgr.EnsureSchemaOrRetry(ctx)
	if err := mgr.StartAll(ctx); err != nil {
		log.Fatal("Failed to start background jobs", zap.Error(err))
	}

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(mgr)

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := mgr.StopAll(shutdownCtx); err != nil {
		log.Error("Services did not stop cleanly", zap.Error(err))
	}

	log.Info("Server exited")
}

func newRouter(mgr *services.Manager) *gin.Engine {
	return api.NewRouter(api.RouterOptions{
		Service: mgr.Service,
		Jobs:    mgr.Scheduler,
		Metrics: mgr.Metrics,
		Logger:  logger.Named("api"),
	})
}
