package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"marketnotify/internal/config"
	"marketnotify/internal/database"
	"marketnotify/internal/monitor"
	"marketnotify/internal/redis"
	"marketnotify/pkg/log"
	"marketnotify/pkg/utils"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to load config")
	}

	if err := log.Init(cfg.Log); err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to initialize logger")
	}
	// only the log level is hot-reloadable; everything else needs a restart
	loader.Watch(func(next *config.Config) {
		log.SetLevel(next.Log.Level)
	})
	utils.RegisterCustomValidators()

	// database
	db, err := database.Init(cfg)
	if err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to initialize database")
	}
	defer database.Close()

	// redis
	rdb, err := redis.Init(cfg)
	if err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to initialize redis")
	}
	defer redis.Close()

	tracer, err := monitor.NewTracer(cfg.Tracing, version, config.Env())
	if err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to initialize tracer")
	}

	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	application, err := newApp(cfg, db, rdb, tracer)
	if err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to build application")
	}
	if err := application.start(context.Background()); err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Fatal("Failed to start background workers")
	}

	server := &http.Server{
		Addr:           cfg.Server.GetAddr(),
		Handler:        application.router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
		// WriteTimeout stays unset: it would cut websocket streams. Handlers are
		// bounded by the timeout middleware instead.
	}

	go func() {
		log.WithFields(map[string]interface{}{
			"addr":    server.Addr,
			"mode":    cfg.Server.Mode,
			"version": version,
		}).Info("Starting HTTP server")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithFields(map[string]interface{}{
				"error": err.Error(),
			}).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Error("Server forced to shutdown")
	}
	if err := application.close(ctx); err != nil {
		log.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Error("Background workers did not stop cleanly")
	}
	if err := tracer.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("Tracer shutdown failed")
	}

	log.Info("Server exited")
}
