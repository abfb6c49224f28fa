package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"followup-templates/internal/api"
	"followup-templates/internal/app"
	"followup-templates/internal/config"
	"followup-templates/internal/logger"
)

func main() {
	cfg := config.LoadConfig()
	log := logger.Init(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	gin.SetMode(cfg.GinMode)
	r := gin.Default()
	r.Use(api.CORS())

	templateHandler := api.NewTemplateHandler(application.Engine, application.Accessor, logger.WithComponent("api"))
	leadHandler := api.NewLeadHandler(application.DB, application.Engine, logger.WithComponent("api"))
	api.RegisterRoutes(r, templateHandler, leadHandler)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
