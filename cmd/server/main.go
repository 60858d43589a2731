package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/xpanvictor/edmolink/internal/app"
	"github.com/xpanvictor/edmolink/internal/config"
	"github.com/xpanvictor/edmolink/internal/db"
	"github.com/xpanvictor/edmolink/internal/server"
	"github.com/xpanvictor/edmolink/pkg/Logger"
)

// This is the main entry point for the EDMO backend.
// Discovers devices over serial and UDP broadcast
// Exposes the session manager to operator frontends
func main() {
	// fetch cfg
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	// load global logger
	logger := Logger.New(cfg.Debug)
	logger.Info("Logger initialized")

	// session log store is optional
	var gdb *gorm.DB
	if cfg.DB.Enabled() {
		gdb, err = db.InitDB(*cfg)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
	}

	application, err := app.NewApp(cfg, logger, gdb, nil)
	if err != nil {
		log.Fatalf("Failed to wire application: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := application.Start(ctx); err != nil {
		log.Fatalf("Failed to start discovery: %v", err)
	}

	// compose router
	router := gin.Default()
	server.InitializeRoutes(router, application.ServerDeps)

	srv := &http.Server{
		Addr:    cfg.Server.BindAddr,
		Handler: router.Handler(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server exiting %v", err)
		}
	}()
	logger.Infof("Listening on %s", cfg.Server.BindAddr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// sessions first so devices get their SessionEnd
	application.Stop()

	// 5 secs then cancel
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Shutdown err %v", err)
	}
	logger.Info("Shutdown system")
}
