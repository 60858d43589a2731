package app

import (
	"context"

	"github.com/benbjohnson/clock"
	"gorm.io/gorm"

	"github.com/xpanvictor/edmolink/internal/config"
	"github.com/xpanvictor/edmolink/internal/domains/plugin"
	"github.com/xpanvictor/edmolink/internal/domains/session"
	"github.com/xpanvictor/edmolink/internal/repository/sessionlog"
	"github.com/xpanvictor/edmolink/internal/server"
	"github.com/xpanvictor/edmolink/pkg/Logger"
	"github.com/xpanvictor/edmolink/pkg/io/manager"
)

// App represents the application with all its dependencies
type App struct {
	Config      *config.Settings
	Logger      *Logger.Logger
	DB          *gorm.DB
	Connections *manager.Manager
	Sessions    *session.Manager
	ServerDeps  server.Dependencies
}

// NewApp wires the discovery stack into the session layer. db may be nil;
// session logging is simply disabled then.
func NewApp(cfg *config.Settings, logger *Logger.Logger, db *gorm.DB, factory plugin.Factory) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
		DB:     db,
	}

	clk := clock.New()

	// 1. usage log (optional)
	var usage session.UsageLog
	if db != nil {
		repo := sessionlog.New(db, logger)
		if err := repo.Migrate(); err != nil {
			return nil, err
		}
		usage = repo
	} else {
		logger.Info("no database configured; session records disabled")
	}

	// 2. transports and device fusion
	app.Connections = manager.NewManager(manager.Config{
		UDPPort:            cfg.Discovery.UDPPort,
		SerialPollInterval: cfg.Discovery.SerialPollInterval,
		BroadcastInterval:  cfg.Discovery.BroadcastInterval,
		InactivityTimeout:  cfg.Discovery.InactivityTimeout,
	}, logger, clk)

	// 3. session arbitration
	app.Sessions = session.NewManager(session.ManagerOptions{
		Factory: factory,
		DataDir: cfg.Session.DataDir,
		Usage:   usage,
		Logger:  logger,
		Clock:   clk,
	})

	app.Connections.OnDeviceConnected(app.Sessions.HandleDeviceConnected)
	app.Connections.OnDeviceLost(app.Sessions.HandleDeviceLost)

	app.ServerDeps = server.NewServerDependencies(app.Sessions, app.Connections, logger, cfg)
	return app, nil
}

// Start begins discovery.
func (a *App) Start(ctx context.Context) error {
	return a.Connections.Start(ctx)
}

// Stop closes every session, then tears the transports down.
func (a *App) Stop() {
	a.Sessions.Shutdown()
	a.Connections.Stop()
}
