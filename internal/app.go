// Package internal contains core application functionality
package internal

import (
	"fmt"

	"github.com/karloscodes/cartridge"

	"gcgateway/internal/config"
	"gcgateway/internal/database"
	"gcgateway/internal/geo"
	"gcgateway/internal/jobs"
	"gcgateway/internal/settings"
)

// Application wraps cartridge.Application with gcgateway-specific components
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	cfg := config.GetConfig()
	return NewAppWithConfig(cfg)
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := settings.SetupDefaultSettings(dbManager.GetConnection()); err != nil {
		return nil, fmt.Errorf("failed to set up default settings: %w", err)
	}

	// Geolocation degrades gracefully: no local database means remote-only,
	// and a failed remote lookup means sessions without location.
	geoDB := geo.InitGeoDB(cfg, logger)
	resolver := geo.NewResolver(cfg, logger, geoDB)

	jobsScheduler, err := jobs.NewScheduler(dbManager, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize jobs: %w", err)
	}

	// Tracking calls come from job-board pages on other origins, so the
	// Sec-Fetch-Site middleware must admit cross-site browser requests.
	serverConfig := cartridge.DefaultServerConfig()
	serverConfig.Config = cfg
	serverConfig.Logger = logger
	serverConfig.DBManager = dbManager
	serverConfig.SecFetchSiteAllowedValues = []string{"cross-site", "same-site", "same-origin"}

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:    cfg,
		Logger:    logger,
		DBManager: dbManager,
		RouteMountFunc: func(srv *cartridge.Server) {
			MountAppRoutes(srv, resolver)
		},
		ServerConfig:      serverConfig,
		BackgroundWorkers: []cartridge.BackgroundWorker{jobsScheduler},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
	}, nil
}
