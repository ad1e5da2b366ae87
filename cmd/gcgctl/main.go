// main.go - Admin control tool for the career gateway analytics server
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/karloscodes/cartridge"

	"gcgateway/internal"
	"gcgateway/internal/analytics"
	"gcgateway/internal/config"
	"gcgateway/internal/jobs"
	"gcgateway/internal/settings"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&MigrateCommand{},
	&APIKeyCommand{},
	&CleanupCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	app, err := internal.NewApp()
	if err != nil {
		log.Printf("Warning: Failed to initialize app: %v", err)
		log.Println("Proceeding with limited functionality...")
	}

	defer func() {
		if app != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				log.Printf("Warning: Cleanup error: %v", err)
			}
		}
	}()

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Fatalf("Command failed: %v", err)
	}

	log.Printf("Command %s completed successfully", cmd.Name())
}

func parseArgs() (string, []string) {
	args := flag.Args()
	if len(args) == 0 {
		return "help", nil
	}
	return args[0], args[1:]
}

func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func showUsageAndExit() {
	(&HelpCommand{}).Execute(context.Background(), nil, nil)
	os.Exit(1)
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot run migrations")
	}

	log.Println("Running database migrations...")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Println("Migrations completed")
	return nil
}

// APIKeyCommand prints or rotates the admin API key
type APIKeyCommand struct{}

func (c *APIKeyCommand) Name() string { return "apikey" }
func (c *APIKeyCommand) Description() string {
	return "Prints the admin API key, generating one if missing (use 'apikey rotate' to replace it)"
}

func (c *APIKeyCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot access settings")
	}

	db := app.DBManager.GetConnection()

	if len(args) > 0 && args[0] == "rotate" {
		key, err := settings.RegenerateAdminAPIKey(db)
		if err != nil {
			return fmt.Errorf("failed to rotate API key: %w", err)
		}
		fmt.Printf("New admin API key: %s\n", key)
		return nil
	}

	key, err := settings.GetOrCreateAdminAPIKey(db)
	if err != nil {
		return fmt.Errorf("failed to get API key: %w", err)
	}
	fmt.Printf("Admin API key: %s\n", key)
	return nil
}

// CleanupCommand triggers the retention cleanup immediately
type CleanupCommand struct{}

func (c *CleanupCommand) Name() string        { return "cleanup" }
func (c *CleanupCommand) Description() string { return "Deletes events and closed sessions past retention" }

func (c *CleanupCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot run cleanup")
	}

	cfg := config.GetConfig()
	logger := cartridge.NewLogger(cfg, nil)

	log.Println("Running retention cleanup...")
	if err := jobs.NewCleanupJob(app.DBManager, logger, cfg).Run(); err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	return app.DBManager.CheckpointWAL("FULL")
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows the current system status" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("cannot check status: app initialization failed")
	}

	db := app.DBManager.GetConnection()

	var eventCount int64
	if err := db.Model(&analytics.Event{}).Count(&eventCount).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	var sessionCount int64
	if err := db.Model(&analytics.Session{}).Count(&sessionCount).Error; err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	log.Println("System Status:")
	log.Println("- Database: Connected")
	log.Printf("- Events: %d", eventCount)
	log.Printf("- Sessions: %d", sessionCount)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}

	log.Printf("- Max Open Connections: %d", sqlDB.Stats().MaxOpenConnections)
	log.Printf("- Open Connections: %d", sqlDB.Stats().OpenConnections)
	log.Printf("- In Use: %d", sqlDB.Stats().InUse)
	log.Printf("- Idle: %d", sqlDB.Stats().Idle)

	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fmt.Println("Usage: gcgctl [command] [args...]")
	fmt.Println("Available commands:")

	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}

	return nil
}
