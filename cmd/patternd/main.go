package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm/logger"

	"github.com/opsdesk/patternd/internal/config"
	"github.com/opsdesk/patternd/internal/database"
	"github.com/opsdesk/patternd/internal/handlers"
	"github.com/opsdesk/patternd/internal/jobs"
)

// Set at build time with -ldflags
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it (this is fine if using environment variables): %v", err)
	}

	handlers.Version = version
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "patternd",
		Short: "Helpdesk ticket pattern detector",
		Long: `patternd groups similar helpdesk tickets into clusters, alerts departments
when a cluster grows past its threshold, flags likely spam and escalates
clusters to incident tickets.`,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newMigrateCommand())
	root.AddCommand(newSweepCommand())
	root.AddCommand(newVersionCommand())
	return root
}

// loadConfig reads the environment and opens the database
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := database.Connect(cfg.DatabaseURL, logger.Warn); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			defer database.Close()
			return database.AutoMigrate()
		},
	}
}

func newSweepCommand() *cobra.Command {
	var idleDays int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Deactivate clusters that have been idle for too long, once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer database.Close()

			if !cmd.Flags().Changed("idle-days") {
				idleDays = cfg.ClusterIdleDays
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			n, err := jobs.NewClusterSweeper(database.NewPatternStore(database.GetDB()), idleDays).Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deactivated %d idle clusters\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&idleDays, "idle-days", 14, "deactivate clusters without tickets for this many days")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "patternd %s (%s)\n", version, commit)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
