package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rfid-door-panel/internal/config"
	"rfid-door-panel/internal/logging"
	"rfid-door-panel/internal/panel"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "rfid-door-panel",
	Short: "RFID Door Panel - live monitoring for an RFID-tracked doorway",
	Long: `A local panel service that follows an RFID door tracker in real time.
It keeps a live view of the reader, the door sensors and the movement
history, correlates sensor presence with tag reads into doorway crossings,
archives movements locally and serves the result over a small HTTP API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPanel()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(rebootCmd)
	rootCmd.AddCommand(clearRecordsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func runPanel() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := logging.Initialize(cfg.LogLevel)
	if cfg.LogFile != "" {
		if err := logging.SetupFileLogging(logger, cfg.LogFile); err != nil {
			logger.WithError(err).Warn("File logging unavailable, using stdout only")
		}
	}

	mgr, err := panel.NewManager(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build panel: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start panel: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.WithField("signal", sig.String()).Info("Shutdown signal received")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	return mgr.Stop(stopCtx)
}
