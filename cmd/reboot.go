package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rfid-door-panel/internal/inventory"
	"rfid-door-panel/internal/logging"
)

var rebootCmd = &cobra.Command{
	Use:   "reboot",
	Short: "Ask the door tracker to restart itself",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := logging.Initialize(cfg.LogLevel)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client := inventory.NewClient(cfg.CommandURL, logger)
		if err := client.Reboot(ctx); err != nil {
			return err
		}
		fmt.Println("Reboot requested")
		return nil
	},
}
