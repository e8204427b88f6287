package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"rfid-door-panel/internal/inventory"
	"rfid-door-panel/internal/logging"
)

var clearRecordsYes bool

var clearRecordsCmd = &cobra.Command{
	Use:   "clear-records",
	Short: "Delete the tracker's movement history",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearRecordsYes {
			fmt.Print("This permanently deletes the movement history. Continue? [y/N] ")
			line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
			if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
				fmt.Println("Aborted")
				return nil
			}
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := logging.Initialize(cfg.LogLevel)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client := inventory.NewClient(cfg.CommandURL, logger)
		if err := client.ClearHistory(ctx); err != nil {
			return err
		}
		fmt.Println("Movement history cleared")
		return nil
	},
}

func init() {
	clearRecordsCmd.Flags().BoolVar(&clearRecordsYes, "yes", false, "skip the confirmation prompt")
}
