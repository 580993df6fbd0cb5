// Command fleetd runs the workshop reconciliation engine: the board
// server, reconciliation backfills, and task queue operations.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fleetworks/fleetworks/internal/config"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "fleetd",
	Short: "Workshop defect-to-task reconciliation engine",
	Long: `fleetd turns vehicle inspection defects into durable workshop tasks.

It hosts the reconciliation engine (idempotent defect-to-task upserts),
the task lifecycle, the inspection-form lock resolver, and a real-time
workshop board over WebSocket.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: fleetd.yaml in data dir)")
}

// loadConfig loads configuration for a command run.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
