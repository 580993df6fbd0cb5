package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fleetworks/fleetworks/internal/board"
	"github.com/fleetworks/fleetworks/internal/locks"
	"github.com/fleetworks/fleetworks/internal/logging"
	"github.com/fleetworks/fleetworks/internal/policy"
	"github.com/fleetworks/fleetworks/internal/reconcile"
	"github.com/fleetworks/fleetworks/internal/store"
	"github.com/fleetworks/fleetworks/internal/templates"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the workshop board server",
	Long: `Start the workshop board server.

The server exposes the engine's JSON API (inspection reconciliation,
locked-item queries, task transitions) and broadcasts task changes to
WebSocket clients in real time. Checklist template files are watched and
reloaded on change.

Example usage:
  fleetd serve                   # Listen on the configured port
  fleetd serve --port 9000       # Override the port

Connect with a WebSocket client:
  ws://localhost:8080/ws`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.ListenPort = port
		}

		logger := logging.New("[fleetd] ", cfg.LogFile)

		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()

		if err := st.InitSchema(); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}

		pol, err := policy.Load(cfg.PolicyPath)
		if err != nil {
			return fmt.Errorf("failed to load policy: %w", err)
		}

		registry := templates.NewRegistry(cfg.TemplatesDir)
		if fileErrs, err := registry.Reload(); err != nil {
			return fmt.Errorf("failed to load templates: %w", err)
		} else {
			for _, fe := range fileErrs {
				logger.Printf("Skipping template: %v", fe)
			}
		}

		watcher, err := templates.NewWatcher(registry, logger)
		if err != nil {
			return fmt.Errorf("failed to create template watcher: %w", err)
		}
		if err := watcher.Start(); err != nil {
			logger.Printf("Template watcher disabled: %v", err)
		} else {
			defer watcher.Stop()
		}

		reconciler := reconcile.NewWithPolicy(st, pol, logger)
		resolver := locks.New(st, logger)

		server := board.NewServer(&board.Config{Port: cfg.ListenPort, Logger: logger}, board.Deps{
			Store:      st,
			Reconciler: reconciler,
			Resolver:   resolver,
		})
		reconciler.SetEvents(board.NewHandler(server, st, logger))

		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start board server: %w", err)
		}

		fmt.Printf("Board server started on http://localhost:%d\n", cfg.ListenPort)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", cfg.ListenPort)
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		<-ctx.Done()

		fmt.Println("\nShutting down board server...")
		if err := server.Stop(); err != nil {
			return fmt.Errorf("error during shutdown: %w", err)
		}

		fmt.Println("Board server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
