package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/fleetworks/fleetworks/internal/locks"
	"github.com/fleetworks/fleetworks/internal/logging"
)

var locksCmd = &cobra.Command{
	Use:   "locks <vehicle-id>",
	Short: "Show checklist items locked by open tasks",
	Long: `Show the checklist items on a vehicle that are locked because an
open workshop task references them. A locked item cannot be marked OK
on a new inspection until its task is completed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := logging.New("[locks] ", cfg.LogFile)

		st, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		resolver := locks.New(st, logger)
		items, err := resolver.ComputeLockedItems(ctx, args[0])
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Printf("No locked items for vehicle %s\n", args[0])
			return nil
		}

		warn := lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
		fmt.Printf("%s\n", headerStyle.Render(fmt.Sprintf("Locked items for vehicle %s", args[0])))
		for _, item := range items {
			label := item.Description
			if item.ItemNumber > 0 {
				label = fmt.Sprintf("item %d: %s", item.ItemNumber, item.Description)
			} else {
				label = warn.Render(label)
			}
			fmt.Printf("  %-12s %s  %s\n", item.Status, label, idStyle.Render(shortID(item.TaskID)))
			if item.Comment != "" {
				fmt.Printf("               %s\n", idStyle.Render(item.Comment))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(locksCmd)
}
