package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetworks/fleetworks/internal/inspection"
	"github.com/fleetworks/fleetworks/internal/logging"
	"github.com/fleetworks/fleetworks/internal/policy"
	"github.com/fleetworks/fleetworks/internal/reconcile"
	"github.com/fleetworks/fleetworks/internal/store"
)

// submissionFile is the JSON shape accepted by `fleetd reconcile`. It
// mirrors the board API payload, with optional raw checklist rows that
// are collapsed locally when no pre-collapsed defects are given.
type submissionFile struct {
	InspectionID string `json:"inspection_id"`
	VehicleID    string `json:"vehicle_id"`
	VehicleLabel string `json:"vehicle_label,omitempty"`
	ActorID      string `json:"actor_id"`
	Inspector    string `json:"inspector,omitempty"`

	Items []struct {
		ID          string `json:"id"`
		ItemNumber  int    `json:"item_number"`
		Description string `json:"description"`
		Status      string `json:"status"`
		Comment     string `json:"comment"`
		Day         int    `json:"day"`
	} `json:"items,omitempty"`

	Defects []struct {
		ItemNumber      int    `json:"item_number"`
		ItemDescription string `json:"item_description"`
		AffectedDays    []int  `json:"affected_days"`
		Comment         string `json:"comment"`
		PrimaryItemID   string `json:"primary_item_id"`
	} `json:"defects,omitempty"`
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <submission.json>",
	Short: "Reconcile an inspection submission from a file",
	Long: `Feed an inspection submission through the reconciliation engine.

This is the operational/backfill entry point: the same engine the board
server runs, driven from a JSON file. The file carries either
pre-collapsed defects or raw checklist rows (collapsed locally).

With --register, the vehicle, inspection, and checklist rows from the
file are written first, so historical submissions can be imported into an
empty database.

Example usage:
  fleetd reconcile submission.json
  fleetd reconcile submission.json --register`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		register, _ := cmd.Flags().GetBool("register")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := logging.New("[reconcile] ", cfg.LogFile)

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read submission file: %w", err)
		}

		var sub submissionFile
		if err := json.Unmarshal(data, &sub); err != nil {
			return fmt.Errorf("failed to parse submission file: %w", err)
		}

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

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		items := make([]inspection.Item, 0, len(sub.Items))
		for _, it := range sub.Items {
			items = append(items, inspection.Item{
				ID:          it.ID,
				Number:      it.ItemNumber,
				Description: it.Description,
				Status:      it.Status,
				Comment:     it.Comment,
				Day:         it.Day,
			})
		}

		if register {
			if err := st.UpsertVehicle(ctx, store.Vehicle{ID: sub.VehicleID, Label: sub.VehicleLabel}); err != nil {
				return err
			}
			if err := st.UpsertInspection(ctx, store.Inspection{
				ID:        sub.InspectionID,
				VehicleID: sub.VehicleID,
				Inspector: sub.Inspector,
			}); err != nil {
				return err
			}
			if err := st.UpsertItems(ctx, sub.InspectionID, items); err != nil {
				return err
			}
		}

		var defects []inspection.Defect
		if len(sub.Defects) > 0 {
			for _, d := range sub.Defects {
				defects = append(defects, inspection.Defect{
					ItemNumber:    d.ItemNumber,
					Description:   d.ItemDescription,
					AffectedDays:  d.AffectedDays,
					Comment:       d.Comment,
					PrimaryItemID: d.PrimaryItemID,
				})
			}
		} else {
			defects = inspection.CollapseItems(items)
		}

		reconciler := reconcile.NewWithPolicy(st, pol, logger)
		result, err := reconciler.Reconcile(ctx, sub.InspectionID, sub.VehicleID, sub.ActorID, defects)
		if err != nil {
			return err
		}

		fmt.Printf("Reconciled inspection %s: %d created, %d updated, %d skipped\n",
			sub.InspectionID, result.Created, result.Updated, result.Skipped)

		for _, grp := range result.DuplicateGroups {
			fmt.Printf("Warning: duplicate tasks for signature %q: %v\n", grp.Signature, grp.TaskIDs)
		}
		for _, de := range result.Errors {
			fmt.Fprintf(os.Stderr, "Error: %v\n", de)
		}
		if len(result.Errors) > 0 {
			return fmt.Errorf("%d defect(s) failed", len(result.Errors))
		}
		return nil
	},
}

func init() {
	reconcileCmd.Flags().Bool("register", false, "Write the vehicle/inspection/items from the file before reconciling")
	rootCmd.AddCommand(reconcileCmd)
}
