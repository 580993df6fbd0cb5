package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fleetworks/fleetworks/internal/logging"
	"github.com/fleetworks/fleetworks/internal/policy"
	"github.com/fleetworks/fleetworks/internal/reconcile"
	"github.com/fleetworks/fleetworks/internal/store"
	"github.com/fleetworks/fleetworks/internal/task"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	idStyle     = lipgloss.NewStyle().Faint(true)
	statusStyle = map[task.Status]lipgloss.Style{
		task.StatusPending:    lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		task.StatusLogged:     lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		task.StatusOnHold:     lipgloss.NewStyle().Foreground(lipgloss.Color("13")),
		task.StatusInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		task.StatusCompleted:  lipgloss.NewStyle().Faint(true),
	}
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and progress workshop tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workshop tasks",
	Long: `List workshop tasks, optionally filtered.

--since accepts natural language dates:
  fleetd tasks list --since "last tuesday"
  fleetd tasks list --vehicle V-102 --status in_progress`,
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFlag, _ := cmd.Flags().GetString("status")
		vehicle, _ := cmd.Flags().GetString("vehicle")
		sinceFlag, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.TaskFilter{
			VehicleID: vehicle,
			Limit:     limit,
		}
		if statusFlag != "" {
			st := task.Status(statusFlag)
			if !st.Valid() {
				return fmt.Errorf("unknown status %q", statusFlag)
			}
			filter.Statuses = []task.Status{st}
		}
		if sinceFlag != "" {
			since, err := parseNaturalTime(sinceFlag)
			if err != nil {
				return err
			}
			filter.Since = since
		}

		st, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		tasks, err := st.ListTasks(ctx, filter)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks found")
			return nil
		}

		printTaskTable(tasks)
		return nil
	},
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a task and its status history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, closeStore, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		t, err := st.GetTask(ctx, args[0])
		if err != nil {
			return err
		}
		history, err := st.ListTransitions(ctx, t.ID)
		if err != nil {
			return err
		}

		fmt.Printf("%s %s\n", headerStyle.Render(t.Title), idStyle.Render(t.ID))
		fmt.Printf("  Status:     %s\n", renderStatus(t.Status))
		fmt.Printf("  Vehicle:    %s\n", t.VehicleID)
		if t.InspectionID != "" {
			fmt.Printf("  Inspection: %s\n", t.InspectionID)
		}
		if t.Signature != "" {
			fmt.Printf("  Signature:  %s\n", t.Signature)
		}
		if t.Comment != "" {
			fmt.Printf("  Comment:    %s\n", t.Comment)
		}
		fmt.Printf("  Created:    %s by %s\n", t.CreatedAt.Local().Format(time.RFC822), t.CreatedBy)

		if len(history) > 0 {
			fmt.Println("\nHistory:")
			for _, rec := range history {
				line := fmt.Sprintf("  %s  %s -> %s", rec.CreatedAt.Local().Format(time.RFC822), rec.From, rec.To)
				if rec.Kind != task.KindStatus {
					line += fmt.Sprintf(" (%s)", rec.Kind)
				}
				if rec.Actor != "" {
					line += "  by " + rec.Actor
				}
				if rec.Note != "" {
					line += "  (" + rec.Note + ")"
				}
				fmt.Println(line)
			}
		}
		return nil
	},
}

var tasksSetCmd = &cobra.Command{
	Use:   "set <task-id> <status>",
	Short: "Apply a status transition to a task",
	Long: `Apply a status transition to a task.

Besides the forward statuses (logged, on_hold, in_progress, completed),
two special transitions exist:
  fleetd tasks set <id> undo      # revert the last transition
  fleetd tasks set <id> resumed   # reopen a completed task

Completing a task closes the remediation episode: a recurring defect will
get a fresh task, so fleetd asks for confirmation first (skip with --yes).`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		actor, _ := cmd.Flags().GetString("actor")
		note, _ := cmd.Flags().GetString("note")
		yes, _ := cmd.Flags().GetBool("yes")

		req := task.TransitionRequest{Actor: actor, Note: note}
		switch args[1] {
		case "undo":
			req.Undo = true
		case "resumed":
			req.Resume = true
		default:
			req.To = task.Status(args[1])
		}

		if req.To == task.StatusCompleted && !yes {
			var confirm bool
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Complete task %s?", args[0])).
					Description("This closes the remediation episode; a recurring defect gets a new task.").
					Value(&confirm),
			))
			if err := form.Run(); err != nil {
				return err
			}
			if !confirm {
				fmt.Println("Aborted")
				return nil
			}
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := logging.New("[tasks] ", cfg.LogFile)

		st, err := store.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()

		pol, err := policy.Load(cfg.PolicyPath)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		reconciler := reconcile.NewWithPolicy(st, pol, logger)
		t, err := reconciler.Transition(ctx, args[0], req)
		if err != nil {
			return err
		}

		fmt.Printf("Task %s is now %s\n", t.ID, renderStatus(t.Status))
		return nil
	},
}

// openStore loads config and opens the database for read-side commands.
func openStore() (*store.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, func() { _ = st.Close() }, nil
}

// parseNaturalTime parses flag values like "last tuesday" or "3 days ago".
func parseNaturalTime(text string) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(text, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand time %q", text)
	}
	return r.Time, nil
}

// printTaskTable renders tasks as a fixed-width table sized to the
// terminal.
func printTaskTable(tasks []*task.Task) {
	width := 100
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 40 {
		width = w
	}

	titleWidth := width - 52
	if titleWidth < 16 {
		titleWidth = 16
	}

	fmt.Printf("%s\n", headerStyle.Render(fmt.Sprintf("%-10s %-12s %-12s %-*s %s", "VEHICLE", "STATUS", "ITEM", titleWidth, "TITLE", "ID")))
	for _, t := range tasks {
		title := t.Title
		if len(title) > titleWidth {
			title = title[:titleWidth-1] + "…"
		}
		item := ""
		if t.ItemNumber > 0 {
			item = fmt.Sprintf("item %d", t.ItemNumber)
		}
		// Pad before styling so ANSI escapes do not skew column widths.
		status := fmt.Sprintf("%-12s", t.Status)
		if style, ok := statusStyle[t.Status]; ok {
			status = style.Render(status)
		}
		fmt.Printf("%-10s %s %-12s %-*s %s\n",
			t.VehicleID,
			status,
			item,
			titleWidth, title,
			idStyle.Render(shortID(t.ID)),
		)
	}
}

func renderStatus(st task.Status) string {
	if style, ok := statusStyle[st]; ok {
		return style.Render(string(st))
	}
	return string(st)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	tasksListCmd.Flags().String("status", "", "Filter by status")
	tasksListCmd.Flags().String("vehicle", "", "Filter by vehicle ID")
	tasksListCmd.Flags().String("since", "", `Only tasks created since (natural language, e.g. "last week")`)
	tasksListCmd.Flags().Int("limit", 0, "Maximum number of tasks to list")

	tasksSetCmd.Flags().String("actor", "", "Actor recorded in the status history")
	tasksSetCmd.Flags().String("note", "", "Note recorded in the status history")
	tasksSetCmd.Flags().Bool("yes", false, "Skip the completion confirmation prompt")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksShowCmd)
	tasksCmd.AddCommand(tasksSetCmd)
	rootCmd.AddCommand(tasksCmd)
}
