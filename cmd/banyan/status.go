package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/banyanhq/banyan/internal/config"
	"github.com/banyanhq/banyan/internal/state"
	"github.com/banyanhq/banyan/pkg/models"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status [run_id]",
	Short: "Show recent runs or one run in detail",
	Long: `Without arguments, lists recent runs with their outcome. With a run
id, shows the last persisted snapshot of that run: the task tree, recent
activity and counters.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "How many recent runs to list")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if _, err := os.Stat(cfg.State.Path); os.IsNotExist(err) {
		fmt.Println("No runs yet. Start one with 'banyan run <goal>'.")
		return nil
	}

	db, err := state.Open(cfg.State.Path)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating state store: %w", err)
	}

	if len(args) == 1 {
		return showRun(db, args[0])
	}
	return listRuns(db)
}

func listRuns(db *state.DB) error {
	runs, err := db.ListRuns(statusLimit)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs yet. Start one with 'banyan run <goal>'.")
		return nil
	}

	fmt.Printf("%-10s %-10s %-9s %s\n", "RUN", "STATUS", "ELAPSED", "GOAL")
	for _, r := range runs {
		elapsed := r.CompletedAt.Sub(r.StartedAt).Round(time.Second)
		statusColor(r.Status).Printf("%-10s %-10s %-9s %s\n",
			r.RunID, r.Status, elapsed, truncate(r.Goal, 60))
	}
	return nil
}

func showRun(db *state.DB, runID string) error {
	snap, err := db.GetSnapshot(runID)
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}

	statusColor(snap.Status).Printf("run %s  %s  (v%d)\n", snap.RunID, snap.Status, snap.Version)
	fmt.Printf("goal: %s\n\n", snap.Goal)

	printTree(snap, snap.RootID, 0)

	if len(snap.Logs) > 0 {
		fmt.Println("\nrecent activity:")
		for _, entry := range snap.Logs {
			fmt.Printf("  %s [%s] %s\n", entry.Time.Format("15:04:05"), entry.Actor, entry.Message)
		}
	}

	m := snap.Metrics
	fmt.Printf("\nnodes: %d attempts, %d decompositions, %d tool calls (%d failed)\n",
		m.Attempts, m.Decompositions, m.ToolCalls, m.ToolErrors)
	fmt.Printf("tokens: %d in / %d out\n", m.TokensIn, m.TokensOut)
	return nil
}

// printTree renders the task tree depth-first in child order.
func printTree(snap *models.RunSnapshot, nodeID string, depth int) {
	node, ok := snap.Nodes[nodeID]
	if !ok {
		return
	}
	marker := " "
	if nodeID == snap.ActiveNode {
		marker = ">"
	}
	indent := strings.Repeat("  ", depth)
	taskStatusColor(node.Status).Printf("%s%s %-10s [%d] %s\n",
		indent, marker, node.Status, node.AttemptCount, truncate(node.Goal, 70-2*depth))

	for _, child := range node.Children {
		printTree(snap, child, depth+1)
	}
}

func statusColor(s models.RunStatus) *color.Color {
	switch s {
	case models.RunStatusSucceeded:
		return color.New(color.FgGreen)
	case models.RunStatusFailed:
		return color.New(color.FgRed)
	case models.RunStatusCancelled:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

func taskStatusColor(s models.TaskStatus) *color.Color {
	switch s {
	case models.TaskStatusSuccess:
		return color.New(color.FgGreen)
	case models.TaskStatusFailed:
		return color.New(color.FgRed)
	case models.TaskStatusCancelled, models.TaskStatusSuspended:
		return color.New(color.FgYellow)
	case models.TaskStatusActive:
		return color.New(color.FgCyan)
	default:
		return color.New(color.Reset)
	}
}

func truncate(s string, max int) string {
	if max < 4 {
		max = 4
	}
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
