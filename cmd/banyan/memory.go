package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/banyanhq/banyan/internal/audit"
	"github.com/banyanhq/banyan/internal/config"
	"github.com/banyanhq/banyan/internal/memory"
)

var memoryRecallLimit int

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and maintain strategy memory",
}

var memoryRecallCmd = &cobra.Command{
	Use:   "recall <goal>",
	Short: "Show stored strategies similar to a goal",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMemoryRecall,
}

var memoryConsolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Distill recent audit trails into strategy records",
	Long: `Compress completed runs' audit trails into durable strategy records:
failure lessons from rejection rationales and golden-path strategies from
successful attempts. Consolidation is idempotent per run and safe to
interrupt.`,
	RunE: runMemoryConsolidate,
}

func init() {
	memoryRecallCmd.Flags().IntVar(&memoryRecallLimit, "limit", 5, "Maximum records to show")

	memoryCmd.AddCommand(memoryRecallCmd)
	memoryCmd.AddCommand(memoryConsolidateCmd)
}

func runMemoryRecall(cmd *cobra.Command, args []string) error {
	goal := strings.Join(args, " ")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	store, err := memory.Open(cfg.Memory.Path)
	if err != nil {
		return fmt.Errorf("opening memory store: %w", err)
	}
	defer store.Close()

	records, err := store.Recall(goal, memoryRecallLimit)
	if err != nil {
		return fmt.Errorf("recalling strategies: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No similar strategies recorded yet.")
		return nil
	}

	for _, rec := range records {
		fmt.Printf("%s  score %.2f  %s\n", rec.Outcome, rec.Score, rec.CreatedAt.Format("2006-01-02"))
		fmt.Printf("  goal: %s\n", truncate(rec.Goal, 70))
		fmt.Printf("  %s\n\n", rec.Narrative)
	}
	return nil
}

func runMemoryConsolidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	store, err := memory.Open(cfg.Memory.Path)
	if err != nil {
		return fmt.Errorf("opening memory store: %w", err)
	}
	defer store.Close()

	ledger, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("opening audit ledger: %w", err)
	}
	defer ledger.Close()

	consolidator := memory.NewConsolidator(store, ledger, 24*time.Hour)
	written, err := consolidator.Run()
	if err != nil {
		return fmt.Errorf("consolidating: %w", err)
	}
	fmt.Printf("consolidated %d strategy records\n", written)
	return nil
}
