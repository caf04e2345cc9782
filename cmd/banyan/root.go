package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "banyan",
	Short: "Recursive multi-agent task orchestrator",
	Long: `Banyan takes a goal, grows a task tree, and runs each leaf through
Plan -> Execute -> Verify with role-specialized agents. Steps execute
through MCP tool servers; failure is survived by retry with escalating
sampling temperature and, past the retry bound, recursive decomposition
into sub-goals.

Core capabilities:
- Task tree with validated status transitions and an append-only audit trail
- Plan/Execute/Verify agent loop with rejection rationale carried into retries
- MCP tool broker with descriptor caching, deadlines, and pooled or
  spawn-per-call backends
- Danger gate holding deny-listed calls for human approval
- Strategy memory recalled into planning, consolidated across runs`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(versionCmd)
}
