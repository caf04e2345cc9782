package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/banyanhq/banyan/internal/config"
	"github.com/banyanhq/banyan/internal/gate"
	"github.com/banyanhq/banyan/internal/orchestrator"
	"github.com/banyanhq/banyan/internal/tui"
	"github.com/banyanhq/banyan/pkg/models"
)

var (
	runWatch          bool
	runAutoApprove    bool
	runDeadline       time.Duration
	runAllowDangerous bool
)

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Run a goal to completion",
	Long: `Submit a goal and drive it to a terminal state.

The goal becomes the root of a task tree. Each leaf is planned, executed
through the configured tool servers, and verified; rejected attempts retry
with escalating temperature and eventually decompose into sub-goals.

Examples:
  banyan run "organize ~/Downloads by file type"
  banyan run --watch "summarize the open issues in this repo"
  banyan run --auto-approve "clean up stale build artifacts"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Watch the run in a live terminal view")
	runCmd.Flags().BoolVar(&runAutoApprove, "auto-approve", false, "Approve gated calls without asking")
	runCmd.Flags().DurationVar(&runDeadline, "deadline", 0, "Per-node execute deadline (0 uses the broker default)")
	runCmd.Flags().BoolVar(&runAllowDangerous, "allow-dangerous", false, "Skip the danger gate for this run's tool calls")
}

func runRun(cmd *cobra.Command, args []string) error {
	goal := strings.TrimSpace(strings.Join(args, " "))
	if goal == "" {
		return fmt.Errorf("goal must not be empty")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if runAutoApprove {
		cfg.Gate.AutoApprove = true
	}

	rt, err := newAppRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()

	constraints := models.Constraints{
		Deadline:          runDeadline,
		AllowDangerousOps: runAllowDangerous,
	}
	runID, err := rt.service.Submit(ctx, goal, constraints)
	if err != nil {
		return fmt.Errorf("submitting goal: %w", err)
	}

	run, err := rt.service.Get(runID)
	if err != nil {
		return err
	}
	if err := run.WatchSignals(runSignalsDir(runID)); err != nil {
		fmt.Fprintf(os.Stderr, "warning: signals directory unavailable: %v\n", err)
	}

	color.New(color.FgCyan).Printf("run %s started\n", runID)
	fmt.Printf("goal: %s\n\n", goal)

	if runWatch {
		if err := tui.Watch(run, cfg.TUI.RefreshRate); err != nil {
			return err
		}
	} else {
		promptApprovals(run)
		streamEvents(run)
	}

	result, err := run.Wait()
	if err != nil {
		return fmt.Errorf("run %s aborted: %w", runID, err)
	}
	printResult(result)
	if result.Status != models.RunStatusSucceeded {
		os.Exit(1)
	}
	return nil
}

// promptApprovals answers danger-gate holds from the terminal.
func promptApprovals(run *orchestrator.Run) {
	run.Approvals().OnHold(func(req gate.Request) {
		go func() {
			color.New(color.FgYellow, color.Bold).Printf("\n[gate] held call on node %s (rule: %s)\n", shortID(req.NodeID), req.Rule)
			fmt.Printf("  tool: %s  args: %v\n", req.Call.Tool, req.Call.Args)
			fmt.Print("  approve? [y/N]: ")

			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			approved := err == nil && strings.EqualFold(strings.TrimSpace(line), "y")

			resp := gate.Response{Approved: approved, DecidedBy: gate.DecidedByHuman}
			if !approved {
				resp.Reason = "declined at terminal"
			}
			if err := run.Approvals().SubmitResponse(req.NodeID, resp); err != nil {
				fmt.Fprintf(os.Stderr, "[gate] %v\n", err)
			}
		}()
	})
}

// streamEvents prints run events until the event channel closes.
func streamEvents(run *orchestrator.Run) {
	go func() {
		green := color.New(color.FgGreen)
		red := color.New(color.FgRed)
		yellow := color.New(color.FgYellow)

		for ev := range run.Events() {
			switch ev.Type {
			case orchestrator.EventNodePlanned:
				fmt.Printf("[plan] %s %s\n", shortID(ev.NodeID), ev.Message)
			case orchestrator.EventNodeStarted:
				fmt.Printf("[exec] %s %s\n", shortID(ev.NodeID), ev.Goal)
			case orchestrator.EventNodeSucceeded:
				green.Printf("[done] %s %s\n", shortID(ev.NodeID), ev.Goal)
			case orchestrator.EventNodeRejected:
				yellow.Printf("[retry] %s attempt %d: %s\n", shortID(ev.NodeID), ev.Attempt, ev.Message)
			case orchestrator.EventNodeFailed:
				red.Printf("[fail] %s %s\n", shortID(ev.NodeID), ev.Message)
			case orchestrator.EventNodeDecomposed:
				yellow.Printf("[split] %s %s\n", shortID(ev.NodeID), ev.Message)
			case orchestrator.EventGateDecided:
				fmt.Printf("[gate] %s %s\n", shortID(ev.NodeID), ev.Message)
			case orchestrator.EventRunPaused:
				yellow.Println("[run] paused")
			case orchestrator.EventRunResumed:
				fmt.Println("[run] resumed")
			}
		}
	}()
}

func printResult(res *models.RunResult) {
	fmt.Println()
	switch res.Status {
	case models.RunStatusSucceeded:
		color.New(color.FgGreen, color.Bold).Printf("run %s succeeded\n", res.RunID)
	default:
		color.New(color.FgRed, color.Bold).Printf("run %s %s\n", res.RunID, res.Status)
	}
	if res.Output != "" {
		fmt.Printf("\n%s\n", res.Output)
	}
	fmt.Printf("\nnodes: %d attempts, %d decompositions, %d tool calls (%d failed)\n",
		res.Metrics.Attempts, res.Metrics.Decompositions, res.Metrics.ToolCalls, res.Metrics.ToolErrors)
	fmt.Printf("tokens: %d in / %d out\n", res.Metrics.TokensIn, res.Metrics.TokensOut)
	fmt.Printf("elapsed: %s\n", res.CompletedAt.Sub(res.StartedAt).Round(time.Second))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
