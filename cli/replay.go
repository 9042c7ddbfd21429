package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/perfpulse/correlate/orchestrate"
)

var replayFlags struct {
	run string
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "re-run grouping and enrichment for a previously persisted run",
	Run:   runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayFlags.run, "run", "", "run id to replay (required)")
}

// runReplay implements `corr replay --run RUNID`. Replay never touches a
// collector, the embedding/LLM tiers, or the ledger: every relationship it
// operates on was already scored and paid for by the original run, so it
// exits 0 on success or 4 if the run id is unknown, per spec.md §6.
func runReplay(cmd *cobra.Command, args []string) {
	if replayFlags.run == "" {
		fmt.Fprintln(os.Stderr, "replay: --run is required")
		os.Exit(4)
	}

	logger := rootLogger()
	cfg := loadCorrelationConfig()

	env, err := buildEnvironment(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay: bootstrap failed:", err)
		os.Exit(1)
	}
	defer env.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pr, ok, err := orchestrate.LoadRun(ctx, env.kv, replayFlags.run)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay: failed to load run:", err)
		os.Exit(1)
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "replay: no such run:", replayFlags.run)
		os.Exit(4)
	}

	resp, err := orchestrate.Replay(orchestrate.DefaultConfig(), pr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay: failed:", err)
		os.Exit(1)
	}

	printRunResult(resp)
	os.Exit(0)
}
