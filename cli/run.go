package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/perfpulse/correlate/collector"
	"github.com/perfpulse/correlate/config"
	"github.com/perfpulse/correlate/ledger"
	"github.com/perfpulse/correlate/orchestrate"
)

const dateLayout = "2006-01-02"

var runFlags struct {
	identity string
	from     string
	to       string
	mode     string
	maxCost  float64
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "collect and correlate evidence for one person over a time window",
	Run:   runRun,
}

func init() {
	runCmd.Flags().StringVar(&runFlags.identity, "identity", "", "person identifier to collect evidence for (required)")
	runCmd.Flags().StringVar(&runFlags.from, "from", "", "window start date, YYYY-MM-DD (required)")
	runCmd.Flags().StringVar(&runFlags.to, "to", "", "window end date, YYYY-MM-DD (required)")
	runCmd.Flags().StringVar(&runFlags.mode, "mode", "auto", "correlation mode: auto, llm, rules")
	runCmd.Flags().Float64Var(&runFlags.maxCost, "max-cost", 0, "per-run cost ceiling in dollars (0 = governed by the monthly budget only)")
}

// runRun implements `corr run`, exiting per spec.md §6: 0 success, 2
// degraded-success, 3 budget-denied, 4 invalid-input, 1 other failure.
func runRun(cmd *cobra.Command, args []string) {
	if runFlags.identity == "" || runFlags.from == "" || runFlags.to == "" {
		fmt.Fprintln(os.Stderr, "run: --identity, --from, and --to are required")
		os.Exit(4)
	}

	from, err := time.Parse(dateLayout, runFlags.from)
	if err != nil {
		fmt.Fprintln(os.Stderr, "run: invalid --from date:", err)
		os.Exit(4)
	}
	to, err := time.Parse(dateLayout, runFlags.to)
	if err != nil {
		fmt.Fprintln(os.Stderr, "run: invalid --to date:", err)
		os.Exit(4)
	}
	if to.Before(from) {
		fmt.Fprintln(os.Stderr, "run: --to must not precede --from")
		os.Exit(4)
	}

	mode, err := parseMode(runFlags.mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "run:", err)
		os.Exit(4)
	}

	logger := rootLogger()
	cfg := loadCorrelationConfig()

	env, err := buildEnvironment(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "run: bootstrap failed:", err)
		os.Exit(1)
	}
	defer env.Close()

	reg := buildRegistry(env)

	embedTier, llmTier, err := buildTiersForMode(cfg, env, mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "run: tier setup failed:", err)
		os.Exit(1)
	}

	reporter := buildObservability(env.logger)
	orch := buildOrchestrator(cfg, env, reg, embedTier, llmTier, reporter)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RunDeadline)
	defer cancel()

	req := orchestrate.CorrelateRequest{
		Person:  runFlags.identity,
		Window:  collector.Window{From: from, To: to},
		Mode:    mode,
		MaxCost: runFlags.maxCost,
	}

	resp, err := orch.Correlate(ctx, req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "run: correlation failed:", err)
		os.Exit(1)
	}

	if err := orchestrate.SaveRun(ctx, env.kv, resp); err != nil {
		env.logger.WithError(err).Warn("run: failed to persist run for replay")
	}

	printRunResult(resp)
	os.Exit(exitCodeFor(resp))
}

// exitCodeFor maps a CorrelateResponse onto spec.md §6's exit-code
// contract.
func exitCodeFor(resp *orchestrate.CorrelateResponse) int {
	switch {
	case resp.State == orchestrate.StateFailed:
		return 1
	case resp.Budget.Status == ledger.StatusDenied:
		return 3
	case resp.State == orchestrate.StateDegraded:
		return 2
	default:
		return 0
	}
}

// parseMode maps the CLI's --mode flag (llm, rules, auto) onto
// config.Mode; "rules" is the CLI-facing spelling of config.ModeRuleBased
// spec.md §6 uses in the `corr run` flag description.
func parseMode(s string) (config.Mode, error) {
	switch s {
	case "auto":
		return config.ModeAuto, nil
	case "llm":
		return config.ModeLLM, nil
	case "rules", "rule_based":
		return config.ModeRuleBased, nil
	default:
		return "", fmt.Errorf("invalid --mode %q: must be auto, llm, or rules", s)
	}
}

func printRunResult(resp *orchestrate.CorrelateResponse) {
	out := map[string]interface{}{
		"run_id":        resp.RunID,
		"state":         resp.State,
		"relationships": len(resp.Relationships),
		"stories":       len(resp.Stories),
		"insights":      len(resp.Insights),
		"partials":      resp.Partials,
		"budget":        resp.Budget.Snapshot,
	}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}
