package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/perfpulse/correlate/ledger"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "print the current month's AI-spend ledger snapshot",
	Run:   runBudget,
}

// runBudget implements `corr budget`. It always exits 0: inspecting the
// ledger is never itself a budget-denied or degraded operation, whatever
// the ladder currently reads.
func runBudget(cmd *cobra.Command, args []string) {
	logger := rootLogger()
	cfg := loadCorrelationConfig()

	env, err := buildEnvironment(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "budget: bootstrap failed:", err)
		os.Exit(1)
	}
	defer env.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snap, err := env.ledger.Snapshot(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "budget: snapshot failed:", err)
		os.Exit(1)
	}

	fmt.Println(formatBudgetSnapshot(snap, time.Now().UTC()))
}

// formatBudgetSnapshot renders a ledger snapshot the way an operator reads
// it at a glance: spent of cap, percentage, ladder status, and a humanized
// reset estimate for the current UTC month.
func formatBudgetSnapshot(snap ledger.Snapshot, now time.Time) string {
	pct := 0.0
	if snap.Cap > 0 {
		pct = float64(snap.Spent) / float64(snap.Cap) * 100
	}

	resetsAt := firstOfNextMonthUTC(now)

	return fmt.Sprintf(
		"$%.2f of $%.2f (%.0f%%), %s — %s\nrequests: %d embedding, %d llm — tokens: %d embedding, %d llm",
		snap.Spent.USD(), snap.Cap.USD(), pct,
		ladderLabel(snap.Status),
		humanize.Time(resetsAt),
		snap.Counters.EmbeddingRequests, snap.Counters.LLMRequests,
		snap.Counters.EmbeddingTokens, snap.Counters.LLMTokens,
	)
}

func ladderLabel(s ledger.Status) string {
	switch s {
	case ledger.StatusOK:
		return "ok"
	case ledger.StatusWarn:
		return "warn"
	case ledger.StatusLLMDisabled:
		return "llm-disabled"
	case ledger.StatusDenied:
		return "denied"
	default:
		return "unknown"
	}
}

func firstOfNextMonthUTC(now time.Time) time.Time {
	y, m, _ := now.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
