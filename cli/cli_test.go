package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfpulse/correlate/config"
	"github.com/perfpulse/correlate/ledger"
	"github.com/perfpulse/correlate/orchestrate"
)

func TestParseMode(t *testing.T) {
	cases := map[string]config.Mode{
		"auto":       config.ModeAuto,
		"llm":        config.ModeLLM,
		"rules":      config.ModeRuleBased,
		"rule_based": config.ModeRuleBased,
	}
	for in, want := range cases {
		got, err := parseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestParseMode_RejectsUnknown(t *testing.T) {
	_, err := parseMode("yolo")
	assert.Error(t, err)
}

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		name string
		resp *orchestrate.CorrelateResponse
		want int
	}{
		{"failed", &orchestrate.CorrelateResponse{State: orchestrate.StateFailed}, 1},
		{"denied", &orchestrate.CorrelateResponse{State: orchestrate.StateDegraded, Budget: orchestrate.BudgetStatus{Status: ledger.StatusDenied}}, 3},
		{"degraded", &orchestrate.CorrelateResponse{State: orchestrate.StateDegraded, Budget: orchestrate.BudgetStatus{Status: ledger.StatusWarn}}, 2},
		{"done", &orchestrate.CorrelateResponse{State: orchestrate.StateDone}, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, exitCodeFor(c.resp))
		})
	}
}

func TestFormatBudgetSnapshot(t *testing.T) {
	snap := ledger.Snapshot{
		Month:  "202607",
		Spent:  ledger.FromUSD(11.25),
		Cap:    ledger.FromUSD(15.0),
		Status: ledger.StatusWarn,
	}
	now := time.Date(2026, 7, 20, 12, 0, 0, 0, time.UTC)
	out := formatBudgetSnapshot(snap, now)
	assert.Contains(t, out, "$11.25 of $15.00")
	assert.Contains(t, out, "75%")
	assert.Contains(t, out, "warn")
}

func TestFirstOfNextMonthUTC(t *testing.T) {
	now := time.Date(2026, 7, 31, 23, 59, 0, 0, time.UTC)
	got := firstOfNextMonthUTC(now)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), got)
}
