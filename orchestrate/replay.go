package orchestrate

import (
	"context"
	"fmt"

	"github.com/perfpulse/correlate/evidence"
	"github.com/perfpulse/correlate/insight"
	"github.com/perfpulse/correlate/story"
)

// runKey is the store.KV key a finished run's relationships are persisted
// under, so `corr replay` can re-run grouping and enrichment without
// re-collecting or re-spending against the ledger.
func runKey(runID string) string { return "run:" + runID }

// PersistedRun is the durable record a completed Correlate call leaves
// behind for later replay: just enough to re-derive stories and insights,
// not the full CorrelateResponse (no Partials, no budget snapshot — those
// describe the original run, not the data replay operates on).
type PersistedRun struct {
	RunID         string                   `json:"run_id"`
	Relationships []*evidence.Relationship `json:"relationships"`
}

// SaveRun persists resp's relationships for later replay. Called by the
// CLI after a successful Correlate, not by Correlate itself, since not
// every caller of this package wants every run durably archived.
func SaveRun(ctx context.Context, kv interface {
	PutJSON(context.Context, string, interface{}) error
}, resp *CorrelateResponse) error {
	return kv.PutJSON(ctx, runKey(resp.RunID), PersistedRun{
		RunID:         resp.RunID,
		Relationships: resp.Relationships,
	})
}

// LoadRun fetches a previously persisted run by id.
func LoadRun(ctx context.Context, kv interface {
	GetJSON(context.Context, string, interface{}) (bool, error)
}, runID string) (*PersistedRun, bool, error) {
	var pr PersistedRun
	ok, err := kv.GetJSON(ctx, runKey(runID), &pr)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &pr, true, nil
}

// Replay re-runs work-story grouping and insight enrichment from a
// previously persisted run's relationships, without touching collectors,
// the embedding/LLM tiers, or the budget ledger at all: every input is
// already-scored evidence, so there is nothing left to spend on.
func Replay(cfg Config, pr *PersistedRun) (*CorrelateResponse, error) {
	if pr == nil {
		return nil, fmt.Errorf("orchestrate: nil persisted run")
	}

	itemsByFP := make(map[uint64]*evidence.Item, len(pr.Relationships)*2)
	for _, r := range pr.Relationships {
		if r.A != nil {
			itemsByFP[r.A.Fingerprint()] = r.A
		}
		if r.B != nil {
			itemsByFP[r.B.Fingerprint()] = r.B
		}
	}

	stories := story.Group(cfg.Story, pr.Relationships)
	insights := make([]*insight.Insight, 0, len(stories))
	for _, s := range stories {
		insights = append(insights, insight.Compute(cfg.Insight, s, itemsByFP))
	}

	return &CorrelateResponse{
		RunID:         pr.RunID,
		State:         StateDone,
		Relationships: pr.Relationships,
		Stories:       stories,
		Insights:      insights,
	}, nil
}
