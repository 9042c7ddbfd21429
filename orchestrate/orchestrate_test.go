package orchestrate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfpulse/correlate/collector"
	"github.com/perfpulse/correlate/correrr"
	"github.com/perfpulse/correlate/evidence"
)

type stubCollector struct {
	name  string
	items []*evidence.Item
}

func (s *stubCollector) Name() string { return s.name }
func (s *stubCollector) Capabilities() collector.Capabilities {
	return collector.Capabilities{Kinds: []evidence.Kind{evidence.KindCommit, evidence.KindTicket}, SupportsUserWindow: true}
}
func (s *stubCollector) Collect(ctx context.Context, person string, window collector.Window) ([]*evidence.Item, error) {
	return s.items, nil
}
func (s *stubCollector) Health(ctx context.Context) collector.Health { return collector.Health{OK: true} }

func TestCorrelate_ExplicitReferenceProducesRelationshipWithoutPaidTiers(t *testing.T) {
	now := time.Now().UTC()
	commit := &evidence.Item{ID: "abc1234", Source: "gitea:a/b", Kind: evidence.KindCommit, Author: "alice", Timestamp: now, Title: "fix AUTH-42 retry bug", Body: "fixes AUTH-42"}
	ticket := &evidence.Item{ID: "AUTH-42", Source: "gitlab:x/y", Kind: evidence.KindTicket, Author: "alice", Timestamp: now.Add(-time.Hour), Title: "AUTH-42 payments flaky", Body: "investigate"}

	reg := collector.NewRegistry(nil)
	reg.Register(&stubCollector{name: "a", items: []*evidence.Item{commit, ticket}})

	orch := New(reg, nil, nil, nil, nil, DefaultConfig(), nil, nil)
	resp, err := orch.Correlate(context.Background(), CorrelateRequest{Person: "alice"})
	require.NoError(t, err)
	assert.Equal(t, StateDone, resp.State)
	require.Len(t, resp.Relationships, 1)
	assert.Equal(t, evidence.RelReferences, resp.Relationships[0].Type)
	assert.GreaterOrEqual(t, resp.Relationships[0].Confidence, 0.5)
}

func TestCorrelate_NoPairsYieldsEmptyStoriesAndInsights(t *testing.T) {
	reg := collector.NewRegistry(nil)
	reg.Register(&stubCollector{name: "a", items: []*evidence.Item{
		{ID: "1", Source: "s", Kind: evidence.KindCommit, Author: "bob", Timestamp: time.Now()},
	}})

	orch := New(reg, nil, nil, nil, nil, DefaultConfig(), nil, nil)
	resp, err := orch.Correlate(context.Background(), CorrelateRequest{Person: "bob"})
	require.NoError(t, err)
	assert.Equal(t, StateDone, resp.State)
	assert.Empty(t, resp.Relationships)
	assert.Empty(t, resp.Stories)
	assert.Empty(t, resp.Insights)
}

func TestCorrelate_RunIDGeneratedWhenAbsent(t *testing.T) {
	reg := collector.NewRegistry(nil)
	orch := New(reg, nil, nil, nil, nil, DefaultConfig(), nil, nil)
	resp, err := orch.Correlate(context.Background(), CorrelateRequest{Person: "alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.RunID)
}

func TestCorrelate_NoPartialsWhenCollectorSucceeds(t *testing.T) {
	reg := collector.NewRegistry(nil)
	reg.Register(&stubCollector{name: "a", items: nil})
	orch := New(reg, nil, nil, nil, nil, DefaultConfig(), nil, nil)
	resp, err := orch.Correlate(context.Background(), CorrelateRequest{Person: "alice"})
	require.NoError(t, err)
	assert.Empty(t, resp.Partials)
}

// TestCorrelate_CancelledContextStopsThePipeline mirrors spec.md §8 scenario
// 6: a run cancelled mid-flight must surface StateCancelled and a
// *correrr.Cancelled error instead of completing the remaining steps.
func TestCorrelate_CancelledContextStopsThePipeline(t *testing.T) {
	now := time.Now().UTC()
	commit := &evidence.Item{ID: "abc1234", Source: "gitea:a/b", Kind: evidence.KindCommit, Author: "alice", Timestamp: now, Title: "fix AUTH-42 retry bug", Body: "fixes AUTH-42"}
	ticket := &evidence.Item{ID: "AUTH-42", Source: "gitlab:x/y", Kind: evidence.KindTicket, Author: "alice", Timestamp: now.Add(-time.Hour), Title: "AUTH-42 payments flaky", Body: "investigate"}

	reg := collector.NewRegistry(nil)
	orch := New(reg, nil, nil, nil, nil, DefaultConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := orch.Correlate(ctx, CorrelateRequest{Person: "alice", Items: []*evidence.Item{commit, ticket}})
	require.Error(t, err)
	var cancelled *correrr.Cancelled
	require.ErrorAs(t, err, &cancelled)
	assert.Equal(t, StateCancelled, resp.State)
	assert.Empty(t, resp.Relationships)
	assert.False(t, resp.FinishedAt.IsZero())
}
