package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfpulse/correlate/evidence"
)

type stubCollector struct {
	name    string
	items   []*evidence.Item
	err     error
	health  Health
	delay   time.Duration
}

func (s *stubCollector) Name() string { return s.name }
func (s *stubCollector) Capabilities() Capabilities {
	return Capabilities{Kinds: []evidence.Kind{evidence.KindCommit}, SupportsUserWindow: true}
}
func (s *stubCollector) Collect(ctx context.Context, person string, window Window) ([]*evidence.Item, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.items, nil
}
func (s *stubCollector) Health(ctx context.Context) Health { return s.health }

func TestCollect_MergesAllAdapters(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubCollector{name: "a", items: []*evidence.Item{
		{ID: "1", Source: "a", Kind: evidence.KindCommit, Timestamp: time.Now()},
	}})
	r.Register(&stubCollector{name: "b", items: []*evidence.Item{
		{ID: "2", Source: "b", Kind: evidence.KindCommit, Timestamp: time.Now()},
	}})

	report, err := r.Collect(context.Background(), "alice", Window{})
	require.NoError(t, err)
	assert.Len(t, report.Items, 2)
	assert.Empty(t, report.Partials)
}

func TestCollect_OneAdapterFailureYieldsPartial(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubCollector{name: "good", items: []*evidence.Item{
		{ID: "1", Source: "good", Kind: evidence.KindCommit, Timestamp: time.Now()},
	}})
	r.Register(&stubCollector{name: "bad", err: errors.New("boom")})

	report, err := r.Collect(context.Background(), "alice", Window{})
	require.NoError(t, err)
	assert.Len(t, report.Items, 1)
	require.Len(t, report.Partials, 1)
	assert.Equal(t, "bad", report.Partials[0].Adapter)
}

func TestCollect_SlowAdapterTimesOutWithoutCancelingSiblings(t *testing.T) {
	r := NewRegistry(nil)
	r.timeout = 20 * time.Millisecond
	r.Register(&stubCollector{name: "slow", delay: time.Second, items: []*evidence.Item{
		{ID: "1", Source: "slow", Kind: evidence.KindCommit, Timestamp: time.Now()},
	}})
	r.Register(&stubCollector{name: "fast", items: []*evidence.Item{
		{ID: "2", Source: "fast", Kind: evidence.KindCommit, Timestamp: time.Now()},
	}})

	report, err := r.Collect(context.Background(), "alice", Window{})
	require.NoError(t, err)
	require.Len(t, report.Partials, 1)
	assert.Equal(t, "slow", report.Partials[0].Adapter)
	require.Len(t, report.Items, 1)
	assert.Equal(t, "fast", report.Items[0].Source)
}

func TestCollect_DedupsAcrossAdapters(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	r := NewRegistry(nil)
	r.Register(&stubCollector{name: "a", items: []*evidence.Item{
		{ID: "1", Source: "same", Kind: evidence.KindCommit, Timestamp: older, Title: "old"},
	}})
	r.Register(&stubCollector{name: "b", items: []*evidence.Item{
		{ID: "1", Source: "same", Kind: evidence.KindCommit, Timestamp: newer, Title: "new"},
	}})

	report, err := r.Collect(context.Background(), "alice", Window{})
	require.NoError(t, err)
	require.Len(t, report.Items, 1)
	assert.Equal(t, "new", report.Items[0].Title)
}

func TestHealthCheck_ReportsPerAdapter(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubCollector{name: "a", health: Health{OK: true}})
	r.Register(&stubCollector{name: "b", health: Health{OK: false, Detail: "down"}})

	results := r.HealthCheck(context.Background())
	require.Len(t, results, 2)
	assert.True(t, results["a"].OK)
	assert.False(t, results["b"].OK)
}

func TestList_ReturnsRegisteredNames(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&stubCollector{name: "a"})
	r.Register(&stubCollector{name: "b"})

	names := r.List()
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}
