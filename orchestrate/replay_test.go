package orchestrate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfpulse/correlate/evidence"
	"github.com/perfpulse/correlate/store"
)

func openTestKV(t *testing.T) store.KV {
	t.Helper()
	kv, err := store.OpenBoltKV(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestSaveRunThenLoadRun_RoundTrips(t *testing.T) {
	kv := openTestKV(t)
	ctx := context.Background()

	a := &evidence.Item{ID: "a", Source: "s", Kind: evidence.KindCommit, Author: "alice", Timestamp: time.Now()}
	b := &evidence.Item{ID: "b", Source: "s", Kind: evidence.KindTicket, Author: "alice", Timestamp: time.Now()}
	resp := &CorrelateResponse{
		RunID: "run-1",
		Relationships: []*evidence.Relationship{
			{Pair: evidence.PairID{}, A: a, B: b, Type: evidence.RelReferences, Confidence: 0.9},
		},
	}

	require.NoError(t, SaveRun(ctx, kv, resp))

	pr, ok, err := LoadRun(ctx, kv, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "run-1", pr.RunID)
	require.Len(t, pr.Relationships, 1)
	assert.Equal(t, "a", pr.Relationships[0].A.ID)
}

func TestLoadRun_UnknownRunReturnsNotOK(t *testing.T) {
	kv := openTestKV(t)
	_, ok, err := LoadRun(context.Background(), kv, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReplay_RegroupsFromPersistedRelationships(t *testing.T) {
	now := time.Now()
	a := &evidence.Item{ID: "a", Source: "s", Kind: evidence.KindCommit, Author: "alice", Timestamp: now}
	b := &evidence.Item{ID: "b", Source: "s", Kind: evidence.KindTicket, Author: "alice", Timestamp: now}

	pr := &PersistedRun{
		RunID: "run-2",
		Relationships: []*evidence.Relationship{
			{A: a, B: b, Type: evidence.RelReferences, Confidence: 0.95},
		},
	}

	resp, err := Replay(DefaultConfig(), pr)
	require.NoError(t, err)
	assert.Equal(t, StateDone, resp.State)
	assert.Equal(t, "run-2", resp.RunID)
	require.Len(t, resp.Relationships, 1)
	assert.NotEmpty(t, resp.Stories)
	assert.NotEmpty(t, resp.Insights)
}

func TestReplay_NilRunIsError(t *testing.T) {
	_, err := Replay(DefaultConfig(), nil)
	assert.Error(t, err)
}
