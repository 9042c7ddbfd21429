package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfpulse/correlate/config"
	"github.com/perfpulse/correlate/evidence"
	"github.com/perfpulse/correlate/ledger"
	"github.com/perfpulse/correlate/store"
)

type stubProvider struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (s *stubProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, ok := s.vectors[text]
		if !ok {
			v = []float32{1, 0, 0}
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubProvider) ModelID() string { return "stub-v1" }

func newTestTier(t *testing.T, provider Provider, led *ledger.Ledger) (*Tier, func()) {
	t.Helper()
	cache, err := store.OpenBoltCache(t.TempDir() + "/cache.db")
	require.NoError(t, err)
	return New(provider, cache, led, DefaultConfig(), nil), func() { cache.Close() }
}

func mkPair(ta, tb string) *evidence.CandidatePair {
	a := &evidence.Item{ID: "a", Source: "s", Kind: evidence.KindCommit, Title: ta}
	b := &evidence.Item{ID: "b", Source: "s", Kind: evidence.KindTicket, Title: tb}
	return &evidence.CandidatePair{ID: evidence.PairIDOf(a, b), A: a, B: b}
}

func TestRun_HighCosineAccepted(t *testing.T) {
	provider := &stubProvider{vectors: map[string][]float32{
		"refactor payment retry\n": {1, 0, 0},
		"refactor payment loop\n":  {1, 0, 0},
	}}
	tier, done := newTestTier(t, provider, nil)
	defer done()

	pair := mkPair("refactor payment retry", "refactor payment loop")
	verdicts, err := tier.Run(context.Background(), []*evidence.CandidatePair{pair})
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
	assert.Equal(t, OutcomeAccept, verdicts[0].Outcome)
	assert.GreaterOrEqual(t, verdicts[0].Confidence, 0.75)
	assert.LessOrEqual(t, verdicts[0].Confidence, 0.92)
}

func TestRun_LowCosineRejected(t *testing.T) {
	provider := &stubProvider{vectors: map[string][]float32{
		"alpha feature\n": {1, 0, 0},
		"beta unrelated\n": {0, 1, 0},
	}}
	tier, done := newTestTier(t, provider, nil)
	defer done()

	pair := mkPair("alpha feature", "beta unrelated")
	verdicts, err := tier.Run(context.Background(), []*evidence.CandidatePair{pair})
	require.NoError(t, err)
	assert.Equal(t, OutcomeReject, verdicts[0].Outcome)
}

func TestRun_MidRangePromotesToLLM(t *testing.T) {
	provider := &stubProvider{vectors: map[string][]float32{
		"tighten backoff\n":              {1, 0.7, 0},
		"payments flaky under load\n":    {1, 0, 0},
	}}
	tier, done := newTestTier(t, provider, nil)
	defer done()

	pair := mkPair("tighten backoff", "payments flaky under load")
	verdicts, err := tier.Run(context.Background(), []*evidence.CandidatePair{pair})
	require.NoError(t, err)
	assert.Equal(t, OutcomePromote, verdicts[0].Outcome)
}

func TestRun_CacheHitAvoidsSecondProviderCall(t *testing.T) {
	provider := &stubProvider{vectors: map[string][]float32{}}
	cache, err := store.OpenBoltCache(t.TempDir() + "/cache.db")
	require.NoError(t, err)
	defer cache.Close()
	tier := New(provider, cache, nil, DefaultConfig(), nil)

	pair := mkPair("same title", "same title")
	_, err = tier.Run(context.Background(), []*evidence.CandidatePair{pair})
	require.NoError(t, err)
	firstCalls := provider.calls

	_, err = tier.Run(context.Background(), []*evidence.CandidatePair{pair})
	require.NoError(t, err)
	assert.Equal(t, firstCalls, provider.calls, "second run should hit cache, not call provider again")
}

func TestRun_ProviderErrorSkipsBatch(t *testing.T) {
	provider := &stubProvider{err: errors.New("boom")}
	tier, done := newTestTier(t, provider, nil)
	defer done()

	pair := mkPair("a", "b")
	verdicts, err := tier.Run(context.Background(), []*evidence.CandidatePair{pair})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, verdicts[0].Outcome)
}

func TestRun_BudgetDeniedSkipsBatch(t *testing.T) {
	kv, err := store.OpenBoltKV(t.TempDir() + "/ledger.db")
	require.NoError(t, err)
	defer kv.Close()
	cfg := ledger.DefaultConfig(0.0) // zero budget
	led := ledger.New(kv, cfg, nil, nil)

	provider := &stubProvider{vectors: map[string][]float32{}}
	embCfg := DefaultConfig()
	embCfg.Pricing = config.Pricing{EmbedUnitPricePer1K: 1.0}
	cache, err := store.OpenBoltCache(t.TempDir() + "/cache.db")
	require.NoError(t, err)
	defer cache.Close()
	tier := New(provider, cache, led, embCfg, nil)

	pair := mkPair("some long title that costs something", "another title")
	verdicts, runErr := tier.Run(context.Background(), []*evidence.CandidatePair{pair})
	require.NoError(t, runErr)
	assert.Equal(t, OutcomeSkipped, verdicts[0].Outcome)
}
