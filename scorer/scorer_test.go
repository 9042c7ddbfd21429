package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfpulse/correlate/evidence"
)

func TestScore_SingleExplicitReference(t *testing.T) {
	cfg := DefaultConfig()
	result := Score(cfg, []Signal{
		{Source: SourceExplicitReference, Strength: 1.0, Type: evidence.RelSolves},
	})
	require.True(t, result.Accepted)
	assert.InDelta(t, 0.95, result.Confidence, 1e-9)
	assert.Equal(t, evidence.RelSolves, result.Type)
	assert.Equal(t, evidence.MethodRuleBased, result.Method)
}

func TestScore_CorroboratingMethodsNeverDecreaseConfidence(t *testing.T) {
	cfg := DefaultConfig()
	base := Score(cfg, []Signal{
		{Source: SourceNgramOverlap, Strength: 0.6, Type: evidence.RelDiscusses},
	})
	corroborated := Score(cfg, []Signal{
		{Source: SourceNgramOverlap, Strength: 0.6, Type: evidence.RelDiscusses},
		{Source: SourceEmbeddingHigh, Strength: 0.9, Type: evidence.RelReferences},
	})
	assert.GreaterOrEqual(t, corroborated.Confidence, base.Confidence)
	assert.Contains(t, corroborated.Corroborating, evidence.MethodRuleBased)
	assert.Contains(t, corroborated.Corroborating, evidence.MethodEmbedding)
}

func TestScore_NegativeDissentDampens(t *testing.T) {
	cfg := DefaultConfig()
	withoutDissent := Score(cfg, []Signal{
		{Source: SourceEmbeddingHigh, Strength: 0.9, Type: evidence.RelReferences},
	})
	withDissent := Score(cfg, []Signal{
		{Source: SourceEmbeddingHigh, Strength: 0.9, Type: evidence.RelReferences},
		{Source: SourceLLMNegative, Strength: 1.0},
	})
	assert.Less(t, withDissent.Confidence, withoutDissent.Confidence)
	assert.True(t, withDissent.NegativeDissent)
	assert.InDelta(t, withoutDissent.Confidence*cfg.NegativeDampenFactor, withDissent.Confidence, 1e-9)
}

func TestScore_DampenDisabledByConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DampenOnNegative = false
	withDissent := Score(cfg, []Signal{
		{Source: SourceEmbeddingHigh, Strength: 0.9, Type: evidence.RelReferences},
		{Source: SourceLLMNegative, Strength: 1.0},
	})
	withoutDissent := Score(cfg, []Signal{
		{Source: SourceEmbeddingHigh, Strength: 0.9, Type: evidence.RelReferences},
	})
	assert.InDelta(t, withoutDissent.Confidence, withDissent.Confidence, 1e-9)
}

func TestScore_TypeTieBreak_SolvesBeatsReferences(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Priors[SourceLLMPositive] = cfg.Priors[SourceEmbeddingHigh] // force a tie
	result := Score(cfg, []Signal{
		{Source: SourceLLMPositive, Strength: 0.5, Type: evidence.RelReferences},
		{Source: SourceEmbeddingHigh, Strength: 0.5, Type: evidence.RelSolves},
	})
	assert.Equal(t, evidence.RelSolves, result.Type)
}

func TestScore_BelowAcceptThreshold_NotAccepted(t *testing.T) {
	cfg := DefaultConfig()
	result := Score(cfg, []Signal{
		{Source: SourceNgramOverlap, Strength: 0.1, Type: evidence.RelDiscusses},
	})
	assert.False(t, result.Accepted)
}

func TestScore_EmptySignals(t *testing.T) {
	result := Score(DefaultConfig(), nil)
	assert.Equal(t, 0.0, result.Confidence)
	assert.False(t, result.Accepted)
}

func TestApplyTo_BuildsRelationship(t *testing.T) {
	a := &evidence.Item{ID: "a", Source: "s", Kind: evidence.KindCommit}
	b := &evidence.Item{ID: "b", Source: "s", Kind: evidence.KindTicket}
	pair := &evidence.CandidatePair{ID: evidence.PairIDOf(a, b), A: a, B: b}
	result := Score(DefaultConfig(), []Signal{
		{Source: SourceExplicitReference, Strength: 1.0, Type: evidence.RelSolves, Rationale: "matched AUTH-123"},
	})
	rel := ApplyTo(pair, result)
	assert.Equal(t, pair.ID, rel.Pair)
	assert.Equal(t, evidence.RelSolves, rel.Type)
	assert.Equal(t, "matched AUTH-123", rel.Rationale)
}
