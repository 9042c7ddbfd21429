// Package scorer implements the Confidence Scorer (C7): it combines every
// method verdict fired for a candidate pair into a single calibrated
// confidence and a selected relationship type, per spec.md §4.7.
package scorer

import (
	"sort"

	"github.com/perfpulse/correlate/evidence"
)

// SourceKey names a signal source with its own calibration prior. This is
// finer-grained than evidence.Method: embedding and rule-based tiers each
// produce more than one kind of signal, and each needs its own prior.
type SourceKey string

const (
	SourceExplicitReference SourceKey = "explicit_reference"
	SourceLLMPositive       SourceKey = "llm_positive"
	SourceLLMNegative       SourceKey = "llm_negative"
	SourceEmbeddingHigh     SourceKey = "embedding_high"
	SourceSameAuthorTemporal SourceKey = "same_author_temporal"
	SourceNgramOverlap      SourceKey = "ngram_overlap"
)

// sourceMethod maps a signal source to the tier/method that produced it,
// for the Relationship.Corroborating list.
var sourceMethod = map[SourceKey]evidence.Method{
	SourceExplicitReference:  evidence.MethodRuleBased,
	SourceSameAuthorTemporal: evidence.MethodRuleBased,
	SourceNgramOverlap:       evidence.MethodRuleBased,
	SourceEmbeddingHigh:      evidence.MethodEmbedding,
	SourceLLMPositive:        evidence.MethodLLM,
	SourceLLMNegative:        evidence.MethodLLM,
}

// Priors holds the per-source prior probabilities spec.md §4.7 names.
type Priors map[SourceKey]float64

// DefaultPriors returns the production defaults from spec.md §4.7.
func DefaultPriors() Priors {
	return Priors{
		SourceExplicitReference:  0.95,
		SourceLLMPositive:        0.88,
		SourceEmbeddingHigh:      0.78,
		SourceSameAuthorTemporal: 0.62,
		SourceNgramOverlap:       0.45,
	}
}

// Config configures the scorer's combination rule.
type Config struct {
	Priors Priors
	// DampenOnNegative applies NegativeDampenFactor to the combined
	// confidence whenever an llm_negative signal is present, per spec.md
	// §9's open question on negative-evidence dampening. Default true.
	DampenOnNegative bool
	// NegativeDampenFactor is the multiplier applied on dissent. Default 0.3.
	NegativeDampenFactor float64
	// AcceptThreshold (τ_rel) is the minimum confidence for a pair to be
	// kept as a relationship at all. Default 0.50.
	AcceptThreshold float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Priors:               DefaultPriors(),
		DampenOnNegative:     true,
		NegativeDampenFactor: 0.3,
		AcceptThreshold:      0.50,
	}
}

// Signal is one method's opinion feeding the combination rule.
type Signal struct {
	Source   SourceKey
	Strength float64 // method-specific normalized strength in [0,1]
	Type     evidence.RelType
	// Rationale is carried through to the relationship for llm signals.
	Rationale string
}

// Result is the scorer's verdict for one candidate pair.
type Result struct {
	Confidence      float64
	Type            evidence.RelType
	Method          evidence.Method // the max-confidence method's verdict
	Corroborating   []evidence.Method
	Rationale       string
	NegativeDissent bool
	Accepted        bool
}

// Score combines every signal fired for a pair into a single calibrated
// confidence and relationship type, per spec.md §4.7's combination rule
// `conf = 1 − ∏_m (1 − prior_m · strength_m)`.
func Score(cfg Config, signals []Signal) Result {
	if len(signals) == 0 {
		return Result{}
	}

	product := 1.0
	var negativeDissent bool
	var best *Signal
	bestPrior := -1.0
	corrobSet := make(map[evidence.Method]bool)
	var rationale string

	for i := range signals {
		s := &signals[i]
		prior := cfg.Priors[s.Source]

		if s.Source == SourceLLMNegative {
			negativeDissent = true
			corrobSet[evidence.MethodLLM] = true
			continue // negative signals dampen, they don't feed the product
		}

		product *= 1 - prior*s.Strength
		corrobSet[sourceMethod[s.Source]] = true

		if prior > bestPrior {
			bestPrior = prior
			best = s
		}
		if s.Rationale != "" {
			rationale = s.Rationale
		}
	}

	confidence := 1 - product
	if negativeDissent && cfg.DampenOnNegative {
		confidence *= cfg.NegativeDampenFactor
	}

	relType := evidence.RelType("")
	method := evidence.Method("")
	if best != nil {
		relType = resolveType(cfg.Priors, signals, bestPrior)
		method = sourceMethod[best.Source]
	}

	corroborating := make([]evidence.Method, 0, len(corrobSet))
	for m := range corrobSet {
		corroborating = append(corroborating, m)
	}
	sort.Slice(corroborating, func(i, j int) bool { return corroborating[i] < corroborating[j] })

	return Result{
		Confidence:      confidence,
		Type:            relType,
		Method:          method,
		Corroborating:   corroborating,
		Rationale:       rationale,
		NegativeDissent: negativeDissent,
		Accepted:        confidence >= cfg.AcceptThreshold,
	}
}

// resolveType implements spec.md §4.7's tie-break: "highest-prior positive
// method's type wins; ties broken by a fixed ordering." Only signals tied
// for the highest prior among those fired are eligible; among those, the
// fixed evidence.TypePriority ordering decides.
func resolveType(priors Priors, signals []Signal, bestPrior float64) evidence.RelType {
	var candidates []evidence.RelType
	for _, s := range signals {
		if s.Source == SourceLLMNegative {
			continue
		}
		if priors[s.Source] == bestPrior {
			candidates = append(candidates, s.Type)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	best := candidates[0]
	for _, t := range candidates[1:] {
		if evidence.TypePriority(t) < evidence.TypePriority(best) {
			best = t
		}
	}
	return best
}

// ApplyTo builds a full evidence.Relationship from a scored candidate pair.
func ApplyTo(pair *evidence.CandidatePair, result Result) *evidence.Relationship {
	r := &evidence.Relationship{
		Pair:            pair.ID,
		A:               pair.A,
		B:               pair.B,
		Type:            result.Type,
		Confidence:      result.Confidence,
		Method:          result.Method,
		Rationale:       result.Rationale,
		NegativeDissent: result.NegativeDissent,
	}
	for _, m := range result.Corroborating {
		r.AddCorroborating(m)
	}
	return r
}
