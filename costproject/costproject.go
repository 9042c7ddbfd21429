// Package costproject implements the Cost Projector (C11): a pre-flight
// spend estimate over a candidate pair set, used to pick a run mode and to
// gate the Budget Ledger before any paid call is made, per spec.md §4.11.
package costproject

import (
	"context"
	"fmt"

	"github.com/perfpulse/correlate/config"
	"github.com/perfpulse/correlate/evidence"
	"github.com/perfpulse/correlate/ledger"
	"github.com/perfpulse/correlate/store"
)

// Config holds the projector's tunables, per spec.md §4.11.
type Config struct {
	// DefaultCacheHitRate seeds the moving average for a source with no
	// prior history. Default 0.3.
	DefaultCacheHitRate float64
	// ResidualLLMFraction estimates the share of embedding-tier pairs that
	// get promoted to the LLM tier. Default 0.08.
	ResidualLLMFraction float64
	// SafetyFactor inflates the projected total before it is checked
	// against the ledger, since over-projection is preferred to
	// under-projection. Default 1.25.
	SafetyFactor float64
	Pricing      config.Pricing
}

// DefaultConfig returns the production defaults from spec.md §4.11.
func DefaultConfig() Config {
	return Config{
		DefaultCacheHitRate: 0.3,
		ResidualLLMFraction: 0.08,
		SafetyFactor:        1.25,
	}
}

// Estimate is the structured projection spec.md §4.11's `project()`
// returns.
type Estimate struct {
	UniqueItems        int
	EstimatedEmbedCost ledger.Micros
	EstimatedLLMCost   ledger.Micros
	RawTotal           ledger.Micros // before SafetyFactor
	ProjectedTotal      ledger.Micros // after SafetyFactor
	RecommendedMode    config.Mode
	WithinBudget       bool
}

// Projector computes pre-flight cost estimates, tracking a per-source
// cache-hit moving average persisted in store.KV so it survives process
// restarts.
type Projector struct {
	kv     store.KV
	cfg    Config
	ledger *ledger.Ledger
}

// New builds a Projector.
func New(kv store.KV, cfg Config, led *ledger.Ledger) *Projector {
	return &Projector{kv: kv, cfg: cfg, ledger: led}
}

func cacheHitKey(source string) string { return "costproject:cache_hit_rate:" + source }

type cacheHitRecord struct {
	Rate    float64 `json:"rate"`
	Samples int64   `json:"samples"`
}

// cacheHitRate returns the moving average hit rate for source, seeded with
// cfg.DefaultCacheHitRate if no history exists.
func (p *Projector) cacheHitRate(ctx context.Context, source string) (float64, error) {
	var rec cacheHitRecord
	ok, err := p.kv.GetJSON(ctx, cacheHitKey(source), &rec)
	if err != nil {
		return 0, fmt.Errorf("costproject: load cache hit rate for %s: %w", source, err)
	}
	if !ok {
		return p.cfg.DefaultCacheHitRate, nil
	}
	return rec.Rate, nil
}

// RecordCacheOutcome folds one run's observed cache hit rate for source
// into the persisted moving average, using a simple exponential moving
// average with weight proportional to sample count so an established
// history is not swamped by a single noisy run.
func (p *Projector) RecordCacheOutcome(ctx context.Context, source string, hits, total int64) error {
	if total == 0 {
		return nil
	}
	observed := float64(hits) / float64(total)

	var rec cacheHitRecord
	ok, err := p.kv.GetJSON(ctx, cacheHitKey(source), &rec)
	if err != nil {
		return fmt.Errorf("costproject: load cache hit rate for %s: %w", source, err)
	}
	if !ok {
		rec = cacheHitRecord{Rate: p.cfg.DefaultCacheHitRate, Samples: 0}
	}

	const alpha = 0.2 // weight given to the newest observation
	rec.Rate = rec.Rate*(1-alpha) + observed*alpha
	rec.Samples++
	return p.kv.PutJSON(ctx, cacheHitKey(source), &rec)
}

func estimateTokens(it *evidence.Item) int64 {
	n := int64((len(it.Title) + len(it.Body)) / 4)
	if n < 1 {
		n = 1
	}
	return n
}

// Project computes the cost estimate for pairs, per spec.md §4.11's
// formula: embeddings cost unique-items-minus-cache-hit-rate × per-item
// token estimate × unit price; LLM cost is the residual-promotion fraction
// of pairs × per-pair token estimate × unit price.
func (p *Projector) Project(ctx context.Context, pairs []*evidence.CandidatePair) (Estimate, error) {
	unique := make(map[uint64]*evidence.Item)
	bySource := make(map[string][]*evidence.Item)
	for _, pair := range pairs {
		for _, it := range [2]*evidence.Item{pair.A, pair.B} {
			if _, ok := unique[it.Fingerprint()]; ok {
				continue
			}
			unique[it.Fingerprint()] = it
			bySource[it.Source] = append(bySource[it.Source], it)
		}
	}

	var embedTokens float64
	for source, items := range bySource {
		hitRate, err := p.cacheHitRate(ctx, source)
		if err != nil {
			return Estimate{}, err
		}
		var sourceTokens int64
		for _, it := range items {
			sourceTokens += estimateTokens(it)
		}
		embedTokens += float64(sourceTokens) * (1 - hitRate)
	}
	embedCost := ledger.FromUSD(embedTokens / 1000.0 * p.cfg.Pricing.EmbedUnitPricePer1K)

	var pairTokens float64
	for _, pair := range pairs {
		pairTokens += float64(estimateTokens(pair.A) + estimateTokens(pair.B))
	}
	llmTokens := pairTokens * p.cfg.ResidualLLMFraction
	// A projection has no actual response yet, so output tokens are
	// approximated at the same order of magnitude as input, matching the
	// LLM tier's own fixed 300-token assumption used when committing a
	// real call's cost (see llm.Tier.adjudicate).
	llmCost := ledger.FromUSD(llmTokens/1000.0*p.cfg.Pricing.LLMInputPricePer1K +
		llmTokens/1000.0*p.cfg.Pricing.LLMOutputPricePer1K)

	rawTotal := embedCost + llmCost
	safety := p.cfg.SafetyFactor
	if safety <= 0 {
		safety = 1.0
	}
	projectedTotal := ledger.Micros(float64(rawTotal) * safety)

	withinBudget := true
	if p.ledger != nil {
		ok, err := p.ledger.Project(ctx, projectedTotal)
		if err != nil {
			return Estimate{}, err
		}
		withinBudget = ok
	}

	mode := config.ModeAuto
	if !withinBudget {
		mode = config.ModeRuleBased
	}

	return Estimate{
		UniqueItems:        len(unique),
		EstimatedEmbedCost: embedCost,
		EstimatedLLMCost:   llmCost,
		RawTotal:           rawTotal,
		ProjectedTotal:     projectedTotal,
		RecommendedMode:    mode,
		WithinBudget:       withinBudget,
	}, nil
}
