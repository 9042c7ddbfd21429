// Package embedding implements the Embedding Tier (C4): vector similarity
// scoring over a content-addressed cache, for pairs the free pre-filter
// tier did not resolve, per spec.md §4.4.
package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/perfpulse/correlate/config"
	"github.com/perfpulse/correlate/evidence"
	"github.com/perfpulse/correlate/ledger"
	"github.com/perfpulse/correlate/store"
)

// Provider computes vector embeddings for a batch of texts, deterministic
// per spec.md §6 ("embedding providers are deterministic given identical
// input"). Implementations wrap a concrete embedding API.
type Provider interface {
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// ModelID names the embedding model, used to namespace the cache.
	ModelID() string
}

// Config holds the embedding tier's tunables.
type Config struct {
	// BatchSize (B) is the maximum number of un-cached items sent to the
	// provider per request. Default 64.
	BatchSize int
	// Workers bounds how many batches are in flight concurrently. Default 4,
	// per spec.md §5 ("embedding batching is concurrent up to a configured
	// worker count").
	Workers    int
	Thresholds config.Thresholds
	Pricing    config.Pricing
}

// DefaultConfig returns the production defaults from spec.md §4.4.
func DefaultConfig() Config {
	return Config{
		BatchSize:  64,
		Workers:    4,
		Thresholds: config.DefaultThresholds(),
	}
}

// Outcome classifies what the embedding tier decided about a pair.
type Outcome int

const (
	// OutcomeAccept means cos >= θ_high: emit an embedding relationship
	// directly.
	OutcomeAccept Outcome = iota
	// OutcomePromote means θ_low <= cos < θ_high: send to the LLM tier if
	// budget allows.
	OutcomePromote
	// OutcomeReject means cos < θ_low: no relationship.
	OutcomeReject
	// OutcomeSkipped means the embedding provider failed for one or both
	// items in the pair; the caller must promote to LLM or drop per budget.
	OutcomeSkipped
)

// Verdict is the embedding tier's decision for one candidate pair.
type Verdict struct {
	Pair       *evidence.CandidatePair
	Cosine     float64
	Confidence float64 // populated only when Outcome == OutcomeAccept
	Outcome    Outcome
}

// Tier runs the embedding stage: cache lookup, batched provider calls,
// cosine scoring, and threshold classification.
type Tier struct {
	provider Provider
	cache    store.Cache
	ledger   *ledger.Ledger
	cfg      Config
	logger   *logrus.Entry
}

// New builds an embedding Tier.
func New(provider Provider, cache store.Cache, led *ledger.Ledger, cfg Config, logger *logrus.Entry) *Tier {
	return &Tier{provider: provider, cache: cache, ledger: led, cfg: cfg, logger: logger}
}

func modelIDHash(modelID string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(modelID))
	return h.Sum64()
}

func cacheKey(fp uint64, modelHash uint64) string {
	return fmt.Sprintf("%016x:%016x", fp, modelHash)
}

// estimateTokens approximates token count for cost projection, following
// the common ~4-characters-per-token heuristic used when a provider does
// not return exact usage counts.
func estimateTokens(text string) int64 {
	n := int64(len(text) / 4)
	if n < 1 {
		n = 1
	}
	return n
}

// Run classifies every pair in pairs, fetching or computing embeddings as
// needed. Items already resolved by the pre-filter's explicit-reference
// rule should not be passed here (spec.md §4.3 short-circuits those).
func (t *Tier) Run(ctx context.Context, pairs []*evidence.CandidatePair) ([]*Verdict, error) {
	modelHash := modelIDHash(t.provider.ModelID())

	items := uniqueItems(pairs)
	vectors := make(map[uint64][]float32, len(items))
	skipped := make(map[uint64]bool)

	var toFetch []*evidence.Item
	for _, it := range items {
		key := cacheKey(it.Fingerprint(), modelHash)
		vec, ok, err := t.cache.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("embedding: cache get: %w", err)
		}
		if ok {
			vectors[it.Fingerprint()] = vec
			continue
		}
		toFetch = append(toFetch, it)
	}

	batchSize := t.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}
	workers := t.cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	// Batches run concurrently up to Workers in flight, per spec.md §5. A
	// mutex guards the shared vectors/skipped maps; embedBatch's own
	// ledger/provider/cache calls need no extra synchronization since the
	// ledger has its own lock and each batch writes distinct cache keys.
	// errgroup.WithContext cancels outstanding batches on the first real
	// error (a ledger commit failure, not an ordinary provider error, which
	// is already folded into a skipped outcome); a batch that observes
	// cancellation before starting is marked skipped rather than attempted,
	// satisfying spec.md §5's "workers observe the token at batch
	// boundaries... abandon in-flight calls."
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < len(toFetch); i += batchSize {
		end := i + batchSize
		if end > len(toFetch) {
			end = len(toFetch)
		}
		batch := toFetch[i:end]
		g.Go(func() error {
			if gctx.Err() != nil {
				mu.Lock()
				for _, it := range batch {
					skipped[it.Fingerprint()] = true
				}
				mu.Unlock()
				return nil
			}
			return t.embedBatch(gctx, batch, modelHash, vectors, skipped, &mu)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	verdicts := make([]*Verdict, 0, len(pairs))
	for _, p := range pairs {
		fa, fb := p.A.Fingerprint(), p.B.Fingerprint()
		if skipped[fa] || skipped[fb] {
			verdicts = append(verdicts, &Verdict{Pair: p, Outcome: OutcomeSkipped})
			continue
		}
		va, okA := vectors[fa]
		vb, okB := vectors[fb]
		if !okA || !okB {
			verdicts = append(verdicts, &Verdict{Pair: p, Outcome: OutcomeSkipped})
			continue
		}
		cos := cosineSimilarity(va, vb)
		verdicts = append(verdicts, classify(t.cfg.Thresholds, p, cos))
	}
	return verdicts, nil
}

// embedBatch reserves budget, calls the provider, and populates vectors
// and the cache for a batch. On provider failure the batch's items are
// marked skipped and the run proceeds, per spec.md §4.4's recoverable
// failure semantics.
func (t *Tier) embedBatch(ctx context.Context, batch []*evidence.Item, modelHash uint64, vectors map[uint64][]float32, skipped map[uint64]bool, mu *sync.Mutex) error {
	texts := make([]string, len(batch))
	var totalTokens int64
	for i, it := range batch {
		texts[i] = it.EmbeddingText()
		totalTokens += estimateTokens(texts[i])
	}

	cost := ledger.FromUSD(float64(totalTokens) / 1000.0 * t.cfg.Pricing.EmbedUnitPricePer1K)

	var handle *ledger.Handle
	if t.ledger != nil {
		h, err := t.ledger.Reserve(ctx, cost)
		if err != nil {
			if t.logger != nil {
				t.logger.WithError(err).Warn("embedding: budget denied, skipping batch")
			}
			mu.Lock()
			for _, it := range batch {
				skipped[it.Fingerprint()] = true
			}
			mu.Unlock()
			return nil
		}
		handle = h
	}

	vecs, err := t.provider.Embed(ctx, texts)
	if err != nil {
		if t.logger != nil {
			t.logger.WithError(err).Warn("embedding: provider error, marking batch skipped")
		}
		if handle != nil {
			if rerr := t.ledger.Release(ctx, handle); rerr != nil {
				return fmt.Errorf("embedding: release after provider error: %w", rerr)
			}
		}
		mu.Lock()
		for _, it := range batch {
			skipped[it.Fingerprint()] = true
		}
		mu.Unlock()
		return nil
	}

	if handle != nil {
		if err := t.ledger.Commit(ctx, handle, cost, ledger.Counters{
			EmbeddingTokens:   totalTokens,
			EmbeddingRequests: 1,
		}); err != nil {
			return fmt.Errorf("embedding: commit: %w", err)
		}
	}

	for i, it := range batch {
		key := cacheKey(it.Fingerprint(), modelHash)
		if err := t.cache.Put(ctx, key, vecs[i]); err != nil {
			return fmt.Errorf("embedding: cache put: %w", err)
		}
		mu.Lock()
		vectors[it.Fingerprint()] = vecs[i]
		mu.Unlock()
	}
	return nil
}

func uniqueItems(pairs []*evidence.CandidatePair) []*evidence.Item {
	seen := make(map[uint64]*evidence.Item)
	for _, p := range pairs {
		seen[p.A.Fingerprint()] = p.A
		seen[p.B.Fingerprint()] = p.B
	}
	out := make([]*evidence.Item, 0, len(seen))
	for _, it := range seen {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint() < out[j].Fingerprint() })
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// classify applies spec.md §4.4's threshold logic.
func classify(th config.Thresholds, pair *evidence.CandidatePair, cos float64) *Verdict {
	switch {
	case cos >= th.EmbeddingHigh:
		confidence := affineMap(cos, th.EmbeddingHigh, 1.0, 0.75, 0.92)
		return &Verdict{Pair: pair, Cosine: cos, Confidence: confidence, Outcome: OutcomeAccept}
	case cos >= th.EmbeddingLow:
		return &Verdict{Pair: pair, Cosine: cos, Outcome: OutcomePromote}
	default:
		return &Verdict{Pair: pair, Cosine: cos, Outcome: OutcomeReject}
	}
}

// affineMap linearly rescales x from [loIn, hiIn] to [loOut, hiOut].
func affineMap(x, loIn, hiIn, loOut, hiOut float64) float64 {
	if hiIn == loIn {
		return loOut
	}
	t := (x - loIn) / (hiIn - loIn)
	return loOut + t*(hiOut-loOut)
}
