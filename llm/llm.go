// Package llm implements the LLM Tier (C5): bounded-prompt adjudication
// for the residual pair set the embedding tier could not resolve, per
// spec.md §4.5.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/perfpulse/correlate/config"
	"github.com/perfpulse/correlate/evidence"
	"github.com/perfpulse/correlate/ledger"
)

// Provider completes a single bounded prompt and returns the raw response
// text, expected to be a JSON verdict object.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config holds the LLM tier's tunables, per spec.md §4.5.
type Config struct {
	// ItemCardLimit (N) caps each item card's characters. Default 1,200.
	ItemCardLimit int
	// RationaleLimit caps the stored rationale length. Default 280.
	RationaleLimit int
	// PerCallTokenBudget caps the estimated tokens of a single call.
	PerCallTokenBudget int64
	// PerRunRequestCap caps the total number of LLM calls in one run.
	PerRunRequestCap int
	// RequestsPerSecond configures the rate limiter.
	RequestsPerSecond float64
	// Workers bounds how many adjudications are in flight concurrently.
	// Default 2, per spec.md §5 ("LLM calls are concurrent up to a smaller
	// worker count").
	Workers int
	Pricing config.Pricing
}

// DefaultConfig returns the production defaults from spec.md §4.5.
func DefaultConfig() Config {
	return Config{
		ItemCardLimit:      1200,
		RationaleLimit:     280,
		PerCallTokenBudget: 2000,
		PerRunRequestCap:   200,
		RequestsPerSecond:  2,
		Workers:            2,
	}
}

// Outcome classifies the LLM tier's decision for one pair.
type Outcome int

const (
	// OutcomeRelated means the LLM returned related=true: emit a
	// relationship with method=llm.
	OutcomeRelated Outcome = iota
	// OutcomeNegative means related=false: recorded as negative evidence
	// for C7 to dampen co-method scores.
	OutcomeNegative
	// OutcomeSkipped means budget denial, exhausted retries, or the
	// per-run request cap was reached before this pair could be sent.
	OutcomeSkipped
)

// Result is the LLM tier's verdict for one candidate pair.
type Result struct {
	Pair       *evidence.CandidatePair
	Related    bool
	Type       evidence.RelType
	Confidence float64
	Rationale  string
	Outcome    Outcome
}

// verdictSchema is the JSON shape the system prompt demands, per spec.md
// §4.5: `{related: bool, type: enum, confidence: float in [0,1],
// rationale: string ≤ 280 chars}`.
type verdictSchema struct {
	Related    bool    `json:"related"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

const systemInstruction = `You determine whether two pieces of engineering activity evidence describe related work. Respond with ONLY a JSON object matching this schema: {"related": bool, "type": one of "solves"|"references"|"duplicates"|"sequential"|"discusses"|"co-authored", "confidence": float between 0 and 1, "rationale": string of at most 280 characters}. Do not include any text outside the JSON object.`

var validTypes = map[string]evidence.RelType{
	"solves":      evidence.RelSolves,
	"references":  evidence.RelReferences,
	"duplicates":  evidence.RelDuplicates,
	"sequential":  evidence.RelSequential,
	"discusses":   evidence.RelDiscusses,
	"co-authored": evidence.RelCoAuthored,
}

// Tier runs the LLM adjudication stage.
type Tier struct {
	provider Provider
	ledger   *ledger.Ledger
	limiter  *rate.Limiter
	cfg      Config
	logger   *logrus.Entry
}

// New builds an LLM Tier.
func New(provider Provider, led *ledger.Ledger, cfg Config, logger *logrus.Entry) *Tier {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	return &Tier{
		provider: provider,
		ledger:   led,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		cfg:      cfg,
		logger:   logger,
	}
}

func itemCard(it *evidence.Item, limit int) string {
	text := fmt.Sprintf("source=%s kind=%s author=%s title=%q body=%q", it.Source, it.Kind, it.Author, it.Title, it.Body)
	if len(text) > limit {
		text = text[:limit]
	}
	return text
}

func composePrompt(a, b *evidence.Item, limit int) string {
	var sb strings.Builder
	sb.WriteString(systemInstruction)
	sb.WriteString("\n\nItem A: ")
	sb.WriteString(itemCard(a, limit))
	sb.WriteString("\nItem B: ")
	sb.WriteString(itemCard(b, limit))
	return sb.String()
}

func estimateTokens(s string) int64 {
	n := int64(len(s) / 4)
	if n < 1 {
		n = 1
	}
	return n
}

// Run adjudicates every pair in pairs, subject to the per-run request cap,
// the rate limiter, and the budget ledger. Adjudications run concurrently
// up to Workers in flight (spec.md §5); the rate limiter still serializes
// the actual outbound calls across whatever concurrency is configured.
// Results are written by index so output order matches pairs regardless of
// which goroutine finishes first, preserving spec.md §5's ordering
// guarantee.
func (t *Tier) Run(ctx context.Context, pairs []*evidence.CandidatePair) ([]*Result, error) {
	requestCap := t.cfg.PerRunRequestCap
	if requestCap <= 0 {
		requestCap = len(pairs)
	}
	workers := t.cfg.Workers
	if workers <= 0 {
		workers = 2
	}

	results := make([]*Result, len(pairs))
	var calls int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range pairs {
		i, p := i, p
		g.Go(func() error {
			if atomic.AddInt64(&calls, 1) > int64(requestCap) {
				results[i] = &Result{Pair: p, Outcome: OutcomeSkipped}
				return nil
			}
			if gctx.Err() != nil {
				results[i] = &Result{Pair: p, Outcome: OutcomeSkipped}
				return nil
			}

			r, _, err := t.adjudicate(gctx, p)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (t *Tier) adjudicate(ctx context.Context, pair *evidence.CandidatePair) (*Result, bool, error) {
	prompt := composePrompt(pair.A, pair.B, t.cfg.ItemCardLimit)
	inputTokens := estimateTokens(prompt)
	if inputTokens > t.cfg.PerCallTokenBudget {
		return &Result{Pair: pair, Outcome: OutcomeSkipped}, false, nil
	}

	estCost := ledger.FromUSD(float64(inputTokens)/1000.0*t.cfg.Pricing.LLMInputPricePer1K +
		300.0/1000.0*t.cfg.Pricing.LLMOutputPricePer1K)

	var handle *ledger.Handle
	if t.ledger != nil {
		h, err := t.ledger.Reserve(ctx, estCost)
		if err != nil {
			if t.logger != nil {
				t.logger.WithError(err).Debug("llm: budget denied for pair")
			}
			return &Result{Pair: pair, Outcome: OutcomeSkipped}, false, nil
		}
		handle = h
	}

	if err := t.limiter.Wait(ctx); err != nil {
		t.releaseOnFailure(ctx, handle)
		return nil, false, fmt.Errorf("llm: rate limiter: %w", err)
	}

	raw, err := t.callWithRetry(ctx, prompt)
	if err != nil {
		t.releaseOnFailure(ctx, handle)
		if t.logger != nil {
			t.logger.WithError(err).Warn("llm: call failed after retry, skipping pair")
		}
		return &Result{Pair: pair, Outcome: OutcomeSkipped}, true, nil
	}

	verdict, ok := t.parseVerdict(raw)
	if !ok {
		repaired, rerr := t.callWithRetry(ctx, prompt+"\n\nYour previous response did not match the required JSON schema. Respond again with ONLY valid JSON matching the schema.")
		if rerr == nil {
			verdict, ok = t.parseVerdict(repaired)
		}
	}
	if !ok {
		t.releaseOnFailure(ctx, handle)
		if t.logger != nil {
			t.logger.Warn("llm: malformed response rejected after repair attempt")
		}
		return &Result{Pair: pair, Outcome: OutcomeSkipped}, true, nil
	}

	outputTokens := estimateTokens(raw)
	actualCost := ledger.FromUSD(float64(inputTokens)/1000.0*t.cfg.Pricing.LLMInputPricePer1K +
		float64(outputTokens)/1000.0*t.cfg.Pricing.LLMOutputPricePer1K)
	if handle != nil {
		if err := t.ledger.Commit(ctx, handle, actualCost, ledger.Counters{LLMTokens: inputTokens + outputTokens, LLMRequests: 1}); err != nil {
			return nil, true, fmt.Errorf("llm: commit: %w", err)
		}
	}

	rationale := verdict.Rationale
	if len(rationale) > t.cfg.RationaleLimit {
		rationale = rationale[:t.cfg.RationaleLimit]
	}

	outcome := OutcomeNegative
	if verdict.Related {
		outcome = OutcomeRelated
	}
	return &Result{
		Pair:       pair,
		Related:    verdict.Related,
		Type:       validTypes[verdict.Type],
		Confidence: clamp01(verdict.Confidence),
		Rationale:  rationale,
		Outcome:    outcome,
	}, true, nil
}

func (t *Tier) releaseOnFailure(ctx context.Context, handle *ledger.Handle) {
	if handle == nil || t.ledger == nil {
		return
	}
	_ = t.ledger.Release(ctx, handle)
}

// callWithRetry makes one call, and on a transient error retries exactly
// once after an exponential backoff with jitter, per spec.md §4.5.
func (t *Tier) callWithRetry(ctx context.Context, prompt string) (string, error) {
	resp, err := t.provider.Complete(ctx, prompt)
	if err == nil {
		return resp, nil
	}

	backoff := 200*time.Millisecond + time.Duration(rand.Int63n(int64(100*time.Millisecond)))
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(backoff):
	}

	return t.provider.Complete(ctx, prompt)
}

func (t *Tier) parseVerdict(raw string) (verdictSchema, bool) {
	raw = strings.TrimSpace(raw)
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < 0 || end < start {
		return verdictSchema{}, false
	}
	var v verdictSchema
	if err := json.Unmarshal([]byte(raw[start:end+1]), &v); err != nil {
		return verdictSchema{}, false
	}
	if v.Related {
		if _, ok := validTypes[v.Type]; !ok {
			return verdictSchema{}, false
		}
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return verdictSchema{}, false
	}
	return v, true
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
