// Package orchestrate implements the Correlation Orchestrator (C10): the
// multi-step pipeline that turns raw or explicitly supplied evidence into
// relationships, work stories, and derived insights, under the cost
// projector's and budget ledger's control, per spec.md §4.10, §4.11, and §6.
package orchestrate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/perfpulse/correlate/collector"
	"github.com/perfpulse/correlate/config"
	"github.com/perfpulse/correlate/correrr"
	"github.com/perfpulse/correlate/costproject"
	"github.com/perfpulse/correlate/embedding"
	"github.com/perfpulse/correlate/evidence"
	"github.com/perfpulse/correlate/insight"
	"github.com/perfpulse/correlate/ledger"
	"github.com/perfpulse/correlate/llm"
	"github.com/perfpulse/correlate/observability"
	"github.com/perfpulse/correlate/prefilter"
	"github.com/perfpulse/correlate/scorer"
	"github.com/perfpulse/correlate/story"
)

// State names a step in the correlation state machine, per spec.md §4.10.
type State string

const (
	StateNew        State = "NEW"
	StateCollecting State = "COLLECTING"
	StateFiltering  State = "FILTERING"
	StateEmbedding  State = "EMBEDDING"
	StateLLM        State = "LLM"
	StateScoring    State = "SCORING"
	StateGrouping   State = "GROUPING"
	StateEnriching  State = "ENRICHING"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
	StateDegraded   State = "DEGRADED"
	StateCancelled  State = "CANCELLED"
)

// CorrelateRequest is the input to one correlation run, per spec.md §6.
type CorrelateRequest struct {
	RunID  string // assigned by Orchestrator.Correlate if empty
	Person string
	Window collector.Window
	// Items drives the run from an explicit evidence set instead of
	// collecting via the registry (step 1's "explicit evidence set" input,
	// spec.md §6). When non-empty, Person/Window are ignored and no
	// collector adapter runs.
	Items []*evidence.Item
	Mode  config.Mode
	// MaxCost, when positive, is a per-run cost ceiling honored alongside
	// the ledger's monthly budget: the cost projector downgrades mode=auto
	// to rule_based if the projected spend would exceed it, even when the
	// monthly ledger alone would allow the run.
	MaxCost float64
}

// BudgetStatus summarizes the ledger's state at the end of a run.
type BudgetStatus struct {
	Status   ledger.Status
	Snapshot ledger.Snapshot
}

// CorrelateResponse is the full output of one correlation run, per spec.md §6.
type CorrelateResponse struct {
	RunID         string
	State         State
	Items         []*evidence.Item
	Relationships []*evidence.Relationship
	Stories       []*story.Story
	Insights      []*insight.Insight
	Partials      []collector.PartialCollection
	Budget        BudgetStatus
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Config bundles every sub-tier's configuration for one Orchestrator.
type Config struct {
	Prefilter prefilter.Config
	Scorer    scorer.Config
	Story     story.Config
	Insight   insight.Config
}

// DefaultConfig returns the production defaults for every sub-tier.
func DefaultConfig() Config {
	return Config{
		Prefilter: prefilter.DefaultConfig(),
		Scorer:    scorer.DefaultConfig(),
		Story:     story.DefaultConfig(),
		Insight:   insight.DefaultConfig(),
	}
}

// Orchestrator wires together every pipeline stage. Its dependencies are
// injected rather than constructed internally, so a run can be driven
// end-to-end against fakes in tests without any network or disk I/O beyond
// what the ledger's store requires.
type Orchestrator struct {
	registry      *collector.Registry
	embed         *embedding.Tier
	llmTier       *llm.Tier
	ledger        *ledger.Ledger
	costProjector *costproject.Projector
	cfg           Config
	logger        *logrus.Entry
	reporter      observability.Reporter

	bodyLimit int
}

// New builds an Orchestrator. embed, llmTier, and costProjector may be nil:
// a nil embed/llmTier skips the corresponding stage entirely (useful for a
// rule-based-only run, spec.md §6's `mode=rule_based`), and a nil
// costProjector skips cost projection, leaving req.Mode as the effective
// mode. reporter may be nil, in which case the run emits no metrics or
// trace spans.
func New(registry *collector.Registry, embed *embedding.Tier, llmTier *llm.Tier, led *ledger.Ledger, costProjector *costproject.Projector, cfg Config, logger *logrus.Entry, reporter observability.Reporter) *Orchestrator {
	return &Orchestrator{
		registry:      registry,
		embed:         embed,
		llmTier:       llmTier,
		ledger:        led,
		costProjector: costProjector,
		cfg:           cfg,
		logger:        logger,
		reporter:      reporter,
		bodyLimit:     evidence.MaxBodyLength,
	}
}

// startSpan begins a traced stage if a reporter is configured, returning a
// no-op end function otherwise.
func (o *Orchestrator) startSpan(ctx context.Context, stage string) (context.Context, func()) {
	if o.reporter == nil {
		return ctx, func() {}
	}
	return o.reporter.StartSpan(ctx, stage)
}

// Correlate runs the full pipeline: resolve input, normalize+dedup,
// pre-filter, project cost, embed, adjudicate, score, group, enrich. ctx
// cancellation is checked at every step boundary; a cancelled run returns
// a Cancelled error and a StateCancelled response with no outstanding
// ledger reservations, per spec.md §5 and §8 scenario 6.
func (o *Orchestrator) Correlate(ctx context.Context, req CorrelateRequest) (resp *CorrelateResponse, err error) {
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	resp = &CorrelateResponse{RunID: runID, State: StateNew, StartedAt: time.Now().UTC()}
	logger := o.logger
	if logger != nil {
		logger = logger.WithField("run_id", runID)
	}

	// Only an InvariantViolation ever reaches this boundary (spec.md §9);
	// anything else re-panics rather than being silently swallowed.
	defer func() {
		if r := recover(); r != nil {
			iv, ok := r.(*correrr.InvariantViolation)
			if !ok {
				panic(r)
			}
			resp.State = StateFailed
			resp.FinishedAt = time.Now().UTC()
			o.recordFailure(runID, "invariant_violation")
			if logger != nil {
				logger.WithError(iv).Error("orchestrate: aborting run on invariant violation")
			}
			err = iv
		}
	}()

	startedAt := time.Now()
	if o.reporter != nil {
		ctx = observability.WithRunID(ctx, runID)
	}

	var items []*evidence.Item
	var partials []collector.PartialCollection

	if len(req.Items) > 0 {
		// Step 1: explicit evidence set, no collector adapter runs.
		resp.State = StateCollecting
		items = req.Items
	} else {
		// Step 1: collect via the registry.
		resp.State = StateCollecting
		collectCtx, endCollect := o.startSpan(ctx, "collect")
		report, cerr := o.registry.Collect(collectCtx, req.Person, req.Window)
		endCollect()
		if cerr != nil {
			resp.State = StateFailed
			o.recordFailure(runID, "collect")
			return resp, fmt.Errorf("orchestrate: collect: %w", cerr)
		}
		items = report.Items
		partials = report.Partials
	}
	resp.Partials = partials

	if cerr := o.checkCancellation(ctx, resp, runID); cerr != nil {
		return resp, cerr
	}

	// Step 2: normalize and dedup (evidence.Dedup already ran inside
	// Registry.Collect for the collector path; normalization still needs to
	// happen here since collectors, and callers supplying Items directly,
	// may hand back items with non-UTC timestamps or oversized bodies).
	evidence.NormalizeAll(items, o.bodyLimit)
	items = evidence.Dedup(items)
	resp.Items = items

	itemsByFP := make(map[uint64]*evidence.Item, len(items))
	for _, it := range items {
		itemsByFP[it.Fingerprint()] = it
	}

	// Step 3: rule-based pre-filter (free tier).
	resp.State = StateFiltering
	_, endFilter := o.startSpan(ctx, "prefilter")
	pairs := prefilter.Filter(o.cfg.Prefilter, items)
	endFilter()
	o.recordTier(runID, "prefilter", len(items), len(pairs), 0, 0)

	signals := make(map[evidence.PairID][]scorer.Signal, len(pairs))
	addSignal := func(id evidence.PairID, s scorer.Signal) {
		signals[id] = append(signals[id], s)
	}

	var residual []*evidence.CandidatePair
	for _, p := range pairs {
		if p.HasRule(evidence.RuleExplicitReference) {
			addSignal(p.ID, scorer.Signal{
				Source:   scorer.SourceExplicitReference,
				Strength: 1.0,
				Type:     evidence.RelReferences,
			})
			// Explicit reference is a confident short-circuit; spec.md §4.3
			// skips costed tiers for pairs this rule alone resolves.
			continue
		}
		if p.HasRule(evidence.RuleSameAuthorWindow) || p.HasRule(evidence.RuleTemporalProximity) || p.HasRule(evidence.RuleBranchTicketMatch) {
			addSignal(p.ID, scorer.Signal{
				Source:   scorer.SourceSameAuthorTemporal,
				Strength: temporalStrength(p),
				Type:     evidence.RelSequential,
			})
		}
		if p.HasRule(evidence.RuleTitleNgramOverlap) {
			addSignal(p.ID, scorer.Signal{
				Source:   scorer.SourceNgramOverlap,
				Strength: 0.6,
				Type:     evidence.RelDiscusses,
			})
		}
		residual = append(residual, p)
	}

	if cerr := o.checkCancellation(ctx, resp, runID); cerr != nil {
		return resp, cerr
	}

	// Step 4: cost projection (C11), used to choose mode=auto's effective
	// mode and to enforce any caller-supplied per-run ceiling, honoring
	// caller preference and the ledger's status per spec.md §4.10/§4.11.
	effectiveMode := req.Mode
	if effectiveMode == "" {
		effectiveMode = config.ModeAuto
	}
	degradedByProjection := false
	if o.costProjector != nil && len(residual) > 0 {
		projCtx, endProject := o.startSpan(ctx, "cost_project")
		estimate, perr := o.costProjector.Project(projCtx, residual)
		endProject()
		if perr != nil {
			resp.State = StateFailed
			o.recordFailure(runID, "cost_project")
			return resp, fmt.Errorf("orchestrate: cost projection: %w", perr)
		}
		overRunCeiling := req.MaxCost > 0 && estimate.ProjectedTotal > ledger.FromUSD(req.MaxCost)
		if effectiveMode == config.ModeAuto && (!estimate.WithinBudget || overRunCeiling) {
			effectiveMode = config.ModeRuleBased
			degradedByProjection = true
		}
	}

	if cerr := o.checkCancellation(ctx, resp, runID); cerr != nil {
		return resp, cerr
	}

	// Step 5: embedding tier (cheap paid tier), for whatever the pre-filter
	// did not already resolve via explicit reference. Skipped entirely when
	// the effective mode is rule_based (explicit or cost-downgraded); a
	// caller asking for mode=llm skips straight to adjudication on every
	// residual pair.
	var promoted []*evidence.CandidatePair
	switch effectiveMode {
	case config.ModeRuleBased:
		// Neither costed tier runs: residual pairs are correlated only via
		// whatever pre-filter signals already fired for them, if any.
	case config.ModeLLM:
		promoted = residual
	default:
		if o.embed != nil && len(residual) > 0 {
			resp.State = StateEmbedding
			embedCtx, endEmbed := o.startSpan(ctx, "embedding")
			verdicts, err := o.embed.Run(embedCtx, residual)
			endEmbed()
			if err != nil {
				resp.State = StateFailed
				o.recordFailure(runID, "embedding")
				return resp, fmt.Errorf("orchestrate: embedding: %w", err)
			}
			var accepted, rejected, skipped int
			for _, v := range verdicts {
				switch v.Outcome {
				case embedding.OutcomeAccept:
					addSignal(v.Pair.ID, scorer.Signal{
						Source:   scorer.SourceEmbeddingHigh,
						Strength: v.Confidence,
						Type:     evidence.RelDiscusses,
					})
					accepted++
				case embedding.OutcomePromote:
					promoted = append(promoted, v.Pair)
				case embedding.OutcomeReject:
					rejected++
				case embedding.OutcomeSkipped:
					skipped++
				}
				// OutcomeReject and OutcomeSkipped contribute nothing: the pair
				// stays correlated only via whatever pre-filter signals already
				// fired for it, if any.
			}
			o.recordTier(runID, "embedding", len(residual), accepted, rejected, skipped)
		} else {
			promoted = residual
		}
	}

	if cerr := o.checkCancellation(ctx, resp, runID); cerr != nil {
		return resp, cerr
	}

	// Step 6: LLM tier (expensive paid tier), for the embedding tier's
	// mid-confidence band, or every residual pair under mode=llm. Skipped
	// under mode=rule_based.
	if effectiveMode != config.ModeRuleBased && o.llmTier != nil && len(promoted) > 0 {
		resp.State = StateLLM
		llmCtx, endLLM := o.startSpan(ctx, "llm")
		results, err := o.llmTier.Run(llmCtx, promoted)
		endLLM()
		if err != nil {
			resp.State = StateFailed
			o.recordFailure(runID, "llm")
			return resp, fmt.Errorf("orchestrate: llm: %w", err)
		}
		var accepted, rejected, skipped int
		for _, r := range results {
			switch r.Outcome {
			case llm.OutcomeRelated:
				addSignal(r.Pair.ID, scorer.Signal{
					Source:    scorer.SourceLLMPositive,
					Strength:  r.Confidence,
					Type:      r.Type,
					Rationale: r.Rationale,
				})
				accepted++
			case llm.OutcomeNegative:
				addSignal(r.Pair.ID, scorer.Signal{
					Source:    scorer.SourceLLMNegative,
					Strength:  r.Confidence,
					Rationale: r.Rationale,
				})
				rejected++
			case llm.OutcomeSkipped:
				skipped++
			}
		}
		o.recordTier(runID, "llm", len(promoted), accepted, rejected, skipped)
	}

	if cerr := o.checkCancellation(ctx, resp, runID); cerr != nil {
		return resp, cerr
	}

	// Step 7: confidence scoring.
	resp.State = StateScoring
	byID := make(map[evidence.PairID]*evidence.CandidatePair, len(pairs))
	for _, p := range pairs {
		byID[p.ID] = p
	}
	var relationships []*evidence.Relationship
	for id, sigs := range signals {
		pair, ok := byID[id]
		if !ok {
			continue
		}
		result := scorer.Score(o.cfg.Scorer, sigs)
		if !result.Accepted {
			continue
		}
		rel := scorer.ApplyTo(pair, result)
		if rel.Confidence < 0 || rel.Confidence > 1 {
			// scorer.Score's combination formula guarantees confidence in
			// [0,1] for any valid prior/strength inputs; reaching this
			// means the scorer itself is broken, not that the data is bad.
			correrr.Panic(fmt.Sprintf("relationship %v confidence %f outside [0,1]", rel.Pair, rel.Confidence), nil)
		}
		relationships = append(relationships, rel)
	}
	sortRelationships(relationships)
	resp.Relationships = relationships

	if cerr := o.checkCancellation(ctx, resp, runID); cerr != nil {
		return resp, cerr
	}

	// Step 8: work story grouping.
	resp.State = StateGrouping
	stories := story.Group(o.cfg.Story, relationships)
	resp.Stories = stories

	if cerr := o.checkCancellation(ctx, resp, runID); cerr != nil {
		return resp, cerr
	}

	// Step 9: derived insights.
	resp.State = StateEnriching
	insights := make([]*insight.Insight, 0, len(stories))
	for _, s := range stories {
		insights = append(insights, insight.Compute(o.cfg.Insight, s, itemsByFP))
	}
	resp.Insights = insights

	if o.ledger != nil {
		status, err := o.ledger.Status(ctx)
		if err == nil {
			snap, _ := o.ledger.Snapshot(ctx)
			resp.Budget = BudgetStatus{Status: status, Snapshot: snap}
			if status == ledger.StatusLLMDisabled || status == ledger.StatusWarn || status == ledger.StatusDenied {
				resp.State = StateDegraded
				resp.FinishedAt = time.Now().UTC()
				o.finish(ctx, runID, resp, startedAt)
				return resp, nil
			}
		}
	}

	if degradedByProjection {
		resp.State = StateDegraded
		resp.FinishedAt = time.Now().UTC()
		o.finish(ctx, runID, resp, startedAt)
		return resp, nil
	}

	resp.State = StateDone
	resp.FinishedAt = time.Now().UTC()
	o.finish(ctx, runID, resp, startedAt)
	return resp, nil
}

// checkCancellation returns a *correrr.Cancelled error and marks resp
// StateCancelled when ctx has been cancelled or its deadline exceeded,
// otherwise it returns nil and resp is untouched. Called at every pipeline
// step boundary per spec.md §5/§8 scenario 6; any reservation outstanding
// inside a tier's own Run call is already released by that tier before
// returning, so no additional release is needed here.
func (o *Orchestrator) checkCancellation(ctx context.Context, resp *CorrelateResponse, runID string) error {
	if ctx.Err() == nil {
		return nil
	}
	resp.State = StateCancelled
	resp.FinishedAt = time.Now().UTC()
	o.recordFailure(runID, "cancelled")
	return &correrr.Cancelled{Err: ctx.Err()}
}

// recordTier reports one tier's processing counts to the configured
// Reporter, a no-op when none is set.
func (o *Orchestrator) recordTier(runID, tier string, processed, accepted, rejected, skipped int) {
	if o.reporter == nil {
		return
	}
	o.reporter.RecordTier(runID, observability.TierCount{
		Tier: tier, Processed: processed, Accepted: accepted, Rejected: rejected, Skipped: skipped,
	})
}

// recordFailure reports a named failure category to the configured
// Reporter, a no-op when none is set.
func (o *Orchestrator) recordFailure(runID, category string) {
	if o.reporter != nil {
		o.reporter.RecordFailure(runID, category)
	}
}

// finish emits the completed run report, including the method breakdown
// for every accepted relationship and the ledger's spend snapshot.
func (o *Orchestrator) finish(ctx context.Context, runID string, resp *CorrelateResponse, startedAt time.Time) {
	if o.reporter == nil {
		return
	}
	report := observability.NewRunReport(runID)
	for _, r := range resp.Relationships {
		report.MethodCounts[string(r.Method)]++
	}
	report.TotalWallTime = time.Since(startedAt)
	if resp.Budget.Snapshot.Cap > 0 {
		o.reporter.RecordSpend(runID, observability.SpendBreakdown{
			ActualMicros: int64(resp.Budget.Snapshot.Spent),
		})
		report.Spend.ActualMicros = int64(resp.Budget.Snapshot.Spent)
	}
	o.reporter.Finish(ctx, report)
}

// temporalStrength maps a pair's time delta to a normalized [0,1] strength,
// closer timestamps producing a stronger signal, matching the intuition
// behind spec.md §4.3's same-author-window rule.
func temporalStrength(p *evidence.CandidatePair) float64 {
	const window = 24 * 3600.0 // seconds
	if p.TimeDeltaSeconds >= window {
		return 0.3
	}
	return 0.9 - 0.6*(p.TimeDeltaSeconds/window)
}

// sortRelationships orders relationships by their pair id, matching the
// deterministic ordering spec.md §5 requires of pipeline output.
func sortRelationships(rels []*evidence.Relationship) {
	sort.Slice(rels, func(i, j int) bool {
		if rels[i].Pair.A != rels[j].Pair.A {
			return rels[i].Pair.A < rels[j].Pair.A
		}
		return rels[i].Pair.B < rels[j].Pair.B
	})
}
