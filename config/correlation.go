package config

import "time"

// Mode selects how a correlation run is allowed to spend money.
type Mode string

const (
	ModeAuto      Mode = "auto"
	ModeLLM       Mode = "llm"
	ModeRuleBased Mode = "rule_based"
)

// Thresholds holds every tunable acceptance threshold spec.md documents as
// configuration rather than a hardcoded constant (see spec.md §9, Open
// Questions: "multiple acceptance thresholds... exposed here as
// configuration").
type Thresholds struct {
	// EmbeddingHigh (θ_high) is the cosine similarity above which an
	// embedding-tier pair is accepted outright. Default 0.82.
	EmbeddingHigh float64
	// EmbeddingLow (θ_low) is the cosine similarity below which a pair is
	// rejected outright; between Low and High it is promoted to the LLM
	// tier (budget permitting). Default 0.55.
	EmbeddingLow float64
	// StoryGroup (τ_group) is the minimum relationship confidence an edge
	// must carry to participate in story grouping. Default 0.55.
	StoryGroup float64
	// RelationshipAccept (τ_rel) is the minimum calibrated confidence a
	// pair must reach to be kept as a relationship at all. Default 0.50.
	RelationshipAccept float64
	// NgramOverlap (θ_ngram) is the minimum Jaccard similarity on title
	// 3-grams for the pre-filter's n-gram overlap rule to fire. Default 0.35.
	NgramOverlap float64
}

// DefaultThresholds returns the production defaults named in spec.md §4.3,
// §4.4, §4.7, and §4.8.
func DefaultThresholds() Thresholds {
	return Thresholds{
		EmbeddingHigh:      0.82,
		EmbeddingLow:       0.55,
		StoryGroup:         0.55,
		RelationshipAccept: 0.50,
		NgramOverlap:       0.35,
	}
}

// Pricing holds the per-unit costs the Budget Ledger and Cost Projector
// use to translate token/request counts into monetary spend.
type Pricing struct {
	EmbedUnitPricePer1K float64 // CORR_EMBED_UNIT_PRICE
	LLMInputPricePer1K  float64 // CORR_LLM_INPUT_PRICE
	LLMOutputPricePer1K float64 // CORR_LLM_OUTPUT_PRICE
}

// Correlation is the full set of knobs spec.md §6 names as environment
// variables, plus the threshold configuration spec.md §9 leaves open.
type Correlation struct {
	MonthlyBudgetUSD float64
	Pricing          Pricing
	RunDeadline      time.Duration
	EmbedWorkers     int
	LLMWorkers       int
	CacheDir         string
	Thresholds       Thresholds
}

// Load reads a Correlation configuration from the process environment,
// applying the defaults spec.md documents wherever a variable is unset.
func Load() Correlation {
	env := NewEnvConfig("CORR")
	return Correlation{
		MonthlyBudgetUSD: env.GetFloat("MONTHLY_BUDGET_USD", 15.0),
		Pricing: Pricing{
			EmbedUnitPricePer1K: env.GetFloat("EMBED_UNIT_PRICE", 0.0001),
			LLMInputPricePer1K:  env.GetFloat("LLM_INPUT_PRICE", 0.003),
			LLMOutputPricePer1K: env.GetFloat("LLM_OUTPUT_PRICE", 0.015),
		},
		RunDeadline:  time.Duration(env.GetInt("RUN_DEADLINE_MS", 30000)) * time.Millisecond,
		EmbedWorkers: env.GetInt("EMBED_WORKERS", 4),
		LLMWorkers:   env.GetInt("LLM_WORKERS", 2),
		CacheDir:     env.GetString("CACHE_DIR", "./.correlate-cache"),
		Thresholds: Thresholds{
			EmbeddingHigh:      env.GetFloat("THETA_HIGH", 0.82),
			EmbeddingLow:       env.GetFloat("THETA_LOW", 0.55),
			StoryGroup:         env.GetFloat("TAU_GROUP", 0.55),
			RelationshipAccept: env.GetFloat("TAU_REL", 0.50),
			NgramOverlap:       env.GetFloat("NGRAM_THETA", 0.35),
		},
	}
}

// Validate checks the configuration is internally consistent, returning a
// single aggregated error describing every problem found.
func (c Correlation) Validate() error {
	v := NewValidator()
	v.RequireNonNegativeFloat("MonthlyBudgetUSD", c.MonthlyBudgetUSD)
	v.RequirePositiveInt("EmbedWorkers", c.EmbedWorkers)
	v.RequirePositiveInt("LLMWorkers", c.LLMWorkers)
	if c.Thresholds.EmbeddingLow > c.Thresholds.EmbeddingHigh {
		v.errors = append(v.errors, "Thresholds.EmbeddingLow must not exceed Thresholds.EmbeddingHigh")
	}
	return v.Validate()
}
