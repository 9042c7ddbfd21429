package cli

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/perfpulse/correlate/collector"
	"github.com/perfpulse/correlate/config"
	"github.com/perfpulse/correlate/costproject"
	"github.com/perfpulse/correlate/embedding"
	"github.com/perfpulse/correlate/identity"
	"github.com/perfpulse/correlate/ledger"
	"github.com/perfpulse/correlate/llm"
	"github.com/perfpulse/correlate/observability"
	"github.com/perfpulse/correlate/orchestrate"
	"github.com/perfpulse/correlate/store"
)

// environment bundles every long-lived dependency one command invocation
// needs, so run/budget/replay share a single construction path instead of
// each hand-rolling it.
type environment struct {
	logger *logrus.Entry
	kv     store.KV
	ledger *ledger.Ledger
	closer []func() error
}

func (e *environment) Close() {
	for _, c := range e.closer {
		_ = c()
	}
}

// buildEnvironment opens the bolt-backed store and ledger shared by every
// subcommand. CORR_STORE_PATH defaults to "./.corr-store.db".
func buildEnvironment(cfg config.Correlation, logger *logrus.Logger) (*environment, error) {
	env := config.NewEnvConfig("CORR")
	storePath := env.GetString("STORE_PATH", "./.corr-store.db")

	kv, err := store.OpenBoltKV(storePath)
	if err != nil {
		return nil, fmt.Errorf("cli: open store: %w", err)
	}

	led := ledger.New(kv, ledger.DefaultConfig(cfg.MonthlyBudgetUSD), nil, logger.WithField("component", "ledger"))

	return &environment{
		logger: logger.WithField("component", "cli"),
		kv:     kv,
		ledger: led,
		closer: []func() error{kv.Close},
	}, nil
}

// buildRegistry registers every configured collector adapter. A source is
// skipped (not an error) when its required environment variables are
// absent, so operators can run corr against whichever subset of platforms
// they have credentials for.
func buildRegistry(parent *environment) *collector.Registry {
	logger := parent.logger
	env := config.NewEnvConfig("CORR")
	reg := collector.NewRegistry(logger)

	if url := env.GetString("GITEA_URL", ""); url != "" {
		c, err := collector.NewGiteaCollector(collector.GiteaConfig{
			URL:   url,
			Token: env.GetString("GITEA_TOKEN", ""),
			Repos: env.GetStringSlice("GITEA_REPOS", nil),
		})
		if err != nil {
			logger.WithError(err).Warn("cli: gitea collector not registered")
		} else {
			reg.Register(c)
		}
	}

	if url := env.GetString("GITLAB_URL", ""); url != "" {
		c, err := collector.NewGitlabCollector(collector.GitlabConfig{
			URL:      url,
			Token:    env.GetString("GITLAB_TOKEN", ""),
			Projects: env.GetStringSlice("GITLAB_PROJECTS", nil),
		})
		if err != nil {
			logger.WithError(err).Warn("cli: gitlab collector not registered")
		} else {
			reg.Register(c)
		}
	}

	if tenant := env.GetString("TEAMS_TENANT_ID", ""); tenant != "" {
		c, err := collector.NewTeamsCollector(collector.TeamsConfig{
			TenantID:     tenant,
			ClientID:     env.GetString("TEAMS_CLIENT_ID", ""),
			ClientSecret: env.GetString("TEAMS_CLIENT_SECRET", ""),
		})
		if err != nil {
			logger.WithError(err).Warn("cli: teams collector not registered")
		} else {
			reg.Register(c)
		}
	}

	if dbPath := env.GetString("IDENTITY_DB_PATH", ""); dbPath != "" {
		im, err := identity.Open(identity.Config{DBPath: dbPath})
		if err != nil {
			logger.WithError(err).Warn("cli: identity map not loaded, falling back to raw per-source handles")
		} else {
			reg.WithIdentityMap(im)
			parent.closer = append(parent.closer, im.Close)
		}
	}

	return reg
}

// buildEmbeddingTier constructs the embedding tier when CORR_EMBED_PROVIDER_URL
// is configured; otherwise it returns nil and the orchestrator skips the
// stage entirely (rule-based-only correlation).
func buildEmbeddingTier(cfg config.Correlation, parent *environment) (*embedding.Tier, error) {
	env := config.NewEnvConfig("CORR")
	url := env.GetString("EMBED_PROVIDER_URL", "")
	if url == "" {
		return nil, nil
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = "./.correlate-cache"
	}
	cache, err := store.OpenBoltCache(filepath.Join(cacheDir, "embeddings.db"))
	if err != nil {
		return nil, fmt.Errorf("cli: open embedding cache: %w", err)
	}
	parent.closer = append(parent.closer, cache.Close)

	provider := embedding.NewHTTPProvider(url, env.GetString("EMBED_PROVIDER_API_KEY", ""), env.GetString("EMBED_PROVIDER_MODEL", "text-embedding-3-small"))

	embedCfg := embedding.DefaultConfig()
	embedCfg.Thresholds = cfg.Thresholds
	embedCfg.Pricing = cfg.Pricing
	embedCfg.Workers = cfg.EmbedWorkers

	return embedding.New(provider, cache, parent.ledger, embedCfg, parent.logger), nil
}

// buildLLMTier constructs the LLM tier when CORR_LLM_PROVIDER_URL is
// configured; otherwise it returns nil and the orchestrator skips
// adjudication entirely.
func buildLLMTier(cfg config.Correlation, led *ledger.Ledger, logger *logrus.Entry) *llm.Tier {
	env := config.NewEnvConfig("CORR")
	url := env.GetString("LLM_PROVIDER_URL", "")
	if url == "" {
		return nil
	}

	provider := llm.NewHTTPProvider(url, env.GetString("LLM_PROVIDER_API_KEY", ""), env.GetString("LLM_PROVIDER_MODEL", "gpt-4o-mini"))

	llmCfg := llm.DefaultConfig()
	llmCfg.Pricing = cfg.Pricing
	llmCfg.Workers = cfg.LLMWorkers

	return llm.New(provider, led, llmCfg, logger)
}

// buildObservability wires a Prometheus+OpenTelemetry Reporter, unless
// CORR_DISABLE_METRICS is set (useful for short-lived CLI invocations that
// don't want to pay registration cost twice across retries).
func buildObservability(logger *logrus.Entry) observability.Reporter {
	env := config.NewEnvConfig("CORR")
	if env.GetBool("DISABLE_METRICS", false) {
		return nil
	}
	tracer := observability.NewOtelTracer(observability.DefaultTracerConfig())
	return observability.NewMetricsReporter(nil, tracer)
}

func buildOrchestrator(cfg config.Correlation, env *environment, reg *collector.Registry, embed *embedding.Tier, llmTier *llm.Tier, reporter observability.Reporter) *orchestrate.Orchestrator {
	cpCfg := costproject.DefaultConfig()
	cpCfg.Pricing = cfg.Pricing
	costProjector := costproject.New(env.kv, cpCfg, env.ledger)

	return orchestrate.New(reg, embed, llmTier, env.ledger, costProjector, orchestrate.DefaultConfig(), env.logger, reporter)
}

// buildTiersForMode constructs the embedding and LLM tiers honoring --mode:
// rule-based runs skip both remote tiers entirely so a pure rules-only
// invocation never reserves budget or calls out to a provider.
func buildTiersForMode(cfg config.Correlation, env *environment, mode config.Mode) (*embedding.Tier, *llm.Tier, error) {
	if mode == config.ModeRuleBased {
		return nil, nil, nil
	}

	embedTier, err := buildEmbeddingTier(cfg, env)
	if err != nil {
		return nil, nil, err
	}

	llmTier := buildLLMTier(cfg, env.ledger, env.logger)
	return embedTier, llmTier, nil
}
