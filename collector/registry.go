package collector

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/perfpulse/correlate/evidence"
)

// DefaultAdapterTimeout bounds a single adapter's Collect call, per spec.md
// §4.2's requirement that one slow or hung adapter never stalls a run.
const DefaultAdapterTimeout = 10 * time.Second

// PartialCollection records one adapter's failure during a fan-out run. Its
// presence in a Report means the run proceeded with partial evidence rather
// than aborting, per spec.md §4.2.
type PartialCollection struct {
	Adapter string
	Err     error
}

// Report is the outcome of one Registry.Collect call.
type Report struct {
	Items    []*evidence.Item
	Partials []PartialCollection
}

// Registry holds the set of registered adapters and fans collection out
// across all of them in parallel.
type Registry struct {
	mu         sync.RWMutex
	collectors map[string]Collector
	timeout    time.Duration
	logger     *logrus.Entry
	identity   evidence.IdentityMap
}

// NewRegistry builds an empty Registry with the default per-adapter timeout.
func NewRegistry(logger *logrus.Entry) *Registry {
	return &Registry{
		collectors: make(map[string]Collector),
		timeout:    DefaultAdapterTimeout,
		logger:     logger,
	}
}

// WithIdentityMap attaches an identity resolver: every collected item's
// Author is rewritten from its platform-local handle to the canonical
// evidence.PersonID before prefiltering, so the same person's commits on
// one source and tickets on another bucket together (spec.md §4.1's
// "per-author, cross-source" grouping). A nil map (the default) leaves
// Author as the raw per-source handle.
func (r *Registry) WithIdentityMap(im evidence.IdentityMap) *Registry {
	r.identity = im
	return r
}

// Register adds an adapter, keyed by its Name(). Registering a second
// adapter under the same name replaces the first.
func (r *Registry) Register(c Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collectors[c.Name()] = c
}

// List returns the names of all registered adapters, sorted for
// deterministic output.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthCheck runs Health against every registered adapter and returns the
// results keyed by adapter name.
func (r *Registry) HealthCheck(ctx context.Context) map[string]Health {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Health, len(r.collectors))
	for name, c := range r.collectors {
		out[name] = c.Health(ctx)
	}
	return out
}

// Collect fans Collect() out to every registered adapter in parallel. One
// adapter's error becomes a PartialCollection entry; it never cancels its
// siblings, so a plain errgroup.Group is used here rather than
// errgroup.WithContext, which would propagate cancellation on first error
// and violate the per-adapter isolation spec.md §4.2 requires. The final
// item set is deduplicated by fingerprint (later timestamp wins).
func (r *Registry) Collect(ctx context.Context, person string, window Window) (*Report, error) {
	r.mu.RLock()
	adapters := make([]Collector, 0, len(r.collectors))
	for _, c := range r.collectors {
		adapters = append(adapters, c)
	}
	r.mu.RUnlock()

	var (
		mu       sync.Mutex
		allItems []*evidence.Item
		partials []PartialCollection
		g        errgroup.Group
	)

	for _, c := range adapters {
		c := c
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			items, err := c.Collect(callCtx, person, window)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if r.logger != nil {
					r.logger.WithError(err).WithField("adapter", c.Name()).Warn("collector: adapter failed, continuing with partial collection")
				}
				partials = append(partials, PartialCollection{Adapter: c.Name(), Err: err})
				return nil
			}
			allItems = append(allItems, items...)
			return nil
		})
	}

	// g.Wait() cannot itself return an error since every goroutine above
	// swallows its error into partials; the check remains for forward
	// compatibility with a future fatal (non-adapter) failure mode.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if r.identity != nil {
		for _, it := range allItems {
			if person, ok := r.identity.Resolve(it.Source, it.Author); ok {
				it.Author = string(person)
			}
		}
	}

	return &Report{
		Items:    evidence.Dedup(allItems),
		Partials: partials,
	}, nil
}
