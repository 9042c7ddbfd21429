// Package ledger implements the monthly AI-spend budget ledger (C6):
// atomic reservation/commit accounting, the degradation ladder, and
// monthly rollover, per spec.md §4.6.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/perfpulse/correlate/correrr"
	"github.com/perfpulse/correlate/store"
)

// Micros is a fixed-point monetary amount in micro-dollars (1e-6 USD), so
// spend accounting never loses precision to float rounding.
type Micros int64

// FromUSD converts a float dollar amount to Micros.
func FromUSD(usd float64) Micros { return Micros(usd * 1_000_000) }

// USD converts Micros back to a float dollar amount for display.
func (m Micros) USD() float64 { return float64(m) / 1_000_000 }

// Counters tracks the raw usage counters spec.md §3 lists for a ledger entry.
type Counters struct {
	EmbeddingTokens   int64
	EmbeddingRequests int64
	LLMTokens         int64
	LLMRequests       int64
}

// Entry is one month's ledger record, keyed by "YYYYMM".
type Entry struct {
	Month        string `json:"month"`
	SpentMicros  Micros `json:"spent_micros"`
	ReservedMicros Micros `json:"reserved_micros"`
	CapMicros    Micros `json:"cap_micros"`
	Counters     Counters `json:"counters"`
}

// Config configures degradation-ladder thresholds (spec.md §4.6) and the
// monthly cap.
type Config struct {
	CapMicros Micros
	// WarnThreshold, DisableLLMThreshold, DenyThreshold are fractions of
	// CapMicros at which the ladder steps down. Defaults 0.75/0.90/1.00.
	WarnThreshold       float64
	DisableLLMThreshold float64
	DenyThreshold       float64
}

// DefaultConfig returns the ladder from spec.md §4.6.
func DefaultConfig(capUSD float64) Config {
	return Config{
		CapMicros:           FromUSD(capUSD),
		WarnThreshold:       0.75,
		DisableLLMThreshold: 0.90,
		DenyThreshold:       1.00,
	}
}

// Status summarizes where the ladder sits relative to spend.
type Status int

const (
	StatusOK Status = iota
	StatusWarn
	StatusLLMDisabled
	StatusDenied
)

// Clock abstracts time.Now for deterministic tests, per spec.md §9's
// "Global singletons → injected collaborators" design note.
type Clock func() time.Time

// Handle identifies an outstanding reservation, returned by Reserve and
// consumed by exactly one of Commit or Release.
type Handle struct {
	Month  string
	Amount Micros
}

// Ledger is the single source of truth for monthly AI spend, per spec.md
// §4.6: "every paid operation goes through reserve→(commit|release)."
type Ledger struct {
	mu     sync.Mutex
	store  store.KV
	clock  Clock
	cfg    Config
	logger *logrus.Entry

	current *Entry
}

// New builds a Ledger backed by kv for persistence (spec.md §6's "Ledger
// as one JSON document per month").
func New(kv store.KV, cfg Config, clock Clock, logger *logrus.Entry) *Ledger {
	if clock == nil {
		clock = time.Now
	}
	return &Ledger{store: kv, clock: clock, cfg: cfg, logger: logger}
}

func monthKey(t time.Time) string {
	return t.UTC().Format("200601")
}

func ledgerKey(month string) string { return "ledger:" + month }

// ensureCurrent loads (or rolls over into) the entry for the current UTC
// month. Must be called with mu held.
func (l *Ledger) ensureCurrent(ctx context.Context) error {
	month := monthKey(l.clock())
	if l.current != nil && l.current.Month == month {
		return nil
	}

	var entry Entry
	ok, err := l.store.GetJSON(ctx, ledgerKey(month), &entry)
	if err != nil {
		return fmt.Errorf("ledger: load month %s: %w", month, err)
	}
	if !ok {
		entry = Entry{Month: month, CapMicros: l.cfg.CapMicros}
		if l.logger != nil {
			l.logger.WithField("month", month).Info("ledger: opened fresh monthly record")
		}
	}
	l.current = &entry
	return nil
}

func (l *Ledger) persist(ctx context.Context) error {
	if err := l.store.PutJSON(ctx, ledgerKey(l.current.Month), l.current); err != nil {
		return fmt.Errorf("ledger: persist month %s: %w", l.current.Month, err)
	}
	return nil
}

// fractionUsedLocked returns spent+reserved as a fraction of cap. Must be
// called with mu held and current loaded.
func (l *Ledger) fractionUsedLocked() float64 {
	if l.current.CapMicros <= 0 {
		return 1.0
	}
	used := l.current.SpentMicros + l.current.ReservedMicros
	return float64(used) / float64(l.current.CapMicros)
}

// statusLocked computes the degradation-ladder status. Must be called with
// mu held and current loaded.
func (l *Ledger) statusLocked() Status {
	frac := l.fractionUsedLocked()
	switch {
	case frac >= l.cfg.DenyThreshold:
		return StatusDenied
	case frac >= l.cfg.DisableLLMThreshold:
		return StatusLLMDisabled
	case frac >= l.cfg.WarnThreshold:
		return StatusWarn
	default:
		return StatusOK
	}
}

// Status reports the current degradation-ladder status.
func (l *Ledger) Status(ctx context.Context) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureCurrent(ctx); err != nil {
		return StatusDenied, err
	}
	return l.statusLocked(), nil
}

// Project reports whether a proposed cost would be accepted without
// actually reserving it, per spec.md §4.6's `project(cost) → ok | deny`.
func (l *Ledger) Project(ctx context.Context, cost Micros) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureCurrent(ctx); err != nil {
		return false, err
	}
	projected := l.current.SpentMicros + l.current.ReservedMicros + cost
	return projected <= l.current.CapMicros, nil
}

// ErrBudgetDenied is returned by Reserve when the reservation would exceed
// the monthly cap.
type ErrBudgetDenied struct {
	Requested Micros
	Available Micros
}

func (e *ErrBudgetDenied) Error() string {
	return fmt.Sprintf("budget denied: requested %d micros, only %d available", e.Requested, e.Available)
}

// Code implements correrr.CorrError.
func (e *ErrBudgetDenied) Code() correrr.Code { return correrr.CodeBudgetDenied }

func (e *ErrBudgetDenied) Unwrap() error { return nil }

var _ correrr.CorrError = (*ErrBudgetDenied)(nil)

// Reserve atomically reserves cost against the current month, returning a
// Handle the caller must later Commit or Release exactly once. Per
// spec.md §4.6's invariant, the critical section performs only O(1) work.
func (l *Ledger) Reserve(ctx context.Context, cost Micros) (*Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureCurrent(ctx); err != nil {
		return nil, err
	}

	available := l.current.CapMicros - l.current.SpentMicros - l.current.ReservedMicros
	if cost > available {
		return nil, &ErrBudgetDenied{Requested: cost, Available: available}
	}

	l.current.ReservedMicros += cost
	if err := l.persist(ctx); err != nil {
		l.current.ReservedMicros -= cost
		return nil, err
	}
	return &Handle{Month: l.current.Month, Amount: cost}, nil
}

// Commit converts a reservation into actual spend. actualCost may differ
// from the reserved amount (e.g. a provider billed fewer tokens than
// estimated); the difference is settled against ReservedMicros and
// SpentMicros atomically.
func (l *Ledger) Commit(ctx context.Context, h *Handle, actualCost Micros, delta Counters) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureCurrent(ctx); err != nil {
		return err
	}
	if h.Month != l.current.Month {
		// The reservation was made in a prior month that has since rolled
		// over; the reservation no longer exists to release, so only the
		// actual spend needs recording against the current month.
		l.current.SpentMicros += actualCost
	} else {
		l.current.ReservedMicros -= h.Amount
		if l.current.ReservedMicros < 0 {
			l.current.ReservedMicros = 0
		}
		l.current.SpentMicros += actualCost
	}
	l.current.Counters.EmbeddingTokens += delta.EmbeddingTokens
	l.current.Counters.EmbeddingRequests += delta.EmbeddingRequests
	l.current.Counters.LLMTokens += delta.LLMTokens
	l.current.Counters.LLMRequests += delta.LLMRequests
	return l.persist(ctx)
}

// Release returns a reservation to the pool without recording any spend,
// per spec.md §4.6: "a reservation that is not committed must be released."
func (l *Ledger) Release(ctx context.Context, h *Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureCurrent(ctx); err != nil {
		return err
	}
	if h.Month != l.current.Month {
		return nil // prior month already rolled over; nothing to release
	}
	l.current.ReservedMicros -= h.Amount
	if l.current.ReservedMicros < 0 {
		l.current.ReservedMicros = 0
	}
	return l.persist(ctx)
}

// Snapshot is the read-only view spec.md §4.6's `snapshot()` returns.
type Snapshot struct {
	Month    string
	Spent    Micros
	Reserved Micros
	Cap      Micros
	Counters Counters
	Status   Status
}

// Snapshot returns the current ledger state.
func (l *Ledger) Snapshot(ctx context.Context) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureCurrent(ctx); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Month:    l.current.Month,
		Spent:    l.current.SpentMicros,
		Reserved: l.current.ReservedMicros,
		Cap:      l.current.CapMicros,
		Counters: l.current.Counters,
		Status:   l.statusLocked(),
	}, nil
}
