package ledger

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// RolloverWatchdog proactively touches the ledger shortly after each UTC
// month boundary, supplementing (not replacing) the lazy first-access
// rollover Reserve/Commit/Release/Status already perform. Each tick loads
// (or opens) the current month's entry and persists it, so a new month's
// entry exists in the store even during a quiet period with no correlation
// runs. The previous month's entry is not rewritten by the tick; every
// Reserve/Commit/Release already persisted it.
type RolloverWatchdog struct {
	ledger *Ledger
	cron   *cron.Cron
	logger *logrus.Entry
}

// NewRolloverWatchdog schedules a check at one minute past every UTC
// midnight; ensureCurrent's own month-key comparison makes the check a
// no-op on every day but the first of the month.
func NewRolloverWatchdog(led *Ledger, logger *logrus.Entry) *RolloverWatchdog {
	c := cron.New(cron.WithLocation(time.UTC))
	w := &RolloverWatchdog{ledger: led, cron: c, logger: logger}
	_, _ = c.AddFunc("1 0 * * *", w.tick)
	return w
}

func (w *RolloverWatchdog) tick() {
	ctx := context.Background()
	w.ledger.mu.Lock()
	defer w.ledger.mu.Unlock()
	if err := w.ledger.ensureCurrent(ctx); err != nil {
		if w.logger != nil {
			w.logger.WithError(err).Warn("ledger: rollover watchdog tick failed")
		}
		return
	}
	if err := w.ledger.persist(ctx); err != nil && w.logger != nil {
		w.logger.WithError(err).Warn("ledger: rollover watchdog persist failed")
	}
}

// Start begins the watchdog's background schedule.
func (w *RolloverWatchdog) Start() { w.cron.Start() }

// Stop halts the watchdog, waiting for any in-flight tick to finish.
func (w *RolloverWatchdog) Stop() { <-w.cron.Stop().Done() }
