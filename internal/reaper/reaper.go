package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/angeloszaimis/pinger/internal/accounts"
	"github.com/angeloszaimis/pinger/internal/metrics"
	"github.com/angeloszaimis/pinger/internal/session"
)

const (
	DefaultInterval  = time.Hour
	DefaultRetention = 48 * time.Hour
)

// Options tunes a Reaper.
type Options struct {
	Interval  time.Duration
	Retention time.Duration
	Now       func() time.Time
}

// Reaper deletes inactive accounts on a fixed period.
type Reaper struct {
	accounts  *accounts.Store
	sessions  *session.Store
	collector *metrics.Collector
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

// New creates a Reaper. collector may be nil.
func New(store *accounts.Store, sessions *session.Store, opts Options, collector *metrics.Collector, logger *slog.Logger) *Reaper {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Reaper{
		accounts:  store,
		sessions:  sessions,
		collector: collector,
		logger:    logger.With(slog.String("component", "reaper")),
		interval:  opts.Interval,
		retention: opts.Retention,
		now:       opts.Now,
	}
}

// Run reaps every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Account reaper started",
		slog.Duration("interval", r.interval),
		slog.Duration("retention", r.retention))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Account reaper stopped")
			return

		case <-ticker.C:
			r.Tick()
		}
	}
}

// Tick removes accounts last authenticated strictly before now minus the
// retention window. When anything was removed it flushes the store and
// prunes orphaned sessions; otherwise it does nothing. It returns the number
// of removed accounts.
func (r *Reaper) Tick() int {
	cutoff := r.now().Add(-r.retention)

	removed := r.accounts.RemoveInactive(cutoff)
	if len(removed) == 0 {
		return 0
	}

	if err := r.accounts.Flush(); err != nil {
		r.logger.Warn("Failed to persist accounts after reaping", slog.Any("err", err))
	}

	pruned := r.sessions.Prune(r.accounts.Exists)

	r.logger.Info("Reaped inactive accounts",
		slog.Int("accounts", len(removed)),
		slog.Int("sessions", pruned),
		slog.Time("cutoff", cutoff))

	r.collector.Emit(metrics.Event{Type: metrics.EventAccountsReaped, Count: len(removed), AccountIDs: removed})
	if pruned > 0 {
		r.collector.Emit(metrics.Event{Type: metrics.EventSessionsPruned, Count: pruned})
	}

	return len(removed)
}
