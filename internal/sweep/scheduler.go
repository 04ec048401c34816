package sweep

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/pinger/internal/accounts"
	"github.com/angeloszaimis/pinger/internal/metrics"
	"github.com/angeloszaimis/pinger/internal/model"
	"github.com/angeloszaimis/pinger/internal/prober"
)

const DefaultInterval = 3 * time.Second

// Options tunes a Scheduler.
type Options struct {
	Interval time.Duration
	// Concurrency is how many accounts are swept at once. Targets of one
	// account are always probed one after another.
	Concurrency int
	// Now overrides the clock used for check instants.
	Now func() time.Time
}

// Result summarizes one sweep.
type Result struct {
	Accounts int
	Targets  int
	Failures int
	Duration time.Duration
}

// Scheduler probes every target of every account on a fixed period.
type Scheduler struct {
	store       *accounts.Store
	prober      prober.Prober
	collector   *metrics.Collector
	logger      *slog.Logger
	interval    time.Duration
	concurrency int
	now         func() time.Time

	tickMutex   sync.Mutex
	accountLock *keyedMutex
}

// New creates a Scheduler. collector may be nil.
func New(store *accounts.Store, p prober.Prober, opts Options, collector *metrics.Collector, logger *slog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Scheduler{
		store:       store,
		prober:      p,
		collector:   collector,
		logger:      logger.With(slog.String("component", "sweep")),
		interval:    opts.Interval,
		concurrency: opts.Concurrency,
		now:         opts.Now,
		accountLock: newKeyedMutex(),
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Sweep scheduler started",
		slog.Duration("interval", s.interval),
		slog.Int("concurrency", s.concurrency))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sweep scheduler stopped")
			return

		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one full sweep and then flushes the account store once.
func (s *Scheduler) Tick(ctx context.Context) Result {
	s.tickMutex.Lock()
	defer s.tickMutex.Unlock()

	start := time.Now()
	snapshot := s.store.Snapshot()

	var targets, failures atomic.Int64

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for _, a := range snapshot {
		g.Go(func() error {
			probed, failed := s.sweepAccount(ctx, a.ID, a.Targets)
			targets.Add(int64(probed))
			failures.Add(int64(failed))
			return nil
		})
	}
	_ = g.Wait()

	s.flush()

	res := Result{
		Accounts: len(snapshot),
		Targets:  int(targets.Load()),
		Failures: int(failures.Load()),
		Duration: time.Since(start),
	}

	if res.Duration > s.interval {
		s.logger.Warn("Sweep overran its interval",
			slog.Duration("took", res.Duration),
			slog.Duration("interval", s.interval))
	}
	s.logger.Debug("Sweep completed",
		slog.Int("accounts", res.Accounts),
		slog.Int("targets", res.Targets),
		slog.Int("failures", res.Failures),
		slog.Duration("took", res.Duration))

	s.collector.Emit(metrics.Event{
		Type:     metrics.EventSweepCompleted,
		Duration: res.Duration,
		Count:    res.Targets,
	})

	return res
}

// PingAccount sweeps a single account right away and flushes afterwards.
func (s *Scheduler) PingAccount(ctx context.Context, accountID string) (Result, error) {
	a, ok := s.store.Get(accountID)
	if !ok {
		return Result{}, accounts.ErrNotFound
	}

	start := time.Now()
	probed, failed := s.sweepAccount(ctx, a.ID, a.Targets)
	s.flush()

	return Result{
		Accounts: 1,
		Targets:  probed,
		Failures: failed,
		Duration: time.Since(start),
	}, nil
}

// sweepAccount probes targets in order while holding the account's sweep
// lock. The store lock is only taken for each outcome write.
func (s *Scheduler) sweepAccount(ctx context.Context, accountID string, targets []model.Target) (probed, failed int) {
	unlock := s.accountLock.Lock(accountID)
	defer unlock()

	for _, t := range targets {
		if ctx.Err() != nil {
			return probed, failed
		}

		outcome := s.prober.Probe(ctx, t.URL)
		if !s.store.RecordOutcome(accountID, t.URL, outcome, s.now()) {
			// account reaped or target removed mid-sweep
			continue
		}

		probed++
		if !outcome.Success {
			failed++
		}

		s.collector.Emit(metrics.Event{
			Type:      metrics.EventProbeCompleted,
			AccountID: accountID,
			Target:    t.URL,
			Duration:  outcome.Elapsed,
			Success:   outcome.Success,
		})
	}

	return probed, failed
}

func (s *Scheduler) flush() {
	if err := s.store.Flush(); err != nil {
		s.logger.Warn("Failed to persist accounts after sweep", slog.Any("err", err))
	}
}
