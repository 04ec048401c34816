package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type EventType string

const (
	EventProbeCompleted EventType = "probe_completed"
	EventSweepCompleted EventType = "sweep_completed"
	EventAccountsReaped EventType = "accounts_reaped"
	EventSessionsPruned EventType = "sessions_pruned"
	EventTargetRemoved  EventType = "target_removed"
)

type Event struct {
	Type      EventType
	Timestamp time.Time
	// AccountID and Target identify the probed or removed target.
	AccountID string
	Target    string
	Duration  time.Duration
	Success   bool
	Count     int
	// AccountIDs lists the accounts removed by a reaper run.
	AccountIDs []string
}

type Collector struct {
	eventCh chan Event
	metrics *Metrics
	logger  *slog.Logger

	probes        *prometheus.CounterVec
	probeDuration prometheus.Histogram
	sweeps        prometheus.Counter
	sweepDuration prometheus.Histogram
	reaped        prometheus.Counter
	pruned        prometheus.Counter
}

// NewCollector creates a collector whose Prometheus instruments are
// registered on reg. A nil reg skips registration.
func NewCollector(bufferSize int, logger *slog.Logger, reg prometheus.Registerer) *Collector {
	c := &Collector{
		eventCh: make(chan Event, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,

		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pinger",
			Subsystem: "sweep",
			Name:      "probes_total",
			Help:      "Probes performed, by result",
		}, []string{"result"}),
		probeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pinger",
			Subsystem: "sweep",
			Name:      "probe_duration_seconds",
			Help:      "Wall-clock duration of single probes",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 11),
		}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pinger",
			Subsystem: "sweep",
			Name:      "ticks_total",
			Help:      "Completed sweep ticks",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pinger",
			Subsystem: "sweep",
			Name:      "tick_duration_seconds",
			Help:      "Duration of complete sweep ticks",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pinger",
			Subsystem: "reaper",
			Name:      "accounts_removed_total",
			Help:      "Accounts removed for inactivity",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pinger",
			Subsystem: "reaper",
			Name:      "sessions_pruned_total",
			Help:      "Sessions removed because their account was reaped",
		}),
	}

	if reg != nil {
		reg.MustRegister(c.probes, c.probeDuration, c.sweeps, c.sweepDuration, c.reaped, c.pruned)
	}

	return c
}

// Emit queues an event without blocking. Events are dropped when the buffer
// is full. A nil collector ignores events.
func (c *Collector) Emit(event Event) {
	if c == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event Event) {
	switch event.Type {
	case EventProbeCompleted:
		c.metrics.RecordProbe(event.AccountID, event.Target, event.Duration, event.Success)
		result := "ok"
		if !event.Success {
			result = "error"
		}
		c.probes.WithLabelValues(result).Inc()
		c.probeDuration.Observe(event.Duration.Seconds())

	case EventSweepCompleted:
		c.metrics.RecordSweep(event.Duration, event.Count)
		c.sweeps.Inc()
		c.sweepDuration.Observe(event.Duration.Seconds())

	case EventAccountsReaped:
		c.metrics.AddReaped(event.Count)
		for _, id := range event.AccountIDs {
			c.metrics.ForgetAccount(id)
		}
		c.reaped.Add(float64(event.Count))

	case EventSessionsPruned:
		c.metrics.AddPruned(event.Count)
		c.pruned.Add(float64(event.Count))

	case EventTargetRemoved:
		c.metrics.Forget(event.AccountID, event.Target)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}

// TargetStats returns per-target metrics for one account. A nil collector
// reports nothing.
func (c *Collector) TargetStats(accountID string) map[string]TargetMetrics {
	if c == nil {
		return map[string]TargetMetrics{}
	}
	return c.metrics.AccountSnapshot(accountID)
}
