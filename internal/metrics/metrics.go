package metrics

import (
	"sort"
	"sync"
	"time"
)

// maxSamples bounds the latency history kept per target.
const maxSamples = 1000

// targetKey identifies one account's target. Two accounts watching the same
// URL have separate entries.
type targetKey struct {
	account string
	url     string
}

type targetStats struct {
	probes        int64
	failures      int64
	up            bool
	responseTimes []time.Duration
}

type Metrics struct {
	mutex         sync.RWMutex
	targets       map[targetKey]*targetStats
	sweeps        int64
	lastSweep     time.Duration
	lastSweepSize int
	reaped        int64
	pruned        int64
	startTime     time.Time
}

// Snapshot holds process-wide aggregates only. Target URLs belong to
// accounts and are reported per account by AccountSnapshot.
type Snapshot struct {
	TotalProbes      int64         `json:"total_probes"`
	TotalFailures    int64         `json:"total_failures"`
	TargetsTracked   int           `json:"targets_tracked"`
	TargetsUp        int           `json:"targets_up"`
	Sweeps           int64         `json:"sweeps"`
	LastSweep        time.Duration `json:"last_sweep"`
	LastSweepTargets int           `json:"last_sweep_targets"`
	AccountsReaped   int64         `json:"accounts_reaped"`
	SessionsPruned   int64         `json:"sessions_pruned"`
	Uptime           time.Duration `json:"uptime"`
}

type TargetMetrics struct {
	Probes      int64         `json:"probes"`
	Failures    int64         `json:"failures"`
	Up          bool          `json:"up"`
	AvgResponse time.Duration `json:"avg_response"`
	P50Response time.Duration `json:"p50_response"`
	P95Response time.Duration `json:"p95_response"`
	P99Response time.Duration `json:"p99_response"`
}

func (m *Metrics) RecordProbe(accountID, target string, duration time.Duration, success bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	key := targetKey{account: accountID, url: target}
	ts, ok := m.targets[key]
	if !ok {
		ts = &targetStats{}
		m.targets[key] = ts
	}

	ts.probes++
	if !success {
		ts.failures++
	}
	ts.up = success

	ts.responseTimes = append(ts.responseTimes, duration)
	if len(ts.responseTimes) > maxSamples {
		ts.responseTimes = ts.responseTimes[1:]
	}
}

func (m *Metrics) RecordSweep(duration time.Duration, targets int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sweeps++
	m.lastSweep = duration
	m.lastSweepSize = targets
}

func (m *Metrics) AddReaped(n int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.reaped += int64(n)
}

func (m *Metrics) AddPruned(n int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.pruned += int64(n)
}

// Forget drops the history of one account's target.
func (m *Metrics) Forget(accountID, target string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.targets, targetKey{account: accountID, url: target})
}

// ForgetAccount drops the history of every target owned by accountID.
func (m *Metrics) ForgetAccount(accountID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for key := range m.targets {
		if key.account == accountID {
			delete(m.targets, key)
		}
	}
}

func (m *Metrics) Snapshot() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snap := Snapshot{
		TargetsTracked:   len(m.targets),
		Sweeps:           m.sweeps,
		LastSweep:        m.lastSweep,
		LastSweepTargets: m.lastSweepSize,
		AccountsReaped:   m.reaped,
		SessionsPruned:   m.pruned,
		Uptime:           time.Since(m.startTime),
	}

	for _, ts := range m.targets {
		snap.TotalProbes += ts.probes
		snap.TotalFailures += ts.failures
		if ts.up {
			snap.TargetsUp++
		}
	}

	return snap
}

// AccountSnapshot returns per-target metrics for one account, keyed by URL.
func (m *Metrics) AccountSnapshot(accountID string) map[string]TargetMetrics {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make(map[string]TargetMetrics)
	for key, ts := range m.targets {
		if key.account != accountID {
			continue
		}

		tm := TargetMetrics{
			Probes:   ts.probes,
			Failures: ts.failures,
			Up:       ts.up,
		}

		if len(ts.responseTimes) > 0 {
			sorted := make([]time.Duration, len(ts.responseTimes))
			copy(sorted, ts.responseTimes)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i] < sorted[j]
			})

			tm.AvgResponse = average(sorted)
			tm.P50Response = percentile(sorted, 0.50)
			tm.P95Response = percentile(sorted, 0.95)
			tm.P99Response = percentile(sorted, 0.99)
		}

		out[key.url] = tm
	}

	return out
}

func NewMetrics() *Metrics {
	return &Metrics{
		targets:   make(map[targetKey]*targetStats),
		startTime: time.Now(),
	}
}

func average(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return sum / time.Duration(len(durations))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	index := int(float64(len(sorted)) * p)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
