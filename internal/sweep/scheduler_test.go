package sweep_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/pinger/internal/accounts"
	"github.com/angeloszaimis/pinger/internal/metrics"
	"github.com/angeloszaimis/pinger/internal/model"
	"github.com/angeloszaimis/pinger/internal/storage"
	"github.com/angeloszaimis/pinger/internal/sweep"
	"github.com/angeloszaimis/pinger/pkg/logger"
)

// recordingProber returns a fixed outcome per URL and tracks call order and
// how many probes run at once.
type recordingProber struct {
	mutex    sync.Mutex
	calls    []string
	outcomes map[string]model.Outcome
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func newRecordingProber() *recordingProber {
	return &recordingProber{outcomes: make(map[string]model.Outcome)}
}

func (p *recordingProber) Probe(ctx context.Context, url string) model.Outcome {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		seen := p.maxSeen.Load()
		if n <= seen || p.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	time.Sleep(p.delay)

	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.calls = append(p.calls, url)
	if o, ok := p.outcomes[url]; ok {
		return o
	}
	return model.Outcome{Status: "200 OK", Elapsed: 42 * time.Millisecond, Success: true}
}

func (p *recordingProber) Calls() []string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]string(nil), p.calls...)
}

// snapshotStorage remembers what every save contained.
type snapshotStorage struct {
	*storage.Memory
	mutex sync.Mutex
	saved [][]model.Account
}

func (s *snapshotStorage) Save(accounts []model.Account) error {
	s.mutex.Lock()
	s.saved = append(s.saved, accounts)
	s.mutex.Unlock()
	return s.Memory.Save(accounts)
}

func (s *snapshotStorage) Saved() [][]model.Account {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([][]model.Account(nil), s.saved...)
}

var _ = Describe("Scheduler", func() {
	var (
		backing *snapshotStorage
		store   *accounts.Store
		probe   *recordingProber
		alice   model.Account
		bob     model.Account
	)

	BeforeEach(func() {
		backing = &snapshotStorage{Memory: storage.NewMemory()}
		var err error
		store, err = accounts.New(backing, logger.Discard())
		Expect(err).NotTo(HaveOccurred())
		probe = newRecordingProber()

		alice, err = store.Create("alice", "d", time.Now())
		Expect(err).NotTo(HaveOccurred())
		bob, err = store.Create("bob", "d", time.Now())
		Expect(err).NotTo(HaveOccurred())

		store.AddTarget(alice.ID, "https://a1")
		store.AddTarget(alice.ID, "https://a2")
		store.AddTarget(bob.ID, "https://b1")
	})

	Describe("Tick", func() {
		It("should probe accounts in store order and targets in insertion order", func() {
			s := sweep.New(store, probe, sweep.Options{}, nil, logger.Discard())

			res := s.Tick(context.Background())

			Expect(probe.Calls()).To(Equal([]string{"https://a1", "https://a2", "https://b1"}))
			Expect(res.Accounts).To(Equal(2))
			Expect(res.Targets).To(Equal(3))
			Expect(res.Failures).To(Equal(0))
		})

		It("should record every target and flush once after all probes", func() {
			s := sweep.New(store, probe, sweep.Options{}, nil, logger.Discard())
			start := time.Now()

			s.Tick(context.Background())

			saved := backing.Saved()
			Expect(saved).To(HaveLen(1))
			for _, a := range saved[0] {
				for _, t := range a.Targets {
					Expect(t.Checked()).To(BeTrue(), t.URL)
					Expect(*t.LastResult).To(Equal("200 OK (42ms)"))
					Expect(t.LastChecked.Before(start)).To(BeFalse())
				}
			}
		})

		It("should keep going after a failed probe", func() {
			probe.outcomes["https://a1"] = model.Outcome{Status: "dial tcp: connection refused", Elapsed: 3 * time.Millisecond}
			s := sweep.New(store, probe, sweep.Options{}, nil, logger.Discard())

			res := s.Tick(context.Background())

			Expect(res.Failures).To(Equal(1))
			Expect(probe.Calls()).To(HaveLen(3))

			targets, _ := store.Targets(alice.ID)
			Expect(*targets[0].LastResult).To(Equal("dial tcp: connection refused (3ms)"))
			Expect(targets[0].LastOK).To(BeFalse())
			Expect(*targets[1].LastResult).To(Equal("200 OK (42ms)"))
		})

		It("should use the configured clock for check instants", func() {
			fixed := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
			s := sweep.New(store, probe, sweep.Options{Now: func() time.Time { return fixed }}, nil, logger.Discard())

			s.Tick(context.Background())

			targets, _ := store.Targets(bob.ID)
			Expect(*targets[0].LastChecked).To(Equal(fixed))
		})

		It("should not overlap concurrent ticks", func() {
			probe.delay = 10 * time.Millisecond
			s := sweep.New(store, probe, sweep.Options{}, nil, logger.Discard())

			var wg sync.WaitGroup
			for i := 0; i < 3; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					s.Tick(context.Background())
				}()
			}
			wg.Wait()

			Expect(probe.maxSeen.Load()).To(Equal(int32(1)))
			Expect(probe.Calls()).To(HaveLen(9))
			Expect(backing.Saved()).To(HaveLen(3))
		})

		It("should keep check instants non-decreasing per target", func() {
			probe.delay = time.Millisecond
			s := sweep.New(store, probe, sweep.Options{Concurrency: 2}, nil, logger.Discard())

			var wg sync.WaitGroup
			for i := 0; i < 4; i++ {
				wg.Add(2)
				go func() {
					defer wg.Done()
					s.Tick(context.Background())
				}()
				go func() {
					defer wg.Done()
					s.PingAccount(context.Background(), alice.ID)
				}()
			}
			wg.Wait()

			last := map[string]time.Time{}
			for _, snapshot := range backing.Saved() {
				for _, a := range snapshot {
					for _, t := range a.Targets {
						if t.LastChecked == nil {
							continue
						}
						Expect(t.LastChecked.Before(last[t.URL])).To(BeFalse())
						last[t.URL] = *t.LastChecked
					}
				}
			}
		})

		It("should sweep accounts in parallel up to the concurrency limit", func() {
			for _, name := range []string{"carol", "dave", "erin"} {
				a, err := store.Create(name, "d", time.Now())
				Expect(err).NotTo(HaveOccurred())
				store.AddTarget(a.ID, "https://"+name)
			}
			probe.delay = 30 * time.Millisecond
			s := sweep.New(store, probe, sweep.Options{Concurrency: 2}, nil, logger.Discard())

			res := s.Tick(context.Background())

			Expect(res.Targets).To(Equal(6))
			Expect(probe.maxSeen.Load()).To(Equal(int32(2)))

			calls := probe.Calls()
			Expect(indexOf(calls, "https://a1")).To(BeNumerically("<", indexOf(calls, "https://a2")))
			Expect(backing.Saved()).To(HaveLen(1))
		})

		It("should skip targets removed while the sweep runs", func() {
			probe.delay = 20 * time.Millisecond
			s := sweep.New(store, probe, sweep.Options{}, nil, logger.Discard())

			done := make(chan sweep.Result)
			go func() { done <- s.Tick(context.Background()) }()

			Eventually(probe.Calls).Should(ContainElement("https://a1"))
			store.RemoveTarget(alice.ID, "https://a2")

			var res sweep.Result
			Eventually(done).Should(Receive(&res))

			targets, _ := store.Targets(alice.ID)
			Expect(targets).To(HaveLen(1))
			Expect(res.Targets).To(BeNumerically("<=", 3))
		})

		It("should stop probing once the context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			s := sweep.New(store, probe, sweep.Options{}, nil, logger.Discard())

			res := s.Tick(ctx)

			Expect(res.Targets).To(Equal(0))
			Expect(probe.Calls()).To(BeEmpty())
			Expect(backing.Saved()).To(HaveLen(1))
		})

		It("should report sweeps and probes to the collector", func() {
			collector := metrics.NewCollector(16, logger.Discard(), nil)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			collector.Start(ctx)

			s := sweep.New(store, probe, sweep.Options{}, collector, logger.Discard())
			s.Tick(context.Background())

			Eventually(func() int64 { return collector.Snapshot().Sweeps }).Should(Equal(int64(1)))
			Eventually(func() int64 { return collector.Snapshot().TotalProbes }).Should(Equal(int64(3)))
		})
	})

	Describe("PingAccount", func() {
		It("should probe only that account and flush", func() {
			s := sweep.New(store, probe, sweep.Options{}, nil, logger.Discard())

			res, err := s.PingAccount(context.Background(), bob.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Targets).To(Equal(1))
			Expect(probe.Calls()).To(Equal([]string{"https://b1"}))
			Expect(backing.Saved()).To(HaveLen(1))
		})

		It("should fail for unknown accounts", func() {
			s := sweep.New(store, probe, sweep.Options{}, nil, logger.Discard())

			_, err := s.PingAccount(context.Background(), "missing")
			Expect(err).To(MatchError(accounts.ErrNotFound))
			Expect(probe.Calls()).To(BeEmpty())
		})

		It("should serialize with the scheduled sweep for the same account", func() {
			probe.delay = 10 * time.Millisecond
			onlyAlice, err := accounts.New(storage.NewMemory(), logger.Discard())
			Expect(err).NotTo(HaveOccurred())
			a, _ := onlyAlice.Create("alice", "d", time.Now())
			onlyAlice.AddTarget(a.ID, "https://a1")
			s := sweep.New(onlyAlice, probe, sweep.Options{}, nil, logger.Discard())

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				s.Tick(context.Background())
			}()
			go func() {
				defer wg.Done()
				s.PingAccount(context.Background(), a.ID)
			}()
			wg.Wait()

			Expect(probe.maxSeen.Load()).To(Equal(int32(1)))
			Expect(probe.Calls()).To(HaveLen(2))
		})
	})

	Describe("Run", func() {
		It("should sweep on every interval until cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			s := sweep.New(store, probe, sweep.Options{Interval: 20 * time.Millisecond}, nil, logger.Discard())

			stopped := make(chan struct{})
			go func() {
				s.Run(ctx)
				close(stopped)
			}()

			Eventually(func() int { return len(backing.Saved()) }).Should(BeNumerically(">=", 2))
			cancel()
			Eventually(stopped).Should(BeClosed())
		})
	})
})

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
