//go:build ignore

// Seed registers a batch of accounts against a running pinger and gives each
// of them a handful of targets, then triggers one manual ping per account.
// It reports per-endpoint latency percentiles at the end.
//
// Usage:
//
//	go run scripts/seed.go -api http://localhost:8080 -accounts 50 -concurrency 10 \
//	    -target http://localhost:8081/ok -target http://localhost:8081/flaky
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type targetList []string

func (t *targetList) String() string     { return strings.Join(*t, ",") }
func (t *targetList) Set(v string) error { *t = append(*t, v); return nil }

type stats struct {
	mu        sync.Mutex
	latencies map[string][]time.Duration
}

func (s *stats) record(endpoint string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies[endpoint] = append(s.latencies[endpoint], d)
}

func main() {
	var targets targetList
	api := flag.String("api", "http://localhost:8080", "pinger base URL")
	n := flag.Int("accounts", 20, "number of accounts to register")
	concurrency := flag.Int("concurrency", 5, "number of concurrent workers")
	prefix := flag.String("prefix", "seed", "username prefix")
	timeout := flag.Duration("timeout", 30*time.Second, "per-request timeout")
	flag.Var(&targets, "target", "target URL to add to every account (repeatable)")
	flag.Parse()

	if len(targets) == 0 {
		targets = targetList{"http://localhost:8081/ok"}
	}

	client := &http.Client{Timeout: *timeout}
	st := &stats{latencies: make(map[string][]time.Duration)}

	var failures int32
	jobs := make(chan int)
	var wg sync.WaitGroup

	start := time.Now()
	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if err := seedAccount(client, st, *api, fmt.Sprintf("%s-%d", *prefix, idx), targets); err != nil {
					atomic.AddInt32(&failures, 1)
					fmt.Fprintf(os.Stderr, "account %d: %v\n", idx, err)
				}
			}
		}()
	}

	for i := 0; i < *n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	fmt.Printf("seeded %d accounts (%d failed) in %v\n", *n, failures, time.Since(start).Round(time.Millisecond))

	endpoints := make([]string, 0, len(st.latencies))
	for e := range st.latencies {
		endpoints = append(endpoints, e)
	}
	sort.Strings(endpoints)
	for _, e := range endpoints {
		lat := st.latencies[e]
		sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
		fmt.Printf("%-16s n=%-5d p50=%-10v p95=%-10v p99=%v\n", e, len(lat),
			percentile(lat, 0.50), percentile(lat, 0.95), percentile(lat, 0.99))
	}
}

func seedAccount(client *http.Client, st *stats, api, username string, targets []string) error {
	creds, _ := json.Marshal(map[string]string{"username": username, "password": "seed-password"})

	resp, err := call(client, st, http.MethodPost, api+"/api/register", "", creds)
	if err != nil {
		return err
	}
	token := ""
	for _, c := range resp.Cookies() {
		if c.Name == "pinger_session" {
			token = c.Value
		}
	}
	if token == "" {
		return fmt.Errorf("register %s: no session cookie", username)
	}

	for _, t := range targets {
		body, _ := json.Marshal(map[string]string{"url": t})
		if _, err := call(client, st, http.MethodPost, api+"/api/targets", token, body); err != nil {
			return err
		}
	}

	_, err = call(client, st, http.MethodPost, api+"/api/ping", token, nil)
	return err
}

func call(client *http.Client, st *stats, method, url, token string, body []byte) (*http.Response, error) {
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := client.Do(req)
	st.record(method+" "+req.URL.Path, time.Since(start))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: %s", method, req.URL.Path, resp.Status)
	}
	return resp, nil
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
