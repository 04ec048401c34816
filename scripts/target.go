//go:build ignore

// Target is a throwaway HTTP server for exercising the pinger locally.
// It answers on a few paths with different behaviour:
//
//	/ok     200 immediately
//	/slow   200 after -delay
//	/flaky  500 with probability -fail, otherwise 200
//	/down   503
//
// Usage:
//
//	go run scripts/target.go -port 8081 -delay 2s -fail 0.3
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/google/uuid"
)

func main() {
	port := flag.Int("port", 8081, "port to listen on")
	delay := flag.Duration("delay", 2*time.Second, "response delay for /slow")
	failRate := flag.Float64("fail", 0.3, "failure probability for /flaky")
	flag.Parse()

	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(*delay):
			w.WriteHeader(http.StatusOK)
		case <-r.Context().Done():
		}
	})
	mux.HandleFunc("/flaky", func(w http.ResponseWriter, r *http.Request) {
		if rand.Float64() < *failRate {
			http.Error(w, "unlucky", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/down", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	})

	logged := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		log.Printf("request: id=%s path=%s ua=%q", id, r.URL.Path, r.UserAgent())
		mux.ServeHTTP(w, r)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("starting target on %s", addr)
	if err := http.ListenAndServe(addr, logged); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
