package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angeloszaimis/pinger/internal/handler"
	"github.com/angeloszaimis/pinger/internal/metrics"
)

func setupRouter(api *handler.APIHandler, metricsCollector *metrics.Collector, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()

	api.Routes(mux)
	mux.HandleFunc("GET /stats", metricsCollector.Handler())
	mux.Handle("GET /metrics", metrics.PrometheusHandler(gatherer))

	return api.Logging(mux)
}
