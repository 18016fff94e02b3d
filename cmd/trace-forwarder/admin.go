package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/szibis/trace-forwarder/internal/health"
)

// adminHandler serves Prometheus metrics and the health probes.
func adminHandler(checker *health.Checker) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	probes := checker.Handler()
	mux.Handle("/live", probes)
	mux.Handle("/ready", probes)
	return mux
}
