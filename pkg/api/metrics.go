// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce sync.Once
	mRequests   *prometheus.CounterVec
	mDuration   *prometheus.HistogramVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		mRequests = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vaultfs",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"})
		mDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vaultfs",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(next http.Handler) http.Handler {
	initMetrics()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		mRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		mDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
