// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the content store.
type Metrics struct {
	Puts        prometheus.Counter
	DedupHits   prometheus.Counter
	Purges      prometheus.Counter
	BytesStored prometheus.Gauge
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics returns the process-wide content store metrics.
// Registered once to avoid double registration across stores.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			Puts: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "vaultfs",
				Subsystem: "blob",
				Name:      "puts_total",
				Help:      "Total number of new blobs persisted",
			}),
			DedupHits: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "vaultfs",
				Subsystem: "blob",
				Name:      "dedup_hits_total",
				Help:      "Total number of reference increments on existing blobs",
			}),
			Purges: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "vaultfs",
				Subsystem: "blob",
				Name:      "purges_total",
				Help:      "Total number of blobs physically purged at refcount zero",
			}),
			BytesStored: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "vaultfs",
				Subsystem: "blob",
				Name:      "bytes_stored",
				Help:      "Ciphertext bytes currently stored",
			}),
		}
	})
	return metricsInstance
}
