// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

package usage

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce sync.Once

	mQuotaDenials prometheus.Counter
	mUsedBytes    *prometheus.GaugeVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		mQuotaDenials = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "vaultfs",
			Subsystem: "usage",
			Name:      "quota_denials_total",
			Help:      "Number of charges rejected for exceeding quota.",
		})
		mUsedBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vaultfs",
			Subsystem: "usage",
			Name:      "used_bytes",
			Help:      "Current charged storage per user.",
		}, []string{"user"})
	})
}

func quotaDenials() prometheus.Counter {
	initMetrics()
	return mQuotaDenials
}

func usedBytesGauge() *prometheus.GaugeVec {
	initMetrics()
	return mUsedBytes
}
