// Copyright 2025 VaultFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package debug serves pprof profiles and liveness/readiness probes on a
// listener separate from the public API, so operational endpoints are
// never exposed on the user-facing port.
package debug

import (
	"net/http"
	"net/http/pprof"
	"sync/atomic"
)

var ready atomic.Bool

// SetReady marks the process as ready to serve traffic.
func SetReady() {
	ready.Store(true)
}

// SetNotReady marks the process as draining or not yet initialized.
func SetNotReady() {
	ready.Store(false)
}

func IsReady() bool {
	return ready.Load()
}

// Mux builds the debug mux: pprof under /debug/, plus /health and /ready.
func Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/pprof/allocs", pprof.Handler("allocs"))
	mux.Handle("/debug/pprof/block", pprof.Handler("block"))
	mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	mux.Handle("/debug/pprof/mutex", pprof.Handler("mutex"))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	return mux
}
