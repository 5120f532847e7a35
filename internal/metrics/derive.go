// SPDX-License-Identifier: MIT

// Package metrics exposes the Prometheus instrumentation shared across the
// derivation pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DeriveTotal counts completed derivation requests by transform kind and result.
	DeriveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mom_derive_total",
		Help: "Total derivation requests by transform kind and result",
	}, []string{"kind", "result"})

	// DeriveDuration tracks end-to-end derivation latency by transform kind.
	DeriveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mom_derive_duration_seconds",
		Help:    "End-to-end derivation duration",
		Buckets: prometheus.ExponentialBuckets(0.005, 2.0, 14), // 5ms to ~40s
	}, []string{"kind"})

	// DeriveRejectedTotal counts requests rejected before any work started.
	DeriveRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mom_derive_rejected_total",
		Help: "Derivation requests rejected before execution",
	}, []string{"reason"})

	// InflightDedupTotal counts callers that attached to an already-running
	// computation instead of starting their own.
	InflightDedupTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mom_inflight_dedup_total",
		Help: "Callers deduplicated onto an in-flight computation",
	})

	// EncodeSlotsInUse reports the number of encode permits currently held.
	EncodeSlotsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mom_encode_slots_in_use",
		Help: "Encode permits currently held",
	})

	// JobsActive reports per-tenant in-progress derivation jobs.
	JobsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mom_jobs_active",
		Help: "In-progress derivation jobs per tenant",
	}, []string{"tenant"})
)
