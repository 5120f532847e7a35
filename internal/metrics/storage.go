// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StorageTierHits counts read hits per storage tier.
	StorageTierHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mom_storage_tier_hits_total",
		Help: "Read hits per storage tier",
	}, []string{"tier"})

	// StorageMisses counts reads that missed every tier.
	StorageMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mom_storage_miss_total",
		Help: "Reads that missed every storage tier",
	})

	// StorageBytesWritten counts bytes written through the layered store.
	StorageBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mom_storage_bytes_written_total",
		Help: "Bytes written through the layered store",
	})
)
