// Copyright 2023 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package v2

import "github.com/prometheus/client_golang/prometheus"

var (
	memPoolSizeGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mo",
			Subsystem: "mem",
			Name:      "stream_pool_size",
			Help:      "Bytes held by the stream pools, by pool and state.",
		}, []string{"pool", "state"})

	MemSmallPoolFreeGauge  = memPoolSizeGauge.WithLabelValues("small", "free")
	MemSmallPoolInUseGauge = memPoolSizeGauge.WithLabelValues("small", "inuse")
	MemLargePoolFreeGauge  = memPoolSizeGauge.WithLabelValues("large", "free")
	MemLargePoolInUseGauge = memPoolSizeGauge.WithLabelValues("large", "inuse")
)

var (
	memBufferLifecycleCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mo",
			Subsystem: "mem",
			Name:      "stream_buffer_lifecycle_total",
			Help:      "Total number of buffer lifecycle events in the stream pools.",
		}, []string{"event"})

	MemBlockCreatedCounter           = memBufferLifecycleCounter.WithLabelValues("block_created")
	MemBlockDiscardedCounter         = memBufferLifecycleCounter.WithLabelValues("block_discarded")
	MemLargeBufferCreatedCounter     = memBufferLifecycleCounter.WithLabelValues("large_buffer_created")
	MemNonPooledLargeBufferCounter   = memBufferLifecycleCounter.WithLabelValues("non_pooled_large_buffer_created")
	MemLargeBufferDiscardedCounter   = memBufferLifecycleCounter.WithLabelValues("large_buffer_discarded")
	MemStreamCreatedCounter          = memBufferLifecycleCounter.WithLabelValues("stream_created")
	MemStreamDisposedCounter         = memBufferLifecycleCounter.WithLabelValues("stream_disposed")
	MemStreamDoubleDisposeCounter    = memBufferLifecycleCounter.WithLabelValues("stream_double_dispose")
	MemStreamConvertedToArrayCounter = memBufferLifecycleCounter.WithLabelValues("stream_converted_to_array")
	MemStreamOverCapacityCounter     = memBufferLifecycleCounter.WithLabelValues("stream_over_capacity")
)
