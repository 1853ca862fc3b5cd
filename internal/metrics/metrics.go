// Package metrics exposes the server's Prometheus counters and
// histograms: query/answer/error volume on the data plane, dictionary
// overflow events, and admin command counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueriesTotal counts every decoded query, labeled by outcome
	// (ok, ignore, formerr, notimp, badvers).
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authdnsd",
		Name:      "queries_total",
		Help:      "Total queries decoded, by decode outcome.",
	}, []string{"result"})

	// AnswersTotal counts emitted responses, labeled by RCODE.
	AnswersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authdnsd",
		Name:      "answers_total",
		Help:      "Total responses emitted, by RCODE.",
	}, []string{"rcode"})

	// DroppedTotal counts queries that were decoded but never
	// answered (Ignore outcome, or an encode failure that had to fall
	// back to silence).
	DroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authdnsd",
		Name:      "dropped_total",
		Help:      "Total queries dropped without a reply.",
	}, []string{"reason"})

	// CompressionDictOverflowTotal is registered for responses where
	// the compression dictionary fills up before the response finishes
	// (packing then falls back to uncompressed names rather than
	// failing). Nothing in this module increments it.
	CompressionDictOverflowTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "authdnsd",
		Name:      "compression_dict_overflow_total",
		Help:      "Responses where the compression dictionary bound was reached.",
	})

	// ResponseBufferPromotionsTotal is registered for respbuf
	// promotions, labeled by transition (stack_to_heap, heap_realloc,
	// segment_sealed). Nothing in this module increments it; respbuf
	// does not report its promotions.
	ResponseBufferPromotionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authdnsd",
		Name:      "response_buffer_promotions_total",
		Help:      "Output buffer promotions, by transition kind.",
	}, []string{"transition"})

	// AdminCommandsTotal counts dispatched admin commands, labeled by
	// command name and outcome (ok, error).
	AdminCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authdnsd",
		Name:      "admin_commands_total",
		Help:      "Admin commands dispatched, by command and outcome.",
	}, []string{"command", "outcome"})

	// AdminConnectionsActive tracks live admin connections.
	AdminConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "authdnsd",
		Name:      "admin_connections_active",
		Help:      "Currently open admin connections.",
	})

	// QueryDuration times query decode+lookup+encode, end to end.
	QueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "authdnsd",
		Name:      "query_duration_seconds",
		Help:      "Time spent decoding, looking up, and encoding one query.",
		Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
	})
)
