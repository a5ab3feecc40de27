package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksReceived tracks enriched block events produced per chain
	BlocksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalikrun_blocks_received_total",
			Help: "Total number of block events produced",
		},
		[]string{"chain"},
	)

	// EnrichmentErrors tracks dropped blocks due to enrichment failures
	EnrichmentErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalikrun_enrichment_errors_total",
			Help: "Total number of blocks dropped because enrichment failed",
		},
		[]string{"chain"},
	)

	// EnrichmentLatency tracks enrichment call latency
	EnrichmentLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vitalikrun_enrichment_latency_seconds",
			Help:    "Block enrichment call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)

	// WatcherReconnects tracks reconnect attempts per chain
	WatcherReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalikrun_watcher_reconnects_total",
			Help: "Total number of watcher reconnect attempts",
		},
		[]string{"chain"},
	)

	// StreamSubscribers tracks currently connected stream subscribers
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vitalikrun_stream_subscribers",
			Help: "Number of currently connected stream subscribers",
		},
	)

	// EventsBroadcast tracks events fanned out to subscribers
	EventsBroadcast = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalikrun_events_broadcast_total",
			Help: "Total number of block events broadcast",
		},
	)

	// BroadcastFailures tracks sink write failures during fan-out
	BroadcastFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalikrun_broadcast_failures_total",
			Help: "Total number of subscriber write failures",
		},
	)

	// SubmissionsTotal tracks score submissions by outcome
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalikrun_submissions_total",
			Help: "Total number of score submissions by outcome",
		},
		[]string{"outcome"},
	)
)
