package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EngineQueueDepth reports the current backlog of one of the engine's
	// six action queues.
	EngineQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowstore_engine_queue_depth",
			Help: "Number of actions currently buffered in an execution engine queue",
		},
		[]string{"queue"},
	)

	// EngineActionsProcessedTotal counts actions a worker has run to
	// completion, by source/discipline/outcome.
	EngineActionsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowstore_engine_actions_processed_total",
			Help: "Total number of UDL actions executed by the engine",
		},
		[]string{"source", "discipline", "outcome"},
	)

	EngineActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowstore_engine_action_duration_seconds",
			Help:    "Time taken to execute one UDL action",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source", "discipline"},
	)

	// VersionLogLatestVersion is the highest version minted so far, per
	// store.
	VersionLogLatestVersion = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowstore_versionlog_latest_version",
			Help: "Highest version minted by a store's delta log",
		},
		[]string{"store"},
	)

	VersionLogLocalPersistedVersion = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowstore_versionlog_local_persisted_version",
			Help: "Highest version durable on this replica's delta log",
		},
		[]string{"store"},
	)

	VersionLogGlobalPersistedVersion = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowstore_versionlog_global_persisted_version",
			Help: "Highest version known durable on every replica of a store's shard",
		},
		[]string{"store"},
	)

	// RaftIsLeader, RaftLastIndex and RaftPeersTotal report per-shard
	// Raft group state, labeled by (subgroup, shard).
	RaftIsLeader = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowstore_raft_is_leader",
			Help: "Whether this replica is the Raft leader for a shard (1 = leader, 0 = follower)",
		},
		[]string{"subgroup", "shard"},
	)

	RaftLastIndex = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowstore_raft_last_index",
			Help: "Current Raft log index for a shard",
		},
		[]string{"subgroup", "shard"},
	)

	RaftPeersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowstore_raft_peers_total",
			Help: "Total Raft peers for a shard",
		},
		[]string{"subgroup", "shard"},
	)

	// RPCRequestsTotal and RPCRequestDuration instrument pkg/rpcapi's
	// request-handling path.
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowstore_rpc_requests_total",
			Help: "Total number of RPC requests by method and status",
		},
		[]string{"method", "status"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowstore_rpc_request_duration_seconds",
			Help:    "RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// DispatchElectionsTotal counts how many times the critical-data-path
	// dispatcher ran its ONE-dispatch member election for a mutation, by
	// outcome.
	DispatchElectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowstore_dispatch_elections_total",
			Help: "Total number of critical-data-path dispatcher elections",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		EngineQueueDepth,
		EngineActionsProcessedTotal,
		EngineActionDuration,
		VersionLogLatestVersion,
		VersionLogLocalPersistedVersion,
		VersionLogGlobalPersistedVersion,
		RaftIsLeader,
		RaftLastIndex,
		RaftPeersTotal,
		RPCRequestsTotal,
		RPCRequestDuration,
		DispatchElectionsTotal,
	)
}

// Handler returns the Prometheus HTTP handler for a /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations and observing the elapsed
// duration to a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
