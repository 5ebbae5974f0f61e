/*
Package metrics exposes a FlowStore deployment's internal state as
Prometheus metrics: package-level collectors registered at init, a
poll-driven Collector that refreshes gauges on a ticker, and a Timer
helper for histogram observations.

# Categories

Engine metrics report each of the six action queues' backlog and every
UDL action's outcome and duration, by queue family and discipline.

Versionlog metrics report the latest minted, locally persisted, and
globally persisted version per store, polled from versionlog.Log.

Raft metrics report leader status, last log index, and peer count per
shard's Raft group, polled from raftruntime.Runtime.Stats.

RPC metrics report pkg/rpcapi's request count and duration by method.

Dispatch metrics count ONE-dispatch member elections by outcome.

# Health

The replica's health view is two-layered: subsystem liveness (runtime,
engine, rpcapi), set via SetSubsystem at wiring time, and per-shard
replication state fed by the Collector's poll of each store's version
log. /healthz reports unhealthy when a subsystem is down and degraded
when a shard's global-persistence frontier trails its latest delivered
version by more than a bound; /readyz gates on every critical subsystem
having come up; /livez only proves the process is running.

# Usage

	c := metrics.NewCollector(engine, versionlogsByStore, raftRuntime)
	c.Start()
	defer c.Stop()

	http.Handle("/metrics", metrics.Handler())
	http.Handle("/healthz", metrics.HealthHandler())
*/
package metrics
