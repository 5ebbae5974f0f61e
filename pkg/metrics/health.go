package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/flowmesh/flowstore/pkg/groupruntime"
	"github.com/flowmesh/flowstore/pkg/object"
)

// The health view a replica reports is two-layered: the liveness of its
// subsystems (the group-communication runtime, the execution engine, the
// RPC transport), set once at wiring time and flipped on failure, and
// the replication state of every store shard it hosts, refreshed by the
// Collector's poll loop. A replica is unhealthy when a subsystem is
// down, degraded when a shard's global-persistence frontier has fallen
// too far behind its latest delivered version, and ready only once
// every critical subsystem has come up.

// SubsystemStatus is the liveness of one subsystem.
type SubsystemStatus struct {
	Up     bool      `json:"up"`
	Detail string    `json:"detail,omitempty"`
	Since  time.Time `json:"since"`
}

// ShardStatus is the replication state of one hosted store shard.
type ShardStatus struct {
	Variant        string         `json:"variant"`
	SubgroupIndex  uint32         `json:"subgroup_index"`
	ShardIndex     uint32         `json:"shard_index"`
	LatestVersion  object.Version `json:"latest_version"`
	GlobalFrontier object.Version `json:"global_frontier"`
	FrontierLag    int64          `json:"frontier_lag"`
	Observed       time.Time      `json:"observed"`
}

// Report is the JSON body served on /healthz and /readyz.
type Report struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     string                     `json:"uptime"`
	Subsystems map[string]SubsystemStatus `json:"subsystems,omitempty"`
	Shards     []ShardStatus              `json:"shards,omitempty"`
}

// criticalSubsystems must all be up before the replica reports ready:
// without the runtime there is no ordered delivery, without the engine
// no UDL runs, without rpcapi no client can reach the shards.
var criticalSubsystems = []string{"runtime", "engine", "rpcapi"}

// defaultMaxFrontierLag is how many versions a shard's global
// persistence frontier may trail its latest delivered version before
// the replica reports degraded. Sized to the engine's default action
// buffer: a backlog deeper than one full queue of unacknowledged
// versions means replication is not keeping up with delivery.
const defaultMaxFrontierLag = 8192

type shardKey struct {
	variant string
	shard   groupruntime.ShardID
}

type replicaHealth struct {
	mu             sync.RWMutex
	subsystems     map[string]SubsystemStatus
	shards         map[shardKey]ShardStatus
	start          time.Time
	maxFrontierLag int64
}

func newReplicaHealth() *replicaHealth {
	return &replicaHealth{
		subsystems:     make(map[string]SubsystemStatus),
		shards:         make(map[shardKey]ShardStatus),
		start:          time.Now(),
		maxFrontierLag: defaultMaxFrontierLag,
	}
}

var health = newReplicaHealth()

// SetSubsystem records a subsystem as up or down. Called at wiring time
// by cmd/flowstore-server and again by any subsystem that detects its
// own failure.
func SetSubsystem(name string, up bool, detail string) {
	health.mu.Lock()
	defer health.mu.Unlock()
	health.subsystems[name] = SubsystemStatus{Up: up, Detail: detail, Since: time.Now()}
}

// ObserveShard records one store shard's replication state: its latest
// delivered version and the global-persistence frontier it has
// acknowledged. Fed by the Collector on every poll.
func ObserveShard(variant string, shard groupruntime.ShardID, latest, frontier object.Version) {
	lag := int64(latest) - int64(frontier)
	if latest == object.InvalidVersion || lag < 0 {
		lag = 0
	}
	health.mu.Lock()
	defer health.mu.Unlock()
	health.shards[shardKey{variant: variant, shard: shard}] = ShardStatus{
		Variant:        variant,
		SubgroupIndex:  shard.SubgroupIndex,
		ShardIndex:     shard.ShardIndex,
		LatestVersion:  latest,
		GlobalFrontier: frontier,
		FrontierLag:    lag,
		Observed:       time.Now(),
	}
}

func (h *replicaHealth) snapshot() Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	subsystems := make(map[string]SubsystemStatus, len(h.subsystems))
	for name, s := range h.subsystems {
		subsystems[name] = s
		if !s.Up {
			status = "unhealthy"
		}
	}

	shards := make([]ShardStatus, 0, len(h.shards))
	for _, s := range h.shards {
		shards = append(shards, s)
		if status == "healthy" && s.FrontierLag > h.maxFrontierLag {
			status = "degraded"
		}
	}
	sort.Slice(shards, func(i, j int) bool {
		if shards[i].SubgroupIndex != shards[j].SubgroupIndex {
			return shards[i].SubgroupIndex < shards[j].SubgroupIndex
		}
		return shards[i].ShardIndex < shards[j].ShardIndex
	})

	return Report{
		Status:     status,
		Timestamp:  time.Now(),
		Uptime:     time.Since(h.start).String(),
		Subsystems: subsystems,
		Shards:     shards,
	}
}

func (h *replicaHealth) readiness() (Report, bool) {
	r := h.snapshot()
	ready := true
	for _, name := range criticalSubsystems {
		s, registered := r.Subsystems[name]
		if !registered {
			ready = false
			r.Subsystems[name] = SubsystemStatus{Up: false, Detail: "not started"}
			continue
		}
		if !s.Up {
			ready = false
		}
	}
	if ready {
		r.Status = "ready"
	} else {
		r.Status = "not_ready"
	}
	return r, ready
}

// Snapshot returns the current health report.
func Snapshot() Report {
	return health.snapshot()
}

func writeReport(w http.ResponseWriter, r Report, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(r)
}

// HealthHandler serves the full health report; 503 when a subsystem is
// down, 200 otherwise (degraded shards are reported but do not fail the
// probe, so a lagging replica keeps serving reads).
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r := health.snapshot()
		code := http.StatusOK
		if r.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		writeReport(w, r, code)
	}
}

// ReadyHandler serves 503 until every critical subsystem has come up.
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r, ready := health.readiness()
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		writeReport(w, r, code)
	}
}

// LivenessHandler always returns 200 while the process runs.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(health.start).String(),
		})
	}
}
