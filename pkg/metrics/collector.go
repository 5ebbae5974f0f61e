package metrics

import (
	"fmt"
	"time"

	"github.com/flowmesh/flowstore/pkg/groupruntime"
	"github.com/flowmesh/flowstore/pkg/groupruntime/raftruntime"
	"github.com/flowmesh/flowstore/pkg/versionlog"
)

// QueueDepthSource reports per-queue backlog; satisfied by
// *engine.Engine.
type QueueDepthSource interface {
	QueueDepths() map[string]int
}

// VersionLogSource names one store shard's delta log for the collector
// to poll: Variant labels the store kind ("persistent", "signature"),
// Shard places it, and Variant doubles as the gauge label.
type VersionLogSource struct {
	Variant string
	Shard   groupruntime.ShardID
	Log     *versionlog.Log
}

// Collector polls engine, versionlog and Raft state on a ticker and
// refreshes the package-level gauges.
type Collector struct {
	engine   QueueDepthSource
	logs     []VersionLogSource
	raft     *raftruntime.Runtime
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector builds a collector. raft may be nil when the deployment
// runs entirely on the loopback runtime, in which case Raft gauges are
// simply never updated; eng may likewise be nil.
func NewCollector(eng QueueDepthSource, logs []VersionLogSource, raft *raftruntime.Runtime) *Collector {
	return &Collector{
		engine:   eng,
		logs:     logs,
		raft:     raft,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins polling in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts polling.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectEngine()
	c.collectVersionLogs()
	c.collectRaft()
}

func (c *Collector) collectEngine() {
	if c.engine == nil {
		return
	}
	for queue, depth := range c.engine.QueueDepths() {
		EngineQueueDepth.WithLabelValues(queue).Set(float64(depth))
	}
}

// collectVersionLogs refreshes the per-store gauges and feeds the same
// poll into the replica health view, so /healthz reports each shard's
// frontier lag without a second polling loop.
func (c *Collector) collectVersionLogs() {
	for _, src := range c.logs {
		latest := src.Log.LatestVersion()
		frontier := src.Log.GlobalPersistenceFrontier()
		VersionLogLatestVersion.WithLabelValues(src.Variant).Set(float64(latest))
		VersionLogLocalPersistedVersion.WithLabelValues(src.Variant).Set(float64(src.Log.LatestPersistedVersion()))
		VersionLogGlobalPersistedVersion.WithLabelValues(src.Variant).Set(float64(frontier))
		ObserveShard(src.Variant, src.Shard, latest, frontier)
	}
}

func (c *Collector) collectRaft() {
	if c.raft == nil {
		return
	}
	for _, shard := range c.raft.Shards() {
		stats, ok := c.raft.Stats(shard)
		if !ok {
			continue
		}
		labels := shardLabels(shard)
		if stats.IsLeader {
			RaftIsLeader.WithLabelValues(labels...).Set(1)
		} else {
			RaftIsLeader.WithLabelValues(labels...).Set(0)
		}
		RaftLastIndex.WithLabelValues(labels...).Set(float64(stats.LastIndex))
		RaftPeersTotal.WithLabelValues(labels...).Set(float64(stats.PeersTotal))
	}
}

func shardLabels(shard groupruntime.ShardID) []string {
	return []string{fmt.Sprintf("%d", shard.SubgroupIndex), fmt.Sprintf("%d", shard.ShardIndex)}
}
