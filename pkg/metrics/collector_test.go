package metrics

import (
	"path/filepath"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/flowmesh/flowstore/pkg/groupruntime"
	"github.com/flowmesh/flowstore/pkg/versionlog"
)

type fakeQueueDepths map[string]int

func (f fakeQueueDepths) QueueDepths() map[string]int { return f }

func TestCollectorPollsEngineQueueDepths(t *testing.T) {
	c := NewCollector(fakeQueueDepths{"multicast_stateful": 3}, nil, nil)
	c.collect()

	var m dto.Metric
	require.NoError(t, EngineQueueDepth.WithLabelValues("multicast_stateful").Write(&m))
	require.Equal(t, 3.0, m.GetGauge().GetValue())
}

func TestCollectorPollsVersionLogGaugesAndFeedsHealth(t *testing.T) {
	resetHealth(t)
	db, err := bolt.Open(filepath.Join(t.TempDir(), "vlog.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	l, err := versionlog.Open(db)
	require.NoError(t, err)

	shard := groupruntime.ShardID{SubgroupIndex: 2}
	c := NewCollector(nil, []VersionLogSource{{Variant: "persistent", Shard: shard, Log: l}}, nil)
	c.collect()

	require.NotNil(t, VersionLogLatestVersion.WithLabelValues("persistent"))
	r := Snapshot()
	require.Len(t, r.Shards, 1)
	require.Equal(t, "persistent", r.Shards[0].Variant)
}

func TestCollectorStartStop(t *testing.T) {
	c := NewCollector(nil, nil, nil)
	c.interval = 1
	c.Start()
	c.Stop()
}
