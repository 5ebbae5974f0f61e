package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowstore/pkg/groupruntime"
	"github.com/flowmesh/flowstore/pkg/object"
)

func resetHealth(t *testing.T) {
	t.Helper()
	prev := health
	health = newReplicaHealth()
	t.Cleanup(func() { health = prev })
}

func markCriticalUp() {
	SetSubsystem("runtime", true, "")
	SetSubsystem("engine", true, "")
	SetSubsystem("rpcapi", true, "")
}

func TestSnapshotHealthyWhenSubsystemsUpAndShardsCurrent(t *testing.T) {
	resetHealth(t)
	markCriticalUp()
	ObserveShard("persistent", groupruntime.ShardID{SubgroupIndex: 2}, 40, 40)

	r := Snapshot()
	assert.Equal(t, "healthy", r.Status)
	require.Len(t, r.Shards, 1)
	assert.EqualValues(t, 0, r.Shards[0].FrontierLag)
}

func TestSnapshotUnhealthyWhenSubsystemDown(t *testing.T) {
	resetHealth(t)
	markCriticalUp()
	SetSubsystem("runtime", false, "raft transport closed")

	r := Snapshot()
	assert.Equal(t, "unhealthy", r.Status)
	assert.False(t, r.Subsystems["runtime"].Up)
	assert.Equal(t, "raft transport closed", r.Subsystems["runtime"].Detail)
}

func TestSnapshotDegradedWhenShardFrontierLags(t *testing.T) {
	resetHealth(t)
	markCriticalUp()

	latest := object.Version(defaultMaxFrontierLag + 100)
	ObserveShard("persistent", groupruntime.ShardID{SubgroupIndex: 2}, latest, 1)

	r := Snapshot()
	assert.Equal(t, "degraded", r.Status)
	require.Len(t, r.Shards, 1)
	assert.Equal(t, int64(latest)-1, r.Shards[0].FrontierLag)
}

func TestObserveShardEmptyLogHasNoLag(t *testing.T) {
	resetHealth(t)
	markCriticalUp()

	// a shard with nothing delivered reports the invalid sentinel for
	// both versions; that must not read as a huge lag.
	ObserveShard("signature", groupruntime.ShardID{SubgroupIndex: 3}, object.InvalidVersion, object.InvalidVersion)

	r := Snapshot()
	assert.Equal(t, "healthy", r.Status)
	require.Len(t, r.Shards, 1)
	assert.EqualValues(t, 0, r.Shards[0].FrontierLag)
}

func TestObserveShardOverwritesPriorObservation(t *testing.T) {
	resetHealth(t)
	shard := groupruntime.ShardID{SubgroupIndex: 2}
	ObserveShard("persistent", shard, 10, 5)
	ObserveShard("persistent", shard, 20, 20)

	r := Snapshot()
	require.Len(t, r.Shards, 1)
	assert.EqualValues(t, 20, r.Shards[0].LatestVersion)
	assert.EqualValues(t, 0, r.Shards[0].FrontierLag)
}

func TestSnapshotOrdersShardsBySubgroupThenShard(t *testing.T) {
	resetHealth(t)
	ObserveShard("signature", groupruntime.ShardID{SubgroupIndex: 3, ShardIndex: 0}, 1, 1)
	ObserveShard("persistent", groupruntime.ShardID{SubgroupIndex: 2, ShardIndex: 1}, 1, 1)
	ObserveShard("persistent", groupruntime.ShardID{SubgroupIndex: 2, ShardIndex: 0}, 1, 1)

	r := Snapshot()
	require.Len(t, r.Shards, 3)
	assert.EqualValues(t, 2, r.Shards[0].SubgroupIndex)
	assert.EqualValues(t, 0, r.Shards[0].ShardIndex)
	assert.EqualValues(t, 1, r.Shards[1].ShardIndex)
	assert.EqualValues(t, 3, r.Shards[2].SubgroupIndex)
}

func TestReadinessRequiresEveryCriticalSubsystem(t *testing.T) {
	resetHealth(t)
	SetSubsystem("rpcapi", true, "")
	// runtime and engine not started yet

	r, ready := health.readiness()
	assert.False(t, ready)
	assert.Equal(t, "not_ready", r.Status)
	assert.False(t, r.Subsystems["runtime"].Up)
	assert.False(t, r.Subsystems["engine"].Up)
}

func TestReadinessReadyOnceCriticalSubsystemsUp(t *testing.T) {
	resetHealth(t)
	markCriticalUp()

	r, ready := health.readiness()
	assert.True(t, ready)
	assert.Equal(t, "ready", r.Status)
}

func TestHealthHandlerServes200WithLaggingShard(t *testing.T) {
	resetHealth(t)
	markCriticalUp()
	ObserveShard("persistent", groupruntime.ShardID{SubgroupIndex: 2}, object.Version(defaultMaxFrontierLag+2), 1)

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest("GET", "/healthz", nil))

	// degraded replication is reported but keeps the probe green, so a
	// lagging replica is not restarted out from under its readers.
	assert.Equal(t, http.StatusOK, w.Code)
	var r Report
	require.NoError(t, json.NewDecoder(w.Body).Decode(&r))
	assert.Equal(t, "degraded", r.Status)
}

func TestHealthHandlerServes503WhenSubsystemDown(t *testing.T) {
	resetHealth(t)
	markCriticalUp()
	SetSubsystem("engine", false, "shut down")

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReadyHandlerServes503UntilStarted(t *testing.T) {
	resetHealth(t)

	w := httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest("GET", "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	markCriticalUp()
	w = httptest.NewRecorder()
	ReadyHandler()(w, httptest.NewRequest("GET", "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLivenessHandlerAlways200(t *testing.T) {
	resetHealth(t)

	w := httptest.NewRecorder()
	LivenessHandler()(w, httptest.NewRequest("GET", "/livez", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "alive", body["status"])
}
