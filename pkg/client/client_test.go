package client

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/flowmesh/flowstore/pkg/flowerr"
	"github.com/flowmesh/flowstore/pkg/groupruntime"
	"github.com/flowmesh/flowstore/pkg/groupruntime/loopback"
	"github.com/flowmesh/flowstore/pkg/object"
	"github.com/flowmesh/flowstore/pkg/poolmeta"
	"github.com/flowmesh/flowstore/pkg/store"
)

const volatileType uint32 = 1

func newTestFacade(t *testing.T) (*Facade, *LocalLocator, groupruntime.Runtime) {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "pools.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rt := loopback.New(1)
	dirShard := groupruntime.ShardID{SubgroupIndex: 0, ShardIndex: 0}
	dir, err := poolmeta.Open(dirShard, rt, db)
	require.NoError(t, err)

	cache := poolmeta.NewCache(dir)
	f := New(rt, cache).WithDirectory(dir)

	locator := NewLocalLocator(rt)
	f.RegisterLocator(volatileType, locator)
	return f, locator, rt
}

func TestFacadePutThenGetRoutesThroughResolvedPool(t *testing.T) {
	f, locator, rt := newTestFacade(t)
	ctx := context.Background()

	_, err := f.CreateObjectPool(ctx, poolmeta.Metadata{
		Pathname:          "/pool/a/",
		SubgroupTypeIndex: volatileType,
		NumShards:         1,
		ShardingPolicy:    poolmeta.HashPolicy,
	})
	require.NoError(t, err)

	shard := groupruntime.ShardID{SubgroupIndex: 0, ShardIndex: 0}
	locator.Register(shard, store.NewVolatile(shard, rt, nil))

	res, err := f.Put(ctx, "/pool/a/x", []byte("hello"))
	require.NoError(t, err)
	assert.Greater(t, int64(res.Version), int64(0))

	got, err := f.Get(ctx, "/pool/a/x", -2, false, false)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got.Blob))
}

func TestFacadePutWithoutLocatorRegisteredReturnsPolicyError(t *testing.T) {
	f, _, _ := newTestFacade(t)
	ctx := context.Background()

	// subgroup type 99 has no registered locator
	_, err := f.CreateObjectPool(ctx, poolmeta.Metadata{
		Pathname:          "/pool/b/",
		SubgroupTypeIndex: 99,
		NumShards:         1,
	})
	require.NoError(t, err)

	_, err = f.Put(ctx, "/pool/b/x", []byte("v"))
	assert.ErrorIs(t, err, flowerr.ErrPolicyError)
}

func TestFacadeMissingPoolReturnsNotFound(t *testing.T) {
	f, _, _ := newTestFacade(t)
	_, err := f.Put(context.Background(), "/nowhere/x", []byte("v"))
	assert.ErrorIs(t, err, flowerr.ErrNotFound)
}

func TestShardOpBypassesPoolResolution(t *testing.T) {
	f, locator, rt := newTestFacade(t)
	ctx := context.Background()

	shard := groupruntime.ShardID{SubgroupIndex: 2, ShardIndex: 0}
	locator.Register(shard, store.NewVolatile(shard, rt, nil))

	op := f.Shard(volatileType, shard)
	res, err := op.Put(ctx, "/direct/x", []byte("v1"))
	require.NoError(t, err)
	assert.Greater(t, int64(res.Version), int64(0))

	got, err := op.Get(ctx, "/direct/x", -2, false, false)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got.Blob))
}

func TestMemberPolicyRoundRobinOnSingleMemberRuntime(t *testing.T) {
	f, locator, rt := newTestFacade(t)
	shard := groupruntime.ShardID{SubgroupIndex: 3, ShardIndex: 0}
	locator.Register(shard, store.NewVolatile(shard, rt, nil))

	_, err := f.Shard(volatileType, shard, WithPolicy(RoundRobinMember)).Put(context.Background(), "/k", []byte("v"))
	require.NoError(t, err)
}

func TestNotifyDispatchesToSpecificAndCatchAllHandlers(t *testing.T) {
	f, _, _ := newTestFacade(t)

	var specificHits, catchAllHits int
	f.Subscribe(volatileType, 0, "/pool/a/", func(typeIndex, subgroupIndex uint32, o object.Object) {
		specificHits++
	})
	f.SubscribeToAll(volatileType, 0, func(typeIndex, subgroupIndex uint32, o object.Object) {
		catchAllHits++
	})

	f.Notify(volatileType, 0, object.Object{Key: "/pool/a/x"})
	assert.Equal(t, 1, specificHits)
	assert.Equal(t, 1, catchAllHits)

	f.Notify(volatileType, 0, object.Object{Key: "/pool/b/y"})
	assert.Equal(t, 1, specificHits)
	assert.Equal(t, 2, catchAllHits)
}
