package poolmeta

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
)

func openTestDirectory(t *testing.T) *Directory {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "pools.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rt := loopback.New(1)
	shard := groupruntime.ShardID{SubgroupIndex: 0, ShardIndex: 0}
	dir, err := Open(shard, rt, db)
	require.NoError(t, err)
	return dir
}

func TestCreateObjectPoolAssignsVersionAndTimestamp(t *testing.T) {
	dir := openTestDirectory(t)
	m, err := dir.CreateObjectPool(context.Background(), Metadata{
		Pathname:      "/pool/a/",
		NumShards:     4,
		ShardingPolicy: HashPolicy,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.Version)
	assert.NotZero(t, m.TimestampUs)
	assert.False(t, m.Deleted)
}

func TestCreateObjectPoolRejectsDuplicatePathname(t *testing.T) {
	dir := openTestDirectory(t)
	ctx := context.Background()
	_, err := dir.CreateObjectPool(ctx, Metadata{Pathname: "/pool/a/", NumShards: 1})
	require.NoError(t, err)

	_, err = dir.CreateObjectPool(ctx, Metadata{Pathname: "/pool/a/", NumShards: 1})
	assert.ErrorIs(t, err, flowerr.ErrInvalidValue)
}

func TestRemoveObjectPoolTombstonesButRetainsRecord(t *testing.T) {
	dir := openTestDirectory(t)
	ctx := context.Background()
	_, err := dir.CreateObjectPool(ctx, Metadata{Pathname: "/pool/a/", NumShards: 1})
	require.NoError(t, err)

	removed, err := dir.RemoveObjectPool(ctx, "/pool/a/")
	require.NoError(t, err)
	assert.True(t, removed.Deleted)

	found, ok, err := dir.FindObjectPool(ctx, "/pool/a/")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, found.Deleted)
}

func TestRemoveObjectPoolFailsWhenAlreadyGone(t *testing.T) {
	dir := openTestDirectory(t)
	_, err := dir.RemoveObjectPool(context.Background(), "/pool/nope/")
	assert.ErrorIs(t, err, flowerr.ErrNotFound)
}

func TestCreateObjectPoolRejectsInvalidAffinityRegex(t *testing.T) {
	dir := openTestDirectory(t)
	_, err := dir.CreateObjectPool(context.Background(), Metadata{
		Pathname:         "/pool/a/",
		AffinitySetRegex: "(unclosed",
	})
	assert.ErrorIs(t, err, flowerr.ErrInvalidValue)
}

func TestResolveUsesLongestPrefixAndHashPolicy(t *testing.T) {
	dir := openTestDirectory(t)
	ctx := context.Background()
	_, err := dir.CreateObjectPool(ctx, Metadata{
		Pathname:       "/pool/a/",
		SubgroupTypeIndex: 2,
		SubgroupIndex:     3,
		NumShards:         4,
		ShardingPolicy:    HashPolicy,
	})
	require.NoError(t, err)

	cache := NewCache(dir)
	loc, err := cache.Resolve(ctx, "/pool/a/x123")
	require.NoError(t, err)
	assert.EqualValues(t, 2, loc.SubgroupTypeIndex)
	assert.EqualValues(t, 3, loc.SubgroupIndex)
	assert.Less(t, loc.ShardIndex, uint32(4))

	loc2, err := cache.Resolve(ctx, "/pool/a/x123")
	require.NoError(t, err)
	assert.Equal(t, loc, loc2)
}

func TestResolveHonorsObjectLocationsOverride(t *testing.T) {
	dir := openTestDirectory(t)
	ctx := context.Background()
	_, err := dir.CreateObjectPool(ctx, Metadata{
		Pathname:        "/pool/a/",
		NumShards:       4,
		ShardingPolicy:  HashPolicy,
		ObjectLocations: map[string]uint32{"/pool/a/pinned": 9},
	})
	require.NoError(t, err)

	cache := NewCache(dir)
	loc, err := cache.Resolve(ctx, "/pool/a/pinned")
	require.NoError(t, err)
	assert.EqualValues(t, 9, loc.ShardIndex)
}

func TestResolveRangePolicyWithoutRangeTableErrors(t *testing.T) {
	dir := openTestDirectory(t)
	ctx := context.Background()
	_, err := dir.CreateObjectPool(ctx, Metadata{Pathname: "/pool/a/", ShardingPolicy: RangePolicy})
	require.NoError(t, err)

	cache := NewCache(dir)
	_, err = cache.Resolve(ctx, "/pool/a/x")
	assert.ErrorIs(t, err, flowerr.ErrPolicyError)
}

func TestResolveMissingPoolReturnsNotFound(t *testing.T) {
	dir := openTestDirectory(t)
	cache := NewCache(dir)
	_, err := cache.Resolve(context.Background(), "/nowhere/x")
	assert.ErrorIs(t, err, flowerr.ErrNotFound)
}

func TestResolveRefreshesCacheOnMissAfterLatePoolCreation(t *testing.T) {
	dir := openTestDirectory(t)
	ctx := context.Background()
	cache := NewCache(dir)

	_, err := cache.Resolve(ctx, "/pool/a/x")
	assert.ErrorIs(t, err, flowerr.ErrNotFound)

	_, err = dir.CreateObjectPool(ctx, Metadata{Pathname: "/pool/a/", NumShards: 1, ShardingPolicy: HashPolicy})
	require.NoError(t, err)

	loc, err := cache.Resolve(ctx, "/pool/a/x")
	require.NoError(t, err)
	assert.EqualValues(t, 0, loc.ShardIndex)
}

func TestAffinityKeyExtractsFirstCaptureGroup(t *testing.T) {
	dir := openTestDirectory(t)
	ctx := context.Background()
	_, err := dir.CreateObjectPool(ctx, Metadata{
		Pathname:         "/pool/a/",
		NumShards:        1,
		AffinitySetRegex: `^/pool/a/([^/]+)/`,
	})
	require.NoError(t, err)

	cache := NewCache(dir)
	key, ok, err := cache.AffinityKey(ctx, "/pool/a/", "/pool/a/tenant42/x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tenant42", key)
}

func TestAffinityKeyReturnsFalseWhenNoRegexConfigured(t *testing.T) {
	dir := openTestDirectory(t)
	ctx := context.Background()
	_, err := dir.CreateObjectPool(ctx, Metadata{Pathname: "/pool/a/", NumShards: 1})
	require.NoError(t, err)

	cache := NewCache(dir)
	_, ok, err := cache.AffinityKey(ctx, "/pool/a/", "/pool/a/x")
	require.NoError(t, err)
	assert.False(t, ok)
}
