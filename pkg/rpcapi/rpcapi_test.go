package rpcapi

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/flowmesh/flowstore/pkg/groupruntime"
	"github.com/flowmesh/flowstore/pkg/groupruntime/loopback"
	"github.com/flowmesh/flowstore/pkg/store"
)

const testType uint32 = 7

func startTestServer(t *testing.T) (addr string, shard groupruntime.ShardID) {
	t.Helper()
	rt := loopback.New(1)
	shard = groupruntime.ShardID{SubgroupIndex: 0, ShardIndex: 0}
	vol := store.NewVolatile(shard, rt, nil)

	srv := NewServer(func(typeIndex uint32, sh groupruntime.ShardID) (store.CascadeStore, bool) {
		if typeIndex == testType && sh == shard {
			return vol, true
		}
		return nil, false
	}, nil)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.GRPCServer().Serve(lis) }()
	t.Cleanup(srv.GRPCServer().Stop)

	return lis.Addr().String(), shard
}

func TestClientPutThenGetRoundTrips(t *testing.T) {
	addr, shard := startTestServer(t)

	conn, err := dial(addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := NewClient(conn, testType, shard)
	ctx := context.Background()

	res, err := c.Put(ctx, "/x", []byte("hello"))
	require.NoError(t, err)
	assert.Greater(t, int64(res.Version), int64(0))

	got, err := c.Get(ctx, "/x", -2, false, false)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got.Blob))
}

func TestClientUnknownShardReturnsUnavailable(t *testing.T) {
	addr, _ := startTestServer(t)

	conn, err := dial(addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	wrongShard := groupruntime.ShardID{SubgroupIndex: 9, ShardIndex: 9}
	c := NewClient(conn, testType, wrongShard)

	_, err = c.Put(context.Background(), "/x", []byte("v"))
	assert.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
