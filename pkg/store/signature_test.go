package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/flowmesh/flowstore/pkg/groupruntime/loopback"
	"github.com/flowmesh/flowstore/pkg/object"
)

func newTestSignature(t *testing.T) *Signature {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "shard.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rt := loopback.New(1)
	s, err := NewSignature(testShard(), rt, nil, db)
	require.NoError(t, err)
	return s
}

func TestSignatureHashVersionForDataUpperBound(t *testing.T) {
	s := newTestSignature(t)
	ctx := context.Background()

	_, err := s.PutHash(ctx, "/a/x", 10, []byte("sig-at-10"))
	require.NoError(t, err)
	_, err = s.PutHash(ctx, "/a/x", 20, []byte("sig-at-20"))
	require.NoError(t, err)

	assert.Equal(t, object.InvalidVersion, s.HashVersionForData(5), "before any recorded data version")
	assert.Equal(t, object.Version(1), s.HashVersionForData(10))
	assert.Equal(t, object.Version(1), s.HashVersionForData(15), "resolves to the nearest data version at or before")
	assert.Equal(t, object.Version(2), s.HashVersionForData(25))
}

func TestSignatureGetSignatureRoundTrips(t *testing.T) {
	s := newTestSignature(t)
	ctx := context.Background()

	_, err := s.PutHash(ctx, "/a/x", 10, []byte("sig-at-10"))
	require.NoError(t, err)

	sig, _, ok, err := s.GetSignature(ctx, 10, true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sig-at-10", string(sig))
}

func TestSignatureGetSignatureBeforeAnyHashReturnsNotOK(t *testing.T) {
	s := newTestSignature(t)
	_, _, ok, err := s.GetSignature(context.Background(), 1, true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignaturePutAndRemoveCarryTheStoreContract(t *testing.T) {
	s := newTestSignature(t)
	ctx := context.Background()

	res, err := s.Put(ctx, "/a/x", []byte("hash-bytes"))
	require.NoError(t, err)
	assert.Equal(t, object.Version(1), res.Version)

	got, err := s.Get(ctx, "/a/x", object.CurrentVersion, false, false)
	require.NoError(t, err)
	assert.Equal(t, "hash-bytes", string(got.Blob))

	_, err = s.Remove(ctx, "/a/x")
	require.NoError(t, err)
	got, err = s.Get(ctx, "/a/x", object.CurrentVersion, false, false)
	require.NoError(t, err)
	assert.True(t, got.IsNull())
}

func TestSignatureGetCurrentReturnsLatestHashBlob(t *testing.T) {
	s := newTestSignature(t)
	ctx := context.Background()
	_, err := s.PutHash(ctx, "/a/x", 10, []byte("sig-at-10"))
	require.NoError(t, err)

	got, err := s.Get(ctx, "/a/x", object.CurrentVersion, false, false)
	require.NoError(t, err)
	assert.Equal(t, "sig-at-10", string(got.Blob))
}
