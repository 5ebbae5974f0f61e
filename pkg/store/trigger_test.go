package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowstore/pkg/groupruntime/loopback"
	"github.com/flowmesh/flowstore/pkg/object"
)

func TestTriggerNoStoreWritesAreNoOps(t *testing.T) {
	rt := loopback.New(1)
	tr := NewTriggerNoStore(testShard(), rt, nil)
	ctx := context.Background()

	res, err := tr.Put(ctx, "/a/x", []byte("ignored"))
	require.NoError(t, err)
	assert.Equal(t, object.InvalidVersion, res.Version)

	res, err = tr.Remove(ctx, "/a/x")
	require.NoError(t, err)
	assert.Equal(t, object.InvalidVersion, res.Version)

	require.NoError(t, tr.PutAndForget(ctx, "/a/x", []byte("ignored")))
}

func TestTriggerNoStoreReadsAreEmpty(t *testing.T) {
	rt := loopback.New(1)
	tr := NewTriggerNoStore(testShard(), rt, nil)
	ctx := context.Background()

	got, err := tr.Get(ctx, "/a/x", object.CurrentVersion, false, false)
	require.NoError(t, err)
	assert.False(t, got.IsValid())

	keys, err := tr.ListKeys(ctx, "/a/")
	require.NoError(t, err)
	assert.Nil(t, keys)

	size, err := tr.GetSize(ctx, "/a/x")
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}

func TestTriggerNoStoreTriggerPutForwardsEphemeralObjectToObserver(t *testing.T) {
	rt := loopback.New(1)
	obs := &recordingObserver{}
	tr := NewTriggerNoStore(testShard(), rt, obs)

	err := tr.TriggerPut(context.Background(), "/a/x", []byte("ephemeral"))
	require.NoError(t, err)

	require.Len(t, obs.mutations, 1)
	m := obs.mutations[0]
	assert.True(t, m.IsTrigger)
	assert.Equal(t, "ephemeral", string(m.Value.Blob))
	assert.Equal(t, object.InvalidVersion, m.Value.PreviousVersion)
}

var _ CascadeStore = (*TriggerNoStore)(nil)
