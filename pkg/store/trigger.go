package store

import (
	"context"

	"github.com/flowmesh/flowstore/pkg/groupruntime"
	"github.com/flowmesh/flowstore/pkg/object"
)

// TriggerNoStore stores nothing: every write API is a no-op returning the
// invalid sentinel; only TriggerPut is meaningful, and forwards straight
// to the critical-data-path observer with an ephemeral, never-persisted
// object.
type TriggerNoStore struct {
	shardIdentity
}

// NewTriggerNoStore constructs a trigger-no-store variant for shard.
func NewTriggerNoStore(shard groupruntime.ShardID, runtime groupruntime.Runtime, observer Observer) *TriggerNoStore {
	if observer == nil {
		observer = NopObserver{}
	}
	return &TriggerNoStore{shardIdentity: shardIdentity{shard: shard, runtime: runtime, observer: observer}}
}

func (t *TriggerNoStore) Put(ctx context.Context, key object.Key, blob []byte) (WriteResult, error) {
	return WriteResult{Version: object.InvalidVersion}, nil
}

func (t *TriggerNoStore) PutAndForget(ctx context.Context, key object.Key, blob []byte) error {
	return nil
}

func (t *TriggerNoStore) Remove(ctx context.Context, key object.Key) (WriteResult, error) {
	return WriteResult{Version: object.InvalidVersion}, nil
}

func (t *TriggerNoStore) TriggerPut(ctx context.Context, key object.Key, blob []byte) error {
	return forwardTrigger(ctx, t.shardIdentity, key, blob)
}

func (t *TriggerNoStore) Get(ctx context.Context, key object.Key, version object.Version, stable bool, exact bool) (object.Object, error) {
	return object.Invalid, nil
}

func (t *TriggerNoStore) MultiGet(ctx context.Context, key object.Key) (object.Object, error) {
	return object.Invalid, nil
}

func (t *TriggerNoStore) GetByTime(ctx context.Context, key object.Key, hlcUs int64, stable bool) (object.Object, error) {
	return object.Invalid, nil
}

func (t *TriggerNoStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}

func (t *TriggerNoStore) MultiListKeys(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}

func (t *TriggerNoStore) GetSize(ctx context.Context, key object.Key) (int, error) {
	return 0, nil
}

func (t *TriggerNoStore) MultiGetSize(ctx context.Context, key object.Key) (int, error) {
	return 0, nil
}

var _ CascadeStore = (*TriggerNoStore)(nil)
