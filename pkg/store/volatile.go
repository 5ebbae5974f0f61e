package store

import (
	"context"
	"sync/atomic"

	"github.com/flowmesh/flowstore/pkg/deltastore"
	"github.com/flowmesh/flowstore/pkg/flowerr"
	"github.com/flowmesh/flowstore/pkg/groupruntime"
	"github.com/flowmesh/flowstore/pkg/object"
)

// Volatile is the no-log store variant: writes land only in the delta
// store's lockless map. There is no persisted history, so stable reads
// and reads at a specific past version are unsupported, as is
// get_by_time. ListKeys includes tombstones, because a volatile delete
// inserts a null object rather than erasing the entry.
type Volatile struct {
	shardIdentity
	b    *deltastore.Store
	tail atomic.Int64
}

// NewVolatile constructs a volatile store variant for shard.
func NewVolatile(shard groupruntime.ShardID, runtime groupruntime.Runtime, observer Observer) *Volatile {
	if observer == nil {
		observer = NopObserver{}
	}
	v := &Volatile{
		shardIdentity: shardIdentity{shard: shard, runtime: runtime, observer: observer},
		b:             deltastore.New(),
	}
	v.tail.Store(int64(object.InvalidVersion))
	return v
}

func (v *Volatile) applyMutation(key object.Key, blob []byte, isRemove bool) func(object.Version, int64) (object.Object, error) {
	return func(version object.Version, hlcUs int64) (object.Object, error) {
		oldTail := object.Version(v.tail.Load())
		var o object.Object
		if isRemove {
			o = object.Tombstone(key)
		} else {
			o = object.Object{Key: key, Blob: blob}
		}
		o.Version = version
		o.TimestampUs = hlcUs

		var err error
		if isRemove {
			_, err = v.b.OrderedRemove(&o, oldTail)
		} else {
			_, err = v.b.OrderedPut(&o, oldTail)
		}
		if err != nil {
			return object.Object{}, err
		}
		v.tail.Store(int64(version))
		return o, nil
	}
}

func (v *Volatile) Put(ctx context.Context, key object.Key, blob []byte) (WriteResult, error) {
	return submitMutation(ctx, v.shardIdentity, v.applyMutation(key, blob, false))
}

func (v *Volatile) PutAndForget(ctx context.Context, key object.Key, blob []byte) error {
	_, err := v.Put(ctx, key, blob)
	return err
}

func (v *Volatile) Remove(ctx context.Context, key object.Key) (WriteResult, error) {
	return submitMutation(ctx, v.shardIdentity, v.applyMutation(key, nil, true))
}

func (v *Volatile) TriggerPut(ctx context.Context, key object.Key, blob []byte) error {
	return forwardTrigger(ctx, v.shardIdentity, key, blob)
}

// Get ignores stable and exact: with no log there is no frontier to
// wait on and no history to match against. A non-current version has
// nothing to resolve to, so it yields the invalid sentinel rather than
// an error.
func (v *Volatile) Get(ctx context.Context, key object.Key, version object.Version, stable bool, exact bool) (object.Object, error) {
	if version != object.CurrentVersion {
		return object.Invalid, nil
	}
	return v.b.LocklessGet(key), nil
}

func (v *Volatile) MultiGet(ctx context.Context, key object.Key) (object.Object, error) {
	var result object.Object
	err := runOrderedRead(ctx, v.shardIdentity, func() error {
		result = v.b.OrderedGet(key)
		return nil
	})
	return result, err
}

func (v *Volatile) GetByTime(ctx context.Context, key object.Key, hlcUs int64, stable bool) (object.Object, error) {
	return object.Object{}, flowerr.Wrap(flowerr.ErrPolicyError, "volatile store does not support get_by_time")
}

func (v *Volatile) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	return v.b.LocklessListKeys(prefix), nil
}

func (v *Volatile) MultiListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := runOrderedRead(ctx, v.shardIdentity, func() error {
		keys = v.b.OrderedListKeys(prefix)
		return nil
	})
	return keys, err
}

func (v *Volatile) GetSize(ctx context.Context, key object.Key) (int, error) {
	return v.b.LocklessGetSize(key), nil
}

func (v *Volatile) MultiGetSize(ctx context.Context, key object.Key) (int, error) {
	var size int
	err := runOrderedRead(ctx, v.shardIdentity, func() error {
		size = v.b.OrderedGetSize(key)
		return nil
	})
	return size, err
}

var _ CascadeStore = (*Volatile)(nil)
