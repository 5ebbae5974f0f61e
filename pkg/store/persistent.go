package store

import (
	"context"

	bolt "go.etcd.io/bbolt"

	"github.com/flowmesh/flowstore/pkg/deltastore"
	"github.com/flowmesh/flowstore/pkg/flowerr"
	"github.com/flowmesh/flowstore/pkg/groupruntime"
	"github.com/flowmesh/flowstore/pkg/object"
	"github.com/flowmesh/flowstore/pkg/versionlog"
)

// Persistent is the store variant whose writes go through both the delta
// store and the versioned log, supporting versioned, temporal, stable,
// and unstable reads.
type Persistent struct {
	shardIdentity
	b *deltastore.Store
	c *versionlog.Log
}

// NewPersistent constructs a persistent store variant backed by db.
// Callers hosting multiple persistent shards in one process pass one db
// per shard.
func NewPersistent(shard groupruntime.ShardID, runtime groupruntime.Runtime, observer Observer, db *bolt.DB) (*Persistent, error) {
	c, err := versionlog.Open(db)
	if err != nil {
		return nil, err
	}
	if observer == nil {
		observer = NopObserver{}
	}
	logPersistenceBridge(shard, runtime, c)
	return &Persistent{
		shardIdentity: shardIdentity{shard: shard, runtime: runtime, observer: observer},
		b:             deltastore.New(),
		c:             c,
	}, nil
}

// Log exposes the shard's versioned delta log, for metrics polling and
// the persistence observer's frontier wiring.
func (p *Persistent) Log() *versionlog.Log {
	return p.c
}

func (p *Persistent) applyMutation(key object.Key, blob []byte, isRemove bool) func(object.Version, int64) (object.Object, error) {
	return func(version object.Version, hlcUs int64) (object.Object, error) {
		oldTail := p.c.LatestVersion()
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
			_, err = p.b.OrderedRemove(&o, oldTail)
		} else {
			_, err = p.b.OrderedPut(&o, oldTail)
		}
		if err != nil {
			return object.Object{}, err
		}

		delta, err := p.b.CurrentDeltaToBytes()
		if err != nil {
			return object.Object{}, err
		}
		if err := p.c.Append(version, hlcUs, key, delta); err != nil {
			return object.Object{}, err
		}
		p.b.Clean()
		return o, nil
	}
}

func (p *Persistent) Put(ctx context.Context, key object.Key, blob []byte) (WriteResult, error) {
	return submitMutation(ctx, p.shardIdentity, p.applyMutation(key, blob, false))
}

func (p *Persistent) PutAndForget(ctx context.Context, key object.Key, blob []byte) error {
	_, err := p.Put(ctx, key, blob)
	return err
}

func (p *Persistent) Remove(ctx context.Context, key object.Key) (WriteResult, error) {
	return submitMutation(ctx, p.shardIdentity, p.applyMutation(key, nil, true))
}

func (p *Persistent) TriggerPut(ctx context.Context, key object.Key, blob []byte) error {
	return forwardTrigger(ctx, p.shardIdentity, key, blob)
}

// Get is the versioned read path. An unstable CURRENT read comes straight
// from the live in-memory map; a stable read first resolves the requested
// version through the global-persistence frontier (CURRENT resolves to
// the frontier itself, a specific version waits for it to cross).
func (p *Persistent) Get(ctx context.Context, key object.Key, version object.Version, stable bool, exact bool) (object.Object, error) {
	if version == object.CurrentVersion && !stable {
		return p.b.LocklessGet(key), nil
	}
	if stable {
		resolved, err := p.c.ResolveStable(ctx, version)
		if err != nil {
			return object.Object{}, err
		}
		version = resolved
	}
	return p.readAtOrBefore(key, version, exact)
}

func (p *Persistent) readAtOrBefore(key object.Key, version object.Version, exact bool) (object.Object, error) {
	if exact {
		o, found, err := p.c.GetDelta(version)
		if err != nil {
			return object.Object{}, err
		}
		if !found || o.Key != key {
			return object.Object{}, flowerr.Wrap(flowerr.ErrNotFound, "no exact version %d for key %q", version, key)
		}
		return o, nil
	}
	return p.c.GetForKey(key, version)
}

func (p *Persistent) MultiGet(ctx context.Context, key object.Key) (object.Object, error) {
	var result object.Object
	err := runOrderedRead(ctx, p.shardIdentity, func() error {
		result = p.b.OrderedGet(key)
		return nil
	})
	return result, err
}

// GetByTime resolves hlcUs to a version for key, via the frontier if
// stable, and returns the invalid object (not an error) when no mutation
// of key precedes hlcUs.
func (p *Persistent) GetByTime(ctx context.Context, key object.Key, hlcUs int64, stable bool) (object.Object, error) {
	version := p.c.VersionAtTimeForKey(key, hlcUs)
	if version == object.InvalidVersion {
		return object.Invalid, nil
	}
	if stable {
		resolved, err := p.c.ResolveStable(ctx, version)
		if err != nil {
			return object.Object{}, err
		}
		version = resolved
	}
	return p.readAtOrBefore(key, version, false)
}

// ListKeys returns keys under prefix whose latest mutation is not a
// tombstone.
func (p *Persistent) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	return filterTombstones(p.b, p.b.LocklessListKeys(prefix)), nil
}

func (p *Persistent) MultiListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := runOrderedRead(ctx, p.shardIdentity, func() error {
		keys = filterTombstones(p.b, p.b.OrderedListKeys(prefix))
		return nil
	})
	return keys, err
}

func filterTombstones(b *deltastore.Store, keys []string) []string {
	live := keys[:0:0]
	for _, k := range keys {
		if !b.LocklessGet(k).IsNull() {
			live = append(live, k)
		}
	}
	return live
}

func (p *Persistent) GetSize(ctx context.Context, key object.Key) (int, error) {
	return p.b.LocklessGetSize(key), nil
}

func (p *Persistent) MultiGetSize(ctx context.Context, key object.Key) (int, error) {
	var size int
	err := runOrderedRead(ctx, p.shardIdentity, func() error {
		size = p.b.OrderedGetSize(key)
		return nil
	})
	return size, err
}

var _ CascadeStore = (*Persistent)(nil)
