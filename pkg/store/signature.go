package store

import (
	"context"
	"sort"
	"sync/atomic"

	bolt "go.etcd.io/bbolt"

	"github.com/flowmesh/flowstore/pkg/deltastore"
	"github.com/flowmesh/flowstore/pkg/groupruntime"
	"github.com/flowmesh/flowstore/pkg/object"
	"github.com/flowmesh/flowstore/pkg/versionlog"
)

// dataHashEntry is one row of the append-only data_version→hash_version
// mapping: every PutHash pairs the hash_version it was assigned with the
// data-object version it signs.
type dataHashEntry struct {
	DataVersion object.Version
	HashVersion object.Version
}

// Signature is the store variant that holds hashes of data objects kept
// in a paired persistent data store, translating an incoming data_version
// to the corresponding hash_version via an upper-bound search over an
// append-only, copy-on-write sorted mapping. It carries the full
// CascadeStore surface (a hash object is an ordinary ordered mutation of
// this shard); PutHash additionally records the data-version pairing and
// the signature itself.
type Signature struct {
	shardIdentity
	b *deltastore.Store
	c *versionlog.Log

	mapping atomic.Pointer[[]dataHashEntry]
}

// NewSignature constructs a signature store variant backed by db.
func NewSignature(shard groupruntime.ShardID, runtime groupruntime.Runtime, observer Observer, db *bolt.DB) (*Signature, error) {
	c, err := versionlog.Open(db)
	if err != nil {
		return nil, err
	}
	if observer == nil {
		observer = NopObserver{}
	}
	logPersistenceBridge(shard, runtime, c)
	s := &Signature{
		shardIdentity: shardIdentity{shard: shard, runtime: runtime, observer: observer},
		b:             deltastore.New(),
		c:             c,
	}
	empty := []dataHashEntry{}
	s.mapping.Store(&empty)
	return s, nil
}

// Log exposes the shard's versioned delta log, for metrics polling and
// the persistence observer's frontier wiring.
func (s *Signature) Log() *versionlog.Log {
	return s.c
}

func (s *Signature) applyMutation(key object.Key, blob []byte, isRemove bool) func(object.Version, int64) (object.Object, error) {
	return func(version object.Version, hlcUs int64) (object.Object, error) {
		oldTail := s.c.LatestVersion()
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
			_, err = s.b.OrderedRemove(&o, oldTail)
		} else {
			_, err = s.b.OrderedPut(&o, oldTail)
		}
		if err != nil {
			return object.Object{}, err
		}
		delta, err := s.b.CurrentDeltaToBytes()
		if err != nil {
			return object.Object{}, err
		}
		if err := s.c.Append(version, hlcUs, key, delta); err != nil {
			return object.Object{}, err
		}
		s.b.Clean()
		return o, nil
	}
}

func (s *Signature) Put(ctx context.Context, key object.Key, blob []byte) (WriteResult, error) {
	return submitMutation(ctx, s.shardIdentity, s.applyMutation(key, blob, false))
}

func (s *Signature) PutAndForget(ctx context.Context, key object.Key, blob []byte) error {
	_, err := s.Put(ctx, key, blob)
	return err
}

func (s *Signature) Remove(ctx context.Context, key object.Key) (WriteResult, error) {
	return submitMutation(ctx, s.shardIdentity, s.applyMutation(key, nil, true))
}

func (s *Signature) TriggerPut(ctx context.Context, key object.Key, blob []byte) error {
	return forwardTrigger(ctx, s.shardIdentity, key, blob)
}

// PutHash records hash as the signature of dataVersion: it stores hash as
// an ordinary ordered mutation under key (so it has its own hash_version
// in this shard's log), records the signature in the log's signature
// bucket, and appends the (data_version, hash_version) pair to the CoW
// mapping.
func (s *Signature) PutHash(ctx context.Context, key object.Key, dataVersion object.Version, hash []byte) (WriteResult, error) {
	mutate := s.applyMutation(key, hash, false)
	return submitMutation(ctx, s.shardIdentity, func(version object.Version, hlcUs int64) (object.Object, error) {
		o, err := mutate(version, hlcUs)
		if err != nil {
			return object.Object{}, err
		}
		if err := s.c.PutSignature(version, hash); err != nil {
			return object.Object{}, err
		}
		s.appendMapping(dataVersion, version)
		return o, nil
	})
}

func (s *Signature) appendMapping(dataVersion, hashVersion object.Version) {
	for {
		old := s.mapping.Load()
		next := make([]dataHashEntry, len(*old), len(*old)+1)
		copy(next, *old)
		next = append(next, dataHashEntry{DataVersion: dataVersion, HashVersion: hashVersion})
		if s.mapping.CompareAndSwap(old, &next) {
			return
		}
	}
}

// HashVersionForData resolves dataVersion to the most recently assigned
// hash_version at or before it — an upper-bound binary search over the
// sorted CoW mapping.
func (s *Signature) HashVersionForData(dataVersion object.Version) object.Version {
	entries := *s.mapping.Load()
	idx := sort.Search(len(entries), func(i int) bool { return entries[i].DataVersion > dataVersion })
	if idx == 0 {
		return object.InvalidVersion
	}
	return entries[idx-1].HashVersion
}

// GetSignature returns the signature recorded for the hash_version paired
// with dataVersion, and the data version paired with the previously
// signed hash_version in the same log.
func (s *Signature) GetSignature(ctx context.Context, dataVersion object.Version, exact bool) (sig []byte, prevSignedData object.Version, ok bool, err error) {
	hashVersion := s.HashVersionForData(dataVersion)
	if hashVersion == object.InvalidVersion {
		return nil, object.InvalidVersion, false, nil
	}
	sig, prevHashVersion, ok, err := s.c.Signature(ctx, hashVersion, exact)
	if err != nil || !ok {
		return sig, object.InvalidVersion, ok, err
	}
	return sig, s.dataVersionForHash(prevHashVersion), ok, nil
}

func (s *Signature) dataVersionForHash(hashVersion object.Version) object.Version {
	entries := *s.mapping.Load()
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].HashVersion == hashVersion {
			return entries[i].DataVersion
		}
	}
	return object.InvalidVersion
}

func (s *Signature) Get(ctx context.Context, key object.Key, version object.Version, stable bool, exact bool) (object.Object, error) {
	if version == object.CurrentVersion && !stable {
		return s.b.LocklessGet(key), nil
	}
	if stable {
		resolved, err := s.c.ResolveStable(ctx, version)
		if err != nil {
			return object.Object{}, err
		}
		version = resolved
	}
	return s.c.GetForKey(key, version)
}

func (s *Signature) MultiGet(ctx context.Context, key object.Key) (object.Object, error) {
	var result object.Object
	err := runOrderedRead(ctx, s.shardIdentity, func() error {
		result = s.b.OrderedGet(key)
		return nil
	})
	return result, err
}

// GetByTime resolves hlcUs against this shard's own log, the same way
// the persistent variant does.
func (s *Signature) GetByTime(ctx context.Context, key object.Key, hlcUs int64, stable bool) (object.Object, error) {
	version := s.c.VersionAtTimeForKey(key, hlcUs)
	if version == object.InvalidVersion {
		return object.Invalid, nil
	}
	if stable {
		resolved, err := s.c.ResolveStable(ctx, version)
		if err != nil {
			return object.Object{}, err
		}
		version = resolved
	}
	return s.c.GetForKey(key, version)
}

func (s *Signature) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	return s.b.LocklessListKeys(prefix), nil
}

func (s *Signature) MultiListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := runOrderedRead(ctx, s.shardIdentity, func() error {
		keys = s.b.OrderedListKeys(prefix)
		return nil
	})
	return keys, err
}

func (s *Signature) GetSize(ctx context.Context, key object.Key) (int, error) {
	return s.b.LocklessGetSize(key), nil
}

func (s *Signature) MultiGetSize(ctx context.Context, key object.Key) (int, error) {
	var size int
	err := runOrderedRead(ctx, s.shardIdentity, func() error {
		size = s.b.OrderedGetSize(key)
		return nil
	})
	return size, err
}

// RequestNotification, SubscribeToNotifications, and
// SubscribeToAllNotifications are reserved surface: declared so callers
// can program against them, intentionally inert until a notification
// transport exists for signed versions.
func (s *Signature) RequestNotification(ctx context.Context) error { return nil }

func (s *Signature) SubscribeToNotifications(ctx context.Context, pathname string) error { return nil }

func (s *Signature) SubscribeToAllNotifications(ctx context.Context) error { return nil }

var _ CascadeStore = (*Signature)(nil)
