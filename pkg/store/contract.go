// Package store implements the CascadeStore contract: four per-shard
// store variants — Volatile, Persistent, Signature, and Trigger-no-store —
// sharing one client-facing/ordered operation surface over the delta
// store core (pkg/deltastore) and versioned log adapter (pkg/versionlog),
// and a critical-data-path observer hook fired on every accepted mutation.
package store

import (
	"context"

	"github.com/flowmesh/flowstore/pkg/groupruntime"
	"github.com/flowmesh/flowstore/pkg/object"
)

// WriteResult is returned by every write operation: the version and HLC
// timestamp the runtime minted for the mutation.
type WriteResult struct {
	Version     object.Version
	TimestampUs int64
}

// CascadeStore is the client-facing operation surface every variant
// implements. Operations prefixed Multi use totally-ordered delivery for
// read-after-write consistency; unprefixed reads are lockless
// point-to-point and reflect only the contacted replica's delivered
// state.
type CascadeStore interface {
	Put(ctx context.Context, key object.Key, blob []byte) (WriteResult, error)
	PutAndForget(ctx context.Context, key object.Key, blob []byte) error
	Remove(ctx context.Context, key object.Key) (WriteResult, error)
	TriggerPut(ctx context.Context, key object.Key, blob []byte) error

	Get(ctx context.Context, key object.Key, version object.Version, stable bool, exact bool) (object.Object, error)
	MultiGet(ctx context.Context, key object.Key) (object.Object, error)
	GetByTime(ctx context.Context, key object.Key, hlcUs int64, stable bool) (object.Object, error)
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	MultiListKeys(ctx context.Context, prefix string) ([]string, error)
	GetSize(ctx context.Context, key object.Key) (int, error)
	MultiGetSize(ctx context.Context, key object.Key) (int, error)
}

// ObservedMutation is what the critical-data-path observer receives on
// every accepted ordered mutation and every trigger_put.
type ObservedMutation struct {
	SubgroupIndex uint32
	ShardIndex    uint32
	SenderID      uint64
	Key           object.Key
	Value         object.Object
	IsTrigger     bool
}

// Observer is the critical-data-path observer contract: invoked from
// every store variant on every accepted mutation (ordered_put-derived)
// and every trigger_put. Implementations look up the mutated key's
// pathname in the prefix registry and post Actions to the execution
// engine; see pkg/dispatch.
type Observer interface {
	Observe(ctx context.Context, m ObservedMutation)
}

// NopObserver discards every mutation; used when a store variant is
// constructed without the dispatch pipeline wired in (e.g. in tests).
type NopObserver struct{}

func (NopObserver) Observe(context.Context, ObservedMutation) {}

// shardIdentity is embedded by every variant for the fields common to all
// of them: which shard they are, the runtime they submit ordered
// mutations through, and the observer they fire on acceptance.
type shardIdentity struct {
	shard    groupruntime.ShardID
	runtime  groupruntime.Runtime
	observer Observer
}

func (s shardIdentity) senderID() uint64 {
	return s.runtime.MyID()
}

// submitMutation runs apply on the shard's ordered-delivery thread via the
// runtime, then fires the critical-data-path observer with the stored
// object — shared by every variant's Put/Remove.
func submitMutation(ctx context.Context, s shardIdentity, apply func(version object.Version, hlcUs int64) (object.Object, error)) (WriteResult, error) {
	var result WriteResult
	var stored object.Object

	err := s.runtime.SubmitOrdered(ctx, s.shard, func(version object.Version, hlcUs int64) error {
		o, err := apply(version, hlcUs)
		if err != nil {
			return err
		}
		stored = o
		result = WriteResult{Version: version, TimestampUs: hlcUs}
		return nil
	})
	if err != nil {
		return WriteResult{}, err
	}

	s.observer.Observe(ctx, ObservedMutation{
		SubgroupIndex: s.shard.SubgroupIndex,
		ShardIndex:    s.shard.ShardIndex,
		SenderID:      s.senderID(),
		Key:           stored.Key,
		Value:         stored,
		IsTrigger:     false,
	})
	return result, nil
}

// forwardTrigger is every variant's TriggerPut: a trigger_put stores
// nothing, mints no version, and never touches the ordered path — it
// hands an ephemeral object straight to the critical-data-path observer
// with the trigger flag set.
func forwardTrigger(ctx context.Context, s shardIdentity, key object.Key, blob []byte) error {
	o := object.Object{
		Key:                  key,
		Blob:                 blob,
		Version:              object.InvalidVersion,
		PreviousVersion:      object.InvalidVersion,
		PreviousVersionByKey: object.InvalidVersion,
	}
	s.observer.Observe(ctx, ObservedMutation{
		SubgroupIndex: s.shard.SubgroupIndex,
		ShardIndex:    s.shard.ShardIndex,
		SenderID:      s.senderID(),
		Key:           key,
		Value:         o,
		IsTrigger:     true,
	})
	return nil
}

// runOrderedRead runs fn after every mutation already submitted on shard
// has been delivered — the Multi* read operations' read-after-write
// guarantee.
func runOrderedRead(ctx context.Context, s shardIdentity, fn func() error) error {
	return s.runtime.RunOrdered(ctx, s.shard, fn)
}

// globalPersistedNotifier is satisfied by *versionlog.Log.
type globalPersistedNotifier interface {
	NotifyGlobalPersisted(version object.Version)
}

// logPersistenceBridge registers log as a groupruntime.PersistenceListener
// for shard's subgroup, translating the runtime's global-persistence
// callback into the log's own frontier so ResolveStable has a frontier to
// wait on even before the persistence observer is started.
func logPersistenceBridge(shard groupruntime.ShardID, runtime groupruntime.Runtime, log globalPersistedNotifier) {
	runtime.RegisterPersistenceListener(shard.SubgroupIndex, persistenceBridgeListener{shard: shard, log: log})
}

type persistenceBridgeListener struct {
	shard groupruntime.ShardID
	log   globalPersistedNotifier
}

func (p persistenceBridgeListener) LocalPersisted(shard groupruntime.ShardID, version object.Version) {}

func (p persistenceBridgeListener) GlobalPersisted(shard groupruntime.ShardID, version object.Version) {
	if shard != p.shard {
		return
	}
	p.log.NotifyGlobalPersisted(version)
}
