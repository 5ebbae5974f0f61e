// Package groupruntime defines the boundary this core consumes from the
// group-communication runtime: version/HLC minting and totally-ordered
// delivery on a single thread per shard, plus local/global persistence
// frontier callbacks. The runtime itself — view management, atomic
// multicast, RDMA transport, signing — is this core's own collaborator,
// not something implemented here; the two adapters under this package
// (raftruntime, loopback) are reference implementations of the boundary,
// not the runtime itself.
package groupruntime

import (
	"context"

	"github.com/flowmesh/flowstore/pkg/object"
)

// ShardID names one shard of one subgroup.
type ShardID struct {
	SubgroupIndex uint32
	ShardIndex    uint32
}

// Deliver is invoked exactly once per accepted ordered operation, on the
// shard's single ordered-delivery thread, with the version and HLC
// timestamp the runtime minted for it.
type Deliver func(version object.Version, hlcUs int64) error

// PersistenceListener receives the runtime's local/global persistence
// frontier callbacks for a shard — consumed by the persistence observer
// and the version logs' stable-read frontier, not by store variants
// directly.
type PersistenceListener interface {
	LocalPersisted(shard ShardID, version object.Version)
	GlobalPersisted(shard ShardID, version object.Version)
}

// Runtime is the group-communication boundary the store variants and the
// persistence observer depend on.
type Runtime interface {
	// SubmitOrdered mints (version, hlc_us) for one ordered mutation on
	// shard and invokes deliver on the shard's ordered-delivery thread
	// before returning. Safe to call concurrently for different shards;
	// calls for the same shard serialize.
	SubmitOrdered(ctx context.Context, shard ShardID, deliver Deliver) error

	// RunOrdered runs fn after every previously submitted ordered
	// mutation on shard has been delivered, without minting a new
	// version — the multi_* read operations' read-after-write guarantee
	// rides on this rather than on SubmitOrdered.
	RunOrdered(ctx context.Context, shard ShardID, fn func() error) error

	// RegisterPersistenceListener subscribes to the local/global
	// persistence callback streams for every shard of subgroupIndex.
	RegisterPersistenceListener(subgroupIndex uint32, listener PersistenceListener)

	// Members returns the current member list for shard, for member
	// selection policies and ONE-dispatch UDL routing.
	Members(shard ShardID) []uint64

	// MyID returns this replica's member id within the runtime.
	MyID() uint64
}
