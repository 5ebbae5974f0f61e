// Package loopback is an in-process groupruntime.Runtime: a single
// replica acting as its own one-member subgroup. Version/HLC minting is a
// per-shard atomic counter plus wall-clock microseconds; delivery is a
// direct synchronous call; persistence is "local" and "global" in the
// same instant since there is only one replica. Intended for single-node
// deployment and tests.
package loopback

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/flowmesh/flowstore/pkg/groupruntime"
	"github.com/flowmesh/flowstore/pkg/object"
)

type shardState struct {
	mu      sync.Mutex // serializes ordered delivery per shard
	version atomic.Int64
}

// Runtime implements groupruntime.Runtime for a single in-process replica.
type Runtime struct {
	memberID uint64
	now      func() int64 // injected for deterministic tests; defaults to wall clock microseconds

	mu        sync.Mutex
	shards    map[groupruntime.ShardID]*shardState
	listeners map[uint32][]groupruntime.PersistenceListener
}

// Option configures a Runtime at construction.
type Option func(*Runtime)

// WithClock overrides the HLC-microsecond source, for deterministic tests.
func WithClock(now func() int64) Option {
	return func(r *Runtime) { r.now = now }
}

// New constructs a single-member loopback runtime.
func New(memberID uint64, opts ...Option) *Runtime {
	r := &Runtime{
		memberID:  memberID,
		shards:    make(map[groupruntime.ShardID]*shardState),
		listeners: make(map[uint32][]groupruntime.PersistenceListener),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.now == nil {
		r.now = wallClockMicros
	}
	return r
}

func (r *Runtime) shardFor(shard groupruntime.ShardID) *shardState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shards[shard]
	if !ok {
		// the counter starts at zero so the first minted version is 1,
		// keeping 0 unused and InvalidVersion (-1) strictly below every
		// real version.
		s = &shardState{}
		r.shards[shard] = s
	}
	return s
}

// SubmitOrdered mints the next version for shard and invokes deliver
// synchronously, then fires local and global persistence callbacks
// together since a loopback runtime has no other replicas to wait on.
func (r *Runtime) SubmitOrdered(ctx context.Context, shard groupruntime.ShardID, deliver groupruntime.Deliver) error {
	s := r.shardFor(shard)
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.version.Add(1)
	hlcUs := r.now()
	if err := deliver(object.Version(next), hlcUs); err != nil {
		return err
	}

	r.mu.Lock()
	listeners := append([]groupruntime.PersistenceListener(nil), r.listeners[shard.SubgroupIndex]...)
	r.mu.Unlock()
	for _, l := range listeners {
		l.LocalPersisted(shard, object.Version(next))
		l.GlobalPersisted(shard, object.Version(next))
	}
	return nil
}

// RunOrdered runs fn on shard's ordered lock, after any in-flight
// SubmitOrdered for the same shard, without minting a version.
func (r *Runtime) RunOrdered(ctx context.Context, shard groupruntime.ShardID, fn func() error) error {
	s := r.shardFor(shard)
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// RegisterPersistenceListener subscribes listener to every shard of subgroupIndex.
func (r *Runtime) RegisterPersistenceListener(subgroupIndex uint32, listener groupruntime.PersistenceListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[subgroupIndex] = append(r.listeners[subgroupIndex], listener)
}

// Members returns this loopback runtime's single member.
func (r *Runtime) Members(groupruntime.ShardID) []uint64 {
	return []uint64{r.memberID}
}

// MyID returns this replica's member id.
func (r *Runtime) MyID() uint64 {
	return r.memberID
}
