// Package raftruntime adapts hashicorp/raft into a groupruntime.Runtime:
// one Raft group per shard totally orders that shard's mutations, the
// applied log index is the shard's version, and the log entry's append
// timestamp is its HLC. TCP transport, file snapshot store, raft-boltdb
// log/stable stores, heartbeat/election timeouts tuned for LAN
// deployment.
package raftruntime

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/flowmesh/flowstore/pkg/groupruntime"
	"github.com/flowmesh/flowstore/pkg/log"
	"github.com/flowmesh/flowstore/pkg/object"
)

// Config configures a shard's Raft group. DataDir and BindAddr must be
// unique per (subgroup, shard) running on this process.
type Config struct {
	LocalID  string
	BindAddr string
	DataDir  string
}

// shardGroup is one shard's Raft instance plus the deliver callback it
// invokes from FSM.Apply.
type shardGroup struct {
	raft *raft.Raft
	fsm  *deliveringFSM
}

// Runtime is a groupruntime.Runtime backed by one Raft group per shard.
type Runtime struct {
	mu     sync.RWMutex
	groups map[groupruntime.ShardID]*shardGroup

	listenersMu sync.Mutex
	listeners   map[uint32][]groupruntime.PersistenceListener
}

// New constructs an empty multi-shard Raft runtime. Call Bootstrap for
// each shard this process hosts; joining an existing cluster is the
// deployment layer's concern.
func New() *Runtime {
	return &Runtime{
		groups:    make(map[groupruntime.ShardID]*shardGroup),
		listeners: make(map[uint32][]groupruntime.PersistenceListener),
	}
}

// Bootstrap stands up a single-member Raft group for shard, suitable for
// first-node cluster formation; joining an existing group is a cluster
// membership operation out of this adapter's scope.
func (r *Runtime) Bootstrap(shard groupruntime.ShardID, cfg Config) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("raftruntime: data dir: %w", err)
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.LocalID)
	raftCfg.HeartbeatTimeout = 500 * time.Millisecond
	raftCfg.ElectionTimeout = 500 * time.Millisecond
	raftCfg.CommitTimeout = 50 * time.Millisecond
	raftCfg.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("raftruntime: resolve bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("raftruntime: transport: %w", err)
	}
	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("raftruntime: snapshot store: %w", err)
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return fmt.Errorf("raftruntime: log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return fmt.Errorf("raftruntime: stable store: %w", err)
	}

	fsm := &deliveringFSM{}
	rft, err := raft.NewRaft(raftCfg, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("raftruntime: new raft: %w", err)
	}

	future := rft.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}},
	})
	if err := future.Error(); err != nil {
		return fmt.Errorf("raftruntime: bootstrap cluster: %w", err)
	}

	r.mu.Lock()
	r.groups[shard] = &shardGroup{raft: rft, fsm: fsm}
	r.mu.Unlock()

	go r.watchCommit(shard, rft)

	shardLog := log.WithShard(shard.SubgroupIndex, shard.ShardIndex)
	shardLog.Info().Msg("raft shard bootstrapped")
	return nil
}

// watchCommit polls this replica's applied index and fires global-persisted
// callbacks once an applied index has been replicated to a quorum — Raft
// guarantees that by the time Apply returns on the leader, so this mostly
// catches followers applying via AppendEntries replay.
func (r *Runtime) watchCommit(shard groupruntime.ShardID, rft *raft.Raft) {
	var lastNotified uint64
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if rft.State() == raft.Shutdown {
			return
		}
		idx := rft.AppliedIndex()
		if idx <= lastNotified {
			continue
		}
		lastNotified = idx
		r.listenersMu.Lock()
		ls := append([]groupruntime.PersistenceListener(nil), r.listeners[shard.SubgroupIndex]...)
		r.listenersMu.Unlock()
		for _, l := range ls {
			l.GlobalPersisted(shard, object.Version(idx))
		}
	}
}

// SubmitOrdered applies an opaque marker entry through Raft; the FSM's
// Apply mints (version=log.Index, hlc=log.AppendedAt) and invokes deliver
// on whichever replica's FSM processes the entry, in log order.
func (r *Runtime) SubmitOrdered(ctx context.Context, shard groupruntime.ShardID, deliver groupruntime.Deliver) error {
	r.mu.RLock()
	g, ok := r.groups[shard]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("raftruntime: no raft group for shard %+v", shard)
	}

	g.fsm.setPending(deliver)
	future := g.raft.Apply([]byte("ordered"), 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("raftruntime: apply: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}

	r.listenersMu.Lock()
	ls := append([]groupruntime.PersistenceListener(nil), r.listeners[shard.SubgroupIndex]...)
	r.listenersMu.Unlock()
	version := object.Version(future.Index())
	for _, l := range ls {
		l.LocalPersisted(shard, version)
	}
	return nil
}

// RunOrdered waits on a Raft barrier (a no-op log entry) so every
// previously submitted mutation on shard is applied locally, then runs fn.
// This is the read-after-write mechanism multi_* operations rely on,
// without minting a version for a read.
func (r *Runtime) RunOrdered(ctx context.Context, shard groupruntime.ShardID, fn func() error) error {
	r.mu.RLock()
	g, ok := r.groups[shard]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("raftruntime: no raft group for shard %+v", shard)
	}
	if err := g.raft.Barrier(10 * time.Second).Error(); err != nil {
		return fmt.Errorf("raftruntime: barrier: %w", err)
	}
	return fn()
}

// RegisterPersistenceListener subscribes listener to every shard of subgroupIndex.
func (r *Runtime) RegisterPersistenceListener(subgroupIndex uint32, listener groupruntime.PersistenceListener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners[subgroupIndex] = append(r.listeners[subgroupIndex], listener)
}

// Members returns the current Raft configuration's server IDs for shard,
// hashed to uint64 so callers have a stable numeric member id.
func (r *Runtime) Members(shard groupruntime.ShardID) []uint64 {
	r.mu.RLock()
	g, ok := r.groups[shard]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	cfgFuture := g.raft.GetConfiguration()
	if err := cfgFuture.Error(); err != nil {
		return nil
	}
	var ids []uint64
	for _, srv := range cfgFuture.Configuration().Servers {
		ids = append(ids, hashServerID(srv.ID))
	}
	return ids
}

// MyID is unused directly by this adapter; callers needing a stable local
// id should hash their configured Raft LocalID with hashServerID.
func (r *Runtime) MyID() uint64 {
	return 0
}

// ShardStats is a snapshot of one shard's Raft group state, for
// pkg/metrics to poll into gauges.
type ShardStats struct {
	IsLeader   bool
	LastIndex  uint64
	PeersTotal int
}

// Stats reports shard's current Raft group state. The second return value
// is false if this runtime hosts no group for shard.
func (r *Runtime) Stats(shard groupruntime.ShardID) (ShardStats, bool) {
	r.mu.RLock()
	g, ok := r.groups[shard]
	r.mu.RUnlock()
	if !ok {
		return ShardStats{}, false
	}
	stats := ShardStats{
		IsLeader:  g.raft.State() == raft.Leader,
		LastIndex: g.raft.LastIndex(),
	}
	if cfgFuture := g.raft.GetConfiguration(); cfgFuture.Error() == nil {
		stats.PeersTotal = len(cfgFuture.Configuration().Servers)
	}
	return stats, true
}

// Shards returns every shard this runtime currently hosts a Raft group for.
func (r *Runtime) Shards() []groupruntime.ShardID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	shards := make([]groupruntime.ShardID, 0, len(r.groups))
	for shard := range r.groups {
		shards = append(shards, shard)
	}
	return shards
}

func hashServerID(id raft.ServerID) uint64 {
	return object.HashString(string(id))
}

// deliveringFSM is the raft.FSM each shard's group runs: Apply mints
// (version, hlc) from the committed log entry and invokes whichever
// deliver callback SubmitOrdered staged for this application.
type deliveringFSM struct {
	mu      sync.Mutex
	pending groupruntime.Deliver
}

func (f *deliveringFSM) setPending(d groupruntime.Deliver) {
	f.mu.Lock()
	f.pending = d
	f.mu.Unlock()
}

func (f *deliveringFSM) Apply(l *raft.Log) interface{} {
	f.mu.Lock()
	d := f.pending
	f.pending = nil
	f.mu.Unlock()
	if d == nil {
		return nil
	}
	hlcUs := l.AppendedAt.UnixMicro()
	return d(object.Version(l.Index), hlcUs)
}

func (f *deliveringFSM) Snapshot() (raft.FSMSnapshot, error) {
	return emptySnapshot{}, nil
}

func (f *deliveringFSM) Restore(rc io.ReadCloser) error {
	return rc.Close()
}

type emptySnapshot struct{}

func (emptySnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (emptySnapshot) Release()                             {}
