// Package client implements the client facade: member selection across
// shard replicas, object-pool-aware routing through the metadata
// directory, and notification fan-out, over whichever CascadeStore
// handles a StoreLocator resolves a shard to.
package client

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/flowmesh/flowstore/pkg/flowerr"
	"github.com/flowmesh/flowstore/pkg/groupruntime"
	"github.com/flowmesh/flowstore/pkg/object"
	"github.com/flowmesh/flowstore/pkg/poolmeta"
	"github.com/flowmesh/flowstore/pkg/store"
)

// StoreLocator resolves a (subgroup type, shard) pair to the CascadeStore
// handles of its replica set, keyed by member id — the facade's seam to
// the point-to-point transport. pkg/rpcapi's client stub implements this
// over the wire; the in-process LocalLocator below implements it
// directly for single-node deployment and tests.
type StoreLocator interface {
	Stores(ctx context.Context, typeIndex uint32, shard groupruntime.ShardID) (map[uint64]store.CascadeStore, error)
}

// LocalLocator is an in-process StoreLocator: every shard maps to exactly
// one locally-held CascadeStore, reported under the runtime's own member
// id — the shape a single-node (loopback) deployment uses.
type LocalLocator struct {
	runtime groupruntime.Runtime

	mu     sync.RWMutex
	shards map[groupruntime.ShardID]store.CascadeStore
}

// NewLocalLocator builds a locator reporting shards under runtime's
// member id.
func NewLocalLocator(runtime groupruntime.Runtime) *LocalLocator {
	return &LocalLocator{runtime: runtime, shards: make(map[groupruntime.ShardID]store.CascadeStore)}
}

// Register associates shard with its locally-held store handle.
func (l *LocalLocator) Register(shard groupruntime.ShardID, s store.CascadeStore) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shards[shard] = s
}

// Stores implements StoreLocator.
func (l *LocalLocator) Stores(ctx context.Context, typeIndex uint32, shard groupruntime.ShardID) (map[uint64]store.CascadeStore, error) {
	l.mu.RLock()
	s, ok := l.shards[shard]
	l.mu.RUnlock()
	if !ok {
		return nil, flowerr.Wrap(flowerr.ErrTransport, "client: no local store registered for shard %+v", shard)
	}
	return map[uint64]store.CascadeStore{l.runtime.MyID(): s}, nil
}

// opConfig is the per-call member-selection configuration a caller may
// override via Option.
type opConfig struct {
	policy     MemberPolicy
	userMember uint64
	maxRetries int
}

// Option customizes one Facade/ShardOp call.
type Option func(*opConfig)

// WithPolicy overrides the member-selection policy for one call.
func WithPolicy(p MemberPolicy) Option { return func(c *opConfig) { c.policy = p } }

// WithUserMember names the member id to contact under UserSpecifiedMember.
func WithUserMember(id uint64) Option { return func(c *opConfig) { c.userMember = id } }

// WithMaxRetries overrides the transport-retry bound for one call.
func WithMaxRetries(n int) Option { return func(c *opConfig) { c.maxRetries = n } }

const defaultMaxRetries = 3

func defaultOpConfig() opConfig {
	return opConfig{policy: FirstMember, maxRetries: defaultMaxRetries}
}

// PoolDirectory is the subset of poolmeta.Directory the facade forwards
// create/remove/find calls to, so application code has one entry point
// for both data and metadata operations.
type PoolDirectory interface {
	CreateObjectPool(ctx context.Context, m poolmeta.Metadata) (poolmeta.Metadata, error)
	RemoveObjectPool(ctx context.Context, pathname string) (poolmeta.Metadata, error)
	FindObjectPool(ctx context.Context, pathname string) (poolmeta.Metadata, bool, error)
}

// Facade is the client-facing entry point: object-pool-aware CascadeStore
// operations, a pinned-shard escape hatch (ShardOp), and notification
// registration/dispatch.
type Facade struct {
	runtime groupruntime.Runtime
	pools   *poolmeta.Cache
	dir     PoolDirectory

	mu       sync.RWMutex
	locators map[uint32]StoreLocator

	sel         *memberSelector
	poolGroup   singleflight.Group
	defaultOpts opConfig

	notifyMu  sync.RWMutex
	notify    map[notifyKey][]NotificationHandler
	sigNotify map[notifyKey][]SignatureNotificationHandler
}

// New builds a client facade over runtime and the given object-pool cache.
func New(runtime groupruntime.Runtime, pools *poolmeta.Cache) *Facade {
	return &Facade{
		runtime:     runtime,
		pools:       pools,
		locators:    make(map[uint32]StoreLocator),
		sel:         newMemberSelector(),
		defaultOpts: defaultOpConfig(),
		notify:      make(map[notifyKey][]NotificationHandler),
		sigNotify:   make(map[notifyKey][]SignatureNotificationHandler),
	}
}

// WithDirectory attaches dir so CreateObjectPool/RemoveObjectPool/
// FindObjectPool can be called through the facade directly; returns f for
// chaining at construction time.
func (f *Facade) WithDirectory(dir PoolDirectory) *Facade {
	f.dir = dir
	return f
}

// RegisterLocator associates a subgroup type index with the StoreLocator
// that resolves its shards.
func (f *Facade) RegisterLocator(typeIndex uint32, locator StoreLocator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locators[typeIndex] = locator
}

func (f *Facade) locatorFor(typeIndex uint32) (StoreLocator, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	l, ok := f.locators[typeIndex]
	if !ok {
		return nil, flowerr.Wrap(flowerr.ErrPolicyError, "client: no store locator registered for subgroup type %d", typeIndex)
	}
	return l, nil
}

func mergeOpts(base opConfig, opts []Option) opConfig {
	cfg := base
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// pickStore resolves one CascadeStore handle for shard under typeIndex,
// applying cfg's member-selection policy over the runtime's current
// member list for shard.
func (f *Facade) pickStore(ctx context.Context, typeIndex uint32, shard groupruntime.ShardID, key object.Key, cfg opConfig) (store.CascadeStore, error) {
	locator, err := f.locatorFor(typeIndex)
	if err != nil {
		return nil, err
	}
	stores, err := locator.Stores(ctx, typeIndex, shard)
	if err != nil {
		return nil, err
	}
	members := f.runtime.Members(shard)
	if len(members) == 0 {
		return nil, flowerr.Wrap(flowerr.ErrTransport, "client: shard %+v has no known members", shard)
	}
	sorted := append([]uint64(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	memberID := f.sel.selectMember(cfg.policy, shard, sorted, key, cfg.userMember)
	s, ok := stores[memberID]
	if !ok {
		return nil, flowerr.Wrap(flowerr.ErrTransport, "client: member %d has no reachable store handle for shard %+v", memberID, shard)
	}
	return s, nil
}

// withRetry runs fn at most cfg.maxRetries times in all (defaultMaxRetries
// when that is not positive), refreshing shard's sticky member-selection
// state after each transport failure. Other error kinds propagate
// immediately.
func (f *Facade) withRetry(shard groupruntime.ShardID, cfg opConfig, fn func() error) error {
	retries := cfg.maxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	var err error
	for attempt := 0; attempt < retries; attempt++ {
		err = fn()
		if err == nil || flowerr.Of(err) != flowerr.KindTransport {
			return err
		}
		f.sel.forget(shard)
	}
	return err
}

// resolvePool resolves key's placement through the object-pool cache,
// deduplicating concurrent misses for the same key behind a singleflight
// group so a cold cache under concurrent load issues one refresh, not N.
func (f *Facade) resolvePool(ctx context.Context, key object.Key) (poolmeta.Location, error) {
	v, err, _ := f.poolGroup.Do(key, func() (any, error) {
		return f.pools.Resolve(ctx, key)
	})
	if err != nil {
		return poolmeta.Location{}, err
	}
	return v.(poolmeta.Location), nil
}

func shardOf(loc poolmeta.Location) groupruntime.ShardID {
	return groupruntime.ShardID{SubgroupIndex: loc.SubgroupIndex, ShardIndex: loc.ShardIndex}
}

// --- object-pool-aware CascadeStore surface ---

// Put resolves key's pool, picks a replica per policy, and performs an
// ordered put.
func (f *Facade) Put(ctx context.Context, key object.Key, blob []byte, opts ...Option) (store.WriteResult, error) {
	cfg := mergeOpts(f.defaultOpts, opts)
	loc, err := f.resolvePool(ctx, key)
	if err != nil {
		return store.WriteResult{}, err
	}
	shard := shardOf(loc)
	var result store.WriteResult
	err = f.withRetry(shard, cfg, func() error {
		s, err := f.pickStore(ctx, loc.SubgroupTypeIndex, shard, key, cfg)
		if err != nil {
			return err
		}
		result, err = s.Put(ctx, key, blob)
		return err
	})
	return result, err
}

// PutAndForget is Put without waiting for the write's acceptance result.
func (f *Facade) PutAndForget(ctx context.Context, key object.Key, blob []byte, opts ...Option) error {
	cfg := mergeOpts(f.defaultOpts, opts)
	loc, err := f.resolvePool(ctx, key)
	if err != nil {
		return err
	}
	shard := shardOf(loc)
	return f.withRetry(shard, cfg, func() error {
		s, err := f.pickStore(ctx, loc.SubgroupTypeIndex, shard, key, cfg)
		if err != nil {
			return err
		}
		return s.PutAndForget(ctx, key, blob)
	})
}

// Remove resolves key's pool and performs an ordered tombstoning remove.
func (f *Facade) Remove(ctx context.Context, key object.Key, opts ...Option) (store.WriteResult, error) {
	cfg := mergeOpts(f.defaultOpts, opts)
	loc, err := f.resolvePool(ctx, key)
	if err != nil {
		return store.WriteResult{}, err
	}
	shard := shardOf(loc)
	var result store.WriteResult
	err = f.withRetry(shard, cfg, func() error {
		s, err := f.pickStore(ctx, loc.SubgroupTypeIndex, shard, key, cfg)
		if err != nil {
			return err
		}
		result, err = s.Remove(ctx, key)
		return err
	})
	return result, err
}

// TriggerPut resolves key's pool and forwards an off-path trigger_put.
func (f *Facade) TriggerPut(ctx context.Context, key object.Key, blob []byte, opts ...Option) error {
	cfg := mergeOpts(f.defaultOpts, opts)
	loc, err := f.resolvePool(ctx, key)
	if err != nil {
		return err
	}
	shard := shardOf(loc)
	return f.withRetry(shard, cfg, func() error {
		s, err := f.pickStore(ctx, loc.SubgroupTypeIndex, shard, key, cfg)
		if err != nil {
			return err
		}
		return s.TriggerPut(ctx, key, blob)
	})
}

// Get performs a lockless, point-to-point read against whichever replica
// policy selects — only the contacted replica's delivered state.
func (f *Facade) Get(ctx context.Context, key object.Key, version object.Version, stable, exact bool, opts ...Option) (object.Object, error) {
	cfg := mergeOpts(f.defaultOpts, opts)
	loc, err := f.resolvePool(ctx, key)
	if err != nil {
		return object.Object{}, err
	}
	shard := shardOf(loc)
	var result object.Object
	err = f.withRetry(shard, cfg, func() error {
		s, err := f.pickStore(ctx, loc.SubgroupTypeIndex, shard, key, cfg)
		if err != nil {
			return err
		}
		result, err = s.Get(ctx, key, version, stable, exact)
		return err
	})
	return result, err
}

// MultiGet performs a totally-ordered read, for read-after-write
// consistency with prior puts already delivered.
func (f *Facade) MultiGet(ctx context.Context, key object.Key, opts ...Option) (object.Object, error) {
	cfg := mergeOpts(f.defaultOpts, opts)
	loc, err := f.resolvePool(ctx, key)
	if err != nil {
		return object.Object{}, err
	}
	shard := shardOf(loc)
	var result object.Object
	err = f.withRetry(shard, cfg, func() error {
		s, err := f.pickStore(ctx, loc.SubgroupTypeIndex, shard, key, cfg)
		if err != nil {
			return err
		}
		result, err = s.MultiGet(ctx, key)
		return err
	})
	return result, err
}

// GetByTime reads key's value as of hlcUs.
func (f *Facade) GetByTime(ctx context.Context, key object.Key, hlcUs int64, stable bool, opts ...Option) (object.Object, error) {
	cfg := mergeOpts(f.defaultOpts, opts)
	loc, err := f.resolvePool(ctx, key)
	if err != nil {
		return object.Object{}, err
	}
	shard := shardOf(loc)
	var result object.Object
	err = f.withRetry(shard, cfg, func() error {
		s, err := f.pickStore(ctx, loc.SubgroupTypeIndex, shard, key, cfg)
		if err != nil {
			return err
		}
		result, err = s.GetByTime(ctx, key, hlcUs, stable)
		return err
	})
	return result, err
}

// GetSize is Get, returning only the serialized size.
func (f *Facade) GetSize(ctx context.Context, key object.Key, opts ...Option) (int, error) {
	cfg := mergeOpts(f.defaultOpts, opts)
	loc, err := f.resolvePool(ctx, key)
	if err != nil {
		return 0, err
	}
	shard := shardOf(loc)
	var result int
	err = f.withRetry(shard, cfg, func() error {
		s, err := f.pickStore(ctx, loc.SubgroupTypeIndex, shard, key, cfg)
		if err != nil {
			return err
		}
		result, err = s.GetSize(ctx, key)
		return err
	})
	return result, err
}

// MultiGetSize is GetSize over the totally-ordered read path.
func (f *Facade) MultiGetSize(ctx context.Context, key object.Key, opts ...Option) (int, error) {
	cfg := mergeOpts(f.defaultOpts, opts)
	loc, err := f.resolvePool(ctx, key)
	if err != nil {
		return 0, err
	}
	shard := shardOf(loc)
	var result int
	err = f.withRetry(shard, cfg, func() error {
		s, err := f.pickStore(ctx, loc.SubgroupTypeIndex, shard, key, cfg)
		if err != nil {
			return err
		}
		result, err = s.MultiGetSize(ctx, key)
		return err
	})
	return result, err
}

// ListPoolKeys resolves pool pathname itself (not a key within it, since
// a key prefix may span the whole pool without naming one particular key
// the cache can resolve) and lists keys under prefix via the lockless
// read path.
func (f *Facade) ListPoolKeys(ctx context.Context, pathname, prefix string, opts ...Option) ([]string, error) {
	cfg := mergeOpts(f.defaultOpts, opts)
	loc, err := f.resolvePool(ctx, pathname)
	if err != nil {
		return nil, err
	}
	shard := shardOf(loc)
	var result []string
	err = f.withRetry(shard, cfg, func() error {
		s, err := f.pickStore(ctx, loc.SubgroupTypeIndex, shard, pathname, cfg)
		if err != nil {
			return err
		}
		result, err = s.ListKeys(ctx, prefix)
		return err
	})
	return result, err
}

// MultiListPoolKeys is ListPoolKeys over the totally-ordered read path.
func (f *Facade) MultiListPoolKeys(ctx context.Context, pathname, prefix string, opts ...Option) ([]string, error) {
	cfg := mergeOpts(f.defaultOpts, opts)
	loc, err := f.resolvePool(ctx, pathname)
	if err != nil {
		return nil, err
	}
	shard := shardOf(loc)
	var result []string
	err = f.withRetry(shard, cfg, func() error {
		s, err := f.pickStore(ctx, loc.SubgroupTypeIndex, shard, pathname, cfg)
		if err != nil {
			return err
		}
		result, err = s.MultiListKeys(ctx, prefix)
		return err
	})
	return result, err
}

// --- pinned-shard escape hatch (typed form, bypassing pool resolution) ---

// ShardOp pins every CascadeStore operation to one explicit (subgroup
// type, shard) rather than resolving placement through the object-pool
// cache — for callers that already know exactly where a key lives (the
// object-pool directory's own bootstrap, admin tooling, tests).
type ShardOp struct {
	f         *Facade
	typeIndex uint32
	shard     groupruntime.ShardID
	cfg       opConfig
}

// Shard pins subsequent operations to shard under typeIndex.
func (f *Facade) Shard(typeIndex uint32, shard groupruntime.ShardID, opts ...Option) *ShardOp {
	return &ShardOp{f: f, typeIndex: typeIndex, shard: shard, cfg: mergeOpts(f.defaultOpts, opts)}
}

func (s *ShardOp) store(ctx context.Context, key object.Key) (store.CascadeStore, error) {
	return s.f.pickStore(ctx, s.typeIndex, s.shard, key, s.cfg)
}

func (s *ShardOp) Put(ctx context.Context, key object.Key, blob []byte) (store.WriteResult, error) {
	var result store.WriteResult
	err := s.f.withRetry(s.shard, s.cfg, func() error {
		cs, err := s.store(ctx, key)
		if err != nil {
			return err
		}
		result, err = cs.Put(ctx, key, blob)
		return err
	})
	return result, err
}

func (s *ShardOp) Remove(ctx context.Context, key object.Key) (store.WriteResult, error) {
	var result store.WriteResult
	err := s.f.withRetry(s.shard, s.cfg, func() error {
		cs, err := s.store(ctx, key)
		if err != nil {
			return err
		}
		result, err = cs.Remove(ctx, key)
		return err
	})
	return result, err
}

func (s *ShardOp) TriggerPut(ctx context.Context, key object.Key, blob []byte) error {
	return s.f.withRetry(s.shard, s.cfg, func() error {
		cs, err := s.store(ctx, key)
		if err != nil {
			return err
		}
		return cs.TriggerPut(ctx, key, blob)
	})
}

func (s *ShardOp) Get(ctx context.Context, key object.Key, version object.Version, stable, exact bool) (object.Object, error) {
	var result object.Object
	err := s.f.withRetry(s.shard, s.cfg, func() error {
		cs, err := s.store(ctx, key)
		if err != nil {
			return err
		}
		result, err = cs.Get(ctx, key, version, stable, exact)
		return err
	})
	return result, err
}

func (s *ShardOp) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var result []string
	err := s.f.withRetry(s.shard, s.cfg, func() error {
		cs, err := s.store(ctx, prefix)
		if err != nil {
			return err
		}
		result, err = cs.ListKeys(ctx, prefix)
		return err
	})
	return result, err
}

// --- Router adapter for the dispatch observer's Emit callback ---

// Router is the surface pkg/dispatch's Observer uses to forward a UDL's
// emitted outputs back into the store — implemented here so a UDL's
// put/trigger_put calls re-enter the normal object-pool-aware path.
type Router struct{ f *Facade }

// NewRouter adapts f to pkg/dispatch.Router.
func NewRouter(f *Facade) Router { return Router{f: f} }

func (r Router) Put(ctx context.Context, key object.Key, blob []byte) error {
	_, err := r.f.Put(ctx, key, blob)
	return err
}

func (r Router) TriggerPut(ctx context.Context, key object.Key, blob []byte) error {
	return r.f.TriggerPut(ctx, key, blob)
}

// --- object-pool directory passthrough ---

func (f *Facade) CreateObjectPool(ctx context.Context, m poolmeta.Metadata) (poolmeta.Metadata, error) {
	if f.dir == nil {
		return poolmeta.Metadata{}, flowerr.Wrap(flowerr.ErrPolicyError, "client: no object-pool directory attached")
	}
	return f.dir.CreateObjectPool(ctx, m)
}

func (f *Facade) RemoveObjectPool(ctx context.Context, pathname string) (poolmeta.Metadata, error) {
	if f.dir == nil {
		return poolmeta.Metadata{}, flowerr.Wrap(flowerr.ErrPolicyError, "client: no object-pool directory attached")
	}
	return f.dir.RemoveObjectPool(ctx, pathname)
}

func (f *Facade) FindObjectPool(ctx context.Context, pathname string) (poolmeta.Metadata, bool, error) {
	if f.dir == nil {
		return poolmeta.Metadata{}, false, flowerr.Wrap(flowerr.ErrPolicyError, "client: no object-pool directory attached")
	}
	return f.dir.FindObjectPool(ctx, pathname)
}

// --- notification fan-out ---

// NotificationHandler receives a delivered mutation for subgroups it
// registered against.
type NotificationHandler func(subgroupTypeIndex, subgroupIndex uint32, obj object.Object)

// SignatureNotificationHandler receives a delivered signature-store
// mutation, tracked separately from data-object notifications.
type SignatureNotificationHandler func(subgroupTypeIndex, subgroupIndex uint32, version object.Version, sig []byte)

type notifyKey struct {
	typeIndex     uint32
	subgroupIndex uint32
	pathname      string
}

// Subscribe registers h for mutations under (typeIndex, subgroupIndex,
// pathname). An empty pathname is the catch-all for that subgroup.
func (f *Facade) Subscribe(typeIndex, subgroupIndex uint32, pathname string, h NotificationHandler) {
	f.notifyMu.Lock()
	defer f.notifyMu.Unlock()
	k := notifyKey{typeIndex, subgroupIndex, pathname}
	f.notify[k] = append(f.notify[k], h)
}

// SubscribeToAll registers h as the catch-all handler for (typeIndex,
// subgroupIndex), matching every pathname.
func (f *Facade) SubscribeToAll(typeIndex, subgroupIndex uint32, h NotificationHandler) {
	f.Subscribe(typeIndex, subgroupIndex, "", h)
}

// SubscribeSignature registers a signature-notification handler for
// (typeIndex, subgroupIndex, pathname), separate from data notifications.
func (f *Facade) SubscribeSignature(typeIndex, subgroupIndex uint32, pathname string, h SignatureNotificationHandler) {
	f.notifyMu.Lock()
	defer f.notifyMu.Unlock()
	k := notifyKey{typeIndex, subgroupIndex, pathname}
	f.sigNotify[k] = append(f.sigNotify[k], h)
}

// Notify delivers obj to every handler registered for (typeIndex,
// subgroupIndex, pathname(obj.Key)) plus the subgroup's catch-all. The
// transport that actually carries a notification from a remote replica
// to this client is the external runtime's notification channel; this is
// the in-process registration/dispatch side a loopback delivery path
// drives.
func (f *Facade) Notify(typeIndex, subgroupIndex uint32, obj object.Object) {
	pathname := object.Pathname(obj.Key)
	f.notifyMu.RLock()
	handlers := append([]NotificationHandler(nil), f.notify[notifyKey{typeIndex, subgroupIndex, pathname}]...)
	handlers = append(handlers, f.notify[notifyKey{typeIndex, subgroupIndex, ""}]...)
	f.notifyMu.RUnlock()
	for _, h := range handlers {
		h(typeIndex, subgroupIndex, obj)
	}
}

// NotifySignature delivers a signature event the same way Notify does
// for data objects.
func (f *Facade) NotifySignature(typeIndex, subgroupIndex uint32, pathname string, version object.Version, sig []byte) {
	f.notifyMu.RLock()
	handlers := append([]SignatureNotificationHandler(nil), f.sigNotify[notifyKey{typeIndex, subgroupIndex, pathname}]...)
	handlers = append(handlers, f.sigNotify[notifyKey{typeIndex, subgroupIndex, ""}]...)
	f.notifyMu.RUnlock()
	for _, h := range handlers {
		h(typeIndex, subgroupIndex, version, sig)
	}
}
