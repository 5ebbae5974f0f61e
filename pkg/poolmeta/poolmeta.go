// Package poolmeta implements the object-pool metadata directory: a
// small replicated key/value record per pool pathname (subgroup
// placement, sharding policy, affinity-set regex, per-key location
// overrides), plus the client-side cache and key→shard resolution
// algorithm built on top of it.
//
// The directory itself is a tiny persistent store over bbolt — one
// bucket, one JSON record per pathname.
package poolmeta

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/flowmesh/flowstore/pkg/flowerr"
	"github.com/flowmesh/flowstore/pkg/groupruntime"
	"github.com/flowmesh/flowstore/pkg/object"
	"github.com/flowmesh/flowstore/pkg/prefixtrie"
)

// ShardingPolicy selects how a pool resolves a key to a shard index once
// neither the cache nor an object_locations override has settled it.
type ShardingPolicy string

const (
	HashPolicy  ShardingPolicy = "HASH"
	RangePolicy ShardingPolicy = "RANGE"
)

// Metadata is one pool's directory record.
type Metadata struct {
	Pathname             string            `json:"pathname"`
	SubgroupTypeIndex    uint32            `json:"subgroup_type_index"`
	SubgroupIndex        uint32            `json:"subgroup_index"`
	NumShards            uint32            `json:"num_shards"`
	ShardingPolicy       ShardingPolicy    `json:"sharding_policy"`
	AffinitySetRegex     string            `json:"affinity_set_regex,omitempty"`
	ObjectLocations      map[string]uint32 `json:"object_locations,omitempty"`
	Deleted              bool              `json:"deleted"`
	Version              object.Version    `json:"version"`
	TimestampUs          int64             `json:"timestamp_us"`
	PreviousVersion      object.Version    `json:"previous_version"`
	PreviousVersionByKey object.Version    `json:"previous_version_by_key"`
}

var bucketPools = []byte("pools")

// Directory is the replicated object-pool metadata store: one reserved
// shard ordering create/remove through groupruntime the same way a
// CascadeStore variant orders a put, backed by one bbolt bucket.
type Directory struct {
	shard   groupruntime.ShardID
	runtime groupruntime.Runtime
	db      *bolt.DB
}

// Open opens (creating if absent) the pools bucket inside db and returns a
// Directory that orders its mutations through runtime on shard.
func Open(shard groupruntime.ShardID, runtime groupruntime.Runtime, db *bolt.DB) (*Directory, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPools)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("poolmeta: create bucket: %w", err)
	}
	return &Directory{shard: shard, runtime: runtime, db: db}, nil
}

func (d *Directory) read(pathname string) (Metadata, bool, error) {
	var m Metadata
	var found bool
	err := d.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketPools).Get([]byte(pathname))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &m)
	})
	return m, found, err
}

func (d *Directory) write(m Metadata) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPools).Put([]byte(m.Pathname), raw)
	})
}

// CreateObjectPool registers a new pool, or re-creates a previously
// tombstoned one, chaining its version history the way an ordered_put
// chains a key's previous_version.
func (d *Directory) CreateObjectPool(ctx context.Context, m Metadata) (Metadata, error) {
	if m.Pathname == "" {
		return Metadata{}, flowerr.Wrap(flowerr.ErrInvalidValue, "poolmeta: pathname required")
	}
	if m.ShardingPolicy == "" {
		m.ShardingPolicy = HashPolicy
	}
	if m.AffinitySetRegex != "" {
		if _, err := regexp.Compile(m.AffinitySetRegex); err != nil {
			return Metadata{}, flowerr.Wrap(flowerr.ErrInvalidValue, "poolmeta: affinity_set_regex: %v", err)
		}
	}

	existing, found, err := d.read(m.Pathname)
	if err != nil {
		return Metadata{}, err
	}
	if found && !existing.Deleted {
		return Metadata{}, flowerr.Wrap(flowerr.ErrInvalidValue, "poolmeta: pool %q already exists", m.Pathname)
	}

	err = d.runtime.SubmitOrdered(ctx, d.shard, func(version object.Version, hlcUs int64) error {
		m.Version = version
		m.TimestampUs = hlcUs
		m.PreviousVersion = object.InvalidVersion
		m.PreviousVersionByKey = object.InvalidVersion
		if found {
			m.PreviousVersion = existing.Version
			m.PreviousVersionByKey = existing.Version
		}
		m.Deleted = false
		return d.write(m)
	})
	if err != nil {
		return Metadata{}, err
	}
	return m, nil
}

// RemoveObjectPool tombstones pathname: deleted=true, retained for
// history, matching the store variants' tombstone-not-erase convention.
func (d *Directory) RemoveObjectPool(ctx context.Context, pathname string) (Metadata, error) {
	existing, found, err := d.read(pathname)
	if err != nil {
		return Metadata{}, err
	}
	if !found || existing.Deleted {
		return Metadata{}, flowerr.Wrap(flowerr.ErrNotFound, "poolmeta: pool %q not found", pathname)
	}

	var result Metadata
	err = d.runtime.SubmitOrdered(ctx, d.shard, func(version object.Version, hlcUs int64) error {
		result = existing
		result.Deleted = true
		result.Version = version
		result.TimestampUs = hlcUs
		result.PreviousVersion = existing.Version
		result.PreviousVersionByKey = existing.Version
		return d.write(result)
	})
	if err != nil {
		return Metadata{}, err
	}
	return result, nil
}

// FindObjectPool looks up pathname's current record, including tombstoned
// ones — callers that should not see removed pools check Deleted.
func (d *Directory) FindObjectPool(ctx context.Context, pathname string) (Metadata, bool, error) {
	return d.read(pathname)
}

// ListObjectPools returns every pool record, including tombstones.
func (d *Directory) ListObjectPools(ctx context.Context) ([]Metadata, error) {
	var out []Metadata
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPools).ForEach(func(k, v []byte) error {
			var m Metadata
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, m)
			return nil
		})
	})
	return out, err
}

// Location is a resolved key placement: which subgroup type, which
// subgroup instance, and which shard within it.
type Location struct {
	SubgroupTypeIndex uint32
	SubgroupIndex     uint32
	ShardIndex        uint32
}

// Source is the read surface a Cache refreshes itself from — satisfied by
// *Directory in production, a fake in tests.
type Source interface {
	ListObjectPools(ctx context.Context) ([]Metadata, error)
}

type cacheEntry struct {
	meta  Metadata
	regex *regexp.Regexp
}

// Cache is each client's local, unbounded ("LRU-free") mirror of the pool
// directory: a prefix trie keyed by pool pathname plus one compiled
// affinity-set regex per pool, refreshed wholesale from Source on a cache
// miss rather than incrementally invalidated entry by entry.
type Cache struct {
	source Source

	mu   sync.RWMutex
	trie *prefixtrie.Trie[*cacheEntry]
}

// NewCache builds an empty client-side cache backed by source.
func NewCache(source Source) *Cache {
	return &Cache{source: source, trie: prefixtrie.New[*cacheEntry]()}
}

// Refresh wholesale-reloads the cache from source, replacing every entry.
// Called on a resolution miss; NewCache does not call it.
func (c *Cache) Refresh(ctx context.Context) error {
	pools, err := c.source.ListObjectPools(ctx)
	if err != nil {
		return err
	}

	next := prefixtrie.New[*cacheEntry]()
	for _, m := range pools {
		if m.Deleted {
			continue
		}
		entry := &cacheEntry{meta: m}
		if m.AffinitySetRegex != "" {
			re, err := regexp.Compile(m.AffinitySetRegex)
			if err != nil {
				return flowerr.Wrap(flowerr.ErrInvalidValue, "poolmeta: pool %q affinity regex: %v", m.Pathname, err)
			}
			entry.regex = re
		}
		if err := next.Register(m.Pathname, entry); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.trie = next
	c.mu.Unlock()
	return nil
}

// Resolve implements the key→(subgroup_type_index, subgroup_index,
// shard_index) algorithm: (i) longest-prefix match against the cached
// pool directory, refreshing once on a miss; (ii) the matched pool's
// object_locations override; (iii) its sharding policy.
func (c *Cache) Resolve(ctx context.Context, key object.Key) (Location, error) {
	entry, err := c.longestPrefixMatch(ctx, key)
	if err != nil {
		return Location{}, err
	}

	if shardIndex, ok := entry.meta.ObjectLocations[key]; ok {
		return Location{
			SubgroupTypeIndex: entry.meta.SubgroupTypeIndex,
			SubgroupIndex:     entry.meta.SubgroupIndex,
			ShardIndex:        shardIndex,
		}, nil
	}

	switch entry.meta.ShardingPolicy {
	case RangePolicy:
		return Location{}, flowerr.Wrap(flowerr.ErrPolicyError, "poolmeta: pool %q uses RANGE sharding without a configured range table", entry.meta.Pathname)
	default:
		if entry.meta.NumShards == 0 {
			return Location{}, flowerr.Wrap(flowerr.ErrPolicyError, "poolmeta: pool %q has no shards configured", entry.meta.Pathname)
		}
		return Location{
			SubgroupTypeIndex: entry.meta.SubgroupTypeIndex,
			SubgroupIndex:     entry.meta.SubgroupIndex,
			ShardIndex:        uint32(object.HashString(key) % uint64(entry.meta.NumShards)),
		}, nil
	}
}

func (c *Cache) longestPrefixMatch(ctx context.Context, key object.Key) (*cacheEntry, error) {
	entry, ok := c.collect(key)
	if !ok {
		if err := c.Refresh(ctx); err != nil {
			return nil, err
		}
		entry, ok = c.collect(key)
		if !ok {
			return nil, flowerr.Wrap(flowerr.ErrNotFound, "poolmeta: no pool covers key %q", key)
		}
	}
	return entry, nil
}

// collect walks the cached trie and keeps the deepest (longest-prefix)
// match, since CollectForPrefixes emits shortest-match-first.
func (c *Cache) collect(key object.Key) (*cacheEntry, bool) {
	c.mu.RLock()
	trie := c.trie
	c.mu.RUnlock()

	var longest *cacheEntry
	trie.CollectForPrefixes(key, func(e *cacheEntry) { longest = e })
	return longest, longest != nil
}

// AffinityKey extracts pathname's affinity-set value from key using the
// pool's compiled regex (its first capture group), for grouping keys that
// must land on the same compute-pipeline worker. Returns false if the
// pool has no affinity regex configured or the regex does not match.
func (c *Cache) AffinityKey(ctx context.Context, pathname string, key object.Key) (string, bool, error) {
	c.mu.RLock()
	trie := c.trie
	c.mu.RUnlock()

	entry, ok := trie.Lookup(pathname)
	if !ok {
		if err := c.Refresh(ctx); err != nil {
			return "", false, err
		}
		c.mu.RLock()
		trie = c.trie
		c.mu.RUnlock()
		entry, ok = trie.Lookup(pathname)
		if !ok {
			return "", false, flowerr.Wrap(flowerr.ErrNotFound, "poolmeta: pool %q not found", pathname)
		}
	}
	if entry.regex == nil {
		return "", false, nil
	}
	m := entry.regex.FindStringSubmatch(key)
	if len(m) < 2 {
		return "", false, nil
	}
	return m[1], true, nil
}
