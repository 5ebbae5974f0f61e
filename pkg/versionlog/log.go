// Package versionlog implements the versioned log adapter: it wraps a
// delta store behind a persistable, time- and version-indexed log, and
// resolves stable vs. unstable reads against a global-persistence
// frontier advanced through NotifyGlobalPersisted.
//
// Persistence is one bbolt database with one bucket per concern: one
// bucket holds version→delta bytes, a second indexes timestamp→version
// for version_at_time, two more index (key, version)→delta and
// (key, timestamp)→version for per-key reads, and a fifth holds
// version→signature bytes (written only by the signature variant).
package versionlog

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	bolt "go.etcd.io/bbolt"

	"github.com/flowmesh/flowstore/pkg/flowerr"
	"github.com/flowmesh/flowstore/pkg/object"
)

var (
	bucketDeltas     = []byte("deltas")
	bucketByTime     = []byte("by_time")
	bucketByKeyVer   = []byte("by_key_version")
	bucketByKeyTime  = []byte("by_key_time")
	bucketSignatures = []byte("signatures")
)

const keySeparatorByte = byte(0)

// Log is one shard's persistent, versioned, temporally-indexed delta log.
type Log struct {
	db *bolt.DB

	latestVersion          atomic.Int64
	latestPersistedVersion atomic.Int64
	latestGlobalPersistedV atomic.Int64
	frontierMu             sync.Mutex
	frontierCond           *sync.Cond
}

// Open opens (creating if absent) the buckets this Log needs inside an
// already-open bbolt database. Callers hosting multiple shards pass one
// database per shard.
func Open(db *bolt.DB) (*Log, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDeltas, bucketByTime, bucketByKeyVer, bucketByKeyTime, bucketSignatures} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("versionlog: create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l := &Log{db: db}
	l.frontierCond = sync.NewCond(&l.frontierMu)
	l.latestVersion.Store(int64(object.InvalidVersion))
	l.latestPersistedVersion.Store(int64(object.InvalidVersion))
	l.latestGlobalPersistedV.Store(int64(object.InvalidVersion))
	return l, nil
}

func versionKey(v object.Version) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func timeKey(hlcUs int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(hlcUs))
	return buf
}

func byKeyKey(key object.Key, suffix []byte) []byte {
	buf := make([]byte, 0, len(key)+1+len(suffix))
	buf = append(buf, []byte(key)...)
	buf = append(buf, keySeparatorByte)
	buf = append(buf, suffix...)
	return buf
}

// Append persists one accepted mutation's delta at version, synchronously
// (bbolt's Update commits an fsync'd transaction), indexes it by
// (key, version) and (key, time) for per-key versioned/temporal reads, and
// advances latest_version/latest_persisted_version together since there is
// no separate local-durability lag in this adapter.
func (l *Log) Append(version object.Version, hlcUs int64, key object.Key, delta []byte) error {
	err := l.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketDeltas).Put(versionKey(version), delta); err != nil {
			return err
		}
		if err := tx.Bucket(bucketByTime).Put(timeKey(hlcUs), versionKey(version)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketByKeyVer).Put(byKeyKey(key, versionKey(version)), delta); err != nil {
			return err
		}
		return tx.Bucket(bucketByKeyTime).Put(byKeyKey(key, timeKey(hlcUs)), versionKey(version))
	})
	if err != nil {
		return fmt.Errorf("versionlog: append version %d: %w", version, err)
	}
	l.latestVersion.Store(int64(version))
	l.latestPersistedVersion.Store(int64(version))
	return nil
}

// GetForKey returns key's state as of version: the latest delta recorded
// for key at a version ≤ the requested one. Returns flowerr.ErrNotFound if
// key has no mutation at or before version.
func (l *Log) GetForKey(key object.Key, version object.Version) (object.Object, error) {
	if version == object.InvalidVersion {
		return object.Object{}, flowerr.Wrap(flowerr.ErrNotFound, "no version <= invalid for key %q", key)
	}
	var raw []byte
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketByKeyVer).Cursor()
		prefix := byKeyKey(key, nil)
		seek := byKeyKey(key, versionKey(version))
		k, v := c.Seek(seek)
		if k == nil || string(k) > string(seek) {
			k, v = c.Prev()
		}
		if k == nil || !hasPrefix(k, prefix) {
			return nil
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return object.Object{}, err
	}
	if raw == nil {
		return object.Object{}, flowerr.Wrap(flowerr.ErrNotFound, "no version <= %d for key %q", version, key)
	}
	return object.Decode(raw)
}

// VersionAtTimeForKey returns the latest version of key whose timestamp is
// ≤ hlcUs, or object.InvalidVersion if key has no such mutation.
func (l *Log) VersionAtTimeForKey(key object.Key, hlcUs int64) object.Version {
	result := object.InvalidVersion
	_ = l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketByKeyTime).Cursor()
		prefix := byKeyKey(key, nil)
		seek := byKeyKey(key, timeKey(hlcUs))
		k, v := c.Seek(seek)
		if k == nil || string(k) > string(seek) {
			k, v = c.Prev()
		}
		if k == nil || !hasPrefix(k, prefix) {
			return nil
		}
		result = object.Version(binary.BigEndian.Uint64(v))
		return nil
	})
	return result
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// LatestVersion returns the highest version appended.
func (l *Log) LatestVersion() object.Version {
	return object.Version(l.latestVersion.Load())
}

// LatestPersistedVersion returns the highest version durable on this
// replica (local persistence frontier).
func (l *Log) LatestPersistedVersion() object.Version {
	return object.Version(l.latestPersistedVersion.Load())
}

// NotifyGlobalPersisted is called when the runtime reports a new
// global-persistence frontier for this shard; it wakes any stable reads
// waiting on that version.
func (l *Log) NotifyGlobalPersisted(version object.Version) {
	l.frontierMu.Lock()
	if int64(version) > l.latestGlobalPersistedV.Load() {
		l.latestGlobalPersistedV.Store(int64(version))
	}
	l.frontierCond.Broadcast()
	l.frontierMu.Unlock()
}

// GlobalPersistenceFrontier returns the latest version known durable on
// all replicas.
func (l *Log) GlobalPersistenceFrontier() object.Version {
	return object.Version(l.latestGlobalPersistedV.Load())
}

// Get returns the state as of version: the delta at the latest appended
// version ≤ version, decoded. Returns flowerr.ErrNotFound if version
// precedes every entry in the log.
func (l *Log) Get(version object.Version) (object.Object, error) {
	if version == object.InvalidVersion {
		return object.Object{}, flowerr.Wrap(flowerr.ErrNotFound, "no version <= invalid in log")
	}
	var raw []byte
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDeltas).Cursor()
		k, v := c.Seek(versionKey(version))
		if k == nil || binary.BigEndian.Uint64(k) > uint64(version) {
			k, v = c.Prev()
		}
		if k == nil {
			return nil
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return object.Object{}, err
	}
	if raw == nil {
		return object.Object{}, flowerr.Wrap(flowerr.ErrNotFound, "no version <= %d in log", version)
	}
	return object.Decode(raw)
}

// GetDelta reads only the single delta recorded at exactly version,
// without falling back to an earlier one. Callers that accept an inexact
// match are expected to call Get themselves when found is false.
func (l *Log) GetDelta(version object.Version) (object.Object, bool, error) {
	var raw []byte
	err := l.db.View(func(tx *bolt.Tx) error {
		raw = tx.Bucket(bucketDeltas).Get(versionKey(version))
		return nil
	})
	if err != nil {
		return object.Object{}, false, err
	}
	if raw == nil {
		return object.Object{}, false, nil
	}
	o, err := object.Decode(raw)
	return o, true, err
}

// VersionAtTime returns the latest version whose timestamp is ≤ hlcUs, or
// object.InvalidVersion if none.
func (l *Log) VersionAtTime(hlcUs int64) object.Version {
	result := object.InvalidVersion
	_ = l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketByTime).Cursor()
		k, v := c.Seek(timeKey(hlcUs))
		if k == nil || binary.BigEndian.Uint64(k) > uint64(hlcUs) {
			k, v = c.Prev()
		}
		if k == nil {
			return nil
		}
		result = object.Version(binary.BigEndian.Uint64(v))
		return nil
	})
	return result
}

// ResolveStable resolves a requested version for a stable read. CURRENT
// resolves to the current global-persistence frontier immediately. A
// specific version blocks (respecting ctx) until it crosses the frontier,
// failing with flowerr.ErrFutureVersion if it is beyond the latest
// delivered version.
func (l *Log) ResolveStable(ctx context.Context, requested object.Version) (object.Version, error) {
	if requested == object.CurrentVersion {
		return l.GlobalPersistenceFrontier(), nil
	}
	if requested > l.LatestVersion() {
		return object.InvalidVersion, flowerr.Wrap(flowerr.ErrFutureVersion, "version %d not yet delivered", requested)
	}

	done := make(chan struct{})
	go func() {
		l.frontierMu.Lock()
		for int64(requested) > l.latestGlobalPersistedV.Load() && ctx.Err() == nil {
			l.frontierCond.Wait()
		}
		l.frontierMu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		if int64(requested) <= l.latestGlobalPersistedV.Load() {
			return requested, nil
		}
	case <-ctx.Done():
		l.frontierMu.Lock()
		l.frontierCond.Broadcast() // unstick the waiter goroutine
		l.frontierMu.Unlock()
	}
	return object.InvalidVersion, flowerr.Wrap(flowerr.ErrTransport, "stable read for version %d: %v", requested, ctx.Err())
}

// Signature returns the signature recorded at version together with the
// most recent prior signed version, for the signature store variant. When
// exact is false and no signature was recorded exactly at version, it
// returns the nearest signed version ≤ version, found with one cursor seek
// on the signature bucket, however far back that version lies. ctx is
// checked once, before the read.
func (l *Log) Signature(ctx context.Context, version object.Version, exact bool) (sig []byte, prevSigned object.Version, ok bool, err error) {
	prevSigned = object.InvalidVersion
	sigVersion := object.InvalidVersion
	err = l.db.View(func(tx *bolt.Tx) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := tx.Bucket(bucketSignatures)
		if exact {
			if v := b.Get(versionKey(version)); v != nil {
				sig = append([]byte(nil), v...)
				sigVersion = version
				ok = true
			}
			return nil
		}
		c := b.Cursor()
		k, v := c.Seek(versionKey(version))
		if k == nil || binary.BigEndian.Uint64(k) > uint64(version) {
			k, v = c.Prev()
		}
		if k == nil {
			return nil
		}
		sig = append([]byte(nil), v...)
		sigVersion = object.Version(binary.BigEndian.Uint64(k))
		ok = true
		return nil
	})
	if err != nil || !ok {
		return sig, prevSigned, ok, err
	}
	// The prior signed version is relative to the signature actually
	// found, not the requested version, so an inexact match still links
	// backward correctly.
	if pv, found, perr := l.nearestSignedBelow(sigVersion); perr == nil && found {
		prevSigned = pv
	}
	return sig, prevSigned, ok, err
}

func (l *Log) nearestSignedBelow(version object.Version) (object.Version, bool, error) {
	var result object.Version = object.InvalidVersion
	found := false
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSignatures).Cursor()
		k, _ := c.Seek(versionKey(version))
		if k == nil {
			k, _ = c.Last()
		}
		if k != nil && binary.BigEndian.Uint64(k) >= uint64(version) {
			k, _ = c.Prev()
		}
		if k != nil {
			result = object.Version(binary.BigEndian.Uint64(k))
			found = true
		}
		return nil
	})
	return result, found, err
}

// PutSignature records the signature for version — called by the
// signature store variant after signing a batch of hashes.
func (l *Log) PutSignature(version object.Version, sig []byte) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSignatures).Put(versionKey(version), sig)
	})
}
