// Package deltastore implements the delta store core: a single shard's
// mutable K→V map plus the pending-delta buffer the versioned log adapter
// reads on each ordered operation.
//
// Readers (LocklessGet, LocklessListKeys) may run on any goroutine
// concurrently with the single ordered-delivery writer. The map is an
// immutable radix tree (github.com/hashicorp/go-immutable-radix) behind
// an atomic snapshot pointer: the writer builds a new tree rooted at the
// previous one (structural sharing, not a full clone) and swaps the
// pointer; readers Load() a self-consistent snapshot and never retry, so
// a concurrent reader cannot observe a torn write.
package deltastore

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/flowmesh/flowstore/pkg/flowerr"
	"github.com/flowmesh/flowstore/pkg/object"
)

// Store is one shard's in-memory ordered map plus delta buffer. The zero
// value is not usable; construct with New.
type Store struct {
	snapshot atomic.Pointer[iradix.Tree]

	// writerMu serializes ordered_put/ordered_remove. In production only
	// the shard's single ordered-delivery thread ever calls these, so this
	// is a safety net (e.g. for tests that drive the store from more than
	// one goroutine) rather than a hot-path lock.
	writerMu sync.Mutex

	// deltaBuf is the pending-delta buffer: grown by doubling to the next
	// power of two that fits, and reused across calls.
	deltaBuf   []byte
	deltaLen   int
	deltaDirty bool
}

const defaultDeltaCapacity = 4096

// New creates an empty delta store.
func New() *Store {
	s := &Store{deltaBuf: make([]byte, defaultDeltaCapacity)}
	s.snapshot.Store(iradix.New())
	return s
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// growDelta ensures the buffer can hold need bytes, doubling capacity to
// the next power of two that fits.
func (s *Store) growDelta(need int) {
	if cap(s.deltaBuf) >= need {
		return
	}
	newCap := nextPow2(need)
	buf := make([]byte, newCap)
	s.deltaBuf = buf
}

// currentTree returns the current immutable snapshot. Safe from any goroutine.
func (s *Store) currentTree() *iradix.Tree {
	return s.snapshot.Load()
}

func toObject(v interface{}) object.Object {
	return v.(object.Object)
}

// Get implements object.ShardReader so Validators can consult the shard map.
func (s *Store) Get(key object.Key) (object.Object, bool) {
	tree := s.currentTree()
	v, ok := tree.Get([]byte(key))
	if !ok {
		return object.Object{}, false
	}
	return toObject(v), true
}

// OrderedPut applies v as the new value for v.Key, running admission
// (Validator, IVerifyPreviousVersion) and previous-version bookkeeping,
// then encoding the delta and swapping the snapshot pointer. Returns v's
// previous_version_by_key (the version of the key's prior mutation, or
// InvalidVersion for its first), which the log adapter uses to
// chain each mutation to the prior mutation of the same key.
//
// v is taken by pointer because IKeepPreviousVersion mutates it in place,
// matching the optional-capability-interface contract of object model A.
func (s *Store) OrderedPut(v *object.Object, currentLogTail object.Version) (object.Version, error) {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	tree := s.currentTree()
	existing, hasExisting := tree.Get([]byte(v.Key))

	curPrevByKey := object.InvalidVersion
	if hasExisting {
		curPrevByKey = toObject(existing).Version
	}

	if validator, ok := any(*v).(object.Validator); ok {
		if !validator.Validate(s) {
			return object.InvalidVersion, flowerr.Wrap(flowerr.ErrInvalidValue, "validator rejected put for key %q", v.Key)
		}
	}
	if verifier, ok := any(*v).(object.IVerifyPreviousVersion); ok {
		if !verifier.VerifyPreviousVersion(currentLogTail, curPrevByKey) {
			return object.InvalidVersion, flowerr.Wrap(flowerr.ErrInvalidVersion, "previous-version check failed for key %q", v.Key)
		}
	}
	if keeper, ok := any(v).(object.IKeepPreviousVersion); ok {
		keeper.SetPreviousVersion(currentLogTail, curPrevByKey)
	}

	s.encodeDelta(*v)

	newTree, _, _ := tree.Insert([]byte(v.Key), *v)
	s.snapshot.Store(newTree)

	return curPrevByKey, nil
}

// OrderedRemove tombstones a key: requires a null-bodied object and an
// existing, not-already-tombstoned key (two consecutive removes fail the
// second time), then follows the same path as OrderedPut.
func (s *Store) OrderedRemove(tombstone *object.Object, currentLogTail object.Version) (object.Version, error) {
	if !tombstone.IsNull() {
		return object.InvalidVersion, flowerr.Wrap(flowerr.ErrInvalidValue, "remove requires a null-bodied object for key %q", tombstone.Key)
	}

	s.writerMu.Lock()
	tree := s.currentTree()
	existing, hasExisting := tree.Get([]byte(tombstone.Key))
	s.writerMu.Unlock()

	if !hasExisting {
		return object.InvalidVersion, flowerr.Wrap(flowerr.ErrInvalidValue, "remove targets absent key %q", tombstone.Key)
	}
	if toObject(existing).IsNull() {
		return object.InvalidVersion, flowerr.Wrap(flowerr.ErrInvalidValue, "remove targets already-tombstoned key %q", tombstone.Key)
	}

	return s.OrderedPut(tombstone, currentLogTail)
}

// OrderedGet returns the current value for k, or object.Invalid if absent.
// Callable only from the ordered-delivery thread, but implemented
// identically to LocklessGet since both just read the snapshot pointer.
func (s *Store) OrderedGet(k object.Key) object.Object {
	return s.LocklessGet(k)
}

// LocklessGet is safe from any goroutine: it loads the current immutable
// snapshot and reads from it, which by construction cannot observe a torn
// write.
func (s *Store) LocklessGet(k object.Key) object.Object {
	v, ok := s.currentTree().Get([]byte(k))
	if !ok {
		return object.Invalid
	}
	return toObject(v)
}

// OrderedListKeys returns keys whose pathname starts with prefix,
// including tombstoned keys — callers that want tombstones excluded
// filter via LocklessGet/IsNull.
func (s *Store) OrderedListKeys(prefix string) []string {
	return s.LocklessListKeys(prefix)
}

// LocklessListKeys walks the immutable snapshot. WalkPrefix on the raw
// prefix bytes is a pruning optimization (every key whose pathname starts
// with prefix also starts with prefix as raw bytes); the pathname match is
// re-checked against object.Pathname before a key is returned.
func (s *Store) LocklessListKeys(prefix string) []string {
	tree := s.currentTree()
	var keys []string
	tree.Root().WalkPrefix([]byte(prefix), func(k []byte, v interface{}) bool {
		key := string(k)
		if !strings.HasPrefix(object.Pathname(key), prefix) {
			return false
		}
		keys = append(keys, key)
		return false
	})
	return keys
}

// OrderedGetSize returns the serialized byte size of k's current value, or
// 0 if absent.
func (s *Store) OrderedGetSize(k object.Key) int {
	return s.LocklessGetSize(k)
}

// LocklessGetSize is the lockless counterpart of OrderedGetSize.
func (s *Store) LocklessGetSize(k object.Key) int {
	v, ok := s.currentTree().Get([]byte(k))
	if !ok {
		return 0
	}
	return len(object.Encode(toObject(v)))
}

// encodeDelta serializes o into the reusable delta buffer, growing it to
// the next power of two if needed.
func (s *Store) encodeDelta(o object.Object) {
	need := deltaEncodedSize(o)
	s.growDelta(need)
	s.deltaBuf = object.EncodeInto(s.deltaBuf[:cap(s.deltaBuf)], o)
	s.deltaLen = len(s.deltaBuf)
	s.deltaDirty = true
}

func deltaEncodedSize(o object.Object) int {
	return len(object.Encode(o))
}

// CurrentDeltaToBytes returns the bytes of the most recently applied
// mutation's delta, for the log adapter to append. It is an error to
// call this before any OrderedPut/OrderedRemove or after Clean without an
// intervening write.
func (s *Store) CurrentDeltaToBytes() ([]byte, error) {
	if !s.deltaDirty {
		return nil, fmt.Errorf("deltastore: no pending delta")
	}
	return s.deltaBuf[:s.deltaLen], nil
}

// Clean marks the delta buffer reusable; the log adapter calls this after
// it has copied (or durably written) the current delta.
func (s *Store) Clean() {
	s.deltaDirty = false
	s.deltaLen = 0
}

// Len reports the number of live (including tombstoned) keys in the shard.
func (s *Store) Len() int {
	return s.currentTree().Len()
}
