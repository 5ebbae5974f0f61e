package deltastore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowstore/pkg/flowerr"
	"github.com/flowmesh/flowstore/pkg/object"
)

func TestOrderedPutTracksPreviousVersionByKey(t *testing.T) {
	s := New()

	v1 := object.Object{Key: "/a/x", Blob: []byte("v1"), Version: 10}
	prev, err := s.OrderedPut(&v1, 9)
	require.NoError(t, err)
	assert.Equal(t, object.InvalidVersion, prev, "genesis write has no previous version")
	assert.Equal(t, object.Version(9), v1.PreviousVersion)

	v2 := object.Object{Key: "/a/x", Blob: []byte("v2"), Version: 11}
	prev2, err := s.OrderedPut(&v2, 10)
	require.NoError(t, err)
	assert.Equal(t, object.Version(10), prev2, "previous_version_by_key equals the version of the prior mutation")
}

func TestOrderedRemoveRequiresNullObject(t *testing.T) {
	s := New()
	v := object.Object{Key: "/a/x", Blob: []byte("hi")}
	_, err := s.OrderedPut(&v, 1)
	require.NoError(t, err)

	notNull := object.Object{Key: "/a/x", Blob: []byte("still here")}
	_, err = s.OrderedRemove(&notNull, 2)
	assert.ErrorIs(t, err, flowerr.ErrInvalidValue)
}

func TestOrderedRemoveIdempotenceFailsSecondTime(t *testing.T) {
	s := New()
	v := object.Object{Key: "/a/x", Blob: []byte("hi")}
	_, err := s.OrderedPut(&v, 1)
	require.NoError(t, err)

	ts := object.Tombstone("/a/x")
	_, err = s.OrderedRemove(&ts, 2)
	require.NoError(t, err)

	ts2 := object.Tombstone("/a/x")
	_, err = s.OrderedRemove(&ts2, 3)
	assert.ErrorIs(t, err, flowerr.ErrInvalidValue, "second consecutive remove is invalid-value")
}

func TestOrderedRemoveAbsentKeyFails(t *testing.T) {
	s := New()
	ts := object.Tombstone("/a/missing")
	_, err := s.OrderedRemove(&ts, 1)
	assert.ErrorIs(t, err, flowerr.ErrInvalidValue)
}

func TestLocklessListKeysPrefixMatchesPathnameOnly(t *testing.T) {
	s := New()
	for _, k := range []string{"/pool/a/x", "/pool/a/y", "/pool/abc", "/pool/b/z"} {
		o := object.Object{Key: k, Blob: []byte("v")}
		_, err := s.OrderedPut(&o, 1)
		require.NoError(t, err)
	}

	keys := s.LocklessListKeys("/pool/a/")
	assert.ElementsMatch(t, []string{"/pool/a/x", "/pool/a/y"}, keys, "/pool/abc has pathname /pool/ and must not match")
}

func TestLocklessGetConsistentUnderConcurrentWrites(t *testing.T) {
	s := New()
	init := object.Object{Key: "/a/x", Blob: []byte("A")}
	_, err := s.OrderedPut(&init, 0)
	require.NoError(t, err)

	const iterations = 2000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			blob := "A"
			if i%2 == 1 {
				blob = "B"
			}
			o := object.Object{Key: "/a/x", Blob: []byte(blob)}
			_, werr := s.OrderedPut(&o, object.Version(i+1))
			require.NoError(t, werr)
		}
	}()

	seen := map[string]bool{}
	for i := 0; i < iterations; i++ {
		got := s.LocklessGet("/a/x")
		require.True(t, got.IsValid())
		seen[string(got.Blob)] = true
	}
	wg.Wait()

	for b := range seen {
		assert.Contains(t, []string{"A", "B"}, b, "no torn reads: every read is exactly one written value")
	}
}

func TestCurrentDeltaToBytesRoundTrips(t *testing.T) {
	s := New()
	v := object.Object{Key: "/a/x", Blob: []byte("hello")}
	_, err := s.OrderedPut(&v, 5)
	require.NoError(t, err)

	delta, err := s.CurrentDeltaToBytes()
	require.NoError(t, err)
	decoded, err := object.Decode(delta)
	require.NoError(t, err)
	assert.Equal(t, v, decoded)

	s.Clean()
	_, err = s.CurrentDeltaToBytes()
	assert.Error(t, err)
}

func TestGetSizeMatchesEncodedLength(t *testing.T) {
	s := New()
	v := object.Object{Key: "/a/x", Blob: []byte("hello world")}
	_, err := s.OrderedPut(&v, 1)
	require.NoError(t, err)

	assert.Equal(t, len(object.Encode(v)), s.LocklessGetSize("/a/x"))
	assert.Equal(t, 0, s.LocklessGetSize("/missing"))
}
