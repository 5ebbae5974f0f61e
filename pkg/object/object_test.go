package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	o := Object{
		Key:                  "/pool/a/x",
		Blob:                 []byte("hello"),
		Version:              42,
		TimestampUs:          1000,
		PreviousVersion:      41,
		PreviousVersionByKey: 40,
		MessageID:            7,
	}
	buf := Encode(o)
	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, o, got)
}

func TestEncodeIntoReusesCapacity(t *testing.T) {
	dst := make([]byte, 0, 4096)
	o1 := Object{Key: "/a/b", Blob: []byte("v1"), Version: 1}
	dst = EncodeInto(dst, o1)
	ptr := &dst[0]

	o2 := Object{Key: "/a/b", Blob: []byte("v2"), Version: 2}
	dst = EncodeInto(dst, o2)
	assert.Same(t, ptr, &dst[0], "encode into should reuse the backing array when capacity allows")

	got, err := Decode(dst)
	require.NoError(t, err)
	assert.Equal(t, o2.Blob, got.Blob)
}

func TestTombstoneIsNullNotInvalid(t *testing.T) {
	ts := Tombstone("/pool/a/x")
	assert.True(t, ts.IsValid())
	assert.True(t, ts.IsNull())
}

func TestInvalidHasEmptyKey(t *testing.T) {
	assert.False(t, Invalid.IsValid())
}

func TestPathname(t *testing.T) {
	cases := map[string]string{
		"/pool/a/x": "/pool/a/",
		"/x":        "/",
		"noslash":   "",
		"":          "",
	}
	for key, want := range cases {
		assert.Equal(t, want, Pathname(key), "key=%q", key)
	}
}

func TestCopyFromReusesBackingArray(t *testing.T) {
	var dst Object
	dst.Blob = make([]byte, 0, 16)
	blobPtr := &dst.Blob[:1][0]

	src := Object{Key: "/a/b", Blob: []byte("hi"), Version: 3}
	dst.CopyFrom(src)
	assert.Equal(t, src.Key, dst.Key)
	assert.Equal(t, src.Blob, dst.Blob)
	assert.Same(t, blobPtr, &dst.Blob[0])

	src2 := Object{Key: "/a/b", Blob: []byte("there"), Version: 4}
	dst.CopyFrom(src2)
	assert.Equal(t, src2.Blob, dst.Blob)
	assert.Same(t, blobPtr, &dst.Blob[0])
}
