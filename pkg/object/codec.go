package object

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes o into its delta wire form:
// {version, timestamp_us, prev_ver, prev_ver_key, message_id, key_len, key, blob_len, blob}.
// A put's delta is the serialized object; Tombstone objects encode the
// same way with a zero-length blob.
func Encode(o Object) []byte {
	keyBytes := []byte(o.Key)
	size := 8*5 + 4 + len(keyBytes) + 4 + len(o.Blob)
	buf := make([]byte, size)
	encodeInto(buf, o, keyBytes)
	return buf
}

// EncodeInto writes o's delta form into dst, growing and returning a new
// slice if dst's capacity is insufficient. Used by the delta buffer to
// reuse its backing array across ordered_put calls instead of allocating
// per mutation.
func EncodeInto(dst []byte, o Object) []byte {
	keyBytes := []byte(o.Key)
	need := 8*5 + 4 + len(keyBytes) + 4 + len(o.Blob)
	if cap(dst) < need {
		dst = make([]byte, need)
	} else {
		dst = dst[:need]
	}
	encodeInto(dst, o, keyBytes)
	return dst
}

func encodeInto(buf []byte, o Object, keyBytes []byte) {
	off := 0
	binary.BigEndian.PutUint64(buf[off:], uint64(o.Version))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(o.TimestampUs))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(o.PreviousVersion))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(o.PreviousVersionByKey))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], o.MessageID)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], uint32(len(keyBytes)))
	off += 4
	copy(buf[off:], keyBytes)
	off += len(keyBytes)
	binary.BigEndian.PutUint32(buf[off:], uint32(len(o.Blob)))
	off += 4
	copy(buf[off:], o.Blob)
}

// Decode parses a delta encoded by Encode/EncodeInto.
func Decode(buf []byte) (Object, error) {
	const head = 8 * 5
	if len(buf) < head+4 {
		return Object{}, fmt.Errorf("object: short delta buffer (%d bytes)", len(buf))
	}
	off := 0
	var o Object
	o.Version = Version(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	o.TimestampUs = int64(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	o.PreviousVersion = Version(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	o.PreviousVersionByKey = Version(binary.BigEndian.Uint64(buf[off:]))
	off += 8
	o.MessageID = binary.BigEndian.Uint64(buf[off:])
	off += 8
	keyLen := int(binary.BigEndian.Uint32(buf[off:]))
	off += 4
	if len(buf) < off+keyLen+4 {
		return Object{}, fmt.Errorf("object: truncated delta buffer")
	}
	o.Key = string(buf[off : off+keyLen])
	off += keyLen
	blobLen := int(binary.BigEndian.Uint32(buf[off:]))
	off += 4
	if len(buf) < off+blobLen {
		return Object{}, fmt.Errorf("object: truncated delta blob")
	}
	if blobLen > 0 {
		o.Blob = make([]byte, blobLen)
		copy(o.Blob, buf[off:off+blobLen])
	}
	return o, nil
}

// Pathname returns the substring of key up to and including the last '/',
// the unit prefix registration and matching operate on. Keys with no
// separator have an empty pathname and therefore match no prefix except "".
func Pathname(key Key) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[:i+1]
		}
	}
	return ""
}
