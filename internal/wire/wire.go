// Package wire frames cache values for backends that cannot introspect TTLs.
//
// Memcached and bigcache give an entry no queryable remaining lifetime, so the
// adapter stores an envelope carrying the absolute expiry next to the payload
// and recomputes relative TTLs from it. Framing is strict: Decode rejects
// short, foreign, and trailing-padded buffers with ErrCorrupt so adapters can
// treat anything unrecognized as damage and self-heal (delete + miss).
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const version byte = 1

// header: magic(4) | ver(1) | exp(u64 be, epoch ms, 0 = no expiry) | vlen(u32 be)
const headerLen = 4 + 1 + 8 + 4

var (
	ErrCorrupt = errors.New("polycache: corrupt entry")
	magic4     = [...]byte{'P', 'L', 'Y', 'C'}
)

// Encode frames payload with its absolute expiry (epoch milliseconds, 0 = no
// expiry).
func Encode(payload []byte, exp int64) []byte {
	var buf bytes.Buffer
	buf.Grow(headerLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(exp))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// Decode unframes b. The returned payload aliases b (zero-copy).
func Decode(b []byte) (payload []byte, exp int64, err error) {
	if len(b) < headerLen || !bytes.Equal(b[:4], magic4[:]) || b[4] != version {
		return nil, 0, ErrCorrupt
	}

	off := 5
	exp = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || off+vlen != len(b) { // strict: no trailing bytes
		return nil, 0, ErrCorrupt
	}
	if exp < 0 {
		return nil, 0, ErrCorrupt
	}

	return b[off : off+vlen], exp, nil
}

// Deadline converts a relative TTL in seconds into an absolute epoch-ms
// expiry. Non-positive TTLs mean no expiry and map to 0.
func Deadline(ttlSeconds int64, now time.Time) int64 {
	if ttlSeconds <= 0 {
		return 0
	}
	return now.UnixMilli() + ttlSeconds*1000
}

// Remaining converts an absolute expiry back into whole seconds to live,
// rounding half up. An unexpired entry never reports less than one second:
// a 0 would read as "no expiry" downstream and make the entry immortal.
func Remaining(exp int64, now time.Time) int64 {
	if exp <= 0 {
		return 0
	}
	ms := exp - now.UnixMilli()
	if ms <= 0 {
		return 0
	}
	secs := (ms + 500) / 1000
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Expired reports whether exp marks a moment at or before now. exp 0 (no
// expiry) never expires.
func Expired(exp int64, now time.Time) bool {
	return exp > 0 && exp <= now.UnixMilli()
}
