// Package wire frames cached entries. Every non-sentinel value written to the
// store carries this envelope so readers can tell a plain TTL-bound entry
// from a "hot" entry with an embedded logical expiry, and can reject foreign
// or truncated bytes instead of decoding garbage.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version byte = 1

	kindPlain byte = 1 // payload only; lifetime is the store TTL
	kindHot   byte = 2 // payload + logical expiry; store TTL typically absent
)

var (
	ErrCorrupt = errors.New("flashguard: corrupt cache entry")
	magic4     = [...]byte{'F', 'G', 'D', '1'}
)

// Entry is a decoded envelope. ExpireAt is zero for plain entries.
type Entry struct {
	Hot      bool
	ExpireAt time.Time
	Payload  []byte
}

// Expired reports whether a hot entry's logical expiry has passed.
// Plain entries never logically expire.
func (e Entry) Expired(now time.Time) bool {
	return e.Hot && now.After(e.ExpireAt)
}

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Plain: magic(4) | ver(1) | kind(1) | vlen(u32 be) | payload(vlen)
func EncodePlain(payload []byte) []byte {
	return encode(kindPlain, 0, payload)
}

// Hot: magic(4) | ver(1) | kind(1) | expireAt unix-millis(i64 be) | vlen(u32 be) | payload(vlen)
func EncodeHot(expireAt time.Time, payload []byte) []byte {
	return encode(kindHot, expireAt.UnixMilli(), payload)
}

func encode(kind byte, expireMillis int64, payload []byte) []byte {
	size := 4 + 1 + 1 + 4 + len(payload)
	if kind == kindHot {
		size += 8
	}

	var buf bytes.Buffer
	buf.Grow(size)
	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kind)

	if kind == kindHot {
		var u8 [8]byte
		binary.BigEndian.PutUint64(u8[:], uint64(expireMillis))
		buf.Write(u8[:])
	}

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])
	buf.Write(payload)
	return buf.Bytes()
}

// Decode validates the envelope and returns the entry. The payload slice
// aliases b (zero-copy); callers that retain it must copy.
func Decode(b []byte) (Entry, error) {
	const hdr = 4 + 1 + 1
	if len(b) < hdr || !hasMagic(b) || b[4] != version {
		return Entry{}, ErrCorrupt
	}
	kind := b[5]
	off := hdr

	var e Entry
	switch kind {
	case kindPlain:
	case kindHot:
		if off+8 > len(b) {
			return Entry{}, ErrCorrupt
		}
		millis := int64(binary.BigEndian.Uint64(b[off : off+8]))
		e.Hot = true
		e.ExpireAt = time.UnixMilli(millis)
		off += 8
	default:
		return Entry{}, ErrCorrupt
	}

	if off+4 > len(b) {
		return Entry{}, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return Entry{}, ErrCorrupt
	}

	e.Payload = b[off : off+vlen]
	return e, nil
}
