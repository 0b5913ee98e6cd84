package mailboxkey

import (
	"crypto/rand"
	"time"
)

// NewTimeID constructs a time-ordered TimeID from t: the high 48 bits carry
// the Unix millisecond timestamp (matching UUIDv7's layout), the version and
// variant nibbles are set per RFC 9562, and the remaining bits are
// cryptographically random. gofrs/uuid v4 (pinned by this module) predates
// native UUIDv7 support, so the layout is constructed by hand here.
func NewTimeID(t time.Time) TimeID {
	var id TimeID

	ms := uint64(t.UnixMilli())
	id[0] = byte(ms >> 40)
	id[1] = byte(ms >> 32)
	id[2] = byte(ms >> 24)
	id[3] = byte(ms >> 16)
	id[4] = byte(ms >> 8)
	id[5] = byte(ms)

	if _, err := rand.Read(id[6:]); err != nil {
		panic("mailboxkey: failed to read random bytes: " + err.Error())
	}

	id[6] = (id[6] & 0x0f) | 0x70 // version 7
	id[8] = (id[8] & 0x3f) | 0x80 // RFC 9562 variant

	return id
}

// Timestamp extracts the millisecond Unix timestamp embedded in id by
// NewTimeID.
func (id TimeID) Timestamp() time.Time {
	ms := uint64(id[0])<<40 | uint64(id[1])<<32 | uint64(id[2])<<24 |
		uint64(id[3])<<16 | uint64(id[4])<<8 | uint64(id[5])
	return time.UnixMilli(int64(ms))
}
