// Package mailboxkey implements the binary key codec for the mailbox's two
// storage tables. Keys are encoded so that byte-lexicographic comparison of
// the encoded form matches field-tuple comparison, letting an ordered
// key-value store double as a sorted index.
package mailboxkey

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofrs/uuid"
)

// ErrInvalidTopicID is returned when a topic id contains ':' or a NUL byte.
var ErrInvalidTopicID = errors.New("mailboxkey: topic id contains invalid character (colon or null)")

// ErrInvalidAuthor is returned when an author contains ':' or a NUL byte.
var ErrInvalidAuthor = errors.New("mailboxkey: author contains invalid character (colon or null)")

// TimeID is a 16-byte time-ordered identifier embedded in every BlobsKey.
// It is used to decide retention cutoffs, and it keeps repeated stores of
// the same (topic, author, sequence) in separate rows; it plays no role in
// the sequence order of rows.
type TimeID [16]byte

// Nil is the all-zero TimeID, the minimum value under Compare.
var Nil TimeID

// Max is the all-0xff TimeID, the maximum value under Compare.
var Max = func() TimeID {
	var m TimeID
	for i := range m {
		m[i] = 0xff
	}
	return m
}()

// Compare returns -1, 0, or 1 comparing id and other byte-wise.
func (id TimeID) Compare(other TimeID) int {
	for i := range id {
		if id[i] != other[i] {
			if id[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (id TimeID) String() string {
	return uuid.UUID(id).String()
}

// BlobsKey is the key for the blobs table: (topic_id, author, sequence, id).
// Field order matters: it is the order Encode emits them in, which is what
// makes byte comparison of Encode() match tuple comparison.
type BlobsKey struct {
	TopicID  string
	Author   string
	Sequence uint64
	ID       TimeID
}

// NewBlobsKey validates topicID and author and returns a BlobsKey.
func NewBlobsKey(topicID, author string, sequence uint64, id TimeID) (BlobsKey, error) {
	if strings.ContainsAny(topicID, ":\x00") {
		return BlobsKey{}, fmt.Errorf("%w: %q", ErrInvalidTopicID, topicID)
	}
	if strings.ContainsAny(author, ":\x00") {
		return BlobsKey{}, fmt.Errorf("%w: %q", ErrInvalidAuthor, author)
	}
	return BlobsKey{TopicID: topicID, Author: author, Sequence: sequence, ID: id}, nil
}

// Encode serializes k as topic ∥ 0x00 ∥ author ∥ 0x00 ∥ seq_be8 ∥ id(16).
func (k BlobsKey) Encode() []byte {
	buf := make([]byte, 0, len(k.TopicID)+1+len(k.Author)+1+8+16)
	buf = append(buf, k.TopicID...)
	buf = append(buf, 0)
	buf = append(buf, k.Author...)
	buf = append(buf, 0)
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], k.Sequence)
	buf = append(buf, seq[:]...)
	buf = append(buf, k.ID[:]...)
	return buf
}

// DecodeBlobsKey parses bytes produced by Encode. It panics on malformed
// input: callers only ever decode bytes they previously read back out of
// the store, so malformed input means store corruption, not bad user data.
func DecodeBlobsKey(data []byte) BlobsKey {
	key, err := TryDecodeBlobsKey(data)
	if err != nil {
		panic("mailboxkey: " + err.Error())
	}
	return key
}

// TryDecodeBlobsKey parses bytes produced by Encode, returning an error
// instead of panicking on malformed input. It exists for the one caller
// that must not crash the process on a corrupt row — the retention scan,
// which treats a bad key as a recoverable failure of the current cleanup
// pass rather than a programmer bug.
func TryDecodeBlobsKey(data []byte) (BlobsKey, error) {
	firstNull := indexByte(data, 0)
	if firstNull < 0 {
		return BlobsKey{}, errors.New("missing first delimiter in BlobsKey")
	}
	topicID := string(data[:firstNull])

	rest := data[firstNull+1:]
	secondNull := indexByte(rest, 0)
	if secondNull < 0 {
		return BlobsKey{}, errors.New("missing second delimiter in BlobsKey")
	}
	author := string(rest[:secondNull])

	seqStart := firstNull + 1 + secondNull + 1
	if len(data) < seqStart+8+16 {
		return BlobsKey{}, errors.New("truncated BlobsKey")
	}
	sequence := binary.BigEndian.Uint64(data[seqStart : seqStart+8])

	var id TimeID
	copy(id[:], data[seqStart+8:seqStart+8+16])

	return BlobsKey{TopicID: topicID, Author: author, Sequence: sequence, ID: id}, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// Watermarks returns the WatermarksKey for k's (topic, author) pair.
func (k BlobsKey) Watermarks() WatermarksKey {
	return WatermarksKey{TopicID: k.TopicID, Author: k.Author}
}

// String renders a human-readable, zero-padded form for logs:
// "topic:author:00000000000000000042:uuid".
func (k BlobsKey) String() string {
	return fmt.Sprintf("%s:%s:%020d:%s", k.TopicID, k.Author, k.Sequence, k.ID)
}

// ParseBlobsKeyString parses the form produced by String. It is used for
// log lines and debugging only; Encode/DecodeBlobsKey is the storage codec.
func ParseBlobsKeyString(s string) (BlobsKey, error) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) != 4 {
		return BlobsKey{}, fmt.Errorf("mailboxkey: expected 4 parts, got %d", len(parts))
	}
	seq, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return BlobsKey{}, fmt.Errorf("mailboxkey: invalid sequence %q: %w", parts[2], err)
	}
	u, err := uuid.FromString(parts[3])
	if err != nil {
		return BlobsKey{}, fmt.Errorf("mailboxkey: invalid id %q: %w", parts[3], err)
	}
	return BlobsKey{TopicID: parts[0], Author: parts[1], Sequence: seq, ID: TimeID(u)}, nil
}

// WatermarksKey is the key for the watermarks table: topic ∥ 0x00 ∥ author.
type WatermarksKey struct {
	TopicID string
	Author  string
}

// NewWatermarksKey validates topicID and author.
func NewWatermarksKey(topicID, author string) (WatermarksKey, error) {
	if strings.ContainsAny(topicID, ":\x00") {
		return WatermarksKey{}, fmt.Errorf("%w: %q", ErrInvalidTopicID, topicID)
	}
	if strings.ContainsAny(author, ":\x00") {
		return WatermarksKey{}, fmt.Errorf("%w: %q", ErrInvalidAuthor, author)
	}
	return WatermarksKey{TopicID: topicID, Author: author}, nil
}

// Encode serializes k as topic ∥ 0x00 ∥ author.
func (k WatermarksKey) Encode() []byte {
	buf := make([]byte, 0, len(k.TopicID)+1+len(k.Author))
	buf = append(buf, k.TopicID...)
	buf = append(buf, 0)
	buf = append(buf, k.Author...)
	return buf
}

// DecodeWatermarksKey parses bytes produced by Encode.
func DecodeWatermarksKey(data []byte) WatermarksKey {
	i := indexByte(data, 0)
	if i < 0 {
		panic("mailboxkey: missing delimiter in WatermarksKey")
	}
	return WatermarksKey{TopicID: string(data[:i]), Author: string(data[i+1:])}
}

// TopicPrefix returns the half-open [lo, hi) range covering every key for
// topicID, any author/sequence/id.
func TopicPrefix(topicID string) (lo, hi BlobsKey) {
	lo = BlobsKey{TopicID: topicID, Author: "", Sequence: 0, ID: Nil}
	hi = BlobsKey{TopicID: topicID, Author: "￿", Sequence: ^uint64(0), ID: Max}
	return
}

// TopicAuthorPrefix returns the half-open [lo, hi) range covering every key
// for (topicID, author), any sequence/id.
func TopicAuthorPrefix(topicID, author string) (lo, hi BlobsKey) {
	lo = BlobsKey{TopicID: topicID, Author: author, Sequence: 0, ID: Nil}
	hi = BlobsKey{TopicID: topicID, Author: author, Sequence: ^uint64(0), ID: Max}
	return
}

// TopicAuthorSeqPrefix returns the half-open [lo, hi) range covering every
// key for (topicID, author, sequence), any id.
func TopicAuthorSeqPrefix(topicID, author string, sequence uint64) (lo, hi BlobsKey) {
	lo = BlobsKey{TopicID: topicID, Author: author, Sequence: sequence, ID: Nil}
	hi = BlobsKey{TopicID: topicID, Author: author, Sequence: sequence, ID: Max}
	return
}
