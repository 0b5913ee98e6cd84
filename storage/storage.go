// Package storage is the mailbox's transactional key-value engine, backed
// by bbolt. It holds two buckets: blobs, keyed by the binary encoding of
// mailboxkey.BlobsKey, and watermarks, keyed by the binary encoding of
// mailboxkey.WatermarksKey.
package storage

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/skeinmail/mailbox/mailboxkey"
	"github.com/skeinmail/mailbox/watermark"
)

var (
	blobsBucket      = []byte("blobs")
	watermarksBucket = []byte("watermarks")
)

// Store wraps an open bbolt database.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt file at path, ensures both
// buckets exist, and rebuilds every watermark from the blobs currently on
// disk before returning — so no caller ever observes a watermark that
// hasn't been healed after an unclean shutdown.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	s := &Store{db: db}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(blobsBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(watermarksBucket); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create buckets: %w", err)
	}

	if err := s.initialScan(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: initial scan: %w", err)
	}
	return s, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// initialScan reconstructs every (topic, author) watermark from the blobs
// bucket, mirroring watermark.rs's compute_initial_watermarks: collect all
// observed sequence numbers per (topic, author), then write the contiguous
// watermark for each.
func (s *Store) initialScan() error {
	seqsByLog := make(map[mailboxkey.WatermarksKey]map[uint64]struct{})

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(blobsBucket).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			key := mailboxkey.DecodeBlobsKey(k)
			wmKey := key.Watermarks()
			set, ok := seqsByLog[wmKey]
			if !ok {
				set = make(map[uint64]struct{})
				seqsByLog[wmKey] = set
			}
			set[key.Sequence] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(seqsByLog) == 0 {
		return nil
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(watermarksBucket)
		for wmKey, seqs := range seqsByLog {
			w, ok := watermark.Contiguous(seqs)
			if !ok {
				continue
			}
			if err := putWatermark(b, wmKey, w); err != nil {
				return err
			}
		}
		return nil
	})
}

func putWatermark(b *bbolt.Bucket, key mailboxkey.WatermarksKey, w uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], w)
	return b.Put(key.Encode(), buf[:])
}

func getWatermark(b *bbolt.Bucket, key mailboxkey.WatermarksKey) (uint64, bool) {
	v := b.Get(key.Encode())
	if v == nil {
		return 0, false
	}
	return binary.BigEndian.Uint64(v), true
}

// WriteTxn is the set of operations available inside Store.Update.
type WriteTxn struct {
	tx *bbolt.Tx
}

// ReadTxn is the set of operations available inside Store.View.
type ReadTxn struct {
	tx *bbolt.Tx
}

// Update runs fn inside a single write-exclusive, durable transaction.
func (s *Store) Update(fn func(*WriteTxn) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return fn(&WriteTxn{tx: tx})
	})
}

// View runs fn inside a single snapshot-isolated read transaction that
// proceeds concurrently with writers.
func (s *Store) View(fn func(*ReadTxn) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		return fn(&ReadTxn{tx: tx})
	})
}

// PutBlob inserts a fresh row at key with the given payload. Duplicate
// (topic, author, sequence) rows are not deduplicated — every store call
// inserts a row under a fresh mailboxkey.TimeID.
func (w *WriteTxn) PutBlob(key mailboxkey.BlobsKey, blob []byte) error {
	return w.tx.Bucket(blobsBucket).Put(key.Encode(), blob)
}

// DeleteBlob removes the row at key.
func (w *WriteTxn) DeleteBlob(key mailboxkey.BlobsKey) error {
	return w.tx.Bucket(blobsBucket).Delete(key.Encode())
}

// BlobExists reports whether any row exists for (topicID, author, sequence),
// regardless of its TimeID.
func (w *WriteTxn) BlobExists(topicID, author string, sequence uint64) (bool, error) {
	return blobExists(w.tx, topicID, author, sequence)
}

// GetWatermark returns the current watermark for (topicID, author).
func (w *WriteTxn) GetWatermark(key mailboxkey.WatermarksKey) (uint64, bool) {
	return getWatermark(w.tx.Bucket(watermarksBucket), key)
}

// PutWatermark writes the watermark for key.
func (w *WriteTxn) PutWatermark(key mailboxkey.WatermarksKey, value uint64) error {
	return putWatermark(w.tx.Bucket(watermarksBucket), key, value)
}

// RangeBlobs iterates every blob row in [lo, hi), calling fn with the
// decoded key and its payload. Iteration stops early if fn returns false.
func (w *WriteTxn) RangeBlobs(lo, hi mailboxkey.BlobsKey, fn func(mailboxkey.BlobsKey, []byte) bool) error {
	return rangeBlobs(w.tx, lo, hi, fn)
}

// AllBlobs iterates every row in the blobs bucket, across every topic.
func (w *WriteTxn) AllBlobs(fn func(mailboxkey.BlobsKey, []byte) bool) error {
	return allBlobs(w.tx, fn)
}

// BlobExists reports whether any row exists for (topicID, author, sequence).
func (r *ReadTxn) BlobExists(topicID, author string, sequence uint64) (bool, error) {
	return blobExists(r.tx, topicID, author, sequence)
}

// GetWatermark returns the current watermark for (topicID, author).
func (r *ReadTxn) GetWatermark(key mailboxkey.WatermarksKey) (uint64, bool) {
	return getWatermark(r.tx.Bucket(watermarksBucket), key)
}

// RangeBlobs iterates every blob row in [lo, hi).
func (r *ReadTxn) RangeBlobs(lo, hi mailboxkey.BlobsKey, fn func(mailboxkey.BlobsKey, []byte) bool) error {
	return rangeBlobs(r.tx, lo, hi, fn)
}

// AllBlobs iterates every row in the blobs bucket, across every topic.
func (r *ReadTxn) AllBlobs(fn func(mailboxkey.BlobsKey, []byte) bool) error {
	return allBlobs(r.tx, fn)
}

func rangeBlobs(tx *bbolt.Tx, lo, hi mailboxkey.BlobsKey, fn func(mailboxkey.BlobsKey, []byte) bool) error {
	loBytes, hiBytes := lo.Encode(), hi.Encode()
	c := tx.Bucket(blobsBucket).Cursor()
	for k, v := c.Seek(loBytes); k != nil && bytesLess(k, hiBytes); k, v = c.Next() {
		if !fn(mailboxkey.DecodeBlobsKey(k), v) {
			break
		}
	}
	return nil
}

// allBlobs backs a full-bucket scan (used by the retention pass, which
// must tolerate a corrupt row without crashing the server process). Unlike
// rangeBlobs, it decodes keys with TryDecodeBlobsKey and returns a decode
// failure as an error instead of panicking, so the caller's transaction
// aborts this one pass and the next tick retries.
func allBlobs(tx *bbolt.Tx, fn func(mailboxkey.BlobsKey, []byte) bool) error {
	c := tx.Bucket(blobsBucket).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		key, err := mailboxkey.TryDecodeBlobsKey(k)
		if err != nil {
			return fmt.Errorf("storage: decode key during scan: %w", err)
		}
		if !fn(key, v) {
			break
		}
	}
	return nil
}

func blobExists(tx *bbolt.Tx, topicID, author string, sequence uint64) (bool, error) {
	lo, hi := mailboxkey.TopicAuthorSeqPrefix(topicID, author, sequence)
	loBytes, hiBytes := lo.Encode(), hi.Encode()
	c := tx.Bucket(blobsBucket).Cursor()
	k, _ := c.Seek(loBytes)
	return k != nil && bytesLess(k, hiBytes), nil
}

func bytesLess(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
