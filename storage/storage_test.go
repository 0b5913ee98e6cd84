package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/skeinmail/mailbox/mailboxkey"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mailbox.bolt")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetBlobRoundTrip(t *testing.T) {
	s := openTemp(t)
	key, err := mailboxkey.NewBlobsKey("general", "alice", 0, mailboxkey.NewTimeID(time.Now()))
	require.NoError(t, err)

	err = s.Update(func(tx *WriteTxn) error {
		return tx.PutBlob(key, []byte("hello"))
	})
	require.NoError(t, err)

	err = s.View(func(tx *ReadTxn) error {
		exists, err := tx.BlobExists("general", "alice", 0)
		require.NoError(t, err)
		require.True(t, exists)
		return nil
	})
	require.NoError(t, err)
}

func TestBlobExistsFalseForAbsentRow(t *testing.T) {
	s := openTemp(t)
	err := s.View(func(tx *ReadTxn) error {
		exists, err := tx.BlobExists("general", "alice", 0)
		require.NoError(t, err)
		require.False(t, exists)
		return nil
	})
	require.NoError(t, err)
}

func TestDeleteBlobRemovesRow(t *testing.T) {
	s := openTemp(t)
	key, err := mailboxkey.NewBlobsKey("general", "alice", 0, mailboxkey.NewTimeID(time.Now()))
	require.NoError(t, err)

	err = s.Update(func(tx *WriteTxn) error {
		if err := tx.PutBlob(key, []byte("hello")); err != nil {
			return err
		}
		return tx.DeleteBlob(key)
	})
	require.NoError(t, err)

	err = s.View(func(tx *ReadTxn) error {
		exists, err := tx.BlobExists("general", "alice", 0)
		require.NoError(t, err)
		require.False(t, exists)
		return nil
	})
	require.NoError(t, err)
}

func TestWatermarkRoundTrip(t *testing.T) {
	s := openTemp(t)
	wmKey, err := mailboxkey.NewWatermarksKey("general", "alice")
	require.NoError(t, err)

	err = s.Update(func(tx *WriteTxn) error {
		_, ok := tx.GetWatermark(wmKey)
		require.False(t, ok)
		return tx.PutWatermark(wmKey, 7)
	})
	require.NoError(t, err)

	err = s.View(func(tx *ReadTxn) error {
		w, ok := tx.GetWatermark(wmKey)
		require.True(t, ok)
		require.Equal(t, uint64(7), w)
		return nil
	})
	require.NoError(t, err)
}

func putBlob(t *testing.T, s *Store, topic, author string, seq uint64, body string) {
	t.Helper()
	key, err := mailboxkey.NewBlobsKey(topic, author, seq, mailboxkey.NewTimeID(time.Now()))
	require.NoError(t, err)
	err = s.Update(func(tx *WriteTxn) error {
		return tx.PutBlob(key, []byte(body))
	})
	require.NoError(t, err)
}

func TestRangeBlobsCoversOnlyRequestedPrefix(t *testing.T) {
	s := openTemp(t)
	putBlob(t, s, "general", "alice", 0, "a0")
	putBlob(t, s, "general", "alice", 1, "a1")
	putBlob(t, s, "general", "bob", 0, "b0")
	putBlob(t, s, "random", "alice", 0, "x0")

	var seen []mailboxkey.BlobsKey
	lo, hi := mailboxkey.TopicAuthorPrefix("general", "alice")
	err := s.View(func(tx *ReadTxn) error {
		return tx.RangeBlobs(lo, hi, func(key mailboxkey.BlobsKey, blob []byte) bool {
			seen = append(seen, key)
			return true
		})
	})
	require.NoError(t, err)
	require.Len(t, seen, 2)
	for _, k := range seen {
		require.Equal(t, "general", k.TopicID)
		require.Equal(t, "alice", k.Author)
	}
}

func TestAllBlobsScansEveryTopic(t *testing.T) {
	s := openTemp(t)
	putBlob(t, s, "general", "alice", 0, "a0")
	putBlob(t, s, "random", "bob", 0, "b0")

	count := 0
	err := s.View(func(tx *ReadTxn) error {
		return tx.AllBlobs(func(mailboxkey.BlobsKey, []byte) bool {
			count++
			return true
		})
	})
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

// TestAllBlobsReturnsErrorOnCorruptKeyWithoutPanicking exercises the
// cleanup-scan error path: a row whose key can't be decoded must surface
// as an error from AllBlobs, not a panic, so a caller like RunRetention can
// abort just that pass and retry on the next tick.
func TestAllBlobsReturnsErrorOnCorruptKeyWithoutPanicking(t *testing.T) {
	s := openTemp(t)
	putBlob(t, s, "general", "alice", 0, "a0")

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(blobsBucket).Put([]byte("no delimiters here"), []byte("garbage"))
	})
	require.NoError(t, err)

	require.NotPanics(t, func() {
		err = s.View(func(tx *ReadTxn) error {
			return tx.AllBlobs(func(mailboxkey.BlobsKey, []byte) bool { return true })
		})
	})
	require.Error(t, err)
}

// TestOpenRebuildsWatermarksFromExistingBlobs exercises initialScan: blobs
// written with PutBlob alone (no watermark update) must still produce a
// correct watermark the next time Open runs over that file.
func TestOpenRebuildsWatermarksFromExistingBlobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailbox.bolt")

	s, err := Open(path)
	require.NoError(t, err)
	for seq := uint64(0); seq <= 2; seq++ {
		key, err := mailboxkey.NewBlobsKey("general", "alice", seq, mailboxkey.NewTimeID(time.Now()))
		require.NoError(t, err)
		err = s.Update(func(tx *WriteTxn) error {
			return tx.PutBlob(key, []byte("body"))
		})
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	wmKey, err := mailboxkey.NewWatermarksKey("general", "alice")
	require.NoError(t, err)
	err = reopened.View(func(tx *ReadTxn) error {
		w, ok := tx.GetWatermark(wmKey)
		require.True(t, ok)
		require.Equal(t, uint64(2), w)
		return nil
	})
	require.NoError(t, err)
}
