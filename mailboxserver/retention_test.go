package mailboxserver

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skeinmail/mailbox/mailboxkey"
	"github.com/skeinmail/mailbox/storage"
)

func TestRunRetentionDeletesOnlyOldBlobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailbox.bolt")
	store, err := storage.Open(path)
	require.NoError(t, err)
	defer store.Close()

	oldKey, err := mailboxkey.NewBlobsKey("general", "alice", 0, mailboxkey.NewTimeID(time.Now().Add(-48*time.Hour)))
	require.NoError(t, err)
	freshKey, err := mailboxkey.NewBlobsKey("general", "alice", 1, mailboxkey.NewTimeID(time.Now()))
	require.NoError(t, err)

	err = store.Update(func(tx *storage.WriteTxn) error {
		if err := tx.PutBlob(oldKey, []byte("old")); err != nil {
			return err
		}
		return tx.PutBlob(freshKey, []byte("fresh"))
	})
	require.NoError(t, err)

	deleted, err := RunRetention(store, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	err = store.View(func(tx *storage.ReadTxn) error {
		exists, err := tx.BlobExists("general", "alice", 0)
		require.NoError(t, err)
		require.False(t, exists, "the old blob should have been reaped")

		exists, err = tx.BlobExists("general", "alice", 1)
		require.NoError(t, err)
		require.True(t, exists, "the fresh blob should survive")
		return nil
	})
	require.NoError(t, err)
}

func TestRunRetentionLeavesWatermarkUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailbox.bolt")
	store, err := storage.Open(path)
	require.NoError(t, err)
	defer store.Close()

	wmKey, err := mailboxkey.NewWatermarksKey("general", "alice")
	require.NoError(t, err)
	key, err := mailboxkey.NewBlobsKey("general", "alice", 0, mailboxkey.NewTimeID(time.Now().Add(-48*time.Hour)))
	require.NoError(t, err)

	err = store.Update(func(tx *storage.WriteTxn) error {
		if err := tx.PutBlob(key, []byte("old")); err != nil {
			return err
		}
		return tx.PutWatermark(wmKey, 0)
	})
	require.NoError(t, err)

	_, err = RunRetention(store, 24*time.Hour)
	require.NoError(t, err)

	err = store.View(func(tx *storage.ReadTxn) error {
		w, ok := tx.GetWatermark(wmKey)
		require.True(t, ok)
		require.Equal(t, uint64(0), w)
		return nil
	})
	require.NoError(t, err)
}
