package mailboxserver

import (
	"time"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/skeinmail/mailbox/core/worker"
	"github.com/skeinmail/mailbox/internal/metrics"
	"github.com/skeinmail/mailbox/mailboxkey"
	"github.com/skeinmail/mailbox/storage"
)

// DefaultCleanupInterval and DefaultMaxAge match the original mailbox
// server's cleanup.rs constants.
const (
	DefaultCleanupInterval = 5 * time.Minute
	DefaultMaxAge          = 7 * 24 * time.Hour
)

// RetentionWorker periodically deletes blob rows older than maxAge,
// without ever touching watermarks — the decoupling that keeps sync
// eventually-complete without an acknowledgement channel.
type RetentionWorker struct {
	worker.Worker

	store    *storage.Store
	log      *logging.Logger
	metrics  *metrics.Registry
	interval time.Duration
	maxAge   time.Duration
}

func (w *RetentionWorker) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.HaltCh():
			w.log.Debug("retention: halting")
			return
		case <-ticker.C:
			deleted, err := RunRetention(w.store, w.maxAge)
			if err != nil {
				w.log.Errorf("retention: %s", err)
				continue
			}
			if deleted > 0 {
				w.log.Debugf("retention: deleted %d old blobs", deleted)
			}
			if w.metrics != nil {
				w.metrics.BlobsReaped.Add(float64(deleted))
			}
		}
	}
}

// RunRetention deletes every blob row whose embedded TimeID predates
// time.Now().Add(-maxAge), in a single transaction, and never touches the
// watermarks bucket. A row whose key fails to decode aborts this pass with
// an error rather than panicking the process; the next tick retries.
func RunRetention(store *storage.Store, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	deleted := 0

	err := store.Update(func(tx *storage.WriteTxn) error {
		var toDelete []mailboxkey.BlobsKey

		err := tx.AllBlobs(func(key mailboxkey.BlobsKey, _ []byte) bool {
			if key.ID.Timestamp().Before(cutoff) {
				toDelete = append(toDelete, key)
			}
			return true
		})
		if err != nil {
			return err
		}

		for _, key := range toDelete {
			if err := tx.DeleteBlob(key); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}
