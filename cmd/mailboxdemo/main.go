// Command mailboxdemo exercises the full mailbox loop end to end: an
// in-process mailbox server, two nodes that never talk to each other
// directly, and a late-joining mailbox subscription that still delivers a
// message sent before either node attached it.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http/httptest"
	"os"
	"time"

	mailboxlog "github.com/skeinmail/mailbox/internal/log"
	"github.com/skeinmail/mailbox/internal/metrics"
	"github.com/skeinmail/mailbox/mailboxclient"
	"github.com/skeinmail/mailbox/mailboxserver"
	"github.com/skeinmail/mailbox/opstore"
	"github.com/skeinmail/mailbox/storage"
)

func main() {
	var dbPath string
	flag.StringVar(&dbPath, "db-path", "", "bbolt file to use (defaults to a temp file)")
	flag.Parse()

	if dbPath == "" {
		f, err := os.CreateTemp("", "mailboxdemo-*.bolt")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		dbPath = f.Name()
		f.Close()
		defer os.Remove(dbPath)
	}

	store, err := storage.Open(dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer store.Close()

	logBackend := mailboxlog.NewDiscard()
	srv := mailboxserver.New(store, logBackend.GetLogger("server"), metrics.New(), 0)
	testServer := httptest.NewServer(srv.Handler())
	defer testServer.Close()

	const topic = mailboxclient.TopicID("demo-topic")
	const alice = mailboxclient.AuthorID("alice")

	aliceStore := opstore.New()
	bobbiStore := opstore.New()

	aliceMgr := mailboxclient.Spawn(aliceStore, mailboxclient.DefaultManagerConfig(), logBackend.GetLogger("alice"))
	bobbiMgr := mailboxclient.Spawn(bobbiStore, mailboxclient.DefaultManagerConfig(), logBackend.GetLogger("bobbi"))
	defer aliceMgr.Halt()
	defer bobbiMgr.Halt()

	op, err := mailboxclient.NewOperation(topic, alice, 0, []byte("Hello"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	aliceStore.Append(op)

	fmt.Println("=== adding mailboxes ===")
	aliceMgr.Add(mailboxclient.NewHTTPMailbox(testServer.URL, nil))
	bobbiMgr.Add(mailboxclient.NewHTTPMailbox(testServer.URL, nil))

	_, _ = aliceMgr.Subscribe(topic)
	bobbiCh, _ := bobbiMgr.Subscribe(topic)
	aliceMgr.TriggerSync()
	bobbiMgr.TriggerSync()
	fmt.Println("=== added mailboxes ===")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case received := <-bobbiCh:
			author, _ := received.Author()
			seq, _ := received.SeqNum()
			fmt.Printf("bobbi received from %s, seq %d: %s\n", author, seq, received.Body)
			return
		case <-ticker.C:
			bobbiMgr.TriggerSync()
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "timed out waiting for message")
			os.Exit(1)
		}
	}
}
