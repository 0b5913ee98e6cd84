package mailboxclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	mailboxlog "github.com/skeinmail/mailbox/internal/log"
	"github.com/skeinmail/mailbox/opstore"
)

// fakeMailbox is an in-process Mailbox that records Publish calls and
// answers Fetch from an in-memory per-topic, per-author log, the way
// httpmailbox.go talks to a real server but without the network hop.
type fakeMailbox struct {
	mu        sync.Mutex
	logs      map[TopicID]map[AuthorID][]MailboxOperation
	watermark map[TopicID]map[AuthorID]uint64
	published []MailboxOperation
	fetchErr  error
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		logs:      make(map[TopicID]map[AuthorID][]MailboxOperation),
		watermark: make(map[TopicID]map[AuthorID]uint64),
	}
}

func (f *fakeMailbox) Fetch(_ context.Context, req FetchRequest) (FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return FetchResponse{}, f.fetchErr
	}

	resp := FetchResponse{Topics: make(map[TopicID]FetchTopicResponse)}
	for topic, byAuthor := range req.Topics {
		var items []MailboxOperation
		missing := make(map[AuthorID][]uint64)
		for author, clientHeight := range byAuthor {
			log := f.logs[topic][author]
			w, hasW := f.watermark[topic][author]
			var candidates []uint64
			switch {
			case hasW && clientHeight > w:
				for s := w + 1; s <= clientHeight; s++ {
					candidates = append(candidates, s)
				}
			case !hasW:
				for s := uint64(0); s <= clientHeight; s++ {
					candidates = append(candidates, s)
				}
			}
			for _, s := range candidates {
				if s >= uint64(len(log)) {
					missing[author] = append(missing[author], s)
				}
			}
		}
		for author, log := range f.logs[topic] {
			if _, requested := byAuthor[author]; !requested {
				items = append(items, log...)
			}
		}
		resp.Topics[topic] = FetchTopicResponse{Items: items, Missing: missing}
	}
	return resp, nil
}

func (f *fakeMailbox) Publish(_ context.Context, ops []MailboxOperation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, op := range ops {
		topic, author, seq, err := routingOf(op)
		if err != nil {
			return err
		}
		byAuthor, ok := f.logs[topic]
		if !ok {
			byAuthor = make(map[AuthorID][]MailboxOperation)
			f.logs[topic] = byAuthor
		}
		byAuthor[author] = append(byAuthor[author], op)

		byAuthorW, ok := f.watermark[topic]
		if !ok {
			byAuthorW = make(map[AuthorID]uint64)
			f.watermark[topic] = byAuthorW
		}
		byAuthorW[author] = seq
	}
	f.published = append(f.published, ops...)
	return nil
}

func newTestManager(store OpStore) *Manager {
	log := mailboxlog.NewDiscard().GetLogger("test")
	return Spawn(store, DefaultManagerConfig(), log)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition never became true")
}

func TestManagerRepublishesLocallyHeldMissingOperations(t *testing.T) {
	store := opstore.New()
	op, err := NewOperation("general", "alice", 0, []byte("hello"))
	require.NoError(t, err)
	store.Append(op)

	mb := newFakeMailbox()
	mgr := newTestManager(store)
	defer mgr.Halt()

	mgr.Add(mb)
	_, err = mgr.Subscribe("general")
	require.NoError(t, err)
	mgr.TriggerSync()

	waitFor(t, 2*time.Second, func() bool {
		mb.mu.Lock()
		defer mb.mu.Unlock()
		return len(mb.published) == 1
	})

	author, _ := mb.published[0].Author()
	require.Equal(t, AuthorID("alice"), author)
}

func TestManagerForwardsFetchedItemsToSubscriber(t *testing.T) {
	remoteStore := opstore.New()
	op, err := NewOperation("general", "bob", 0, []byte("from bob"))
	require.NoError(t, err)
	remoteStore.Append(op)

	mb := newFakeMailbox()
	// Seed the fake mailbox as if another node had already published bob's
	// message to it.
	require.NoError(t, mb.Publish(context.Background(), []MailboxOperation{op}))

	localStore := opstore.New()
	mgr := newTestManager(localStore)
	defer mgr.Halt()

	mgr.Add(mb)
	ch, err := mgr.Subscribe("general")
	require.NoError(t, err)
	mgr.TriggerSync()

	select {
	case received := <-ch:
		author, _ := received.Author()
		require.Equal(t, AuthorID("bob"), author)
	case <-time.After(2 * time.Second):
		require.Fail(t, "timed out waiting for forwarded operation")
	}
}

func TestManagerRoundRobinsAcrossMailboxes(t *testing.T) {
	store := opstore.New()
	mgr := newTestManager(store)
	defer mgr.Halt()

	a := newFakeMailbox()
	b := newFakeMailbox()
	mgr.Add(a)
	mgr.Add(b)

	first, ok := mgr.nextMailbox()
	require.True(t, ok)
	second, ok := mgr.nextMailbox()
	require.True(t, ok)
	third, ok := mgr.nextMailbox()
	require.True(t, ok)

	require.NotSame(t, first, second)
	require.Same(t, first, third, "cursor should wrap back around after two mailboxes")
}

func TestManagerErrorIntervalWithNoMailboxes(t *testing.T) {
	store := opstore.New()
	mgr := newTestManager(store)
	defer mgr.Halt()
	require.Equal(t, mgr.config.ErrorInterval, mgr.oneIteration())
}

func TestManagerErrorIntervalWithNoTopics(t *testing.T) {
	store := opstore.New()
	mgr := newTestManager(store)
	defer mgr.Halt()
	mgr.Add(newFakeMailbox())
	require.Equal(t, mgr.config.ErrorInterval, mgr.oneIteration())
}
