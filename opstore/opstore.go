// Package opstore is a reference in-memory implementation of
// mailboxclient.OpStore, grounded on the shape of the original's
// mailbox-client/src/mem.rs and dashchat-node/src/stores/op_store.rs. It is
// not part of the mailbox's production surface — the real log store lives
// in the node, outside the mailbox's scope — but the manager's
// reconciliation loop can't be exercised without something implementing
// this interface.
package opstore

import (
	"context"
	"sort"
	"sync"

	"github.com/skeinmail/mailbox/mailboxclient"
)

// MemStore holds one append-only, ordered log per (topic, author).
type MemStore struct {
	mu   sync.Mutex
	logs map[mailboxclient.TopicID]map[mailboxclient.AuthorID][]mailboxclient.MailboxOperation
}

// New returns an empty MemStore.
func New() *MemStore {
	return &MemStore{
		logs: make(map[mailboxclient.TopicID]map[mailboxclient.AuthorID][]mailboxclient.MailboxOperation),
	}
}

// Append adds op to the end of its (topic, author) log. Sequence numbers
// must be assigned by the caller (via mailboxclient.NewOperation) and must
// be contiguous from 0 for a given (topic, author); Append does not
// validate this.
func (s *MemStore) Append(op mailboxclient.MailboxOperation) {
	topic, err := op.Topic()
	if err != nil {
		return
	}
	author, err := op.Author()
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	byAuthor, ok := s.logs[topic]
	if !ok {
		byAuthor = make(map[mailboxclient.AuthorID][]mailboxclient.MailboxOperation)
		s.logs[topic] = byAuthor
	}
	byAuthor[author] = append(byAuthor[author], op)
}

// GetLogHeights implements mailboxclient.OpStore.
func (s *MemStore) GetLogHeights(_ context.Context, topic mailboxclient.TopicID) ([]mailboxclient.AuthorHeight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byAuthor := s.logs[topic]
	heights := make([]mailboxclient.AuthorHeight, 0, len(byAuthor))
	for author, log := range byAuthor {
		if len(log) == 0 {
			continue
		}
		heights = append(heights, mailboxclient.AuthorHeight{Author: author, Height: uint64(len(log) - 1)})
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i].Author < heights[j].Author })
	return heights, nil
}

// GetLog implements mailboxclient.OpStore.
func (s *MemStore) GetLog(_ context.Context, author mailboxclient.AuthorID, topic mailboxclient.TopicID, from *uint64) ([]mailboxclient.MailboxOperation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byAuthor, ok := s.logs[topic]
	if !ok {
		return nil, false, nil
	}
	log, ok := byAuthor[author]
	if !ok {
		return nil, false, nil
	}

	start := uint64(0)
	if from != nil {
		start = *from
	}
	if start >= uint64(len(log)) {
		return nil, true, nil
	}
	out := make([]mailboxclient.MailboxOperation, len(log)-int(start))
	copy(out, log[start:])
	return out, true, nil
}
