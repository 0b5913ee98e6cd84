// Package mailboxclient implements the node-side mailbox manager: it
// reconciles every subscribed topic against registered mailbox servers on
// an interval, forwarding fetched operations to per-topic subscribers and
// republishing whatever a mailbox reports missing.
package mailboxclient

import "context"

// MailboxOperation is the opaque envelope the mailbox core moves around
// without interpreting. Header and Body mirror the original's
// MailboxOperation{header, body}; the mailbox never looks inside either.
type MailboxOperation struct {
	Header []byte
	Body   []byte
}

// TopicID and AuthorID are the topic and author identifier strings used on
// the wire. This package sends them exactly as given; it does not hex-encode
// or otherwise validate them.
type TopicID string
type AuthorID string

// FetchRequest is the per-topic, per-author height a node already holds.
type FetchRequest struct {
	Topics map[TopicID]map[AuthorID]uint64
}

// FetchTopicResponse is one topic's answer to a Fetch call.
type FetchTopicResponse struct {
	Items   []MailboxOperation
	Missing map[AuthorID][]uint64
}

// FetchResponse is the full answer to a Fetch call.
type FetchResponse struct {
	Topics map[TopicID]FetchTopicResponse
}

// Mailbox is a single registered mailbox server.
type Mailbox interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
	Publish(ctx context.Context, ops []MailboxOperation) error
}

// AuthorHeight is one entry of OpStore.GetLogHeights's result: the highest
// sequence number the node holds locally for that author.
type AuthorHeight struct {
	Author AuthorID
	Height uint64
}

// OpStore is the external log-store collaborator the manager reads from
// (to build fetch requests and find operations to republish) — it is not
// part of the mailbox's own surface, see opstore.MemStore for a reference
// implementation used in tests.
type OpStore interface {
	GetLogHeights(ctx context.Context, topic TopicID) ([]AuthorHeight, error)
	// GetLog returns every operation at or after `from` (nil means from the
	// start) for (author, topic), in ascending sequence order. ok is false
	// if no log exists for that (author, topic) pair.
	GetLog(ctx context.Context, author AuthorID, topic TopicID, from *uint64) (ops []MailboxOperation, ok bool, err error)
}
