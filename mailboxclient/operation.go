package mailboxclient

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// opHeader is the structured routing information carried inside
// MailboxOperation.Header. The mailbox core treats Header as an opaque
// byte string; only this package's wire client needs to look inside it, to
// know which (topic, author, sequence) slot a blob belongs in, and to
// identify the operation by its content hash.
type opHeader struct {
	Hash   string
	Topic  TopicID
	Author AuthorID
	SeqNum uint64
}

// NewOperation builds a MailboxOperation carrying the given routing
// information, CBOR-encoding it into Header. The hash is computed over
// body, the same sha256-of-content id scheme stream.go/map/client/stream.go
// use for their MessageID.
func NewOperation(topic TopicID, author AuthorID, seq uint64, body []byte) (MailboxOperation, error) {
	sum := sha256.Sum256(body)
	hdr, err := cbor.Marshal(opHeader{
		Hash:   hex.EncodeToString(sum[:]),
		Topic:  topic,
		Author: author,
		SeqNum: seq,
	})
	if err != nil {
		return MailboxOperation{}, fmt.Errorf("mailboxclient: encode header: %w", err)
	}
	return MailboxOperation{Header: hdr, Body: body}, nil
}

// Hash returns the hex-encoded content hash a MailboxOperation's header
// carries.
func (op MailboxOperation) Hash() (string, error) {
	h, err := op.decodeHeader()
	return h.Hash, err
}

// Topic returns the topic a MailboxOperation's header routes it to.
func (op MailboxOperation) Topic() (TopicID, error) {
	h, err := op.decodeHeader()
	return h.Topic, err
}

// Author returns the author a MailboxOperation's header routes it to.
func (op MailboxOperation) Author() (AuthorID, error) {
	h, err := op.decodeHeader()
	return h.Author, err
}

// SeqNum returns the sequence number a MailboxOperation's header carries.
func (op MailboxOperation) SeqNum() (uint64, error) {
	h, err := op.decodeHeader()
	return h.SeqNum, err
}

func (op MailboxOperation) decodeHeader() (opHeader, error) {
	var h opHeader
	if err := cbor.Unmarshal(op.Header, &h); err != nil {
		return opHeader{}, fmt.Errorf("mailboxclient: decode header: %w", err)
	}
	return h, nil
}

func routingOf(op MailboxOperation) (TopicID, AuthorID, uint64, error) {
	h, err := op.decodeHeader()
	if err != nil {
		return "", "", 0, err
	}
	return h.Topic, h.Author, h.SeqNum, nil
}

// encodeOp serializes op (header + body) into the opaque blob bytes stored
// by the mailbox server.
func encodeOp(op MailboxOperation) []byte {
	b, _ := cbor.Marshal(op)
	return b
}

// decodeOp parses bytes produced by encodeOp.
func decodeOp(b []byte) (MailboxOperation, error) {
	var op MailboxOperation
	if err := cbor.Unmarshal(b, &op); err != nil {
		return MailboxOperation{}, err
	}
	return op, nil
}
