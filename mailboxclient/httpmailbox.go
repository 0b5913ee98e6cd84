package mailboxclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
)

// HTTPMailbox talks to a mailbox server's /blobs/get and /blobs/store
// endpoints over HTTP/JSON, per the mailbox's wire protocol.
type HTTPMailbox struct {
	baseURL string
	client  *http.Client
}

// NewHTTPMailbox constructs a Mailbox backed by an HTTP mailbox server at
// baseURL (e.g. "http://localhost:3000").
func NewHTTPMailbox(baseURL string, client *http.Client) *HTTPMailbox {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPMailbox{baseURL: baseURL, client: client}
}

type storeBlobsWire struct {
	Blobs map[string]map[string]map[uint64][]byte `json:"blobs"`
}

type getBlobsRequestWire struct {
	Topics map[string]map[string]uint64 `json:"topics"`
}

type getBlobsTopicResponseWire struct {
	Blobs   map[string]map[uint64][]byte `json:"blobs"`
	Missing map[string][]uint64          `json:"missing"`
}

type getBlobsResponseWire struct {
	BlobsByTopic map[string]getBlobsTopicResponseWire `json:"blobs_by_topic"`
}

// Fetch implements Mailbox.Fetch against POST /blobs/get. Items are decoded
// from the blob bytes using decodeOp; Fetch returns an error if it can't.
func (m *HTTPMailbox) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	wireReq := getBlobsRequestWire{Topics: make(map[string]map[string]uint64, len(req.Topics))}
	for topic, byAuthor := range req.Topics {
		m := make(map[string]uint64, len(byAuthor))
		for author, height := range byAuthor {
			m[string(author)] = height
		}
		wireReq.Topics[string(topic)] = m
	}

	var wireResp getBlobsResponseWire
	if err := m.post(ctx, "/blobs/get", wireReq, &wireResp); err != nil {
		return FetchResponse{}, err
	}

	resp := FetchResponse{Topics: make(map[TopicID]FetchTopicResponse, len(wireResp.BlobsByTopic))}
	for topic, topicResp := range wireResp.BlobsByTopic {
		var items []MailboxOperation
		for _, bySeq := range topicResp.Blobs {
			// Hand each author's items on in ascending sequence order.
			seqs := make([]uint64, 0, len(bySeq))
			for seq := range bySeq {
				seqs = append(seqs, seq)
			}
			sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
			for _, seq := range seqs {
				op, err := decodeOp(bySeq[seq])
				if err != nil {
					return FetchResponse{}, fmt.Errorf("mailboxclient: decode operation: %w", err)
				}
				items = append(items, op)
			}
		}
		missing := make(map[AuthorID][]uint64, len(topicResp.Missing))
		for author, seqs := range topicResp.Missing {
			missing[AuthorID(author)] = seqs
		}
		resp.Topics[TopicID(topic)] = FetchTopicResponse{Items: items, Missing: missing}
	}
	return resp, nil
}

// Publish implements Mailbox.Publish against POST /blobs/store. Each op
// must carry enough information in its header to route it; decodeOp/
// encodeOp round-trip topic, author, and sequence through the envelope.
func (m *HTTPMailbox) Publish(ctx context.Context, ops []MailboxOperation) error {
	if len(ops) == 0 {
		return nil
	}
	wireReq := storeBlobsWire{Blobs: make(map[string]map[string]map[uint64][]byte)}
	for _, op := range ops {
		topic, author, seq, err := routingOf(op)
		if err != nil {
			return fmt.Errorf("mailboxclient: route operation: %w", err)
		}
		byAuthor, ok := wireReq.Blobs[string(topic)]
		if !ok {
			byAuthor = make(map[string]map[uint64][]byte)
			wireReq.Blobs[string(topic)] = byAuthor
		}
		bySeq, ok := byAuthor[string(author)]
		if !ok {
			bySeq = make(map[uint64][]byte)
			byAuthor[string(author)] = bySeq
		}
		bySeq[seq] = encodeOp(op)
	}
	return m.post(ctx, "/blobs/store", wireReq, nil)
}

func (m *HTTPMailbox) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("mailboxclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("mailboxclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mailboxclient: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("mailboxclient: %s: %s: %s", path, resp.Status, msg)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
