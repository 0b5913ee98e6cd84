package mailboxserver

// Wire types for the HTTP/JSON protocol: topic/author identifiers are used
// verbatim as given by the client (only ':' and NUL are rejected, by the key
// codec), blobs are base64-standard-encoded, sequence numbers are uint64.

// StoreBlobsRequest is the body of POST /blobs/store.
type StoreBlobsRequest struct {
	Blobs map[string]map[string]map[uint64][]byte `json:"blobs"`
}

// GetBlobsRequest is the body of POST /blobs/get. The per-author value is
// the client's current height: the highest sequence number it already has
// for that author in that topic.
type GetBlobsRequest struct {
	Topics map[string]map[string]uint64 `json:"topics"`
}

// GetBlobsForTopicResponse is one topic's entry in GetBlobsResponse.
type GetBlobsForTopicResponse struct {
	Blobs   map[string]map[uint64][]byte `json:"blobs"`
	Missing map[string][]uint64          `json:"missing"`
}

// GetBlobsResponse is the body of POST /blobs/get's 200 response.
type GetBlobsResponse struct {
	BlobsByTopic map[string]GetBlobsForTopicResponse `json:"blobs_by_topic"`
}
