package manager

import "github.com/ussync/ussyncd/internal/value"

// Delta is broadcast on every successful mutation. Payload is opaque to
// subscribers: either the encoded CRDT state or a byte-exact representation
// of the mutation, per spec §3.
type Delta struct {
	DocumentID string
	Version    uint64
	Path       string
	Payload    []byte

	// SequenceID monotonically orders deltas across documents, letting
	// subscribers total-order updates whose per-document Version ties
	// (documents are versioned independently, so Version alone can't).
	SequenceID int64
}

// Presence is a per-document, per-client ephemeral annotation (cursor,
// selection, online indicator).
type Presence struct {
	ClientID string
	Data     value.Value
}
