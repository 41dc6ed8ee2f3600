// Package audit defines the hash-chained audit event and the pending
// anchor queue entry.
package audit

import (
	"time"

	"github.com/market-engine/market-engine/internal/canonical"
)

// Event is one append-only audit record. ChainHash commits to the event
// payload and to Prev, so any rewrite of history breaks the chain from
// that point forward.
type Event struct {
	EventID   string         `json:"eventId"`
	Kind      string         `json:"kind"`
	RefID     string         `json:"refId"`
	Hash      string         `json:"hash"`
	Actor     string         `json:"actor,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
	Prev      string         `json:"prev"`
	ChainHash string         `json:"chainHash"`
	AnchorTx  string         `json:"anchorTx,omitempty"`
}

// GenesisPrev is the Prev value of the first event in a chain.
const GenesisPrev = "0x" + "0000000000000000000000000000000000000000000000000000000000000000"

// ComputeChainHash derives the chain hash for an event from its payload
// fields and the previous chain hash. AnchorTx is excluded so late
// anchoring never rewrites the chain.
func ComputeChainHash(e Event) (string, error) {
	return canonical.Hash(map[string]any{
		"eventId":   e.EventID,
		"kind":      e.Kind,
		"refId":     e.RefID,
		"hash":      e.Hash,
		"actor":     e.Actor,
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
		"details":   e.Details,
		"prev":      e.Prev,
	})
}

// PendingAnchor is a chain hash whose on-chain anchoring failed and is
// queued for a later flush.
type PendingAnchor struct {
	AnchorID    string    `json:"anchorId"`
	PayloadHash string    `json:"payloadHash"`
	CreatedAt   time.Time `json:"createdAt"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"lastError,omitempty"`
}
