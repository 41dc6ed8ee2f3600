// Package dispute models order disputes and their evidence trail.
package dispute

import (
	"time"

	"github.com/market-engine/market-engine/internal/apperr"
)

type Status string

const (
	StatusOpened            Status = "dispute_opened"
	StatusEvidenceSubmitted Status = "evidence_submitted"
	StatusResolved          Status = "dispute_resolved"
	StatusRejected          Status = "dispute_rejected"
)

// Resolution is the arbiter's outcome for a resolved dispute.
type Resolution string

const (
	ResolutionRelease Resolution = "release"
	ResolutionRefund  Resolution = "refund"
	ResolutionPartial Resolution = "partial"
)

// Evidence is one submitted item; only the hash of the material is kept.
type Evidence struct {
	EvidenceID  string    `json:"evidenceId"`
	SubmitterID string    `json:"submitterId"`
	Kind        string    `json:"kind"`
	Description string    `json:"description,omitempty"`
	ContentHash string    `json:"contentHash"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// PartialSplit describes how a partial resolution divides the escrow.
type PartialSplit struct {
	ReleaseAmount string `json:"releaseAmount"`
	RefundAmount  string `json:"refundAmount"`
}

// Dispute is opened by a trade party against an order.
type Dispute struct {
	DisputeID   string        `json:"disputeId"`
	OrderID     string        `json:"orderId"`
	OpenedBy    string        `json:"openedBy"`
	Reason      string        `json:"reason"`
	Status      Status        `json:"status"`
	Evidence    []Evidence    `json:"evidence,omitempty"`
	Resolution  Resolution    `json:"resolution,omitempty"`
	Split       *PartialSplit `json:"split,omitempty"`
	ResolvedBy  string        `json:"resolvedBy,omitempty"`
	ResolveNote string        `json:"resolveNote,omitempty"`
	DisputeHash string        `json:"disputeHash"`
	OpenedAt    time.Time     `json:"openedAt"`
	ResolvedAt  *time.Time    `json:"resolvedAt,omitempty"`
}

var transitions = map[Status][]Status{
	StatusOpened:            {StatusEvidenceSubmitted, StatusResolved, StatusRejected},
	StatusEvidenceSubmitted: {StatusEvidenceSubmitted, StatusResolved, StatusRejected},
	StatusResolved:          {},
	StatusRejected:          {},
}

func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func AssertTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return apperr.Conflict("invalid dispute transition: %s -> %s", from, to)
	}
	return nil
}

// Terminal reports whether no further transition is possible.
func (d *Dispute) Terminal() bool {
	return len(transitions[d.Status]) == 0
}
