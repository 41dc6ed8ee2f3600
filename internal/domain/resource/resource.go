// Package resource holds the resource catalog, lease and usage ledger
// entities.
package resource

import (
	"time"

	"github.com/market-engine/market-engine/internal/apperr"
)

type Status string

const (
	StatusDraft       Status = "resource_draft"
	StatusPublished   Status = "resource_published"
	StatusUnpublished Status = "resource_unpublished"
)

type LeaseStatus string

const (
	LeaseActive  LeaseStatus = "lease_active"
	LeaseRevoked LeaseStatus = "lease_revoked"
	LeaseExpired LeaseStatus = "lease_expired"
)

// Pricing is the per-call price of a published resource.
type Pricing struct {
	PricePerCall float64 `json:"pricePerCall"`
	Currency     string  `json:"currency"`
}

// Resource is a callable asset leased out in metered units.
type Resource struct {
	ResourceID   string    `json:"resourceId"`
	OwnerID      string    `json:"ownerId"`
	Kind         string    `json:"kind"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	Endpoint     string    `json:"endpoint,omitempty"`
	Pricing      Pricing   `json:"pricing"`
	MaxQuota     int       `json:"maxQuota"`
	Status       Status    `json:"status"`
	ResourceHash string    `json:"resourceHash"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Lease grants a consumer a quota of calls against a resource until
// ExpiresAt. TokenHash stores only the digest of the access token.
type Lease struct {
	LeaseID    string      `json:"leaseId"`
	ResourceID string      `json:"resourceId"`
	OrderID    string      `json:"orderId"`
	ConsumerID string      `json:"consumerId"`
	Quota      int         `json:"quota"`
	Used       int         `json:"used"`
	Status     LeaseStatus `json:"status"`
	TokenHash  string      `json:"tokenHash"`
	LeaseHash  string      `json:"leaseHash"`
	IssuedAt   time.Time   `json:"issuedAt"`
	ExpiresAt  time.Time   `json:"expiresAt"`
	RevokedAt  *time.Time  `json:"revokedAt,omitempty"`
}

// Remaining is the unused portion of the lease quota.
func (l *Lease) Remaining() int {
	if r := l.Quota - l.Used; r > 0 {
		return r
	}
	return 0
}

// LedgerEntry records one metered unit of usage against a lease.
type LedgerEntry struct {
	EntryID    string    `json:"entryId"`
	LeaseID    string    `json:"leaseId"`
	ResourceID string    `json:"resourceId"`
	ConsumerID string    `json:"consumerId"`
	Units      int       `json:"units"`
	Cost       float64   `json:"cost"`
	Currency   string    `json:"currency"`
	EntryHash  string    `json:"entryHash"`
	RecordedAt time.Time `json:"recordedAt"`
}

var resourceTransitions = map[Status][]Status{
	StatusDraft:       {StatusPublished},
	StatusPublished:   {StatusUnpublished},
	StatusUnpublished: {StatusPublished},
}

var leaseTransitions = map[LeaseStatus][]LeaseStatus{
	LeaseActive:  {LeaseRevoked, LeaseExpired},
	LeaseRevoked: {},
	LeaseExpired: {},
}

func CanTransition(from, to Status) bool {
	for _, allowed := range resourceTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func CanTransitionLease(from, to LeaseStatus) bool {
	for _, allowed := range leaseTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func AssertTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return apperr.Conflict("invalid resource transition: %s -> %s", from, to)
	}
	return nil
}

func AssertLeaseTransition(from, to LeaseStatus) error {
	if !CanTransitionLease(from, to) {
		return apperr.Conflict("invalid lease transition: %s -> %s", from, to)
	}
	return nil
}
