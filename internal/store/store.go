// Package store defines the persistence contract shared by the file and
// SQL backends. Records are stored as JSON documents keyed by id, so
// both backends preserve fields written by newer code paths.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/market-engine/market-engine/internal/domain/audit"
	"github.com/market-engine/market-engine/internal/domain/dispute"
	"github.com/market-engine/market-engine/internal/domain/resource"
	"github.com/market-engine/market-engine/internal/domain/revocation"
	"github.com/market-engine/market-engine/internal/domain/reward"
	"github.com/market-engine/market-engine/internal/domain/trade"
)

// ErrNotFound is returned by every Get* when the id is absent.
var ErrNotFound = errors.New("record not found")

// ErrNonceExists is returned by PutNonce when the nonce id is taken.
var ErrNonceExists = errors.New("nonce already consumed")

type OfferFilter struct {
	SellerID string
	Status   trade.OfferStatus
}

type OrderFilter struct {
	OfferID string
	BuyerID string
	Status  trade.OrderStatus
}

type SettlementFilter struct {
	Status trade.SettlementStatus
}

type DisputeFilter struct {
	OrderID string
	Status  dispute.Status
}

type ResourceFilter struct {
	OwnerID string
	Kind    string
	Status  resource.Status
}

type LeaseFilter struct {
	ResourceID string
	ConsumerID string
	TokenHash  string
	Status     resource.LeaseStatus
}

type LedgerFilter struct {
	LeaseID    string
	ResourceID string
	ConsumerID string
	Since      time.Time
	Limit      int
}

type GrantFilter struct {
	RecipientID string
	Status      reward.Status
}

type JobFilter struct {
	Status    revocation.JobStatus
	DueBefore time.Time
}

type AuditFilter struct {
	Kind  string
	RefID string
	Since time.Time
	Limit int
}

// Store is the full persistence surface of the engine. Mutations made
// inside Transaction are applied atomically; on error every write in the
// scope is rolled back.
type Store interface {
	GetOffer(ctx context.Context, id string) (*trade.Offer, error)
	PutOffer(ctx context.Context, o *trade.Offer) error
	ListOffers(ctx context.Context, f OfferFilter) ([]*trade.Offer, error)

	GetOrder(ctx context.Context, id string) (*trade.Order, error)
	PutOrder(ctx context.Context, o *trade.Order) error
	ListOrders(ctx context.Context, f OrderFilter) ([]*trade.Order, error)

	GetConsent(ctx context.Context, id string) (*trade.Consent, error)
	GetConsentByOrder(ctx context.Context, orderID string) (*trade.Consent, error)
	PutConsent(ctx context.Context, c *trade.Consent) error

	GetDelivery(ctx context.Context, id string) (*trade.Delivery, error)
	GetDeliveryByOrder(ctx context.Context, orderID string) (*trade.Delivery, error)
	PutDelivery(ctx context.Context, d *trade.Delivery) error

	GetSettlement(ctx context.Context, id string) (*trade.Settlement, error)
	GetSettlementByOrder(ctx context.Context, orderID string) (*trade.Settlement, error)
	PutSettlement(ctx context.Context, s *trade.Settlement) error
	ListSettlements(ctx context.Context, f SettlementFilter) ([]*trade.Settlement, error)

	GetDispute(ctx context.Context, id string) (*dispute.Dispute, error)
	PutDispute(ctx context.Context, d *dispute.Dispute) error
	ListDisputes(ctx context.Context, f DisputeFilter) ([]*dispute.Dispute, error)

	GetResource(ctx context.Context, id string) (*resource.Resource, error)
	PutResource(ctx context.Context, r *resource.Resource) error
	ListResources(ctx context.Context, f ResourceFilter) ([]*resource.Resource, error)

	GetLease(ctx context.Context, id string) (*resource.Lease, error)
	PutLease(ctx context.Context, l *resource.Lease) error
	ListLeases(ctx context.Context, f LeaseFilter) ([]*resource.Lease, error)

	AppendLedger(ctx context.Context, e *resource.LedgerEntry) error
	ListLedger(ctx context.Context, f LedgerFilter) ([]*resource.LedgerEntry, error)

	GetGrant(ctx context.Context, id string) (*reward.Grant, error)
	PutGrant(ctx context.Context, g *reward.Grant) error
	ListGrants(ctx context.Context, f GrantFilter) ([]*reward.Grant, error)

	GetNonce(ctx context.Context, id string) (*reward.Nonce, error)
	PutNonce(ctx context.Context, id string, n *reward.Nonce) error

	GetRevocationJob(ctx context.Context, id string) (*revocation.Job, error)
	PutRevocationJob(ctx context.Context, j *revocation.Job) error
	DeleteRevocationJob(ctx context.Context, id string) error
	ListRevocationJobs(ctx context.Context, f JobFilter) ([]*revocation.Job, error)

	PutPendingAnchor(ctx context.Context, a *audit.PendingAnchor) error
	DeletePendingAnchor(ctx context.Context, id string) error
	ListPendingAnchors(ctx context.Context) ([]*audit.PendingAnchor, error)

	AppendAudit(ctx context.Context, e *audit.Event) error
	ListAudit(ctx context.Context, f AuditFilter) ([]*audit.Event, error)
	LastChainHash(ctx context.Context) (string, error)

	Transaction(ctx context.Context, fn func(ctx context.Context) error) error

	Migrate(ctx context.Context) error
	Close() error
}
