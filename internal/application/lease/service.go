// Package lease issues metered access leases against published
// resources, verifies bearer tokens and meters usage into the ledger.
package lease

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/market-engine/market-engine/internal/apperr"
	"github.com/market-engine/market-engine/internal/application"
	appRevocation "github.com/market-engine/market-engine/internal/application/revocation"
	"github.com/market-engine/market-engine/internal/auditlog"
	"github.com/market-engine/market-engine/internal/canonical"
	"github.com/market-engine/market-engine/internal/domain/resource"
	"github.com/market-engine/market-engine/internal/domain/revocation"
	"github.com/market-engine/market-engine/internal/store"
)

const (
	tokenCacheSize = 4096
	tokenCacheTTL  = 5 * time.Minute
)

type Service struct {
	store    store.Store
	recorder *auditlog.Recorder
	engine   *appRevocation.Engine
	logger   zerolog.Logger

	// tokenCache maps token hash to lease id so hot verification paths
	// skip the store scan.
	tokenCache *lru.LRU[string, string]
}

func NewService(s store.Store, recorder *auditlog.Recorder, engine *appRevocation.Engine, logger zerolog.Logger) *Service {
	return &Service{
		store:      s,
		recorder:   recorder,
		engine:     engine,
		logger:     logger.With().Str("service", "lease").Logger(),
		tokenCache: lru.NewLRU[string, string](tokenCacheSize, nil, tokenCacheTTL),
	}
}

type IssueInput struct {
	ResourceID   string `json:"resourceId"`
	OrderID      string `json:"orderId,omitempty"`
	Quota        int    `json:"quota"`
	DurationDays int    `json:"durationDays"`
}

// Issued pairs the stored lease with the plaintext token, which is
// returned exactly once.
type Issued struct {
	Lease *resource.Lease `json:"lease"`
	Token string          `json:"token"`
}

// Issue creates an active lease on a published resource. The token is
// generated here, only its hash is stored.
func (s *Service) Issue(ctx context.Context, actor application.Actor, in IssueInput) (*Issued, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	if in.Quota <= 0 {
		return nil, apperr.InvalidArgument("quota must be greater than 0")
	}
	if in.DurationDays <= 0 {
		return nil, apperr.InvalidArgument("durationDays must be greater than 0")
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, err
	}
	token := hex.EncodeToString(tokenBytes)
	tokenHash := canonical.HashString(token)

	var lease *resource.Lease
	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		r, err := s.store.GetResource(ctx, in.ResourceID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("resource not found")
		}
		if err != nil {
			return err
		}
		if r.Status != resource.StatusPublished {
			return apperr.Conflict("resource is not published")
		}
		if in.Quota > r.MaxQuota {
			return apperr.InvalidArgument("quota exceeds resource maxQuota")
		}

		now := time.Now().UTC()
		lease = &resource.Lease{
			LeaseID:    uuid.NewString(),
			ResourceID: r.ResourceID,
			OrderID:    in.OrderID,
			ConsumerID: actor.ID,
			Quota:      in.Quota,
			Status:     resource.LeaseActive,
			TokenHash:  tokenHash,
			IssuedAt:   now,
			ExpiresAt:  now.AddDate(0, 0, in.DurationDays),
		}
		lease.LeaseHash, err = canonical.Hash(map[string]any{
			"leaseId":    lease.LeaseID,
			"resourceId": lease.ResourceID,
			"consumerId": lease.ConsumerID,
			"quota":      lease.Quota,
			"expiresAt":  lease.ExpiresAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return err
		}
		if err := s.store.PutLease(ctx, lease); err != nil {
			return err
		}
		_, err = s.recorder.Record(ctx, "lease_issued", lease.LeaseID, actor.ID, lease, map[string]any{
			"resourceId": r.ResourceID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.tokenCache.Add(tokenHash, lease.LeaseID)
	s.logger.Info().Str("lease_id", lease.LeaseID).Str("resource_id", in.ResourceID).Msg("lease issued")
	return &Issued{Lease: lease, Token: token}, nil
}

// Verify resolves a bearer token to its lease and checks that access
// still stands. An overdue lease is marked expired on the way out.
func (s *Service) Verify(ctx context.Context, token string) (*resource.Lease, error) {
	if token == "" {
		return nil, apperr.AuthRequired("lease token is required for resource access")
	}
	tokenHash := canonical.HashString(token)
	lease, err := s.byTokenHash(ctx, tokenHash)
	if err != nil {
		return nil, err
	}
	switch lease.Status {
	case resource.LeaseRevoked:
		return nil, apperr.Revoked("lease revoked")
	case resource.LeaseExpired:
		return nil, apperr.Expired("lease expired")
	}
	if time.Now().UTC().After(lease.ExpiresAt) {
		if err := s.expire(ctx, lease); err != nil {
			return nil, err
		}
		return nil, apperr.Expired("lease expired")
	}
	if lease.Remaining() == 0 {
		return nil, apperr.QuotaExceeded("lease quota exhausted")
	}
	return lease, nil
}

type UsageInput struct {
	Token string `json:"token"`
	Units int    `json:"units"`
}

// RecordUsage meters units against the lease and appends a ledger entry
// priced at the resource's per-call rate.
func (s *Service) RecordUsage(ctx context.Context, in UsageInput) (*resource.LedgerEntry, error) {
	if in.Units <= 0 {
		return nil, apperr.InvalidArgument("units must be greater than 0")
	}
	lease, err := s.Verify(ctx, in.Token)
	if err != nil {
		return nil, err
	}
	if in.Units > lease.Remaining() {
		return nil, apperr.QuotaExceeded("units exceed remaining lease quota")
	}

	var entry *resource.LedgerEntry
	err = s.store.Transaction(ctx, func(ctx context.Context) error {
		fresh, err := s.store.GetLease(ctx, lease.LeaseID)
		if err != nil {
			return err
		}
		if in.Units > fresh.Remaining() {
			return apperr.QuotaExceeded("units exceed remaining lease quota")
		}
		r, err := s.store.GetResource(ctx, fresh.ResourceID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		entry = &resource.LedgerEntry{
			EntryID:    uuid.NewString(),
			LeaseID:    fresh.LeaseID,
			ResourceID: fresh.ResourceID,
			ConsumerID: fresh.ConsumerID,
			Units:      in.Units,
			Cost:       float64(in.Units) * r.Pricing.PricePerCall,
			Currency:   r.Pricing.Currency,
			RecordedAt: now,
		}
		entry.EntryHash, err = canonical.Hash(map[string]any{
			"entryId": entry.EntryID,
			"leaseId": entry.LeaseID,
			"units":   entry.Units,
			"cost":    entry.Cost,
		})
		if err != nil {
			return err
		}
		if err := s.store.AppendLedger(ctx, entry); err != nil {
			return err
		}
		fresh.Used += in.Units
		if err := s.store.PutLease(ctx, fresh); err != nil {
			return err
		}
		_, err = s.recorder.Record(ctx, "usage_recorded", fresh.LeaseID, fresh.ConsumerID, entry, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

type RevokeInput struct {
	LeaseID        string `json:"leaseId"`
	Reason         string `json:"reason"`
	NotifyEndpoint string `json:"notifyEndpoint,omitempty"`
}

// Revoke withdraws a lease. The resource owner or a privileged actor may
// revoke.
func (s *Service) Revoke(ctx context.Context, actor application.Actor, in RevokeInput) (*resource.Lease, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	if in.Reason == "" {
		return nil, apperr.InvalidArgument("reason is required")
	}
	var lease *resource.Lease
	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		var err error
		lease, err = s.load(ctx, in.LeaseID)
		if err != nil {
			return err
		}
		r, err := s.store.GetResource(ctx, lease.ResourceID)
		if err != nil {
			return err
		}
		if r.OwnerID != actor.ID && !actor.Privileged() {
			return apperr.Forbidden("actorId does not match resource.ownerId")
		}
		if err := resource.AssertLeaseTransition(lease.Status, resource.LeaseRevoked); err != nil {
			return err
		}
		now := time.Now().UTC()
		lease.Status = resource.LeaseRevoked
		lease.RevokedAt = &now
		if err := s.store.PutLease(ctx, lease); err != nil {
			return err
		}
		_, err = s.recorder.RecordWithAnchor(ctx, "lease_revoked", lease.LeaseID, actor.ID, lease, map[string]any{
			"reason": in.Reason,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.tokenCache.Remove(lease.TokenHash)
	s.logger.Info().Str("lease_id", in.LeaseID).Msg("lease revoked")

	if in.NotifyEndpoint != "" {
		if _, err := s.engine.Enqueue(ctx, appRevocation.EnqueueInput{
			TargetKind: revocation.TargetLease,
			TargetID:   lease.LeaseID,
			OrderID:    lease.OrderID,
			Endpoint:   in.NotifyEndpoint,
			Reason:     in.Reason,
			Details:    map[string]any{"leaseId": lease.LeaseID},
		}); err != nil {
			s.logger.Error().Err(err).Str("lease_id", in.LeaseID).Msg("enqueue revocation webhook")
		}
	}
	return lease, nil
}

// ExpireSweep marks every overdue active lease as expired. Returns the
// number of leases flipped.
func (s *Service) ExpireSweep(ctx context.Context) (int, error) {
	active, err := s.store.ListLeases(ctx, store.LeaseFilter{Status: resource.LeaseActive})
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	expired := 0
	for _, lease := range active {
		if !now.After(lease.ExpiresAt) {
			continue
		}
		if err := s.expire(ctx, lease); err != nil {
			return expired, err
		}
		expired++
	}
	if expired > 0 {
		s.logger.Info().Int("expired", expired).Msg("lease expiry sweep")
	}
	return expired, nil
}

func (s *Service) expire(ctx context.Context, lease *resource.Lease) error {
	return s.store.Transaction(ctx, func(ctx context.Context) error {
		if err := resource.AssertLeaseTransition(lease.Status, resource.LeaseExpired); err != nil {
			return err
		}
		lease.Status = resource.LeaseExpired
		if err := s.store.PutLease(ctx, lease); err != nil {
			return err
		}
		s.tokenCache.Remove(lease.TokenHash)
		_, err := s.recorder.Record(ctx, "lease_expired", lease.LeaseID, application.System.ID, lease, nil)
		return err
	})
}

func (s *Service) Get(ctx context.Context, leaseID string) (*resource.Lease, error) {
	return s.load(ctx, leaseID)
}

func (s *Service) List(ctx context.Context, f store.LeaseFilter) ([]*resource.Lease, error) {
	return s.store.ListLeases(ctx, f)
}

func (s *Service) load(ctx context.Context, leaseID string) (*resource.Lease, error) {
	lease, err := s.store.GetLease(ctx, leaseID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("lease not found")
	}
	return lease, err
}

func (s *Service) byTokenHash(ctx context.Context, tokenHash string) (*resource.Lease, error) {
	if leaseID, ok := s.tokenCache.Get(tokenHash); ok {
		lease, err := s.store.GetLease(ctx, leaseID)
		if err == nil {
			return lease, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	leases, err := s.store.ListLeases(ctx, store.LeaseFilter{TokenHash: tokenHash})
	if err != nil {
		return nil, err
	}
	if len(leases) == 0 {
		return nil, apperr.Forbidden("lease token does not match any lease")
	}
	lease := leases[0]
	s.tokenCache.Add(tokenHash, lease.LeaseID)
	return lease, nil
}
