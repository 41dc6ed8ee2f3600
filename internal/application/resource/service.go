// Package resource manages the catalog of leasable resources.
package resource

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/market-engine/market-engine/internal/apperr"
	"github.com/market-engine/market-engine/internal/application"
	"github.com/market-engine/market-engine/internal/auditlog"
	"github.com/market-engine/market-engine/internal/canonical"
	"github.com/market-engine/market-engine/internal/domain/resource"
	"github.com/market-engine/market-engine/internal/store"
)

type Service struct {
	store    store.Store
	recorder *auditlog.Recorder
	logger   zerolog.Logger
}

func NewService(s store.Store, recorder *auditlog.Recorder, logger zerolog.Logger) *Service {
	return &Service{
		store:    s,
		recorder: recorder,
		logger:   logger.With().Str("service", "resource").Logger(),
	}
}

type RegisterInput struct {
	Kind        string           `json:"kind"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Endpoint    string           `json:"endpoint,omitempty"`
	Pricing     resource.Pricing `json:"pricing"`
	MaxQuota    int              `json:"maxQuota"`
}

func (in RegisterInput) validate() error {
	if in.Kind == "" {
		return apperr.InvalidArgument("kind is required")
	}
	if in.Name == "" {
		return apperr.InvalidArgument("name is required")
	}
	if in.Pricing.PricePerCall < 0 {
		return apperr.InvalidArgument("pricing.pricePerCall must not be negative")
	}
	if in.Pricing.Currency == "" {
		return apperr.InvalidArgument("pricing.currency is required")
	}
	if in.MaxQuota <= 0 {
		return apperr.InvalidArgument("maxQuota must be greater than 0")
	}
	return nil
}

// Register creates a draft resource owned by the actor.
func (s *Service) Register(ctx context.Context, actor application.Actor, in RegisterInput) (*resource.Resource, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	r := &resource.Resource{
		ResourceID:  uuid.NewString(),
		OwnerID:     actor.ID,
		Kind:        in.Kind,
		Name:        in.Name,
		Description: in.Description,
		Endpoint:    in.Endpoint,
		Pricing:     in.Pricing,
		MaxQuota:    in.MaxQuota,
		Status:      resource.StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	hash, err := canonical.Hash(map[string]any{
		"resourceId": r.ResourceID,
		"ownerId":    r.OwnerID,
		"kind":       r.Kind,
		"name":       r.Name,
		"pricing":    r.Pricing,
		"maxQuota":   r.MaxQuota,
	})
	if err != nil {
		return nil, err
	}
	r.ResourceHash = hash

	err = s.store.Transaction(ctx, func(ctx context.Context) error {
		if err := s.store.PutResource(ctx, r); err != nil {
			return err
		}
		_, err := s.recorder.Record(ctx, "resource_registered", r.ResourceID, actor.ID, r, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("resource_id", r.ResourceID).Str("kind", in.Kind).Msg("resource registered")
	return r, nil
}

// Publish makes a resource leasable.
func (s *Service) Publish(ctx context.Context, actor application.Actor, resourceID string) (*resource.Resource, error) {
	return s.transition(ctx, actor, resourceID, resource.StatusPublished, "resource_published")
}

// Unpublish stops new leases. Existing leases keep running until they
// expire or get revoked.
func (s *Service) Unpublish(ctx context.Context, actor application.Actor, resourceID string) (*resource.Resource, error) {
	return s.transition(ctx, actor, resourceID, resource.StatusUnpublished, "resource_unpublished")
}

func (s *Service) transition(ctx context.Context, actor application.Actor, resourceID string, to resource.Status, kind string) (*resource.Resource, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	var r *resource.Resource
	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		var err error
		r, err = s.load(ctx, resourceID)
		if err != nil {
			return err
		}
		if r.OwnerID != actor.ID && !actor.Privileged() {
			return apperr.Forbidden("actorId does not match resource.ownerId")
		}
		if err := resource.AssertTransition(r.Status, to); err != nil {
			return err
		}
		r.Status = to
		r.UpdatedAt = time.Now().UTC()
		if err := s.store.PutResource(ctx, r); err != nil {
			return err
		}
		_, err = s.recorder.Record(ctx, kind, r.ResourceID, actor.ID, r, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("resource_id", resourceID).Str("status", string(to)).Msg("resource transitioned")
	return r, nil
}

func (s *Service) Get(ctx context.Context, resourceID string) (*resource.Resource, error) {
	return s.load(ctx, resourceID)
}

func (s *Service) List(ctx context.Context, f store.ResourceFilter) ([]*resource.Resource, error) {
	return s.store.ListResources(ctx, f)
}

func (s *Service) load(ctx context.Context, resourceID string) (*resource.Resource, error) {
	r, err := s.store.GetResource(ctx, resourceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("resource not found")
	}
	return r, err
}
