// Package offer manages the offer lifecycle: create, publish, close.
package offer

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
	"github.com/market-engine/market-engine/internal/domain/trade"
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
		logger:   logger.With().Str("service", "offer").Logger(),
	}
}

// CreateInput carries the seller-supplied offer fields.
type CreateInput struct {
	AssetID      string             `json:"assetId"`
	AssetType    trade.AssetType    `json:"assetType"`
	AssetMeta    trade.AssetMeta    `json:"assetMeta"`
	Price        float64            `json:"price"`
	Currency     string             `json:"currency"`
	UsageScope   trade.UsageScope   `json:"usageScope"`
	DeliveryType trade.DeliveryType `json:"deliveryType"`
}

func (in CreateInput) validate() error {
	if in.AssetID == "" {
		return apperr.InvalidArgument("assetId is required")
	}
	switch in.AssetType {
	case trade.AssetData, trade.AssetAPI, trade.AssetService:
	default:
		return apperr.InvalidArgument("invalid assetType")
	}
	if in.Price <= 0 {
		return apperr.InvalidArgument("price must be greater than 0")
	}
	if in.Currency == "" {
		return apperr.InvalidArgument("currency is required")
	}
	if in.UsageScope.Purpose == "" {
		return apperr.InvalidArgument("usageScope.purpose is required")
	}
	switch in.DeliveryType {
	case trade.DeliveryDownload, trade.DeliveryAPI, trade.DeliveryService:
	default:
		return apperr.InvalidArgument("invalid deliveryType")
	}
	return nil
}

// Create registers a new offer in offer_created.
func (s *Service) Create(ctx context.Context, actor application.Actor, in CreateInput) (*trade.Offer, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	offer := &trade.Offer{
		OfferID:      uuid.NewString(),
		SellerID:     actor.ID,
		AssetID:      in.AssetID,
		AssetType:    in.AssetType,
		AssetMeta:    in.AssetMeta,
		Price:        in.Price,
		Currency:     in.Currency,
		UsageScope:   in.UsageScope,
		DeliveryType: in.DeliveryType,
		Status:       trade.OfferCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	hash, err := canonical.Hash(offer.HashPayload())
	if err != nil {
		return nil, err
	}
	offer.OfferHash = hash

	err = s.store.Transaction(ctx, func(ctx context.Context) error {
		if err := s.store.PutOffer(ctx, offer); err != nil {
			return err
		}
		_, err := s.recorder.Record(ctx, "offer_created", offer.OfferID, actor.ID, offer, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("offer_id", offer.OfferID).Str("seller_id", actor.ID).Msg("offer created")
	return offer, nil
}

// UpdateInput carries the mutable offer fields. Nil fields keep their
// current value.
type UpdateInput struct {
	OfferID    string            `json:"offerId"`
	Price      *float64          `json:"price,omitempty"`
	Currency   string            `json:"currency,omitempty"`
	AssetMeta  *trade.AssetMeta  `json:"assetMeta,omitempty"`
	UsageScope *trade.UsageScope `json:"usageScope,omitempty"`
}

// Update rewrites the mutable fields of an open offer and recomputes the
// offer hash. Closed offers reject updates.
func (s *Service) Update(ctx context.Context, actor application.Actor, in UpdateInput) (*trade.Offer, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	if in.Price != nil && *in.Price <= 0 {
		return nil, apperr.InvalidArgument("price must be greater than 0")
	}
	if in.UsageScope != nil && in.UsageScope.Purpose == "" {
		return nil, apperr.InvalidArgument("usageScope.purpose is required")
	}
	var offer *trade.Offer
	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		var err error
		offer, err = s.load(ctx, in.OfferID)
		if err != nil {
			return err
		}
		if offer.SellerID != actor.ID && !actor.Privileged() {
			return apperr.Forbidden("actorId does not match offer.sellerId")
		}
		if offer.Status == trade.OfferClosed {
			return apperr.Conflict("offer is closed")
		}
		if in.Price != nil {
			offer.Price = *in.Price
		}
		if in.Currency != "" {
			offer.Currency = in.Currency
		}
		if in.AssetMeta != nil {
			offer.AssetMeta = *in.AssetMeta
		}
		if in.UsageScope != nil {
			offer.UsageScope = *in.UsageScope
		}
		offer.UpdatedAt = time.Now().UTC()
		offer.OfferHash, err = canonical.Hash(offer.HashPayload())
		if err != nil {
			return err
		}
		if err := s.store.PutOffer(ctx, offer); err != nil {
			return err
		}
		_, err = s.recorder.RecordWithAnchor(ctx, "offer_updated", offer.OfferID, actor.ID, offer, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("offer_id", in.OfferID).Msg("offer updated")
	return offer, nil
}

// Publish moves an offer to offer_published. Only the seller may do it.
func (s *Service) Publish(ctx context.Context, actor application.Actor, offerID string) (*trade.Offer, error) {
	return s.transition(ctx, actor, offerID, trade.OfferPublished, "offer_published")
}

// Close retires an offer. Existing orders keep running.
func (s *Service) Close(ctx context.Context, actor application.Actor, offerID string) (*trade.Offer, error) {
	return s.transition(ctx, actor, offerID, trade.OfferClosed, "offer_closed")
}

func (s *Service) transition(ctx context.Context, actor application.Actor, offerID string, to trade.OfferStatus, kind string) (*trade.Offer, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	var offer *trade.Offer
	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		var err error
		offer, err = s.load(ctx, offerID)
		if err != nil {
			return err
		}
		if offer.SellerID != actor.ID && !actor.Privileged() {
			return apperr.Forbidden("actorId does not match offer.sellerId")
		}
		if err := trade.AssertOfferTransition(offer.Status, to); err != nil {
			return err
		}
		prev := offer.Status
		offer.Status = to
		offer.UpdatedAt = time.Now().UTC()
		if err := s.store.PutOffer(ctx, offer); err != nil {
			return err
		}
		_, err = s.recorder.Record(ctx, kind, offer.OfferID, actor.ID, offer, map[string]any{
			"prevStatus": string(prev),
			"newStatus":  string(to),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("offer_id", offerID).Str("status", string(to)).Msg("offer transitioned")
	return offer, nil
}

func (s *Service) Get(ctx context.Context, offerID string) (*trade.Offer, error) {
	return s.load(ctx, offerID)
}

func (s *Service) List(ctx context.Context, f store.OfferFilter) ([]*trade.Offer, error) {
	return s.store.ListOffers(ctx, f)
}

func (s *Service) load(ctx context.Context, offerID string) (*trade.Offer, error) {
	offer, err := s.store.GetOffer(ctx, offerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("offer not found")
	}
	return offer, err
}
