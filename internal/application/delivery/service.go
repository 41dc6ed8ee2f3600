// Package delivery issues, completes and revokes the access granted for
// an order. Payload secrets are offloaded to the blob store; the trade
// record only carries a reference.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/market-engine/market-engine/internal/apperr"
	"github.com/market-engine/market-engine/internal/application"
	appRevocation "github.com/market-engine/market-engine/internal/application/revocation"
	"github.com/market-engine/market-engine/internal/auditlog"
	"github.com/market-engine/market-engine/internal/blob"
	"github.com/market-engine/market-engine/internal/canonical"
	"github.com/market-engine/market-engine/internal/domain/revocation"
	"github.com/market-engine/market-engine/internal/domain/trade"
	"github.com/market-engine/market-engine/internal/store"
)

type Service struct {
	store    store.Store
	blobs    blob.Store
	recorder *auditlog.Recorder
	engine   *appRevocation.Engine
	logger   zerolog.Logger
}

// NewService wires the delivery flow. blobs may be nil, in which case
// payloads stay inline on the record.
func NewService(s store.Store, blobs blob.Store, recorder *auditlog.Recorder, engine *appRevocation.Engine, logger zerolog.Logger) *Service {
	return &Service{
		store:    s,
		blobs:    blobs,
		recorder: recorder,
		engine:   engine,
		logger:   logger.With().Str("service", "delivery").Logger(),
	}
}

type ReadyInput struct {
	OrderID string        `json:"orderId"`
	Payload trade.Payload `json:"payload"`
}

// Ready issues the delivery for a consented order. Only the seller of
// the underlying offer may issue.
func (s *Service) Ready(ctx context.Context, actor application.Actor, in ReadyInput) (*trade.Delivery, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	if in.OrderID == "" {
		return nil, apperr.InvalidArgument("orderId is required")
	}
	if err := validatePayload(in.Payload); err != nil {
		return nil, err
	}

	var delivery *trade.Delivery
	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		order, err := s.store.GetOrder(ctx, in.OrderID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("order not found")
		}
		if err != nil {
			return err
		}
		offer, err := s.store.GetOffer(ctx, order.OfferID)
		if err != nil {
			return err
		}
		if offer.SellerID != actor.ID && !actor.Privileged() {
			return apperr.Forbidden("actorId does not match offer.sellerId")
		}
		if in.Payload.Type != offer.DeliveryType {
			return apperr.InvalidArgument("payload type does not match offer deliveryType")
		}
		if _, err := s.store.GetDeliveryByOrder(ctx, in.OrderID); err == nil {
			return apperr.Conflict("delivery already exists for order")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := trade.AssertOrderTransition(order.Status, trade.DeliveryReadyOrder); err != nil {
			return err
		}

		now := time.Now().UTC()
		delivery = &trade.Delivery{
			DeliveryID:   uuid.NewString(),
			OrderID:      in.OrderID,
			DeliveryType: in.Payload.Type,
			Status:       trade.DeliveryReady,
			IssuedAt:     now,
		}
		delivery.DeliveryHash, err = canonical.Hash(map[string]any{
			"deliveryId": delivery.DeliveryID,
			"orderId":    delivery.OrderID,
			"payload":    in.Payload,
		})
		if err != nil {
			return err
		}

		if s.blobs != nil {
			raw, err := json.Marshal(in.Payload)
			if err != nil {
				return err
			}
			ref, err := s.blobs.Put(ctx, raw)
			if err != nil {
				return err
			}
			delivery.PayloadRef = &trade.PayloadRef{Store: s.blobs.Name(), Ref: ref}
		} else {
			payload := in.Payload
			delivery.Payload = &payload
		}

		if err := s.store.PutDelivery(ctx, delivery); err != nil {
			return err
		}
		order.Status = trade.DeliveryReadyOrder
		order.UpdatedAt = now
		if err := s.store.PutOrder(ctx, order); err != nil {
			return err
		}
		_, err = s.recorder.Record(ctx, "delivery_ready", delivery.DeliveryID, actor.ID, delivery, map[string]any{
			"orderId": in.OrderID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("delivery_id", delivery.DeliveryID).Str("order_id", in.OrderID).Msg("delivery ready")
	return delivery, nil
}

// Complete acknowledges receipt. The buyer confirms; the order moves to
// delivery_completed.
func (s *Service) Complete(ctx context.Context, actor application.Actor, deliveryID string) (*trade.Delivery, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	var delivery *trade.Delivery
	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		var err error
		delivery, err = s.load(ctx, deliveryID)
		if err != nil {
			return err
		}
		order, err := s.store.GetOrder(ctx, delivery.OrderID)
		if err != nil {
			return err
		}
		if order.BuyerID != actor.ID && !actor.Privileged() {
			return apperr.Forbidden("actorId does not match order.buyerId")
		}
		if err := trade.AssertDeliveryTransition(delivery.Status, trade.DeliveryComplete); err != nil {
			return err
		}
		if err := trade.AssertOrderTransition(order.Status, trade.DeliveryCompleted); err != nil {
			return err
		}
		now := time.Now().UTC()
		delivery.Status = trade.DeliveryComplete
		if err := s.store.PutDelivery(ctx, delivery); err != nil {
			return err
		}
		order.Status = trade.DeliveryCompleted
		order.UpdatedAt = now
		if err := s.store.PutOrder(ctx, order); err != nil {
			return err
		}
		_, err = s.recorder.Record(ctx, "delivery_completed", deliveryID, actor.ID, delivery, map[string]any{
			"orderId": order.OrderID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("delivery_id", deliveryID).Msg("delivery completed")
	return delivery, nil
}

type RevokeInput struct {
	DeliveryID     string `json:"deliveryId"`
	Reason         string `json:"reason"`
	NotifyEndpoint string `json:"notifyEndpoint,omitempty"`
}

// Revoke withdraws issued access before completion. The seller or a
// privileged actor may revoke.
func (s *Service) Revoke(ctx context.Context, actor application.Actor, in RevokeInput) (*trade.Delivery, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	if in.Reason == "" {
		return nil, apperr.InvalidArgument("reason is required")
	}
	var (
		delivery *trade.Delivery
		orderID  string
	)
	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		var err error
		delivery, err = s.load(ctx, in.DeliveryID)
		if err != nil {
			return err
		}
		order, err := s.store.GetOrder(ctx, delivery.OrderID)
		if err != nil {
			return err
		}
		orderID = order.OrderID
		offer, err := s.store.GetOffer(ctx, order.OfferID)
		if err != nil {
			return err
		}
		if offer.SellerID != actor.ID && !actor.Privileged() {
			return apperr.Forbidden("actorId does not match offer.sellerId")
		}
		if err := trade.AssertDeliveryTransition(delivery.Status, trade.DeliveryRevoked); err != nil {
			return err
		}
		now := time.Now().UTC()
		delivery.Status = trade.DeliveryRevoked
		delivery.RevokedAt = &now
		delivery.RevokeReason = in.Reason
		delivery.RevokeHash, err = canonical.Hash(map[string]any{
			"deliveryId": delivery.DeliveryID,
			"reason":     in.Reason,
			"revokedAt":  now.Format(time.RFC3339Nano),
		})
		if err != nil {
			return err
		}
		if err := s.store.PutDelivery(ctx, delivery); err != nil {
			return err
		}
		_, err = s.recorder.RecordWithAnchor(ctx, "delivery_revoked", delivery.DeliveryID, actor.ID, delivery, map[string]any{
			"orderId": order.OrderID,
			"reason":  in.Reason,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("delivery_id", in.DeliveryID).Msg("delivery revoked")

	if in.NotifyEndpoint != "" {
		if _, err := s.engine.Enqueue(ctx, appRevocation.EnqueueInput{
			TargetKind: revocation.TargetDelivery,
			TargetID:   delivery.DeliveryID,
			OrderID:    orderID,
			Endpoint:   in.NotifyEndpoint,
			Reason:     in.Reason,
			Details:    map[string]any{"deliveryId": delivery.DeliveryID},
		}); err != nil {
			s.logger.Error().Err(err).Str("delivery_id", in.DeliveryID).Msg("enqueue revocation webhook")
		}
	}
	return delivery, nil
}

// Reveal returns the payload for a ready delivery. Only the buyer may
// read it, and only while access stands.
func (s *Service) Reveal(ctx context.Context, actor application.Actor, deliveryID string) (*trade.Payload, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	delivery, err := s.load(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	order, err := s.store.GetOrder(ctx, delivery.OrderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != actor.ID && !actor.Privileged() {
		return nil, apperr.Forbidden("actorId does not match order.buyerId")
	}
	switch delivery.Status {
	case trade.DeliveryRevoked:
		return nil, apperr.Revoked("delivery access revoked")
	case trade.DeliveryReady, trade.DeliveryComplete:
	default:
		return nil, apperr.Conflict("delivery payload is not available")
	}
	if delivery.Payload != nil {
		return delivery.Payload, nil
	}
	if delivery.PayloadRef == nil || s.blobs == nil {
		return nil, apperr.Internal("delivery payload reference missing")
	}
	raw, err := s.blobs.Get(ctx, delivery.PayloadRef.Ref)
	if err != nil {
		return nil, err
	}
	var payload trade.Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (s *Service) Get(ctx context.Context, deliveryID string) (*trade.Delivery, error) {
	return s.load(ctx, deliveryID)
}

func (s *Service) GetByOrder(ctx context.Context, orderID string) (*trade.Delivery, error) {
	d, err := s.store.GetDeliveryByOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("delivery not found for order")
	}
	return d, err
}

func (s *Service) load(ctx context.Context, deliveryID string) (*trade.Delivery, error) {
	d, err := s.store.GetDelivery(ctx, deliveryID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("delivery not found")
	}
	return d, err
}

func validatePayload(p trade.Payload) error {
	switch p.Type {
	case trade.DeliveryDownload:
		if p.DownloadURL == "" {
			return apperr.InvalidArgument("payload.downloadUrl is required for download delivery")
		}
	case trade.DeliveryAPI:
		if p.AccessToken == "" {
			return apperr.InvalidArgument("payload.accessToken is required for api delivery")
		}
	case trade.DeliveryService:
		if p.TicketID == "" {
			return apperr.InvalidArgument("payload.ticketId is required for service delivery")
		}
	default:
		return apperr.InvalidArgument("invalid payload type")
	}
	return nil
}
