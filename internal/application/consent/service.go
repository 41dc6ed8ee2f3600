// Package consent manages the buyer's usage consent for an order and
// the cascade a revocation sets off.
package consent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/market-engine/market-engine/internal/apperr"
	"github.com/market-engine/market-engine/internal/application"
	appRevocation "github.com/market-engine/market-engine/internal/application/revocation"
	"github.com/market-engine/market-engine/internal/auditlog"
	"github.com/market-engine/market-engine/internal/canonical"
	"github.com/market-engine/market-engine/internal/domain/revocation"
	"github.com/market-engine/market-engine/internal/domain/trade"
	"github.com/market-engine/market-engine/internal/store"
)

type Service struct {
	store    store.Store
	recorder *auditlog.Recorder
	engine   *appRevocation.Engine
	logger   zerolog.Logger
}

func NewService(s store.Store, recorder *auditlog.Recorder, engine *appRevocation.Engine, logger zerolog.Logger) *Service {
	return &Service{
		store:    s,
		recorder: recorder,
		engine:   engine,
		logger:   logger.With().Str("service", "consent").Logger(),
	}
}

type GrantInput struct {
	OrderID   string             `json:"orderId"`
	Scope     trade.ConsentScope `json:"scope"`
	Signature string             `json:"signature"`
}

// Grant records the buyer's consent and moves the order forward. One
// consent per order.
func (s *Service) Grant(ctx context.Context, actor application.Actor, in GrantInput) (*trade.Consent, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	if in.OrderID == "" {
		return nil, apperr.InvalidArgument("orderId is required")
	}
	if in.Scope.Purpose == "" {
		return nil, apperr.InvalidArgument("scope.purpose is required")
	}
	if in.Signature == "" {
		return nil, apperr.InvalidArgument("signature is required")
	}

	var consent *trade.Consent
	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		order, err := s.store.GetOrder(ctx, in.OrderID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("order not found")
		}
		if err != nil {
			return err
		}
		if order.BuyerID != actor.ID && !actor.Privileged() {
			return apperr.Forbidden("actorId does not match order.buyerId")
		}
		if _, err := s.store.GetConsentByOrder(ctx, in.OrderID); err == nil {
			return apperr.Conflict("consent already exists for order")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := trade.AssertOrderTransition(order.Status, trade.ConsentGrantedOrder); err != nil {
			return err
		}

		now := time.Now().UTC()
		scope := in.Scope
		scope.ScopeHash, err = canonical.Hash(map[string]any{
			"purpose":      scope.Purpose,
			"durationDays": scope.DurationDays,
		})
		if err != nil {
			return err
		}
		consent = &trade.Consent{
			ConsentID: uuid.NewString(),
			OrderID:   in.OrderID,
			Scope:     scope,
			Signature: in.Signature,
			Status:    trade.ConsentGranted,
			GrantedAt: now,
		}
		consent.ConsentHash, err = canonical.Hash(map[string]any{
			"consentId": consent.ConsentID,
			"orderId":   consent.OrderID,
			"scopeHash": scope.ScopeHash,
			"signature": consent.Signature,
		})
		if err != nil {
			return err
		}
		if err := s.store.PutConsent(ctx, consent); err != nil {
			return err
		}

		order.Status = trade.ConsentGrantedOrder
		order.UpdatedAt = now
		if err := s.store.PutOrder(ctx, order); err != nil {
			return err
		}
		_, err = s.recorder.Record(ctx, "consent_granted", consent.ConsentID, actor.ID, consent, map[string]any{
			"orderId": in.OrderID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("consent_id", consent.ConsentID).Str("order_id", in.OrderID).Msg("consent granted")
	return consent, nil
}

type RevokeInput struct {
	ConsentID      string `json:"consentId"`
	Reason         string `json:"reason"`
	NotifyEndpoint string `json:"notifyEndpoint,omitempty"`
}

// Revoke withdraws a consent and cascades: the delivery is revoked, a
// locked escrow is refunded, and the order ends in settlement_cancelled.
// Webhook notification happens after commit so network failures never
// roll back the revocation itself.
func (s *Service) Revoke(ctx context.Context, actor application.Actor, in RevokeInput) (*trade.Consent, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	if in.Reason == "" {
		return nil, apperr.InvalidArgument("reason is required")
	}

	var (
		consent  *trade.Consent
		delivery *trade.Delivery
		orderID  string
	)
	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		var err error
		consent, err = s.store.GetConsent(ctx, in.ConsentID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("consent not found")
		}
		if err != nil {
			return err
		}
		order, err := s.store.GetOrder(ctx, consent.OrderID)
		if err != nil {
			return err
		}
		orderID = order.OrderID
		if order.BuyerID != actor.ID && !actor.Privileged() {
			return apperr.Forbidden("actorId does not match order.buyerId")
		}
		if consent.Status == trade.ConsentRevoked {
			return apperr.Conflict("consent already revoked")
		}
		if err := trade.AssertOrderTransition(order.Status, trade.ConsentRevokedOrder); err != nil {
			return err
		}

		now := time.Now().UTC()
		consent.Status = trade.ConsentRevoked
		consent.RevokedAt = &now
		consent.RevokeReason = in.Reason
		consent.RevokeHash, err = canonical.Hash(map[string]any{
			"consentId": consent.ConsentID,
			"reason":    in.Reason,
			"revokedAt": now.Format(time.RFC3339Nano),
		})
		if err != nil {
			return err
		}
		if err := s.store.PutConsent(ctx, consent); err != nil {
			return err
		}

		delivery, err = s.store.GetDeliveryByOrder(ctx, order.OrderID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if delivery != nil && delivery.Status == trade.DeliveryReady {
			delivery.Status = trade.DeliveryRevoked
			delivery.RevokedAt = &now
			delivery.RevokeReason = "consent revoked"
			if err := s.store.PutDelivery(ctx, delivery); err != nil {
				return err
			}
		}

		settlement, err := s.store.GetSettlementByOrder(ctx, order.OrderID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if settlement != nil && settlement.Status == trade.SettlementLocked {
			settlement.Status = trade.SettlementRefunded
			settlement.RefundedAt = &now
			settlement.RefundReason = "consent revoked"
			if err := s.store.PutSettlement(ctx, settlement); err != nil {
				return err
			}
		}

		order.Status = trade.ConsentRevokedOrder
		order.UpdatedAt = now
		if err := s.store.PutOrder(ctx, order); err != nil {
			return err
		}
		if err := trade.AssertOrderTransition(order.Status, trade.SettlementCancelled); err != nil {
			return err
		}
		order.Status = trade.SettlementCancelled
		if err := s.store.PutOrder(ctx, order); err != nil {
			return err
		}

		_, err = s.recorder.RecordWithAnchor(ctx, "consent_revoked", consent.ConsentID, actor.ID, consent, map[string]any{
			"orderId": order.OrderID,
			"reason":  in.Reason,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("consent_id", in.ConsentID).Str("order_id", orderID).Msg("consent revoked")

	if in.NotifyEndpoint != "" {
		details := map[string]any{"consentId": consent.ConsentID}
		if delivery != nil {
			details["deliveryId"] = delivery.DeliveryID
		}
		if _, err := s.engine.Enqueue(ctx, appRevocation.EnqueueInput{
			TargetKind: revocation.TargetConsent,
			TargetID:   consent.ConsentID,
			OrderID:    orderID,
			Endpoint:   in.NotifyEndpoint,
			Reason:     in.Reason,
			Details:    details,
		}); err != nil {
			s.logger.Error().Err(err).Str("consent_id", in.ConsentID).Msg("enqueue revocation webhook")
		}
	}
	return consent, nil
}

func (s *Service) Get(ctx context.Context, consentID string) (*trade.Consent, error) {
	c, err := s.store.GetConsent(ctx, consentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("consent not found")
	}
	return c, err
}

func (s *Service) GetByOrder(ctx context.Context, orderID string) (*trade.Consent, error) {
	c, err := s.store.GetConsentByOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("consent not found for order")
	}
	return c, err
}
