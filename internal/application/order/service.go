// Package order manages orders against published offers and the payment
// lock that opens escrow.
package order

import (
	"context"
	"errors"
	"math/big"
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
		logger:   logger.With().Str("service", "order").Logger(),
	}
}

type CreateInput struct {
	OfferID  string `json:"offerId"`
	Quantity int    `json:"quantity"`
}

// Create places an order against a published offer.
func (s *Service) Create(ctx context.Context, actor application.Actor, in CreateInput) (*trade.Order, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	if in.OfferID == "" {
		return nil, apperr.InvalidArgument("offerId is required")
	}
	if in.Quantity <= 0 {
		return nil, apperr.InvalidArgument("quantity must be greater than 0")
	}

	var order *trade.Order
	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		offer, err := s.store.GetOffer(ctx, in.OfferID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("offer not found")
		}
		if err != nil {
			return err
		}
		if offer.Status != trade.OfferPublished {
			return apperr.Conflict("offer is not published")
		}
		if offer.SellerID == actor.ID {
			return apperr.Forbidden("seller is not allowed to order own offer")
		}
		now := time.Now().UTC()
		order = &trade.Order{
			OrderID:   uuid.NewString(),
			OfferID:   offer.OfferID,
			BuyerID:   actor.ID,
			Quantity:  in.Quantity,
			Status:    trade.OrderCreated,
			CreatedAt: now,
			UpdatedAt: now,
		}
		order.OrderHash, err = canonical.Hash(map[string]any{
			"orderId":  order.OrderID,
			"offerId":  order.OfferID,
			"buyerId":  order.BuyerID,
			"quantity": order.Quantity,
		})
		if err != nil {
			return err
		}
		if err := s.store.PutOrder(ctx, order); err != nil {
			return err
		}
		_, err = s.recorder.Record(ctx, "order_created", order.OrderID, actor.ID, order, map[string]any{
			"offerId": offer.OfferID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("order_id", order.OrderID).Str("offer_id", in.OfferID).Msg("order created")
	return order, nil
}

type LockPaymentInput struct {
	OrderID      string `json:"orderId"`
	Amount       string `json:"amount"`
	PaymentTx    string `json:"paymentTx"`
	TokenAddress string `json:"tokenAddress,omitempty"`
}

// LockPayment moves the order to payment_locked and opens the 1:1
// settlement escrow. The caller supplies the escrow amount as a
// big-integer decimal string.
func (s *Service) LockPayment(ctx context.Context, actor application.Actor, in LockPaymentInput) (*trade.Order, *trade.Settlement, error) {
	if err := actor.Require(); err != nil {
		return nil, nil, err
	}
	if in.PaymentTx == "" {
		return nil, nil, apperr.InvalidArgument("paymentTx is required")
	}
	if amount, ok := new(big.Int).SetString(in.Amount, 10); !ok || amount.Sign() <= 0 {
		return nil, nil, apperr.InvalidArgument("amount must be a positive integer")
	}
	var (
		order      *trade.Order
		settlement *trade.Settlement
	)
	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.load(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if order.BuyerID != actor.ID && !actor.Privileged() {
			return apperr.Forbidden("actorId does not match order.buyerId")
		}
		if err := trade.AssertOrderTransition(order.Status, trade.PaymentLocked); err != nil {
			return err
		}
		if _, err := s.store.GetSettlementByOrder(ctx, order.OrderID); err == nil {
			return apperr.Conflict("settlement already exists for order")
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		now := time.Now().UTC()
		order.Status = trade.PaymentLocked
		order.PaymentTxHash = in.PaymentTx
		order.UpdatedAt = now
		if err := s.store.PutOrder(ctx, order); err != nil {
			return err
		}

		settlement = &trade.Settlement{
			SettlementID: uuid.NewString(),
			OrderID:      order.OrderID,
			Status:       trade.SettlementLocked,
			Amount:       in.Amount,
			TokenAddress: in.TokenAddress,
			LockedAt:     &now,
			LockTxHash:   in.PaymentTx,
		}
		settlement.SettlementHash, err = canonical.Hash(map[string]any{
			"settlementId": settlement.SettlementID,
			"orderId":      settlement.OrderID,
			"amount":       settlement.Amount,
		})
		if err != nil {
			return err
		}
		if err := s.store.PutSettlement(ctx, settlement); err != nil {
			return err
		}
		_, err = s.recorder.Record(ctx, "payment_locked", order.OrderID, actor.ID, settlement, map[string]any{
			"settlementId": settlement.SettlementID,
			"amount":       settlement.Amount,
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info().Str("order_id", in.OrderID).Str("settlement_id", settlement.SettlementID).Msg("payment locked")
	return order, settlement, nil
}

// Cancel aborts an order before completion. Before the payment lock the
// order ends in order_cancelled; after it, the cancel runs through
// settlement_cancelled and refunds the locked escrow in the same
// transaction.
func (s *Service) Cancel(ctx context.Context, actor application.Actor, orderID, reason string) (*trade.Order, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	var order *trade.Order
	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.load(ctx, orderID)
		if err != nil {
			return err
		}
		if order.BuyerID != actor.ID && !actor.Privileged() {
			return apperr.Forbidden("actorId does not match order.buyerId")
		}
		target := trade.OrderCancelled
		kind := "order_cancelled"
		if order.Status != trade.OrderCreated {
			target = trade.SettlementCancelled
			kind = "settlement_cancelled"
		}
		if err := trade.AssertOrderTransition(order.Status, target); err != nil {
			return err
		}
		order.Status = target
		order.UpdatedAt = time.Now().UTC()
		if err := s.store.PutOrder(ctx, order); err != nil {
			return err
		}

		settlement, err := s.store.GetSettlementByOrder(ctx, orderID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		details := map[string]any{"reason": reason}
		if settlement != nil && settlement.Status == trade.SettlementLocked {
			now := time.Now().UTC()
			settlement.Status = trade.SettlementRefunded
			settlement.RefundedAt = &now
			settlement.RefundReason = "order cancelled"
			if err := s.store.PutSettlement(ctx, settlement); err != nil {
				return err
			}
			details["refundedSettlementId"] = settlement.SettlementID
		}
		_, err = s.recorder.Record(ctx, kind, orderID, actor.ID, order, details)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("order_id", orderID).Msg("order cancelled")
	return order, nil
}

func (s *Service) Get(ctx context.Context, orderID string) (*trade.Order, error) {
	return s.load(ctx, orderID)
}

func (s *Service) List(ctx context.Context, f store.OrderFilter) ([]*trade.Order, error) {
	return s.store.ListOrders(ctx, f)
}

func (s *Service) load(ctx context.Context, orderID string) (*trade.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("order not found")
	}
	return order, err
}
