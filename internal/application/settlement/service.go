// Package settlement releases or refunds the escrow held for an order.
// Split amounts are big integers; a release must account for the whole
// escrow exactly.
package settlement

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"github.com/market-engine/market-engine/internal/apperr"
	"github.com/market-engine/market-engine/internal/application"
	"github.com/market-engine/market-engine/internal/auditlog"
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
		logger:   logger.With().Str("service", "settlement").Logger(),
	}
}

type ReleaseInput struct {
	SettlementID string        `json:"settlementId"`
	Payees       []trade.Payee `json:"payees"`
	ReleaseTx    string        `json:"releaseTx,omitempty"`
}

// Release pays out a locked escrow across the given payees and completes
// the order. The payee amounts must sum to the escrow amount exactly.
func (s *Service) Release(ctx context.Context, actor application.Actor, in ReleaseInput) (*trade.Settlement, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	if len(in.Payees) == 0 {
		return nil, apperr.InvalidArgument("payees are required")
	}
	var settlement *trade.Settlement
	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		var err error
		settlement, err = s.load(ctx, in.SettlementID)
		if err != nil {
			return err
		}
		order, err := s.store.GetOrder(ctx, settlement.OrderID)
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
		if err := trade.AssertSettlementTransition(settlement.Status, trade.SettlementReleased); err != nil {
			return err
		}
		if err := trade.AssertOrderTransition(order.Status, trade.SettlementCompleted); err != nil {
			return err
		}
		if err := checkSplit(settlement.Amount, in.Payees); err != nil {
			return err
		}

		now := time.Now().UTC()
		settlement.Status = trade.SettlementReleased
		settlement.ReleasedAt = &now
		settlement.ReleaseTxHash = in.ReleaseTx
		if err := s.store.PutSettlement(ctx, settlement); err != nil {
			return err
		}
		order.Status = trade.SettlementCompleted
		order.UpdatedAt = now
		if err := s.store.PutOrder(ctx, order); err != nil {
			return err
		}
		_, err = s.recorder.RecordWithAnchor(ctx, "settlement_released", settlement.SettlementID, actor.ID, settlement, map[string]any{
			"orderId": order.OrderID,
			"payees":  in.Payees,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("settlement_id", in.SettlementID).Int("payees", len(in.Payees)).Msg("settlement released")
	return settlement, nil
}

type RefundInput struct {
	SettlementID string `json:"settlementId"`
	Reason       string `json:"reason"`
	RefundTx     string `json:"refundTx,omitempty"`
}

// Refund returns a locked escrow to the buyer and cancels the order.
// The buyer, the seller or a privileged actor may refund.
func (s *Service) Refund(ctx context.Context, actor application.Actor, in RefundInput) (*trade.Settlement, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	if in.Reason == "" {
		return nil, apperr.InvalidArgument("reason is required")
	}
	var settlement *trade.Settlement
	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		var err error
		settlement, err = s.load(ctx, in.SettlementID)
		if err != nil {
			return err
		}
		order, err := s.store.GetOrder(ctx, settlement.OrderID)
		if err != nil {
			return err
		}
		offer, err := s.store.GetOffer(ctx, order.OfferID)
		if err != nil {
			return err
		}
		if order.BuyerID != actor.ID && offer.SellerID != actor.ID && !actor.Privileged() {
			return apperr.Forbidden("actorId is not a party to the settlement")
		}
		if err := trade.AssertSettlementTransition(settlement.Status, trade.SettlementRefunded); err != nil {
			return err
		}
		if err := trade.AssertOrderTransition(order.Status, trade.SettlementCancelled); err != nil {
			return err
		}
		now := time.Now().UTC()
		settlement.Status = trade.SettlementRefunded
		settlement.RefundedAt = &now
		settlement.RefundReason = in.Reason
		settlement.RefundTxHash = in.RefundTx
		if err := s.store.PutSettlement(ctx, settlement); err != nil {
			return err
		}
		order.Status = trade.SettlementCancelled
		order.UpdatedAt = now
		if err := s.store.PutOrder(ctx, order); err != nil {
			return err
		}
		_, err = s.recorder.RecordWithAnchor(ctx, "settlement_refunded", settlement.SettlementID, actor.ID, settlement, map[string]any{
			"orderId": order.OrderID,
			"reason":  in.Reason,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("settlement_id", in.SettlementID).Msg("settlement refunded")
	return settlement, nil
}

func (s *Service) Get(ctx context.Context, settlementID string) (*trade.Settlement, error) {
	return s.load(ctx, settlementID)
}

func (s *Service) GetByOrder(ctx context.Context, orderID string) (*trade.Settlement, error) {
	st, err := s.store.GetSettlementByOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("settlement not found for order")
	}
	return st, err
}

func (s *Service) load(ctx context.Context, settlementID string) (*trade.Settlement, error) {
	st, err := s.store.GetSettlement(ctx, settlementID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("settlement not found")
	}
	return st, err
}

// checkSplit verifies each payee amount is a positive integer and the
// split sums to total without remainder.
func checkSplit(total string, payees []trade.Payee) error {
	want, ok := new(big.Int).SetString(total, 10)
	if !ok {
		return apperr.Internal("settlement amount is not a valid integer")
	}
	sum := new(big.Int)
	for _, p := range payees {
		if p.Address == "" {
			return apperr.InvalidArgument("payee address is required")
		}
		amount, ok := new(big.Int).SetString(p.Amount, 10)
		if !ok || amount.Sign() <= 0 {
			return apperr.InvalidArgument("payee amount must be a positive integer")
		}
		sum.Add(sum, amount)
	}
	if sum.Cmp(want) != 0 {
		return apperr.InvalidArgument("payee amounts must sum to settlement amount")
	}
	return nil
}
