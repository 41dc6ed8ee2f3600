// Package dispute runs the dispute flow over an order's escrow: open,
// collect evidence, then resolve or reject.
package dispute

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
	"github.com/market-engine/market-engine/internal/domain/dispute"
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
		logger:   logger.With().Str("service", "dispute").Logger(),
	}
}

type OpenInput struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

// Open starts a dispute. Only a party to the order may open one, and
// only while the escrow is still locked.
func (s *Service) Open(ctx context.Context, actor application.Actor, in OpenInput) (*dispute.Dispute, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	if in.Reason == "" {
		return nil, apperr.InvalidArgument("reason is required")
	}
	var d *dispute.Dispute
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
		if order.BuyerID != actor.ID && offer.SellerID != actor.ID && !actor.Privileged() {
			return apperr.Forbidden("actorId is not a party to the order")
		}
		settlement, err := s.store.GetSettlementByOrder(ctx, in.OrderID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.Conflict("order has no locked settlement to dispute")
		}
		if err != nil {
			return err
		}
		if settlement.Status != trade.SettlementLocked {
			return apperr.Conflict("settlement is not locked")
		}
		open, err := s.store.ListDisputes(ctx, store.DisputeFilter{OrderID: in.OrderID})
		if err != nil {
			return err
		}
		for _, existing := range open {
			if !existing.Terminal() {
				return apperr.Conflict("dispute already open for order")
			}
		}

		now := time.Now().UTC()
		d = &dispute.Dispute{
			DisputeID: uuid.NewString(),
			OrderID:   in.OrderID,
			OpenedBy:  actor.ID,
			Reason:    in.Reason,
			Status:    dispute.StatusOpened,
			OpenedAt:  now,
		}
		d.DisputeHash, err = canonical.Hash(map[string]any{
			"disputeId": d.DisputeID,
			"orderId":   d.OrderID,
			"openedBy":  d.OpenedBy,
			"reason":    d.Reason,
		})
		if err != nil {
			return err
		}
		if err := s.store.PutDispute(ctx, d); err != nil {
			return err
		}
		_, err = s.recorder.Record(ctx, "dispute_opened", d.DisputeID, actor.ID, d, map[string]any{
			"orderId": in.OrderID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("dispute_id", d.DisputeID).Str("order_id", in.OrderID).Msg("dispute opened")
	return d, nil
}

type EvidenceInput struct {
	DisputeID   string `json:"disputeId"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
	Content     any    `json:"content"`
}

// SubmitEvidence attaches one evidence item. Only the hash of the
// content is retained.
func (s *Service) SubmitEvidence(ctx context.Context, actor application.Actor, in EvidenceInput) (*dispute.Dispute, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	if in.Kind == "" {
		return nil, apperr.InvalidArgument("evidence kind is required")
	}
	if in.Content == nil {
		return nil, apperr.InvalidArgument("evidence content is required")
	}
	var d *dispute.Dispute
	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		var err error
		d, err = s.load(ctx, in.DisputeID)
		if err != nil {
			return err
		}
		order, err := s.store.GetOrder(ctx, d.OrderID)
		if err != nil {
			return err
		}
		offer, err := s.store.GetOffer(ctx, order.OfferID)
		if err != nil {
			return err
		}
		if order.BuyerID != actor.ID && offer.SellerID != actor.ID && !actor.Privileged() {
			return apperr.Forbidden("actorId is not a party to the order")
		}
		if err := dispute.AssertTransition(d.Status, dispute.StatusEvidenceSubmitted); err != nil {
			return err
		}
		contentHash, err := canonical.Hash(in.Content)
		if err != nil {
			return err
		}
		item := dispute.Evidence{
			EvidenceID:  uuid.NewString(),
			SubmitterID: actor.ID,
			Kind:        in.Kind,
			Description: in.Description,
			ContentHash: contentHash,
			SubmittedAt: time.Now().UTC(),
		}
		d.Evidence = append(d.Evidence, item)
		d.Status = dispute.StatusEvidenceSubmitted
		if err := s.store.PutDispute(ctx, d); err != nil {
			return err
		}
		_, err = s.recorder.Record(ctx, "evidence_submitted", d.DisputeID, actor.ID, item, map[string]any{
			"orderId": d.OrderID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("dispute_id", in.DisputeID).Msg("evidence submitted")
	return d, nil
}

type ResolveInput struct {
	DisputeID  string                `json:"disputeId"`
	Resolution dispute.Resolution    `json:"resolution"`
	Split      *dispute.PartialSplit `json:"split,omitempty"`
	Note       string                `json:"note,omitempty"`
}

// Resolve closes the dispute with an arbiter ruling and applies it to
// the escrow: release pays the seller, refund returns the buyer's funds,
// partial does both per the split.
func (s *Service) Resolve(ctx context.Context, actor application.Actor, in ResolveInput) (*dispute.Dispute, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	if !actor.Privileged() {
		return nil, apperr.Forbidden("dispute resolution is not allowed for this actor")
	}
	switch in.Resolution {
	case dispute.ResolutionRelease, dispute.ResolutionRefund:
	case dispute.ResolutionPartial:
		if in.Split == nil {
			return nil, apperr.InvalidArgument("split is required for partial resolution")
		}
	default:
		return nil, apperr.InvalidArgument("invalid resolution")
	}

	var d *dispute.Dispute
	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		var err error
		d, err = s.load(ctx, in.DisputeID)
		if err != nil {
			return err
		}
		if err := dispute.AssertTransition(d.Status, dispute.StatusResolved); err != nil {
			return err
		}
		order, err := s.store.GetOrder(ctx, d.OrderID)
		if err != nil {
			return err
		}
		settlement, err := s.store.GetSettlementByOrder(ctx, d.OrderID)
		if err != nil {
			return err
		}
		if settlement.Status != trade.SettlementLocked {
			return apperr.Conflict("settlement is not locked")
		}
		if in.Resolution == dispute.ResolutionPartial {
			if err := checkPartialSplit(settlement.Amount, in.Split); err != nil {
				return err
			}
		}

		orderTarget := trade.SettlementCompleted
		if in.Resolution == dispute.ResolutionRefund {
			orderTarget = trade.SettlementCancelled
		}
		if err := trade.AssertOrderTransition(order.Status, orderTarget); err != nil {
			return err
		}

		now := time.Now().UTC()
		switch in.Resolution {
		case dispute.ResolutionRelease:
			settlement.Status = trade.SettlementReleased
			settlement.ReleasedAt = &now
		case dispute.ResolutionRefund:
			settlement.Status = trade.SettlementRefunded
			settlement.RefundedAt = &now
			settlement.RefundReason = "dispute resolved: refund"
		case dispute.ResolutionPartial:
			// The released leg closes the escrow record; the split is
			// preserved on the dispute for the payout trail.
			settlement.Status = trade.SettlementReleased
			settlement.ReleasedAt = &now
		}
		if err := s.store.PutSettlement(ctx, settlement); err != nil {
			return err
		}

		order.Status = orderTarget
		order.UpdatedAt = now
		if err := s.store.PutOrder(ctx, order); err != nil {
			return err
		}

		d.Status = dispute.StatusResolved
		d.Resolution = in.Resolution
		d.Split = in.Split
		d.ResolvedBy = actor.ID
		d.ResolveNote = in.Note
		d.ResolvedAt = &now
		if err := s.store.PutDispute(ctx, d); err != nil {
			return err
		}
		_, err = s.recorder.RecordWithAnchor(ctx, "dispute_resolved", d.DisputeID, actor.ID, d, map[string]any{
			"orderId":    d.OrderID,
			"resolution": string(in.Resolution),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("dispute_id", in.DisputeID).Str("resolution", string(in.Resolution)).Msg("dispute resolved")
	return d, nil
}

// Reject closes the dispute without touching the escrow.
func (s *Service) Reject(ctx context.Context, actor application.Actor, disputeID, note string) (*dispute.Dispute, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	if !actor.Privileged() {
		return nil, apperr.Forbidden("dispute resolution is not allowed for this actor")
	}
	var d *dispute.Dispute
	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		var err error
		d, err = s.load(ctx, disputeID)
		if err != nil {
			return err
		}
		if err := dispute.AssertTransition(d.Status, dispute.StatusRejected); err != nil {
			return err
		}
		now := time.Now().UTC()
		d.Status = dispute.StatusRejected
		d.ResolvedBy = actor.ID
		d.ResolveNote = note
		d.ResolvedAt = &now
		if err := s.store.PutDispute(ctx, d); err != nil {
			return err
		}
		_, err = s.recorder.Record(ctx, "dispute_rejected", d.DisputeID, actor.ID, d, map[string]any{
			"orderId": d.OrderID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("dispute_id", disputeID).Msg("dispute rejected")
	return d, nil
}

func (s *Service) Get(ctx context.Context, disputeID string) (*dispute.Dispute, error) {
	return s.load(ctx, disputeID)
}

func (s *Service) List(ctx context.Context, f store.DisputeFilter) ([]*dispute.Dispute, error) {
	return s.store.ListDisputes(ctx, f)
}

func (s *Service) load(ctx context.Context, disputeID string) (*dispute.Dispute, error) {
	d, err := s.store.GetDispute(ctx, disputeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("dispute not found")
	}
	return d, err
}

func checkPartialSplit(total string, split *dispute.PartialSplit) error {
	want, ok := new(big.Int).SetString(total, 10)
	if !ok {
		return apperr.Internal("settlement amount is not a valid integer")
	}
	release, ok := new(big.Int).SetString(split.ReleaseAmount, 10)
	if !ok || release.Sign() <= 0 {
		return apperr.InvalidArgument("split.releaseAmount must be a positive integer")
	}
	refund, ok := new(big.Int).SetString(split.RefundAmount, 10)
	if !ok || refund.Sign() <= 0 {
		return apperr.InvalidArgument("split.refundAmount must be a positive integer")
	}
	if new(big.Int).Add(release, refund).Cmp(want) != 0 {
		return apperr.InvalidArgument("split amounts must sum to settlement amount")
	}
	return nil
}
