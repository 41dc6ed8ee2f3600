// Package reward manages reward grants, claim issuance with replay
// protection, and confirmation polling against the chain.
package reward

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
	"github.com/market-engine/market-engine/internal/chain"
	"github.com/market-engine/market-engine/internal/domain/reward"
	"github.com/market-engine/market-engine/internal/store"
)

type Service struct {
	store    store.Store
	adapter  chain.Adapter
	recorder *auditlog.Recorder
	logger   zerolog.Logger
}

func NewService(s store.Store, adapter chain.Adapter, recorder *auditlog.Recorder, logger zerolog.Logger) *Service {
	return &Service{
		store:    s,
		adapter:  adapter,
		recorder: recorder,
		logger:   logger.With().Str("service", "reward").Logger(),
	}
}

type CreateInput struct {
	RecipientID  string     `json:"recipientId"`
	Recipient    string     `json:"recipient"`
	Amount       string     `json:"amount"`
	TokenAddress string     `json:"tokenAddress"`
	ChainFamily  string     `json:"chainFamily"`
	Network      string     `json:"network"`
	Reason       string     `json:"reason,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`
}

func (in CreateInput) validate() error {
	if in.RecipientID == "" {
		return apperr.InvalidArgument("recipientId is required")
	}
	if in.Recipient == "" {
		return apperr.InvalidArgument("recipient address is required")
	}
	amount, ok := new(big.Int).SetString(in.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return apperr.InvalidArgument("amount must be a positive integer")
	}
	if in.TokenAddress == "" {
		return apperr.InvalidArgument("tokenAddress is required")
	}
	if in.ChainFamily == "" || in.Network == "" {
		return apperr.InvalidArgument("chainFamily and network are required")
	}
	return nil
}

// Create records a grant in reward_created. Only privileged actors may
// grant rewards.
func (s *Service) Create(ctx context.Context, actor application.Actor, in CreateInput) (*reward.Grant, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	if !actor.Privileged() {
		return nil, apperr.Forbidden("reward creation is not allowed for this actor")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	grant := &reward.Grant{
		GrantID:      uuid.NewString(),
		RecipientID:  in.RecipientID,
		Recipient:    in.Recipient,
		Amount:       in.Amount,
		TokenAddress: in.TokenAddress,
		ChainFamily:  in.ChainFamily,
		Network:      in.Network,
		Reason:       in.Reason,
		Status:       reward.StatusCreated,
		Deadline:     in.Deadline,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	hash, err := canonical.Hash(map[string]any{
		"grantId":      grant.GrantID,
		"recipient":    grant.Recipient,
		"amount":       grant.Amount,
		"tokenAddress": grant.TokenAddress,
		"chainFamily":  grant.ChainFamily,
		"network":      grant.Network,
	})
	if err != nil {
		return nil, err
	}
	grant.GrantHash = hash

	err = s.store.Transaction(ctx, func(ctx context.Context) error {
		if err := s.store.PutGrant(ctx, grant); err != nil {
			return err
		}
		_, err := s.recorder.Record(ctx, "reward_created", grant.GrantID, actor.ID, grant, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("grant_id", grant.GrantID).Str("recipient_id", in.RecipientID).Msg("reward created")
	return grant, nil
}

type IssueClaimInput struct {
	GrantID string `json:"grantId"`
	Nonce   string `json:"nonce"`
}

// IssueClaim prepares the claim for signing. The nonce is consumed in
// the same transaction, so a replayed nonce for the same chain, network
// and recipient is rejected even across grants.
func (s *Service) IssueClaim(ctx context.Context, actor application.Actor, in IssueClaimInput) (*reward.Grant, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	if in.Nonce == "" {
		return nil, apperr.InvalidArgument("nonce is required")
	}
	var grant *reward.Grant
	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		var err error
		grant, err = s.load(ctx, in.GrantID)
		if err != nil {
			return err
		}
		if grant.RecipientID != actor.ID && !actor.Privileged() {
			return apperr.Forbidden("actorId does not match grant.recipientId")
		}
		if grant.Deadline != nil && time.Now().UTC().After(*grant.Deadline) {
			return apperr.Expired("claim deadline expired")
		}
		if err := reward.AssertTransition(grant.Status, reward.StatusClaimIssued); err != nil {
			return err
		}

		nonceID := reward.NonceID(grant.ChainFamily, grant.Network, grant.Recipient, in.Nonce)
		err = s.store.PutNonce(ctx, nonceID, &reward.Nonce{
			NonceID:  nonceID,
			GrantID:  grant.GrantID,
			IssuedAt: time.Now().UTC(),
		})
		if errors.Is(err, store.ErrNonceExists) {
			return apperr.Conflict("nonce already consumed")
		}
		if err != nil {
			return err
		}

		grant.Status = reward.StatusClaimIssued
		grant.Nonce = in.Nonce
		grant.UpdatedAt = time.Now().UTC()
		grant.ClaimHash, err = canonical.Hash(map[string]any{
			"grantId":      grant.GrantID,
			"recipient":    grant.Recipient,
			"amount":       grant.Amount,
			"tokenAddress": grant.TokenAddress,
			"nonce":        grant.Nonce,
		})
		if err != nil {
			return err
		}
		if err := s.store.PutGrant(ctx, grant); err != nil {
			return err
		}
		_, err = s.recorder.Record(ctx, "claim_issued", grant.GrantID, actor.ID, grant, map[string]any{
			"nonce": in.Nonce,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("grant_id", in.GrantID).Msg("claim issued")
	return grant, nil
}

// MarkSubmitted records the claim transaction hash once it hits the
// chain.
func (s *Service) MarkSubmitted(ctx context.Context, actor application.Actor, grantID, txHash string) (*reward.Grant, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	if txHash == "" {
		return nil, apperr.InvalidArgument("txHash is required")
	}
	return s.transition(ctx, actor, grantID, reward.StatusOnchainSubmitted, "onchain_submitted", func(g *reward.Grant) {
		g.TxHash = txHash
		g.LastError = ""
	})
}

// Cancel voids a grant that has not reached the chain.
func (s *Service) Cancel(ctx context.Context, actor application.Actor, grantID, note string) (*reward.Grant, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	if !actor.Privileged() {
		return nil, apperr.Forbidden("reward cancellation is not allowed for this actor")
	}
	return s.transition(ctx, actor, grantID, reward.StatusCancelled, "reward_cancelled", func(g *reward.Grant) {
		now := time.Now().UTC()
		g.CancelledAt = &now
		g.CancelledNote = note
	})
}

func (s *Service) transition(ctx context.Context, actor application.Actor, grantID string, to reward.Status, kind string, mutate func(*reward.Grant)) (*reward.Grant, error) {
	var grant *reward.Grant
	err := s.store.Transaction(ctx, func(ctx context.Context) error {
		var err error
		grant, err = s.load(ctx, grantID)
		if err != nil {
			return err
		}
		if grant.RecipientID != actor.ID && !actor.Privileged() {
			return apperr.Forbidden("actorId does not match grant.recipientId")
		}
		prev := grant.Status
		if err := reward.AssertTransition(grant.Status, to); err != nil {
			return err
		}
		grant.Status = to
		grant.UpdatedAt = time.Now().UTC()
		if mutate != nil {
			mutate(grant)
		}
		if err := s.store.PutGrant(ctx, grant); err != nil {
			return err
		}
		_, err = s.recorder.Record(ctx, kind, grant.GrantID, actor.ID, grant, map[string]any{
			"prevStatus": string(prev),
			"newStatus":  string(to),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

func (s *Service) Get(ctx context.Context, grantID string) (*reward.Grant, error) {
	return s.load(ctx, grantID)
}

func (s *Service) List(ctx context.Context, f store.GrantFilter) ([]*reward.Grant, error) {
	return s.store.ListGrants(ctx, f)
}

func (s *Service) load(ctx context.Context, grantID string) (*reward.Grant, error) {
	grant, err := s.store.GetGrant(ctx, grantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("reward grant not found")
	}
	return grant, err
}

// PollSubmitted checks every onchain_submitted grant against the chain.
// Confirmed receipts finalize the grant; reverted ones mark it failed so
// a fresh claim can be issued. A grant without a receipt is skipped.
func (s *Service) PollSubmitted(ctx context.Context) (confirmed, failed int, err error) {
	submitted, err := s.store.ListGrants(ctx, store.GrantFilter{Status: reward.StatusOnchainSubmitted})
	if err != nil {
		return 0, 0, err
	}
	for _, grant := range submitted {
		if grant.TxHash == "" {
			continue
		}
		receipt, err := s.adapter.GetReceipt(ctx, grant.TxHash)
		if err != nil {
			s.logger.Warn().Err(err).Str("grant_id", grant.GrantID).Msg("receipt lookup failed")
			continue
		}
		if receipt == nil {
			continue
		}
		var (
			target reward.Status
			kind   string
		)
		switch receipt.Status {
		case chain.ReceiptSuccess:
			target, kind = reward.StatusOnchainConfirmed, "onchain_confirmed"
		case chain.ReceiptReverted:
			target, kind = reward.StatusOnchainFailed, "onchain_failed"
		default:
			continue
		}
		prev := grant.Status
		if err := reward.AssertTransition(prev, target); err != nil {
			s.logger.Warn().Err(err).Str("grant_id", grant.GrantID).Msg("receipt skipped")
			continue
		}
		now := time.Now().UTC()
		grant.Status = target
		switch target {
		case reward.StatusOnchainConfirmed:
			grant.BlockNumber = receipt.BlockNumber
			grant.ConfirmedAt = &now
			grant.LastError = ""
			confirmed++
		case reward.StatusOnchainFailed:
			grant.LastError = "transaction reverted"
			failed++
		}
		grant.UpdatedAt = now
		g := grant
		err = s.store.Transaction(ctx, func(ctx context.Context) error {
			if err := s.store.PutGrant(ctx, g); err != nil {
				return err
			}
			_, err := s.recorder.Record(ctx, kind, g.GrantID, application.System.ID, g, map[string]any{
				"prevStatus":  string(prev),
				"newStatus":   string(g.Status),
				"txHash":      g.TxHash,
				"blockNumber": receipt.BlockNumber,
			})
			return err
		})
		if err != nil {
			return confirmed, failed, err
		}
	}
	return confirmed, failed, nil
}
