// Package auditlog appends hash-chained audit events and anchors their
// chain hashes on chain, best effort.
package auditlog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/market-engine/market-engine/internal/canonical"
	"github.com/market-engine/market-engine/internal/chain"
	"github.com/market-engine/market-engine/internal/domain/audit"
	"github.com/market-engine/market-engine/internal/store"
)

// Recorder writes audit events through the store. Every event commits
// to its predecessor, so the log is tamper-evident end to end.
type Recorder struct {
	store   store.Store
	adapter chain.Adapter
	logger  zerolog.Logger
}

func NewRecorder(s store.Store, adapter chain.Adapter, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:   s,
		adapter: adapter,
		logger:  logger.With().Str("component", "auditlog").Logger(),
	}
}

// Record hashes payload, links the event to the current chain head and
// appends it. Call inside the same store transaction as the mutation it
// describes so the event and the state change commit together.
func (r *Recorder) Record(ctx context.Context, kind, refID, actor string, payload any, details map[string]any) (*audit.Event, error) {
	hash, err := canonical.Hash(payload)
	if err != nil {
		return nil, err
	}
	prev, err := r.store.LastChainHash(ctx)
	if err != nil {
		return nil, err
	}
	event := &audit.Event{
		EventID:   uuid.NewString(),
		Kind:      kind,
		RefID:     refID,
		Hash:      hash,
		Actor:     actor,
		Timestamp: time.Now().UTC(),
		Details:   details,
		Prev:      prev,
	}
	event.ChainHash, err = audit.ComputeChainHash(*event)
	if err != nil {
		return nil, err
	}
	if err := r.store.AppendAudit(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// RecordWithAnchor records the event and tries to anchor its chain hash.
// Anchoring never fails the caller: on error the hash is queued as a
// pending anchor and the event carries the anchor error in its details.
func (r *Recorder) RecordWithAnchor(ctx context.Context, kind, refID, actor string, payload any, details map[string]any) (*audit.Event, error) {
	hash, err := canonical.Hash(payload)
	if err != nil {
		return nil, err
	}
	prev, err := r.store.LastChainHash(ctx)
	if err != nil {
		return nil, err
	}
	event := &audit.Event{
		EventID:   uuid.NewString(),
		Kind:      kind,
		RefID:     refID,
		Hash:      hash,
		Actor:     actor,
		Timestamp: time.Now().UTC(),
		Details:   cloneDetails(details),
		Prev:      prev,
	}
	event.ChainHash, err = audit.ComputeChainHash(*event)
	if err != nil {
		return nil, err
	}

	if result, anchorErr := r.adapter.AnchorHash(ctx, event.ChainHash); anchorErr == nil {
		event.AnchorTx = result.TxHash
	} else {
		if event.Details == nil {
			event.Details = map[string]any{}
		}
		event.Details["anchorError"] = anchorErr.Error()
		event.ChainHash, err = audit.ComputeChainHash(*event)
		if err != nil {
			return nil, err
		}
		pending := &audit.PendingAnchor{
			AnchorID:    uuid.NewString(),
			PayloadHash: event.ChainHash,
			CreatedAt:   time.Now().UTC(),
			Attempts:    1,
			LastError:   anchorErr.Error(),
		}
		if err := r.store.PutPendingAnchor(ctx, pending); err != nil {
			return nil, err
		}
		r.logger.Warn().Str("kind", kind).Str("ref_id", refID).Err(anchorErr).
			Msg("anchor failed, queued for retry")
	}

	if err := r.store.AppendAudit(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// FlushPendingAnchors retries every queued anchor once. Successes leave
// the queue; failures stay with an incremented attempt count.
func (r *Recorder) FlushPendingAnchors(ctx context.Context) (flushed int, err error) {
	pending, err := r.store.ListPendingAnchors(ctx)
	if err != nil {
		return 0, err
	}
	for _, anchor := range pending {
		if _, anchorErr := r.adapter.AnchorHash(ctx, anchor.PayloadHash); anchorErr != nil {
			anchor.Attempts++
			anchor.LastError = anchorErr.Error()
			if putErr := r.store.PutPendingAnchor(ctx, anchor); putErr != nil {
				return flushed, putErr
			}
			continue
		}
		if delErr := r.store.DeletePendingAnchor(ctx, anchor.AnchorID); delErr != nil {
			return flushed, delErr
		}
		flushed++
	}
	if flushed > 0 {
		r.logger.Info().Int("flushed", flushed).Int("remaining", len(pending)-flushed).
			Msg("pending anchors flushed")
	}
	return flushed, nil
}

// ChainReport is the result of a full chain verification.
type ChainReport struct {
	Length   int    `json:"length"`
	Valid    bool   `json:"valid"`
	BrokenAt string `json:"brokenAt,omitempty"`
}

// VerifyChain walks the whole log and checks both the prev linkage and
// each recomputed chain hash.
func (r *Recorder) VerifyChain(ctx context.Context) (*ChainReport, error) {
	events, err := r.store.ListAudit(ctx, store.AuditFilter{})
	if err != nil {
		return nil, err
	}
	report := &ChainReport{Length: len(events), Valid: true}
	prev := audit.GenesisPrev
	for _, e := range events {
		if e.Prev != prev {
			report.Valid = false
			report.BrokenAt = e.EventID
			return report, nil
		}
		expected, err := audit.ComputeChainHash(*e)
		if err != nil {
			return nil, err
		}
		if expected != e.ChainHash {
			report.Valid = false
			report.BrokenAt = e.EventID
			return report, nil
		}
		prev = e.ChainHash
	}
	return report, nil
}

func cloneDetails(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		out[k] = v
	}
	return out
}
