// Package revocation propagates consent, delivery and lease revocations
// to external endpoints with bounded retries.
package revocation

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
	"github.com/market-engine/market-engine/internal/domain/revocation"
	"github.com/market-engine/market-engine/internal/domain/trade"
	"github.com/market-engine/market-engine/internal/store"
	"github.com/market-engine/market-engine/internal/webhook"
)

const (
	defaultRetryDelay  = time.Minute
	defaultMaxAttempts = 3
)

type Engine struct {
	store       store.Store
	notifier    webhook.Notifier
	recorder    *auditlog.Recorder
	logger      zerolog.Logger
	retryDelay  time.Duration
	maxAttempts int
}

type Option func(*Engine)

func WithRetryDelay(d time.Duration) Option {
	return func(e *Engine) { e.retryDelay = d }
}

func WithMaxAttempts(n int) Option {
	return func(e *Engine) { e.maxAttempts = n }
}

func NewEngine(s store.Store, notifier webhook.Notifier, recorder *auditlog.Recorder, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:       s,
		notifier:    notifier,
		recorder:    recorder,
		logger:      logger.With().Str("service", "revocation").Logger(),
		retryDelay:  defaultRetryDelay,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EnqueueInput describes one revocation to propagate.
type EnqueueInput struct {
	TargetKind revocation.TargetKind
	TargetID   string
	OrderID    string
	Endpoint   string
	Reason     string
	Details    map[string]any
}

// Enqueue persists the job and tries the first delivery inline, so a
// reachable endpoint is notified immediately and an unreachable one
// leaves a scheduled retry behind.
func (e *Engine) Enqueue(ctx context.Context, in EnqueueInput) (*revocation.Job, error) {
	if in.Endpoint == "" {
		return nil, apperr.InvalidArgument("revocation endpoint is required")
	}
	now := time.Now().UTC()
	payloadHash, err := canonical.Hash(map[string]any{
		"targetKind": string(in.TargetKind),
		"targetId":   in.TargetID,
		"orderId":    in.OrderID,
		"reason":     in.Reason,
		"details":    in.Details,
	})
	if err != nil {
		return nil, err
	}
	job := &revocation.Job{
		JobID:         uuid.NewString(),
		TargetKind:    in.TargetKind,
		TargetID:      in.TargetID,
		OrderID:       in.OrderID,
		Endpoint:      in.Endpoint,
		PayloadHash:   payloadHash,
		Reason:        in.Reason,
		Payload:       in.Details,
		Status:        revocation.JobPending,
		MaxAttempts:   e.maxAttempts,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.PutRevocationJob(ctx, job); err != nil {
		return nil, err
	}
	e.attempt(ctx, job)
	return job, nil
}

func (e *Engine) notification(job *revocation.Job) webhook.Notification {
	return webhook.Notification{
		Event:     string(job.TargetKind) + ".revoked",
		TargetID:  job.TargetID,
		OrderID:   job.OrderID,
		Reason:    job.Reason,
		RevokedAt: job.CreatedAt,
		Details:   job.Payload,
	}
}

// attempt posts the notification once and updates the job. A delivered
// job is removed; a failed one is rescheduled until the attempt budget
// runs out, then kept as failed for inspection.
func (e *Engine) attempt(ctx context.Context, job *revocation.Job) {
	job.Attempts++
	now := time.Now().UTC()
	job.UpdatedAt = now

	if err := e.notifier.Notify(ctx, job.Endpoint, e.notification(job)); err != nil {
		job.LastError = apperr.Redact(err.Error())
		if job.Exhausted() {
			job.Status = revocation.JobFailed
			e.logger.Error().Str("job_id", job.JobID).Int("attempts", job.Attempts).
				Msg("revocation delivery exhausted")
		} else {
			job.NextAttemptAt = now.Add(e.retryDelay)
		}
		if putErr := e.store.PutRevocationJob(ctx, job); putErr != nil {
			e.logger.Error().Err(putErr).Str("job_id", job.JobID).Msg("persist revocation job")
		}
		return
	}

	job.Status = revocation.JobSucceeded
	if err := e.store.DeleteRevocationJob(ctx, job.JobID); err != nil {
		e.logger.Error().Err(err).Str("job_id", job.JobID).Msg("remove delivered job")
		return
	}
	e.logger.Info().Str("job_id", job.JobID).Str("target_id", job.TargetID).Msg("revocation delivered")
}

// Sweep retries every due pending job once. Returns how many jobs were
// delivered.
func (e *Engine) Sweep(ctx context.Context) (delivered int, err error) {
	due, err := e.store.ListRevocationJobs(ctx, store.JobFilter{
		Status:    revocation.JobPending,
		DueBefore: time.Now().UTC(),
	})
	if err != nil {
		return 0, err
	}
	for _, job := range due {
		e.attempt(ctx, job)
		if job.Status == revocation.JobSucceeded {
			delivered++
		}
	}
	return delivered, nil
}

// RepairReport summarizes what a repair pass found and, when not a dry
// run, fixed.
type RepairReport struct {
	DryRun           bool     `json:"dryRun"`
	RequeuedJobs     []string `json:"requeuedJobs,omitempty"`
	RefundedOrders   []string `json:"refundedOrders,omitempty"`
	CancelledOrders  []string `json:"cancelledOrders,omitempty"`
	ExpiredLeases    []string `json:"expiredLeases,omitempty"`
	OrphanedLeases   []string `json:"orphanedLeases,omitempty"`
	InspectedFailed  int      `json:"inspectedFailed"`
	InspectedOrphans int      `json:"inspectedOrphans"`
}

// Repair finds failed jobs and revoked orders whose cascade stalled
// halfway, and re-drives them. With dryRun the report is computed
// without touching any record.
func (e *Engine) Repair(ctx context.Context, actor application.Actor, dryRun bool) (*RepairReport, error) {
	if err := actor.Require(); err != nil {
		return nil, err
	}
	if !actor.Privileged() {
		return nil, apperr.Forbidden("repair is not allowed for this actor")
	}
	report := &RepairReport{DryRun: dryRun}

	failed, err := e.store.ListRevocationJobs(ctx, store.JobFilter{Status: revocation.JobFailed})
	if err != nil {
		return nil, err
	}
	report.InspectedFailed = len(failed)
	for _, job := range failed {
		report.RequeuedJobs = append(report.RequeuedJobs, job.JobID)
		if dryRun {
			continue
		}
		job.Status = revocation.JobPending
		job.Attempts = 0
		job.LastError = ""
		job.NextAttemptAt = time.Now().UTC()
		job.UpdatedAt = time.Now().UTC()
		if err := e.store.PutRevocationJob(ctx, job); err != nil {
			return nil, err
		}
	}

	// Orders stuck in consent_revoked should have ended in
	// settlement_cancelled with a refunded escrow.
	stuck, err := e.store.ListOrders(ctx, store.OrderFilter{Status: trade.ConsentRevokedOrder})
	if err != nil {
		return nil, err
	}
	report.InspectedOrphans = len(stuck)
	for _, o := range stuck {
		order := o
		report.CancelledOrders = append(report.CancelledOrders, order.OrderID)
		if dryRun {
			continue
		}
		err := e.store.Transaction(ctx, func(ctx context.Context) error {
			settlement, err := e.store.GetSettlementByOrder(ctx, order.OrderID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if settlement != nil && settlement.Status == trade.SettlementLocked {
				now := time.Now().UTC()
				settlement.Status = trade.SettlementRefunded
				settlement.RefundedAt = &now
				settlement.RefundReason = "consent revoked"
				if err := e.store.PutSettlement(ctx, settlement); err != nil {
					return err
				}
				report.RefundedOrders = append(report.RefundedOrders, order.OrderID)
			}
			if err := trade.AssertOrderTransition(order.Status, trade.SettlementCancelled); err != nil {
				return err
			}
			order.Status = trade.SettlementCancelled
			order.UpdatedAt = time.Now().UTC()
			if err := e.store.PutOrder(ctx, order); err != nil {
				return err
			}
			_, err = e.recorder.Record(ctx, "settlement_cancelled", order.OrderID, actor.ID, order, map[string]any{
				"repair": true,
			})
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	// Active leases left behind by a crash: overdue ones are expired,
	// leases whose resource vanished are revoked.
	active, err := e.store.ListLeases(ctx, store.LeaseFilter{Status: resource.LeaseActive})
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for _, l := range active {
		lease := l
		overdue := now.After(lease.ExpiresAt)
		orphaned := false
		if !overdue {
			if _, err := e.store.GetResource(ctx, lease.ResourceID); errors.Is(err, store.ErrNotFound) {
				orphaned = true
			} else if err != nil {
				return nil, err
			}
		}
		switch {
		case overdue:
			report.ExpiredLeases = append(report.ExpiredLeases, lease.LeaseID)
		case orphaned:
			report.OrphanedLeases = append(report.OrphanedLeases, lease.LeaseID)
		default:
			continue
		}
		if dryRun {
			continue
		}
		err := e.store.Transaction(ctx, func(ctx context.Context) error {
			kind := "lease_expired"
			if orphaned {
				kind = "lease_revoked"
				lease.Status = resource.LeaseRevoked
				lease.RevokedAt = &now
			} else {
				lease.Status = resource.LeaseExpired
			}
			if err := e.store.PutLease(ctx, lease); err != nil {
				return err
			}
			_, err := e.recorder.Record(ctx, kind, lease.LeaseID, actor.ID, lease, map[string]any{
				"repair": true,
			})
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	return report, nil
}
