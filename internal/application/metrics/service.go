// Package metrics computes an operational snapshot of the engine and
// evaluates alert rules against it.
package metrics

import (
	"context"
	"time"

	"github.com/Knetic/govaluate"
	"github.com/rs/zerolog"

	"github.com/market-engine/market-engine/internal/domain/revocation"
	"github.com/market-engine/market-engine/internal/domain/trade"
	"github.com/market-engine/market-engine/internal/store"
)

type Service struct {
	store  store.Store
	rules  []Rule
	logger zerolog.Logger
}

// Rule is a named boolean expression over snapshot variables.
type Rule struct {
	Name string
	Expr string
}

// DefaultRules cover the failure modes an operator wants paged on.
var DefaultRules = []Rule{
	{Name: "settlement_failure_rate_high", Expr: "settlement_failure_rate > 0.05"},
	{Name: "anchor_backlog", Expr: "anchor_pending > 100"},
	{Name: "disputes_unresolved", Expr: "dispute_unresolved_24h > 0"},
	{Name: "revocations_failed", Expr: "revocation_failed > 0"},
	{Name: "revocation_backlog", Expr: "revocation_pending > 20"},
}

func NewService(s store.Store, rules []Rule, logger zerolog.Logger) *Service {
	if rules == nil {
		rules = DefaultRules
	}
	return &Service{
		store:  s,
		rules:  rules,
		logger: logger.With().Str("service", "metrics").Logger(),
	}
}

// Snapshot is the point-in-time operational state.
type Snapshot struct {
	TakenAt               time.Time `json:"takenAt"`
	OffersPublished       int       `json:"offersPublished"`
	OrdersActive          int       `json:"ordersActive"`
	OrdersCompleted       int       `json:"ordersCompleted"`
	SettlementsLocked     int       `json:"settlementsLocked"`
	SettlementsReleased   int       `json:"settlementsReleased"`
	SettlementsRefunded   int       `json:"settlementsRefunded"`
	SettlementFailureRate float64   `json:"settlementFailureRate"`
	DisputesOpen          int       `json:"disputesOpen"`
	DisputesUnresolved24h int       `json:"disputesUnresolved24h"`
	RevocationPending     int       `json:"revocationPending"`
	RevocationFailed      int       `json:"revocationFailed"`
	AnchorPending         int       `json:"anchorPending"`
	Alerts                []string  `json:"alerts,omitempty"`
}

var terminalOrderStatuses = map[trade.OrderStatus]bool{
	trade.SettlementCompleted: true,
	trade.OrderCancelled:      true,
	trade.SettlementCancelled: true,
}

// Take builds the snapshot and evaluates the alert rules over it.
func (s *Service) Take(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{TakenAt: time.Now().UTC()}

	offers, err := s.store.ListOffers(ctx, store.OfferFilter{Status: trade.OfferPublished})
	if err != nil {
		return nil, err
	}
	snap.OffersPublished = len(offers)

	orders, err := s.store.ListOrders(ctx, store.OrderFilter{})
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		if o.Status == trade.SettlementCompleted {
			snap.OrdersCompleted++
		}
		if !terminalOrderStatuses[o.Status] {
			snap.OrdersActive++
		}
	}

	settlements, err := s.store.ListSettlements(ctx, store.SettlementFilter{})
	if err != nil {
		return nil, err
	}
	for _, st := range settlements {
		switch st.Status {
		case trade.SettlementLocked:
			snap.SettlementsLocked++
		case trade.SettlementReleased:
			snap.SettlementsReleased++
		case trade.SettlementRefunded:
			snap.SettlementsRefunded++
		}
	}
	if terminal := snap.SettlementsReleased + snap.SettlementsRefunded; terminal > 0 {
		snap.SettlementFailureRate = float64(snap.SettlementsRefunded) / float64(terminal)
	}

	disputes, err := s.store.ListDisputes(ctx, store.DisputeFilter{})
	if err != nil {
		return nil, err
	}
	cutoff := snap.TakenAt.Add(-24 * time.Hour)
	for _, d := range disputes {
		if d.Terminal() {
			continue
		}
		snap.DisputesOpen++
		if d.OpenedAt.Before(cutoff) {
			snap.DisputesUnresolved24h++
		}
	}

	pendingJobs, err := s.store.ListRevocationJobs(ctx, store.JobFilter{Status: revocation.JobPending})
	if err != nil {
		return nil, err
	}
	snap.RevocationPending = len(pendingJobs)
	failedJobs, err := s.store.ListRevocationJobs(ctx, store.JobFilter{Status: revocation.JobFailed})
	if err != nil {
		return nil, err
	}
	snap.RevocationFailed = len(failedJobs)

	anchors, err := s.store.ListPendingAnchors(ctx)
	if err != nil {
		return nil, err
	}
	snap.AnchorPending = len(anchors)

	snap.Alerts = s.evaluate(snap)
	return snap, nil
}

func (s *Service) evaluate(snap *Snapshot) []string {
	params := map[string]any{
		"offers_published":        float64(snap.OffersPublished),
		"orders_active":           float64(snap.OrdersActive),
		"orders_completed":        float64(snap.OrdersCompleted),
		"settlements_locked":      float64(snap.SettlementsLocked),
		"settlement_failure_rate": snap.SettlementFailureRate,
		"dispute_open":            float64(snap.DisputesOpen),
		"dispute_unresolved_24h":  float64(snap.DisputesUnresolved24h),
		"revocation_pending":      float64(snap.RevocationPending),
		"revocation_failed":       float64(snap.RevocationFailed),
		"anchor_pending":          float64(snap.AnchorPending),
	}
	var alerts []string
	for _, rule := range s.rules {
		expr, err := govaluate.NewEvaluableExpression(rule.Expr)
		if err != nil {
			s.logger.Error().Err(err).Str("rule", rule.Name).Msg("invalid alert rule")
			continue
		}
		result, err := expr.Evaluate(params)
		if err != nil {
			s.logger.Error().Err(err).Str("rule", rule.Name).Msg("alert rule evaluation failed")
			continue
		}
		if fired, ok := result.(bool); ok && fired {
			alerts = append(alerts, rule.Name)
		}
	}
	return alerts
}
