// Package transparency exposes read-only views over the engine: status
// counts, audit queries, order traces and chain verification.
package transparency

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/market-engine/market-engine/internal/apperr"
	"github.com/market-engine/market-engine/internal/auditlog"
	"github.com/market-engine/market-engine/internal/domain/audit"
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
		logger:   logger.With().Str("service", "transparency").Logger(),
	}
}

// StatusSummary counts records per status for every collection.
type StatusSummary struct {
	Offers      map[string]int `json:"offers"`
	Orders      map[string]int `json:"orders"`
	Settlements map[string]int `json:"settlements"`
	Disputes    map[string]int `json:"disputes"`
	Resources   map[string]int `json:"resources"`
	Leases      map[string]int `json:"leases"`
	Rewards     map[string]int `json:"rewards"`
}

func (s *Service) StatusSummary(ctx context.Context) (*StatusSummary, error) {
	summary := &StatusSummary{
		Offers:      map[string]int{},
		Orders:      map[string]int{},
		Settlements: map[string]int{},
		Disputes:    map[string]int{},
		Resources:   map[string]int{},
		Leases:      map[string]int{},
		Rewards:     map[string]int{},
	}
	offers, err := s.store.ListOffers(ctx, store.OfferFilter{})
	if err != nil {
		return nil, err
	}
	for _, o := range offers {
		summary.Offers[string(o.Status)]++
	}
	orders, err := s.store.ListOrders(ctx, store.OrderFilter{})
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		summary.Orders[string(o.Status)]++
	}
	settlements, err := s.store.ListSettlements(ctx, store.SettlementFilter{})
	if err != nil {
		return nil, err
	}
	for _, st := range settlements {
		summary.Settlements[string(st.Status)]++
	}
	disputes, err := s.store.ListDisputes(ctx, store.DisputeFilter{})
	if err != nil {
		return nil, err
	}
	for _, d := range disputes {
		summary.Disputes[string(d.Status)]++
	}
	resources, err := s.store.ListResources(ctx, store.ResourceFilter{})
	if err != nil {
		return nil, err
	}
	for _, r := range resources {
		summary.Resources[string(r.Status)]++
	}
	leases, err := s.store.ListLeases(ctx, store.LeaseFilter{})
	if err != nil {
		return nil, err
	}
	for _, l := range leases {
		summary.Leases[string(l.Status)]++
	}
	grants, err := s.store.ListGrants(ctx, store.GrantFilter{})
	if err != nil {
		return nil, err
	}
	for _, g := range grants {
		summary.Rewards[string(g.Status)]++
	}
	return summary, nil
}

// AuditQuery returns audit events matching the filter, oldest first.
func (s *Service) AuditQuery(ctx context.Context, f store.AuditFilter) ([]*audit.Event, error) {
	return s.store.ListAudit(ctx, f)
}

// VerifyChain re-checks the whole audit chain.
func (s *Service) VerifyChain(ctx context.Context) (*auditlog.ChainReport, error) {
	return s.recorder.VerifyChain(ctx)
}

// Trace is the full cross-entity view of one order.
type Trace struct {
	Order      *trade.Order       `json:"order"`
	Offer      *trade.Offer       `json:"offer,omitempty"`
	Consent    *trade.Consent     `json:"consent,omitempty"`
	Delivery   *trade.Delivery    `json:"delivery,omitempty"`
	Settlement *trade.Settlement  `json:"settlement,omitempty"`
	Disputes   []*dispute.Dispute `json:"disputes,omitempty"`
	Events     []*audit.Event     `json:"events"`
}

// TraceOrder assembles every record hanging off an order, plus the audit
// events that reference any of them. Delivery payloads are stripped.
func (s *Service) TraceOrder(ctx context.Context, orderID string) (*Trace, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("order not found")
	}
	if err != nil {
		return nil, err
	}
	trace := &Trace{Order: order}

	if offer, err := s.store.GetOffer(ctx, order.OfferID); err == nil {
		trace.Offer = offer
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if consent, err := s.store.GetConsentByOrder(ctx, orderID); err == nil {
		trace.Consent = consent
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if delivery, err := s.store.GetDeliveryByOrder(ctx, orderID); err == nil {
		delivery.Payload = nil
		trace.Delivery = delivery
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if settlement, err := s.store.GetSettlementByOrder(ctx, orderID); err == nil {
		trace.Settlement = settlement
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	disputes, err := s.store.ListDisputes(ctx, store.DisputeFilter{OrderID: orderID})
	if err != nil {
		return nil, err
	}
	trace.Disputes = disputes

	refs := map[string]struct{}{orderID: {}}
	if trace.Consent != nil {
		refs[trace.Consent.ConsentID] = struct{}{}
	}
	if trace.Delivery != nil {
		refs[trace.Delivery.DeliveryID] = struct{}{}
	}
	if trace.Settlement != nil {
		refs[trace.Settlement.SettlementID] = struct{}{}
	}
	for _, d := range disputes {
		refs[d.DisputeID] = struct{}{}
	}
	events, err := s.store.ListAudit(ctx, store.AuditFilter{})
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		if _, ok := refs[e.RefID]; ok {
			trace.Events = append(trace.Events, e)
		}
	}
	return trace, nil
}

// Summary is the operator-facing transparency report.
type Summary struct {
	Statuses       *StatusSummary       `json:"statuses"`
	Chain          *auditlog.ChainReport `json:"chain"`
	PendingAnchors int                  `json:"pendingAnchors"`
	AuditEvents    int                  `json:"auditEvents"`
}

func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	statuses, err := s.StatusSummary(ctx)
	if err != nil {
		return nil, err
	}
	report, err := s.recorder.VerifyChain(ctx)
	if err != nil {
		return nil, err
	}
	anchors, err := s.store.ListPendingAnchors(ctx)
	if err != nil {
		return nil, err
	}
	return &Summary{
		Statuses:       statuses,
		Chain:          report,
		PendingAnchors: len(anchors),
		AuditEvents:    report.Length,
	}, nil
}
