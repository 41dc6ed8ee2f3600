package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/market-engine/market-engine/internal/domain/audit"
	"github.com/market-engine/market-engine/internal/domain/dispute"
	"github.com/market-engine/market-engine/internal/domain/resource"
	"github.com/market-engine/market-engine/internal/domain/revocation"
	"github.com/market-engine/market-engine/internal/domain/reward"
	"github.com/market-engine/market-engine/internal/domain/trade"
	"github.com/market-engine/market-engine/internal/store"
)

func (s *SQLStore) GetOffer(ctx context.Context, id string) (*trade.Offer, error) {
	var o trade.Offer
	if err := s.getDoc(ctx, "offers", id, &o, store.ErrNotFound); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *SQLStore) PutOffer(ctx context.Context, o *trade.Offer) error {
	return s.putDoc(ctx, "offers", o.OfferID, o)
}

func (s *SQLStore) ListOffers(ctx context.Context, f store.OfferFilter) ([]*trade.Offer, error) {
	all, err := listDocs[trade.Offer](s, ctx, "offers")
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, o := range all {
		if f.SellerID != "" && o.SellerID != f.SellerID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *SQLStore) GetOrder(ctx context.Context, id string) (*trade.Order, error) {
	var o trade.Order
	if err := s.getDoc(ctx, "orders", id, &o, store.ErrNotFound); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *SQLStore) PutOrder(ctx context.Context, o *trade.Order) error {
	return s.putDoc(ctx, "orders", o.OrderID, o)
}

func (s *SQLStore) ListOrders(ctx context.Context, f store.OrderFilter) ([]*trade.Order, error) {
	all, err := listDocs[trade.Order](s, ctx, "orders")
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, o := range all {
		if f.OfferID != "" && o.OfferID != f.OfferID {
			continue
		}
		if f.BuyerID != "" && o.BuyerID != f.BuyerID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *SQLStore) GetConsent(ctx context.Context, id string) (*trade.Consent, error) {
	var c trade.Consent
	if err := s.getDoc(ctx, "consents", id, &c, store.ErrNotFound); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLStore) GetConsentByOrder(ctx context.Context, orderID string) (*trade.Consent, error) {
	all, err := listDocs[trade.Consent](s, ctx, "consents")
	if err != nil {
		return nil, err
	}
	for _, c := range all {
		if c.OrderID == orderID {
			return c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *SQLStore) PutConsent(ctx context.Context, c *trade.Consent) error {
	return s.putDoc(ctx, "consents", c.ConsentID, c)
}

func (s *SQLStore) GetDelivery(ctx context.Context, id string) (*trade.Delivery, error) {
	var d trade.Delivery
	if err := s.getDoc(ctx, "deliveries", id, &d, store.ErrNotFound); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLStore) GetDeliveryByOrder(ctx context.Context, orderID string) (*trade.Delivery, error) {
	all, err := listDocs[trade.Delivery](s, ctx, "deliveries")
	if err != nil {
		return nil, err
	}
	for _, d := range all {
		if d.OrderID == orderID {
			return d, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *SQLStore) PutDelivery(ctx context.Context, d *trade.Delivery) error {
	return s.putDoc(ctx, "deliveries", d.DeliveryID, d)
}

func (s *SQLStore) GetSettlement(ctx context.Context, id string) (*trade.Settlement, error) {
	var st trade.Settlement
	if err := s.getDoc(ctx, "settlements", id, &st, store.ErrNotFound); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *SQLStore) GetSettlementByOrder(ctx context.Context, orderID string) (*trade.Settlement, error) {
	all, err := listDocs[trade.Settlement](s, ctx, "settlements")
	if err != nil {
		return nil, err
	}
	for _, st := range all {
		if st.OrderID == orderID {
			return st, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *SQLStore) PutSettlement(ctx context.Context, st *trade.Settlement) error {
	return s.putDoc(ctx, "settlements", st.SettlementID, st)
}

func (s *SQLStore) ListSettlements(ctx context.Context, f store.SettlementFilter) ([]*trade.Settlement, error) {
	all, err := listDocs[trade.Settlement](s, ctx, "settlements")
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, st := range all {
		if f.Status != "" && st.Status != f.Status {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SettlementID < out[j].SettlementID })
	return out, nil
}

func (s *SQLStore) GetDispute(ctx context.Context, id string) (*dispute.Dispute, error) {
	var d dispute.Dispute
	if err := s.getDoc(ctx, "disputes", id, &d, store.ErrNotFound); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLStore) PutDispute(ctx context.Context, d *dispute.Dispute) error {
	return s.putDoc(ctx, "disputes", d.DisputeID, d)
}

func (s *SQLStore) ListDisputes(ctx context.Context, f store.DisputeFilter) ([]*dispute.Dispute, error) {
	all, err := listDocs[dispute.Dispute](s, ctx, "disputes")
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, d := range all {
		if f.OrderID != "" && d.OrderID != f.OrderID {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (s *SQLStore) GetResource(ctx context.Context, id string) (*resource.Resource, error) {
	var r resource.Resource
	if err := s.getDoc(ctx, "resources", id, &r, store.ErrNotFound); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLStore) PutResource(ctx context.Context, r *resource.Resource) error {
	return s.putDoc(ctx, "resources", r.ResourceID, r)
}

func (s *SQLStore) ListResources(ctx context.Context, f store.ResourceFilter) ([]*resource.Resource, error) {
	all, err := listDocs[resource.Resource](s, ctx, "resources")
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		if f.OwnerID != "" && r.OwnerID != f.OwnerID {
			continue
		}
		if f.Kind != "" && r.Kind != f.Kind {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *SQLStore) GetLease(ctx context.Context, id string) (*resource.Lease, error) {
	var l resource.Lease
	if err := s.getDoc(ctx, "leases", id, &l, store.ErrNotFound); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *SQLStore) PutLease(ctx context.Context, l *resource.Lease) error {
	return s.putDoc(ctx, "leases", l.LeaseID, l)
}

func (s *SQLStore) ListLeases(ctx context.Context, f store.LeaseFilter) ([]*resource.Lease, error) {
	all, err := listDocs[resource.Lease](s, ctx, "leases")
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, l := range all {
		if f.ResourceID != "" && l.ResourceID != f.ResourceID {
			continue
		}
		if f.ConsumerID != "" && l.ConsumerID != f.ConsumerID {
			continue
		}
		if f.TokenHash != "" && l.TokenHash != f.TokenHash {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

func (s *SQLStore) AppendLedger(ctx context.Context, e *resource.LedgerEntry) error {
	return s.putDoc(ctx, "ledger_entries", e.EntryID, e)
}

func (s *SQLStore) ListLedger(ctx context.Context, f store.LedgerFilter) ([]*resource.LedgerEntry, error) {
	all, err := listDocs[resource.LedgerEntry](s, ctx, "ledger_entries")
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, e := range all {
		if f.LeaseID != "" && e.LeaseID != f.LeaseID {
			continue
		}
		if f.ResourceID != "" && e.ResourceID != f.ResourceID {
			continue
		}
		if f.ConsumerID != "" && e.ConsumerID != f.ConsumerID {
			continue
		}
		if !f.Since.IsZero() && e.RecordedAt.Before(f.Since) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *SQLStore) GetGrant(ctx context.Context, id string) (*reward.Grant, error) {
	var g reward.Grant
	if err := s.getDoc(ctx, "rewards", id, &g, store.ErrNotFound); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *SQLStore) PutGrant(ctx context.Context, g *reward.Grant) error {
	return s.putDoc(ctx, "rewards", g.GrantID, g)
}

func (s *SQLStore) ListGrants(ctx context.Context, f store.GrantFilter) ([]*reward.Grant, error) {
	all, err := listDocs[reward.Grant](s, ctx, "rewards")
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, g := range all {
		if f.RecipientID != "" && g.RecipientID != f.RecipientID {
			continue
		}
		if f.Status != "" && g.Status != f.Status {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *SQLStore) GetNonce(ctx context.Context, id string) (*reward.Nonce, error) {
	var n reward.Nonce
	if err := s.getDoc(ctx, "reward_nonces", id, &n, store.ErrNotFound); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *SQLStore) PutNonce(ctx context.Context, id string, n *reward.Nonce) error {
	return s.insertDoc(ctx, "reward_nonces", id, n, store.ErrNonceExists)
}

func (s *SQLStore) GetRevocationJob(ctx context.Context, id string) (*revocation.Job, error) {
	var j revocation.Job
	if err := s.getDoc(ctx, "revocation_jobs", id, &j, store.ErrNotFound); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *SQLStore) PutRevocationJob(ctx context.Context, j *revocation.Job) error {
	return s.putDoc(ctx, "revocation_jobs", j.JobID, j)
}

func (s *SQLStore) DeleteRevocationJob(ctx context.Context, id string) error {
	return s.deleteDoc(ctx, "revocation_jobs", id)
}

func (s *SQLStore) ListRevocationJobs(ctx context.Context, f store.JobFilter) ([]*revocation.Job, error) {
	all, err := listDocs[revocation.Job](s, ctx, "revocation_jobs")
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, j := range all {
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		if !f.DueBefore.IsZero() && j.NextAttemptAt.After(f.DueBefore) {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(out[j].NextAttemptAt) })
	return out, nil
}

func (s *SQLStore) PutPendingAnchor(ctx context.Context, a *audit.PendingAnchor) error {
	return s.putDoc(ctx, "pending_anchors", a.AnchorID, a)
}

func (s *SQLStore) DeletePendingAnchor(ctx context.Context, id string) error {
	return s.deleteDoc(ctx, "pending_anchors", id)
}

func (s *SQLStore) ListPendingAnchors(ctx context.Context) ([]*audit.PendingAnchor, error) {
	all, err := listDocs[audit.PendingAnchor](s, ctx, "pending_anchors")
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return all, nil
}

// AppendAudit assigns the next sequence number and inserts the event.
// The sequence read and the insert run in the same transaction scope, so
// concurrent appends cannot collide inside one.
func (s *SQLStore) AppendAudit(ctx context.Context, e *audit.Event) error {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	q := s.q(ctx)
	var seq int64
	if err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM audit_log`).Scan(&seq); err != nil {
		return fmt.Errorf("sqlstore: audit seq: %w", err)
	}
	ins := s.rebind(`INSERT INTO audit_log (seq, ts, data) VALUES (?, ?, ?)`)
	ts := e.Timestamp.UTC().Format(time.RFC3339Nano)
	if _, err := q.ExecContext(ctx, ins, seq, ts, string(data)); err != nil {
		return fmt.Errorf("sqlstore: append audit: %w", err)
	}
	return nil
}

func (s *SQLStore) ListAudit(ctx context.Context, f store.AuditFilter) ([]*audit.Event, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT data FROM audit_log ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list audit: %w", err)
	}
	defer rows.Close()
	var out []*audit.Event
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var e audit.Event
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, err
		}
		if f.Kind != "" && e.Kind != f.Kind {
			continue
		}
		if f.RefID != "" && e.RefID != f.RefID {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

func (s *SQLStore) LastChainHash(ctx context.Context) (string, error) {
	var data string
	err := s.q(ctx).QueryRowContext(ctx, `SELECT data FROM audit_log ORDER BY seq DESC LIMIT 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.GenesisPrev, nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlstore: chain head: %w", err)
	}
	var e audit.Event
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return "", err
	}
	return e.ChainHash, nil
}
