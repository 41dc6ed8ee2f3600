package filestore

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/market-engine/market-engine/internal/domain/audit"
	"github.com/market-engine/market-engine/internal/domain/dispute"
	"github.com/market-engine/market-engine/internal/domain/resource"
	"github.com/market-engine/market-engine/internal/domain/revocation"
	"github.com/market-engine/market-engine/internal/domain/reward"
	"github.com/market-engine/market-engine/internal/domain/trade"
	"github.com/market-engine/market-engine/internal/store"
)

const (
	offersFile      = "offers.json"
	ordersFile      = "orders.json"
	consentsFile    = "consents.json"
	deliveriesFile  = "deliveries.json"
	settlementsFile = "settlements.json"
	disputesFile    = "disputes.json"
	resourcesFile   = "resources.json"
	leasesFile      = "leases.json"
	rewardsFile     = "rewards.json"
	noncesFile      = "reward-nonces.json"
	revocationsFile = "revocations.json"
	anchorsFile     = "pending-anchors.json"
	ledgerFile      = "ledger.json"
)

func (s *FileStore) GetOffer(ctx context.Context, id string) (*trade.Offer, error) {
	return getDoc[trade.Offer](s, ctx, offersFile, id, store.ErrNotFound)
}

func (s *FileStore) PutOffer(ctx context.Context, o *trade.Offer) error {
	return putDoc(s, ctx, offersFile, o.OfferID, o)
}

func (s *FileStore) ListOffers(ctx context.Context, f store.OfferFilter) ([]*trade.Offer, error) {
	all, err := listDocs[trade.Offer](s, ctx, offersFile)
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

func (s *FileStore) GetOrder(ctx context.Context, id string) (*trade.Order, error) {
	return getDoc[trade.Order](s, ctx, ordersFile, id, store.ErrNotFound)
}

func (s *FileStore) PutOrder(ctx context.Context, o *trade.Order) error {
	return putDoc(s, ctx, ordersFile, o.OrderID, o)
}

func (s *FileStore) ListOrders(ctx context.Context, f store.OrderFilter) ([]*trade.Order, error) {
	all, err := listDocs[trade.Order](s, ctx, ordersFile)
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

func (s *FileStore) GetConsent(ctx context.Context, id string) (*trade.Consent, error) {
	return getDoc[trade.Consent](s, ctx, consentsFile, id, store.ErrNotFound)
}

func (s *FileStore) GetConsentByOrder(ctx context.Context, orderID string) (*trade.Consent, error) {
	all, err := listDocs[trade.Consent](s, ctx, consentsFile)
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

func (s *FileStore) PutConsent(ctx context.Context, c *trade.Consent) error {
	return putDoc(s, ctx, consentsFile, c.ConsentID, c)
}

func (s *FileStore) GetDelivery(ctx context.Context, id string) (*trade.Delivery, error) {
	return getDoc[trade.Delivery](s, ctx, deliveriesFile, id, store.ErrNotFound)
}

func (s *FileStore) GetDeliveryByOrder(ctx context.Context, orderID string) (*trade.Delivery, error) {
	all, err := listDocs[trade.Delivery](s, ctx, deliveriesFile)
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

func (s *FileStore) PutDelivery(ctx context.Context, d *trade.Delivery) error {
	return putDoc(s, ctx, deliveriesFile, d.DeliveryID, d)
}

func (s *FileStore) GetSettlement(ctx context.Context, id string) (*trade.Settlement, error) {
	return getDoc[trade.Settlement](s, ctx, settlementsFile, id, store.ErrNotFound)
}

func (s *FileStore) GetSettlementByOrder(ctx context.Context, orderID string) (*trade.Settlement, error) {
	all, err := listDocs[trade.Settlement](s, ctx, settlementsFile)
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

func (s *FileStore) PutSettlement(ctx context.Context, st *trade.Settlement) error {
	return putDoc(s, ctx, settlementsFile, st.SettlementID, st)
}

func (s *FileStore) ListSettlements(ctx context.Context, f store.SettlementFilter) ([]*trade.Settlement, error) {
	all, err := listDocs[trade.Settlement](s, ctx, settlementsFile)
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

func (s *FileStore) GetDispute(ctx context.Context, id string) (*dispute.Dispute, error) {
	return getDoc[dispute.Dispute](s, ctx, disputesFile, id, store.ErrNotFound)
}

func (s *FileStore) PutDispute(ctx context.Context, d *dispute.Dispute) error {
	return putDoc(s, ctx, disputesFile, d.DisputeID, d)
}

func (s *FileStore) ListDisputes(ctx context.Context, f store.DisputeFilter) ([]*dispute.Dispute, error) {
	all, err := listDocs[dispute.Dispute](s, ctx, disputesFile)
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

func (s *FileStore) GetResource(ctx context.Context, id string) (*resource.Resource, error) {
	return getDoc[resource.Resource](s, ctx, resourcesFile, id, store.ErrNotFound)
}

func (s *FileStore) PutResource(ctx context.Context, r *resource.Resource) error {
	return putDoc(s, ctx, resourcesFile, r.ResourceID, r)
}

func (s *FileStore) ListResources(ctx context.Context, f store.ResourceFilter) ([]*resource.Resource, error) {
	all, err := listDocs[resource.Resource](s, ctx, resourcesFile)
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

func (s *FileStore) GetLease(ctx context.Context, id string) (*resource.Lease, error) {
	return getDoc[resource.Lease](s, ctx, leasesFile, id, store.ErrNotFound)
}

func (s *FileStore) PutLease(ctx context.Context, l *resource.Lease) error {
	return putDoc(s, ctx, leasesFile, l.LeaseID, l)
}

func (s *FileStore) ListLeases(ctx context.Context, f store.LeaseFilter) ([]*resource.Lease, error) {
	all, err := listDocs[resource.Lease](s, ctx, leasesFile)
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

func (s *FileStore) AppendLedger(ctx context.Context, e *resource.LedgerEntry) error {
	return putDoc(s, ctx, ledgerFile, e.EntryID, e)
}

func (s *FileStore) ListLedger(ctx context.Context, f store.LedgerFilter) ([]*resource.LedgerEntry, error) {
	all, err := listDocs[resource.LedgerEntry](s, ctx, ledgerFile)
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

func (s *FileStore) GetGrant(ctx context.Context, id string) (*reward.Grant, error) {
	return getDoc[reward.Grant](s, ctx, rewardsFile, id, store.ErrNotFound)
}

func (s *FileStore) PutGrant(ctx context.Context, g *reward.Grant) error {
	return putDoc(s, ctx, rewardsFile, g.GrantID, g)
}

func (s *FileStore) ListGrants(ctx context.Context, f store.GrantFilter) ([]*reward.Grant, error) {
	all, err := listDocs[reward.Grant](s, ctx, rewardsFile)
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

func (s *FileStore) GetNonce(ctx context.Context, id string) (*reward.Nonce, error) {
	return getDoc[reward.Nonce](s, ctx, noncesFile, id, store.ErrNotFound)
}

func (s *FileStore) PutNonce(ctx context.Context, id string, n *reward.Nonce) error {
	return s.withLock(ctx, func() error {
		path := s.path(noncesFile)
		m, err := loadRaw(path)
		if err != nil {
			return err
		}
		if _, exists := m[id]; exists {
			return store.ErrNonceExists
		}
		raw, err := json.Marshal(n)
		if err != nil {
			return err
		}
		m[id] = raw
		return saveRaw(path, m)
	})
}

func (s *FileStore) GetRevocationJob(ctx context.Context, id string) (*revocation.Job, error) {
	return getDoc[revocation.Job](s, ctx, revocationsFile, id, store.ErrNotFound)
}

func (s *FileStore) PutRevocationJob(ctx context.Context, j *revocation.Job) error {
	return putDoc(s, ctx, revocationsFile, j.JobID, j)
}

func (s *FileStore) DeleteRevocationJob(ctx context.Context, id string) error {
	return deleteDoc(s, ctx, revocationsFile, id)
}

func (s *FileStore) ListRevocationJobs(ctx context.Context, f store.JobFilter) ([]*revocation.Job, error) {
	all, err := listDocs[revocation.Job](s, ctx, revocationsFile)
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

func (s *FileStore) PutPendingAnchor(ctx context.Context, a *audit.PendingAnchor) error {
	return putDoc(s, ctx, anchorsFile, a.AnchorID, a)
}

func (s *FileStore) DeletePendingAnchor(ctx context.Context, id string) error {
	return deleteDoc(s, ctx, anchorsFile, id)
}

func (s *FileStore) ListPendingAnchors(ctx context.Context) ([]*audit.PendingAnchor, error) {
	all, err := listDocs[audit.PendingAnchor](s, ctx, anchorsFile)
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return all, nil
}

func (s *FileStore) AppendAudit(ctx context.Context, e *audit.Event) error {
	return s.withLock(ctx, func() error {
		return s.appendLine(s.path(auditFileName), e)
	})
}

func (s *FileStore) ListAudit(ctx context.Context, f store.AuditFilter) ([]*audit.Event, error) {
	var out []*audit.Event
	err := s.withReadLock(ctx, func() error {
		lines, err := readLines(s.path(auditFileName))
		if err != nil {
			return err
		}
		for _, raw := range lines {
			var e audit.Event
			if err := json.Unmarshal(raw, &e); err != nil {
				return err
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
		return nil
	})
	if err != nil {
		return nil, err
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

func (s *FileStore) LastChainHash(ctx context.Context) (string, error) {
	var head string
	err := s.withReadLock(ctx, func() error {
		lines, err := readLines(s.path(auditFileName))
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			head = audit.GenesisPrev
			return nil
		}
		var e audit.Event
		if err := json.Unmarshal(lines[len(lines)-1], &e); err != nil {
			return err
		}
		head = e.ChainHash
		return nil
	})
	return head, err
}
