package httpapi

import (
	"net/http"
	"time"

	"github.com/market-engine/market-engine/internal/apperr"
	appConsent "github.com/market-engine/market-engine/internal/application/consent"
	appDelivery "github.com/market-engine/market-engine/internal/application/delivery"
	appDispute "github.com/market-engine/market-engine/internal/application/dispute"
	appLease "github.com/market-engine/market-engine/internal/application/lease"
	appOffer "github.com/market-engine/market-engine/internal/application/offer"
	appOrder "github.com/market-engine/market-engine/internal/application/order"
	appResource "github.com/market-engine/market-engine/internal/application/resource"
	appReward "github.com/market-engine/market-engine/internal/application/reward"
	appSettlement "github.com/market-engine/market-engine/internal/application/settlement"
	"github.com/market-engine/market-engine/internal/domain/dispute"
	"github.com/market-engine/market-engine/internal/domain/resource"
	"github.com/market-engine/market-engine/internal/domain/reward"
	"github.com/market-engine/market-engine/internal/domain/trade"
	"github.com/market-engine/market-engine/internal/store"
)

type idRequest struct {
	OfferID      string `json:"offerId,omitempty"`
	OrderID      string `json:"orderId,omitempty"`
	ConsentID    string `json:"consentId,omitempty"`
	DeliveryID   string `json:"deliveryId,omitempty"`
	SettlementID string `json:"settlementId,omitempty"`
	DisputeID    string `json:"disputeId,omitempty"`
	ResourceID   string `json:"resourceId,omitempty"`
	LeaseID      string `json:"leaseId,omitempty"`
	GrantID      string `json:"grantId,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Note         string `json:"note,omitempty"`
	Token        string `json:"token,omitempty"`
	DryRun       bool   `json:"dryRun,omitempty"`
}

func (s *Server) offerCreate(w http.ResponseWriter, r *http.Request) {
	var in appOffer.CreateInput
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	offer, err := s.services.Offer.Create(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, offer)
}

func (s *Server) offerPublish(w http.ResponseWriter, r *http.Request) {
	var in idRequest
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	offer, err := s.services.Offer.Publish(r.Context(), actorFrom(r.Context()), in.OfferID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, offer)
}

func (s *Server) offerClose(w http.ResponseWriter, r *http.Request) {
	var in idRequest
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	offer, err := s.services.Offer.Close(r.Context(), actorFrom(r.Context()), in.OfferID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, offer)
}

func (s *Server) offerUpdate(w http.ResponseWriter, r *http.Request) {
	var in appOffer.UpdateInput
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	offer, err := s.services.Offer.Update(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, offer)
}

func (s *Server) offerGet(w http.ResponseWriter, r *http.Request) {
	var in idRequest
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	offer, err := s.services.Offer.Get(r.Context(), in.OfferID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, offer)
}

func (s *Server) offerList(w http.ResponseWriter, r *http.Request) {
	var in struct {
		SellerID string `json:"sellerId,omitempty"`
		Status   string `json:"status,omitempty"`
	}
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	offers, err := s.services.Offer.List(r.Context(), store.OfferFilter{
		SellerID: in.SellerID,
		Status:   trade.OfferStatus(in.Status),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, offers)
}

func (s *Server) orderCreate(w http.ResponseWriter, r *http.Request) {
	var in appOrder.CreateInput
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	order, err := s.services.Order.Create(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, order)
}

func (s *Server) settlementLock(w http.ResponseWriter, r *http.Request) {
	var in appOrder.LockPaymentInput
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	order, settlement, err := s.services.Order.LockPayment(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, map[string]any{"order": order, "settlement": settlement})
}

func (s *Server) orderCancel(w http.ResponseWriter, r *http.Request) {
	var in idRequest
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	order, err := s.services.Order.Cancel(r.Context(), actorFrom(r.Context()), in.OrderID, in.Reason)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, order)
}

func (s *Server) orderGet(w http.ResponseWriter, r *http.Request) {
	var in idRequest
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	order, err := s.services.Order.Get(r.Context(), in.OrderID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, order)
}

func (s *Server) orderList(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OfferID string `json:"offerId,omitempty"`
		BuyerID string `json:"buyerId,omitempty"`
		Status  string `json:"status,omitempty"`
	}
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	orders, err := s.services.Order.List(r.Context(), store.OrderFilter{
		OfferID: in.OfferID,
		BuyerID: in.BuyerID,
		Status:  trade.OrderStatus(in.Status),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, orders)
}

func (s *Server) transparencyTrace(w http.ResponseWriter, r *http.Request) {
	var in idRequest
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	trace, err := s.services.Transparency.TraceOrder(r.Context(), in.OrderID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, trace)
}

func (s *Server) consentGrant(w http.ResponseWriter, r *http.Request) {
	var in appConsent.GrantInput
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	consent, err := s.services.Consent.Grant(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, consent)
}

func (s *Server) consentRevoke(w http.ResponseWriter, r *http.Request) {
	var in appConsent.RevokeInput
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	consent, err := s.services.Consent.Revoke(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, consent)
}

func (s *Server) consentGet(w http.ResponseWriter, r *http.Request) {
	var in idRequest
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	if in.ConsentID == "" && in.OrderID != "" {
		consent, err := s.services.Consent.GetByOrder(r.Context(), in.OrderID)
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, consent)
		return
	}
	consent, err := s.services.Consent.Get(r.Context(), in.ConsentID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, consent)
}

func (s *Server) deliveryIssue(w http.ResponseWriter, r *http.Request) {
	var in appDelivery.ReadyInput
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	delivery, err := s.services.Delivery.Ready(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, delivery)
}

func (s *Server) deliveryComplete(w http.ResponseWriter, r *http.Request) {
	var in idRequest
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	delivery, err := s.services.Delivery.Complete(r.Context(), actorFrom(r.Context()), in.DeliveryID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, delivery)
}

func (s *Server) deliveryRevoke(w http.ResponseWriter, r *http.Request) {
	var in appDelivery.RevokeInput
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	delivery, err := s.services.Delivery.Revoke(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, delivery)
}

func (s *Server) deliveryReveal(w http.ResponseWriter, r *http.Request) {
	var in idRequest
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	payload, err := s.services.Delivery.Reveal(r.Context(), actorFrom(r.Context()), in.DeliveryID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, payload)
}

func (s *Server) deliveryGet(w http.ResponseWriter, r *http.Request) {
	var in idRequest
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	if in.DeliveryID == "" && in.OrderID != "" {
		delivery, err := s.services.Delivery.GetByOrder(r.Context(), in.OrderID)
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, delivery)
		return
	}
	delivery, err := s.services.Delivery.Get(r.Context(), in.DeliveryID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, delivery)
}

func (s *Server) settlementRelease(w http.ResponseWriter, r *http.Request) {
	var in appSettlement.ReleaseInput
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	settlement, err := s.services.Settlement.Release(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, settlement)
}

func (s *Server) settlementRefund(w http.ResponseWriter, r *http.Request) {
	var in appSettlement.RefundInput
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	settlement, err := s.services.Settlement.Refund(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, settlement)
}

func (s *Server) settlementStatus(w http.ResponseWriter, r *http.Request) {
	var in idRequest
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	if in.SettlementID == "" && in.OrderID != "" {
		settlement, err := s.services.Settlement.GetByOrder(r.Context(), in.OrderID)
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, settlement)
		return
	}
	settlement, err := s.services.Settlement.Get(r.Context(), in.SettlementID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, settlement)
}

func (s *Server) disputeOpen(w http.ResponseWriter, r *http.Request) {
	var in appDispute.OpenInput
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	d, err := s.services.Dispute.Open(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, d)
}

func (s *Server) disputeSubmitEvidence(w http.ResponseWriter, r *http.Request) {
	var in appDispute.EvidenceInput
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	d, err := s.services.Dispute.SubmitEvidence(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, d)
}

func (s *Server) disputeResolve(w http.ResponseWriter, r *http.Request) {
	var in appDispute.ResolveInput
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	d, err := s.services.Dispute.Resolve(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, d)
}

func (s *Server) disputeReject(w http.ResponseWriter, r *http.Request) {
	var in idRequest
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	d, err := s.services.Dispute.Reject(r.Context(), actorFrom(r.Context()), in.DisputeID, in.Note)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, d)
}

func (s *Server) disputeGet(w http.ResponseWriter, r *http.Request) {
	var in idRequest
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	d, err := s.services.Dispute.Get(r.Context(), in.DisputeID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, d)
}

func (s *Server) disputeList(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OrderID string `json:"orderId,omitempty"`
		Status  string `json:"status,omitempty"`
	}
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	disputes, err := s.services.Dispute.List(r.Context(), store.DisputeFilter{
		OrderID: in.OrderID,
		Status:  dispute.Status(in.Status),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, disputes)
}

func (s *Server) resourceRegister(w http.ResponseWriter, r *http.Request) {
	var in appResource.RegisterInput
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	res, err := s.services.Resource.Register(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, res)
}

func (s *Server) resourcePublish(w http.ResponseWriter, r *http.Request) {
	var in idRequest
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	res, err := s.services.Resource.Publish(r.Context(), actorFrom(r.Context()), in.ResourceID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, res)
}

func (s *Server) resourceUnpublish(w http.ResponseWriter, r *http.Request) {
	var in idRequest
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	res, err := s.services.Resource.Unpublish(r.Context(), actorFrom(r.Context()), in.ResourceID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, res)
}

func (s *Server) resourceGet(w http.ResponseWriter, r *http.Request) {
	var in idRequest
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	res, err := s.services.Resource.Get(r.Context(), in.ResourceID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, res)
}

func (s *Server) resourceList(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OwnerID string `json:"ownerId,omitempty"`
		Kind    string `json:"kind,omitempty"`
		Status  string `json:"status,omitempty"`
	}
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	resources, err := s.services.Resource.List(r.Context(), store.ResourceFilter{
		OwnerID: in.OwnerID,
		Kind:    in.Kind,
		Status:  resource.Status(in.Status),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, resources)
}

func (s *Server) leaseIssue(w http.ResponseWriter, r *http.Request) {
	var in appLease.IssueInput
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	issued, err := s.services.Lease.Issue(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, issued)
}

func (s *Server) leaseVerify(w http.ResponseWriter, r *http.Request) {
	var in idRequest
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	lease, err := s.services.Lease.Verify(r.Context(), in.Token)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, lease)
}

func (s *Server) leaseUsage(w http.ResponseWriter, r *http.Request) {
	var in appLease.UsageInput
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	entry, err := s.services.Lease.RecordUsage(r.Context(), in)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, entry)
}

func (s *Server) leaseRevoke(w http.ResponseWriter, r *http.Request) {
	var in appLease.RevokeInput
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	lease, err := s.services.Lease.Revoke(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, lease)
}

func (s *Server) leaseGet(w http.ResponseWriter, r *http.Request) {
	var in idRequest
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	lease, err := s.services.Lease.Get(r.Context(), in.LeaseID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, lease)
}

func (s *Server) leaseList(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ResourceID string `json:"resourceId,omitempty"`
		ConsumerID string `json:"consumerId,omitempty"`
		Status     string `json:"status,omitempty"`
	}
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	leases, err := s.services.Lease.List(r.Context(), store.LeaseFilter{
		ResourceID: in.ResourceID,
		ConsumerID: in.ConsumerID,
		Status:     resource.LeaseStatus(in.Status),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, leases)
}

type ledgerRequest struct {
	LeaseID    string     `json:"leaseId,omitempty"`
	ResourceID string     `json:"resourceId,omitempty"`
	ConsumerID string     `json:"consumerId,omitempty"`
	Since      *time.Time `json:"since,omitempty"`
	Limit      int        `json:"limit,omitempty"`
}

func (in ledgerRequest) filter() store.LedgerFilter {
	f := store.LedgerFilter{
		LeaseID:    in.LeaseID,
		ResourceID: in.ResourceID,
		ConsumerID: in.ConsumerID,
		Limit:      in.Limit,
	}
	if in.Since != nil {
		f.Since = *in.Since
	}
	return f
}

func (s *Server) ledgerList(w http.ResponseWriter, r *http.Request) {
	var in ledgerRequest
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	entries, err := s.services.Ledger.List(r.Context(), in.filter())
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, entries)
}

func (s *Server) ledgerSummary(w http.ResponseWriter, r *http.Request) {
	var in ledgerRequest
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	lines, err := s.services.Ledger.Summary(r.Context(), in.filter())
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, lines)
}

func (s *Server) rewardCreate(w http.ResponseWriter, r *http.Request) {
	var in appReward.CreateInput
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	grant, err := s.services.Reward.Create(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, grant)
}

func (s *Server) rewardIssueClaim(w http.ResponseWriter, r *http.Request) {
	var in appReward.IssueClaimInput
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	grant, err := s.services.Reward.IssueClaim(r.Context(), actorFrom(r.Context()), in)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, grant)
}

func (s *Server) rewardUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var in struct {
		GrantID string `json:"grantId"`
		Status  string `json:"status"`
		TxHash  string `json:"txHash,omitempty"`
		Note    string `json:"note,omitempty"`
	}
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	var (
		grant *reward.Grant
		err   error
	)
	switch reward.Status(in.Status) {
	case reward.StatusOnchainSubmitted:
		grant, err = s.services.Reward.MarkSubmitted(r.Context(), actorFrom(r.Context()), in.GrantID, in.TxHash)
	case reward.StatusCancelled:
		grant, err = s.services.Reward.Cancel(r.Context(), actorFrom(r.Context()), in.GrantID, in.Note)
	default:
		err = apperr.InvalidArgument("unsupported status %q", in.Status)
	}
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, grant)
}

func (s *Server) rewardCancel(w http.ResponseWriter, r *http.Request) {
	var in idRequest
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	grant, err := s.services.Reward.Cancel(r.Context(), actorFrom(r.Context()), in.GrantID, in.Note)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, grant)
}

func (s *Server) rewardGet(w http.ResponseWriter, r *http.Request) {
	var in idRequest
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	grant, err := s.services.Reward.Get(r.Context(), in.GrantID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, grant)
}

func (s *Server) rewardList(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RecipientID string `json:"recipientId,omitempty"`
		Status      string `json:"status,omitempty"`
	}
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	grants, err := s.services.Reward.List(r.Context(), store.GrantFilter{
		RecipientID: in.RecipientID,
		Status:      reward.Status(in.Status),
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, grants)
}

func (s *Server) leaseExpireSweep(w http.ResponseWriter, r *http.Request) {
	if !actorFrom(r.Context()).Privileged() {
		respondError(w, apperr.Forbidden("sweep is not allowed for this actor"))
		return
	}
	expired, err := s.services.Lease.ExpireSweep(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, map[string]int{"expired": expired})
}

func (s *Server) repairRetry(w http.ResponseWriter, r *http.Request) {
	var in idRequest
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	report, err := s.services.Revocation.Repair(r.Context(), actorFrom(r.Context()), in.DryRun)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, report)
}

func (s *Server) revocationRetry(w http.ResponseWriter, r *http.Request) {
	if !actorFrom(r.Context()).Privileged() {
		respondError(w, apperr.Forbidden("revocation retry is not allowed for this actor"))
		return
	}
	delivered, err := s.services.Revocation.Sweep(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, map[string]int{"delivered": delivered})
}

func (s *Server) statusSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.services.Transparency.StatusSummary(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, summary)
}

func (s *Server) auditQuery(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Kind  string     `json:"kind,omitempty"`
		RefID string     `json:"refId,omitempty"`
		Since *time.Time `json:"since,omitempty"`
		Limit int        `json:"limit,omitempty"`
	}
	if err := decode(r, &in); err != nil {
		respondError(w, err)
		return
	}
	f := store.AuditFilter{Kind: in.Kind, RefID: in.RefID, Limit: in.Limit}
	if in.Since != nil {
		f.Since = *in.Since
	}
	events, err := s.services.Transparency.AuditQuery(r.Context(), f)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, events)
}

func (s *Server) auditVerify(w http.ResponseWriter, r *http.Request) {
	report, err := s.services.Transparency.VerifyChain(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, report)
}

func (s *Server) transparencySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.services.Transparency.Summary(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, summary)
}

func (s *Server) metricsSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.services.Metrics.Take(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, snap)
}
