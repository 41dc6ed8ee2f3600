// Package httpapi exposes the engine over HTTP: every operation is a
// POST under /api/v1 returning a uniform {ok, result|error} envelope.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/market-engine/market-engine/internal/apperr"
	appConsent "github.com/market-engine/market-engine/internal/application/consent"
	appDelivery "github.com/market-engine/market-engine/internal/application/delivery"
	appDispute "github.com/market-engine/market-engine/internal/application/dispute"
	appLease "github.com/market-engine/market-engine/internal/application/lease"
	appLedger "github.com/market-engine/market-engine/internal/application/ledger"
	appMetrics "github.com/market-engine/market-engine/internal/application/metrics"
	appOffer "github.com/market-engine/market-engine/internal/application/offer"
	appOrder "github.com/market-engine/market-engine/internal/application/order"
	appResource "github.com/market-engine/market-engine/internal/application/resource"
	appRevocation "github.com/market-engine/market-engine/internal/application/revocation"
	appReward "github.com/market-engine/market-engine/internal/application/reward"
	appSettlement "github.com/market-engine/market-engine/internal/application/settlement"
	appTransparency "github.com/market-engine/market-engine/internal/application/transparency"
)

// Services bundles everything the API serves.
type Services struct {
	Offer        *appOffer.Service
	Order        *appOrder.Service
	Consent      *appConsent.Service
	Delivery     *appDelivery.Service
	Settlement   *appSettlement.Service
	Dispute      *appDispute.Service
	Resource     *appResource.Service
	Lease        *appLease.Service
	Ledger       *appLedger.Service
	Reward       *appReward.Service
	Revocation   *appRevocation.Engine
	Transparency *appTransparency.Service
	Metrics      *appMetrics.Service
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	services Services
	auth     *Authenticator
	logger   zerolog.Logger
}

func NewServer(services Services, auth *Authenticator, logger zerolog.Logger) *Server {
	return &Server{
		services: services,
		auth:     auth,
		logger:   logger.With().Str("component", "httpapi").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respond(w, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Post("/offer.create", s.offerCreate)
		r.Post("/offer.publish", s.offerPublish)
		r.Post("/offer.update", s.offerUpdate)
		r.Post("/offer.close", s.offerClose)
		r.Post("/offer.get", s.offerGet)
		r.Post("/offer.list", s.offerList)

		r.Post("/order.create", s.orderCreate)
		r.Post("/order.cancel", s.orderCancel)
		r.Post("/order.get", s.orderGet)
		r.Post("/order.list", s.orderList)

		r.Post("/consent.grant", s.consentGrant)
		r.Post("/consent.revoke", s.consentRevoke)
		r.Post("/consent.get", s.consentGet)

		r.Post("/delivery.issue", s.deliveryIssue)
		r.Post("/delivery.complete", s.deliveryComplete)
		r.Post("/delivery.revoke", s.deliveryRevoke)
		r.Post("/delivery.reveal", s.deliveryReveal)
		r.Post("/delivery.get", s.deliveryGet)

		r.Post("/settlement.lock", s.settlementLock)
		r.Post("/settlement.release", s.settlementRelease)
		r.Post("/settlement.refund", s.settlementRefund)
		r.Post("/settlement.status", s.settlementStatus)

		r.Post("/dispute.open", s.disputeOpen)
		r.Post("/dispute.submitEvidence", s.disputeSubmitEvidence)
		r.Post("/dispute.resolve", s.disputeResolve)
		r.Post("/dispute.reject", s.disputeReject)
		r.Post("/dispute.get", s.disputeGet)
		r.Post("/dispute.list", s.disputeList)

		r.Post("/resource.register", s.resourceRegister)
		r.Post("/resource.publish", s.resourcePublish)
		r.Post("/resource.unpublish", s.resourceUnpublish)
		r.Post("/resource.get", s.resourceGet)
		r.Post("/resource.list", s.resourceList)

		r.Post("/lease.issue", s.leaseIssue)
		r.Post("/lease.verify", s.leaseVerify)
		r.Post("/lease.usage", s.leaseUsage)
		r.Post("/lease.revoke", s.leaseRevoke)
		r.Post("/lease.get", s.leaseGet)
		r.Post("/lease.list", s.leaseList)
		r.Post("/lease.expireSweep", s.leaseExpireSweep)

		r.Post("/ledger.append", s.leaseUsage)
		r.Post("/ledger.list", s.ledgerList)
		r.Post("/ledger.summary", s.ledgerSummary)

		r.Post("/reward.create", s.rewardCreate)
		r.Post("/reward.issueClaim", s.rewardIssueClaim)
		r.Post("/reward.updateStatus", s.rewardUpdateStatus)
		r.Post("/reward.cancel", s.rewardCancel)
		r.Post("/reward.get", s.rewardGet)
		r.Post("/reward.list", s.rewardList)

		r.Post("/repair.retry", s.repairRetry)
		r.Post("/revocation.retry", s.revocationRetry)

		r.Post("/status.summary", s.statusSummary)
		r.Post("/audit.query", s.auditQuery)
		r.Post("/audit.verify", s.auditVerify)
		r.Post("/transparency.summary", s.transparencySummary)
		r.Post("/transparency.trace", s.transparencyTrace)
		r.Post("/metrics.snapshot", s.metricsSnapshot)
	})
	return r
}

type envelope struct {
	OK     bool       `json:"ok"`
	Result any        `json:"result,omitempty"`
	Error  *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respond(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(envelope{OK: true, Result: result})
}

var statusByCode = map[apperr.Code]int{
	apperr.CodeInvalidArgument: http.StatusBadRequest,
	apperr.CodeAuthRequired:    http.StatusUnauthorized,
	apperr.CodeForbidden:       http.StatusForbidden,
	apperr.CodeNotFound:        http.StatusNotFound,
	apperr.CodeConflict:        http.StatusConflict,
	apperr.CodeExpired:         http.StatusGone,
	apperr.CodeRevoked:         http.StatusGone,
	apperr.CodeQuotaExceeded:   http.StatusTooManyRequests,
	apperr.CodeTimeout:         http.StatusGatewayTimeout,
	apperr.CodeUnavailable:     http.StatusServiceUnavailable,
	apperr.CodeInternal:        http.StatusInternalServerError,
}

func respondError(w http.ResponseWriter, err error) {
	typed := apperr.Classify(err)
	status, ok := statusByCode[typed.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{OK: false, Error: &errorBody{
		Code:    string(typed.Code),
		Message: typed.Message,
	}})
}

// decode reads the JSON body into in. An empty body is a zero value.
func decode(r *http.Request, in any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(in); err != nil {
		return apperr.InvalidArgument("invalid request body")
	}
	return nil
}
