package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

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
	"github.com/market-engine/market-engine/internal/auditlog"
	"github.com/market-engine/market-engine/internal/chain"
	"github.com/market-engine/market-engine/internal/store/filestore"
	"github.com/market-engine/market-engine/internal/webhook"
)

type stubNotifier struct{}

func (stubNotifier) Notify(context.Context, string, webhook.Notification) error { return nil }

const (
	sellerKey = "seller-key"
	buyerKey  = "buyer-key"
	opKey     = "operator-key"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	fs, err := filestore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })

	logger := zerolog.Nop()
	adapter := chain.NewMemoryAdapter("testnet")
	recorder := auditlog.NewRecorder(fs, adapter, logger)
	engine := appRevocation.NewEngine(fs, stubNotifier{}, recorder, logger)

	services := Services{
		Offer:        appOffer.NewService(fs, recorder, logger),
		Order:        appOrder.NewService(fs, recorder, logger),
		Consent:      appConsent.NewService(fs, recorder, engine, logger),
		Delivery:     appDelivery.NewService(fs, nil, recorder, engine, logger),
		Settlement:   appSettlement.NewService(fs, recorder, logger),
		Dispute:      appDispute.NewService(fs, recorder, logger),
		Resource:     appResource.NewService(fs, recorder, logger),
		Lease:        appLease.NewService(fs, recorder, engine, logger),
		Ledger:       appLedger.NewService(fs, logger),
		Reward:       appReward.NewService(fs, adapter, recorder, logger),
		Revocation:   engine,
		Transparency: appTransparency.NewService(fs, recorder, logger),
		Metrics:      appMetrics.NewService(fs, nil, logger),
	}

	keys := map[string]string{}
	for key, spec := range map[string]string{
		sellerKey: "alice:seller",
		buyerKey:  "bob:buyer",
		opKey:     "op:operator",
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
		require.NoError(t, err)
		keys[string(hash)] = spec
	}

	srv := NewServer(services, NewAuthenticator(keys), logger)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func call(t *testing.T, ts *httptest.Server, apiKey, method string, body, out any) int {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/"+method, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env struct {
		OK     bool            `json:"ok"`
		Result json.RawMessage `json:"result"`
		Error  *errorBody      `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	if out != nil && env.Result != nil {
		require.NoError(t, json.Unmarshal(env.Result, out))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequiresAPIKey(t *testing.T) {
	ts := newTestServer(t)

	code := call(t, ts, "", "offer.list", map[string]any{}, nil)
	require.Equal(t, http.StatusUnauthorized, code)

	code = call(t, ts, "not-a-key", "offer.list", map[string]any{}, nil)
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestTradeLifecycle(t *testing.T) {
	ts := newTestServer(t)

	var offer struct {
		OfferID string `json:"offerId"`
		Status  string `json:"status"`
	}
	code := call(t, ts, sellerKey, "offer.create", map[string]any{
		"assetId":      "asset-1",
		"assetType":    "data",
		"price":        10.0,
		"currency":     "USDC",
		"usageScope":   map[string]any{"purpose": "analytics", "durationDays": 30},
		"deliveryType": "download",
	}, &offer)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "offer_created", offer.Status)

	code = call(t, ts, sellerKey, "offer.publish", map[string]any{"offerId": offer.OfferID}, &offer)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "offer_published", offer.Status)

	var order struct {
		OrderID string `json:"orderId"`
		Status  string `json:"status"`
	}
	code = call(t, ts, buyerKey, "order.create", map[string]any{
		"offerId":  offer.OfferID,
		"quantity": 2,
	}, &order)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "order_created", order.Status)

	var locked struct {
		Order struct {
			Status string `json:"status"`
		} `json:"order"`
		Settlement struct {
			SettlementID string `json:"settlementId"`
			Amount       string `json:"amount"`
		} `json:"settlement"`
	}
	code = call(t, ts, buyerKey, "settlement.lock", map[string]any{
		"orderId":   order.OrderID,
		"amount":    "2000",
		"paymentTx": "0xlock",
	}, &locked)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "payment_locked", locked.Order.Status)
	require.Equal(t, "2000", locked.Settlement.Amount)

	var consent struct {
		ConsentID string `json:"consentId"`
		Status    string `json:"status"`
	}
	code = call(t, ts, buyerKey, "consent.grant", map[string]any{
		"orderId":   order.OrderID,
		"scope":     map[string]any{"purpose": "analytics", "durationDays": 30},
		"signature": "sig-1",
	}, &consent)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "consent_granted", consent.Status)

	var delivery struct {
		DeliveryID string `json:"deliveryId"`
		Status     string `json:"status"`
	}
	code = call(t, ts, sellerKey, "delivery.issue", map[string]any{
		"orderId": order.OrderID,
		"payload": map[string]any{"type": "download", "downloadUrl": "https://files.example.com/asset-1"},
	}, &delivery)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "delivery_ready", delivery.Status)

	var payload struct {
		DownloadURL string `json:"downloadUrl"`
	}
	code = call(t, ts, buyerKey, "delivery.reveal", map[string]any{"deliveryId": delivery.DeliveryID}, &payload)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "https://files.example.com/asset-1", payload.DownloadURL)

	// The seller cannot read the buyer's payload.
	code = call(t, ts, sellerKey, "delivery.reveal", map[string]any{"deliveryId": delivery.DeliveryID}, nil)
	require.Equal(t, http.StatusForbidden, code)

	code = call(t, ts, buyerKey, "delivery.complete", map[string]any{"deliveryId": delivery.DeliveryID}, &delivery)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "delivery_completed", delivery.Status)

	var settlement struct {
		Status string `json:"status"`
	}
	code = call(t, ts, sellerKey, "settlement.release", map[string]any{
		"settlementId": locked.Settlement.SettlementID,
		"payees": []map[string]any{
			{"address": "0xseller", "amount": "1900"},
			{"address": "0xplatform", "amount": "100"},
		},
	}, &settlement)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "released", settlement.Status)

	code = call(t, ts, buyerKey, "order.get", map[string]any{"orderId": order.OrderID}, &order)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "settlement_completed", order.Status)

	var report struct {
		Valid  bool `json:"valid"`
		Length int  `json:"length"`
	}
	code = call(t, ts, opKey, "audit.verify", map[string]any{}, &report)
	require.Equal(t, http.StatusOK, code)
	require.True(t, report.Valid)
	require.NotZero(t, report.Length)

	var trace struct {
		Order      json.RawMessage   `json:"order"`
		Settlement json.RawMessage   `json:"settlement"`
		Events     []json.RawMessage `json:"events"`
	}
	code = call(t, ts, opKey, "transparency.trace", map[string]any{"orderId": order.OrderID}, &trace)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, trace.Settlement)
	require.NotEmpty(t, trace.Events)
}

func TestErrorEnvelope(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/offer.get", bytes.NewReader([]byte(`{"offerId":"missing"}`)))
	require.NoError(t, err)
	req.Header.Set("x-api-key", sellerKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.False(t, env.OK)
	require.Equal(t, "E_NOT_FOUND", env.Error.Code)
	require.Equal(t, "offer not found", env.Error.Message)
}

func TestLeaseOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	var res struct {
		ResourceID string `json:"resourceId"`
	}
	code := call(t, ts, sellerKey, "resource.register", map[string]any{
		"kind":     "api",
		"name":     "quotes",
		"pricing":  map[string]any{"pricePerCall": 0.01, "currency": "USDC"},
		"maxQuota": 1000,
	}, &res)
	require.Equal(t, http.StatusOK, code)

	code = call(t, ts, sellerKey, "resource.publish", map[string]any{"resourceId": res.ResourceID}, nil)
	require.Equal(t, http.StatusOK, code)

	var issued struct {
		Lease struct {
			LeaseID string `json:"leaseId"`
		} `json:"lease"`
		Token string `json:"token"`
	}
	code = call(t, ts, buyerKey, "lease.issue", map[string]any{
		"resourceId":   res.ResourceID,
		"quota":        100,
		"durationDays": 7,
	}, &issued)
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, issued.Token)

	var lease struct {
		Status string `json:"status"`
	}
	code = call(t, ts, buyerKey, "lease.verify", map[string]any{"token": issued.Token}, &lease)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "lease_active", lease.Status)

	var entry struct {
		Units int     `json:"units"`
		Cost  float64 `json:"cost"`
	}
	code = call(t, ts, buyerKey, "lease.usage", map[string]any{"token": issued.Token, "units": 10}, &entry)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 10, entry.Units)
	require.InDelta(t, 0.1, entry.Cost, 1e-9)

	var lines []struct {
		Units int `json:"units"`
	}
	code = call(t, ts, opKey, "ledger.summary", map[string]any{"resourceId": res.ResourceID}, &lines)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, lines, 1)
	require.Equal(t, 10, lines[0].Units)
}
