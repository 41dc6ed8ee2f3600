package consent

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/market-engine/market-engine/internal/apperr"
	"github.com/market-engine/market-engine/internal/application"
	appDelivery "github.com/market-engine/market-engine/internal/application/delivery"
	appOffer "github.com/market-engine/market-engine/internal/application/offer"
	appOrder "github.com/market-engine/market-engine/internal/application/order"
	appRevocation "github.com/market-engine/market-engine/internal/application/revocation"
	"github.com/market-engine/market-engine/internal/auditlog"
	"github.com/market-engine/market-engine/internal/chain"
	"github.com/market-engine/market-engine/internal/domain/revocation"
	"github.com/market-engine/market-engine/internal/domain/trade"
	"github.com/market-engine/market-engine/internal/store"
	"github.com/market-engine/market-engine/internal/store/filestore"
	"github.com/market-engine/market-engine/internal/webhook"
)

var (
	seller = application.Actor{ID: "alice", Role: application.RoleSeller}
	buyer  = application.Actor{ID: "bob", Role: application.RoleBuyer}
)

type recordingNotifier struct {
	endpoints []string
	fail      bool
}

func (n *recordingNotifier) Notify(_ context.Context, endpoint string, _ webhook.Notification) error {
	n.endpoints = append(n.endpoints, endpoint)
	if n.fail {
		return apperr.Unavailable("endpoint unreachable")
	}
	return nil
}

type fixture struct {
	consents   *Service
	offers     *appOffer.Service
	orders     *appOrder.Service
	deliveries *appDelivery.Service
	store      store.Store
	notifier   *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs, err := filestore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })
	logger := zerolog.Nop()
	recorder := auditlog.NewRecorder(fs, chain.NewMemoryAdapter("testnet"), logger)
	notifier := &recordingNotifier{}
	engine := appRevocation.NewEngine(fs, notifier, recorder, logger)
	return &fixture{
		consents:   NewService(fs, recorder, engine, logger),
		offers:     appOffer.NewService(fs, recorder, logger),
		orders:     appOrder.NewService(fs, recorder, logger),
		deliveries: appDelivery.NewService(fs, nil, recorder, engine, logger),
		store:      fs,
		notifier:   notifier,
	}
}

// lockedOrder drives an order to payment_locked.
func (f *fixture) lockedOrder(t *testing.T) *trade.Order {
	t.Helper()
	ctx := context.Background()
	offer, err := f.offers.Create(ctx, seller, appOffer.CreateInput{
		AssetID:      "asset-1",
		AssetType:    trade.AssetData,
		Price:        10,
		Currency:     "USDC",
		UsageScope:   trade.UsageScope{Purpose: "analytics"},
		DeliveryType: trade.DeliveryDownload,
	})
	require.NoError(t, err)
	_, err = f.offers.Publish(ctx, seller, offer.OfferID)
	require.NoError(t, err)
	order, err := f.orders.Create(ctx, buyer, appOrder.CreateInput{OfferID: offer.OfferID, Quantity: 1})
	require.NoError(t, err)
	order, _, err = f.orders.LockPayment(ctx, buyer, appOrder.LockPaymentInput{OrderID: order.OrderID, Amount: "1000", PaymentTx: "0xlock"})
	require.NoError(t, err)
	return order
}

func grantInput(orderID string) GrantInput {
	return GrantInput{
		OrderID:   orderID,
		Scope:     trade.ConsentScope{Purpose: "analytics", DurationDays: 30},
		Signature: "sig-1",
	}
}

func TestGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.lockedOrder(t)

	consent, err := f.consents.Grant(ctx, buyer, grantInput(order.OrderID))
	require.NoError(t, err)
	require.Equal(t, trade.ConsentGranted, consent.Status)
	require.NotEmpty(t, consent.ConsentHash)
	require.NotEmpty(t, consent.Scope.ScopeHash)

	order, err = f.store.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	require.Equal(t, trade.ConsentGrantedOrder, order.Status)

	// One consent per order.
	_, err = f.consents.Grant(ctx, buyer, grantInput(order.OrderID))
	require.Equal(t, apperr.CodeConflict, apperr.Classify(err).Code)
}

func TestGrantOnlyBuyer(t *testing.T) {
	f := newFixture(t)
	order := f.lockedOrder(t)

	_, err := f.consents.Grant(context.Background(), seller, grantInput(order.OrderID))
	require.Equal(t, apperr.CodeForbidden, apperr.Classify(err).Code)
}

func TestRevokeCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.lockedOrder(t)

	consent, err := f.consents.Grant(ctx, buyer, grantInput(order.OrderID))
	require.NoError(t, err)

	delivery, err := f.deliveries.Ready(ctx, seller, appDelivery.ReadyInput{
		OrderID: order.OrderID,
		Payload: trade.Payload{Type: trade.DeliveryDownload, DownloadURL: "https://files.example.com/a"},
	})
	require.NoError(t, err)

	consent, err = f.consents.Revoke(ctx, buyer, RevokeInput{
		ConsentID:      consent.ConsentID,
		Reason:         "no longer agree",
		NotifyEndpoint: "https://hooks.example.com/revoked",
	})
	require.NoError(t, err)
	require.Equal(t, trade.ConsentRevoked, consent.Status)
	require.NotNil(t, consent.RevokedAt)
	require.NotEmpty(t, consent.RevokeHash)

	delivery, err = f.store.GetDelivery(ctx, delivery.DeliveryID)
	require.NoError(t, err)
	require.Equal(t, trade.DeliveryRevoked, delivery.Status)

	settlement, err := f.store.GetSettlementByOrder(ctx, order.OrderID)
	require.NoError(t, err)
	require.Equal(t, trade.SettlementRefunded, settlement.Status)

	order, err = f.store.GetOrder(ctx, order.OrderID)
	require.NoError(t, err)
	require.Equal(t, trade.SettlementCancelled, order.Status)

	require.Equal(t, []string{"https://hooks.example.com/revoked"}, f.notifier.endpoints)

	// Delivered jobs are removed from the queue.
	jobs, err := f.store.ListRevocationJobs(ctx, store.JobFilter{Status: revocation.JobPending})
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestRevokeTwiceRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.lockedOrder(t)

	consent, err := f.consents.Grant(ctx, buyer, grantInput(order.OrderID))
	require.NoError(t, err)
	_, err = f.consents.Revoke(ctx, buyer, RevokeInput{ConsentID: consent.ConsentID, Reason: "first"})
	require.NoError(t, err)

	_, err = f.consents.Revoke(ctx, buyer, RevokeInput{ConsentID: consent.ConsentID, Reason: "second"})
	require.Equal(t, apperr.CodeConflict, apperr.Classify(err).Code)
}

func TestRevocationSurvivesUnreachableEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.lockedOrder(t)
	f.notifier.fail = true

	consent, err := f.consents.Grant(ctx, buyer, grantInput(order.OrderID))
	require.NoError(t, err)
	consent, err = f.consents.Revoke(ctx, buyer, RevokeInput{
		ConsentID:      consent.ConsentID,
		Reason:         "no longer agree",
		NotifyEndpoint: "https://hooks.example.com/down",
	})
	require.NoError(t, err)
	require.Equal(t, trade.ConsentRevoked, consent.Status)

	// The failed webhook leaves a scheduled retry behind.
	jobs, err := f.store.ListRevocationJobs(ctx, store.JobFilter{Status: revocation.JobPending})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, 1, jobs[0].Attempts)
}
