package delivery

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/market-engine/market-engine/internal/apperr"
	"github.com/market-engine/market-engine/internal/application"
	appConsent "github.com/market-engine/market-engine/internal/application/consent"
	appOffer "github.com/market-engine/market-engine/internal/application/offer"
	appOrder "github.com/market-engine/market-engine/internal/application/order"
	appRevocation "github.com/market-engine/market-engine/internal/application/revocation"
	"github.com/market-engine/market-engine/internal/auditlog"
	"github.com/market-engine/market-engine/internal/blob"
	"github.com/market-engine/market-engine/internal/chain"
	"github.com/market-engine/market-engine/internal/domain/trade"
	"github.com/market-engine/market-engine/internal/store/filestore"
	"github.com/market-engine/market-engine/internal/webhook"
)

var (
	seller = application.Actor{ID: "alice", Role: application.RoleSeller}
	buyer  = application.Actor{ID: "bob", Role: application.RoleBuyer}
)

type stubNotifier struct{}

func (stubNotifier) Notify(context.Context, string, webhook.Notification) error { return nil }

type fixture struct {
	deliveries *Service
	store      *filestore.FileStore
	orderID    string
}

func newFixture(t *testing.T, blobs blob.Store) *fixture {
	t.Helper()
	fs, err := filestore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })
	logger := zerolog.Nop()
	recorder := auditlog.NewRecorder(fs, chain.NewMemoryAdapter("testnet"), logger)
	engine := appRevocation.NewEngine(fs, stubNotifier{}, recorder, logger)

	offers := appOffer.NewService(fs, recorder, logger)
	orders := appOrder.NewService(fs, recorder, logger)
	consents := appConsent.NewService(fs, recorder, engine, logger)

	ctx := context.Background()
	offer, err := offers.Create(ctx, seller, appOffer.CreateInput{
		AssetID:      "asset-1",
		AssetType:    trade.AssetData,
		Price:        10,
		Currency:     "USDC",
		UsageScope:   trade.UsageScope{Purpose: "analytics"},
		DeliveryType: trade.DeliveryDownload,
	})
	require.NoError(t, err)
	_, err = offers.Publish(ctx, seller, offer.OfferID)
	require.NoError(t, err)
	order, err := orders.Create(ctx, buyer, appOrder.CreateInput{OfferID: offer.OfferID, Quantity: 1})
	require.NoError(t, err)
	_, _, err = orders.LockPayment(ctx, buyer, appOrder.LockPaymentInput{OrderID: order.OrderID, Amount: "1000", PaymentTx: "0xlock"})
	require.NoError(t, err)
	_, err = consents.Grant(ctx, buyer, appConsent.GrantInput{
		OrderID:   order.OrderID,
		Scope:     trade.ConsentScope{Purpose: "analytics"},
		Signature: "sig-1",
	})
	require.NoError(t, err)

	return &fixture{
		deliveries: NewService(fs, blobs, recorder, engine, logger),
		store:      fs,
		orderID:    order.OrderID,
	}
}

func downloadPayload() trade.Payload {
	return trade.Payload{Type: trade.DeliveryDownload, DownloadURL: "https://files.example.com/asset-1"}
}

func TestReadyInlinePayload(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	delivery, err := f.deliveries.Ready(ctx, seller, ReadyInput{OrderID: f.orderID, Payload: downloadPayload()})
	require.NoError(t, err)
	require.Equal(t, trade.DeliveryReady, delivery.Status)
	require.NotNil(t, delivery.Payload)
	require.Nil(t, delivery.PayloadRef)

	order, err := f.store.GetOrder(ctx, f.orderID)
	require.NoError(t, err)
	require.Equal(t, trade.DeliveryReadyOrder, order.Status)

	// One delivery per order.
	_, err = f.deliveries.Ready(ctx, seller, ReadyInput{OrderID: f.orderID, Payload: downloadPayload()})
	require.Equal(t, apperr.CodeConflict, apperr.Classify(err).Code)
}

func TestReadyPayloadTypeMustMatchOffer(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.deliveries.Ready(context.Background(), seller, ReadyInput{
		OrderID: f.orderID,
		Payload: trade.Payload{Type: trade.DeliveryAPI, AccessToken: "tok"},
	})
	require.Equal(t, apperr.CodeInvalidArgument, apperr.Classify(err).Code)
}

func TestReadyOnlySeller(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.deliveries.Ready(context.Background(), buyer, ReadyInput{OrderID: f.orderID, Payload: downloadPayload()})
	require.Equal(t, apperr.CodeForbidden, apperr.Classify(err).Code)
}

func TestBlobOffloadAndReveal(t *testing.T) {
	blobs, err := blob.NewFileStore(t.TempDir(), "test-secret")
	require.NoError(t, err)
	f := newFixture(t, blobs)
	ctx := context.Background()

	delivery, err := f.deliveries.Ready(ctx, seller, ReadyInput{OrderID: f.orderID, Payload: downloadPayload()})
	require.NoError(t, err)
	require.Nil(t, delivery.Payload)
	require.NotNil(t, delivery.PayloadRef)
	require.Equal(t, "file", delivery.PayloadRef.Store)

	payload, err := f.deliveries.Reveal(ctx, buyer, delivery.DeliveryID)
	require.NoError(t, err)
	require.Equal(t, "https://files.example.com/asset-1", payload.DownloadURL)

	_, err = f.deliveries.Reveal(ctx, seller, delivery.DeliveryID)
	require.Equal(t, apperr.CodeForbidden, apperr.Classify(err).Code)
}

func TestCompleteMovesOrderForward(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	delivery, err := f.deliveries.Ready(ctx, seller, ReadyInput{OrderID: f.orderID, Payload: downloadPayload()})
	require.NoError(t, err)

	delivery, err = f.deliveries.Complete(ctx, buyer, delivery.DeliveryID)
	require.NoError(t, err)
	require.Equal(t, trade.DeliveryComplete, delivery.Status)

	order, err := f.store.GetOrder(ctx, f.orderID)
	require.NoError(t, err)
	require.Equal(t, trade.DeliveryCompleted, order.Status)
}

func TestRevokeBlocksReveal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	delivery, err := f.deliveries.Ready(ctx, seller, ReadyInput{OrderID: f.orderID, Payload: downloadPayload()})
	require.NoError(t, err)

	delivery, err = f.deliveries.Revoke(ctx, seller, RevokeInput{DeliveryID: delivery.DeliveryID, Reason: "leak"})
	require.NoError(t, err)
	require.Equal(t, trade.DeliveryRevoked, delivery.Status)
	require.NotEmpty(t, delivery.RevokeHash)

	_, err = f.deliveries.Reveal(ctx, buyer, delivery.DeliveryID)
	require.Equal(t, apperr.CodeRevoked, apperr.Classify(err).Code)

	// A completed delivery cannot be revoked afterwards.
	_, err = f.deliveries.Complete(ctx, buyer, delivery.DeliveryID)
	require.Equal(t, apperr.CodeConflict, apperr.Classify(err).Code)
}
