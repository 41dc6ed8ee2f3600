package dispute

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/market-engine/market-engine/internal/apperr"
	"github.com/market-engine/market-engine/internal/application"
	appConsent "github.com/market-engine/market-engine/internal/application/consent"
	appDelivery "github.com/market-engine/market-engine/internal/application/delivery"
	appOffer "github.com/market-engine/market-engine/internal/application/offer"
	appOrder "github.com/market-engine/market-engine/internal/application/order"
	appRevocation "github.com/market-engine/market-engine/internal/application/revocation"
	"github.com/market-engine/market-engine/internal/auditlog"
	"github.com/market-engine/market-engine/internal/chain"
	"github.com/market-engine/market-engine/internal/domain/dispute"
	"github.com/market-engine/market-engine/internal/domain/trade"
	"github.com/market-engine/market-engine/internal/store/filestore"
	"github.com/market-engine/market-engine/internal/webhook"
)

var (
	seller  = application.Actor{ID: "alice", Role: application.RoleSeller}
	buyer   = application.Actor{ID: "bob", Role: application.RoleBuyer}
	arbiter = application.Actor{ID: "judge", Role: application.RoleArbiter}
)

type stubNotifier struct{}

func (stubNotifier) Notify(context.Context, string, webhook.Notification) error { return nil }

type fixture struct {
	disputes *Service
	store    *filestore.FileStore
	orderID  string
}

// newFixture locks a 100-unit escrow. With completed it also walks the
// order through consent and delivery, which is where a release or
// partial ruling becomes legal; a refund ruling only needs the lock.
func newFixture(t *testing.T, completed bool) *fixture {
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
	deliveries := appDelivery.NewService(fs, nil, recorder, engine, logger)

	ctx := context.Background()
	offer, err := offers.Create(ctx, seller, appOffer.CreateInput{
		AssetID:      "asset-1",
		AssetType:    trade.AssetData,
		Price:        100,
		Currency:     "USDC",
		UsageScope:   trade.UsageScope{Purpose: "analytics"},
		DeliveryType: trade.DeliveryDownload,
	})
	require.NoError(t, err)
	_, err = offers.Publish(ctx, seller, offer.OfferID)
	require.NoError(t, err)
	order, err := orders.Create(ctx, buyer, appOrder.CreateInput{OfferID: offer.OfferID, Quantity: 1})
	require.NoError(t, err)
	_, _, err = orders.LockPayment(ctx, buyer, appOrder.LockPaymentInput{OrderID: order.OrderID, Amount: "100", PaymentTx: "0xlock"})
	require.NoError(t, err)
	if completed {
		_, err = consents.Grant(ctx, buyer, appConsent.GrantInput{
			OrderID:   order.OrderID,
			Scope:     trade.ConsentScope{Purpose: "analytics"},
			Signature: "sig-1",
		})
		require.NoError(t, err)
		delivery, err := deliveries.Ready(ctx, seller, appDelivery.ReadyInput{
			OrderID: order.OrderID,
			Payload: trade.Payload{Type: trade.DeliveryDownload, DownloadURL: "https://files.example.com/a"},
		})
		require.NoError(t, err)
		_, err = deliveries.Complete(ctx, buyer, delivery.DeliveryID)
		require.NoError(t, err)
	}

	return &fixture{
		disputes: NewService(fs, recorder, logger),
		store:    fs,
		orderID:  order.OrderID,
	}
}

func TestOpen(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	d, err := f.disputes.Open(ctx, buyer, OpenInput{OrderID: f.orderID, Reason: "not as described"})
	require.NoError(t, err)
	require.Equal(t, dispute.StatusOpened, d.Status)
	require.NotEmpty(t, d.DisputeHash)

	// No second concurrent dispute.
	_, err = f.disputes.Open(ctx, seller, OpenInput{OrderID: f.orderID, Reason: "counter"})
	require.Equal(t, apperr.CodeConflict, apperr.Classify(err).Code)
}

func TestOpenOnlyParties(t *testing.T) {
	f := newFixture(t, false)

	stranger := application.Actor{ID: "mallory", Role: application.RoleBuyer}
	_, err := f.disputes.Open(context.Background(), stranger, OpenInput{OrderID: f.orderID, Reason: "nosy"})
	require.Equal(t, apperr.CodeForbidden, apperr.Classify(err).Code)
}

func TestOpenRequiresLockedSettlement(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	settlement, err := f.store.GetSettlementByOrder(ctx, f.orderID)
	require.NoError(t, err)
	settlement.Status = trade.SettlementReleased
	require.NoError(t, f.store.PutSettlement(ctx, settlement))

	_, err = f.disputes.Open(ctx, buyer, OpenInput{OrderID: f.orderID, Reason: "too late"})
	require.Equal(t, apperr.CodeConflict, apperr.Classify(err).Code)
}

func TestSubmitEvidenceKeepsHashOnly(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	d, err := f.disputes.Open(ctx, buyer, OpenInput{OrderID: f.orderID, Reason: "not as described"})
	require.NoError(t, err)

	d, err = f.disputes.SubmitEvidence(ctx, buyer, EvidenceInput{
		DisputeID:   d.DisputeID,
		Kind:        "screenshot",
		Description: "checksum mismatch",
		Content:     map[string]any{"expected": "0xaa", "got": "0xbb"},
	})
	require.NoError(t, err)
	require.Equal(t, dispute.StatusEvidenceSubmitted, d.Status)
	require.Len(t, d.Evidence, 1)
	require.NotEmpty(t, d.Evidence[0].ContentHash)

	// More evidence stacks on the same dispute.
	d, err = f.disputes.SubmitEvidence(ctx, seller, EvidenceInput{
		DisputeID: d.DisputeID,
		Kind:      "log",
		Content:   "delivery completed at 12:00",
	})
	require.NoError(t, err)
	require.Len(t, d.Evidence, 2)
}

func TestResolveRefund(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	d, err := f.disputes.Open(ctx, buyer, OpenInput{OrderID: f.orderID, Reason: "not as described"})
	require.NoError(t, err)

	// Only privileged actors may rule.
	_, err = f.disputes.Resolve(ctx, buyer, ResolveInput{DisputeID: d.DisputeID, Resolution: dispute.ResolutionRefund})
	require.Equal(t, apperr.CodeForbidden, apperr.Classify(err).Code)

	d, err = f.disputes.Resolve(ctx, arbiter, ResolveInput{
		DisputeID:  d.DisputeID,
		Resolution: dispute.ResolutionRefund,
		Note:       "seller failed to deliver",
	})
	require.NoError(t, err)
	require.Equal(t, dispute.StatusResolved, d.Status)
	require.Equal(t, dispute.ResolutionRefund, d.Resolution)

	settlement, err := f.store.GetSettlementByOrder(ctx, f.orderID)
	require.NoError(t, err)
	require.Equal(t, trade.SettlementRefunded, settlement.Status)

	// The ruling cancels the order in the same transaction.
	order, err := f.store.GetOrder(ctx, f.orderID)
	require.NoError(t, err)
	require.Equal(t, trade.SettlementCancelled, order.Status)
}

func TestResolveReleaseNeedsCompletedDelivery(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	d, err := f.disputes.Open(ctx, buyer, OpenInput{OrderID: f.orderID, Reason: "premature"})
	require.NoError(t, err)

	// The order never left payment_locked, so a release ruling has no
	// legal order transition and must fail instead of half-applying.
	_, err = f.disputes.Resolve(ctx, arbiter, ResolveInput{DisputeID: d.DisputeID, Resolution: dispute.ResolutionRelease})
	require.Equal(t, apperr.CodeConflict, apperr.Classify(err).Code)

	settlement, err := f.store.GetSettlementByOrder(ctx, f.orderID)
	require.NoError(t, err)
	require.Equal(t, trade.SettlementLocked, settlement.Status)
}

func TestResolveRelease(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	d, err := f.disputes.Open(ctx, buyer, OpenInput{OrderID: f.orderID, Reason: "buyer remorse"})
	require.NoError(t, err)

	d, err = f.disputes.Resolve(ctx, arbiter, ResolveInput{
		DisputeID:  d.DisputeID,
		Resolution: dispute.ResolutionRelease,
		Note:       "delivery was conformant",
	})
	require.NoError(t, err)
	require.Equal(t, dispute.ResolutionRelease, d.Resolution)

	settlement, err := f.store.GetSettlementByOrder(ctx, f.orderID)
	require.NoError(t, err)
	require.Equal(t, trade.SettlementReleased, settlement.Status)

	order, err := f.store.GetOrder(ctx, f.orderID)
	require.NoError(t, err)
	require.Equal(t, trade.SettlementCompleted, order.Status)
}

func TestResolvePartialSplit(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	d, err := f.disputes.Open(ctx, buyer, OpenInput{OrderID: f.orderID, Reason: "half delivered"})
	require.NoError(t, err)

	// Split must account for the whole escrow.
	_, err = f.disputes.Resolve(ctx, arbiter, ResolveInput{
		DisputeID:  d.DisputeID,
		Resolution: dispute.ResolutionPartial,
		Split:      &dispute.PartialSplit{ReleaseAmount: "60", RefundAmount: "30"},
	})
	require.Equal(t, apperr.CodeInvalidArgument, apperr.Classify(err).Code)

	d, err = f.disputes.Resolve(ctx, arbiter, ResolveInput{
		DisputeID:  d.DisputeID,
		Resolution: dispute.ResolutionPartial,
		Split:      &dispute.PartialSplit{ReleaseAmount: "60", RefundAmount: "40"},
	})
	require.NoError(t, err)
	require.Equal(t, dispute.ResolutionPartial, d.Resolution)
	require.Equal(t, "60", d.Split.ReleaseAmount)

	settlement, err := f.store.GetSettlementByOrder(ctx, f.orderID)
	require.NoError(t, err)
	require.Equal(t, trade.SettlementReleased, settlement.Status)

	order, err := f.store.GetOrder(ctx, f.orderID)
	require.NoError(t, err)
	require.Equal(t, trade.SettlementCompleted, order.Status)
}

func TestRejectLeavesEscrow(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	d, err := f.disputes.Open(ctx, buyer, OpenInput{OrderID: f.orderID, Reason: "frivolous"})
	require.NoError(t, err)

	d, err = f.disputes.Reject(ctx, arbiter, d.DisputeID, "no evidence")
	require.NoError(t, err)
	require.Equal(t, dispute.StatusRejected, d.Status)

	settlement, err := f.store.GetSettlementByOrder(ctx, f.orderID)
	require.NoError(t, err)
	require.Equal(t, trade.SettlementLocked, settlement.Status)

	// A rejected dispute is terminal.
	_, err = f.disputes.Resolve(ctx, arbiter, ResolveInput{DisputeID: d.DisputeID, Resolution: dispute.ResolutionRefund})
	require.Equal(t, apperr.CodeConflict, apperr.Classify(err).Code)
}
