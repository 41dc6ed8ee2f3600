package offer

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/market-engine/market-engine/internal/apperr"
	"github.com/market-engine/market-engine/internal/application"
	"github.com/market-engine/market-engine/internal/auditlog"
	"github.com/market-engine/market-engine/internal/chain"
	"github.com/market-engine/market-engine/internal/domain/trade"
	"github.com/market-engine/market-engine/internal/store"
	"github.com/market-engine/market-engine/internal/store/filestore"
)

var (
	seller = application.Actor{ID: "alice", Role: application.RoleSeller}
	other  = application.Actor{ID: "mallory", Role: application.RoleBuyer}
)

func newService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	fs, err := filestore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })
	recorder := auditlog.NewRecorder(fs, chain.NoopAdapter{}, zerolog.Nop())
	return NewService(fs, recorder, zerolog.Nop()), fs
}

func validInput() CreateInput {
	return CreateInput{
		AssetID:      "asset-1",
		AssetType:    trade.AssetData,
		Price:        25,
		Currency:     "USDC",
		UsageScope:   trade.UsageScope{Purpose: "analytics", DurationDays: 30},
		DeliveryType: trade.DeliveryDownload,
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"missing asset", func(in *CreateInput) { in.AssetID = "" }},
		{"bad asset type", func(in *CreateInput) { in.AssetType = "painting" }},
		{"zero price", func(in *CreateInput) { in.Price = 0 }},
		{"missing currency", func(in *CreateInput) { in.Currency = "" }},
		{"missing purpose", func(in *CreateInput) { in.UsageScope.Purpose = "" }},
		{"bad delivery type", func(in *CreateInput) { in.DeliveryType = "pigeon" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := svc.Create(ctx, seller, in)
			require.Error(t, err)
			require.Equal(t, apperr.CodeInvalidArgument, apperr.Classify(err).Code)
		})
	}
}

func TestCreateRequiresActor(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Create(context.Background(), application.Actor{}, validInput())
	require.Equal(t, apperr.CodeAuthRequired, apperr.Classify(err).Code)
}

func TestLifecycle(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, seller, validInput())
	require.NoError(t, err)
	require.Equal(t, trade.OfferCreated, created.Status)
	require.NotEmpty(t, created.OfferHash)
	require.Equal(t, seller.ID, created.SellerID)

	published, err := svc.Publish(ctx, seller, created.OfferID)
	require.NoError(t, err)
	require.Equal(t, trade.OfferPublished, published.Status)

	closed, err := svc.Close(ctx, seller, created.OfferID)
	require.NoError(t, err)
	require.Equal(t, trade.OfferClosed, closed.Status)

	// Closing again is an invalid transition.
	_, err = svc.Close(ctx, seller, created.OfferID)
	require.Equal(t, apperr.CodeConflict, apperr.Classify(err).Code)

	events, err := st.ListAudit(ctx, store.AuditFilter{RefID: created.OfferID})
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "offer_created", events[0].Kind)
	require.Equal(t, "offer_closed", events[2].Kind)
}

func TestUpdateRecomputesHash(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, seller, validInput())
	require.NoError(t, err)

	price := 40.0
	updated, err := svc.Update(ctx, seller, UpdateInput{
		OfferID: created.OfferID,
		Price:   &price,
	})
	require.NoError(t, err)
	require.Equal(t, 40.0, updated.Price)
	require.NotEqual(t, created.OfferHash, updated.OfferHash)

	// Strangers cannot update.
	_, err = svc.Update(ctx, other, UpdateInput{OfferID: created.OfferID, Currency: "EUR"})
	require.Equal(t, apperr.CodeForbidden, apperr.Classify(err).Code)

	// Closed offers reject updates.
	_, err = svc.Close(ctx, seller, created.OfferID)
	require.NoError(t, err)
	_, err = svc.Update(ctx, seller, UpdateInput{OfferID: created.OfferID, Currency: "EUR"})
	require.Equal(t, apperr.CodeConflict, apperr.Classify(err).Code)
}

func TestPublishForbiddenForStranger(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, seller, validInput())
	require.NoError(t, err)

	_, err = svc.Publish(ctx, other, created.OfferID)
	require.Equal(t, apperr.CodeForbidden, apperr.Classify(err).Code)

	// An operator can publish on the seller's behalf.
	op := application.Actor{ID: "op", Role: application.RoleOperator}
	published, err := svc.Publish(ctx, op, created.OfferID)
	require.NoError(t, err)
	require.Equal(t, trade.OfferPublished, published.Status)
}

func TestGetNotFound(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Get(context.Background(), "nope")
	require.Equal(t, apperr.CodeNotFound, apperr.Classify(err).Code)
}

func TestListFiltersByStatus(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, seller, validInput())
	require.NoError(t, err)
	_, err = svc.Create(ctx, seller, validInput())
	require.NoError(t, err)
	_, err = svc.Publish(ctx, seller, a.OfferID)
	require.NoError(t, err)

	published, err := svc.List(ctx, store.OfferFilter{Status: trade.OfferPublished})
	require.NoError(t, err)
	require.Len(t, published, 1)
	require.Equal(t, a.OfferID, published[0].OfferID)
}
