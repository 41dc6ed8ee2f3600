// Package storetest holds the behavioral suite both persistence
// backends must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/market-engine/market-engine/internal/domain/audit"
	"github.com/market-engine/market-engine/internal/domain/revocation"
	"github.com/market-engine/market-engine/internal/domain/reward"
	"github.com/market-engine/market-engine/internal/domain/trade"
	"github.com/market-engine/market-engine/internal/store"
)

// Run executes the suite against a fresh store per subtest.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("OfferRoundTrip", func(t *testing.T) { testOfferRoundTrip(t, open(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, open(t)) })
	t.Run("ListFilters", func(t *testing.T) { testListFilters(t, open(t)) })
	t.Run("ByOrderLookups", func(t *testing.T) { testByOrderLookups(t, open(t)) })
	t.Run("NonceInsertOnce", func(t *testing.T) { testNonceInsertOnce(t, open(t)) })
	t.Run("TransactionRollsBackAllWrites", func(t *testing.T) { testTxRollback(t, open(t)) })
	t.Run("NestedTransactionJoinsOuter", func(t *testing.T) { testNestedTx(t, open(t)) })
	t.Run("TransactionCommits", func(t *testing.T) { testTxCommit(t, open(t)) })
	t.Run("AuditAppendAndChainHead", func(t *testing.T) { testAudit(t, open(t)) })
	t.Run("RevocationJobsDueFilter", func(t *testing.T) { testJobFilter(t, open(t)) })
	t.Run("PendingAnchorQueue", func(t *testing.T) { testPendingAnchors(t, open(t)) })
}

func sampleOffer(id, seller string, status trade.OfferStatus) *trade.Offer {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &trade.Offer{
		OfferID:      id,
		SellerID:     seller,
		AssetID:      "asset-1",
		AssetType:    trade.AssetData,
		Price:        100,
		Currency:     "USDC",
		UsageScope:   trade.UsageScope{Purpose: "analytics"},
		DeliveryType: trade.DeliveryDownload,
		Status:       status,
		OfferHash:    "0xabc",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func testOfferRoundTrip(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	offer := sampleOffer("offer-1", "seller-1", trade.OfferCreated)
	require.NoError(t, s.PutOffer(ctx, offer))

	got, err := s.GetOffer(ctx, "offer-1")
	require.NoError(t, err)
	assert.Equal(t, offer.SellerID, got.SellerID)
	assert.Equal(t, offer.Status, got.Status)
	assert.True(t, offer.CreatedAt.Equal(got.CreatedAt))

	offer.Status = trade.OfferPublished
	require.NoError(t, s.PutOffer(ctx, offer))
	got, err = s.GetOffer(ctx, "offer-1")
	require.NoError(t, err)
	assert.Equal(t, trade.OfferPublished, got.Status)
}

func testNotFound(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	_, err := s.GetOffer(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetLease(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetGrant(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testListFilters(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.PutOffer(ctx, sampleOffer("offer-1", "seller-1", trade.OfferPublished)))
	require.NoError(t, s.PutOffer(ctx, sampleOffer("offer-2", "seller-1", trade.OfferCreated)))
	require.NoError(t, s.PutOffer(ctx, sampleOffer("offer-3", "seller-2", trade.OfferPublished)))

	published, err := s.ListOffers(ctx, store.OfferFilter{Status: trade.OfferPublished})
	require.NoError(t, err)
	assert.Len(t, published, 2)

	mine, err := s.ListOffers(ctx, store.OfferFilter{SellerID: "seller-1"})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	both, err := s.ListOffers(ctx, store.OfferFilter{SellerID: "seller-1", Status: trade.OfferPublished})
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.Equal(t, "offer-1", both[0].OfferID)
}

func testByOrderLookups(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.PutConsent(ctx, &trade.Consent{
		ConsentID: "consent-1", OrderID: "order-1",
		Status: trade.ConsentGranted, GrantedAt: now,
	}))
	require.NoError(t, s.PutSettlement(ctx, &trade.Settlement{
		SettlementID: "settlement-1", OrderID: "order-1",
		Status: trade.SettlementLocked, Amount: "100",
	}))

	c, err := s.GetConsentByOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "consent-1", c.ConsentID)

	st, err := s.GetSettlementByOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "settlement-1", st.SettlementID)

	_, err = s.GetConsentByOrder(ctx, "order-2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testNonceInsertOnce(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	id := reward.NonceID("evm", "base-sepolia", "0xabc", "1")
	n := &reward.Nonce{NonceID: id, GrantID: "grant-1", IssuedAt: time.Now().UTC()}
	require.NoError(t, s.PutNonce(ctx, id, n))
	err := s.PutNonce(ctx, id, &reward.Nonce{NonceID: id, GrantID: "grant-2", IssuedAt: time.Now().UTC()})
	assert.ErrorIs(t, err, store.ErrNonceExists)

	got, err := s.GetNonce(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "grant-1", got.GrantID)
}

func testTxRollback(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.PutOffer(ctx, sampleOffer("offer-1", "seller-1", trade.OfferPublished)))

	boom := errors.New("boom")
	err := s.Transaction(ctx, func(ctx context.Context) error {
		o, err := s.GetOffer(ctx, "offer-1")
		if err != nil {
			return err
		}
		o.Status = trade.OfferClosed
		if err := s.PutOffer(ctx, o); err != nil {
			return err
		}
		if err := s.PutOrder(ctx, &trade.Order{
			OrderID: "order-1", OfferID: "offer-1", BuyerID: "buyer-1",
			Quantity: 1, Status: trade.OrderCreated,
			CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	o, err := s.GetOffer(ctx, "offer-1")
	require.NoError(t, err)
	assert.Equal(t, trade.OfferPublished, o.Status)
	_, err = s.GetOrder(ctx, "order-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testNestedTx(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	boom := errors.New("inner boom")
	err := s.Transaction(ctx, func(ctx context.Context) error {
		if err := s.PutOffer(ctx, sampleOffer("offer-1", "seller-1", trade.OfferCreated)); err != nil {
			return err
		}
		return s.Transaction(ctx, func(ctx context.Context) error {
			if err := s.PutOffer(ctx, sampleOffer("offer-2", "seller-1", trade.OfferCreated)); err != nil {
				return err
			}
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)

	// The inner scope joins the outer one, so both writes are gone.
	_, err = s.GetOffer(ctx, "offer-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetOffer(ctx, "offer-2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testTxCommit(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	err := s.Transaction(ctx, func(ctx context.Context) error {
		if err := s.PutOffer(ctx, sampleOffer("offer-1", "seller-1", trade.OfferPublished)); err != nil {
			return err
		}
		return s.PutOrder(ctx, &trade.Order{
			OrderID: "order-1", OfferID: "offer-1", BuyerID: "buyer-1",
			Quantity: 1, Status: trade.OrderCreated,
			CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		})
	})
	require.NoError(t, err)

	_, err = s.GetOffer(ctx, "offer-1")
	assert.NoError(t, err)
	_, err = s.GetOrder(ctx, "order-1")
	assert.NoError(t, err)
}

func testAudit(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	head, err := s.LastChainHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, audit.GenesisPrev, head)

	first := &audit.Event{
		EventID: "evt-1", Kind: "offer_created", RefID: "offer-1",
		Hash: "0x1", Timestamp: time.Now().UTC(), Prev: head,
	}
	first.ChainHash, err = audit.ComputeChainHash(*first)
	require.NoError(t, err)
	require.NoError(t, s.AppendAudit(ctx, first))

	head, err = s.LastChainHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ChainHash, head)

	second := &audit.Event{
		EventID: "evt-2", Kind: "offer_published", RefID: "offer-1",
		Hash: "0x2", Timestamp: time.Now().UTC(), Prev: head,
	}
	second.ChainHash, err = audit.ComputeChainHash(*second)
	require.NoError(t, err)
	require.NoError(t, s.AppendAudit(ctx, second))

	events, err := s.ListAudit(ctx, store.AuditFilter{RefID: "offer-1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "evt-1", events[0].EventID)
	assert.Equal(t, events[0].ChainHash, events[1].Prev)

	byKind, err := s.ListAudit(ctx, store.AuditFilter{Kind: "offer_published"})
	require.NoError(t, err)
	require.Len(t, byKind, 1)
	assert.Equal(t, "evt-2", byKind[0].EventID)
}

func testJobFilter(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	now := time.Now().UTC()
	mk := func(id string, status revocation.JobStatus, next time.Time) *revocation.Job {
		return &revocation.Job{
			JobID: id, TargetKind: revocation.TargetConsent, TargetID: "consent-1",
			Endpoint: "https://example.com/hook", Status: status,
			Attempts: 1, MaxAttempts: 3, NextAttemptAt: next,
			CreatedAt: now, UpdatedAt: now,
		}
	}
	require.NoError(t, s.PutRevocationJob(ctx, mk("job-due", revocation.JobPending, now.Add(-time.Minute))))
	require.NoError(t, s.PutRevocationJob(ctx, mk("job-later", revocation.JobPending, now.Add(time.Hour))))
	require.NoError(t, s.PutRevocationJob(ctx, mk("job-done", revocation.JobFailed, now.Add(-time.Hour))))

	due, err := s.ListRevocationJobs(ctx, store.JobFilter{Status: revocation.JobPending, DueBefore: now})
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "job-due", due[0].JobID)

	require.NoError(t, s.DeleteRevocationJob(ctx, "job-due"))
	_, err = s.GetRevocationJob(ctx, "job-due")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testPendingAnchors(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.PutPendingAnchor(ctx, &audit.PendingAnchor{
		AnchorID: "anchor-2", PayloadHash: "0x2", CreatedAt: now.Add(time.Second),
	}))
	require.NoError(t, s.PutPendingAnchor(ctx, &audit.PendingAnchor{
		AnchorID: "anchor-1", PayloadHash: "0x1", CreatedAt: now,
	}))

	anchors, err := s.ListPendingAnchors(ctx)
	require.NoError(t, err)
	require.Len(t, anchors, 2)
	assert.Equal(t, "anchor-1", anchors[0].AnchorID)

	require.NoError(t, s.DeletePendingAnchor(ctx, "anchor-1"))
	anchors, err = s.ListPendingAnchors(ctx)
	require.NoError(t, err)
	require.Len(t, anchors, 1)
}
