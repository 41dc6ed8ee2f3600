package auditlog

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/market-engine/market-engine/internal/chain"
	"github.com/market-engine/market-engine/internal/store"
	"github.com/market-engine/market-engine/internal/store/filestore"
)

func newRecorder(t *testing.T, adapter chain.Adapter) (*Recorder, store.Store) {
	s, err := filestore.Open(t.TempDir())
	require.NoError(t, err)
	return NewRecorder(s, adapter, zerolog.Nop()), s
}

func TestRecordChainsEvents(t *testing.T) {
	r, s := newRecorder(t, chain.NoopAdapter{})
	ctx := context.Background()

	first, err := r.Record(ctx, "offer_created", "offer-1", "seller-1", map[string]any{"offerId": "offer-1"}, nil)
	require.NoError(t, err)
	second, err := r.Record(ctx, "offer_published", "offer-1", "seller-1", map[string]any{"offerId": "offer-1"}, nil)
	require.NoError(t, err)

	assert.Equal(t, first.ChainHash, second.Prev)

	report, err := r.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 2, report.Length)

	events, err := s.ListAudit(ctx, store.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestRecordWithAnchorSuccess(t *testing.T) {
	adapter := chain.NewMemoryAdapter("base-sepolia")
	r, _ := newRecorder(t, adapter)

	event, err := r.RecordWithAnchor(context.Background(), "settlement_released", "settlement-1", "system",
		map[string]any{"settlementId": "settlement-1"}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, event.AnchorTx)
	assert.Len(t, adapter.Anchored(), 1)
}

func TestRecordWithAnchorFailureQueues(t *testing.T) {
	adapter := chain.NewMemoryAdapter("base-sepolia")
	adapter.Fail = true
	r, s := newRecorder(t, adapter)
	ctx := context.Background()

	event, err := r.RecordWithAnchor(ctx, "settlement_released", "settlement-1", "system",
		map[string]any{"settlementId": "settlement-1"}, nil)
	require.NoError(t, err)
	assert.Empty(t, event.AnchorTx)
	assert.Contains(t, event.Details, "anchorError")

	pending, err := s.ListPendingAnchors(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, event.ChainHash, pending[0].PayloadHash)

	// The local chain must stay verifiable despite the anchor failure.
	report, err := r.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid)
}

func TestFlushPendingAnchors(t *testing.T) {
	adapter := chain.NewMemoryAdapter("base-sepolia")
	adapter.Fail = true
	r, s := newRecorder(t, adapter)
	ctx := context.Background()

	_, err := r.RecordWithAnchor(ctx, "consent_revoked", "consent-1", "buyer-1", map[string]any{"consentId": "consent-1"}, nil)
	require.NoError(t, err)

	// Still failing: attempts go up, the queue does not drain.
	flushed, err := r.FlushPendingAnchors(ctx)
	require.NoError(t, err)
	assert.Zero(t, flushed)
	pending, err := s.ListPendingAnchors(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Attempts)

	adapter.Fail = false
	flushed, err = r.FlushPendingAnchors(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flushed)
	pending, err = s.ListPendingAnchors(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestVerifyChainDetectsTamper(t *testing.T) {
	r, s := newRecorder(t, chain.NoopAdapter{})
	ctx := context.Background()

	_, err := r.Record(ctx, "order_created", "order-1", "buyer-1", map[string]any{"orderId": "order-1"}, nil)
	require.NoError(t, err)

	// Append an event that does not link to the head.
	events, err := s.ListAudit(ctx, store.AuditFilter{})
	require.NoError(t, err)
	forged := *events[0]
	forged.EventID = "forged"
	forged.Prev = "0xbogus"
	require.NoError(t, s.AppendAudit(ctx, &forged))

	report, err := r.VerifyChain(ctx)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, "forged", report.BrokenAt)
}
