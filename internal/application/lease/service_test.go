package lease

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/market-engine/market-engine/internal/apperr"
	"github.com/market-engine/market-engine/internal/application"
	appResource "github.com/market-engine/market-engine/internal/application/resource"
	appRevocation "github.com/market-engine/market-engine/internal/application/revocation"
	"github.com/market-engine/market-engine/internal/auditlog"
	"github.com/market-engine/market-engine/internal/chain"
	"github.com/market-engine/market-engine/internal/domain/resource"
	"github.com/market-engine/market-engine/internal/store"
	"github.com/market-engine/market-engine/internal/store/filestore"
	"github.com/market-engine/market-engine/internal/webhook"
)

var (
	owner    = application.Actor{ID: "alice", Role: application.RoleSeller}
	consumer = application.Actor{ID: "bob", Role: application.RoleBuyer}
)

type stubNotifier struct{ calls int }

func (n *stubNotifier) Notify(context.Context, string, webhook.Notification) error {
	n.calls++
	return nil
}

type fixture struct {
	leases     *Service
	store      *filestore.FileStore
	notifier   *stubNotifier
	resourceID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs, err := filestore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })
	logger := zerolog.Nop()
	recorder := auditlog.NewRecorder(fs, chain.NewMemoryAdapter("testnet"), logger)
	notifier := &stubNotifier{}
	engine := appRevocation.NewEngine(fs, notifier, recorder, logger)

	resources := appResource.NewService(fs, recorder, logger)
	ctx := context.Background()
	r, err := resources.Register(ctx, owner, appResource.RegisterInput{
		Kind:     "api",
		Name:     "quotes",
		Pricing:  resource.Pricing{PricePerCall: 0.25, Currency: "USDC"},
		MaxQuota: 100,
	})
	require.NoError(t, err)
	_, err = resources.Publish(ctx, owner, r.ResourceID)
	require.NoError(t, err)

	return &fixture{
		leases:     NewService(fs, recorder, engine, logger),
		store:      fs,
		notifier:   notifier,
		resourceID: r.ResourceID,
	}
}

func TestIssueAndVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.leases.Issue(ctx, consumer, IssueInput{ResourceID: f.resourceID, Quota: 50, DurationDays: 7})
	require.NoError(t, err)
	require.Len(t, issued.Token, 64)
	require.Equal(t, resource.LeaseActive, issued.Lease.Status)
	// Only the hash is stored.
	require.NotEqual(t, issued.Token, issued.Lease.TokenHash)

	lease, err := f.leases.Verify(ctx, issued.Token)
	require.NoError(t, err)
	require.Equal(t, issued.Lease.LeaseID, lease.LeaseID)

	_, err = f.leases.Verify(ctx, "bogus-token")
	require.Equal(t, apperr.CodeForbidden, apperr.Classify(err).Code)
}

func TestIssueRespectsMaxQuota(t *testing.T) {
	f := newFixture(t)

	_, err := f.leases.Issue(context.Background(), consumer, IssueInput{ResourceID: f.resourceID, Quota: 500, DurationDays: 7})
	require.Equal(t, apperr.CodeInvalidArgument, apperr.Classify(err).Code)
}

func TestIssueRequiresPublishedResource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.store.GetResource(ctx, f.resourceID)
	require.NoError(t, err)
	r.Status = resource.StatusUnpublished
	require.NoError(t, f.store.PutResource(ctx, r))

	_, err = f.leases.Issue(ctx, consumer, IssueInput{ResourceID: f.resourceID, Quota: 10, DurationDays: 7})
	require.Equal(t, apperr.CodeConflict, apperr.Classify(err).Code)
}

func TestRecordUsageMetersLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.leases.Issue(ctx, consumer, IssueInput{ResourceID: f.resourceID, Quota: 20, DurationDays: 7})
	require.NoError(t, err)

	entry, err := f.leases.RecordUsage(ctx, UsageInput{Token: issued.Token, Units: 8})
	require.NoError(t, err)
	require.Equal(t, 8, entry.Units)
	require.InDelta(t, 2.0, entry.Cost, 1e-9)
	require.Equal(t, "USDC", entry.Currency)

	lease, err := f.store.GetLease(ctx, issued.Lease.LeaseID)
	require.NoError(t, err)
	require.Equal(t, 8, lease.Used)
	require.Equal(t, 12, lease.Remaining())

	// Units beyond the remaining quota are rejected.
	_, err = f.leases.RecordUsage(ctx, UsageInput{Token: issued.Token, Units: 13})
	require.Equal(t, apperr.CodeQuotaExceeded, apperr.Classify(err).Code)

	entries, err := f.store.ListLedger(ctx, store.LedgerFilter{LeaseID: issued.Lease.LeaseID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestQuotaExhaustionBlocksVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.leases.Issue(ctx, consumer, IssueInput{ResourceID: f.resourceID, Quota: 5, DurationDays: 7})
	require.NoError(t, err)
	_, err = f.leases.RecordUsage(ctx, UsageInput{Token: issued.Token, Units: 5})
	require.NoError(t, err)

	_, err = f.leases.Verify(ctx, issued.Token)
	require.Equal(t, apperr.CodeQuotaExceeded, apperr.Classify(err).Code)
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.leases.Issue(ctx, consumer, IssueInput{ResourceID: f.resourceID, Quota: 10, DurationDays: 7})
	require.NoError(t, err)

	// Only the resource owner may revoke.
	_, err = f.leases.Revoke(ctx, consumer, RevokeInput{LeaseID: issued.Lease.LeaseID, Reason: "mine"})
	require.Equal(t, apperr.CodeForbidden, apperr.Classify(err).Code)

	lease, err := f.leases.Revoke(ctx, owner, RevokeInput{
		LeaseID:        issued.Lease.LeaseID,
		Reason:         "abuse",
		NotifyEndpoint: "https://hooks.example.com/lease",
	})
	require.NoError(t, err)
	require.Equal(t, resource.LeaseRevoked, lease.Status)
	require.Equal(t, 1, f.notifier.calls)

	_, err = f.leases.Verify(ctx, issued.Token)
	require.Equal(t, apperr.CodeRevoked, apperr.Classify(err).Code)
}

func TestExpireSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.leases.Issue(ctx, consumer, IssueInput{ResourceID: f.resourceID, Quota: 10, DurationDays: 7})
	require.NoError(t, err)

	lease, err := f.store.GetLease(ctx, issued.Lease.LeaseID)
	require.NoError(t, err)
	lease.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, f.store.PutLease(ctx, lease))

	expired, err := f.leases.ExpireSweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	lease, err = f.store.GetLease(ctx, issued.Lease.LeaseID)
	require.NoError(t, err)
	require.Equal(t, resource.LeaseExpired, lease.Status)

	_, err = f.leases.Verify(ctx, issued.Token)
	require.Equal(t, apperr.CodeExpired, apperr.Classify(err).Code)
}
