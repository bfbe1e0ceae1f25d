package offline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/ledger/internal/domain"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(context.Background(), filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func samplePayload() domain.SalePayload {
	return domain.SalePayload{
		Reference:     uuid.NewString(),
		BusinessID:    "main-business",
		TotalAmount:   decimal.RequireFromString("116.00"),
		TaxAmount:     decimal.RequireFromString("16.00"),
		PaymentMethod: domain.PaymentCash,
		StaffName:     "Kasir A",
		LineItems: []domain.LineItem{
			{ProductID: "p1", Name: "Kopi", UnitPrice: decimal.RequireFromString("116.00"), Quantity: 1, TaxClass: domain.TaxStandard},
		},
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestEnqueueRoundTripsPayload(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	payload := samplePayload()

	entry, err := q.Enqueue(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, payload.Reference, entry.LocalID)
	assert.False(t, entry.Synced)
	assert.True(t, entry.Payload.TotalAmount.Equal(payload.TotalAmount))
	assert.Equal(t, payload.LineItems[0].ProductID, entry.Payload.LineItems[0].ProductID)
	assert.True(t, entry.Payload.CreatedAt.Equal(payload.CreatedAt))
}

func TestEnqueueSameReferenceKeepsFirst(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	payload := samplePayload()

	_, err := q.Enqueue(ctx, payload)
	require.NoError(t, err)
	payload.StaffName = "someone else"
	entry, err := q.Enqueue(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, "Kasir A", entry.Payload.StaffName)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestPendingOrderedByCreation(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	refs := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		q.now = func() time.Time { return at }
		entry, err := q.Enqueue(ctx, samplePayload())
		require.NoError(t, err)
		refs = append(refs, entry.LocalID)
	}

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, entry := range pending {
		assert.Equal(t, refs[i], entry.LocalID)
	}
}

func TestMarkSyncedRemovesFromPending(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	entry, err := q.Enqueue(ctx, samplePayload())
	require.NoError(t, err)
	require.NoError(t, q.MarkSynced(ctx, entry.LocalID))

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	stored, err := q.Get(ctx, entry.LocalID)
	require.NoError(t, err)
	assert.True(t, stored.Synced)
	assert.Equal(t, entry.Payload.Reference, stored.Payload.Reference)

	assert.ErrorIs(t, q.MarkSynced(ctx, "missing"), ErrNotFound)
}

func TestPurgeOnlyRemovesOldSyncedEntries(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)

	enqueueAt := func(at time.Time) string {
		q.now = func() time.Time { return at }
		entry, err := q.Enqueue(ctx, samplePayload())
		require.NoError(t, err)
		return entry.LocalID
	}

	oldSynced := enqueueAt(now.Add(-8 * 24 * time.Hour))
	oldUnsynced := enqueueAt(now.Add(-30 * 24 * time.Hour))
	recentSynced := enqueueAt(now.Add(-6 * 24 * time.Hour))
	require.NoError(t, q.MarkSynced(ctx, oldSynced))
	require.NoError(t, q.MarkSynced(ctx, recentSynced))

	purged, err := q.Purge(ctx, now, DefaultRetention)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)

	_, err = q.Get(ctx, oldSynced)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = q.Get(ctx, oldUnsynced)
	assert.NoError(t, err)
	_, err = q.Get(ctx, recentSynced)
	assert.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Pending: 1, Synced: 1}, stats)
}

func TestConcurrentEnqueue(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Enqueue(ctx, samplePayload())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 20)
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	q, err := Open(ctx, path)
	require.NoError(t, err)
	entry, err := q.Enqueue(ctx, samplePayload())
	require.NoError(t, err)
	require.NoError(t, q.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	pending, err := reopened.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, entry.LocalID, pending[0].LocalID)
}
