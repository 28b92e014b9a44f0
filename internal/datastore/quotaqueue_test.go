package datastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueQuotaRetryIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	a := seedAttraction(t, store, "louvre")

	retryAt := time.Now().Add(time.Hour)
	require.NoError(t, store.EnqueueQuotaRetry(a.ID, KindVideos, "youtube", retryAt))
	require.NoError(t, store.EnqueueQuotaRetry(a.ID, KindVideos, "youtube", retryAt.Add(time.Hour)))

	var count int64
	require.NoError(t, store.DB.Model(&QuotaRetryEntry{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "repeated quota errors must not duplicate queue entries")
}

func TestClaimDueQuotaRetriesFIFO(t *testing.T) {
	store := newTestStore(t)
	a := seedAttraction(t, store, "louvre")
	b := seedAttraction(t, store, "notre dame")

	past := time.Now().Add(-time.Minute)
	require.NoError(t, store.EnqueueQuotaRetry(a.ID, KindVideos, "youtube", past))
	time.Sleep(5 * time.Millisecond) // created_at must order the two entries
	require.NoError(t, store.EnqueueQuotaRetry(b.ID, KindVideos, "youtube", past))
	require.NoError(t, store.EnqueueQuotaRetry(a.ID, KindReviews, "places", past))

	claimed, err := store.ClaimDueQuotaRetries("youtube", time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2, "only the requested provider's entries are claimed")
	assert.Equal(t, a.ID, claimed[0].AttractionID, "oldest entry first")
	assert.Equal(t, QuotaRetryProcessing, claimed[0].Status)

	// Already-processing entries are not claimable again.
	again, err := store.ClaimDueQuotaRetries("youtube", time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestClaimDueQuotaRetriesSkipsFuture(t *testing.T) {
	store := newTestStore(t)
	a := seedAttraction(t, store, "louvre")

	require.NoError(t, store.EnqueueQuotaRetry(a.ID, KindVideos, "youtube", time.Now().Add(time.Hour)))

	claimed, err := store.ClaimDueQuotaRetries("youtube", time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed, "entries inside the quota window must wait")
}

func TestRescheduleQuotaRetryIncrementsCount(t *testing.T) {
	store := newTestStore(t)
	a := seedAttraction(t, store, "louvre")

	require.NoError(t, store.EnqueueQuotaRetry(a.ID, KindVideos, "youtube", time.Now().Add(-time.Minute)))
	claimed, err := store.ClaimDueQuotaRetries("youtube", time.Now(), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, store.RescheduleQuotaRetry(claimed[0].ID, time.Now().Add(2*time.Hour)))

	var entry QuotaRetryEntry
	require.NoError(t, store.DB.First(&entry, claimed[0].ID).Error)
	assert.Equal(t, QuotaRetryPending, entry.Status)
	assert.Equal(t, 1, entry.RetryCount)
}

func TestCompleteQuotaRetryRemovesEntry(t *testing.T) {
	store := newTestStore(t)
	a := seedAttraction(t, store, "louvre")

	require.NoError(t, store.EnqueueQuotaRetry(a.ID, KindVideos, "youtube", time.Now().Add(-time.Minute)))
	claimed, err := store.ClaimDueQuotaRetries("youtube", time.Now(), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, store.CompleteQuotaRetry(claimed[0].ID))

	var count int64
	require.NoError(t, store.DB.Model(&QuotaRetryEntry{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestEnqueueRevivesFailedEntry(t *testing.T) {
	store := newTestStore(t)
	a := seedAttraction(t, store, "louvre")

	require.NoError(t, store.EnqueueQuotaRetry(a.ID, KindVideos, "youtube", time.Now().Add(-time.Minute)))
	claimed, err := store.ClaimDueQuotaRetries("youtube", time.Now(), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, store.FailQuotaRetry(claimed[0].ID))

	// A later quota error for the same tuple must be queueable again.
	retryAt := time.Now().Add(time.Hour)
	require.NoError(t, store.EnqueueQuotaRetry(a.ID, KindVideos, "youtube", retryAt))

	var entries []QuotaRetryEntry
	require.NoError(t, store.DB.Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, QuotaRetryPending, entries[0].Status)
	assert.Equal(t, 0, entries[0].RetryCount, "a revived entry starts a fresh retry cycle")
	assert.WithinDuration(t, retryAt, entries[0].NextRetryAt, time.Second)
}

func TestFailQuotaRetryIsTerminal(t *testing.T) {
	store := newTestStore(t)
	a := seedAttraction(t, store, "louvre")

	require.NoError(t, store.EnqueueQuotaRetry(a.ID, KindVideos, "youtube", time.Now().Add(-time.Minute)))
	claimed, err := store.ClaimDueQuotaRetries("youtube", time.Now(), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, store.FailQuotaRetry(claimed[0].ID))

	again, err := store.ClaimDueQuotaRetries("youtube", time.Now().Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, again, "failed entries must never be claimed again")
}
