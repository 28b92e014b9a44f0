package datastore

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyboard/enrich-go/internal/conf"
)

// newTestStore opens a SQLite store in a temp directory with the full schema
// migrated.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "test.db")

	store := &SQLiteStore{Settings: settings}
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedAttraction(t *testing.T, store *SQLiteStore, name string) *Attraction {
	t.Helper()
	city, err := store.GetOrCreateCity("Paris", "France", 48.8566, 2.3522)
	require.NoError(t, err)
	a := &Attraction{
		CityID:         city.ID,
		Name:           name,
		NormalizedName: name,
		Latitude:       48.8584,
		Longitude:      2.2945,
	}
	require.NoError(t, store.InsertAttraction(a))
	return a
}

func TestGetOrCreateFetchStateIsSingleRow(t *testing.T) {
	store := newTestStore(t)
	a := seedAttraction(t, store, "eiffel tower")

	first, err := store.GetOrCreateFetchState(a.ID, KindReviews, 20, 3)
	require.NoError(t, err)
	assert.Equal(t, FetchPending, first.Status)
	assert.Equal(t, 20, first.ItemsTarget)

	second, err := store.GetOrCreateFetchState(a.ID, KindReviews, 99, 9)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same pair must reuse the existing row")
	assert.Equal(t, 20, second.ItemsTarget, "existing row attributes must not change")
}

func TestClaimFetchStateIsExclusive(t *testing.T) {
	store := newTestStore(t)
	a := seedAttraction(t, store, "eiffel tower")
	_, err := store.GetOrCreateFetchState(a.ID, KindReviews, 20, 3)
	require.NoError(t, err)

	const claimers = 8
	var wg sync.WaitGroup
	won := make(chan *FetchState, claimers)
	now := time.Now()
	for range claimers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, err := store.ClaimFetchState(a.ID, KindReviews, now)
			assert.NoError(t, err)
			if state != nil {
				won <- state
			}
		}()
	}
	wg.Wait()
	close(won)

	winners := 0
	for range won {
		winners++
	}
	assert.Equal(t, 1, winners, "exactly one concurrent claim must win")
}

func TestClaimFetchStateSkipsNotDue(t *testing.T) {
	store := newTestStore(t)
	a := seedAttraction(t, store, "louvre")
	state, err := store.GetOrCreateFetchState(a.ID, KindPhotos, 8, 3)
	require.NoError(t, err)

	state.Status = FetchRateLimited
	state.NextRunAt = time.Now().Add(time.Hour)
	require.NoError(t, store.CommitFetchState(state))

	claimed, err := store.ClaimFetchState(a.ID, KindPhotos, time.Now())
	require.NoError(t, err)
	assert.Nil(t, claimed, "a row parked in the future must not be claimable")
}

func TestClaimFetchStateSkipsTerminal(t *testing.T) {
	store := newTestStore(t)
	a := seedAttraction(t, store, "louvre")
	state, err := store.GetOrCreateFetchState(a.ID, KindPhotos, 8, 3)
	require.NoError(t, err)

	for _, status := range []FetchStatus{FetchDone, FetchFailed, FetchPaused} {
		state.Status = status
		state.NextRunAt = time.Now().Add(-time.Minute)
		require.NoError(t, store.CommitFetchState(state))

		claimed, err := store.ClaimFetchState(a.ID, KindPhotos, time.Now())
		require.NoError(t, err)
		assert.Nil(t, claimed, "terminal status %s must not be claimable", status)
	}
}

func TestCommitFetchStateRoundTrip(t *testing.T) {
	store := newTestStore(t)
	a := seedAttraction(t, store, "louvre")
	_, err := store.GetOrCreateFetchState(a.ID, KindVideos, 6, 3)
	require.NoError(t, err)

	claimed, err := store.ClaimFetchState(a.ID, KindVideos, time.Now())
	require.NoError(t, err)
	require.NotNil(t, claimed)

	claimed.Provider = "youtube"
	claimed.ItemsCollected = 4
	claimed.Cursor = "page-token-2"
	claimed.Status = FetchPending
	claimed.NextRunAt = time.Now()
	require.NoError(t, store.CommitFetchState(claimed))

	reloaded, err := store.ClaimFetchState(a.ID, KindVideos, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, reloaded, "committed pending row must be claimable again")
	assert.Equal(t, "youtube", reloaded.Provider)
	assert.Equal(t, 4, reloaded.ItemsCollected)
	assert.Equal(t, "page-token-2", reloaded.Cursor)
}

func TestResetStaleFetchRuns(t *testing.T) {
	store := newTestStore(t)
	a := seedAttraction(t, store, "louvre")
	state, err := store.GetOrCreateFetchState(a.ID, KindNearby, 10, 3)
	require.NoError(t, err)

	claimed, err := store.ClaimFetchState(a.ID, KindNearby, time.Now())
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Age the running row past the threshold.
	require.NoError(t, store.DB.Model(&FetchState{}).
		Where("id = ?", state.ID).
		Update("updated_at", time.Now().Add(-time.Hour)).Error)

	reset, err := store.ResetStaleFetchRuns(30 * time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, reset)

	reclaimed, err := store.ClaimFetchState(a.ID, KindNearby, time.Now())
	require.NoError(t, err)
	assert.NotNil(t, reclaimed, "reset row must be claimable again")
}

func TestResetStaleFetchRunsLeavesFreshRows(t *testing.T) {
	store := newTestStore(t)
	a := seedAttraction(t, store, "louvre")
	_, err := store.GetOrCreateFetchState(a.ID, KindCrowd, 168, 3)
	require.NoError(t, err)

	claimed, err := store.ClaimFetchState(a.ID, KindCrowd, time.Now())
	require.NoError(t, err)
	require.NotNil(t, claimed)

	reset, err := store.ResetStaleFetchRuns(30 * time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 0, reset, "a fresh running row must survive the stale sweep")
}

func TestReleaseFetchStateOnlyMovesRateLimitedRows(t *testing.T) {
	store := newTestStore(t)
	a := seedAttraction(t, store, "louvre")
	state, err := store.GetOrCreateFetchState(a.ID, KindVideos, 6, 3)
	require.NoError(t, err)

	// A pending row is not parked; nothing to release.
	released, err := store.ReleaseFetchState(a.ID, KindVideos, FetchPending, time.Now())
	require.NoError(t, err)
	assert.Zero(t, released)

	state.Status = FetchRateLimited
	state.NextRunAt = time.Now().Add(time.Hour)
	require.NoError(t, store.CommitFetchState(state))

	released, err = store.ReleaseFetchState(a.ID, KindVideos, FetchPending, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, released)

	// Terminal rows stay terminal.
	state.Status = FetchFailed
	require.NoError(t, store.CommitFetchState(state))
	released, err = store.ReleaseFetchState(a.ID, KindVideos, FetchPending, time.Now())
	require.NoError(t, err)
	assert.Zero(t, released)
	var reloaded FetchState
	require.NoError(t, store.DB.First(&reloaded, state.ID).Error)
	assert.Equal(t, FetchFailed, reloaded.Status)
}

func TestListDueFetchStatesOrdering(t *testing.T) {
	store := newTestStore(t)
	a := seedAttraction(t, store, "louvre")
	b := seedAttraction(t, store, "notre dame")

	older, err := store.GetOrCreateFetchState(a.ID, KindReviews, 20, 3)
	require.NoError(t, err)
	older.NextRunAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, store.CommitFetchState(older))

	newer, err := store.GetOrCreateFetchState(b.ID, KindReviews, 20, 3)
	require.NoError(t, err)
	newer.NextRunAt = time.Now().Add(-time.Minute)
	require.NoError(t, store.CommitFetchState(newer))

	future, err := store.GetOrCreateFetchState(b.ID, KindPhotos, 8, 3)
	require.NoError(t, err)
	future.NextRunAt = time.Now().Add(time.Hour)
	require.NoError(t, store.CommitFetchState(future))

	due, err := store.ListDueFetchStates(time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, older.ID, due[0].ID, "longest-waiting row must come first")
	assert.Equal(t, newer.ID, due[1].ID)
}
