package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyboard/enrich-go/internal/conf"
	"github.com/storyboard/enrich-go/internal/datastore"
	"github.com/storyboard/enrich-go/internal/errors"
	"github.com/storyboard/enrich-go/internal/events"
	"github.com/storyboard/enrich-go/internal/provider"
	"github.com/storyboard/enrich-go/internal/reconcile"
)

// fakeAdapter returns scripted pages in order, then repeats the last one.
type fakeAdapter struct {
	name   string
	window time.Duration
	script []fakePage
	calls  int
}

type fakePage struct {
	result *provider.PageResult
	err    error
}

func (f *fakeAdapter) Name() string               { return f.name }
func (f *fakeAdapter) QuotaWindow() time.Duration { return f.window }

func (f *fakeAdapter) FetchPage(_ context.Context, _ *provider.PageRequest) (*provider.PageResult, error) {
	idx := f.calls
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	f.calls++
	page := f.script[idx]
	return page.result, page.err
}

func reviewPage(n int, offset int, lastPage bool, cursor string) *provider.PageResult {
	result := &provider.PageResult{NextCursor: cursor, IsLastPage: lastPage}
	for i := range n {
		result.Items = append(result.Items, provider.ReviewItem{
			ExternalID: fmt.Sprintf("fake:%d", offset+i),
			Author:     "author",
			Text:       "text",
			Source:     "fake",
		})
	}
	return result
}

func testSettings() *conf.Settings {
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Pipeline.MaxConcurrency = 4
	settings.Pipeline.SweepBatchSize = 50
	settings.Pipeline.StaleRunningAfter = 30 * time.Minute
	settings.Pipeline.MaxRetries = 3
	settings.Pipeline.Backoff.Base = time.Minute
	settings.Pipeline.Backoff.Max = time.Hour
	settings.QuotaRetry.MaxRetries = 3
	settings.QuotaRetry.BatchSize = 10
	settings.Reconciler.MatchRadiusMeters = 150
	settings.Reconciler.CacheTTL = time.Minute
	settings.Targets.Reviews = 8
	settings.Targets.Videos = 6
	return settings
}

type testHarness struct {
	store      *datastore.SQLiteStore
	registry   *provider.Registry
	controller *Controller
	settings   *conf.Settings
	bus        *events.Bus
	attraction *datastore.Attraction
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	settings := testSettings()
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "test.db")

	store := &datastore.SQLiteStore{Settings: settings}
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	city, err := store.GetOrCreateCity("Paris", "France", 48.8566, 2.3522)
	require.NoError(t, err)
	attraction := &datastore.Attraction{
		CityID:         city.ID,
		Name:           "Louvre",
		NormalizedName: "louvre",
		Latitude:       48.8606,
		Longitude:      2.3376,
	}
	require.NoError(t, store.InsertAttraction(attraction))

	registry := provider.NewEmptyRegistry()
	bus := events.NewBus()
	t.Cleanup(bus.Shutdown)

	reconciler := reconcile.New(store, &settings.Reconciler, nil)
	sink := NewSink(store, reconciler, nil)
	controller := NewController(store, registry, sink, settings, bus, nil)

	return &testHarness{
		store:      store,
		registry:   registry,
		controller: controller,
		settings:   settings,
		bus:        bus,
		attraction: attraction,
	}
}

func (h *testHarness) seedState(t *testing.T, kind datastore.FetchKind, target int) *datastore.FetchState {
	t.Helper()
	state, err := h.store.GetOrCreateFetchState(h.attraction.ID, kind, target, h.settings.Pipeline.MaxRetries)
	require.NoError(t, err)
	return state
}

func (h *testHarness) loadState(t *testing.T, kind datastore.FetchKind) *datastore.FetchState {
	t.Helper()
	var state datastore.FetchState
	require.NoError(t, h.store.DB.
		Where("attraction_id = ? AND kind = ?", h.attraction.ID, kind).
		First(&state).Error)
	return &state
}

func TestRunOncePartialPaginationResumesToDone(t *testing.T) {
	h := newHarness(t)
	h.seedState(t, datastore.KindReviews, 8)

	adapter := &fakeAdapter{name: "fake", script: []fakePage{
		{result: reviewPage(5, 0, false, "cursor-2")},
		{result: reviewPage(3, 5, false, "cursor-3")},
	}}
	h.registry.RegisterForTesting(datastore.KindReviews, adapter)

	status, err := h.controller.RunOnce(context.Background(), h.attraction.ID, datastore.KindReviews)
	require.NoError(t, err)
	assert.Equal(t, datastore.FetchPending, status, "below target with more pages stays pending")

	mid := h.loadState(t, datastore.KindReviews)
	assert.Equal(t, 5, mid.ItemsCollected)
	assert.Equal(t, "cursor-2", mid.Cursor)
	assert.Equal(t, "fake", mid.Provider)

	status, err = h.controller.RunOnce(context.Background(), h.attraction.ID, datastore.KindReviews)
	require.NoError(t, err)
	assert.Equal(t, datastore.FetchDone, status, "reaching the target completes the fetch")

	final := h.loadState(t, datastore.KindReviews)
	assert.Equal(t, 8, final.ItemsCollected)
	assert.Equal(t, 2, adapter.calls)

	// Done rows are never claimed again.
	status, err = h.controller.RunOnce(context.Background(), h.attraction.ID, datastore.KindReviews)
	require.NoError(t, err)
	assert.Empty(t, status)
	assert.Equal(t, 2, adapter.calls)
}

func TestRunOnceFailsWhenAttractionMissing(t *testing.T) {
	h := newHarness(t)
	h.seedState(t, datastore.KindReviews, 8)

	adapter := &fakeAdapter{name: "fake", script: []fakePage{
		{result: reviewPage(8, 0, true, provider.EndOfStream)},
	}}
	h.registry.RegisterForTesting(datastore.KindReviews, adapter)

	require.NoError(t, h.store.DB.Delete(&datastore.Attraction{}, h.attraction.ID).Error)

	status, err := h.controller.RunOnce(context.Background(), h.attraction.ID, datastore.KindReviews)
	require.NoError(t, err)
	assert.Equal(t, datastore.FetchFailed, status)
	assert.Zero(t, adapter.calls, "no provider call without an attraction")

	state := h.loadState(t, datastore.KindReviews)
	assert.Equal(t, datastore.FetchFailed, state.Status)
	assert.Contains(t, state.LastError, "not found")
	assert.EqualValues(t, 1, h.bus.Stats().Published, "the terminal failure alerts")
}

func TestRunOnceCompletesWhenTargetRevisedBelowCollected(t *testing.T) {
	h := newHarness(t)
	state := h.seedState(t, datastore.KindReviews, 8)

	// An operator lowered the target after earlier runs collected 5 items.
	require.NoError(t, h.store.DB.Model(&datastore.FetchState{}).
		Where("id = ?", state.ID).
		Updates(map[string]any{"items_collected": 5, "items_target": 4}).Error)

	adapter := &fakeAdapter{name: "fake", script: []fakePage{
		{result: reviewPage(5, 0, false, "cursor-2")},
	}}
	h.registry.RegisterForTesting(datastore.KindReviews, adapter)

	status, err := h.controller.RunOnce(context.Background(), h.attraction.ID, datastore.KindReviews)
	require.NoError(t, err)
	assert.Equal(t, datastore.FetchDone, status)
	assert.Zero(t, adapter.calls, "a satisfied row completes without a provider call")
}

func TestRunOnceLastPageCompletesBelowTarget(t *testing.T) {
	h := newHarness(t)
	h.seedState(t, datastore.KindReviews, 8)

	adapter := &fakeAdapter{name: "fake", script: []fakePage{
		{result: reviewPage(3, 0, true, provider.EndOfStream)},
	}}
	h.registry.RegisterForTesting(datastore.KindReviews, adapter)

	status, err := h.controller.RunOnce(context.Background(), h.attraction.ID, datastore.KindReviews)
	require.NoError(t, err)
	assert.Equal(t, datastore.FetchDone, status, "an exhausted source completes even below target")

	state := h.loadState(t, datastore.KindReviews)
	assert.Equal(t, 3, state.ItemsCollected)
	assert.Equal(t, provider.EndOfStream, state.Cursor)
}

func TestRunOnceQuotaDefersWithoutBurningRetries(t *testing.T) {
	h := newHarness(t)
	h.seedState(t, datastore.KindVideos, 6)

	adapter := &fakeAdapter{name: "fakeyt", window: 2 * time.Hour, script: []fakePage{
		{err: errors.Newf("quota exhausted").
			Component("fakeyt").
			Category(errors.CategoryProviderQuota).
			Build()},
	}}
	h.registry.RegisterForTesting(datastore.KindVideos, adapter)

	before := time.Now()
	status, err := h.controller.RunOnce(context.Background(), h.attraction.ID, datastore.KindVideos)
	require.NoError(t, err)
	assert.Equal(t, datastore.FetchRateLimited, status)

	state := h.loadState(t, datastore.KindVideos)
	assert.Equal(t, 0, state.RetryCount, "quota exhaustion must not burn the retry budget")
	assert.True(t, state.NextRunAt.After(before.Add(time.Hour)), "parked until the quota window resets")

	var entries []datastore.QuotaRetryEntry
	require.NoError(t, h.store.DB.Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, datastore.QuotaRetryPending, entries[0].Status)
	assert.Equal(t, "fakeyt", entries[0].Provider)
	assert.Equal(t, datastore.KindVideos, entries[0].Kind)
}

func TestRunOnceTransientBacksOffThenFails(t *testing.T) {
	h := newHarness(t)
	h.settings.Pipeline.Backoff.Base = 0 // keep the row immediately claimable
	h.seedState(t, datastore.KindReviews, 8)

	adapter := &fakeAdapter{name: "fake", script: []fakePage{
		{err: errors.Newf("connection reset").
			Component("fake").
			Category(errors.CategoryProviderTransient).
			Build()},
	}}
	h.registry.RegisterForTesting(datastore.KindReviews, adapter)

	for retry := 1; retry <= h.settings.Pipeline.MaxRetries; retry++ {
		status, err := h.controller.RunOnce(context.Background(), h.attraction.ID, datastore.KindReviews)
		require.NoError(t, err)
		assert.Equal(t, datastore.FetchPending, status)
		assert.Equal(t, retry, h.loadState(t, datastore.KindReviews).RetryCount)
	}

	status, err := h.controller.RunOnce(context.Background(), h.attraction.ID, datastore.KindReviews)
	require.NoError(t, err)
	assert.Equal(t, datastore.FetchFailed, status, "exceeding the retry budget fails the run")
	assert.NotEmpty(t, h.loadState(t, datastore.KindReviews).LastError)
}

func TestRunOnceTransientBackoffDelaysNextRun(t *testing.T) {
	h := newHarness(t)
	h.seedState(t, datastore.KindReviews, 8)

	adapter := &fakeAdapter{name: "fake", script: []fakePage{
		{err: errors.Newf("timeout").
			Component("fake").
			Category(errors.CategoryProviderTransient).
			Build()},
	}}
	h.registry.RegisterForTesting(datastore.KindReviews, adapter)

	before := time.Now()
	status, err := h.controller.RunOnce(context.Background(), h.attraction.ID, datastore.KindReviews)
	require.NoError(t, err)
	assert.Equal(t, datastore.FetchPending, status)

	state := h.loadState(t, datastore.KindReviews)
	assert.True(t, state.NextRunAt.After(before.Add(30*time.Second)), "first retry waits at least the base backoff")

	// Not due yet, so the claim is skipped.
	status, err = h.controller.RunOnce(context.Background(), h.attraction.ID, datastore.KindReviews)
	require.NoError(t, err)
	assert.Empty(t, status)
	assert.Equal(t, 1, adapter.calls)
}

func TestRunOncePermanentFallsThroughChain(t *testing.T) {
	h := newHarness(t)
	h.seedState(t, datastore.KindReviews, 8)

	broken := &fakeAdapter{name: "primary", script: []fakePage{
		{err: errors.Newf("not found").
			Component("primary").
			Category(errors.CategoryProviderData).
			Build()},
	}}
	backup := &fakeAdapter{name: "backup", script: []fakePage{
		{result: reviewPage(8, 0, true, provider.EndOfStream)},
	}}
	h.registry.RegisterForTesting(datastore.KindReviews, broken, backup)

	status, err := h.controller.RunOnce(context.Background(), h.attraction.ID, datastore.KindReviews)
	require.NoError(t, err)
	assert.Equal(t, datastore.FetchDone, status)

	state := h.loadState(t, datastore.KindReviews)
	assert.Equal(t, "backup", state.Provider, "the fallback provider owns the committed state")
	assert.Equal(t, 8, state.ItemsCollected)
}

func TestRunOncePermanentWithoutFallbackFails(t *testing.T) {
	h := newHarness(t)
	h.seedState(t, datastore.KindReviews, 8)

	adapter := &fakeAdapter{name: "fake", script: []fakePage{
		{err: errors.Newf("bad request").
			Component("fake").
			Category(errors.CategoryProviderData).
			Build()},
	}}
	h.registry.RegisterForTesting(datastore.KindReviews, adapter)

	status, err := h.controller.RunOnce(context.Background(), h.attraction.ID, datastore.KindReviews)
	require.NoError(t, err)
	assert.Equal(t, datastore.FetchFailed, status)
}

func TestRunOnceReplaysPageIdempotently(t *testing.T) {
	h := newHarness(t)
	h.seedState(t, datastore.KindReviews, 8)

	// Both runs serve the same external IDs; the second run gets credit for
	// nothing and the review table stays deduplicated.
	adapter := &fakeAdapter{name: "fake", script: []fakePage{
		{result: reviewPage(5, 0, false, "cursor-2")},
		{result: reviewPage(5, 0, false, "cursor-2")},
		{result: reviewPage(3, 5, true, provider.EndOfStream)},
	}}
	h.registry.RegisterForTesting(datastore.KindReviews, adapter)

	_, err := h.controller.RunOnce(context.Background(), h.attraction.ID, datastore.KindReviews)
	require.NoError(t, err)
	_, err = h.controller.RunOnce(context.Background(), h.attraction.ID, datastore.KindReviews)
	require.NoError(t, err)

	state := h.loadState(t, datastore.KindReviews)
	assert.Equal(t, 5, state.ItemsCollected, "replayed items must not double-count")

	var count int64
	require.NoError(t, h.store.DB.Model(&datastore.Review{}).Count(&count).Error)
	assert.EqualValues(t, 5, count)
}
