// controller.go: the fetch run controller. One RunOnce call drives a single
// claimed (attraction, kind) pair through at most one provider page and
// commits the resulting state transition. All retry, backoff and quota
// deferral decisions live here; adapters never retry.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/storyboard/enrich-go/internal/conf"
	"github.com/storyboard/enrich-go/internal/datastore"
	"github.com/storyboard/enrich-go/internal/errors"
	"github.com/storyboard/enrich-go/internal/events"
	"github.com/storyboard/enrich-go/internal/logging"
	"github.com/storyboard/enrich-go/internal/observability/metrics"
	"github.com/storyboard/enrich-go/internal/provider"
)

// Controller executes fetch runs against the durable fetch state store.
type Controller struct {
	store    datastore.Interface
	registry *provider.Registry
	sink     *Sink
	settings *conf.Settings
	bus      *events.Bus
	metrics  *metrics.PipelineMetrics
	log      *slog.Logger
}

// NewController creates a fetch run controller.
func NewController(store datastore.Interface, registry *provider.Registry, sink *Sink,
	settings *conf.Settings, bus *events.Bus, m *metrics.PipelineMetrics) *Controller {
	return &Controller{
		store:    store,
		registry: registry,
		sink:     sink,
		settings: settings,
		bus:      bus,
		metrics:  m,
		log:      logging.ForService("pipeline"),
	}
}

// RunOnce claims the fetch state for the pair and, if the claim succeeds,
// fetches one page, persists its items and commits the next state. The
// returned status is the committed one; an empty status means the claim was
// lost or the row was not due, which is not an error.
func (c *Controller) RunOnce(ctx context.Context, attractionID uint, kind datastore.FetchKind) (datastore.FetchStatus, error) {
	started := time.Now()
	state, err := c.store.ClaimFetchState(attractionID, kind, started)
	if err != nil {
		return "", err
	}
	if state == nil {
		return "", nil
	}

	status, err := c.runClaimed(ctx, state)
	c.metrics.RecordFetchRun(string(kind), string(status), time.Since(started))
	return status, err
}

// runClaimed owns a RUNNING row and must commit exactly one transition out
// of it. Commit failures leave the row RUNNING; the stale reset on the next
// sweep recovers it.
func (c *Controller) runClaimed(ctx context.Context, state *datastore.FetchState) (datastore.FetchStatus, error) {
	// The target may have been revised below what earlier runs collected.
	if state.ItemsTarget > 0 && state.ItemsCollected >= state.ItemsTarget {
		state.Status = datastore.FetchDone
		return state.Status, c.commit(state)
	}

	attraction, err := c.store.GetAttraction(state.AttractionID)
	if err != nil {
		// A missing attraction fails permanently; a flaky database read goes
		// through the same transient backoff as any other error.
		return c.commitFailure(state, nil, err)
	}

	result, adapter, err := c.fetchPage(ctx, state, attraction)
	if err != nil {
		return c.commitFailure(state, adapter, err)
	}

	saved, sinkErr := c.sink.Apply(ctx, attraction, result.Items)
	if sinkErr != nil {
		// Persisting failed after a successful fetch. The cursor is not
		// advanced, so the page replays; the idempotent sinks absorb the
		// rows that did land.
		return c.commitFailure(state, adapter, sinkErr)
	}
	c.metrics.RecordItemsCollected(string(state.Kind), saved)
	c.metrics.RecordProviderDropped(adapter.Name(), result.Dropped)
	c.metrics.RecordProviderRequest(adapter.Name(), "ok")

	state.Provider = adapter.Name()
	state.ItemsCollected += saved
	state.Cursor = result.NextCursor
	state.LastError = ""

	exhausted := result.IsLastPage || result.NextCursor == provider.EndOfStream
	// A short page without an explicit last-page marker still means the
	// source has nothing more to give.
	if !exhausted && len(result.Items)+result.Dropped < c.pageSize(adapter) {
		exhausted = true
		state.Cursor = provider.EndOfStream
	}

	if exhausted || (state.ItemsTarget > 0 && state.ItemsCollected >= state.ItemsTarget) {
		state.Status = datastore.FetchDone
	} else {
		// Partial progress: immediately claimable again so the next sweep
		// resumes from the committed cursor.
		state.Status = datastore.FetchPending
		state.NextRunAt = time.Now()
	}
	return state.Status, c.commit(state)
}

// fetchPage selects the adapter and fetches one page. A provider pinned by a
// previous partial run keeps ownership of its cursor; permanent failures
// advance through the fallback chain with a fresh cursor.
func (c *Controller) fetchPage(ctx context.Context, state *datastore.FetchState, attraction *datastore.Attraction) (*provider.PageResult, provider.Adapter, error) {
	chain := c.registry.ForKind(state.Kind)
	if len(chain) == 0 {
		return nil, nil, errors.Newf("no provider configured for kind %s", state.Kind).
			Component("pipeline").
			Category(errors.CategoryConfiguration).
			Build()
	}

	start := 0
	if state.Provider != "" {
		for i, a := range chain {
			if a.Name() == state.Provider {
				start = i
				break
			}
		}
	}

	req := c.buildRequest(state, attraction)
	if state.Provider != "" && chain[start].Name() != state.Provider {
		// The provider that owns the stored cursor is no longer registered;
		// its cursor is meaningless to anyone else.
		req.Cursor = ""
	}
	var lastErr error
	for i := start; i < len(chain); i++ {
		adapter := chain[i]
		if i > start {
			// A fallback provider starts its own stream.
			req.Cursor = ""
		}
		result, err := adapter.FetchPage(ctx, req)
		if err == nil {
			return result, adapter, nil
		}
		class := errors.Classify(err)
		c.metrics.RecordProviderRequest(adapter.Name(), class.String())
		if class != errors.ClassPermanent {
			return nil, adapter, err
		}
		c.log.Info("provider failed permanently, trying next in chain",
			"kind", state.Kind, "provider", adapter.Name(), "error", err)
		lastErr = err
	}
	return nil, chain[len(chain)-1], lastErr
}

func (c *Controller) buildRequest(state *datastore.FetchState, attraction *datastore.Attraction) *provider.PageRequest {
	req := &provider.PageRequest{
		Kind:           state.Kind,
		AttractionID:   attraction.ID,
		AttractionName: attraction.Name,
		Latitude:       attraction.Latitude,
		Longitude:      attraction.Longitude,
		Cursor:         state.Cursor,
		PageSize:       c.pageSizeForKind(state.Kind),
	}
	if attraction.PlaceID != nil {
		req.PlaceID = *attraction.PlaceID
	}
	if city, err := c.store.GetCity(attraction.CityID); err == nil {
		req.CityName = city.Name
	}
	return req
}

// commitFailure classifies the error and commits the corresponding
// transition: quota defers to the retry queue, transient errors reschedule
// with exponential backoff, permanent errors and retry exhaustion fail the
// run and alert.
func (c *Controller) commitFailure(state *datastore.FetchState, adapter provider.Adapter, err error) (datastore.FetchStatus, error) {
	state.LastError = truncateError(err)

	switch errors.Classify(err) {
	case errors.ClassQuota:
		// Quota exhaustion is not the run's fault: the retry budget is
		// untouched and the pair parks until the provider window resets.
		window := adapter.QuotaWindow()
		if window <= 0 {
			window = time.Hour
		}
		retryAt := time.Now().Add(window)
		state.Status = datastore.FetchRateLimited
		state.NextRunAt = retryAt
		state.Provider = adapter.Name()
		if qErr := c.store.EnqueueQuotaRetry(state.AttractionID, state.Kind, adapter.Name(), retryAt); qErr != nil {
			c.log.Error("quota retry enqueue failed",
				"attraction_id", state.AttractionID, "kind", state.Kind, "error", qErr)
		}
		c.metrics.RecordQuotaDeferral(adapter.Name())

	case errors.ClassTransient:
		state.RetryCount++
		if state.RetryCount > state.MaxRetries {
			state.Status = datastore.FetchFailed
			c.alertRunFailed(state, "retry budget exhausted", err)
		} else {
			state.Status = datastore.FetchPending
			state.NextRunAt = time.Now().Add(c.backoff(state.RetryCount))
		}

	default:
		state.Status = datastore.FetchFailed
		c.alertRunFailed(state, "permanent provider failure", err)
	}

	if commitErr := c.commit(state); commitErr != nil {
		return state.Status, commitErr
	}
	return state.Status, nil
}

func (c *Controller) commit(state *datastore.FetchState) error {
	if err := c.store.CommitFetchState(state); err != nil {
		c.log.Error("fetch state commit failed",
			"attraction_id", state.AttractionID, "kind", state.Kind, "error", err)
		return err
	}
	c.log.Debug("fetch state committed",
		"attraction_id", state.AttractionID,
		"kind", state.Kind,
		"status", state.Status,
		"collected", state.ItemsCollected,
		"cursor", state.Cursor)
	return nil
}

func (c *Controller) alertRunFailed(state *datastore.FetchState, reason string, err error) {
	c.bus.Publish(&events.AlertEvent{
		Type:     events.TypeFetchRunFailed,
		Severity: events.SeverityWarning,
		Title:    "fetch run failed",
		Message:  fmt.Sprintf("%s for attraction %d kind %s: %v", reason, state.AttractionID, state.Kind, err),
		Context: map[string]any{
			"attraction_id": state.AttractionID,
			"kind":          string(state.Kind),
			"retry_count":   state.RetryCount,
		},
		Timestamp: time.Now(),
	})
}

// backoff returns the delay before transient retry n: base doubled per
// attempt, capped at the configured maximum.
func (c *Controller) backoff(retryCount int) time.Duration {
	cfg := c.settings.Pipeline.Backoff
	delay := cfg.Base
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= cfg.Max {
			return cfg.Max
		}
	}
	if cfg.Max > 0 && delay > cfg.Max {
		return cfg.Max
	}
	return delay
}

func (c *Controller) pageSize(adapter provider.Adapter) int {
	// The adapter's configured page size governs the short-page check.
	switch adapter.Name() {
	case provider.ProviderPlaces:
		return c.settings.Providers.Places.PageSize
	case provider.ProviderOpenWeather:
		return c.settings.Providers.OpenWeather.PageSize
	case provider.ProviderBestTime:
		return c.settings.Providers.BestTime.PageSize
	case provider.ProviderYouTube:
		return c.settings.Providers.YouTube.PageSize
	case provider.ProviderReddit:
		return c.settings.Providers.Reddit.PageSize
	case provider.ProviderTextGen:
		return c.settings.Providers.TextGen.PageSize
	default:
		return 0
	}
}

func (c *Controller) pageSizeForKind(kind datastore.FetchKind) int {
	if chain := c.registry.ForKind(kind); len(chain) > 0 {
		if size := c.pageSize(chain[0]); size > 0 {
			return size
		}
	}
	return 10
}

// TargetFor returns the configured item target for a data kind.
func (c *Controller) TargetFor(kind datastore.FetchKind) int {
	t := c.settings.Targets
	switch kind {
	case datastore.KindReviews:
		return t.Reviews
	case datastore.KindPhotos:
		return t.Photos
	case datastore.KindVideos:
		return t.Videos
	case datastore.KindNearby:
		return t.Nearby
	case datastore.KindWeather:
		return t.Weather
	case datastore.KindCrowd:
		return t.Crowd
	default:
		return 0
	}
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > 1000 {
		msg = msg[:1000]
	}
	return msg
}
