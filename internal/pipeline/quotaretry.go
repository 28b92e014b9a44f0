// quotaretry.go: the quota queue drain. Entries parked by quota exhaustion
// are retried per provider once their window has elapsed; repeated quota
// failures back off until the retry cap fails the entry. Drains are
// idempotent entry points just like sweeps.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/storyboard/enrich-go/internal/datastore"
	"github.com/storyboard/enrich-go/internal/events"
)

// DrainResult summarizes one quota queue drain.
type DrainResult struct {
	Claimed   int
	Recovered int
	Requeued  int
	Exhausted int
}

// DrainQuotaQueue claims due quota retry entries for every registered
// provider and re-runs their fetches. An entry completes when the fetch no
// longer hits quota; a repeated quota failure reschedules it with a doubled
// window until the retry cap is reached.
func (o *Orchestrator) DrainQuotaQueue(ctx context.Context) (*DrainResult, error) {
	cfg := o.settings.QuotaRetry
	result := &DrainResult{}

	for _, providerName := range o.registry.Providers() {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		entries, err := o.store.ClaimDueQuotaRetries(providerName, time.Now(), cfg.BatchSize)
		if err != nil {
			o.log.Error("claiming quota retries failed", "provider", providerName, "error", err)
			continue
		}
		result.Claimed += len(entries)
		for i := range entries {
			o.drainEntry(ctx, &entries[i], result)
		}
	}

	if result.Claimed > 0 {
		o.log.Info("quota queue drained",
			"claimed", result.Claimed,
			"recovered", result.Recovered,
			"requeued", result.Requeued,
			"exhausted", result.Exhausted)
	}
	return result, nil
}

func (o *Orchestrator) drainEntry(ctx context.Context, entry *datastore.QuotaRetryEntry, result *DrainResult) {
	// Make the parked row claimable now; RunOnce takes it from there.
	released, err := o.store.ReleaseFetchState(entry.AttractionID, entry.Kind, datastore.FetchPending, time.Now())
	if err != nil {
		o.log.Error("releasing fetch state for quota retry failed",
			"attraction_id", entry.AttractionID, "kind", entry.Kind, "error", err)
		return
	}
	if released == 0 {
		// The pair is no longer parked on quota: the row went terminal or was
		// already re-run. The entry is obsolete and leaves the queue.
		if cErr := o.store.CompleteQuotaRetry(entry.ID); cErr != nil {
			o.log.Error("completing obsolete quota retry failed", "entry_id", entry.ID, "error", cErr)
		}
		return
	}

	status, err := o.controller.RunOnce(ctx, entry.AttractionID, entry.Kind)
	switch {
	case status == datastore.FetchRateLimited:
		o.requeueOrFail(entry, result)

	case err != nil && status == "":
		// The run never committed; leave the entry for the next drain.
		o.log.Error("quota retry run error",
			"attraction_id", entry.AttractionID, "kind", entry.Kind, "error", err)
		if rErr := o.store.RescheduleQuotaRetry(entry.ID, time.Now().Add(o.settings.Pipeline.Backoff.Base)); rErr != nil {
			o.log.Error("rescheduling quota retry failed", "entry_id", entry.ID, "error", rErr)
		}
		result.Requeued++

	default:
		// Any committed non-quota outcome resolves the entry: the pair
		// either progressed or has been failed by the controller.
		if cErr := o.store.CompleteQuotaRetry(entry.ID); cErr != nil {
			o.log.Error("completing quota retry failed", "entry_id", entry.ID, "error", cErr)
			return
		}
		result.Recovered++
	}
}

// requeueOrFail handles an entry that hit quota again.
func (o *Orchestrator) requeueOrFail(entry *datastore.QuotaRetryEntry, result *DrainResult) {
	cfg := o.settings.QuotaRetry
	if entry.RetryCount+1 >= cfg.MaxRetries {
		if err := o.store.FailQuotaRetry(entry.ID); err != nil {
			o.log.Error("failing quota retry failed", "entry_id", entry.ID, "error", err)
			return
		}
		result.Exhausted++
		o.metrics.RecordQuotaRetryExhausted(entry.Provider)
		o.bus.Publish(&events.AlertEvent{
			Type:     events.TypeQuotaRetryExhausted,
			Severity: events.SeverityCritical,
			Title:    "quota retry exhausted",
			Message: fmt.Sprintf("provider %s still over quota after %d retries for attraction %d kind %s",
				entry.Provider, entry.RetryCount+1, entry.AttractionID, entry.Kind),
			Context: map[string]any{
				"provider":      entry.Provider,
				"attraction_id": entry.AttractionID,
				"kind":          string(entry.Kind),
			},
			Timestamp: time.Now(),
		})
		return
	}

	window := time.Hour
	if adapter := o.registry.ByName(entry.Provider); adapter != nil && adapter.QuotaWindow() > 0 {
		window = adapter.QuotaWindow()
	}
	// Double the wait per consecutive quota failure.
	delay := window << uint(entry.RetryCount)
	if err := o.store.RescheduleQuotaRetry(entry.ID, time.Now().Add(delay)); err != nil {
		o.log.Error("rescheduling quota retry failed", "entry_id", entry.ID, "error", err)
		return
	}
	result.Requeued++
}
