// orchestrator.go: the sweep entry point. A sweep recovers orphaned runs,
// seeds fetch state for attractions flagged for enrichment, executes due
// fetch runs under a concurrency cap and records the whole pass as a
// pipeline run row. Sweeps are idempotent; overlapping sweeps only contend
// on row claims and never double-run a pair.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/storyboard/enrich-go/internal/conf"
	"github.com/storyboard/enrich-go/internal/datastore"
	"github.com/storyboard/enrich-go/internal/events"
	"github.com/storyboard/enrich-go/internal/logging"
	"github.com/storyboard/enrich-go/internal/observability/metrics"
	"github.com/storyboard/enrich-go/internal/provider"
)

// Orchestrator coordinates sweeps and quota queue drains.
type Orchestrator struct {
	store      datastore.Interface
	registry   *provider.Registry
	controller *Controller
	settings   *conf.Settings
	bus        *events.Bus
	metrics    *metrics.PipelineMetrics
	log        *slog.Logger
}

// NewOrchestrator creates the pipeline orchestrator.
func NewOrchestrator(store datastore.Interface, registry *provider.Registry, controller *Controller,
	settings *conf.Settings, bus *events.Bus, m *metrics.PipelineMetrics) *Orchestrator {
	return &Orchestrator{
		store:      store,
		registry:   registry,
		controller: controller,
		settings:   settings,
		bus:        bus,
		metrics:    m,
		log:        logging.ForService("pipeline"),
	}
}

// SweepResult summarizes one sweep for callers and logs.
type SweepResult struct {
	RunID       string
	Processed   int
	Succeeded   int
	Failed      int
	RateLimited int
	StaleReset  int64
}

// RunSweep executes one full sweep. Individual fetch run failures are
// isolated: they are counted and logged but never abort the sweep.
func (o *Orchestrator) RunSweep(ctx context.Context) (*SweepResult, error) {
	started := time.Now()
	cfg := o.settings.Pipeline

	staleReset, err := o.store.ResetStaleFetchRuns(cfg.StaleRunningAfter)
	if err != nil {
		return nil, err
	}
	if staleReset > 0 {
		o.log.Warn("reset stale running fetch states", "count", staleReset)
	}

	if err := o.seedFetchStates(); err != nil {
		o.log.Error("seeding fetch states failed", "error", err)
	}

	run := &datastore.PipelineRun{
		RunID:    uuid.New().String(),
		Metadata: fmt.Sprintf(`{"instance":%q}`, o.settings.Main.Name),
	}
	if err := o.store.CreatePipelineRun(run); err != nil {
		return nil, err
	}

	due, err := o.store.ListDueFetchStates(time.Now(), cfg.SweepBatchSize)
	if err != nil {
		o.closeRun(run, "failed", nil)
		o.alertSweepFailed(run.RunID, err)
		return nil, err
	}

	result := &SweepResult{RunID: run.RunID, StaleReset: staleReset}
	o.executeRuns(ctx, due, result)

	if n, err := o.store.BackfillNearbyLinks(); err != nil {
		o.log.Warn("nearby link backfill failed", "error", err)
	} else if n > 0 {
		o.log.Info("backfilled nearby links", "count", n)
	}

	o.closeRun(run, "completed", result)
	o.metrics.RecordSweep(time.Since(started), result.Processed)
	o.log.Info("sweep completed",
		"run_id", run.RunID,
		"processed", result.Processed,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"rate_limited", result.RateLimited,
		"duration", time.Since(started))
	return result, nil
}

// executeRuns drives the due rows through the controller with bounded
// concurrency and a per-run timeout.
func (o *Orchestrator) executeRuns(ctx context.Context, due []datastore.FetchState, result *SweepResult) {
	cfg := o.settings.Pipeline
	maxConcurrency := int64(cfg.MaxConcurrency)
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	sem := semaphore.NewWeighted(maxConcurrency)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := range due {
		row := due[i]
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled; remaining rows stay due for the next sweep.
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			runCtx := ctx
			if cfg.RunTimeout > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
				defer cancel()
			}

			status, err := o.controller.RunOnce(runCtx, row.AttractionID, row.Kind)
			mu.Lock()
			defer mu.Unlock()
			if status == "" && err == nil {
				return // claim lost to a concurrent worker
			}
			result.Processed++
			switch {
			case err != nil && status == "":
				result.Failed++
				o.log.Error("fetch run error",
					"attraction_id", row.AttractionID, "kind", row.Kind, "error", err)
			case status == datastore.FetchFailed:
				result.Failed++
			case status == datastore.FetchRateLimited:
				result.RateLimited++
			default:
				result.Succeeded++
			}
		}()
	}
	wg.Wait()
}

// seedFetchStates ensures every attraction flagged for enrichment has one
// fetch state row per data kind. Existing rows are left untouched.
func (o *Orchestrator) seedFetchStates() error {
	attractions, err := o.store.ListAttractionsNeedingEnrichment(o.settings.Pipeline.SweepBatchSize)
	if err != nil {
		return err
	}
	for i := range attractions {
		for _, kind := range datastore.AllFetchKinds {
			if len(o.registry.ForKind(kind)) == 0 {
				continue
			}
			_, err := o.store.GetOrCreateFetchState(attractions[i].ID, kind,
				o.controller.TargetFor(kind), o.settings.Pipeline.MaxRetries)
			if err != nil {
				return err
			}
		}
		if err := o.store.UpdateAttractionFields(attractions[i].ID, map[string]any{"needs_enrichment": false}); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) closeRun(run *datastore.PipelineRun, status string, result *SweepResult) {
	run.Status = status
	if result != nil {
		run.Processed = result.Processed
		run.Succeeded = result.Succeeded
		run.Failed = result.Failed
		run.RateLimited = result.RateLimited
	}
	if err := o.store.ClosePipelineRun(run); err != nil {
		o.log.Error("closing pipeline run failed", "run_id", run.RunID, "error", err)
	}
}

func (o *Orchestrator) alertSweepFailed(runID string, err error) {
	o.bus.Publish(&events.AlertEvent{
		Type:      events.TypeSweepFailed,
		Severity:  events.SeverityCritical,
		Title:     "pipeline sweep failed",
		Message:   err.Error(),
		Context:   map[string]any{"run_id": runID},
		Timestamp: time.Now(),
	})
}
