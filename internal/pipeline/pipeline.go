// Package pipeline implements the enrichment pipeline: the fetch run
// controller, the sweep orchestrator, the quota queue drain and the item
// sink. Durable fetch state in the database is the only coordination
// between any of them.
package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/storyboard/enrich-go/internal/conf"
	"github.com/storyboard/enrich-go/internal/datastore"
	"github.com/storyboard/enrich-go/internal/errors"
	"github.com/storyboard/enrich-go/internal/events"
	"github.com/storyboard/enrich-go/internal/httpclient"
	"github.com/storyboard/enrich-go/internal/logging"
	"github.com/storyboard/enrich-go/internal/observability/metrics"
	"github.com/storyboard/enrich-go/internal/provider"
	"github.com/storyboard/enrich-go/internal/reconcile"
)

// Pipeline bundles the wired components behind the sweep and drain entry
// points.
type Pipeline struct {
	Store        datastore.Interface
	Orchestrator *Orchestrator
	Bus          *events.Bus
	Registry     *prometheus.Registry

	httpClient *httpclient.Client
}

// New opens the datastore and wires the full pipeline from settings.
func New(settings *conf.Settings) (*Pipeline, error) {
	store := datastore.New(settings)
	if store == nil {
		return nil, errors.Newf("no database output enabled").
			Component("pipeline").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := store.Open(); err != nil {
		return nil, err
	}

	promRegistry := prometheus.NewRegistry()
	m, err := metrics.NewPipelineMetrics(promRegistry)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	client := httpclient.New(nil)
	registry, err := provider.NewRegistry(settings, client)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := events.NewBus()
	bus.RegisterConsumer(&events.LogConsumer{Logger: logging.ForService("alerts")})
	bus.RegisterConsumer(&datastore.AlertConsumer{Store: store})

	// The places adapter doubles as the reconciler's locator when enabled.
	var locator reconcile.Locator
	if a := registry.ByName(provider.ProviderPlaces); a != nil {
		if l, ok := a.(reconcile.Locator); ok {
			locator = l
		}
	}
	reconciler := reconcile.New(store, &settings.Reconciler, locator)
	sink := NewSink(store, reconciler, m)
	controller := NewController(store, registry, sink, settings, bus, m)
	orchestrator := NewOrchestrator(store, registry, controller, settings, bus, m)

	return &Pipeline{
		Store:        store,
		Orchestrator: orchestrator,
		Bus:          bus,
		Registry:     promRegistry,
		httpClient:   client,
	}, nil
}

// Close shuts down the event bus and releases the datastore and HTTP
// connections.
func (p *Pipeline) Close() error {
	p.Bus.Shutdown()
	p.httpClient.Close()
	return p.Store.Close()
}
