package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyboard/enrich-go/internal/datastore"
	"github.com/storyboard/enrich-go/internal/provider"
	"github.com/storyboard/enrich-go/internal/reconcile"
)

func newSink(h *testHarness) *Sink {
	return NewSink(h.store, reconcile.New(h.store, &h.settings.Reconciler, nil), nil)
}

func TestSinkAppliesTextItems(t *testing.T) {
	h := newHarness(t)
	sink := newSink(h)

	saved, err := sink.Apply(context.Background(), h.attraction, []provider.Item{
		provider.TextItem{Kind: "summary", Text: "A grand museum on the Seine.", Source: "textgen"},
		provider.TextItem{Kind: "tip", Text: "go early", Source: "textgen"},
		provider.TextItem{Kind: "tip", Text: "book online", Source: "textgen"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, saved)

	a, err := h.store.GetAttraction(h.attraction.ID)
	require.NoError(t, err)
	assert.Equal(t, "A grand museum on the Seine.", a.Summary)

	var tips []datastore.Tip
	require.NoError(t, h.store.DB.Where("attraction_id = ?", h.attraction.ID).Find(&tips).Error)
	assert.Len(t, tips, 2)
}

func TestSinkDoesNotOverwriteExistingSummary(t *testing.T) {
	h := newHarness(t)
	sink := newSink(h)
	require.NoError(t, h.store.UpdateAttractionFields(h.attraction.ID, map[string]any{"summary": "curated"}))
	h.attraction.Summary = "curated"

	saved, err := sink.Apply(context.Background(), h.attraction, []provider.Item{
		provider.TextItem{Kind: "summary", Text: "generated", Source: "textgen"},
	})
	require.NoError(t, err)
	assert.Zero(t, saved)

	a, err := h.store.GetAttraction(h.attraction.ID)
	require.NoError(t, err)
	assert.Equal(t, "curated", a.Summary)
}

func TestSinkLinksNearbyPlacesThroughReconciler(t *testing.T) {
	h := newHarness(t)
	sink := newSink(h)

	placeID := "place-orsay"
	existing := &datastore.Attraction{
		CityID:         h.attraction.CityID,
		Name:           "Musée d'Orsay",
		NormalizedName: reconcile.NormalizeName("Musée d'Orsay"),
		PlaceID:        &placeID,
		Latitude:       48.8600,
		Longitude:      2.3266,
	}
	require.NoError(t, h.store.InsertAttraction(existing))

	saved, err := sink.Apply(context.Background(), h.attraction, []provider.Item{
		provider.NearbyPlaceItem{
			Name:           "Musée d'Orsay",
			PlaceID:        "place-orsay",
			Latitude:       48.8600,
			Longitude:      2.3266,
			DistanceMeters: 800,
			Rating:         4.7,
		},
		provider.NearbyPlaceItem{
			Name:      "Unknown Bistro Terrace",
			PlaceID:   "place-bistro",
			Latitude:  48.8610,
			Longitude: 2.3300,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, saved)

	var edges []datastore.NearbyAttraction
	require.NoError(t, h.store.DB.
		Where("attraction_id = ?", h.attraction.ID).
		Order("place_id").
		Find(&edges).Error)
	require.Len(t, edges, 2)

	// place-bistro: reconciled into a fresh stub entity.
	require.NotNil(t, edges[0].NearbyAttractionID)
	stub, err := h.store.GetAttraction(*edges[0].NearbyAttractionID)
	require.NoError(t, err)
	assert.True(t, stub.NeedsEnrichment)

	// place-orsay: linked to the pre-existing canonical entity.
	require.NotNil(t, edges[1].NearbyAttractionID)
	assert.Equal(t, existing.ID, *edges[1].NearbyAttractionID)
	require.NotNil(t, edges[1].Rating)
	assert.Equal(t, 4.7, *edges[1].Rating)
}
