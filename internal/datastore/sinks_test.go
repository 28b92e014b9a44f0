package datastore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveReviewsIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	a := seedAttraction(t, store, "louvre")

	reviews := []Review{
		{ExternalID: "places:x:1", Author: "a", Rating: 4, Text: "great", Source: "places", PostedAt: time.Now()},
		{ExternalID: "places:x:2", Author: "b", Rating: 5, Text: "superb", Source: "places", PostedAt: time.Now()},
	}
	saved, err := store.SaveReviews(a.ID, reviews)
	require.NoError(t, err)
	assert.Equal(t, 2, saved)

	saved, err = store.SaveReviews(a.ID, reviews)
	require.NoError(t, err)
	assert.Equal(t, 0, saved, "replaying the same page must write nothing")
}

func TestSaveTipsDedupesByText(t *testing.T) {
	store := newTestStore(t)
	a := seedAttraction(t, store, "louvre")

	tips := []Tip{
		{Text: "go early", Source: "textgen"},
		{Text: "buy tickets online", Source: "textgen"},
	}
	saved, err := store.SaveTips(a.ID, tips)
	require.NoError(t, err)
	assert.Equal(t, 2, saved)

	saved, err = store.SaveTips(a.ID, []Tip{{Text: "go early", Source: "reddit"}})
	require.NoError(t, err)
	assert.Equal(t, 0, saved)
}

func TestSaveWeatherForecastUpserts(t *testing.T) {
	store := newTestStore(t)
	a := seedAttraction(t, store, "louvre")

	_, err := store.SaveWeatherForecast(a.ID, []WeatherForecast{
		{Date: "2026-09-01", TempMin: 12, TempMax: 21, Description: "clear"},
	})
	require.NoError(t, err)

	_, err = store.SaveWeatherForecast(a.ID, []WeatherForecast{
		{Date: "2026-09-01", TempMin: 13, TempMax: 24, Description: "cloudy"},
	})
	require.NoError(t, err)

	var rows []WeatherForecast
	require.NoError(t, store.DB.Where("attraction_id = ?", a.ID).Find(&rows).Error)
	require.Len(t, rows, 1, "same date must update in place")
	assert.Equal(t, 24.0, rows[0].TempMax)
	assert.Equal(t, "cloudy", rows[0].Description)
}

func TestSaveBusyTimesUpserts(t *testing.T) {
	store := newTestStore(t)
	a := seedAttraction(t, store, "louvre")

	_, err := store.SaveBusyTimes(a.ID, []BusyTimeData{{DayOfWeek: 0, Hour: 10, Busyness: 40}})
	require.NoError(t, err)
	_, err = store.SaveBusyTimes(a.ID, []BusyTimeData{{DayOfWeek: 0, Hour: 10, Busyness: 65}})
	require.NoError(t, err)

	var rows []BusyTimeData
	require.NoError(t, store.DB.Where("attraction_id = ?", a.ID).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, 65, rows[0].Busyness)
}

func TestUpsertNearbyAttractionLinksAndUpdates(t *testing.T) {
	store := newTestStore(t)
	a := seedAttraction(t, store, "louvre")
	target := seedAttraction(t, store, "orangerie")

	link := &NearbyAttraction{
		AttractionID:   a.ID,
		Name:           "Orangerie",
		PlaceID:        "place-orangerie",
		DistanceMeters: 420,
	}
	require.NoError(t, store.UpsertNearbyAttraction(link))

	// Second pass resolves the canonical entity and fills display fields.
	rating := 4.6
	link2 := &NearbyAttraction{
		AttractionID:       a.ID,
		NearbyAttractionID: &target.ID,
		Name:               "Orangerie",
		PlaceID:            "place-orangerie",
		DistanceMeters:     420,
		Rating:             &rating,
	}
	require.NoError(t, store.UpsertNearbyAttraction(link2))

	var rows []NearbyAttraction
	require.NoError(t, store.DB.Where("attraction_id = ?", a.ID).Find(&rows).Error)
	require.Len(t, rows, 1, "same (attraction, place, name) must stay a single edge")
	require.NotNil(t, rows[0].NearbyAttractionID)
	assert.Equal(t, target.ID, *rows[0].NearbyAttractionID)
	require.NotNil(t, rows[0].Rating)
	assert.Equal(t, 4.6, *rows[0].Rating)
}

func TestBackfillNearbyLinks(t *testing.T) {
	store := newTestStore(t)
	a := seedAttraction(t, store, "louvre")
	target := seedAttraction(t, store, "orangerie")

	require.NoError(t, store.UpdateAttractionFields(target.ID, map[string]any{
		"rating": 4.5, "review_count": 1200,
	}))
	_, err := store.SaveHeroImages(target.ID, []HeroImage{
		{URL: "https://img.example/orangerie-2.jpg", Position: 2},
		{URL: "https://img.example/orangerie-1.jpg", Position: 1},
	})
	require.NoError(t, err)

	require.NoError(t, store.UpsertNearbyAttraction(&NearbyAttraction{
		AttractionID:       a.ID,
		NearbyAttractionID: &target.ID,
		Name:               "Orangerie",
		PlaceID:            "place-orangerie",
	}))

	updated, err := store.BackfillNearbyLinks()
	require.NoError(t, err)
	assert.EqualValues(t, 1, updated)

	var row NearbyAttraction
	require.NoError(t, store.DB.Where("attraction_id = ?", a.ID).First(&row).Error)
	require.NotNil(t, row.Rating)
	assert.Equal(t, 4.5, *row.Rating)
	require.NotNil(t, row.ReviewCount)
	assert.Equal(t, 1200, *row.ReviewCount)
	require.NotNil(t, row.ImageURL)
	assert.Equal(t, "https://img.example/orangerie-1.jpg", *row.ImageURL, "first image by position wins")

	// A second pass finds nothing left to fill.
	updated, err = store.BackfillNearbyLinks()
	require.NoError(t, err)
	assert.EqualValues(t, 0, updated)
}
