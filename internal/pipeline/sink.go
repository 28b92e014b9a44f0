// sink.go: persists normalized provider items into the per-kind tables. The
// sink is the only place that inspects concrete item types; the run
// controller stays kind-agnostic.
package pipeline

import (
	"context"

	"github.com/storyboard/enrich-go/internal/datastore"
	"github.com/storyboard/enrich-go/internal/errors"
	"github.com/storyboard/enrich-go/internal/logging"
	"github.com/storyboard/enrich-go/internal/observability/metrics"
	"github.com/storyboard/enrich-go/internal/provider"
	"github.com/storyboard/enrich-go/internal/reconcile"
)

// Sink writes page items for one attraction. Every write path is
// idempotent, so replaying a page after a crash never duplicates rows.
type Sink struct {
	store      datastore.Interface
	reconciler *reconcile.Reconciler
	metrics    *metrics.PipelineMetrics
}

// NewSink creates a sink backed by the given store and reconciler.
func NewSink(store datastore.Interface, reconciler *reconcile.Reconciler, m *metrics.PipelineMetrics) *Sink {
	return &Sink{store: store, reconciler: reconciler, metrics: m}
}

// Apply persists the items of one page and returns how many new rows were
// written. Already-present rows count as applied work but not as new items.
func (s *Sink) Apply(ctx context.Context, attraction *datastore.Attraction, items []provider.Item) (int, error) {
	var (
		reviews   []datastore.Review
		images    []datastore.HeroImage
		videos    []datastore.SocialVideo
		tips      []datastore.Tip
		forecasts []datastore.WeatherForecast
		busy      []datastore.BusyTimeData
		nearby    []provider.NearbyPlaceItem
		summary   string
	)

	for _, item := range items {
		switch v := item.(type) {
		case provider.ReviewItem:
			reviews = append(reviews, datastore.Review{
				AttractionID: attraction.ID,
				ExternalID:   v.ExternalID,
				Author:       v.Author,
				Rating:       v.Rating,
				Text:         v.Text,
				Source:       v.Source,
				PostedAt:     v.PostedAt,
			})
		case provider.PhotoItem:
			images = append(images, datastore.HeroImage{
				AttractionID: attraction.ID,
				URL:          v.URL,
				Attribution:  v.Attribution,
			})
		case provider.VideoItem:
			videos = append(videos, datastore.SocialVideo{
				AttractionID: attraction.ID,
				VideoID:      v.VideoID,
				Title:        v.Title,
				ChannelTitle: v.ChannelTitle,
				URL:          v.URL,
				ThumbnailURL: v.ThumbnailURL,
				PublishedAt:  v.PublishedAt,
			})
		case provider.ForecastItem:
			forecasts = append(forecasts, datastore.WeatherForecast{
				AttractionID: attraction.ID,
				Date:         v.Date,
				TempMin:      v.TempMin,
				TempMax:      v.TempMax,
				Description:  v.Description,
				Icon:         v.Icon,
				Humidity:     v.Humidity,
			})
		case provider.BusyTimeItem:
			busy = append(busy, datastore.BusyTimeData{
				AttractionID: attraction.ID,
				DayOfWeek:    v.DayOfWeek,
				Hour:         v.Hour,
				Busyness:     v.Busyness,
			})
		case provider.NearbyPlaceItem:
			nearby = append(nearby, v)
		case provider.TextItem:
			if v.Kind == "summary" {
				summary = v.Text
			} else {
				tips = append(tips, datastore.Tip{
					AttractionID: attraction.ID,
					Text:         v.Text,
					Source:       v.Source,
				})
			}
		}
	}

	total := 0
	if len(reviews) > 0 {
		n, err := s.store.SaveReviews(attraction.ID, reviews)
		if err != nil {
			return total, err
		}
		total += n
	}
	if len(images) > 0 {
		n, err := s.store.SaveHeroImages(attraction.ID, images)
		if err != nil {
			return total, err
		}
		total += n
	}
	if len(videos) > 0 {
		n, err := s.store.SaveSocialVideos(attraction.ID, videos)
		if err != nil {
			return total, err
		}
		total += n
	}
	if len(tips) > 0 {
		n, err := s.store.SaveTips(attraction.ID, tips)
		if err != nil {
			return total, err
		}
		total += n
	}
	if len(forecasts) > 0 {
		n, err := s.store.SaveWeatherForecast(attraction.ID, forecasts)
		if err != nil {
			return total, err
		}
		total += n
	}
	if len(busy) > 0 {
		n, err := s.store.SaveBusyTimes(attraction.ID, busy)
		if err != nil {
			return total, err
		}
		total += n
	}

	n, err := s.applyNearby(ctx, attraction, nearby)
	total += n
	if err != nil {
		return total, err
	}

	if summary != "" && attraction.Summary == "" {
		if err := s.store.UpdateAttractionFields(attraction.ID, map[string]any{"summary": summary}); err != nil {
			return total, err
		}
		total++
	}
	return total, nil
}

// applyNearby resolves each candidate through the reconciler and upserts the
// nearby edge with its canonical link. A failed resolve degrades to an
// unlinked edge rather than failing the page.
func (s *Sink) applyNearby(ctx context.Context, attraction *datastore.Attraction, candidates []provider.NearbyPlaceItem) (int, error) {
	saved := 0
	for i := range candidates {
		c := &candidates[i]
		link := &datastore.NearbyAttraction{
			AttractionID:   attraction.ID,
			Name:           c.Name,
			PlaceID:        c.PlaceID,
			DistanceMeters: c.DistanceMeters,
			Link:           c.Link,
		}
		if c.Rating > 0 {
			rating := c.Rating
			link.Rating = &rating
		}
		if c.UserRatingsTotal > 0 {
			count := c.UserRatingsTotal
			link.ReviewCount = &count
		}
		if c.PhotoURL != "" {
			photo := c.PhotoURL
			link.ImageURL = &photo
		}

		canonicalID, err := s.reconciler.Resolve(ctx, attraction.CityID, c)
		switch {
		case err == nil:
			link.NearbyAttractionID = &canonicalID
			s.metrics.RecordReconcile("resolved")
		case errors.CategoryOf(err) == errors.CategoryReconciliation:
			s.metrics.RecordReconcile("conflict")
			logging.ForService("pipeline").Warn("nearby place reconciliation conflict",
				"attraction_id", attraction.ID, "candidate", c.Name, "error", err)
		default:
			s.metrics.RecordReconcile("error")
			logging.ForService("pipeline").Warn("nearby place resolve failed",
				"attraction_id", attraction.ID, "candidate", c.Name, "error", err)
		}

		if err := s.store.UpsertNearbyAttraction(link); err != nil {
			return saved, err
		}
		saved++
	}
	return saved, nil
}
