// sinks.go: per-kind persistence of fetched items. All writes are idempotent
// so a page replayed after a crash never duplicates rows.
package datastore

import (
	"github.com/storyboard/enrich-go/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (ds *DataStore) sinkError(err error, operation string, attractionID uint) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Context("attraction_id", attractionID).
		Build()
}

// SaveReviews inserts reviews, skipping ones already present for the
// attraction. Returns the number of rows actually written.
func (ds *DataStore) SaveReviews(attractionID uint, reviews []Review) (int, error) {
	saved := 0
	for i := range reviews {
		reviews[i].AttractionID = attractionID
		res := ds.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&reviews[i])
		if res.Error != nil {
			return saved, ds.sinkError(res.Error, "save_reviews", attractionID)
		}
		saved += int(res.RowsAffected)
	}
	return saved, nil
}

// SaveHeroImages inserts hero images, skipping duplicates by URL.
func (ds *DataStore) SaveHeroImages(attractionID uint, images []HeroImage) (int, error) {
	saved := 0
	for i := range images {
		images[i].AttractionID = attractionID
		res := ds.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&images[i])
		if res.Error != nil {
			return saved, ds.sinkError(res.Error, "save_hero_images", attractionID)
		}
		saved += int(res.RowsAffected)
	}
	return saved, nil
}

// SaveSocialVideos inserts videos, skipping duplicates by video ID.
func (ds *DataStore) SaveSocialVideos(attractionID uint, videos []SocialVideo) (int, error) {
	saved := 0
	for i := range videos {
		videos[i].AttractionID = attractionID
		res := ds.DB.Clauses(clause.OnConflict{DoNothing: true}).Create(&videos[i])
		if res.Error != nil {
			return saved, ds.sinkError(res.Error, "save_social_videos", attractionID)
		}
		saved += int(res.RowsAffected)
	}
	return saved, nil
}

// SaveTips inserts visitor tips.
func (ds *DataStore) SaveTips(attractionID uint, tips []Tip) (int, error) {
	saved := 0
	for i := range tips {
		tips[i].AttractionID = attractionID
		// Tips carry no stable external ID; dedupe on exact text.
		var existing Tip
		err := ds.DB.Where("attraction_id = ? AND text = ?", attractionID, tips[i].Text).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return saved, ds.sinkError(err, "save_tips", attractionID)
		}
		if err := ds.DB.Create(&tips[i]).Error; err != nil {
			return saved, ds.sinkError(err, "save_tips", attractionID)
		}
		saved++
	}
	return saved, nil
}

// SaveWeatherForecast upserts forecast days keyed by (attraction, date).
func (ds *DataStore) SaveWeatherForecast(attractionID uint, days []WeatherForecast) (int, error) {
	saved := 0
	for i := range days {
		days[i].AttractionID = attractionID
		res := ds.DB.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "attraction_id"}, {Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{"temp_min", "temp_max", "description", "icon", "humidity"}),
		}).Create(&days[i])
		if res.Error != nil {
			return saved, ds.sinkError(res.Error, "save_weather_forecast", attractionID)
		}
		saved++
	}
	return saved, nil
}

// SaveBusyTimes upserts busyness samples keyed by (attraction, day, hour).
func (ds *DataStore) SaveBusyTimes(attractionID uint, samples []BusyTimeData) (int, error) {
	saved := 0
	for i := range samples {
		samples[i].AttractionID = attractionID
		res := ds.DB.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "attraction_id"}, {Name: "day_of_week"}, {Name: "hour"}},
			DoUpdates: clause.AssignmentColumns([]string{"busyness"}),
		}).Create(&samples[i])
		if res.Error != nil {
			return saved, ds.sinkError(res.Error, "save_busy_times", attractionID)
		}
		saved++
	}
	return saved, nil
}

// UpsertNearbyAttraction creates or updates a nearby edge. The canonical link
// and display fields win over older values; repeated runs are safe.
func (ds *DataStore) UpsertNearbyAttraction(link *NearbyAttraction) error {
	var existing NearbyAttraction
	err := ds.DB.
		Where("attraction_id = ? AND place_id = ? AND name = ?", link.AttractionID, link.PlaceID, link.Name).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := ds.DB.Create(link).Error; err != nil {
			return ds.sinkError(err, "upsert_nearby", link.AttractionID)
		}
		return nil
	case err != nil:
		return ds.sinkError(err, "upsert_nearby", link.AttractionID)
	}

	updates := map[string]any{
		"distance_meters": link.DistanceMeters,
		"link":            link.Link,
	}
	if link.NearbyAttractionID != nil {
		updates["nearby_attraction_id"] = *link.NearbyAttractionID
	}
	if link.Rating != nil {
		updates["rating"] = *link.Rating
	}
	if link.ReviewCount != nil {
		updates["review_count"] = *link.ReviewCount
	}
	if link.ImageURL != nil {
		updates["image_url"] = *link.ImageURL
	}
	if err := ds.DB.Model(&NearbyAttraction{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
		return ds.sinkError(err, "upsert_nearby", link.AttractionID)
	}
	link.ID = existing.ID
	return nil
}

// BackfillNearbyLinks fills missing rating, review count and image URL on
// nearby rows that have a canonical link, copying from the linked attraction
// and its first hero image by position. Idempotent: rows already filled are
// left alone. Returns the number of rows updated.
func (ds *DataStore) BackfillNearbyLinks() (int64, error) {
	var rows []NearbyAttraction
	err := ds.DB.
		Where("nearby_attraction_id IS NOT NULL").
		Where("rating IS NULL OR review_count IS NULL OR image_url IS NULL").
		Find(&rows).Error
	if err != nil {
		return 0, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "backfill_nearby").
			Build()
	}

	var updated int64
	for i := range rows {
		row := &rows[i]
		target, err := ds.GetAttraction(*row.NearbyAttractionID)
		if err != nil {
			continue // broken link, surfaced by reconciliation elsewhere
		}

		updates := map[string]any{}
		if row.Rating == nil && target.Rating > 0 {
			updates["rating"] = target.Rating
		}
		if row.ReviewCount == nil && target.ReviewCount > 0 {
			updates["review_count"] = target.ReviewCount
		}
		if row.ImageURL == nil {
			var hero HeroImage
			err := ds.DB.
				Where("attraction_id = ?", target.ID).
				Order("position").
				First(&hero).Error
			if err == nil {
				updates["image_url"] = hero.URL
			}
		}
		if len(updates) == 0 {
			continue
		}
		if err := ds.DB.Model(&NearbyAttraction{}).Where("id = ?", row.ID).Updates(updates).Error; err != nil {
			return updated, errors.New(err).
				Component("datastore").
				Category(errors.CategoryDatabase).
				Context("operation", "backfill_nearby_update").
				Build()
		}
		updated++
	}
	return updated, nil
}
