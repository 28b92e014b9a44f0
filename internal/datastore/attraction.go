// attraction.go: canonical entity catalog queries used by the reconciler and
// the orchestrator.
package datastore

import (
	"math"

	"github.com/storyboard/enrich-go/internal/errors"
	"gorm.io/gorm"
)

// GetAttraction retrieves an attraction by ID.
func (ds *DataStore) GetAttraction(id uint) (*Attraction, error) {
	var a Attraction
	if err := ds.DB.First(&a, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Newf("attraction %d not found", id).
				Component("datastore").
				Category(errors.CategoryNotFound).
				Build()
		}
		return nil, errors.New(err).Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	return &a, nil
}

// GetAttractionByPlaceID looks up an attraction by its external place
// identifier. Returns (nil, nil) when no match exists.
func (ds *DataStore) GetAttractionByPlaceID(placeID string) (*Attraction, error) {
	if placeID == "" {
		return nil, nil
	}
	var a Attraction
	err := ds.DB.Where("place_id = ?", placeID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(err).Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	return &a, nil
}

// FindAttractionsNear returns attractions in the same city inside a bounding
// box around (lat, lng). The box over-approximates the radius; the caller
// applies the exact distance check.
func (ds *DataStore) FindAttractionsNear(cityID uint, lat, lng, radiusMeters float64) ([]Attraction, error) {
	latDelta := radiusMeters / 111_000.0
	lngDelta := latDelta
	if cos := math.Cos(lat * math.Pi / 180); cos > 0.01 {
		lngDelta = latDelta / cos
	}

	var matches []Attraction
	q := ds.DB.
		Where("latitude BETWEEN ? AND ?", lat-latDelta, lat+latDelta).
		Where("longitude BETWEEN ? AND ?", lng-lngDelta, lng+lngDelta)
	if cityID != 0 {
		q = q.Where("city_id = ?", cityID)
	}
	if err := q.Find(&matches).Error; err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "find_attractions_near").
			Build()
	}
	return matches, nil
}

// InsertAttraction creates a new canonical attraction.
func (ds *DataStore) InsertAttraction(a *Attraction) error {
	if err := ds.DB.Create(a).Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "insert_attraction").
			Context("name", a.Name).
			Build()
	}
	return nil
}

// UpdateAttractionFields updates specific fields of an attraction.
func (ds *DataStore) UpdateAttractionFields(id uint, fields map[string]any) error {
	if err := ds.DB.Model(&Attraction{}).Where("id = ?", id).Updates(fields).Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "update_attraction").
			Context("attraction_id", id).
			Build()
	}
	return nil
}

// ListAttractionsNeedingEnrichment returns attractions flagged for
// enrichment, oldest first.
func (ds *DataStore) ListAttractionsNeedingEnrichment(limit int) ([]Attraction, error) {
	var attractions []Attraction
	err := ds.DB.
		Where("needs_enrichment = ?", true).
		Order("created_at").
		Limit(limit).
		Find(&attractions).Error
	if err != nil {
		return nil, errors.New(err).Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	return attractions, nil
}

// GetCity retrieves a city by ID.
func (ds *DataStore) GetCity(id uint) (*City, error) {
	var c City
	if err := ds.DB.First(&c, id).Error; err != nil {
		return nil, errors.New(err).Component("datastore").Category(errors.CategoryDatabase).Build()
	}
	return &c, nil
}

// GetOrCreateCity returns the city row for (name, country), creating it with
// the given center coordinates when missing.
func (ds *DataStore) GetOrCreateCity(name, country string, lat, lng float64) (*City, error) {
	city := City{Name: name, Country: country, Latitude: lat, Longitude: lng}
	err := ds.DB.
		Where(&City{Name: name, Country: country}).
		Attrs(city).
		FirstOrCreate(&city).Error
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "get_or_create_city").
			Context("city", name).
			Build()
	}
	return &city, nil
}
