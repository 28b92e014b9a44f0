// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"time"

	"github.com/storyboard/enrich-go/internal/conf"
	"gorm.io/gorm"
)

// Interface abstracts the underlying database implementation and defines the
// operations the pipeline needs. All mutation of fetch state and of the
// quota queue goes through the atomic claim/commit operations below.
type Interface interface {
	Open() error
	Close() error

	// fetch state
	GetOrCreateFetchState(attractionID uint, kind FetchKind, target, maxRetries int) (*FetchState, error)
	ClaimFetchState(attractionID uint, kind FetchKind, now time.Time) (*FetchState, error)
	CommitFetchState(state *FetchState) error
	ResetStaleFetchRuns(olderThan time.Duration) (int64, error)
	ListDueFetchStates(now time.Time, limit int) ([]FetchState, error)
	ReleaseFetchState(attractionID uint, kind FetchKind, status FetchStatus, nextRunAt time.Time) (int64, error)

	// attractions and cities
	GetAttraction(id uint) (*Attraction, error)
	GetAttractionByPlaceID(placeID string) (*Attraction, error)
	FindAttractionsNear(cityID uint, lat, lng, radiusMeters float64) ([]Attraction, error)
	InsertAttraction(a *Attraction) error
	UpdateAttractionFields(id uint, fields map[string]any) error
	ListAttractionsNeedingEnrichment(limit int) ([]Attraction, error)
	GetCity(id uint) (*City, error)
	GetOrCreateCity(name, country string, lat, lng float64) (*City, error)

	// per-kind sinks
	SaveReviews(attractionID uint, reviews []Review) (int, error)
	SaveHeroImages(attractionID uint, images []HeroImage) (int, error)
	SaveSocialVideos(attractionID uint, videos []SocialVideo) (int, error)
	SaveTips(attractionID uint, tips []Tip) (int, error)
	SaveWeatherForecast(attractionID uint, days []WeatherForecast) (int, error)
	SaveBusyTimes(attractionID uint, samples []BusyTimeData) (int, error)
	UpsertNearbyAttraction(link *NearbyAttraction) error
	BackfillNearbyLinks() (int64, error)

	// quota retry queue
	EnqueueQuotaRetry(attractionID uint, kind FetchKind, provider string, nextRetryAt time.Time) error
	ClaimDueQuotaRetries(provider string, now time.Time, limit int) ([]QuotaRetryEntry, error)
	CompleteQuotaRetry(id uint) error
	RescheduleQuotaRetry(id uint, nextRetryAt time.Time) error
	FailQuotaRetry(id uint) error

	// pipeline runs
	CreatePipelineRun(run *PipelineRun) error
	ClosePipelineRun(run *PipelineRun) error

	// alerts
	SaveSystemAlert(alert *SystemAlert) error
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB
}

// New creates a store instance based on the configured output.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return nil
	}
}

// Close releases the underlying SQL connection pool.
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return nil
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
