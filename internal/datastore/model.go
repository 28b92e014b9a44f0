// model.go: data model for the attraction catalog and the enrichment pipeline.
package datastore

import "time"

// FetchKind is a category of enrichment data tracked per attraction.
type FetchKind string

const (
	KindReviews FetchKind = "reviews"
	KindPhotos  FetchKind = "photos"
	KindVideos  FetchKind = "videos"
	KindNearby  FetchKind = "nearby"
	KindWeather FetchKind = "weather"
	KindCrowd   FetchKind = "crowd"
)

// AllFetchKinds lists every kind the orchestrator seeds for a new attraction.
var AllFetchKinds = []FetchKind{
	KindReviews, KindPhotos, KindVideos, KindNearby, KindWeather, KindCrowd,
}

// FetchStatus is the lifecycle state of a fetch state row.
type FetchStatus string

const (
	FetchPending     FetchStatus = "pending"
	FetchRunning     FetchStatus = "running"
	FetchDone        FetchStatus = "done"
	FetchRateLimited FetchStatus = "rate_limited"
	FetchFailed      FetchStatus = "failed"
	FetchPaused      FetchStatus = "paused"
)

// Terminal reports whether no further runs will be scheduled for this status.
func (s FetchStatus) Terminal() bool {
	return s == FetchDone || s == FetchFailed || s == FetchPaused
}

// City groups attractions by locality, used to scope fuzzy matching.
type City struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex:idx_cities_name_country;size:128"`
	Country   string `gorm:"uniqueIndex:idx_cities_name_country;size:64"`
	Latitude  float64
	Longitude float64
	CreatedAt time.Time
}

// Attraction is the canonical entity record shared across all data kinds.
// Identity is unified by PlaceID first, normalized name plus proximity second.
type Attraction struct {
	ID              uint    `gorm:"primaryKey"`
	CityID          uint    `gorm:"index"`
	Name            string  `gorm:"size:255"`
	NormalizedName  string  `gorm:"index:idx_attractions_normname;size:255"`
	PlaceID         *string `gorm:"uniqueIndex:idx_attractions_place_id;size:128"` // external place identifier, nil when unknown
	Latitude        float64 `gorm:"index:idx_attractions_lat"`
	Longitude       float64 `gorm:"index:idx_attractions_lng"`
	Address         string  `gorm:"size:512"`
	Rating          float64
	ReviewCount     int
	Summary         string `gorm:"type:text"`
	Source          string `gorm:"size:32"` // provider path that discovered this entity
	NeedsEnrichment bool   `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HeroImage is a display image for an attraction, ordered by position.
type HeroImage struct {
	ID           uint   `gorm:"primaryKey"`
	AttractionID uint   `gorm:"index;uniqueIndex:idx_hero_images_attraction_url"`
	URL          string `gorm:"uniqueIndex:idx_hero_images_attraction_url;size:512"`
	Position     int
	Attribution  string `gorm:"size:255"`
	CreatedAt    time.Time
}

// Review is a single user review collected from a provider.
type Review struct {
	ID           uint   `gorm:"primaryKey"`
	AttractionID uint   `gorm:"index;uniqueIndex:idx_reviews_attraction_external"`
	ExternalID   string `gorm:"uniqueIndex:idx_reviews_attraction_external;size:128"`
	Author       string `gorm:"size:255"`
	Rating       float64
	Text         string `gorm:"type:text"`
	Source       string `gorm:"size:32"`
	PostedAt     time.Time
	CreatedAt    time.Time
}

// Tip is a short visitor tip, either mined from forums or generated.
type Tip struct {
	ID           uint   `gorm:"primaryKey"`
	AttractionID uint   `gorm:"index"`
	Text         string `gorm:"type:text"`
	Source       string `gorm:"size:32"`
	CreatedAt    time.Time
}

// SocialVideo is a video-platform result tied to an attraction.
type SocialVideo struct {
	ID           uint   `gorm:"primaryKey"`
	AttractionID uint   `gorm:"index;uniqueIndex:idx_social_videos_attraction_video"`
	VideoID      string `gorm:"uniqueIndex:idx_social_videos_attraction_video;size:64"`
	Title        string `gorm:"size:255"`
	ChannelTitle string `gorm:"size:255"`
	URL          string `gorm:"size:512"`
	ThumbnailURL string `gorm:"size:512"`
	PublishedAt  time.Time
	CreatedAt    time.Time
}

// NearbyAttraction is an edge from an attraction to a nearby place. It points
// at a canonical attraction when reconciliation has resolved one, and keeps
// denormalized display fields either way.
type NearbyAttraction struct {
	ID                 uint   `gorm:"primaryKey"`
	AttractionID       uint   `gorm:"index;uniqueIndex:idx_nearby_attraction_place"`
	NearbyAttractionID *uint  `gorm:"index"` // canonical link, backfilled by the reconciler
	Name               string `gorm:"uniqueIndex:idx_nearby_attraction_place;size:255"`
	PlaceID            string `gorm:"uniqueIndex:idx_nearby_attraction_place;size:128"`
	DistanceMeters     float64
	Rating             *float64
	ReviewCount        *int
	ImageURL           *string `gorm:"size:512"`
	Link               string  `gorm:"size:512"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// WeatherForecast is one forecast day for an attraction's location.
type WeatherForecast struct {
	ID           uint   `gorm:"primaryKey"`
	AttractionID uint   `gorm:"index;uniqueIndex:idx_weather_attraction_date"`
	Date         string `gorm:"uniqueIndex:idx_weather_attraction_date;size:10"` // YYYY-MM-DD
	TempMin      float64
	TempMax      float64
	Description  string `gorm:"size:128"`
	Icon         string `gorm:"size:16"`
	Humidity     int
	CreatedAt    time.Time
}

// BusyTimeData is one (day, hour) busyness sample from the crowd predictor.
type BusyTimeData struct {
	ID           uint `gorm:"primaryKey"`
	AttractionID uint `gorm:"index;uniqueIndex:idx_busy_attraction_day_hour"`
	DayOfWeek    int  `gorm:"uniqueIndex:idx_busy_attraction_day_hour"` // 0 = Monday
	Hour         int  `gorm:"uniqueIndex:idx_busy_attraction_day_hour"`
	Busyness     int  // 0-100
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FetchState is the durable record of fetch progress for one
// (attraction, kind) pair. The unique index enforces the invariant of a
// single row, and therefore at most one non-terminal state, per pair.
// Only the fetch run controller mutates these rows.
type FetchState struct {
	ID             uint      `gorm:"primaryKey"`
	AttractionID   uint      `gorm:"uniqueIndex:idx_fetch_states_attraction_kind"`
	Kind           FetchKind `gorm:"uniqueIndex:idx_fetch_states_attraction_kind;size:16"`
	Provider       string    `gorm:"size:32"` // provider that owns the current cursor
	ItemsTarget    int
	ItemsCollected int
	Cursor         string      `gorm:"size:512"` // opaque, provider specific
	Status         FetchStatus `gorm:"index;size:16"`
	RetryCount     int
	MaxRetries     int
	NextRunAt      time.Time `gorm:"index"`
	LastError      string    `gorm:"size:1024"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Quota retry entry statuses.
const (
	QuotaRetryPending    = "pending"
	QuotaRetryProcessing = "processing"
	QuotaRetryCompleted  = "completed"
	QuotaRetryFailed     = "failed"
)

// QuotaRetryEntry queues a fetch that failed on quota exhaustion for retry
// once the provider's quota window has reset.
type QuotaRetryEntry struct {
	ID           uint      `gorm:"primaryKey"`
	AttractionID uint      `gorm:"uniqueIndex:idx_quota_retry_attraction_kind_provider"`
	Kind         FetchKind `gorm:"uniqueIndex:idx_quota_retry_attraction_kind_provider;size:16"`
	Provider     string    `gorm:"uniqueIndex:idx_quota_retry_attraction_kind_provider;index:idx_quota_retry_due;size:32"`
	Status       string    `gorm:"index:idx_quota_retry_due;size:16"`
	RetryCount   int
	NextRetryAt  time.Time `gorm:"index:idx_quota_retry_due"`
	LastRetryAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PipelineRun records one orchestrator sweep for observability. Write-once
// during the run, closed on completion or failure.
type PipelineRun struct {
	ID          uint   `gorm:"primaryKey"`
	RunID       string `gorm:"uniqueIndex;size:36"`
	StartedAt   time.Time
	FinishedAt  *time.Time
	Status      string `gorm:"size:16"` // running, completed, failed
	Processed   int
	Succeeded   int
	Failed      int
	RateLimited int
	Metadata    string `gorm:"type:text"`
}

// SystemAlert persists operator alerts emitted through the event bus.
type SystemAlert struct {
	ID        uint   `gorm:"primaryKey"`
	Type      string `gorm:"index;size:64"`
	Severity  string `gorm:"size:16"`
	Title     string `gorm:"size:255"`
	Message   string `gorm:"type:text"`
	Context   string `gorm:"type:text"` // JSON-encoded key/value details
	CreatedAt time.Time
}
