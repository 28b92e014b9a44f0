// Package provider contains one adapter per external data source. Adapters
// normalize provider responses into tagged page items and translate
// provider-specific failures into exactly one of transient, quota or
// permanent errors. No adapter implements its own retry policy; all retry
// and backoff decisions belong to the fetch run controller.
package provider

import (
	"context"
	"time"

	"github.com/storyboard/enrich-go/internal/datastore"
	"github.com/storyboard/enrich-go/internal/errors"
	"golang.org/x/time/rate"
)

// EndOfStream is the cursor sentinel meaning no more pages exist.
const EndOfStream = "-"

// PageRequest identifies what to fetch and where to resume.
type PageRequest struct {
	Kind           datastore.FetchKind
	AttractionID   uint
	AttractionName string
	CityName       string
	Latitude       float64
	Longitude      float64
	PlaceID        string
	Cursor         string // opaque, owned by the adapter that produced it
	PageSize       int
}

// Item is one normalized unit of enrichment data. The concrete type tags the
// kind; consumers type-switch instead of inspecting provider fields.
type Item interface {
	isPageItem()
}

// ReviewItem is a user review or forum comment.
type ReviewItem struct {
	ExternalID string
	Author     string
	Rating     float64
	Text       string
	Source     string
	PostedAt   time.Time
}

// PhotoItem is a display image reference.
type PhotoItem struct {
	URL         string
	Attribution string
}

// VideoItem is a video platform result.
type VideoItem struct {
	VideoID      string
	Title        string
	ChannelTitle string
	URL          string
	ThumbnailURL string
	PublishedAt  time.Time
}

// NearbyPlaceItem is a provider-reported place near the attraction. It feeds
// the entity reconciler.
type NearbyPlaceItem struct {
	Name             string
	PlaceID          string
	Latitude         float64
	Longitude        float64
	Rating           float64
	UserRatingsTotal int
	PhotoURL         string
	Link             string
	DistanceMeters   float64
}

// ForecastItem is one weather forecast day.
type ForecastItem struct {
	Date        string // YYYY-MM-DD
	TempMin     float64
	TempMax     float64
	Description string
	Icon        string
	Humidity    int
}

// BusyTimeItem is one (day, hour) crowd busyness sample.
type BusyTimeItem struct {
	DayOfWeek int // 0 = Monday
	Hour      int
	Busyness  int // 0-100
}

// TextItem is generated or mined free text: a summary or a visitor tip.
type TextItem struct {
	Kind   string // "summary" or "tip"
	Text   string
	Source string
}

func (ReviewItem) isPageItem()      {}
func (PhotoItem) isPageItem()       {}
func (VideoItem) isPageItem()       {}
func (NearbyPlaceItem) isPageItem() {}
func (ForecastItem) isPageItem()    {}
func (BusyTimeItem) isPageItem()    {}
func (TextItem) isPageItem()        {}

// PageResult is the normalized outcome of one provider page fetch. Malformed
// provider items never appear in Items; they are dropped and counted.
type PageResult struct {
	Items      []Item
	NextCursor string
	IsLastPage bool
	Dropped    int
}

// Adapter is implemented by every external data source.
type Adapter interface {
	// Name returns the stable provider identifier used in fetch state rows,
	// quota queue entries and metrics labels.
	Name() string

	// FetchPage fetches one page. Errors are classified via the errors
	// package: CategoryProviderQuota, CategoryProviderTransient or
	// CategoryProviderData.
	FetchPage(ctx context.Context, req *PageRequest) (*PageResult, error)

	// QuotaWindow returns how long until this provider's quota resets.
	QuotaWindow() time.Duration
}

// Error helpers shared by the adapters.

func quotaError(provider string, err error) error {
	return errors.New(err).
		Component(provider).
		Category(errors.CategoryProviderQuota).
		Build()
}

func transientError(provider string, err error) error {
	return errors.New(err).
		Component(provider).
		Category(errors.CategoryProviderTransient).
		Build()
}

func dataError(provider string, err error) error {
	return errors.New(err).
		Component(provider).
		Category(errors.CategoryProviderData).
		Build()
}

// pacer wraps the per-provider request rate limiter. A nil pacer or a zero
// rate means no pacing.
type pacer struct {
	limiter *rate.Limiter
}

func newPacer(requestsPerMinute int) *pacer {
	if requestsPerMinute <= 0 {
		return &pacer{}
	}
	return &pacer{
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1),
	}
}

// wait blocks until the limiter admits a request or the context is done.
func (p *pacer) wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}
