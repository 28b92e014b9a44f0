package provider

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/storyboard/enrich-go/internal/conf"
	"github.com/storyboard/enrich-go/internal/errors"
)

// ProviderYouTube is the stable name of the video search adapter.
const ProviderYouTube = "youtube"

// YouTubeAdapter fetches travel videos via the YouTube Data API.
type YouTubeAdapter struct {
	settings *conf.YouTubeSettings
	service  *youtube.Service
	pace     *pacer
}

// NewYouTubeAdapter creates the video search adapter.
func NewYouTubeAdapter(settings *conf.YouTubeSettings) (*YouTubeAdapter, error) {
	if settings.APIKey == "" {
		return nil, fmt.Errorf("youtube API key not configured")
	}
	service, err := youtube.NewService(context.Background(), option.WithAPIKey(settings.APIKey))
	if err != nil {
		return nil, fmt.Errorf("error creating youtube service: %w", err)
	}
	return &YouTubeAdapter{
		settings: settings,
		service:  service,
		pace:     newPacer(settings.RequestsPerMinute),
	}, nil
}

// Name implements Adapter.
func (y *YouTubeAdapter) Name() string { return ProviderYouTube }

// QuotaWindow implements Adapter. The Data API quota resets daily at
// midnight Pacific; the configured window approximates that.
func (y *YouTubeAdapter) QuotaWindow() time.Duration { return y.settings.QuotaWindow }

// FetchPage implements Adapter. The cursor is the API's page token.
func (y *YouTubeAdapter) FetchPage(ctx context.Context, req *PageRequest) (*PageResult, error) {
	if err := y.pace.wait(ctx); err != nil {
		return nil, transientError(ProviderYouTube, err)
	}

	call := y.service.Search.List([]string{"snippet"}).
		Q(req.AttractionName + " " + req.CityName + " travel").
		Type("video").
		VideoEmbeddable("true").
		SafeSearch("strict").
		MaxResults(int64(req.PageSize)).
		Context(ctx)
	if req.Cursor != "" {
		call = call.PageToken(req.Cursor)
	}
	if y.settings.Region != "" {
		call = call.RegionCode(y.settings.Region)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, y.classify(err)
	}

	result := &PageResult{NextCursor: resp.NextPageToken}
	if resp.NextPageToken == "" {
		result.IsLastPage = true
		result.NextCursor = EndOfStream
	}
	for _, item := range resp.Items {
		if item.Id == nil || item.Id.VideoId == "" || item.Snippet == nil {
			result.Dropped++
			continue
		}
		video := VideoItem{
			VideoID:      item.Id.VideoId,
			Title:        item.Snippet.Title,
			ChannelTitle: item.Snippet.ChannelTitle,
			URL:          "https://www.youtube.com/watch?v=" + item.Id.VideoId,
		}
		if item.Snippet.Thumbnails != nil && item.Snippet.Thumbnails.High != nil {
			video.ThumbnailURL = item.Snippet.Thumbnails.High.Url
		}
		if ts, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
			video.PublishedAt = ts
		}
		result.Items = append(result.Items, video)
	}
	return result, nil
}

// classify maps Data API errors onto the error taxonomy. Quota exhaustion
// arrives as HTTP 403 with a quota reason, not as HTTP 429.
func (y *YouTubeAdapter) classify(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return transientError(ProviderYouTube, err)
	}
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "quotaExceeded", "dailyLimitExceeded", "rateLimitExceeded", "userRateLimitExceeded":
			return quotaError(ProviderYouTube, fmt.Errorf("youtube quota exhausted: %s", item.Reason))
		}
	}
	switch {
	case apiErr.Code == 429:
		return quotaError(ProviderYouTube, fmt.Errorf("youtube rate limited (HTTP 429)"))
	case apiErr.Code >= 500:
		return transientError(ProviderYouTube, fmt.Errorf("youtube server error (HTTP %d)", apiErr.Code))
	default:
		return dataError(ProviderYouTube, fmt.Errorf("youtube request rejected (HTTP %d): %s", apiErr.Code, apiErr.Message))
	}
}
