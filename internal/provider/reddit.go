package provider

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/storyboard/enrich-go/internal/conf"
	"github.com/storyboard/enrich-go/internal/httpclient"
)

// ProviderReddit is the stable name of the forum signal adapter.
const ProviderReddit = "reddit"

// RedditAdapter mines visitor impressions from Reddit search results. It is
// a fallback review source; posts are normalized into unrated reviews.
type RedditAdapter struct {
	settings *conf.RedditSettings
	client   *httpclient.Client
	pace     *pacer
}

// NewRedditAdapter creates the forum signal adapter.
func NewRedditAdapter(settings *conf.RedditSettings, client *httpclient.Client) *RedditAdapter {
	return &RedditAdapter{
		settings: settings,
		client:   client,
		pace:     newPacer(settings.RequestsPerMinute),
	}
}

// Name implements Adapter.
func (r *RedditAdapter) Name() string { return ProviderReddit }

// QuotaWindow implements Adapter.
func (r *RedditAdapter) QuotaWindow() time.Duration { return r.settings.QuotaWindow }

// FetchPage implements Adapter. The cursor is Reddit's "after" fullname. The
// listing payload is only loosely structured, so fields are extracted
// defensively and posts missing usable text are dropped and counted.
func (r *RedditAdapter) FetchPage(ctx context.Context, req *PageRequest) (*PageResult, error) {
	if err := r.pace.wait(ctx); err != nil {
		return nil, transientError(ProviderReddit, err)
	}

	params := url.Values{}
	params.Set("q", fmt.Sprintf("%q %s", req.AttractionName, req.CityName))
	params.Set("sort", "relevance")
	params.Set("limit", fmt.Sprintf("%d", req.PageSize))
	params.Set("raw_json", "1")
	if req.Cursor != "" {
		params.Set("after", req.Cursor)
	}

	headers := map[string]string{}
	if r.settings.UserAgent != "" {
		headers["User-Agent"] = r.settings.UserAgent
	}

	status, body, err := r.client.GetBody(ctx, r.settings.Endpoint+"?"+params.Encode(), headers)
	if err != nil {
		return nil, transientError(ProviderReddit, err)
	}
	switch {
	case status == 429:
		return nil, quotaError(ProviderReddit, fmt.Errorf("reddit rate limited (HTTP 429)"))
	case status == 403:
		return nil, dataError(ProviderReddit, fmt.Errorf("reddit access denied (HTTP 403)"))
	case status >= 500:
		return nil, transientError(ProviderReddit, fmt.Errorf("reddit server error (HTTP %d)", status))
	case status >= 400:
		return nil, dataError(ProviderReddit, fmt.Errorf("reddit request rejected (HTTP %d)", status))
	}

	root, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return nil, transientError(ProviderReddit, fmt.Errorf("error parsing reddit listing: %w", err))
	}

	result := &PageResult{}
	after, err := root.GetString("data", "after")
	if err != nil || after == "" {
		result.IsLastPage = true
		result.NextCursor = EndOfStream
	} else {
		result.NextCursor = after
	}

	children, err := root.GetObjectArray("data", "children")
	if err != nil {
		// An empty or malformed listing ends the stream rather than failing
		// the run; there is nothing retryable about it.
		result.IsLastPage = true
		result.NextCursor = EndOfStream
		return result, nil
	}

	for _, child := range children {
		item, ok := r.postToReview(child)
		if !ok {
			result.Dropped++
			continue
		}
		result.Items = append(result.Items, item)
	}
	if len(children) < req.PageSize {
		result.IsLastPage = true
		result.NextCursor = EndOfStream
	}
	return result, nil
}

func (r *RedditAdapter) postToReview(child *jason.Object) (ReviewItem, bool) {
	id, err := child.GetString("data", "id")
	if err != nil || id == "" {
		return ReviewItem{}, false
	}
	text, err := child.GetString("data", "selftext")
	if err != nil || text == "" {
		// Link posts carry their signal in the title.
		if text, err = child.GetString("data", "title"); err != nil || text == "" {
			return ReviewItem{}, false
		}
	}

	item := ReviewItem{
		ExternalID: "reddit:" + id,
		Text:       text,
		Source:     ProviderReddit,
	}
	if author, err := child.GetString("data", "author"); err == nil {
		item.Author = author
	}
	if created, err := child.GetFloat64("data", "created_utc"); err == nil && created > 0 {
		item.PostedAt = time.Unix(int64(created), 0).UTC()
	}
	return item, true
}
