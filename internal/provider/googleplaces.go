// googleplaces.go: adapter for the Google Places directory. Serves nearby
// places, photos and directory reviews, and exposes the geocoding fallback
// chain used by the entity reconciler.
package provider

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/storyboard/enrich-go/internal/conf"
	"github.com/storyboard/enrich-go/internal/datastore"
	"github.com/storyboard/enrich-go/internal/httpclient"
)

// ProviderPlaces is the stable name of the places directory adapter.
const ProviderPlaces = "places"

// GooglePlacesAdapter fetches from the Places and Geocoding APIs.
type GooglePlacesAdapter struct {
	settings *conf.PlacesSettings
	client   *httpclient.Client
	pace     *pacer
}

// NewGooglePlacesAdapter creates the places directory adapter.
func NewGooglePlacesAdapter(settings *conf.PlacesSettings, client *httpclient.Client) *GooglePlacesAdapter {
	return &GooglePlacesAdapter{
		settings: settings,
		client:   client,
		pace:     newPacer(settings.RequestsPerMinute),
	}
}

// Name implements Adapter.
func (p *GooglePlacesAdapter) Name() string { return ProviderPlaces }

// QuotaWindow implements Adapter.
func (p *GooglePlacesAdapter) QuotaWindow() time.Duration { return p.settings.QuotaWindow }

// Raw response shapes. Only the fields the pipeline consumes are declared.

type placesSearchResponse struct {
	Status        string `json:"status"`
	ErrorMessage  string `json:"error_message"`
	NextPageToken string `json:"next_page_token"`
	Results       []struct {
		PlaceID          string  `json:"place_id"`
		Name             string  `json:"name"`
		Rating           float64 `json:"rating"`
		UserRatingsTotal int     `json:"user_ratings_total"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
		Photos []struct {
			PhotoReference string `json:"photo_reference"`
		} `json:"photos"`
	} `json:"results"`
}

type placeDetailsResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Result       struct {
		PlaceID          string  `json:"place_id"`
		Name             string  `json:"name"`
		FormattedAddress string  `json:"formatted_address"`
		Rating           float64 `json:"rating"`
		UserRatingsTotal int     `json:"user_ratings_total"`
		URL              string  `json:"url"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
		Photos []struct {
			PhotoReference   string   `json:"photo_reference"`
			HTMLAttributions []string `json:"html_attributions"`
		} `json:"photos"`
		Reviews []struct {
			AuthorName string  `json:"author_name"`
			Rating     float64 `json:"rating"`
			Text       string  `json:"text"`
			Time       int64   `json:"time"`
		} `json:"reviews"`
	} `json:"result"`
}

// FetchPage implements Adapter. The cursor shape depends on the kind:
// nearby uses the Places next_page_token verbatim; photos and reviews pages
// come from a single details call with an integer offset cursor.
func (p *GooglePlacesAdapter) FetchPage(ctx context.Context, req *PageRequest) (*PageResult, error) {
	if p.settings.APIKey == "" {
		return nil, dataError(ProviderPlaces, fmt.Errorf("places API key not configured"))
	}
	if err := p.pace.wait(ctx); err != nil {
		return nil, transientError(ProviderPlaces, err)
	}

	switch req.Kind {
	case datastore.KindNearby:
		return p.fetchNearbyPage(ctx, req)
	case datastore.KindPhotos:
		return p.fetchDetailsPage(ctx, req, p.photoItems)
	case datastore.KindReviews:
		return p.fetchDetailsPage(ctx, req, p.reviewItems)
	default:
		return nil, dataError(ProviderPlaces, fmt.Errorf("places adapter does not serve kind %q", req.Kind))
	}
}

func (p *GooglePlacesAdapter) fetchNearbyPage(ctx context.Context, req *PageRequest) (*PageResult, error) {
	params := url.Values{}
	params.Set("key", p.settings.APIKey)
	if req.Cursor != "" {
		params.Set("pagetoken", req.Cursor)
	} else {
		params.Set("location", fmt.Sprintf("%.6f,%.6f", req.Latitude, req.Longitude))
		params.Set("radius", strconv.Itoa(2000))
		params.Set("type", "tourist_attraction")
	}

	var resp placesSearchResponse
	status, err := p.client.GetJSON(ctx, p.settings.Endpoint+"/nearbysearch/json?"+params.Encode(), nil, &resp)
	if err != nil {
		return nil, transientError(ProviderPlaces, err)
	}
	if err := p.classifyStatus(status, resp.Status, resp.ErrorMessage); err != nil {
		return nil, err
	}
	if resp.Status == "ZERO_RESULTS" {
		return &PageResult{IsLastPage: true, NextCursor: EndOfStream}, nil
	}

	result := &PageResult{NextCursor: resp.NextPageToken}
	if resp.NextPageToken == "" {
		result.IsLastPage = true
		result.NextCursor = EndOfStream
	}
	for i := range resp.Results {
		r := &resp.Results[i]
		// A result without a name or place id cannot be reconciled; drop it.
		if r.Name == "" || r.PlaceID == "" {
			result.Dropped++
			continue
		}
		item := NearbyPlaceItem{
			Name:             r.Name,
			PlaceID:          r.PlaceID,
			Latitude:         r.Geometry.Location.Lat,
			Longitude:        r.Geometry.Location.Lng,
			Rating:           r.Rating,
			UserRatingsTotal: r.UserRatingsTotal,
			Link:             "https://www.google.com/maps/place/?q=place_id:" + url.QueryEscape(r.PlaceID),
			DistanceMeters:   haversineMeters(req.Latitude, req.Longitude, r.Geometry.Location.Lat, r.Geometry.Location.Lng),
		}
		if len(r.Photos) > 0 && r.Photos[0].PhotoReference != "" {
			item.PhotoURL = p.photoURL(r.Photos[0].PhotoReference)
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

// fetchDetailsPage serves photos and reviews out of a single details call,
// windowed by an integer offset cursor so the run controller can resume.
func (p *GooglePlacesAdapter) fetchDetailsPage(ctx context.Context, req *PageRequest, extract func(*placeDetailsResponse, int, int) ([]Item, int)) (*PageResult, error) {
	if req.PlaceID == "" {
		return nil, dataError(ProviderPlaces, fmt.Errorf("attraction %d has no place id", req.AttractionID))
	}

	offset := 0
	if req.Cursor != "" {
		n, err := strconv.Atoi(req.Cursor)
		if err != nil {
			return nil, transientError(ProviderPlaces, fmt.Errorf("malformed details cursor %q: %w", req.Cursor, err))
		}
		offset = n
	}

	details, err := p.details(ctx, req.PlaceID)
	if err != nil {
		return nil, err
	}

	items, total := extract(details, offset, req.PageSize)
	result := &PageResult{Items: items}
	next := offset + len(items)
	if next >= total {
		result.IsLastPage = true
		result.NextCursor = EndOfStream
	} else {
		result.NextCursor = strconv.Itoa(next)
	}
	return result, nil
}

func (p *GooglePlacesAdapter) photoItems(details *placeDetailsResponse, offset, limit int) ([]Item, int) {
	photos := details.Result.Photos
	items := make([]Item, 0, limit)
	for i := offset; i < len(photos) && len(items) < limit; i++ {
		if photos[i].PhotoReference == "" {
			continue
		}
		attribution := ""
		if len(photos[i].HTMLAttributions) > 0 {
			attribution = photos[i].HTMLAttributions[0]
		}
		items = append(items, PhotoItem{
			URL:         p.photoURL(photos[i].PhotoReference),
			Attribution: attribution,
		})
	}
	return items, len(photos)
}

func (p *GooglePlacesAdapter) reviewItems(details *placeDetailsResponse, offset, limit int) ([]Item, int) {
	reviews := details.Result.Reviews
	items := make([]Item, 0, limit)
	for i := offset; i < len(reviews) && len(items) < limit; i++ {
		r := reviews[i]
		if r.Text == "" {
			continue
		}
		items = append(items, ReviewItem{
			ExternalID: fmt.Sprintf("places:%s:%d", details.Result.PlaceID, r.Time),
			Author:     r.AuthorName,
			Rating:     r.Rating,
			Text:       r.Text,
			Source:     ProviderPlaces,
			PostedAt:   time.Unix(r.Time, 0),
		})
	}
	return items, len(reviews)
}

func (p *GooglePlacesAdapter) details(ctx context.Context, placeID string) (*placeDetailsResponse, error) {
	params := url.Values{}
	params.Set("place_id", placeID)
	params.Set("fields", "place_id,name,formatted_address,geometry,rating,user_ratings_total,photos,reviews,url")
	params.Set("key", p.settings.APIKey)

	var resp placeDetailsResponse
	status, err := p.client.GetJSON(ctx, p.settings.Endpoint+"/details/json?"+params.Encode(), nil, &resp)
	if err != nil {
		return nil, transientError(ProviderPlaces, err)
	}
	if err := p.classifyStatus(status, resp.Status, resp.ErrorMessage); err != nil {
		return nil, err
	}
	return &resp, nil
}

// classifyStatus maps HTTP and Places API statuses onto the error taxonomy.
func (p *GooglePlacesAdapter) classifyStatus(httpStatus int, apiStatus, message string) error {
	switch {
	case httpStatus == 429:
		return quotaError(ProviderPlaces, fmt.Errorf("places rate limited (HTTP 429)"))
	case httpStatus >= 500:
		return transientError(ProviderPlaces, fmt.Errorf("places server error (HTTP %d)", httpStatus))
	case httpStatus >= 400:
		return dataError(ProviderPlaces, fmt.Errorf("places request rejected (HTTP %d)", httpStatus))
	}
	switch apiStatus {
	case "OK", "ZERO_RESULTS", "":
		return nil
	case "OVER_QUERY_LIMIT", "RESOURCE_EXHAUSTED":
		return quotaError(ProviderPlaces, fmt.Errorf("places quota exhausted: %s", message))
	case "INVALID_REQUEST":
		// A page token that is not ready yet surfaces as INVALID_REQUEST;
		// retrying shortly after succeeds.
		return transientError(ProviderPlaces, fmt.Errorf("places invalid request: %s", message))
	case "UNKNOWN_ERROR":
		return transientError(ProviderPlaces, fmt.Errorf("places unknown error: %s", message))
	default:
		return dataError(ProviderPlaces, fmt.Errorf("places status %s: %s", apiStatus, message))
	}
}

func (p *GooglePlacesAdapter) photoURL(reference string) string {
	return fmt.Sprintf("%s/photo?maxwidth=1200&photo_reference=%s&key=%s",
		p.settings.Endpoint, url.QueryEscape(reference), p.settings.APIKey)
}

// --- geocoding fallback chain, used by the entity reconciler ---

// PlaceDetails is the resolved location of a named venue.
type PlaceDetails struct {
	PlaceID          string
	Name             string
	FormattedAddress string
	Latitude         float64
	Longitude        float64
	Source           string
}

var digitRe = regexp.MustCompile(`\d`)

// lowQualityAddress reports whether a formatted address has no digits,
// which usually means a city-level result rather than a street address.
func lowQualityAddress(addr string) bool {
	return addr == "" || !digitRe.MatchString(addr)
}

// Locate resolves a venue name (optionally scoped by city) to coordinates:
// find-place first, then a text search biased to the city center when the
// first result looks city-level, then the Geocoding API as a last resort.
func (p *GooglePlacesAdapter) Locate(ctx context.Context, name, city string) (*PlaceDetails, error) {
	if err := p.pace.wait(ctx); err != nil {
		return nil, transientError(ProviderPlaces, err)
	}

	query := name
	if city != "" {
		query = name + ", " + city
	}

	if d, err := p.findPlace(ctx, query); err == nil && d != nil && !lowQualityAddress(d.FormattedAddress) {
		return d, nil
	} else if err != nil && errClassIsQuota(err) {
		return nil, err
	}

	if city != "" {
		if d, err := p.textSearch(ctx, query, city); err == nil && d != nil {
			return d, nil
		} else if err != nil && errClassIsQuota(err) {
			return nil, err
		}
	}

	return p.geocode(ctx, query)
}

func (p *GooglePlacesAdapter) findPlace(ctx context.Context, query string) (*PlaceDetails, error) {
	params := url.Values{}
	params.Set("input", query)
	params.Set("inputtype", "textquery")
	params.Set("fields", "place_id")
	params.Set("key", p.settings.APIKey)

	var resp struct {
		Status     string `json:"status"`
		Candidates []struct {
			PlaceID string `json:"place_id"`
		} `json:"candidates"`
	}
	status, err := p.client.GetJSON(ctx, p.settings.Endpoint+"/findplacefromtext/json?"+params.Encode(), nil, &resp)
	if err != nil {
		return nil, transientError(ProviderPlaces, err)
	}
	if err := p.classifyStatus(status, resp.Status, ""); err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, nil
	}
	return p.detailsAsPlace(ctx, resp.Candidates[0].PlaceID, "places_findplace")
}

func (p *GooglePlacesAdapter) textSearch(ctx context.Context, query, city string) (*PlaceDetails, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("type", "tourist_attraction")
	params.Set("key", p.settings.APIKey)

	// Bias to the city center when it geocodes.
	if c, err := p.geocode(ctx, city); err == nil && c != nil {
		params.Set("location", fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude))
		params.Set("radius", strconv.Itoa(p.settings.SearchRadius))
	}

	var resp placesSearchResponse
	status, err := p.client.GetJSON(ctx, p.settings.Endpoint+"/textsearch/json?"+params.Encode(), nil, &resp)
	if err != nil {
		return nil, transientError(ProviderPlaces, err)
	}
	if err := p.classifyStatus(status, resp.Status, resp.ErrorMessage); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	return p.detailsAsPlace(ctx, resp.Results[0].PlaceID, "places_textsearch")
}

func (p *GooglePlacesAdapter) detailsAsPlace(ctx context.Context, placeID, source string) (*PlaceDetails, error) {
	details, err := p.details(ctx, placeID)
	if err != nil {
		return nil, err
	}
	return &PlaceDetails{
		PlaceID:          details.Result.PlaceID,
		Name:             details.Result.Name,
		FormattedAddress: details.Result.FormattedAddress,
		Latitude:         details.Result.Geometry.Location.Lat,
		Longitude:        details.Result.Geometry.Location.Lng,
		Source:           source,
	}, nil
}

func (p *GooglePlacesAdapter) geocode(ctx context.Context, address string) (*PlaceDetails, error) {
	params := url.Values{}
	params.Set("address", address)
	params.Set("key", p.settings.APIKey)

	var resp struct {
		Status  string `json:"status"`
		Results []struct {
			PlaceID          string `json:"place_id"`
			FormattedAddress string `json:"formatted_address"`
			Geometry         struct {
				Location struct {
					Lat float64 `json:"lat"`
					Lng float64 `json:"lng"`
				} `json:"location"`
			} `json:"geometry"`
		} `json:"results"`
	}
	status, err := p.client.GetJSON(ctx, p.settings.GeocodeEndpoint+"?"+params.Encode(), nil, &resp)
	if err != nil {
		return nil, transientError(ProviderPlaces, err)
	}
	if err := p.classifyStatus(status, resp.Status, ""); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	r := resp.Results[0]
	return &PlaceDetails{
		PlaceID:          r.PlaceID,
		FormattedAddress: r.FormattedAddress,
		Latitude:         r.Geometry.Location.Lat,
		Longitude:        r.Geometry.Location.Lng,
		Source:           "geocoding_api",
	}, nil
}
