package provider

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/storyboard/enrich-go/internal/conf"
	"github.com/storyboard/enrich-go/internal/httpclient"
)

// ProviderBestTime is the stable name of the crowd forecast adapter.
const ProviderBestTime = "besttime"

// BestTimeAdapter fetches hourly crowd forecasts from the BestTime API.
type BestTimeAdapter struct {
	settings *conf.BestTimeSettings
	client   *httpclient.Client
	pace     *pacer
}

// NewBestTimeAdapter creates the crowd forecast adapter.
func NewBestTimeAdapter(settings *conf.BestTimeSettings, client *httpclient.Client) *BestTimeAdapter {
	return &BestTimeAdapter{
		settings: settings,
		client:   client,
		pace:     newPacer(settings.RequestsPerMinute),
	}
}

// Name implements Adapter.
func (b *BestTimeAdapter) Name() string { return ProviderBestTime }

// QuotaWindow implements Adapter.
func (b *BestTimeAdapter) QuotaWindow() time.Duration { return b.settings.QuotaWindow }

type bestTimeForecastResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Analysis []struct {
		DayInfo struct {
			DayInt int `json:"day_int"` // 0 = Monday
		} `json:"day_info"`
		DayRaw []int `json:"day_raw"` // 24 hourly busyness values, 0-100
	} `json:"analysis"`
}

// FetchPage implements Adapter. One call returns the full week grid, so the
// crowd forecast is always a single page.
func (b *BestTimeAdapter) FetchPage(ctx context.Context, req *PageRequest) (*PageResult, error) {
	if b.settings.APIKey == "" {
		return nil, dataError(ProviderBestTime, fmt.Errorf("besttime API key not configured"))
	}
	if err := b.pace.wait(ctx); err != nil {
		return nil, transientError(ProviderBestTime, err)
	}

	params := url.Values{}
	params.Set("api_key_private", b.settings.APIKey)
	params.Set("venue_name", req.AttractionName)
	params.Set("venue_address", req.CityName)

	var resp bestTimeForecastResponse
	status, err := b.client.GetJSON(ctx, b.settings.Endpoint+"?"+params.Encode(), nil, &resp)
	if err != nil {
		return nil, transientError(ProviderBestTime, err)
	}
	switch {
	case status == 429:
		return nil, quotaError(ProviderBestTime, fmt.Errorf("besttime rate limited (HTTP 429)"))
	case status == 402:
		return nil, quotaError(ProviderBestTime, fmt.Errorf("besttime credits exhausted (HTTP 402)"))
	case status >= 500:
		return nil, transientError(ProviderBestTime, fmt.Errorf("besttime server error (HTTP %d)", status))
	case status >= 400:
		return nil, dataError(ProviderBestTime, fmt.Errorf("besttime request rejected (HTTP %d): %s", status, resp.Message))
	}
	if resp.Status != "" && resp.Status != "OK" {
		// BestTime reports "venue not found" style failures with HTTP 200.
		return nil, dataError(ProviderBestTime, fmt.Errorf("besttime status %s: %s", resp.Status, resp.Message))
	}

	result := &PageResult{IsLastPage: true, NextCursor: EndOfStream}
	for _, day := range resp.Analysis {
		if day.DayInfo.DayInt < 0 || day.DayInfo.DayInt > 6 {
			result.Dropped++
			continue
		}
		for hour, busyness := range day.DayRaw {
			if hour > 23 {
				result.Dropped++
				break
			}
			if busyness < 0 {
				busyness = 0
			}
			if busyness > 100 {
				busyness = 100
			}
			result.Items = append(result.Items, BusyTimeItem{
				DayOfWeek: day.DayInfo.DayInt,
				Hour:      hour,
				Busyness:  busyness,
			})
		}
	}
	return result, nil
}
