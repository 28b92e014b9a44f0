package provider

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/storyboard/enrich-go/internal/conf"
	"github.com/storyboard/enrich-go/internal/httpclient"
)

// ProviderOpenWeather is the stable name of the weather forecast adapter.
const ProviderOpenWeather = "openweather"

// OpenWeatherAdapter fetches daily forecasts from the OpenWeather API.
type OpenWeatherAdapter struct {
	settings *conf.OpenWeatherSettings
	client   *httpclient.Client
	pace     *pacer
}

// NewOpenWeatherAdapter creates the weather forecast adapter.
func NewOpenWeatherAdapter(settings *conf.OpenWeatherSettings, client *httpclient.Client) *OpenWeatherAdapter {
	return &OpenWeatherAdapter{
		settings: settings,
		client:   client,
		pace:     newPacer(settings.RequestsPerMinute),
	}
}

// Name implements Adapter.
func (w *OpenWeatherAdapter) Name() string { return ProviderOpenWeather }

// QuotaWindow implements Adapter.
func (w *OpenWeatherAdapter) QuotaWindow() time.Duration { return w.settings.QuotaWindow }

type openWeatherForecastResponse struct {
	Cod  any `json:"cod"` // string in error payloads, number otherwise
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			TempMin  float64 `json:"temp_min"`
			TempMax  float64 `json:"temp_max"`
			Humidity int     `json:"humidity"`
		} `json:"main"`
		Weather []struct {
			Description string `json:"description"`
			Icon        string `json:"icon"`
		} `json:"weather"`
	} `json:"list"`
}

// FetchPage implements Adapter. The forecast is a single page: the provider
// returns the whole horizon in one call, aggregated here to one item per day.
func (w *OpenWeatherAdapter) FetchPage(ctx context.Context, req *PageRequest) (*PageResult, error) {
	if w.settings.APIKey == "" {
		return nil, dataError(ProviderOpenWeather, fmt.Errorf("openweather API key not configured"))
	}
	if err := w.pace.wait(ctx); err != nil {
		return nil, transientError(ProviderOpenWeather, err)
	}

	params := url.Values{}
	params.Set("lat", fmt.Sprintf("%.6f", req.Latitude))
	params.Set("lon", fmt.Sprintf("%.6f", req.Longitude))
	params.Set("appid", w.settings.APIKey)
	if w.settings.Units != "" {
		params.Set("units", w.settings.Units)
	}

	var resp openWeatherForecastResponse
	status, err := w.client.GetJSON(ctx, w.settings.Endpoint+"?"+params.Encode(), nil, &resp)
	if err != nil {
		return nil, transientError(ProviderOpenWeather, err)
	}
	switch {
	case status == 429:
		return nil, quotaError(ProviderOpenWeather, fmt.Errorf("openweather rate limited (HTTP 429)"))
	case status == 401 || status == 403:
		return nil, dataError(ProviderOpenWeather, fmt.Errorf("openweather auth rejected (HTTP %d)", status))
	case status >= 500:
		return nil, transientError(ProviderOpenWeather, fmt.Errorf("openweather server error (HTTP %d)", status))
	case status >= 400:
		return nil, dataError(ProviderOpenWeather, fmt.Errorf("openweather request rejected (HTTP %d)", status))
	}

	days := w.settings.ForecastDays
	if days <= 0 {
		days = req.PageSize
	}

	result := &PageResult{IsLastPage: true, NextCursor: EndOfStream}
	byDate := make(map[string]*ForecastItem)
	var order []string
	for _, entry := range resp.List {
		date := time.Unix(entry.Dt, 0).UTC().Format("2006-01-02")
		item, seen := byDate[date]
		if !seen {
			if len(order) >= days {
				continue
			}
			item = &ForecastItem{
				Date:     date,
				TempMin:  entry.Main.TempMin,
				TempMax:  entry.Main.TempMax,
				Humidity: entry.Main.Humidity,
			}
			if len(entry.Weather) > 0 {
				item.Description = entry.Weather[0].Description
				item.Icon = entry.Weather[0].Icon
			}
			byDate[date] = item
			order = append(order, date)
			continue
		}
		// Aggregate the three-hourly slots into a daily min and max.
		if entry.Main.TempMin < item.TempMin {
			item.TempMin = entry.Main.TempMin
		}
		if entry.Main.TempMax > item.TempMax {
			item.TempMax = entry.Main.TempMax
		}
	}
	for _, date := range order {
		result.Items = append(result.Items, *byDate[date])
	}
	return result, nil
}
