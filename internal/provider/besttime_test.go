package provider

import (
	"context"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyboard/enrich-go/internal/conf"
	"github.com/storyboard/enrich-go/internal/datastore"
	"github.com/storyboard/enrich-go/internal/errors"
	"github.com/storyboard/enrich-go/internal/httpclient"
)

func newBestTimeAdapter(t *testing.T) *BestTimeAdapter {
	t.Helper()
	client := httpclient.New(nil)
	httpmock.ActivateNonDefault(client.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	settings := &conf.BestTimeSettings{}
	settings.Enabled = true
	settings.APIKey = "test-key"
	settings.Endpoint = "https://besttime.test/forecast"
	return NewBestTimeAdapter(settings, client)
}

func TestBestTimeWeekGrid(t *testing.T) {
	adapter := newBestTimeAdapter(t)

	httpmock.RegisterResponder("GET", `=~^https://besttime\.test/forecast`,
		httpmock.NewStringResponder(200, `{
			"status": "OK",
			"analysis": [
				{"day_info": {"day_int": 0}, "day_raw": [10, 20, 30]},
				{"day_info": {"day_int": 1}, "day_raw": [5, 120]},
				{"day_info": {"day_int": 9}, "day_raw": [1]}
			]
		}`))

	result, err := adapter.FetchPage(context.Background(), &PageRequest{
		Kind:           datastore.KindCrowd,
		AttractionName: "Louvre",
		CityName:       "Paris",
	})
	require.NoError(t, err)
	assert.True(t, result.IsLastPage, "the week grid is always a single page")
	assert.Equal(t, 1, result.Dropped, "an out-of-range day is dropped")
	require.Len(t, result.Items, 5)

	sample := result.Items[0].(BusyTimeItem)
	assert.Equal(t, 0, sample.DayOfWeek)
	assert.Equal(t, 0, sample.Hour)
	assert.Equal(t, 10, sample.Busyness)

	clamped := result.Items[4].(BusyTimeItem)
	assert.Equal(t, 100, clamped.Busyness, "busyness is clamped to 0-100")
}

func TestBestTimeVenueNotFoundIsPermanent(t *testing.T) {
	adapter := newBestTimeAdapter(t)

	httpmock.RegisterResponder("GET", `=~^https://besttime\.test/forecast`,
		httpmock.NewStringResponder(200, `{"status": "Error", "message": "venue not found"}`))

	_, err := adapter.FetchPage(context.Background(), &PageRequest{Kind: datastore.KindCrowd})
	require.Error(t, err)
	assert.Equal(t, errors.ClassPermanent, errors.Classify(err))
}

func TestBestTimeCreditsExhaustedIsQuota(t *testing.T) {
	adapter := newBestTimeAdapter(t)

	httpmock.RegisterResponder("GET", `=~^https://besttime\.test/forecast`,
		httpmock.NewStringResponder(402, `{"message": "no credits"}`))

	_, err := adapter.FetchPage(context.Background(), &PageRequest{Kind: datastore.KindCrowd})
	require.Error(t, err)
	assert.Equal(t, errors.ClassQuota, errors.Classify(err))
}
