// defaults.go: viper default values for all settings.
package conf

import (
	"github.com/spf13/viper"
)

// setDefaultConfig sets the default values so a missing config file still
// yields a runnable (if provider-less) configuration.
func setDefaultConfig() {
	viper.SetDefault("main.name", "enrich")
	viper.SetDefault("main.debug", false)
	viper.SetDefault("main.logdir", "logs")

	// Database output
	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "storyboard.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "storyboard")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.database", "storyboard")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	// Pipeline
	viper.SetDefault("pipeline.maxconcurrency", 8)
	viper.SetDefault("pipeline.sweepbatchsize", 200)
	viper.SetDefault("pipeline.runtimeout", "45s")
	viper.SetDefault("pipeline.sweepinterval", "5m")
	viper.SetDefault("pipeline.draininterval", "1h")
	viper.SetDefault("pipeline.stalerunningafter", "30m")
	viper.SetDefault("pipeline.maxretries", 5)
	viper.SetDefault("pipeline.backoff.base", "30s")
	viper.SetDefault("pipeline.backoff.max", "1h")

	// Quota retry queue
	viper.SetDefault("quotaretry.maxretries", 5)
	viper.SetDefault("quotaretry.batchsize", 50)

	// Reconciler
	viper.SetDefault("reconciler.matchradiusmeters", 150.0)
	viper.SetDefault("reconciler.cachettl", "1h")

	// Per-kind item targets
	viper.SetDefault("targets.reviews", 20)
	viper.SetDefault("targets.photos", 8)
	viper.SetDefault("targets.videos", 6)
	viper.SetDefault("targets.nearby", 10)
	viper.SetDefault("targets.weather", 7)
	viper.SetDefault("targets.crowd", 168)

	// Providers
	viper.SetDefault("providers.places.enabled", false)
	viper.SetDefault("providers.places.endpoint", "https://maps.googleapis.com/maps/api/place")
	viper.SetDefault("providers.places.geocodeendpoint", "https://maps.googleapis.com/maps/api/geocode/json")
	viper.SetDefault("providers.places.pagesize", 20)
	viper.SetDefault("providers.places.requestsperminute", 60)
	viper.SetDefault("providers.places.quotawindow", "24h")
	viper.SetDefault("providers.places.searchradius", 50000)

	viper.SetDefault("providers.openweather.enabled", false)
	viper.SetDefault("providers.openweather.endpoint", "https://api.openweathermap.org/data/2.5/forecast")
	viper.SetDefault("providers.openweather.units", "metric")
	viper.SetDefault("providers.openweather.forecastdays", 7)
	viper.SetDefault("providers.openweather.pagesize", 7)
	viper.SetDefault("providers.openweather.requestsperminute", 50)
	viper.SetDefault("providers.openweather.quotawindow", "1h")

	viper.SetDefault("providers.besttime.enabled", false)
	viper.SetDefault("providers.besttime.endpoint", "https://besttime.app/api/v1/forecasts")
	viper.SetDefault("providers.besttime.pagesize", 168)
	viper.SetDefault("providers.besttime.requestsperminute", 10)
	viper.SetDefault("providers.besttime.quotawindow", "24h")

	viper.SetDefault("providers.youtube.enabled", false)
	viper.SetDefault("providers.youtube.pagesize", 10)
	viper.SetDefault("providers.youtube.requestsperminute", 30)
	viper.SetDefault("providers.youtube.quotawindow", "24h")
	viper.SetDefault("providers.youtube.region", "")

	viper.SetDefault("providers.reddit.enabled", false)
	viper.SetDefault("providers.reddit.endpoint", "https://www.reddit.com/search.json")
	viper.SetDefault("providers.reddit.useragent", "storyboard-enrich/1.0")
	viper.SetDefault("providers.reddit.pagesize", 25)
	viper.SetDefault("providers.reddit.requestsperminute", 30)
	viper.SetDefault("providers.reddit.quotawindow", "10m")

	viper.SetDefault("providers.textgen.enabled", false)
	viper.SetDefault("providers.textgen.model", "gpt-4o-mini")
	viper.SetDefault("providers.textgen.pagesize", 5)
	viper.SetDefault("providers.textgen.requestsperminute", 10)
	viper.SetDefault("providers.textgen.quotawindow", "1h")
}
