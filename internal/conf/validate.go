// validate.go: sanity checks applied after unmarshaling settings.
package conf

import (
	"errors"
	"fmt"
)

// ErrNoDatabase is returned when neither database output is enabled.
var ErrNoDatabase = errors.New("no database output enabled, enable either sqlite or mysql")

// ValidateSettings checks the loaded settings for values the pipeline cannot
// run with. It normalizes a few recoverable values instead of failing.
func ValidateSettings(settings *Settings) error {
	if !settings.Output.SQLite.Enabled && !settings.Output.MySQL.Enabled {
		return ErrNoDatabase
	}
	if settings.Output.SQLite.Enabled && settings.Output.MySQL.Enabled {
		return errors.New("both sqlite and mysql outputs enabled, pick one")
	}

	if settings.Pipeline.MaxConcurrency < 1 {
		settings.Pipeline.MaxConcurrency = 1
	}
	if settings.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline.maxretries must not be negative, got %d", settings.Pipeline.MaxRetries)
	}
	if settings.Pipeline.Backoff.Base <= 0 {
		return fmt.Errorf("pipeline.backoff.base must be positive, got %v", settings.Pipeline.Backoff.Base)
	}
	if settings.Pipeline.Backoff.Max < settings.Pipeline.Backoff.Base {
		return fmt.Errorf("pipeline.backoff.max (%v) must not be below backoff.base (%v)",
			settings.Pipeline.Backoff.Max, settings.Pipeline.Backoff.Base)
	}
	if settings.Reconciler.MatchRadiusMeters <= 0 {
		settings.Reconciler.MatchRadiusMeters = 150
	}

	for name, p := range map[string]ProviderCommon{
		"places":      settings.Providers.Places.ProviderCommon,
		"openweather": settings.Providers.OpenWeather.ProviderCommon,
		"besttime":    settings.Providers.BestTime.ProviderCommon,
		"youtube":     settings.Providers.YouTube.ProviderCommon,
		"textgen":     settings.Providers.TextGen.ProviderCommon,
	} {
		if p.Enabled && p.APIKey == "" {
			return fmt.Errorf("providers.%s.apikey is required when the provider is enabled", name)
		}
	}
	return nil
}
