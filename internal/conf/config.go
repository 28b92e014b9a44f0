// config.go: settings struct for the enrichment pipeline and functions to load them.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// MainSettings contains top-level application settings.
type MainSettings struct {
	Name   string // instance name, used in logs and pipeline run metadata
	Debug  bool   // true to enable debug output
	LogDir string // directory for per-service rotating log files, empty disables
}

// SQLiteSettings contains settings for the SQLite database output.
type SQLiteSettings struct {
	Enabled bool
	Path    string // path to the SQLite database file
}

// MySQLSettings contains settings for the MySQL database output.
type MySQLSettings struct {
	Enabled  bool
	Username string
	Password string
	Database string
	Host     string
	Port     string
}

// OutputSettings selects and configures the backing database.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// BackoffSettings controls retry spacing for transient fetch errors.
type BackoffSettings struct {
	Base time.Duration // initial delay, doubled on each retry
	Max  time.Duration // upper bound for the computed delay
}

// PipelineSettings contains settings for the enrichment orchestrator.
type PipelineSettings struct {
	MaxConcurrency    int           // concurrent fetch runs per sweep
	SweepBatchSize    int           // maximum due rows picked up per sweep
	RunTimeout        time.Duration // per fetch run deadline
	SweepInterval     time.Duration // service mode: time between sweeps
	DrainInterval     time.Duration // service mode: time between quota queue drains
	StaleRunningAfter time.Duration // RUNNING rows older than this are reset on sweep start
	MaxRetries        int           // transient error retries before a run is failed
	Backoff           BackoffSettings
}

// ProviderCommon holds the settings every provider adapter shares.
type ProviderCommon struct {
	Enabled           bool
	APIKey            string
	Endpoint          string
	PageSize          int
	RequestsPerMinute int           // request pacing, 0 disables the limiter
	QuotaWindow       time.Duration // time until the provider quota resets
}

// PlacesSettings contains settings for the Google Places adapter.
type PlacesSettings struct {
	ProviderCommon `mapstructure:",squash"`
	GeocodeEndpoint string // Geocoding API fallback endpoint
	SearchRadius    int    // meters, for city-biased text search
}

// OpenWeatherSettings contains settings for the OpenWeather forecast adapter.
type OpenWeatherSettings struct {
	ProviderCommon `mapstructure:",squash"`
	Units        string // standard, metric or imperial
	ForecastDays int
}

// BestTimeSettings contains settings for the crowd forecast adapter.
type BestTimeSettings struct {
	ProviderCommon `mapstructure:",squash"`
}

// YouTubeSettings contains settings for the YouTube Data API adapter.
type YouTubeSettings struct {
	ProviderCommon `mapstructure:",squash"`
	Region string // regionCode passed to search
}

// RedditSettings contains settings for the forum signal adapter.
type RedditSettings struct {
	ProviderCommon `mapstructure:",squash"`
	UserAgent string
}

// TextGenSettings contains settings for the generative-text fallback adapter.
type TextGenSettings struct {
	ProviderCommon `mapstructure:",squash"`
	Model string
}

// ProviderSettings groups all external data source settings.
type ProviderSettings struct {
	Places      PlacesSettings
	OpenWeather OpenWeatherSettings
	BestTime    BestTimeSettings
	YouTube     YouTubeSettings
	Reddit      RedditSettings
	TextGen     TextGenSettings
}

// QuotaRetrySettings controls the quota retry queue.
type QuotaRetrySettings struct {
	MaxRetries int // quota retries before an entry is marked failed
	BatchSize  int // entries claimed per drain per provider
}

// ReconcilerSettings controls nearby place reconciliation.
type ReconcilerSettings struct {
	MatchRadiusMeters float64       // fuzzy match radius around the candidate coordinates
	CacheTTL          time.Duration // memoization TTL for resolved candidates
}

// TargetSettings defines how many items of each kind a full page needs.
type TargetSettings struct {
	Reviews int
	Photos  int
	Videos  int
	Nearby  int
	Weather int
	Crowd   int
}

// Settings contains all runtime settings for the application.
type Settings struct {
	Main       MainSettings
	Output     OutputSettings
	Pipeline   PipelineSettings
	Providers  ProviderSettings
	QuotaRetry QuotaRetrySettings
	Reconciler ReconcilerSettings
	Targets    TargetSettings
}

// Load reads the configuration into the shared Settings instance.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings, err := initSettings()
	if err != nil {
		return nil, fmt.Errorf("error initializing settings: %w", err)
	}
	return settings, nil
}

func initSettings() (*Settings, error) {
	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling settings: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settings, nil
}

func initViper() error {
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("ENRICH")
	viper.AutomaticEnv()

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}
	viper.SetConfigName("config")

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the embedded default config to the first config path.
func createDefaultConfig(configPath string) error {
	configFilePath := filepath.Join(configPath, "config.yaml")

	defaultConfig, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded default config: %w", err)
	}

	if err := os.MkdirAll(configPath, 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	if err := os.WriteFile(configFilePath, defaultConfig, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	log.Printf("Created default config file at: %s", configFilePath)
	return viper.ReadInConfig()
}

// GetDefaultConfigPaths returns the list of directories searched for config.yaml.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user home directory: %w", err)
	}
	return []string{
		".",
		filepath.Join(homeDir, ".config", "enrich"),
	}, nil
}

// Setting returns the shared settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				log.Fatalf("error loading settings: %v", err)
			}
		}
	})
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}
