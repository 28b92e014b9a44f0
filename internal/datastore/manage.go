package datastore

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/storyboard/enrich-go/internal/logging"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var dbLogger = logging.ForService("datastore")

// performAutoMigration creates or updates the schema for every pipeline table.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(
		&City{},
		&Attraction{},
		&HeroImage{},
		&Review{},
		&Tip{},
		&SocialVideo{},
		&NearbyAttraction{},
		&WeatherForecast{},
		&BusyTimeData{},
		&FetchState{},
		&QuotaRetryEntry{},
		&PipelineRun{},
		&SystemAlert{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}

	if debug {
		dbLogger.Debug("database schema ready", "type", dbType, "connection", connectionInfo)
	}
	return nil
}

// newGormLogger returns a GORM logger that stays quiet unless debugging.
func newGormLogger(debug bool) gormlogger.Interface {
	level := gormlogger.Silent
	if debug {
		level = gormlogger.Warn
	}
	return gormlogger.New(
		slog.NewLogLogger(dbLogger.Handler(), slog.LevelDebug),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		},
	)
}
