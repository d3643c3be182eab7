// Package db opens the plate store's database and creates its table.
package db

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"anpr-pipeline/internal/config"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

func dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case DriverPostgres:
		return postgres.Open(cfg.DSN), nil
	case DriverMySQL:
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Open connects with the configured driver and, when enabled, runs the
// migrations before returning.
func Open(cfg config.DatabaseConfig, log zerolog.Logger) (*gorm.DB, error) {
	d, err := dialector(cfg)
	if err != nil {
		return nil, err
	}

	gdb, err := gorm.Open(d, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	if cfg.AutoMigrate {
		if err := runMigrations(gdb, cfg.Driver); err != nil {
			return nil, err
		}
		log.Info().Str("driver", cfg.Driver).Msg("database migrations applied")
	}
	return gdb, nil
}
