package db

import (
	"fmt"

	"gorm.io/gorm"
)

var postgresStatements = []string{
	`CREATE TABLE IF NOT EXISTS numberplate (
		id          BIGSERIAL PRIMARY KEY,
		numberplate TEXT NOT NULL,
		normalized  TEXT NOT NULL,
		entry_date  DATE NOT NULL,
		entry_time  TIME NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_numberplate_normalized ON numberplate(normalized);`,
	`CREATE INDEX IF NOT EXISTS idx_numberplate_entry_date ON numberplate(entry_date);`,
}

var mysqlStatements = []string{
	`CREATE TABLE IF NOT EXISTS numberplate (
		id          BIGINT AUTO_INCREMENT PRIMARY KEY,
		numberplate TEXT NOT NULL,
		normalized  VARCHAR(64) NOT NULL,
		entry_date  DATE NOT NULL,
		entry_time  TIME NOT NULL,
		created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_numberplate_normalized (normalized),
		INDEX idx_numberplate_entry_date (entry_date)
	);`,
}

func migrationStatements(driver string) ([]string, error) {
	switch driver {
	case DriverPostgres:
		return postgresStatements, nil
	case DriverMySQL:
		return mysqlStatements, nil
	default:
		return nil, fmt.Errorf("no migrations for driver %q", driver)
	}
}

func runMigrations(db *gorm.DB, driver string) error {
	stmts, err := migrationStatements(driver)
	if err != nil {
		return err
	}
	for i, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
