package repository

import (
	"context"
	"fmt"

	"dams-sync/pkg/database"
	"dams-sync/pkg/logging"
)

// Migration directions
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// The statements are plain enough to run unchanged on Postgres and SQLite.
var schemaUp = []string{
	`CREATE TABLE IF NOT EXISTS dam_observations (
		variable_tag VARCHAR(64) NOT NULL,
		dam_code     VARCHAR(64) NOT NULL,
		observed_at  TIMESTAMP NOT NULL,
		value        DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (variable_tag, dam_code, observed_at)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dam_observations_tag_time
		ON dam_observations (variable_tag, observed_at)`,
}

var schemaDown = []string{
	`DROP INDEX IF EXISTS idx_dam_observations_tag_time`,
	`DROP TABLE IF EXISTS dam_observations`,
}

// Migrate applies the observation schema in the given direction
func Migrate(ctx context.Context, db *database.DB, direction string, logger *logging.StructuredLogger) error {
	var statements []string
	switch direction {
	case DirectionUp:
		statements = schemaUp
	case DirectionDown:
		statements = schemaDown
	default:
		return fmt.Errorf("unknown migration direction %q", direction)
	}

	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, "migrate_"+direction, stmt); err != nil {
			return fmt.Errorf("migration %s step %d failed: %w", direction, i+1, err)
		}
	}

	logger.Info(ctx, "[MIGRATE_COMPLETE] Migration completed successfully", logging.Fields{
		"direction":  direction,
		"statements": len(statements),
	})

	return nil
}
