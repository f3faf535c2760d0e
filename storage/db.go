// Package storage opens the gorm connection every other package's
// repository is built against and aggregates their migrations.
package storage

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/5TFG4/weaver/events"
	"github.com/5TFG4/weaver/execution/live"
	"github.com/5TFG4/weaver/orchestrator"
)

// Open dispatches on dsn the way the teacher's database bootstrap did:
// a postgres:// or postgresql:// prefix opens a Postgres connection,
// anything else is treated as a sqlite file path.
func Open(dsn string) (*gorm.DB, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("storage: connected (postgres)")
		return db, nil
	}

	if dir := filepath.Dir(dsn); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", dsn).Msg("storage: connected (sqlite)")
	return db, nil
}

// AutoMigrate runs every package's own migration against db, so
// cmd/weaver has one call to make at startup instead of one per
// collaborator.
func AutoMigrate(db *gorm.DB) error {
	if err := events.Migrate(db); err != nil {
		return err
	}
	if err := live.Migrate(db); err != nil {
		return err
	}
	if err := orchestrator.Migrate(db); err != nil {
		return err
	}
	return nil
}
