package database

import (
	"fmt"

	"github.com/smarthospital/vitals/pkg/common/config"
	"github.com/smarthospital/vitals/pkg/common/logger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// OpenPostgres connects with TranslateError enabled so unique violations surface
// as gorm.ErrDuplicatedKey.
func OpenPostgres(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN()), &gorm.Config{TranslateError: true})
	if err != nil {
		logger.Log.WithError(err).Error("Failed to connect to PostgreSQL")
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	logger.Log.WithFields(map[string]interface{}{
		"host": cfg.PostgresHost,
		"db":   cfg.PostgresDB,
	}).Info("Connected to PostgreSQL")
	return db, nil
}

func ClosePostgres(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
