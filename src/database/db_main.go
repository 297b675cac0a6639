package database

import (
	"fmt"
	"strings"
	"time"

	"krakendca/src/database/migrations"
	"krakendca/src/model"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MainDB is the primary read/write database connection used by the application.
var MainDB *gorm.DB

// Open connects to the database selected by DB_DRIVER without touching the schema.
func Open(config Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(config.DBDriver) {
	case "", "postgres", "postgresql":
		dialector = postgres.Open(config.DatabaseURLMain)
	case "sqlite", "sqlite3":
		dialector = sqlite.Open(config.DatabaseURLMain)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", config.DBDriver)
	}

	db, err := gorm.Open(dialector,
		&gorm.Config{
			TranslateError: true,
			Logger:         logger.Default.LogMode(logger.LogLevel(config.GormLogLevel)),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get DB from GORM: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(1 * time.Hour)

	return db, nil
}

// Migrate brings the ledger schema up to date. Duplicate legacy rows are removed
// before the (exchange, id) unique index is created.
func Migrate(db *gorm.DB) error {
	if err := migrations.PrepareLegacyTransactions(db); err != nil {
		return fmt.Errorf("failed to prepare legacy transactions: %w", err)
	}

	// Add here all models that belong to the write-side schema.
	if err := db.AutoMigrate(
		&model.Settlement{},
		&model.Exception{},
		&migrations.DataMigration{},
	); err != nil {
		return fmt.Errorf("failed to run migrations on MainDB: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("failed to run data migrations on MainDB: %w", err)
	}
	return nil
}

// InitMainDB initializes the main (read/write) database connection and runs migrations.
// This should be called once at application startup (e.g. in main()).
func InitMainDB(config Config) error {
	db, err := Open(config)
	if err != nil {
		return err
	}

	// Assign to the global variable only after a successful connection.
	MainDB = db

	logrus.WithField("driver", config.DBDriver).Info("[database] MainDB connection established")

	if err := Migrate(MainDB); err != nil {
		return err
	}

	logrus.Info("[database] MainDB migrations completed")

	return nil
}
