package database

import (
	"fmt"
	"log"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the global database instance
var DB *gorm.DB

// sqliteScheme prefixes DATABASE_URL values that point at a SQLite file.
const sqliteScheme = "sqlite:"

// Open opens a database for dsn. DSNs starting with "sqlite:" use the SQLite
// driver; everything else is handed to PostgreSQL.
func Open(dsn string, logLevel logger.LogLevel) (*gorm.DB, error) {
	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	}

	if path, ok := strings.CutPrefix(dsn, sqliteScheme); ok {
		db, err := gorm.Open(sqlite.Open(path), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		// SQLite allows a single writer; one connection also keeps ":memory:"
		// databases shared across callers.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	}

	db, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Connect opens the database and stores it in DB
func Connect(dsn string, logLevel logger.LogLevel) error {
	db, err := Open(dsn, logLevel)
	if err != nil {
		return err
	}
	DB = db
	log.Println("Database connection established")
	return nil
}

// Migrate creates or updates the pattern detector tables on db
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Ticket{},
		&Cluster{},
		&PatternAlert{},
		&SpamDetection{},
		&IncidentTicket{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// AutoMigrate runs database migrations on the global DB
func AutoMigrate() error {
	log.Println("Running database migrations...")
	if err := Migrate(DB); err != nil {
		return err
	}
	log.Println("Database migrations completed successfully")
	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// Close closes the database connection
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
