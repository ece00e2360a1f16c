package db

import (
	"errors"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dengruihan/Raymond-Analysis/internal/config"
)

const sqlitePrefix = "sqlite://"

// Connect opens a GORM database connection using APP_DATABASE_URL and
// migrates the tracking tables. Both PostgreSQL URLs and sqlite://<path>
// are accepted; the latter is meant for single-node deployments.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	db, err := Open(cfg.DatabaseURL, logger.Default.LogMode(logger.Warn))
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Open opens the database named by dsn without migrating it.
func Open(dsn string, lg logger.Interface) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("APP_DATABASE_URL is required")
	}

	gcfg := &gorm.Config{
		Logger:  lg,
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		// PrepareStmt: true prevents the GORM postgres migrator from forcing simple protocol
		// for "SELECT * FROM table LIMIT 1", which would otherwise trigger "insufficient arguments".
		gcfg.PrepareStmt = true
		return gorm.Open(postgres.Open(dsn), gcfg)
	case strings.HasPrefix(dsn, sqlitePrefix):
		path := strings.TrimPrefix(dsn, sqlitePrefix)
		if path == "" {
			return nil, errors.New("APP_DATABASE_URL sqlite:// URL needs a file path")
		}
		db, err := gorm.Open(sqlite.Open(path), gcfg)
		if err != nil {
			return nil, err
		}
		// SQLite allows a single writer; serialising on one connection
		// avoids SQLITE_BUSY under concurrent tracking calls.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	default:
		return nil, errors.New("APP_DATABASE_URL must be a postgres://, postgresql:// or sqlite:// URL")
	}
}

// Migrate creates or updates the tracking tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &Session{}, &PageView{}, &Event{})
}
