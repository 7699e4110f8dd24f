package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var errMissingDatabaseURI = errors.New("database URI is not set")

// Dialector picks the gorm driver for a database URI. SQLAlchemy-style driver suffixes
// ("postgresql+psycopg2://") are accepted and dropped.
func Dialector(uri string) (gorm.Dialector, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w, set %s", errMissingDatabaseURI, EnvDatabaseURI)
	}

	scheme, rest, found := strings.Cut(uri, "://")
	if found {
		if base, _, ok := strings.Cut(scheme, "+"); ok {
			scheme = base
			uri = base + "://" + rest
		}
		switch scheme {
		case "postgres", "postgresql":
			return postgres.Open(uri), nil
		case "sqlite":
			return sqlite.Open(rest), nil
		default:
			return nil, InvalidConfigError(EnvDatabaseURI, "unsupported scheme "+scheme)
		}
	}

	switch {
	case strings.HasPrefix(uri, "sqlite:"):
		return sqlite.Open(strings.TrimPrefix(uri, "sqlite:")), nil
	case strings.HasPrefix(uri, "file:"), strings.HasSuffix(uri, ".db"), uri == ":memory:":
		return sqlite.Open(uri), nil
	default:
		// libpq key/value DSN, e.g. "host=localhost user=app dbname=fraud".
		return postgres.Open(uri), nil
	}
}

// InitDB opens the database behind uri.
func InitDB(uri string) (*gorm.DB, error) {
	dialector, err := Dialector(uri)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		// Timestamps are stored in UTC so SQLite's text comparison orders them correctly.
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if dialector.Name() == "sqlite" {
		// In-memory databases are per connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return db, nil
}
