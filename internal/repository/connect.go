package repository

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens the record store. DSNs starting with "sqlite:" select the
// SQLite driver (local development); anything else is handed to postgres.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("repository: open: empty dsn")
	}

	dialector := postgres.Open(dsn)
	if path, ok := strings.CutPrefix(dsn, "sqlite:"); ok {
		dialector = sqlite.Open(path)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: open %s: %w", dialector.Name(), err)
	}
	return db, nil
}
