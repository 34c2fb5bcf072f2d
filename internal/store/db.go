// Package store is the embedded provider's vendor-side storage: the chats,
// contacts and messages a hosted vendor API would otherwise keep for us.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// DB wraps a SQLite database connection.
type DB struct {
	*sql.DB
}

// Open connects to the SQLite file at path in WAL mode, creating its
// directory when missing.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// OpenMigrated is Open followed by Migrate. The store is closed again when
// migrating fails.
func OpenMigrated(path string, logger *zap.Logger) (*DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if logger != nil {
		if result.Changed {
			logger.Info("migrations applied", zap.String("path", path), zap.Uint("version", result.Version))
		} else {
			logger.Debug("migrations up to date", zap.String("path", path), zap.Uint("version", result.Version))
		}
	}
	return db, nil
}
