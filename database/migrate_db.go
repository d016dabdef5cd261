package database

import (
	"database/sql"
	"fmt"
)

// openMigrationDB opens a database/sql handle for golang-migrate using the
// pgx stdlib driver. Separate from the pgxpool used by the application.
func openMigrationDB(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open migration connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database for migration: %w", err)
	}
	return db, nil
}
