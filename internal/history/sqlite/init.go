package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the history database and creates the table if it doesn't exist.
func InitDB(dbFile string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbFile)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS download_history (
		id INTEGER PRIMARY KEY,
		download_id TEXT,
		url TEXT,
		destination TEXT,
		status TEXT,
		bytes INTEGER,
		duration_seconds REAL,
		error TEXT,
		finished_at DATETIME
	)`)

	if err != nil {
		return nil, err
	}

	return db, nil
}
