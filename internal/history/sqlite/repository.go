package sqlite

import (
	"database/sql"
	"time"

	"github.com/itsBintang/zenith-downloader/internal/history"
)

// HistoryRepository stores terminal download entries in SQLite. Rows are
// append-only: the core never updates or deletes them.
type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(dbConn *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: dbConn}
}

var _ history.Sink = (*HistoryRepository)(nil)

func (r *HistoryRepository) Append(entry history.Entry) error {
	_, err := r.db.Exec(
		`INSERT INTO download_history
			(download_id, url, destination, status, bytes, duration_seconds, error, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.DownloadID,
		entry.URL,
		entry.Destination,
		entry.Status,
		entry.Bytes,
		entry.Duration.Seconds(),
		entry.Error,
		entry.FinishedAt.Format(time.RFC3339),
	)

	return err
}

// Recent returns the latest entries, newest first.
func (r *HistoryRepository) Recent(limit int) ([]history.Entry, error) {
	rows, err := r.db.Query(
		`SELECT download_id, url, destination, status, bytes, duration_seconds, error, finished_at
		FROM download_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []history.Entry

	for rows.Next() {
		var entry history.Entry

		var durationSeconds float64

		var finishedAt string

		if err := rows.Scan(
			&entry.DownloadID, &entry.URL, &entry.Destination, &entry.Status,
			&entry.Bytes, &durationSeconds, &entry.Error, &finishedAt,
		); err != nil {
			return nil, err
		}

		entry.Duration = time.Duration(durationSeconds * float64(time.Second))
		if t, err := time.Parse(time.RFC3339, finishedAt); err == nil {
			entry.FinishedAt = t
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
