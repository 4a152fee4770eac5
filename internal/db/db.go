package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/chmdznr/canvas-course-sync/pkg/models"
)

// DB represents a connection to the sync ledger
type DB struct {
	*sql.DB
}

// New opens the ledger at path, creating it if needed
func New(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	db := &DB{sqlDB}
	if err := db.initialize(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize ledger %s: %w", path, err)
	}

	return db, nil
}

// initialize creates the necessary tables if they don't exist
func (db *DB) initialize() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			downloaded INTEGER DEFAULT 0,
			skipped INTEGER DEFAULT 0,
			failed INTEGER DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS files (
			course TEXT,
			local_path TEXT,
			remote_id INTEGER,
			size INTEGER,
			status TEXT,
			last_error TEXT DEFAULT '',
			run_id TEXT,
			synced_at DATETIME,
			backed_up INTEGER DEFAULT 0,
			PRIMARY KEY (course, local_path)
		);
		CREATE INDEX IF NOT EXISTS idx_files_status ON files(course, status);
		CREATE INDEX IF NOT EXISTS idx_files_backup ON files(status, backed_up);
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
	`)
	return err
}

// StartRun records the start of a sync run and returns its ID
func (db *DB) StartRun() (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(`INSERT INTO runs (id, started_at) VALUES (?, ?)`, id, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}
	return id, nil
}

// FinishRun stores the final counts of a sync run
func (db *DB) FinishRun(id string, downloaded, skipped, failed int64) error {
	_, err := db.Exec(`
		UPDATE runs
		SET finished_at = ?, downloaded = ?, skipped = ?, failed = ?
		WHERE id = ?
	`, time.Now().UTC(), downloaded, skipped, failed, id)
	return err
}

// LastRun returns the most recent finished run, or nil if there is none
func (db *DB) LastRun() (*models.Run, error) {
	var run models.Run
	err := db.QueryRow(`
		SELECT id, started_at, finished_at, downloaded, skipped, failed
		FROM runs
		WHERE finished_at IS NOT NULL
		ORDER BY started_at DESC
		LIMIT 1
	`).Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Downloaded, &run.Skipped, &run.Failed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last run: %w", err)
	}
	return &run, nil
}

// SaveFileRecord saves a file record. A later record for the same course and
// path replaces the earlier one.
func (db *DB) SaveFileRecord(record *models.FileRecord) error {
	syncedAt := record.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now().UTC()
	}
	_, err := db.Exec(`
		INSERT OR REPLACE INTO files
			(course, local_path, remote_id, size, status, last_error, run_id, synced_at, backed_up)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.Course,
		record.LocalPath,
		record.RemoteID,
		record.Size,
		record.Status,
		record.LastError,
		record.RunID,
		syncedAt,
		record.BackedUp,
	)
	return err
}

// ListFiles returns every file record ordered by course and path
func (db *DB) ListFiles() ([]models.FileRecord, error) {
	return db.queryFiles(`
		SELECT course, local_path, remote_id, size, status, last_error, run_id, synced_at, backed_up
		FROM files
		ORDER BY course, local_path
	`)
}

// GetPendingBackups returns downloaded files that have not been backed up
func (db *DB) GetPendingBackups() ([]models.FileRecord, error) {
	return db.queryFiles(`
		SELECT course, local_path, remote_id, size, status, last_error, run_id, synced_at, backed_up
		FROM files
		WHERE status = ? AND backed_up = 0
		ORDER BY size DESC
	`, models.StatusDownloaded)
}

func (db *DB) queryFiles(query string, args ...interface{}) ([]models.FileRecord, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []models.FileRecord
	for rows.Next() {
		var file models.FileRecord
		err = rows.Scan(
			&file.Course,
			&file.LocalPath,
			&file.RemoteID,
			&file.Size,
			&file.Status,
			&file.LastError,
			&file.RunID,
			&file.SyncedAt,
			&file.BackedUp,
		)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

// MarkBackedUp flags files as uploaded to the backup bucket in a single transaction
func (db *DB) MarkBackedUp(course string, localPaths []string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		UPDATE files
		SET backed_up = 1
		WHERE course = ? AND local_path = ?
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, localPath := range localPaths {
		if _, err = stmt.Exec(course, localPath); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetStats returns per-course statistics ordered by course name
func (db *DB) GetStats() ([]models.Stats, error) {
	rows, err := db.Query(`
		SELECT
			course,
			COUNT(CASE WHEN status = 'downloaded' THEN 1 END) as downloaded_files,
			COALESCE(SUM(CASE WHEN status = 'downloaded' THEN size ELSE 0 END), 0) as downloaded_size,
			COUNT(CASE WHEN status = 'failed' THEN 1 END) as failed_files,
			COUNT(CASE WHEN backed_up = 1 THEN 1 END) as backed_up_files,
			MAX(synced_at) as last_synced_at
		FROM files
		GROUP BY course
		ORDER BY course
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	defer rows.Close()

	var stats []models.Stats
	for rows.Next() {
		var s models.Stats
		var lastSynced sql.NullString
		if err := rows.Scan(
			&s.Course,
			&s.DownloadedFiles,
			&s.DownloadedSize,
			&s.FailedFiles,
			&s.BackedUpFiles,
			&lastSynced,
		); err != nil {
			return nil, fmt.Errorf("failed to get stats: %w", err)
		}
		if lastSynced.Valid {
			s.LastSyncedAt = parseTimestamp(lastSynced.String)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// parseTimestamp parses the text go-sqlite3 stores for time.Time values.
// Aggregates such as MAX lose the column type, so they come back as text.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
