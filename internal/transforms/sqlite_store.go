package transforms

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jo-hoe/morphportal/internal/common"
)

// SQLiteStore keeps the gallery in an in-memory SQLite database. The data
// lives exactly as long as the store; nothing is written to disk.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore() (*SQLiteStore, error) {
	// Busy timeout to avoid SQLITE_BUSY in concurrent access.
	dsn := fmt.Sprintf("file::memory:?_pragma=busy_timeout(%d)", common.SQLiteBusyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Every connection to :memory: is a separate database; pin a single one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		job_id TEXT NOT NULL,
		image_uri TEXT NOT NULL,
		mime_type TEXT,
		source TEXT,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		size INTEGER NOT NULL DEFAULT 0,
		started_at TEXT,
		completed_at TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Prepend(rec Record) error {
	if rec.ID == "" {
		return errors.New("record.ID is required")
	}
	if rec.Image.IsZero() {
		return errors.New("record.Image is required")
	}
	if rec.CompletedAt.IsZero() {
		return errors.New("record.CompletedAt is required")
	}
	var started *string
	if !rec.StartedAt.IsZero() {
		ts := rec.StartedAt.UTC().Format(time.RFC3339Nano)
		started = &ts
	}
	_, err := s.db.Exec(
		`INSERT INTO records (id, job_id, image_uri, mime_type, source, width, height, size, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.JobID, rec.Image.URI, rec.Image.MimeType, rec.Image.Source,
		rec.Image.Width, rec.Image.Height, rec.Image.Size,
		started, rec.CompletedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

const selectRecord = `SELECT id, job_id, image_uri, mime_type, source, width, height, size, started_at, completed_at FROM records`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var mime, source, started sql.NullString
	var completed string
	if err := row.Scan(
		&rec.ID,
		&rec.JobID,
		&rec.Image.URI,
		&mime,
		&source,
		&rec.Image.Width,
		&rec.Image.Height,
		&rec.Image.Size,
		&started,
		&completed,
	); err != nil {
		return Record{}, err
	}
	rec.Image.MimeType = mime.String
	rec.Image.Source = source.String
	if started.Valid {
		if t, err := time.Parse(time.RFC3339Nano, started.String); err == nil {
			rec.StartedAt = t
		}
	}
	t, err := time.Parse(time.RFC3339Nano, completed)
	if err != nil {
		return Record{}, fmt.Errorf("parse completed_at: %w", err)
	}
	rec.CompletedAt = t
	return rec, nil
}

func (s *SQLiteStore) List() ([]Record, error) {
	rows, err := s.db.Query(selectRecord + ` ORDER BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Get(id string) (Record, error) {
	rec, err := scanRecord(s.db.QueryRow(selectRecord+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("scan record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
