// Package store persists session lifecycles and telemetry snapshots in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mtahle/torrent-streamer/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id  TEXT PRIMARY KEY,
	source_id   TEXT NOT NULL,
	name        TEXT NOT NULL,
	file_index  INTEGER NOT NULL,
	file_name   TEXT NOT NULL,
	file_size   INTEGER NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	quality     TEXT NOT NULL DEFAULT '',
	year        TEXT NOT NULL DEFAULT '',
	started_at  INTEGER NOT NULL,
	ended_at    INTEGER
);
CREATE TABLE IF NOT EXISTS snapshots (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id     TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
	taken_at       INTEGER NOT NULL,
	file_index     INTEGER NOT NULL,
	progress       REAL NOT NULL,
	peers          INTEGER NOT NULL,
	download_speed REAL NOT NULL,
	upload_speed   REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS snapshots_session ON snapshots(session_id, taken_at);
`

type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

func DefaultConfig() Config {
	return Config{BusyTimeout: 5 * time.Second, MaxOpenConns: 4}
}

// Snapshot is one recorded telemetry sample.
type Snapshot struct {
	SessionID     string    `json:"session_id"`
	TakenAt       time.Time `json:"taken_at"`
	FileIndex     int       `json:"file_index"`
	Progress      float64   `json:"progress"`
	Peers         int       `json:"peers"`
	DownloadSpeed float64   `json:"download_speed"`
	UploadSpeed   float64   `json:"upload_speed"`
}

// SessionRecord is a stored session with its optional end time.
type SessionRecord struct {
	Session domain.ActiveStreamSession `json:"session"`
	EndedAt *time.Time                 `json:"ended_at,omitempty"`
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or migrates the database at path. ":memory:" is accepted.
func Open(path string, cfg Config) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	maxConns := max(cfg.MaxOpenConns, 1)
	if path == ":memory:" {
		// Each connection would get its own empty database.
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) RecordSessionStart(ctx context.Context, sess domain.ActiveStreamSession) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, source_id, name, file_index, file_name, file_size, title, quality, year, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING`,
		sess.SessionID, sess.SourceID, sess.Name, sess.SelectedFileIndex, sess.FileName, sess.FileSize,
		sess.Title, sess.Quality, sess.Year, sess.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record session start: %w", err)
	}
	return nil
}

func (s *Store) RecordSessionEnd(ctx context.Context, sessionID string, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE session_id = ? AND ended_at IS NULL`,
		endedAt.UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("record session end: %w", err)
	}
	return nil
}

func (s *Store) RecordSnapshot(ctx context.Context, st domain.SessionStatus) error {
	if st.SessionID == "" {
		return errors.New("record snapshot: session id is empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (session_id, taken_at, file_index, progress, peers, download_speed, upload_speed)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.SessionID, s.now().UnixMilli(), st.SelectedFileIndex, st.Progress, st.Peers, st.DownloadSpeed, st.UploadSpeed)
	if err != nil {
		return fmt.Errorf("record snapshot: %w", err)
	}
	return nil
}

// Snapshots returns the most recent samples for a session, newest first.
func (s *Store) Snapshots(ctx context.Context, sessionID string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, taken_at, file_index, progress, peers, download_speed, upload_speed
		FROM snapshots WHERE session_id = ?
		ORDER BY taken_at DESC, id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	out := []Snapshot{}
	for rows.Next() {
		var (
			snap    Snapshot
			takenAt int64
		)
		if err := rows.Scan(&snap.SessionID, &takenAt, &snap.FileIndex, &snap.Progress, &snap.Peers, &snap.DownloadSpeed, &snap.UploadSpeed); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.TakenAt = time.UnixMilli(takenAt).UTC()
		out = append(out, snap)
	}
	return out, rows.Err()
}

// Sessions lists stored sessions, newest first.
func (s *Store) Sessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, source_id, name, file_index, file_name, file_size, title, quality, year, started_at, ended_at
		FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	out := []SessionRecord{}
	for rows.Next() {
		var (
			rec       SessionRecord
			startedAt int64
			endedAt   sql.NullInt64
		)
		ss := &rec.Session
		if err := rows.Scan(&ss.SessionID, &ss.SourceID, &ss.Name, &ss.SelectedFileIndex, &ss.FileName, &ss.FileSize,
			&ss.Title, &ss.Quality, &ss.Year, &startedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		ss.CreatedAt = time.UnixMilli(startedAt).UTC()
		if endedAt.Valid {
			t := time.UnixMilli(endedAt.Int64).UTC()
			rec.EndedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
