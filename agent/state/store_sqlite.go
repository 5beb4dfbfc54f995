package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sowingDateLayout = "2006-01-02"

// SQLiteStore persists sessions in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path. ":memory:" is
// accepted for tests and single-process use.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}

	dsn := path
	inMemory := path == ":memory:"
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if inMemory {
		// each connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(4)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS farmer_sessions (
		caller_id TEXT PRIMARY KEY,
		language TEXT NOT NULL,
		location TEXT NOT NULL,
		current_crop TEXT NOT NULL,
		land_size_acres REAL NOT NULL DEFAULT 0,
		sowing_date TEXT,
		last_query TEXT,
		last_interaction_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_farmer_sessions_last_interaction ON farmer_sessions(last_interaction_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, callerID string) (*Session, error) {
	id := strings.TrimSpace(callerID)
	if id == "" {
		return nil, ErrInvalidSession
	}

	query := `
		SELECT caller_id, language, location, current_crop, land_size_acres,
		       sowing_date, last_query, last_interaction_at, created_at
		FROM farmer_sessions WHERE caller_id = ?`

	var (
		sess            Session
		sowingDate      sql.NullString
		lastQuery       sql.NullString
		lastInteraction int64
		createdAt       int64
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&sess.ID, &sess.Language, &sess.Location, &sess.CurrentCrop, &sess.LandSizeAcres,
		&sowingDate, &lastQuery, &lastInteraction, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	if sowingDate.Valid && sowingDate.String != "" {
		d, err := time.Parse(sowingDateLayout, sowingDate.String)
		if err != nil {
			return nil, fmt.Errorf("parse sowing_date %q: %w", sowingDate.String, err)
		}
		sess.SowingDate = &d
	}
	sess.LastQuery = lastQuery.String
	sess.LastInteractionTime = time.Unix(0, lastInteraction).UTC()
	sess.CreatedAt = time.Unix(0, createdAt).UTC()

	return &sess, nil
}

func (s *SQLiteStore) Save(ctx context.Context, sess *Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}

	var sowingDate sql.NullString
	if sess.SowingDate != nil {
		sowingDate = sql.NullString{String: sess.SowingDate.UTC().Format(sowingDateLayout), Valid: true}
	}

	query := `
		INSERT INTO farmer_sessions (
			caller_id, language, location, current_crop, land_size_acres,
			sowing_date, last_query, last_interaction_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(caller_id) DO UPDATE SET
			language = excluded.language,
			location = excluded.location,
			current_crop = excluded.current_crop,
			land_size_acres = excluded.land_size_acres,
			sowing_date = excluded.sowing_date,
			last_query = excluded.last_query,
			last_interaction_at = excluded.last_interaction_at,
			updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.Language, sess.Location, sess.CurrentCrop, sess.LandSizeAcres,
		sowingDate, sess.LastQuery, sess.LastInteractionTime.UnixNano(), sess.CreatedAt.UnixNano(),
		time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, callerID string) error {
	id := strings.TrimSpace(callerID)
	if id == "" {
		return ErrInvalidSession
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM farmer_sessions WHERE caller_id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM farmer_sessions WHERE last_interaction_at < ?`, cutoff.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete idle sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
