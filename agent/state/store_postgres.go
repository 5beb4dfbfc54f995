package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type sessionRow struct {
	bun.BaseModel `bun:"table:farmer_sessions,alias:fs"`

	CallerID          string     `bun:"caller_id,pk"`
	Language          string     `bun:"language,notnull"`
	Location          string     `bun:"location,notnull"`
	CurrentCrop       string     `bun:"current_crop,notnull"`
	LandSizeAcres     float64    `bun:"land_size_acres,notnull,default:0"`
	SowingDate        *time.Time `bun:"sowing_date,type:date"`
	LastQuery         string     `bun:"last_query"`
	LastInteractionAt time.Time  `bun:"last_interaction_at,notnull"`
	CreatedAt         time.Time  `bun:"created_at,notnull"`
	UpdatedAt         time.Time  `bun:"updated_at,notnull"`
}

func toRow(sess *Session, now time.Time) *sessionRow {
	row := &sessionRow{
		CallerID:          sess.ID,
		Language:          sess.Language,
		Location:          sess.Location,
		CurrentCrop:       sess.CurrentCrop,
		LandSizeAcres:     sess.LandSizeAcres,
		LastQuery:         sess.LastQuery,
		LastInteractionAt: sess.LastInteractionTime.UTC(),
		CreatedAt:         sess.CreatedAt.UTC(),
		UpdatedAt:         now.UTC(),
	}
	if sess.SowingDate != nil {
		d := sess.SowingDate.UTC()
		row.SowingDate = &d
	}
	return row
}

func (r *sessionRow) toSession() *Session {
	sess := &Session{
		ID:                  r.CallerID,
		Language:            r.Language,
		Location:            r.Location,
		CurrentCrop:         r.CurrentCrop,
		LandSizeAcres:       r.LandSizeAcres,
		LastQuery:           r.LastQuery,
		LastInteractionTime: r.LastInteractionAt.UTC(),
		CreatedAt:           r.CreatedAt.UTC(),
	}
	if r.SowingDate != nil {
		d := r.SowingDate.UTC()
		sess.SowingDate = &d
	}
	return sess
}

// PostgresStore persists sessions in Postgres through bun.
type PostgresStore struct {
	db *bun.DB
}

// NewPostgresStore connects with pgdriver and creates the table if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	store, err := NewPostgresStoreFromDB(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreFromDB wraps an existing bun handle.
func NewPostgresStoreFromDB(ctx context.Context, db *bun.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("bun db is required")
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.NewCreateTable().
		Model((*sessionRow)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("create farmer_sessions: %w", err)
	}
	if _, err := db.NewCreateIndex().
		Model((*sessionRow)(nil)).
		Index("idx_farmer_sessions_last_interaction").
		Column("last_interaction_at").
		IfNotExists().
		Exec(ctx); err != nil {
		return nil, fmt.Errorf("create farmer_sessions index: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Load(ctx context.Context, callerID string) (*Session, error) {
	id := strings.TrimSpace(callerID)
	if id == "" {
		return nil, ErrInvalidSession
	}

	row := new(sessionRow)
	err := s.db.NewSelect().
		Model(row).
		Where("caller_id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	return row.toSession(), nil
}

func (s *PostgresStore) Save(ctx context.Context, sess *Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}

	row := toRow(sess, time.Now())
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (caller_id) DO UPDATE").
		Set("language = EXCLUDED.language").
		Set("location = EXCLUDED.location").
		Set("current_crop = EXCLUDED.current_crop").
		Set("land_size_acres = EXCLUDED.land_size_acres").
		Set("sowing_date = EXCLUDED.sowing_date").
		Set("last_query = EXCLUDED.last_query").
		Set("last_interaction_at = EXCLUDED.last_interaction_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, callerID string) error {
	id := strings.TrimSpace(callerID)
	if id == "" {
		return ErrInvalidSession
	}
	if _, err := s.db.NewDelete().
		Model((*sessionRow)(nil)).
		Where("caller_id = ?", id).
		Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*sessionRow)(nil)).
		Where("last_interaction_at < ?", cutoff.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete idle sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
