package views

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Schema creates the tables and the record_profile_view procedure. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS profiles (
	user_id    TEXT PRIMARY KEY,
	view_count BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS profile_views (
	seq             BIGSERIAL PRIMARY KEY,
	id              UUID NOT NULL UNIQUE,
	profile_user_id TEXT NOT NULL REFERENCES profiles(user_id) ON DELETE CASCADE,
	viewer_user_id  TEXT,
	viewer_ip_hash  TEXT,
	user_agent      TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS profile_views_recent_idx ON profile_views (profile_user_id, created_at DESC, seq);
CREATE INDEX IF NOT EXISTS profile_views_created_idx ON profile_views (created_at);

CREATE OR REPLACE FUNCTION record_profile_view(
	p_id UUID,
	p_profile_user_id TEXT,
	p_viewer_user_id TEXT,
	p_viewer_ip_hash TEXT,
	p_user_agent TEXT,
	p_created_at TIMESTAMPTZ
) RETURNS TABLE (out_seq BIGINT, out_count BIGINT) AS $$
BEGIN
	INSERT INTO profile_views (id, profile_user_id, viewer_user_id, viewer_ip_hash, user_agent, created_at)
	VALUES (p_id, p_profile_user_id, p_viewer_user_id, p_viewer_ip_hash, p_user_agent, p_created_at)
	RETURNING seq INTO out_seq;

	UPDATE profiles SET view_count = view_count + 1
	WHERE user_id = p_profile_user_id
	RETURNING view_count INTO out_count;

	RETURN NEXT;
END;
$$ LANGUAGE plpgsql;
`

const foreignKeyViolation = "23503"

// PostgresStore stores views in profile_views and the counter in profiles.view_count.
// Reads of view rows go to the reader connection, which may be a replica.
type PostgresStore struct {
	db     *sql.DB
	reader *sql.DB
}

// NewPostgresStore creates a store. A nil reader reads from db.
func NewPostgresStore(db, reader *sql.DB) *PostgresStore {
	if reader == nil {
		reader = db
	}
	return &PostgresStore{db: db, reader: reader}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// EnsureProfile creates a profile row if it does not already exist.
func (s *PostgresStore) EnsureProfile(ctx context.Context, profileUserID string, viewCount int64) error {
	query := `
		INSERT INTO profiles (user_id, view_count)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, profileUserID, viewCount); err != nil {
		return fmt.Errorf("failed to ensure profile: %w", err)
	}
	return nil
}

// InsertView implements ViewStore.
func (s *PostgresStore) InsertView(ctx context.Context, v *ProfileView) error {
	query := `
		INSERT INTO profile_views (id, profile_user_id, viewer_user_id, viewer_ip_hash, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq
	`
	err := s.db.QueryRowContext(ctx, query,
		string(v.ID),
		v.ProfileUserID,
		nullString(v.ViewerUserID),
		nullString(v.ViewerIPHash),
		nullString(v.UserAgent),
		v.CreatedAt,
	).Scan(&v.Seq)
	if err != nil {
		return fmt.Errorf("failed to insert view: %w", mapError(err))
	}
	return nil
}

// RecordViewAtomic implements AtomicRecorder through the record_profile_view procedure.
func (s *PostgresStore) RecordViewAtomic(ctx context.Context, v *ProfileView) (int64, error) {
	query := `SELECT out_seq, out_count FROM record_profile_view($1, $2, $3, $4, $5, $6)`

	var count sql.NullInt64
	err := s.db.QueryRowContext(ctx, query,
		string(v.ID),
		v.ProfileUserID,
		nullString(v.ViewerUserID),
		nullString(v.ViewerIPHash),
		nullString(v.UserAgent),
		v.CreatedAt,
	).Scan(&v.Seq, &count)
	if err != nil {
		return 0, fmt.Errorf("failed to record view: %w", mapError(err))
	}
	if !count.Valid {
		return 0, ErrProfileNotFound
	}
	return count.Int64, nil
}

// ListRecentViews implements ViewStore.
func (s *PostgresStore) ListRecentViews(ctx context.Context, profileUserID string, limit int) ([]ProfileView, error) {
	query := `
		SELECT id, seq, profile_user_id, viewer_user_id, viewer_ip_hash, user_agent, created_at
		FROM profile_views
		WHERE profile_user_id = $1
		ORDER BY created_at DESC, seq ASC
		LIMIT $2
	`
	return s.queryViews(ctx, query, profileUserID, limit)
}

// ListViewsSince implements ViewStore.
func (s *PostgresStore) ListViewsSince(ctx context.Context, profileUserID string, since time.Time, limit int) ([]ProfileView, error) {
	query := `
		SELECT id, seq, profile_user_id, viewer_user_id, viewer_ip_hash, user_agent, created_at
		FROM profile_views
		WHERE profile_user_id = $1 AND created_at >= $2
		ORDER BY created_at DESC, seq ASC
		LIMIT $3
	`
	return s.queryViews(ctx, query, profileUserID, since, limit)
}

func (s *PostgresStore) queryViews(ctx context.Context, query string, args ...interface{}) ([]ProfileView, error) {
	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list views: %w", err)
	}
	defer rows.Close()

	views := make([]ProfileView, 0)
	for rows.Next() {
		var (
			v                     ProfileView
			id                    string
			viewer, ipHash, agent sql.NullString
		)
		if err := rows.Scan(&id, &v.Seq, &v.ProfileUserID, &viewer, &ipHash, &agent, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan view: %w", err)
		}
		v.ID = ViewID(id)
		v.ViewerUserID = stringPtr(viewer)
		v.ViewerIPHash = stringPtr(ipHash)
		v.UserAgent = stringPtr(agent)
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate views: %w", err)
	}
	return views, nil
}

// PurgeViewsBefore implements ViewStore. The counter is left untouched.
func (s *PostgresStore) PurgeViewsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM profile_views WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge views: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read purge result: %w", err)
	}
	return n, nil
}

// GetViewCount implements CountStore.
func (s *PostgresStore) GetViewCount(ctx context.Context, profileUserID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT view_count FROM profiles WHERE user_id = $1`, profileUserID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrProfileNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get view count: %w", err)
	}
	return n, nil
}

// IncrementViewCount implements CountStore.
func (s *PostgresStore) IncrementViewCount(ctx context.Context, profileUserID string) (int64, error) {
	query := `
		UPDATE profiles SET view_count = view_count + 1
		WHERE user_id = $1
		RETURNING view_count
	`
	var n int64
	err := s.db.QueryRowContext(ctx, query, profileUserID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrProfileNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment view count: %w", err)
	}
	return n, nil
}

func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
		return ErrProfileNotFound
	}
	return err
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
