package clipstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the utterances table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS utterances (
    id           TEXT PRIMARY KEY,
    stream_id    TEXT NOT NULL,
    seq          INTEGER NOT NULL,
    sample_rate  INTEGER NOT NULL,
    codec        TEXT NOT NULL DEFAULT '',
    duration_ms  BIGINT NOT NULL,
    text         TEXT NOT NULL DEFAULT '',
    language     TEXT NOT NULL DEFAULT '',
    clip_path    TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_utterances_stream ON utterances(stream_id, seq);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] on the given connection or pool.
// The caller is responsible for calling [PostgresStore.Migrate] first.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("clipstore: migrate: %w", err)
	}
	return nil
}

// Save implements [Store]. An existing record with the same ID is replaced.
func (s *PostgresStore) Save(ctx context.Context, r *Record) error {
	const query = `
		INSERT INTO utterances (
			id, stream_id, seq, sample_rate, codec,
			duration_ms, text, language, clip_path, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text,
			language = EXCLUDED.language,
			clip_path = EXCLUDED.clip_path`

	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(ctx, query,
		r.ID.String(), r.StreamID, r.Seq, r.SampleRate, r.Codec,
		r.Duration.Milliseconds(), r.Text, r.Language, r.ClipPath, createdAt,
	)
	if err != nil {
		return fmt.Errorf("clipstore: save %s: %w", r.ID, err)
	}
	return nil
}

const selectColumns = `
	SELECT id, stream_id, seq, sample_rate, codec,
	       duration_ms, text, language, clip_path, created_at
	FROM utterances`

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	r, err := scanRecord(s.db.QueryRow(ctx, selectColumns+` WHERE id = $1`, id.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("clipstore: get %s: %w", id, err)
	}
	return &r, nil
}

// List implements [Store].
func (s *PostgresStore) List(ctx context.Context, streamID string) ([]Record, error) {
	rows, err := s.db.Query(ctx, selectColumns+` WHERE stream_id = $1 ORDER BY seq`, streamID)
	if err != nil {
		return nil, fmt.Errorf("clipstore: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("clipstore: list scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clipstore: list: %w", err)
	}
	return out, nil
}

// Delete implements [Store].
func (s *PostgresStore) Delete(ctx context.Context, streamID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM utterances WHERE stream_id = $1`, streamID); err != nil {
		return fmt.Errorf("clipstore: delete %q: %w", streamID, err)
	}
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		r          Record
		id         string
		durationMS int64
	)
	err := row.Scan(
		&id, &r.StreamID, &r.Seq, &r.SampleRate, &r.Codec,
		&durationMS, &r.Text, &r.Language, &r.ClipPath, &r.CreatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	if r.ID, err = uuid.Parse(id); err != nil {
		return Record{}, fmt.Errorf("parse id %q: %w", id, err)
	}
	r.Duration = time.Duration(durationMS) * time.Millisecond
	return r, nil
}
