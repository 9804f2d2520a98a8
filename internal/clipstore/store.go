// Package clipstore persists finished utterances: their metadata, the
// transcript (if any) and the path of the WAV clip written for them.
package clipstore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record is the stored form of one utterance.
type Record struct {
	ID         uuid.UUID     `json:"id"`
	StreamID   string        `json:"stream_id"`
	Seq        int           `json:"seq"`
	SampleRate int           `json:"sample_rate"`
	Codec      string        `json:"codec"`
	Duration   time.Duration `json:"duration"`
	Text       string        `json:"text,omitempty"`
	Language   string        `json:"language,omitempty"`
	ClipPath   string        `json:"clip_path,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Store persists utterance records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save inserts or replaces the record with r.ID.
	Save(ctx context.Context, r *Record) error

	// Get returns the record with the given ID, or (nil, nil) if there is none.
	Get(ctx context.Context, id uuid.UUID) (*Record, error)

	// List returns all records of a stream ordered by sequence number.
	List(ctx context.Context, streamID string) ([]Record, error)

	// Delete removes every record of a stream. Deleting an unknown stream is
	// not an error.
	Delete(ctx context.Context, streamID string) error
}
