// Package ingest is the server side of the recording pipeline: it accepts
// chunk uploads, stores them durably in S3, and assembles finished sessions
// into an ordered recording manifest.
package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Recording statuses.
const (
	StatusRecording  = "recording"
	StatusProcessing = "processing"
	StatusAssembled  = "assembled"
)

// ChunkRow is one uploaded chunk as persisted.
type ChunkRow struct {
	SessionID  string     `json:"session_id"`
	PartNumber int        `json:"part_number"`
	S3Key      string     `json:"s3_key"`
	SizeBytes  int64      `json:"size_bytes"`
	UploadedBy *uuid.UUID `json:"uploaded_by,omitempty"`
	UploadedAt time.Time  `json:"uploaded_at"`
}

// SessionRecording is the per-session recording summary row.
type SessionRecording struct {
	SessionID   string    `json:"session_id"`
	Status      string    `json:"status"`
	ManifestKey string    `json:"manifest_key,omitempty"`
	TotalBytes  int64     `json:"total_bytes"`
	PartCount   int       `json:"part_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Repository handles recording chunk persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an ingest repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// HasChunk reports whether the chunk is already recorded. Used to keep
// re-uploads of the same part idempotent.
func (r *Repository) HasChunk(ctx context.Context, sessionID string, partNumber int) (bool, error) {
	const q = `SELECT 1 FROM recording_chunks WHERE session_id = $1 AND part_number = $2`
	var one int
	err := r.pool.QueryRow(ctx, q, sessionID, partNumber).Scan(&one)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// InsertChunk records an uploaded chunk. A conflicting part number is left
// untouched (first write wins; the payload bytes are identical by contract).
func (r *Repository) InsertChunk(ctx context.Context, row *ChunkRow) error {
	const q = `INSERT INTO recording_chunks (session_id, part_number, s3_key, size_bytes, uploaded_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, part_number) DO NOTHING`
	_, err := r.pool.Exec(ctx, q, row.SessionID, row.PartNumber, row.S3Key, row.SizeBytes, row.UploadedBy)
	return err
}

// ListChunks returns the session's chunks ordered by part number.
func (r *Repository) ListChunks(ctx context.Context, sessionID string) ([]ChunkRow, error) {
	const q = `SELECT session_id, part_number, s3_key, size_bytes, uploaded_by, uploaded_at
		FROM recording_chunks WHERE session_id = $1 ORDER BY part_number ASC`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []ChunkRow
	for rows.Next() {
		var row ChunkRow
		if err := rows.Scan(&row.SessionID, &row.PartNumber, &row.S3Key, &row.SizeBytes, &row.UploadedBy, &row.UploadedAt); err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	return list, rows.Err()
}

// EnsureRecording creates the session recording row if it does not exist.
func (r *Repository) EnsureRecording(ctx context.Context, sessionID string) error {
	const q = `INSERT INTO session_recordings (session_id) VALUES ($1)
		ON CONFLICT (session_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, q, sessionID)
	return err
}

// GetRecording returns the session recording summary, or nil when unknown.
func (r *Repository) GetRecording(ctx context.Context, sessionID string) (*SessionRecording, error) {
	const q = `SELECT session_id, status, COALESCE(manifest_key,''), total_bytes, part_count, created_at, updated_at
		FROM session_recordings WHERE session_id = $1`
	var rec SessionRecording
	err := r.pool.QueryRow(ctx, q, sessionID).Scan(&rec.SessionID, &rec.Status, &rec.ManifestKey, &rec.TotalBytes, &rec.PartCount, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// DeleteRecording removes the session's chunk rows and recording summary.
func (r *Repository) DeleteRecording(ctx context.Context, sessionID string) error {
	const delChunks = `DELETE FROM recording_chunks WHERE session_id = $1`
	const delRecording = `DELETE FROM session_recordings WHERE session_id = $1`
	if _, err := r.pool.Exec(ctx, delChunks, sessionID); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, delRecording, sessionID)
	return err
}

// UpdateStatus sets the recording status.
func (r *Repository) UpdateStatus(ctx context.Context, sessionID, status string) error {
	const q = `UPDATE session_recordings SET status = $1, updated_at = NOW() WHERE session_id = $2`
	_, err := r.pool.Exec(ctx, q, status, sessionID)
	return err
}

// UpdateAssembled records the manifest and totals and marks the recording assembled.
func (r *Repository) UpdateAssembled(ctx context.Context, sessionID, manifestKey string, totalBytes int64, partCount int) error {
	const q = `UPDATE session_recordings
		SET status = $1, manifest_key = $2, total_bytes = $3, part_count = $4, updated_at = NOW()
		WHERE session_id = $5`
	_, err := r.pool.Exec(ctx, q, StatusAssembled, manifestKey, totalBytes, partCount, sessionID)
	return err
}
