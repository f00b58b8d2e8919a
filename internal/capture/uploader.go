package capture

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ChunkUploader sends one chunk to the ingest endpoint. Re-uploading the
// same part number must be safe on the server side; the pipeline retries
// after ambiguous failures.
type ChunkUploader interface {
	Upload(ctx context.Context, chunk *RecordingChunk) error
}

// HTTPUploader uploads chunks to the ingest service with bearer auth.
type HTTPUploader struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPUploader creates an uploader for the given ingest base URL.
func NewHTTPUploader(baseURL, token string, logger *zap.Logger) *HTTPUploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPUploader{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// Upload POSTs the chunk payload, tagged with session id and part number.
func (u *HTTPUploader) Upload(ctx context.Context, chunk *RecordingChunk) error {
	url := fmt.Sprintf("%s/sessions/%s/chunks/%d", u.baseURL, chunk.SessionID, chunk.PartNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(chunk.Data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "video/webm")
	req.Header.Set("Authorization", "Bearer "+u.token)

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload part %d: %w", chunk.PartNumber, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upload part %d: status %d", chunk.PartNumber, resp.StatusCode)
	}
	u.logger.Debug("chunk uploaded",
		zap.String("session_id", chunk.SessionID),
		zap.Int("part", chunk.PartNumber),
		zap.Int("bytes", len(chunk.Data)),
	)
	return nil
}
