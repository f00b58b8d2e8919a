package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/codefinch/classroom-backend/pkg/queue"
	"github.com/codefinch/classroom-backend/pkg/storage"
)

// manifest is the assembled recording description written to S3: the
// session's chunks in part order, so playback merges by part number
// regardless of upload arrival order.
type manifest struct {
	SessionID   string         `json:"session_id"`
	GeneratedAt time.Time      `json:"generated_at"`
	TotalBytes  int64          `json:"total_bytes"`
	Parts       []manifestPart `json:"parts"`
}

type manifestPart struct {
	PartNumber int    `json:"part_number"`
	S3Key      string `json:"s3_key"`
	SizeBytes  int64  `json:"size_bytes"`
}

// FinalizeProcessor consumes finalize jobs: it assembles the session's
// uploaded chunks into an ordered manifest and marks the recording assembled.
type FinalizeProcessor struct {
	repo   *Repository
	s3     *storage.S3
	queue  *queue.Queue
	logger *zap.Logger
}

// NewFinalizeProcessor creates a finalize worker.
func NewFinalizeProcessor(repo *Repository, s3 *storage.S3, q *queue.Queue, logger *zap.Logger) *FinalizeProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FinalizeProcessor{repo: repo, s3: s3, queue: q, logger: logger}
}

// Process executes one finalize job.
func (p *FinalizeProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeFinalizeRecording {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.FinalizePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	rec, err := p.repo.GetRecording(ctx, payload.SessionID)
	if err != nil {
		return fmt.Errorf("recording lookup: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("recording not found: %s", payload.SessionID)
	}
	if rec.Status == StatusAssembled {
		p.logger.Info("recording already assembled", zap.String("session_id", payload.SessionID))
		return nil
	}

	chunks, err := p.repo.ListChunks(ctx, payload.SessionID)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}

	m := manifest{
		SessionID:   payload.SessionID,
		GeneratedAt: time.Now().UTC(),
		Parts:       make([]manifestPart, 0, len(chunks)),
	}
	for _, c := range chunks {
		m.TotalBytes += c.SizeBytes
		m.Parts = append(m.Parts, manifestPart{
			PartNumber: c.PartNumber,
			S3Key:      c.S3Key,
			SizeBytes:  c.SizeBytes,
		})
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	key := storage.ManifestKey(payload.SessionID)
	if _, err := p.s3.Upload(ctx, key, "application/json", bytes.NewReader(raw), int64(len(raw))); err != nil {
		return fmt.Errorf("upload manifest: %w", err)
	}
	if err := p.repo.UpdateAssembled(ctx, payload.SessionID, key, m.TotalBytes, len(m.Parts)); err != nil {
		return fmt.Errorf("update recording: %w", err)
	}

	p.logger.Info("recording assembled",
		zap.String("session_id", payload.SessionID),
		zap.Int("parts", len(m.Parts)),
		zap.Int64("total_bytes", m.TotalBytes),
	)
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *FinalizeProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("finalize worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
		}
	}
}
