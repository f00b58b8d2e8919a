package ingest

import (
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codefinch/classroom-backend/internal/middleware"
	"github.com/codefinch/classroom-backend/pkg/queue"
	"github.com/codefinch/classroom-backend/pkg/response"
	"github.com/codefinch/classroom-backend/pkg/storage"
)

// MaxChunkSize bounds one uploaded chunk (32MB).
const MaxChunkSize = 32 * 1024 * 1024

// Handler exposes chunk upload and recording finalize endpoints.
type Handler struct {
	repo   *Repository
	s3     *storage.S3
	queue  *queue.Queue
	logger *zap.Logger
}

// NewHandler creates an ingest handler.
func NewHandler(repo *Repository, s3 *storage.S3, q *queue.Queue, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, s3: s3, queue: q, logger: logger}
}

// UploadChunk handles POST /sessions/:id/chunks/:part. Re-uploading an
// already-stored part is acknowledged without a second write, so client
// retries after ambiguous failures are safe.
func (h *Handler) UploadChunk(c *gin.Context) {
	sessionID := c.Param("id")
	part, err := strconv.Atoi(c.Param("part"))
	if err != nil || part < 1 {
		response.BadRequest(c, "invalid part number")
		return
	}
	if h.s3 == nil {
		response.ServiceUnavailable(c, "recording storage not configured")
		return
	}

	exists, err := h.repo.HasChunk(c.Request.Context(), sessionID, part)
	if err != nil {
		h.logger.Error("chunk lookup failed", zap.Error(err))
		response.Internal(c, "chunk lookup failed")
		return
	}
	if exists {
		response.OK(c, gin.H{"session_id": sessionID, "part_number": part, "duplicate": true})
		return
	}

	body := io.LimitReader(c.Request.Body, MaxChunkSize)
	key := storage.ChunkKey(sessionID, part)
	contentType := c.ContentType()
	if contentType == "" {
		contentType = "video/webm"
	}
	if _, err := h.s3.Upload(c.Request.Context(), key, contentType, body, c.Request.ContentLength); err != nil {
		h.logger.Error("chunk upload to s3 failed",
			zap.String("session_id", sessionID),
			zap.Int("part", part),
			zap.Error(err),
		)
		response.Internal(c, "chunk store failed")
		return
	}

	var uploadedBy *uuid.UUID
	if v, ok := c.Get(middleware.ContextUserID); ok {
		if id, ok := v.(uuid.UUID); ok {
			uploadedBy = &id
		}
	}
	if err := h.repo.EnsureRecording(c.Request.Context(), sessionID); err != nil {
		h.logger.Error("ensure recording failed", zap.Error(err))
		response.Internal(c, "recording bookkeeping failed")
		return
	}
	row := &ChunkRow{
		SessionID:  sessionID,
		PartNumber: part,
		S3Key:      key,
		SizeBytes:  c.Request.ContentLength,
		UploadedBy: uploadedBy,
	}
	if err := h.repo.InsertChunk(c.Request.Context(), row); err != nil {
		h.logger.Error("insert chunk row failed", zap.Error(err))
		response.Internal(c, "recording bookkeeping failed")
		return
	}
	response.Created(c, gin.H{"session_id": sessionID, "part_number": part, "s3_key": key})
}

// ListChunks handles GET /sessions/:id/chunks: the stored parts in part order.
func (h *Handler) ListChunks(c *gin.Context) {
	chunks, err := h.repo.ListChunks(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Internal(c, "list chunks failed")
		return
	}
	response.OK(c, chunks)
}

// CompleteRecording handles POST /sessions/:id/recording/complete: marks the
// recording as processing and enqueues the finalize job.
func (h *Handler) CompleteRecording(c *gin.Context) {
	sessionID := c.Param("id")
	if err := h.repo.EnsureRecording(c.Request.Context(), sessionID); err != nil {
		response.Internal(c, "recording bookkeeping failed")
		return
	}
	if err := h.repo.UpdateStatus(c.Request.Context(), sessionID, StatusProcessing); err != nil {
		response.Internal(c, "recording bookkeeping failed")
		return
	}
	if err := h.queue.EnqueueFinalize(c.Request.Context(), queue.FinalizePayload{SessionID: sessionID}); err != nil {
		h.logger.Error("enqueue finalize failed", zap.String("session_id", sessionID), zap.Error(err))
		response.Internal(c, "finalize enqueue failed")
		return
	}
	response.OK(c, gin.H{"session_id": sessionID, "status": StatusProcessing})
}

// DeleteRecording handles DELETE /sessions/:id/recording: removes the
// session's chunk objects, manifest and bookkeeping rows.
func (h *Handler) DeleteRecording(c *gin.Context) {
	sessionID := c.Param("id")
	if h.s3 == nil {
		response.ServiceUnavailable(c, "recording storage not configured")
		return
	}
	rec, err := h.repo.GetRecording(c.Request.Context(), sessionID)
	if err != nil {
		response.Internal(c, "recording lookup failed")
		return
	}
	if rec == nil {
		response.NotFound(c, "no recording for session")
		return
	}
	chunks, err := h.repo.ListChunks(c.Request.Context(), sessionID)
	if err != nil {
		response.Internal(c, "list chunks failed")
		return
	}
	for _, chunk := range chunks {
		if err := h.s3.DeleteObject(c.Request.Context(), chunk.S3Key); err != nil {
			h.logger.Error("delete chunk object failed", zap.String("s3_key", chunk.S3Key), zap.Error(err))
			response.Internal(c, "recording delete failed")
			return
		}
	}
	if rec.ManifestKey != "" {
		if err := h.s3.DeleteObject(c.Request.Context(), rec.ManifestKey); err != nil {
			h.logger.Error("delete manifest failed", zap.String("session_id", sessionID), zap.Error(err))
			response.Internal(c, "recording delete failed")
			return
		}
	}
	if err := h.repo.DeleteRecording(c.Request.Context(), sessionID); err != nil {
		response.Internal(c, "recording bookkeeping failed")
		return
	}
	response.NoContent(c)
}

// ManifestURL handles GET /sessions/:id/recording/manifest-url: a presigned
// download URL for the assembled recording manifest.
func (h *Handler) ManifestURL(c *gin.Context) {
	sessionID := c.Param("id")
	rec, err := h.repo.GetRecording(c.Request.Context(), sessionID)
	if err != nil {
		response.Internal(c, "recording lookup failed")
		return
	}
	if rec == nil {
		response.NotFound(c, "no recording for session")
		return
	}
	if rec.Status != StatusAssembled || rec.ManifestKey == "" {
		response.Conflict(c, "recording not assembled yet")
		return
	}
	url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), rec.ManifestKey, h.s3.PresignExpire())
	if err != nil {
		response.Internal(c, "presign failed")
		return
	}
	response.OK(c, gin.H{"url": url, "expires_in_minutes": int(h.s3.PresignExpire().Minutes())})
}
