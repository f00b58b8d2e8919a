package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultChunkInterval bounds per-chunk size and limits loss on abrupt termination.
	DefaultChunkInterval = 25 * time.Second
	// DefaultMaxUploadAttempts is the retry ceiling per chunk.
	DefaultMaxUploadAttempts = 3
	// DefaultBackoffBase is multiplied by the attempt number between retries.
	DefaultBackoffBase = 2 * time.Second

	eventsCapacity = 64
	drainPollEvery = 100 * time.Millisecond
)

// EventType identifies a pipeline event.
type EventType string

const (
	// EventChunkUploaded fires once per confirmed chunk upload.
	EventChunkUploaded EventType = "chunk_uploaded"
	// EventChunkFailed fires when a chunk exhausts its retries and is abandoned.
	EventChunkFailed EventType = "chunk_failed"
	// EventRecordingComplete fires after Stop drains the upload queue.
	EventRecordingComplete EventType = "recording_complete"
)

// Event is one observation from the pipeline, delivered on Events().
type Event struct {
	Type       EventType
	PartNumber int
	Bytes      int64 // total uploaded bytes so far (uploaded/complete events)
	Attempts   int   // attempts spent (failed events)
	Err        error
}

// SessionConfig configures one recording session.
type SessionConfig struct {
	SessionID         string
	IsHost            bool // host recordings composite remote participant tracks too
	ChunkInterval     time.Duration
	MaxUploadAttempts int
	BackoffBase       time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.ChunkInterval <= 0 {
		c.ChunkInterval = DefaultChunkInterval
	}
	if c.MaxUploadAttempts <= 0 {
		c.MaxUploadAttempts = DefaultMaxUploadAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	return c
}

// RecordingSession owns one active recording: the recorder, the durable
// chunk store and the single-flight upload worker. There are no process-wide
// singletons; independent sessions run fully in parallel.
type RecordingSession struct {
	cfg      SessionConfig
	store    ChunkStore
	uploader ChunkUploader
	recorder Recorder
	logger   *zap.Logger

	events chan Event

	mu            sync.Mutex
	pending       []*RecordingChunk // FIFO; unbounded so a slow uploader delays chunks, never loses them
	depth         int               // pending plus the chunk being processed
	wake          chan struct{}
	nextPart      int // producer counter; never repeats or goes backward
	uploadedBytes int64
	started       bool
	workerDone    chan struct{}
	cancelWorker  context.CancelFunc
}

// NewRecordingSession builds a session around a recorder, durable store and uploader.
func NewRecordingSession(cfg SessionConfig, recorder Recorder, store ChunkStore, uploader ChunkUploader, logger *zap.Logger) *RecordingSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordingSession{
		cfg:      cfg.withDefaults(),
		store:    store,
		uploader: uploader,
		recorder: recorder,
		logger:   logger.With(zap.String("session_id", cfg.SessionID)),
		events:   make(chan Event, eventsCapacity),
		wake:     make(chan struct{}, 1),
		nextPart: 1,
	}
}

// Events delivers per-chunk successes, terminal per-chunk failures and the
// recording-complete notification. The channel is buffered; a slow consumer
// drops events rather than stalling uploads.
func (s *RecordingSession) Events() <-chan Event { return s.events }

// UploadedBytes returns the total bytes confirmed uploaded so far.
func (s *RecordingSession) UploadedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploadedBytes
}

// Start rehydrates previously persisted chunks for this session, starts the
// upload worker and begins timed capture.
func (s *RecordingSession) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("recording already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.rehydrate(ctx); err != nil {
		return fmt.Errorf("rehydrate chunks: %w", err)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancelWorker = cancel
	s.workerDone = make(chan struct{})
	s.mu.Unlock()
	go s.uploadWorker(workerCtx)

	if err := s.recorder.Start(ctx, s.cfg.ChunkInterval, s.onChunk); err != nil {
		cancel()
		return fmt.Errorf("start recorder: %w", err)
	}
	s.logger.Info("recording started", zap.Duration("chunk_interval", s.cfg.ChunkInterval))
	return nil
}

// rehydrate re-enqueues persisted chunks in part order and deletes chunks
// that already exhausted their retries before the restart.
func (s *RecordingSession) rehydrate(ctx context.Context) error {
	chunks, err := s.store.ListBySession(ctx, s.cfg.SessionID)
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		if chunk.PartNumber >= s.nextPart {
			s.nextPart = chunk.PartNumber + 1
		}
		if chunk.RetryCount >= s.cfg.MaxUploadAttempts {
			_ = s.store.Delete(ctx, s.cfg.SessionID, chunk.PartNumber)
			s.emit(Event{
				Type:       EventChunkFailed,
				PartNumber: chunk.PartNumber,
				Attempts:   chunk.RetryCount,
				Err:        fmt.Errorf("part %d abandoned after %d attempts", chunk.PartNumber, chunk.RetryCount),
			})
			continue
		}
		s.enqueue(chunk)
	}
	if len(chunks) > 0 {
		s.logger.Info("rehydrated persisted chunks", zap.Int("count", len(chunks)))
	}
	return nil
}

// onChunk persists a freshly captured chunk, then queues it for upload.
// Persist-before-enqueue is what makes a crash lose at most the in-progress
// interval.
func (s *RecordingSession) onChunk(data []byte) {
	s.mu.Lock()
	part := s.nextPart
	s.nextPart++
	s.mu.Unlock()

	chunk := &RecordingChunk{
		SessionID:  s.cfg.SessionID,
		PartNumber: part,
		Data:       data,
		Timestamp:  time.Now(),
	}
	if err := s.store.Put(context.Background(), chunk); err != nil {
		s.logger.Error("persist chunk failed", zap.Int("part", part), zap.Error(err))
	}
	s.enqueue(chunk)
}

func (s *RecordingSession) enqueue(chunk *RecordingChunk) {
	s.mu.Lock()
	s.pending = append(s.pending, chunk)
	s.depth++
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// uploadWorker is the single sequential consumer of the session's queue.
// Chunks of one session are never uploaded in parallel, so they leave in
// capture order.
func (s *RecordingSession) uploadWorker(ctx context.Context) {
	defer close(s.workerDone)
	for {
		chunk := s.nextChunk(ctx)
		if chunk == nil {
			return
		}
		s.processChunk(ctx, chunk)
		s.mu.Lock()
		s.depth--
		s.mu.Unlock()
	}
}

// nextChunk pops the oldest pending chunk, blocking until one arrives or ctx
// is done. depth stays raised until processChunk finishes, so an idle check
// cannot fire between the pop and the upload.
func (s *RecordingSession) nextChunk(ctx context.Context) *RecordingChunk {
	for {
		s.mu.Lock()
		if len(s.pending) > 0 {
			chunk := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()
			return chunk
		}
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		}
	}
}

// processChunk drives one chunk to a terminal state: uploaded and deleted,
// or abandoned after the retry ceiling. Two counters guard the ceiling: the
// persisted RetryCount (survives restarts) and the in-call attempt counter;
// either one reaching the ceiling stops retrying.
func (s *RecordingSession) processChunk(ctx context.Context, chunk *RecordingChunk) {
	// A chunk already known to be exhausted is deleted without network I/O.
	persisted, err := s.store.Get(ctx, s.cfg.SessionID, chunk.PartNumber)
	if err != nil {
		if errors.Is(err, ErrChunkNotFound) {
			return
		}
		s.logger.Warn("read persisted chunk failed", zap.Int("part", chunk.PartNumber), zap.Error(err))
		persisted = chunk
	}
	if persisted.RetryCount >= s.cfg.MaxUploadAttempts {
		_ = s.store.Delete(ctx, s.cfg.SessionID, chunk.PartNumber)
		s.fail(chunk.PartNumber, persisted.RetryCount, fmt.Errorf("part %d abandoned after %d attempts", chunk.PartNumber, persisted.RetryCount))
		return
	}

	attempts := 0
	for {
		attempts++
		err := s.uploader.Upload(ctx, chunk)
		if err == nil {
			_ = s.store.Delete(ctx, s.cfg.SessionID, chunk.PartNumber)
			s.mu.Lock()
			s.uploadedBytes += int64(len(chunk.Data))
			total := s.uploadedBytes
			s.mu.Unlock()
			s.emit(Event{Type: EventChunkUploaded, PartNumber: chunk.PartNumber, Bytes: total})
			return
		}

		newCount, incErr := s.store.IncrementRetry(ctx, s.cfg.SessionID, chunk.PartNumber)
		if incErr != nil {
			newCount = attempts
		}
		s.logger.Warn("chunk upload failed",
			zap.Int("part", chunk.PartNumber),
			zap.Int("attempt", attempts),
			zap.Int("persisted_retry_count", newCount),
			zap.Error(err),
		)
		if newCount >= s.cfg.MaxUploadAttempts || attempts >= s.cfg.MaxUploadAttempts {
			_ = s.store.Delete(ctx, s.cfg.SessionID, chunk.PartNumber)
			s.fail(chunk.PartNumber, attempts, fmt.Errorf("part %d failed after %d attempts: %w", chunk.PartNumber, attempts, err))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.BackoffBase * time.Duration(attempts)):
		}
	}
}

// fail reports a terminal, part-scoped failure. Capture of later chunks continues.
func (s *RecordingSession) fail(part, attempts int, err error) {
	s.logger.Error("chunk abandoned", zap.Int("part", part), zap.Int("attempts", attempts), zap.Error(err))
	s.emit(Event{Type: EventChunkFailed, PartNumber: part, Attempts: attempts, Err: err})
}

func (s *RecordingSession) emit(e Event) {
	select {
	case s.events <- e:
	default:
		// consumer is behind; drop rather than block uploads
	}
}

// Flush asks the recorder to emit its in-progress buffer immediately.
func (s *RecordingSession) Flush() {
	s.recorder.Flush()
}

// ShutdownFlush is the best-effort hook for host-environment teardown (page
// unload and the like). It is advisory only: it cuts the current buffer so
// the chunk reaches the durable store, but gives no upload guarantee.
func (s *RecordingSession) ShutdownFlush() {
	s.recorder.Flush()
	// Give the cutter a moment to persist; anything left is rehydrated later.
	time.Sleep(200 * time.Millisecond)
}

// Stop flushes, stops the recorder, blocks until the upload queue drains
// (graceful drain, not abort), then shuts down the worker and reports
// completion. Already-queued chunks are never lost to a stop.
func (s *RecordingSession) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.New("recording not started")
	}
	s.started = false
	cancel := s.cancelWorker
	s.mu.Unlock()

	s.recorder.Flush()
	s.recorder.Stop()

	// Poll until every queued chunk reached a terminal state, then confirm
	// against the durable store: completion means nothing was left behind.
	ticker := time.NewTicker(drainPollEvery)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		idle := s.depth == 0
		s.mu.Unlock()
		if idle {
			leftovers, err := s.store.ListBySession(ctx, s.cfg.SessionID)
			if err != nil {
				s.logger.Warn("list persisted chunks failed", zap.Error(err))
				break
			}
			if len(leftovers) == 0 {
				break
			}
			for _, chunk := range leftovers {
				s.enqueue(chunk)
			}
		}
		select {
		case <-ctx.Done():
			cancel()
			<-s.workerDone
			return fmt.Errorf("drain upload queue: %w", ctx.Err())
		case <-ticker.C:
		}
	}

	cancel()
	<-s.workerDone

	s.mu.Lock()
	total := s.uploadedBytes
	s.mu.Unlock()
	s.emit(Event{Type: EventRecordingComplete, Bytes: total})
	s.logger.Info("recording stopped", zap.Int64("uploaded_bytes", total))
	return nil
}
