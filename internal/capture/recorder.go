package capture

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// MediaSource yields encoded media for one track. Read blocks until data is
// available, the source ends (io.EOF), or ctx is done. Close releases the
// underlying capture resources.
type MediaSource interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Track is one media track feeding the composite stream.
type Track struct {
	ID       string
	Kind     webrtc.RTPCodecType
	MimeType string
	Source   MediaSource
}

// CompositeStream merges the local tracks with remote participant tracks.
// Remote tracks are only included for the host (teacher) role; a student
// records their own view only.
type CompositeStream struct {
	tracks []Track
}

// NewCompositeStream builds the composite. remote is one track set per
// remote participant and is ignored unless includeRemote is set.
func NewCompositeStream(local []Track, remote [][]Track, includeRemote bool) *CompositeStream {
	tracks := make([]Track, 0, len(local))
	tracks = append(tracks, local...)
	if includeRemote {
		for _, participant := range remote {
			tracks = append(tracks, participant...)
		}
	}
	return &CompositeStream{tracks: tracks}
}

// Tracks returns the merged track list.
func (s *CompositeStream) Tracks() []Track { return s.tracks }

// Close releases every track source.
func (s *CompositeStream) Close() {
	for _, t := range s.tracks {
		if t.Source != nil {
			_ = t.Source.Close()
		}
	}
}

// Recorder captures a composite stream into timed chunks. Flush asks the
// recorder to emit its current buffer immediately; Stop ends capture and
// releases the stream's tracks.
type Recorder interface {
	Start(ctx context.Context, interval time.Duration, emit func(data []byte)) error
	Flush()
	Stop()
}

// StreamRecorder buffers composite media and cuts one chunk per interval.
type StreamRecorder struct {
	stream *CompositeStream
	logger *zap.Logger

	mu      sync.Mutex
	buf     []byte
	started bool
	flushCh chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewStreamRecorder creates a recorder over the composite stream.
func NewStreamRecorder(stream *CompositeStream, logger *zap.Logger) *StreamRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamRecorder{stream: stream, logger: logger, flushCh: make(chan struct{}, 1)}
}

// Start begins timed capture: one reader goroutine per track appends into
// the shared buffer, and the cutter emits a chunk every interval or on Flush.
func (r *StreamRecorder) Start(ctx context.Context, interval time.Duration, emit func(data []byte)) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	r.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	for _, t := range r.stream.Tracks() {
		if t.Source == nil {
			continue
		}
		track := t
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for {
				data, err := track.Source.Read(runCtx)
				if err != nil {
					return
				}
				r.mu.Lock()
				r.buf = append(r.buf, data...)
				r.mu.Unlock()
			}
		}()
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				r.cut(emit)
				return
			case <-ticker.C:
				r.cut(emit)
			case <-r.flushCh:
				r.cut(emit)
			}
		}
	}()
	return nil
}

// cut emits the buffered bytes as one chunk, if any.
func (r *StreamRecorder) cut(emit func(data []byte)) {
	r.mu.Lock()
	if len(r.buf) == 0 {
		r.mu.Unlock()
		return
	}
	data := r.buf
	r.buf = nil
	r.mu.Unlock()
	emit(data)
}

// Flush requests an immediate cut of the in-progress buffer.
func (r *StreamRecorder) Flush() {
	select {
	case r.flushCh <- struct{}{}:
	default:
	}
}

// Stop ends capture and releases the composite stream's tracks. The final
// in-progress buffer is emitted before the cutter exits.
func (r *StreamRecorder) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	r.stream.Close()
}
