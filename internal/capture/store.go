package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrChunkNotFound is returned when a chunk key has no persisted entry.
var ErrChunkNotFound = errors.New("chunk not found")

// ChunkStore is the durable local chunk store the pipeline persists to.
// Writes to the same chunk key are mutually exclusive; different sessions
// never contend.
type ChunkStore interface {
	Put(ctx context.Context, chunk *RecordingChunk) error
	Get(ctx context.Context, sessionID string, partNumber int) (*RecordingChunk, error)
	// ListBySession returns the session's persisted chunks ordered by part number.
	ListBySession(ctx context.Context, sessionID string) ([]*RecordingChunk, error)
	Delete(ctx context.Context, sessionID string, partNumber int) error
	// IncrementRetry atomically bumps the persisted retry count and returns the new value.
	IncrementRetry(ctx context.Context, sessionID string, partNumber int) (int, error)
}

// chunkMeta is the sidecar metadata persisted next to the payload file.
type chunkMeta struct {
	SessionID  string `json:"session_id"`
	PartNumber int    `json:"part_number"`
	Timestamp  int64  `json:"timestamp"`
	RetryCount int    `json:"retry_count"`
}

// FileStore persists chunks to the local filesystem: one payload file and one
// sidecar meta file per chunk, under a directory per session. It survives
// process restarts, which is the whole point.
type FileStore struct {
	dir    string
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per chunk key
}

// NewFileStore creates a file-backed chunk store rooted at dir
// (os.TempDir() when empty).
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "classroom-chunks")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{dir: dir, logger: logger, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *FileStore) lock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *FileStore) sessionDir(sessionID string) string {
	return filepath.Join(s.dir, sessionID)
}

func (s *FileStore) paths(sessionID string, partNumber int) (payload, meta string) {
	base := filepath.Join(s.sessionDir(sessionID), strconv.Itoa(partNumber))
	return base + ".webm", base + ".json"
}

// Put persists the chunk payload and metadata.
func (s *FileStore) Put(_ context.Context, chunk *RecordingChunk) error {
	l := s.lock(chunk.Key())
	l.Lock()
	defer l.Unlock()

	if err := os.MkdirAll(s.sessionDir(chunk.SessionID), 0750); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	payloadPath, metaPath := s.paths(chunk.SessionID, chunk.PartNumber)
	if err := os.WriteFile(payloadPath, chunk.Data, 0600); err != nil {
		return fmt.Errorf("write chunk payload: %w", err)
	}
	meta := chunkMeta{
		SessionID:  chunk.SessionID,
		PartNumber: chunk.PartNumber,
		Timestamp:  chunk.Timestamp.UnixMilli(),
		RetryCount: chunk.RetryCount,
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal chunk meta: %w", err)
	}
	if err := os.WriteFile(metaPath, raw, 0600); err != nil {
		return fmt.Errorf("write chunk meta: %w", err)
	}
	return nil
}

// Get loads one chunk, payload included.
func (s *FileStore) Get(_ context.Context, sessionID string, partNumber int) (*RecordingChunk, error) {
	l := s.lock(ChunkKey(sessionID, partNumber))
	l.Lock()
	defer l.Unlock()
	return s.read(sessionID, partNumber)
}

func (s *FileStore) read(sessionID string, partNumber int) (*RecordingChunk, error) {
	payloadPath, metaPath := s.paths(sessionID, partNumber)
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrChunkNotFound
		}
		return nil, fmt.Errorf("read chunk meta: %w", err)
	}
	var meta chunkMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal chunk meta: %w", err)
	}
	data, err := os.ReadFile(payloadPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrChunkNotFound
		}
		return nil, fmt.Errorf("read chunk payload: %w", err)
	}
	return &RecordingChunk{
		SessionID:  meta.SessionID,
		PartNumber: meta.PartNumber,
		Data:       data,
		Timestamp:  time.UnixMilli(meta.Timestamp),
		RetryCount: meta.RetryCount,
	}, nil
}

// ListBySession returns all persisted chunks for the session ordered by part
// number ascending, so rehydrated chunks reach the server in capture order.
func (s *FileStore) ListBySession(ctx context.Context, sessionID string) ([]*RecordingChunk, error) {
	entries, err := os.ReadDir(s.sessionDir(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session dir: %w", err)
	}
	var parts []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		part, err := strconv.Atoi(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		parts = append(parts, part)
	}
	sort.Ints(parts)

	chunks := make([]*RecordingChunk, 0, len(parts))
	for _, part := range parts {
		chunk, err := s.Get(ctx, sessionID, part)
		if err != nil {
			if errors.Is(err, ErrChunkNotFound) {
				continue
			}
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// Delete removes the chunk's payload and metadata. Deleting a missing chunk is a no-op.
func (s *FileStore) Delete(_ context.Context, sessionID string, partNumber int) error {
	key := ChunkKey(sessionID, partNumber)
	l := s.lock(key)
	l.Lock()
	defer l.Unlock()

	payloadPath, metaPath := s.paths(sessionID, partNumber)
	if err := os.Remove(payloadPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete chunk payload: %w", err)
	}
	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete chunk meta: %w", err)
	}

	s.mu.Lock()
	delete(s.locks, key)
	s.mu.Unlock()
	return nil
}

// IncrementRetry bumps the persisted retry count and returns the new value.
// The count is monotonically non-decreasing until the chunk is deleted.
func (s *FileStore) IncrementRetry(_ context.Context, sessionID string, partNumber int) (int, error) {
	l := s.lock(ChunkKey(sessionID, partNumber))
	l.Lock()
	defer l.Unlock()

	_, metaPath := s.paths(sessionID, partNumber)
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrChunkNotFound
		}
		return 0, fmt.Errorf("read chunk meta: %w", err)
	}
	var meta chunkMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return 0, fmt.Errorf("unmarshal chunk meta: %w", err)
	}
	meta.RetryCount++
	out, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("marshal chunk meta: %w", err)
	}
	if err := os.WriteFile(metaPath, out, 0600); err != nil {
		return 0, fmt.Errorf("write chunk meta: %w", err)
	}
	return meta.RetryCount, nil
}
