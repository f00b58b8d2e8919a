// Package capture is the client-resident recording pipeline: it cuts a
// composited media stream into timed chunks, persists each chunk durably,
// uploads with bounded retry, and rehydrates unsent chunks after a restart.
package capture

import (
	"fmt"
	"time"
)

// RecordingChunk is one interval of captured media. Its identity is the
// session id plus a 1-based, strictly increasing part number.
type RecordingChunk struct {
	SessionID  string    `json:"session_id"`
	PartNumber int       `json:"part_number"`
	Data       []byte    `json:"-"`
	Timestamp  time.Time `json:"timestamp"`
	RetryCount int       `json:"retry_count"`
}

// Key returns the chunk's durable-store key: {sessionId}-{partNumber}.
func (c *RecordingChunk) Key() string {
	return ChunkKey(c.SessionID, c.PartNumber)
}

// ChunkKey builds a chunk store key from its parts.
func ChunkKey(sessionID string, partNumber int) string {
	return fmt.Sprintf("%s-%d", sessionID, partNumber)
}
