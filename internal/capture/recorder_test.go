package capture

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queueSource yields scripted payloads, then blocks until ctx is done.
type queueSource struct {
	mu       sync.Mutex
	payloads [][]byte
	closed   bool
}

func (s *queueSource) Read(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if len(s.payloads) > 0 {
		data := s.payloads[0]
		s.payloads = s.payloads[1:]
		s.mu.Unlock()
		return data, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return nil, io.EOF
}

func (s *queueSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func videoTrack(id string, src MediaSource) Track {
	return Track{ID: id, Kind: webrtc.RTPCodecTypeVideo, MimeType: "video/webm", Source: src}
}

func TestCompositeStreamIncludesRemoteOnlyForHost(t *testing.T) {
	local := []Track{videoTrack("local", nil)}
	remote := [][]Track{
		{videoTrack("remote-a", nil)},
		{videoTrack("remote-b", nil)},
	}

	host := NewCompositeStream(local, remote, true)
	assert.Len(t, host.Tracks(), 3)

	viewer := NewCompositeStream(local, remote, false)
	assert.Len(t, viewer.Tracks(), 1)
}

func TestStreamRecorderFlushCutsBuffer(t *testing.T) {
	src := &queueSource{payloads: [][]byte{[]byte("aaa"), []byte("bbb")}}
	rec := NewStreamRecorder(NewCompositeStream([]Track{videoTrack("local", src)}, nil, false), nil)

	chunks := make(chan []byte, 4)
	require.NoError(t, rec.Start(context.Background(), time.Hour, func(data []byte) {
		chunks <- data
	}))

	// Let the reader drain both payloads, then cut manually.
	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.payloads) == 0
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	rec.Flush()

	select {
	case data := <-chunks:
		assert.Equal(t, []byte("aaabbb"), data)
	case <-time.After(time.Second):
		t.Fatal("flush did not produce a chunk")
	}
	rec.Stop()
	assert.True(t, src.closed)
}

func TestStreamRecorderStopEmitsFinalBuffer(t *testing.T) {
	src := &queueSource{payloads: [][]byte{[]byte("tail")}}
	rec := NewStreamRecorder(NewCompositeStream([]Track{videoTrack("local", src)}, nil, false), nil)

	chunks := make(chan []byte, 4)
	require.NoError(t, rec.Start(context.Background(), time.Hour, func(data []byte) {
		chunks <- data
	}))
	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return len(src.payloads) == 0
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	rec.Stop()

	select {
	case data := <-chunks:
		assert.Equal(t, []byte("tail"), data)
	case <-time.After(time.Second):
		t.Fatal("stop did not emit the final buffer")
	}
}
