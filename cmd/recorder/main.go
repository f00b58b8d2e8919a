// Package main is a local recording tool: it streams a media file through
// the capture pipeline to the chunk ingest endpoint. Useful for exercising
// ingest and finalize end to end without a live class session.
package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/codefinch/classroom-backend/config"
	"github.com/codefinch/classroom-backend/internal/auth"
	"github.com/codefinch/classroom-backend/internal/capture"
)

const readSize = 32 * 1024

// fileSource feeds a media file into the pipeline as one track.
type fileSource struct {
	f *os.File
}

func (s *fileSource) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, readSize)
	n, err := s.f.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *fileSource) Close() error { return s.f.Close() }

func main() {
	var (
		file      = flag.String("file", "", "media file to stream (webm)")
		sessionID = flag.String("session", "", "session id to record under (random when empty)")
		userName  = flag.String("name", "recorder-tool", "display name on the generated token")
	)
	flag.Parse()

	logger := newLogger()
	defer logger.Sync()

	if *file == "" {
		logger.Fatal("missing -file")
	}
	if *sessionID == "" {
		*sessionID = uuid.New().String()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	f, err := os.Open(*file)
	if err != nil {
		logger.Fatal("open media file", zap.Error(err))
	}

	token, err := auth.NewJWTService(cfg.JWT.Secret).Generate(uuid.New(), *userName, "teacher")
	if err != nil {
		logger.Fatal("generate token", zap.Error(err))
	}

	store, err := capture.NewFileStore(cfg.Capture.StoreDir, logger)
	if err != nil {
		logger.Fatal("chunk store", zap.Error(err))
	}
	uploader := capture.NewHTTPUploader(cfg.Capture.UploadURL, token, logger)

	track := capture.Track{
		ID:       "file",
		Kind:     webrtc.RTPCodecTypeVideo,
		MimeType: "video/webm",
		Source:   &fileSource{f: f},
	}
	recorder := capture.NewStreamRecorder(capture.NewCompositeStream([]capture.Track{track}, nil, false), logger)

	session := capture.NewRecordingSession(capture.SessionConfig{
		SessionID:         *sessionID,
		ChunkInterval:     time.Duration(cfg.Capture.ChunkIntervalSec) * time.Second,
		MaxUploadAttempts: cfg.Capture.MaxUploadAttempts,
		BackoffBase:       time.Duration(cfg.Capture.BackoffBaseMs) * time.Millisecond,
	}, recorder, store, uploader, logger)

	if err := session.Start(context.Background()); err != nil {
		logger.Fatal("start recording", zap.Error(err))
	}
	logger.Info("recording", zap.String("session_id", *sessionID), zap.String("upload_url", cfg.Capture.UploadURL))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range session.Events() {
			switch ev.Type {
			case capture.EventChunkUploaded:
				logger.Info("chunk uploaded", zap.Int("part", ev.PartNumber), zap.Int64("total_bytes", ev.Bytes))
			case capture.EventChunkFailed:
				logger.Warn("chunk abandoned", zap.Int("part", ev.PartNumber), zap.Int("attempts", ev.Attempts), zap.Error(ev.Err))
			case capture.EventRecordingComplete:
				logger.Info("recording complete", zap.Int64("total_bytes", ev.Bytes))
				return
			}
		}
	}()

	quit := make(chan os.Signal, 2)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// A second signal forces exit; cut the in-progress buffer into the store
	// first so it rehydrates on the next run.
	go func() {
		<-quit
		session.ShutdownFlush()
		os.Exit(1)
	}()

	drainCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := session.Stop(drainCtx); err != nil {
		logger.Error("stop recording", zap.Error(err))
		return
	}
	<-done
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
