// Package ingest implements the chunk store: it accepts chunk uploads,
// stages bytes in object storage, and tracks per-session completion
// atomically so parallel chunk arrivals race safely.
package ingest

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	"mediarelay/internal/config"
	"mediarelay/internal/errs"
	"mediarelay/internal/logging"
	"mediarelay/internal/metrics"
	"mediarelay/internal/models"
	"mediarelay/internal/s3"
	"mediarelay/internal/store"
)

// ChunkStorage is the slice of the object store the ingest path needs.
type ChunkStorage interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
}

// ChunkRequest is one chunk arrival.
type ChunkRequest struct {
	SessionID   string
	OwnerID     string
	Index       int
	TotalChunks int
	SizeBytes   int64
	Body        io.Reader
}

// ChunkReceipt reports the session's progress after accepting a chunk.
type ChunkReceipt struct {
	Accepted bool `json:"accepted"`
	Complete bool `json:"complete"`
	Received int  `json:"received"`
	Total    int  `json:"total"`
}

type Service struct {
	sessions  store.SessionStore
	storage   ChunkStorage
	profile   *config.PlatformProfile
	collector *metrics.Collector
	logger    *logging.Logger
	now       func() time.Time
}

func NewService(sessions store.SessionStore, storage ChunkStorage, profile *config.PlatformProfile, collector *metrics.Collector, logger *logging.Logger) *Service {
	return &Service{
		sessions:  sessions,
		storage:   storage,
		profile:   profile,
		collector: collector,
		logger:    logger,
		now:       time.Now,
	}
}

// NewSessionID issues an upload session identifier for clients that want
// the server to mint one.
func NewSessionID() string {
	return uuid.NewString()
}

// ReceiveChunk stages one chunk and records its arrival. The write is
// idempotent: a re-sent index overwrites the staged object in place and
// re-adding it to the received set is a no-op, so client retries are
// safe. Complete is computed from the same atomic update that recorded
// the chunk, never from a separate read.
func (s *Service) ReceiveChunk(ctx context.Context, req ChunkRequest) (*ChunkReceipt, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	session, err := s.ensureSession(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if session.Expired(now) {
		s.logger.Info("chunk for expired session rejected", "session_id", req.SessionID, "index", req.Index)
		return nil, errs.New(errs.ErrSessionExpired, "ingest.receive")
	}
	if session.MergeState != models.MergePending {
		return nil, errs.New(errs.ErrMergeInProgress, "ingest.receive")
	}
	if session.TotalChunks != req.TotalChunks {
		return nil, errs.New(errs.ErrValidation, "ingest.receive")
	}

	key := s3.ChunkKey(req.SessionID, req.Index)
	if err := s.storage.PutObject(ctx, key, req.Body, req.SizeBytes, "application/octet-stream"); err != nil {
		s.logger.Error("failed to stage chunk", "session_id", req.SessionID, "index", req.Index, "error", err)
		return nil, err
	}

	updated, err := s.sessions.RecordChunk(ctx, req.SessionID, req.Index, req.SizeBytes)
	if err != nil {
		return nil, err
	}

	s.collector.IncChunksReceived()
	s.logger.Debug("chunk accepted", "session_id", req.SessionID, "index", req.Index,
		"received", len(updated.ReceivedIndices), "total", updated.TotalChunks)

	return &ChunkReceipt{
		Accepted: true,
		Complete: updated.Complete(),
		Received: len(updated.ReceivedIndices),
		Total:    updated.TotalChunks,
	}, nil
}

func (s *Service) validate(req ChunkRequest) error {
	switch {
	case req.SessionID == "",
		req.OwnerID == "",
		req.TotalChunks < 1,
		req.TotalChunks > s.profile.MaxChunks,
		req.Index < 0,
		req.Index >= req.TotalChunks,
		req.SizeBytes <= 0,
		req.Body == nil:
		return errs.New(errs.ErrValidation, "ingest.receive")
	}
	return nil
}

// ensureSession creates the session record on first chunk. Two first
// chunks racing resolve via the conditional create: the loser reads the
// winner's record and proceeds.
func (s *Service) ensureSession(ctx context.Context, req ChunkRequest) (*models.UploadSession, error) {
	session, err := s.sessions.Get(ctx, req.SessionID)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, errs.ErrSessionNotFound) {
		return nil, err
	}

	now := s.now()
	created := models.UploadSession{
		SessionID:   req.SessionID,
		OwnerID:     req.OwnerID,
		TotalChunks: req.TotalChunks,
		ChunkSizes:  map[string]int64{},
		MergeState:  models.MergePending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.profile.SessionTTL()),
	}

	err = s.sessions.Create(ctx, created)
	if errors.Is(err, store.ErrSessionExists) {
		return s.sessions.Get(ctx, req.SessionID)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("upload session created", "session_id", req.SessionID,
		"owner_id", req.OwnerID, "total_chunks", req.TotalChunks)
	return &created, nil
}
