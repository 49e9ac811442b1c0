// Package merge turns a complete set of staged chunks into one artifact.
// A conditional merge flag in the session record makes the operation
// single-flight across processes; re-merging a consumed session returns
// the existing artifact.
package merge

import (
	"context"
	"fmt"
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

// ObjectStorage is the slice of the object store merging needs.
type ObjectStorage interface {
	StreamMerge(ctx context.Context, chunkKeys []string, finalKey string, totalSize int64, contentType string) error
	HeadObjectSize(ctx context.Context, key string) (int64, error)
	DeleteObject(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	PresignGetObject(ctx context.Context, key string, expires time.Duration) (string, error)
}

type Assembler struct {
	sessions  store.SessionStore
	artifacts store.ArtifactStore
	storage   ObjectStorage
	profile   *config.PlatformProfile
	collector *metrics.Collector
	logger    *logging.Logger
	now       func() time.Time
}

func NewAssembler(sessions store.SessionStore, artifacts store.ArtifactStore, storage ObjectStorage, profile *config.PlatformProfile, collector *metrics.Collector, logger *logging.Logger) *Assembler {
	return &Assembler{
		sessions:  sessions,
		artifacts: artifacts,
		storage:   storage,
		profile:   profile,
		collector: collector,
		logger:    logger,
		now:       time.Now,
	}
}

// MergeSession concatenates a complete session's chunks, in ascending
// index order, into one retrievable artifact. At most one merge runs per
// session; callers losing the flag race get ErrMergeInProgress. A session
// already consumed returns its stored artifact unchanged.
func (a *Assembler) MergeSession(ctx context.Context, sessionID, contentType string) (*models.Artifact, error) {
	session, err := a.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.MergeState == models.MergeConsumed {
		a.logger.Info("session already merged", "session_id", sessionID, "artifact_id", session.ArtifactID)
		return a.artifacts.Get(ctx, session.ArtifactID)
	}

	if session.Expired(a.now()) {
		return nil, errs.New(errs.ErrSessionExpired, "merge.session")
	}
	if !session.Complete() {
		return nil, errs.Wrap(errs.ErrValidation, "merge.session",
			fmt.Errorf("session has %d of %d chunks", len(session.ReceivedIndices), session.TotalChunks))
	}

	if err := a.sessions.TryMarkMerging(ctx, sessionID); err != nil {
		return nil, err
	}

	artifact, err := a.doMerge(ctx, session, contentType)
	if err != nil {
		a.collector.IncMergesFailed()
		if releaseErr := a.sessions.ReleaseMerge(ctx, sessionID); releaseErr != nil {
			a.logger.Error("failed to release merge flag", "session_id", sessionID, "error", releaseErr)
		}
		return nil, err
	}

	a.collector.IncMergesCompleted()
	return artifact, nil
}

func (a *Assembler) doMerge(ctx context.Context, session *models.UploadSession, contentType string) (*models.Artifact, error) {
	chunkKeys := make([]string, session.TotalChunks)
	for i := 0; i < session.TotalChunks; i++ {
		chunkKeys[i] = s3.ChunkKey(session.SessionID, i)
	}

	totalSize := session.TotalSize()
	artifactID := uuid.NewString()
	finalKey := s3.ArtifactKey(artifactID)

	a.logger.Info("merge started", "session_id", session.SessionID, "artifact_id", artifactID,
		"chunks", session.TotalChunks, "total_size", totalSize)

	if err := a.storage.StreamMerge(ctx, chunkKeys, finalKey, totalSize, contentType); err != nil {
		a.logger.Error("stream merge failed", "session_id", session.SessionID, "error", err)
		return nil, err
	}

	// Integrity check against truncated writes: the stored object must be
	// exactly the sum of the recorded chunk sizes.
	storedSize, err := a.storage.HeadObjectSize(ctx, finalKey)
	if err != nil {
		return nil, fmt.Errorf("failed to verify merged object: %w", err)
	}
	if storedSize != totalSize {
		a.logger.Error("merged object size mismatch", "session_id", session.SessionID,
			"expected", totalSize, "stored", storedSize)
		if delErr := a.storage.DeleteObject(ctx, finalKey); delErr != nil {
			a.logger.Error("failed to remove truncated artifact", "key", finalKey, "error", delErr)
		}
		return nil, fmt.Errorf("merged object size mismatch: expected %d, stored %d", totalSize, storedSize)
	}

	publicURL, err := a.storage.PresignGetObject(ctx, finalKey, a.profile.ArtifactURLTTL())
	if err != nil {
		return nil, fmt.Errorf("failed to presign artifact URL: %w", err)
	}

	artifact := models.Artifact{
		ArtifactID:  artifactID,
		OwnerID:     session.OwnerID,
		SessionID:   session.SessionID,
		StorageKey:  finalKey,
		PublicURL:   publicURL,
		SizeBytes:   totalSize,
		ContentType: contentType,
		CreatedAt:   a.now(),
	}
	if err := a.artifacts.Create(ctx, artifact); err != nil {
		return nil, fmt.Errorf("failed to persist artifact: %w", err)
	}

	if err := a.sessions.MarkConsumed(ctx, session.SessionID, artifactID); err != nil {
		return nil, fmt.Errorf("failed to mark session consumed: %w", err)
	}

	// Staged chunks are dead weight now. Deletion is best-effort; the
	// cleanup coordinator retries leftovers independently.
	if err := a.storage.DeletePrefix(ctx, s3.StagingPrefix(session.SessionID)); err != nil {
		a.logger.Error("failed to delete staged chunks after merge",
			"session_id", session.SessionID, "error", err)
	}

	a.logger.Info("merge finished", "session_id", session.SessionID,
		"artifact_id", artifactID, "size", totalSize)
	return &artifact, nil
}
