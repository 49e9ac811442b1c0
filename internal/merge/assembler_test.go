package merge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"mediarelay/internal/config"
	"mediarelay/internal/errs"
	"mediarelay/internal/logging"
	"mediarelay/internal/metrics"
	"mediarelay/internal/models"
	"mediarelay/internal/s3"
	"mediarelay/internal/store"
)

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*models.UploadSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: map[string]*models.UploadSession{}}
}

func (f *fakeSessionStore) put(session models.UploadSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := session
	f.sessions[session.SessionID] = &copied
}

func (f *fakeSessionStore) Create(ctx context.Context, session models.UploadSession) error {
	f.put(session)
	return nil
}

func (f *fakeSessionStore) Get(ctx context.Context, sessionID string) (*models.UploadSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, errs.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (f *fakeSessionStore) RecordChunk(ctx context.Context, sessionID string, index int, sizeBytes int64) (*models.UploadSession, error) {
	return nil, errors.New("not used")
}

func (f *fakeSessionStore) TryMarkMerging(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok || session.MergeState != models.MergePending {
		return errs.ErrMergeInProgress
	}
	session.MergeState = models.MergeMerging
	return nil
}

func (f *fakeSessionStore) ReleaseMerge(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session, ok := f.sessions[sessionID]; ok && session.MergeState == models.MergeMerging {
		session.MergeState = models.MergePending
	}
	return nil
}

func (f *fakeSessionStore) MarkConsumed(ctx context.Context, sessionID, artifactID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session := f.sessions[sessionID]
	session.MergeState = models.MergeConsumed
	session.ArtifactID = artifactID
	return nil
}

func (f *fakeSessionStore) Delete(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
	return nil
}

func (f *fakeSessionStore) ListExpired(ctx context.Context, now time.Time) ([]models.UploadSession, error) {
	return nil, nil
}

type fakeArtifactStore struct {
	mu        sync.Mutex
	artifacts map[string]models.Artifact
}

func newFakeArtifactStore() *fakeArtifactStore {
	return &fakeArtifactStore{artifacts: map[string]models.Artifact{}}
}

func (f *fakeArtifactStore) Create(ctx context.Context, artifact models.Artifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts[artifact.ArtifactID] = artifact
	return nil
}

func (f *fakeArtifactStore) Get(ctx context.Context, artifactID string) (*models.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	artifact, ok := f.artifacts[artifactID]
	if !ok {
		return nil, store.ErrArtifactNotFound
	}
	return &artifact, nil
}

func (f *fakeArtifactStore) Delete(ctx context.Context, artifactID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.artifacts, artifactID)
	return nil
}

// fakeObjectStorage records merge invocations and lets tests lie about
// the stored size to simulate truncated writes.
type fakeObjectStorage struct {
	mergedKeys     []string
	mergedSize     int64
	headSizeDelta  int64
	mergeErr       error
	deletedObjects []string
	deletedPrefix  string
	mergeCalls     int
}

func (f *fakeObjectStorage) StreamMerge(ctx context.Context, chunkKeys []string, finalKey string, totalSize int64, contentType string) error {
	f.mergeCalls++
	if f.mergeErr != nil {
		return f.mergeErr
	}
	f.mergedKeys = append([]string{}, chunkKeys...)
	f.mergedSize = totalSize
	return nil
}

func (f *fakeObjectStorage) HeadObjectSize(ctx context.Context, key string) (int64, error) {
	return f.mergedSize + f.headSizeDelta, nil
}

func (f *fakeObjectStorage) DeleteObject(ctx context.Context, key string) error {
	f.deletedObjects = append(f.deletedObjects, key)
	return nil
}

func (f *fakeObjectStorage) DeletePrefix(ctx context.Context, prefix string) error {
	f.deletedPrefix = prefix
	return nil
}

func (f *fakeObjectStorage) PresignGetObject(ctx context.Context, key string, expires time.Duration) (string, error) {
	return "https://bucket.example.com/" + key + "?signed", nil
}

func completeSession(id string, chunks int) models.UploadSession {
	sizes := map[string]int64{}
	indices := make([]int, chunks)
	for i := 0; i < chunks; i++ {
		indices[i] = i
		sizes[fmt.Sprintf("%d", i)] = 10
	}
	return models.UploadSession{
		SessionID:       id,
		OwnerID:         "owner-1",
		TotalChunks:     chunks,
		ReceivedIndices: indices,
		ChunkSizes:      sizes,
		MergeState:      models.MergePending,
		CreatedAt:       time.Now(),
		ExpiresAt:       time.Now().Add(time.Hour),
	}
}

func newTestAssembler(sessions store.SessionStore, artifacts store.ArtifactStore, storage ObjectStorage) *Assembler {
	return NewAssembler(sessions, artifacts, storage, config.DefaultPlatformProfile(), metrics.NewCollector(), logging.NewNop())
}

func TestMergeSession_OrdersChunksByIndex(t *testing.T) {
	sessions := newFakeSessionStore()
	sessions.put(completeSession("sess-1", 3))
	storage := &fakeObjectStorage{}
	assembler := newTestAssembler(sessions, newFakeArtifactStore(), storage)

	artifact, err := assembler.MergeSession(context.Background(), "sess-1", "video/mp4")
	if err != nil {
		t.Fatalf("MergeSession error: %v", err)
	}

	want := []string{
		s3.ChunkKey("sess-1", 0),
		s3.ChunkKey("sess-1", 1),
		s3.ChunkKey("sess-1", 2),
	}
	if len(storage.mergedKeys) != len(want) {
		t.Fatalf("merged %d keys, expected %d", len(storage.mergedKeys), len(want))
	}
	for i, key := range want {
		if storage.mergedKeys[i] != key {
			t.Errorf("chunk %d merged as %s, expected %s", i, storage.mergedKeys[i], key)
		}
	}

	if artifact.SizeBytes != 30 {
		t.Errorf("artifact size = %d, expected 30", artifact.SizeBytes)
	}
	if artifact.PublicURL == "" {
		t.Error("artifact must carry a retrievable URL")
	}
	if storage.deletedPrefix != s3.StagingPrefix("sess-1") {
		t.Errorf("staged chunks not deleted: %q", storage.deletedPrefix)
	}

	session, _ := sessions.Get(context.Background(), "sess-1")
	if session.MergeState != models.MergeConsumed {
		t.Errorf("session merge state = %s, expected consumed", session.MergeState)
	}
}

func TestMergeSession_IdempotentAfterConsume(t *testing.T) {
	sessions := newFakeSessionStore()
	sessions.put(completeSession("sess-1", 2))
	storage := &fakeObjectStorage{}
	assembler := newTestAssembler(sessions, newFakeArtifactStore(), storage)

	first, err := assembler.MergeSession(context.Background(), "sess-1", "video/mp4")
	if err != nil {
		t.Fatalf("first merge error: %v", err)
	}

	second, err := assembler.MergeSession(context.Background(), "sess-1", "video/mp4")
	if err != nil {
		t.Fatalf("second merge error: %v", err)
	}

	if second.ArtifactID != first.ArtifactID {
		t.Errorf("second merge produced a new artifact: %s != %s", second.ArtifactID, first.ArtifactID)
	}
	if storage.mergeCalls != 1 {
		t.Errorf("merge ran %d times, expected 1 (chunks are gone after the first)", storage.mergeCalls)
	}
}

func TestMergeSession_IncompleteSession(t *testing.T) {
	sessions := newFakeSessionStore()
	session := completeSession("sess-1", 3)
	session.ReceivedIndices = session.ReceivedIndices[:2]
	sessions.put(session)
	assembler := newTestAssembler(sessions, newFakeArtifactStore(), &fakeObjectStorage{})

	_, err := assembler.MergeSession(context.Background(), "sess-1", "video/mp4")
	if !errors.Is(err, errs.ErrValidation) {
		t.Errorf("expected ErrValidation for incomplete session, got %v", err)
	}
}

func TestMergeSession_ConflictWhileMerging(t *testing.T) {
	sessions := newFakeSessionStore()
	session := completeSession("sess-1", 2)
	session.MergeState = models.MergeMerging
	sessions.put(session)
	assembler := newTestAssembler(sessions, newFakeArtifactStore(), &fakeObjectStorage{})

	_, err := assembler.MergeSession(context.Background(), "sess-1", "video/mp4")
	if !errors.Is(err, errs.ErrMergeInProgress) {
		t.Errorf("expected ErrMergeInProgress, got %v", err)
	}
}

func TestMergeSession_SizeMismatchFails(t *testing.T) {
	sessions := newFakeSessionStore()
	sessions.put(completeSession("sess-1", 2))
	storage := &fakeObjectStorage{headSizeDelta: -5}
	assembler := newTestAssembler(sessions, newFakeArtifactStore(), storage)

	_, err := assembler.MergeSession(context.Background(), "sess-1", "video/mp4")
	if err == nil {
		t.Fatal("expected error on truncated merge")
	}
	if len(storage.deletedObjects) != 1 {
		t.Errorf("truncated artifact not removed: %v", storage.deletedObjects)
	}

	// Flag released so a retry is possible.
	session, _ := sessions.Get(context.Background(), "sess-1")
	if session.MergeState != models.MergePending {
		t.Errorf("merge flag not released, state = %s", session.MergeState)
	}
}

func TestMergeSession_ExpiredSession(t *testing.T) {
	sessions := newFakeSessionStore()
	session := completeSession("sess-1", 2)
	session.ExpiresAt = time.Now().Add(-time.Minute)
	sessions.put(session)
	assembler := newTestAssembler(sessions, newFakeArtifactStore(), &fakeObjectStorage{})

	_, err := assembler.MergeSession(context.Background(), "sess-1", "video/mp4")
	if !errors.Is(err, errs.ErrSessionExpired) {
		t.Errorf("expected ErrSessionExpired, got %v", err)
	}
}
