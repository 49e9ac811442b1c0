package publish

import (
	"context"
	"sync"
	"testing"
	"time"

	"mediarelay/internal/cleanup"
	"mediarelay/internal/errs"
	"mediarelay/internal/logging"
	"mediarelay/internal/metrics"
	"mediarelay/internal/models"
	"mediarelay/internal/platform"
)

type fakeSessionLister struct {
	mu      sync.Mutex
	expired []models.UploadSession
	deleted []string
}

func (f *fakeSessionLister) Create(ctx context.Context, session models.UploadSession) error {
	return nil
}

func (f *fakeSessionLister) Get(ctx context.Context, sessionID string) (*models.UploadSession, error) {
	return nil, errs.ErrSessionNotFound
}

func (f *fakeSessionLister) RecordChunk(ctx context.Context, sessionID string, index int, sizeBytes int64) (*models.UploadSession, error) {
	return nil, errs.ErrSessionNotFound
}

func (f *fakeSessionLister) TryMarkMerging(ctx context.Context, sessionID string) error {
	return nil
}

func (f *fakeSessionLister) ReleaseMerge(ctx context.Context, sessionID string) error {
	return nil
}

func (f *fakeSessionLister) MarkConsumed(ctx context.Context, sessionID, artifactID string) error {
	return nil
}

func (f *fakeSessionLister) Delete(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, sessionID)
	return nil
}

func (f *fakeSessionLister) ListExpired(ctx context.Context, now time.Time) ([]models.UploadSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.UploadSession{}, f.expired...), nil
}

type fakeCleanupStorage struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeCleanupStorage) DeleteObject(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeCleanupStorage) DeletePrefix(ctx context.Context, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, prefix)
	return nil
}

func TestSweepJobs_ResolvesStaleJob(t *testing.T) {
	jobs := newFakeJobStore()
	_ = jobs.Create(context.Background(), models.PublishJob{
		JobID:         "job-stale",
		OwnerID:       "owner-1",
		ArtifactKey:   "artifacts/art-1",
		ExternalJobID: "pub-1",
		State:         models.JobProcessing,
		CreatedAt:     time.Now().Add(-time.Hour),
	})
	api := &fakePlatformAPI{statuses: []platform.StatusResult{
		{Status: platform.StatusPublished},
	}}
	storage := &fakeCleanupStorage{}
	cleaner := cleanup.NewCoordinator(storage, metrics.NewCollector(), logging.NewNop())
	poller := newTestPoller(jobs, api, &fakeNotifier{}, 5)

	r := NewReconciler(context.Background(), jobs, &fakeSessionLister{}, poller, cleaner,
		5*time.Minute, time.Hour, metrics.NewCollector(), logging.NewNop())
	r.sweep()
	r.Shutdown()

	stored, _ := jobs.Get(context.Background(), "job-stale")
	if stored.State != models.JobComplete {
		t.Errorf("state = %s, expected COMPLETE after sweep", stored.State)
	}
	if len(storage.deleted) != 1 || storage.deleted[0] != "artifacts/art-1" {
		t.Errorf("cleanup refs = %v", storage.deleted)
	}
}

func TestSweepJobs_StillProcessingIsLeftForNextSweep(t *testing.T) {
	jobs := newFakeJobStore()
	_ = jobs.Create(context.Background(), models.PublishJob{
		JobID:         "job-stale",
		OwnerID:       "owner-1",
		ArtifactKey:   "artifacts/art-1",
		ExternalJobID: "pub-1",
		State:         models.JobProcessing,
		CreatedAt:     time.Now().Add(-time.Hour),
	})
	api := &fakePlatformAPI{statuses: []platform.StatusResult{
		{Status: platform.StatusProcessing},
	}}
	storage := &fakeCleanupStorage{}
	cleaner := cleanup.NewCoordinator(storage, metrics.NewCollector(), logging.NewNop())
	poller := newTestPoller(jobs, api, &fakeNotifier{}, 2)

	r := NewReconciler(context.Background(), jobs, &fakeSessionLister{}, poller, cleaner,
		5*time.Minute, time.Hour, metrics.NewCollector(), logging.NewNop())
	r.sweep()
	r.Shutdown()

	stored, _ := jobs.Get(context.Background(), "job-stale")
	if stored.Terminal() {
		t.Errorf("unresolved job terminated by sweep: %s", stored.State)
	}
	if len(storage.deleted) != 0 {
		t.Errorf("cleanup ran for a non-terminal job: %v", storage.deleted)
	}
}

func TestSweepSessions_ReclaimsExpired(t *testing.T) {
	sessions := &fakeSessionLister{expired: []models.UploadSession{
		{SessionID: "sess-old", MergeState: models.MergePending},
	}}
	storage := &fakeCleanupStorage{}
	cleaner := cleanup.NewCoordinator(storage, metrics.NewCollector(), logging.NewNop())
	jobs := newFakeJobStore()
	poller := newTestPoller(jobs, &fakePlatformAPI{statuses: []platform.StatusResult{{}}}, &fakeNotifier{}, 1)

	r := NewReconciler(context.Background(), jobs, sessions, poller, cleaner,
		5*time.Minute, time.Hour, metrics.NewCollector(), logging.NewNop())
	r.sweep()
	r.Shutdown()

	if len(storage.deleted) != 1 || storage.deleted[0] != "staging/sess-old/" {
		t.Errorf("cleanup refs = %v, expected the staging prefix", storage.deleted)
	}
	if len(sessions.deleted) != 1 || sessions.deleted[0] != "sess-old" {
		t.Errorf("deleted sessions = %v", sessions.deleted)
	}
}

func TestReconciler_StartAndShutdown(t *testing.T) {
	jobs := newFakeJobStore()
	cleaner := cleanup.NewCoordinator(&fakeCleanupStorage{}, metrics.NewCollector(), logging.NewNop())
	poller := newTestPoller(jobs, &fakePlatformAPI{statuses: []platform.StatusResult{{}}}, &fakeNotifier{}, 1)

	r := NewReconciler(context.Background(), jobs, &fakeSessionLister{}, poller, cleaner,
		5*time.Minute, time.Millisecond, metrics.NewCollector(), logging.NewNop())
	r.Start()
	time.Sleep(10 * time.Millisecond)
	r.Shutdown()
}
