package cleanup

import (
	"context"
	"errors"
	"testing"

	"mediarelay/internal/errs"
	"mediarelay/internal/logging"
	"mediarelay/internal/metrics"
)

type fakeStorage struct {
	deletedObjects  []string
	deletedPrefixes []string
	failKeys        map[string]bool
}

func (f *fakeStorage) DeleteObject(ctx context.Context, key string) error {
	if f.failKeys[key] {
		return errors.New("access denied")
	}
	f.deletedObjects = append(f.deletedObjects, key)
	return nil
}

func (f *fakeStorage) DeletePrefix(ctx context.Context, prefix string) error {
	if f.failKeys[prefix] {
		return errors.New("access denied")
	}
	f.deletedPrefixes = append(f.deletedPrefixes, prefix)
	return nil
}

func newTestCoordinator(storage Storage) *Coordinator {
	return NewCoordinator(storage, metrics.NewCollector(), logging.NewNop())
}

func TestRun_RoutesKeysAndPrefixes(t *testing.T) {
	storage := &fakeStorage{}
	coordinator := newTestCoordinator(storage)

	result := coordinator.Run(context.Background(), []string{
		"artifacts/art-1",
		"staging/sess-1/",
	})

	if result.Err() != nil {
		t.Fatalf("unexpected error: %v", result.Err())
	}
	if len(result.Deleted) != 2 {
		t.Errorf("deleted %d refs, expected 2", len(result.Deleted))
	}
	if len(storage.deletedObjects) != 1 || storage.deletedObjects[0] != "artifacts/art-1" {
		t.Errorf("object deletions = %v", storage.deletedObjects)
	}
	if len(storage.deletedPrefixes) != 1 || storage.deletedPrefixes[0] != "staging/sess-1/" {
		t.Errorf("prefix deletions = %v", storage.deletedPrefixes)
	}
}

func TestRun_ContinuesPastFailures(t *testing.T) {
	storage := &fakeStorage{failKeys: map[string]bool{"artifacts/art-1": true}}
	coordinator := newTestCoordinator(storage)

	result := coordinator.Run(context.Background(), []string{
		"artifacts/art-1",
		"staging/sess-1/",
		"artifacts/art-2",
	})

	if !errors.Is(result.Err(), errs.ErrPartialCleanup) {
		t.Fatalf("expected ErrPartialCleanup, got %v", result.Err())
	}
	if len(result.Deleted) != 2 {
		t.Errorf("deleted %d refs despite one failure, expected 2: %v", len(result.Deleted), result.Deleted)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("%d errors reported, expected 1", len(result.Errors))
	}
	if result.Errors[0].Ref != "artifacts/art-1" {
		t.Errorf("failed ref = %q", result.Errors[0].Ref)
	}
	if result.Errors[0].Reason == "" {
		t.Error("failed ref must carry a reason")
	}
}

func TestRun_SkipsEmptyRefs(t *testing.T) {
	storage := &fakeStorage{}
	coordinator := newTestCoordinator(storage)

	result := coordinator.Run(context.Background(), []string{"", "artifacts/art-1", ""})

	if result.Err() != nil {
		t.Fatalf("unexpected error: %v", result.Err())
	}
	if len(result.Deleted) != 1 {
		t.Errorf("deleted %d refs, expected 1", len(result.Deleted))
	}
}

func TestRun_NoRefs(t *testing.T) {
	result := newTestCoordinator(&fakeStorage{}).Run(context.Background(), nil)
	if result.Err() != nil {
		t.Errorf("empty run must succeed, got %v", result.Err())
	}
	if result.Deleted == nil || result.Errors == nil {
		t.Error("result slices must be non-nil for JSON rendering")
	}
}
