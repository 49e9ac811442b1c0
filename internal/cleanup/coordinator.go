// Package cleanup removes staging and transient artifacts after a
// publish job resolves. Every target is attempted independently; a
// failure on one never aborts the rest, and failures are reported back
// so the caller can retry later. Cleanup problems are never promoted to
// pipeline failures.
package cleanup

import (
	"context"
	"strings"

	"mediarelay/internal/errs"
	"mediarelay/internal/logging"
	"mediarelay/internal/metrics"
)

// Storage is the deletion surface of the object store.
type Storage interface {
	DeleteObject(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// RefError names one target that failed to delete. Reason is the
// sanitized form; the full error goes to logs.
type RefError struct {
	Ref    string `json:"ref"`
	Reason string `json:"reason"`
}

// Result distinguishes deleted from failed targets.
type Result struct {
	Deleted []string   `json:"deleted"`
	Errors  []RefError `json:"errors"`
}

// Err returns ErrPartialCleanup when any target failed, nil otherwise.
func (r *Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return errs.New(errs.ErrPartialCleanup, "cleanup.run")
}

type Coordinator struct {
	storage   Storage
	collector *metrics.Collector
	logger    *logging.Logger
}

func NewCoordinator(storage Storage, collector *metrics.Collector, logger *logging.Logger) *Coordinator {
	return &Coordinator{
		storage:   storage,
		collector: collector,
		logger:    logger,
	}
}

// Run deletes each ref, continuing on error. Refs ending in "/" are
// treated as prefixes (staging directories), everything else as a single
// object key.
func (c *Coordinator) Run(ctx context.Context, refs []string) *Result {
	result := &Result{
		Deleted: []string{},
		Errors:  []RefError{},
	}

	for _, ref := range refs {
		if ref == "" {
			continue
		}

		var err error
		if strings.HasSuffix(ref, "/") {
			err = c.storage.DeletePrefix(ctx, ref)
		} else {
			err = c.storage.DeleteObject(ctx, ref)
		}

		if err != nil {
			c.logger.Error("cleanup target failed", "ref", ref, "error", err)
			result.Errors = append(result.Errors, RefError{
				Ref:    ref,
				Reason: "deletion failed",
			})
			continue
		}
		result.Deleted = append(result.Deleted, ref)
	}

	c.collector.AddCleanupDeleted(int64(len(result.Deleted)))
	c.collector.AddCleanupFailures(int64(len(result.Errors)))

	if len(result.Errors) > 0 {
		c.logger.Warn("cleanup finished with failures",
			"deleted", len(result.Deleted), "failed", len(result.Errors))
	} else {
		c.logger.Debug("cleanup finished", "deleted", len(result.Deleted))
	}
	return result
}
